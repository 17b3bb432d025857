package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cadencepay/cadence/app/models"
)

// MemoryStore is an in-memory Store used by tests across packages. It
// honors RunInTransaction rollback semantics by snapshotting all state before
// the callback runs.
type MemoryStore struct {
	mu     sync.Mutex
	locked bool // true on the handle passed into a transaction callback
	data   *memData
}

type memData struct {
	agreements    map[uint]*models.BillingAgreement
	transactions  map[uint]*models.Transaction
	contacts      map[uint]*models.Contact
	tokens        map[uint]*models.PaymentToken
	webhookEvents map[uint]*models.WebhookEvent

	nextAgreementID   uint
	nextTransactionID uint
	nextContactID     uint
	nextTokenID       uint
	nextEventID       uint
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memData{
		agreements:        map[uint]*models.BillingAgreement{},
		transactions:      map[uint]*models.Transaction{},
		contacts:          map[uint]*models.Contact{},
		tokens:            map[uint]*models.PaymentToken{},
		webhookEvents:     map[uint]*models.WebhookEvent{},
		nextAgreementID:   1,
		nextTransactionID: 1,
		nextContactID:     1,
		nextTokenID:       1,
		nextEventID:       1,
	}}
}

func (s *MemoryStore) lock() func() {
	if s.locked {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (d *memData) clone() *memData {
	out := &memData{
		agreements:        make(map[uint]*models.BillingAgreement, len(d.agreements)),
		transactions:      make(map[uint]*models.Transaction, len(d.transactions)),
		contacts:          make(map[uint]*models.Contact, len(d.contacts)),
		tokens:            make(map[uint]*models.PaymentToken, len(d.tokens)),
		webhookEvents:     make(map[uint]*models.WebhookEvent, len(d.webhookEvents)),
		nextAgreementID:   d.nextAgreementID,
		nextTransactionID: d.nextTransactionID,
		nextContactID:     d.nextContactID,
		nextTokenID:       d.nextTokenID,
		nextEventID:       d.nextEventID,
	}
	for id, a := range d.agreements {
		copied := *a
		out.agreements[id] = &copied
	}
	for id, t := range d.transactions {
		copied := *t
		out.transactions[id] = &copied
	}
	for id, c := range d.contacts {
		copied := *c
		out.contacts[id] = &copied
	}
	for id, t := range d.tokens {
		copied := *t
		out.tokens[id] = &copied
	}
	for id, e := range d.webhookEvents {
		copied := *e
		out.webhookEvents[id] = &copied
	}
	return out
}

func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(Store) error) error {
	unlock := s.lock()
	defer unlock()

	snapshot := s.data.clone()
	view := &MemoryStore{locked: true, data: s.data}
	if err := fn(view); err != nil {
		// Roll back.
		*s.data = *snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) FindDueAgreements(ctx context.Context, now time.Time) ([]models.BillingAgreement, error) {
	unlock := s.lock()
	defer unlock()

	var out []models.BillingAgreement
	for _, a := range s.data.agreements {
		if a.NextDueDate.After(now) {
			continue
		}
		switch a.Status {
		case models.AgreementStatusInProgress:
			out = append(out, *a)
		case models.AgreementStatusOverdue, models.AgreementStatusFailing:
			if a.FailureRetryDate == nil || !a.FailureRetryDate.After(now) {
				out = append(out, *a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetAgreement(ctx context.Context, id uint) (*models.BillingAgreement, error) {
	unlock := s.lock()
	defer unlock()

	a, ok := s.data.agreements[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *MemoryStore) UpdateAgreement(ctx context.Context, id uint, updates map[string]any) error {
	unlock := s.lock()
	defer unlock()

	a, ok := s.data.agreements[id]
	if !ok {
		return ErrNotFound
	}
	for col, val := range updates {
		switch col {
		case "status":
			a.Status = val.(string)
		case "next_due_date":
			a.NextDueDate = val.(time.Time)
		case "failure_count":
			a.FailureCount = val.(int)
		case "failure_retry_date":
			a.FailureRetryDate = timePtr(val)
		case "cancel_date":
			a.CancelDate = timePtr(val)
		}
	}
	a.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetTemplateTransaction(ctx context.Context, agreementID uint) (*models.Transaction, error) {
	return s.findTransaction(agreementID, models.TransactionStatusTemplate)
}

func (s *MemoryStore) GetPendingTransaction(ctx context.Context, agreementID uint) (*models.Transaction, error) {
	return s.findTransaction(agreementID, models.TransactionStatusPending)
}

func (s *MemoryStore) findTransaction(agreementID uint, status string) (*models.Transaction, error) {
	unlock := s.lock()
	defer unlock()

	var found *models.Transaction
	for _, t := range s.data.transactions {
		if t.AgreementID != nil && *t.AgreementID == agreementID && t.Status == status {
			if found == nil || t.ID < found.ID {
				found = t
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	copied := *found
	return &copied, nil
}

func (s *MemoryStore) ListChargeableTransactions(ctx context.Context) ([]models.Transaction, error) {
	unlock := s.lock()
	defer unlock()

	chargeable := map[string]bool{
		models.AgreementStatusInProgress: true,
		models.AgreementStatusOverdue:    true,
		models.AgreementStatusFailing:    true,
	}

	var out []models.Transaction
	for _, t := range s.data.transactions {
		if t.Status != models.TransactionStatusPending || t.AgreementID == nil {
			continue
		}
		a, ok := s.data.agreements[*t.AgreementID]
		if !ok || !chargeable[a.Status] {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	unlock := s.lock()
	defer unlock()

	txn.ID = s.data.nextTransactionID
	s.data.nextTransactionID++
	now := time.Now()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	copied := *txn
	s.data.transactions[txn.ID] = &copied
	return nil
}

func (s *MemoryStore) UpdateTransaction(ctx context.Context, id uint, updates map[string]any) error {
	unlock := s.lock()
	defer unlock()

	t, ok := s.data.transactions[id]
	if !ok {
		return ErrNotFound
	}
	for col, val := range updates {
		switch col {
		case "status":
			t.Status = val.(string)
		case "invoice_id":
			t.InvoiceID = val.(string)
		case "trxn_id":
			t.TrxnID = val.(string)
		case "receive_date":
			t.ReceiveDate = val.(time.Time)
		case "total_amount":
			t.TotalAmount = val.(float64)
		}
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetTransactionByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error) {
	unlock := s.lock()
	defer unlock()

	for _, t := range s.data.transactions {
		if t.InvoiceID == invoiceID {
			copied := *t
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListInvoiceIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	unlock := s.lock()
	defer unlock()

	var ids []string
	for _, t := range s.data.transactions {
		if strings.HasPrefix(t.InvoiceID, prefix) {
			ids = append(ids, t.InvoiceID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) FindContact(ctx context.Context, firstName, lastName, email string) (*models.Contact, error) {
	unlock := s.lock()
	defer unlock()

	var found *models.Contact
	for _, c := range s.data.contacts {
		if firstName != "" && c.FirstName != firstName {
			continue
		}
		if lastName != "" && c.LastName != lastName {
			continue
		}
		if email != "" && c.Email != email {
			continue
		}
		if found == nil || c.ID < found.ID {
			found = c
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	copied := *found
	return &copied, nil
}

func (s *MemoryStore) CreateContact(ctx context.Context, contact *models.Contact) error {
	unlock := s.lock()
	defer unlock()

	contact.ID = s.data.nextContactID
	s.data.nextContactID++
	copied := *contact
	s.data.contacts[contact.ID] = &copied
	return nil
}

func (s *MemoryStore) GetPaymentToken(ctx context.Context, id uint) (*models.PaymentToken, error) {
	unlock := s.lock()
	defer unlock()

	t, ok := s.data.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *MemoryStore) UpdatePaymentToken(ctx context.Context, id uint, updates map[string]any) error {
	unlock := s.lock()
	defer unlock()

	t, ok := s.data.tokens[id]
	if !ok {
		return ErrNotFound
	}
	for col, val := range updates {
		switch col {
		case "masked_account_number":
			t.MaskedAccountNumber = val.(string)
		case "expiry_date":
			t.ExpiryDate = timePtr(val)
		}
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) EnqueueWebhookEvents(ctx context.Context, events []models.WebhookEvent) error {
	unlock := s.lock()
	defer unlock()

	for i := range events {
		events[i].ID = s.data.nextEventID
		s.data.nextEventID++
		if events[i].Status == "" {
			events[i].Status = models.WebhookStatusNew
		}
		events[i].CreatedAt = time.Now()
		copied := events[i]
		s.data.webhookEvents[copied.ID] = &copied
	}
	return nil
}

func (s *MemoryStore) ListNewWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	unlock := s.lock()
	defer unlock()

	var out []models.WebhookEvent
	for _, e := range s.data.webhookEvents {
		if e.Status == models.WebhookStatusNew {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FinishWebhookEvent(ctx context.Context, id uint, status, message string, processedAt *time.Time) error {
	unlock := s.lock()
	defer unlock()

	e, ok := s.data.webhookEvents[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	e.Message = message
	e.ProcessedAt = processedAt
	e.UpdatedAt = time.Now()
	return nil
}

// SeedAgreement inserts an agreement, assigning its ID. Test helper.
func (s *MemoryStore) SeedAgreement(a *models.BillingAgreement) *models.BillingAgreement {
	unlock := s.lock()
	defer unlock()

	a.ID = s.data.nextAgreementID
	s.data.nextAgreementID++
	copied := *a
	s.data.agreements[a.ID] = &copied
	return a
}

// SeedContact inserts a contact, assigning its ID. Test helper.
func (s *MemoryStore) SeedContact(c *models.Contact) *models.Contact {
	unlock := s.lock()
	defer unlock()

	c.ID = s.data.nextContactID
	s.data.nextContactID++
	copied := *c
	s.data.contacts[c.ID] = &copied
	return c
}

// SeedToken inserts a payment token, assigning its ID. Test helper.
func (s *MemoryStore) SeedToken(t *models.PaymentToken) *models.PaymentToken {
	unlock := s.lock()
	defer unlock()

	t.ID = s.data.nextTokenID
	s.data.nextTokenID++
	copied := *t
	s.data.tokens[t.ID] = &copied
	return t
}

// Transactions returns all transactions ordered by ID. Test helper.
func (s *MemoryStore) Transactions() []models.Transaction {
	unlock := s.lock()
	defer unlock()

	var out []models.Transaction
	for _, t := range s.data.transactions {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WebhookEvents returns all queue records ordered by ID. Test helper.
func (s *MemoryStore) WebhookEvents() []models.WebhookEvent {
	unlock := s.lock()
	defer unlock()

	var out []models.WebhookEvent
	for _, e := range s.data.webhookEvents {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func timePtr(val any) *time.Time {
	switch v := val.(type) {
	case nil:
		return nil
	case time.Time:
		return &v
	case *time.Time:
		return v
	default:
		return nil
	}
}
