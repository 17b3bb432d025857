package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cadencepay/cadence/app/models"
	"github.com/cadencepay/cadence/internal/pkg/ledger"
)

// Engine reconciles one authenticated webhook event against the ledger:
// matching or creating the transaction the event refers to and applying
// idempotent updates. Processing the same event twice yields Success both
// times; the second pass finds nothing left to change.
type Engine struct {
	store ledger.Store
	cfg   *AccountConfig

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewEngine builds a reconciliation engine over the given store and account
// config.
func NewEngine(store ledger.Store, cfg *AccountConfig) *Engine {
	return &Engine{store: store, cfg: cfg, Now: time.Now}
}

// Process runs one event through the reconciliation state machine and
// reports the outcome. Errors are per-event; they never propagate as Go
// errors so a consumer loop cannot crash on bad event data.
func (e *Engine) Process(ctx context.Context, item *NotificationRequestItem) Outcome {
	switch item.EventCode {
	case EventCodeAuthorisation:
		return e.processAuthorisation(ctx, item)
	default:
		return Ignoredf("Event ignored (normal - we do not process %q events)", item.EventCode)
	}
}

func (e *Engine) processAuthorisation(ctx context.Context, item *NotificationRequestItem) Outcome {
	if item.MerchantReference == "" {
		return Errorf(nil, "no merchantReference found in webhook event payload")
	}
	if item.PspReference == "" {
		return Errorf(nil, "no pspReference found in webhook event payload")
	}

	// A declined authorisation is the shopper's problem, not ours.
	if !item.IsSuccess() {
		return Ignoredf("Ignoring unsuccessful authorisation for merchant reference %s", item.MerchantReference)
	}

	txn, err := e.store.GetTransactionByInvoiceID(ctx, item.MerchantReference)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return e.handleUnmatched(ctx, item)
		}
		return Errorf(err, "looking up transaction for invoice_id %s", item.MerchantReference)
	}

	return e.updateMatched(ctx, item, txn)
}

// handleUnmatched decides what to do with an authorisation that matches no
// transaction. Under the retry behaviour the event is left queued: the
// scheduler may simply not have created the pending transaction yet, an
// expected race between cycle and webhook arrival.
func (e *Engine) handleUnmatched(ctx context.Context, item *NotificationRequestItem) Outcome {
	switch e.cfg.UnmatchedBehaviour {
	case UnmatchedBehaviourRetry:
		return RetryLaterf("No transaction found for invoice_id %s yet; will retry", item.MerchantReference)
	case UnmatchedBehaviourCreate:
		return e.createFromEvent(ctx, item)
	default:
		return Errorf(nil, "invalid unmatched behaviour configured: %q", e.cfg.UnmatchedBehaviour)
	}
}

func (e *Engine) createFromEvent(ctx context.Context, item *NotificationRequestItem) Outcome {
	receiveDate := item.EventTime()
	if receiveDate.IsZero() {
		receiveDate = e.Now()
	}

	var created *models.Transaction
	err := e.store.RunInTransaction(ctx, func(tx ledger.Store) error {
		contactID, err := e.identifyContact(ctx, tx, item)
		if err != nil {
			return err
		}
		created = &models.Transaction{
			ContactID:   contactID,
			TotalAmount: float64(item.Amount.Value) / 100,
			Currency:    item.Amount.Currency,
			ReceiveDate: receiveDate,
			Status:      models.TransactionStatusCompleted,
			InvoiceID:   item.MerchantReference,
			TrxnID:      item.PspReference,
			IsTest:      e.cfg.TestMode,
		}
		return tx.CreateTransaction(ctx, created)
	})
	if err != nil {
		return Errorf(err, "creating transaction for invoice_id %s", item.MerchantReference)
	}
	return Successf("OK. Created new transaction %d, invoice_id %s, trxn_id %s.", created.ID, created.InvoiceID, created.TrxnID)
}

// identifyContact matches an existing individual by exact first/last name
// and, when the event carries one, email. No match creates a new contact
// from the shopper-identity fields. Best effort; duplicates are accepted.
func (e *Engine) identifyContact(ctx context.Context, tx ledger.Store, item *NotificationRequestItem) (uint, error) {
	firstName, lastName, email := item.ShopperIdentity()

	if firstName != "" || lastName != "" || email != "" {
		if contact, err := tx.FindContact(ctx, firstName, lastName, email); err == nil {
			return contact.ID, nil
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return 0, err
		}
	}

	contact := &models.Contact{FirstName: firstName, LastName: lastName, Email: email}
	if err := tx.CreateContact(ctx, contact); err != nil {
		return 0, err
	}
	return contact.ID, nil
}

func (e *Engine) updateMatched(ctx context.Context, item *NotificationRequestItem, txn *models.Transaction) Outcome {
	txnUpdates := map[string]any{}
	var notes []string

	if txn.TrxnID == "" {
		txnUpdates["trxn_id"] = item.PspReference
		notes = append(notes, "Set trxn_id from event.")
	}
	if eventTime := item.EventTime(); !eventTime.IsZero() && eventTime.Before(txn.ReceiveDate) {
		// Dates only ever move backward; later event timestamps never
		// push a stored receive date forward.
		txnUpdates["receive_date"] = eventTime
		notes = append(notes, fmt.Sprintf("Backdated receive_date to %s.", eventTime.Format("2006-01-02 15:04:05")))
	}

	tokenUpdate, tokenID, outcome := e.stageTokenUpdate(ctx, item, txn)
	if outcome != nil {
		return *outcome
	}
	if tokenUpdate != nil {
		notes = append(notes, "Updated payment token details.")
	}

	trxnID := txn.TrxnID
	if v, ok := txnUpdates["trxn_id"]; ok {
		trxnID = v.(string)
	}
	summary := fmt.Sprintf("OK. Matched existing transaction %d, invoice_id %s, trxn_id %s.", txn.ID, txn.InvoiceID, trxnID)

	if len(txnUpdates) == 0 && tokenUpdate == nil {
		// Already reconciled; reprocessing is a no-op.
		return Successf("%s", summary)
	}

	err := e.store.RunInTransaction(ctx, func(tx ledger.Store) error {
		if len(txnUpdates) > 0 {
			if err := tx.UpdateTransaction(ctx, txn.ID, txnUpdates); err != nil {
				return err
			}
		}
		if tokenUpdate != nil {
			if err := tx.UpdatePaymentToken(ctx, tokenID, tokenUpdate); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Errorf(err, "applying updates for transaction %d", txn.ID)
	}
	if len(notes) > 0 {
		summary += " " + strings.Join(notes, " ")
	}
	return Successf("%s", summary)
}

// stageTokenUpdate prepares a payment-token refresh when a recurring
// transaction's event carries card metadata differing from the stored token.
// Returns a non-nil outcome only on a hard error.
func (e *Engine) stageTokenUpdate(ctx context.Context, item *NotificationRequestItem, txn *models.Transaction) (map[string]any, uint, *Outcome) {
	if txn.AgreementID == nil {
		return nil, 0, nil
	}
	masked, expiry, ok := item.CardMetadata()
	if !ok {
		return nil, 0, nil
	}

	agreement, err := e.store.GetAgreement(ctx, *txn.AgreementID)
	if err != nil {
		o := Errorf(err, "loading agreement %d for transaction %d", *txn.AgreementID, txn.ID)
		return nil, 0, &o
	}
	if agreement.PaymentTokenID == 0 {
		return nil, 0, nil
	}
	token, err := e.store.GetPaymentToken(ctx, agreement.PaymentTokenID)
	if err != nil {
		o := Errorf(err, "loading payment token %d for agreement %d", agreement.PaymentTokenID, agreement.ID)
		return nil, 0, &o
	}

	sameExpiry := token.ExpiryDate != nil && token.ExpiryDate.Equal(expiry)
	if token.MaskedAccountNumber == masked && sameExpiry {
		return nil, 0, nil
	}
	return map[string]any{
		"masked_account_number": masked,
		"expiry_date":           expiry,
	}, token.ID, nil
}
