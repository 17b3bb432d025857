package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/cadencepay/cadence/app/models"
)

// GormStore implements Store on a GORM MySQL handle.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a ledger store backed by GORM.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) RunInTransaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) FindDueAgreements(ctx context.Context, now time.Time) ([]models.BillingAgreement, error) {
	var agreements []models.BillingAgreement
	err := s.db.WithContext(ctx).
		Where("next_due_date <= ?", now).
		Where(
			s.db.Where("status = ?", models.AgreementStatusInProgress).
				Or("status IN ? AND (failure_retry_date IS NULL OR failure_retry_date <= ?)",
					[]string{models.AgreementStatusOverdue, models.AgreementStatusFailing}, now),
		).
		Find(&agreements).Error
	return agreements, err
}

func (s *GormStore) GetAgreement(ctx context.Context, id uint) (*models.BillingAgreement, error) {
	var agreement models.BillingAgreement
	if err := s.db.WithContext(ctx).First(&agreement, id).Error; err != nil {
		return nil, err
	}
	return &agreement, nil
}

func (s *GormStore) UpdateAgreement(ctx context.Context, id uint, updates map[string]any) error {
	return s.db.WithContext(ctx).Model(&models.BillingAgreement{}).Where("id = ?", id).Updates(updates).Error
}

func (s *GormStore) GetTemplateTransaction(ctx context.Context, agreementID uint) (*models.Transaction, error) {
	return s.getTransactionByStatus(ctx, agreementID, models.TransactionStatusTemplate)
}

func (s *GormStore) GetPendingTransaction(ctx context.Context, agreementID uint) (*models.Transaction, error) {
	return s.getTransactionByStatus(ctx, agreementID, models.TransactionStatusPending)
}

func (s *GormStore) getTransactionByStatus(ctx context.Context, agreementID uint, status string) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.WithContext(ctx).
		Where("agreement_id = ? AND status = ?", agreementID, status).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *GormStore) ListChargeableTransactions(ctx context.Context) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.db.WithContext(ctx).
		Joins("JOIN billing_agreements ON billing_agreements.id = transactions.agreement_id").
		Where("transactions.status = ?", models.TransactionStatusPending).
		Where("billing_agreements.status IN ?", []string{
			models.AgreementStatusInProgress,
			models.AgreementStatusOverdue,
			models.AgreementStatusFailing,
		}).
		Find(&txns).Error
	return txns, err
}

func (s *GormStore) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return s.db.WithContext(ctx).Create(txn).Error
}

func (s *GormStore) UpdateTransaction(ctx context.Context, id uint, updates map[string]any) error {
	return s.db.WithContext(ctx).Model(&models.Transaction{}).Where("id = ?", id).Updates(updates).Error
}

func (s *GormStore) GetTransactionByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := s.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *GormStore) ListInvoiceIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("invoice_id LIKE ?", prefix+"%").
		Pluck("invoice_id", &ids).Error
	return ids, err
}

func (s *GormStore) FindContact(ctx context.Context, firstName, lastName, email string) (*models.Contact, error) {
	q := s.db.WithContext(ctx).Model(&models.Contact{})
	if firstName != "" {
		q = q.Where("first_name = ?", firstName)
	}
	if lastName != "" {
		q = q.Where("last_name = ?", lastName)
	}
	if email != "" {
		q = q.Where("email = ?", email)
	}

	var contact models.Contact
	if err := q.First(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

func (s *GormStore) CreateContact(ctx context.Context, contact *models.Contact) error {
	return s.db.WithContext(ctx).Create(contact).Error
}

func (s *GormStore) GetPaymentToken(ctx context.Context, id uint) (*models.PaymentToken, error) {
	var token models.PaymentToken
	if err := s.db.WithContext(ctx).First(&token, id).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *GormStore) UpdatePaymentToken(ctx context.Context, id uint, updates map[string]any) error {
	return s.db.WithContext(ctx).Model(&models.PaymentToken{}).Where("id = ?", id).Updates(updates).Error
}

func (s *GormStore) EnqueueWebhookEvents(ctx context.Context, events []models.WebhookEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&events).Error
}

func (s *GormStore) ListNewWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := s.db.WithContext(ctx).
		Where("status = ?", models.WebhookStatusNew).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (s *GormStore) FinishWebhookEvent(ctx context.Context, id uint, status, message string, processedAt *time.Time) error {
	return s.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]any{
		"status":       status,
		"message":      message,
		"processed_at": processedAt,
	}).Error
}
