package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/cadencepay/cadence/app/models"
)

// ErrNotFound is returned by lookups that match no row. It aliases the GORM
// sentinel so callers can use errors.Is regardless of the backing store.
var ErrNotFound = gorm.ErrRecordNotFound

// Store is the persistence boundary for billing. The scheduler and the
// reconciliation engine only ever talk to this interface; the GORM
// implementation lives in this package and an in-memory implementation backs
// the tests.
//
// Statuses passed to the due-selection and pending queries are fixed by the
// scheduler; the store only translates them to queries.
type Store interface {
	// RunInTransaction executes fn atomically. The Store handed to fn must
	// be used for every operation inside the transaction.
	RunInTransaction(ctx context.Context, fn func(Store) error) error

	// FindDueAgreements selects agreements due for a charge at now:
	// next_due_date <= now and either status in_progress, or status
	// overdue/failing with no retry date (skip policy) or a retry date that
	// has passed. Terminal statuses are never selected. Both test and live
	// partitions are returned.
	FindDueAgreements(ctx context.Context, now time.Time) ([]models.BillingAgreement, error)
	GetAgreement(ctx context.Context, id uint) (*models.BillingAgreement, error)
	UpdateAgreement(ctx context.Context, id uint, updates map[string]any) error

	// GetTemplateTransaction returns the agreement's template transaction,
	// or ErrNotFound if none exists yet.
	GetTemplateTransaction(ctx context.Context, agreementID uint) (*models.Transaction, error)
	// GetPendingTransaction returns the agreement's pending transaction, or
	// ErrNotFound.
	GetPendingTransaction(ctx context.Context, agreementID uint) (*models.Transaction, error)
	// ListChargeableTransactions returns pending transactions whose owning
	// agreement is still in a chargeable (non-terminal) status.
	ListChargeableTransactions(ctx context.Context) ([]models.Transaction, error)
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	UpdateTransaction(ctx context.Context, id uint, updates map[string]any) error
	// GetTransactionByInvoiceID looks a transaction up by merchant
	// reference across both the test and live partitions.
	GetTransactionByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error)
	// ListInvoiceIDsWithPrefix returns existing invoice ids beginning with
	// prefix, used by the legacy suffix-probing key generator.
	ListInvoiceIDsWithPrefix(ctx context.Context, prefix string) ([]string, error)

	// FindContact matches an individual by exact first/last name and, when
	// email is non-empty, email address. Returns ErrNotFound on no match.
	FindContact(ctx context.Context, firstName, lastName, email string) (*models.Contact, error)
	CreateContact(ctx context.Context, contact *models.Contact) error

	GetPaymentToken(ctx context.Context, id uint) (*models.PaymentToken, error)
	UpdatePaymentToken(ctx context.Context, id uint, updates map[string]any) error

	// EnqueueWebhookEvents appends accepted notification items to the queue
	// with status new.
	EnqueueWebhookEvents(ctx context.Context, events []models.WebhookEvent) error
	// ListNewWebhookEvents returns up to limit queued events in arrival
	// order.
	ListNewWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error)
	// FinishWebhookEvent records a processing outcome on a queue record.
	FinishWebhookEvent(ctx context.Context, id uint, status, message string, processedAt *time.Time) error
}
