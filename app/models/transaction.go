package models

import "time"

// Transaction statuses. Exactly one template transaction exists per
// agreement; it is never charged and only serves as the clone source for new
// pending transactions.
const (
	TransactionStatusTemplate  = "template"
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// Transaction is a single billing attempt or settlement record. InvoiceID is
// the merchant reference sent to the gateway and must be assigned before the
// charge call; TrxnID is the gateway's own reference (psp reference) and is
// only ever set from a successful charge response or a matching webhook
// event. IsTest partitions live and test data into disjoint query spaces.
type Transaction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AgreementID *uint     `gorm:"index" json:"agreement_id,omitempty"`
	ContactID   uint      `gorm:"not null;index" json:"contact_id"`
	TotalAmount float64   `gorm:"type:decimal(10,2);not null" json:"total_amount"`
	Currency    string    `gorm:"type:varchar(3);not null" json:"currency"`
	ReceiveDate time.Time `gorm:"type:datetime;not null" json:"receive_date"`
	Status      string    `gorm:"type:varchar(20);not null;index" json:"status"`
	InvoiceID   string    `gorm:"type:varchar(191);uniqueIndex:ux_transactions_invoice_id" json:"invoice_id"`
	TrxnID      string    `gorm:"type:varchar(191);default:'';index" json:"trxn_id"`
	IsTest      bool      `gorm:"not null;default:false;index" json:"is_test"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
