package models

import "time"

// Agreement statuses. An agreement is selectable for charging while it is
// in_progress, or while it is overdue/failing with a retry date that has come
// around. failed, cancelled and completed are terminal.
const (
	AgreementStatusInProgress = "in_progress"
	AgreementStatusOverdue    = "overdue"
	AgreementStatusFailing    = "failing"
	AgreementStatusFailed     = "failed"
	AgreementStatusCancelled  = "cancelled"
	AgreementStatusCompleted  = "completed"
)

// Frequency units for the billing cycle.
const (
	FrequencyUnitDay   = "day"
	FrequencyUnitWeek  = "week"
	FrequencyUnitMonth = "month"
	FrequencyUnitYear  = "year"
)

// BillingAgreement is a recurring payment mandate: amount, frequency and a
// stored payment method, owned by a contact. FailureCount resets to zero on
// any successful charge; FailureRetryDate is only set while the agreement is
// failing with a scheduled retry.
type BillingAgreement struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	ContactID         uint       `gorm:"not null;index" json:"contact_id"`
	Amount            float64    `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency          string     `gorm:"type:varchar(3);not null" json:"currency"`
	FrequencyInterval int        `gorm:"not null;default:1" json:"frequency_interval"`
	FrequencyUnit     string     `gorm:"type:varchar(10);not null;default:'month'" json:"frequency_unit"`
	NextDueDate       time.Time  `gorm:"type:datetime;not null;index" json:"next_due_date"`
	Status            string     `gorm:"type:varchar(20);not null;default:'in_progress';index" json:"status"`
	FailureCount      int        `gorm:"not null;default:0" json:"failure_count"`
	FailureRetryDate  *time.Time `gorm:"type:datetime;default:null" json:"failure_retry_date,omitempty"`
	CancelDate        *time.Time `gorm:"type:datetime;default:null" json:"cancel_date,omitempty"`
	ShopperReference  string     `gorm:"type:varchar(191);not null" json:"shopper_reference"`
	PaymentTokenID    uint       `gorm:"index" json:"payment_token_id"`
	IsTest            bool       `gorm:"not null;default:false;index" json:"is_test"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NextDueDateAfter returns the due date one frequency interval after from.
// Date arithmetic only; proration or cycle-day alignment is supplied by the
// scheduler's injectable strategy.
func (a *BillingAgreement) NextDueDateAfter(from time.Time) time.Time {
	switch a.FrequencyUnit {
	case FrequencyUnitDay:
		return from.AddDate(0, 0, a.FrequencyInterval)
	case FrequencyUnitWeek:
		return from.AddDate(0, 0, 7*a.FrequencyInterval)
	case FrequencyUnitYear:
		return from.AddDate(a.FrequencyInterval, 0, 0)
	default:
		return from.AddDate(0, a.FrequencyInterval, 0)
	}
}
