package models

import "time"

// PaymentToken is a stored payment method reference held at the gateway.
// Card metadata (masked number, expiry) is refreshed from webhook events when
// the gateway reports updated details.
type PaymentToken struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	ContactID           uint       `gorm:"not null;index" json:"contact_id"`
	Token               string     `gorm:"type:varchar(191);not null" json:"-"`
	MaskedAccountNumber string     `gorm:"type:varchar(100);default:''" json:"masked_account_number"`
	ExpiryDate          *time.Time `gorm:"type:datetime;default:null" json:"expiry_date,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
