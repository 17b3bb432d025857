package models

import "time"

// Webhook queue statuses. Events stay "new" until a consumer reaches a
// terminal outcome; retry-later outcomes leave the event "new" so it is
// picked up again.
const (
	WebhookStatusNew     = "new"
	WebhookStatusSuccess = "success"
	WebhookStatusError   = "error"
)

// WebhookMessageLimit bounds the diagnostic message stored on a queue record.
const WebhookMessageLimit = 250

// WebhookEvent is one authenticated gateway notification, queued at ingestion
// and consumed at-least-once by the reconciliation engine. EventID and
// PspReference are stored for traceability; matching is done on the merchant
// reference inside the payload.
type WebhookEvent struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	EventCode    string     `gorm:"type:varchar(50);not null;index" json:"event_code"`
	EventID      string     `gorm:"type:varchar(191);not null;default:''" json:"event_id"`
	PspReference string     `gorm:"type:varchar(191);not null;default:'';index" json:"psp_reference"`
	Status       string     `gorm:"type:varchar(10);not null;default:'new';index" json:"status"`
	Message      string     `gorm:"type:varchar(255);default:''" json:"message"`
	PayloadJSON  string     `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessedAt  *time.Time `gorm:"type:datetime;default:null" json:"processed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TruncateWebhookMessage bounds a diagnostic message before storage.
// The cut lands on a rune boundary so multi-byte characters survive intact.
func TruncateWebhookMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= WebhookMessageLimit {
		return msg
	}
	return string(runes[:WebhookMessageLimit]) + " ..."
}
