package models

import "time"

// Contact is the minimal owning identity for agreements and transactions.
// Matching by name/email is best effort; duplicate contacts are an accepted
// risk of that heuristic.
type Contact struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FirstName string    `gorm:"type:varchar(100);default:'';index:idx_contacts_name,priority:1" json:"first_name"`
	LastName  string    `gorm:"type:varchar(100);default:'';index:idx_contacts_name,priority:2" json:"last_name"`
	Email     string    `gorm:"type:varchar(200);default:'';index" json:"email"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
