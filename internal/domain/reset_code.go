package domain

import "time"

// PasswordResetCode is a single-use, short-lived recovery credential. For a
// given email at most one code is valid (unused and unexpired) at a time;
// issuing a new code or redeeming any code invalidates the rest.
type PasswordResetCode struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BrokerID  uint      `gorm:"index;not null" json:"broker_id"`
	Email     string    `gorm:"size:255;index;not null" json:"email"`
	Code      string    `gorm:"size:6;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	Used      bool      `gorm:"not null;default:false" json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *PasswordResetCode) Valid(now time.Time) bool {
	return !c.Used && c.ExpiresAt.After(now)
}
