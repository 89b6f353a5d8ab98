package domain

import "time"

// Session is a device-bound capability for one broker. The token is opaque:
// validity can only be decided by looking the row up. ExpiresAt is fixed at
// creation and is never extended in place.
type Session struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	BrokerID          uint      `gorm:"index;not null" json:"broker_id"`
	Token             string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	DeviceFingerprint string    `gorm:"size:64;index;not null" json:"-"`
	DeviceName        string    `gorm:"size:128" json:"device_name"`
	LastIP            string    `gorm:"size:64" json:"last_ip"`
	LastUsedAt        time.Time `gorm:"index;not null" json:"last_used_at"`
	ExpiresAt         time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
