package domain

import "time"

// Broker profiles. The set is closed; anything else is rejected at registration.
const (
	ProfileSeller         = "seller"
	ProfileBrokerageOwner = "brokerage_owner"
	ProfileAdmin          = "admin"
	ProfileSupervisor     = "supervisor"
)

func ValidProfile(p string) bool {
	switch p {
	case ProfileSeller, ProfileBrokerageOwner, ProfileAdmin, ProfileSupervisor:
		return true
	}
	return false
}

type Broker struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	FirstName     string     `gorm:"size:128;not null" json:"first_name"`
	LastName      string     `gorm:"size:128;not null" json:"last_name"`
	Email         string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash  string     `gorm:"size:128;not null" json:"-"`
	Profile       string     `gorm:"size:32;not null" json:"profile"`
	SellerCode    *string    `gorm:"size:64" json:"seller_code,omitempty"`
	BrokerageCode *string    `gorm:"size:64" json:"brokerage_code,omitempty"`
	BrokerageName *string    `gorm:"size:255" json:"brokerage_name,omitempty"`
	IsActive      bool       `gorm:"not null;default:true" json:"is_active"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
