package domain

import "time"

// Session is valid only while IsActive is set and ExpiresAt is in the future.
// A user may hold any number of concurrent sessions.
type Session struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"index;not null" json:"user_id"`
	AccessToken  string    `gorm:"size:128;uniqueIndex;not null" json:"-"`
	RefreshToken string    `gorm:"size:128;uniqueIndex;not null" json:"-"`
	ExpiresAt    time.Time `gorm:"index;not null" json:"expires_at"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
