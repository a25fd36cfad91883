package model

import "time"

// Session is a server-held login credential for the dashboard.
// Token is the raw token; the signed form only ever lives in the cookie.
type Session struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	Token     string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"token"`
	APIKey    string    `gorm:"type:varchar(255);not null" json:"apiKey"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expiresAt"`
}
