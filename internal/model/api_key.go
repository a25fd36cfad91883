package model

import "time"

// APIKey is the identity and usage ledger of one caller.
type APIKey struct {
	ID                uint       `gorm:"primarykey" json:"-"`
	Key               string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"key"`
	Role              string     `gorm:"type:varchar(100);index;not null" json:"role"`
	CreatedAt         time.Time  `json:"createdAt"`
	DaysValid         *int       `gorm:"default:30" json:"daysValid"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt        *time.Time `json:"lastUsedAt,omitempty"`
	RequestCountMonth int64      `gorm:"default:0;not null" json:"requestCountMonth"`
	RequestCountStart *time.Time `json:"requestCountStart,omitempty"`

	// Per-key overrides. When set they take priority over the role.
	MaxMonthlyUsage    *int64   `json:"maxMonthlyUsage,omitempty"`
	MinIntervalSeconds *float64 `json:"minIntervalSeconds,omitempty"`
}

// HasPerKeyQuota reports whether the key carries its own monthly cap.
// Only a positive cap counts: such keys are never reset by elapsed time.
func (k *APIKey) HasPerKeyQuota() bool {
	return k.MaxMonthlyUsage != nil && *k.MaxMonthlyUsage > 0
}

// Clone returns a deep copy so callers can mutate it without touching the original.
func (k *APIKey) Clone() *APIKey {
	c := *k
	c.DaysValid = clonePtr(k.DaysValid)
	c.ExpiresAt = clonePtr(k.ExpiresAt)
	c.LastUsedAt = clonePtr(k.LastUsedAt)
	c.RequestCountStart = clonePtr(k.RequestCountStart)
	c.MaxMonthlyUsage = clonePtr(k.MaxMonthlyUsage)
	c.MinIntervalSeconds = clonePtr(k.MinIntervalSeconds)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
