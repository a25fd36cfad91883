package model

// Role is a named bundle of rate and quota defaults shared by many keys.
// Only MinIntervalSeconds and MaxMonthlyUsage are enforced; the remaining
// fields are advisory and surfaced on the dashboard and status endpoints.
type Role struct {
	ID                 uint     `gorm:"primarykey" json:"-" yaml:"-"`
	Name               string   `gorm:"type:varchar(100);uniqueIndex;not null" json:"name" yaml:"name"`
	MinIntervalSeconds *float64 `gorm:"default:2" json:"minIntervalSeconds,omitempty" yaml:"minIntervalSeconds"`
	MaxMonthlyUsage    *int64   `gorm:"default:10000" json:"maxMonthlyUsage,omitempty" yaml:"maxMonthlyUsage"`
	AllowedEndpoints   []string `gorm:"serializer:json" json:"allowedEndpoints" yaml:"allowedEndpoints"`

	// ResponseLatency is in milliseconds.
	ResponseLatency *int `json:"responseLatency,omitempty" yaml:"responseLatency"`
	// Timeout is in seconds.
	Timeout     *int `json:"timeout,omitempty" yaml:"timeout"`
	Concurrency *int `json:"concurrency,omitempty" yaml:"concurrency"`
	BatchLimit  *int `json:"batchLimit,omitempty" yaml:"batchLimit"`
	// BatchTTL is in seconds.
	BatchTTL *int `json:"batchTTL,omitempty" yaml:"batchTTL"`
}
