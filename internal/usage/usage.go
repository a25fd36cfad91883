// Package usage derives the dashboard view of a key's consumption.
package usage

import (
	"math"
	"time"

	"keygate/internal/model"
	"keygate/internal/policy"
)

// Status is a traffic-light classification.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// DefaultRoleName is shown for keys that carry no role.
const DefaultRoleName = "Standard"

// RoleInfo is the advisory metadata of a role as shown to the key holder.
type RoleInfo struct {
	Name               string   `json:"name"`
	MaxMonthlyUsage    *int64   `json:"maxMonthlyUsage,omitempty"`
	MinIntervalSeconds *float64 `json:"minIntervalSeconds,omitempty"`
	AllowedEndpoints   []string `json:"allowedEndpoints,omitempty"`
	ResponseLatency    *int     `json:"responseLatency,omitempty"`
	Timeout            *int     `json:"timeout,omitempty"`
	Concurrency        *int     `json:"concurrency,omitempty"`
	BatchLimit         *int     `json:"batchLimit,omitempty"`
	BatchTTL           *int     `json:"batchTTL,omitempty"`
}

// NewRoleInfo copies the displayable fields of role. It returns nil for a nil role.
func NewRoleInfo(role *model.Role) *RoleInfo {
	if role == nil {
		return nil
	}
	return &RoleInfo{
		Name:               role.Name,
		MaxMonthlyUsage:    role.MaxMonthlyUsage,
		MinIntervalSeconds: role.MinIntervalSeconds,
		AllowedEndpoints:   role.AllowedEndpoints,
		ResponseLatency:    role.ResponseLatency,
		Timeout:            role.Timeout,
		Concurrency:        role.Concurrency,
		BatchLimit:         role.BatchLimit,
		BatchTTL:           role.BatchTTL,
	}
}

// Projection is the computed usage summary of one key.
type Projection struct {
	Key               string     `json:"key"`
	Role              string     `json:"role"`
	RoleInfo          *RoleInfo  `json:"roleInfo,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	DaysValid         *int       `json:"daysValid,omitempty"`
	LastUsedAt        *time.Time `json:"lastUsedAt,omitempty"`
	RequestCountMonth int64      `json:"requestCountMonth"`
	RequestCountStart *time.Time `json:"requestCountStart,omitempty"`
	HasPerKeyQuota    bool       `json:"hasPerKeyQuota"`

	MonthlyCap         int64   `json:"monthlyCap"`
	MinIntervalSeconds float64 `json:"minIntervalSeconds"`
	UsagePercent       float64 `json:"usagePercent"`
	Remaining          int64   `json:"remaining"`

	// Renewal fields are only set for role-governed keys with an open window.
	RenewalDate *time.Time `json:"renewalDate,omitempty"`
	RenewalDays *int       `json:"renewalDays,omitempty"`

	// Expiry fields are unset while the key cannot expire yet.
	KeyExpiresAt   *time.Time `json:"keyExpiresAt,omitempty"`
	KeyExpiresDays *int       `json:"keyExpiresDays,omitempty"`

	UsageStatus Status `json:"usageStatus"`
	KeyStatus   Status `json:"keyStatus"`
}

// Project computes the usage summary for key under role at now. role may be
// nil. It does not modify its inputs.
func Project(key *model.APIKey, role *model.Role, now time.Time, opts ...policy.ExpiryOptions) Projection {
	var expiryOpts policy.ExpiryOptions
	if len(opts) > 0 {
		expiryOpts = opts[0]
	}

	limits := policy.Effective(key, role)
	p := Projection{
		Key:                key.Key,
		Role:               key.Role,
		RoleInfo:           NewRoleInfo(role),
		CreatedAt:          key.CreatedAt,
		DaysValid:          key.DaysValid,
		LastUsedAt:         key.LastUsedAt,
		RequestCountMonth:  key.RequestCountMonth,
		RequestCountStart:  key.RequestCountStart,
		HasPerKeyQuota:     limits.PerKeyQuota,
		MonthlyCap:         limits.MonthlyCap,
		MinIntervalSeconds: limits.MinIntervalSeconds,
		UsagePercent:       percent(key.RequestCountMonth, limits.MonthlyCap),
		Remaining:          max(0, limits.MonthlyCap-key.RequestCountMonth),
	}
	if p.Role == "" {
		p.Role = DefaultRoleName
	}

	if !limits.PerKeyQuota && key.RequestCountStart != nil {
		renewAt := key.RequestCountStart.Add(policy.WindowLength)
		days := max(0, daysUntil(now, renewAt))
		p.RenewalDate = &renewAt
		p.RenewalDays = &days
	}

	if expiresAt, ok := policy.KeyExpiry(key, expiryOpts); ok {
		days := daysUntil(now, expiresAt)
		p.KeyExpiresAt = &expiresAt
		p.KeyExpiresDays = &days
	}

	p.UsageStatus = usageStatus(p.UsagePercent)
	p.KeyStatus = keyStatus(p.KeyExpiresDays)
	return p
}

// percent is count/limit as a percentage, rounded to one decimal and capped at 100.
func percent(count, limit int64) float64 {
	if limit <= 0 {
		if count > 0 {
			return 100
		}
		return 0
	}
	pct := math.Min(100, float64(count)/float64(limit)*100)
	return math.Round(pct*10) / 10
}

func daysUntil(now, t time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

func usageStatus(pct float64) Status {
	switch {
	case pct >= 90:
		return StatusCritical
	case pct >= 70:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

func keyStatus(days *int) Status {
	switch {
	case days == nil:
		return StatusHealthy
	case *days <= 0:
		return StatusCritical
	case *days <= 7:
		return StatusWarning
	default:
		return StatusHealthy
	}
}
