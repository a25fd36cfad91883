// Package policy resolves the effective rate and quota limits of a key and
// decides when a key expires. Everything here is pure.
package policy

import (
	"math"
	"time"

	"keygate/internal/model"
)

const (
	DefaultMinIntervalSeconds = 2.0
	DefaultMaxMonthlyUsage    = int64(10000)
	DefaultDaysValid          = 30

	Day          = 24 * time.Hour
	WindowLength = 30 * Day
)

// Resolve returns the first present value: the per-key override, then the
// role's value, then the hard default.
func Resolve[T any](override, role *T, def T) T {
	if override != nil {
		return *override
	}
	if role != nil {
		return *role
	}
	return def
}

// Limits is the effective policy for one key.
type Limits struct {
	MinIntervalSeconds float64
	MinInterval        time.Duration
	MonthlyCap         int64
	// PerKeyQuota keys are never reset by elapsed time; only renewal replenishes them.
	PerKeyQuota bool
}

// Effective merges the key's overrides with its role. role is nil when the
// key names a role that does not exist.
func Effective(key *model.APIKey, role *model.Role) Limits {
	var roleInterval *float64
	var roleCap *int64
	if role != nil {
		roleInterval = role.MinIntervalSeconds
		roleCap = role.MaxMonthlyUsage
	}

	interval := Resolve(key.MinIntervalSeconds, roleInterval, DefaultMinIntervalSeconds)
	return Limits{
		MinIntervalSeconds: interval,
		MinInterval:        seconds(interval),
		MonthlyCap:         Resolve(key.MaxMonthlyUsage, roleCap, DefaultMaxMonthlyUsage),
		PerKeyQuota:        key.HasPerKeyQuota(),
	}
}

// ExpiryOptions tunes how the relative validity window is anchored.
type ExpiryOptions struct {
	// FromCreation anchors daysValid at CreatedAt for keys that have not
	// started a window yet and have no per-key quota.
	FromCreation bool
}

// KeyExpiry returns when the key expires. An absolute ExpiresAt wins over
// DaysValid. ok is false when the key cannot expire yet.
func KeyExpiry(key *model.APIKey, opts ExpiryOptions) (expiresAt time.Time, ok bool) {
	if key.ExpiresAt != nil {
		return *key.ExpiresAt, true
	}
	if key.DaysValid == nil {
		return time.Time{}, false
	}

	var start time.Time
	switch {
	case key.RequestCountStart != nil:
		start = *key.RequestCountStart
	case opts.FromCreation && !key.HasPerKeyQuota() && !key.CreatedAt.IsZero():
		start = key.CreatedAt
	default:
		return time.Time{}, false
	}
	return start.Add(time.Duration(*key.DaysValid) * Day), true
}

// IsExpired reports whether now is strictly after the key's expiry.
func IsExpired(key *model.APIKey, now time.Time, opts ExpiryOptions) bool {
	expiresAt, ok := KeyExpiry(key, opts)
	return ok && now.After(expiresAt)
}

// WindowElapsed reports whether a rolling window that started at start is over.
func WindowElapsed(start, now time.Time) bool {
	return now.Sub(start) >= WindowLength
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(math.Round(s * float64(time.Second)))
}
