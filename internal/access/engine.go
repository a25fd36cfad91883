// Package access decides whether a call presenting an API key may proceed,
// accounts for admitted calls once their outcome is known, and renews key
// quotas out of band.
//
// The admission check and the post-response commit are separate steps. A
// burst of concurrent calls for one key can all pass the check before any
// of them commits, so a key may transiently exceed its cap by at most the
// number of in-flight calls. The commit itself is an atomic increment, so
// no counted call is lost.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"keygate/internal/db"
	"keygate/internal/logger"
	"keygate/internal/model"
	"keygate/internal/policy"
	"keygate/internal/usage"
)

// Store is the slice of the storage layer the engine needs.
type Store interface {
	FindAPIKeyByKey(ctx context.Context, key string) (*model.APIKey, error)
	FindRole(ctx context.Context, name string) (*model.Role, error)
	SaveAPIKey(ctx context.Context, key *model.APIKey) error
	RecordAPIKeyUsage(ctx context.Context, key string, update db.UsageUpdate) error
}

// Options configures an Engine.
type Options struct {
	// CountOnly200 counts only calls whose response status is 200.
	// When false every admitted call is counted.
	CountOnly200 bool
	// LegacyCreatedAtExpiry anchors daysValid at creation for unused keys.
	LegacyCreatedAtExpiry bool
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// Engine admits or rejects calls and renews keys.
type Engine struct {
	store  Store
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// NewEngine creates an Engine backed by store.
func NewEngine(store Store, opts Options, log *slog.Logger) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:  store,
		opts:   opts,
		now:    now,
		logger: log.With("component", "access"),
	}
}

func (e *Engine) expiryOptions() policy.ExpiryOptions {
	return policy.ExpiryOptions{FromCreation: e.opts.LegacyCreatedAtExpiry}
}

// Admission is a successful admission decision. The caller must invoke
// Commit once the response status is known.
type Admission struct {
	// Key is a snapshot of the record with the rolling window already
	// bootstrapped or reset. It is not persisted until Commit counts the call.
	Key    *model.APIKey
	Role   *model.Role
	Limits policy.Limits

	admittedAt   time.Time
	windowStart  *time.Time
	countOnly200 bool
	store        Store
	once         sync.Once
	counted      bool
	err          error
}

// Admit runs the admission state machine for the presented key. Rejections
// are returned as *Rejection; any other error comes from storage and is fatal
// for this call only. Admit never mutates stored state.
func (e *Engine) Admit(ctx context.Context, presented string) (*Admission, error) {
	if presented == "" {
		return nil, reject(KindMissingKey)
	}

	key, role, err := e.load(ctx, presented)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if policy.IsExpired(key, now, e.expiryOptions()) {
		return nil, reject(KindExpired)
	}
	limits := policy.Effective(key, role)

	snapshot := key.Clone()
	var windowStart *time.Time
	switch {
	case snapshot.RequestCountStart == nil:
		windowStart = &now
	case !limits.PerKeyQuota && policy.WindowElapsed(*snapshot.RequestCountStart, now):
		windowStart = &now
	}
	if windowStart != nil {
		start := *windowStart
		snapshot.RequestCountStart = &start
		snapshot.RequestCountMonth = 0
	}

	if snapshot.LastUsedAt != nil && now.Sub(*snapshot.LastUsedAt) < limits.MinInterval {
		return nil, tooFrequent(limits.MinIntervalSeconds)
	}
	if snapshot.RequestCountMonth >= limits.MonthlyCap {
		return nil, reject(KindQuotaExceeded)
	}

	e.logger.Debug("Admitted call", "key_suffix", logger.KeySuffix(key.Key), "count", snapshot.RequestCountMonth, "cap", limits.MonthlyCap)

	return &Admission{
		Key:          snapshot,
		Role:         role,
		Limits:       limits,
		admittedAt:   now,
		windowStart:  windowStart,
		countOnly200: e.opts.CountOnly200,
		store:        e.store,
	}, nil
}

// Lookup returns the stored key and its role without admitting a call or
// checking expiry. Unknown keys yield a KindInvalidKey rejection.
func (e *Engine) Lookup(ctx context.Context, presented string) (*model.APIKey, *model.Role, error) {
	if presented == "" {
		return nil, nil, reject(KindMissingKey)
	}
	return e.load(ctx, presented)
}

// Usage projects the presented key's consumption at the current time.
func (e *Engine) Usage(ctx context.Context, presented string) (*usage.Projection, error) {
	key, role, err := e.Lookup(ctx, presented)
	if err != nil {
		return nil, err
	}
	p := usage.Project(key, role, e.now(), e.expiryOptions())
	return &p, nil
}

// load fetches the key and its role. A key naming a missing role gets a nil role.
func (e *Engine) load(ctx context.Context, presented string) (*model.APIKey, *model.Role, error) {
	key, err := e.store.FindAPIKeyByKey(ctx, presented)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, reject(KindInvalidKey)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("look up api key: %w", err)
	}

	if key.Role == "" {
		return key, nil, nil
	}
	role, err := e.store.FindRole(ctx, key.Role)
	if errors.Is(err, db.ErrNotFound) {
		return key, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("look up role %s: %w", key.Role, err)
	}
	return key, role, nil
}

// Commit accounts for the admitted call given its final response status.
// It runs at most once; later calls return the first result. It reports
// whether the call was counted. A cancelled ctx abandons the accounting.
func (a *Admission) Commit(ctx context.Context, status int) (bool, error) {
	a.once.Do(func() {
		if a.countOnly200 && status != http.StatusOK {
			return
		}
		if err := ctx.Err(); err != nil {
			a.err = err
			return
		}
		update := db.UsageUpdate{UsedAt: a.admittedAt, WindowStart: a.windowStart}
		if a.windowStart != nil {
			update.StaleBefore = a.windowStart.Add(-policy.WindowLength)
		}
		if err := a.store.RecordAPIKeyUsage(ctx, a.Key.Key, update); err != nil {
			a.err = fmt.Errorf("record usage: %w", err)
			return
		}
		a.counted = true
		a.Key.RequestCountMonth++
		usedAt := a.admittedAt
		a.Key.LastUsedAt = &usedAt
	})
	return a.counted, a.err
}
