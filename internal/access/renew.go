package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keygate/internal/db"
	"keygate/internal/logger"
	"keygate/internal/model"
	"keygate/internal/policy"
)

// DefaultRenewalDays is used when RenewalOptions.AdditionalDays is nil.
const DefaultRenewalDays = 30

// RenewalOptions describes a quota and expiration extension.
type RenewalOptions struct {
	// AdditionalRequests is added to the key's per-key monthly cap.
	AdditionalRequests int64 `json:"additionalRequests"`
	// AdditionalDays extends the expiration; nil means DefaultRenewalDays.
	AdditionalDays *int `json:"additionalDays,omitempty"`
	// ResetUsageCount restarts the usage window even for a live key.
	ResetUsageCount bool `json:"resetUsageCount"`
}

func (o RenewalOptions) validate() error {
	if o.AdditionalRequests <= 0 {
		return fmt.Errorf("%w: additionalRequests must be a positive number", ErrInvalidArgument)
	}
	if o.AdditionalDays != nil && *o.AdditionalDays <= 0 {
		return fmt.Errorf("%w: additionalDays must be a positive number", ErrInvalidArgument)
	}
	return nil
}

// Renew extends a key's quota and expiration. It is the only way keys with a
// per-key cap get their usage replenished. It returns (nil, nil) when the key
// does not exist.
//
// Quota is always added to the existing per-key cap. Expiration stacks on top
// of a live key's ExpiresAt and restarts from now for an expired key, whose
// usage window is also reset.
func (e *Engine) Renew(ctx context.Context, key string, opts RenewalOptions) (*model.APIKey, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	apiKey, err := e.store.FindAPIKeyByKey(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up api key: %w", err)
	}

	now := e.now()
	days := DefaultRenewalDays
	if opts.AdditionalDays != nil {
		days = *opts.AdditionalDays
	}

	expired := policy.IsExpired(apiKey, now, e.expiryOptions())

	base := now
	if !expired && apiKey.ExpiresAt != nil {
		base = *apiKey.ExpiresAt
	}
	expiresAt := base.Add(time.Duration(days) * policy.Day)
	apiKey.ExpiresAt = &expiresAt

	var current int64
	if apiKey.MaxMonthlyUsage != nil {
		current = *apiKey.MaxMonthlyUsage
	}
	maxUsage := current + opts.AdditionalRequests
	apiKey.MaxMonthlyUsage = &maxUsage

	if expired || opts.ResetUsageCount {
		start := now
		apiKey.RequestCountMonth = 0
		apiKey.RequestCountStart = &start
	}

	if err := e.store.SaveAPIKey(ctx, apiKey); err != nil {
		return nil, err
	}

	e.logger.Info("Renewed api key",
		"key_suffix", logger.KeySuffix(apiKey.Key),
		"max_monthly_usage", maxUsage,
		"expires_at", expiresAt,
		"expired", expired,
	)
	return apiKey, nil
}
