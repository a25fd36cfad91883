package session

import (
	"context"
	"fmt"

	"keygate/internal/config"

	"github.com/redis/go-redis/v9"
)

// OpenRepository returns the repository cfg.Backend selects. The database
// backend reuses fallback. The returned close func releases any connection
// opened here and is never nil.
func OpenRepository(ctx context.Context, cfg config.SessionConfig, fallback Repository) (Repository, func() error, error) {
	if cfg.Backend != "redis" {
		return fallback, func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisRepository(client, "keygate"), client.Close, nil
}
