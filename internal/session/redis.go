package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"keygate/internal/db"
	"keygate/internal/model"

	"github.com/redis/go-redis/v9"
)

// RedisRepository keeps each session under its own key with a TTL, plus a
// sorted set scored by expiry so Sweep can find sessions explicitly instead
// of relying on Redis eviction timing.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRepository returns a Repository on client. Keys are namespaced by prefix.
func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "keygate"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) sessionKey(token string) string {
	return r.prefix + ":session:" + token
}

func (r *RedisRepository) indexKey() string {
	return r.prefix + ":sessions:expiry"
}

func (r *RedisRepository) CreateSession(ctx context.Context, sess *model.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := sess.ExpiresAt.Sub(sess.CreatedAt)
	if ttl <= 0 {
		ttl = time.Second
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(sess.Token), payload, ttl)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(sess.ExpiresAt.UnixMilli()), Member: sess.Token})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *RedisRepository) FindSessionByToken(ctx context.Context, token string) (*model.Session, error) {
	payload, err := r.client.Get(ctx, r.sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	var sess model.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (r *RedisRepository) DeleteSessionByToken(ctx context.Context, token string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(token))
		pipe.ZRem(ctx, r.indexKey(), token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessionsBefore removes index entries scored before the cutoff
// and their session keys. The count is the number of index entries this call
// removed, so concurrent sweeps never count the same session twice.
func (r *RedisRepository) DeleteExpiredSessionsBefore(ctx context.Context, before time.Time) (int64, error) {
	maxScore := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	tokens, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan expired sessions: %w", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	keys := make([]string, len(tokens))
	members := make([]interface{}, len(tokens))
	for i, token := range tokens {
		keys[i] = r.sessionKey(token)
		members[i] = token
	}

	var removed *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		removed = pipe.ZRem(ctx, r.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return removed.Val(), nil
}
