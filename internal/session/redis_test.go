package session

import (
	"context"
	"testing"
	"time"

	"keygate/internal/db"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisRepository(client, "test")
}

func TestRedisRepository_StoreRoundTrip(t *testing.T) {
	mr, repo := setupRedis(t)
	store, _ := newTestStore(t, repo, "s3cret")
	ctx := context.Background()

	signed, sess, err := store.Issue(ctx, "key-abc")
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:session:"+sess.Token))
	assert.Equal(t, time.Hour, mr.TTL("test:session:"+sess.Token))

	apiKey, err := store.Verify(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, "key-abc", apiKey)

	require.NoError(t, store.Revoke(ctx, signed))
	assert.False(t, mr.Exists("test:session:"+sess.Token))
	_, err = store.Verify(ctx, signed)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisRepository_TTLEviction(t *testing.T) {
	mr, repo := setupRedis(t)
	store, _ := newTestStore(t, repo, "s3cret")
	ctx := context.Background()

	signed, _, err := store.Issue(ctx, "key-abc")
	require.NoError(t, err)

	mr.FastForward(time.Hour + time.Second)
	_, err = store.Verify(ctx, signed)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisRepository_Sweep(t *testing.T) {
	mr, repo := setupRedis(t)
	store, clock := newTestStore(t, repo, "s3cret")
	ctx := context.Background()

	_, first, err := store.Issue(ctx, "k1")
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	_, second, err := store.Issue(ctx, "k2")
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.False(t, mr.Exists("test:session:"+first.Token))
	assert.True(t, mr.Exists("test:session:"+second.Token))

	members, err := mr.ZMembers("test:sessions:expiry")
	require.NoError(t, err)
	assert.Equal(t, []string{second.Token}, members)

	removed, err = store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestRedisRepository_FindMissing(t *testing.T) {
	_, repo := setupRedis(t)
	_, err := repo.FindSessionByToken(context.Background(), "nope")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.NoError(t, repo.DeleteSessionByToken(context.Background(), "nope"))
}

func TestRedisRepository_Unavailable(t *testing.T) {
	mr, repo := setupRedis(t)
	mr.Close()

	_, err := repo.FindSessionByToken(context.Background(), "nope")
	require.Error(t, err)
	assert.NotErrorIs(t, err, db.ErrNotFound)
}
