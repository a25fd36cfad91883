package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"keygate/internal/config"
	"keygate/internal/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRepo(t *testing.T) db.Service {
	t.Helper()
	service, err := db.NewService(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	return service
}

func newTestStore(t *testing.T, repo Repository, secret string) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	store, err := New(repo, Options{Secret: secret, Expiry: time.Hour, Now: clock.Now})
	require.NoError(t, err)
	return store, clock
}

func TestNew_GeneratesSecretWhenUnset(t *testing.T) {
	store, err := New(newTestRepo(t), Options{})
	require.NoError(t, err)
	assert.True(t, store.GeneratedSecret())
	assert.Equal(t, DefaultExpiry, store.Expiry())

	store, err = New(newTestRepo(t), Options{Secret: "s3cret", Expiry: time.Minute})
	require.NoError(t, err)
	assert.False(t, store.GeneratedSecret())
	assert.Equal(t, time.Minute, store.Expiry())
}

func TestIssueAndVerify(t *testing.T) {
	repo := newTestRepo(t)
	store, _ := newTestStore(t, repo, "s3cret")
	ctx := context.Background()

	signed, sess, err := store.Issue(ctx, "key-abc")
	require.NoError(t, err)
	assert.Len(t, sess.Token, 2*tokenBytes)
	assert.True(t, sess.ExpiresAt.Equal(t0.Add(time.Hour)))
	assert.True(t, strings.HasPrefix(signed, sess.Token+"."))

	// Only the raw token is stored.
	stored, err := repo.FindSessionByToken(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "key-abc", stored.APIKey)
	_, err = repo.FindSessionByToken(ctx, signed)
	assert.ErrorIs(t, err, db.ErrNotFound)

	apiKey, err := store.Verify(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, "key-abc", apiKey)
}

func TestVerify_RejectsBadTokens(t *testing.T) {
	repo := newTestRepo(t)
	store, _ := newTestStore(t, repo, "s3cret")
	ctx := context.Background()
	signed, sess, err := store.Issue(ctx, "key-abc")
	require.NoError(t, err)

	for _, token := range []string{"", "nodot", "a.b.c", sess.Token} {
		_, err := store.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrMalformedToken, "token %q", token)
	}

	tampered := signed[:len(signed)-1] + "0"
	if tampered == signed {
		tampered = signed[:len(signed)-1] + "1"
	}
	_, err = store.Verify(ctx, tampered)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = store.Verify(ctx, sess.Token+".abcd")
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	// A different secret cannot verify tokens from this one.
	other, _ := newTestStore(t, repo, "other")
	_, err = other.Verify(ctx, signed)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	// Correctly signed, but never stored.
	_, err = store.Verify(ctx, store.sign("deadbeef"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestVerify_ExpiredSessionIsDeleted(t *testing.T) {
	repo := newTestRepo(t)
	store, clock := newTestStore(t, repo, "s3cret")
	ctx := context.Background()
	signed, sess, err := store.Issue(ctx, "key-abc")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = store.Verify(ctx, signed)
	require.NoError(t, err, "a session is valid up to its expiry instant")

	clock.Advance(time.Second)
	_, err = store.Verify(ctx, signed)
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = repo.FindSessionByToken(ctx, sess.Token)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRevoke(t *testing.T) {
	repo := newTestRepo(t)
	store, _ := newTestStore(t, repo, "s3cret")
	ctx := context.Background()
	signed, _, err := store.Issue(ctx, "key-abc")
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, signed))
	_, err = store.Verify(ctx, signed)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.NoError(t, store.Revoke(ctx, signed))
	assert.NoError(t, store.Revoke(ctx, "garbage"))
}

func TestSweep(t *testing.T) {
	repo := newTestRepo(t)
	store, clock := newTestStore(t, repo, "s3cret")
	ctx := context.Background()

	old, _, err := store.Issue(ctx, "k1")
	require.NoError(t, err)
	_, _, err = store.Issue(ctx, "k2")
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	fresh, _, err := store.Issue(ctx, "k3")
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	removed, err = store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	_, err = store.Verify(ctx, old)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	apiKey, err := store.Verify(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, "k3", apiKey)
}

func TestStore_NotInitialized(t *testing.T) {
	store, err := New(nil, Options{Secret: "s3cret"})
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.Issue(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = store.Verify(ctx, "a.b")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, store.Revoke(ctx, "a.b"), ErrNotInitialized)
	_, err = store.Sweep(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestMacEqual(t *testing.T) {
	assert.True(t, macEqual([]byte("abcd"), []byte("abcd")))
	assert.False(t, macEqual([]byte("abcd"), []byte("abce")))
	assert.False(t, macEqual([]byte("abcd"), []byte("abc")))
	assert.False(t, macEqual([]byte("abcd"), []byte("abcd00")))
	assert.False(t, macEqual([]byte("abcd"), nil))
}
