// Package session issues, verifies and revokes signed login sessions for the
// dashboard. Tokens are random, persisted server side in raw form, and handed
// to the client only in signed form: token + "." + hex(HMAC-SHA256(secret, token)).
//
// Sessions signed under one secret stop verifying when the secret changes;
// a restart without a configured secret logs everybody out.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"keygate/internal/db"
	"keygate/internal/model"
)

// DefaultExpiry is the session lifetime when none is configured.
const DefaultExpiry = 24 * time.Hour

const tokenBytes = 32

var (
	ErrMalformedToken    = errors.New("malformed session token")
	ErrSignatureMismatch = errors.New("session signature mismatch")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrNotInitialized    = errors.New("session store not initialized")
)

// Repository persists sessions by raw token. FindSessionByToken returns
// db.ErrNotFound for unknown tokens; deletes are idempotent.
type Repository interface {
	CreateSession(ctx context.Context, session *model.Session) error
	FindSessionByToken(ctx context.Context, token string) (*model.Session, error)
	DeleteSessionByToken(ctx context.Context, token string) error
	DeleteExpiredSessionsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Options configures a Store.
type Options struct {
	// Secret keys the MAC. A random secret is generated when empty.
	Secret string
	Expiry time.Duration
	Now    func() time.Time
}

// Store is the session store. It holds no package-level state; create one with New.
type Store struct {
	repo   Repository
	secret []byte
	expiry time.Duration
	now    func() time.Time

	generatedSecret bool
}

// New returns a configured Store.
func New(repo Repository, opts Options) (*Store, error) {
	s := &Store{
		repo:   repo,
		expiry: opts.Expiry,
		now:    opts.Now,
	}
	if s.expiry <= 0 {
		s.expiry = DefaultExpiry
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Secret != "" {
		s.secret = []byte(opts.Secret)
	} else {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		s.secret = []byte(hex.EncodeToString(secret))
		s.generatedSecret = true
	}
	return s, nil
}

// GeneratedSecret reports whether the store is running on a random secret.
func (s *Store) GeneratedSecret() bool {
	return s.generatedSecret
}

// Expiry returns the session lifetime.
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// Issue creates a session for apiKey and returns the signed token to hand
// to the client.
func (s *Store) Issue(ctx context.Context, apiKey string) (string, *model.Session, error) {
	if s.repo == nil {
		return "", nil, ErrNotInitialized
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate session token: %w", err)
	}
	token := hex.EncodeToString(raw)

	now := s.now().UTC()
	sess := &model.Session{
		Token:     token,
		APIKey:    apiKey,
		CreatedAt: now,
		ExpiresAt: now.Add(s.expiry),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return "", nil, err
	}
	return s.sign(token), sess, nil
}

// Verify resolves a signed token to the API key it authenticates.
func (s *Store) Verify(ctx context.Context, signed string) (string, error) {
	if s.repo == nil {
		return "", ErrNotInitialized
	}
	token, err := s.unsign(signed)
	if err != nil {
		return "", err
	}

	sess, err := s.repo.FindSessionByToken(ctx, token)
	if errors.Is(err, db.ErrNotFound) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}

	// Storage-side expiry is not guaranteed to have run yet.
	if s.now().After(sess.ExpiresAt) {
		if err := s.repo.DeleteSessionByToken(ctx, token); err != nil {
			return "", err
		}
		return "", ErrSessionExpired
	}
	return sess.APIKey, nil
}

// Revoke deletes the session behind a signed token. A token that does not
// verify, or whose session is already gone, is not an error: the caller
// clears the cookie either way.
func (s *Store) Revoke(ctx context.Context, signed string) error {
	if s.repo == nil {
		return ErrNotInitialized
	}
	token, err := s.unsign(signed)
	if err != nil {
		return nil
	}
	return s.repo.DeleteSessionByToken(ctx, token)
}

// Sweep deletes every session that has already expired and returns how many
// were removed. It is safe to run concurrently and repeatedly.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	if s.repo == nil {
		return 0, ErrNotInitialized
	}
	return s.repo.DeleteExpiredSessionsBefore(ctx, s.now().UTC())
}

func (s *Store) mac(token string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) sign(token string) string {
	return token + "." + s.mac(token)
}

func (s *Store) unsign(signed string) (string, error) {
	parts := strings.Split(signed, ".")
	if len(parts) != 2 {
		return "", ErrMalformedToken
	}
	token, signature := parts[0], parts[1]
	if !macEqual([]byte(s.mac(token)), []byte(signature)) {
		return "", ErrSignatureMismatch
	}
	return token, nil
}

// macEqual compares in time independent of where the inputs differ and of
// the presented length.
func macEqual(expected, presented []byte) bool {
	padded := make([]byte, len(expected))
	copy(padded, presented)
	sameLen := subtle.ConstantTimeEq(int32(len(presented)), int32(len(expected)))
	return subtle.ConstantTimeCompare(expected, padded)&sameLen == 1
}
