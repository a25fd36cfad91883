// Package keygen issues new API keys and loads role definitions from files.
// The operator CLI and the admin API share it.
package keygen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"keygate/internal/db"
	"keygate/internal/model"
	"keygate/internal/policy"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
)

var (
	ErrRoleRequired = errors.New("role is required")
	ErrUnknownRole  = errors.New("role does not exist")
)

// Store is what key generation and role sync need from storage.
type Store interface {
	FindRole(ctx context.Context, name string) (*model.Role, error)
	CreateAPIKeys(ctx context.Context, keys []model.APIKey) error
	ReplaceRoles(ctx context.Context, roles []model.Role) error
}

// Request describes a batch of keys to generate.
type Request struct {
	Role      string `json:"role"`
	DaysValid int    `json:"daysValid"`
	Count     int    `json:"count"`
}

func (r *Request) normalize() error {
	r.Role = strings.TrimSpace(r.Role)
	if r.Role == "" {
		return ErrRoleRequired
	}
	if r.DaysValid <= 0 {
		r.DaysValid = policy.DefaultDaysValid
	}
	if r.Count <= 0 {
		r.Count = 1
	}
	return nil
}

// Generate creates Count random keys for an existing role.
func Generate(ctx context.Context, store Store, req Request, now time.Time) ([]model.APIKey, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	if _, err := store.FindRole(ctx, req.Role); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, req.Role)
		}
		return nil, err
	}

	keys := make([]model.APIKey, req.Count)
	for i := range keys {
		days := req.DaysValid
		keys[i] = model.APIKey{
			Key:       uuid.NewString(),
			Role:      req.Role,
			CreatedAt: now,
			DaysValid: &days,
		}
	}
	if err := store.CreateAPIKeys(ctx, keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// KeyFileName is the name of the file WriteKeyFile writes a batch to.
func KeyFileName(req Request, now time.Time) string {
	return fmt.Sprintf("genkeys_%s_%d_%d.txt", req.Role, req.DaysValid, now.UnixMilli())
}

// WriteKeyFile writes a header line followed by one key per line into dir
// and returns the file path.
func WriteKeyFile(dir string, req Request, keys []model.APIKey, now time.Time) (string, error) {
	if err := req.normalize(); err != nil {
		return "", err
	}
	lines := make([]string, 0, len(keys)+1)
	lines = append(lines, fmt.Sprintf("role: %s, daysValid: %d", req.Role, req.DaysValid))
	for _, k := range keys {
		lines = append(lines, k.Key)
	}

	path := filepath.Join(dir, KeyFileName(req, now))
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		return "", fmt.Errorf("failed to write key file: %w", err)
	}
	return path, nil
}

// LoadRoles reads a YAML or JSON array of roles.
func LoadRoles(path string) ([]model.Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}
	var roles []model.Role
	if err := yaml.Unmarshal(data, &roles); err != nil {
		return nil, fmt.Errorf("%s must be an array of role objects: %w", filepath.Base(path), err)
	}
	for i, r := range roles {
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("role at index %d has no name", i)
		}
	}
	return roles, nil
}

// SyncRoles replaces every stored role with the ones in path.
func SyncRoles(ctx context.Context, store Store, path string) (int, error) {
	roles, err := LoadRoles(path)
	if err != nil {
		return 0, err
	}
	if err := store.ReplaceRoles(ctx, roles); err != nil {
		return 0, err
	}
	return len(roles), nil
}
