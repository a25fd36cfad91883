package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keygate/internal/config"
	"keygate/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a key, role or session does not exist.
var ErrNotFound = errors.New("record not found")

// UsageUpdate describes one counted call.
// When WindowStart is set the rolling window is (re)started at that instant
// and the counter is set to one, but only while the stored start is still
// null or not after StaleBefore. A window that a concurrent commit already
// restarted just gets incremented.
type UsageUpdate struct {
	UsedAt      time.Time
	WindowStart *time.Time
	StaleBefore time.Time
}

// Service is the storage collaborator for keys, roles and sessions.
type Service interface {
	GetDB() *gorm.DB
	Close() error

	FindAPIKeyByKey(ctx context.Context, key string) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]model.APIKey, error)
	CreateAPIKeys(ctx context.Context, keys []model.APIKey) error
	SaveAPIKey(ctx context.Context, key *model.APIKey) error
	RecordAPIKeyUsage(ctx context.Context, key string, update UsageUpdate) error

	FindRole(ctx context.Context, name string) (*model.Role, error)
	ListRoles(ctx context.Context) ([]model.Role, error)
	UpsertRole(ctx context.Context, role *model.Role) error
	ReplaceRoles(ctx context.Context, roles []model.Role) error

	CreateSession(ctx context.Context, session *model.Session) error
	FindSessionByToken(ctx context.Context, token string) (*model.Session, error)
	DeleteSessionByToken(ctx context.Context, token string) error
	DeleteExpiredSessionsBefore(ctx context.Context, before time.Time) (int64, error)
}

type service struct {
	db *gorm.DB
}

// NewService opens the database described by cfg and migrates the schema.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// One connection keeps in-memory databases coherent and avoids SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&model.APIKey{}, &model.Role{}, &model.Session{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return &service{db: db}, nil
}

func (s *service) GetDB() *gorm.DB {
	return s.db
}

// Close releases the connection pool.
func (s *service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	return sqlDB.Close()
}

// byKey quotes the column; "key" is reserved in MySQL.
func byKey(key string) map[string]interface{} {
	return map[string]interface{}{"key": key}
}

func (s *service) FindAPIKeyByKey(ctx context.Context, key string) (*model.APIKey, error) {
	var apiKey model.APIKey
	err := s.db.WithContext(ctx).Where(byKey(key)).First(&apiKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find api key: %w", err)
	}
	return &apiKey, nil
}

func (s *service) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.WithContext(ctx).Order("id asc").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// CreateAPIKeys inserts all keys in a single transaction.
func (s *service) CreateAPIKeys(ctx context.Context, keys []model.APIKey) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&keys).Error; err != nil {
		return fmt.Errorf("failed to create api keys: %w", err)
	}
	return nil
}

// SaveAPIKey writes every column of an existing key.
func (s *service) SaveAPIKey(ctx context.Context, key *model.APIKey) error {
	if err := s.db.WithContext(ctx).Save(key).Error; err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}
	return nil
}

// RecordAPIKeyUsage counts one call. Both the window restart and the
// increment are single conditional statements so concurrent commits for the
// same key never lose an update.
func (s *service) RecordAPIKeyUsage(ctx context.Context, key string, update UsageUpdate) error {
	tx := s.db.WithContext(ctx)
	if update.WindowStart != nil {
		result := tx.Model(&model.APIKey{}).
			Where(byKey(key)).
			Where("request_count_start IS NULL OR request_count_start <= ?", update.StaleBefore).
			Updates(map[string]interface{}{
				"last_used_at":        update.UsedAt,
				"request_count_start": *update.WindowStart,
				"request_count_month": 1,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to restart usage window for api key: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}
	}

	result := tx.Model(&model.APIKey{}).Where(byKey(key)).Updates(map[string]interface{}{
		"last_used_at":        update.UsedAt,
		"request_count_month": gorm.Expr("request_count_month + 1"),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to record usage for api key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *service) FindRole(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find role: %w", err)
	}
	return &role, nil
}

func (s *service) ListRoles(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	if err := s.db.WithContext(ctx).Order("name asc").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// UpsertRole creates the role or overwrites an existing one with the same name.
func (s *service) UpsertRole(ctx context.Context, role *model.Role) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"min_interval_seconds", "max_monthly_usage", "allowed_endpoints",
			"response_latency", "timeout", "concurrency", "batch_limit", "batch_ttl",
		}),
	}).Create(role).Error
	if err != nil {
		return fmt.Errorf("failed to upsert role %s: %w", role.Name, err)
	}
	return nil
}

// ReplaceRoles deletes every role and inserts the given set atomically.
func (s *service) ReplaceRoles(ctx context.Context, roles []model.Role) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Role{}).Error; err != nil {
			return fmt.Errorf("failed to clear roles: %w", err)
		}
		if len(roles) == 0 {
			return nil
		}
		if err := tx.Create(&roles).Error; err != nil {
			return fmt.Errorf("failed to insert roles: %w", err)
		}
		return nil
	})
}

func (s *service) CreateSession(ctx context.Context, session *model.Session) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *service) FindSessionByToken(ctx context.Context, token string) (*model.Session, error) {
	var session model.Session
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &session, nil
}

// DeleteSessionByToken is idempotent; deleting a missing session is not an error.
func (s *service) DeleteSessionByToken(ctx context.Context, token string) error {
	if err := s.db.WithContext(ctx).Where("token = ?", token).Delete(&model.Session{}).Error; err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *service) DeleteExpiredSessionsBefore(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&model.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
