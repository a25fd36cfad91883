package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DatabaseConfig holds the database connection information.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// AdminConfig holds configuration for the admin API.
type AdminConfig struct {
	Password string `yaml:"password"`
}

// AccessConfig holds the settings consumed by the validation engine.
type AccessConfig struct {
	HeaderName string `yaml:"header_name"`
	// CountOnly200 is a pointer so an explicit false in YAML survives defaulting.
	CountOnly200 *bool `yaml:"count_only_200"`
	// LegacyCreatedAtExpiry measures daysValid from createdAt for keys that
	// have never been used and carry no per-key quota.
	LegacyCreatedAtExpiry bool `yaml:"legacy_created_at_expiry"`
}

// SessionConfig holds configuration for dashboard login sessions.
type SessionConfig struct {
	Secret     string `yaml:"secret"`
	Expiry     string `yaml:"expiry"`
	CookieName string `yaml:"cookie_name"`
	CookiePath string `yaml:"cookie_path"`
	Secure     bool   `yaml:"secure"`
	// Backend is "database" or "redis".
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`

	ExpiryDuration time.Duration `yaml:"-"`
}

// DashboardConfig controls the dashboard, stats and status endpoints.
type DashboardConfig struct {
	Expose       bool   `yaml:"expose"`
	Path         string `yaml:"path"`
	ExposeStats  bool   `yaml:"expose_stats"`
	StatsPath    string `yaml:"stats_path"`
	ExposeStatus bool   `yaml:"expose_status"`
	StatusPath   string `yaml:"status_path"`
}

// UpstreamConfig points at the API protected by the gate.
type UpstreamConfig struct {
	URL string `yaml:"url"`
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	SessionSweep string `yaml:"session_sweep"`
}

// Config holds the configuration for the gate.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Admin     AdminConfig     `yaml:"admin"`
	Access    AccessConfig    `yaml:"access"`
	Session   SessionConfig   `yaml:"session"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Port      int             `yaml:"port"`
	Debug     bool            `yaml:"debug"`
}

// CountOnlySuccess reports whether only 200 responses are counted against the quota.
func (a AccessConfig) CountOnlySuccess() bool {
	return a.CountOnly200 == nil || *a.CountOnly200
}

// LoadConfig reads and parses the configuration file. It returns the config and a potential warning message.
var LoadConfig = func(path string) (*Config, string, error) {
	var config Config
	var warnings []string

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, "", fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	// A missing file is fine; environment variables may carry everything.

	applyEnv(&config)

	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Access.HeaderName == "" {
		config.Access.HeaderName = "x-api-key"
	}
	if config.Dashboard.Path == "" {
		config.Dashboard.Path = "/dashboard"
	}
	if config.Dashboard.StatsPath == "" {
		config.Dashboard.StatsPath = "/api-key-stats"
	}
	if config.Dashboard.StatusPath == "" {
		config.Dashboard.StatusPath = "/status"
	}
	if config.Session.CookieName == "" {
		config.Session.CookieName = "apikey_session"
	}
	if config.Session.CookiePath == "" {
		config.Session.CookiePath = config.Dashboard.Path
	}
	if config.Session.Backend == "" {
		config.Session.Backend = "database"
	}
	if config.Scheduler.SessionSweep == "" {
		config.Scheduler.SessionSweep = "@hourly"
	}
	if config.Session.Expiry == "" {
		config.Session.Expiry = "24h"
	}
	config.Session.ExpiryDuration, err = time.ParseDuration(config.Session.Expiry)
	if err != nil || config.Session.ExpiryDuration <= 0 {
		return nil, "", fmt.Errorf("invalid session.expiry %q", config.Session.Expiry)
	}
	if config.Session.Secret == "" {
		warnings = append(warnings, "session.secret not set, sessions will not survive a restart")
	}

	if config.Database.Type == "" || config.Database.DSN == "" {
		return nil, "", fmt.Errorf("database type and dsn must be configured in config.yaml or via environment variables")
	}
	switch config.Session.Backend {
	case "database":
	case "redis":
		if config.Session.RedisAddr == "" {
			return nil, "", fmt.Errorf("session.redis_addr is required for the redis session backend")
		}
	default:
		return nil, "", fmt.Errorf("unsupported session backend: %s", config.Session.Backend)
	}

	return &config, strings.Join(warnings, "; "), nil
}

func applyEnv(config *Config) {
	if dsn := os.Getenv("KEYGATE_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dbType := os.Getenv("KEYGATE_DATABASE_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if port := os.Getenv("KEYGATE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if password := os.Getenv("KEYGATE_ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	if secret := os.Getenv("KEYGATE_SESSION_SECRET"); secret != "" {
		config.Session.Secret = secret
	}
	if addr := os.Getenv("KEYGATE_REDIS_ADDR"); addr != "" {
		config.Session.RedisAddr = addr
	}
	if upstream := os.Getenv("KEYGATE_UPSTREAM_URL"); upstream != "" {
		config.Upstream.URL = upstream
	}
	if debug := os.Getenv("KEYGATE_DEBUG"); debug != "" {
		config.Debug = (debug == "true")
	}
}
