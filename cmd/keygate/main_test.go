package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"keygate/internal/config"
	"keygate/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestCustomRecovery_Panic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logBuf bytes.Buffer
	testLogger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	router := gin.New()
	router.Use(customRecovery(testLogger))
	router.GET("/", func(c *gin.Context) {
		panic("test panic")
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, logBuf.String(), "Panic recovered")
	assert.Contains(t, logBuf.String(), "test panic")
}

func TestCustomRecovery_AbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logBuf bytes.Buffer
	testLogger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	router := gin.New()
	router.Use(customRecovery(testLogger))
	router.GET("/", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	// The status code is not set when aborting, so we check the log
	assert.Contains(t, logBuf.String(), "Client connection aborted")
	assert.NotContains(t, logBuf.String(), "Panic recovered")
}

func testConfig(dsn, upstream string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Type: "sqlite", DSN: dsn},
		Admin:    config.AdminConfig{Password: "e2e-test-password"},
		Access:   config.AccessConfig{HeaderName: "x-api-key"},
		Session: config.SessionConfig{
			Secret:         "e2e-secret",
			CookieName:     "apikey_session",
			CookiePath:     "/dashboard",
			Backend:        "database",
			ExpiryDuration: time.Hour,
		},
		Dashboard: config.DashboardConfig{
			Expose: true, Path: "/dashboard",
			ExposeStats: true, StatsPath: "/api-key-stats",
			ExposeStatus: true, StatusPath: "/status",
		},
		Upstream:  config.UpstreamConfig{URL: upstream},
		Scheduler: config.SchedulerConfig{SessionSweep: "@hourly"},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a, err := buildApp(cfg, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(a.close)

	ctx := context.Background()
	require.NoError(t, a.database.UpsertRole(ctx, &model.Role{
		Name: "pro", MinIntervalSeconds: ptr(0.0), MaxMonthlyUsage: ptr(int64(2)),
	}))
	require.NoError(t, a.database.CreateAPIKeys(ctx, []model.APIKey{{Key: "k1", Role: "pro"}}))
	return a
}

func (a *app) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func TestProxyRoutesE2E(t *testing.T) {
	var seenKey, seenPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey = r.Header.Get("x-api-key")
		seenPath = r.URL.Path
		if r.URL.Path == "/v1/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	a := newTestApp(t, testConfig("file:proxy_e2e?mode=memory&cache=shared", upstream.URL))

	call := func(path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if key != "" {
			req.Header.Set("x-api-key", key)
		}
		return a.do(req)
	}

	rr := call("/v1/models", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = call("/v1/models", "k1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
	assert.Equal(t, "/v1/models", seenPath)
	assert.Empty(t, seenKey, "the gate key must not reach the upstream")

	// Upstream failures are not counted.
	rr = call("/v1/fail", "k1")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = call("/v1/models", "k1")
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := a.database.FindAPIKeyByKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.RequestCountMonth)

	rr = call("/v1/models", "k1")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), "quota_exceeded")

	// Renewal through the admin API lifts the cap.
	req := httptest.NewRequest(http.MethodPost, "/admin/keys/k1/renew", strings.NewReader(`{"additionalRequests":10}`))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("admin", "e2e-test-password")
	rr = a.do(req)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = call("/v1/models", "k1")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = a.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `keygate_admissions_total{outcome="admitted"}`)
	assert.Contains(t, rr.Body.String(), "keygate_key_renewals_total 1")
}

func TestAdminRoutesE2E(t *testing.T) {
	a := newTestApp(t, testConfig("file:admin_e2e?mode=memory&cache=shared", ""))

	rr := a.do(httptest.NewRequest(http.MethodGet, "/admin/keys", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/keys", nil)
	req.SetBasicAuth("admin", "e2e-test-password")
	rr = a.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	var keys []model.APIKey
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &keys))
	require.Len(t, keys, 1)
	assert.Equal(t, "k1", keys[0].Key)
}

func TestDashboardE2E(t *testing.T) {
	a := newTestApp(t, testConfig("file:dashboard_e2e?mode=memory&cache=shared", ""))

	req := httptest.NewRequest(http.MethodPost, "/dashboard/login", strings.NewReader(`{"apiKey":"k1"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := a.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)

	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(cookies[0])
	rr = a.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"key":"k1"`)

	rr = a.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"name":"pro"`)
}

func TestNoUpstreamAnswersLocally(t *testing.T) {
	a := newTestApp(t, testConfig("file:local_e2e?mode=memory&cache=shared", ""))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set("x-api-key", "k1")
	rr := a.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"role":"pro","monthlyCap":2,"requestsCounted":0}`, rr.Body.String())
}

func TestBuildApp_RedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig("file:redis_e2e?mode=memory&cache=shared", "")
	cfg.Session.Backend = "redis"
	cfg.Session.RedisAddr = mr.Addr()
	a := newTestApp(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/dashboard/login", strings.NewReader(`{"apiKey":"k1"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := a.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, mr.Keys(), 2)
}

func TestBuildApp_Errors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	cfg := testConfig("file:bad_upstream?mode=memory&cache=shared", "not a url")
	_, err := buildApp(cfg, log, prometheus.NewRegistry())
	assert.Error(t, err)

	cfg = testConfig("file:bad_redis?mode=memory&cache=shared", "")
	cfg.Session.Backend = "redis"
	cfg.Session.RedisAddr = "127.0.0.1:1"
	_, err = buildApp(cfg, log, prometheus.NewRegistry())
	assert.Error(t, err)

	cfg = testConfig("file:bad_cron?mode=memory&cache=shared", "")
	cfg.Scheduler.SessionSweep = "not a schedule"
	_, err = buildApp(cfg, log, prometheus.NewRegistry())
	assert.Error(t, err)
}
