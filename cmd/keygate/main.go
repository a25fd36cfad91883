package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"keygate/internal/access"
	"keygate/internal/admin"
	"keygate/internal/auth"
	"keygate/internal/config"
	"keygate/internal/dashboard"
	"keygate/internal/db"
	"keygate/internal/logger"
	"keygate/internal/metrics"
	"keygate/internal/policy"
	"keygate/internal/proxy"
	"keygate/internal/scheduler"
	"keygate/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// customRecovery is a middleware that recovers from panics and handles http.ErrAbortHandler gracefully.
func customRecovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn("Client connection aborted", "path", c.Request.URL.Path)
					c.Abort()
					return
				}

				log.Error("Panic recovered",
					"error", recovered,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// app is the wired server before it starts listening.
type app struct {
	router    *gin.Engine
	database  db.Service
	engine    *access.Engine
	sessions  *session.Store
	scheduler *scheduler.Scheduler
	closeRepo func() error
}

func (a *app) close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.closeRepo != nil {
		_ = a.closeRepo()
	}
	if a.database != nil {
		_ = a.database.Close()
	}
}

func buildApp(cfg *config.Config, log *slog.Logger, registry *prometheus.Registry) (*app, error) {
	database, err := db.NewService(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	log.Info("Database initialized", "type", cfg.Database.Type)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repo, closeRepo, err := session.OpenRepository(ctx, cfg.Session, database)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	a := &app{database: database, closeRepo: closeRepo}
	log.Info("Session store initialized", "backend", cfg.Session.Backend)

	m := metrics.New(registry)

	a.engine = access.NewEngine(database, access.Options{
		CountOnly200:          cfg.Access.CountOnlySuccess(),
		LegacyCreatedAtExpiry: cfg.Access.LegacyCreatedAtExpiry,
	}, log)

	a.sessions, err = session.New(repo, session.Options{
		Secret: cfg.Session.Secret,
		Expiry: cfg.Session.ExpiryDuration,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	if a.sessions.GeneratedSecret() {
		log.Warn("Using a generated session secret; dashboard sessions end on restart")
	}

	a.scheduler, err = scheduler.New(a.sessions, cfg.Scheduler.SessionSweep, m, log)
	if err != nil {
		a.close()
		return nil, err
	}

	router := gin.New()
	// Use our custom recovery middleware instead of the default one.
	router.Use(customRecovery(log))
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	cookie := auth.CookieOptions{
		Name:   cfg.Session.CookieName,
		Path:   cfg.Session.CookiePath,
		Secure: cfg.Session.Secure,
	}
	dashboardHandler := dashboard.NewHandler(a.engine, database, a.sessions, dashboard.Options{
		Path:       cfg.Dashboard.Path,
		HeaderName: cfg.Access.HeaderName,
		Cookie:     cookie,
		Expiry:     policy.ExpiryOptions{FromCreation: cfg.Access.LegacyCreatedAtExpiry},
	}, m, log)
	dashboard.SetupRoutes(router, dashboardHandler, cfg.Dashboard)

	admin.SetupRoutes(router, admin.NewHandler(database, a.engine, a.sessions, m, log), cfg.Admin.Password)

	gate := auth.APIKeyMiddleware(a.engine, cfg.Access.HeaderName, m, log)
	if cfg.Upstream.URL != "" {
		upstream, err := proxy.New(proxy.Options{
			Target:        cfg.Upstream.URL,
			KeyHeader:     cfg.Access.HeaderName,
			SessionCookie: cookie.Name,
			Debug:         cfg.Debug,
		}, log)
		if err != nil {
			a.close()
			return nil, err
		}
		// Everything not claimed above is gated and forwarded.
		router.NoRoute(gate, gin.WrapH(upstream))
	} else {
		log.Warn("upstream.url not set; admitted calls are answered locally")
		router.NoRoute(gate, func(c *gin.Context) {
			admission, _ := auth.AdmissionFrom(c)
			c.JSON(http.StatusOK, gin.H{
				"role":            admission.Key.Role,
				"monthlyCap":      admission.Limits.MonthlyCap,
				"requestsCounted": admission.Key.RequestCountMonth,
			})
		})
	}

	a.router = router
	return a, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Error loading .env file", "error", err)
	}

	// Load configuration
	cfg, warning, err := config.LoadConfig("config.yaml")
	if err != nil {
		// Use a temporary logger for startup errors
		slog.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	log := logger.New(cfg.Debug)
	log.Info("Logger initialized", "debug_mode", cfg.Debug)
	if warning != "" {
		log.Warn(warning)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := buildApp(cfg, log, registry)
	if err != nil {
		log.Error("Error initializing server", "error", err)
		os.Exit(1)
	}
	a.scheduler.Start()

	// Create and start the main server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: a.router,
	}

	// Graceful shutdown
	go func() {
		log.Info("Starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// In-flight requests still commit their usage before Shutdown returns.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		a.close()
		os.Exit(1)
	}
	a.close()

	log.Info("Server exiting")
}
