package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"keygate/internal/access"
	"keygate/internal/db"
	"keygate/internal/keygen"
	"keygate/internal/logger"
	"keygate/internal/metrics"
	"keygate/internal/model"

	"github.com/gin-gonic/gin"
)

// Renewer extends key quotas and expirations.
type Renewer interface {
	Renew(ctx context.Context, key string, opts access.RenewalOptions) (*model.APIKey, error)
}

// Sweeper removes expired dashboard sessions.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

type Handler struct {
	db       db.Service
	renewer  Renewer
	sessions Sweeper
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewHandler(dbService db.Service, renewer Renewer, sessions Sweeper, m *metrics.Metrics, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		db:       dbService,
		renewer:  renewer,
		sessions: sessions,
		metrics:  m,
		logger:   log.With("component", "admin"),
		now:      time.Now,
	}
}

func (h *Handler) ListKeysHandler(c *gin.Context) {
	keys, err := h.db.ListAPIKeys(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list api keys", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve keys"})
		return
	}
	c.JSON(http.StatusOK, keys)
}

func (h *Handler) CreateKeysHandler(c *gin.Context) {
	var req keygen.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	keys, err := keygen.Generate(c.Request.Context(), h.db, req, h.now())
	switch {
	case errors.Is(err, keygen.ErrRoleRequired), errors.Is(err, keygen.ErrUnknownRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Failed to generate api keys", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create keys"})
		return
	}

	h.logger.Info("Generated api keys", "role", req.Role, "count", len(keys))
	c.JSON(http.StatusCreated, gin.H{"keys": keys})
}

func (h *Handler) RenewKeyHandler(c *gin.Context) {
	key := c.Param("key")
	var opts access.RenewalOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	renewed, err := h.renewer.Renew(c.Request.Context(), key, opts)
	if errors.Is(err, access.ErrInvalidArgument) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("Failed to renew api key", "key_suffix", logger.KeySuffix(key), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to renew key"})
		return
	}
	if renewed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}
	h.metrics.Renewal()
	c.JSON(http.StatusOK, renewed)
}

func (h *Handler) ListRolesHandler(c *gin.Context) {
	roles, err := h.db.ListRoles(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list roles", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve roles"})
		return
	}
	c.JSON(http.StatusOK, roles)
}

func (h *Handler) UpsertRoleHandler(c *gin.Context) {
	var role model.Role
	if err := c.ShouldBindJSON(&role); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	role.Name = strings.TrimSpace(c.Param("name"))
	if role.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Role name is required"})
		return
	}

	ctx := c.Request.Context()
	if err := h.db.UpsertRole(ctx, &role); err != nil {
		h.logger.Error("Failed to upsert role", "role", role.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save role"})
		return
	}
	stored, err := h.db.FindRole(ctx, role.Name)
	if err != nil {
		h.logger.Error("Failed to reload role", "role", role.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save role"})
		return
	}
	h.logger.Info("Role set", "role", role.Name)
	c.JSON(http.StatusOK, stored)
}

// SyncRolesHandler replaces every role with the posted array.
func (h *Handler) SyncRolesHandler(c *gin.Context) {
	var roles []model.Role
	if err := c.ShouldBindJSON(&roles); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Body must be an array of role objects"})
		return
	}
	for _, r := range roles {
		if strings.TrimSpace(r.Name) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Every role needs a name"})
			return
		}
	}
	if err := h.db.ReplaceRoles(c.Request.Context(), roles); err != nil {
		h.logger.Error("Failed to sync roles", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sync roles"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": len(roles)})
}

func (h *Handler) SweepSessionsHandler(c *gin.Context) {
	removed, err := h.sessions.Sweep(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to sweep sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sweep sessions"})
		return
	}
	h.metrics.SessionsSwept(removed)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
