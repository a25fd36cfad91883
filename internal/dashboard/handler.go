// Package dashboard serves the key holder's view of their own usage: a
// cookie-session login, the usage projection, the header-authenticated stats
// endpoint and the public role status list.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"keygate/internal/access"
	"keygate/internal/auth"
	"keygate/internal/logger"
	"keygate/internal/metrics"
	"keygate/internal/model"
	"keygate/internal/policy"
	"keygate/internal/session"
	"keygate/internal/usage"

	"github.com/gin-gonic/gin"
)

// KeyInspector reads keys without admitting calls.
type KeyInspector interface {
	Lookup(ctx context.Context, presented string) (*model.APIKey, *model.Role, error)
	Usage(ctx context.Context, presented string) (*usage.Projection, error)
}

// RoleLister lists every configured role.
type RoleLister interface {
	ListRoles(ctx context.Context) ([]model.Role, error)
}

// Options configures the handler.
type Options struct {
	Path       string
	HeaderName string
	Cookie     auth.CookieOptions
	Expiry     policy.ExpiryOptions
}

type Handler struct {
	keys     KeyInspector
	roles    RoleLister
	sessions *session.Store
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewHandler(keys KeyInspector, roles RoleLister, sessions *session.Store, opts Options, m *metrics.Metrics, log *slog.Logger) *Handler {
	if opts.Path == "" {
		opts.Path = "/dashboard"
	}
	if opts.HeaderName == "" {
		opts.HeaderName = "x-api-key"
	}
	if opts.Cookie.Path == "" {
		opts.Cookie.Path = opts.Path
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		keys:     keys,
		roles:    roles,
		sessions: sessions,
		opts:     opts,
		metrics:  m,
		logger:   log.With("component", "dashboard"),
	}
}

type loginRequest struct {
	APIKey string `form:"apiKey" json:"apiKey"`
}

func (h *Handler) loginPath() string {
	return h.opts.Path + "/login"
}

// LoginPageHandler redirects holders of a valid session to the dashboard.
func (h *Handler) LoginPageHandler(c *gin.Context) {
	if apiKey := h.sessionKey(c); apiKey != "" {
		c.Redirect(http.StatusSeeOther, h.opts.Path)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": false, "login": h.loginPath()})
}

// LoginHandler exchanges an API key for a session cookie.
func (h *Handler) LoginHandler(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sessions not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil || req.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "API key is required"})
		return
	}

	ctx := c.Request.Context()
	if _, _, err := h.keys.Lookup(ctx, req.APIKey); err != nil {
		if _, ok := access.AsRejection(err); ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key. Please check your key and try again."})
			return
		}
		h.internalError(c, "Failed to look up api key", err)
		return
	}

	signed, sess, err := h.sessions.Issue(ctx, req.APIKey)
	if err != nil {
		h.internalError(c, "Failed to create session", err)
		return
	}
	h.metrics.SessionIssued()
	auth.SetSessionCookie(c, h.opts.Cookie, signed, h.sessions.Expiry())
	h.logger.Info("Dashboard login", "key_suffix", logger.KeySuffix(req.APIKey))

	if c.ContentType() == gin.MIMEJSON {
		c.JSON(http.StatusOK, gin.H{"expiresAt": sess.ExpiresAt})
		return
	}
	c.Redirect(http.StatusSeeOther, h.opts.Path)
}

// LogoutHandler destroys the session and clears the cookie.
func (h *Handler) LogoutHandler(c *gin.Context) {
	h.destroySession(c)
	c.Redirect(http.StatusSeeOther, h.loginPath())
}

// DashboardHandler returns the usage projection of the session's key, or of
// the key in the configured header when there is no session.
func (h *Handler) DashboardHandler(c *gin.Context) {
	apiKey := h.sessionKey(c)
	if apiKey == "" {
		apiKey = c.GetHeader(h.opts.HeaderName)
	}
	if apiKey == "" {
		c.Redirect(http.StatusSeeOther, h.loginPath())
		return
	}

	projection, err := h.keys.Usage(c.Request.Context(), apiKey)
	if err != nil {
		if _, ok := access.AsRejection(err); ok {
			h.destroySession(c)
			c.Redirect(http.StatusSeeOther, h.loginPath())
			return
		}
		h.internalError(c, "Failed to load usage", err)
		return
	}
	c.JSON(http.StatusOK, projection)
}

// StatsHandler reports raw usage for the key in the configured header.
func (h *Handler) StatsHandler(c *gin.Context) {
	key, role, err := h.keys.Lookup(c.Request.Context(), c.GetHeader(h.opts.HeaderName))
	if err != nil {
		if _, ok := access.AsRejection(err); ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
			return
		}
		h.internalError(c, "Failed to look up api key", err)
		return
	}

	var expiresAt any = "Api key not used yet"
	if t, ok := policy.KeyExpiry(key, h.opts.Expiry); ok {
		expiresAt = t
	}
	c.JSON(http.StatusOK, gin.H{
		"key":               key.Key,
		"role":              key.Role,
		"requestCountMonth": key.RequestCountMonth,
		"requestCountStart": key.RequestCountStart,
		"lastUsedAt":        key.LastUsedAt,
		"maxMonthlyUsage":   policy.Effective(key, role).MonthlyCap,
		"expiresAt":         expiresAt,
		"roleInfo":          usage.NewRoleInfo(role),
	})
}

// StatusHandler lists every role with its limits. It needs no authentication.
func (h *Handler) StatusHandler(c *gin.Context) {
	roles, err := h.roles.ListRoles(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to list roles", err)
		return
	}
	infos := make([]*usage.RoleInfo, 0, len(roles))
	for i := range roles {
		infos = append(infos, usage.NewRoleInfo(&roles[i]))
	}
	c.JSON(http.StatusOK, gin.H{"roles": infos, "generatedAt": time.Now().UTC()})
}

// sessionKey resolves the session cookie to an API key. Any cookie that does
// not verify is cleared.
func (h *Handler) sessionKey(c *gin.Context) string {
	signed := auth.SessionCookie(c, h.opts.Cookie)
	if signed == "" || h.sessions == nil {
		return ""
	}
	apiKey, err := h.sessions.Verify(c.Request.Context(), signed)
	if err != nil {
		if !isSessionRejection(err) {
			h.logger.Error("Failed to verify session", "error", err)
		}
		auth.ClearSessionCookie(c, h.opts.Cookie)
		return ""
	}
	return apiKey
}

func (h *Handler) destroySession(c *gin.Context) {
	if signed := auth.SessionCookie(c, h.opts.Cookie); signed != "" && h.sessions != nil {
		if err := h.sessions.Revoke(c.Request.Context(), signed); err != nil {
			h.logger.Error("Failed to revoke session", "error", err)
		} else {
			h.metrics.SessionRevoked()
		}
	}
	auth.ClearSessionCookie(c, h.opts.Cookie)
}

func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func isSessionRejection(err error) bool {
	return errors.Is(err, session.ErrMalformedToken) ||
		errors.Is(err, session.ErrSignatureMismatch) ||
		errors.Is(err, session.ErrSessionNotFound) ||
		errors.Is(err, session.ErrSessionExpired)
}
