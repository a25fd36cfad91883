package auth

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"keygate/internal/access"
	"keygate/internal/logger"
	"keygate/internal/metrics"

	"github.com/gin-gonic/gin"
)

// admissionContextKey holds the *access.Admission of the current request.
const admissionContextKey = "keygate.admission"

// commitTimeout bounds the usage write after the response is written.
const commitTimeout = 5 * time.Second

// Admitter decides whether a presented key may proceed.
type Admitter interface {
	Admit(ctx context.Context, presented string) (*access.Admission, error)
}

// APIKeyMiddleware gates a route group on the key in header. Admitted calls
// are committed after the handler chain has written its response. The commit
// is detached from the request context: a client that disconnects once it
// has its response is still counted.
func APIKeyMiddleware(engine Admitter, header string, m *metrics.Metrics, log *slog.Logger) gin.HandlerFunc {
	if header == "" {
		header = "x-api-key"
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "auth")

	return func(c *gin.Context) {
		presented := c.GetHeader(header)

		admission, err := engine.Admit(c.Request.Context(), presented)
		if err != nil {
			if rej, ok := access.AsRejection(err); ok {
				m.Admission(string(rej.Kind))
				AbortWithRejection(c, rej)
				return
			}
			m.Admission(metrics.OutcomeError)
			log.Error("Admission failed", "key_suffix", logger.KeySuffix(presented), "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		m.Admission(metrics.OutcomeAdmitted)

		c.Set(admissionContextKey, admission)
		c.Next()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), commitTimeout)
		counted, err := admission.Commit(ctx, c.Writer.Status())
		cancel()
		switch {
		case err != nil:
			m.Commit(metrics.CommitFailed)
			log.Error("Failed to record usage", "key_suffix", logger.KeySuffix(presented), "error", err)
		case counted:
			m.Commit(metrics.CommitCounted)
		default:
			m.Commit(metrics.CommitSkipped)
		}
	}
}

// AbortWithRejection writes rej as the response body and stops the chain.
func AbortWithRejection(c *gin.Context, rej *access.Rejection) {
	body := gin.H{"error": rej.Message, "code": rej.Kind}
	if rej.Kind == access.KindTooFrequent {
		body["required_interval_seconds"] = rej.RequiredInterval
	}
	c.AbortWithStatusJSON(rej.Status(), body)
}

// AdmissionFrom returns the admission stored by APIKeyMiddleware.
func AdmissionFrom(c *gin.Context) (*access.Admission, bool) {
	v, ok := c.Get(admissionContextKey)
	if !ok {
		return nil, false
	}
	admission, ok := v.(*access.Admission)
	return admission, ok
}

// RequireRoles lets through only admitted keys whose role is one of roles.
// It must run after APIKeyMiddleware.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		admission, ok := AdmissionFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key not authenticated"})
			return
		}
		if !slices.Contains(roles, admission.Key.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient role for this endpoint"})
			return
		}
		c.Next()
	}
}

func AdminAuthMiddleware(adminPassword string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, password, hasAuth := c.Request.BasicAuth()
		if adminPassword == "" || !hasAuth || user != "admin" || password != adminPassword {
			c.Header("WWW-Authenticate", `Basic realm="Restricted"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
