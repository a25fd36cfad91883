package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CookieOptions describes the dashboard session cookie.
type CookieOptions struct {
	Name   string
	Path   string
	Secure bool
}

func (o CookieOptions) name() string {
	if o.Name == "" {
		return "apikey_session"
	}
	return o.Name
}

func (o CookieOptions) path() string {
	if o.Path == "" {
		return "/"
	}
	return o.Path
}

// SetSessionCookie hands the signed session token to the client.
func SetSessionCookie(c *gin.Context, opts CookieOptions, signed string, maxAge time.Duration) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(opts.name(), signed, int(maxAge.Seconds()), opts.path(), "", opts.Secure, true)
}

// ClearSessionCookie expires the session cookie on the client.
func ClearSessionCookie(c *gin.Context, opts CookieOptions) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(opts.name(), "", -1, opts.path(), "", opts.Secure, true)
}

// SessionCookie returns the signed token presented by the client, if any.
func SessionCookie(c *gin.Context, opts CookieOptions) string {
	value, err := c.Cookie(opts.name())
	if err != nil {
		return ""
	}
	return value
}
