// Package proxy forwards admitted calls to the protected upstream service.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

// Options configures an Upstream.
type Options struct {
	// Target is the base URL of the protected service. Its path is
	// prepended to every forwarded path.
	Target string
	// KeyHeader and SessionCookie are removed before forwarding so
	// credentials for this gate never reach the upstream.
	KeyHeader     string
	SessionCookie string
	Debug         bool
}

type Upstream struct {
	reverseProxy  *httputil.ReverseProxy
	targetURL     *url.URL
	keyHeader     string
	sessionCookie string
	debug         bool
	logger        *slog.Logger
}

// New creates an Upstream forwarding to opts.Target.
func New(opts Options, logger *slog.Logger) (*Upstream, error) {
	if opts.Target == "" {
		return nil, errors.New("upstream url is required")
	}
	targetURL, err := url.Parse(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if targetURL.Scheme == "" || targetURL.Host == "" {
		return nil, fmt.Errorf("invalid upstream url: %q needs a scheme and host", opts.Target)
	}
	if logger == nil {
		logger = slog.Default()
	}

	u := &Upstream{
		targetURL:     targetURL,
		keyHeader:     opts.KeyHeader,
		sessionCookie: opts.SessionCookie,
		debug:         opts.Debug,
		logger:        logger.With("component", "proxy"),
	}
	u.reverseProxy = &httputil.ReverseProxy{
		Director: u.direct,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrAbortHandler) {
				u.logger.Warn("Client disconnected", "error", err)
				return
			}
			u.logger.Error("Proxy error", "error", err)
			http.Error(w, "Proxy Error", http.StatusBadGateway)
		},
	}
	return u, nil
}

func (u *Upstream) direct(req *http.Request) {
	req.URL.Scheme = u.targetURL.Scheme
	req.URL.Host = u.targetURL.Host
	req.Host = u.targetURL.Host
	req.URL.Path = joinPath(u.targetURL.Path, req.URL.Path)
	req.URL.RawPath = ""
	if u.targetURL.RawQuery != "" {
		if req.URL.RawQuery == "" {
			req.URL.RawQuery = u.targetURL.RawQuery
		} else {
			req.URL.RawQuery = u.targetURL.RawQuery + "&" + req.URL.RawQuery
		}
	}

	if u.keyHeader != "" {
		req.Header.Del(u.keyHeader)
	}
	if u.sessionCookie != "" {
		stripCookie(req, u.sessionCookie)
	}

	if u.debug {
		u.logger.Debug("Proxying request", "method", req.Method, "path", req.URL.Path)
	}
}

func (u *Upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.reverseProxy.ServeHTTP(w, r)
}

func joinPath(base, path string) string {
	if base == "" || base == "/" {
		return path
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// stripCookie rewrites the Cookie header without the named cookie.
func stripCookie(req *http.Request, name string) {
	cookies := req.Cookies()
	req.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name != name {
			req.AddCookie(c)
		}
	}
}
