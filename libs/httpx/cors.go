package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy defines the CORS headers to emit for matching origins.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type corsHandler struct {
	next             http.Handler
	origins          []string
	methods          string
	headers          string
	allowCredentials bool
	maxAge           string
}

// WithCORS adds CORS handling for the configured origins. With no usable
// origins it is a no-op, so an unset env var costs nothing.
func WithCORS(cfg CORSPolicy) Middleware {
	origins := normalizeList(cfg.AllowedOrigins)
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	var maxAge string
	if s := int(cfg.MaxAge.Seconds()); s > 0 {
		maxAge = strconv.Itoa(s)
	}
	return func(next http.Handler) http.Handler {
		return &corsHandler{
			next:             next,
			origins:          origins,
			methods:          strings.Join(normalizeList(cfg.AllowedMethods), ", "),
			headers:          strings.Join(normalizeList(cfg.AllowedHeaders), ", "),
			allowCredentials: cfg.AllowCredentials,
			maxAge:           maxAge,
		}
	}
}

func (c *corsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		c.next.ServeHTTP(w, r)
		return
	}
	allowOrigin, ok := c.matchOrigin(origin)
	if !ok {
		c.next.ServeHTTP(w, r)
		return
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", allowOrigin)
	if c.allowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if c.methods != "" {
		h.Set("Access-Control-Allow-Methods", c.methods)
	}
	if c.headers != "" {
		h.Set("Access-Control-Allow-Headers", c.headers)
	}
	if c.maxAge != "" {
		h.Set("Access-Control-Max-Age", c.maxAge)
	}
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	c.next.ServeHTTP(w, r)
}

// matchOrigin returns the Allow-Origin value for origin. "*" stays literal
// unless credentials are allowed; browsers reject a credentialed wildcard,
// so the concrete origin is echoed instead.
func (c *corsHandler) matchOrigin(origin string) (string, bool) {
	for _, candidate := range c.origins {
		if candidate == "*" {
			if c.allowCredentials {
				return origin, true
			}
			return "*", true
		}
		if strings.EqualFold(candidate, origin) {
			return origin, true
		}
	}
	return "", false
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
