package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"

	"libris/internal/config"
	"libris/internal/domain"
	"libris/internal/models"
)

const (
	headerAccountID = "X-Account-ID"
	headerRole      = "X-Role"
)

// Caller is the authenticated principal of a request.
type Caller struct {
	AccountID  int64
	Name       string
	Privileged bool
}

type callerKey struct{}

func withCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller stored by the auth middleware.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// HTTPAuth resolves the caller from API-key headers and applies per-client
// rate limiting.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m, limiter: newRateLimiter(cfg.RateLimit)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if !a.limiter.Allow(a.clientKey(r, caller)) {
			writeError(w, r, domain.New(domain.CodeRateLimited, "rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
	})
}

func (a *HTTPAuth) authenticate(r *http.Request) (Caller, error) {
	if !a.cfg.Auth.Enabled {
		return a.trustedCaller(r)
	}

	apiKey := strings.TrimSpace(r.Header.Get(a.header(a.cfg.Auth.HeaderAPIKey, "x-api-key")))
	extra := strings.TrimSpace(r.Header.Get(a.header(a.cfg.Auth.HeaderExtra, "x-api-extra")))
	if apiKey == "" || extra == "" {
		return Caller{}, domain.New(domain.CodeUnauthorized, "missing api key headers")
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return Caller{}, domain.New(domain.CodeUnauthorized, "invalid api key")
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return Caller{}, domain.New(domain.CodeUnauthorized, "invalid extra header")
	}

	return Caller{
		AccountID:  client.AccountID,
		Name:       client.Name,
		Privileged: client.Role == models.RoleAdmin,
	}, nil
}

// trustedCaller reads the identity headers as-is. Only for local runs with
// auth disabled.
func (a *HTTPAuth) trustedCaller(r *http.Request) (Caller, error) {
	raw := strings.TrimSpace(r.Header.Get(headerAccountID))
	if raw == "" {
		return Caller{}, domain.New(domain.CodeUnauthorized, "X-Account-ID header is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Caller{}, domain.New(domain.CodeUnauthorized, "X-Account-ID must be a positive integer")
	}
	role := strings.ToLower(strings.TrimSpace(r.Header.Get(headerRole)))
	return Caller{AccountID: id, Privileged: role == models.RoleAdmin}, nil
}

func (a *HTTPAuth) header(configured, fallback string) string {
	h := strings.TrimSpace(strings.ToLower(configured))
	if h == "" {
		return fallback
	}
	return h
}

func (a *HTTPAuth) clientKey(r *http.Request, caller Caller) string {
	if a.cfg.Auth.Enabled {
		if apiKey := strings.TrimSpace(r.Header.Get(a.header(a.cfg.Auth.HeaderAPIKey, "x-api-key"))); apiKey != "" {
			return apiKey
		}
	}
	if caller.AccountID != 0 {
		return "account:" + strconv.FormatInt(caller.AccountID, 10)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}
