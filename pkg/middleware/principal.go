// pkg/middleware/principal.go
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"idsimplify/pkg/config"
	"idsimplify/pkg/problems"
)

// PrincipalHeader carries the authorizer-verified principal when no JWKS is
// configured (behind an API gateway authorizer, or in dev).
const PrincipalHeader = "X-Principal-Id"

type principalCtxKey struct{}

// WithPrincipal stores the verified principal id in ctx.
func WithPrincipal(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, id)
}

// PrincipalFrom returns the principal id stored by Principal, or "".
func PrincipalFrom(ctx context.Context) string {
	s, _ := ctx.Value(principalCtxKey{}).(string)
	return s
}

// keySets returns the configured JWKS. jwk.Cache refreshes it in its own
// goroutine; no request waits on a refresh once the first fetch is done.
type keySets func(ctx context.Context) (jwk.Set, error)

func newKeySets(url string, refresh time.Duration) keySets {
	cache := jwk.NewCache(context.Background())
	if err := cache.Register(url, jwk.WithRefreshInterval(refresh)); err != nil {
		return func(context.Context) (jwk.Set, error) { return nil, err }
	}
	return func(ctx context.Context) (jwk.Set, error) { return cache.Get(ctx, url) }
}

func public(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	switch r.URL.Path {
	case "/healthz", "/metrics", "/openapi.json":
		return true
	}
	return false
}

// Principal resolves the caller's principal id. With a JWKS URL configured
// it verifies the bearer token and uses its "sub"; otherwise it trusts
// PrincipalHeader. A missing principal is a 400, a bad token a 401. The
// request body is never consulted.
func Principal(cfg config.Config) func(http.Handler) http.Handler {
	var keys keySets
	if cfg.JWKSURL != "" {
		keys = newKeySets(cfg.JWKSURL, 6*time.Hour)
	}
	issuer := strings.TrimRight(cfg.Issuer, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public(r) {
				next.ServeHTTP(w, r)
				return
			}
			if cfg.JWKSURL == "" {
				id := strings.TrimSpace(r.Header.Get(PrincipalHeader))
				if id == "" {
					problems.Write(w, http.StatusBadRequest, problems.MissingPrincipal, "principal is required")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), id)))
				return
			}

			authz := r.Header.Get("Authorization")
			if strings.TrimSpace(authz) == "" {
				problems.Write(w, http.StatusBadRequest, problems.MissingPrincipal, "principal is required")
				return
			}
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				problems.Write(w, http.StatusUnauthorized, problems.Unauthenticated, "missing bearer")
				return
			}
			raw := strings.TrimSpace(authz[len("Bearer "):])

			set, err := keys(r.Context())
			if err != nil {
				problems.Write(w, http.StatusInternalServerError, problems.Internal, "")
				return
			}
			parseOpts := []jwt.ParseOption{jwt.WithKeySet(set), jwt.WithValidate(true), jwt.WithVerify(true), jwt.WithAcceptableSkew(cfg.ClockSkew)}
			if issuer != "" {
				parseOpts = append(parseOpts, jwt.WithIssuer(issuer))
			}
			if cfg.Audience != "" {
				parseOpts = append(parseOpts, jwt.WithAudience(cfg.Audience))
			}
			jt, perr := jwt.Parse([]byte(raw), parseOpts...)
			if perr != nil {
				problems.Write(w, http.StatusUnauthorized, problems.Unauthenticated, "invalid token")
				return
			}
			if jt.Subject() == "" {
				problems.Write(w, http.StatusBadRequest, problems.MissingPrincipal, "token has no subject")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), jt.Subject())))
		})
	}
}
