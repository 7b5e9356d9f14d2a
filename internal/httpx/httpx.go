// Package httpx holds the response, error and CORS helpers shared by the
// HTTP services.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"idsimplify/pkg/apperr"
	"idsimplify/pkg/middleware"
	"idsimplify/pkg/problems"
	"idsimplify/pkg/validate"
)

const maxBody = 1 << 20

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps an apperr kind to a problem response. Unclassified errors
// are logged and reported without detail.
func WriteError(w http.ResponseWriter, r *http.Request, log *zap.SugaredLogger, err error) {
	msg := apperr.Message(err)
	switch {
	case errors.Is(err, apperr.ErrInputInvalid):
		problems.Write(w, http.StatusBadRequest, problems.InvalidInput, msg)
	case errors.Is(err, apperr.ErrForbidden):
		problems.Write(w, http.StatusForbidden, problems.Forbidden, msg)
	case errors.Is(err, apperr.ErrNotFound):
		problems.Write(w, http.StatusNotFound, problems.NotFound, msg)
	case errors.Is(err, apperr.ErrLastAdmin):
		problems.Write(w, http.StatusConflict, problems.LastAdmin, msg)
	case errors.Is(err, apperr.ErrConflict):
		problems.Write(w, http.StatusConflict, problems.Conflict, msg)
	case errors.Is(err, apperr.ErrProviderUnavailable):
		log.Errorw("provider unavailable", "path", r.URL.Path, "request_id", middleware.RequestIDFrom(r.Context()), "err", err)
		if msg == "" {
			msg = "an upstream provider is unavailable"
		}
		problems.Write(w, http.StatusInternalServerError, problems.ProviderUnavailable, msg)
	default:
		log.Errorw("request failed", "path", r.URL.Path, "request_id", middleware.RequestIDFrom(r.Context()), "err", err)
		problems.Write(w, http.StatusInternalServerError, problems.Internal, "internal error")
	}
}

// Principal returns the verified principal, answering 400 itself when there
// is none.
func Principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := middleware.PrincipalFrom(r.Context())
	if p == "" {
		problems.Write(w, http.StatusBadRequest, problems.MissingPrincipal, "no principal on request")
		return "", false
	}
	return p, true
}

// Decode reads the body, validates it against the named schema and decodes
// it into dst.
func Decode(r *http.Request, schemas *validate.Schemas, schema string, dst any) error {
	if r.Body == nil {
		return apperr.InputInvalid("request body is required")
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return apperr.InputInvalid("request body could not be read")
	}
	if len(raw) > maxBody {
		return apperr.InputInvalid("request body is too large")
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return apperr.InputInvalid("request body is required")
	}
	return schemas.Decode(raw, schema, dst)
}

// CORS answers preflights with 204 and decorates every response. allowed is
// a comma-separated origin list; "*" allows any origin.
func CORS(allowed string) func(http.Handler) http.Handler {
	var origins []string
	for _, p := range strings.Split(allowed, ",") {
		if s := strings.TrimSpace(p); s != "" {
			origins = append(origins, s)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	match := func(origin string) (string, bool) {
		for _, a := range origins {
			if a == "*" {
				return "*", true
			}
			if origin != "" && a == origin {
				return a, true
			}
		}
		return "", false
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ao, ok := match(r.Header.Get("Origin")); ok {
				w.Header().Set("Access-Control-Allow-Origin", ao)
				if ao != "*" {
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+middleware.PrincipalHeader)
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Health is the liveness handler mounted at /healthz.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}
