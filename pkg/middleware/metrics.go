// pkg/middleware/metrics.go
package middleware

import (
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"idsimplify/pkg/metrics"
)

// Metrics records request counts and latency by chi route pattern. With
// DEBUG_DOUBLE_WRITE=1 (or true/yes) it also logs a stack trace when a
// handler calls WriteHeader twice.
func Metrics(service string, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	v := strings.ToLower(os.Getenv("DEBUG_DOUBLE_WRITE"))
	debugWrites := strings.HasPrefix(v, "1") || strings.HasPrefix(v, "t") || strings.HasPrefix(v, "y")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, r: r, log: log, debug: debugWrites}
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			code := rec.code
			if code == 0 {
				code = http.StatusOK
			}
			metrics.HTTPRequests.WithLabelValues(service, route, r.Method, strconv.Itoa(code)).Inc()
			metrics.HTTPDuration.WithLabelValues(service, route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	r     *http.Request
	log   *zap.SugaredLogger
	debug bool
	wrote int32
	code  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if atomic.CompareAndSwapInt32(&s.wrote, 0, 1) {
		s.code = code
		s.ResponseWriter.WriteHeader(code)
		return
	}
	if s.debug && s.log != nil {
		s.log.Warnw("double WriteHeader", "method", s.r.Method, "path", s.r.URL.Path, "first", s.code, "second", code, "stack", string(debug.Stack()))
	}
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if atomic.LoadInt32(&s.wrote) == 0 {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}
