package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/metrics"
)

// requestLogger logs one line per request and records its latency by route
// pattern.
func requestLogger(log *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			m.ObserveRequest(r.Method, route, strconv.Itoa(status), elapsed.Seconds())

			log.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("user_id", userID(r)),
				zap.Duration("elapsed", elapsed))
		})
	}
}

// requireUser rejects requests without a caller identity.
func (h *Handlers) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID(r) == "" {
			h.writeError(w, http.StatusUnauthorized, "Unauthenticated", UserHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireStaff admits only callers the role directory lists as admin or
// arbitrator.
func (h *Handlers) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, err := h.users.GetRole(r.Context(), userID(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !role.Staff() {
			h.writeError(w, http.StatusForbidden, "Unauthorized", "staff role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
