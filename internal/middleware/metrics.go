package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-vms-monitor/internal/metrics"
)

// Metrics counts requests per chi route pattern, so ids in the path do not
// become labels. Unmatched paths are counted as "unmatched".
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		metrics.RecordStatusRequest(route, rw.status)
	})
}
