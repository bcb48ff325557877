package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// otherRoute labels requests for paths outside the known routes.
const otherRoute = "other"

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the operational endpoints (health checks and
// /metrics). Each request is timed into [Metrics.HTTPRequestDuration]
// labelled with its route and status class. Paths not listed in routes are
// folded into "other" so port scanners cannot grow the label set.
//
// Health checks fire continuously, so successful requests are logged at debug.
// Failed ones are logged at warn: a 503 from /readyz means the history
// store is unreachable or the client is shutting down.
func Middleware(m *Metrics, routes ...string) func(http.Handler) http.Handler {
	known := make(map[string]bool, len(routes))
	for _, r := range routes {
		known[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			elapsed := time.Since(start)

			route := r.URL.Path
			if !known[route] {
				route = otherRoute
			}
			m.HTTPRequestDuration.Record(r.Context(), elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("route", route),
					attribute.String("status", statusClass(sw.status)),
				),
			)

			level := slog.LevelDebug
			if sw.status >= http.StatusBadRequest {
				level = slog.LevelWarn
			}
			Logger(r.Context()).LogAttrs(r.Context(), level, "operational request",
				slog.String("route", route),
				slog.Int("status", sw.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}

// statusClass maps 503 to "5xx".
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
