package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/observability"
)

// RequestLog records method, route, status and duration of every request in
// the log and in the HTTP metrics. Routes are labelled by chi pattern so ids
// do not explode cardinality.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.HTTPRequests().WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		observability.HTTPLatency().WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		logger.LogDuration("http "+r.Method+" "+route+" "+strconv.Itoa(status), start)
	})
}
