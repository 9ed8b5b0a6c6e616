package middleware

import (
	"net/http"
	"time"

	"github.com/walletgate/apiserver/internal/metrics"
)

// Metrics returns a middleware that records the status code and latency of
// every response.
func Metrics(collector *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			collector.RecordHTTP(rec.statusCode, time.Since(start))
		})
	}
}
