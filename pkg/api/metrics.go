package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stacklok/localghost/pkg/metrics"
)

// MetricsRouter serves GET /metrics in the Prometheus exposition format, a
// public endpoint carrying only aggregate grant/deny counters (SPEC_FULL.md
// §4 SUPPLEMENTED FEATURES).
func MetricsRouter() http.Handler {
	return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
}
