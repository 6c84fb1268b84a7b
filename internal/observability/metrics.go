package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var metricsScrapesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "rsbulk_metrics_scrapes_total",
		Help: "Total number of metrics endpoint requests.",
	},
)

func init() {
	prometheus.MustRegister(metricsScrapesTotal)
}

// MetricsHandler serves the default registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	next := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metricsScrapesTotal.Inc()
		next.ServeHTTP(w, r)
	})
}
