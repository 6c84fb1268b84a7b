package waiter

import "github.com/prometheus/client_golang/prometheus"

var describeCallsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "rsbulk_describe_calls_total",
		Help: "Total number of statement describe calls issued while polling.",
	},
)

func init() {
	prometheus.MustRegister(describeCallsTotal)
}
