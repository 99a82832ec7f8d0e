package api

import "github.com/prometheus/client_golang/prometheus"

var httpRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fluxduct_http_requests_total",
		Help: "HTTP requests served, by route and status code.",
	},
	[]string{"route", "code"},
)

func init() {
	prometheus.MustRegister(httpRequests)
}
