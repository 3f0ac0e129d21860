package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters on the request path. No exposition endpoint is wired here; an
// embedding process can gather the default registry.
var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jadegate_calls_total",
		Help: "Tool calls evaluated, by verdict.",
	}, []string{"verdict"})

	anomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jadegate_anomalies_total",
		Help: "Call-graph anomalies detected, by kind.",
	}, []string{"kind"})

	upstreamErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jadegate_upstream_errors_total",
		Help: "Synthesized upstream failure responses.",
	})
)
