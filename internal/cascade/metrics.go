package cascade

import "github.com/prometheus/client_golang/prometheus"

var (
	cascadeFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spidergroup_cascade_fetch_total",
			Help: "Number of inventory fetches issued, by target field.",
		},
		[]string{"field"},
	)
	cascadeFetchErrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spidergroup_cascade_fetch_error_total",
			Help: "Number of inventory fetches that failed, by target field and error kind.",
		},
		[]string{"field", "kind"},
	)
	cascadeStaleDiscardTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spidergroup_cascade_stale_discard_total",
			Help: "Number of fetch results discarded because the selection changed meanwhile.",
		},
		[]string{"field"},
	)
	cascadeFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spidergroup_cascade_fetch_duration_seconds",
			Help:    "Time taken by inventory fetches.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"field"},
	)
)

func init() {
	prometheus.MustRegister(
		cascadeFetchTotal,
		cascadeFetchErrorTotal,
		cascadeStaleDiscardTotal,
		cascadeFetchDuration,
	)
}
