package gateway

import "github.com/prometheus/client_golang/prometheus"

var (
	gatewaySessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spidergroup_gateway_sessions",
		Help: "Number of open selection sessions.",
	})
	gatewaySessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spidergroup_gateway_sessions_expired_total",
		Help: "Number of sessions closed after being idle.",
	})
	gatewayStreamsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spidergroup_gateway_streams_dropped_total",
		Help: "Number of event streams closed because the client fell behind.",
	})
)

func init() {
	prometheus.MustRegister(gatewaySessions, gatewaySessionsExpired, gatewayStreamsDropped)
}
