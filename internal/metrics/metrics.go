// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ProfileCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zentro",
		Subsystem: "profile_cache",
		Name:      "hits_total",
		Help:      "Profile lookups served from the cache.",
	})

	ProfileCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zentro",
		Subsystem: "profile_cache",
		Name:      "misses_total",
		Help:      "Profile lookups that went to the database.",
	})

	ProfileCacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zentro",
		Subsystem: "profile_cache",
		Name:      "evictions_total",
		Help:      "Expired profile entries removed by the sweep.",
	})

	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zentro",
		Name:      "messages_sent_total",
		Help:      "Messages stored, by message type.",
	}, []string{"type"})

	LiveStreams = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "zentro",
		Name:      "live_streams",
		Help:      "Open live queries, by stream kind.",
	}, []string{"stream"})

	StreamFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zentro",
		Name:      "stream_failures_total",
		Help:      "Live queries that ended with an error, by stream kind.",
	}, []string{"stream"})

	PushNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zentro",
		Name:      "push_notifications_total",
		Help:      "Web Push deliveries, by result.",
	}, []string{"result"})

	PresenceSweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zentro",
		Subsystem: "presence",
		Name:      "marked_offline_total",
		Help:      "Users marked offline by the stale presence sweep.",
	})
)

func init() {
	prometheus.MustRegister(
		ProfileCacheHits,
		ProfileCacheMisses,
		ProfileCacheEvictions,
		MessagesSent,
		LiveStreams,
		StreamFailures,
		PushNotifications,
		PresenceSweeps,
	)
}

// RegisterGauge exposes fn as a gauge. It is used for values owned by
// other components, such as the number of websocket clients.
func RegisterGauge(name, help string, fn func() float64) error {
	return prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "zentro",
		Name:      name,
		Help:      help,
	}, fn))
}
