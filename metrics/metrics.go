package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the federation engine. Registered on the default registry
// and exposed by the /metrics endpoint.
var (
	ActivitiesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wingbeat_activities_received_total",
		Help: "Number of inbound activities dispatched, by activity type.",
	}, []string{"type"})

	SignatureRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wingbeat_signature_rejections_total",
		Help: "Number of inbound requests rejected by signature verification.",
	})

	ActorsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wingbeat_actors_resolved_total",
		Help: "Number of remote actor documents fetched and persisted.",
	})

	PostsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wingbeat_posts_resolved_total",
		Help: "Number of remote posts created by the thread resolver.",
	})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wingbeat_deliveries_total",
		Help: "Number of outbound activity deliveries, by outcome.",
	}, []string{"status"})

	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wingbeat_delivery_duration_seconds",
		Help:    "Duration of outbound inbox POSTs.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)
