// Package metrics provides Prometheus metrics for the feed ingest path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedcore"

// Registry is the custom registry all feedcore metrics live on, kept separate
// from the default Go metrics.
var Registry = prometheus.NewRegistry()

var (
	FramesReceived = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Total number of raw frames read from the relay transport",
	})

	EventsReceived = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_received_total",
		Help:      "Total number of events routed to a collector, by bucket",
	}, []string{"bucket"})

	EventsMalformed = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_malformed_total",
		Help:      "Total number of events dropped because their payload failed to parse",
	})

	EventsUnroutable = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_unroutable_total",
		Help:      "Total number of frames for unknown subscription ids (late frames)",
	})

	PagesEmitted = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pages_emitted_total",
		Help:      "Total number of hydrated pages emitted on end of stream",
	})

	LiveItemsEmitted = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "live_items_emitted_total",
		Help:      "Total number of incrementally hydrated items on live subscriptions",
	})

	SubscriptionsOpened = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscriptions_opened_total",
		Help:      "Total number of subscriptions registered",
	})

	SubscriptionsClosed = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscriptions_closed_total",
		Help:      "Total number of subscriptions unregistered or completed",
	})
)
