package activitypub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inboxRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookfed_inbox_requests_total",
		Help: "Inbound activities by type and response status.",
	}, []string{"type", "status"})

	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookfed_deliveries_total",
		Help: "Outbound deliveries by result.",
	}, []string{"result"})

	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookfed_cache_requests_total",
		Help: "In-memory cache lookups by cache and result.",
	}, []string{"cache", "result"})

	actorFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookfed_actor_fetches_total",
		Help: "Remote actor document fetches by result.",
	}, []string{"result"})
)
