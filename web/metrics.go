package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bookfed_rate_limited_requests_total",
	Help: "Requests rejected by the per-IP rate limiter.",
}, []string{"path"})
