package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts transfer attempts by result ("success" or an error code).
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bankcards_transfers_total",
			Help: "Total number of transfer attempts by result.",
		},
		[]string{"result"},
	)
	LockWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bankcards_lock_wait_seconds",
			Help:    "Time spent waiting for card locks.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2, 5},
		},
	)
	CardsIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bankcards_cards_issued_total",
			Help: "Total number of cards issued.",
		},
	)
	IssueRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bankcards_issue_retries_total",
			Help: "Card number candidates rejected as already issued.",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "code"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
