package demo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	playRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bandfront_play_requests_total",
		Help: "Play requests by result (cache_hit, generated, source, not_found).",
	}, []string{"result"})

	truncationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bandfront_truncations_total",
		Help: "Demo truncations by outcome.",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bandfront_fetch_duration_seconds",
		Help:    "Time spent fetching source audio into the cache.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 240},
	})

	validityHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bandfront_validity_cache_hits_total",
		Help: "Demo validity checks answered from memory.",
	})
	validityMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bandfront_validity_cache_misses_total",
		Help: "Demo validity checks that sniffed the file.",
	})
)
