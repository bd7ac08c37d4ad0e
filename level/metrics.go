package level

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	saveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "worldhist_level_save_duration_seconds",
		Help:    "Duration of level saves",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	savedEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldhist_level_saved_entries_total",
		Help: "Total number of entries written to or deleted from worlds",
	}, []string{"kind", "op"})
)
