package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journald_query_scans_total",
		Help: "Bounded query scans by result",
	}, []string{"result"})

	entriesScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journald_query_entries_scanned_total",
		Help: "Entries read from the journal by query scans",
	})

	entriesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journald_query_entries_matched_total",
		Help: "Entries returned by query scans",
	})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "journald_query_scan_duration_seconds",
		Help:    "Bounded query scan duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	})
)
