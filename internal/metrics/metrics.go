package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scans counts finished scans by outcome: matched, unmatched, no_face, error.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_scans_total",
		Help: "Verification scans by outcome.",
	}, []string{"outcome"})

	// ScanDuration observes the wall time of a full scan.
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_scan_duration_seconds",
		Help:    "Duration of verification scans.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	})

	// CandidateFailures counts reference images the face service could not evaluate.
	CandidateFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_candidate_failures_total",
		Help: "Per-reference verification failures.",
	})

	// EmbeddingCache counts cache lookups by result: hit, miss, error.
	EmbeddingCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_embedding_cache_total",
		Help: "Embedding cache lookups.",
	}, []string{"result"})

	// Records counts attendance writes.
	Records = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_records_total",
		Help: "Attendance entries written.",
	})
)
