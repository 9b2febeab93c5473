// Package metrics exposes Prometheus collectors for the form engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formvault_transitions_total",
		Help: "Applied lifecycle transitions by form type and target state.",
	}, []string{"form_type", "target"})

	TransitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formvault_transitions_rejected_total",
		Help: "Rejected lifecycle transitions by reason.",
	}, []string{"form_type", "reason"})

	DualStoreReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formvault_dualstore_reads_total",
		Help: "Read-by-id reconciliation outcomes by winning backend.",
	}, []string{"winner"})

	DegradedReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formvault_dualstore_degraded_reads_total",
		Help: "Reads served while one backend was unavailable.",
	}, []string{"backend"})

	RelocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formvault_relocations_total",
		Help: "Single-form relocation outcomes.",
	}, []string{"outcome"})

	SnapshotFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formvault_snapshot_failures_total",
		Help: "Failed submission snapshot appends.",
	})
)
