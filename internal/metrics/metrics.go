package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsLoaded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aodimpute_rows_loaded",
			Help: "Rows loaded per input table",
		},
		[]string{"table"},
	)

	RowsSampled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aodimpute_rows_sampled",
			Help: "Rows in the stratified training sample",
		},
	)

	RowsUnmapped = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aodimpute_rows_unmapped",
			Help: "Rows without a coarse grid group after the merge step",
		},
	)

	FoldsTrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aodimpute_folds_trained_total",
			Help: "Outer cross-validation folds trained",
		},
	)

	FoldValidationR2 = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aodimpute_fold_validation_r2",
			Help: "Validation R-squared per outer fold",
		},
		[]string{"fold"},
	)

	RowsImputed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aodimpute_rows_imputed",
			Help: "Missing-target rows imputed by the final model",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aodimpute_stage_duration_seconds",
			Help:    "Wall time per pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		},
		[]string{"stage"},
	)
)
