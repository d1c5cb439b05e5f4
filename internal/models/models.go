package models

import (
	"database/sql"
	"time"
)

// Hyperparams holds the fixed, pre-tuned booster configuration. Values were
// tuned offline; the pipeline never searches over them.
type Hyperparams struct {
	Subsample      float64 // row bagging fraction per iteration
	Iterations     int     // boosting rounds
	MinChildWeight int     // minimum rows in a leaf
	MaxDepth       int
	Lambda         float64 // L2 regularization
	MinSplitGain   float64 // minimum loss reduction to split
	LearningRate   float64
}

func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		Subsample:      0.8,
		Iterations:     1000,
		MinChildWeight: 1,
		MaxDepth:       20,
		Lambda:         100,
		MinSplitGain:   0.8,
		LearningRate:   0.1,
	}
}

// FoldMetrics is one outer fold's training and validation scores.
type FoldMetrics struct {
	Fold      int
	TrainR2   float64
	TrainRMSE float64
	ValR2     float64
	ValRMSE   float64
}

// CVSummary is the arithmetic mean of each metric across all folds.
type CVSummary struct {
	MeanTrainR2   float64
	MeanTrainRMSE float64
	MeanValR2     float64
	MeanValRMSE   float64
}

// Run records one imputation cycle in the run-history store.
type Run struct {
	ID          int64
	StartedAt   time.Time
	DataDir     string
	Seed        int64
	Fraction    float64
	Folds       int
	ModelSelect string
	InputRows   sql.NullInt64
	SampledRows sql.NullInt64
	ImputedRows sql.NullInt64
	MeanTrainR2 sql.NullFloat64
	MeanValR2   sql.NullFloat64
	CompletedAt sql.NullTime
}
