package pipeline

import (
	"fmt"

	"github.com/YuminosukeSato/scigo/sklearn/lightgbm"

	"github.com/airml/aodimpute/internal/dataset"
	"github.com/airml/aodimpute/internal/metrics"
)

// Imputer applies the selected fold model to a table of records whose
// target values are missing.
type Imputer struct {
	predictor *lightgbm.Predictor
	features  []string
	outColumn string
}

func NewImputer(predictor *lightgbm.Predictor, features []string, outColumn string) *Imputer {
	return &Imputer{predictor: predictor, features: features, outColumn: outColumn}
}

// Impute appends the predicted-target column to t. Every training feature
// must be present; a missing column aborts before prediction is invoked,
// since predicting over a silently subsetted matrix would be meaningless.
func (im *Imputer) Impute(t *dataset.Table) error {
	var missing []string
	for _, name := range im.features {
		if !t.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", dataset.ErrMissingColumn, missing)
	}

	x, err := t.Matrix(im.features)
	if err != nil {
		return err
	}
	pred, err := im.predictor.Predict(x)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}

	vals := make([]string, t.Len())
	for i := range vals {
		vals[i] = formatFloat(pred.At(i, 0))
	}
	if err := t.AppendColumn(im.outColumn, vals); err != nil {
		return err
	}
	metrics.RowsImputed.Set(float64(t.Len()))
	return nil
}
