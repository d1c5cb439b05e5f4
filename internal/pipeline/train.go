package pipeline

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	scimetrics "github.com/YuminosukeSato/scigo/metrics"
	"github.com/YuminosukeSato/scigo/sklearn/lightgbm"
	"gonum.org/v1/gonum/mat"

	"github.com/airml/aodimpute/internal/dataset"
	"github.com/airml/aodimpute/internal/metrics"
	"github.com/airml/aodimpute/internal/models"
)

// ErrEmptyPartition reports a fold whose train or validation partition has
// no rows; fitting on it would produce a degenerate model.
var ErrEmptyPartition = errors.New("empty fold partition")

// Model selection policies for the artifact handed to the imputer.
const (
	SelectLast = "last" // model from the final fold processed
	SelectBest = "best" // model with the highest validation R-squared
)

type TrainConfig struct {
	Features    []string
	Target      string
	DateColumn  string
	FineColumn  string
	Seed        int64
	Workers     int // booster worker threads
	ModelSelect string
	OutputDir   string // per-fold artifact directory
}

type Trainer struct {
	cfg TrainConfig
	hp  models.Hyperparams
}

func NewTrainer(cfg TrainConfig, hp models.Hyperparams) *Trainer {
	return &Trainer{cfg: cfg, hp: hp}
}

// TrainResult is the outcome of the outer cross-validation loop.
type TrainResult struct {
	Folds        []models.FoldMetrics
	Summary      models.CVSummary
	Predictor    *lightgbm.Predictor // artifact selected by ModelSelect
	SelectedFold int
}

// Run fits one booster per fold, strictly sequentially, writing the three
// per-fold artifacts (feature importances, train predictions, validation
// predictions) under OutputDir. Fold artifacts are keyed by fold index and
// never overwritten by another fold.
func (tr *Trainer) Run(t *dataset.Table, folds []Fold) (*TrainResult, error) {
	required := make([]string, 0, len(tr.cfg.Features)+3)
	required = append(required, tr.cfg.Features...)
	required = append(required, tr.cfg.Target, tr.cfg.DateColumn, tr.cfg.FineColumn)
	var missing []string
	for _, name := range required {
		if !t.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", dataset.ErrMissingColumn, missing)
	}

	result := &TrainResult{}
	predictors := make([]*lightgbm.Predictor, 0, len(folds))

	for i, fold := range folds {
		n := i + 1
		if len(fold.Train) == 0 || len(fold.Val) == 0 {
			return nil, fmt.Errorf("fold %d: %w", n, ErrEmptyPartition)
		}

		trainTab, err := t.Select(fold.Train)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}
		valTab, err := t.Select(fold.Val)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}

		xTrn, err := trainTab.Matrix(tr.cfg.Features)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}
		yTrn, err := trainTab.TargetVector(tr.cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}
		xVal, err := valTab.Matrix(tr.cfg.Features)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}
		yVal, err := valTab.TargetVector(tr.cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}

		booster := lightgbm.NewTrainer(tr.params())
		if err := booster.Fit(xTrn, yTrn); err != nil {
			return nil, fmt.Errorf("fold %d: fit: %w", n, err)
		}
		model := booster.GetModel()

		predictor := lightgbm.NewPredictor(model)
		if tr.cfg.Workers > 0 {
			predictor.SetNumThreads(tr.cfg.Workers)
		}
		predictor.SetDeterministic(true)

		trnPred, err := predictor.Predict(xTrn)
		if err != nil {
			return nil, fmt.Errorf("fold %d: predict train: %w", n, err)
		}
		valPred, err := predictor.Predict(xVal)
		if err != nil {
			return nil, fmt.Errorf("fold %d: predict validation: %w", n, err)
		}

		fm := models.FoldMetrics{Fold: n}
		if fm.TrainR2, err = scimetrics.R2Score(columnVec(yTrn), columnVec(trnPred)); err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}
		if fm.TrainRMSE, err = scimetrics.RMSE(columnVec(yTrn), columnVec(trnPred)); err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}
		if fm.ValR2, err = scimetrics.R2Score(columnVec(yVal), columnVec(valPred)); err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}
		if fm.ValRMSE, err = scimetrics.RMSE(columnVec(yVal), columnVec(valPred)); err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}

		if err := tr.writeImportance(n, model); err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}
		if err := tr.writePredictions(n, "train", trainTab, trnPred.(*mat.Dense)); err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}
		if err := tr.writePredictions(n, "val", valTab, valPred.(*mat.Dense)); err != nil {
			return nil, fmt.Errorf("fold %d: %w", n, err)
		}

		log.Printf("fold %d/%d: train r2=%.3f rmse=%.3f | val r2=%.3f rmse=%.3f",
			n, len(folds), fm.TrainR2, fm.TrainRMSE, fm.ValR2, fm.ValRMSE)
		metrics.FoldsTrained.Inc()
		metrics.FoldValidationR2.WithLabelValues(strconv.Itoa(n)).Set(fm.ValR2)

		result.Folds = append(result.Folds, fm)
		predictors = append(predictors, predictor)
	}

	result.SelectedFold, result.Predictor = selectModel(tr.cfg.ModelSelect, result.Folds, predictors)
	result.Summary = Aggregate(result.Folds)
	log.Printf("cross-validation: mean train r2=%.3f rmse=%.3f | mean val r2=%.3f rmse=%.3f (model from fold %d)",
		result.Summary.MeanTrainR2, result.Summary.MeanTrainRMSE,
		result.Summary.MeanValR2, result.Summary.MeanValRMSE, result.SelectedFold)
	return result, nil
}

// selectModel picks the fold model handed to the imputer. The best policy
// skips NaN validation scores (a zero-variance validation target makes R²
// undefined) and falls back to the last fold when no fold has a usable
// score, so the imputer never receives a nil predictor.
func selectModel(policy string, folds []models.FoldMetrics, predictors []*lightgbm.Predictor) (int, *lightgbm.Predictor) {
	if len(folds) == 0 {
		return 0, nil
	}
	fold, predictor := folds[len(folds)-1].Fold, predictors[len(predictors)-1]
	if policy != SelectBest {
		return fold, predictor
	}
	best := math.Inf(-1)
	for i, fm := range folds {
		if !math.IsNaN(fm.ValR2) && fm.ValR2 > best {
			best = fm.ValR2
			fold = fm.Fold
			predictor = predictors[i]
		}
	}
	return fold, predictor
}

func (tr *Trainer) params() lightgbm.TrainingParams {
	return lightgbm.TrainingParams{
		NumIterations:   tr.hp.Iterations,
		LearningRate:    tr.hp.LearningRate,
		NumLeaves:       31,
		MaxDepth:        tr.hp.MaxDepth,
		MinDataInLeaf:   tr.hp.MinChildWeight,
		Lambda:          tr.hp.Lambda,
		MinGainToSplit:  tr.hp.MinSplitGain,
		BaggingFraction: tr.hp.Subsample,
		BaggingFreq:     1,
		FeatureFraction: 1.0,
		MaxBin:          255,
		MinDataInBin:    3,
		Objective:       "regression",
		NumClass:        1,
		Seed:            int(tr.cfg.Seed),
		Deterministic:   true,
		Verbosity:       -1,
	}
}

// writeImportance ranks gain importances, normalized to relative
// contribution, and writes them descending.
func (tr *Trainer) writeImportance(fold int, model *lightgbm.Model) error {
	raw := model.GetFeatureImportance("gain")
	total := 0.0
	for _, v := range raw {
		total += v
	}

	type pair struct {
		feature    string
		importance float64
	}
	pairs := make([]pair, 0, len(tr.cfg.Features))
	for i, name := range tr.cfg.Features {
		v := 0.0
		if i < len(raw) {
			v = raw[i]
			if total > 0 {
				v /= total
			}
		}
		pairs = append(pairs, pair{name, v})
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].importance > pairs[j].importance })

	out, err := dataset.New([]string{"feature", "importance"})
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := out.AppendRow([]string{p.feature, formatFloat(p.importance)}); err != nil {
			return err
		}
	}
	return out.WriteCSV(tr.artifactPath(fold, "feature_importance"))
}

func (tr *Trainer) writePredictions(fold int, split string, tab *dataset.Table, pred *mat.Dense) error {
	dates, err := tab.Column(tr.cfg.DateColumn)
	if err != nil {
		return err
	}
	ids, err := tab.Column(tr.cfg.FineColumn)
	if err != nil {
		return err
	}
	observed, err := tab.Column(tr.cfg.Target)
	if err != nil {
		return err
	}

	out, err := dataset.New([]string{tr.cfg.DateColumn, tr.cfg.FineColumn, tr.cfg.Target, tr.cfg.Target + "_pred"})
	if err != nil {
		return err
	}
	for i := range dates {
		row := []string{dates[i], ids[i], observed[i], formatFloat(pred.At(i, 0))}
		if err := out.AppendRow(row); err != nil {
			return err
		}
	}
	return out.WriteCSV(tr.artifactPath(fold, split+"_predictions"))
}

func (tr *Trainer) artifactPath(fold int, kind string) string {
	return filepath.Join(tr.cfg.OutputDir, fmt.Sprintf("fold_%d_%s.csv", fold, kind))
}

// Aggregate reduces per-fold metrics to their arithmetic means. It does not
// gate imputation; the means are reported and recorded only.
func Aggregate(folds []models.FoldMetrics) models.CVSummary {
	var s models.CVSummary
	if len(folds) == 0 {
		return s
	}
	for _, f := range folds {
		s.MeanTrainR2 += f.TrainR2
		s.MeanTrainRMSE += f.TrainRMSE
		s.MeanValR2 += f.ValR2
		s.MeanValRMSE += f.ValRMSE
	}
	n := float64(len(folds))
	s.MeanTrainR2 /= n
	s.MeanTrainRMSE /= n
	s.MeanValR2 /= n
	s.MeanValRMSE /= n
	return s
}

// columnVec adapts an n-by-1 matrix to the vector type the metric
// functions require.
func columnVec(m mat.Matrix) *mat.VecDense {
	r, _ := m.Dims()
	return mat.NewVecDense(r, mat.Col(nil, 0, m))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// EnsureOutputDir creates the artifact directory if needed.
func EnsureOutputDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
