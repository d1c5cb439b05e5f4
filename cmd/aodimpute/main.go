package main

import (
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/airml/aodimpute/internal/dataset"
	"github.com/airml/aodimpute/internal/metrics"
	"github.com/airml/aodimpute/internal/models"
	"github.com/airml/aodimpute/internal/pipeline"
	"github.com/airml/aodimpute/internal/store"
)

// Covariates the booster is trained on. These arrive precomputed from the
// preprocessing stage; the pipeline never derives features itself.
var featureColumns = []string{
	"aot_daily", "co_daily", "v_wind", "u_wind", "rainfall", "temp",
	"pressure", "thermal_radiation", "low_veg", "high_veg", "dewpoint_temp",
	"month", "day_of_year", "cos_day_of_year", "monsoon", "lon", "lat",
	"wind_degree", "RH", "aot_rolling", "co_rolling", "omi_no2_rolling",
	"v_wind_rolling", "u_wind_rolling", "rainfall_rolling", "temp_rolling",
	"wind_degree_rolling", "RH_rolling", "thermal_radiation_rolling",
	"dewpoint_temp_rolling", "aot_daily_annual", "co_daily_annual",
	"omi_no2_annual", "v_wind_annual", "u_wind_annual", "rainfall_annual",
	"thermal_radiation_annual", "low_veg_annual", "high_veg_annual",
	"dewpoint_temp_annual", "wind_degree_annual", "RH_annual", "co_daily_allyears",
}

const (
	targetColumn  = "aod"
	imputedColumn = "aod_imputed"
	featureFile   = "df_for_imputation.csv"
	gridFile      = "grid_intersect_with_50km.csv"
	sampledFile   = "aod_ml_df_sampled.csv"
	missingFile   = "aod_missing_to_be_imputed.csv"
	imputedFile   = "aod_imputed.csv"
	outputSubdir  = "AOD_impute"
	mlModelSubdir = "ML_full_model"
)

var cli struct {
	DataDir         string  `arg:"" help:"Base data directory containing ${mldir}/ inputs." type:"existingdir"`
	Seed            int64   `help:"Sampling and training seed." default:"42"`
	Fraction        float64 `help:"Per-cell sampling fraction." default:"0.03"`
	Folds           int     `help:"Outer cross-validation fold count." default:"10"`
	Workers         int     `help:"Booster worker threads." env:"AODIMPUTE_WORKERS" default:"4"`
	ModelSelect     string  `help:"Fold model used for imputation." enum:"last,best" default:"last"`
	MaxUnmappedFrac float64 `help:"Fatal threshold for rows without a coarse grid group." default:"0.5"`
	MetricsAddr     string  `help:"Optional Prometheus listen address, e.g. :9090." default:""`
	DB              string  `help:"Run-history database path, relative to the data directory." default:"aodimpute.db"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("aodimpute"),
		kong.Description("Impute missing AOD values with group cross-validated gradient boosting."),
		kong.Vars{"mldir": mlModelSubdir},
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	if cli.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cli.MetricsAddr, mux); err != nil {
				log.Printf("metrics listener: %v", err)
			}
		}()
	}

	mlDir := filepath.Join(cli.DataDir, mlModelSubdir)
	outDir := filepath.Join(mlDir, outputSubdir)

	db, err := store.Open(filepath.Join(cli.DataDir, cli.DB))
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	runID, err := st.CreateRun(models.Run{
		StartedAt:   time.Now().UTC(),
		DataDir:     cli.DataDir,
		Seed:        cli.Seed,
		Fraction:    cli.Fraction,
		Folds:       cli.Folds,
		ModelSelect: cli.ModelSelect,
	})
	if err != nil {
		log.Fatalf("create run: %v", err)
	}
	log.Printf("run %d: seed=%d fraction=%v folds=%d select=%s",
		runID, cli.Seed, cli.Fraction, cli.Folds, cli.ModelSelect)

	// Load.
	features, err := dataset.ReadCSV(filepath.Join(mlDir, featureFile))
	if err != nil {
		log.Fatalf("load features: %v", err)
	}
	log.Printf("loaded %s: %d rows, %d columns", featureFile, features.Len(), len(features.Columns()))
	metrics.RowsLoaded.WithLabelValues("features").Set(float64(features.Len()))

	// Merge fine grid cells to coarse groups, when the mapping exists.
	mergeCfg := pipeline.DefaultMergeConfig()
	mergeCfg.MaxUnmappedFrac = cli.MaxUnmappedFrac
	mappingPath := filepath.Join(mlDir, gridFile)
	mapping, err := pipeline.ReadMapping(mappingPath)
	if err != nil {
		log.Fatalf("load grid mapping: %v", err)
	}
	if mapping != nil {
		start := time.Now()
		if err := pipeline.MergeGrid(features, mapping, mergeCfg); err != nil {
			log.Fatalf("merge: %v", err)
		}
		metrics.StageDuration.WithLabelValues("merge").Observe(time.Since(start).Seconds())
	} else {
		log.Printf("merge: no grid mapping at %s, skipping", mappingPath)
	}

	// Stratified sample per (coarse group, year-month) cell.
	sampleCfg := pipeline.DefaultSampleConfig()
	sampleCfg.Fraction = cli.Fraction
	sampleCfg.Seed = cli.Seed
	sampleCfg.GroupColumn = mergeCfg.CoarseColumn
	start := time.Now()
	sampled, err := pipeline.SampleByCell(features, sampleCfg)
	if err != nil {
		log.Fatalf("sample: %v", err)
	}
	metrics.StageDuration.WithLabelValues("sample").Observe(time.Since(start).Seconds())
	log.Printf("sampled %d of %d rows", sampled.Len(), features.Len())

	if err := sampled.WriteCSV(filepath.Join(mlDir, sampledFile)); err != nil {
		log.Fatalf("write sampled snapshot: %v", err)
	}
	if err := st.SetRunRows(runID, features.Len(), sampled.Len()); err != nil {
		log.Fatalf("record row counts: %v", err)
	}

	// Outer group cross-validation.
	groups, err := sampled.Column(sampleCfg.GroupColumn)
	if err != nil {
		log.Fatalf("cross-validation: %v", err)
	}
	folds, err := pipeline.GroupKFold(groups, cli.Folds)
	if err != nil {
		log.Fatalf("cross-validation: %v", err)
	}

	if err := pipeline.EnsureOutputDir(outDir); err != nil {
		log.Fatalf("create output dir: %v", err)
	}
	trainer := pipeline.NewTrainer(pipeline.TrainConfig{
		Features:    featureColumns,
		Target:      targetColumn,
		DateColumn:  sampleCfg.DateColumn,
		FineColumn:  mergeCfg.FineColumn,
		Seed:        cli.Seed,
		Workers:     cli.Workers,
		ModelSelect: cli.ModelSelect,
		OutputDir:   outDir,
	}, models.DefaultHyperparams())

	start = time.Now()
	result, err := trainer.Run(sampled, folds)
	if err != nil {
		log.Fatalf("training: %v", err)
	}
	metrics.StageDuration.WithLabelValues("train").Observe(time.Since(start).Seconds())
	for _, fm := range result.Folds {
		if err := st.InsertFoldMetrics(runID, fm); err != nil {
			log.Fatalf("record fold %d metrics: %v", fm.Fold, err)
		}
	}

	// Impute the missing-target table with the selected fold model.
	missing, err := dataset.ReadCSV(filepath.Join(mlDir, missingFile))
	if err != nil {
		log.Fatalf("load missing table: %v", err)
	}
	metrics.RowsLoaded.WithLabelValues("missing").Set(float64(missing.Len()))

	imputer := pipeline.NewImputer(result.Predictor, featureColumns, imputedColumn)
	start = time.Now()
	if err := imputer.Impute(missing); err != nil {
		log.Fatalf("imputation: %v", err)
	}
	metrics.StageDuration.WithLabelValues("impute").Observe(time.Since(start).Seconds())

	outPath := filepath.Join(outDir, imputedFile)
	if err := missing.WriteCSV(outPath); err != nil {
		log.Fatalf("write imputed table: %v", err)
	}
	if err := st.FinishRun(runID, result.Summary, missing.Len()); err != nil {
		log.Fatalf("finish run: %v", err)
	}
	log.Printf("imputed %d rows with fold %d model, output at %s",
		missing.Len(), result.SelectedFold, outPath)
}
