package main

import (
	"context"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"gonum.org/v1/gonum/mat"

	"pspec/adapters/excel"
	"pspec/adapters/memory"
	"pspec/adapters/postgres"
	"pspec/app"
	"pspec/domain/likelihood"
	"pspec/internal"
	"pspec/internal/api"
	"pspec/internal/config"
	"pspec/internal/testkit"
	"pspec/ports"
)

// Serves the likelihood evaluation API. Measurement sources come from
// MEASUREMENT_FILES; without them a synthetic measurement set is generated
// so the service can run standalone. The bundled theory and bias callables
// are the demo power-law models; a production analysis links its own.
// PARAMS_LIST opts in to ordered-value parameter calls; leave it unset to
// call with name->value mappings.
func main() {
	// Load environment variables from .env file (ignore if missing)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := internal.NewDefaultLogger()
	ctx := context.Background()

	synth := testkit.DefaultSyntheticConfig()
	nuisanceNames := []string{"fg0"}

	var store likelihood.Store
	var sources any
	if len(cfg.Analysis.Sources) > 0 {
		store = memory.NewStore(excel.Loader{})
		sources = cfg.Analysis.Sources
	} else {
		logger.Warn("MEASUREMENT_FILES not set; serving a synthetic measurement set")
		store, err = testkit.NewStore(synth)
		if err != nil {
			log.Fatalf("synthetic store: %v", err)
		}
		sources = "synthetic"
	}

	ccfg := likelihood.DefaultConfig()
	ccfg.Store = store
	ccfg.Sources = sources
	ccfg.Theory = testkit.PowerLawTheory()
	ccfg.Bias = testkit.ForegroundBias(nuisanceNames)
	ccfg.KBinCenters = synth.KBinCenters
	ccfg.KBinWidths = synth.KBinWidths
	ccfg.LittleH = cfg.Analysis.LittleH
	ccfg.WeightByCov = cfg.Analysis.WeightByCov
	ccfg.RunCheck = cfg.Analysis.RunCheck
	ccfg.Method = likelihood.Method(cfg.Analysis.Method)
	ccfg.Strategy = likelihood.Strategy(cfg.Analysis.Strategy)
	ccfg.ParamsList = cfg.Analysis.ParamsList
	ccfg.NuisanceNames = nuisanceNames
	ccfg.NuisancePriorMean = []float64{1}
	ccfg.NuisancePriorCov = mat.NewSymDense(1, []float64{0.25})
	ccfg.OrthantDraws = cfg.Analysis.OrthantDraws
	ccfg.Seed = cfg.Analysis.Seed

	container, err := likelihood.New(ctx, ccfg)
	if err != nil {
		log.Fatalf("container: %v", err)
	}

	var evals ports.EvaluationRepository = memory.NewEvaluationRepository()
	var measRepo ports.MeasurementRepository
	if cfg.Database.URL != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		if _, err := db.ExecContext(ctx, postgres.Schema); err != nil {
			log.Fatalf("schema: %v", err)
		}
		evals = postgres.NewEvaluationRepository(db)
		measRepo = postgres.NewMeasurementRepository(db)
	}

	service := app.NewEvaluationService(container, evals, measRepo, logger)
	if measRepo != nil {
		if err := service.PersistMeasurements(ctx); err != nil {
			logger.Warn("persisting measurements: %v", err)
		}
	}

	server := api.NewServer(service, logger)
	if err := server.ListenAndServe(api.Config{Port: cfg.Server.Port}); err != nil {
		log.Fatalf("server: %v", err)
	}
}
