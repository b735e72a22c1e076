package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"gonum.org/v1/gonum/mat"

	"pspec/adapters/memory"
	"pspec/app"
	"pspec/domain/likelihood"
	"pspec/domain/params"
	"pspec/domain/spectrum"
	"pspec/internal"
	"pspec/internal/report"
	"pspec/internal/testkit"
)

// Runs one synthetic analysis end to end and prints the evaluation report:
// generate raw measurements, spherically average them, evaluate all three
// likelihood strategies at the truth parameters.
func main() {
	_ = godotenv.Load()
	logger := internal.NewDefaultLogger()
	ctx := context.Background()

	synth := testkit.DefaultSyntheticConfig()
	nuisanceNames := []string{"fg0"}
	truth := map[string]float64{"amp": 1, "index": 2, "fg0": 0.1}

	for _, strategy := range []likelihood.Strategy{
		likelihood.StrategyGaussian,
		likelihood.StrategyGaussianLinearSystematics,
		likelihood.StrategyMarginalizedLinearPositiveSystematics,
	} {
		store, err := testkit.NewStore(synth)
		if err != nil {
			log.Fatalf("store: %v", err)
		}
		cfg := likelihood.DefaultConfig()
		cfg.Store = store
		cfg.Sources = "synthetic"
		cfg.Theory = testkit.PowerLawTheory()
		cfg.Bias = testkit.ForegroundBias(nuisanceNames)
		cfg.KBinCenters = synth.KBinCenters
		cfg.KBinWidths = synth.KBinWidths
		cfg.Method = likelihood.MethodTwoPoint
		cfg.Strategy = strategy
		cfg.NuisanceNames = nuisanceNames
		cfg.NuisancePriorMean = []float64{0.1}
		cfg.NuisancePriorCov = mat.NewSymDense(1, []float64{0.01})

		container, err := likelihood.New(ctx, cfg)
		if err != nil {
			log.Fatalf("%s container: %v", strategy, err)
		}
		service := app.NewEvaluationService(container, memory.NewEvaluationRepository(), nil, logger)

		eval, err := service.Evaluate(ctx, params.ByName(truth))
		if err != nil {
			log.Fatalf("%s evaluate: %v", strategy, err)
		}

		var profiles []spectrum.QualityProfile
		for _, id := range container.Windows() {
			p, err := service.Profile(id)
			if err != nil {
				log.Fatalf("profile: %v", err)
			}
			profiles = append(profiles, p)
		}
		fmt.Println(report.BuildMarkdown(eval, profiles))
	}
}
