package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pspec/adapters/memory"
	"pspec/domain/likelihood"
	"pspec/domain/params"
	"pspec/internal/testkit"
)

func newTestService(t *testing.T) *EvaluationService {
	t.Helper()
	synth := testkit.DefaultSyntheticConfig()
	store, err := testkit.NewStore(synth)
	require.NoError(t, err)

	cfg := likelihood.DefaultConfig()
	cfg.Store = store
	cfg.Sources = "synthetic"
	cfg.Theory = testkit.PowerLawTheory()
	cfg.KBinCenters = synth.KBinCenters
	cfg.KBinWidths = synth.KBinWidths

	c, err := likelihood.New(context.Background(), cfg)
	require.NoError(t, err)
	return NewEvaluationService(c, memory.NewEvaluationRepository(), nil, nil)
}

func TestEvaluate_RecordsResult(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	eval, err := service.Evaluate(ctx, params.ByName(map[string]float64{"amp": 1, "index": 2}))
	require.NoError(t, err)
	assert.False(t, eval.ID.String() == "")
	assert.Equal(t, likelihood.StrategyGaussian, eval.Strategy)
	assert.Len(t, eval.Result.PerWindow, 2)

	got, err := service.Evaluation(ctx, eval.ID)
	require.NoError(t, err)
	assert.Equal(t, eval.Result.LogLikelihood, got.Result.LogLikelihood)
}

func TestEvaluate_Deterministic(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	input := params.ByName(map[string]float64{"amp": 1.1, "index": 1.9})

	a, err := service.Evaluate(ctx, input)
	require.NoError(t, err)
	b, err := service.Evaluate(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, a.Result.LogLikelihood, b.Result.LogLikelihood)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestEvaluate_TruthScoresHigherThanFarOff(t *testing.T) {
	// synthetic data is generated at amp=1, index=2; a wildly wrong model
	// must score lower
	service := newTestService(t)
	ctx := context.Background()

	truth, err := service.Evaluate(ctx, params.ByName(map[string]float64{"amp": 1, "index": 2}))
	require.NoError(t, err)
	off, err := service.Evaluate(ctx, params.ByName(map[string]float64{"amp": 50, "index": -3}))
	require.NoError(t, err)
	assert.Greater(t, truth.Result.LogLikelihood, off.Result.LogLikelihood)
}

func TestRecentEvaluations_NewestFirst(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	first, err := service.Evaluate(ctx, params.ByName(map[string]float64{"amp": 1, "index": 2}))
	require.NoError(t, err)
	second, err := service.Evaluate(ctx, params.ByName(map[string]float64{"amp": 2, "index": 2}))
	require.NoError(t, err)

	recent, err := service.RecentEvaluations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, first.ID, recent[1].ID)
}

func TestProfile(t *testing.T) {
	service := newTestService(t)
	windows := service.Container().Windows()
	require.NotEmpty(t, windows)

	p, err := service.Profile(windows[0])
	require.NoError(t, err)
	assert.Equal(t, windows[0].String(), p.Window)
	assert.Equal(t, 5, p.NBins)
	assert.True(t, p.HasRedshift)
}
