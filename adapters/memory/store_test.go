package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pspec/domain/core"
	"pspec/domain/likelihood"
	"pspec/domain/spectrum"
)

func averagingConfig() likelihood.AveragingConfig {
	return likelihood.AveragingConfig{
		KBinCenters:  []float64{0.1, 0.2},
		KBinWidths:   []float64{0.1, 0.1},
		LittleH:      true,
		WeightByCov:  true,
		RunCheck:     true,
		AddToHistory: "spherical average with time averaging.",
	}
}

func TestLoadAndAverage_InverseVarianceWeights(t *testing.T) {
	// two samples in the first bin with variances 1 and 1/3: the weighted
	// mean is (1*2 + 3*6)/(1+3) = 5 and the combined variance 1/4
	store := NewStoreFromGroups(map[string][]spectrum.RawGroup{
		"obs": {{
			Window:      core.WindowID("spw00"),
			FreqLowMHz:  145,
			FreqHighMHz: 155,
			Samples: []spectrum.RawSample{
				{K: []float64{0.10, 0.20}, Power: []float64{2, 1}, Variance: []float64{1, 1}},
				{K: []float64{0.11, 0.21}, Power: []float64{6, 1}, Variance: []float64{1.0 / 3.0, 1}},
			},
		}},
	})

	err := store.LoadAndAverage(context.Background(), []string{"obs"}, averagingConfig())
	require.NoError(t, err)

	m, err := store.Measurement(core.WindowID("spw00"))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, m.MeanPower[0], 1e-12)
	assert.InDelta(t, 0.25, m.Covariance.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, m.MeanPower[1], 1e-12)
	assert.Equal(t, "spherical average with time averaging.", m.History)
}

func TestLoadAndAverage_UniformWeights(t *testing.T) {
	cfg := averagingConfig()
	cfg.WeightByCov = false

	store := NewStoreFromGroups(map[string][]spectrum.RawGroup{
		"obs": {{
			Window: core.WindowID("spw00"),
			Samples: []spectrum.RawSample{
				{K: []float64{0.10, 0.20}, Power: []float64{2, 4}, Variance: []float64{1, 2}},
				{K: []float64{0.11, 0.21}, Power: []float64{6, 8}, Variance: []float64{3, 2}},
			},
		}},
	})

	err := store.LoadAndAverage(context.Background(), []string{"obs"}, cfg)
	require.NoError(t, err)

	m, err := store.Measurement(core.WindowID("spw00"))
	require.NoError(t, err)
	// plain mean, variance of the mean = sum(var)/count^2
	assert.InDelta(t, 4.0, m.MeanPower[0], 1e-12)
	assert.InDelta(t, 1.0, m.Covariance.At(0, 0), 1e-12)
	assert.InDelta(t, 6.0, m.MeanPower[1], 1e-12)
}

func TestLoadAndAverage_MergesSources(t *testing.T) {
	group := func(power float64) []spectrum.RawGroup {
		return []spectrum.RawGroup{{
			Window:      core.WindowID("spw00"),
			FreqLowMHz:  145,
			FreqHighMHz: 155,
			Samples: []spectrum.RawSample{
				{K: []float64{0.10, 0.20}, Power: []float64{power, power}, Variance: []float64{1, 1}},
			},
		}}
	}
	store := NewStoreFromGroups(map[string][]spectrum.RawGroup{
		"night1": group(2),
		"night2": group(4),
	})

	err := store.LoadAndAverage(context.Background(), []string{"night1", "night2"}, averagingConfig())
	require.NoError(t, err)

	require.Len(t, store.Windows(), 1)
	m, err := store.Measurement(core.WindowID("spw00"))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, m.MeanPower[0], 1e-12)
}

func TestLoadAndAverage_EmptyBinRejected(t *testing.T) {
	store := NewStoreFromGroups(map[string][]spectrum.RawGroup{
		"obs": {{
			Window: core.WindowID("spw00"),
			Samples: []spectrum.RawSample{
				// nothing lands in the second bin
				{K: []float64{0.10}, Power: []float64{2}, Variance: []float64{1}},
			},
		}},
	})

	err := store.LoadAndAverage(context.Background(), []string{"obs"}, averagingConfig())
	assert.ErrorIs(t, err, core.ErrInvalidMeasurementInput)
}

func TestLoadAndAverage_UnknownSource(t *testing.T) {
	store := NewStoreFromGroups(map[string][]spectrum.RawGroup{})
	err := store.LoadAndAverage(context.Background(), []string{"missing"}, averagingConfig())
	assert.ErrorIs(t, err, core.ErrInvalidMeasurementInput)
}

func TestRedshift_FromBandCenter(t *testing.T) {
	store := NewStoreFromGroups(map[string][]spectrum.RawGroup{
		"obs": {{
			Window:      core.WindowID("spw00"),
			FreqLowMHz:  145,
			FreqHighMHz: 155,
			Samples: []spectrum.RawSample{
				{K: []float64{0.10, 0.20}, Power: []float64{1, 1}, Variance: []float64{1, 1}},
			},
		}},
	})
	require.NoError(t, store.LoadAndAverage(context.Background(), []string{"obs"}, averagingConfig()))

	z, err := store.Redshift(core.WindowID("spw00"))
	require.NoError(t, err)
	assert.InDelta(t, line21cmMHz/150.0-1, z, 1e-12)
}

func TestRedshift_Unresolved(t *testing.T) {
	store := NewStoreFromGroups(map[string][]spectrum.RawGroup{
		"obs": {{
			Window: core.WindowID("spw00"),
			Samples: []spectrum.RawSample{
				{K: []float64{0.10, 0.20}, Power: []float64{1, 1}, Variance: []float64{1, 1}},
			},
		}},
	})
	require.NoError(t, store.LoadAndAverage(context.Background(), []string{"obs"}, averagingConfig()))

	_, err := store.Redshift(core.WindowID("spw00"))
	assert.ErrorIs(t, err, core.ErrUnresolvedRedshift)

	_, err = store.Redshift(core.WindowID("spw99"))
	assert.ErrorIs(t, err, core.ErrWindowNotFound)
}

func TestFindBin_Edges(t *testing.T) {
	centers := []float64{0.1, 0.2}
	widths := []float64{0.1, 0.1}

	assert.Equal(t, 0, findBin(centers, widths, 0.05))  // lower edge inclusive
	assert.Equal(t, 1, findBin(centers, widths, 0.15))  // shared edge goes up
	assert.Equal(t, 1, findBin(centers, widths, 0.25))  // last upper edge inclusive
	assert.Equal(t, -1, findBin(centers, widths, 0.26)) // above coverage
	assert.Equal(t, -1, findBin(centers, widths, 0.01)) // below coverage
}
