package spectrum

import (
	"math"

	"github.com/montanaflynn/stats"
)

// QualityProfile summarizes a measurement for consistency checks and
// reporting: mean-power summary statistics plus the covariance diagonal
// range and condition indicators.
type QualityProfile struct {
	Window        string  `json:"window"`
	NBins         int     `json:"n_bins"`
	PowerMean     float64 `json:"power_mean"`
	PowerMedian   float64 `json:"power_median"`
	PowerStdDev   float64 `json:"power_std_dev"`
	PowerMin      float64 `json:"power_min"`
	PowerMax      float64 `json:"power_max"`
	VarianceMin   float64 `json:"variance_min"`
	VarianceMax   float64 `json:"variance_max"`
	DynamicRange  float64 `json:"dynamic_range"`
	NegativeBins  int     `json:"negative_bins"`
	KCoverage     float64 `json:"k_coverage"`
	MeanBinWidth  float64 `json:"mean_bin_width"`
	HasRedshift   bool    `json:"has_redshift"`
	Redshift      float64 `json:"redshift"`
	HistorySuffix string  `json:"history_suffix,omitempty"`
}

// Profile computes the quality profile of a measurement. The measurement
// is assumed to have passed Validate.
func Profile(m *Measurement) (QualityProfile, error) {
	p := QualityProfile{
		Window:      m.Window.String(),
		NBins:       m.NBins(),
		HasRedshift: m.HasRedshift,
		Redshift:    m.Redshift,
	}

	var err error
	if p.PowerMean, err = stats.Mean(m.MeanPower); err != nil {
		return p, err
	}
	if p.PowerMedian, err = stats.Median(m.MeanPower); err != nil {
		return p, err
	}
	if p.PowerStdDev, err = stats.StandardDeviation(m.MeanPower); err != nil {
		return p, err
	}
	if p.PowerMin, err = stats.Min(m.MeanPower); err != nil {
		return p, err
	}
	if p.PowerMax, err = stats.Max(m.MeanPower); err != nil {
		return p, err
	}

	diag := make([]float64, m.NBins())
	for i := range diag {
		diag[i] = m.Covariance.At(i, i)
	}
	if p.VarianceMin, err = stats.Min(diag); err != nil {
		return p, err
	}
	if p.VarianceMax, err = stats.Max(diag); err != nil {
		return p, err
	}
	if p.VarianceMin > 0 {
		p.DynamicRange = p.VarianceMax / p.VarianceMin
	} else {
		p.DynamicRange = math.Inf(1)
	}

	for _, v := range m.MeanPower {
		if v < 0 {
			p.NegativeBins++
		}
	}

	if p.MeanBinWidth, err = stats.Mean(m.KBinWidths); err != nil {
		return p, err
	}
	n := m.NBins()
	p.KCoverage = (m.KBinCenters[n-1] + m.KBinWidths[n-1]/2) - (m.KBinCenters[0] - m.KBinWidths[0]/2)

	return p, nil
}
