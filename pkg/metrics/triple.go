package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TripleCollocationName is the registry name of TripleCollocationMetrics.
const TripleCollocationName = "triple_collocation"

// Array names produced by TripleCollocationMetrics, one entry per column.
const (
	SNR    = "snr"
	ErrStd = "err_std"
	Beta   = "beta"
)

// minTripleObs is the smallest sample TripleCollocationMetrics accepts.
const minTripleObs = 3

// TripleCollocationMetrics estimates the random error of three collocated
// series from their covariances. snr is in dB, err_std is expressed in the
// reference data space via beta, and beta of the reference is 1.
type TripleCollocationMetrics struct {
	Meta

	MinObs int
}

// NewTripleCollocationMetrics creates the triple collocation calculator.
func NewTripleCollocationMetrics(minObs int) *TripleCollocationMetrics {
	return &TripleCollocationMetrics{
		Meta: Meta{
			CalcName:        TripleCollocationName,
			CalcDescription: "Triple collocation signal-to-noise ratio, error standard deviation and scaling factor.",
			CalcColumns:     3,
		},
		MinObs: max(minObs, minTripleObs),
	}
}

// Calc implements Calculator.
func (tc *TripleCollocationMetrics) Calc(a *Aligned) (Values, error) {
	err := checkShape(tc.Meta, a, tc.MinObs)
	if err != nil {
		return Values{}, err
	}

	var cov [3][3]float64

	for i := range 3 {
		for j := i; j < 3; j++ {
			cov[i][j] = stat.Covariance(a.Columns[i], a.Columns[j], nil)
			cov[j][i] = cov[i][j]
		}
	}

	snr := make([]float64, 3)
	errStd := make([]float64, 3)
	beta := make([]float64, 3)

	for i := range 3 {
		j, k := (i+1)%3, (i+2)%3

		// Signal variance seen by column i.
		signal := cov[i][j] * cov[i][k] / cov[j][k]
		noise := cov[i][i] - signal

		snr[i] = 10 * math.Log10(signal/noise)
		errStd[i] = math.Sqrt(noise)

		if i == 0 {
			beta[i] = 1

			continue
		}

		// The instrument is the remaining non-reference column.
		other := 3 - i
		beta[i] = cov[0][other] / cov[i][other]
	}

	for i := range errStd {
		errStd[i] *= beta[i]
	}

	v := NewValues()
	v.Scalars[NObs] = float64(a.Len())
	v.Arrays[SNR] = sanitize(snr)
	v.Arrays[ErrStd] = sanitize(errStd)
	v.Arrays[Beta] = sanitize(beta)

	return v, nil
}

// sanitize replaces infinities from vanishing covariances with NaN.
func sanitize(values []float64) []float64 {
	for i, v := range values {
		if math.IsInf(v, 0) {
			values[i] = math.NaN()
		}
	}

	return values
}
