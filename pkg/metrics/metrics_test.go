package metrics_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/geoval/pkg/metrics"
)

const tolerance = 1e-9

func aligned(columns ...[]float64) *metrics.Aligned {
	index := make([]time.Time, len(columns[0]))
	for i := range index {
		index[i] = time.Date(2012, 1, 1+i, 0, 0, 0, 0, time.UTC)
	}

	return metrics.NewAligned(index, columns)
}

func TestRoles(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"ref", "k1", "k2"}, metrics.Roles(3))
	assert.Empty(t, metrics.Roles(0))

	a := aligned([]float64{1}, []float64{2})
	col, ok := a.Column("k1")
	require.True(t, ok)
	assert.Equal(t, []float64{2}, col)

	_, ok = a.Column("k2")
	assert.False(t, ok)
}

func TestBasicMetrics_PerfectAgreement(t *testing.T) {
	t.Parallel()

	x := []float64{0.1, 0.3, 0.2, 0.5, 0.4}

	v, err := metrics.NewBasicMetrics(0).Calc(aligned(x, x))
	require.NoError(t, err)

	assert.InDelta(t, 5.0, v.Scalars[metrics.NObs], 0)
	assert.InDelta(t, 1.0, v.Scalars[metrics.R], tolerance)
	assert.InDelta(t, 0.0, v.Scalars[metrics.PR], tolerance)
	assert.InDelta(t, 1.0, v.Scalars[metrics.Rho], tolerance)
	assert.InDelta(t, 0.0, v.Scalars[metrics.Bias], tolerance)
	assert.InDelta(t, 0.0, v.Scalars[metrics.RMSD], tolerance)
	assert.InDelta(t, 0.0, v.Scalars[metrics.URMSD], tolerance)
}

func TestBasicMetrics_BiasAndDecomposition(t *testing.T) {
	t.Parallel()

	x := []float64{1, 2, 3, 4, 5, 6}
	y := []float64{2.5, 2.9, 4.6, 5.1, 7.4, 7.0}

	v, err := metrics.NewBasicMetrics(3).Calc(aligned(x, y))
	require.NoError(t, err)

	assert.InDelta(t, 3.5-(29.5/6), v.Scalars[metrics.Bias], tolerance)

	sum := v.Scalars[metrics.MSECorr] + v.Scalars[metrics.MSEBias] + v.Scalars[metrics.MSEVar]
	assert.InDelta(t, v.Scalars[metrics.MSE], sum, tolerance)
	assert.InDelta(t, math.Sqrt(v.Scalars[metrics.MSE]), v.Scalars[metrics.RMSD], tolerance)
	assert.Greater(t, v.Scalars[metrics.R], 0.9)
	assert.Less(t, v.Scalars[metrics.PR], 0.05)
	assert.GreaterOrEqual(t, v.Scalars[metrics.RMSD], v.Scalars[metrics.URMSD])
}

func TestBasicMetrics_TwoRowsAndConstant(t *testing.T) {
	t.Parallel()

	v, err := metrics.NewBasicMetrics(0).Calc(aligned([]float64{1, 2}, []float64{3, 5}))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v.Scalars[metrics.R], tolerance)
	assert.True(t, math.IsNaN(v.Scalars[metrics.PR]))

	v, err = metrics.NewBasicMetrics(0).Calc(aligned([]float64{1, 1, 1}, []float64{3, 5, 4}))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v.Scalars[metrics.R]))
	assert.True(t, math.IsNaN(v.Scalars[metrics.Rho]))
	assert.False(t, math.IsNaN(v.Scalars[metrics.MSECorr]))
}

func TestBasicMetrics_Errors(t *testing.T) {
	t.Parallel()

	_, err := metrics.NewBasicMetrics(10).Calc(aligned([]float64{1, 2, 3}, []float64{1, 2, 3}))
	require.ErrorIs(t, err, metrics.ErrInsufficientObservations)

	_, err = metrics.NewBasicMetrics(0).Calc(aligned([]float64{1, 2, 3}))
	require.ErrorIs(t, err, metrics.ErrColumnCount)
}

func TestTripleCollocation_RecoversErrors(t *testing.T) {
	t.Parallel()

	signal := []float64{0.1, 0.35, 0.2, 0.5, 0.3, 0.65, 0.45, 0.15, 0.55, 0.25}
	e1 := []float64{0.02, -0.01, 0.03, -0.02, 0.01, -0.03, 0.02, 0.0, -0.01, -0.01}
	e2 := []float64{-0.01, 0.02, 0.0, 0.01, -0.02, 0.01, -0.01, 0.02, 0.0, -0.02}

	x := make([]float64, len(signal))
	y := make([]float64, len(signal))
	z := make([]float64, len(signal))

	for i, s := range signal {
		x[i] = s
		y[i] = 2*s + e1[i]
		z[i] = 0.5*s + e2[i]
	}

	v, err := metrics.NewTripleCollocationMetrics(0).Calc(aligned(x, y, z))
	require.NoError(t, err)

	assert.InDelta(t, 10.0, v.Scalars[metrics.NObs], 0)
	require.Len(t, v.Arrays[metrics.Beta], 3)
	assert.InDelta(t, 1.0, v.Arrays[metrics.Beta][0], 0)
	assert.InDelta(t, 0.5, v.Arrays[metrics.Beta][1], 0.05)
	assert.InDelta(t, 2.0, v.Arrays[metrics.Beta][2], 0.2)

	// The reference is noise free; the other columns are not.
	snr := v.Arrays[metrics.SNR]
	assert.Greater(t, snr[1], 10.0)
	assert.Greater(t, snr[2], 10.0)
	assert.Equal(t, []string{"n_obs", "beta", "err_std", "snr"}, v.Names())
}

func TestTripleCollocation_Errors(t *testing.T) {
	t.Parallel()

	calc := metrics.NewTripleCollocationMetrics(0)
	assert.Equal(t, 3, calc.Columns())

	_, err := calc.Calc(aligned([]float64{1, 2}, []float64{1, 2}, []float64{1, 2}))
	require.ErrorIs(t, err, metrics.ErrInsufficientObservations)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := metrics.DefaultRegistry()
	assert.Equal(t, []string{"basic", "triple_collocation"}, r.Names())

	calc, err := r.New(metrics.BasicName, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, calc.Columns())
	assert.NotEmpty(t, calc.Description())

	_, err = r.New("nash_sutcliffe", 0)
	require.ErrorIs(t, err, metrics.ErrUnknownCalculator)

	err = r.Register(metrics.BasicName, func(int) metrics.Calculator { return metrics.NewBasicMetrics(0) })
	require.ErrorIs(t, err, metrics.ErrDuplicateCalculator)
}
