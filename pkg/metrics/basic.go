package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Sumatoshi-tech/geoval/pkg/alg/stats"
)

// BasicName is the registry name of BasicMetrics.
const BasicName = "basic"

// Scalar names produced by BasicMetrics.
const (
	NObs    = "n_obs"
	R       = "R"
	PR      = "p_R"
	Rho     = "rho"
	Bias    = "BIAS"
	RMSD    = "RMSD"
	URMSD   = "urmsd"
	MSE     = "mse"
	MSECorr = "mse_corr"
	MSEBias = "mse_bias"
	MSEVar  = "mse_var"
)

// minBasicObs is the smallest sample BasicMetrics accepts regardless of MinObs.
const minBasicObs = 2

// BasicMetrics compares the reference with one other column.
//
// BIAS is mean(ref) - mean(k1). The mse decomposition uses population
// standard deviations so that mse = mse_corr + mse_bias + mse_var.
type BasicMetrics struct {
	Meta

	MinObs int
}

// NewBasicMetrics creates the pairwise calculator.
func NewBasicMetrics(minObs int) *BasicMetrics {
	return &BasicMetrics{
		Meta: Meta{
			CalcName:        BasicName,
			CalcDescription: "Pearson and Spearman correlation, bias, RMSD, ubRMSD and MSE decomposition.",
			CalcColumns:     2,
		},
		MinObs: max(minObs, minBasicObs),
	}
}

// Calc implements Calculator.
func (b *BasicMetrics) Calc(a *Aligned) (Values, error) {
	err := checkShape(b.Meta, a, b.MinObs)
	if err != nil {
		return Values{}, err
	}

	x, y := a.Columns[0], a.Columns[1]
	n := float64(len(x))

	v := NewValues()
	v.Scalars[NObs] = n

	r := correlation(x, y)
	v.Scalars[R] = r
	v.Scalars[PR] = correlationPValue(r, len(x))
	v.Scalars[Rho] = correlation(stats.AverageRanks(x), stats.AverageRanks(y))

	mx, sx := stats.MeanStdDev(x)
	my, sy := stats.MeanStdDev(y)
	bias := mx - my

	var sq, usq float64

	for i := range x {
		d := x[i] - y[i]
		sq += d * d

		ud := (x[i] - mx) - (y[i] - my)
		usq += ud * ud
	}

	mse := sq / n

	v.Scalars[Bias] = bias
	v.Scalars[RMSD] = math.Sqrt(mse)
	v.Scalars[URMSD] = math.Sqrt(usq / n)
	v.Scalars[MSE] = mse
	v.Scalars[MSEBias] = bias * bias
	v.Scalars[MSEVar] = (sx - sy) * (sx - sy)
	v.Scalars[MSECorr] = mse - v.Scalars[MSEBias] - v.Scalars[MSEVar]

	if !math.IsNaN(r) {
		v.Scalars[MSECorr] = 2 * sx * sy * (1 - r)
	}

	return v, nil
}

// correlation is the Pearson coefficient, NaN when either side is constant.
func correlation(x, y []float64) float64 {
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return math.NaN()
	}

	return stat.Correlation(x, y, nil)
}

// correlationPValue is the two-sided p-value of a Pearson coefficient under
// the t distribution with n-2 degrees of freedom.
func correlationPValue(r float64, n int) float64 {
	dof := float64(n - 2)
	if math.IsNaN(r) || dof <= 0 {
		return math.NaN()
	}

	if math.Abs(r) >= 1 {
		return 0
	}

	t := r * math.Sqrt(dof/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: dof}

	return 2 * dist.Survival(math.Abs(t))
}
