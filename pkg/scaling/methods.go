package scaling

import (
	"fmt"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Sumatoshi-tech/geoval/pkg/alg/stats"
)

// Method names.
const (
	IdentityName = "identity"
	MeanStdName  = "mean_std"
	MinMaxName   = "min_max"
	LinRegName   = "linreg"
	CDFMatchName = "cdf_match"
	TColName     = "tcol"
)

// minFitObservations is the smallest paired sample a fit accepts.
const minFitObservations = 2

// Identity returns targets unchanged (copied).
func Identity() Method {
	return Pairwise(IdentityName, func(_, _ []float64) (Transform, error) {
		return func(v float64) float64 { return v }, nil
	})
}

// MeanStd matches the mean and standard deviation of the target to the reference.
func MeanStd() Method {
	return Pairwise(MeanStdName, fitMeanStd)
}

// MinMax maps the target range onto the reference range.
func MinMax() Method {
	return Pairwise(MinMaxName, fitMinMax)
}

// LinReg applies the ordinary least squares fit of reference on target.
func LinReg() Method {
	return Pairwise(LinRegName, fitLinReg)
}

// CDFMatch maps target quantiles onto reference quantiles.
func CDFMatch() Method {
	return Pairwise(CDFMatchName, fitCDF)
}

func fitMeanStd(ref, target []float64) (Transform, error) {
	if len(ref) < minFitObservations {
		return nil, fmt.Errorf("%w: %d paired observations", ErrDegenerateDistribution, len(ref))
	}

	refMean, refStd := stat.MeanStdDev(ref, nil)
	tgtMean, tgtStd := stat.MeanStdDev(target, nil)

	if refStd == 0 || tgtStd == 0 {
		return nil, fmt.Errorf("%w: zero standard deviation", ErrDegenerateDistribution)
	}

	ratio := refStd / tgtStd

	return func(v float64) float64 {
		return (v-tgtMean)*ratio + refMean
	}, nil
}

func fitMinMax(ref, target []float64) (Transform, error) {
	if len(ref) < minFitObservations {
		return nil, fmt.Errorf("%w: %d paired observations", ErrDegenerateDistribution, len(ref))
	}

	refMin, refMax := floats.Min(ref), floats.Max(ref)
	tgtMin, tgtMax := floats.Min(target), floats.Max(target)

	if refMax == refMin || tgtMax == tgtMin {
		return nil, fmt.Errorf("%w: zero range", ErrDegenerateDistribution)
	}

	ratio := (refMax - refMin) / (tgtMax - tgtMin)

	return func(v float64) float64 {
		return (v-tgtMin)*ratio + refMin
	}, nil
}

func fitLinReg(ref, target []float64) (Transform, error) {
	if len(ref) < minFitObservations {
		return nil, fmt.Errorf("%w: %d paired observations", ErrDegenerateDistribution, len(ref))
	}

	if stat.Variance(ref, nil) == 0 || stat.Variance(target, nil) == 0 {
		return nil, fmt.Errorf("%w: zero variance", ErrDegenerateDistribution)
	}

	alpha, beta := stat.LinearRegression(target, ref, nil, false)

	return func(v float64) float64 {
		return alpha + beta*v
	}, nil
}

// fitCDF ranks target values with averaged ties, turns rank r of n into the
// probability (r-1)/(n-1) and reads that quantile off the sorted reference.
// Values between fitted target observations interpolate linearly.
func fitCDF(ref, target []float64) (Transform, error) {
	if len(ref) < minFitObservations {
		return nil, fmt.Errorf("%w: %d paired observations", ErrDegenerateDistribution, len(ref))
	}

	sortedRef := slices.Clone(ref)
	slices.Sort(sortedRef)

	sortedTgt := slices.Clone(target)
	slices.Sort(sortedTgt)

	n := len(sortedTgt)
	if sortedRef[0] == sortedRef[n-1] || sortedTgt[0] == sortedTgt[n-1] {
		return nil, fmt.Errorf("%w: constant series", ErrDegenerateDistribution)
	}

	return func(v float64) float64 {
		p := position(sortedTgt, v) / float64(n-1)

		return stats.PercentileSorted(sortedRef, p)
	}, nil
}

// position returns the fractional 0-based rank of v in sorted; equal values
// share the mean of their positions.
func position(sorted []float64, v float64) float64 {
	n := len(sorted)

	switch {
	case v < sorted[0]:
		return 0
	case v > sorted[n-1]:
		return float64(n - 1)
	}

	lo := sort.SearchFloat64s(sorted, v)
	if sorted[lo] == v {
		hi := lo
		for hi+1 < n && sorted[hi+1] == v {
			hi++
		}

		return float64(lo+hi) / 2
	}

	prev := lo - 1

	return float64(prev) + (v-sorted[prev])/(sorted[lo]-sorted[prev])
}

type tcol struct{}

// TCol rescales with triple collocation: each target y is paired with the
// next other target z as instrument and scaled by beta = cov(x,z)/cov(y,z).
// It needs the reference plus at least two targets.
func TCol() Method { return tcol{} }

func (tcol) Name() string { return TColName }

func (tcol) Apply(ref []float64, targets [][]float64) ([][]float64, error) {
	if len(targets) < 2 {
		return nil, fmt.Errorf("%w: %s needs 3 columns, got %d", ErrInsufficientColumns, TColName, len(targets)+1)
	}

	columns := append([][]float64{ref}, targets...)

	idx := stats.Valid(columns...)
	if len(idx) < minFitObservations {
		return nil, fmt.Errorf("%w: %d collocated observations", ErrDegenerateDistribution, len(idx))
	}

	x := stats.Pick(ref, idx)
	refMean := stat.Mean(x, nil)
	out := make([][]float64, len(targets))

	for i, target := range targets {
		y := stats.Pick(target, idx)
		z := stats.Pick(targets[(i+1)%len(targets)], idx)

		covYZ := stat.Covariance(y, z, nil)
		if covYZ == 0 {
			return nil, fmt.Errorf("%w: %s zero covariance for target %d", ErrDegenerateDistribution, TColName, i)
		}

		beta := stat.Covariance(x, z, nil) / covYZ
		tgtMean := stat.Mean(y, nil)

		out[i] = mapValid(target, func(v float64) float64 {
			return (v-tgtMean)*beta + refMean
		})
	}

	return out, nil
}
