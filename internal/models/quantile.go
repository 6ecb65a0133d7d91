package models

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/wonny/fuelcast/internal/dataset"
)

// NameQuantile is the store name shared by all quantile variants; the
// quantile value qualifies the key (quantile_p10, quantile_p50, ...).
const NameQuantile = "quantile"

// DefaultQuantiles are the levels fitted when the run config does not
// override them.
var DefaultQuantiles = []float64{0.1, 0.5, 0.9}

// irlsEps floors the residual magnitude in the IRLS weight update.
const irlsEps = 1e-6

// QuantileOptions bound the iterative solver. Zero values pick defaults.
type QuantileOptions struct {
	Alpha   float64 // ridge penalty on slopes (intercept unpenalized)
	MaxIter int
	Tol     float64
}

func (o QuantileOptions) withDefaults() QuantileOptions {
	if o.MaxIter <= 0 {
		o.MaxIter = 100
	}
	if o.Tol <= 0 {
		o.Tol = 1e-6
	}
	if o.Alpha < 0 {
		o.Alpha = 0
	}
	return o
}

// QuantileResult carries the fitted artifact plus solver diagnostics. A
// non-converged fit is usable but the caller is expected to log a warning.
type QuantileResult struct {
	Artifact   *Artifact
	Converged  bool
	Iterations int
}

// =============================================================================
// Quantile Regression (IRLS)
// =============================================================================

// TrainQuantile fits a linear quantile regression for level q by iteratively
// reweighted least squares: the pinball loss is approximated by a weighted
// L2 problem whose weights are rebuilt from the current residuals each pass.
// The same leakage-safe frame used by the point models feeds this, so the
// quantile outputs inherit the alignment guarantees.
func TrainQuantile(frame *dataset.Frame, q float64, opts QuantileOptions) (*QuantileResult, error) {
	if q <= 0 || q >= 1 {
		return nil, fmt.Errorf("quantile: level must be in (0,1), got %g", q)
	}
	if frame == nil || frame.Len() == 0 {
		return nil, &dataset.InsufficientDataError{Context: "quantile fit", Rows: 0, Min: 2}
	}
	opts = opts.withDefaults()

	n := frame.Len()
	p := frame.FeatureSet.Len()

	// Warm start from the plain ridge solution.
	x, y := frame.Matrix()
	intercept, coefs, err := solveRidge(x, y, opts.Alpha)
	if err != nil {
		return nil, fmt.Errorf("quantile q=%g warm start: %w", q, err)
	}

	weights := make([]float64, n)
	resid := make([]float64, n)
	converged := false
	iter := 0
	for ; iter < opts.MaxIter; iter++ {
		for i, row := range frame.X {
			pred := intercept
			for j, c := range coefs {
				pred += c * row[j]
			}
			resid[i] = y[i] - pred
		}
		for i, r := range resid {
			if r >= 0 {
				weights[i] = q / math.Max(irlsEps, r)
			} else {
				weights[i] = (1 - q) / math.Max(irlsEps, -r)
			}
		}

		newIntercept, newCoefs, err := solveWeightedRidge(frame.X, y, weights, opts.Alpha)
		if err != nil {
			return nil, fmt.Errorf("quantile q=%g iter %d: %w", q, iter, err)
		}

		delta := math.Abs(newIntercept - intercept)
		for j := 0; j < p; j++ {
			if d := math.Abs(newCoefs[j] - coefs[j]); d > delta {
				delta = d
			}
		}
		intercept, coefs = newIntercept, newCoefs
		if delta < opts.Tol {
			converged = true
			iter++
			break
		}
	}

	for j, c := range coefs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("quantile q=%g: coefficient %d: %w", q, j, ErrNonFiniteCoefficients)
		}
	}

	level := q
	art := &Artifact{
		SchemaVersion: SchemaVersion,
		Name:          NameQuantile,
		Quantile:      &level,
		Alpha:         opts.Alpha,
		Intercept:     intercept,
		Coefficients:  coefs,
		FeatureSet:    frame.FeatureSet,
		Horizon:       frame.Horizon,
		TrainStart:    frame.Dates[0],
		TrainEnd:      frame.Dates[n-1],
		NTrain:        n,
		TrainedAt:     time.Now().UTC(),
	}
	return &QuantileResult{Artifact: art, Converged: converged, Iterations: iter}, nil
}

// solveWeightedRidge solves (XaᵀWXa + αD)β = XaᵀWy where Xa carries an
// explicit intercept column and D leaves the intercept unpenalized. Falls
// back to QR on √w-scaled rows if the normal matrix is not positive
// definite.
func solveWeightedRidge(rows [][]float64, y, w []float64, alpha float64) (intercept float64, coefs []float64, err error) {
	n := len(rows)
	if n == 0 {
		return 0, nil, fmt.Errorf("weighted ridge: no rows")
	}
	p := len(rows[0])
	pa := p + 1

	gram := mat.NewSymDense(pa, nil)
	rhs := mat.NewVecDense(pa, nil)
	xa := make([]float64, pa)
	for i := 0; i < n; i++ {
		xa[0] = 1
		copy(xa[1:], rows[i])
		wi := w[i]
		for a := 0; a < pa; a++ {
			rhs.SetVec(a, rhs.AtVec(a)+wi*y[i]*xa[a])
			for b := a; b < pa; b++ {
				gram.SetSym(a, b, gram.At(a, b)+wi*xa[a]*xa[b])
			}
		}
	}
	for a := 1; a < pa; a++ {
		gram.SetSym(a, a, gram.At(a, a)+alpha)
	}

	beta := mat.NewVecDense(pa, nil)
	var chol mat.Cholesky
	if chol.Factorize(gram) {
		if err := chol.SolveVecTo(beta, rhs); err != nil {
			return 0, nil, fmt.Errorf("weighted ridge: cholesky solve: %w", err)
		}
	} else {
		if err := solveWeightedQR(rows, y, w, alpha, beta); err != nil {
			return 0, nil, err
		}
	}

	coefs = make([]float64, p)
	for j := 0; j < p; j++ {
		coefs[j] = beta.AtVec(j + 1)
	}
	return beta.AtVec(0), coefs, nil
}

// solveWeightedQR solves the weighted problem as least squares on √w-scaled
// rows with √α ridge rows appended for the slope columns.
func solveWeightedQR(rows [][]float64, y, w []float64, alpha float64, beta *mat.VecDense) error {
	n := len(rows)
	p := len(rows[0])
	pa := p + 1

	aug := mat.NewDense(n+p, pa, nil)
	b := mat.NewDense(n+p, 1, nil)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		aug.Set(i, 0, sw)
		for j := 0; j < p; j++ {
			aug.Set(i, j+1, sw*rows[i][j])
		}
		b.Set(i, 0, sw*y[i])
	}
	sqrtAlpha := math.Sqrt(alpha)
	for j := 0; j < p; j++ {
		aug.Set(n+j, j+1, sqrtAlpha)
	}

	var qr mat.QR
	qr.Factorize(aug)
	var sol mat.Dense
	if err := qr.SolveTo(&sol, false, b); err != nil {
		return fmt.Errorf("weighted ridge: qr fallback: %w", err)
	}
	for a := 0; a < pa; a++ {
		beta.SetVec(a, sol.At(a, 0))
	}
	return nil
}

// =============================================================================
// Crossing Detection
// =============================================================================

// QuantileCrossings returns the rows where predicted quantiles are not
// monotone in the level (e.g. P10 above P50). Crossings are reported, never
// silently reordered: a crossing means the independent per-level fits
// disagree and the caller should see that.
func QuantileCrossings(preds map[float64][]float64) ([]int, error) {
	if len(preds) < 2 {
		return nil, nil
	}
	levels := make([]float64, 0, len(preds))
	n := -1
	for q, series := range preds {
		if q <= 0 || q >= 1 {
			return nil, fmt.Errorf("crossings: quantile %g out of range", q)
		}
		if n == -1 {
			n = len(series)
		} else if len(series) != n {
			return nil, fmt.Errorf("crossings: quantile %g has %d rows, want %d", q, len(series), n)
		}
		levels = append(levels, q)
	}
	sort.Float64s(levels)

	var crossed []int
	for i := 0; i < n; i++ {
		for k := 1; k < len(levels); k++ {
			if preds[levels[k-1]][i] > preds[levels[k]][i] {
				crossed = append(crossed, i)
				break
			}
		}
	}
	return crossed, nil
}
