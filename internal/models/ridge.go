package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/wonny/fuelcast/internal/dataset"
)

// ErrNonFiniteCoefficients marks a fit whose solution contains NaN or Inf.
// Treated as fatal: an artifact with such coefficients must never be stored
// or used for prediction.
var ErrNonFiniteCoefficients = errors.New("non-finite coefficients")

// Model name keys. Stored in artifacts, metric rows and forecast records.
const (
	NameRidgeBaseline = "ridge_baseline"
	NameResidual      = "inventory_residual"
	NameBasis         = "basis_adjusted"
	NameEnsemble      = "ensemble"
)

// =============================================================================
// Ridge Solver
// =============================================================================

// solveRidge solves the centered ridge normal equations
//
//	(Xcᵀ Xc + α I) β = Xcᵀ yc
//
// where Xc and yc are the column-centered design matrix and target. The
// intercept is recovered from the column means, matching the conventional
// unpenalized-intercept formulation. Cholesky first; if the Gram matrix is
// not positive definite (collinear columns with α = 0), falls back to a QR
// least-squares solve of the augmented system [X; √α·I].
func solveRidge(x *mat.Dense, y []float64, alpha float64) (intercept float64, coefs []float64, err error) {
	n, p := x.Dims()
	if n == 0 || p == 0 {
		return 0, nil, fmt.Errorf("ridge: empty design matrix (%dx%d)", n, p)
	}
	if len(y) != n {
		return 0, nil, fmt.Errorf("ridge: %d targets for %d rows", len(y), n)
	}
	if alpha < 0 {
		return 0, nil, fmt.Errorf("ridge: negative alpha %g", alpha)
	}

	xMeans := make([]float64, p)
	for j := 0; j < p; j++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += x.At(i, j)
		}
		xMeans[j] = sum / float64(n)
	}
	yMean := 0.0
	for _, v := range y {
		yMean += v
	}
	yMean /= float64(n)

	xc := mat.NewDense(n, p, nil)
	yc := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			xc.Set(i, j, x.At(i, j)-xMeans[j])
		}
		yc[i] = y[i] - yMean
	}

	// Gram matrix XcᵀXc + αI
	var xtx mat.Dense
	xtx.Mul(xc.T(), xc)
	gram := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := xtx.At(i, j)
			if i == j {
				v += alpha
			}
			gram.SetSym(i, j, v)
		}
	}

	var xty mat.VecDense
	xty.MulVec(xc.T(), mat.NewVecDense(n, yc))

	beta := mat.NewVecDense(p, nil)
	var chol mat.Cholesky
	if chol.Factorize(gram) {
		if err := chol.SolveVecTo(beta, &xty); err != nil {
			return 0, nil, fmt.Errorf("ridge: cholesky solve: %w", err)
		}
	} else {
		if err := solveRidgeQR(xc, yc, alpha, beta); err != nil {
			return 0, nil, err
		}
	}

	coefs = make([]float64, p)
	for j := 0; j < p; j++ {
		coefs[j] = beta.AtVec(j)
		if math.IsNaN(coefs[j]) || math.IsInf(coefs[j], 0) {
			return 0, nil, fmt.Errorf("ridge: coefficient %d: %w", j, ErrNonFiniteCoefficients)
		}
	}

	intercept = yMean
	for j := 0; j < p; j++ {
		intercept -= coefs[j] * xMeans[j]
	}
	if math.IsNaN(intercept) || math.IsInf(intercept, 0) {
		return 0, nil, fmt.Errorf("ridge: intercept: %w", ErrNonFiniteCoefficients)
	}
	return intercept, coefs, nil
}

// solveRidgeQR solves min ‖[Xc;√α·I]β − [yc;0]‖² for rank-deficient cases.
func solveRidgeQR(xc *mat.Dense, yc []float64, alpha float64, beta *mat.VecDense) error {
	n, p := xc.Dims()
	aug := mat.NewDense(n+p, p, nil)
	b := mat.NewDense(n+p, 1, nil)
	sqrtAlpha := math.Sqrt(alpha)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			aug.Set(i, j, xc.At(i, j))
		}
		b.Set(i, 0, yc[i])
	}
	for j := 0; j < p; j++ {
		aug.Set(n+j, j, sqrtAlpha)
	}

	var qr mat.QR
	qr.Factorize(aug)
	var sol mat.Dense
	if err := qr.SolveTo(&sol, false, b); err != nil {
		return fmt.Errorf("ridge: qr fallback: %w", err)
	}
	for j := 0; j < p; j++ {
		beta.SetVec(j, sol.At(j, 0))
	}
	return nil
}

// =============================================================================
// Ridge Baseline Trainer
// =============================================================================

// TrainRidge selects a regularization strength by expanding-window CV, refits
// once on the full frame and returns the artifact. The input frame is never
// mutated. With a single candidate alpha the CV step is skipped.
func TrainRidge(name string, frame *dataset.Frame, alphas []float64, splits int) (*Artifact, *CVResult, error) {
	if frame == nil || frame.Len() == 0 {
		return nil, nil, &dataset.InsufficientDataError{Context: "ridge " + name, Rows: 0, Min: 2}
	}
	if len(alphas) == 0 {
		return nil, nil, fmt.Errorf("ridge %s: no candidate alphas", name)
	}

	var cv *CVResult
	alpha := alphas[0]
	if len(alphas) > 1 {
		var err error
		cv, err = SelectAlpha(frame, alphas, splits)
		if err != nil {
			return nil, nil, fmt.Errorf("ridge %s: %w", name, err)
		}
		alpha = cv.Alpha
	}

	art, err := fitArtifact(name, frame, alpha)
	if err != nil {
		return nil, nil, err
	}
	return art, cv, nil
}

// fitArtifact runs one full-window fit at a fixed alpha.
func fitArtifact(name string, frame *dataset.Frame, alpha float64) (*Artifact, error) {
	x, y := frame.Matrix()
	intercept, coefs, err := solveRidge(x, y, alpha)
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", name, err)
	}
	return &Artifact{
		SchemaVersion: SchemaVersion,
		Name:          name,
		Alpha:         alpha,
		Intercept:     intercept,
		Coefficients:  coefs,
		FeatureSet:    frame.FeatureSet,
		Horizon:       frame.Horizon,
		TrainStart:    frame.Dates[0],
		TrainEnd:      frame.Dates[frame.Len()-1],
		NTrain:        frame.Len(),
		TrainedAt:     time.Now().UTC(),
	}, nil
}
