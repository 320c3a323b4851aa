package solver

import (
	"fmt"
	"log/slog"

	"github.com/transportlab/bte/scattering"
)

// ApplyFunc is the matrix-free action of the full collision operator, as
// produced by a builder in apply mode.
type ApplyFunc func(*scattering.Vector) (*scattering.Vector, error)

// Iterative runs the Omini-Sparavigna fixed point
//
//	f_{n+1} = f_RTA + f_n - Gamma^{-1} (Omega f_n)
//
// which converges to the exact solution when the off-diagonal part is a
// contraction. Non-convergence is reported in the result, not as an
// error: the best-effort populations are still meaningful.
type Iterative struct {
	Tolerance     float64 // relative change threshold, default 1e-5
	MaxIterations int     // default 50
	Logger        *slog.Logger
}

// Result carries the populations and the convergence diagnostics.
type Result struct {
	Populations *scattering.Vector
	Converged   bool
	Iterations  int
	Residual    float64
}

// Solve iterates from the RTA populations.
func (s *Iterative) Solve(apply ApplyFunc, linewidths, source *scattering.Vector) (Result, error) {
	tol := s.Tolerance
	if tol <= 0 {
		tol = 1e-5
	}
	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = 50
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fRTA, err := RTA(source, linewidths)
	if err != nil {
		return Result{}, err
	}
	f := fRTA.Clone()

	res := Result{Populations: f}
	for iter := 1; iter <= maxIter; iter++ {
		omegaF, err := apply(f)
		if err != nil {
			return Result{}, fmt.Errorf("solver: apply at iteration %d: %w", iter, err)
		}
		next := fRTA.Clone()
		if err := next.Add(f); err != nil {
			return Result{}, err
		}
		// subtract Gamma^{-1} Omega f
		for ic := 0; ic < f.NumCalcs(); ic++ {
			for is := 0; is < f.NumStates(); is++ {
				g := linewidths.At(ic, is, 0)
				if g < gammaFloor {
					for d := 0; d < f.Dims(); d++ {
						next.Set(ic, is, d, 0)
					}
					continue
				}
				for d := 0; d < f.Dims(); d++ {
					next.AddAt(ic, is, d, -omegaF.At(ic, is, d)/g)
				}
			}
		}

		diff := next.Clone()
		if err := diff.AddScaled(f, -1); err != nil {
			return Result{}, err
		}
		norm := f.Norm()
		if norm == 0 {
			norm = 1
		}
		res.Residual = diff.Norm() / norm
		res.Iterations = iter
		f = next
		res.Populations = f
		if res.Residual < tol {
			res.Converged = true
			logger.Debug("iterative solver converged",
				"iterations", iter, "residual", res.Residual)
			return res, nil
		}
	}
	logger.Warn("iterative solver did not converge",
		"iterations", res.Iterations, "residual", res.Residual)
	return res, nil
}
