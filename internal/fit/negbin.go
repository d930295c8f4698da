package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/optimize"

	"github.com/couchcryptid/tornado-season/internal/domain"
)

// NegBinResult is a negative-binomial (NB2) GLM of daily counts on a
// polynomial in the year fraction, with log link:
//
//	log E[nT] = b0 + b1·z + ... + bk·z^k,  z = 2·Df - 1
type NegBinResult struct {
	Degree int       `json:"degree"`
	Coef   []float64 `json:"coef"`
	Theta  float64   `json:"theta"`
	LogLik float64   `json:"log_lik"`
	AIC    float64   `json:"aic"`
	N      int       `json:"n"`
}

// Mean returns the fitted expected count at year fraction x.
func (r NegBinResult) Mean(x float64) float64 {
	return math.Exp(polyEval(r.Coef, 2*x-1))
}

// PeakFraction returns the year fraction with the highest expected count.
func (r NegBinResult) PeakFraction() float64 {
	best, bestX := -1.0, 0.0
	for d := 1; d <= domain.DaysInDomain; d++ {
		x := domain.DayFraction(d)
		if m := r.Mean(x); m > best {
			best, bestX = m, x
		}
	}
	return bestX
}

// FitNegBin fits the GLM by maximum likelihood with BFGS.
func FitNegBin(xs, counts []float64, degree int) (NegBinResult, error) {
	if len(xs) != len(counts) || len(xs) == 0 {
		return NegBinResult{}, errors.New("negbin: x and counts must be non-empty and equal length")
	}
	if degree < 0 {
		return NegBinResult{}, fmt.Errorf("negbin: invalid degree %d", degree)
	}

	k := degree + 1
	n := len(xs)
	// Design matrix rows: powers of the centered fraction.
	design := make([][]float64, n)
	lgammaY1 := 0.0
	mean := 0.0
	for i, x := range xs {
		z := 2*x - 1
		row := make([]float64, k)
		pw := 1.0
		for j := range row {
			row[j] = pw
			pw *= z
		}
		design[i] = row
		lg, _ := math.Lgamma(counts[i] + 1)
		lgammaY1 += lg
		mean += counts[i]
	}
	mean /= float64(n)
	if mean <= 0 {
		return NegBinResult{}, errors.New("negbin: all counts are zero")
	}

	// Parameter vector: coefficients then log theta.
	nll := func(p []float64) float64 {
		theta := math.Exp(p[k])
		lgTheta, _ := math.Lgamma(theta)
		sum := 0.0
		for i, row := range design {
			eta := floats.Dot(row, p[:k])
			mu := math.Exp(eta)
			y := counts[i]
			lgYT, _ := math.Lgamma(y + theta)
			logDen := math.Log(theta + mu)
			sum += lgYT - lgTheta + theta*(p[k]-logDen) + y*(eta-logDen)
		}
		v := -(sum - lgammaY1)
		if math.IsNaN(v) {
			return math.Inf(1)
		}
		return v
	}
	grad := func(g, p []float64) {
		theta := math.Exp(p[k])
		for j := range g {
			g[j] = 0
		}
		dgTheta := mathext.Digamma(theta)
		for i, row := range design {
			mu := math.Exp(floats.Dot(row, p[:k]))
			y := counts[i]
			common := (y - mu) * theta / (theta + mu)
			for j := 0; j < k; j++ {
				g[j] -= common * row[j]
			}
			dTheta := mathext.Digamma(y+theta) - dgTheta + math.Log(theta/(theta+mu)) + 1 - (y+theta)/(theta+mu)
			g[k] -= theta * dTheta
		}
	}

	init := make([]float64, k+1)
	init[0] = math.Log(mean)
	problem := optimize.Problem{Func: nll, Grad: grad}
	res, err := optimize.Minimize(problem, init, &optimize.Settings{MajorIterations: 2000}, &optimize.BFGS{})
	if err != nil && res == nil {
		return NegBinResult{}, fmt.Errorf("negbin: %w", err)
	}
	if res == nil || math.IsInf(res.F, 0) || math.IsNaN(res.F) {
		return NegBinResult{}, fmt.Errorf("negbin: %w", ErrNoConvergence)
	}

	return NegBinResult{
		Degree: degree,
		Coef:   append([]float64(nil), res.X[:k]...),
		Theta:  math.Exp(res.X[k]),
		LogLik: -res.F,
		AIC:    2*float64(k+1) + 2*res.F,
		N:      n,
	}, nil
}

// polyEval evaluates c0 + c1·z + ... by Horner's rule.
func polyEval(c []float64, z float64) float64 {
	v := 0.0
	for i := len(c) - 1; i >= 0; i-- {
		v = v*z + c[i]
	}
	return v
}
