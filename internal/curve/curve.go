// Package curve defines the S-shaped growth curves fitted to cumulative
// tornado counts over the year fraction Df.
//
// The building block is the generalized (log-)logistic component
//
//	S(x; m, s) = 1 / (1 + (x/m)^(-s))
//
// where m is the inflection location as a fraction of the year (S(m) = 1/2)
// and s the sharpness exponent. Two forms are built from it:
//
//	single:  C = A · S(x; m, s)
//	mixture: C = A · (w·S(x; m1, s1) + (1-w)·S(x; m2, s2))
//
// A is the seasonal total and w the share of the early-season surge.
package curve

import (
	"fmt"
	"math"
)

// Form identifies a curve family.
type Form string

const (
	Single  Form = "single"
	Mixture Form = "mixture"
)

// Parameter names in vector order for each form.
var (
	singleNames  = []string{"A", "m", "s"}
	mixtureNames = []string{"A", "w", "m1", "s1", "m2", "s2"}
)

// ParamNames returns the parameter names of a form in vector order.
func (f Form) ParamNames() []string {
	switch f {
	case Single:
		return singleNames
	case Mixture:
		return mixtureNames
	default:
		return nil
	}
}

// Validate reports whether f is a known form.
func (f Form) Validate() error {
	if f.ParamNames() == nil {
		return fmt.Errorf("unknown curve form %q", string(f))
	}
	return nil
}

// Component evaluates S(x; m, s). It is 0 at x <= 0.
func Component(x, m, s float64) float64 {
	if x <= 0 {
		return 0
	}
	return 1 / (1 + math.Pow(x/m, -s))
}

// componentDensity is dS/dx.
func componentDensity(x, m, s float64) float64 {
	if x <= 0 {
		return 0
	}
	r := math.Pow(x/m, -s)
	return s * r / (x * (1 + r) * (1 + r))
}

// Eval returns the curve value at x for parameters p in ParamNames order.
func (f Form) Eval(p []float64, x float64) float64 {
	switch f {
	case Single:
		return p[0] * Component(x, p[1], p[2])
	case Mixture:
		return p[0] * (p[1]*Component(x, p[2], p[3]) + (1-p[1])*Component(x, p[4], p[5]))
	default:
		return math.NaN()
	}
}

// Density is the derivative of the curve with respect to x: the expected
// tornado rate per unit year fraction.
func (f Form) Density(p []float64, x float64) float64 {
	switch f {
	case Single:
		return p[0] * componentDensity(x, p[1], p[2])
	case Mixture:
		return p[0] * (p[1]*componentDensity(x, p[2], p[3]) + (1-p[1])*componentDensity(x, p[4], p[5]))
	default:
		return math.NaN()
	}
}

// Asymptote returns the A parameter.
func Asymptote(p []float64) float64 { return p[0] }
