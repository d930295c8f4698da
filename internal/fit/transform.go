package fit

import (
	"math"
	"strings"
)

// constraint describes the support of a curve parameter. Optimizers and
// the sampler move on the unconstrained scale.
type constraint int

const (
	positive constraint = iota // (0, inf), log link
	unit                       // (0, 1), logit link
)

// constraintFor maps a parameter name to its support. Weights and
// inflection locations live on (0, 1); everything else is positive.
func constraintFor(name string) constraint {
	switch {
	case name == "w", strings.HasPrefix(name, "m"):
		return unit
	default:
		return positive
	}
}

func (c constraint) toFree(v float64) float64 {
	switch c {
	case positive:
		return math.Log(v)
	default:
		return math.Log(v / (1 - v))
	}
}

func (c constraint) fromFree(z float64) float64 {
	switch c {
	case positive:
		return math.Exp(z)
	default:
		return 1 / (1 + math.Exp(-z))
	}
}

// logJacobian is log |dv/dz| at z.
func (c constraint) logJacobian(z float64) float64 {
	switch c {
	case positive:
		return z
	default:
		// log(v) + log(1-v) with v = logistic(z), written to avoid overflow.
		return -softplus(-z) - softplus(z)
	}
}

func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

// toFreeVec converts named parameter values to the unconstrained scale.
func toFreeVec(names []string, v []float64) []float64 {
	z := make([]float64, len(v))
	for i, n := range names {
		z[i] = constraintFor(n).toFree(v[i])
	}
	return z
}

// fromFreeVec is the inverse of toFreeVec, written into dst.
func fromFreeVec(names []string, z, dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(z))
	}
	for i, n := range names {
		dst[i] = constraintFor(n).fromFree(z[i])
	}
	return dst
}
