package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/couchcryptid/tornado-season/internal/curve"
)

// NLSResult is a least-squares curve fit.
type NLSResult struct {
	Form       curve.Form `json:"form"`
	Names      []string   `json:"names"`
	Params     []float64  `json:"params"`
	StdErr     []float64  `json:"std_err"`
	RSS        float64    `json:"rss"`
	Sigma      float64    `json:"sigma"`
	N          int        `json:"n"`
	Iterations int        `json:"iterations"`
	FuncEvals  int        `json:"func_evals"`
}

// Predict evaluates the fitted curve at x.
func (r NLSResult) Predict(x float64) float64 {
	return r.Form.Eval(r.Params, x)
}

// Options bound the optimizer.
type Options struct {
	MaxIterations int
	Restarts      int
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 20000
	}
	if o.Restarts <= 0 {
		o.Restarts = 3
	}
	return o
}

// FitNLS fits form to (X, Y) by nonlinear least squares, pooling all
// years. init is in ParamNames order on the natural scale.
func FitNLS(form curve.Form, d *Data, init []float64, opts Options) (NLSResult, error) {
	if err := form.Validate(); err != nil {
		return NLSResult{}, err
	}
	names := form.ParamNames()
	if len(init) != len(names) {
		return NLSResult{}, fmt.Errorf("nls: %d initial values for %d parameters", len(init), len(names))
	}
	opts = opts.withDefaults()

	p := make([]float64, len(names))
	rss := func(z []float64) float64 {
		fromFreeVec(names, z, p)
		sum := 0.0
		for i, x := range d.X {
			r := d.Y[i] - form.Eval(p, x)
			sum += r * r
		}
		if math.IsNaN(sum) {
			return math.Inf(1)
		}
		return sum
	}

	loc, stats, err := minimizeWithRestarts(rss, toFreeVec(names, init), opts)
	if err != nil {
		return NLSResult{}, fmt.Errorf("nls %s: %w", form, err)
	}

	params := fromFreeVec(names, loc.X, nil)
	n := d.Len()
	dof := n - len(params)
	if dof < 1 {
		dof = 1
	}
	sigma := math.Sqrt(loc.F / float64(dof))

	return NLSResult{
		Form:       form,
		Names:      names,
		Params:     params,
		StdErr:     curveStdErr(form, d.X, params, func(float64) float64 { return 1 / (sigma * sigma) }),
		RSS:        loc.F,
		Sigma:      sigma,
		N:          n,
		Iterations: stats.MajorIterations,
		FuncEvals:  stats.FuncEvaluations,
	}, nil
}

// minimizeWithRestarts runs Nelder-Mead repeatedly from the last optimum;
// restarting re-inflates a collapsed simplex.
func minimizeWithRestarts(f func([]float64) float64, start []float64, opts Options) (optimize.Location, optimize.Stats, error) {
	problem := optimize.Problem{Func: f}
	settings := &optimize.Settings{MajorIterations: opts.MaxIterations}

	var (
		best  optimize.Location
		stats optimize.Stats
	)
	x := append([]float64(nil), start...)
	for i := 0; i < opts.Restarts; i++ {
		res, err := optimize.Minimize(problem, x, settings, &optimize.NelderMead{})
		if err != nil && res == nil {
			return best, stats, err
		}
		stats.MajorIterations += res.Stats.MajorIterations
		stats.FuncEvaluations += res.Stats.FuncEvaluations
		if i == 0 || res.F < best.F {
			best = optimize.Location{X: append([]float64(nil), res.X...), F: res.F}
		}
		x = best.X
	}
	if math.IsInf(best.F, 0) || math.IsNaN(best.F) {
		return best, stats, ErrNoConvergence
	}
	return best, stats, nil
}

// curveStdErr approximates standard errors from (JᵀWJ)⁻¹ with a
// forward-difference Jacobian, where W holds per-observation precisions.
// Entries are NaN when the information matrix is singular.
func curveStdErr(form curve.Form, xs, params []float64, precision func(x float64) float64) []float64 {
	k := len(params)
	jac := mat.NewDense(len(xs), k, nil)
	shifted := make([]float64, k)
	for j := 0; j < k; j++ {
		copy(shifted, params)
		h := 1e-6 * math.Max(math.Abs(params[j]), 1e-3)
		shifted[j] += h
		for i, x := range xs {
			w := math.Sqrt(precision(x))
			jac.Set(i, j, w*(form.Eval(shifted, x)-form.Eval(params, x))/h)
		}
	}

	var info mat.SymDense
	info.SymOuterK(1, jac.T())

	out := make([]float64, k)
	for i := range out {
		out[i] = math.NaN()
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(&info); !ok {
		return out
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return out
	}
	for i := range out {
		out[i] = math.Sqrt(cov.At(i, i))
	}
	return out
}
