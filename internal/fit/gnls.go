package fit

import (
	"fmt"
	"math"

	"github.com/couchcryptid/tornado-season/internal/curve"
)

// meanFloor keeps the variance function away from zero on the flat early
// part of the cumulative curve, where fitted means approach 0.
const meanFloor = 1.0

// GNLSResult is a weighted generalized least-squares fit with variance
// function Var(e) = sigma² · |mu|^(2·delta).
type GNLSResult struct {
	NLSResult
	Delta  float64 `json:"delta"`
	LogLik float64 `json:"log_lik"`
	AIC    float64 `json:"aic"`
}

// FitGNLS estimates curve parameters, sigma and the variance power delta
// jointly by maximum likelihood. start typically comes from FitNLS.
func FitGNLS(form curve.Form, d *Data, start NLSResult, opts Options) (GNLSResult, error) {
	if err := form.Validate(); err != nil {
		return GNLSResult{}, err
	}
	if start.Form != form || len(start.Params) != len(form.ParamNames()) {
		return GNLSResult{}, fmt.Errorf("gnls: start values are not a %s fit", form)
	}
	opts = opts.withDefaults()

	names := form.ParamNames()
	k := len(names)
	sigma0 := start.Sigma
	if sigma0 <= 0 || math.IsNaN(sigma0) {
		sigma0 = 1
	}

	z0 := append(toFreeVec(names, start.Params), math.Log(sigma0), 0)
	p := make([]float64, k)

	negLogLik := func(z []float64) float64 {
		fromFreeVec(names, z[:k], p)
		logSigma, delta := z[k], z[k+1]
		if math.Abs(delta) > 3 {
			return math.Inf(1)
		}
		nll := 0.0
		for i, x := range d.X {
			mu := form.Eval(p, x)
			logScale := logSigma + delta*math.Log(math.Max(math.Abs(mu), meanFloor))
			r := (d.Y[i] - mu) / math.Exp(logScale)
			nll += 0.5*r*r + logScale
		}
		nll += 0.5 * float64(d.Len()) * math.Log(2*math.Pi)
		if math.IsNaN(nll) {
			return math.Inf(1)
		}
		return nll
	}

	loc, stats, err := minimizeWithRestarts(negLogLik, z0, opts)
	if err != nil {
		return GNLSResult{}, fmt.Errorf("gnls %s: %w", form, err)
	}

	params := fromFreeVec(names, loc.X[:k], nil)
	sigma := math.Exp(loc.X[k])
	delta := loc.X[k+1]

	rss := 0.0
	for i, x := range d.X {
		r := d.Y[i] - form.Eval(params, x)
		rss += r * r
	}

	free := float64(k + 2)
	return GNLSResult{
		NLSResult: NLSResult{
			Form:       form,
			Names:      names,
			Params:     params,
			StdErr:     weightedStdErr(form, d, params, sigma, delta),
			RSS:        rss,
			Sigma:      sigma,
			N:          d.Len(),
			Iterations: stats.MajorIterations,
			FuncEvals:  stats.FuncEvaluations,
		},
		Delta:  delta,
		LogLik: -loc.F,
		AIC:    2*free + 2*loc.F,
	}, nil
}

// weightedStdErr uses per-observation precisions from the variance function.
func weightedStdErr(form curve.Form, d *Data, params []float64, sigma, delta float64) []float64 {
	return curveStdErr(form, d.X, params, func(x float64) float64 {
		sd := sigma * math.Pow(math.Max(math.Abs(form.Eval(params, x)), meanFloor), delta)
		return 1 / (sd * sd)
	})
}
