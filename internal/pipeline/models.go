package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/couchcryptid/tornado-season/internal/curve"
	"github.com/couchcryptid/tornado-season/internal/domain"
	"github.com/couchcryptid/tornado-season/internal/fit"
	"github.com/couchcryptid/tornado-season/internal/report"
)

// Model kinds as reported in fits.json.
const (
	kindGLM   = "glm"
	kindNLS   = "nls"
	kindGNLS  = "gnls"
	kindBayes = "bayes"
)

// negBinDegree is the polynomial degree of the GLM in the centered year
// fraction; four terms let the season rise and fall asymmetrically.
const negBinDegree = 4

type modelSpec struct {
	kind   string
	form   curve.Form
	random []string
}

var modelSpecs = map[string]modelSpec{
	"negbin":                 {kind: kindGLM},
	"nls":                    {kind: kindNLS, form: curve.Single},
	"gnls":                   {kind: kindGNLS, form: curve.Single},
	"bayes-single-re":        {kind: kindBayes, form: curve.Single, random: []string{"A"}},
	"bayes-mixture":          {kind: kindBayes, form: curve.Mixture},
	"bayes-mixture-re":       {kind: kindBayes, form: curve.Mixture, random: []string{"A"}},
	"bayes-mixture-re-shape": {kind: kindBayes, form: curve.Mixture, random: []string{"A", "s1", "s2"}},
}

// ModelResult is one fitted model. Exactly one of the fit fields is set.
type ModelResult struct {
	Report    report.ModelReport
	Summaries []domain.SeasonSummary

	NegBin    *fit.NegBinResult
	NLS       *fit.NLSResult
	GNLS      *fit.GNLSResult
	Posterior *fit.Posterior
}

// ModelRunner fits named models against one cumulative table. Least-squares
// fits are cached so later models can start from them.
type ModelRunner struct {
	runID   string
	daily   []domain.DayCount
	rows    []domain.CumulativeCount
	data    *fit.Data
	priors  map[string]string
	sampler *fit.Sampler
	logger  *slog.Logger

	nls map[curve.Form]*fit.NLSResult
}

// NewModelRunner prepares fitting data from the aggregated tables.
func NewModelRunner(runID string, daily []domain.DayCount, rows []domain.CumulativeCount, priors map[string]string, sampler *fit.Sampler, logger *slog.Logger) (*ModelRunner, error) {
	data, err := fit.NewData(rows)
	if err != nil {
		return nil, err
	}
	return &ModelRunner{
		runID:   runID,
		daily:   daily,
		rows:    rows,
		data:    data,
		priors:  priors,
		sampler: sampler,
		logger:  logger,
		nls:     make(map[curve.Form]*fit.NLSResult),
	}, nil
}

// Data exposes the fitting data.
func (r *ModelRunner) Data() *fit.Data { return r.data }

// Fit runs the named model.
func (r *ModelRunner) Fit(ctx context.Context, name string) (ModelResult, error) {
	spec, ok := modelSpecs[name]
	if !ok {
		err := fmt.Errorf("unknown model %q", name)
		return ModelResult{Report: report.ModelReport{Model: name, Error: err.Error()}}, err
	}
	start := time.Now()

	var (
		res ModelResult
		err error
	)
	switch spec.kind {
	case kindGLM:
		res, err = r.fitNegBin(name)
	case kindNLS:
		res, err = r.fitNLS(name, spec.form)
	case kindGNLS:
		res, err = r.fitGNLS(name, spec.form)
	case kindBayes:
		res, err = r.fitBayes(ctx, name, spec)
	}
	res.Report.Model = name
	res.Report.Kind = spec.kind
	res.Report.Form = spec.form
	res.Report.Duration = time.Since(start).String()
	if err != nil {
		res.Report.Error = err.Error()
	}
	return res, err
}

func (r *ModelRunner) fitNegBin(name string) (ModelResult, error) {
	xs := make([]float64, len(r.daily))
	ys := make([]float64, len(r.daily))
	for i, d := range r.daily {
		xs[i] = domain.DayFraction(d.D)
		ys[i] = float64(d.NT)
	}
	nb, err := fit.FitNegBin(xs, ys, negBinDegree)
	if err != nil {
		return ModelResult{}, err
	}

	params := make([]domain.ParamEstimate, 0, len(nb.Coef)+1)
	for i, c := range nb.Coef {
		params = append(params, domain.ParamEstimate{Name: fmt.Sprintf("b%d", i), Value: c})
	}
	params = append(params, domain.ParamEstimate{Name: "theta", Value: nb.Theta})

	lm := negBinLandmarks(nb)
	summary := domain.NewSeasonSummary(r.runID, name, 0, int(math.Round(r.data.MeanTotal())))
	applyLandmarks(&summary, lm)
	summary.Params = params

	return ModelResult{
		Report: report.ModelReport{
			Params:    params,
			Landmarks: &lm,
			Stats: map[string]float64{
				"log_lik": nb.LogLik,
				"aic":     nb.AIC,
				"theta":   nb.Theta,
				"n":       float64(nb.N),
			},
		},
		Summaries: []domain.SeasonSummary{summary},
		NegBin:    &nb,
	}, nil
}

// negBinLandmarks reads onset and decline off the cumulative expected
// count and the peak off the rate.
func negBinLandmarks(nb fit.NegBinResult) curve.Landmarks {
	total := 0.0
	means := make([]float64, domain.DaysInDomain)
	for d := 1; d <= domain.DaysInDomain; d++ {
		means[d-1] = nb.Mean(domain.DayFraction(d))
		total += means[d-1]
	}
	lm := curve.Landmarks{Peak: nb.PeakFraction() * 365, Decline: 365}
	cum := 0.0
	onsetDone := false
	for d, m := range means {
		cum += m
		if !onsetDone && cum >= 0.1*total {
			lm.Onset = float64(d + 1)
			onsetDone = true
		}
		if cum >= 0.9*total {
			lm.Decline = float64(d + 1)
			break
		}
	}
	return lm
}

// initialGuess is a starting point for least squares on a form.
func (r *ModelRunner) initialGuess(form curve.Form) []float64 {
	a := r.data.MeanTotal()
	if form == curve.Mixture {
		return []float64{a, 0.4, 0.3, 6, 0.55, 4}
	}
	return []float64{a, 0.45, 4}
}

// leastSquares returns the cached NLS fit of form, fitting it on first use.
func (r *ModelRunner) leastSquares(form curve.Form) (*fit.NLSResult, error) {
	if cached, ok := r.nls[form]; ok {
		return cached, nil
	}
	res, err := fit.FitNLS(form, r.data, r.initialGuess(form), fit.Options{})
	if err != nil {
		return nil, err
	}
	r.nls[form] = &res
	r.logger.Debug("least squares fit", "form", form, "rss", res.RSS, "iterations", res.Iterations)
	return &res, nil
}

func (r *ModelRunner) fitNLS(name string, form curve.Form) (ModelResult, error) {
	res, err := r.leastSquares(form)
	if err != nil {
		return ModelResult{}, err
	}
	out := r.pointResult(name, form, res.Names, res.Params, res.StdErr)
	out.Report.Stats = map[string]float64{
		"rss":        res.RSS,
		"sigma":      res.Sigma,
		"n":          float64(res.N),
		"iterations": float64(res.Iterations),
	}
	out.NLS = res
	return out, nil
}

func (r *ModelRunner) fitGNLS(name string, form curve.Form) (ModelResult, error) {
	start, err := r.leastSquares(form)
	if err != nil {
		return ModelResult{}, fmt.Errorf("start values: %w", err)
	}
	res, err := fit.FitGNLS(form, r.data, *start, fit.Options{})
	if err != nil {
		return ModelResult{}, err
	}
	out := r.pointResult(name, form, res.Names, res.Params, res.StdErr)
	out.Report.Stats = map[string]float64{
		"rss":     res.RSS,
		"sigma":   res.Sigma,
		"delta":   res.Delta,
		"log_lik": res.LogLik,
		"aic":     res.AIC,
		"n":       float64(res.N),
	}
	out.GNLS = &res
	return out, nil
}

// pointResult builds report rows and the pooled summary for an
// optimizer fit, with Wald 95% intervals.
func (r *ModelRunner) pointResult(name string, form curve.Form, names []string, values, stdErr []float64) ModelResult {
	params := make([]domain.ParamEstimate, len(names))
	for i, n := range names {
		params[i] = domain.ParamEstimate{
			Name:  n,
			Value: values[i],
			SD:    stdErr[i],
			Lower: values[i] - 1.96*stdErr[i],
			Upper: values[i] + 1.96*stdErr[i],
		}
	}
	lm := form.SeasonLandmarks(values)
	summary := domain.NewSeasonSummary(r.runID, name, 0, int(math.Round(r.data.MeanTotal())))
	applyLandmarks(&summary, lm)
	summary.Params = params
	return ModelResult{
		Report:    report.ModelReport{Params: params, Landmarks: &lm},
		Summaries: []domain.SeasonSummary{summary},
	}
}

func (r *ModelRunner) fitBayes(ctx context.Context, name string, spec modelSpec) (ModelResult, error) {
	names := spec.form.ParamNames()
	priors, err := fit.ApplyPriorOverrides(fit.DefaultPriors(names, spec.random, r.data.MeanTotal()), r.priors)
	if err != nil {
		return ModelResult{}, err
	}
	model := fit.Model{Name: name, Form: spec.form, Random: spec.random, Priors: priors}

	init, sigma := r.initialGuess(spec.form), 0.0
	if ls, err := r.leastSquares(spec.form); err == nil {
		init, sigma = ls.Params, ls.Sigma
	} else {
		r.logger.Warn("least squares start failed, sampling from default start", "model", name, "error", err)
	}

	post, err := r.sampler.Run(ctx, model, r.data, init, sigma)
	if err != nil {
		return ModelResult{}, err
	}

	summary := post.Summary()
	popParams := make([]domain.ParamEstimate, len(summary))
	for i, s := range summary {
		popParams[i] = domain.ParamEstimate{Name: s.Name, Value: s.Mean, SD: s.SD, Lower: s.Q025, Upper: s.Q975}
	}

	popMean, err := post.MeanParams(0)
	if err != nil {
		return ModelResult{}, err
	}
	lm := spec.form.SeasonLandmarks(popMean)
	pooled := domain.NewSeasonSummary(r.runID, name, 0, int(math.Round(r.data.MeanTotal())))
	applyLandmarks(&pooled, lm)
	pooled.Params = popParams
	summaries := []domain.SeasonSummary{pooled}

	if len(spec.random) > 0 {
		for g, year := range post.Years {
			yp, err := post.MeanParams(year)
			if err != nil {
				return ModelResult{}, err
			}
			s := domain.NewSeasonSummary(r.runID, name, year, int(r.data.Total[g]))
			applyLandmarks(&s, spec.form.SeasonLandmarks(yp))
			s.Params = make([]domain.ParamEstimate, len(names))
			for i, n := range names {
				s.Params[i] = domain.ParamEstimate{Name: n, Value: yp[i]}
			}
			summaries = append(summaries, s)
		}
	}

	return ModelResult{
		Report: report.ModelReport{
			Params:    popParams,
			Landmarks: &lm,
			Posterior: summary,
			Stats: map[string]float64{
				"acceptance": post.Acceptance,
				"max_rhat":   post.MaxRhat(),
				"draws":      float64(post.NumDraws()),
				"chains":     float64(len(post.Chains)),
			},
		},
		Summaries: summaries,
		Posterior: post,
	}, nil
}

func applyLandmarks(s *domain.SeasonSummary, lm curve.Landmarks) {
	s.Onset, s.Peak, s.Decline = lm.Onset, lm.Peak, lm.Decline
}
