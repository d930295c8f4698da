package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/tornado-season/internal/chart"
	"github.com/couchcryptid/tornado-season/internal/domain"
	"github.com/couchcryptid/tornado-season/internal/fit"
	"github.com/couchcryptid/tornado-season/internal/observability"
	"github.com/couchcryptid/tornado-season/internal/report"
)

// ErrNoResults is returned by readers before a run has completed.
var ErrNoResults = errors.New("no completed run yet")

// Fetcher makes the raw dataset available locally and returns its path.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// TrackLoader parses tracks from a local dataset path and reports how
// many records it skipped.
type TrackLoader interface {
	Load(path string) ([]domain.Track, int, error)
}

// SummaryPublisher writes season summaries to a downstream sink.
type SummaryPublisher interface {
	LoadBatch(ctx context.Context, summaries []domain.SeasonSummary) error
}

// Options are the run settings the pipeline needs.
type Options struct {
	Source       string
	MinYear      int
	MinMagnitude int
	Models       []string
	Priors       map[string]string
	Sampler      fit.SamplerConfig
	PPCDraws     int
	OutputDir    string
	PlotsEnabled bool
	FacetYears   []int
}

// Results is everything a completed run produced.
type Results struct {
	RunID      string
	Tracks     []domain.Track
	Daily      []domain.DayCount
	Cumulative []domain.CumulativeCount
	Fits       report.FitsReport
	Models     []ModelResult
	Summaries  []domain.SeasonSummary
}

// Pipeline orchestrates acquire, load, aggregate, fit and report.
type Pipeline struct {
	fetcher   Fetcher
	loader    TrackLoader
	publisher SummaryPublisher
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool

	mu      sync.RWMutex
	results *Results
}

// New creates a Pipeline. publisher may be nil to skip publishing.
func New(f Fetcher, l TrackLoader, pub SummaryPublisher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		fetcher:   f,
		loader:    l,
		publisher: pub,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once a run has completed, or an error
// describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("analysis run has not completed yet")
	}
	return nil
}

// Latest returns the results of the last completed run.
func (p *Pipeline) Latest() (*Results, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.results == nil {
		return nil, ErrNoResults
	}
	return p.results, nil
}

// Run executes one analysis. Stage failures abort the run; individual
// model failures are logged, recorded in fits.json and skipped.
func (p *Pipeline) Run(ctx context.Context) (*Results, error) {
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	res := &Results{RunID: uuid.NewString()}
	logger := p.logger.With("run_id", res.RunID)
	logger.Info("run started", "models", p.opts.Models, "min_year", p.opts.MinYear, "min_magnitude", p.opts.MinMagnitude)

	if err := p.run(ctx, logger, res); err != nil {
		p.metrics.LastRunSuccess.Set(0)
		return nil, err
	}

	p.mu.Lock()
	p.results = res
	p.mu.Unlock()
	p.ready.Store(true)
	p.metrics.LastRunSuccess.Set(1)
	logger.Info("run complete", "years", len(res.Fits.Years), "summaries", len(res.Summaries))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, res *Results) error {
	var dataPath string
	if err := p.stage("acquire", func() (err error) {
		dataPath, err = p.fetcher.Fetch(ctx)
		return err
	}); err != nil {
		return err
	}

	var all []domain.Track
	if err := p.stage("load", func() error {
		tracks, skipped, err := p.loader.Load(dataPath)
		if err != nil {
			return err
		}
		p.metrics.TracksLoaded.Add(float64(len(tracks)))
		p.metrics.TracksSkipped.Add(float64(skipped))
		all = tracks
		return nil
	}); err != nil {
		return err
	}

	if err := p.stage("aggregate", func() error {
		res.Tracks = domain.Filter(all, p.opts.MinYear, p.opts.MinMagnitude)
		res.Daily = domain.DailyCounts(res.Tracks)
		res.Cumulative = domain.Cumulate(res.Daily)
		if len(res.Cumulative) == 0 {
			return fmt.Errorf("%w: no tracks at or after %d with magnitude >= %d", domain.ErrEmptyTable, p.opts.MinYear, p.opts.MinMagnitude)
		}
		if err := domain.CheckCumulative(res.Cumulative); err != nil {
			return fmt.Errorf("cumulative table: %w", err)
		}
		years := domain.Years(res.Cumulative)
		p.metrics.TracksFiltered.Set(float64(len(res.Tracks)))
		p.metrics.YearsAnalyzed.Set(float64(len(years)))
		logger.Info("counts aggregated", "tracks", len(all), "kept", len(res.Tracks), "years", len(years))
		return nil
	}); err != nil {
		return err
	}

	if err := p.stage("tables", func() error { return p.writeTables(res) }); err != nil {
		return err
	}

	if err := p.stage("fit", func() error { return p.fitModels(ctx, logger, res) }); err != nil {
		return err
	}

	if err := p.stage("report", func() error { return p.writeReport(logger, res) }); err != nil {
		return err
	}

	if p.publisher != nil && len(res.Summaries) > 0 {
		if err := p.stage("publish", func() error {
			if err := p.publisher.LoadBatch(ctx, res.Summaries); err != nil {
				return err
			}
			p.metrics.SummariesPublished.Add(float64(len(res.Summaries)))
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// stage times fn and wraps its error with the stage name.
func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (p *Pipeline) fitModels(ctx context.Context, logger *slog.Logger, res *Results) error {
	sampler := fit.NewSampler(p.opts.Sampler, logger)
	runner, err := NewModelRunner(res.RunID, res.Daily, res.Cumulative, p.opts.Priors, sampler, logger)
	if err != nil {
		return err
	}

	res.Fits = report.FitsReport{
		RunID:        res.RunID,
		Source:       p.opts.Source,
		MinYear:      p.opts.MinYear,
		MinMagnitude: p.opts.MinMagnitude,
		Years:        runner.Data().Years,
		Tracks:       len(res.Tracks),
	}

	for _, name := range p.opts.Models {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		mr, err := runner.Fit(ctx, name)
		p.metrics.FitDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.metrics.FitFailures.WithLabelValues(name).Inc()
			logger.Error("model fit failed", "model", name, "error", err)
			res.Fits.Models = append(res.Fits.Models, mr.Report)
			continue
		}

		if mr.Posterior != nil {
			p.metrics.SamplerAcceptance.WithLabelValues(name).Set(mr.Posterior.Acceptance)
			p.metrics.SamplerMaxRhat.WithLabelValues(name).Set(mr.Posterior.MaxRhat())
			ppc := mr.Posterior.PosteriorPredictive(p.opts.PPCDraws, p.opts.Sampler.Seed)
			mr.Report.Stats["ppc_coverage95"] = ppc.Coverage95
			if p.opts.PlotsEnabled {
				if err := p.plotPosterior(name, runner.Data(), mr.Posterior, ppc); err != nil {
					logger.Warn("posterior plots failed", "model", name, "error", err)
				}
			}
		} else if p.opts.PlotsEnabled {
			if err := p.plotPointFit(name, runner.Data(), res.Daily, mr); err != nil {
				logger.Warn("fit plot failed", "model", name, "error", err)
			}
		}

		logger.Info("model fitted", "model", name, "duration", mr.Report.Duration)
		res.Models = append(res.Models, mr)
		res.Fits.Models = append(res.Fits.Models, mr.Report)
		for _, s := range mr.Summaries {
			res.Summaries = append(res.Summaries, finiteSummary(s))
		}
	}
	return nil
}

// finiteSummary zeroes non-finite numbers, which JSON cannot carry.
func finiteSummary(s domain.SeasonSummary) domain.SeasonSummary {
	s.Onset, s.Peak, s.Decline = orZero(s.Onset), orZero(s.Peak), orZero(s.Decline)
	params := make([]domain.ParamEstimate, len(s.Params))
	for i, pe := range s.Params {
		params[i] = domain.ParamEstimate{
			Name:  pe.Name,
			Value: orZero(pe.Value),
			SD:    orZero(pe.SD),
			Lower: orZero(pe.Lower),
			Upper: orZero(pe.Upper),
		}
	}
	s.Params = params
	return s
}

func orZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func (p *Pipeline) writeTables(res *Results) error {
	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(p.opts.OutputDir, "daily_counts.csv"), func(w io.Writer) error {
		return report.WriteDaily(w, res.Daily)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(p.opts.OutputDir, "cumulative_counts.csv"), func(w io.Writer) error {
		return report.WriteCumulative(w, res.Cumulative)
	}); err != nil {
		return err
	}
	return writeFile(filepath.Join(p.opts.OutputDir, "tracks.geojson"), func(w io.Writer) error {
		return report.WriteTracks(w, res.Tracks)
	})
}

func (p *Pipeline) writeReport(logger *slog.Logger, res *Results) error {
	res.Fits.GeneratedAt = domain.Now()
	path := filepath.Join(p.opts.OutputDir, "fits.json")
	if err := writeFile(path, func(w io.Writer) error { return report.WriteFits(w, res.Fits) }); err != nil {
		return err
	}
	logger.Info("fit report written", "path", path, "models", len(res.Fits.Models))
	return nil
}

// writeFile writes via a temp file and rename so readers never see a
// partial artifact.
func writeFile(path string, fn func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := fn(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (p *Pipeline) plotDir() (string, error) {
	dir := filepath.Join(p.opts.OutputDir, "plots")
	return dir, os.MkdirAll(dir, 0o755)
}

func (p *Pipeline) plotPosterior(name string, d *fit.Data, post *fit.Posterior, ppc fit.PPC) error {
	dir, err := p.plotDir()
	if err != nil {
		return err
	}
	if err := chart.PPCDensity(filepath.Join(dir, name+"_ppc.png"), name+" posterior predictive", ppc); err != nil {
		return err
	}

	grid := chart.Grid(200)
	pop, err := post.ConditionalEffects(grid, 0)
	if err != nil {
		return err
	}
	panel := chart.Panel{Title: name + " conditional effects", Effects: pop, ObsX: d.X, ObsY: d.Y}
	if err := chart.ConditionalEffects(filepath.Join(dir, name+"_effects.png"), panel); err != nil {
		return err
	}

	var panels []chart.Panel
	for _, year := range p.opts.FacetYears {
		g := d.GroupOf(year)
		if g < 0 {
			continue
		}
		eff, err := post.ConditionalEffects(grid, year)
		if err != nil {
			return err
		}
		obsX, obsY := groupRows(d, g)
		panels = append(panels, chart.Panel{Title: fmt.Sprintf("%d", year), Effects: eff, ObsX: obsX, ObsY: obsY})
	}
	if len(panels) == 0 {
		return nil
	}
	return chart.FacetedEffects(filepath.Join(dir, name+"_effects_by_year.png"), panels)
}

func groupRows(d *fit.Data, g int) (xs, ys []float64) {
	for i, grp := range d.Group {
		if grp == g {
			xs = append(xs, d.X[i])
			ys = append(ys, d.Y[i])
		}
	}
	return xs, ys
}

func (p *Pipeline) plotPointFit(name string, d *fit.Data, daily []domain.DayCount, mr ModelResult) error {
	dir, err := p.plotDir()
	if err != nil {
		return err
	}
	grid := chart.Grid(366)
	fitted := make([]float64, len(grid))
	path := filepath.Join(dir, name+".png")

	switch {
	case mr.NegBin != nil:
		xs := make([]float64, len(daily))
		ys := make([]float64, len(daily))
		for i, row := range daily {
			xs[i] = domain.DayFraction(row.D)
			ys[i] = float64(row.NT)
		}
		for i, x := range grid {
			fitted[i] = mr.NegBin.Mean(x)
		}
		return chart.FittedCurves(path, name, "nT", xs, ys, []chart.Curve{{Name: name, X: grid, Y: fitted}})
	case mr.GNLS != nil:
		for i, x := range grid {
			fitted[i] = mr.GNLS.Predict(x)
		}
	case mr.NLS != nil:
		for i, x := range grid {
			fitted[i] = mr.NLS.Predict(x)
		}
	default:
		return nil
	}
	return chart.FittedCurves(path, name, "C", d.X, d.Y, []chart.Curve{{Name: name, X: grid, Y: fitted}})
}
