package fit

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/tornado-season/internal/curve"
)

// ErrUnknownYear is returned when a year has no group in the posterior.
var ErrUnknownYear = errors.New("year not in posterior")

// maxEffectDraws caps the draws used for conditional-effect bands.
const maxEffectDraws = 1000

// Posterior holds post-warmup draws on the natural scale, one slice per
// chain, each draw ordered as Names.
type Posterior struct {
	Model      string
	Form       curve.Form
	Names      []string
	Random     []string
	Years      []int
	Chains     [][][]float64
	Acceptance float64 // single-coordinate updates after warmup

	layout layout
	data   *Data
}

// ParamSummary is the marginal posterior of one parameter.
type ParamSummary struct {
	Name   string  `json:"name"`
	Mean   float64 `json:"mean"`
	SD     float64 `json:"sd"`
	Q025   float64 `json:"q2.5"`
	Median float64 `json:"q50"`
	Q975   float64 `json:"q97.5"`
	Rhat   float64 `json:"rhat"`
}

// NumDraws is the total draw count across chains.
func (p *Posterior) NumDraws() int {
	n := 0
	for _, c := range p.Chains {
		n += len(c)
	}
	return n
}

// Draw returns the i-th draw counting across chains in order.
func (p *Posterior) Draw(i int) []float64 {
	for _, c := range p.Chains {
		if i < len(c) {
			return c[i]
		}
		i -= len(c)
	}
	return nil
}

func (p *Posterior) column(j int) (pooled []float64, perChain [][]float64) {
	perChain = make([][]float64, len(p.Chains))
	for c, draws := range p.Chains {
		col := make([]float64, len(draws))
		for i, d := range draws {
			col[i] = d[j]
		}
		perChain[c] = col
		pooled = append(pooled, col...)
	}
	return pooled, perChain
}

// Summary returns marginal summaries of the global parameters: curve
// parameters, sigma and the random-effect scales. Yearly effects are
// excluded; use YearSummary for those.
func (p *Posterior) Summary() []ParamSummary {
	out := make([]ParamSummary, 0, p.layout.nGlobal())
	for j := 0; j < p.layout.nGlobal(); j++ {
		out = append(out, p.summarize(j))
	}
	return out
}

// YearSummary returns the summaries of the yearly effects u.
func (p *Posterior) YearSummary() []ParamSummary {
	var out []ParamSummary
	for j := p.layout.nGlobal(); j < len(p.Names); j++ {
		out = append(out, p.summarize(j))
	}
	return out
}

func (p *Posterior) summarize(j int) ParamSummary {
	pooled, perChain := p.column(j)
	mean, variance := stat.MeanVariance(pooled, nil)
	sort.Float64s(pooled)
	return ParamSummary{
		Name:   p.Names[j],
		Mean:   mean,
		SD:     math.Sqrt(variance),
		Q025:   stat.Quantile(0.025, stat.Empirical, pooled, nil),
		Median: stat.Quantile(0.5, stat.Empirical, pooled, nil),
		Q975:   stat.Quantile(0.975, stat.Empirical, pooled, nil),
		Rhat:   splitRhat(perChain),
	}
}

// MaxRhat is the largest split-R̂ over the global parameters.
func (p *Posterior) MaxRhat() float64 {
	worst := 0.0
	for j := 0; j < p.layout.nGlobal(); j++ {
		_, perChain := p.column(j)
		if r := splitRhat(perChain); r > worst || math.IsNaN(r) {
			worst = r
		}
	}
	return worst
}

// splitRhat is the potential scale reduction with each chain split in
// half. Chains without variance give 1.
func splitRhat(chains [][]float64) float64 {
	var halves [][]float64
	for _, c := range chains {
		n := len(c) / 2
		if n < 2 {
			continue
		}
		halves = append(halves, c[:n], c[len(c)-n:])
	}
	m := len(halves)
	if m < 2 {
		return math.NaN()
	}
	n := len(halves[0])
	for _, h := range halves {
		if len(h) < n {
			n = len(h)
		}
	}

	means := make([]float64, m)
	w := 0.0
	for i, h := range halves {
		mu, v := stat.MeanVariance(h[:n], nil)
		means[i] = mu
		w += v
	}
	w /= float64(m)
	_, bOverN := stat.MeanVariance(means, nil)
	if w == 0 {
		if bOverN == 0 {
			return 1
		}
		return math.Inf(1)
	}
	varHat := float64(n-1)/float64(n)*w + bOverN
	return math.Sqrt(varHat / w)
}

// PopulationParams returns the curve parameters of a draw without yearly
// effects.
func (p *Posterior) PopulationParams(draw []float64) []float64 {
	return p.layout.yearParams(draw, -1, nil)
}

// YearParams returns the curve parameters of a draw for the given year.
func (p *Posterior) YearParams(draw []float64, year int) ([]float64, error) {
	g := p.groupOf(year)
	if g < 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownYear, year)
	}
	return p.layout.yearParams(draw, g, nil), nil
}

func (p *Posterior) groupOf(year int) int {
	for g, y := range p.Years {
		if y == year {
			return g
		}
	}
	return -1
}

// MeanParams averages the curve parameters over draws for a year, or for
// the population when year is 0.
func (p *Posterior) MeanParams(year int) ([]float64, error) {
	g := -1
	if year != 0 {
		if g = p.groupOf(year); g < 0 {
			return nil, fmt.Errorf("%w: %d", ErrUnknownYear, year)
		}
	}
	k := p.layout.nFixed()
	mean := make([]float64, k)
	buf := make([]float64, k)
	n := 0
	for _, c := range p.Chains {
		for _, d := range c {
			p.layout.yearParams(d, g, buf)
			for i, v := range buf {
				mean[i] += v
			}
			n++
		}
	}
	for i := range mean {
		mean[i] /= float64(n)
	}
	return mean, nil
}

// PPC is a posterior predictive check of the cumulative counts.
type PPC struct {
	Observed   []float64
	Replicates [][]float64
	// Coverage95 is the share of observations inside the central 95%
	// predictive interval of the replicates.
	Coverage95 float64
}

// PosteriorPredictive draws n replicate datasets from evenly spaced
// posterior draws, each observation simulated from its own year's curve.
func (p *Posterior) PosteriorPredictive(n int, seed uint64) PPC {
	total := p.NumDraws()
	if n <= 0 || n > total {
		n = total
	}
	rng := rand.New(rand.NewPCG(seed, 0))
	d := p.data
	k := p.layout.nFixed()
	params := make([][]float64, d.Groups())
	for g := range params {
		params[g] = make([]float64, k)
	}

	out := PPC{Observed: d.Y, Replicates: make([][]float64, n)}
	for r := 0; r < n; r++ {
		draw := p.Draw(r * total / n)
		for g := range params {
			p.layout.yearParams(draw, g, params[g])
		}
		sigma := draw[p.layout.sigmaIdx()]
		yrep := make([]float64, d.Len())
		for i, x := range d.X {
			yrep[i] = p.Form.Eval(params[d.Group[i]], x) + sigma*rng.NormFloat64()
		}
		out.Replicates[r] = yrep
	}

	inside := 0
	col := make([]float64, n)
	for i, y := range d.Y {
		for r := range out.Replicates {
			col[r] = out.Replicates[r][i]
		}
		sort.Float64s(col)
		lo := stat.Quantile(0.025, stat.Empirical, col, nil)
		hi := stat.Quantile(0.975, stat.Empirical, col, nil)
		if y >= lo && y <= hi {
			inside++
		}
	}
	if d.Len() > 0 {
		out.Coverage95 = float64(inside) / float64(d.Len())
	}
	return out
}

// EffectPoint is the posterior of the expected cumulative count at one x.
type EffectPoint struct {
	X        float64 `json:"x"`
	Estimate float64 `json:"estimate"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
}

// ConditionalEffects evaluates the expected curve over grid with a 95%
// credible band. Year 0 gives the population curve; any other year uses
// that year's effects.
func (p *Posterior) ConditionalEffects(grid []float64, year int) ([]EffectPoint, error) {
	g := -1
	if year != 0 {
		if g = p.groupOf(year); g < 0 {
			return nil, fmt.Errorf("%w: %d", ErrUnknownYear, year)
		}
	}
	total := p.NumDraws()
	n := total
	if n > maxEffectDraws {
		n = maxEffectDraws
	}
	curves := make([][]float64, n)
	buf := make([]float64, p.layout.nFixed())
	for r := 0; r < n; r++ {
		p.layout.yearParams(p.Draw(r*total/n), g, buf)
		row := make([]float64, len(grid))
		for i, x := range grid {
			row[i] = p.Form.Eval(buf, x)
		}
		curves[r] = row
	}

	out := make([]EffectPoint, len(grid))
	col := make([]float64, n)
	for i, x := range grid {
		for r := range curves {
			col[r] = curves[r][i]
		}
		sort.Float64s(col)
		out[i] = EffectPoint{
			X:        x,
			Estimate: stat.Mean(col, nil),
			Lower:    stat.Quantile(0.025, stat.Empirical, col, nil),
			Upper:    stat.Quantile(0.975, stat.Empirical, col, nil),
		}
	}
	return out, nil
}
