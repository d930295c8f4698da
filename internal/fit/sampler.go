package fit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/tornado-season/internal/curve"
)

const (
	targetAcceptance = 0.44 // optimal for one-dimensional random-walk updates
	adaptDecay       = 0.6
	initialLogStep   = -2.3 // step 0.1 on the unconstrained scale
	initialTau       = 0.1
	ctxCheckEvery    = 50
	halfLog2Pi       = 0.9189385332046727
)

// Model is a nonlinear hierarchical curve model with a Gaussian
// likelihood on cumulative counts. Parameters listed in Random get a
// year-level multiplicative effect p_year = p · exp(u_year) with
// u_year ~ N(0, tau_p).
type Model struct {
	Name   string
	Form   curve.Form
	Random []string
	Priors map[string]Prior
}

// Validate checks form, random-effect targets and prior coverage.
func (m Model) Validate() error {
	if err := m.Form.Validate(); err != nil {
		return err
	}
	names := m.Form.ParamNames()
	for _, r := range m.Random {
		idx := indexOf(names, r)
		if idx < 0 {
			return fmt.Errorf("model %s: random effect on unknown parameter %q", m.Name, r)
		}
		if constraintFor(r) != positive {
			return fmt.Errorf("model %s: random effect on %q requires a positive parameter", m.Name, r)
		}
	}
	for _, n := range append(append([]string(nil), names...), "sigma") {
		if _, ok := m.Priors[n]; !ok {
			return fmt.Errorf("model %s: no prior for %q", m.Name, n)
		}
	}
	for _, r := range m.Random {
		if _, ok := m.Priors[tauName(r)]; !ok {
			return fmt.Errorf("model %s: no prior for %q", m.Name, tauName(r))
		}
	}
	return nil
}

// SamplerConfig controls chain length and reproducibility.
type SamplerConfig struct {
	Chains int
	Warmup int
	Draws  int
	Seed   uint64
}

// Sampler runs adaptive Metropolis-within-Gibbs chains.
type Sampler struct {
	cfg    SamplerConfig
	logger *slog.Logger
}

// NewSampler creates a Sampler.
func NewSampler(cfg SamplerConfig, logger *slog.Logger) *Sampler {
	if cfg.Chains <= 0 {
		cfg.Chains = 4
	}
	if cfg.Warmup <= 0 {
		cfg.Warmup = 1000
	}
	if cfg.Draws <= 0 {
		cfg.Draws = 1000
	}
	return &Sampler{cfg: cfg, logger: logger}
}

// layout maps the flat parameter vector:
//
//	[curve params][sigma][tau per random param][year slot per random param per year]
//
// On the free scale a year slot holds log p_year; stored draws hold the
// offset u = log p_year - log p instead.
type layout struct {
	form   curve.Form
	names  []string
	random []int
	groups int
}

func newLayout(m Model, groups int) layout {
	names := m.Form.ParamNames()
	random := make([]int, len(m.Random))
	for i, r := range m.Random {
		random[i] = indexOf(names, r)
	}
	return layout{form: m.Form, names: names, random: random, groups: groups}
}

func (l layout) nFixed() int { return len(l.names) }

func (l layout) sigmaIdx() int { return len(l.names) }

func (l layout) tauIdx(k int) int { return len(l.names) + 1 + k }

func (l layout) etaIdx(k, g int) int { return len(l.names) + 1 + len(l.random) + k*l.groups + g }

func (l layout) dim() int { return len(l.names) + 1 + len(l.random)*(1+l.groups) }

func (l layout) nGlobal() int { return len(l.names) + 1 + len(l.random) }

// outputNames labels the stored draw vector.
func (l layout) outputNames(years []int) []string {
	out := append([]string(nil), l.names...)
	out = append(out, "sigma")
	for _, r := range l.random {
		out = append(out, tauName(l.names[r]))
	}
	for _, r := range l.random {
		for _, y := range years {
			out = append(out, fmt.Sprintf("r_%s[%d]", l.names[r], y))
		}
	}
	return out
}

// yearParams fills dst with the curve parameters of group g from a stored
// (natural-scale) draw. g < 0 returns the population-level curve.
func (l layout) yearParams(draw []float64, g int, dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, l.nFixed())
	}
	copy(dst, draw[:l.nFixed()])
	if g < 0 {
		return dst
	}
	for k, idx := range l.random {
		dst[idx] *= math.Exp(draw[l.etaIdx(k, g)])
	}
	return dst
}

// target is the unnormalized log posterior on the free scale. Year
// values are centered on their population parameter, so updating a
// population parameter or scale only changes prior terms.
type target struct {
	l        layout
	d        *Data
	priors   []Prior // per global coordinate
	isRandom []bool  // per curve parameter
}

func newTarget(m Model, l layout, d *Data) *target {
	priors := make([]Prior, l.nGlobal())
	for i, n := range l.names {
		priors[i] = m.Priors[n]
	}
	priors[l.sigmaIdx()] = m.Priors["sigma"]
	isRandom := make([]bool, l.nFixed())
	for k, r := range l.random {
		priors[l.tauIdx(k)] = m.Priors[tauName(l.names[r])]
		isRandom[r] = true
	}
	return &target{l: l, d: d, priors: priors, isRandom: isRandom}
}

// touchesLikelihood reports whether global coordinate c enters the
// likelihood directly.
func (t *target) touchesLikelihood(c int) bool {
	if c < t.l.nFixed() {
		return !t.isRandom[c]
	}
	return c == t.l.sigmaIdx()
}

// globalPosition fills dst with the global coordinates of z. A random
// parameter is represented by the mean of its year values, which is what
// a joint move shifts and what the likelihood sees.
func (t *target) globalPosition(z, dst []float64) {
	l := t.l
	copy(dst, z[:l.nGlobal()])
	for k, idx := range l.random {
		sum := 0.0
		for g := 0; g < l.groups; g++ {
			sum += z[l.etaIdx(k, g)]
		}
		dst[idx] = sum / float64(l.groups)
	}
}

// natural converts the free vector to stored form: constrained curve
// params, sigma, tau and the yearly log offsets.
func (t *target) natural(z, dst []float64) []float64 {
	l := t.l
	if dst == nil {
		dst = make([]float64, l.dim())
	}
	fromFreeVec(l.names, z[:l.nFixed()], dst[:l.nFixed()])
	dst[l.sigmaIdx()] = math.Exp(z[l.sigmaIdx()])
	for k, idx := range l.random {
		dst[l.tauIdx(k)] = math.Exp(z[l.tauIdx(k)])
		for g := 0; g < l.groups; g++ {
			dst[l.etaIdx(k, g)] = z[l.etaIdx(k, g)] - z[idx]
		}
	}
	return dst
}

// logPrior sums the global priors, their log-Jacobians and the
// hierarchical terms log N(log p_year | log p, tau).
func (t *target) logPrior(z []float64) float64 {
	l := t.l
	lp := 0.0
	for i, n := range l.names {
		c := constraintFor(n)
		lp += t.priors[i].LogProb(c.fromFree(z[i])) + c.logJacobian(z[i])
	}
	for i := l.nFixed(); i < l.nGlobal(); i++ {
		lp += t.priors[i].LogProb(math.Exp(z[i])) + z[i]
	}
	for k, idx := range l.random {
		logTau := z[l.tauIdx(k)]
		tau := math.Exp(logTau)
		for g := 0; g < l.groups; g++ {
			r := (z[l.etaIdx(k, g)] - z[idx]) / tau
			lp -= 0.5*r*r + logTau + halfLog2Pi
		}
	}
	return lp
}

// groupParams fills params with the curve of group g under free vector z.
func (t *target) groupParams(z []float64, g int, params []float64) {
	l := t.l
	fromFreeVec(l.names, z[:l.nFixed()], params)
	for k, idx := range l.random {
		params[idx] = math.Exp(z[l.etaIdx(k, g)])
	}
}

// groupLogLik is the Gaussian log-likelihood of group g under free vector z.
func (t *target) groupLogLik(z []float64, g int, params []float64) float64 {
	t.groupParams(z, g, params)
	logSigma := z[t.l.sigmaIdx()]
	sigma := math.Exp(logSigma)

	ll := 0.0
	for _, i := range t.d.rows[g] {
		r := (t.d.Y[i] - t.l.form.Eval(params, t.d.X[i])) / sigma
		ll -= 0.5*r*r + logSigma + halfLog2Pi
	}
	if math.IsNaN(ll) {
		return math.Inf(-1)
	}
	return ll
}

// Run samples the posterior of m given d. init holds starting curve
// parameters on the natural scale, typically an NLS fit; sigmaInit is the
// residual scale to start from.
func (s *Sampler) Run(ctx context.Context, m Model, d *Data, init []float64, sigmaInit float64) (*Posterior, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	l := newLayout(m, d.Groups())
	if len(init) != l.nFixed() {
		return nil, fmt.Errorf("sampler %s: %d initial values for %d parameters", m.Name, len(init), l.nFixed())
	}
	if !(sigmaInit > 0) {
		sigmaInit = 0.05 * d.MeanTotal()
	}
	tgt := newTarget(m, l, d)

	z0 := make([]float64, l.dim())
	copy(z0, toFreeVec(l.names, init))
	z0[l.sigmaIdx()] = math.Log(sigmaInit)
	for k, idx := range l.random {
		z0[l.tauIdx(k)] = math.Log(initialTau)
		for g := 0; g < l.groups; g++ {
			z0[l.etaIdx(k, g)] = z0[idx]
			// Yearly asymptotes start at their observed totals.
			if l.names[idx] == "A" && d.Total[g] > 0 {
				z0[l.etaIdx(k, g)] = math.Log(d.Total[g])
			}
		}
	}

	start := time.Now()
	chains := make([]chainResult, s.cfg.Chains)
	eg, egCtx := errgroup.WithContext(ctx)
	for c := 0; c < s.cfg.Chains; c++ {
		eg.Go(func() error {
			rng := rand.New(rand.NewPCG(s.cfg.Seed, uint64(c)+1))
			res, err := s.runChain(egCtx, tgt, jitter(z0, rng, l), rng)
			if err != nil {
				return fmt.Errorf("chain %d: %w", c, err)
			}
			chains[c] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("sampler %s: %w", m.Name, err)
	}

	post := &Posterior{
		Model:  m.Name,
		Form:   m.Form,
		Names:  l.outputNames(d.Years),
		Random: append([]string(nil), m.Random...),
		Years:  append([]int(nil), d.Years...),
		Chains: make([][][]float64, len(chains)),
		layout: l,
		data:   d,
	}
	acc := 0.0
	for i, c := range chains {
		post.Chains[i] = c.draws
		acc += c.acceptance
	}
	post.Acceptance = acc / float64(len(chains))

	s.logger.Info("sampling complete",
		"model", m.Name,
		"chains", s.cfg.Chains,
		"draws", s.cfg.Draws,
		"acceptance", post.Acceptance,
		"max_rhat", post.MaxRhat(),
		"duration", time.Since(start).String(),
	)
	return post, nil
}

// jitter perturbs the global coordinates so chains start apart.
func jitter(z0 []float64, rng *rand.Rand, l layout) []float64 {
	z := append([]float64(nil), z0...)
	for i := 0; i < l.nGlobal(); i++ {
		z[i] += 0.05 * rng.NormFloat64()
	}
	return z
}

type chainResult struct {
	draws      [][]float64
	acceptance float64
}

// runChain updates one coordinate at a time. During warmup each
// coordinate's log step follows a Robbins-Monro recursion toward the
// target acceptance rate. Once warmup has seen enough positions, every
// sweep also makes a joint move of the globals and, with more than one
// random effect, of each year's slots, using the covariance learned in
// the middle half of warmup. Reported acceptance covers the
// single-coordinate updates only.
func (s *Sampler) runChain(ctx context.Context, t *target, z []float64, rng *rand.Rand) (chainResult, error) {
	l := t.l
	dim := l.dim()
	params := make([]float64, l.nFixed())

	ll := make([]float64, l.groups)
	propLL := make([]float64, l.groups)
	for g := range ll {
		ll[g] = t.groupLogLik(z, g, params)
	}
	lp := t.logPrior(z)

	logStep := make([]float64, dim)
	for i := range logStep {
		logStep[i] = initialLogStep
	}

	nGlobal := l.nGlobal()
	global := newBlockProposal(nGlobal)
	globalPos := make([]float64, nGlobal)
	shift := make([]float64, nGlobal)
	prev := make([]float64, dim)

	var yearBlocks []*blockProposal
	if len(l.random) > 1 {
		yearBlocks = make([]*blockProposal, l.groups)
		for g := range yearBlocks {
			yearBlocks[g] = newBlockProposal(len(l.random))
		}
	}
	offsets := make([]float64, len(l.random))
	yearShift := make([]float64, len(l.random))

	w := s.cfg.Warmup
	total := w + s.cfg.Draws
	draws := make([][]float64, 0, s.cfg.Draws)
	accepts, proposals := 0, 0

	for iter := 0; iter < total; iter++ {
		if iter%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return chainResult{}, err
			}
		}
		warm := iter < w
		if iter == w/2 || iter == 3*w/4 {
			global.estimate()
			for _, b := range yearBlocks {
				b.estimate()
			}
		}
		gain := math.Pow(float64(iter+1), -adaptDecay)

		step := func(c int, logRatio float64) bool {
			ok := math.Log(rng.Float64()) < logRatio
			if warm {
				logStep[c] += gain * (math.Min(1, math.Exp(logRatio)) - targetAcceptance)
			} else {
				proposals++
				if ok {
					accepts++
				}
			}
			return ok
		}

		for c := 0; c < l.nGlobal(); c++ {
			old := z[c]
			z[c] = old + math.Exp(logStep[c])*rng.NormFloat64()
			propLP := t.logPrior(z)
			delta := propLP - lp
			touches := t.touchesLikelihood(c)
			if touches {
				for g := range propLL {
					propLL[g] = t.groupLogLik(z, g, params)
					delta += propLL[g] - ll[g]
				}
			}
			if step(c, delta) {
				lp = propLP
				if touches {
					copy(ll, propLL)
				}
			} else {
				z[c] = old
			}
		}

		// A random parameter moves together with its year values, which
		// leaves the hierarchical terms unchanged.
		if global.ready() {
			global.draw(rng, shift)
			copy(prev, z)
			for c := 0; c < nGlobal; c++ {
				z[c] += shift[c]
			}
			for k, idx := range l.random {
				for g := 0; g < l.groups; g++ {
					z[l.etaIdx(k, g)] += shift[idx]
				}
			}
			propLP := t.logPrior(z)
			delta := propLP - lp
			for g := range propLL {
				propLL[g] = t.groupLogLik(z, g, params)
				delta += propLL[g] - ll[g]
			}
			if warm {
				global.adapt(delta)
			}
			if math.Log(rng.Float64()) < delta {
				lp = propLP
				copy(ll, propLL)
			} else {
				copy(z, prev)
			}
		}

		// Year values only touch their own group.
		for k := range l.random {
			for g := 0; g < l.groups; g++ {
				c := l.etaIdx(k, g)
				old := z[c]
				z[c] = old + math.Exp(logStep[c])*rng.NormFloat64()
				propLP := t.logPrior(z)
				prop := t.groupLogLik(z, g, params)
				if step(c, prop-ll[g]+propLP-lp) {
					ll[g] = prop
					lp = propLP
				} else {
					z[c] = old
				}
			}
		}

		for g, b := range yearBlocks {
			if !b.ready() {
				continue
			}
			b.draw(rng, yearShift)
			for k := range l.random {
				c := l.etaIdx(k, g)
				prev[k] = z[c]
				z[c] += yearShift[k]
			}
			propLP := t.logPrior(z)
			prop := t.groupLogLik(z, g, params)
			delta := prop - ll[g] + propLP - lp
			if warm {
				b.adapt(delta)
			}
			if math.Log(rng.Float64()) < delta {
				ll[g] = prop
				lp = propLP
			} else {
				for k := range l.random {
					z[l.etaIdx(k, g)] = prev[k]
				}
			}
		}

		if warm && iter >= w/4 && iter < 3*w/4 {
			t.globalPosition(z, globalPos)
			global.record(globalPos)
			for g, b := range yearBlocks {
				for k, idx := range l.random {
					offsets[k] = z[l.etaIdx(k, g)] - z[idx]
				}
				b.record(offsets)
			}
		}

		if !warm {
			draws = append(draws, t.natural(z, nil))
		}
	}

	acc := 0.0
	if proposals > 0 {
		acc = float64(accepts) / float64(proposals)
	}
	return chainResult{draws: draws, acceptance: acc}, nil
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
