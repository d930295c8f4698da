package fit

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidPrior is returned for prior strings that do not parse.
var ErrInvalidPrior = errors.New("invalid prior")

// priorRe matches "family(arg, arg, ...)".
var priorRe = regexp.MustCompile(`^\s*([a-z_]+)\s*\(([^)]*)\)\s*$`)

type logDensity interface {
	LogProb(x float64) float64
}

// Prior is a named univariate density on the natural parameter scale.
// Support restrictions of the parameter (positive, unit interval) act as
// truncation; the normalizing constant is irrelevant to the sampler.
type Prior struct {
	Family string
	Args   []float64
	dist   logDensity
}

// halfNormal is |N(0, sigma)|.
type halfNormal struct{ sigma float64 }

func (h halfNormal) LogProb(x float64) float64 {
	if x < 0 {
		return math.Inf(-1)
	}
	return math.Ln2 + distuv.Normal{Mu: 0, Sigma: h.sigma}.LogProb(x)
}

var priorArity = map[string]int{
	"normal":      2,
	"lognormal":   2,
	"beta":        2,
	"gamma":       2,
	"exponential": 1,
	"halfnormal":  1,
	"student_t":   3,
	"uniform":     2,
}

// ParsePrior reads brms-style prior strings such as "normal(0.25, 0.1)",
// "beta(2,2)", "exponential(0.05)" or "student_t(3, 0, 2.5)".
func ParsePrior(s string) (Prior, error) {
	m := priorRe.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return Prior{}, fmt.Errorf("%w: %q", ErrInvalidPrior, s)
	}
	family := m[1]
	want, ok := priorArity[family]
	if !ok {
		return Prior{}, fmt.Errorf("%w: unknown family %q", ErrInvalidPrior, family)
	}

	var args []float64
	for _, a := range strings.Split(m[2], ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return Prior{}, fmt.Errorf("%w: argument %q of %s", ErrInvalidPrior, a, family)
		}
		args = append(args, v)
	}
	if len(args) != want {
		return Prior{}, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrInvalidPrior, family, want, len(args))
	}
	return newPrior(family, args...)
}

func newPrior(family string, args ...float64) (Prior, error) {
	positive := func(vs ...float64) error {
		for _, v := range vs {
			if !(v > 0) {
				return fmt.Errorf("%w: %s scale/shape arguments must be positive", ErrInvalidPrior, family)
			}
		}
		return nil
	}

	var d logDensity
	switch family {
	case "normal":
		if err := positive(args[1]); err != nil {
			return Prior{}, err
		}
		d = distuv.Normal{Mu: args[0], Sigma: args[1]}
	case "lognormal":
		if err := positive(args[1]); err != nil {
			return Prior{}, err
		}
		d = distuv.LogNormal{Mu: args[0], Sigma: args[1]}
	case "beta":
		if err := positive(args...); err != nil {
			return Prior{}, err
		}
		d = distuv.Beta{Alpha: args[0], Beta: args[1]}
	case "gamma":
		if err := positive(args...); err != nil {
			return Prior{}, err
		}
		d = distuv.Gamma{Alpha: args[0], Beta: args[1]}
	case "exponential":
		if err := positive(args...); err != nil {
			return Prior{}, err
		}
		d = distuv.Exponential{Rate: args[0]}
	case "halfnormal":
		if err := positive(args...); err != nil {
			return Prior{}, err
		}
		d = halfNormal{sigma: args[0]}
	case "student_t":
		if err := positive(args[0], args[2]); err != nil {
			return Prior{}, err
		}
		d = distuv.StudentsT{Nu: args[0], Mu: args[1], Sigma: args[2]}
	case "uniform":
		if !(args[1] > args[0]) {
			return Prior{}, fmt.Errorf("%w: uniform needs min < max", ErrInvalidPrior)
		}
		d = distuv.Uniform{Min: args[0], Max: args[1]}
	default:
		return Prior{}, fmt.Errorf("%w: unknown family %q", ErrInvalidPrior, family)
	}
	return Prior{Family: family, Args: args, dist: d}, nil
}

// LogProb is the log density at x. A zero Prior is flat.
func (p Prior) LogProb(x float64) float64 {
	if p.dist == nil {
		return 0
	}
	return p.dist.LogProb(x)
}

func (p Prior) String() string {
	if p.dist == nil {
		return "flat"
	}
	args := make([]string, len(p.Args))
	for i, a := range p.Args {
		args[i] = strconv.FormatFloat(a, 'g', -1, 64)
	}
	return p.Family + "(" + strings.Join(args, ", ") + ")"
}

// DefaultPriors returns the prior set for a form with random effects on
// the named parameters. meanTotal centers the asymptote prior.
func DefaultPriors(names, random []string, meanTotal float64) map[string]Prior {
	if meanTotal <= 0 {
		meanTotal = 1
	}
	priors := map[string]Prior{
		"A":     mustNew("lognormal", math.Log(meanTotal), 1),
		"m":     mustNew("normal", 0.5, 0.2),
		"m1":    mustNew("normal", 0.25, 0.1),
		"m2":    mustNew("normal", 0.67, 0.1),
		"s":     mustNew("normal", 1, 2),
		"s1":    mustNew("normal", 1, 2),
		"s2":    mustNew("normal", 1, 2),
		"w":     mustNew("beta", 2, 2),
		"sigma": mustNew("exponential", 1/(0.05*meanTotal)),
	}
	out := make(map[string]Prior, len(names)+1+len(random))
	for _, n := range names {
		out[n] = priors[n]
	}
	out["sigma"] = priors["sigma"]
	for _, r := range random {
		out[tauName(r)] = mustNew("halfnormal", 1)
	}
	return out
}

// ApplyPriorOverrides parses user overrides onto base. Overrides naming a
// parameter the model lacks are skipped so one set can serve every model.
func ApplyPriorOverrides(base map[string]Prior, overrides map[string]string) (map[string]Prior, error) {
	out := make(map[string]Prior, len(base))
	for k, v := range base {
		out[k] = v
	}
	for name, spec := range overrides {
		if _, ok := base[name]; !ok {
			continue
		}
		p, err := ParsePrior(spec)
		if err != nil {
			return nil, fmt.Errorf("prior for %s: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

func mustNew(family string, args ...float64) Prior {
	p, err := newPrior(family, args...)
	if err != nil {
		panic(err)
	}
	return p
}

func tauName(param string) string { return "tau_" + param }
