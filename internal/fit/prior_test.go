package fit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrior(t *testing.T) {
	tests := []struct {
		in     string
		family string
		args   []float64
	}{
		{"normal(0.25, 0.1)", "normal", []float64{0.25, 0.1}},
		{" beta(2,2) ", "beta", []float64{2, 2}},
		{"Exponential(0.05)", "exponential", []float64{0.05}},
		{"student_t(3, 0, 2.5)", "student_t", []float64{3, 0, 2.5}},
		{"halfnormal(1)", "halfnormal", []float64{1}},
		{"lognormal(6.9, 1)", "lognormal", []float64{6.9, 1}},
		{"gamma(2, 0.5)", "gamma", []float64{2, 0.5}},
		{"uniform(0, 1)", "uniform", []float64{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePrior(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.family, p.Family)
			assert.Equal(t, tt.args, p.Args)
			assert.False(t, math.IsNaN(p.LogProb(0.5)))
		})
	}
}

func TestParsePrior_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"normal",
		"normal(0)",
		"normal(0, -1)",
		"cauchy(0, 1)",
		"beta(2, x)",
		"uniform(1, 0)",
		"exponential(1, 2)",
	} {
		_, err := ParsePrior(in)
		assert.ErrorIs(t, err, ErrInvalidPrior, in)
	}
}

func TestPrior_LogProb(t *testing.T) {
	hn, err := ParsePrior("halfnormal(1)")
	require.NoError(t, err)
	assert.InDelta(t, math.Log(2)-0.5*math.Log(2*math.Pi), hn.LogProb(0), 1e-12)
	assert.True(t, math.IsInf(hn.LogProb(-0.1), -1))

	var flat Prior
	assert.Equal(t, 0.0, flat.LogProb(42))
	assert.Equal(t, "flat", flat.String())
	assert.Equal(t, "normal(0.5, 0.2)", mustNew("normal", 0.5, 0.2).String())
}

func TestDefaultPriors(t *testing.T) {
	priors := DefaultPriors([]string{"A", "w", "m1", "s1", "m2", "s2"}, []string{"A"}, 1000)

	assert.Len(t, priors, 8)
	assert.Equal(t, "beta", priors["w"].Family)
	assert.Equal(t, []float64{0.25, 0.1}, priors["m1"].Args)
	assert.InDelta(t, math.Log(1000), priors["A"].Args[0], 1e-12)
	assert.InDelta(t, 1.0/50, priors["sigma"].Args[0], 1e-12)
	assert.Equal(t, "exponential", priors["sigma"].Family)
	// Residual prior mean is 5% of the mean yearly total.
	small := DefaultPriors([]string{"A", "m", "s"}, nil, 200)
	assert.InDelta(t, 10, 1/small["sigma"].Args[0], 1e-9)
	assert.Equal(t, "halfnormal", priors["tau_A"].Family)
	_, hasM := priors["m"]
	assert.False(t, hasM)
}

func TestApplyPriorOverrides(t *testing.T) {
	base := DefaultPriors([]string{"A", "m", "s"}, nil, 500)

	out, err := ApplyPriorOverrides(base, map[string]string{
		"m":  "normal(0.4, 0.05)",
		"m1": "normal(0.2, 0.05)", // not in this model
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.05}, out["m"].Args)
	assert.Equal(t, []float64{0.5, 0.2}, base["m"].Args, "base untouched")
	_, hasM1 := out["m1"]
	assert.False(t, hasM1)

	_, err = ApplyPriorOverrides(base, map[string]string{"s": "normal(1)"})
	require.ErrorIs(t, err, ErrInvalidPrior)
}
