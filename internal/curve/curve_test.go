package curve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponent(t *testing.T) {
	assert.InDelta(t, 0.5, Component(0.4, 0.4, 3), 1e-12, "half at inflection")
	assert.Equal(t, 0.0, Component(0, 0.4, 3))
	assert.Equal(t, 0.0, Component(-1, 0.4, 3))
	assert.Less(t, Component(0.2, 0.4, 3), Component(0.3, 0.4, 3))
	assert.Greater(t, Component(0.99, 0.4, 8), 0.99)
}

func TestForm_Eval(t *testing.T) {
	single := []float64{1000, 0.45, 4}
	assert.InDelta(t, 500, Single.Eval(single, 0.45), 1e-9)

	mix := []float64{1000, 0.6, 0.25, 5, 0.67, 6}
	v := Mixture.Eval(mix, 1)
	assert.Greater(t, v, 950.0)
	assert.Less(t, v, 1000.0)

	prev := 0.0
	for i := 1; i <= 365; i++ {
		cur := Mixture.Eval(mix, float64(i)/365)
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestForm_DensityMatchesDerivative(t *testing.T) {
	p := []float64{1200, 0.55, 0.3, 4, 0.7, 7}
	const h = 1e-6
	for _, x := range []float64{0.1, 0.3, 0.5, 0.8} {
		numeric := (Mixture.Eval(p, x+h) - Mixture.Eval(p, x-h)) / (2 * h)
		assert.InEpsilon(t, numeric, Mixture.Density(p, x), 1e-4)
	}
}

func TestForm_Validate(t *testing.T) {
	require.NoError(t, Single.Validate())
	require.NoError(t, Mixture.Validate())
	require.Error(t, Form("gompertz").Validate())
	assert.Equal(t, []string{"A", "w", "m1", "s1", "m2", "s2"}, Mixture.ParamNames())
}

func TestSeasonLandmarks(t *testing.T) {
	lm := Single.SeasonLandmarks([]float64{1000, 0.4, 5})

	assert.Less(t, lm.Onset, lm.Peak)
	assert.Less(t, lm.Peak, lm.Decline)
	// The 50% point of S is at m; the peak rate of a log-logistic with
	// s > 1 sits just before it.
	assert.InDelta(t, 0.4*365, lm.Peak, 15)
}
