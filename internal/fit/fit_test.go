package fit

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tornado-season/internal/curve"
	"github.com/couchcryptid/tornado-season/internal/domain"
)

// syntheticRows builds a cumulative table from one single-curve season per
// total, with Gaussian noise of the given scale rounded to counts.
func syntheticRows(t *testing.T, totals []float64, m, s, noise float64, seed uint64) []domain.CumulativeCount {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 7))
	var rows []domain.CumulativeCount
	for i, a := range totals {
		year := 2000 + i
		p := []float64{a, m, s}
		for d := 1; d <= domain.DaysInDomain; d++ {
			df := domain.DayFraction(d)
			c := math.Round(curve.Single.Eval(p, df) + noise*rng.NormFloat64())
			if c < 0 {
				c = 0
			}
			rows = append(rows, domain.CumulativeCount{Year: year, D: d, C: int(c), TY: int(math.Round(a)), Df: df})
		}
	}
	return rows
}

// syntheticSeasons builds a cumulative table with one season per parameter
// vector under form, starting at 2000. TY is the vector's asymptote.
func syntheticSeasons(t *testing.T, form curve.Form, seasons [][]float64, noise float64, seed uint64) []domain.CumulativeCount {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 11))
	var rows []domain.CumulativeCount
	for i, p := range seasons {
		for d := 1; d <= domain.DaysInDomain; d++ {
			df := domain.DayFraction(d)
			c := math.Max(0, math.Round(form.Eval(p, df)+noise*rng.NormFloat64()))
			rows = append(rows, domain.CumulativeCount{Year: 2000 + i, D: d, C: int(c), TY: int(math.Round(p[0])), Df: df})
		}
	}
	return rows
}

func TestNewData_Groups(t *testing.T) {
	rows := syntheticRows(t, []float64{100, 200}, 0.45, 5, 0, 1)
	d, err := NewData(rows)
	require.NoError(t, err)

	assert.Equal(t, 2*domain.DaysInDomain, d.Len())
	assert.Equal(t, []int{2000, 2001}, d.Years)
	assert.Equal(t, 1, d.GroupOf(2001))
	assert.Equal(t, -1, d.GroupOf(1999))
	assert.InDelta(t, 150, d.MeanTotal(), 1e-9)
	assert.Len(t, d.rows[1], domain.DaysInDomain)

	_, err = NewData(nil)
	require.ErrorIs(t, err, domain.ErrEmptyTable)
}

func TestTransform_RoundTrip(t *testing.T) {
	names := []string{"A", "w", "m1", "s1"}
	v := []float64{850, 0.3, 0.27, 6}
	back := fromFreeVec(names, toFreeVec(names, v), nil)
	for i := range v {
		assert.InDelta(t, v[i], back[i], 1e-9, names[i])
	}
	assert.Equal(t, unit, constraintFor("m2"))
	assert.Equal(t, positive, constraintFor("sigma"))
}

func TestLogJacobian_Numeric(t *testing.T) {
	const h = 1e-6
	for _, c := range []constraint{positive, unit} {
		for _, z := range []float64{-2, 0, 1.5} {
			deriv := (c.fromFree(z+h) - c.fromFree(z-h)) / (2 * h)
			assert.InDelta(t, math.Log(deriv), c.logJacobian(z), 1e-5)
		}
	}
}

func TestFitNLS_RecoversSingleCurve(t *testing.T) {
	d, err := NewData(syntheticRows(t, []float64{1000, 1000, 1000}, 0.45, 6, 2, 42))
	require.NoError(t, err)

	res, err := FitNLS(curve.Single, d, []float64{700, 0.5, 3}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "m", "s"}, res.Names)
	assert.InEpsilon(t, 1000, res.Params[0], 0.01)
	assert.InDelta(t, 0.45, res.Params[1], 0.005)
	assert.InDelta(t, 6, res.Params[2], 0.2)
	assert.InDelta(t, 2, res.Sigma, 0.5)
	assert.Equal(t, d.Len(), res.N)
	for i, se := range res.StdErr {
		assert.False(t, math.IsNaN(se), res.Names[i])
		assert.Greater(t, se, 0.0)
	}
	assert.InDelta(t, curve.Single.Eval(res.Params, 0.6), res.Predict(0.6), 1e-12)
}

func TestFitNLS_RecoversMixture(t *testing.T) {
	truth := []float64{1000, 0.35, 0.30, 7, 0.62, 6}
	d, err := NewData(syntheticSeasons(t, curve.Mixture, [][]float64{truth, truth, truth}, 2, 17))
	require.NoError(t, err)

	res, err := FitNLS(curve.Mixture, d, []float64{900, 0.45, 0.27, 5, 0.65, 4}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "w", "m1", "s1", "m2", "s2"}, res.Names)
	assert.InEpsilon(t, 1000, res.Params[0], 0.01)
	assert.InDelta(t, 0.35, res.Params[1], 0.03)
	assert.InDelta(t, 0.30, res.Params[2], 0.01)
	assert.InDelta(t, 7, res.Params[3], 0.7)
	assert.InDelta(t, 0.62, res.Params[4], 0.01)
	assert.InDelta(t, 6, res.Params[5], 0.7)
	assert.InDelta(t, 2, res.Sigma, 0.5)
	for i, se := range res.StdErr {
		assert.False(t, math.IsNaN(se), res.Names[i])
	}
}

func TestFitNLS_WrongInitLength(t *testing.T) {
	d, err := NewData(syntheticRows(t, []float64{100}, 0.45, 6, 0, 1))
	require.NoError(t, err)

	_, err = FitNLS(curve.Mixture, d, []float64{100, 0.5, 4}, Options{})
	require.Error(t, err)
	_, err = FitNLS(curve.Form("bogus"), d, nil, Options{})
	require.Error(t, err)
}

func TestFitGNLS_EstimatesVariancePower(t *testing.T) {
	// Noise sd grows like sqrt(mu).
	rng := rand.New(rand.NewPCG(3, 3))
	p := []float64{1500, 0.5, 5}
	var rows []domain.CumulativeCount
	for y := 0; y < 4; y++ {
		for day := 1; day <= domain.DaysInDomain; day++ {
			df := domain.DayFraction(day)
			mu := curve.Single.Eval(p, df)
			c := math.Max(0, math.Round(mu+1.5*math.Sqrt(math.Max(mu, 1))*rng.NormFloat64()))
			rows = append(rows, domain.CumulativeCount{Year: 2000 + y, D: day, C: int(c), TY: 1500, Df: df})
		}
	}
	d, err := NewData(rows)
	require.NoError(t, err)

	start, err := FitNLS(curve.Single, d, []float64{1200, 0.45, 4}, Options{})
	require.NoError(t, err)
	res, err := FitGNLS(curve.Single, d, start, Options{})
	require.NoError(t, err)

	assert.Greater(t, res.Delta, 0.2)
	assert.Less(t, res.Delta, 0.8)
	assert.InEpsilon(t, 1500, res.Params[0], 0.02)
	assert.InDelta(t, 0.5, res.Params[1], 0.01)
	assert.InDelta(t, 2*float64(len(p)+2)-2*res.LogLik, res.AIC, 1e-9)
}

func TestFitGNLS_RejectsMismatchedStart(t *testing.T) {
	d, err := NewData(syntheticRows(t, []float64{100}, 0.45, 6, 0, 1))
	require.NoError(t, err)
	_, err = FitGNLS(curve.Mixture, d, NLSResult{Form: curve.Single, Params: []float64{1, 2, 3}}, Options{})
	require.Error(t, err)
}

func TestFitNegBin_RecoversCoefficients(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 5))
	coef := []float64{1, 0.5, -1.5}
	const theta = 5.0

	var xs, ys []float64
	for y := 0; y < 8; y++ {
		for day := 1; day <= domain.DaysInDomain; day++ {
			x := domain.DayFraction(day)
			mu := math.Exp(polyEval(coef, 2*x-1))
			// Gamma-Poisson mixture with shape theta.
			lambda := mu * gammaDraw(rng, theta) / theta
			ys = append(ys, float64(poissonDraw(rng, lambda)))
			xs = append(xs, x)
		}
	}

	res, err := FitNegBin(xs, ys, 2)
	require.NoError(t, err)
	require.Len(t, res.Coef, 3)
	for i := range coef {
		assert.InDelta(t, coef[i], res.Coef[i], 0.15, "coef %d", i)
	}
	assert.Greater(t, res.Theta, 2.0)
	assert.Less(t, res.Theta, 15.0)
	assert.InDelta(t, 0.5+0.5*(0.5/3), res.PeakFraction(), 0.03)
	assert.InDelta(t, 8.0-2*res.LogLik, res.AIC, 1e-9)
}

func TestNegBinResult_PeakFractionOnDayGrid(t *testing.T) {
	// log mean peaks at z = 1/8, Df = 0.5625, between days 205 and 206.
	nb := NegBinResult{Coef: []float64{0, 1, -4}}
	assert.InDelta(t, domain.DayFraction(205), nb.PeakFraction(), 1e-12)
	assert.InDelta(t, 205, nb.PeakFraction()*365, 1e-9)

	late := NegBinResult{Coef: []float64{0, 1}}
	assert.Equal(t, 1.0, late.PeakFraction())
}

func TestFitNegBin_Errors(t *testing.T) {
	_, err := FitNegBin(nil, nil, 2)
	require.Error(t, err)
	_, err = FitNegBin([]float64{0.1, 0.2}, []float64{0, 0}, 1)
	require.Error(t, err)
	_, err = FitNegBin([]float64{0.1}, []float64{1}, -1)
	require.Error(t, err)
}

func TestPolyEval(t *testing.T) {
	assert.InDelta(t, 1+2*3+4*9, polyEval([]float64{1, 2, 4}, 3), 1e-12)
	assert.Equal(t, 0.0, polyEval(nil, 3))
}

// gammaDraw samples Gamma(shape, 1) by Marsaglia-Tsang.
func gammaDraw(rng *rand.Rand, shape float64) float64 {
	d := shape - 1.0/3
	c := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		if math.Log(rng.Float64()) < 0.5*x*x+d-d*v+d*math.Log(v) {
			return d * v
		}
	}
}

// poissonDraw samples by inversion; lambda stays small here.
func poissonDraw(rng *rand.Rand, lambda float64) int {
	l := math.Exp(-lambda)
	k, p := 0, 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}
