package fit

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	blockAcceptance = 0.234 // optimal for multivariate random-walk updates
	covShrink       = 1e-6
	covFloor        = 1e-10
)

// blockProposal is a joint random-walk proposal whose covariance is the
// sample covariance of warmup positions, scaled by exp(logScale).
type blockProposal struct {
	n        int
	logScale float64
	updates  int
	chol     *mat.TriDense // nil until the first estimate
	samples  []float64     // recorded positions, row-major
	noise    []float64
}

func newBlockProposal(n int) *blockProposal {
	return &blockProposal{
		n:        n,
		logScale: math.Log(2.38 / math.Sqrt(float64(n))),
		noise:    make([]float64, n),
	}
}

func (b *blockProposal) ready() bool { return b.chol != nil }

func (b *blockProposal) record(x []float64) { b.samples = append(b.samples, x...) }

// estimate replaces the covariance with that of the recorded positions and
// clears them. Too few or degenerate positions keep the previous one.
func (b *blockProposal) estimate() {
	rows := len(b.samples) / b.n
	defer func() { b.samples = nil }()
	if rows <= b.n+1 {
		return
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, mat.NewDense(rows, b.n, b.samples), nil)
	for i := 0; i < b.n; i++ {
		cov.SetSym(i, i, cov.At(i, i)*(1+covShrink)+covFloor)
	}
	var chol mat.Cholesky
	if !chol.Factorize(&cov) {
		return
	}
	var tri mat.TriDense
	chol.LTo(&tri)
	b.chol = &tri
	b.updates = 0
}

// draw writes a proposal increment into dst.
func (b *blockProposal) draw(rng *rand.Rand, dst []float64) {
	for i := range b.noise {
		b.noise[i] = rng.NormFloat64()
	}
	out := mat.NewVecDense(b.n, dst)
	out.MulVec(b.chol, mat.NewVecDense(b.n, b.noise))
	floats.Scale(math.Exp(b.logScale), dst)
}

// adapt moves the log scale toward the block target acceptance.
func (b *blockProposal) adapt(logRatio float64) {
	b.updates++
	gain := math.Pow(float64(b.updates), -adaptDecay)
	b.logScale += gain * (math.Min(1, math.Exp(logRatio)) - blockAcceptance)
}
