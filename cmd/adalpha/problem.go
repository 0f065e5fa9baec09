package main

import (
	"math/rand"

	"github.com/openfluke/adalpha/nn"
	"github.com/openfluke/adalpha/tensor"
)

// regression is a synthetic target y = W*x + E[token] + noise. W exercises
// dense gradients, the embedding table E exercises row-sparse ones.
type regression struct {
	inDim, outDim, vocab int
	noise                float32
	trueW, trueE         []float32
	rng                  *rand.Rand
}

type sample struct {
	x     []float32
	token int
	y     []float32
}

func newRegression(seed int64, inDim, outDim, vocab int) *regression {
	rng := rand.New(rand.NewSource(seed))
	r := &regression{
		inDim:  inDim,
		outDim: outDim,
		vocab:  vocab,
		noise:  0.01,
		trueW:  make([]float32, outDim*inDim),
		trueE:  make([]float32, vocab*outDim),
		rng:    rng,
	}
	for i := range r.trueW {
		r.trueW[i] = float32(rng.NormFloat64())
	}
	for i := range r.trueE {
		r.trueE[i] = float32(rng.NormFloat64())
	}
	return r
}

func (r *regression) batch(n int) []sample {
	out := make([]sample, n)
	for s := range out {
		x := make([]float32, r.inDim)
		for i := range x {
			x[i] = float32(r.rng.NormFloat64())
		}
		token := r.rng.Intn(r.vocab)
		y := make([]float32, r.outDim)
		for o := range y {
			acc := r.trueE[token*r.outDim+o]
			for i, xi := range x {
				acc += r.trueW[o*r.inDim+i] * xi
			}
			y[o] = acc + r.noise*float32(r.rng.NormFloat64())
		}
		out[s] = sample{x: x, token: token, y: y}
	}
	return out
}

// model holds the trainable parameters, zero-initialised.
type model struct {
	inDim, outDim int
	W, E          *nn.Parameter[float32]
}

func newModel(r *regression) *model {
	return &model{
		inDim:  r.inDim,
		outDim: r.outDim,
		W:      nn.NewParameter("dense/kernel", tensor.New[float32](r.outDim, r.inDim)),
		E:      nn.NewParameter("embedding/table", tensor.New[float32](r.vocab, r.outDim)),
	}
}

func (m *model) params() []*nn.Parameter[float32] {
	return []*nn.Parameter[float32]{m.W, m.E}
}

// lossAndGrads returns the mean squared error over the batch and its
// gradients: dense for W, one sparse row per sample for E.
func (m *model) lossAndGrads(batch []sample) (float64, map[string]tensor.Gradient[float32]) {
	gW := tensor.New[float32](m.outDim, m.inDim)
	rows := make([]float32, 0, len(batch)*m.outDim)
	tokens := make([]int, 0, len(batch))
	norm := float32(2) / float32(len(batch)*m.outDim)

	loss := 0.0
	W, E := m.W.Value.Data, m.E.Value.Data
	for _, s := range batch {
		tokens = append(tokens, s.token)
		for o := 0; o < m.outDim; o++ {
			pred := E[s.token*m.outDim+o]
			for i, xi := range s.x {
				pred += W[o*m.inDim+i] * xi
			}
			diff := pred - s.y[o]
			loss += float64(diff * diff)
			for i, xi := range s.x {
				gW.Data[o*m.inDim+i] += norm * diff * xi
			}
			rows = append(rows, norm*diff)
		}
	}
	loss /= float64(len(batch) * m.outDim)

	return loss, map[string]tensor.Gradient[float32]{
		m.W.Name: tensor.Dense(gW),
		m.E.Name: tensor.Sparse(tokens, tensor.FromSlice(rows, len(tokens), m.outDim)),
	}
}
