// Package model implements a single-layer convolutional LSTM that maps a
// window of binary occurrence frames to per-cell occurrence probabilities.
package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/kilianp07/crimecast/core/tensor"
)

// Predictor produces a probability frame [Ch][R][C] for an input window
// [L][Ch][R][C].
type Predictor interface {
	Predict(sample *tensor.Binary) (*tensor.Dense, error)
}

// Model is a ConvLSTM with a convolutional read-out. Forward never mutates
// the model, so one Model can serve concurrent predictions.
type Model struct {
	Cfg Config
	P   *Params
	cv  conv
}

// New creates a model with freshly initialised parameters.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Model{Cfg: cfg, P: InitParams(cfg), cv: newConv(cfg)}, nil
}

// WithParams wraps existing parameters, typically loaded from a checkpoint.
func WithParams(cfg Config, p *Params) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	want := NewParams(cfg)
	for i, t := range p.Tensors() {
		if len(t) != len(want.Tensors()[i]) {
			return nil, fmt.Errorf("parameter %d has %d values, topology needs %d", i, len(t), len(want.Tensors()[i]))
		}
	}
	return &Model{Cfg: cfg, P: p, cv: newConv(cfg)}, nil
}

type step struct {
	z          []float64
	cPrev, c   []float64
	tanhC      []float64
	i, f, o, g []float64
}

// Trace keeps the activations of one forward pass for Backward.
type Trace struct {
	steps []step
	hCols *mat.Dense
	out   []float64
}

// Predict implements Predictor.
func (m *Model) Predict(sample *tensor.Binary) (*tensor.Dense, error) {
	out, _, err := m.run(sample, false)
	return out, err
}

// Forward runs the recurrence and returns probabilities in [0,1]. State
// starts at zero for every call.
func (m *Model) Forward(sample *tensor.Binary) (*tensor.Dense, error) {
	return m.Predict(sample)
}

// ForwardTrace is Forward that also records activations for Backward.
func (m *Model) ForwardTrace(sample *tensor.Binary) (*tensor.Dense, *Trace, error) {
	return m.run(sample, true)
}

func (m *Model) checkSample(sample *tensor.Binary) error {
	frame := m.Cfg.FrameShape()
	if len(sample.Shape) != 4 || sample.Shape[0] < 1 {
		return &tensor.ShapeMismatchError{What: "sample", Want: append(tensor.Shape{-1}, frame...), Got: sample.Shape}
	}
	return tensor.Expect("sample frame", frame, sample.Shape[1:])
}

func (m *Model) run(sample *tensor.Binary, keep bool) (*tensor.Dense, *Trace, error) {
	if err := m.checkSample(sample); err != nil {
		return nil, nil, err
	}
	cfg := m.Cfg
	h, cin, kk, p := cfg.HiddenChannels, cfg.InputChannels, cfg.taps(), cfg.pixels()
	hp := h * p
	wg := mat.NewDense(4*h, (cin+h)*kk, m.P.Wg)
	x := sample.Float().Data

	hid := make([]float64, hp)
	cell := make([]float64, hp)
	var tr *Trace
	if keep {
		tr = &Trace{steps: make([]step, 0, sample.Shape[0])}
	}
	for t := 0; t < sample.Shape[0]; t++ {
		z := make([]float64, (cin+h)*p)
		copy(z, x[t*cin*p:(t+1)*cin*p])
		copy(z[cin*p:], hid)

		var gates mat.Dense
		gates.Mul(wg, m.cv.im2col(z, cin+h))
		raw := gates.RawMatrix()

		s := step{
			z: z, cPrev: cell,
			i: make([]float64, hp), f: make([]float64, hp),
			o: make([]float64, hp), g: make([]float64, hp),
			c: make([]float64, hp), tanhC: make([]float64, hp),
		}
		for ch := 0; ch < h; ch++ {
			for q := 0; q < p; q++ {
				j := ch*p + q
				s.i[j] = sigmoid(raw.Data[ch*raw.Stride+q] + m.P.Bg[ch])
				s.f[j] = sigmoid(raw.Data[(h+ch)*raw.Stride+q] + m.P.Bg[h+ch])
				s.o[j] = sigmoid(raw.Data[(2*h+ch)*raw.Stride+q] + m.P.Bg[2*h+ch])
				s.g[j] = math.Tanh(raw.Data[(3*h+ch)*raw.Stride+q] + m.P.Bg[3*h+ch])
			}
		}
		next := make([]float64, hp)
		for j := 0; j < hp; j++ {
			s.c[j] = s.f[j]*cell[j] + s.i[j]*s.g[j]
			s.tanhC[j] = math.Tanh(s.c[j])
			next[j] = s.o[j] * s.tanhC[j]
		}
		if keep {
			tr.steps = append(tr.steps, s)
		}
		cell, hid = s.c, next
	}

	hCols := m.cv.im2col(hid, h)
	var y mat.Dense
	y.Mul(mat.NewDense(cin, h*kk, m.P.Wo), hCols)
	raw := y.RawMatrix()
	out := tensor.NewDense(cfg.FrameShape()...)
	for ch := 0; ch < cin; ch++ {
		for q := 0; q < p; q++ {
			out.Data[ch*p+q] = sigmoid(raw.Data[ch*raw.Stride+q] + m.P.Bo[ch])
		}
	}
	if keep {
		tr.hCols = hCols
		tr.out = out.Data
	}
	return out, tr, nil
}

// Backward propagates dOut, the loss gradient with respect to the output
// probabilities, through time and adds parameter gradients to g.
func (m *Model) Backward(tr *Trace, dOut []float64, g *Gradients) error {
	cfg := m.Cfg
	h, cin, kk, p := cfg.HiddenChannels, cfg.InputChannels, cfg.taps(), cfg.pixels()
	hp := h * p
	if len(dOut) != len(tr.out) {
		return tensor.Expect("output gradient", cfg.FrameShape(), tensor.Shape{len(dOut)})
	}

	dy := make([]float64, cin*p)
	for j, pr := range tr.out {
		dy[j] = dOut[j] * pr * (1 - pr)
	}
	dY := mat.NewDense(cin, p, dy)
	var dWo mat.Dense
	dWo.Mul(dY, tr.hCols.T())
	addInto(g.Wo, &dWo)
	rowSumsInto(g.Bo, dy, p)

	wo := mat.NewDense(cin, h*kk, m.P.Wo)
	var dhCols mat.Dense
	dhCols.Mul(wo.T(), dY)
	dh := m.cv.col2im(&dhCols, h)

	wg := mat.NewDense(4*h, (cin+h)*kk, m.P.Wg)
	dc := make([]float64, hp)
	for t := len(tr.steps) - 1; t >= 0; t-- {
		s := tr.steps[t]
		dG := make([]float64, 4*hp)
		for j := 0; j < hp; j++ {
			do := dh[j] * s.tanhC[j]
			dc[j] += dh[j] * s.o[j] * (1 - s.tanhC[j]*s.tanhC[j])
			di := dc[j] * s.g[j]
			df := dc[j] * s.cPrev[j]
			dg := dc[j] * s.i[j]
			dG[j] = di * s.i[j] * (1 - s.i[j])
			dG[hp+j] = df * s.f[j] * (1 - s.f[j])
			dG[2*hp+j] = do * s.o[j] * (1 - s.o[j])
			dG[3*hp+j] = dg * (1 - s.g[j]*s.g[j])
			dc[j] *= s.f[j]
		}
		dGm := mat.NewDense(4*h, p, dG)
		var dWg mat.Dense
		dWg.Mul(dGm, m.cv.im2col(s.z, cin+h).T())
		addInto(g.Wg, &dWg)
		rowSumsInto(g.Bg, dG, p)

		var dCols mat.Dense
		dCols.Mul(wg.T(), dGm)
		dh = m.cv.col2im(&dCols, cin+h)[cin*p:]
	}
	return nil
}

func sigmoid(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1 + e)
}
