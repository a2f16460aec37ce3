package model

import (
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Params holds the learnable weights as flat row-major slices.
//
// Wg is the gate convolution, 4·H rows (input, forget, output, candidate
// gates) by (Ch+H)·K·K columns. Wo maps the final hidden state to Ch output
// channels and has H·K·K columns.
type Params struct {
	Wg []float64
	Bg []float64
	Wo []float64
	Bo []float64
}

// NewParams returns zero parameters sized for cfg.
func NewParams(cfg Config) *Params {
	h, cin, kk := cfg.HiddenChannels, cfg.InputChannels, cfg.taps()
	return &Params{
		Wg: make([]float64, 4*h*(cin+h)*kk),
		Bg: make([]float64, 4*h),
		Wo: make([]float64, cin*h*kk),
		Bo: make([]float64, cin),
	}
}

// InitParams draws weights and biases from U(-1/√fan_in, 1/√fan_in) using a
// PCG source seeded with cfg.Seed.
func InitParams(cfg Config) *Params {
	p := NewParams(cfg)
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	h, cin, kk := cfg.HiddenChannels, cfg.InputChannels, cfg.taps()
	fill(src, float64((cin+h)*kk), p.Wg, p.Bg)
	fill(src, float64(h*kk), p.Wo, p.Bo)
	return p
}

func fill(src rand.Source, fanIn float64, dst ...[]float64) {
	bound := 1 / math.Sqrt(fanIn)
	u := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	for _, d := range dst {
		for i := range d {
			d[i] = u.Rand()
		}
	}
}

// Tensors lists the parameter slices in a fixed order. The slices alias p.
func (p *Params) Tensors() [][]float64 {
	return [][]float64{p.Wg, p.Bg, p.Wo, p.Bo}
}

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	return &Params{
		Wg: slices.Clone(p.Wg),
		Bg: slices.Clone(p.Bg),
		Wo: slices.Clone(p.Wo),
		Bo: slices.Clone(p.Bo),
	}
}

// Equal reports bitwise equality of every parameter.
func (p *Params) Equal(o *Params) bool {
	return slices.Equal(p.Wg, o.Wg) && slices.Equal(p.Bg, o.Bg) &&
		slices.Equal(p.Wo, o.Wo) && slices.Equal(p.Bo, o.Bo)
}

// Count returns the number of scalar parameters.
func (p *Params) Count() int {
	n := 0
	for _, t := range p.Tensors() {
		n += len(t)
	}
	return n
}

// Gradients accumulates parameter gradients across a batch.
type Gradients struct {
	Params
}

// NewGradients returns zero gradients sized for cfg.
func NewGradients(cfg Config) *Gradients {
	return &Gradients{Params: *NewParams(cfg)}
}

// Zero resets every gradient.
func (g *Gradients) Zero() {
	for _, t := range g.Tensors() {
		clear(t)
	}
}

// Scale multiplies every gradient by s.
func (g *Gradients) Scale(s float64) {
	for _, t := range g.Tensors() {
		floats.Scale(s, t)
	}
}
