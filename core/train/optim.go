package train

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/crimecast/core/model"
)

// Adam implements the Adam optimiser with bias correction.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	t       int
	m, v    [][]float64
	squares [][]float64
}

// NewAdam returns an optimiser with the usual moment decay rates.
func NewAdam(lr float64) *Adam {
	return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

// Step applies one update of g to p in place.
func (a *Adam) Step(p *model.Params, g *model.Gradients) {
	params, grads := p.Tensors(), g.Tensors()
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		a.squares = make([][]float64, len(params))
		for i, t := range params {
			a.m[i] = make([]float64, len(t))
			a.v[i] = make([]float64, len(t))
			a.squares[i] = make([]float64, len(t))
		}
	}
	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for i, pt := range params {
		m, v, gt, sq := a.m[i], a.v[i], grads[i], a.squares[i]
		if len(pt) == 0 {
			continue
		}
		floats.Scale(a.Beta1, m)
		floats.AddScaled(m, 1-a.Beta1, gt)
		floats.MulTo(sq, gt, gt)
		floats.Scale(a.Beta2, v)
		floats.AddScaled(v, 1-a.Beta2, sq)
		for j := range pt {
			pt[j] -= a.LR * (m[j] / c1) / (math.Sqrt(v[j]/c2) + a.Eps)
		}
	}
}

// StepLR multiplies the base rate by Gamma every StepSize epochs.
type StepLR struct {
	Base     float64
	StepSize int
	Gamma    float64
}

// Rate returns the learning rate for the zero-based epoch.
func (s StepLR) Rate(epoch int) float64 {
	if s.StepSize <= 0 {
		return s.Base
	}
	return s.Base * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}
