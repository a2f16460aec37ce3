package train

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const clampEps = 1e-7

// WeightedBCE is binary cross-entropy with separate weights for the positive
// and negative class, averaged over every element.
type WeightedBCE struct {
	Pos float64
	Neg float64
}

// DefaultLoss weights a missed occurrence twenty times a false alarm.
func DefaultLoss() WeightedBCE { return WeightedBCE{Pos: 20, Neg: 1} }

func clamp(p float64) float64 {
	return math.Min(math.Max(p, clampEps), 1-clampEps)
}

// Loss returns the mean weighted loss of probabilities p against 0/1 labels y.
func (l WeightedBCE) Loss(p []float64, y []uint8) float64 {
	if len(p) == 0 {
		return 0
	}
	terms := make([]float64, len(p))
	for i, pr := range p {
		pc := clamp(pr)
		if y[i] != 0 {
			terms[i] = -l.Pos * math.Log(pc)
		} else {
			terms[i] = -l.Neg * math.Log(1-pc)
		}
	}
	return floats.Sum(terms) / float64(len(p))
}

// Grad writes dLoss/dp into dst. Elements outside the clamp range get a zero
// gradient.
func (l WeightedBCE) Grad(p []float64, y []uint8, dst []float64) {
	if len(p) == 0 {
		return
	}
	dst = dst[:len(p)]
	for i, pr := range p {
		switch {
		case pr < clampEps || pr > 1-clampEps:
			dst[i] = 0
		case y[i] != 0:
			dst[i] = -l.Pos / pr
		default:
			dst[i] = l.Neg / (1 - pr)
		}
	}
	floats.Scale(1/float64(len(p)), dst)
}
