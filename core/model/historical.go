package model

import (
	"github.com/kilianp07/crimecast/core/tensor"
)

// HistoricalPredictor scores each cell by how often it was active in the
// input window. It needs no trained parameters and serves as the fallback
// when no checkpoint can be loaded.
type HistoricalPredictor struct{}

// Predict implements Predictor.
func (HistoricalPredictor) Predict(sample *tensor.Binary) (*tensor.Dense, error) {
	if len(sample.Shape) != 4 || sample.Shape[0] < 1 {
		return nil, &tensor.ShapeMismatchError{What: "sample", Want: tensor.Shape{-1, -1, -1, -1}, Got: sample.Shape}
	}
	steps := sample.Len()
	out := tensor.NewDense(sample.Shape[1:]...)
	for t := 0; t < steps; t++ {
		for j, v := range sample.At(t).Data {
			out.Data[j] += float64(v)
		}
	}
	for j := range out.Data {
		out.Data[j] /= float64(steps)
	}
	return out, nil
}
