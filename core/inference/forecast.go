package inference

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/tensor"
)

// Cutoff selects how cells below the threshold are treated.
type Cutoff string

const (
	// CutoffHard drops cells below the threshold.
	CutoffHard Cutoff = "hard"
	// CutoffSoft scales cells below the threshold by Request.SoftFactor.
	CutoffSoft Cutoff = "soft"
)

// DefaultSoftFactor is the multiplier applied in soft mode.
const DefaultSoftFactor = 0.3

// ParseCutoff validates a configured cutoff name.
func ParseCutoff(s string) (Cutoff, error) {
	switch c := Cutoff(s); c {
	case CutoffHard, CutoffSoft:
		return c, nil
	case "":
		return CutoffHard, nil
	default:
		return "", fmt.Errorf("unknown cutoff mode %q (want hard or soft)", s)
	}
}

// Factor is an auxiliary multiplier blended into the forecast.
type Factor interface {
	Name() string
	Weight(date time.Time, cell grid.Cell) (float64, error)
}

// Request describes one forecast.
type Request struct {
	Date       time.Time
	Threshold  float64
	Cutoff     Cutoff
	SoftFactor float64
	// Factors enables auxiliary factors by name. Nil enables all of them.
	Factors []string
}

// Point is a cell that survived the cutoff, projected to its centre.
type Point struct {
	Cell        grid.Cell
	Channel     string
	Lat         float64
	Lon         float64
	Probability float64
	Weight      float64
	// Intensity is the weight scaled to a 0-100 integer, used as a
	// replication count by heatmap renderers.
	Intensity int
	Observed  bool
}

// Forecast is the result of a prediction for one date.
type Forecast struct {
	Resolution
	Threshold       float64
	Cutoff          Cutoff
	Probabilities   *tensor.Dense
	Label           *tensor.Binary
	Points          []Point
	DegradedFactors []string
}

// ValidThreshold reports whether t lies within [0,1]. NaN is rejected since
// every comparison against it is false.
func ValidThreshold(t float64) bool {
	return !math.IsNaN(t) && t >= 0 && t <= 1
}

// Forecast predicts the window resolved for req.Date, blends factors,
// applies the cutoff on the raw probability and projects surviving cells.
// The resolver is read-only, so concurrent calls are safe.
func (r *Resolver) Forecast(ctx context.Context, req Request) (*Forecast, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidThreshold(req.Threshold) {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidThreshold, req.Threshold)
	}
	res, err := r.Resolve(req.Date)
	if err != nil {
		return nil, err
	}
	cutoff := req.Cutoff
	if cutoff == "" {
		cutoff = CutoffHard
	}
	soft := req.SoftFactor
	if soft == 0 {
		soft = DefaultSoftFactor
	}

	probs, err := r.Predictor.Predict(r.Data.Sample(res.Index))
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", res.Date.Format(time.DateOnly), err)
	}
	if err := tensor.Expect("forecast", r.Data.FrameShape(), probs.Shape); err != nil {
		return nil, err
	}

	fc := &Forecast{Resolution: res, Threshold: req.Threshold, Cutoff: cutoff, Probabilities: probs}
	if res.HasLabel {
		fc.Label = r.Data.Label(res.Index)
	}

	factors := r.enabled(req.Factors)
	degraded := map[string]bool{}
	dLat, dLon := r.Grid.BinSize()
	cells := r.Grid.Len()
	for j, p := range probs.Data {
		ch, cell := j/cells, r.Grid.At(j%cells)
		w := p
		for _, f := range factors {
			m, err := f.Weight(res.Date, cell)
			if err != nil {
				degraded[f.Name()] = true
				m = 1
			}
			w *= m
		}
		if p < req.Threshold {
			if cutoff == CutoffHard {
				continue
			}
			w *= soft
		}
		if w <= 0 {
			continue
		}
		lat, lon, err := r.Grid.Coordinate(cell)
		if err != nil {
			return nil, err
		}
		pt := Point{
			Cell:        cell,
			Channel:     r.Table.Channels[ch],
			Lat:         lat + dLat/2,
			Lon:         lon + dLon/2,
			Probability: p,
			Weight:      w,
			Intensity:   int(w * 100),
		}
		if fc.Label != nil {
			pt.Observed = fc.Label.Data[j] != 0
		}
		fc.Points = append(fc.Points, pt)
	}
	for name := range degraded {
		fc.DegradedFactors = append(fc.DegradedFactors, name)
	}
	slices.Sort(fc.DegradedFactors)
	return fc, nil
}

func (r *Resolver) enabled(names []string) []Factor {
	if names == nil {
		return r.Factors
	}
	var out []Factor
	for _, f := range r.Factors {
		if slices.Contains(names, f.Name()) {
			out = append(out, f)
		}
	}
	return out
}
