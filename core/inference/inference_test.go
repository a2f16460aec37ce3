package inference

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/occupancy"
	"github.com/kilianp07/crimecast/core/sequence"
	"github.com/kilianp07/crimecast/core/tensor"
)

var day0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type fixedPredictor struct{ probs []float64 }

func (f fixedPredictor) Predict(s *tensor.Binary) (*tensor.Dense, error) {
	out := tensor.NewDense(s.Shape[1:]...)
	copy(out.Data, f.probs)
	return out, nil
}

type failingFactor struct{}

func (failingFactor) Name() string { return "broken" }
func (failingFactor) Weight(time.Time, grid.Cell) (float64, error) {
	return 0, errors.New("unavailable")
}

type constFactor float64

func (constFactor) Name() string { return "double" }
func (c constFactor) Weight(time.Time, grid.Cell) (float64, error) {
	return float64(c), nil
}

func fixture(t *testing.T, days int, probs []float64) *Resolver {
	t.Helper()
	g, err := grid.New(grid.Bounds{LatMin: 10, LatMax: 12, LonMin: 20, LonMax: 22}, 2, 2)
	require.NoError(t, err)
	counts := make([]int32, days*4)
	for d := 0; d < days; d++ {
		counts[d*4+d%4] = 1
	}
	tbl, err := occupancy.FromCounts(day0, []string{"crime"}, 2, 2, counts)
	require.NoError(t, err)
	ds, err := sequence.Build(tbl, 12)
	require.NoError(t, err)
	r, err := NewResolver(g, tbl, ds, fixedPredictor{probs: probs}, time.Time{})
	require.NoError(t, err)
	return r
}

func TestResolveFifteenDays(t *testing.T) {
	r := fixture(t, 15, nil)
	require.Equal(t, 2, r.Samples())

	res, err := r.Resolve(day0.AddDate(0, 0, 13))
	require.NoError(t, err)
	assert.Equal(t, Resolution{Date: day0.AddDate(0, 0, 13), Index: 0, HasLabel: true}, res)

	res, err = r.Resolve(day0.AddDate(0, 0, 14).Add(9 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Index)
	assert.True(t, res.HasLabel)
	assert.False(t, res.Extrapolated)

	res, err = r.Resolve(day0.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Index)
	assert.True(t, res.Extrapolated)
	assert.False(t, res.HasLabel)

	_, err = r.Resolve(day0.AddDate(0, 0, 12))
	assert.ErrorIs(t, err, ErrBeforeRange)

	assert.Equal(t, day0.AddDate(0, 0, 13), r.FirstDate())
	assert.Equal(t, day0.AddDate(0, 0, 14), r.LastDate())
}

func TestResolveWithoutSamples(t *testing.T) {
	r := fixture(t, 13, nil)
	_, err := r.Resolve(day0.AddDate(0, 0, 20))
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestResolveAnchoredStart(t *testing.T) {
	g, err := grid.New(grid.Bounds{LatMin: 10, LatMax: 12, LonMin: 20, LonMax: 22}, 2, 2)
	require.NoError(t, err)
	tbl := occupancy.NewTable(day0, 30, []string{"crime"}, 2, 2)
	ds, err := sequence.Build(tbl, 12)
	require.NoError(t, err)
	require.Equal(t, 17, ds.Len())

	start := day0.AddDate(0, 0, 20)
	r, err := NewResolver(g, tbl, ds, fixedPredictor{}, start)
	require.NoError(t, err)
	assert.Equal(t, 10, r.Samples())

	res, err := r.Resolve(start)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, start, r.FirstDate())
	assert.True(t, r.Data.Label(0).Equal(ds.Label(7)))
}

func TestForecastHardCutoffProjectsCentres(t *testing.T) {
	r := fixture(t, 15, []float64{0.9, 0.2, 0.6, 0.59})
	fc, err := r.Forecast(context.Background(), Request{Date: day0.AddDate(0, 0, 13), Threshold: 0.6, Cutoff: CutoffHard})
	require.NoError(t, err)
	require.Len(t, fc.Points, 2)

	p := fc.Points[0]
	assert.Equal(t, grid.Cell{Row: 1, Col: 1}, p.Cell)
	assert.InDelta(t, 10.5, p.Lat, 1e-12)
	assert.InDelta(t, 20.5, p.Lon, 1e-12)
	assert.Equal(t, 90, p.Intensity)
	assert.Equal(t, "crime", p.Channel)

	q := fc.Points[1]
	assert.Equal(t, grid.Cell{Row: 2, Col: 1}, q.Cell)
	assert.InDelta(t, 11.5, q.Lat, 1e-12)
	// day 13 marks cell 13%4 = 1, i.e. (1,2)
	assert.False(t, q.Observed)
	require.NotNil(t, fc.Label)
	assert.Equal(t, uint8(1), fc.Label.Data[1])
}

func TestForecastSoftCutoffScalesLowCells(t *testing.T) {
	r := fixture(t, 15, []float64{0.9, 0.2, 0.6, 0.5})
	fc, err := r.Forecast(context.Background(), Request{Date: day0.AddDate(0, 2, 0), Threshold: 0.6, Cutoff: CutoffSoft})
	require.NoError(t, err)
	require.Len(t, fc.Points, 4)
	assert.InDelta(t, 0.2*0.3, fc.Points[1].Weight, 1e-12)
	assert.InDelta(t, 0.9, fc.Points[0].Weight, 1e-12)
	assert.True(t, fc.Extrapolated)
	assert.Nil(t, fc.Label)
}

func TestForecastFactorsAndDegradation(t *testing.T) {
	r := fixture(t, 15, []float64{0.9, 0.2, 0.7, 0.1})
	r.Factors = []Factor{constFactor(2), failingFactor{}}
	fc, err := r.Forecast(context.Background(), Request{Date: day0.AddDate(0, 0, 14), Threshold: 0.6})
	require.NoError(t, err)
	assert.Equal(t, CutoffHard, fc.Cutoff)
	assert.Equal(t, []string{"broken"}, fc.DegradedFactors)
	require.Len(t, fc.Points, 2)
	assert.InDelta(t, 1.8, fc.Points[0].Weight, 1e-12)
	// the cutoff compares the raw probability, not the blended weight
	assert.InDelta(t, 0.9, fc.Points[0].Probability, 1e-12)

	fc, err = r.Forecast(context.Background(), Request{Date: day0.AddDate(0, 0, 14), Threshold: 0.6, Factors: []string{}})
	require.NoError(t, err)
	assert.Empty(t, fc.DegradedFactors)
	assert.InDelta(t, 0.9, fc.Points[0].Weight, 1e-12)
}

func TestForecastIsDeterministic(t *testing.T) {
	r := fixture(t, 15, []float64{0.9, 0.2, 0.7, 0.1})
	a, err := r.Forecast(context.Background(), Request{Date: day0.AddDate(0, 0, 14), Threshold: 0.6})
	require.NoError(t, err)
	b, err := r.Forecast(context.Background(), Request{Date: day0.AddDate(0, 0, 14), Threshold: 0.6})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseCutoff(t *testing.T) {
	c, err := ParseCutoff("soft")
	require.NoError(t, err)
	assert.Equal(t, CutoffSoft, c)
	c, err = ParseCutoff("")
	require.NoError(t, err)
	assert.Equal(t, CutoffHard, c)
	_, err = ParseCutoff("medium")
	assert.Error(t, err)
}

func TestForecastRejectsInvalidThreshold(t *testing.T) {
	r := fixture(t, 15, []float64{0.5, 0.7, 0.9, 0.1})
	for _, th := range []float64{math.NaN(), -0.1, 1.01, math.Inf(1)} {
		_, err := r.Forecast(context.Background(), Request{Date: day0.AddDate(0, 0, 13), Threshold: th, Cutoff: CutoffHard})
		assert.ErrorIs(t, err, ErrInvalidThreshold, "threshold %v", th)
	}
	assert.True(t, ValidThreshold(0))
	assert.True(t, ValidThreshold(1))
}

func TestForecastProjectsLastRowAndColumn(t *testing.T) {
	r := fixture(t, 15, []float64{0.1, 0.1, 0.1, 0.95})
	fc, err := r.Forecast(context.Background(), Request{Date: day0.AddDate(0, 0, 13), Threshold: 0.6, Cutoff: CutoffHard})
	require.NoError(t, err)
	require.Len(t, fc.Points, 1)
	p := fc.Points[0]
	assert.Equal(t, grid.Cell{Row: 2, Col: 2}, p.Cell)
	assert.InDelta(t, 11.5, p.Lat, 1e-12)
	assert.InDelta(t, 21.5, p.Lon, 1e-12)
}
