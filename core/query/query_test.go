package query

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/incident"
	"github.com/kilianp07/crimecast/core/inference"
	"github.com/kilianp07/crimecast/core/location"
	"github.com/kilianp07/crimecast/core/metrics"
	"github.com/kilianp07/crimecast/core/occupancy"
	"github.com/kilianp07/crimecast/core/sequence"
	"github.com/kilianp07/crimecast/core/tensor"
	"github.com/kilianp07/crimecast/internal/eventbus"
)

var day0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type fixedPredictor []float64

func (f fixedPredictor) Predict(s *tensor.Binary) (*tensor.Dense, error) {
	out := tensor.NewDense(s.Shape[1:]...)
	copy(out.Data, f)
	return out, nil
}

type staticTier string

func (s staticTier) Tier() string { return string(s) }

func service(t *testing.T, days int) *Service {
	t.Helper()
	g, err := grid.New(grid.Bounds{LatMin: 10, LatMax: 12, LonMin: 20, LonMax: 22}, 2, 2)
	require.NoError(t, err)
	counts := make([]int32, days*4)
	for d := 0; d < days; d++ {
		counts[d*4+d%4] = int32(1 + d%2)
	}
	tbl, err := occupancy.FromCounts(day0, []string{"crime"}, 2, 2, counts)
	require.NoError(t, err)
	ds, err := sequence.Build(tbl, 12)
	require.NoError(t, err)
	r, err := inference.NewResolver(g, tbl, ds, fixedPredictor{0.5, 0.7, 0.9, 0.1}, time.Time{})
	require.NoError(t, err)
	return &Service{
		Cities:   []string{"Bengaluru"},
		Resolver: r,
		Gazetteer: location.New([]location.Place{
			{Name: "Koramangala", Lat: 10.5, Lon: 20.5},
			{Name: "Indiranagar", Aliases: []string{"HAL 2nd Stage"}, Lat: 11.5, Lon: 20.5},
		}),
		Defaults: inference.Request{Threshold: 0.6, Cutoff: inference.CutoffHard},
		Ingest:   incident.Report{Total: 20, Kept: 15, Dropped: map[string]int{incident.DropOutOfBounds: 5}},
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, RiskHigh, Level(0.75))
	assert.Equal(t, RiskMedium, Level(0.6))
	assert.Equal(t, RiskLow, Level(0.59))
}

func TestGetHotspotsSortsByRisk(t *testing.T) {
	s := service(t, 15)
	bus := eventbus.New()
	defer bus.Close()
	sub := bus.Subscribe()
	s.Bus = bus
	s.Tiers = staticTier("historical")

	res, err := s.GetHotspots(context.Background(), "bengaluru", 0.6, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "Bengaluru", res.City)
	assert.Equal(t, "historical", res.Tier)
	assert.True(t, res.Extrapolated, "next day lies past the last label")
	assert.True(t, res.Date.Equal(day0.AddDate(0, 0, 15)))
	require.Equal(t, 2, res.Count)
	assert.Equal(t, 0.9, res.Hotspots[0].Risk)
	assert.Equal(t, RiskHigh, res.Hotspots[0].RiskLevel)
	assert.Equal(t, RiskMedium, res.Hotspots[1].RiskLevel)
	assert.NotEmpty(t, res.ForecastID)

	select {
	case ev := <-sub:
		fe, ok := ev.(metrics.ForecastEvent)
		require.True(t, ok)
		assert.Equal(t, res.ForecastID, fe.ForecastID)
		assert.Equal(t, 2, fe.Hotspots)
		assert.Equal(t, 4, fe.Cells)
	case <-time.After(time.Second):
		t.Fatal("no forecast event")
	}
}

func TestGetHotspotsIDIsStable(t *testing.T) {
	s := service(t, 15)
	date := day0.AddDate(0, 0, 13)
	a, err := s.GetHotspots(context.Background(), "", 0.6, date)
	require.NoError(t, err)
	b, err := s.GetHotspots(context.Background(), "Bengaluru", 0.6, date.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, a.ForecastID, b.ForecastID)
	assert.False(t, a.Extrapolated)

	c, err := s.GetHotspots(context.Background(), "", 0.8, date)
	require.NoError(t, err)
	assert.NotEqual(t, a.ForecastID, c.ForecastID)
	assert.Equal(t, 1, c.Count)
}

func TestGetHotspotsRejectsInput(t *testing.T) {
	s := service(t, 15)
	_, err := s.GetHotspots(context.Background(), "Mysuru", 0.5, time.Time{})
	var unknown *UnknownCityError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, []string{"Bengaluru"}, unknown.Known)

	_, err = s.GetHotspots(context.Background(), "", 1.5, time.Time{})
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = s.GetHotspots(context.Background(), "", math.NaN(), time.Time{})
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = s.GetHotspots(context.Background(), "", 0.5, day0)
	assert.ErrorIs(t, err, inference.ErrBeforeRange)
}

func TestGetStatistics(t *testing.T) {
	s := service(t, 40)
	st, err := s.GetStatistics(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 40, st.DaysObserved)
	assert.Equal(t, 60, st.TotalIncidents)
	assert.Equal(t, map[string]int{"crime": 60}, st.Channels)
	assert.Len(t, st.TimeSeries, SeriesDays)
	assert.True(t, st.TimeSeries[SeriesDays-1].Date.Equal(day0.AddDate(0, 0, 39)))
	assert.Equal(t, 2, st.HotspotsCount)
	assert.InDelta(t, 0.8, st.AverageRisk, 1e-9)
	assert.Equal(t, "model", st.Tier)
	if diff := cmp.Diff(s.Ingest, st.Ingest); diff != "" {
		t.Errorf("ingest report mismatch (-want +got):\n%s", diff)
	}
}

func TestGetStatisticsShortTable(t *testing.T) {
	s := service(t, 5)
	st, err := s.GetStatistics(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 5, st.DaysObserved)
	assert.Zero(t, st.HotspotsCount)
	assert.Len(t, st.TimeSeries, 5)
}

func TestPredict(t *testing.T) {
	s := service(t, 15)
	ctx := context.Background()

	byName, err := s.Predict(ctx, time.Time{}, Target{Name: "hal 2nd stage"})
	require.NoError(t, err)
	require.True(t, byName.Found)
	assert.Equal(t, "Indiranagar", byName.Place)
	assert.Equal(t, 2, byName.Row)
	assert.Equal(t, 1, byName.Col)
	assert.Equal(t, 0.9, byName.Probability)
	assert.Equal(t, RiskHigh, byName.RiskLevel)
	assert.True(t, byName.Extrapolated)

	byCoord, err := s.Predict(ctx, day0.AddDate(0, 0, 13), Target{Lat: 10.6, Lon: 20.4})
	require.NoError(t, err)
	assert.True(t, byCoord.Found)
	assert.Equal(t, map[string]float64{"crime": 0.5}, byCoord.Channels)
	assert.Equal(t, RiskLow, byCoord.RiskLevel)
	assert.Equal(t, "Koramangala", byCoord.Nearest)
	assert.Positive(t, byCoord.DistanceM)

	missing, err := s.Predict(ctx, time.Time{}, Target{Name: "Atlantis"})
	require.NoError(t, err)
	assert.False(t, missing.Found)

	_, err = s.Predict(ctx, time.Time{}, Target{Lat: 50, Lon: 20.5})
	assert.ErrorIs(t, err, ErrOutsideGrid)
}

func TestSearchLocation(t *testing.T) {
	s := service(t, 15)
	got, err := s.SearchLocation(context.Background(), "nagar")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Indiranagar", got[0].Name)

	got, err = s.SearchLocation(context.Background(), "zzz")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
