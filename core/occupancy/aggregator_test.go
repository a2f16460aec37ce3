package occupancy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/incident"
)

func testGrid(t *testing.T) *grid.Index {
	t.Helper()
	ix, err := grid.New(grid.Bounds{LatMin: 0.5, LatMax: 4.5, LonMin: 10.5, LonMax: 14.5}, 4, 4)
	require.NoError(t, err)
	return ix
}

func day0() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

func TestAggregateDensifiesDaysAndCells(t *testing.T) {
	g := testGrid(t)
	recs := []incident.Record{
		incident.At(1.0, 11.0, day0(), "theft"),
		incident.At(1.0, 11.0, day0(), "theft"),
		incident.At(3.0, 13.0, day0(), "assault"),
		incident.At(2.0, 12.0, day0().AddDate(0, 0, 3), "theft"),
		incident.At(9.0, 12.0, day0().AddDate(0, 0, 1), "theft"),
	}
	tbl, rep := Aggregator{Grid: g}.Aggregate(recs)

	require.Equal(t, 4, tbl.Days())
	assert.Equal(t, []string{DefaultChannel}, tbl.Channels)
	assert.Equal(t, 4*16, len(tbl.Counts()))
	assert.Equal(t, day0(), tbl.Start)
	assert.Equal(t, day0().AddDate(0, 0, 3), tbl.End())

	assert.Equal(t, 5, rep.Total)
	assert.Equal(t, 4, rep.Kept)
	assert.Equal(t, 1, rep.Dropped[incident.DropOutOfBounds])

	assert.Equal(t, int32(2), tbl.Count(0, 0, grid.Cell{Row: 1, Col: 1}))
	assert.Equal(t, int32(1), tbl.Count(0, 0, grid.Cell{Row: 3, Col: 3}))
	assert.Equal(t, 0, tbl.DayTotal(1))
	assert.Equal(t, 0, tbl.DayTotal(2))
}

func TestDayTotalsMatchValidRecords(t *testing.T) {
	g := testGrid(t)
	var recs []incident.Record
	want := map[int]int{}
	for d := 0; d < 10; d++ {
		for k := 0; k < d%4+1; k++ {
			lat := 0.6 + float64((d+k)%4)
			lon := 10.6 + float64((d*k)%4)
			recs = append(recs, incident.At(lat, lon, day0().AddDate(0, 0, d), ""))
			want[d]++
		}
		recs = append(recs, incident.At(100, 100, day0().AddDate(0, 0, d), ""))
	}
	tbl, rep := Aggregator{Grid: g}.Aggregate(recs)
	require.Equal(t, 10, tbl.Days())
	for d := 0; d < 10; d++ {
		assert.Equal(t, want[d], tbl.DayTotal(d), "day %d", d)
	}
	assert.Equal(t, rep.Kept, tbl.Total())
}

func TestAggregatePerCategoryChannels(t *testing.T) {
	g := testGrid(t)
	recs := []incident.Record{
		incident.At(1.0, 11.0, day0(), "Theft"),
		incident.At(1.0, 11.0, day0(), "assault"),
		incident.At(1.0, 11.0, day0(), "fraud"),
	}
	tbl, rep := Aggregator{Grid: g, Channels: []string{"theft", "assault"}}.Aggregate(recs)
	assert.Equal(t, 1, rep.Dropped[incident.DropUnknownCategory])
	c := grid.Cell{Row: 1, Col: 1}
	assert.Equal(t, int32(1), tbl.Count(0, 0, c))
	assert.Equal(t, int32(1), tbl.Count(0, 1, c))
	assert.Equal(t, 2, tbl.DayTotal(0))
}

func TestAggregateEmpty(t *testing.T) {
	tbl, rep := Aggregator{Grid: testGrid(t)}.Aggregate(nil)
	assert.Equal(t, 0, tbl.Days())
	assert.Equal(t, 0, rep.Total)
	assert.True(t, tbl.End().IsZero())
}

func TestDaysBeforeAndIndexOf(t *testing.T) {
	tbl := NewTable(day0(), 5, []string{DefaultChannel}, 2, 2)
	assert.Equal(t, 0, tbl.DaysBefore(day0()))
	assert.Equal(t, 0, tbl.DaysBefore(day0().AddDate(0, 0, -3)))
	assert.Equal(t, 3, tbl.DaysBefore(day0().AddDate(0, 0, 3).Add(5*time.Hour)))
	assert.Equal(t, 5, tbl.DaysBefore(day0().AddDate(1, 0, 0)))

	i, ok := tbl.IndexOf(day0().AddDate(0, 0, 4))
	assert.True(t, ok)
	assert.Equal(t, 4, i)
	_, ok = tbl.IndexOf(day0().AddDate(0, 0, 5))
	assert.False(t, ok)
}

func TestFromCountsRejectsRaggedSlice(t *testing.T) {
	_, err := FromCounts(day0(), []string{"a"}, 2, 2, make([]int32, 7))
	assert.Error(t, err)
	tbl, err := FromCounts(day0(), []string{"a"}, 2, 2, make([]int32, 8))
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Days())
	assert.True(t, tbl.Equal(NewTable(day0(), 2, []string{"a"}, 2, 2)))
}
