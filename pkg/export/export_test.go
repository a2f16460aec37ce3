package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/crimecast/core/occupancy"
	"github.com/kilianp07/crimecast/core/query"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func result() query.HotspotsResult {
	return query.HotspotsResult{
		ForecastID: "f-1",
		City:       "Bengaluru",
		Date:       day0,
		Threshold:  0.6,
		Tier:       "model",
		Hotspots: []query.Hotspot{
			{Row: 2, Col: 3, Channel: "crime", Lat: 12.95, Lon: 77.61, Probability: 0.8, Risk: 0.8, RiskLevel: query.RiskHigh, Intensity: 80},
			{Row: 1, Col: 1, Channel: "crime", Lat: 12.85, Lon: 77.5, Probability: 0.65, Risk: 0.65, RiskLevel: query.RiskMedium, Intensity: 65},
		},
		Count: 2,
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, result()))
	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "risk_level", recs[0][9])
	want := []string{"f-1", "2024-03-01", "2", "3", "crime", "12.95", "77.61", "0.8", "0.8", "high", "80"}
	if diff := cmp.Diff(want, recs[1]); diff != "" {
		t.Errorf("first row mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, result()))
	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "f-1", got["forecastId"])
	assert.Len(t, got["hotspots"], 2)
	assert.NotContains(t, got, "Forecast")
}

func TestWritePivotCSV(t *testing.T) {
	counts := make([]int32, 2*2*2*2)
	counts[0*8+0*4+3] = 2 // day 0, crime, cell (2,2)
	counts[1*8+1*4+0] = 1 // day 1, theft, cell (1,1)
	tbl, err := occupancy.FromCounts(day0, []string{"crime", "theft"}, 2, 2, counts)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WritePivotCSV(&buf, tbl))
	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	want := [][]string{
		{"date", "category", "1,1", "1,2", "2,1", "2,2"},
		{"2024-03-01", "crime", "0", "0", "0", "2"},
		{"2024-03-01", "theft", "0", "0", "0", "0"},
		{"2024-03-02", "crime", "0", "0", "0", "0"},
		{"2024-03-02", "theft", "1", "0", "0", "0"},
	}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Errorf("pivot mismatch (-want +got):\n%s", diff)
	}
}
