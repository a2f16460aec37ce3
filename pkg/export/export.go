// Package export writes hotspot answers and occupancy tables in exchange
// formats.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/crimecast/core/occupancy"
	"github.com/kilianp07/crimecast/core/query"
)

// WriteJSON writes a hotspot answer to w in JSON format.
func WriteJSON(w io.Writer, res query.HotspotsResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// WriteCSV writes one line per hotspot, riskiest first.
func WriteCSV(w io.Writer, res query.HotspotsResult) error {
	cw := csv.NewWriter(w)
	header := []string{"forecast_id", "date", "row", "col", "channel", "latitude", "longitude", "probability", "risk", "risk_level", "intensity"}
	if err := cw.Write(header); err != nil {
		return err
	}
	date := res.Date.Format(time.DateOnly)
	for _, h := range res.Hotspots {
		rec := []string{
			res.ForecastID,
			date,
			strconv.Itoa(h.Row),
			strconv.Itoa(h.Col),
			h.Channel,
			formatFloat(h.Lat),
			formatFloat(h.Lon),
			formatFloat(h.Probability),
			formatFloat(h.Risk),
			string(h.RiskLevel),
			strconv.Itoa(h.Intensity),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePivotCSV writes the table in wide form: one line per (date, channel)
// and one column per grid cell named "row,col", zero filled.
func WritePivotCSV(w io.Writer, t *occupancy.Table) error {
	cw := csv.NewWriter(w)
	cells := t.Cells()
	header := make([]string, 0, cells+2)
	header = append(header, "date", "category")
	for r := 1; r <= t.Rows; r++ {
		for c := 1; c <= t.Cols; c++ {
			header = append(header, fmt.Sprintf("%d,%d", r, c))
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, cells+2)
	for d := 0; d < t.Days(); d++ {
		frame := t.Frame(d)
		rec[0] = t.Date(d).Format(time.DateOnly)
		for ch, name := range t.Channels {
			rec[1] = name
			for i, v := range frame[ch*cells : (ch+1)*cells] {
				rec[i+2] = strconv.FormatInt(int64(v), 10)
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
