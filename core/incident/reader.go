package incident

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// ReadCSV parses every row of r through the schema. Malformed rows are
// dropped and counted; only an unreadable stream or an unresolvable header
// returns an error.
func ReadCSV(r io.Reader, s Schema) ([]Record, Report, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, Report{}, fmt.Errorf("read header: %w", err)
	}
	cols, err := s.Resolve(append([]string(nil), header...))
	if err != nil {
		return nil, Report{}, err
	}
	var (
		recs []Record
		rep  Report
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				rep.Total++
				rep.Drop(DropShortRow)
				continue
			}
			return nil, rep, fmt.Errorf("read row: %w", err)
		}
		rep.Total++
		rec, reason := cols.Parse(row)
		if reason != "" {
			rep.Drop(reason)
			continue
		}
		recs = append(recs, rec)
		rep.Kept++
	}
	return recs, rep, nil
}

// Parse converts one row. A non-empty reason means the row was rejected.
func (c Columns) Parse(row []string) (Record, string) {
	if len(row) < c.width {
		return Record{}, DropShortRow
	}
	lat, okLat := parseCoord(row[c.Lat], 90)
	lon, okLon := parseCoord(row[c.Lon], 180)
	if !okLat || !okLon {
		return Record{}, DropBadCoordinates
	}
	ts, ok := c.parseDate(row[c.Date])
	if !ok {
		return Record{}, DropBadDate
	}
	rec := Record{Lat: lat, Lon: lon, Date: Day(ts)}
	if c.Time >= 0 {
		rec.TimeOfDay, rec.HasTime = c.parseTime(row[c.Time])
	}
	if !rec.HasTime && (ts.Hour() != 0 || ts.Minute() != 0 || ts.Second() != 0) {
		rec.TimeOfDay = time.Duration(ts.Hour())*time.Hour +
			time.Duration(ts.Minute())*time.Minute +
			time.Duration(ts.Second())*time.Second
		rec.HasTime = true
	}
	if c.Category >= 0 {
		rec.Category = strings.TrimSpace(row[c.Category])
	}
	return rec, ""
}

// parseCoord rejects empty, non-numeric, out-of-range and exact zero values;
// zero is the placeholder used by upstream exports for missing coordinates.
func parseCoord(v string, limit float64) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f == 0 || math.Abs(f) > limit {
		return 0, false
	}
	return f, true
}

// At builds a record for a given day; used by tests and the fixture tooling.
func At(lat, lon float64, day time.Time, category string) Record {
	return Record{Lat: lat, Lon: lon, Date: Day(day), Category: category}
}
