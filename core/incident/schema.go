package incident

import (
	"fmt"
	"strings"
	"time"
)

// Schema declares, for every logical field, the column names accepted in
// source files. Aliases are tried in order once, when the header is resolved.
type Schema struct {
	Latitude    []string `json:"latitude"`
	Longitude   []string `json:"longitude"`
	Date        []string `json:"date"`
	Time        []string `json:"time"`
	Category    []string `json:"category"`
	DateLayouts []string `json:"date_layouts"`
	TimeLayouts []string `json:"time_layouts"`
}

// DefaultSchema matches the column names of the reference crime exports.
func DefaultSchema() Schema {
	return Schema{
		Latitude:  []string{"latitude", "lat"},
		Longitude: []string{"longitude", "lon", "lng"},
		Date:      []string{"date", "datetime"},
		Time:      []string{"time_of_day", "time"},
		Category:  []string{"crime_type", "type", "category"},
		DateLayouts: []string{
			"2006-01-02",
			"2006-01-02 15:04:05",
			time.RFC3339,
			"2006/01/02",
			"02-01-2006",
			"01/02/2006",
		},
		TimeLayouts: []string{"15:04:05", "15:04"},
	}
}

// SetDefaults fills empty alias lists from DefaultSchema.
func (s *Schema) SetDefaults() {
	d := DefaultSchema()
	if len(s.Latitude) == 0 {
		s.Latitude = d.Latitude
	}
	if len(s.Longitude) == 0 {
		s.Longitude = d.Longitude
	}
	if len(s.Date) == 0 {
		s.Date = d.Date
	}
	if len(s.Time) == 0 {
		s.Time = d.Time
	}
	if len(s.Category) == 0 {
		s.Category = d.Category
	}
	if len(s.DateLayouts) == 0 {
		s.DateLayouts = d.DateLayouts
	}
	if len(s.TimeLayouts) == 0 {
		s.TimeLayouts = d.TimeLayouts
	}
}

// SchemaError reports a required field for which no declared alias exists in
// the header.
type SchemaError struct {
	Field   string
	Aliases []string
	Header  []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("no column for %s: tried %v, header has %v", e.Field, e.Aliases, e.Header)
}

// Columns is a schema resolved against a concrete header. Optional columns
// are -1 when absent.
type Columns struct {
	Lat, Lon, Date, Time, Category int
	width                          int
	dateLayouts                    []string
	timeLayouts                    []string
}

// Resolve binds the schema to header positions. Missing latitude, longitude
// or date columns are a hard failure.
func (s Schema) Resolve(header []string) (Columns, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := pos[key]; !dup {
			pos[key] = i
		}
	}
	find := func(aliases []string) int {
		for _, a := range aliases {
			if i, ok := pos[strings.ToLower(a)]; ok {
				return i
			}
		}
		return -1
	}
	cols := Columns{
		Lat:         find(s.Latitude),
		Lon:         find(s.Longitude),
		Date:        find(s.Date),
		Time:        find(s.Time),
		Category:    find(s.Category),
		dateLayouts: s.DateLayouts,
		timeLayouts: s.TimeLayouts,
	}
	for _, req := range []struct {
		name    string
		idx     int
		aliases []string
	}{
		{"latitude", cols.Lat, s.Latitude},
		{"longitude", cols.Lon, s.Longitude},
		{"date", cols.Date, s.Date},
	} {
		if req.idx < 0 {
			return Columns{}, &SchemaError{Field: req.name, Aliases: req.aliases, Header: header}
		}
	}
	for _, i := range []int{cols.Lat, cols.Lon, cols.Date, cols.Time, cols.Category} {
		if i+1 > cols.width {
			cols.width = i + 1
		}
	}
	return cols, nil
}

func (c Columns) parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range c.dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (c Columns) parseTime(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	for _, layout := range c.timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, true
		}
	}
	return 0, false
}
