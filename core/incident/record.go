// Package incident reads geotagged, dated incident records from tabular
// sources through a declared column mapping.
package incident

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Record is one ingested incident. Records are never modified after parsing.
type Record struct {
	Lat       float64
	Lon       float64
	Date      time.Time // UTC midnight of the incident day
	TimeOfDay time.Duration
	HasTime   bool
	Category  string
}

// Day truncates t to midnight UTC of the same calendar day.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Drop reasons reported by readers and aggregators.
const (
	DropShortRow        = "short_row"
	DropBadCoordinates  = "bad_coordinates"
	DropBadDate         = "bad_date"
	DropOutOfBounds     = "out_of_bounds"
	DropUnknownCategory = "unknown_category"
)

// Report counts records seen, kept and dropped per reason. Invalid records
// are absorbed here rather than failing the ingestion.
type Report struct {
	Total   int            `json:"total"`
	Kept    int            `json:"kept"`
	Dropped map[string]int `json:"dropped"`
}

// Drop records one discarded row.
func (r *Report) Drop(reason string) {
	if r.Dropped == nil {
		r.Dropped = map[string]int{}
	}
	r.Dropped[reason]++
}

// DroppedTotal sums all drop reasons.
func (r Report) DroppedTotal() int {
	n := 0
	for _, v := range r.Dropped {
		n += v
	}
	return n
}

// Merge adds the counts of o. Total is taken from r because o usually
// describes a later stage over the same rows.
func (r Report) Merge(o Report) Report {
	out := Report{Total: r.Total, Kept: o.Kept, Dropped: maps.Clone(r.Dropped)}
	for k, v := range o.Dropped {
		if out.Dropped == nil {
			out.Dropped = map[string]int{}
		}
		out.Dropped[k] += v
	}
	return out
}

func (r Report) String() string {
	keys := slices.Sorted(maps.Keys(r.Dropped))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, r.Dropped[k]))
	}
	return fmt.Sprintf("total=%d kept=%d dropped=[%s]", r.Total, r.Kept, strings.Join(parts, " "))
}
