// Package inference maps calendar dates to input windows, runs a predictor
// and projects the thresholded forecast back to coordinates.
package inference

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/incident"
	"github.com/kilianp07/crimecast/core/model"
	"github.com/kilianp07/crimecast/core/occupancy"
	"github.com/kilianp07/crimecast/core/sequence"
)

var (
	// ErrBeforeRange is returned for dates whose window would start before
	// the first observed day.
	ErrBeforeRange = errors.New("date precedes the first forecastable day")
	// ErrNoSamples is returned when the table is too short to form a window.
	ErrNoSamples = errors.New("no input windows available")
	// ErrInvalidThreshold is returned for thresholds outside [0,1] or NaN.
	ErrInvalidThreshold = errors.New("threshold must be within [0,1]")
)

// Resolution locates the window used to forecast a date.
type Resolution struct {
	Date  time.Time
	Index int
	// Extrapolated is set when the date lies beyond the last labelled
	// window. The most recent window is used and no label exists.
	Extrapolated bool
	HasLabel     bool
}

// Resolver owns read-only references to the grid, table and windows.
type Resolver struct {
	Grid      *grid.Index
	Table     *occupancy.Table
	Data      *sequence.Dataset
	Predictor model.Predictor
	Factors   []Factor
	Length    int
	// Start is the first date the windows are anchored to. The zero value
	// anchors at the first day of the table.
	Start time.Time

	startIndex int
}

// NewResolver anchors the windows at start and checks them against the grid.
func NewResolver(g *grid.Index, t *occupancy.Table, ds *sequence.Dataset, p model.Predictor, start time.Time) (*Resolver, error) {
	length := ds.Length()
	if err := ds.CheckShape(length, len(t.Channels), g.Rows(), g.Cols()); err != nil {
		return nil, err
	}
	r := &Resolver{Grid: g, Table: t, Data: ds, Predictor: p, Length: length, Start: start}
	if !start.IsZero() {
		if before := t.DaysBefore(start); before > 0 {
			r.startIndex = max(0, before-(length+1))
		}
	}
	if r.startIndex > ds.Len() {
		return nil, fmt.Errorf("start %s lies beyond the last window", incident.Day(start).Format(time.DateOnly))
	}
	r.Data = ds.Slice(r.startIndex, ds.Len())
	return r, nil
}

// Samples returns how many windows are addressable.
func (r *Resolver) Samples() int { return r.Data.Len() }

// Resolve returns the window index whose label day is date. Dates past the
// last label day clamp to the newest window and are marked extrapolated.
func (r *Resolver) Resolve(date time.Time) (Resolution, error) {
	n := r.Data.Len()
	if n == 0 {
		return Resolution{}, ErrNoSamples
	}
	day := incident.Day(date)
	idx := r.Table.DaysBefore(day) - (r.Length + 1) - r.startIndex
	switch {
	case idx < 0:
		return Resolution{}, fmt.Errorf("%w: %s", ErrBeforeRange, day.Format(time.DateOnly))
	case idx >= n:
		return Resolution{Date: day, Index: n - 1, Extrapolated: true}, nil
	default:
		return Resolution{Date: day, Index: idx, HasLabel: true}, nil
	}
}

// FirstDate returns the earliest date that resolves to a labelled window.
func (r *Resolver) FirstDate() time.Time {
	return r.Data.LabelDate(0)
}

// LastDate returns the newest labelled date.
func (r *Resolver) LastDate() time.Time {
	return r.Data.LabelDate(r.Data.Len() - 1)
}
