// Package seasonal derives weekday and month activity multipliers from the
// historical daily incident totals.
package seasonal

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/occupancy"
)

// ErrNoHistory is returned when a period has no observed day.
var ErrNoHistory = errors.New("no history for period")

// Profile holds the mean daily total per weekday and per month relative to
// the overall daily mean. A value of 1 means average activity.
type Profile struct {
	weekday [7]float64
	month   [12]float64
	seenDay [7]bool
	seenMon [12]bool
}

// Fit computes the profile from every day of the table.
func Fit(t *occupancy.Table) (*Profile, error) {
	if t.Days() == 0 {
		return nil, fmt.Errorf("fit seasonal profile: %w", ErrNoHistory)
	}
	totals := make([]float64, t.Days())
	var byDay [7][]float64
	var byMon [12][]float64
	for d := range totals {
		totals[d] = float64(t.DayTotal(d))
		date := t.Date(d)
		byDay[date.Weekday()] = append(byDay[date.Weekday()], totals[d])
		byMon[date.Month()-1] = append(byMon[date.Month()-1], totals[d])
	}
	overall := stat.Mean(totals, nil)

	p := &Profile{}
	for i, v := range byDay {
		p.weekday[i], p.seenDay[i] = ratio(v, overall)
	}
	for i, v := range byMon {
		p.month[i], p.seenMon[i] = ratio(v, overall)
	}
	return p, nil
}

func ratio(v []float64, overall float64) (float64, bool) {
	if len(v) == 0 {
		return 1, false
	}
	if overall == 0 {
		return 1, true
	}
	return stat.Mean(v, nil) / overall, true
}

// Weekday returns the multiplier for the weekday of date.
func (p *Profile) Weekday(date time.Time) (float64, error) {
	wd := date.Weekday()
	if !p.seenDay[wd] {
		return 1, fmt.Errorf("%s: %w", wd, ErrNoHistory)
	}
	return p.weekday[wd], nil
}

// Month returns the multiplier for the month of date.
func (p *Profile) Month(date time.Time) (float64, error) {
	m := date.Month()
	if !p.seenMon[m-1] {
		return 1, fmt.Errorf("%s: %w", m, ErrNoHistory)
	}
	return p.month[m-1], nil
}

// WeekdayFactor adapts the weekday multiplier to the inference factor
// interface. The multiplier is the same for every cell.
type WeekdayFactor struct{ P *Profile }

func (WeekdayFactor) Name() string { return "weekday" }

func (f WeekdayFactor) Weight(date time.Time, _ grid.Cell) (float64, error) {
	return f.P.Weekday(date)
}

// MonthFactor adapts the month multiplier to the inference factor interface.
type MonthFactor struct{ P *Profile }

func (MonthFactor) Name() string { return "month" }

func (f MonthFactor) Weight(date time.Time, _ grid.Cell) (float64, error) {
	return f.P.Month(date)
}
