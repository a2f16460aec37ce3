// Package occupancy builds the dense day × channel × cell incident count
// table that feeds sequence windowing.
package occupancy

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/incident"
)

const day = 24 * time.Hour

// Table holds incident counts for every calendar day between Start and the
// last observed day, for every channel and every grid cell. Absent
// combinations are zero. Counts are laid out [day][channel][row][col].
type Table struct {
	Start    time.Time
	Channels []string
	Rows     int
	Cols     int
	days     int
	counts   []int32
}

// NewTable allocates a zero table.
func NewTable(start time.Time, days int, channels []string, rows, cols int) *Table {
	return &Table{
		Start:    incident.Day(start),
		Channels: slices.Clone(channels),
		Rows:     rows,
		Cols:     cols,
		days:     days,
		counts:   make([]int32, days*len(channels)*rows*cols),
	}
}

// FromCounts wraps an existing dense slice. It is used by stores when
// reloading a persisted table.
func FromCounts(start time.Time, channels []string, rows, cols int, counts []int32) (*Table, error) {
	frame := len(channels) * rows * cols
	if frame == 0 || len(counts)%frame != 0 {
		return nil, fmt.Errorf("counts length %d is not a multiple of frame size %d", len(counts), frame)
	}
	t := NewTable(start, 0, channels, rows, cols)
	t.days = len(counts) / frame
	t.counts = counts
	return t, nil
}

// Days returns the number of calendar days covered.
func (t *Table) Days() int { return t.days }

// End returns the last covered day, or the zero time for an empty table.
func (t *Table) End() time.Time {
	if t.days == 0 {
		return time.Time{}
	}
	return t.Start.Add(time.Duration(t.days-1) * day)
}

// Date returns the calendar day at position i.
func (t *Table) Date(i int) time.Time { return t.Start.Add(time.Duration(i) * day) }

// Cells returns the number of cells per frame.
func (t *Table) Cells() int { return t.Rows * t.Cols }

// FrameSize returns the number of values per day.
func (t *Table) FrameSize() int { return len(t.Channels) * t.Cells() }

// Counts exposes the dense backing slice. Callers must not modify it.
func (t *Table) Counts() []int32 { return t.counts }

func (t *Table) offset(d, ch int, c grid.Cell) int {
	return d*t.FrameSize() + ch*t.Cells() + (c.Row-1)*t.Cols + (c.Col - 1)
}

// Count returns the number of incidents for the day, channel and cell.
func (t *Table) Count(d, ch int, c grid.Cell) int32 { return t.counts[t.offset(d, ch, c)] }

func (t *Table) inc(d, ch int, c grid.Cell) { t.counts[t.offset(d, ch, c)]++ }

// Frame returns the counts of day d, shared with the table.
func (t *Table) Frame(d int) []int32 {
	fs := t.FrameSize()
	return t.counts[d*fs : (d+1)*fs]
}

// DayTotal sums every channel and cell of day d.
func (t *Table) DayTotal(d int) int {
	n := 0
	for _, v := range t.Frame(d) {
		n += int(v)
	}
	return n
}

// Total sums the whole table.
func (t *Table) Total() int {
	n := 0
	for _, v := range t.counts {
		n += int(v)
	}
	return n
}

// DaysBefore counts covered days strictly before date.
func (t *Table) DaysBefore(date time.Time) int {
	date = incident.Day(date)
	return sort.Search(t.days, func(i int) bool { return !t.Date(i).Before(date) })
}

// IndexOf returns the position of date, or false when it is not covered.
func (t *Table) IndexOf(date time.Time) (int, bool) {
	i := t.DaysBefore(date)
	if i >= t.days || !t.Date(i).Equal(incident.Day(date)) {
		return 0, false
	}
	return i, true
}

// Channel returns the index of the named channel.
func (t *Table) Channel(name string) (int, bool) {
	i := slices.Index(t.Channels, name)
	return i, i >= 0
}

// Equal reports whether both tables describe the same days, channels, grid
// and counts.
func (t *Table) Equal(o *Table) bool {
	return t.Start.Equal(o.Start) && t.days == o.days && t.Rows == o.Rows && t.Cols == o.Cols &&
		slices.Equal(t.Channels, o.Channels) && slices.Equal(t.counts, o.counts)
}
