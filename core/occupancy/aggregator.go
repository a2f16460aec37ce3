package occupancy

import (
	"strings"
	"time"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/incident"
	"github.com/kilianp07/crimecast/core/logger"
)

// DefaultChannel is used when every incident is aggregated into one channel.
const DefaultChannel = "crime"

// Aggregator bins incidents into a dense Table.
type Aggregator struct {
	Grid *grid.Index
	// Channels lists the categories kept as separate channels. With zero or
	// one entry every record is counted in a single channel.
	Channels []string
	Log      logger.Logger
}

type binned struct {
	day  time.Time
	ch   int
	cell grid.Cell
}

// Aggregate groups records by (day, channel, cell) and densifies the result
// over every calendar day between the first and last valid record. The
// report counts out-of-bounds and unknown-category drops; rows rejected by
// the reader are not part of it.
func (a Aggregator) Aggregate(records []incident.Record) (*Table, incident.Report) {
	log := logger.OrNop(a.Log)
	channels := a.channelNames()
	lookup := map[string]int{}
	if len(channels) > 1 {
		for i, c := range channels {
			lookup[strings.ToLower(c)] = i
		}
	}

	rep := incident.Report{Total: len(records)}
	kept := make([]binned, 0, len(records))
	var first, last time.Time
	for _, r := range records {
		cell := a.Grid.Cell(r.Lat, r.Lon)
		if !cell.Valid() {
			rep.Drop(incident.DropOutOfBounds)
			continue
		}
		ch := 0
		if len(channels) > 1 {
			i, ok := lookup[strings.ToLower(strings.TrimSpace(r.Category))]
			if !ok {
				rep.Drop(incident.DropUnknownCategory)
				continue
			}
			ch = i
		}
		d := incident.Day(r.Date)
		if len(kept) == 0 || d.Before(first) {
			first = d
		}
		if len(kept) == 0 || d.After(last) {
			last = d
		}
		kept = append(kept, binned{day: d, ch: ch, cell: cell})
	}
	rep.Kept = len(kept)

	days := 0
	if len(kept) > 0 {
		days = int(last.Sub(first)/day) + 1
	}
	t := NewTable(first, days, channels, a.Grid.Rows(), a.Grid.Cols())
	for _, b := range kept {
		t.inc(int(b.day.Sub(first)/day), b.ch, b.cell)
	}

	log.Infow("aggregated incidents", map[string]any{
		"records":  rep.Total,
		"kept":     rep.Kept,
		"dropped":  rep.DroppedTotal(),
		"days":     days,
		"channels": len(channels),
	})
	if n := rep.DroppedTotal(); n > 0 {
		log.Warnf("dropped %d of %d records: %s", n, rep.Total, rep)
	}
	return t, rep
}

func (a Aggregator) channelNames() []string {
	if len(a.Channels) == 0 {
		return []string{DefaultChannel}
	}
	return a.Channels
}
