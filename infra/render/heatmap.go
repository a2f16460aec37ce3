// Package render draws forecasts as HTML heatmaps and training history as
// PNG loss curves.
package render

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/inference"
)

// DefaultPercentile keeps the top 15% of cells.
const DefaultPercentile = 0.85

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// HeatmapOptions tunes the rendered page.
type HeatmapOptions struct {
	Title string
	// Percentile in (0,1) selects which normalised cells are drawn.
	Percentile float64
	// AssetsHost overrides where echarts is loaded from.
	AssetsHost string
}

// Cell is one drawn grid cell.
type Cell struct {
	Lat, Lon  float64
	Intensity float64
}

// HotspotCells averages the forecast over channels, min-max normalises it
// and keeps the cells at or above the given percentile, projected to their
// centres.
func HotspotCells(f *inference.Forecast, g *grid.Index, percentile float64) ([]Cell, error) {
	if f == nil || f.Probabilities == nil {
		return nil, errors.New("forecast has no probabilities")
	}
	if percentile <= 0 || percentile >= 1 {
		percentile = DefaultPercentile
	}
	n := g.Len()
	if n == 0 || len(f.Probabilities.Data)%n != 0 {
		return nil, fmt.Errorf("forecast of %d values does not fit a %dx%d grid", len(f.Probabilities.Data), g.Rows(), g.Cols())
	}
	channels := len(f.Probabilities.Data) / n
	mean := make([]float64, n)
	for j, p := range f.Probabilities.Data {
		mean[j%n] += p / float64(channels)
	}
	lo, hi := slices.Min(mean), slices.Max(mean)
	for i := range mean {
		mean[i] = (mean[i] - lo) / (hi - lo + 1e-8)
	}
	sorted := slices.Clone(mean)
	slices.Sort(sorted)
	cut := stat.Quantile(percentile, stat.Empirical, sorted, nil)

	dLat, dLon := g.BinSize()
	var out []Cell
	for i, v := range mean {
		if v < cut {
			continue
		}
		lat, lon, err := g.Coordinate(g.At(i))
		if err != nil {
			return nil, err
		}
		out = append(out, Cell{Lat: lat + dLat/2, Lon: lon + dLon/2, Intensity: v})
	}
	return out, nil
}

// Heatmap writes an HTML page plotting the hotspot cells of f over the
// grid's bounding box.
func Heatmap(w io.Writer, f *inference.Forecast, g *grid.Index, o HeatmapOptions) error {
	cells, err := HotspotCells(f, g, o.Percentile)
	if err != nil {
		return err
	}
	title := o.Title
	if title == "" {
		title = "Crime hotspots"
	}
	sub := fmt.Sprintf("date=%s cells=%d", f.Date.Format(time.DateOnly), len(cells))
	if f.Extrapolated {
		sub += " (extrapolated)"
	}

	data := make([]opts.ScatterData, 0, len(cells))
	for _, c := range cells {
		data = append(data, opts.ScatterData{Value: []interface{}{c.Lon, c.Lat, c.Intensity}})
	}
	points := make([]opts.ScatterData, 0, len(f.Points))
	for _, p := range f.Points {
		points = append(points, opts.ScatterData{Value: []interface{}{p.Lon, p.Lat, p.Weight}, Name: p.Channel})
	}

	b := g.Bounds()
	init := opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}
	if o.AssetsHost != "" {
		init.AssetsHost = o.AssetsHost
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: sub}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: b.LonMin, Max: b.LonMax, Name: "Longitude", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: b.LatMin, Max: b.LatMax, Name: "Latitude", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("hotspots", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	if len(points) > 0 {
		scatter.AddSeries("above threshold", points, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	}
	return scatter.Render(w)
}
