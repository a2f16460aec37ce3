// Package grid maps continuous coordinates onto a fixed R×C lattice of
// equal-width latitude and longitude bins.
//
// Interior bin edges are right-closed: a latitude equal to edge k falls in bin
// k. The lower bound itself belongs to the first bin, and any coordinate on or
// beyond the upper bound is outside the grid. Cells are numbered from 1.
package grid

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Cell identifies one bin of the grid. Rows follow latitude, columns
// longitude.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// OutOfBounds is returned for coordinates outside the configured box.
var OutOfBounds = Cell{Row: -1, Col: -1}

// Valid reports whether the cell is not the out-of-bounds sentinel.
func (c Cell) Valid() bool { return c != OutOfBounds }

func (c Cell) String() string { return fmt.Sprintf("(%d,%d)", c.Row, c.Col) }

// Bounds is the geographic bounding box covered by the grid.
type Bounds struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

// Validate checks the box is not empty.
func (b Bounds) Validate() error {
	if !(b.LatMin < b.LatMax) {
		return fmt.Errorf("lat_min %v must be below lat_max %v", b.LatMin, b.LatMax)
	}
	if !(b.LonMin < b.LonMax) {
		return fmt.Errorf("lon_min %v must be below lon_max %v", b.LonMin, b.LonMax)
	}
	return nil
}

// ErrInvalidCell is returned when converting a cell that is not on the grid.
var ErrInvalidCell = errors.New("cell outside grid")

// Index converts between coordinates and cells. It is immutable and safe for
// concurrent use.
type Index struct {
	bounds   Bounds
	latEdges []float64
	lonEdges []float64
}

// New builds an index with rows latitude bins and cols longitude bins.
func New(b Bounds, rows, cols int) (*Index, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive, got %dx%d", rows, cols)
	}
	return &Index{
		bounds:   b,
		latEdges: linspace(b.LatMin, b.LatMax, rows+1),
		lonEdges: linspace(b.LonMin, b.LonMax, cols+1),
	}, nil
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// Rows returns the number of latitude bins.
func (ix *Index) Rows() int { return len(ix.latEdges) - 1 }

// Cols returns the number of longitude bins.
func (ix *Index) Cols() int { return len(ix.lonEdges) - 1 }

// Len returns the number of cells.
func (ix *Index) Len() int { return ix.Rows() * ix.Cols() }

// Bounds returns the configured box.
func (ix *Index) Bounds() Bounds { return ix.bounds }

// BinSize returns the latitude and longitude width of one bin.
func (ix *Index) BinSize() (dLat, dLon float64) {
	return (ix.bounds.LatMax - ix.bounds.LatMin) / float64(ix.Rows()),
		(ix.bounds.LonMax - ix.bounds.LonMin) / float64(ix.Cols())
}

// Cell returns the bin containing the coordinate, or OutOfBounds.
func (ix *Index) Cell(lat, lon float64) Cell {
	r := digitize(ix.latEdges, lat)
	c := digitize(ix.lonEdges, lon)
	if r < 0 || c < 0 {
		return OutOfBounds
	}
	return Cell{Row: r, Col: c}
}

// Contains reports whether the coordinate maps to a cell.
func (ix *Index) Contains(lat, lon float64) bool { return ix.Cell(lat, lon).Valid() }

func digitize(edges []float64, v float64) int {
	last := len(edges) - 1
	if math.IsNaN(v) || v < edges[0] || v >= edges[last] {
		return -1
	}
	if v == edges[0] {
		return 1
	}
	return sort.SearchFloat64s(edges, v)
}

// InRange reports whether the cell lies on the grid.
func (ix *Index) InRange(c Cell) bool {
	return c.Row >= 1 && c.Row <= ix.Rows() && c.Col >= 1 && c.Col <= ix.Cols()
}

// Coordinate returns the lower bin edge of the cell. Callers that need the
// cell centre add half of BinSize.
func (ix *Index) Coordinate(c Cell) (lat, lon float64, err error) {
	if !ix.InRange(c) {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidCell, c)
	}
	return ix.latEdges[c.Row-1], ix.lonEdges[c.Col-1], nil
}

// CellBounds returns the box covered by the cell.
func (ix *Index) CellBounds(c Cell) (Bounds, error) {
	if !ix.InRange(c) {
		return Bounds{}, fmt.Errorf("%w: %s", ErrInvalidCell, c)
	}
	return Bounds{
		LatMin: ix.latEdges[c.Row-1],
		LatMax: ix.latEdges[c.Row],
		LonMin: ix.lonEdges[c.Col-1],
		LonMax: ix.lonEdges[c.Col],
	}, nil
}

// Offset returns the row-major position of the cell in a flattened frame.
func (ix *Index) Offset(c Cell) int { return (c.Row-1)*ix.Cols() + (c.Col - 1) }

// At is the inverse of Offset.
func (ix *Index) At(offset int) Cell {
	return Cell{Row: offset/ix.Cols() + 1, Col: offset%ix.Cols() + 1}
}
