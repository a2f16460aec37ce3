// Package sequence turns an occupancy table into fixed-length binary input
// windows paired with a next-but-one day label.
package sequence

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/crimecast/core/occupancy"
	"github.com/kilianp07/crimecast/core/tensor"
)

// ErrInvalidLength is returned for a sequence length below one.
var ErrInvalidLength = errors.New("sequence length must be at least 1")

// Partition names used by persisted splits.
const (
	Train = "train"
	Val   = "val"
	Test  = "test"
)

// Dataset holds N samples. X is [N][L][Ch][R][C] and Y is [N][Ch][R][C],
// both 0/1. Sample i covers days Offset+i .. Offset+i+L-1 of the source
// table and is labelled with day Offset+i+L+1.
type Dataset struct {
	X      *tensor.Binary
	Y      *tensor.Binary
	Offset int
	// Start is the first day of the source table.
	Start time.Time
}

// Samples returns how many windows a table of the given length yields.
func Samples(days, length int) int {
	return max(0, days-length-1)
}

// Build windows the table with stride one. A table shorter than L+2 days
// yields an empty dataset.
func Build(t *occupancy.Table, length int) (*Dataset, error) {
	if length < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLength, length)
	}
	ch, r, c := len(t.Channels), t.Rows, t.Cols
	n := Samples(t.Days(), length)
	ds := &Dataset{
		X:     tensor.NewBinary(n, length, ch, r, c),
		Y:     tensor.NewBinary(n, ch, r, c),
		Start: t.Start,
	}
	fs := t.FrameSize()
	for i := 0; i < n; i++ {
		x := ds.X.At(i).Data
		for k := 0; k < length; k++ {
			binarize(x[k*fs:(k+1)*fs], t.Frame(i+k))
		}
		binarize(ds.Y.At(i).Data, t.Frame(i+length+1))
	}
	return ds, nil
}

func binarize(dst []uint8, counts []int32) {
	for i, v := range counts {
		if v > 0 {
			dst[i] = 1
		} else {
			dst[i] = 0
		}
	}
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return d.X.Len() }

// Length returns the window length L.
func (d *Dataset) Length() int {
	if len(d.X.Shape) < 2 {
		return 0
	}
	return d.X.Shape[1]
}

// FrameShape returns [Ch, R, C].
func (d *Dataset) FrameShape() tensor.Shape { return d.Y.Shape[1:] }

// Sample returns a view of window i, shaped [L][Ch][R][C].
func (d *Dataset) Sample(i int) *tensor.Binary { return d.X.At(i) }

// Label returns a view of the label frame of sample i, shaped [Ch][R][C].
func (d *Dataset) Label(i int) *tensor.Binary { return d.Y.At(i) }

// LabelDate returns the calendar day predicted by sample i.
func (d *Dataset) LabelDate(i int) time.Time {
	return d.Start.AddDate(0, 0, d.Offset+i+d.Length()+1)
}

// Slice returns samples [a,b) sharing storage with d.
func (d *Dataset) Slice(a, b int) *Dataset {
	return &Dataset{X: d.X.Slice(a, b), Y: d.Y.Slice(a, b), Offset: d.Offset + a, Start: d.Start}
}

// CheckShape verifies the dataset against the configured window and grid.
func (d *Dataset) CheckShape(length, channels, rows, cols int) error {
	if err := tensor.Expect("features", tensor.Shape{d.Len(), length, channels, rows, cols}, d.X.Shape); err != nil {
		return err
	}
	return tensor.Expect("labels", tensor.Shape{d.Len(), channels, rows, cols}, d.Y.Shape)
}

// SplitBounds returns the chronological split points floor(0.70n) and
// floor(0.85n).
func SplitBounds(n int) (trainEnd, valEnd int) {
	return n * 70 / 100, n * 85 / 100
}

// Splits holds the chronological train/val/test partitions.
type Splits struct {
	Train *Dataset
	Val   *Dataset
	Test  *Dataset
}

// Split partitions the samples chronologically without shuffling.
func (d *Dataset) Split() Splits {
	a, b := SplitBounds(d.Len())
	return Splits{Train: d.Slice(0, a), Val: d.Slice(a, b), Test: d.Slice(b, d.Len())}
}

// Named returns the partitions keyed by their persisted names.
func (s Splits) Named() map[string]*Dataset {
	return map[string]*Dataset{Train: s.Train, Val: s.Val, Test: s.Test}
}
