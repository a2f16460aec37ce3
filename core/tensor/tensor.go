// Package tensor holds the dense row-major arrays shared by the windowing,
// model and inference layers.
package tensor

import (
	"fmt"
	"slices"
)

// Shape lists the extent of every axis, outermost first.
type Shape []int

// Size returns the number of elements described by the shape.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether both shapes have identical axes.
func (s Shape) Equal(o Shape) bool { return slices.Equal(s, o) }

func (s Shape) String() string { return fmt.Sprint([]int(s)) }

// Binary is a 0/1 presence array stored one byte per element.
type Binary struct {
	Shape Shape
	Data  []uint8
}

// NewBinary allocates a zeroed binary tensor.
func NewBinary(shape ...int) *Binary {
	s := Shape(slices.Clone(shape))
	return &Binary{Shape: s, Data: make([]uint8, s.Size())}
}

// Stride returns the number of elements covered by one step along axis 0.
func (b *Binary) Stride() int {
	if len(b.Shape) < 2 {
		return 1
	}
	return Shape(b.Shape[1:]).Size()
}

// Len returns the extent of axis 0.
func (b *Binary) Len() int {
	if len(b.Shape) == 0 {
		return 0
	}
	return b.Shape[0]
}

// At returns a view of element i along axis 0. The view shares storage.
func (b *Binary) At(i int) *Binary {
	st := b.Stride()
	return &Binary{Shape: slices.Clone(b.Shape[1:]), Data: b.Data[i*st : (i+1)*st]}
}

// Slice returns a view over [from,to) along axis 0.
func (b *Binary) Slice(from, to int) *Binary {
	st := b.Stride()
	shape := slices.Clone(b.Shape)
	shape[0] = to - from
	return &Binary{Shape: shape, Data: b.Data[from*st : to*st]}
}

// Float converts the presence values to float64.
func (b *Binary) Float() *Dense {
	d := NewDense(b.Shape...)
	for i, v := range b.Data {
		d.Data[i] = float64(v)
	}
	return d
}

// Equal reports whether both tensors have the same shape and contents.
func (b *Binary) Equal(o *Binary) bool {
	if b == nil || o == nil {
		return b == o
	}
	return b.Shape.Equal(o.Shape) && slices.Equal(b.Data, o.Data)
}

// Dense is a float64 array.
type Dense struct {
	Shape Shape
	Data  []float64
}

// NewDense allocates a zeroed float tensor.
func NewDense(shape ...int) *Dense {
	s := Shape(slices.Clone(shape))
	return &Dense{Shape: s, Data: make([]float64, s.Size())}
}

// Clone returns a deep copy.
func (d *Dense) Clone() *Dense {
	return &Dense{Shape: slices.Clone(d.Shape), Data: slices.Clone(d.Data)}
}

// At returns a view of element i along axis 0.
func (d *Dense) At(i int) *Dense {
	st := 1
	if len(d.Shape) > 1 {
		st = Shape(d.Shape[1:]).Size()
	}
	return &Dense{Shape: slices.Clone(d.Shape[1:]), Data: d.Data[i*st : (i+1)*st]}
}

// ShapeMismatchError reports a tensor whose dimensions do not match the
// configured grid, sequence or model. It signals configuration drift between
// preprocessing and model instantiation.
type ShapeMismatchError struct {
	What string
	Want Shape
	Got  Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch for %s: want %s, got %s", e.What, e.Want, e.Got)
}

// Expect returns a ShapeMismatchError when got differs from want.
func Expect(what string, want, got Shape) error {
	if want.Equal(got) {
		return nil
	}
	return &ShapeMismatchError{What: what, Want: slices.Clone(want), Got: slices.Clone(got)}
}
