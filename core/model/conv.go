package model

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// conv lowers a same-padded 2-D convolution to a matrix product. A stack of
// ch planes becomes a (ch·K·K) × (R·C) patch matrix whose row
// c·K·K + ky·K + kx holds plane c shifted by (ky-pad, kx-pad).
type conv struct {
	k, pad     int
	rows, cols int
}

func newConv(cfg Config) conv {
	return conv{k: cfg.KernelSize, pad: cfg.KernelSize / 2, rows: cfg.Rows, cols: cfg.Cols}
}

func (cv conv) im2col(src []float64, ch int) *mat.Dense {
	p := cv.rows * cv.cols
	kk := cv.k * cv.k
	out := make([]float64, ch*kk*p)
	for c := 0; c < ch; c++ {
		plane := src[c*p : (c+1)*p]
		for ky := 0; ky < cv.k; ky++ {
			for kx := 0; kx < cv.k; kx++ {
				row := out[(c*kk+ky*cv.k+kx)*p : (c*kk+ky*cv.k+kx+1)*p]
				dy, dx := ky-cv.pad, kx-cv.pad
				for y := 0; y < cv.rows; y++ {
					sy := y + dy
					if sy < 0 || sy >= cv.rows {
						continue
					}
					for x := 0; x < cv.cols; x++ {
						sx := x + dx
						if sx < 0 || sx >= cv.cols {
							continue
						}
						row[y*cv.cols+x] = plane[sy*cv.cols+sx]
					}
				}
			}
		}
	}
	return mat.NewDense(ch*kk, p, out)
}

// col2im is the adjoint of im2col: it scatters patch gradients back onto the
// source planes.
func (cv conv) col2im(m *mat.Dense, ch int) []float64 {
	p := cv.rows * cv.cols
	kk := cv.k * cv.k
	raw := m.RawMatrix()
	dst := make([]float64, ch*p)
	for c := 0; c < ch; c++ {
		plane := dst[c*p : (c+1)*p]
		for ky := 0; ky < cv.k; ky++ {
			for kx := 0; kx < cv.k; kx++ {
				r := c*kk + ky*cv.k + kx
				row := raw.Data[r*raw.Stride : r*raw.Stride+p]
				dy, dx := ky-cv.pad, kx-cv.pad
				for y := 0; y < cv.rows; y++ {
					sy := y + dy
					if sy < 0 || sy >= cv.rows {
						continue
					}
					for x := 0; x < cv.cols; x++ {
						sx := x + dx
						if sx < 0 || sx >= cv.cols {
							continue
						}
						plane[sy*cv.cols+sx] += row[y*cv.cols+x]
					}
				}
			}
		}
	}
	return dst
}

// addInto adds the rows of m into the row-major slice dst.
func addInto(dst []float64, m *mat.Dense) {
	raw := m.RawMatrix()
	for r := 0; r < raw.Rows; r++ {
		floats.Add(dst[r*raw.Cols:(r+1)*raw.Cols], raw.Data[r*raw.Stride:r*raw.Stride+raw.Cols])
	}
}

// rowSumsInto adds the sum of every row of the r × p slice src to dst.
func rowSumsInto(dst, src []float64, p int) {
	for r := range dst {
		dst[r] += floats.Sum(src[r*p : (r+1)*p])
	}
}
