package transform

import (
	"context"
	"fmt"

	"github.com/chewxy/math32"

	"github.com/opd-ai/afiyah/attention"
	"github.com/opd-ai/afiyah/kernels"
	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/tensor"
)

// DCTBasis returns the orthonormal DCT-II basis for n-point blocks as
// an n×n row-major matrix: row k holds the k-th basis function.
func DCTBasis(n int) []float32 {
	basis := make([]float32, n*n)
	scale0 := math32.Sqrt(1 / float32(n))
	scale := math32.Sqrt(2 / float32(n))

	for k := 0; k < n; k++ {
		s := scale
		if k == 0 {
			s = scale0
		}
		for i := 0; i < n; i++ {
			basis[k*n+i] = s * math32.Cos(math32.Pi*float32(k)*(2*float32(i)+1)/(2*float32(n)))
		}
	}
	return basis
}

// Codec applies the block transform and its inverse with a fixed basis.
type Codec struct {
	backend   kernels.Backend
	blockSize int
	basis     []float32
}

// NewCodec creates a block-transform codec for the given block size.
func NewCodec(backend kernels.Backend, blockSize int) (*Codec, error) {
	if blockSize < 2 {
		return nil, fmt.Errorf("transform block size %d out of range", blockSize)
	}
	return &Codec{
		backend:   backend,
		blockSize: blockSize,
		basis:     DCTBasis(blockSize),
	}, nil
}

// BlockSize returns the transform block edge.
func (c *Codec) BlockSize() int { return c.blockSize }

// CoefficientCount returns the number of coefficients produced for a
// plane of the given dimensions, padding partial edge blocks to full.
func (c *Codec) CoefficientCount(width, height int) int {
	bw, bh := kernels.BlockGrid(width, height, c.blockSize)
	return bw * bh * c.blockSize * c.blockSize
}

// Forward transforms every block of src into dst, stored block-major:
// block (bx, by) occupies the T*T coefficients starting at
// (by*blocksX+bx)*T*T, row-major within the block.
func (c *Codec) Forward(ctx context.Context, src *tensor.Map, dst []float32) error {
	return c.backend.Transform2D(ctx, src, c.basis, c.blockSize, dst)
}

// Inverse reconstructs the plane from block-major coefficients.
// Partial edge blocks write only their in-image samples.
func (c *Codec) Inverse(coeffs []float32, dst *tensor.Map) error {
	n := c.blockSize
	bw, bh := kernels.BlockGrid(dst.Width, dst.Height, n)
	if want := bw * bh * n * n; len(coeffs) < want {
		return fmt.Errorf("inverse transform has %d coefficients, want %d", len(coeffs), want)
	}

	tmp := make([]float32, n*n)
	block := make([]float32, n*n)
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			in := coeffs[(by*bw+bx)*n*n:]

			// tmp = basis^T * C
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					var acc float32
					for k := 0; k < n; k++ {
						acc += c.basis[k*n+i] * in[k*n+j]
					}
					tmp[i*n+j] = acc
				}
			}
			// block = tmp * basis
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					var acc float32
					for k := 0; k < n; k++ {
						acc += tmp[i*n+k] * c.basis[k*n+j]
					}
					block[i*n+j] = acc
				}
			}

			for y := 0; y < n; y++ {
				dy := by*n + y
				if dy >= dst.Height {
					break
				}
				for x := 0; x < n; x++ {
					dx := bx*n + x
					if dx >= dst.Width {
						break
					}
					dst.Set(dx, dy, block[y*n+x])
				}
			}
		}
	}
	return nil
}

// EffectiveStep returns the per-block quantization step
// Q · clamp(1 − λ·att, minScale, maxScale). High attention shrinks the
// step, spending more bits where the viewer looks.
func EffectiveStep(p params.Quant, att float32) float32 {
	scale := 1 - p.Strength*att
	if scale < p.MinScale {
		scale = p.MinScale
	}
	if scale > p.MaxScale {
		scale = p.MaxScale
	}
	return p.BaseStep * scale
}

// Quantize rounds each block's coefficients by its effective step. The
// attention grid must be at transform-block granularity (one cell per
// block).
func (c *Codec) Quantize(coeffs []float32, grid []uint8, gridW int, p params.Quant, dst []int16) error {
	n := c.blockSize * c.blockSize
	blocks := len(coeffs) / n
	if len(dst) < len(coeffs) {
		return fmt.Errorf("quantize destination holds %d levels, want %d", len(dst), len(coeffs))
	}
	if len(grid)*n < len(coeffs) {
		return fmt.Errorf("attention grid has %d cells, want %d", len(grid), blocks)
	}

	for b := 0; b < blocks; b++ {
		step := EffectiveStep(p, attention.CellValue(grid, gridW, b%gridW, b/gridW))
		base := b * n
		for i := 0; i < n; i++ {
			dst[base+i] = clampLevel(math32.Round(coeffs[base+i] / step))
		}
	}
	return nil
}

// Dequantize maps levels back to coefficient values with the same
// per-block step Quantize used.
func (c *Codec) Dequantize(levels []int16, grid []uint8, gridW int, p params.Quant, dst []float32) error {
	n := c.blockSize * c.blockSize
	blocks := len(levels) / n
	if len(dst) < len(levels) {
		return fmt.Errorf("dequantize destination holds %d coefficients, want %d", len(dst), len(levels))
	}
	if len(grid)*n < len(levels) {
		return fmt.Errorf("attention grid has %d cells, want %d", len(grid), blocks)
	}

	for b := 0; b < blocks; b++ {
		step := EffectiveStep(p, attention.CellValue(grid, gridW, b%gridW, b/gridW))
		base := b * n
		for i := 0; i < n; i++ {
			dst[base+i] = float32(levels[base+i]) * step
		}
	}
	return nil
}

func clampLevel(v float32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32767 {
		// -32768 would need a 16-bit size class; the entropy alphabet
		// stops at 15.
		return -32767
	}
	return int16(v)
}
