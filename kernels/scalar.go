package kernels

import (
	"context"
	"fmt"

	"github.com/chewxy/math32"

	"github.com/opd-ai/afiyah/tensor"
)

func init() {
	register("scalar", func(workers int) Backend { return &scalarBackend{} })
}

// scalarBackend is the mandatory straight-loop CPU fallback. It carries
// no state; every operation walks the tensors serially and observes the
// context once per row (or block row) of output.
type scalarBackend struct{}

// Name identifies the backend.
func (s *scalarBackend) Name() string { return "scalar" }

// Conv2DSeparable convolves src with the 1D kernel along x then y.
func (s *scalarBackend) Conv2DSeparable(ctx context.Context, src, dst *tensor.Map, kernel []float32) error {
	if err := checkConvShapes(src, dst, len(kernel)); err != nil {
		return err
	}

	tmp := tensor.NewMap(src.Width, src.Height)
	if err := convRowsX(ctx, src, tmp, kernel, 0, src.Height); err != nil {
		return err
	}
	return convRowsY(ctx, tmp, dst, kernel, 0, src.Height)
}

// Conv2D convolves src with an odd square kernel.
func (s *scalarBackend) Conv2D(ctx context.Context, src, dst *tensor.Map, kernel []float32, width int) error {
	if err := checkConv2DShapes(src, dst, kernel, width); err != nil {
		return err
	}
	return convRows2D(ctx, src, dst, kernel, width, 0, src.Height)
}

// GaborBank correlates src with every kernel of the bank.
func (s *scalarBackend) GaborBank(ctx context.Context, src *tensor.Map, bank []Gabor, dst *tensor.Bank) error {
	if err := checkBankShapes(src, bank, dst); err != nil {
		return err
	}
	for i := range bank {
		if err := gaborRows(ctx, src, &bank[i], dst.Plane(bank[i].Orientation, bank[i].Scale), 0, src.Height); err != nil {
			return err
		}
	}
	return nil
}

// BlockMatch searches every block of curr against prev.
func (s *scalarBackend) BlockMatch(ctx context.Context, curr, prev *tensor.Map, blockSize, radius int) ([]MotionVector, error) {
	if err := checkMatchShapes(curr, prev, blockSize, radius); err != nil {
		return nil, err
	}

	bw, bh := BlockGrid(curr.Width, curr.Height, blockSize)
	out := make([]MotionVector, bw*bh)
	if err := matchRows(ctx, curr, prev, blockSize, radius, out, 0, bh); err != nil {
		return nil, err
	}
	return out, nil
}

// Transform2D applies the block transform to every block of src.
func (s *scalarBackend) Transform2D(ctx context.Context, src *tensor.Map, basis []float32, blockSize int, dst []float32) error {
	if err := checkTransformShapes(src, basis, blockSize, dst); err != nil {
		return err
	}
	_, bh := BlockGrid(src.Width, src.Height, blockSize)
	return transformRows(ctx, src, basis, blockSize, dst, 0, bh)
}

// EntropyEncode submits the symbol stream to the table synchronously.
func (s *scalarBackend) EntropyEncode(symbols []Symbol, table SymbolCoder) ([]byte, error) {
	return table.EncodeSymbols(symbols)
}

// BlockGrid returns the block-grid dimensions covering a W×H plane with
// blocks of the given edge, including partial edge blocks.
func BlockGrid(width, height, blockSize int) (bw, bh int) {
	bw = (width + blockSize - 1) / blockSize
	bh = (height + blockSize - 1) / blockSize
	return bw, bh
}

// BlockMAD computes the mean absolute difference between the block at
// grid cell (bx, by) of curr and the same block displaced by (dx, dy) in
// prev. Samples falling outside prev are skipped, not padded. The
// second return is the count of valid samples; a zero count means the
// candidate displacement reads no image data at all.
func BlockMAD(curr, prev *tensor.Map, bx, by, blockSize, dx, dy int) (float32, int) {
	x0 := bx * blockSize
	y0 := by * blockSize
	x1 := minInt(x0+blockSize, curr.Width)
	y1 := minInt(y0+blockSize, curr.Height)

	var sum float32
	count := 0
	for y := y0; y < y1; y++ {
		py := y + dy
		if py < 0 || py >= prev.Height {
			continue
		}
		for x := x0; x < x1; x++ {
			px := x + dx
			if px < 0 || px >= prev.Width {
				continue
			}
			sum += math32.Abs(curr.At(x, y) - prev.At(px, py))
			count++
		}
	}
	if count == 0 {
		return math32.MaxFloat32, 0
	}
	return sum / float32(count), count
}

// --- shared row-band kernels -------------------------------------------
//
// Both backends execute the same per-row code; the parallel backend just
// splits the row ranges across an errgroup.

func convRowsX(ctx context.Context, src, dst *tensor.Map, kernel []float32, y0, y1 int) error {
	radius := len(kernel) / 2
	for y := y0; y < y1; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for x := 0; x < src.Width; x++ {
			var acc float32
			for k, w := range kernel {
				acc += w * src.At(tensor.ReflectIndex(x+k-radius, src.Width), y)
			}
			dst.Set(x, y, acc)
		}
	}
	return nil
}

func convRowsY(ctx context.Context, src, dst *tensor.Map, kernel []float32, y0, y1 int) error {
	radius := len(kernel) / 2
	for y := y0; y < y1; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for x := 0; x < src.Width; x++ {
			var acc float32
			for k, w := range kernel {
				acc += w * src.At(x, tensor.ReflectIndex(y+k-radius, src.Height))
			}
			dst.Set(x, y, acc)
		}
	}
	return nil
}

func convRows2D(ctx context.Context, src, dst *tensor.Map, kernel []float32, width, y0, y1 int) error {
	radius := width / 2
	for y := y0; y < y1; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for x := 0; x < src.Width; x++ {
			var acc float32
			for ky := 0; ky < width; ky++ {
				sy := tensor.ReflectIndex(y+ky-radius, src.Height)
				row := sy * src.Width
				krow := ky * width
				for kx := 0; kx < width; kx++ {
					acc += kernel[krow+kx] * src.Data[row+tensor.ReflectIndex(x+kx-radius, src.Width)]
				}
			}
			dst.Set(x, y, acc)
		}
	}
	return nil
}

func gaborRows(ctx context.Context, src *tensor.Map, g *Gabor, dst *tensor.Map, y0, y1 int) error {
	radius := g.Size / 2
	for y := y0; y < y1; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for x := 0; x < src.Width; x++ {
			var acc float32
			for ky := 0; ky < g.Size; ky++ {
				sy := tensor.ReflectIndex(y+ky-radius, src.Height)
				row := sy * src.Width
				krow := ky * g.Size
				for kx := 0; kx < g.Size; kx++ {
					acc += g.Weights[krow+kx] * src.Data[row+tensor.ReflectIndex(x+kx-radius, src.Width)]
				}
			}
			// Simple-cell responses are stored as rectified magnitudes
			// so every stage output stays in [0, 1].
			dst.Set(x, y, math32.Abs(acc)/g.Norm)
		}
	}
	return nil
}

func matchRows(ctx context.Context, curr, prev *tensor.Map, blockSize, radius int, out []MotionVector, by0, by1 int) error {
	bw, _ := BlockGrid(curr.Width, curr.Height, blockSize)
	for by := by0; by < by1; by++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for bx := 0; bx < bw; bx++ {
			out[by*bw+bx] = matchBlock(curr, prev, bx, by, blockSize, radius)
		}
	}
	return nil
}

// matchBlock scans all candidate displacements for one block applying
// the three-tier tie-break: MAD, then displacement norm, then
// lexicographic (dx, dy).
func matchBlock(curr, prev *tensor.Map, bx, by, blockSize, radius int) MotionVector {
	best := MotionVector{Residual: math32.MaxFloat32}
	bestNorm := int(^uint(0) >> 1)

	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			mad, count := BlockMAD(curr, prev, bx, by, blockSize, dx, dy)
			if count == 0 {
				continue
			}
			norm := dx*dx + dy*dy
			switch {
			case mad < best.Residual:
			case mad == best.Residual && norm < bestNorm:
			case mad == best.Residual && norm == bestNorm && (dx < best.DX || (dx == best.DX && dy < best.DY)):
			default:
				continue
			}
			best = MotionVector{DX: dx, DY: dy, Residual: mad}
			bestNorm = norm
		}
	}
	return best
}

func transformRows(ctx context.Context, src *tensor.Map, basis []float32, blockSize int, dst []float32, by0, by1 int) error {
	bw, _ := BlockGrid(src.Width, src.Height, blockSize)
	n := blockSize
	block := make([]float32, n*n)
	tmp := make([]float32, n*n)

	for by := by0; by < by1; by++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for bx := 0; bx < bw; bx++ {
			// Gather the block with reflective padding so partial edge
			// blocks transform as full blocks.
			for y := 0; y < n; y++ {
				sy := tensor.ReflectIndex(by*n+y, src.Height)
				for x := 0; x < n; x++ {
					block[y*n+x] = src.At(tensor.ReflectIndex(bx*n+x, src.Width), sy)
				}
			}

			// tmp = basis * block
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					var acc float32
					for k := 0; k < n; k++ {
						acc += basis[i*n+k] * block[k*n+j]
					}
					tmp[i*n+j] = acc
				}
			}
			// out = tmp * basis^T
			out := dst[(by*bw+bx)*n*n:]
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					var acc float32
					for k := 0; k < n; k++ {
						acc += tmp[i*n+k] * basis[j*n+k]
					}
					out[i*n+j] = acc
				}
			}
		}
	}
	return nil
}

// --- shape checks ------------------------------------------------------

func checkConvShapes(src, dst *tensor.Map, klen int) error {
	if klen == 0 || klen%2 == 0 {
		return fmt.Errorf("separable kernel length must be odd, got %d", klen)
	}
	if err := dst.Validate(src.Geometry()); err != nil {
		return fmt.Errorf("conv2d destination: %w", err)
	}
	return nil
}

func checkConv2DShapes(src, dst *tensor.Map, kernel []float32, width int) error {
	if width == 0 || width%2 == 0 {
		return fmt.Errorf("conv2d kernel width must be odd, got %d", width)
	}
	if len(kernel) != width*width {
		return fmt.Errorf("conv2d kernel has %d taps, want %d", len(kernel), width*width)
	}
	if err := dst.Validate(src.Geometry()); err != nil {
		return fmt.Errorf("conv2d destination: %w", err)
	}
	return nil
}

func checkBankShapes(src *tensor.Map, bank []Gabor, dst *tensor.Bank) error {
	if dst.Width != src.Width || dst.Height != src.Height {
		return fmt.Errorf("gabor bank destination %s does not match source %s", dst.Geometry(), src.Geometry())
	}
	for i := range bank {
		g := &bank[i]
		if g.Size%2 == 0 || len(g.Weights) != g.Size*g.Size {
			return fmt.Errorf("gabor kernel %d malformed: size %d with %d taps", i, g.Size, len(g.Weights))
		}
		if g.Norm <= 0 {
			return fmt.Errorf("gabor kernel %d has non-positive norm", i)
		}
		if g.Orientation < 0 || g.Orientation >= dst.Orientations || g.Scale < 0 || g.Scale >= dst.Scales {
			return fmt.Errorf("gabor kernel %d targets plane (%d,%d) outside bank %s", i, g.Orientation, g.Scale, dst.Geometry())
		}
	}
	return nil
}

func checkMatchShapes(curr, prev *tensor.Map, blockSize, radius int) error {
	if blockSize <= 0 || radius <= 0 {
		return fmt.Errorf("block match needs positive block size and radius, got B=%d R=%d", blockSize, radius)
	}
	if err := prev.Validate(curr.Geometry()); err != nil {
		return fmt.Errorf("block match reference: %w", err)
	}
	return nil
}

func checkTransformShapes(src *tensor.Map, basis []float32, blockSize int, dst []float32) error {
	if blockSize <= 0 {
		return fmt.Errorf("transform block size must be positive, got %d", blockSize)
	}
	if len(basis) != blockSize*blockSize {
		return fmt.Errorf("transform basis has %d taps, want %d", len(basis), blockSize*blockSize)
	}
	bw, bh := BlockGrid(src.Width, src.Height, blockSize)
	if want := bw * bh * blockSize * blockSize; len(dst) < want {
		return fmt.Errorf("transform destination holds %d coefficients, want %d", len(dst), want)
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
