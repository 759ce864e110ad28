package kernels

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/afiyah/tensor"
)

func init() {
	register("parallel", func(workers int) Backend {
		if workers < 1 {
			workers = 1
		}
		return &parallelBackend{workers: workers}
	})
}

// parallelBackend tiles each operation over horizontal row bands and
// runs the bands on a bounded worker pool. The per-row kernels are the
// same code the scalar backend runs, so both backends produce identical
// output for identical input.
type parallelBackend struct {
	workers int
}

// Name identifies the backend.
func (p *parallelBackend) Name() string { return "parallel" }

// bands splits [0, n) into at most workers contiguous ranges.
func (p *parallelBackend) bands(n int) [][2]int {
	count := p.workers
	if count > n {
		count = n
	}
	if count <= 0 {
		return nil
	}
	out := make([][2]int, 0, count)
	step := (n + count - 1) / count
	for start := 0; start < n; start += step {
		end := start + step
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func (p *parallelBackend) run(ctx context.Context, n int, f func(ctx context.Context, lo, hi int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, band := range p.bands(n) {
		lo, hi := band[0], band[1]
		g.Go(func() error {
			return f(gctx, lo, hi)
		})
	}
	return g.Wait()
}

// Conv2DSeparable convolves src along x, synchronizes, then along y.
// The two passes are internally tiled; the pass boundary is a full
// barrier because the y pass reads every row of the intermediate.
func (p *parallelBackend) Conv2DSeparable(ctx context.Context, src, dst *tensor.Map, kernel []float32) error {
	if err := checkConvShapes(src, dst, len(kernel)); err != nil {
		return err
	}

	tmp := tensor.NewMap(src.Width, src.Height)
	err := p.run(ctx, src.Height, func(ctx context.Context, lo, hi int) error {
		return convRowsX(ctx, src, tmp, kernel, lo, hi)
	})
	if err != nil {
		return err
	}
	return p.run(ctx, src.Height, func(ctx context.Context, lo, hi int) error {
		return convRowsY(ctx, tmp, dst, kernel, lo, hi)
	})
}

// Conv2D tiles the full 2D convolution over row bands.
func (p *parallelBackend) Conv2D(ctx context.Context, src, dst *tensor.Map, kernel []float32, width int) error {
	if err := checkConv2DShapes(src, dst, kernel, width); err != nil {
		return err
	}
	return p.run(ctx, src.Height, func(ctx context.Context, lo, hi int) error {
		return convRows2D(ctx, src, dst, kernel, width, lo, hi)
	})
}

// GaborBank fans the (orientation, scale) kernels out across the pool;
// each kernel writes its own plane so no two workers share output.
func (p *parallelBackend) GaborBank(ctx context.Context, src *tensor.Map, bank []Gabor, dst *tensor.Bank) error {
	if err := checkBankShapes(src, bank, dst); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range bank {
		gab := &bank[i]
		g.Go(func() error {
			return gaborRows(gctx, src, gab, dst.Plane(gab.Orientation, gab.Scale), 0, src.Height)
		})
	}
	return g.Wait()
}

// BlockMatch tiles the search over block rows.
func (p *parallelBackend) BlockMatch(ctx context.Context, curr, prev *tensor.Map, blockSize, radius int) ([]MotionVector, error) {
	if err := checkMatchShapes(curr, prev, blockSize, radius); err != nil {
		return nil, err
	}

	bw, bh := BlockGrid(curr.Width, curr.Height, blockSize)
	out := make([]MotionVector, bw*bh)
	err := p.run(ctx, bh, func(ctx context.Context, lo, hi int) error {
		return matchRows(ctx, curr, prev, blockSize, radius, out, lo, hi)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transform2D tiles the block transform over block rows.
func (p *parallelBackend) Transform2D(ctx context.Context, src *tensor.Map, basis []float32, blockSize int, dst []float32) error {
	if err := checkTransformShapes(src, basis, blockSize, dst); err != nil {
		return err
	}
	_, bh := BlockGrid(src.Width, src.Height, blockSize)
	return p.run(ctx, bh, func(ctx context.Context, lo, hi int) error {
		return transformRows(ctx, src, basis, blockSize, dst, lo, hi)
	})
}

// EntropyEncode is inherently serial; submit directly.
func (p *parallelBackend) EntropyEncode(symbols []Symbol, table SymbolCoder) ([]byte, error) {
	return table.EncodeSymbols(symbols)
}
