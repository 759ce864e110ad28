package attention

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/tensor"
)

// Focus is the viewer's gaze point in pixel coordinates.
type Focus struct {
	X float32
	Y float32
}

// DefaultFocus returns the image center, used when no viewer behavior
// is supplied.
func DefaultFocus(width, height int) Focus {
	return Focus{X: float32(width) / 2, Y: float32(height) / 2}
}

// FovealPrior writes the gaze-centered prior into dst: 1 inside the
// foveal radius, exponential falloff exp(-(d-r)/(2r)) outside.
func FovealPrior(focus Focus, p params.Attention, dst *tensor.Map) {
	r := p.FovealRadius
	for y := 0; y < dst.Height; y++ {
		dy := float32(y) - focus.Y
		for x := 0; x < dst.Width; x++ {
			dx := float32(x) - focus.X
			d := math32.Hypot(dx, dy)
			if d <= r {
				dst.Set(x, y, 1)
			} else {
				dst.Set(x, y, math32.Exp(-(d-r)/(2*r)))
			}
		}
	}
}

// Compute combines the foveal prior, V1 saliency and motion saliency
// into the attention map.
//
// Saliency and motion inputs are each normalized by their own global
// max before weighting, so the component weights compare like with
// like. The combined map is normalized by its max. A frame with no
// structure at all (zero saliency and zero motion) yields the uniform
// map 1/(H·W); a degenerate combination falls back to the foveal
// prior alone. Either way the output has strictly positive sum.
func Compute(saliency, motionMag *tensor.Map, focus Focus, p params.Attention, dst *tensor.Map) error {
	want := dst.Geometry()
	if err := saliency.Validate(want); err != nil {
		return fmt.Errorf("attention saliency input: %w", err)
	}
	if err := motionMag.Validate(want); err != nil {
		return fmt.Errorf("attention motion input: %w", err)
	}
	weightSum := p.FovealWeight + p.SaliencyWeight + p.MotionWeight
	if weightSum <= 0 {
		return fmt.Errorf("attention weights sum to %v, need > 0", weightSum)
	}

	salMax := saliency.Max()
	motMax := motionMag.Max()
	if salMax == 0 && motMax == 0 {
		// No content anywhere: attend uniformly.
		dst.Fill(1 / float32(dst.Width*dst.Height))
		return nil
	}

	wf := p.FovealWeight / weightSum
	ws := p.SaliencyWeight / weightSum
	wm := p.MotionWeight / weightSum

	FovealPrior(focus, p, dst)
	for i := range dst.Data {
		v := wf * dst.Data[i]
		if salMax > 0 {
			v += ws * saliency.Data[i] / salMax
		}
		if motMax > 0 {
			v += wm * motionMag.Data[i] / motMax
		}
		dst.Data[i] = v
	}

	max := dst.Max()
	if max == 0 {
		FovealPrior(focus, p, dst)
		return nil
	}
	dst.Scale(1 / max)
	return nil
}

// GridSize returns the dimensions of the downsampled attention grid
// for a frame at the given downsample factor.
func GridSize(width, height, factor int) (int, int) {
	return (width + factor - 1) / factor, (height + factor - 1) / factor
}

// Downsample reduces the attention map to one 8-bit value per
// factor×factor cell, the rounded mean over the cell. The grid is what
// the stream carries; both codec sides quantize through it so their
// effective steps agree exactly.
func Downsample(att *tensor.Map, factor int) []uint8 {
	gw, gh := GridSize(att.Width, att.Height, factor)
	grid := make([]uint8, gw*gh)

	for gy := 0; gy < gh; gy++ {
		y0 := gy * factor
		y1 := y0 + factor
		if y1 > att.Height {
			y1 = att.Height
		}
		for gx := 0; gx < gw; gx++ {
			x0 := gx * factor
			x1 := x0 + factor
			if x1 > att.Width {
				x1 = att.Width
			}

			var sum float32
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					sum += att.At(x, y)
				}
			}
			mean := sum / float32((y1-y0)*(x1-x0))
			grid[gy*gw+gx] = uint8(math32.Round(mean * 255))
		}
	}
	return grid
}

// CellValue returns the attention level of grid cell (gx, gy) in
// [0, 1].
func CellValue(grid []uint8, gridW, gx, gy int) float32 {
	return float32(grid[gy*gridW+gx]) / 255
}

// GridMap expands the grid back into a coarse full-range map, one
// uniform factor×factor patch per cell. Decoders expose this as the
// reconstructed attention map.
func GridMap(grid []uint8, gridW, gridH, factor int) *tensor.Map {
	out := tensor.NewMap(gridW*factor, gridH*factor)
	for gy := 0; gy < gridH; gy++ {
		for gx := 0; gx < gridW; gx++ {
			v := CellValue(grid, gridW, gx, gy)
			for y := gy * factor; y < (gy+1)*factor; y++ {
				for x := gx * factor; x < (gx+1)*factor; x++ {
					out.Set(x, y, v)
				}
			}
		}
	}
	return out
}
