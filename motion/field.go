package motion

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/opd-ai/afiyah/tensor"
)

// Vector is one block's estimated displacement into the previous frame.
type Vector struct {
	// DX and DY are the integer displacement found by the block search.
	DX int
	DY int
	// FX and FY are the sub-pixel refined displacement. They equal the
	// integer displacement when refinement is disabled. The refined
	// values drive compensation only; serialization carries DX and DY.
	FX float32
	FY float32
	// Confidence is 1/(1+MAD) of the winning match, in [0, 1].
	Confidence float32
}

// Field is the per-frame motion vector grid.
type Field struct {
	BlocksX   int
	BlocksY   int
	BlockSize int
	Vectors   []Vector
}

// NewField creates a zero-motion field for the given frame geometry.
// All confidences are zero, the stream-start condition.
func NewField(width, height, blockSize int) *Field {
	bw := (width + blockSize - 1) / blockSize
	bh := (height + blockSize - 1) / blockSize
	return &Field{
		BlocksX:   bw,
		BlocksY:   bh,
		BlockSize: blockSize,
		Vectors:   make([]Vector, bw*bh),
	}
}

// At returns the vector for block (bx, by).
func (f *Field) At(bx, by int) Vector {
	return f.Vectors[by*f.BlocksX+bx]
}

// Clone returns a deep copy of the field.
func (f *Field) Clone() *Field {
	out := &Field{
		BlocksX:   f.BlocksX,
		BlocksY:   f.BlocksY,
		BlockSize: f.BlockSize,
		Vectors:   make([]Vector, len(f.Vectors)),
	}
	copy(out.Vectors, f.Vectors)
	return out
}

// Quantized returns a copy of the field with the refined offsets
// snapped back to the integer displacements. The coded prediction must
// use this form: it is what the stream carries, so encoder and decoder
// compensate identically.
func (f *Field) Quantized() *Field {
	out := f.Clone()
	for i := range out.Vectors {
		out.Vectors[i].FX = float32(out.Vectors[i].DX)
		out.Vectors[i].FY = float32(out.Vectors[i].DY)
	}
	return out
}

// MeanConfidence returns the average confidence over all blocks.
func (f *Field) MeanConfidence() float32 {
	if len(f.Vectors) == 0 {
		return 0
	}
	var sum float32
	for _, v := range f.Vectors {
		sum += v.Confidence
	}
	return sum / float32(len(f.Vectors))
}

// Magnitude writes each pixel's normalized motion magnitude into dst:
// |v| / radius clamped to [0, 1], weighted by the block's confidence.
// The attention stage consumes this as its motion saliency input.
func (f *Field) Magnitude(dst *tensor.Map, radius int) error {
	if radius < 1 {
		return fmt.Errorf("motion magnitude: radius %d out of range", radius)
	}
	norm := math32.Sqrt2 * float32(radius)

	for y := 0; y < dst.Height; y++ {
		by := y / f.BlockSize
		if by >= f.BlocksY {
			by = f.BlocksY - 1
		}
		for x := 0; x < dst.Width; x++ {
			bx := x / f.BlockSize
			if bx >= f.BlocksX {
				bx = f.BlocksX - 1
			}
			v := f.Vectors[by*f.BlocksX+bx]
			mag := math32.Hypot(v.FX, v.FY) / norm
			if mag > 1 {
				mag = 1
			}
			dst.Set(x, y, mag*v.Confidence)
		}
	}
	return nil
}

// Compensate builds the motion-compensated prediction of the current
// frame from the previous frame: every pixel samples prev at its
// block's refined displacement, bilinearly interpolated with reflective
// borders.
func Compensate(f *Field, prev, dst *tensor.Map) error {
	if err := dst.Validate(prev.Geometry()); err != nil {
		return fmt.Errorf("compensation output: %w", err)
	}

	for y := 0; y < dst.Height; y++ {
		by := y / f.BlockSize
		if by >= f.BlocksY {
			by = f.BlocksY - 1
		}
		for x := 0; x < dst.Width; x++ {
			bx := x / f.BlockSize
			if bx >= f.BlocksX {
				bx = f.BlocksX - 1
			}
			v := f.Vectors[by*f.BlocksX+bx]
			dst.Set(x, y, sampleBilinear(prev, float32(x)+v.FX, float32(y)+v.FY))
		}
	}
	return nil
}

// sampleBilinear reads src at a fractional position, mirroring
// coordinates that fall outside the image.
func sampleBilinear(src *tensor.Map, x, y float32) float32 {
	x0 := int(math32.Floor(x))
	y0 := int(math32.Floor(y))
	fx := x - float32(x0)
	fy := y - float32(y0)

	v00 := src.AtReflect(x0, y0)
	v10 := src.AtReflect(x0+1, y0)
	v01 := src.AtReflect(x0, y0+1)
	v11 := src.AtReflect(x0+1, y0+1)

	top := v00 + (v10-v00)*fx
	bottom := v01 + (v11-v01)*fx
	return top + (bottom-top)*fy
}
