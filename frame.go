package afiyah

import (
	"fmt"
	"time"

	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/tensor"
)

// Frame is one raw input or reconstructed output image. Samples are
// float32 in [0, 1], stored channel-minor: the C samples of one pixel
// are adjacent.
//
// The caller owns the buffer for the duration of one encode or decode
// call; the pipeline never retains it past return.
type Frame struct {
	Width  int
	Height int
	Layout params.ChannelLayout

	// Index is the caller's presentation index; informational only, the
	// stream carries the pipeline's own frame counter.
	Index uint32
	// Timestamp is the caller's wall-clock capture time.
	Timestamp time.Time

	// Data holds Width*Height*Layout.Channels() samples.
	Data []float32
}

// NewFrame allocates a zero-filled frame of the given geometry.
func NewFrame(width, height int, layout params.ChannelLayout) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Layout: layout,
		Data:   make([]float32, width*height*layout.Channels()),
	}
}

// Validate checks the frame's internal consistency.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: frame is %dx%d", ErrShapeMismatch, f.Width, f.Height)
	}
	if !f.Layout.Valid() {
		return fmt.Errorf("%w: unknown channel layout %d", ErrShapeMismatch, f.Layout)
	}
	if want := f.Width * f.Height * f.Layout.Channels(); len(f.Data) != want {
		return fmt.Errorf("%w: frame data holds %d samples, geometry implies %d",
			ErrShapeMismatch, len(f.Data), want)
	}
	return nil
}

// Set stores v at (x, y) in channel c.
func (f *Frame) Set(x, y, c int, v float32) {
	f.Data[(y*f.Width+x)*f.Layout.Channels()+c] = v
}

// At returns the sample at (x, y) in channel c.
func (f *Frame) At(x, y, c int) float32 {
	return f.Data[(y*f.Width+x)*f.Layout.Channels()+c]
}

// volume wraps the frame data as an input tensor without copying.
func (f *Frame) volume() *tensor.Volume {
	return &tensor.Volume{
		Width:    f.Width,
		Height:   f.Height,
		Channels: f.Layout.Channels(),
		Data:     f.Data,
	}
}

// expandPlane writes a single reconstructed plane into a frame of the
// given layout. Color layouts get neutral chroma: the coded
// representation is achromatic, so RGB replicates the plane and YCbCr
// centers both chroma channels.
func expandPlane(plane *tensor.Map, layout params.ChannelLayout) *Frame {
	out := NewFrame(plane.Width, plane.Height, layout)
	switch layout {
	case params.LayoutLuma:
		copy(out.Data, plane.Data)
	case params.LayoutRGB:
		for i, v := range plane.Data {
			out.Data[i*3+0] = v
			out.Data[i*3+1] = v
			out.Data[i*3+2] = v
		}
	case params.LayoutYCbCr:
		for i, v := range plane.Data {
			out.Data[i*3+0] = v
			out.Data[i*3+1] = 0.5
			out.Data[i*3+2] = 0.5
		}
	}
	return out
}
