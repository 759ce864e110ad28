// Package tensor provides typed tensors for inter-stage pipeline edges.
//
// This file defines the Map, Volume and Bank tensor ranks and their
// geometry validation.
package tensor

import (
	"fmt"
)

// Geometry describes the shape of a tensor edge.
//
// Downstream stages validate the geometry of every tensor they consume
// before reading element data. Scale is only meaningful for Bank planes
// and is zero for full-resolution tensors.
type Geometry struct {
	Width    int
	Height   int
	Channels int
	Scale    int
}

// String returns a compact human-readable form of the geometry.
func (g Geometry) String() string {
	return fmt.Sprintf("%dx%dx%d@s%d", g.Width, g.Height, g.Channels, g.Scale)
}

// Pixels returns the number of spatial samples described by the geometry.
func (g Geometry) Pixels() int {
	return g.Width * g.Height
}

// Map is a 2D H×W float32 tensor stored in row-major order.
type Map struct {
	Width  int
	Height int
	Data   []float32
}

// NewMap creates a zero-filled 2D tensor of the given dimensions.
func NewMap(width, height int) *Map {
	return &Map{
		Width:  width,
		Height: height,
		Data:   make([]float32, width*height),
	}
}

// Geometry returns the shape descriptor of the map.
func (m *Map) Geometry() Geometry {
	return Geometry{Width: m.Width, Height: m.Height, Channels: 1}
}

// At returns the element at (x, y). Callers must stay in bounds; use
// AtReflect for neighborhood reads that may cross the border.
func (m *Map) At(x, y int) float32 {
	return m.Data[y*m.Width+x]
}

// Set stores v at (x, y).
func (m *Map) Set(x, y int, v float32) {
	m.Data[y*m.Width+x] = v
}

// AtReflect returns the element at (x, y) with reflective border
// handling: coordinates outside the image are mirrored back inside, so
// spatial neighborhoods never read undefined memory.
func (m *Map) AtReflect(x, y int) float32 {
	return m.Data[ReflectIndex(y, m.Height)*m.Width+ReflectIndex(x, m.Width)]
}

// Fill sets every element to v.
func (m *Map) Fill(v float32) {
	for i := range m.Data {
		m.Data[i] = v
	}
}

// Zero resets every element to 0.
func (m *Map) Zero() {
	for i := range m.Data {
		m.Data[i] = 0
	}
}

// Clone returns a deep copy of the map.
func (m *Map) Clone() *Map {
	out := NewMap(m.Width, m.Height)
	copy(out.Data, m.Data)
	return out
}

// CopyFrom overwrites the map contents with src. The shapes must match.
func (m *Map) CopyFrom(src *Map) error {
	if err := m.Validate(src.Geometry()); err != nil {
		return fmt.Errorf("copy source shape mismatch: %w", err)
	}
	copy(m.Data, src.Data)
	return nil
}

// Validate checks the map against an expected geometry.
//
// Returns a descriptive error when the shape differs; stages wrap this
// into the pipeline's shape-mismatch error kind.
func (m *Map) Validate(want Geometry) error {
	got := m.Geometry()
	if got.Width != want.Width || got.Height != want.Height {
		return fmt.Errorf("tensor shape %s does not match expected %s", got, want)
	}
	return nil
}

// Clamp01 clamps every element into [0, 1] in place.
func (m *Map) Clamp01() {
	for i, v := range m.Data {
		if v < 0 {
			m.Data[i] = 0
		} else if v > 1 {
			m.Data[i] = 1
		}
	}
}

// Max returns the largest element value, or 0 for an empty map.
func (m *Map) Max() float32 {
	var max float32
	for _, v := range m.Data {
		if v > max {
			max = v
		}
	}
	return max
}

// Sum returns the sum of all elements in float64 precision.
func (m *Map) Sum() float64 {
	var sum float64
	for _, v := range m.Data {
		sum += float64(v)
	}
	return sum
}

// Scale multiplies every element by k in place.
func (m *Map) Scale(k float32) {
	for i := range m.Data {
		m.Data[i] *= k
	}
}

// Volume is a 3D H×W×C float32 tensor. Storage is channel-minor: the C
// samples of one pixel are adjacent in memory.
type Volume struct {
	Width    int
	Height   int
	Channels int
	Data     []float32
}

// NewVolume creates a zero-filled 3D tensor of the given dimensions.
func NewVolume(width, height, channels int) *Volume {
	return &Volume{
		Width:    width,
		Height:   height,
		Channels: channels,
		Data:     make([]float32, width*height*channels),
	}
}

// Geometry returns the shape descriptor of the volume.
func (v *Volume) Geometry() Geometry {
	return Geometry{Width: v.Width, Height: v.Height, Channels: v.Channels}
}

// At returns the element at (x, y) in channel c.
func (v *Volume) At(x, y, c int) float32 {
	return v.Data[(y*v.Width+x)*v.Channels+c]
}

// Set stores val at (x, y) in channel c.
func (v *Volume) Set(x, y, c int, val float32) {
	v.Data[(y*v.Width+x)*v.Channels+c] = val
}

// AtReflect returns the element at (x, y) in channel c with reflective
// border handling.
func (v *Volume) AtReflect(x, y, c int) float32 {
	return v.Data[(ReflectIndex(y, v.Height)*v.Width+ReflectIndex(x, v.Width))*v.Channels+c]
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := NewVolume(v.Width, v.Height, v.Channels)
	copy(out.Data, v.Data)
	return out
}

// CopyFrom overwrites the volume contents with src. The shapes must match.
func (v *Volume) CopyFrom(src *Volume) error {
	if err := v.Validate(src.Geometry()); err != nil {
		return fmt.Errorf("copy source shape mismatch: %w", err)
	}
	copy(v.Data, src.Data)
	return nil
}

// Validate checks the volume against an expected geometry.
func (v *Volume) Validate(want Geometry) error {
	got := v.Geometry()
	if got.Width != want.Width || got.Height != want.Height || got.Channels != want.Channels {
		return fmt.Errorf("tensor shape %s does not match expected %s", got, want)
	}
	return nil
}

// Clamp01 clamps every element into [0, 1] in place.
func (v *Volume) Clamp01() {
	for i, e := range v.Data {
		if e < 0 {
			v.Data[i] = 0
		} else if e > 1 {
			v.Data[i] = 1
		}
	}
}

// CopyChannel extracts channel c into dst, which must be an H×W map of
// matching spatial shape.
func (v *Volume) CopyChannel(dst *Map, c int) error {
	if dst.Width != v.Width || dst.Height != v.Height {
		return fmt.Errorf("channel destination shape %s does not match volume %s", dst.Geometry(), v.Geometry())
	}
	if c < 0 || c >= v.Channels {
		return fmt.Errorf("channel %d out of range [0, %d)", c, v.Channels)
	}
	for i := 0; i < v.Width*v.Height; i++ {
		dst.Data[i] = v.Data[i*v.Channels+c]
	}
	return nil
}

// Bank is a 4D O×S×H×W tensor holding one full-resolution plane per
// (orientation, scale) pair.
type Bank struct {
	Orientations int
	Scales       int
	Width        int
	Height       int
	planes       []*Map
}

// NewBank creates a zero-filled 4D tensor with O×S planes of W×H each.
func NewBank(orientations, scales, width, height int) *Bank {
	planes := make([]*Map, orientations*scales)
	for i := range planes {
		planes[i] = NewMap(width, height)
	}
	return &Bank{
		Orientations: orientations,
		Scales:       scales,
		Width:        width,
		Height:       height,
		planes:       planes,
	}
}

// Geometry returns the shape descriptor of the bank. Channels carries
// the orientation count and Scale the scale count.
func (b *Bank) Geometry() Geometry {
	return Geometry{Width: b.Width, Height: b.Height, Channels: b.Orientations, Scale: b.Scales}
}

// Plane returns the H×W plane for orientation o at scale s.
func (b *Bank) Plane(o, s int) *Map {
	return b.planes[o*b.Scales+s]
}

// Validate checks the bank against an expected geometry.
func (b *Bank) Validate(want Geometry) error {
	got := b.Geometry()
	if got != want {
		return fmt.Errorf("tensor shape %s does not match expected %s", got, want)
	}
	return nil
}

// Zero resets every plane to 0.
func (b *Bank) Zero() {
	for _, p := range b.planes {
		p.Zero()
	}
}
