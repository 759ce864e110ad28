package bitstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/opd-ai/afiyah/motion"
	"github.com/opd-ai/afiyah/params"
)

// ErrMalformed reports a structurally invalid stream.
var ErrMalformed = errors.New("malformed bitstream")

// Version is the serialization format version this package writes.
const Version uint16 = 1

var magic = [4]byte{'A', 'F', 'Y', '1'}

// Header carries the decode-side frame parameters.
type Header struct {
	Version    uint16
	FrameIndex uint32
	Width      uint16
	Height     uint16
	Layout     params.ChannelLayout
	// TransformSize is the quantizer block edge T.
	TransformSize uint8
	// BaseStep and Strength are the quantizer's Q and λ.
	BaseStep float32
	Strength float32
	// TableVersion selects the pre-trained entropy table.
	TableVersion uint16
	// AttentionDownsample is the cell edge of the attention grid the
	// payload starts with.
	AttentionDownsample uint8
	// MotionBlocksX and MotionBlocksY are the motion grid dimensions.
	MotionBlocksX uint16
	MotionBlocksY uint16
}

// GridCells returns the number of attention grid cells the payload
// carries for this header.
func (h *Header) GridCells() int {
	d := int(h.AttentionDownsample)
	gw := (int(h.Width) + d - 1) / d
	gh := (int(h.Height) + d - 1) / d
	return gw * gh
}

// Frame is one serialized frame: header, motion field, attention grid
// and the entropy-coded coefficients.
type Frame struct {
	Header        Header
	Motion        []motion.Vector
	AttentionGrid []uint8
	Coefficients  []byte
}

// Encode serializes the frame.
func Encode(f *Frame) ([]byte, error) {
	h := &f.Header
	if int(h.MotionBlocksX)*int(h.MotionBlocksY) != len(f.Motion) {
		return nil, fmt.Errorf("motion field has %d vectors for a %dx%d grid",
			len(f.Motion), h.MotionBlocksX, h.MotionBlocksY)
	}
	if h.AttentionDownsample == 0 {
		return nil, fmt.Errorf("attention downsample factor must be positive")
	}
	if len(f.AttentionGrid) != h.GridCells() {
		return nil, fmt.Errorf("attention grid has %d cells, header implies %d",
			len(f.AttentionGrid), h.GridCells())
	}

	buf := &bytes.Buffer{}
	buf.Write(magic[:])
	le := binary.LittleEndian

	writeAll(buf, le, h.Version, h.FrameIndex, h.Width, h.Height,
		uint8(h.Layout), h.TransformSize, h.BaseStep, h.Strength,
		h.TableVersion, h.AttentionDownsample, h.MotionBlocksX, h.MotionBlocksY)

	for _, v := range f.Motion {
		if v.DX > math.MaxInt16 || v.DX < math.MinInt16 || v.DY > math.MaxInt16 || v.DY < math.MinInt16 {
			return nil, fmt.Errorf("motion vector (%d, %d) does not fit int16", v.DX, v.DY)
		}
		writeAll(buf, le, int16(v.DX), int16(v.DY),
			float16.Fromfloat32(v.Confidence).Bits())
	}

	writeAll(buf, le, uint32(len(f.AttentionGrid)+len(f.Coefficients)))
	buf.Write(f.AttentionGrid)
	buf.Write(f.Coefficients)
	return buf.Bytes(), nil
}

// writeAll writes fixed-width values sequentially. Writing to a
// bytes.Buffer cannot fail.
func writeAll(buf *bytes.Buffer, order binary.ByteOrder, values ...any) {
	for _, v := range values {
		binary.Write(buf, order, v)
	}
}

// Decode parses a serialized frame, failing with ErrMalformed on any
// structural violation: bad magic, unknown version, invalid layout or
// factor, or a length field disagreeing with the data.
func Decode(data []byte) (*Frame, error) {
	r := &reader{data: data}

	var m [4]byte
	r.bytes(m[:])
	if r.err == nil && m != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformed, m[:])
	}

	f := &Frame{}
	h := &f.Header
	h.Version = r.u16()
	if r.err == nil && h.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, h.Version)
	}
	h.FrameIndex = r.u32()
	h.Width = r.u16()
	h.Height = r.u16()
	h.Layout = params.ChannelLayout(r.u8())
	h.TransformSize = r.u8()
	h.BaseStep = r.f32()
	h.Strength = r.f32()
	h.TableVersion = r.u16()
	h.AttentionDownsample = r.u8()
	h.MotionBlocksX = r.u16()
	h.MotionBlocksY = r.u16()
	if r.err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrMalformed)
	}
	if !h.Layout.Valid() {
		return nil, fmt.Errorf("%w: unknown channel layout %d", ErrMalformed, h.Layout)
	}
	if h.Width == 0 || h.Height == 0 || h.TransformSize < 2 || h.AttentionDownsample == 0 {
		return nil, fmt.Errorf("%w: degenerate frame geometry", ErrMalformed)
	}
	if h.MotionBlocksX == 0 || h.MotionBlocksY == 0 {
		return nil, fmt.Errorf("%w: empty motion grid", ErrMalformed)
	}

	blocks := int(h.MotionBlocksX) * int(h.MotionBlocksY)
	f.Motion = make([]motion.Vector, blocks)
	for i := range f.Motion {
		dx := int(int16(r.u16()))
		dy := int(int16(r.u16()))
		conf := float16.Frombits(r.u16()).Float32()
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		f.Motion[i] = motion.Vector{
			DX: dx, DY: dy,
			FX: float32(dx), FY: float32(dy),
			Confidence: conf,
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: truncated motion field", ErrMalformed)
	}

	payloadLen := int(r.u32())
	if r.err != nil || payloadLen != len(data)-r.pos {
		return nil, fmt.Errorf("%w: payload length mismatch", ErrMalformed)
	}
	cells := h.GridCells()
	if payloadLen < cells {
		return nil, fmt.Errorf("%w: payload shorter than attention grid", ErrMalformed)
	}
	f.AttentionGrid = append([]uint8(nil), data[r.pos:r.pos+cells]...)
	f.Coefficients = append([]byte(nil), data[r.pos+cells:]...)
	return f, nil
}

// reader is a cursor over the serialized bytes; the first failure
// sticks so callers check err once per section.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("need %d bytes at offset %d, have %d", n, r.pos, len(r.data)-r.pos)
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *reader) bytes(dst []byte) {
	if b := r.take(len(dst)); b != nil {
		copy(dst, b)
	}
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}
