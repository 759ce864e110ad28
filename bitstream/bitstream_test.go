package bitstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/afiyah/motion"
	"github.com/opd-ai/afiyah/params"
)

func sampleFrame() *Frame {
	return &Frame{
		Header: Header{
			Version:             Version,
			FrameIndex:          7,
			Width:               64,
			Height:              48,
			Layout:              params.LayoutLuma,
			TransformSize:       8,
			BaseStep:            0.02,
			Strength:            0.5,
			TableVersion:        1,
			AttentionDownsample: 8,
			MotionBlocksX:       4,
			MotionBlocksY:       3,
		},
		Motion: func() []motion.Vector {
			v := make([]motion.Vector, 12)
			v[0] = motion.Vector{DX: -4, DY: 2, FX: -4, FY: 2, Confidence: 1}
			v[5] = motion.Vector{DX: 3, DY: -1, FX: 3, FY: -1, Confidence: 0.5}
			return v
		}(),
		AttentionGrid: func() []uint8 {
			g := make([]uint8, 8*6)
			for i := range g {
				g[i] = uint8(i * 4)
			}
			return g
		}(),
		Coefficients: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := sampleFrame()
	data, err := Encode(f)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, f.Header, got.Header)
	assert.Equal(t, f.AttentionGrid, got.AttentionGrid)
	assert.Equal(t, f.Coefficients, got.Coefficients)
	require.Len(t, got.Motion, len(f.Motion))
	for i := range f.Motion {
		assert.Equal(t, f.Motion[i].DX, got.Motion[i].DX)
		assert.Equal(t, f.Motion[i].DY, got.Motion[i].DY)
		// Confidence travels as half precision.
		assert.InDelta(t, float64(f.Motion[i].Confidence), float64(got.Motion[i].Confidence), 1e-3)
		assert.Equal(t, float32(f.Motion[i].DX), got.Motion[i].FX)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, err := Encode(sampleFrame())
	require.NoError(t, err)
	b, err := Encode(sampleFrame())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeValidatesConsistency(t *testing.T) {
	f := sampleFrame()
	f.Motion = f.Motion[:3]
	_, err := Encode(f)
	assert.Error(t, err)

	f = sampleFrame()
	f.AttentionGrid = f.AttentionGrid[:5]
	_, err = Encode(f)
	assert.Error(t, err)

	f = sampleFrame()
	f.Header.AttentionDownsample = 0
	_, err = Encode(f)
	assert.Error(t, err)
}

func TestDecodeRejectsMalformedStreams(t *testing.T) {
	valid, err := Encode(sampleFrame())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"empty", func(b []byte) []byte { return nil }},
		{"bad magic", func(b []byte) []byte {
			out := append([]byte(nil), b...)
			out[0] = 'X'
			return out
		}},
		{"unknown version", func(b []byte) []byte {
			out := append([]byte(nil), b...)
			out[4] = 0xFF
			out[5] = 0xFF
			return out
		}},
		{"truncated header", func(b []byte) []byte { return b[:10] }},
		{"truncated motion field", func(b []byte) []byte { return b[:40] }},
		{"truncated payload", func(b []byte) []byte { return b[:len(b)-1] }},
		{"trailing garbage", func(b []byte) []byte { return append(append([]byte(nil), b...), 0x00) }},
		{"invalid layout", func(b []byte) []byte {
			out := append([]byte(nil), b...)
			out[14] = 0x7F
			return out
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.mutate(valid))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeClampsConfidence(t *testing.T) {
	f := sampleFrame()
	f.Motion[1].Confidence = 4.5 // out-of-range producer
	data, err := Encode(f)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, float32(1), got.Motion[1].Confidence)
}

func TestGridCells(t *testing.T) {
	h := Header{Width: 65, Height: 63, AttentionDownsample: 8}
	assert.Equal(t, 9*8, h.GridCells())
}
