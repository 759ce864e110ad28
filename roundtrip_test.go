package afiyah

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/afiyah/attention"
	"github.com/opd-ai/afiyah/bitstream"
	"github.com/opd-ai/afiyah/params"
)

// floatTexture fills a luma frame with a smooth deterministic pattern,
// richer than the binary texture where gradual values matter.
func floatTexture(width, height int) *Frame {
	f := NewFrame(width, height, params.LayoutLuma)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			f.Set(x, y, 0, float32((x*31+y*17)%97)/97)
		}
	}
	return f
}

func TestZeroFrameEndToEnd(t *testing.T) {
	cfg := testConfig(64, 64)
	pl, err := New(cfg)
	require.NoError(t, err)
	dec, err := NewDecoder(cfg)
	require.NoError(t, err)

	res, err := pl.Encode(context.Background(), NewFrame(64, 64, params.LayoutLuma), nil)
	require.NoError(t, err)

	// No structure anywhere: the attention map is uniform 1/(H*W).
	att := pl.LastAttention()
	require.NotNil(t, att)
	for i, v := range att.Data {
		assert.InDelta(t, 1.0/4096, float64(v), 1e-9, "attention sample %d", i)
	}

	// Stream start: the motion field is all zero with zero confidence.
	bf, err := bitstream.Decode(res.Data)
	require.NoError(t, err)
	for i, v := range bf.Motion {
		assert.Zero(t, v.DX, "vector %d", i)
		assert.Zero(t, v.DY, "vector %d", i)
		assert.Zero(t, v.Confidence, "vector %d", i)
	}

	decoded, err := dec.Decode(res.Data)
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Width)
	assert.Equal(t, 64, decoded.Height)
	for i, v := range decoded.Data {
		assert.Zero(t, v, "decoded sample %d", i)
	}
}

func TestIdenticalFramesFullConfidenceZeroMotion(t *testing.T) {
	pl, err := New(testConfig(64, 64))
	require.NoError(t, err)

	frame := binaryTexture(64, 64, 4)
	_, err = pl.Encode(context.Background(), frame, nil)
	require.NoError(t, err)
	res, err := pl.Encode(context.Background(), frame, nil)
	require.NoError(t, err)

	bf, err := bitstream.Decode(res.Data)
	require.NoError(t, err)
	require.Len(t, bf.Motion, 16)
	for i, v := range bf.Motion {
		assert.Zero(t, v.DX, "vector %d", i)
		assert.Zero(t, v.DY, "vector %d", i)
		assert.Equal(t, float32(1), v.Confidence, "vector %d", i)
	}
}

func TestShiftedFrameRecoversMotion(t *testing.T) {
	cfg := testConfig(64, 64)
	// Disable the temporal low-pass so the second frame's retinal output
	// is an exact translation of the first.
	cfg.Params.Retinal.TemporalBlend = 1
	pl, err := New(cfg)
	require.NoError(t, err)

	first := binaryTexture(64, 64, 4)
	second := shiftRight(first, 4)

	_, err = pl.Encode(context.Background(), first, nil)
	require.NoError(t, err)
	res, err := pl.Encode(context.Background(), second, nil)
	require.NoError(t, err)

	bf, err := bitstream.Decode(res.Data)
	require.NoError(t, err)
	radius := cfg.Params.Motion.SearchRadius

	for i, v := range bf.Motion {
		assert.LessOrEqual(t, abs(v.DX), radius, "vector %d", i)
		assert.LessOrEqual(t, abs(v.DY), radius, "vector %d", i)
		assert.GreaterOrEqual(t, v.Confidence, float32(0), "vector %d", i)
		assert.LessOrEqual(t, v.Confidence, float32(1), "vector %d", i)
	}

	// Interior blocks see the content arrive from four pixels left.
	for by := 1; by <= 2; by++ {
		for bx := 1; bx <= 2; bx++ {
			v := bf.Motion[by*4+bx]
			assert.Equal(t, -4, v.DX, "block (%d, %d)", bx, by)
			assert.Zero(t, v.DY, "block (%d, %d)", bx, by)
			assert.Greater(t, v.Confidence, float32(0.9), "block (%d, %d)", bx, by)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestEncodeIsDeterministic(t *testing.T) {
	cfg := testConfig(64, 64)
	cfg.Params.Quant.BaseStep = 0.01

	a, err := New(cfg)
	require.NoError(t, err)
	b, err := New(cfg)
	require.NoError(t, err)

	frames := []*Frame{
		binaryTexture(64, 64, 4),
		shiftRight(binaryTexture(64, 64, 4), 4),
		floatTexture(64, 64),
	}
	for i, frame := range frames {
		ra, err := a.Encode(context.Background(), frame, nil)
		require.NoError(t, err)
		rb, err := b.Encode(context.Background(), frame, nil)
		require.NoError(t, err)
		assert.Equal(t, ra.Data, rb.Data, "frame %d diverged", i)
	}
}

func TestFocusShapesTheStream(t *testing.T) {
	cfg := testConfig(64, 64)
	cfg.Params.Quant.BaseStep = 0.01
	cfg.Params.Quant.Strength = 0.9

	center, err := New(cfg)
	require.NoError(t, err)
	corner, err := New(cfg)
	require.NoError(t, err)

	frame := floatTexture(64, 64)
	resCenter, err := center.Encode(context.Background(), frame, nil)
	require.NoError(t, err)
	resCorner, err := corner.Encode(context.Background(), frame, &EncodeOptions{
		Focus: &attention.Focus{X: 0, Y: 0},
	})
	require.NoError(t, err)

	bfCenter, err := bitstream.Decode(resCenter.Data)
	require.NoError(t, err)
	bfCorner, err := bitstream.Decode(resCorner.Data)
	require.NoError(t, err)

	assert.NotEqual(t, bfCenter.AttentionGrid, bfCorner.AttentionGrid)
	assert.NotEqual(t, len(resCenter.Data), len(resCorner.Data))
}

func TestDecodeMatchesEncoderReconstruction(t *testing.T) {
	cfg := testConfig(64, 64)
	pl, err := New(cfg)
	require.NoError(t, err)
	dec, err := NewDecoder(cfg)
	require.NoError(t, err)

	first := binaryTexture(64, 64, 4)
	second := shiftRight(first, 4)

	r1, err := pl.Encode(context.Background(), first, nil)
	require.NoError(t, err)
	d1, err := dec.Decode(r1.Data)
	require.NoError(t, err)
	// The decoder's reconstruction is byte-identical to the encoder's
	// closed-loop reference; anything less would drift frame to frame.
	assert.Equal(t, pl.state.PrevRecon.Data, d1.Data)

	r2, err := pl.Encode(context.Background(), second, nil)
	require.NoError(t, err)
	d2, err := dec.Decode(r2.Data)
	require.NoError(t, err)
	assert.Equal(t, pl.state.PrevRecon.Data, d2.Data)
	assert.Equal(t, uint32(2), dec.FrameIndex())

	for i, v := range d2.Data {
		assert.GreaterOrEqual(t, v, float32(0), "sample %d", i)
		assert.LessOrEqual(t, v, float32(1), "sample %d", i)
	}

	att := dec.LastAttention()
	require.NotNil(t, att)
	for i, v := range att.Data {
		assert.GreaterOrEqual(t, v, float32(0), "attention %d", i)
		assert.LessOrEqual(t, v, float32(1), "attention %d", i)
	}
}

func TestDecodeRejectsBadStreams(t *testing.T) {
	cfg := testConfig(64, 64)
	pl, err := New(cfg)
	require.NoError(t, err)
	res, err := pl.Encode(context.Background(), binaryTexture(64, 64, 4), nil)
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		dec, err := NewDecoder(cfg)
		require.NoError(t, err)
		_, err = dec.Decode([]byte("not a stream"))
		assert.ErrorIs(t, err, ErrBitstreamMalformed)
	})

	t.Run("truncated", func(t *testing.T) {
		dec, err := NewDecoder(cfg)
		require.NoError(t, err)
		_, err = dec.Decode(res.Data[:len(res.Data)-3])
		assert.ErrorIs(t, err, ErrBitstreamMalformed)
	})

	t.Run("wrong geometry", func(t *testing.T) {
		dec, err := NewDecoder(testConfig(32, 32))
		require.NoError(t, err)
		_, err = dec.Decode(res.Data)
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("wrong transform size", func(t *testing.T) {
		other := testConfig(64, 64)
		other.Params.Quant.TransformSize = 16
		dec, err := NewDecoder(other)
		require.NoError(t, err)
		_, err = dec.Decode(res.Data)
		assert.ErrorIs(t, err, ErrBitstreamMalformed)
	})

	t.Run("out of order", func(t *testing.T) {
		dec, err := NewDecoder(cfg)
		require.NoError(t, err)
		_, err = dec.Decode(res.Data)
		require.NoError(t, err)

		// The same frame again carries index 0 but the decoder expects 1.
		_, err = dec.Decode(res.Data)
		assert.ErrorIs(t, err, ErrBitstreamMalformed)

		dec.Reset()
		_, err = dec.Decode(res.Data)
		assert.NoError(t, err)
	})
}

func TestColorRoundTripNeutralChroma(t *testing.T) {
	cfg := testConfig(32, 32)
	cfg.Layout = params.LayoutYCbCr
	pl, err := New(cfg)
	require.NoError(t, err)
	dec, err := NewDecoder(cfg)
	require.NoError(t, err)

	res, err := pl.Encode(context.Background(), NewFrame(32, 32, params.LayoutYCbCr), nil)
	require.NoError(t, err)
	decoded, err := dec.Decode(res.Data)
	require.NoError(t, err)

	require.Equal(t, params.LayoutYCbCr, decoded.Layout)
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			assert.Zero(t, decoded.At(x, y, 0))
			assert.Equal(t, float32(0.5), decoded.At(x, y, 1))
			assert.Equal(t, float32(0.5), decoded.At(x, y, 2))
		}
	}
}
