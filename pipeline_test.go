package afiyah

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/tensor"
)

// testConfig trims the Gabor bank so tests stay fast; nothing under
// test depends on the scale count. The generous latency envelope keeps
// the controller's latency bucket constant under load, so encodes
// reproduce the same parameter trajectory on any machine.
func testConfig(width, height int) Config {
	cfg := DefaultConfig(width, height, params.LayoutLuma)
	cfg.Params.V1.Scales = 2
	cfg.Params.Controller.TargetLatency = time.Hour
	return cfg
}

// binaryTexture fills a luma frame with a deterministic random pattern
// of cell×cell blocks, each fully on or off. Binary samples pass the
// adaptation stage unchanged, so motion tests see exact matches.
func binaryTexture(width, height, cell int) *Frame {
	f := NewFrame(width, height, params.LayoutLuma)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint32(x/cell)*73856093 ^ uint32(y/cell)*19349663
			v ^= v >> 13
			v *= 2654435761
			if v&0x10000 != 0 {
				f.Set(x, y, 0, 1)
			}
		}
	}
	return f
}

// shiftRight returns the frame translated right by the given offset,
// with the vacated left columns filled by reflection.
func shiftRight(src *Frame, offset int) *Frame {
	out := NewFrame(src.Width, src.Height, src.Layout)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			sx := x - offset
			if sx < 0 {
				sx = -sx
			}
			out.Set(x, y, 0, src.At(sx, y, 0))
		}
	}
	return out
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"zero width", func(c *Config) { c.Width = 0 }, ErrInvalidConfig},
		{"oversized height", func(c *Config) { c.Height = 1 << 20 }, ErrInvalidConfig},
		{"bad layout", func(c *Config) { c.Layout = params.ChannelLayout(9) }, ErrInvalidConfig},
		{"negative step", func(c *Config) { c.Params.Quant.BaseStep = -1 }, ErrInvalidConfig},
		{"unknown backend", func(c *Config) { c.Backend = "gpu" }, ErrBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(64, 64)
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewDefaults(t *testing.T) {
	pl, err := New(testConfig(64, 64))
	require.NoError(t, err)

	assert.NotEqual(t, [16]byte{}, [16]byte(pl.StreamID()))
	assert.Zero(t, pl.FrameIndex())
	assert.Equal(t, "parallel", pl.backend.Name())
	assert.Nil(t, pl.LastAttention())
}

func TestEncodeRejectsMismatchedFrames(t *testing.T) {
	pl, err := New(testConfig(64, 64))
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame *Frame
	}{
		{"wrong size", NewFrame(32, 32, params.LayoutLuma)},
		{"wrong layout", NewFrame(64, 64, params.LayoutRGB)},
		{"short data", &Frame{Width: 64, Height: 64, Layout: params.LayoutLuma, Data: make([]float32, 16)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pl.Encode(context.Background(), tt.frame, nil)
			assert.ErrorIs(t, err, ErrShapeMismatch)
		})
	}

	// A failed shape check must not advance the stream.
	assert.Zero(t, pl.FrameIndex())
}

func TestEncodeBusy(t *testing.T) {
	pl, err := New(testConfig(64, 64))
	require.NoError(t, err)

	pl.busy.Store(true)
	_, err = pl.Encode(context.Background(), NewFrame(64, 64, params.LayoutLuma), nil)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, pl.Reset(), ErrBusy)
	pl.busy.Store(false)

	_, err = pl.Encode(context.Background(), NewFrame(64, 64, params.LayoutLuma), nil)
	assert.NoError(t, err)
}

func TestEncodeRateCapZero(t *testing.T) {
	for _, policy := range []params.OverflowPolicy{params.OverflowTruncate, params.OverflowAbort} {
		t.Run(policy.String(), func(t *testing.T) {
			cfg := testConfig(64, 64)
			cfg.Params.Quant.RateCapBytes = 0
			cfg.Params.Quant.OverflowPolicy = policy
			pl, err := New(cfg)
			require.NoError(t, err)

			_, err = pl.Encode(context.Background(), binaryTexture(64, 64, 4), nil)
			assert.ErrorIs(t, err, ErrRateCapExceeded)
			assert.Zero(t, pl.FrameIndex())
		})
	}
}

func TestEncodeRateCapTruncates(t *testing.T) {
	cfg := testConfig(64, 64)
	cfg.Params.Quant.RateCapBytes = 400
	pl, err := New(cfg)
	require.NoError(t, err)

	// Header (31 bytes), 4x4 motion grid (6 bytes per block) and the
	// payload length prefix sit outside the cap.
	const overhead = 31 + 16*6 + 4
	res, err := pl.Encode(context.Background(), binaryTexture(64, 64, 4), nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Telemetry.Bytes, 400+overhead)

	// The abort policy fails at the same cap.
	cfg.Params.Quant.OverflowPolicy = params.OverflowAbort
	cfg.Params.Quant.RateCapBytes = 10
	abort, err := New(cfg)
	require.NoError(t, err)
	_, err = abort.Encode(context.Background(), binaryTexture(64, 64, 4), nil)
	assert.ErrorIs(t, err, ErrRateCapExceeded)
}

func TestEncodeDeadline(t *testing.T) {
	pl, err := New(testConfig(64, 64))
	require.NoError(t, err)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(time.Nanosecond))
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err = pl.Encode(ctx, binaryTexture(64, 64, 4), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.Zero(t, pl.FrameIndex())

	// The failed frame must not poison the stream.
	_, err = pl.Encode(context.Background(), binaryTexture(64, 64, 4), nil)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), pl.FrameIndex())
}

func TestFailedFrameRollsBackState(t *testing.T) {
	pl, err := New(testConfig(64, 64))
	require.NoError(t, err)

	_, err = pl.Encode(context.Background(), binaryTexture(64, 64, 4), nil)
	require.NoError(t, err)

	committed := pl.state
	snapshot := pl.state.clone()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(time.Nanosecond))
	defer cancel()
	time.Sleep(time.Millisecond)
	_, err = pl.Encode(ctx, binaryTexture(64, 64, 8), nil)
	require.Error(t, err)

	assert.Same(t, committed, pl.state)
	assert.Empty(t, cmp.Diff(snapshot, pl.state))
}

func TestReset(t *testing.T) {
	pl, err := New(testConfig(64, 64))
	require.NoError(t, err)

	_, err = pl.Encode(context.Background(), binaryTexture(64, 64, 4), nil)
	require.NoError(t, err)
	require.Equal(t, uint32(1), pl.FrameIndex())
	require.NotNil(t, pl.LastAttention())

	require.NoError(t, pl.Reset())
	assert.Zero(t, pl.FrameIndex())
	assert.Nil(t, pl.LastAttention())
	assert.Equal(t, testConfig(64, 64).Params, pl.Params())
	assert.Nil(t, pl.state.PrevLuma)
	assert.Nil(t, pl.state.PrevRecon)
}

func TestEncodeOptionsOverrideTargets(t *testing.T) {
	pl, err := New(testConfig(64, 64))
	require.NoError(t, err)

	_, err = pl.Encode(context.Background(), binaryTexture(64, 64, 4), &EncodeOptions{
		TargetQuality: 0.7,
		TargetLatency: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	got := pl.Params().Controller
	assert.Equal(t, float32(0.7), got.TargetQuality)
	assert.Equal(t, 50*time.Millisecond, got.TargetLatency)
}

func TestSelfConsistencyMetrics(t *testing.T) {
	a := tensor.NewMap(16, 16)
	for i := range a.Data {
		a.Data[i] = float32(i%7) / 7
	}
	b := a.Clone()

	assert.Equal(t, psnrCap, psnr(a, b))
	assert.InDelta(t, 1.0, ssim(a, b), 1e-9)

	b.Data[0] += 0.5
	assert.Less(t, psnr(a, b), psnrCap)
	assert.Less(t, ssim(a, b), 1.0)
}
