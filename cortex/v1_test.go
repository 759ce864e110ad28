package cortex

import (
	"context"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/afiyah/kernels"
	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/retina"
	"github.com/opd-ai/afiyah/tensor"
)

func testBackend(t *testing.T) kernels.Backend {
	t.Helper()
	b, err := kernels.New("scalar", 1)
	require.NoError(t, err)
	return b
}

func TestInputAveragesPathways(t *testing.T) {
	ganglion := tensor.NewVolume(4, 4, retina.PathwayCount)
	for i := 0; i < 16; i++ {
		ganglion.Data[i*3+0] = 0.3
		ganglion.Data[i*3+1] = 0.6
		ganglion.Data[i*3+2] = 0.9
	}

	dst := tensor.NewMap(4, 4)
	require.NoError(t, Input(ganglion, dst))
	for _, v := range dst.Data {
		assert.InDelta(t, 0.6, float64(v), 1e-5)
	}

	bad := tensor.NewVolume(4, 4, 2)
	assert.Error(t, Input(bad, dst))
}

func TestSimpleZeroInputYieldsZeroBank(t *testing.T) {
	v1 := NewV1(testBackend(t))
	p := params.Default().V1
	p.Orientations = 4
	p.Scales = 2

	in := tensor.NewMap(16, 16)
	bank := tensor.NewBank(p.Orientations, p.Scales, 16, 16)
	require.NoError(t, v1.Simple(context.Background(), in, p, bank))

	for o := 0; o < p.Orientations; o++ {
		for s := 0; s < p.Scales; s++ {
			for _, v := range bank.Plane(o, s).Data {
				assert.Equal(t, float32(0), v)
			}
		}
	}
}

func TestSimpleResponsesStayInRange(t *testing.T) {
	v1 := NewV1(testBackend(t))
	p := params.Default().V1
	p.Orientations = 4
	p.Scales = 2

	in := tensor.NewMap(24, 24)
	for i := range in.Data {
		in.Data[i] = float32(i%13) / 13
	}
	bank := tensor.NewBank(p.Orientations, p.Scales, 24, 24)
	require.NoError(t, v1.Simple(context.Background(), in, p, bank))

	for o := 0; o < p.Orientations; o++ {
		for s := 0; s < p.Scales; s++ {
			for _, v := range bank.Plane(o, s).Data {
				assert.GreaterOrEqual(t, v, float32(0))
				assert.LessOrEqual(t, v, float32(1))
			}
		}
	}
}

func TestSimpleRejectsBankOverMemoryCap(t *testing.T) {
	v1 := NewV1(testBackend(t))
	p := params.Default().V1
	p.TensorMemCap = 64

	in := tensor.NewMap(32, 32)
	bank := tensor.NewBank(p.Orientations, p.Scales, 32, 32)
	err := v1.Simple(context.Background(), in, p, bank)
	require.Error(t, err)
	assert.ErrorIs(t, err, params.ErrOutOfBounds)
}

func TestSimpleIsOrientationSelective(t *testing.T) {
	v1 := NewV1(testBackend(t))
	p := params.Default().V1
	p.Orientations = 4
	p.Scales = 1

	// Grating varying along x at the scale-0 carrier frequency.
	in := tensor.NewMap(48, 48)
	freq := 1 / p.BaseSigma
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			in.Set(x, y, 0.5+0.5*math32.Cos(2*math32.Pi*freq*float32(x)))
		}
	}

	bank := tensor.NewBank(p.Orientations, p.Scales, 48, 48)
	require.NoError(t, v1.Simple(context.Background(), in, p, bank))

	matched := bank.Plane(0, 0).Max()
	orthogonal := bank.Plane(p.Orientations/2, 0).Max()
	assert.Greater(t, matched, orthogonal,
		"the orientation aligned with the grating must respond strongest")
}

func TestSimpleResponseIsLocal(t *testing.T) {
	v1 := NewV1(testBackend(t))
	p := params.Default().V1
	p.Orientations = 2
	p.Scales = 1

	in := tensor.NewMap(32, 32)
	in.Set(8, 8, 1)

	bank := tensor.NewBank(p.Orientations, p.Scales, 32, 32)
	require.NoError(t, v1.Simple(context.Background(), in, p, bank))

	// Base sigma 1.5 truncates the kernel at radius 5; samples farther
	// than that from the bright pixel cannot respond.
	for o := 0; o < p.Orientations; o++ {
		plane := bank.Plane(o, 0)
		for y := 0; y < 32; y++ {
			for x := 20; x < 32; x++ {
				assert.Equal(t, float32(0), plane.At(x, y))
			}
		}
	}
}

func TestComplexPoolingNeverShrinksResponses(t *testing.T) {
	simple := tensor.NewBank(2, 1, 8, 8)
	simple.Plane(0, 0).Set(3, 3, 0.8)
	simple.Plane(1, 0).Set(0, 0, 0.4)

	pooled := tensor.NewBank(2, 1, 8, 8)
	require.NoError(t, Complex(context.Background(), simple, pooled))

	for o := 0; o < 2; o++ {
		sp := simple.Plane(o, 0)
		cp := pooled.Plane(o, 0)
		for i := range sp.Data {
			assert.GreaterOrEqual(t, cp.Data[i], sp.Data[i])
		}
	}

	// The peak spreads over its 3x3 neighborhood.
	p := pooled.Plane(0, 0)
	for y := 2; y <= 4; y++ {
		for x := 2; x <= 4; x++ {
			assert.Equal(t, float32(0.8), p.At(x, y))
		}
	}
	assert.Equal(t, float32(0), p.At(6, 6))

	// Corner pooling only sees the in-image neighborhood.
	assert.Equal(t, float32(0.4), pooled.Plane(1, 0).At(1, 1))
	assert.Equal(t, float32(0), pooled.Plane(1, 0).At(3, 3))
}

func TestComplexRejectsMismatchedBanks(t *testing.T) {
	simple := tensor.NewBank(2, 2, 8, 8)
	pooled := tensor.NewBank(2, 1, 8, 8)
	assert.Error(t, Complex(context.Background(), simple, pooled))
}

func TestCollapseTakesMaxOverPlanes(t *testing.T) {
	bank := tensor.NewBank(2, 2, 4, 4)
	bank.Plane(0, 0).Fill(0.2)
	bank.Plane(1, 0).Set(1, 1, 0.9)
	bank.Plane(0, 1).Set(2, 2, 0.5)

	dst := tensor.NewMap(4, 4)
	require.NoError(t, Collapse(bank, dst))

	assert.Equal(t, float32(0.9), dst.At(1, 1))
	assert.Equal(t, float32(0.5), dst.At(2, 2))
	assert.Equal(t, float32(0.2), dst.At(0, 0))
}

func TestCancellationStopsDecomposition(t *testing.T) {
	v1 := NewV1(testBackend(t))
	p := params.Default().V1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := tensor.NewMap(16, 16)
	bank := tensor.NewBank(p.Orientations, p.Scales, 16, 16)
	assert.ErrorIs(t, v1.Simple(ctx, in, p, bank), context.Canceled)

	assert.ErrorIs(t, Complex(ctx, bank, bank), context.Canceled)
}
