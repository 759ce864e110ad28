package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/afiyah/kernels"
	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/tensor"
)

func testBackend(t *testing.T) kernels.Backend {
	t.Helper()
	b, err := kernels.New("scalar", 1)
	require.NoError(t, err)
	return b
}

func TestDCTBasisIsOrthonormal(t *testing.T) {
	for _, n := range []int{4, 8, 16} {
		basis := DCTBasis(n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				var dot float64
				for k := 0; k < n; k++ {
					dot += float64(basis[i*n+k]) * float64(basis[j*n+k])
				}
				want := 0.0
				if i == j {
					want = 1.0
				}
				assert.InDelta(t, want, dot, 1e-5, "rows %d and %d of the %d-point basis", i, j, n)
			}
		}
	}
}

func TestForwardInverseRoundTrip(t *testing.T) {
	c, err := NewCodec(testBackend(t), 8)
	require.NoError(t, err)

	src := tensor.NewMap(32, 24)
	for i := range src.Data {
		src.Data[i] = float32(i%41)/41 - 0.5
	}

	coeffs := make([]float32, c.CoefficientCount(32, 24))
	require.NoError(t, c.Forward(context.Background(), src, coeffs))

	dst := tensor.NewMap(32, 24)
	require.NoError(t, c.Inverse(coeffs, dst))

	for i := range src.Data {
		assert.InDelta(t, float64(src.Data[i]), float64(dst.Data[i]), 1e-4)
	}
}

func TestInverseCropsPartialEdgeBlocks(t *testing.T) {
	c, err := NewCodec(testBackend(t), 8)
	require.NoError(t, err)

	src := tensor.NewMap(20, 12)
	for i := range src.Data {
		src.Data[i] = float32(i%13) / 13
	}

	coeffs := make([]float32, c.CoefficientCount(20, 12))
	require.NoError(t, c.Forward(context.Background(), src, coeffs))

	dst := tensor.NewMap(20, 12)
	require.NoError(t, c.Inverse(coeffs, dst))
	for i := range src.Data {
		assert.InDelta(t, float64(src.Data[i]), float64(dst.Data[i]), 1e-4)
	}
}

func TestNewCodecRejectsTinyBlocks(t *testing.T) {
	_, err := NewCodec(testBackend(t), 1)
	assert.Error(t, err)
}

func TestEffectiveStepRespondsToAttention(t *testing.T) {
	p := params.Default().Quant

	full := EffectiveStep(p, 1)
	none := EffectiveStep(p, 0)
	assert.Less(t, full, none, "high attention must quantize finer")
	assert.InDelta(t, float64(p.BaseStep), float64(none), 1e-7)

	// Strength 1 with max attention pins the scale at the floor.
	p.Strength = 1
	assert.InDelta(t, float64(p.BaseStep*p.MinScale), float64(EffectiveStep(p, 1)), 1e-7)
}

func TestQuantizeDequantizeFixedPoint(t *testing.T) {
	c, err := NewCodec(testBackend(t), 8)
	require.NoError(t, err)
	p := params.Default().Quant

	src := tensor.NewMap(16, 16)
	for i := range src.Data {
		src.Data[i] = float32(i%29)/29 - 0.4
	}
	coeffs := make([]float32, c.CoefficientCount(16, 16))
	require.NoError(t, c.Forward(context.Background(), src, coeffs))

	grid := []uint8{255, 128, 64, 0}
	levels := make([]int16, len(coeffs))
	require.NoError(t, c.Quantize(coeffs, grid, 2, p, levels))

	recon := make([]float32, len(coeffs))
	require.NoError(t, c.Dequantize(levels, grid, 2, p, recon))

	// Requantizing the reconstruction reproduces the same levels:
	// dequantized values sit exactly on lattice points.
	again := make([]int16, len(coeffs))
	require.NoError(t, c.Quantize(recon, grid, 2, p, again))
	assert.Equal(t, levels, again)
}

func TestQuantizeHighAttentionKeepsMoreDetail(t *testing.T) {
	c, err := NewCodec(testBackend(t), 8)
	require.NoError(t, err)
	p := params.Default().Quant
	p.Strength = 0.9

	coeffs := make([]float32, 64)
	for i := range coeffs {
		coeffs[i] = 0.009
	}

	hi := make([]int16, 64)
	lo := make([]int16, 64)
	require.NoError(t, c.Quantize(coeffs, []uint8{255}, 1, p, hi))
	require.NoError(t, c.Quantize(coeffs, []uint8{0}, 1, p, lo))

	var hiNZ, loNZ int
	for i := range coeffs {
		if hi[i] != 0 {
			hiNZ++
		}
		if lo[i] != 0 {
			loNZ++
		}
	}
	assert.Greater(t, hiNZ, loNZ)
}

func TestQuantizeValidatesShapes(t *testing.T) {
	c, err := NewCodec(testBackend(t), 8)
	require.NoError(t, err)
	p := params.Default().Quant

	coeffs := make([]float32, 128)
	assert.Error(t, c.Quantize(coeffs, []uint8{0, 0}, 2, p, make([]int16, 64)))
	assert.Error(t, c.Quantize(coeffs, []uint8{0}, 1, p, make([]int16, 128)))
	assert.Error(t, c.Dequantize(make([]int16, 128), []uint8{0}, 1, p, make([]float32, 128)))
}
