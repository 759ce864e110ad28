package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
}

func TestChannelLayout(t *testing.T) {
	tests := []struct {
		name     string
		layout   ChannelLayout
		str      string
		channels int
		valid    bool
	}{
		{"luma", LayoutLuma, "luma", 1, true},
		{"rgb", LayoutRGB, "rgb", 3, true},
		{"ycbcr", LayoutYCbCr, "ycbcr", 3, true},
		{"unknown", ChannelLayout(9), "unknown", 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.str, tt.layout.String())
			assert.Equal(t, tt.channels, tt.layout.Channels())
			assert.Equal(t, tt.valid, tt.layout.Valid())
		})
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*StageParams)
	}{
		{"adaptation rate zero", func(p *StageParams) { p.Retinal.AdaptationRate = 0 }},
		{"adaptation rate above one", func(p *StageParams) { p.Retinal.AdaptationRate = 1.5 }},
		{"center sigma not below surround", func(p *StageParams) { p.Bipolar.CenterSigma = 3.0 }},
		{"lateral inhibition negative", func(p *StageParams) { p.Bipolar.LateralInhibition = -0.1 }},
		{"even ganglion window", func(p *StageParams) { p.Ganglion.Window = 8 }},
		{"too many orientations", func(p *StageParams) { p.V1.Orientations = 64 }},
		{"zero block size", func(p *StageParams) { p.Motion.BlockSize = 0 }},
		{"search radius too large", func(p *StageParams) { p.Motion.SearchRadius = 100 }},
		{"degenerate attention weights", func(p *StageParams) {
			p.Attention.FovealWeight = 0
			p.Attention.SaliencyWeight = 0
			p.Attention.MotionWeight = 0
		}},
		{"quant strength above one", func(p *StageParams) { p.Quant.Strength = 1.2 }},
		{"min scale above max scale", func(p *StageParams) {
			p.Quant.MinScale = 1.0
			p.Quant.MaxScale = 0.5
		}},
		{"negative rate cap", func(p *StageParams) { p.Quant.RateCapBytes = -1 }},
		{"zero target latency", func(p *StageParams) { p.Controller.TargetLatency = 0 }},
		{"memory size zero", func(p *StageParams) { p.Controller.MemorySize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrOutOfBounds)
		})
	}
}

func TestZeroRateCapIsLegal(t *testing.T) {
	// A zero-byte cap is a valid configuration: it forces every
	// non-empty frame to overflow, which the encode path reports.
	p := Default()
	p.Quant.RateCapBytes = 0
	assert.NoError(t, p.Validate())
}

func TestClipRepairsCandidates(t *testing.T) {
	p := Default()
	p.Retinal.AdaptationRate = 7
	p.Bipolar.CenterSigma = 5
	p.Bipolar.SurroundSigma = 2
	p.Ganglion.Window = 8
	p.Motion.SearchRadius = 500
	p.Attention.FovealWeight = 0
	p.Attention.SaliencyWeight = 0
	p.Attention.MotionWeight = 0
	p.Quant.MinScale = 1.5
	p.Quant.MaxScale = 0.2

	p.Clip()
	require.NoError(t, p.Validate(), "clipped bundle must always validate")
	assert.Less(t, p.Bipolar.CenterSigma, p.Bipolar.SurroundSigma)
	assert.Equal(t, 1, p.Ganglion.Window%2)
	assert.Equal(t, Bounds.SearchRadius.Max, p.Motion.SearchRadius)
	assert.LessOrEqual(t, p.Quant.MinScale, p.Quant.MaxScale)
}

func TestRangeHelpers(t *testing.T) {
	r := Range{Min: 0.5, Max: 2.0}
	assert.True(t, r.Contains(0.5))
	assert.True(t, r.Contains(2.0))
	assert.False(t, r.Contains(0.49))
	assert.Equal(t, float32(0.5), r.Clip(0.1))
	assert.Equal(t, float32(2.0), r.Clip(9))
	assert.Equal(t, float32(1.0), r.Clip(1.0))

	ir := IntRange{Min: 4, Max: 64}
	assert.True(t, ir.Contains(4))
	assert.False(t, ir.Contains(65))
	assert.Equal(t, 4, ir.Clip(-1))
	assert.Equal(t, 64, ir.Clip(1000))
}

func TestOverflowPolicyString(t *testing.T) {
	assert.Equal(t, "truncate", OverflowTruncate.String())
	assert.Equal(t, "abort", OverflowAbort.String())
	assert.Equal(t, "unknown", OverflowPolicy(7).String())
}
