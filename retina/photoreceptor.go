package retina

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/tensor"
)

// Retinal channel order for color input.
const (
	ChannelLCone = 0
	ChannelMCone = 1
	ChannelSCone = 2
	ChannelRod   = 3
)

// Spectral sensitivity of each photoreceptor type over (R, G, B).
// Rows sum to 1 so cone responses stay in [0, 1]. The rod row is the
// standard luminance projection.
var (
	lConeWeights = [3]float32{0.65, 0.33, 0.02}
	mConeWeights = [3]float32{0.30, 0.65, 0.05}
	sConeWeights = [3]float32{0.05, 0.15, 0.80}
	rodWeights   = [3]float32{0.30, 0.59, 0.11}
)

// Frontend is the photoreceptor stage. It converts a raw input frame
// into the retinal tensor: light/dark adaptation against the running
// luminance mean, spectral projection onto cone/rod channels, a static
// dark-threshold nonlinearity, and a temporal low-pass against the
// previous frame's retinal output.
type Frontend struct {
	width  int
	height int
	layout params.ChannelLayout
}

// NewFrontend creates a photoreceptor front-end for a fixed geometry
// and channel layout.
func NewFrontend(width, height int, layout params.ChannelLayout) *Frontend {
	logrus.WithFields(logrus.Fields{
		"function": "NewFrontend",
		"width":    width,
		"height":   height,
		"layout":   layout.String(),
	}).Debug("Creating retinal front-end")

	return &Frontend{width: width, height: height, layout: layout}
}

// Channels returns the retinal channel count K: 1 for luma input, 4
// (L, M, S, rod) for color input.
func (f *Frontend) Channels() int {
	if f.layout == params.LayoutLuma {
		return 1
	}
	return 4
}

// InputChannels returns the raw frame channel count.
func (f *Frontend) InputChannels() int {
	return f.layout.Channels()
}

// State is the photoreceptor cross-frame state: the exponentially
// smoothed running mean of the raw input, and the previous frame's
// retinal output for the temporal low-pass.
type State struct {
	// Mean is H×W per input channel.
	Mean *tensor.Volume
	// Prev is H×W per retinal channel.
	Prev *tensor.Volume
	// Primed is false until the first frame has been processed; the
	// first frame seeds Mean with the input and uses its own response
	// as the temporal-filter history.
	Primed bool
}

// NewState creates a zeroed, unprimed photoreceptor state matching the
// front-end geometry.
func (f *Frontend) NewState() *State {
	return &State{
		Mean: tensor.NewVolume(f.width, f.height, f.InputChannels()),
		Prev: tensor.NewVolume(f.width, f.height, f.Channels()),
	}
}

// Clone returns a deep copy of the state. The pipeline mutates a clone
// during the frame in flight and commits it only on success.
func (s *State) Clone() *State {
	return &State{
		Mean:   s.Mean.Clone(),
		Prev:   s.Prev.Clone(),
		Primed: s.Primed,
	}
}

// Reset returns the state to the stream-start condition.
func (s *State) Reset() {
	for i := range s.Mean.Data {
		s.Mean.Data[i] = 0
	}
	for i := range s.Prev.Data {
		s.Prev.Data[i] = 0
	}
	s.Primed = false
}

// Process transforms one raw frame into the retinal tensor, updating
// state in place.
//
// Parameters:
//   - in: raw frame volume, H×W×1 for luma or H×W×3 for color
//   - state: photoreceptor state to read and update
//   - p: retinal stage parameters (validated upstream)
//   - out: destination retinal tensor, H×W×K
//
// Returns an error when the input or output geometry differs from the
// configured geometry.
func (f *Frontend) Process(in *tensor.Volume, state *State, p params.Retinal, out *tensor.Volume) error {
	wantIn := tensor.Geometry{Width: f.width, Height: f.height, Channels: f.InputChannels()}
	if err := in.Validate(wantIn); err != nil {
		return fmt.Errorf("retinal input: %w", err)
	}
	wantOut := tensor.Geometry{Width: f.width, Height: f.height, Channels: f.Channels()}
	if err := out.Validate(wantOut); err != nil {
		return fmt.Errorf("retinal output: %w", err)
	}

	if !state.Primed {
		// First frame: the running mean starts at the input itself so
		// adaptation is neutral, matching the stream-start contract.
		copy(state.Mean.Data, in.Data)
	} else {
		// Incremental form: the mean is exactly fixed when the scene is
		// static, so a still frame reaches a true fixed point.
		alpha := p.AdaptationRate
		for i, x := range in.Data {
			state.Mean.Data[i] += alpha * (x - state.Mean.Data[i])
		}
	}

	pixels := f.width * f.height
	inC := f.InputChannels()
	outC := f.Channels()

	for i := 0; i < pixels; i++ {
		if inC == 1 {
			a := adapt(in.Data[i], state.Mean.Data[i])
			r := threshold(a, p.DarkThresholdRod)
			out.Data[i] = r
			continue
		}

		base := i * inC
		r := adapt(in.Data[base+0], state.Mean.Data[base+0])
		g := adapt(in.Data[base+1], state.Mean.Data[base+1])
		b := adapt(in.Data[base+2], state.Mean.Data[base+2])

		obase := i * outC
		out.Data[obase+ChannelLCone] = threshold(dot3(lConeWeights, r, g, b), p.DarkThresholdCone)
		out.Data[obase+ChannelMCone] = threshold(dot3(mConeWeights, r, g, b), p.DarkThresholdCone)
		out.Data[obase+ChannelSCone] = threshold(dot3(sConeWeights, r, g, b), p.DarkThresholdCone)
		out.Data[obase+ChannelRod] = threshold(dot3(rodWeights, r, g, b), p.DarkThresholdRod)
	}

	// Temporal low-pass against the previous retinal output. The first
	// frame uses its own response as history, which leaves it unchanged.
	if state.Primed {
		// Same incremental form as the mean update: an unchanged
		// response passes through bit-exact.
		beta := p.TemporalBlend
		for i, r := range out.Data {
			prev := state.Prev.Data[i]
			out.Data[i] = clamp01(prev + beta*(r-prev))
		}
	}

	copy(state.Prev.Data, out.Data)
	state.Primed = true
	return nil
}

// adapt boosts the deviation of a sample from its running mean and
// clamps back into range. Identical consecutive frames pass through
// unchanged because the mean converges onto the signal.
func adapt(x, mean float32) float32 {
	return clamp01(x + (x - mean))
}

// threshold applies the static dark-threshold nonlinearity
// (x−θ)/(1−θ), clamped to [0, 1].
func threshold(x, theta float32) float32 {
	if theta >= 1 {
		return 0
	}
	return clamp01((x - theta) / (1 - theta))
}

func dot3(w [3]float32, r, g, b float32) float32 {
	return w[0]*r + w[1]*g + w[2]*b
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
