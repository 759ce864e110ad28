package params

import (
	"time"
)

// ChannelLayout identifies the channel interpretation of a frame.
type ChannelLayout uint8

const (
	// LayoutLuma is a single-channel luminance frame.
	LayoutLuma ChannelLayout = iota
	// LayoutRGB is a three-channel red/green/blue frame.
	LayoutRGB
	// LayoutYCbCr is a three-channel luma/chroma frame.
	LayoutYCbCr
)

// String returns the human-readable layout name.
func (l ChannelLayout) String() string {
	switch l {
	case LayoutLuma:
		return "luma"
	case LayoutRGB:
		return "rgb"
	case LayoutYCbCr:
		return "ycbcr"
	default:
		return "unknown"
	}
}

// Valid reports whether the layout is one of the defined values.
func (l ChannelLayout) Valid() bool {
	return l <= LayoutYCbCr
}

// Channels returns the channel count of the layout.
func (l ChannelLayout) Channels() int {
	if l == LayoutLuma {
		return 1
	}
	return 3
}

// OverflowPolicy selects how the encoder reacts when the entropy-coded
// stream exceeds the per-frame byte cap.
type OverflowPolicy uint8

const (
	// OverflowTruncate drops the highest-frequency coefficients until
	// the stream fits under the cap.
	OverflowTruncate OverflowPolicy = iota
	// OverflowAbort fails the frame with the rate-cap error.
	OverflowAbort
)

// String returns the human-readable policy name.
func (o OverflowPolicy) String() string {
	switch o {
	case OverflowTruncate:
		return "truncate"
	case OverflowAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Retinal holds the photoreceptor front-end parameters.
type Retinal struct {
	// AdaptationRate is the exponential update rate of the running
	// luminance mean, in (0, 1].
	AdaptationRate float32
	// DarkThresholdCone is the static nonlinearity threshold for the
	// three cone channels.
	DarkThresholdCone float32
	// DarkThresholdRod is the static nonlinearity threshold for the rod
	// channel.
	DarkThresholdRod float32
	// TemporalBlend is the per-channel temporal low-pass weight for the
	// current frame, in (0, 1].
	TemporalBlend float32
}

// Bipolar holds the center-surround difference-of-Gaussians parameters.
type Bipolar struct {
	// CenterSigma and SurroundSigma are the Gaussian radii; the center
	// must stay narrower than the surround.
	CenterSigma   float32
	SurroundSigma float32
	// CenterGain and SurroundGain weight the two blurred fields before
	// subtraction.
	CenterGain   float32
	SurroundGain float32
	// LateralInhibition scales both ON and OFF outputs, in [0, 1].
	LateralInhibition float32
}

// Ganglion holds the pathway-separation parameters.
type Ganglion struct {
	// Window is the odd receptive-field width in pixels.
	Window int
	// Per-pathway output gains.
	MagnoGain float32
	ParvoGain float32
	KonioGain float32
}

// V1 holds the orientation/scale decomposition parameters.
type V1 struct {
	// Orientations and Scales size the Gabor bank.
	Orientations int
	Scales       int
	// BaseSigma is the Gabor envelope at scale 0; scale s uses
	// BaseSigma * 2^s.
	BaseSigma float32
	// TensorMemCap bounds O*S*H*W; configurations above it are rejected.
	TensorMemCap int
}

// Motion holds the block-matching parameters.
type Motion struct {
	// BlockSize is the square block edge B.
	BlockSize int
	// SearchRadius bounds |dx| and |dy|.
	SearchRadius int
	// ConfidenceCutoff is the normalized MAD above which a block's
	// vector is zeroed as unreliable.
	ConfidenceCutoff float32
	// SubPixel enables parabola refinement of the integer minimum.
	// The bitstream carries integer vectors, so the refined offsets
	// feed motion saliency and controller features only; the coded
	// prediction always uses the integer field.
	SubPixel bool
}

// Attention holds the foveal weighting parameters.
type Attention struct {
	// FovealRadius is the flat-response radius around the focus point,
	// in pixels.
	FovealRadius float32
	// Component weights; all non-negative with a positive sum.
	FovealWeight   float32
	SaliencyWeight float32
	MotionWeight   float32
}

// Quant holds the transform and quantization parameters.
type Quant struct {
	// TransformSize is the square transform block edge T.
	TransformSize int
	// BaseStep is the base quantization step Q.
	BaseStep float32
	// Strength is the attention modulation strength λ in [0, 1].
	Strength float32
	// MinScale and MaxScale clamp the attention modulation factor.
	MinScale float32
	MaxScale float32
	// RateCapBytes caps the entropy-coded payload per frame. A zero cap
	// makes every non-empty frame overflow.
	RateCapBytes int
	// OverflowPolicy selects truncation or abort on overflow.
	OverflowPolicy OverflowPolicy
}

// Controller holds the adaptive parameter-controller settings.
type Controller struct {
	// TargetQuality is the desired quality estimate in [0, 1].
	TargetQuality float32
	// TargetLatency is the per-frame latency envelope.
	TargetLatency time.Duration
	// MemorySize bounds the learning history ring.
	MemorySize int
	// SimilarityThreshold gates memory-biased candidate generation.
	SimilarityThreshold float32
	// Fitness weights over compression, quality, biological and
	// performance terms.
	CompressionWeight float32
	QualityWeight     float32
	BiologicalWeight  float32
	PerformanceWeight float32
}

// StageParams bundles every stage's parameters for one frame.
//
// The bundle is a value type: the pipeline snapshots it at frame start,
// so controller updates between frames never race a frame in flight.
type StageParams struct {
	Retinal    Retinal
	Bipolar    Bipolar
	Ganglion   Ganglion
	V1         V1
	Motion     Motion
	Attention  Attention
	Quant      Quant
	Controller Controller
}

// Default returns the parameter bundle used when no tuning has been
// applied. Every value sits strictly inside the bounds table.
func Default() StageParams {
	return StageParams{
		Retinal: Retinal{
			AdaptationRate:    0.2,
			DarkThresholdCone: 0.02,
			DarkThresholdRod:  0.01,
			TemporalBlend:     0.95,
		},
		Bipolar: Bipolar{
			CenterSigma:       1.0,
			SurroundSigma:     2.5,
			CenterGain:        1.0,
			SurroundGain:      0.9,
			LateralInhibition: 0.8,
		},
		Ganglion: Ganglion{
			Window:    7,
			MagnoGain: 1.0,
			ParvoGain: 1.0,
			KonioGain: 1.0,
		},
		V1: V1{
			Orientations: 8,
			Scales:       4,
			BaseSigma:    1.5,
			TensorMemCap: 1 << 26,
		},
		Motion: Motion{
			BlockSize:        16,
			SearchRadius:     8,
			ConfidenceCutoff: 0.25,
			SubPixel:         false,
		},
		Attention: Attention{
			FovealRadius:   32,
			FovealWeight:   0.5,
			SaliencyWeight: 0.3,
			MotionWeight:   0.2,
		},
		Quant: Quant{
			TransformSize:  8,
			BaseStep:       0.02,
			Strength:       0.5,
			MinScale:       0.1,
			MaxScale:       1.0,
			RateCapBytes:   1 << 20,
			OverflowPolicy: OverflowTruncate,
		},
		Controller: Controller{
			TargetQuality:       0.9,
			TargetLatency:       33 * time.Millisecond,
			MemorySize:          128,
			SimilarityThreshold: 0.7,
			CompressionWeight:   0.30,
			QualityWeight:       0.30,
			BiologicalWeight:    0.25,
			PerformanceWeight:   0.15,
		},
	}
}
