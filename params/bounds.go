package params

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrOutOfBounds is returned when a parameter update carries a value
// outside the authoritative bounds table. The root package surfaces it
// as the invalid-configuration error kind.
var ErrOutOfBounds = errors.New("parameter out of bounds")

// Range is a closed float bound [Min, Max].
type Range struct {
	Min float32
	Max float32
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float32) bool {
	return v >= r.Min && v <= r.Max
}

// Clip clamps v into the range.
func (r Range) Clip(v float32) float32 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// IntRange is a closed integer bound [Min, Max].
type IntRange struct {
	Min int
	Max int
}

// Contains reports whether v lies inside the range.
func (r IntRange) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Clip clamps v into the range.
func (r IntRange) Clip(v int) int {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// BoundsTable is the single authoritative declaration of every
// parameter's legal range. The source material scattered inconsistent
// copies of these limits across modules; where copies disagreed the
// tighter range was kept.
type BoundsTable struct {
	AdaptationRate Range
	DarkThreshold  Range
	TemporalBlend  Range

	GaussianSigma     Range
	DoGGain           Range
	LateralInhibition Range

	GanglionWindow IntRange
	PathwayGain    Range

	Orientations IntRange
	Scales       IntRange
	BaseSigma    Range
	TensorMemCap IntRange

	BlockSize        IntRange
	SearchRadius     IntRange
	ConfidenceCutoff Range

	FovealRadius    Range
	AttentionWeight Range

	TransformSize IntRange
	QuantStep     Range
	QuantStrength Range
	QuantScale    Range
	RateCapBytes  IntRange

	TargetQuality       Range
	MemorySize          IntRange
	SimilarityThreshold Range
	FitnessWeight       Range
}

// Bounds is the authoritative table. Declared once; read by Validate,
// Clip and the controller's candidate mutation.
var Bounds = BoundsTable{
	AdaptationRate: Range{Min: 1e-4, Max: 1.0},
	DarkThreshold:  Range{Min: 0.0, Max: 0.5},
	TemporalBlend:  Range{Min: 1e-3, Max: 1.0},

	GaussianSigma:     Range{Min: 0.3, Max: 16.0},
	DoGGain:           Range{Min: 0.0, Max: 4.0},
	LateralInhibition: Range{Min: 0.0, Max: 1.0},

	GanglionWindow: IntRange{Min: 3, Max: 15},
	PathwayGain:    Range{Min: 0.0, Max: 4.0},

	Orientations: IntRange{Min: 2, Max: 16},
	Scales:       IntRange{Min: 1, Max: 6},
	BaseSigma:    Range{Min: 0.5, Max: 8.0},
	TensorMemCap: IntRange{Min: 1 << 16, Max: 1 << 30},

	BlockSize:        IntRange{Min: 4, Max: 64},
	SearchRadius:     IntRange{Min: 1, Max: 32},
	ConfidenceCutoff: Range{Min: 0.0, Max: 1.0},

	FovealRadius:    Range{Min: 1.0, Max: 4096.0},
	AttentionWeight: Range{Min: 0.0, Max: 1.0},

	TransformSize: IntRange{Min: 4, Max: 32},
	QuantStep:     Range{Min: 1e-4, Max: 1.0},
	QuantStrength: Range{Min: 0.0, Max: 1.0},
	QuantScale:    Range{Min: 1e-3, Max: 2.0},
	RateCapBytes:  IntRange{Min: 0, Max: 1 << 30},

	TargetQuality:       Range{Min: 0.0, Max: 1.0},
	MemorySize:          IntRange{Min: 1, Max: 4096},
	SimilarityThreshold: Range{Min: 0.0, Max: 1.0},
	FitnessWeight:       Range{Min: 0.0, Max: 1.0},
}

// Validate checks every field of the bundle against the bounds table and
// the cross-field invariants. The first violation is reported, wrapped
// around ErrOutOfBounds.
func (p *StageParams) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"retinal.adaptation_rate", Bounds.AdaptationRate.Contains(p.Retinal.AdaptationRate)},
		{"retinal.dark_threshold_cone", Bounds.DarkThreshold.Contains(p.Retinal.DarkThresholdCone)},
		{"retinal.dark_threshold_rod", Bounds.DarkThreshold.Contains(p.Retinal.DarkThresholdRod)},
		{"retinal.temporal_blend", Bounds.TemporalBlend.Contains(p.Retinal.TemporalBlend)},

		{"bipolar.center_sigma", Bounds.GaussianSigma.Contains(p.Bipolar.CenterSigma)},
		{"bipolar.surround_sigma", Bounds.GaussianSigma.Contains(p.Bipolar.SurroundSigma)},
		{"bipolar.center_lt_surround", p.Bipolar.CenterSigma < p.Bipolar.SurroundSigma},
		{"bipolar.center_gain", Bounds.DoGGain.Contains(p.Bipolar.CenterGain)},
		{"bipolar.surround_gain", Bounds.DoGGain.Contains(p.Bipolar.SurroundGain)},
		{"bipolar.lateral_inhibition", Bounds.LateralInhibition.Contains(p.Bipolar.LateralInhibition)},

		{"ganglion.window", Bounds.GanglionWindow.Contains(p.Ganglion.Window)},
		{"ganglion.window_odd", p.Ganglion.Window%2 == 1},
		{"ganglion.magno_gain", Bounds.PathwayGain.Contains(p.Ganglion.MagnoGain)},
		{"ganglion.parvo_gain", Bounds.PathwayGain.Contains(p.Ganglion.ParvoGain)},
		{"ganglion.konio_gain", Bounds.PathwayGain.Contains(p.Ganglion.KonioGain)},

		{"v1.orientations", Bounds.Orientations.Contains(p.V1.Orientations)},
		{"v1.scales", Bounds.Scales.Contains(p.V1.Scales)},
		{"v1.base_sigma", Bounds.BaseSigma.Contains(p.V1.BaseSigma)},
		{"v1.tensor_mem_cap", Bounds.TensorMemCap.Contains(p.V1.TensorMemCap)},

		{"motion.block_size", Bounds.BlockSize.Contains(p.Motion.BlockSize)},
		{"motion.search_radius", Bounds.SearchRadius.Contains(p.Motion.SearchRadius)},
		{"motion.confidence_cutoff", Bounds.ConfidenceCutoff.Contains(p.Motion.ConfidenceCutoff)},

		{"attention.foveal_radius", Bounds.FovealRadius.Contains(p.Attention.FovealRadius)},
		{"attention.foveal_weight", Bounds.AttentionWeight.Contains(p.Attention.FovealWeight)},
		{"attention.saliency_weight", Bounds.AttentionWeight.Contains(p.Attention.SaliencyWeight)},
		{"attention.motion_weight", Bounds.AttentionWeight.Contains(p.Attention.MotionWeight)},
		{"attention.weight_sum", p.Attention.FovealWeight+p.Attention.SaliencyWeight+p.Attention.MotionWeight > 0},

		{"quant.transform_size", Bounds.TransformSize.Contains(p.Quant.TransformSize)},
		{"quant.base_step", Bounds.QuantStep.Contains(p.Quant.BaseStep)},
		{"quant.strength", Bounds.QuantStrength.Contains(p.Quant.Strength)},
		{"quant.min_scale", Bounds.QuantScale.Contains(p.Quant.MinScale)},
		{"quant.max_scale", Bounds.QuantScale.Contains(p.Quant.MaxScale)},
		{"quant.min_le_max", p.Quant.MinScale <= p.Quant.MaxScale},
		{"quant.rate_cap_bytes", Bounds.RateCapBytes.Contains(p.Quant.RateCapBytes)},

		{"controller.target_quality", Bounds.TargetQuality.Contains(p.Controller.TargetQuality)},
		{"controller.target_latency", p.Controller.TargetLatency > 0},
		{"controller.memory_size", Bounds.MemorySize.Contains(p.Controller.MemorySize)},
		{"controller.similarity_threshold", Bounds.SimilarityThreshold.Contains(p.Controller.SimilarityThreshold)},
		{"controller.compression_weight", Bounds.FitnessWeight.Contains(p.Controller.CompressionWeight)},
		{"controller.quality_weight", Bounds.FitnessWeight.Contains(p.Controller.QualityWeight)},
		{"controller.biological_weight", Bounds.FitnessWeight.Contains(p.Controller.BiologicalWeight)},
		{"controller.performance_weight", Bounds.FitnessWeight.Contains(p.Controller.PerformanceWeight)},
	}

	for _, c := range checks {
		if !c.ok {
			logrus.WithFields(logrus.Fields{
				"function": "Validate",
				"field":    c.name,
			}).Warn("Parameter validation failed")
			return fmt.Errorf("%w: %s", ErrOutOfBounds, c.name)
		}
	}
	return nil
}

// Clip force-clamps every field of the bundle into the bounds table and
// repairs cross-field invariants. The controller clips every search
// candidate before scoring it.
func (p *StageParams) Clip() {
	p.Retinal.AdaptationRate = Bounds.AdaptationRate.Clip(p.Retinal.AdaptationRate)
	p.Retinal.DarkThresholdCone = Bounds.DarkThreshold.Clip(p.Retinal.DarkThresholdCone)
	p.Retinal.DarkThresholdRod = Bounds.DarkThreshold.Clip(p.Retinal.DarkThresholdRod)
	p.Retinal.TemporalBlend = Bounds.TemporalBlend.Clip(p.Retinal.TemporalBlend)

	p.Bipolar.CenterSigma = Bounds.GaussianSigma.Clip(p.Bipolar.CenterSigma)
	p.Bipolar.SurroundSigma = Bounds.GaussianSigma.Clip(p.Bipolar.SurroundSigma)
	if p.Bipolar.CenterSigma >= p.Bipolar.SurroundSigma {
		p.Bipolar.SurroundSigma = Bounds.GaussianSigma.Clip(p.Bipolar.CenterSigma * 2)
		if p.Bipolar.CenterSigma >= p.Bipolar.SurroundSigma {
			p.Bipolar.CenterSigma = p.Bipolar.SurroundSigma / 2
		}
	}
	p.Bipolar.CenterGain = Bounds.DoGGain.Clip(p.Bipolar.CenterGain)
	p.Bipolar.SurroundGain = Bounds.DoGGain.Clip(p.Bipolar.SurroundGain)
	p.Bipolar.LateralInhibition = Bounds.LateralInhibition.Clip(p.Bipolar.LateralInhibition)

	p.Ganglion.Window = Bounds.GanglionWindow.Clip(p.Ganglion.Window)
	if p.Ganglion.Window%2 == 0 {
		p.Ganglion.Window++
	}
	p.Ganglion.MagnoGain = Bounds.PathwayGain.Clip(p.Ganglion.MagnoGain)
	p.Ganglion.ParvoGain = Bounds.PathwayGain.Clip(p.Ganglion.ParvoGain)
	p.Ganglion.KonioGain = Bounds.PathwayGain.Clip(p.Ganglion.KonioGain)

	p.V1.Orientations = Bounds.Orientations.Clip(p.V1.Orientations)
	p.V1.Scales = Bounds.Scales.Clip(p.V1.Scales)
	p.V1.BaseSigma = Bounds.BaseSigma.Clip(p.V1.BaseSigma)
	p.V1.TensorMemCap = Bounds.TensorMemCap.Clip(p.V1.TensorMemCap)

	p.Motion.BlockSize = Bounds.BlockSize.Clip(p.Motion.BlockSize)
	p.Motion.SearchRadius = Bounds.SearchRadius.Clip(p.Motion.SearchRadius)
	p.Motion.ConfidenceCutoff = Bounds.ConfidenceCutoff.Clip(p.Motion.ConfidenceCutoff)

	p.Attention.FovealRadius = Bounds.FovealRadius.Clip(p.Attention.FovealRadius)
	p.Attention.FovealWeight = Bounds.AttentionWeight.Clip(p.Attention.FovealWeight)
	p.Attention.SaliencyWeight = Bounds.AttentionWeight.Clip(p.Attention.SaliencyWeight)
	p.Attention.MotionWeight = Bounds.AttentionWeight.Clip(p.Attention.MotionWeight)
	if p.Attention.FovealWeight+p.Attention.SaliencyWeight+p.Attention.MotionWeight == 0 {
		p.Attention.FovealWeight = 1
	}

	p.Quant.TransformSize = Bounds.TransformSize.Clip(p.Quant.TransformSize)
	p.Quant.BaseStep = Bounds.QuantStep.Clip(p.Quant.BaseStep)
	p.Quant.Strength = Bounds.QuantStrength.Clip(p.Quant.Strength)
	p.Quant.MinScale = Bounds.QuantScale.Clip(p.Quant.MinScale)
	p.Quant.MaxScale = Bounds.QuantScale.Clip(p.Quant.MaxScale)
	if p.Quant.MinScale > p.Quant.MaxScale {
		p.Quant.MinScale, p.Quant.MaxScale = p.Quant.MaxScale, p.Quant.MinScale
	}
	p.Quant.RateCapBytes = Bounds.RateCapBytes.Clip(p.Quant.RateCapBytes)

	p.Controller.TargetQuality = Bounds.TargetQuality.Clip(p.Controller.TargetQuality)
	if p.Controller.TargetLatency <= 0 {
		p.Controller.TargetLatency = Default().Controller.TargetLatency
	}
	p.Controller.MemorySize = Bounds.MemorySize.Clip(p.Controller.MemorySize)
	p.Controller.SimilarityThreshold = Bounds.SimilarityThreshold.Clip(p.Controller.SimilarityThreshold)
	p.Controller.CompressionWeight = Bounds.FitnessWeight.Clip(p.Controller.CompressionWeight)
	p.Controller.QualityWeight = Bounds.FitnessWeight.Clip(p.Controller.QualityWeight)
	p.Controller.BiologicalWeight = Bounds.FitnessWeight.Clip(p.Controller.BiologicalWeight)
	p.Controller.PerformanceWeight = Bounds.FitnessWeight.Clip(p.Controller.PerformanceWeight)
}
