package controller

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/emirpasic/gods/v2/lists/arraylist"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/opd-ai/afiyah/params"
)

// ViewerBehavior is the optional gaze information an encode call may
// carry. Both values are in [0, 1].
type ViewerBehavior struct {
	// GazeStability is high when the focus point barely moves.
	GazeStability float32
	// FocusStrength is high when the viewer is locked onto the focus
	// point rather than scanning.
	FocusStrength float32
}

// Feedback is the committed outcome of one frame.
type Feedback struct {
	Complexity      Complexity
	Behavior        *ViewerBehavior
	RealizedQuality float32
	RealizedLatency time.Duration
	BytesProduced   int
	PixelCount      int
}

// observation is one memory entry: what the content looked like, what
// parameters ran, and how well they did.
type observation struct {
	features []float64
	params   params.StageParams
	fitness  float32
}

// Controller searches the parameter space between frames.
//
// The controller is mutated only at frame commit, so the pipeline's
// rollback guarantee needs no controller snapshot: a failed frame
// simply never calls Observe.
type Controller struct {
	current params.StageParams
	mode    Mode
	rng     *rand.Rand
	memory  *arraylist.List[*observation]
}

// New creates a controller seeded with a validated parameter bundle.
func New(initial params.StageParams) (*Controller, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("controller initial parameters: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"mode":        ModeBalanced.String(),
		"memory_size": initial.Controller.MemorySize,
	}).Info("Creating adaptive controller")

	return &Controller{
		current: initial,
		mode:    ModeBalanced,
		// Fixed seed: candidate search must be reproducible so a
		// frame sequence always encodes to the same bytes.
		rng:    rand.New(rand.NewSource(1)),
		memory: arraylist.New[*observation](),
	}, nil
}

// Params returns the bundle the next frame should run with.
func (c *Controller) Params() params.StageParams { return c.current }

// Mode returns the current operating regime.
func (c *Controller) Mode() Mode { return c.mode }

// MemoryLen returns the number of stored observations.
func (c *Controller) MemoryLen() int { return c.memory.Size() }

// SetTargets overrides the quality and latency targets, clamped into
// bounds. Zero values leave the corresponding target unchanged.
func (c *Controller) SetTargets(quality float32, latency time.Duration) {
	if quality > 0 {
		c.current.Controller.TargetQuality = params.Bounds.TargetQuality.Clip(quality)
	}
	if latency > 0 {
		c.current.Controller.TargetLatency = latency
	}
}

// Reset drops the learning memory and returns to the balanced mode
// with the given bundle.
func (c *Controller) Reset(initial params.StageParams) error {
	if err := initial.Validate(); err != nil {
		return fmt.Errorf("controller reset parameters: %w", err)
	}
	c.current = initial
	c.mode = ModeBalanced
	c.rng = rand.New(rand.NewSource(1))
	c.memory.Clear()
	return nil
}

// Observe commits one frame's outcome: it updates the mode, stores the
// observation, searches for the next bundle and returns it.
func (c *Controller) Observe(fb Feedback) params.StageParams {
	ctl := c.current.Controller
	pressure := latencyPressure(fb.RealizedLatency, ctl.TargetLatency)
	c.mode = decideMode(pressure, fb.RealizedQuality, ctl.TargetQuality)

	c.remember(&observation{
		features: fb.Complexity.vector(),
		params:   c.current,
		fitness:  c.realizedFitness(fb, pressure),
	})

	best := c.current
	bestScore := c.estimateFitness(c.current, fb)
	profile := profiles[c.mode]

	for gen := 0; gen < profile.generations; gen++ {
		for _, cand := range c.candidates(best, fb, pressure, profile) {
			if score := c.estimateFitness(cand, fb); score > bestScore {
				best, bestScore = cand, score
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Observe",
		"mode":     c.mode.String(),
		"fitness":  bestScore,
		"memory":   c.memory.Size(),
	}).Debug("Controller committed frame")

	c.current = best
	return best
}

// remember appends an observation, evicting the oldest entries beyond
// the configured memory size.
func (c *Controller) remember(o *observation) {
	c.memory.Add(o)
	for c.memory.Size() > c.current.Controller.MemorySize {
		c.memory.Remove(0)
	}
}

// recall returns the parameters of the best-scoring past observation
// whose content was similar to the given features, if any.
func (c *Controller) recall(features []float64) (params.StageParams, bool) {
	threshold := c.current.Controller.SimilarityThreshold
	var best *observation
	for i := 0; i < c.memory.Size(); i++ {
		o, ok := c.memory.Get(i)
		if !ok {
			continue
		}
		sim := 1 / (1 + float32(floats.Distance(features, o.features, 2)))
		if sim <= threshold {
			continue
		}
		if best == nil || o.fitness > best.fitness {
			best = o
		}
	}
	if best == nil {
		return params.StageParams{}, false
	}
	return best.params, true
}

// candidates builds the search set: heuristic adjustments, a
// memory-recalled bundle, and random mutations, all clipped into
// bounds with structural fields pinned.
func (c *Controller) candidates(base params.StageParams, fb Feedback, pressure float64, profile searchProfile) []params.StageParams {
	out := make([]params.StageParams, 0, profile.population+4)

	ctl := base.Controller
	qualityGap := ctl.TargetQuality - fb.RealizedQuality

	if pressure > 1 {
		// Shed compute: narrower motion search, fewer scales, coarser
		// quantization.
		cand := base
		cand.Motion.SearchRadius = cand.Motion.SearchRadius * 3 / 4
		cand.V1.Scales--
		cand.Ganglion.Window -= 2
		cand.Quant.BaseStep *= 1.3
		out = append(out, cand)
	}
	if qualityGap > 0 {
		cand := base
		cand.Quant.BaseStep *= 0.7
		cand.Quant.Strength *= 1.2
		cand.V1.Orientations += 2
		out = append(out, cand)
	}
	if fb.Complexity.Temporal > 0.1 {
		cand := base
		cand.Retinal.AdaptationRate *= 1.2
		cand.Motion.ConfidenceCutoff *= 1.1
		out = append(out, cand)
	}
	if b := fb.Behavior; b != nil {
		cand := base
		if b.GazeStability > 0.7 {
			cand.Attention.FovealWeight += 0.1
			cand.Attention.FovealRadius *= 0.85
		}
		if b.FocusStrength < 0.3 {
			cand.Attention.SaliencyWeight += 0.1
		}
		out = append(out, cand)
	}
	if recalled, ok := c.recall(fb.Complexity.vector()); ok {
		out = append(out, recalled)
	}

	for i := 0; i < profile.population; i++ {
		out = append(out, c.mutate(base, profile.mutation))
	}

	for i := range out {
		c.clipCandidate(&out[i], &base)
	}
	return out
}

// mutate perturbs the continuous parameters with relative Gaussian
// noise at the given rate.
func (c *Controller) mutate(base params.StageParams, rate float32) params.StageParams {
	jitter := func(v float32) float32 {
		return v * (1 + rate*float32(c.rng.NormFloat64()))
	}

	cand := base
	cand.Retinal.AdaptationRate = jitter(cand.Retinal.AdaptationRate)
	cand.Retinal.TemporalBlend = jitter(cand.Retinal.TemporalBlend)
	cand.Bipolar.CenterSigma = jitter(cand.Bipolar.CenterSigma)
	cand.Bipolar.SurroundSigma = jitter(cand.Bipolar.SurroundSigma)
	cand.Bipolar.LateralInhibition = jitter(cand.Bipolar.LateralInhibition)
	cand.Ganglion.MagnoGain = jitter(cand.Ganglion.MagnoGain)
	cand.Ganglion.ParvoGain = jitter(cand.Ganglion.ParvoGain)
	cand.Ganglion.KonioGain = jitter(cand.Ganglion.KonioGain)
	cand.V1.BaseSigma = jitter(cand.V1.BaseSigma)
	cand.Motion.ConfidenceCutoff = jitter(cand.Motion.ConfidenceCutoff)
	cand.Attention.FovealRadius = jitter(cand.Attention.FovealRadius)
	cand.Quant.BaseStep = jitter(cand.Quant.BaseStep)
	cand.Quant.Strength = jitter(cand.Quant.Strength)
	return cand
}

// clipCandidate clamps a candidate into bounds and pins the fields the
// controller must not move: stream-structural values and the caller's
// own targets.
func (c *Controller) clipCandidate(cand, base *params.StageParams) {
	cand.Clip()
	cand.Motion.BlockSize = base.Motion.BlockSize
	cand.Quant.TransformSize = base.Quant.TransformSize
	cand.Quant.RateCapBytes = base.Quant.RateCapBytes
	cand.Quant.OverflowPolicy = base.Quant.OverflowPolicy
	cand.Controller = base.Controller

	// The motion loop predicts against the previous frame's plane, and
	// that plane was built with the previous front-end parameters.
	// Re-tuning the front end invalidates the stored history, so it is
	// only allowed when the targets are badly missed.
	if c.mode != ModeEmergency && c.mode != ModeAggressive {
		cand.Retinal = base.Retinal
		cand.Bipolar = base.Bipolar
		cand.Ganglion = base.Ganglion
		cand.V1 = base.V1
	}
}

// realizedFitness scores the frame that actually ran, for the memory.
// The latency term uses the quantized pressure, not the raw wall
// clock, so stored fitness is reproducible across runs.
func (c *Controller) realizedFitness(fb Feedback, pressure float64) float32 {
	ctl := c.current.Controller

	compression := float32(0)
	if fb.PixelCount > 0 {
		compression = clamp01(1 - float32(fb.BytesProduced)/float32(fb.PixelCount))
	}
	quality := clamp01(fb.RealizedQuality)
	gap := ctl.TargetQuality - fb.RealizedQuality
	if gap < 0 {
		gap = -gap
	}
	biological := clamp01(1 - 2*gap)
	performance := float32(1)
	if pressure > 1 {
		performance = clamp01(float32(1 / pressure))
	}
	return c.weigh(compression, quality, biological, performance)
}

// estimateFitness predicts a candidate's fitness from the parameters
// themselves, without running a frame.
func (c *Controller) estimateFitness(cand params.StageParams, fb Feedback) float32 {
	// Coarser steps and stronger attention shaping compress better.
	compression := clamp01(cand.Quant.BaseStep/0.1)*0.7 + cand.Quant.Strength*0.3

	// Finer steps and a richer Gabor bank preserve more structure;
	// complex content needs it more.
	richness := float32(cand.V1.Orientations)/16*0.5 + float32(cand.V1.Scales)/6*0.5
	quality := clamp01(1-cand.Quant.BaseStep/0.1)*0.6 + richness*0.4*clamp01(fb.Complexity.Spatial*10+0.5)

	// Biological plausibility: distance from the default operating
	// point of the retinal model.
	def := params.Default()
	biological := clamp01(1 - (absf(cand.Retinal.AdaptationRate-def.Retinal.AdaptationRate)+
		absf(cand.Retinal.TemporalBlend-def.Retinal.TemporalBlend)+
		absf(cand.Bipolar.LateralInhibition-def.Bipolar.LateralInhibition))/3)

	// Compute cost proxy over the expensive stages.
	cost := float32(cand.V1.Orientations*cand.V1.Scales)/96*0.4 +
		float32(cand.Motion.SearchRadius)/32*0.3 +
		float32(cand.Ganglion.Window)/15*0.3
	performance := clamp01(1 - cost)

	return c.weigh(compression, quality, biological, performance)
}

func (c *Controller) weigh(compression, quality, biological, performance float32) float32 {
	ctl := c.current.Controller
	sum := ctl.CompressionWeight + ctl.QualityWeight + ctl.BiologicalWeight + ctl.PerformanceWeight
	if sum <= 0 {
		return 0
	}
	return (ctl.CompressionWeight*compression +
		ctl.QualityWeight*quality +
		ctl.BiologicalWeight*biological +
		ctl.PerformanceWeight*performance) / sum
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

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
