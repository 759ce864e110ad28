package afiyah

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/afiyah/attention"
	"github.com/opd-ai/afiyah/bitstream"
	"github.com/opd-ai/afiyah/controller"
	"github.com/opd-ai/afiyah/cortex"
	"github.com/opd-ai/afiyah/entropy"
	"github.com/opd-ai/afiyah/motion"
	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/retina"
	"github.com/opd-ai/afiyah/tensor"
)

// EncodeOptions carries the optional per-call inputs of one encode.
type EncodeOptions struct {
	// Focus is the viewer's gaze point; nil means the frame center.
	Focus *attention.Focus
	// Behavior is optional gaze telemetry for the controller.
	Behavior *controller.ViewerBehavior
	// TargetQuality and TargetLatency override the controller targets
	// when positive.
	TargetQuality float32
	TargetLatency time.Duration
}

// EncodeResult is the output of one successful encode call.
type EncodeResult struct {
	// Data is the serialized frame.
	Data []byte
	// Telemetry is the per-frame record.
	Telemetry Telemetry
}

// Encode runs the full stage cascade on one frame and serializes the
// result.
//
// The call blocks until the frame is committed or fails. Deadlines are
// carried by ctx: a stage finishes its current tile, then the frame
// aborts with ErrDeadlineExceeded. Any failure rolls back completely;
// the motion references, adaptation state and controller memory keep
// their pre-call values and the next call starts clean.
func (pl *Pipeline) Encode(ctx context.Context, frame *Frame, opts *EncodeOptions) (*EncodeResult, error) {
	if !pl.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer pl.busy.Store(false)

	if err := pl.checkFrame(frame); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &EncodeOptions{}
	}
	if opts.TargetQuality > 0 || opts.TargetLatency > 0 {
		pl.ctrl.SetTargets(opts.TargetQuality, opts.TargetLatency)
	}

	start := time.Now()
	p := pl.ctrl.Params()
	work := pl.state.clone()
	w, h := pl.cfg.Width, pl.cfg.Height

	var timings StageTimings
	mark := start
	lap := func(dst *time.Duration) {
		now := time.Now()
		*dst += now.Sub(mark)
		mark = now
	}

	// Retinal front-end, bipolar and ganglion stages.
	retVol := pl.pool.GetVolume(w, h, pl.frontend.Channels())
	on := pl.pool.GetVolume(w, h, pl.frontend.Channels())
	off := pl.pool.GetVolume(w, h, pl.frontend.Channels())
	gang := pl.pool.GetVolume(w, h, retina.PathwayCount)
	defer func() {
		pl.pool.PutVolume(retVol)
		pl.pool.PutVolume(on)
		pl.pool.PutVolume(off)
		pl.pool.PutVolume(gang)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := pl.frontend.Process(frame.volume(), work.Retina, p.Retinal, retVol); err != nil {
		return nil, fmt.Errorf("retinal stage: %w", err)
	}
	if err := pl.bipolar.Process(ctx, retVol, p.Bipolar, on, off); err != nil {
		return nil, fmt.Errorf("bipolar stage: %w", err)
	}
	if err := pl.ganglion.Process(ctx, on, off, p.Ganglion, gang); err != nil {
		return nil, fmt.Errorf("ganglion stage: %w", err)
	}
	lap(&timings.Retina)

	// V1 decomposition. The simple-cell collapse is the coded plane;
	// the complex-cell collapse drives saliency.
	curr := tensor.NewMap(w, h)
	if err := cortex.Input(gang, curr); err != nil {
		return nil, fmt.Errorf("cortical input: %w", err)
	}
	simple := tensor.NewBank(p.V1.Orientations, p.V1.Scales, w, h)
	complexBank := tensor.NewBank(p.V1.Orientations, p.V1.Scales, w, h)
	if err := pl.v1.Simple(ctx, curr, p.V1, simple); err != nil {
		return nil, fmt.Errorf("V1 simple cells: %w", err)
	}
	if err := cortex.Complex(ctx, simple, complexBank); err != nil {
		return nil, fmt.Errorf("V1 complex cells: %w", err)
	}

	coded := tensor.NewMap(w, h)
	saliency := pl.pool.GetMap(w, h)
	defer pl.pool.PutMap(saliency)
	if err := cortex.Collapse(simple, coded); err != nil {
		return nil, fmt.Errorf("V1 collapse: %w", err)
	}
	if err := cortex.Collapse(complexBank, saliency); err != nil {
		return nil, fmt.Errorf("V1 energy collapse: %w", err)
	}
	lap(&timings.Cortex)

	// Motion estimation against the previous committed frame.
	field, err := pl.estimator.Estimate(ctx, curr, work.PrevLuma, p.Motion)
	if err != nil {
		return nil, fmt.Errorf("motion stage: %w", err)
	}
	lap(&timings.Motion)

	// Attention map and its transmitted grid.
	focus := attention.DefaultFocus(w, h)
	if opts.Focus != nil {
		focus = *opts.Focus
	}
	motMag := pl.pool.GetMap(w, h)
	att := pl.pool.GetMap(w, h)
	defer func() {
		pl.pool.PutMap(motMag)
		pl.pool.PutMap(att)
	}()
	if err := field.Magnitude(motMag, p.Motion.SearchRadius); err != nil {
		return nil, fmt.Errorf("motion saliency: %w", err)
	}
	if err := attention.Compute(saliency, motMag, focus, p.Attention, att); err != nil {
		return nil, fmt.Errorf("attention stage: %w", err)
	}
	blockSize := p.Quant.TransformSize
	grid := attention.Downsample(att, blockSize)
	gridW, _ := attention.GridSize(w, h, blockSize)
	lap(&timings.Attention)

	// Closed-loop residual: the coded plane minus the motion-compensated
	// previous reconstruction. Prediction uses the integer field, the
	// form the stream carries.
	pred := pl.pool.GetMap(w, h)
	residual := pl.pool.GetMap(w, h)
	defer func() {
		pl.pool.PutMap(pred)
		pl.pool.PutMap(residual)
	}()
	if work.PrevRecon != nil {
		if err := motion.Compensate(field.Quantized(), work.PrevRecon, pred); err != nil {
			return nil, fmt.Errorf("motion compensation: %w", err)
		}
	}
	for i := range residual.Data {
		residual.Data[i] = coded.Data[i] - pred.Data[i]
	}

	coeffs := make([]float32, pl.codec.CoefficientCount(w, h))
	if err := pl.codec.Forward(ctx, residual, coeffs); err != nil {
		return nil, fmt.Errorf("forward transform: %w", err)
	}
	levels := make([]int16, len(coeffs))
	if err := pl.codec.Quantize(coeffs, grid, gridW, p.Quant, levels); err != nil {
		return nil, fmt.Errorf("quantize: %w", err)
	}
	lap(&timings.Transform)

	payload, err := pl.codeLevels(levels, blockSize)
	if err != nil {
		return nil, err
	}
	payload, err = pl.enforceRateCap(payload, levels, grid, blockSize, p.Quant.RateCapBytes, p.Quant.OverflowPolicy)
	if err != nil {
		return nil, err
	}

	data, err := bitstream.Encode(&bitstream.Frame{
		Header: bitstream.Header{
			Version:             bitstream.Version,
			FrameIndex:          work.FrameIndex,
			Width:               uint16(w),
			Height:              uint16(h),
			Layout:              pl.cfg.Layout,
			TransformSize:       uint8(blockSize),
			BaseStep:            p.Quant.BaseStep,
			Strength:            p.Quant.Strength,
			TableVersion:        pl.table.Version(),
			AttentionDownsample: uint8(blockSize),
			MotionBlocksX:       uint16(field.BlocksX),
			MotionBlocksY:       uint16(field.BlocksY),
		},
		Motion:        field.Vectors,
		AttentionGrid: grid,
		Coefficients:  payload,
	})
	if err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	lap(&timings.Entropy)

	// Reconstruct what the decoder will see, from the possibly
	// truncated levels, to close the prediction loop.
	recon := tensor.NewMap(w, h)
	if err := pl.codec.Dequantize(levels, grid, gridW, p.Quant, coeffs); err != nil {
		return nil, fmt.Errorf("dequantize: %w", err)
	}
	if err := pl.codec.Inverse(coeffs, recon); err != nil {
		return nil, fmt.Errorf("inverse transform: %w", err)
	}
	for i := range recon.Data {
		recon.Data[i] += pred.Data[i]
	}
	recon.Clamp01()

	// Commit. Everything before this point only touched the working
	// clone and scratch buffers.
	ref := work.PrevLuma
	work.PrevLuma = curr
	work.PrevRecon = recon
	work.FrameIndex++
	pl.state = work
	pl.lastAttention = att.Clone()

	latency := time.Since(start)
	complexity := controller.MeasureComplexity(curr, ref, saliency, field, p.Motion.SearchRadius)
	quality := clampUnit(ssim(coded, recon))
	pl.ctrl.Observe(controller.Feedback{
		Complexity:      complexity,
		Behavior:        opts.Behavior,
		RealizedQuality: float32(quality),
		RealizedLatency: latency,
		BytesProduced:   len(data),
		PixelCount:      w * h,
	})

	logrus.WithFields(logrus.Fields{
		"function":  "Encode",
		"stream_id": pl.streamID.String(),
		"frame":     work.FrameIndex - 1,
		"bytes":     len(data),
		"latency":   latency,
		"mode":      pl.ctrl.Mode().String(),
	}).Debug("Frame committed")

	return &EncodeResult{
		Data: data,
		Telemetry: Telemetry{
			StreamID:   pl.streamID,
			FrameIndex: work.FrameIndex - 1,
			Latency:    latency,
			Bytes:      len(data),
			PSNR:       psnr(coded, recon),
			SSIM:       quality,
			Mode:       pl.ctrl.Mode(),
			Complexity: complexity,
			Timings:    timings,
		},
	}, nil
}

// LastAttention returns a copy of the attention map of the most
// recently committed frame, or nil before the first commit.
func (pl *Pipeline) LastAttention() *tensor.Map {
	if pl.lastAttention == nil {
		return nil
	}
	return pl.lastAttention.Clone()
}

// checkFrame validates the caller's frame against the configuration.
func (pl *Pipeline) checkFrame(frame *Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if frame.Width != pl.cfg.Width || frame.Height != pl.cfg.Height {
		return fmt.Errorf("%w: frame is %dx%d, pipeline configured %dx%d",
			ErrShapeMismatch, frame.Width, frame.Height, pl.cfg.Width, pl.cfg.Height)
	}
	if frame.Layout != pl.cfg.Layout {
		return fmt.Errorf("%w: frame layout %s, pipeline configured %s",
			ErrShapeMismatch, frame.Layout.String(), pl.cfg.Layout.String())
	}
	return nil
}

// codeLevels run-length scans the levels and entropy codes them through
// the backend.
func (pl *Pipeline) codeLevels(levels []int16, blockSize int) ([]byte, error) {
	symbols := entropy.RunLength(levels, blockSize)
	payload, err := pl.backend.EntropyEncode(symbols, pl.table)
	if err != nil {
		return nil, fmt.Errorf("entropy encode: %w", err)
	}
	return payload, nil
}

// enforceRateCap checks the transmitted payload (attention grid plus
// coefficient bytes) against the byte cap. Under the truncate policy it
// halves the kept low-frequency coefficient count until the frame fits;
// the levels slice is modified in place so the reconstruction matches
// what is sent.
func (pl *Pipeline) enforceRateCap(payload []byte, levels []int16, grid []uint8, blockSize, capBytes int, policy params.OverflowPolicy) ([]byte, error) {
	size := len(grid) + len(payload)
	if size <= capBytes {
		return payload, nil
	}
	if policy == params.OverflowAbort {
		return nil, fmt.Errorf("%w: frame needs %d bytes, cap is %d", ErrRateCapExceeded, size, capBytes)
	}

	keep := blockSize * blockSize
	for size > capBytes {
		keep /= 2
		if keep < 1 {
			return nil, fmt.Errorf("%w: %d bytes at DC-only coding, cap is %d", ErrRateCapExceeded, size, capBytes)
		}
		entropy.Truncate(levels, blockSize, keep)
		var err error
		payload, err = pl.codeLevels(levels, blockSize)
		if err != nil {
			return nil, err
		}
		size = len(grid) + len(payload)
	}

	logrus.WithFields(logrus.Fields{
		"function": "enforceRateCap",
		"kept":     keep,
		"bytes":    size,
		"cap":      capBytes,
	}).Debug("Truncated frame to fit rate cap")
	return payload, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
