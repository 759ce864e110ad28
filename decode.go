package afiyah

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/afiyah/attention"
	"github.com/opd-ai/afiyah/bitstream"
	"github.com/opd-ai/afiyah/entropy"
	"github.com/opd-ai/afiyah/kernels"
	"github.com/opd-ai/afiyah/motion"
	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/tensor"
	"github.com/opd-ai/afiyah/transform"
)

// Decoder reconstructs frames from a serialized stream.
//
// The stream header carries everything the controller may move between
// frames; the structural parameters (motion block size, transform
// size) and the quantizer scale clamps do not travel and must match
// the encoder's configuration. Frames must be decoded in stream order.
type Decoder struct {
	cfg   Config
	codec *transform.Codec
	table *entropy.Table

	prevRecon  *tensor.Map
	frameIndex uint32
	lastGrid   *tensor.Map
	busy       atomic.Bool
}

// NewDecoder constructs a decoder for the given configuration, which
// must match the encoding pipeline's.
func NewDecoder(cfg Config) (*Decoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	backend, err := kernels.New(cfg.Backend, cfg.Workers)
	if err != nil {
		return nil, err
	}
	codec, err := transform.NewCodec(backend, cfg.Params.Quant.TransformSize)
	if err != nil {
		return nil, err
	}
	table, err := entropy.NewTable(entropy.TableVersion)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewDecoder",
		"width":    cfg.Width,
		"height":   cfg.Height,
		"layout":   cfg.Layout.String(),
	}).Info("Creating decoder")

	return &Decoder{cfg: cfg, codec: codec, table: table}, nil
}

// FrameIndex returns the number of decoded frames since stream start.
func (d *Decoder) FrameIndex() uint32 { return d.frameIndex }

// Reset returns the decoder to the stream-start condition.
func (d *Decoder) Reset() {
	d.prevRecon = nil
	d.frameIndex = 0
	d.lastGrid = nil
}

// LastAttention returns the reconstructed attention map of the most
// recently decoded frame at grid granularity, or nil before the first
// frame.
func (d *Decoder) LastAttention() *tensor.Map {
	if d.lastGrid == nil {
		return nil
	}
	return d.lastGrid.Clone()
}

// Decode parses one serialized frame and reconstructs it.
//
// Returns ErrBitstreamMalformed for any structural violation, including
// header fields that disagree with the decoder's configuration in a way
// that makes the payload undecodable, and ErrShapeMismatch when the
// stream geometry differs from the configured geometry.
func (d *Decoder) Decode(data []byte) (*Frame, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer d.busy.Store(false)

	f, err := bitstream.Decode(data)
	if err != nil {
		return nil, err
	}
	h := &f.Header

	w, ht := d.cfg.Width, d.cfg.Height
	if int(h.Width) != w || int(h.Height) != ht {
		return nil, fmt.Errorf("%w: stream is %dx%d, decoder configured %dx%d",
			ErrShapeMismatch, h.Width, h.Height, w, ht)
	}
	if h.Layout != d.cfg.Layout {
		return nil, fmt.Errorf("%w: stream layout %s, decoder configured %s",
			ErrShapeMismatch, h.Layout.String(), d.cfg.Layout.String())
	}
	if err := d.checkHeader(h); err != nil {
		return nil, err
	}

	table := d.table
	if h.TableVersion != table.Version() {
		if table, err = entropy.NewTable(h.TableVersion); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBitstreamMalformed, err)
		}
	}

	blockSize := int(h.TransformSize)
	bw, bh := kernels.BlockGrid(w, ht, blockSize)
	levels, err := table.Decode(f.Coefficients, blockSize, bw*bh)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBitstreamMalformed, err)
	}

	// The scale clamps never travel: the controller pins them, so the
	// configured values are the encoder's values.
	q := d.cfg.Params.Quant
	q.BaseStep = h.BaseStep
	q.Strength = h.Strength

	gridW, gridH := attention.GridSize(w, ht, blockSize)
	coeffs := make([]float32, len(levels))
	if err := d.codec.Dequantize(levels, f.AttentionGrid, gridW, q, coeffs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBitstreamMalformed, err)
	}
	recon := tensor.NewMap(w, ht)
	if err := d.codec.Inverse(coeffs, recon); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBitstreamMalformed, err)
	}

	if d.prevRecon != nil {
		field := &motion.Field{
			BlocksX:   int(h.MotionBlocksX),
			BlocksY:   int(h.MotionBlocksY),
			BlockSize: d.cfg.Params.Motion.BlockSize,
			Vectors:   f.Motion,
		}
		pred := tensor.NewMap(w, ht)
		if err := motion.Compensate(field, d.prevRecon, pred); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBitstreamMalformed, err)
		}
		for i := range recon.Data {
			recon.Data[i] += pred.Data[i]
		}
	}
	recon.Clamp01()

	d.prevRecon = recon
	d.frameIndex++
	d.lastGrid = attention.GridMap(f.AttentionGrid, gridW, gridH, blockSize)

	logrus.WithFields(logrus.Fields{
		"function": "Decode",
		"frame":    h.FrameIndex,
		"bytes":    len(data),
	}).Debug("Frame decoded")

	return expandPlane(recon, d.cfg.Layout), nil
}

// checkHeader verifies the header fields against the decoder's
// configuration and stream position.
func (d *Decoder) checkHeader(h *bitstream.Header) error {
	if h.FrameIndex != d.frameIndex {
		return fmt.Errorf("%w: frame index %d, decoder expects %d",
			ErrBitstreamMalformed, h.FrameIndex, d.frameIndex)
	}
	blockSize := int(h.TransformSize)
	if blockSize != d.cfg.Params.Quant.TransformSize {
		return fmt.Errorf("%w: transform size %d, decoder configured %d",
			ErrBitstreamMalformed, blockSize, d.cfg.Params.Quant.TransformSize)
	}
	if int(h.AttentionDownsample) != blockSize {
		return fmt.Errorf("%w: attention downsample %d is not the transform size %d",
			ErrBitstreamMalformed, h.AttentionDownsample, blockSize)
	}
	if !params.Bounds.QuantStep.Contains(h.BaseStep) || !params.Bounds.QuantStrength.Contains(h.Strength) {
		return fmt.Errorf("%w: quantizer step %v / strength %v out of bounds",
			ErrBitstreamMalformed, h.BaseStep, h.Strength)
	}

	b := d.cfg.Params.Motion.BlockSize
	wantX := (d.cfg.Width + b - 1) / b
	wantY := (d.cfg.Height + b - 1) / b
	if int(h.MotionBlocksX) != wantX || int(h.MotionBlocksY) != wantY {
		return fmt.Errorf("%w: motion grid %dx%d, block size %d implies %dx%d",
			ErrBitstreamMalformed, h.MotionBlocksX, h.MotionBlocksY, b, wantX, wantY)
	}
	return nil
}
