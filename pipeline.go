package afiyah

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/afiyah/controller"
	"github.com/opd-ai/afiyah/cortex"
	"github.com/opd-ai/afiyah/entropy"
	"github.com/opd-ai/afiyah/kernels"
	"github.com/opd-ai/afiyah/motion"
	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/retina"
	"github.com/opd-ai/afiyah/tensor"
	"github.com/opd-ai/afiyah/transform"
)

// Config fixes one pipeline instance's geometry, compute backend and
// initial parameters.
type Config struct {
	// Width and Height are the frame geometry; every encode call must
	// match it.
	Width  int
	Height int
	// Layout is the input channel interpretation.
	Layout params.ChannelLayout

	// Backend names the kernel backend, or "" for the parallel default.
	// There is no silent fallback: an unknown name fails construction.
	Backend string
	// Workers sizes the backend worker pool; 0 means one per core.
	Workers int

	// Params is the initial stage parameter bundle. The structural
	// fields (motion block size, transform size) stay fixed for the
	// stream; a decoder needs the same values.
	Params params.StageParams
}

// DefaultConfig returns a configuration with the default parameter
// bundle and backend.
func DefaultConfig(width, height int, layout params.ChannelLayout) Config {
	return Config{
		Width:  width,
		Height: height,
		Layout: layout,
		Params: params.Default(),
	}
}

// validate checks the configuration fields the pipeline and decoder
// share.
func (c *Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 || c.Width > math.MaxUint16 || c.Height > math.MaxUint16 {
		return fmt.Errorf("%w: frame geometry %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if !c.Layout.Valid() {
		return fmt.Errorf("%w: channel layout %d", ErrInvalidConfig, c.Layout)
	}
	return c.Params.Validate()
}

// Pipeline is one encoding instance: the fixed stage cascade, its
// cross-frame state, and the adaptive controller. A pipeline is bound
// to one frame geometry for its lifetime.
//
// Encode is a blocking per-frame call; concurrent calls on the same
// instance are rejected with ErrBusy. Separate instances are
// independent.
type Pipeline struct {
	cfg      Config
	streamID uuid.UUID

	backend   kernels.Backend
	pool      *tensor.Pool
	frontend  *retina.Frontend
	bipolar   *retina.Bipolar
	ganglion  *retina.Ganglion
	v1        *cortex.V1
	estimator *motion.Estimator
	codec     *transform.Codec
	table     *entropy.Table
	ctrl      *controller.Controller

	state         *pipelineState
	lastAttention *tensor.Map
	busy          atomic.Bool
}

// New constructs a pipeline for the given configuration.
//
// Returns an error wrapping ErrInvalidConfig when a parameter is out of
// bounds, or ErrBackendUnavailable when the named backend is not
// registered.
func New(cfg Config) (*Pipeline, error) {
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
	ctrl, err := controller.New(cfg.Params)
	if err != nil {
		return nil, err
	}

	pool := tensor.NewPool()
	frontend := retina.NewFrontend(cfg.Width, cfg.Height, cfg.Layout)

	pl := &Pipeline{
		cfg:       cfg,
		streamID:  uuid.New(),
		backend:   backend,
		pool:      pool,
		frontend:  frontend,
		bipolar:   retina.NewBipolar(backend, pool),
		ganglion:  retina.NewGanglion(backend, pool),
		v1:        cortex.NewV1(backend),
		estimator: motion.NewEstimator(backend),
		codec:     codec,
		table:     table,
		ctrl:      ctrl,
		state:     newPipelineState(frontend),
	}

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"stream_id": pl.streamID.String(),
		"width":     cfg.Width,
		"height":    cfg.Height,
		"layout":    cfg.Layout.String(),
		"backend":   backend.Name(),
	}).Info("Creating encoding pipeline")

	return pl, nil
}

// StreamID returns the unique identifier of this pipeline instance,
// attached to every telemetry record.
func (pl *Pipeline) StreamID() uuid.UUID { return pl.streamID }

// FrameIndex returns the number of committed frames since stream start.
func (pl *Pipeline) FrameIndex() uint32 { return pl.state.FrameIndex }

// Params returns the parameter bundle the next frame will run with.
func (pl *Pipeline) Params() params.StageParams { return pl.ctrl.Params() }

// Mode returns the controller's current operating regime.
func (pl *Pipeline) Mode() controller.Mode { return pl.ctrl.Mode() }

// Reset returns the pipeline to the stream-start condition: adaptation
// state, motion references, frame counter and controller memory are all
// discarded, and pooled buffers are released.
func (pl *Pipeline) Reset() error {
	if !pl.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer pl.busy.Store(false)

	pl.state = newPipelineState(pl.frontend)
	pl.lastAttention = nil
	pl.pool.Drain()
	if err := pl.ctrl.Reset(pl.cfg.Params); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Reset",
		"stream_id": pl.streamID.String(),
	}).Info("Pipeline reset to stream start")
	return nil
}
