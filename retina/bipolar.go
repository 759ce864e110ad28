package retina

import (
	"context"
	"fmt"

	"github.com/chewxy/math32"

	"github.com/opd-ai/afiyah/kernels"
	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/tensor"
)

// Bipolar is the outer-plexiform stage: a difference-of-Gaussians
// center-surround response split into rectified ON and OFF channels
// with a lateral-inhibition scalar applied to both.
type Bipolar struct {
	backend kernels.Backend
	pool    *tensor.Pool
}

// NewBipolar creates the bipolar stage on the given compute backend.
// The pool supplies scratch planes for the two Gaussian fields.
func NewBipolar(backend kernels.Backend, pool *tensor.Pool) *Bipolar {
	return &Bipolar{backend: backend, pool: pool}
}

// GaussianKernel builds a normalized 1D Gaussian of the given sigma.
// The kernel is truncated at 3σ (size 2·⌈3σ⌉+1) and re-normalized so
// its taps sum to 1 after truncation.
func GaussianKernel(sigma float32) []float32 {
	radius := int(math32.Ceil(3 * sigma))
	size := 2*radius + 1
	k := make([]float32, size)

	var sum float32
	for i := range k {
		d := float32(i - radius)
		k[i] = math32.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// Process computes the ON and OFF tensors for every retinal channel.
//
// ON = max(0, k_c·G_c∗x − k_s·G_s∗x) and OFF = max(0, the negation),
// both scaled by the lateral-inhibition factor and clamped to [0, 1].
// The two outputs are orthogonal pointwise: at most one of ON and OFF
// is non-zero at any sample.
func (b *Bipolar) Process(ctx context.Context, in *tensor.Volume, p params.Bipolar, on, off *tensor.Volume) error {
	want := in.Geometry()
	if err := on.Validate(want); err != nil {
		return fmt.Errorf("bipolar ON output: %w", err)
	}
	if err := off.Validate(want); err != nil {
		return fmt.Errorf("bipolar OFF output: %w", err)
	}

	centerK := GaussianKernel(p.CenterSigma)
	surroundK := GaussianKernel(p.SurroundSigma)

	src := b.pool.GetMap(in.Width, in.Height)
	center := b.pool.GetMap(in.Width, in.Height)
	surround := b.pool.GetMap(in.Width, in.Height)
	defer func() {
		b.pool.PutMap(src)
		b.pool.PutMap(center)
		b.pool.PutMap(surround)
	}()

	pixels := in.Width * in.Height
	for c := 0; c < in.Channels; c++ {
		if err := in.CopyChannel(src, c); err != nil {
			return err
		}
		if err := b.backend.Conv2DSeparable(ctx, src, center, centerK); err != nil {
			return fmt.Errorf("center convolution: %w", err)
		}
		if err := b.backend.Conv2DSeparable(ctx, src, surround, surroundK); err != nil {
			return fmt.Errorf("surround convolution: %w", err)
		}

		for i := 0; i < pixels; i++ {
			diff := p.CenterGain*center.Data[i] - p.SurroundGain*surround.Data[i]
			var onV, offV float32
			if diff > 0 {
				onV = diff
			} else {
				offV = -diff
			}
			on.Data[i*in.Channels+c] = clamp01(onV * p.LateralInhibition)
			off.Data[i*in.Channels+c] = clamp01(offV * p.LateralInhibition)
		}
	}
	return nil
}
