package retina

import (
	"context"
	"fmt"

	"github.com/chewxy/math32"

	"github.com/opd-ai/afiyah/kernels"
	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/tensor"
)

// Ganglion pathway channel order in the output volume.
const (
	PathwayMagno = 0
	PathwayParvo = 1
	PathwayKonio = 2
	PathwayCount = 3
)

// Ganglion is the pathway-separation stage. It recombines the bipolar
// ON/OFF channels into the three retinogeniculate pathways and applies
// each pathway's spatial receptive field.
type Ganglion struct {
	backend kernels.Backend
	pool    *tensor.Pool
}

// NewGanglion creates the ganglion stage on the given compute backend.
func NewGanglion(backend kernels.Backend, pool *tensor.Pool) *Ganglion {
	return &Ganglion{backend: backend, pool: pool}
}

// gaussianWindow samples a normalized 2D Gaussian over a window×window
// receptive field.
func gaussianWindow(window int, sigma float32) []float32 {
	radius := window / 2
	k := make([]float32, window*window)

	var sum float32
	for y := 0; y < window; y++ {
		for x := 0; x < window; x++ {
			dx := float32(x - radius)
			dy := float32(y - radius)
			v := math32.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			k[y*window+x] = v
			sum += v
		}
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// dogWindow samples a 2D difference of Gaussians over the window. Both
// components are individually normalized, so the taps sum to zero and
// the response measures local contrast.
func dogWindow(window int, centerSigma, surroundSigma float32) []float32 {
	center := gaussianWindow(window, centerSigma)
	surround := gaussianWindow(window, surroundSigma)
	for i := range center {
		center[i] -= surround[i]
	}
	return center
}

// Process combines the ON and OFF tensors into the three-pathway output
// volume.
//
// The pointwise pathway mixes are convex combinations of ON/OFF
// channels, so they stay in [0, 1]. Each pathway is then convolved with
// its receptive-field window (a zero-sum contrast kernel for magno and
// parvo, a low-pass window for konio), rectified, scaled by the pathway
// gain and clamped.
func (g *Ganglion) Process(ctx context.Context, on, off *tensor.Volume, p params.Ganglion, out *tensor.Volume) error {
	want := on.Geometry()
	if err := off.Validate(want); err != nil {
		return fmt.Errorf("ganglion OFF input: %w", err)
	}
	wantOut := tensor.Geometry{Width: on.Width, Height: on.Height, Channels: PathwayCount}
	if err := out.Validate(wantOut); err != nil {
		return fmt.Errorf("ganglion output: %w", err)
	}

	mixed := g.pool.GetMap(on.Width, on.Height)
	filtered := g.pool.GetMap(on.Width, on.Height)
	defer func() {
		g.pool.PutMap(mixed)
		g.pool.PutMap(filtered)
	}()

	window := p.Window
	sigmaCenter := float32(window) / 6
	sigmaSurround := float32(window) / 3

	kernelsByPathway := [PathwayCount][]float32{
		PathwayMagno: dogWindow(window, sigmaCenter, sigmaSurround),
		PathwayParvo: dogWindow(window, sigmaCenter/2+0.5, sigmaCenter),
		PathwayKonio: gaussianWindow(window, sigmaSurround),
	}
	gains := [PathwayCount]float32{
		PathwayMagno: p.MagnoGain,
		PathwayParvo: p.ParvoGain,
		PathwayKonio: p.KonioGain,
	}

	for pathway := 0; pathway < PathwayCount; pathway++ {
		g.mix(on, off, pathway, mixed)
		if err := g.backend.Conv2D(ctx, mixed, filtered, kernelsByPathway[pathway], window); err != nil {
			return fmt.Errorf("pathway %d receptive field: %w", pathway, err)
		}
		gain := gains[pathway]
		for i, v := range filtered.Data {
			out.Data[i*PathwayCount+pathway] = clamp01(math32.Abs(v) * gain)
		}
	}
	return nil
}

// mix writes the pointwise pathway combination into dst.
//
// Color input (four retinal channels): magno averages the achromatic
// ON+OFF energy of the rod, L and M channels; parvo is the red/green
// opponent ON_L vs OFF_M; konio is the blue/yellow opponent ON_S vs the
// L+M OFF field. Luma input collapses to energy, ON and OFF.
func (g *Ganglion) mix(on, off *tensor.Volume, pathway int, dst *tensor.Map) {
	pixels := on.Width * on.Height
	c := on.Channels

	if c == 1 {
		for i := 0; i < pixels; i++ {
			switch pathway {
			case PathwayMagno:
				dst.Data[i] = clamp01(on.Data[i] + off.Data[i])
			case PathwayParvo:
				dst.Data[i] = on.Data[i]
			default:
				dst.Data[i] = off.Data[i]
			}
		}
		return
	}

	for i := 0; i < pixels; i++ {
		base := i * c
		switch pathway {
		case PathwayMagno:
			rod := on.Data[base+ChannelRod] + off.Data[base+ChannelRod]
			l := on.Data[base+ChannelLCone] + off.Data[base+ChannelLCone]
			m := on.Data[base+ChannelMCone] + off.Data[base+ChannelMCone]
			dst.Data[i] = (rod + l + m) / 3
		case PathwayParvo:
			dst.Data[i] = 0.5*on.Data[base+ChannelLCone] + 0.5*off.Data[base+ChannelMCone]
		default:
			s := on.Data[base+ChannelSCone]
			lm := off.Data[base+ChannelLCone] + off.Data[base+ChannelMCone]
			dst.Data[i] = 0.5*s + 0.25*lm
		}
	}
}
