package cortex

import (
	"context"
	"fmt"
	"sync"

	"github.com/chewxy/math32"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/afiyah/kernels"
	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/retina"
	"github.com/opd-ai/afiyah/tensor"
)

// V1 runs the orientation/scale decomposition. It is safe for use by a
// single pipeline goroutine; the kernel cache has its own lock so a
// decoder-side instance can share it.
type V1 struct {
	backend kernels.Backend

	mu       sync.Mutex
	cacheKey bankKey
	cache    []kernels.Gabor
}

type bankKey struct {
	orientations int
	scales       int
	baseSigma    float32
}

// NewV1 creates the V1 stage on the given compute backend.
func NewV1(backend kernels.Backend) *V1 {
	logrus.WithFields(logrus.Fields{
		"function": "NewV1",
		"backend":  backend.Name(),
	}).Debug("Creating V1 stage")

	return &V1{backend: backend}
}

// buildGabor samples one Gabor kernel. Scale s doubles the envelope:
// sigma = baseSigma * 2^s, with an elongated envelope (sigmaY = sigma/2)
// and carrier frequency 1/sigma along the preferred orientation.
func buildGabor(orientation, scale, totalOrientations int, baseSigma float32) kernels.Gabor {
	sigma := baseSigma * float32(int(1)<<scale)
	sigmaY := sigma / 2
	freq := 1 / sigma
	theta := float32(orientation) * math32.Pi / float32(totalOrientations)

	radius := int(math32.Ceil(3 * sigma))
	size := 2*radius + 1
	weights := make([]float32, size*size)

	sin, cos := math32.Sincos(theta)
	var norm float32
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float32(x - radius)
			dy := float32(y - radius)
			rx := dx*cos + dy*sin
			ry := -dx*sin + dy*cos

			envelope := math32.Exp(-(rx*rx/(2*sigma*sigma) + ry*ry/(2*sigmaY*sigmaY)))
			w := envelope * math32.Cos(2*math32.Pi*freq*rx)
			weights[y*size+x] = w
			norm += math32.Abs(w)
		}
	}

	return kernels.Gabor{
		Orientation: orientation,
		Scale:       scale,
		Size:        size,
		Weights:     weights,
		Norm:        norm,
	}
}

// bank returns the cached kernel set for the given parameters,
// rebuilding it when the bank geometry changed.
func (v *V1) bank(p params.V1) []kernels.Gabor {
	key := bankKey{orientations: p.Orientations, scales: p.Scales, baseSigma: p.BaseSigma}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cache != nil && v.cacheKey == key {
		return v.cache
	}

	bank := make([]kernels.Gabor, 0, p.Orientations*p.Scales)
	for o := 0; o < p.Orientations; o++ {
		for s := 0; s < p.Scales; s++ {
			bank = append(bank, buildGabor(o, s, p.Orientations, p.BaseSigma))
		}
	}
	v.cacheKey = key
	v.cache = bank

	logrus.WithFields(logrus.Fields{
		"function":     "bank",
		"orientations": p.Orientations,
		"scales":       p.Scales,
		"baseSigma":    p.BaseSigma,
	}).Debug("Rebuilt Gabor kernel cache")
	return bank
}

// Input collapses the three ganglion pathways into the single cortical
// input plane, the per-pixel mean of the pathway responses.
func Input(ganglion *tensor.Volume, dst *tensor.Map) error {
	want := tensor.Geometry{Width: ganglion.Width, Height: ganglion.Height, Channels: 1}
	if err := dst.Validate(want); err != nil {
		return fmt.Errorf("cortical input: %w", err)
	}
	if ganglion.Channels != retina.PathwayCount {
		return fmt.Errorf("cortical input: want %d pathways, have %d",
			retina.PathwayCount, ganglion.Channels)
	}

	pixels := ganglion.Width * ganglion.Height
	for i := 0; i < pixels; i++ {
		base := i * retina.PathwayCount
		sum := ganglion.Data[base] + ganglion.Data[base+1] + ganglion.Data[base+2]
		dst.Data[i] = sum / retina.PathwayCount
	}
	return nil
}

// Simple computes the simple-cell bank: the rectified, normalized Gabor
// response magnitude of the input at every orientation and scale. Every
// plane stays in [0, 1] because responses are normalized by the kernel's
// absolute weight sum.
//
// Returns an error wrapping params.ErrOutOfBounds when the bank would
// exceed the configured tensor memory cap.
func (v *V1) Simple(ctx context.Context, in *tensor.Map, p params.V1, dst *tensor.Bank) error {
	cells := p.Orientations * p.Scales * in.Width * in.Height
	if cells > p.TensorMemCap {
		return fmt.Errorf("%w: V1 bank needs %d cells, cap is %d",
			params.ErrOutOfBounds, cells, p.TensorMemCap)
	}
	return v.backend.GaborBank(ctx, in, v.bank(p), dst)
}

// Complex pools each simple-cell plane with a 3x3 local max, trading
// exact position for response stability. Border samples pool over the
// in-image part of their neighborhood.
func Complex(ctx context.Context, simple, dst *tensor.Bank) error {
	if simple.Orientations != dst.Orientations || simple.Scales != dst.Scales {
		return fmt.Errorf("complex pooling: bank shapes differ")
	}

	for o := 0; o < simple.Orientations; o++ {
		for s := 0; s < simple.Scales; s++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			maxPool3(simple.Plane(o, s), dst.Plane(o, s))
		}
	}
	return nil
}

// maxPool3 writes the 3x3 neighborhood max of src into dst.
func maxPool3(src, dst *tensor.Map) {
	for y := 0; y < src.Height; y++ {
		y0, y1 := y-1, y+1
		if y0 < 0 {
			y0 = 0
		}
		if y1 >= src.Height {
			y1 = src.Height - 1
		}
		for x := 0; x < src.Width; x++ {
			x0, x1 := x-1, x+1
			if x0 < 0 {
				x0 = 0
			}
			if x1 >= src.Width {
				x1 = src.Width - 1
			}

			var best float32
			for yy := y0; yy <= y1; yy++ {
				row := yy * src.Width
				for xx := x0; xx <= x1; xx++ {
					if v := src.Data[row+xx]; v > best {
						best = v
					}
				}
			}
			dst.Data[y*src.Width+x] = best
		}
	}
}

// Collapse reduces the pooled bank to the single plane the transform
// stage codes: the per-pixel maximum response over every orientation
// and scale.
func Collapse(bank *tensor.Bank, dst *tensor.Map) error {
	first := bank.Plane(0, 0)
	want := tensor.Geometry{Width: first.Width, Height: first.Height, Channels: 1}
	if err := dst.Validate(want); err != nil {
		return fmt.Errorf("collapse plane: %w", err)
	}

	dst.Zero()
	for o := 0; o < bank.Orientations; o++ {
		for s := 0; s < bank.Scales; s++ {
			plane := bank.Plane(o, s)
			for i, v := range plane.Data {
				if v > dst.Data[i] {
					dst.Data[i] = v
				}
			}
		}
	}
	return nil
}
