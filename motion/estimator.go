package motion

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/afiyah/kernels"
	"github.com/opd-ai/afiyah/params"
	"github.com/opd-ai/afiyah/tensor"
)

// Estimator computes the motion field between consecutive frames.
type Estimator struct {
	backend kernels.Backend
}

// NewEstimator creates a motion estimator on the given compute backend.
func NewEstimator(backend kernels.Backend) *Estimator {
	logrus.WithFields(logrus.Fields{
		"function": "NewEstimator",
		"backend":  backend.Name(),
	}).Debug("Creating motion estimator")

	return &Estimator{backend: backend}
}

// Estimate searches prev for each block of curr and scores the match.
//
// A nil prev marks stream start: the field is all-zero vectors with
// zero confidence. Blocks whose best match is still worse than the
// confidence cutoff keep their (low) confidence but have their vector
// zeroed, so unreliable estimates never displace the prediction.
func (e *Estimator) Estimate(ctx context.Context, curr, prev *tensor.Map, p params.Motion) (*Field, error) {
	field := NewField(curr.Width, curr.Height, p.BlockSize)
	if prev == nil {
		return field, nil
	}
	if err := prev.Validate(curr.Geometry()); err != nil {
		return nil, fmt.Errorf("motion reference frame: %w", err)
	}

	raw, err := e.backend.BlockMatch(ctx, curr, prev, p.BlockSize, p.SearchRadius)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(field.Vectors) {
		return nil, fmt.Errorf("motion field size %d does not match grid %dx%d",
			len(raw), field.BlocksX, field.BlocksY)
	}

	for i, m := range raw {
		v := Vector{
			DX:         m.DX,
			DY:         m.DY,
			Confidence: 1 / (1 + m.Residual),
		}
		if m.Residual > p.ConfidenceCutoff {
			// Keep the confidence as measured but do not trust the
			// displacement.
			v.DX, v.DY = 0, 0
		}
		v.FX, v.FY = float32(v.DX), float32(v.DY)

		if p.SubPixel && (v.DX != 0 || v.DY != 0) {
			bx := i % field.BlocksX
			by := i / field.BlocksX
			v.FX += refineAxis(curr, prev, bx, by, p.BlockSize, v.DX, v.DY, true)
			v.FY += refineAxis(curr, prev, bx, by, p.BlockSize, v.DX, v.DY, false)
		}
		field.Vectors[i] = v
	}
	return field, nil
}

// refineAxis fits a parabola through the MAD at the integer minimum and
// its two axis neighbors and returns the vertex offset, clamped to half
// a pixel. Degenerate fits (flat or inverted curvature, or neighbors
// without valid samples) return 0.
func refineAxis(curr, prev *tensor.Map, bx, by, blockSize, dx, dy int, horizontal bool) float32 {
	var madL, madC, madR float32
	var cl, cc, cr int

	madC, cc = kernels.BlockMAD(curr, prev, bx, by, blockSize, dx, dy)
	if horizontal {
		madL, cl = kernels.BlockMAD(curr, prev, bx, by, blockSize, dx-1, dy)
		madR, cr = kernels.BlockMAD(curr, prev, bx, by, blockSize, dx+1, dy)
	} else {
		madL, cl = kernels.BlockMAD(curr, prev, bx, by, blockSize, dx, dy-1)
		madR, cr = kernels.BlockMAD(curr, prev, bx, by, blockSize, dx, dy+1)
	}
	if cl == 0 || cc == 0 || cr == 0 {
		return 0
	}

	denom := madL - 2*madC + madR
	if denom <= 0 {
		return 0
	}
	offset := 0.5 * (madL - madR) / denom
	if offset > 0.5 {
		offset = 0.5
	}
	if offset < -0.5 {
		offset = -0.5
	}
	return offset
}
