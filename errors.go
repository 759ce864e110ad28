package afiyah

import (
	"context"
	"errors"

	"github.com/opd-ai/afiyah/bitstream"
	"github.com/opd-ai/afiyah/kernels"
	"github.com/opd-ai/afiyah/params"
)

// Error kinds surfaced at the package boundary. Stage-internal errors
// are wrapped around one of these so callers can classify failures with
// errors.Is without depending on subpackages.
var (
	// ErrShapeMismatch reports caller frame geometry that differs from
	// the pipeline configuration.
	ErrShapeMismatch = errors.New("frame shape mismatch")

	// ErrBusy reports a concurrent per-frame call on the same instance.
	ErrBusy = errors.New("pipeline busy")

	// ErrRateCapExceeded reports an encode whose entropy-coded payload
	// cannot fit under the byte cap.
	ErrRateCapExceeded = errors.New("rate cap exceeded")

	// ErrInvalidConfig reports a parameter outside the bounds table or a
	// tensor memory cap violation.
	ErrInvalidConfig = params.ErrOutOfBounds

	// ErrBackendUnavailable reports a requested kernel backend that is
	// not registered.
	ErrBackendUnavailable = kernels.ErrUnavailable

	// ErrBitstreamMalformed reports a structurally invalid stream on
	// decode.
	ErrBitstreamMalformed = bitstream.ErrMalformed

	// ErrDeadlineExceeded reports a per-frame deadline hit mid-cascade.
	// The failed frame leaves the pipeline state unchanged.
	ErrDeadlineExceeded = context.DeadlineExceeded
)
