package kernels

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/afiyah/tensor"
)

// ErrUnavailable is returned when the requested backend is not
// registered. The root package surfaces it as the backend-unavailable
// error kind.
var ErrUnavailable = errors.New("kernel backend unavailable")

// Gabor is one precomputed oriented bandpass kernel of the V1 bank.
type Gabor struct {
	// Orientation and Scale index the destination plane.
	Orientation int
	Scale       int
	// Size is the odd kernel edge length; Weights holds Size*Size taps
	// in row-major order.
	Size    int
	Weights []float32
	// Norm is the sum of absolute tap weights, used to normalize the
	// cross-correlation.
	Norm float32
}

// MotionVector is one block's displacement estimate.
//
// DX and DY are integer displacements bounded by the search radius.
// Residual is the normalized mean absolute difference at the chosen
// displacement.
type MotionVector struct {
	DX       int
	DY       int
	Residual float32
}

// SymbolCoder is implemented by entropy-coding tables. The backend
// submits symbol slices to the coder and waits for the byte stream.
type SymbolCoder interface {
	// EncodeSymbols serializes the symbol stream against the table.
	EncodeSymbols(symbols []Symbol) ([]byte, error)
}

// Symbol is one entropy-coding token: a zero-run length followed by a
// non-zero quantized coefficient level. A terminator symbol uses
// Run=EndOfBlockRun with Level 0.
type Symbol struct {
	Run   uint8
	Level int16
}

// EndOfBlockRun marks the end-of-block terminator symbol.
const EndOfBlockRun uint8 = 0xFF

// Backend is the uniform kernel-dispatch interface. One implementation
// is chosen at pipeline construction; a scalar CPU fallback always
// exists.
type Backend interface {
	// Name identifies the backend ("scalar", "parallel").
	Name() string

	// Conv2DSeparable convolves src with the same odd-length 1D kernel
	// along both axes, writing into dst. Borders are handled with
	// reflective padding.
	Conv2DSeparable(ctx context.Context, src, dst *tensor.Map, kernel []float32) error

	// Conv2D convolves src with an odd square 2D kernel of edge width,
	// writing into dst. Borders are handled with reflective padding.
	Conv2D(ctx context.Context, src, dst *tensor.Map, kernel []float32, width int) error

	// GaborBank cross-correlates src with every kernel of the bank and
	// stores the rectified magnitude response per (orientation, scale)
	// plane, each normalized by its kernel's absolute tap sum.
	GaborBank(ctx context.Context, src *tensor.Map, bank []Gabor, dst *tensor.Bank) error

	// BlockMatch runs an exhaustive displacement search of curr against
	// prev over non-overlapping blockSize blocks within ±radius,
	// returning vectors in row-major block order. Out-of-image samples
	// are skipped, not padded.
	BlockMatch(ctx context.Context, curr, prev *tensor.Map, blockSize, radius int) ([]MotionVector, error)

	// Transform2D applies the orthonormal block transform described by
	// the blockSize×blockSize basis matrix to every (reflectively
	// padded) block of src, writing coefficients into dst in row-major
	// block order, blockSize*blockSize values per block.
	Transform2D(ctx context.Context, src *tensor.Map, basis []float32, blockSize int, dst []float32) error

	// EntropyEncode submits a symbol stream to the coding table.
	EntropyEncode(symbols []Symbol, table SymbolCoder) ([]byte, error)
}

type factory func(workers int) Backend

var backends = map[string]factory{}

func register(name string, f factory) {
	if _, ok := backends[name]; ok {
		panic("kernels: backend already registered: " + name)
	}
	backends[name] = f
}

// Names returns the registered backend names in sorted order.
func Names() []string {
	out := make([]string, 0, len(backends))
	for name := range backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New selects a backend by name. An empty name selects "parallel" with
// one worker per core. Unknown names return ErrUnavailable; callers that
// accept degraded throughput should retry with "scalar", which is always
// registered.
//
// Parameters:
//   - name: backend identifier, or "" for the default
//   - workers: worker-pool size, or 0 for runtime.NumCPU()
//
// Returns:
//   - Backend: the constructed dispatch table
//   - error: ErrUnavailable when the name is not registered
func New(name string, workers int) (Backend, error) {
	if name == "" {
		name = "parallel"
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	f, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnavailable, name, Names())
	}

	b := f(workers)
	logrus.WithFields(logrus.Fields{
		"function": "New",
		"backend":  b.Name(),
		"workers":  workers,
	}).Info("Kernel backend selected")

	return b, nil
}
