// Package kernels provides the pluggable compute backend behind the
// pipeline's heavy per-pixel operations: 2D convolution, the Gabor
// filter bank, block matching, the block transform, and entropy-coding
// submission.
//
// A Backend is selected once at pipeline construction and never changes
// afterwards; runtime polymorphism exists only at backend selection, not
// inside the kernels themselves. Two backends are registered:
//
//   - "scalar": the mandatory straight-loop CPU fallback
//   - "parallel": row-band tiling over a bounded worker pool sized by
//     core count (golang.org/x/sync/errgroup)
//
// All backend operations are synchronous submit+wait calls. Operations
// accept a context and observe cancellation at tile granularity: a tile
// in flight finishes, then the operation returns the context error.
//
// Selecting an unknown backend returns ErrUnavailable; the caller
// decides whether to fall back to "scalar" or to refuse.
package kernels
