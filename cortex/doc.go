// Package cortex implements the V1 stage of the pipeline: an
// orientation- and scale-tuned Gabor decomposition of the ganglion
// output into simple-cell responses, local max pooling into
// position-tolerant complex-cell responses, and the collapse of the
// pooled bank into the single plane the transform stage codes.
//
// Gabor kernels are deterministic functions of the stage parameters
// and are cached between frames; the cache invalidates itself when the
// controller retunes the bank geometry.
package cortex
