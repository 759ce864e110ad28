// Package retina implements the retinal stages of the compression
// pipeline: the photoreceptor front-end with light/dark adaptation and
// temporal filtering, the bipolar ON/OFF center-surround stage, and the
// ganglion pathway separation into magnocellular, parvocellular and
// koniocellular channels.
//
// Each stage is a pure transform (tensor in, tensor out) parameterized
// by an explicitly passed params struct; the only mutable cross-frame
// data is the photoreceptor State, which the pipeline owns, clones for
// the frame in flight, and commits on success.
//
// # Channel convention
//
// Luma input produces a single-channel retinal tensor. Color input
// (RGB or YCbCr, converted upstream) produces four retinal channels in
// the fixed order L-cone, M-cone, S-cone, rod. All stage outputs are
// clamped to [0, 1], and the bipolar ON and OFF tensors satisfy
// ON·OFF = 0 pointwise by construction.
package retina
