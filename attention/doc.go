// Package attention builds the per-pixel attention map that drives
// bit allocation: a foveal prior around the viewer's focus point, a
// saliency component from V1 complex-cell energy, and a motion
// saliency component from the block motion field.
//
// The map is also the quantizer's coupling point between encoder and
// decoder: it is reduced to per-block means, quantized to 8 bits and
// carried in the stream, and both sides derive the effective
// quantization step from the same 8-bit values.
package attention
