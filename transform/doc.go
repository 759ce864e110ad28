// Package transform implements the coefficient domain of the codec: a
// fixed orthonormal 2D DCT-II over non-overlapping square blocks, and
// attention-weighted quantization with a per-block effective step.
//
// Quantization reads attention through the 8-bit grid the stream
// carries, never the full-resolution map, so the encoder's effective
// step and the decoder's are computed from identical inputs.
package transform
