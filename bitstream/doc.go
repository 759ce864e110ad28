// Package bitstream serializes encoded frames. The layout is
// little-endian and fixed: a magic/version header, frame geometry and
// quantizer parameters, the motion field with half-precision
// confidences, and an opaque payload holding the 8-bit attention grid
// followed by the entropy-coded coefficient stream.
//
// Readers are strict: any structural mismatch fails with ErrMalformed.
package bitstream
