// Package controller implements the adaptive parameter controller: it
// observes each committed frame (content complexity, realized quality
// and latency, viewer behavior), maintains an operating mode, and
// searches the parameter space for the bundle the next frame should
// use.
//
// Candidate search never touches structural parameters (motion block
// size, transform size): those shape the stream layout, and a decoder
// configured once must keep decoding the whole stream.
package controller
