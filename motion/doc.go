// Package motion implements the V5/MT stage: block-based motion
// estimation between consecutive retinal frames, per-block confidence
// scoring, optional sub-pixel refinement, and the motion-compensated
// prediction used by the transform stage's residual loop.
//
// A motion vector (dx, dy) maps a block of the current frame to its
// best match in the previous frame: predicted(x, y) = prev(x+dx, y+dy).
// Confidence is 1/(1+MAD) of the winning match, so identical frames
// score exactly 1 and unmatched blocks decay toward 0.
package motion
