// Package params centralizes every tunable constant of the compression
// pipeline: the per-stage parameter bundles, their authoritative bounds
// table, and the defaults. This package ensures consistent parameter
// enforcement across all stages of the pipeline.
//
// # Design
//
// Each stage owns a small parameter struct (Retinal, Bipolar, Ganglion,
// V1, Motion, Attention, Quant, Controller) and the full bundle travels
// as a single StageParams value. Parameters are validated when they are
// updated, never when they are used: Validate rejects any out-of-range
// field with ErrOutOfBounds, and Clip force-clamps a candidate bundle
// into bounds before it is scored by the adaptive controller.
//
// The bounds table in bounds.go is declared exactly once and is the only
// source of truth for parameter ranges; both validation and controller
// clipping read it.
//
// # Usage
//
//	p := params.Default()
//	p.Quant.BaseStep = 0.01
//	if err := p.Validate(); err != nil {
//	    // handle params.ErrOutOfBounds
//	}
package params
