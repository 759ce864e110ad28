// Package tensor provides the typed float32 tensors that flow between
// pipeline stages, together with shape validation, reflective-padding
// index helpers, and a shape-keyed recycling pool.
//
// Three tensor ranks are used by the pipeline:
//
//   - Map: a 2D H×W plane (retinal channels, attention maps, residuals)
//   - Volume: a 3D H×W×C stack (multi-channel retinal output)
//   - Bank: a 4D O×S×H×W stack (V1 orientation/scale decomposition)
//
// Every tensor carries a Geometry descriptor that downstream stages
// validate before consuming. All element values produced by pipeline
// stages are kept in [0, 1]; residual planes are the one documented
// exception and live in [-1, 1].
//
// # Pooling
//
// Tensors allocated by the pipeline are recycled across frames through a
// Pool keyed by shape. Checkout and checkin are O(1) under a single
// mutex, per the pipeline's shared-resource policy. Buffers returned by
// the pool are always zero-filled.
package tensor
