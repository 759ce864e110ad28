// Package afiyah implements the core of a biomimetic video compression
// pipeline.
//
// Each input frame is routed through a cascade of stages modeled on the
// mammalian visual system: photoreceptor response and adaptation,
// bipolar center-surround, ganglion pathway separation, V1 Gabor
// decomposition, block-based motion estimation against the previous
// frame, and a foveal attention map that steers the quantizer. An
// adaptive controller observes every committed frame and retunes the
// stage parameters for the next one.
//
// Example:
//
//	cfg := afiyah.DefaultConfig(640, 480, params.LayoutLuma)
//
//	pipeline, err := afiyah.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	frame := afiyah.NewFrame(640, 480, params.LayoutLuma)
//	copy(frame.Data, pixels)
//
//	result, err := pipeline.Encode(ctx, frame, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	send(result.Data)
//
//	decoder, err := afiyah.NewDecoder(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	decoded, err := decoder.Decode(result.Data)
//
// The decoder must be configured with the same structural parameters
// (motion block size, transform size) as the encoder; everything the
// controller may move between frames travels in the per-frame header.
package afiyah
