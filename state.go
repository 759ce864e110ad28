package afiyah

import (
	"github.com/opd-ai/afiyah/retina"
	"github.com/opd-ai/afiyah/tensor"
)

// pipelineState is the cross-frame state one pipeline instance owns.
//
// A frame in flight mutates a clone; the pipeline swaps the clone in
// only at commit, so any stage failure leaves the committed state
// untouched.
type pipelineState struct {
	// Retina holds the photoreceptor adaptation state.
	Retina *retina.State
	// PrevLuma is the cortical input plane of the last committed frame,
	// the motion-estimation reference. Nil at stream start.
	PrevLuma *tensor.Map
	// PrevRecon is the reconstructed coded plane of the last committed
	// frame, the motion-compensation reference. Nil at stream start.
	PrevRecon *tensor.Map
	// FrameIndex counts committed frames since stream start.
	FrameIndex uint32
}

func newPipelineState(frontend *retina.Frontend) *pipelineState {
	return &pipelineState{Retina: frontend.NewState()}
}

// clone deep-copies the state for the frame in flight.
func (s *pipelineState) clone() *pipelineState {
	out := &pipelineState{
		Retina:     s.Retina.Clone(),
		FrameIndex: s.FrameIndex,
	}
	if s.PrevLuma != nil {
		out.PrevLuma = s.PrevLuma.Clone()
	}
	if s.PrevRecon != nil {
		out.PrevRecon = s.PrevRecon.Clone()
	}
	return out
}
