package afiyah

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/opd-ai/afiyah/controller"
	"github.com/opd-ai/afiyah/tensor"
)

// psnrCap bounds the reported PSNR when the reconstruction is exact.
const psnrCap = 99.0

// StageTimings breaks the frame latency down by stage group.
type StageTimings struct {
	Retina    time.Duration
	Cortex    time.Duration
	Motion    time.Duration
	Attention time.Duration
	Transform time.Duration
	Entropy   time.Duration
}

// Telemetry is the per-frame record emitted with every successful
// encode.
//
// PSNR and SSIM are self-consistency metrics: they compare the coded
// plane against its own reconstruction, not against ground truth.
type Telemetry struct {
	StreamID   uuid.UUID
	FrameIndex uint32
	Latency    time.Duration
	Bytes      int

	PSNR float64
	SSIM float64

	Mode       controller.Mode
	Complexity controller.Complexity
	Timings    StageTimings
}

// psnr computes the peak signal-to-noise ratio between two planes with
// unit peak, capped for exact reconstructions.
func psnr(a, b *tensor.Map) float64 {
	var mse float64
	for i := range a.Data {
		d := float64(a.Data[i] - b.Data[i])
		mse += d * d
	}
	mse /= float64(len(a.Data))
	if mse == 0 {
		return psnrCap
	}
	v := -10 * math.Log10(mse)
	if v > psnrCap {
		return psnrCap
	}
	return v
}

// ssim computes the global structural similarity of two unit-range
// planes. No windowing; the pipeline uses it as a single scalar quality
// estimate, not a quality map.
func ssim(a, b *tensor.Map) float64 {
	const (
		c1 = 0.01 * 0.01
		c2 = 0.03 * 0.03
	)

	if len(a.Data) < 2 {
		return 1
	}
	wa := widen(a.Data)
	wb := widen(b.Data)

	meanA, varA := stat.MeanVariance(wa, nil)
	meanB, varB := stat.MeanVariance(wb, nil)
	cov := stat.Covariance(wa, wb, nil)

	num := (2*meanA*meanB + c1) * (2*cov + c2)
	den := (meanA*meanA + meanB*meanB + c1) * (varA + varB + c2)
	return num / den
}

func widen(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}
