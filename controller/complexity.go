package controller

import (
	"gonum.org/v1/gonum/stat"

	"github.com/chewxy/math32"

	"github.com/opd-ai/afiyah/motion"
	"github.com/opd-ai/afiyah/tensor"
)

// edgeThreshold is the Sobel gradient magnitude above which a pixel
// counts as an edge.
const edgeThreshold = 0.1

// Complexity summarizes one frame's content as six scalars. All values
// are non-negative; the first four and the last are at most 1, motion
// magnitude is normalized by the search radius upstream.
type Complexity struct {
	// Spatial is the mean local 3x3 variance.
	Spatial float32
	// Temporal is the mean absolute per-pixel difference to the
	// previous retinal frame.
	Temporal float32
	// EdgeDensity is the fraction of pixels over the Sobel threshold.
	EdgeDensity float32
	// Texture is the variance of the V1 complex-energy plane.
	Texture float32
	// MotionMagnitude is the mean normalized block displacement.
	MotionMagnitude float32
	// LuminanceVariance is the global variance of the frame.
	LuminanceVariance float32
}

// vector returns the features as a float64 slice for similarity math.
func (c Complexity) vector() []float64 {
	return []float64{
		float64(c.Spatial),
		float64(c.Temporal),
		float64(c.EdgeDensity),
		float64(c.Texture),
		float64(c.MotionMagnitude),
		float64(c.LuminanceVariance),
	}
}

// MeasureComplexity computes the six content features.
//
// Parameters:
//   - curr: current retinal luminance plane
//   - prev: previous retinal plane, nil at stream start
//   - energy: V1 complex-energy collapse plane
//   - field: motion field of the current frame
//   - searchRadius: motion search bound used to normalize displacement
func MeasureComplexity(curr, prev, energy *tensor.Map, field *motion.Field, searchRadius int) Complexity {
	var c Complexity
	c.Spatial = meanLocalVariance(curr)
	c.EdgeDensity = sobelDensity(curr)
	c.LuminanceVariance = float32(variance(curr.Data))
	c.Texture = float32(variance(energy.Data))

	if prev != nil {
		var sum float32
		for i := range curr.Data {
			sum += math32.Abs(curr.Data[i] - prev.Data[i])
		}
		c.Temporal = sum / float32(len(curr.Data))
	}

	if field != nil && len(field.Vectors) > 0 {
		norm := math32.Sqrt2 * float32(searchRadius)
		var sum float32
		for _, v := range field.Vectors {
			sum += math32.Hypot(v.FX, v.FY) / norm
		}
		c.MotionMagnitude = sum / float32(len(field.Vectors))
	}
	return c
}

// variance computes the population variance of a float32 slice in
// float64 precision.
func variance(data []float32) float64 {
	if len(data) < 2 {
		return 0
	}
	wide := make([]float64, len(data))
	for i, v := range data {
		wide[i] = float64(v)
	}
	return stat.Variance(wide, nil)
}

// meanLocalVariance averages the 3x3 neighborhood variance over every
// pixel, with reflective borders.
func meanLocalVariance(m *tensor.Map) float32 {
	var total float64
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			var sum, sumSq float32
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					v := m.AtReflect(x+dx, y+dy)
					sum += v
					sumSq += v * v
				}
			}
			mean := sum / 9
			total += float64(sumSq/9 - mean*mean)
		}
	}
	v := float32(total / float64(m.Width*m.Height))
	if v < 0 {
		return 0
	}
	return v
}

// sobelDensity counts the fraction of pixels whose Sobel gradient
// magnitude exceeds the edge threshold.
func sobelDensity(m *tensor.Map) float32 {
	edges := 0
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			gx := -m.AtReflect(x-1, y-1) + m.AtReflect(x+1, y-1) +
				-2*m.AtReflect(x-1, y) + 2*m.AtReflect(x+1, y) +
				-m.AtReflect(x-1, y+1) + m.AtReflect(x+1, y+1)
			gy := -m.AtReflect(x-1, y-1) - 2*m.AtReflect(x, y-1) - m.AtReflect(x+1, y-1) +
				m.AtReflect(x-1, y+1) + 2*m.AtReflect(x, y+1) + m.AtReflect(x+1, y+1)
			if math32.Hypot(gx, gy) > edgeThreshold {
				edges++
			}
		}
	}
	return float32(edges) / float32(m.Width*m.Height)
}
