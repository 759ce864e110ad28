package tensor

// ReflectIndex maps an out-of-range coordinate back into [0, n) by
// mirroring at the borders. In-range coordinates pass through unchanged.
//
// The mirror includes the edge sample (symmetric reflection): -1 maps to
// 0, -2 to 1, n to n-1, n+1 to n-2. This is the border policy used for
// every spatial neighborhood in the pipeline.
func ReflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
