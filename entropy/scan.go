package entropy

import (
	"fmt"

	"github.com/opd-ai/afiyah/kernels"
)

// maxRawRun is the largest zero run a single symbol may carry; longer
// runs are split with zero-level escape symbols. The value stays below
// kernels.EndOfBlockRun, which marks block termination.
const maxRawRun = 254

// ZigZagOrder returns the diagonal scan order for an n×n block: the
// i-th entry is the row-major index visited i-th. Low-frequency
// coefficients come first, so trailing zero runs absorb the
// high-frequency tail.
func ZigZagOrder(n int) []int {
	order := make([]int, 0, n*n)
	for d := 0; d < 2*n-1; d++ {
		if d%2 == 0 {
			// Walk the diagonal upward.
			y := d
			if y > n-1 {
				y = n - 1
			}
			x := d - y
			for y >= 0 && x < n {
				order = append(order, y*n+x)
				y--
				x++
			}
		} else {
			x := d
			if x > n-1 {
				x = n - 1
			}
			y := d - x
			for x >= 0 && y < n {
				order = append(order, y*n+x)
				x--
				y++
			}
		}
	}
	return order
}

// RunLength converts block-major quantized levels into the symbol
// stream: per block, zigzag scan, one symbol per non-zero level
// carrying the preceding zero run, and an end-of-block marker that
// absorbs the trailing zeros.
func RunLength(levels []int16, blockSize int) []kernels.Symbol {
	n := blockSize * blockSize
	blocks := len(levels) / n
	order := ZigZagOrder(blockSize)

	symbols := make([]kernels.Symbol, 0, len(levels)/4+blocks)
	for b := 0; b < blocks; b++ {
		base := b * n
		run := 0
		for _, idx := range order {
			v := levels[base+idx]
			if v == 0 {
				run++
				continue
			}
			for run > maxRawRun {
				symbols = append(symbols, kernels.Symbol{Run: maxRawRun})
				run -= maxRawRun
			}
			symbols = append(symbols, kernels.Symbol{Run: uint8(run), Level: v})
			run = 0
		}
		symbols = append(symbols, kernels.Symbol{Run: kernels.EndOfBlockRun})
	}
	return symbols
}

// ExpandRunLength rebuilds block-major levels from the symbol stream.
// Returns an error when a block overflows or the stream ends before
// every block is terminated.
func ExpandRunLength(symbols []kernels.Symbol, blockSize, blocks int) ([]int16, error) {
	n := blockSize * blockSize
	order := ZigZagOrder(blockSize)
	levels := make([]int16, blocks*n)

	block := 0
	pos := 0
	for _, s := range symbols {
		if block >= blocks {
			return nil, fmt.Errorf("symbol stream continues past block %d", blocks)
		}
		if s.Run == kernels.EndOfBlockRun {
			block++
			pos = 0
			continue
		}
		pos += int(s.Run)
		if s.Level == 0 {
			// Zero-level escape: only the run advances.
			if pos > n {
				return nil, fmt.Errorf("zero run overflows block %d", block)
			}
			continue
		}
		if pos >= n {
			return nil, fmt.Errorf("coefficient overflows block %d", block)
		}
		levels[block*n+order[pos]] = s.Level
		pos++
	}
	if block != blocks {
		return nil, fmt.Errorf("symbol stream terminates %d of %d blocks", block, blocks)
	}
	return levels, nil
}

// Truncate zeroes every coefficient at zigzag position keep or later in
// each block, dropping the highest frequencies first. Rate capping
// calls this with shrinking keep until the stream fits.
func Truncate(levels []int16, blockSize, keep int) {
	n := blockSize * blockSize
	if keep >= n {
		return
	}
	if keep < 0 {
		keep = 0
	}
	order := ZigZagOrder(blockSize)
	blocks := len(levels) / n

	for b := 0; b < blocks; b++ {
		base := b * n
		for i := keep; i < n; i++ {
			levels[base+order[i]] = 0
		}
	}
}
