package entropy

import (
	"fmt"
	"sort"

	"github.com/emirpasic/gods/v2/queues/priorityqueue"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/afiyah/kernels"
)

// TableVersion is the current pre-trained Huffman table version. The
// stream header carries the version; decoders rebuild the identical
// canonical code from it.
const TableVersion uint16 = 1

// Alphabet: keys 0x00..0xFF combine a zero run (high nibble, 0-15) with
// a level size class (low nibble, 0-15 bits of magnitude); key 0xF0 is
// the 16-zero extension and key 256 terminates a block.
const (
	zrlKey       = 0xF0
	eobKey       = 256
	alphabetSize = 257
)

type huffNode struct {
	freq  int
	order int
	key   int
	left  *huffNode
	right *huffNode
}

// compareNodes orders the build queue by frequency with insertion
// order as the tie-break, keeping the tree construction deterministic.
func compareNodes(a, b *huffNode) int {
	if a.freq != b.freq {
		return a.freq - b.freq
	}
	return a.order - b.order
}

// trainedFrequencies returns the version-1 symbol statistics: short
// runs and small magnitudes dominate quantized residual blocks, with
// frequency falling off geometrically in both run and size.
func trainedFrequencies() [alphabetSize]int {
	var freq [alphabetSize]int
	for run := 0; run < 16; run++ {
		for size := 0; size < 16; size++ {
			shift := 14 - run - 2*size
			if shift < 0 {
				shift = 0
			}
			freq[run<<4|size] = 1 + 1<<shift
		}
	}
	freq[zrlKey] = 1 << 8
	freq[eobKey] = 1 << 15
	return freq
}

// Table is a canonical Huffman code over run/size symbol keys. It
// implements kernels.SymbolCoder for the backend's entropy submission.
type Table struct {
	version uint16
	codes   [alphabetSize]uint32
	lengths [alphabetSize]uint8

	// Canonical decode index: symbols sorted by (length, key) with
	// per-length first code and first index.
	sorted     []int
	firstCode  []uint32
	firstIndex []int
	countByLen []int
	maxLen     int
}

// NewTable builds the canonical code for a table version.
//
// Returns an error for unknown versions; the caller maps that to the
// malformed-stream error kind on the decode path.
func NewTable(version uint16) (*Table, error) {
	if version != TableVersion {
		return nil, fmt.Errorf("unknown entropy table version %d", version)
	}

	t := &Table{version: version}
	t.build(trainedFrequencies())

	logrus.WithFields(logrus.Fields{
		"function":  "NewTable",
		"version":   version,
		"maxLength": t.maxLen,
	}).Debug("Built canonical Huffman table")
	return t, nil
}

// Version returns the table version the stream header should carry.
func (t *Table) Version() uint16 { return t.version }

// build derives code lengths from a Huffman tree over the frequencies
// and assigns canonical codes.
func (t *Table) build(freq [alphabetSize]int) {
	pq := priorityqueue.NewWith(compareNodes)
	order := 0
	for key, f := range freq {
		pq.Enqueue(&huffNode{freq: f, order: order, key: key})
		order++
	}
	for pq.Size() > 1 {
		a, _ := pq.Dequeue()
		b, _ := pq.Dequeue()
		pq.Enqueue(&huffNode{freq: a.freq + b.freq, order: order, key: -1, left: a, right: b})
		order++
	}
	root, _ := pq.Dequeue()
	t.walkLengths(root, 0)

	// Canonical assignment: sort by (length, key), then count upward.
	t.sorted = make([]int, 0, alphabetSize)
	for key := 0; key < alphabetSize; key++ {
		t.sorted = append(t.sorted, key)
	}
	sort.Slice(t.sorted, func(i, j int) bool {
		a, b := t.sorted[i], t.sorted[j]
		if t.lengths[a] != t.lengths[b] {
			return t.lengths[a] < t.lengths[b]
		}
		return a < b
	})

	t.maxLen = int(t.lengths[t.sorted[len(t.sorted)-1]])
	t.firstCode = make([]uint32, t.maxLen+2)
	t.firstIndex = make([]int, t.maxLen+2)
	t.countByLen = make([]int, t.maxLen+2)
	for _, key := range t.sorted {
		t.countByLen[t.lengths[key]]++
	}

	var code uint32
	idx := 0
	for length := 1; length <= t.maxLen; length++ {
		t.firstCode[length] = code
		t.firstIndex[length] = idx
		code += uint32(t.countByLen[length])
		idx += t.countByLen[length]
		code <<= 1
	}
	code = 0
	for _, key := range t.sorted {
		l := t.lengths[key]
		t.codes[key] = t.firstCode[l] + (code - uint32(t.firstIndex[l]))
		code++
	}
}

func (t *Table) walkLengths(n *huffNode, depth int) {
	if n.left == nil && n.right == nil {
		if depth == 0 {
			depth = 1
		}
		t.lengths[n.key] = uint8(depth)
		return
	}
	t.walkLengths(n.left, depth+1)
	t.walkLengths(n.right, depth+1)
}

// sizeClass returns the number of magnitude bits of a non-zero level.
func sizeClass(level int16) int {
	mag := int(level)
	if mag < 0 {
		mag = -mag
	}
	size := 0
	for mag > 0 {
		size++
		mag >>= 1
	}
	return size
}

// levelBits maps a level to its size-class raw bits: positive levels
// encode as-is, negative levels offset into the lower half so the
// decoder can tell the sign from the top bit.
func levelBits(level int16, size int) uint32 {
	if level > 0 {
		return uint32(level)
	}
	return uint32(int(level) + (1 << size) - 1)
}

func decodeLevel(bits uint32, size int) int16 {
	if bits < 1<<(size-1) {
		return int16(int(bits) - (1 << size) + 1)
	}
	return int16(bits)
}

// EncodeSymbols codes the symbol stream into bytes. Long zero runs are
// split into 16-zero extensions; each non-zero level follows its key
// as raw magnitude bits.
func (t *Table) EncodeSymbols(symbols []kernels.Symbol) ([]byte, error) {
	w := newBitWriter(len(symbols))
	for _, s := range symbols {
		if s.Run == kernels.EndOfBlockRun {
			t.emit(w, eobKey)
			continue
		}

		run := int(s.Run)
		for run >= 16 {
			t.emit(w, zrlKey)
			run -= 16
		}
		if s.Level == 0 {
			if run == 15 {
				// Key 0xF0 is the 16-zero extension; split a 15-run so
				// it cannot be mistaken for one.
				t.emit(w, 7<<4)
				run = 8
			}
			if run > 0 {
				t.emit(w, run<<4)
			}
			continue
		}

		size := sizeClass(s.Level)
		if size > 15 {
			return nil, fmt.Errorf("level %d exceeds the 15-bit size class", s.Level)
		}
		t.emit(w, run<<4|size)
		w.write(levelBits(s.Level, size), size)
	}
	return w.finish(), nil
}

func (t *Table) emit(w *bitWriter, key int) {
	w.write(t.codes[key], int(t.lengths[key]))
}

// Decode reads the byte stream back into block-major quantized levels
// for the given block count. Any structural violation (unknown code,
// block overflow, short stream) is an error.
func (t *Table) Decode(data []byte, blockSize, blocks int) ([]int16, error) {
	n := blockSize * blockSize
	order := ZigZagOrder(blockSize)
	levels := make([]int16, blocks*n)
	r := &bitReader{data: data}

	block := 0
	pos := 0
	for block < blocks {
		key, err := t.decodeKey(r)
		if err != nil {
			return nil, err
		}

		switch {
		case key == eobKey:
			block++
			pos = 0
		case key == zrlKey:
			pos += 16
			if pos > n {
				return nil, fmt.Errorf("zero extension overflows block %d", block)
			}
		default:
			run := key >> 4
			size := key & 0xF
			pos += run
			if size == 0 {
				if pos > n {
					return nil, fmt.Errorf("zero run overflows block %d", block)
				}
				continue
			}
			if pos >= n {
				return nil, fmt.Errorf("coefficient overflows block %d", block)
			}
			bits, err := r.read(size)
			if err != nil {
				return nil, err
			}
			levels[block*n+order[pos]] = decodeLevel(bits, size)
			pos++
		}
	}
	return levels, nil
}

// decodeKey walks the canonical code bit by bit.
func (t *Table) decodeKey(r *bitReader) (int, error) {
	var code uint32
	for length := 1; length <= t.maxLen; length++ {
		bit, err := r.bit()
		if err != nil {
			return 0, err
		}
		code = code<<1 | bit

		count := t.countByLen[length]
		if count == 0 {
			continue
		}
		first := t.firstCode[length]
		if code >= first && code < first+uint32(count) {
			return t.sorted[t.firstIndex[length]+int(code-first)], nil
		}
	}
	return 0, fmt.Errorf("invalid entropy code")
}

// --- bit I/O, MSB first ------------------------------------------------

type bitWriter struct {
	out []byte
	acc uint64
	n   int
}

func newBitWriter(hint int) *bitWriter {
	return &bitWriter{out: make([]byte, 0, hint)}
}

func (w *bitWriter) write(bits uint32, length int) {
	w.acc = w.acc<<length | uint64(bits)
	w.n += length
	for w.n >= 8 {
		w.n -= 8
		w.out = append(w.out, byte(w.acc>>w.n))
	}
}

// finish pads the final byte with zero bits. The decoder stops on
// block count, so pad bits are never interpreted.
func (w *bitWriter) finish() []byte {
	if w.n > 0 {
		w.out = append(w.out, byte(w.acc<<(8-w.n)))
		w.n = 0
	}
	return w.out
}

type bitReader struct {
	data []byte
	pos  int
}

func (r *bitReader) bit() (uint32, error) {
	byteIdx := r.pos >> 3
	if byteIdx >= len(r.data) {
		return 0, fmt.Errorf("entropy stream truncated at bit %d", r.pos)
	}
	bit := uint32(r.data[byteIdx]>>(7-uint(r.pos&7))) & 1
	r.pos++
	return bit, nil
}

func (r *bitReader) read(length int) (uint32, error) {
	var v uint32
	for i := 0; i < length; i++ {
		bit, err := r.bit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | bit
	}
	return v, nil
}
