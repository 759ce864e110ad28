package tensor

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Pool recycles tensors across frames when their shape is stable.
//
// The pool is per-pipeline-instance and guarded by a single mutex;
// checkout and checkin are O(1). Buffers handed out by the pool are
// always zero-filled so stages can accumulate into them directly.
type Pool struct {
	mu      sync.Mutex
	maps    map[Geometry][]*Map
	volumes map[Geometry][]*Volume

	hits   uint64
	misses uint64
}

// NewPool creates an empty tensor pool.
func NewPool() *Pool {
	return &Pool{
		maps:    make(map[Geometry][]*Map),
		volumes: make(map[Geometry][]*Volume),
	}
}

// GetMap checks out a zero-filled W×H map, reusing a recycled buffer
// when one of the same shape is available.
func (p *Pool) GetMap(width, height int) *Map {
	key := Geometry{Width: width, Height: height, Channels: 1}

	p.mu.Lock()
	if free := p.maps[key]; len(free) > 0 {
		m := free[len(free)-1]
		p.maps[key] = free[:len(free)-1]
		p.hits++
		p.mu.Unlock()
		m.Zero()
		return m
	}
	p.misses++
	p.mu.Unlock()

	return NewMap(width, height)
}

// PutMap returns a map to the pool for reuse. Nil maps are ignored.
func (p *Pool) PutMap(m *Map) {
	if m == nil {
		return
	}
	key := m.Geometry()

	p.mu.Lock()
	p.maps[key] = append(p.maps[key], m)
	p.mu.Unlock()
}

// GetVolume checks out a zero-filled W×H×C volume.
func (p *Pool) GetVolume(width, height, channels int) *Volume {
	key := Geometry{Width: width, Height: height, Channels: channels}

	p.mu.Lock()
	if free := p.volumes[key]; len(free) > 0 {
		v := free[len(free)-1]
		p.volumes[key] = free[:len(free)-1]
		p.hits++
		p.mu.Unlock()
		for i := range v.Data {
			v.Data[i] = 0
		}
		return v
	}
	p.misses++
	p.mu.Unlock()

	return NewVolume(width, height, channels)
}

// PutVolume returns a volume to the pool for reuse. Nil volumes are
// ignored.
func (p *Pool) PutVolume(v *Volume) {
	if v == nil {
		return
	}
	key := v.Geometry()

	p.mu.Lock()
	p.volumes[key] = append(p.volumes[key], v)
	p.mu.Unlock()
}

// Stats returns the cumulative checkout hit and miss counts.
func (p *Pool) Stats() (hits, misses uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.hits, p.misses
}

// Drain discards all recycled buffers, releasing their memory to the
// garbage collector. Used on stream reset and geometry changes.
func (p *Pool) Drain() {
	p.mu.Lock()
	dropped := 0
	for k, free := range p.maps {
		dropped += len(free)
		delete(p.maps, k)
	}
	for k, free := range p.volumes {
		dropped += len(free)
		delete(p.volumes, k)
	}
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Drain",
		"dropped":  dropped,
	}).Debug("Tensor pool drained")
}
