package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapAccessors(t *testing.T) {
	m := NewMap(4, 3)
	require.Len(t, m.Data, 12)

	m.Set(2, 1, 0.5)
	assert.Equal(t, float32(0.5), m.At(2, 1))
	assert.Equal(t, float32(0), m.At(0, 0))

	g := m.Geometry()
	assert.Equal(t, 4, g.Width)
	assert.Equal(t, 3, g.Height)
	assert.Equal(t, 1, g.Channels)
}

func TestMapValidate(t *testing.T) {
	tests := []struct {
		name    string
		want    Geometry
		wantErr bool
	}{
		{"matching shape", Geometry{Width: 4, Height: 3, Channels: 1}, false},
		{"wrong width", Geometry{Width: 5, Height: 3, Channels: 1}, true},
		{"wrong height", Geometry{Width: 4, Height: 2, Channels: 1}, true},
	}

	m := NewMap(4, 3)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Validate(tt.want)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMapClamp01(t *testing.T) {
	m := NewMap(2, 2)
	m.Data = []float32{-0.5, 0.25, 1.5, 1.0}
	m.Clamp01()
	assert.Equal(t, []float32{0, 0.25, 1, 1}, m.Data)
}

func TestMapMaxAndSum(t *testing.T) {
	m := NewMap(2, 2)
	m.Data = []float32{0.1, 0.4, 0.2, 0.3}
	assert.Equal(t, float32(0.4), m.Max())
	assert.InDelta(t, 1.0, m.Sum(), 1e-6)
}

func TestReflectIndex(t *testing.T) {
	tests := []struct {
		name string
		i, n int
		want int
	}{
		{"in range", 3, 8, 3},
		{"just below zero", -1, 8, 0},
		{"two below zero", -2, 8, 1},
		{"at n", 8, 8, 7},
		{"one past n", 9, 8, 6},
		{"single element", -5, 1, 0},
		{"deep negative", -9, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReflectIndex(tt.i, tt.n)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.Less(t, got, tt.n)
		})
	}
}

func TestMapAtReflect(t *testing.T) {
	m := NewMap(3, 2)
	m.Data = []float32{1, 2, 3, 4, 5, 6}

	assert.Equal(t, float32(1), m.AtReflect(-1, 0))
	assert.Equal(t, float32(3), m.AtReflect(3, 0))
	assert.Equal(t, float32(4), m.AtReflect(0, 2))
}

func TestVolumeChannelExtraction(t *testing.T) {
	v := NewVolume(2, 2, 3)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			for c := 0; c < 3; c++ {
				v.Set(x, y, c, float32(c)+0.1*float32(y*2+x))
			}
		}
	}

	dst := NewMap(2, 2)
	require.NoError(t, v.CopyChannel(dst, 1))
	assert.InDelta(t, 1.0, float64(dst.At(0, 0)), 1e-6)
	assert.InDelta(t, 1.3, float64(dst.At(1, 1)), 1e-6)

	wrong := NewMap(3, 2)
	assert.Error(t, v.CopyChannel(wrong, 0))
	assert.Error(t, v.CopyChannel(dst, 5))
}

func TestBankPlanes(t *testing.T) {
	b := NewBank(8, 4, 16, 16)
	g := b.Geometry()
	assert.Equal(t, 8, g.Channels)
	assert.Equal(t, 4, g.Scale)

	b.Plane(7, 3).Set(1, 1, 0.9)
	assert.Equal(t, float32(0.9), b.Plane(7, 3).At(1, 1))
	assert.Equal(t, float32(0), b.Plane(0, 0).At(1, 1))

	b.Zero()
	assert.Equal(t, float32(0), b.Plane(7, 3).At(1, 1))
}

func TestPoolRecyclesByShape(t *testing.T) {
	p := NewPool()

	m1 := p.GetMap(8, 8)
	m1.Fill(0.7)
	p.PutMap(m1)

	m2 := p.GetMap(8, 8)
	assert.Same(t, m1, m2, "same-shape checkout should reuse the buffer")
	assert.Equal(t, float32(0), m2.At(3, 3), "recycled buffer must be zeroed")

	m3 := p.GetMap(4, 4)
	assert.NotSame(t, m1, m3)

	hits, misses := p.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(2), misses)
}

func TestPoolDrain(t *testing.T) {
	p := NewPool()
	m := p.GetMap(8, 8)
	p.PutMap(m)
	p.Drain()

	m2 := p.GetMap(8, 8)
	assert.NotSame(t, m, m2, "drained pool must allocate fresh buffers")
}

func TestVolumeCloneIsDeep(t *testing.T) {
	v := NewVolume(2, 2, 2)
	v.Set(0, 0, 0, 0.5)

	clone := v.Clone()
	clone.Set(0, 0, 0, 0.9)
	assert.Equal(t, float32(0.5), v.At(0, 0, 0))
}
