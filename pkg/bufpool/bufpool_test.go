package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSizeClasses(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		wantCap int
	}{
		{"Empty", 0, SmallSize},
		{"KeepaliveBody", 0, SmallSize},
		{"SmallTransfer", 100, SmallSize},
		{"SmallBoundary", SmallSize, SmallSize},
		{"Medium", SmallSize + 1, MediumSize},
		{"MediumBoundary", MediumSize, MediumSize},
		{"Large", MediumSize + 1, LargeSize},
		{"DefaultMaxPacket", LargeSize, LargeSize},
		{"Oversized", 2 << 20, 2 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Get(tt.n)
			defer Put(buf)

			assert.Len(t, buf, tt.n)
			assert.Equal(t, tt.wantCap, cap(buf))
		})
	}
}

func TestPutReuse(t *testing.T) {
	p := NewPool(64, 128, 256)

	buf := p.Get(10)
	require.Equal(t, 64, cap(buf))
	buf[0] = 0xAB
	p.Put(buf)

	again := p.Get(64)
	assert.Len(t, again, 64)
	assert.Equal(t, 64, cap(again))
}

func TestPutIgnoresForeignBuffers(t *testing.T) {
	p := NewPool(64, 128, 256)

	assert.NotPanics(t, func() {
		p.Put(nil)
		p.Put(make([]byte, 10))
		p.Put(make([]byte, 1000))
	})
}

func TestNewPoolDefaults(t *testing.T) {
	p := NewPool(0, 0, 0)

	assert.Equal(t, SmallSize, cap(p.Get(1)))
	assert.Equal(t, MediumSize, cap(p.Get(SmallSize+1)))
	assert.Equal(t, LargeSize, cap(p.Get(MediumSize+1)))
}

func TestConcurrentGetPut(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				n := (i*j)%(MediumSize*2) + 1
				buf := Get(n)
				buf[n-1] = byte(j)
				Put(buf)
			}
		}(i)
	}
	wg.Wait()
}

func BenchmarkGetPut(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := Get(4096)
		Put(buf)
	}
}
