// Package bufpool keeps reusable packet body buffers.
//
// Packet bodies are read into buffers drawn from three size classes so that
// a steady stream of keepalives and small transfers does not allocate per
// packet. Bodies above the largest class (up to the 4 MiB packet ceiling) are
// allocated directly and dropped on Put.
//
//	body := bufpool.Get(n)
//	defer bufpool.Put(body)
package bufpool

import "sync"

// Size classes.
const (
	SmallSize  = 512
	MediumSize = 64 << 10
	LargeSize  = 1 << 20
)

// Pool hands out byte slices from fixed size classes.
type Pool struct {
	classes [3]class
}

type class struct {
	size int
	pool sync.Pool
}

// NewPool returns a pool with the given class sizes. Non-positive sizes fall
// back to the package defaults; sizes must be increasing.
func NewPool(small, medium, large int) *Pool {
	if small <= 0 {
		small = SmallSize
	}
	if medium <= small {
		medium = MediumSize
	}
	if large <= medium {
		large = LargeSize
	}

	p := &Pool{}
	for i, size := range [3]int{small, medium, large} {
		size := size // per-iteration copy for go 1.21 loop semantics
		c := &p.classes[i]
		c.size = size
		c.pool.New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

// Get returns a slice of length n. Its capacity is the class size, or n when
// n exceeds the largest class.
func (p *Pool) Get(n int) []byte {
	for i := range p.classes {
		c := &p.classes[i]
		if n <= c.size {
			buf := *(c.pool.Get().(*[]byte))
			return buf[:n]
		}
	}
	return make([]byte, n)
}

// Put recycles buf if its capacity matches a class. Anything else is left to
// the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	for i := range p.classes {
		c := &p.classes[i]
		if cap(buf) == c.size {
			full := buf[:c.size]
			c.pool.Put(&full)
			return
		}
	}
}

var global = NewPool(SmallSize, MediumSize, LargeSize)

// Get draws from the process-wide pool.
func Get(n int) []byte { return global.Get(n) }

// Put returns buf to the process-wide pool.
func Put(buf []byte) { global.Put(buf) }
