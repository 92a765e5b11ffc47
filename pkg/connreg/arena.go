package connreg

import "sync"

// Arena owns the values behind a worker's tags.
type Arena[T any] struct {
	owner Owner

	mu    sync.RWMutex
	slots []arenaSlot[T]
	free  []uint32
	live  int
}

type arenaSlot[T any] struct {
	gen  uint32
	used bool
	val  T
}

// NewArena returns an empty arena for owner.
func NewArena[T any](owner Owner) *Arena[T] {
	return &Arena[T]{owner: owner}
}

// Owner is the (pid, worker) pair the arena resolves for.
func (a *Arena[T]) Owner() Owner { return a.owner }

// Insert stores v and returns its tag.
func (a *Arena[T]) Insert(v T) Tag {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot[T]{})
	}

	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.used = true
	s.val = v
	a.live++
	return Tag{index: idx, gen: s.gen}
}

// Remove releases tag. Stale tags are ignored.
func (a *Arena[T]) Remove(tag Tag) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.slot(tag)
	if s == nil {
		return false
	}
	var zero T
	s.used = false
	s.val = zero
	a.free = append(a.free, tag.index)
	a.live--
	return true
}

// Get returns the value for a tag issued by this arena.
func (a *Arena[T]) Get(tag Tag) (T, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if s := a.slot(tag); s != nil {
		return s.val, true
	}
	var zero T
	return zero, false
}

// Resolve follows a table entry. It fails for entries owned by any other
// process or worker, and for tags whose value has since been removed.
func (a *Arena[T]) Resolve(e Entry) (T, bool) {
	if e.Owner != a.owner {
		var zero T
		return zero, false
	}
	return a.Get(e.tag)
}

// Len is the number of live values.
func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live
}

// Each calls fn for every live value until fn returns false.
func (a *Arena[T]) Each(fn func(T) bool) {
	a.mu.RLock()
	vals := make([]T, 0, a.live)
	for i := range a.slots {
		if a.slots[i].used {
			vals = append(vals, a.slots[i].val)
		}
	}
	a.mu.RUnlock()

	for _, v := range vals {
		if !fn(v) {
			return
		}
	}
}

func (a *Arena[T]) slot(tag Tag) *arenaSlot[T] {
	if tag.IsZero() || int(tag.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[tag.index]
	if !s.used || s.gen != tag.gen {
		return nil
	}
	return s
}
