// Package connreg tracks live connections by descriptor number.
//
// A Table is a fixed array of slots in anonymous shared memory, indexed by
// connection fd, that every worker of the server can read. A slot names the
// owning (pid, worker) pair and an opaque Tag. Tags are handed out by the
// owning worker's Arena and can only be turned back into a session by that
// same Arena; any other reader can compare them but never follow them.
//
// Only the worker that owns a connection writes its slot. Readers use atomic
// loads and retry-free validation: a slot whose tag changes during the read
// is reported as absent.
package connreg

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const slotBytes = 16

var (
	// ErrOutOfRange is returned for descriptors beyond the table size.
	ErrOutOfRange = errors.New("connreg: fd out of range")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("connreg: table closed")
)

// Owner identifies the worker responsible for a connection.
type Owner struct {
	PID    int32
	Worker int32
}

func (o Owner) pack() uint64 {
	return uint64(uint32(o.PID)) | uint64(uint32(o.Worker))<<32
}

func unpackOwner(w uint64) Owner {
	return Owner{PID: int32(uint32(w)), Worker: int32(uint32(w >> 32))}
}

// Tag is an opaque reference into an Arena. The zero Tag is never issued.
type Tag struct {
	index uint32
	gen   uint32
}

// IsZero reports whether t is the zero Tag.
func (t Tag) IsZero() bool { return t.gen == 0 }

func (t Tag) pack() uint64 {
	return uint64(t.index) | uint64(t.gen)<<32
}

func unpackTag(w uint64) Tag {
	return Tag{index: uint32(w), gen: uint32(w >> 32)}
}

// Entry is a snapshot of one table slot.
type Entry struct {
	Owner Owner
	tag   Tag
}

// Tag returns the slot's tag.
func (e Entry) Tag() Tag { return e.tag }

// Table is the shared connection table.
type Table struct {
	mem  []byte
	size int
}

// NewTable maps a table with room for descriptors [0, size).
func NewTable(size int) (*Table, error) {
	if size <= 0 {
		return nil, fmt.Errorf("connreg: invalid table size %d", size)
	}

	mem, err := unix.Mmap(-1, 0, size*slotBytes,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("connreg: mmap %d slots: %w", size, err)
	}
	return &Table{mem: mem, size: size}, nil
}

// Size is the number of slots.
func (t *Table) Size() int { return t.size }

func (t *Table) words(fd int) (owner, tag *uint64, err error) {
	if t.mem == nil {
		return nil, nil, ErrClosed
	}
	if fd < 0 || fd >= t.size {
		return nil, nil, fmt.Errorf("%w: %d (size %d)", ErrOutOfRange, fd, t.size)
	}
	off := fd * slotBytes
	owner = (*uint64)(unsafe.Pointer(&t.mem[off]))
	tag = (*uint64)(unsafe.Pointer(&t.mem[off+8]))
	return owner, tag, nil
}

// Publish records that fd belongs to owner under tag.
func (t *Table) Publish(fd int, owner Owner, tag Tag) error {
	if tag.IsZero() {
		return errors.New("connreg: publish with zero tag")
	}
	ow, tw, err := t.words(fd)
	if err != nil {
		return err
	}
	atomic.StoreUint64(tw, 0)
	atomic.StoreUint64(ow, owner.pack())
	atomic.StoreUint64(tw, tag.pack())
	return nil
}

// Clear empties the slot for fd if it still carries tag. It reports whether
// the slot was cleared.
func (t *Table) Clear(fd int, tag Tag) bool {
	_, tw, err := t.words(fd)
	if err != nil {
		return false
	}
	return atomic.CompareAndSwapUint64(tw, tag.pack(), 0)
}

// Lookup returns the entry published for fd.
func (t *Table) Lookup(fd int) (Entry, bool) {
	ow, tw, err := t.words(fd)
	if err != nil {
		return Entry{}, false
	}

	before := atomic.LoadUint64(tw)
	if before == 0 {
		return Entry{}, false
	}
	owner := atomic.LoadUint64(ow)
	if atomic.LoadUint64(tw) != before {
		return Entry{}, false
	}
	return Entry{Owner: unpackOwner(owner), tag: unpackTag(before)}, true
}

// Close unmaps the table.
func (t *Table) Close() error {
	if t.mem == nil {
		return nil
	}
	err := unix.Munmap(t.mem)
	t.mem = nil
	return err
}
