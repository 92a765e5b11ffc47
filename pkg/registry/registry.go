// Package registry maps command identifiers to handlers.
//
// Handlers are registered for inclusive ranges [Min, Max]. Entries are kept
// in a left-leaning red-black tree keyed by Min. Lookup walks from the root
// and returns the first node whose range contains the command; otherwise it
// descends by comparing the command with the node's Min.
//
// Only an exact Min collision is rejected at registration. A range that
// overlaps an existing one with a different Min is accepted, and a command
// inside both may resolve to either handler depending on tree shape.
//
// The table is populated during process init and is read-only afterwards, so
// it carries no locking.
package registry

import (
	"errors"
	"fmt"

	"github.com/marmos91/tcpcmd/pkg/command"
)

var (
	// ErrDuplicateKey is returned when a range with the same Min exists.
	ErrDuplicateKey = errors.New("registry: duplicate command range")

	// ErrInvalidRange is returned for Min > Max or a nil handler.
	ErrInvalidRange = errors.New("registry: invalid command range")
)

// Range is a registered command range.
type Range struct {
	Min uint32 `json:"min"`
	Max uint32 `json:"max"`
}

// Contains reports whether cmd is in [Min, Max].
func (r Range) Contains(cmd uint32) bool {
	return cmd >= r.Min && cmd <= r.Max
}

func (r Range) String() string {
	if r.Min == r.Max {
		return fmt.Sprintf("%d", r.Min)
	}
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

type node struct {
	rng         Range
	handler     command.Handler
	left, right *node
	red         bool
}

// Registry is the command table.
type Registry struct {
	root *node
	size int
}

var _ command.Registrar = (*Registry)(nil)

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register adds h for [cmdMin, cmdMax].
func (r *Registry) Register(cmdMin, cmdMax uint32, h command.Handler) error {
	if cmdMin > cmdMax || h == nil {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, cmdMin, cmdMax)
	}

	for n := r.root; n != nil; {
		switch {
		case cmdMin < n.rng.Min:
			n = n.left
		case cmdMin > n.rng.Min:
			n = n.right
		default:
			return fmt.Errorf("%w: %d already registered as %s", ErrDuplicateKey, cmdMin, n.rng)
		}
	}

	r.root = insert(r.root, &node{rng: Range{Min: cmdMin, Max: cmdMax}, handler: h, red: true})
	r.root.red = false
	r.size++
	return nil
}

// Lookup returns the handler whose range contains cmd.
func (r *Registry) Lookup(cmd uint32) (command.Handler, bool) {
	n := r.root
	for n != nil {
		if n.rng.Contains(cmd) {
			return n.handler, true
		}
		if cmd < n.rng.Min {
			n = n.left
		} else {
			n = n.right
		}
	}
	return nil, false
}

// Len returns the number of registered ranges.
func (r *Registry) Len() int {
	return r.size
}

// Ranges lists registered ranges ordered by Min.
func (r *Registry) Ranges() []Range {
	out := make([]Range, 0, r.size)
	var walk func(*node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		walk(n.left)
		out = append(out, n.rng)
		walk(n.right)
	}
	walk(r.root)
	return out
}

func insert(h, n *node) *node {
	if h == nil {
		return n
	}

	if n.rng.Min < h.rng.Min {
		h.left = insert(h.left, n)
	} else {
		h.right = insert(h.right, n)
	}

	if isRed(h.right) && !isRed(h.left) {
		h = rotateLeft(h)
	}
	if isRed(h.left) && isRed(h.left.left) {
		h = rotateRight(h)
	}
	if isRed(h.left) && isRed(h.right) {
		flipColors(h)
	}
	return h
}

func isRed(n *node) bool {
	return n != nil && n.red
}

func rotateLeft(h *node) *node {
	x := h.right
	h.right = x.left
	x.left = h
	x.red = h.red
	h.red = true
	return x
}

func rotateRight(h *node) *node {
	x := h.left
	h.left = x.right
	x.right = h
	x.red = h.red
	h.red = true
	return x
}

func flipColors(h *node) {
	h.red = !h.red
	h.left.red = !h.left.red
	h.right.red = !h.right.red
}
