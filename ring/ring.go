// Package ring defines the fixed cyclic ordering the token travels along.
package ring

import (
	"errors"
	"fmt"
)

// ErrInvalidTopology is returned when a ring cannot be built from the given
// size or initial holder.
var ErrInvalidTopology = errors.New("invalid topology")

// ID identifies a process in the ring. Valid ids are 0..Size()-1.
type ID int

// Ring is the immutable successor relation 0 -> 1 -> ... -> n-1 -> 0.
// It is safe to share between goroutines.
type Ring struct {
	size   int
	holder ID
}

// NewRing builds a ring of n processes where initialHolder starts with the token.
func NewRing(n int, initialHolder ID) (*Ring, error) {
	if n < 1 {
		return nil, fmt.Errorf("ring.NewRing: %w: size %d, need at least 1 process", ErrInvalidTopology, n)
	}
	if initialHolder < 0 || int(initialHolder) >= n {
		return nil, fmt.Errorf("ring.NewRing: %w: initial holder %d out of range [0, %d)", ErrInvalidTopology, initialHolder, n)
	}
	return &Ring{size: n, holder: initialHolder}, nil
}

func (r *Ring) Size() int { return r.size }

func (r *Ring) InitialHolder() ID { return r.holder }

// Contains reports whether id is a member of the ring.
func (r *Ring) Contains(id ID) bool {
	return id >= 0 && int(id) < r.size
}

// Successor returns the process the token goes to after id. It panics if id is
// not a member, since that can only come from a programming error.
func (r *Ring) Successor(id ID) ID {
	if !r.Contains(id) {
		panic(fmt.Sprintf("ring.Successor: id %d not in ring of size %d", id, r.size))
	}
	return ID((int(id) + 1) % r.size)
}

// IDs returns every member in ring order starting at 0.
func (r *Ring) IDs() []ID {
	ids := make([]ID, r.size)
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}

// Distance is the number of forwards the token needs to go from one process to another.
func (r *Ring) Distance(from, to ID) int {
	return ((int(to)-int(from))%r.size + r.size) % r.size
}
