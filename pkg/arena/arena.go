// Package arena owns the voxel buffers that bricks borrow from.
//
// Buffers are addressed by generation-counted handles instead of pointers.
// A brick view retains the buffer it reads from; the arena refuses to free a
// buffer while any view still retains it, and a freed slot bumps its
// generation so a stale handle can never reach a reused buffer.
//
// The arena is not safe for concurrent use; callers own one arena per volume
// and drive it from the render loop.
package arena

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleHandle is returned for a handle whose buffer was freed.
	ErrStaleHandle = errors.New("arena: stale buffer handle")

	// ErrBufferInUse is returned when freeing a buffer still retained by a view.
	ErrBufferInUse = errors.New("arena: buffer still referenced")
)

// Handle identifies one buffer in an Arena. The zero Handle is never valid.
type Handle struct {
	Slot uint32
	Gen  uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h.Gen == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("buf#%d.%d", h.Slot, h.Gen)
}

type slot struct {
	data []byte
	gen  uint32
	refs int
	live bool
}

// Stats reports arena usage.
type Stats struct {
	Buffers int
	Bytes   int
	Refs    int
}

// Arena is a table of owned byte buffers.
type Arena struct {
	slots []slot
	free  []uint32
}

// New returns an empty arena.
func New() *Arena {
	return &Arena{}
}

// Alloc allocates a zeroed buffer of n bytes.
func (a *Arena) Alloc(n int) Handle {
	return a.Adopt(make([]byte, n))
}

// Adopt takes ownership of buf. The caller must not keep using buf directly.
func (a *Arena) Adopt(buf []byte) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.gen++
	s.data = buf
	s.refs = 0
	s.live = true
	return Handle{Slot: idx, Gen: s.gen}
}

func (a *Arena) lookup(h Handle) (*slot, error) {
	if h.IsZero() || int(h.Slot) >= len(a.slots) {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	s := &a.slots[h.Slot]
	if !s.live || s.gen != h.Gen {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	return s, nil
}

// Bytes returns the buffer behind h.
func (a *Arena) Bytes(h Handle) ([]byte, error) {
	s, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	return s.data, nil
}

// Valid reports whether h still names a live buffer.
func (a *Arena) Valid(h Handle) bool {
	_, err := a.lookup(h)
	return err == nil
}

// Retain records one more view borrowing h.
func (a *Arena) Retain(h Handle) error {
	s, err := a.lookup(h)
	if err != nil {
		return err
	}
	s.refs++
	return nil
}

// Release drops one view borrowing h.
func (a *Arena) Release(h Handle) error {
	s, err := a.lookup(h)
	if err != nil {
		return err
	}
	if s.refs == 0 {
		return fmt.Errorf("arena: release of unretained buffer %s", h)
	}
	s.refs--
	return nil
}

// Refs returns the number of views currently borrowing h.
func (a *Arena) Refs(h Handle) int {
	s, err := a.lookup(h)
	if err != nil {
		return 0
	}
	return s.refs
}

// Free releases the buffer. It fails while any view retains it.
func (a *Arena) Free(h Handle) error {
	s, err := a.lookup(h)
	if err != nil {
		return err
	}
	if s.refs > 0 {
		return fmt.Errorf("%w: %s has %d views", ErrBufferInUse, h, s.refs)
	}
	s.data = nil
	s.live = false
	a.free = append(a.free, h.Slot)
	return nil
}

// Stats returns the current usage.
func (a *Arena) Stats() Stats {
	var st Stats
	for i := range a.slots {
		s := &a.slots[i]
		if !s.live {
			continue
		}
		st.Buffers++
		st.Bytes += len(s.data)
		st.Refs += s.refs
	}
	return st
}

// Live returns the number of live buffers.
func (a *Arena) Live() int {
	return len(a.slots) - len(a.free)
}
