// Package maskhist keeps a bounded, linear undo/redo history of full-volume
// mask snapshots.
//
// The history owns every snapshot buffer. Exactly one snapshot, the one at
// the current pointer, is shared: the volume's active mask view aliases it
// through a Binder. Only the current snapshot may be written to.
package maskhist

import (
	"fmt"

	"volbrick/internal/models"
	"volbrick/pkg/logging"
)

// Snapshot is one historical mask state.
type Snapshot struct {
	// Seq is the creation order, unique within a History
	Seq uint64

	// Data holds one byte per voxel
	Data []byte
}

// Binder is told which snapshot is current after every pointer change. A
// nil snapshot means the history is empty.
type Binder interface {
	BindMask(s *Snapshot)
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(s *Snapshot)

// BindMask implements Binder.
func (f BinderFunc) BindMask(s *Snapshot) { f(s) }

// History is the snapshot deque plus the current pointer.
type History struct {
	res      models.Resolution
	maxDepth int
	snaps    []*Snapshot
	cur      int
	seq      uint64
	binder   Binder
	log      *logging.Logger
}

// New returns an empty history for masks of resolution res. A maxDepth of
// 0 disables the history.
func New(res models.Resolution, maxDepth int, binder Binder, log *logging.Logger) *History {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &History{
		res:      res,
		maxDepth: maxDepth,
		cur:      -1,
		binder:   binder,
		log:      logging.OrNop(log).WithComponent("maskhist"),
	}
}

// Enabled reports whether the history accepts snapshots.
func (h *History) Enabled() bool { return h.maxDepth > 0 }

// MaxDepth returns the configured depth.
func (h *History) MaxDepth() int { return h.maxDepth }

// SetMaxDepth changes the depth and trims the history to it. Setting 0
// clears and disables the history.
func (h *History) SetMaxDepth(n int) {
	if n < 0 {
		n = 0
	}
	h.maxDepth = n
	if n == 0 {
		h.Clear()
		return
	}
	h.trim()
}

// Len returns the number of snapshots.
func (h *History) Len() int { return len(h.snaps) }

// Pointer returns the current index, -1 when empty.
func (h *History) Pointer() int { return h.cur }

// Current returns the snapshot the active mask view aliases, or nil.
func (h *History) Current() *Snapshot {
	if h.cur < 0 {
		return nil
	}
	return h.snaps[h.cur]
}

// Seqs lists the snapshot sequence numbers oldest first.
func (h *History) Seqs() []uint64 {
	out := make([]uint64, len(h.snaps))
	for i, s := range h.snaps {
		out[i] = s.Seq
	}
	return out
}

// Bytes returns the memory held by all snapshots.
func (h *History) Bytes() int {
	n := 0
	for _, s := range h.snaps {
		n += len(s.Data)
	}
	return n
}

// CanUndo reports whether Undo would succeed.
func (h *History) CanUndo() bool { return h.Enabled() && h.cur > 0 }

// CanRedo reports whether Redo would succeed.
func (h *History) CanRedo() bool { return h.Enabled() && h.cur >= 0 && h.cur < len(h.snaps)-1 }

// Commit records buf as the newest state after the current pointer and
// makes it current. The history takes ownership of buf.
func (h *History) Commit(buf []byte) (*Snapshot, error) {
	if !h.Enabled() {
		return nil, fmt.Errorf("commit: %w: history disabled", models.ErrHistoryUnavailable)
	}
	if len(buf) != h.res.Voxels() {
		return nil, fmt.Errorf("commit: mask has %d bytes, volume %s needs %d", len(buf), h.res, h.res.Voxels())
	}
	return h.insert(buf), nil
}

// DuplicateAtPointer copies the current snapshot and inserts the copy as
// the new current one, so an edit can mutate a private working copy.
func (h *History) DuplicateAtPointer() bool {
	cur := h.Current()
	if !h.Enabled() || cur == nil {
		return false
	}
	buf := make([]byte, len(cur.Data))
	copy(buf, cur.Data)
	h.insert(buf)
	return true
}

// DiscardNewest drops the last snapshot and steps the pointer back; it
// cancels a speculative DuplicateAtPointer. It is refused when the pointer
// would fall below 0.
func (h *History) DiscardNewest() bool {
	if !h.Enabled() || len(h.snaps) == 0 || h.cur-1 < 0 {
		return false
	}
	last := len(h.snaps) - 1
	h.snaps[last] = nil
	h.snaps = h.snaps[:last]
	h.cur--
	h.bind()
	return true
}

// DiscardCurrent drops the snapshot at the pointer and steps back to its
// predecessor, leaving any redo states after it in place. It cancels a
// DuplicateAtPointer made after an undo. It is refused when the pointer
// would fall below 0.
func (h *History) DiscardCurrent() bool {
	if !h.Enabled() || h.cur-1 < 0 {
		return false
	}
	at := h.cur
	copy(h.snaps[at:], h.snaps[at+1:])
	h.snaps[len(h.snaps)-1] = nil
	h.snaps = h.snaps[:len(h.snaps)-1]
	h.cur--
	h.bind()
	return true
}

// Undo moves the pointer one step toward the oldest snapshot.
func (h *History) Undo() bool {
	if !h.CanUndo() {
		return false
	}
	h.cur--
	h.bind()
	return true
}

// Redo moves the pointer one step toward the newest snapshot.
func (h *History) Redo() bool {
	if !h.CanRedo() {
		return false
	}
	h.cur++
	h.bind()
	return true
}

// Clear drops every snapshot.
func (h *History) Clear() {
	for i := range h.snaps {
		h.snaps[i] = nil
	}
	h.snaps = h.snaps[:0]
	h.cur = -1
	h.bind()
}

func (h *History) insert(buf []byte) *Snapshot {
	h.seq++
	s := &Snapshot{Seq: h.seq, Data: buf}
	at := h.cur + 1
	h.snaps = append(h.snaps, nil)
	copy(h.snaps[at+1:], h.snaps[at:])
	h.snaps[at] = s
	h.cur = at
	h.trim()
	h.bind()
	h.log.Debug("snapshot recorded", "seq", s.Seq, "pointer", h.cur, "len", len(h.snaps), "bytes", logging.Bytes(h.Bytes()))
	return s
}

// trim evicts from the head while the history is deeper than maxDepth. When
// the pointer sits on the head it trims the tail instead; when it is on both
// ends nothing is evicted, since the current snapshot is never dropped.
func (h *History) trim() {
	for len(h.snaps) > h.maxDepth {
		switch {
		case h.cur > 0:
			h.snaps[0] = nil
			h.snaps = h.snaps[1:]
			h.cur--
		case h.cur < len(h.snaps)-1:
			last := len(h.snaps) - 1
			h.snaps[last] = nil
			h.snaps = h.snaps[:last]
		default:
			return
		}
	}
}

func (h *History) bind() {
	if h.binder != nil {
		h.binder.BindMask(h.Current())
	}
}
