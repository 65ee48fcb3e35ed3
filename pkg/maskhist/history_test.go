package maskhist

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volbrick/internal/models"
)

var res = models.Resolution{X: 4, Y: 4, Z: 2}

func mask(v byte) []byte {
	buf := make([]byte, res.Voxels())
	for i := range buf {
		buf[i] = v
	}
	return buf
}

// firstBytes returns voxel 0 of every snapshot, oldest first.
func firstBytes(h *History) []byte {
	out := make([]byte, 0, h.Len())
	for _, s := range h.snaps {
		out = append(out, s.Data[0])
	}
	return out
}

type recorder struct {
	bound []*Snapshot
}

func (r *recorder) BindMask(s *Snapshot) { r.bound = append(r.bound, s) }

func (r *recorder) last() *Snapshot {
	if len(r.bound) == 0 {
		return nil
	}
	return r.bound[len(r.bound)-1]
}

func TestCommitTrimsHead(t *testing.T) {
	h := New(res, 3, nil, nil)
	for i := 1; i <= 5; i++ {
		_, err := h.Commit(mask(byte(i)))
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{3, 4, 5}, h.Seqs())
	assert.Equal(t, 2, h.Pointer())

	require.True(t, h.Undo())
	require.True(t, h.Undo())
	assert.False(t, h.Undo(), "already at the oldest snapshot")
	assert.Equal(t, byte(3), h.Current().Data[0])
}

func TestCommitMidHistoryInsertsAfterPointer(t *testing.T) {
	h := New(res, 3, nil, nil)
	for i := 1; i <= 3; i++ {
		_, err := h.Commit(mask(byte(i)))
		require.NoError(t, err)
	}
	require.True(t, h.Undo())
	require.True(t, h.Undo())

	// inserted after the pointer: [1 4 2 3] then the head goes
	_, err := h.Commit(mask(4))
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 2, 3}, h.Seqs())
	assert.Equal(t, 0, h.Pointer())
	assert.Equal(t, byte(4), h.Current().Data[0])
	assert.True(t, h.CanRedo())
}

func TestUndoRedoRoundTrip(t *testing.T) {
	rec := &recorder{}
	h := New(res, 10, rec, nil)
	for i := 1; i <= 4; i++ {
		_, err := h.Commit(mask(byte(i)))
		require.NoError(t, err)
	}
	before := h.Current()
	require.True(t, h.Undo())
	assert.Equal(t, byte(3), rec.last().Data[0])
	require.True(t, h.Redo())
	assert.Same(t, before, h.Current())
	assert.Same(t, before, rec.last())
	assert.False(t, h.Redo())
}

func TestDuplicateAndDiscard(t *testing.T) {
	rec := &recorder{}
	h := New(res, 10, rec, nil)
	_, err := h.Commit(mask(7))
	require.NoError(t, err)
	orig := h.Current()

	require.True(t, h.DuplicateAtPointer())
	assert.Equal(t, 2, h.Len())
	dup := h.Current()
	assert.NotSame(t, orig, dup)
	assert.Equal(t, orig.Data, dup.Data)

	dup.Data[0] = 99
	assert.Equal(t, byte(7), orig.Data[0], "copy is private")

	require.True(t, h.DiscardNewest())
	assert.Same(t, orig, h.Current())
	assert.Same(t, orig, rec.last())
	assert.False(t, h.DiscardNewest(), "pointer cannot go below 0")
	assert.Equal(t, 1, h.Len())
}

func TestDiscardCurrentKeepsRedoStates(t *testing.T) {
	rec := &recorder{}
	h := New(res, 10, rec, nil)
	for i := byte(1); i <= 3; i++ {
		_, err := h.Commit(mask(i))
		require.NoError(t, err)
	}
	require.True(t, h.Undo())
	require.True(t, h.DuplicateAtPointer())
	h.Current().Data[0] = 99
	assert.Equal(t, []byte{1, 2, 99, 3}, firstBytes(h))

	require.True(t, h.DiscardCurrent())
	assert.Equal(t, []byte{1, 2, 3}, firstBytes(h))
	assert.Equal(t, 1, h.Pointer())
	assert.Same(t, h.Current(), rec.last())

	require.True(t, h.Redo())
	assert.Equal(t, byte(3), h.Current().Data[0])

	single := New(res, 10, nil, nil)
	_, err := single.Commit(mask(1))
	require.NoError(t, err)
	assert.False(t, single.DiscardCurrent(), "pointer cannot go below 0")
	assert.False(t, New(res, 0, nil, nil).DiscardCurrent())
}

func TestEmptyHistory(t *testing.T) {
	h := New(res, 5, nil, nil)
	assert.False(t, h.Undo())
	assert.False(t, h.Redo())
	assert.False(t, h.DuplicateAtPointer())
	assert.False(t, h.DiscardNewest())
	assert.Nil(t, h.Current())
	assert.Equal(t, -1, h.Pointer())
}

func TestDisabledHistory(t *testing.T) {
	h := New(res, 0, nil, nil)
	_, err := h.Commit(mask(1))
	assert.True(t, errors.Is(err, models.ErrHistoryUnavailable))
	assert.False(t, h.DuplicateAtPointer())
	assert.Zero(t, h.Len())
}

func TestDepthOneKeepsCurrent(t *testing.T) {
	h := New(res, 1, nil, nil)
	for i := 1; i <= 3; i++ {
		_, err := h.Commit(mask(byte(i)))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, byte(3), h.Current().Data[0])
	assert.False(t, h.Undo())
	assert.False(t, h.DiscardNewest())
}

func TestCommitRejectsWrongSize(t *testing.T) {
	h := New(res, 3, nil, nil)
	_, err := h.Commit(make([]byte, 3))
	assert.Error(t, err)
	assert.Zero(t, h.Len())
}

func TestSetMaxDepth(t *testing.T) {
	rec := &recorder{}
	h := New(res, 10, rec, nil)
	for i := 1; i <= 6; i++ {
		_, err := h.Commit(mask(byte(i)))
		require.NoError(t, err)
	}
	h.SetMaxDepth(2)
	assert.Equal(t, []uint64{5, 6}, h.Seqs())

	h.SetMaxDepth(0)
	assert.Zero(t, h.Len())
	assert.Nil(t, rec.last())
	assert.False(t, h.Enabled())
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	h := New(res, 4, nil, nil)
	for step := 0; step < 2000; step++ {
		switch rng.Intn(5) {
		case 0:
			_, err := h.Commit(mask(byte(step)))
			require.NoError(t, err)
		case 1:
			h.Undo()
		case 2:
			h.Redo()
		case 3:
			h.DuplicateAtPointer()
		case 4:
			h.DiscardNewest()
		}
		require.LessOrEqual(t, h.Len(), 4, "step %d", step)
		if h.Len() == 0 {
			require.Equal(t, -1, h.Pointer())
			continue
		}
		require.GreaterOrEqual(t, h.Pointer(), 0, "step %d", step)
		require.Less(t, h.Pointer(), h.Len(), "step %d", step)
		require.Equal(t, res.Voxels()*h.Len(), h.Bytes())
	}
}

func TestExportImport(t *testing.T) {
	src := New(res, 3, nil, nil)
	m := mask(0)
	m[5], m[17] = 1, 1
	_, err := src.Commit(m)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.Export(&buf))

	dst := New(res, 3, nil, nil)
	s, err := dst.Import(&buf)
	require.NoError(t, err)
	assert.Equal(t, m, s.Data)
	assert.Same(t, s, dst.Current())
}

func TestImportRejectsOtherResolution(t *testing.T) {
	var buf bytes.Buffer
	other := models.Resolution{X: 2, Y: 2, Z: 2}
	require.NoError(t, EncodeSnapshot(&buf, other, make([]byte, other.Voxels())))
	h := New(res, 3, nil, nil)
	_, err := h.Import(&buf)
	assert.Error(t, err)
	assert.Zero(t, h.Len())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := DecodeSnapshot(bytes.NewReader([]byte("not a snapshot at all, clearly")))
	assert.True(t, errors.Is(err, ErrBadSnapshot))
}

func TestExportEmpty(t *testing.T) {
	h := New(res, 3, nil, nil)
	assert.True(t, errors.Is(h.Export(&bytes.Buffer{}), models.ErrHistoryUnavailable))
}
