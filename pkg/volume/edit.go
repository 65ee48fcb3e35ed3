package volume

import (
	"errors"
	"fmt"
	"io"

	"volbrick/internal/models"
	"volbrick/pkg/arena"
	"volbrick/pkg/brick"
	"volbrick/pkg/maskhist"
)

// ErrNoEdit is returned when painting outside BeginEdit/CommitEdit.
var ErrNoEdit = errors.New("no mask edit in progress")

// bindMask re-aliases the mask view to s. It runs on every history pointer
// change.
func (v *Volume) bindMask(s *maskhist.Snapshot) {
	if v.history != nil {
		v.metrics.ObserveHistory(v.history.Len(), v.history.Bytes())
	}
	v.detachMask()
	if s == nil {
		return
	}
	v.mask = v.arena.Adopt(s.Data)
	if set := v.fullResSet(); set != nil {
		if err := set.Attach(v.arena, brick.ComponentMask, v.mask, 1); err != nil {
			v.log.Warn("mask view not attached", "error", err)
		} else {
			v.maskSet = set
		}
	}
	if v.cache != nil {
		v.cache.MarkAllMasksDirty()
	}
}

func (v *Volume) detachMask() {
	if v.maskSet != nil {
		if err := v.maskSet.Detach(v.arena, brick.ComponentMask); err != nil {
			v.log.Warn("detaching mask view", "error", err)
		}
		v.maskSet = nil
	}
	if !v.mask.IsZero() {
		if err := v.arena.Free(v.mask); err != nil {
			v.log.Warn("releasing mask view", "error", err)
		}
		v.mask = arena.Handle{}
	}
}

// fullResSet is the active brick set when it has the mask's resolution.
// Coarse pyramid levels render without the mask.
func (v *Volume) fullResSet() *brick.Set {
	set := v.Bricks()
	if set == nil || set.Res != v.info.Res {
		return nil
	}
	return set
}

// Mask returns the current mask snapshot, or nil when masking is disabled.
// It may only be written between BeginEdit and CommitEdit.
func (v *Volume) Mask() []byte {
	if v.history == nil {
		return nil
	}
	if s := v.history.Current(); s != nil {
		return s.Data
	}
	return nil
}

// MaskHandle returns the arena handle of the active mask view.
func (v *Volume) MaskHandle() arena.Handle { return v.mask }

// BeginEdit branches a private working copy off the current mask. It
// returns false when masking is disabled or an edit is already open.
func (v *Volume) BeginEdit() bool {
	if !v.loaded || v.editing || !v.history.DuplicateAtPointer() {
		return false
	}
	v.editing = true
	v.painted = 0
	return true
}

// Editing reports whether an edit is open.
func (v *Volume) Editing() bool { return v.editing }

// Paint sets one mask voxel of the working copy and flags every brick
// holding a copy of it for mask re-upload.
func (v *Volume) Paint(x, y, z int, value byte) error {
	if !v.editing {
		return ErrNoEdit
	}
	res := v.info.Res
	if !res.Contains(x, y, z) {
		return fmt.Errorf("paint: voxel (%d,%d,%d) outside %s", x, y, z, res)
	}
	v.Mask()[res.Index(x, y, z)] = value
	v.painted++
	if v.cache != nil && v.maskSet != nil {
		v.cache.MarkMaskDirty(v.maskSet.BricksForVoxel(x, y, z)...)
	}
	return nil
}

// PaintBox sets every mask voxel in e, clipped to the volume.
func (v *Volume) PaintBox(e brick.Extent, value byte) error {
	if !v.editing {
		return ErrNoEdit
	}
	res := v.info.Res
	var lo, hi [3]int
	for a := 0; a < 3; a++ {
		lo[a] = max(e.Min[a], 0)
		hi[a] = min(e.Max[a], res.Axis(a))
		if lo[a] >= hi[a] {
			return nil
		}
	}
	mask := v.Mask()
	for z := lo[2]; z < hi[2]; z++ {
		for y := lo[1]; y < hi[1]; y++ {
			for x := lo[0]; x < hi[0]; x++ {
				mask[res.Index(x, y, z)] = value
				v.painted++
			}
		}
	}
	if v.cache != nil && v.maskSet != nil {
		clip := brick.Extent{Min: lo, Max: hi}
		for _, b := range v.maskSet.Bricks {
			if overlaps(b.Data, clip) {
				v.cache.MarkMaskDirty(b.ID)
			}
		}
	}
	return nil
}

func overlaps(a, b brick.Extent) bool {
	for i := 0; i < 3; i++ {
		if a.Max[i] <= b.Min[i] || b.Max[i] <= a.Min[i] {
			return false
		}
	}
	return true
}

// CommitEdit keeps the working copy as the newest history state.
func (v *Volume) CommitEdit() bool {
	if !v.editing {
		return false
	}
	v.editing = false
	v.log.Debug("mask edit committed", "voxels", v.painted, "depth", v.history.Len())
	return true
}

// CancelEdit drops the working copy and restores the mask it was branched
// from. Redo states after the copy are kept. It returns false when the copy could not be dropped, which happens
// when a history of depth 1 already evicted the original.
func (v *Volume) CancelEdit() bool {
	if !v.editing {
		return false
	}
	v.editing = false
	return v.history.DiscardCurrent()
}

// Undo steps the mask back one edit. Refused while an edit is open.
func (v *Volume) Undo() bool {
	if !v.loaded || v.editing {
		return false
	}
	return v.history.Undo()
}

// Redo re-applies the next edit. Refused while an edit is open.
func (v *Volume) Redo() bool {
	if !v.loaded || v.editing {
		return false
	}
	return v.history.Redo()
}

// CanUndo reports whether Undo would succeed.
func (v *Volume) CanUndo() bool { return v.loaded && !v.editing && v.history.CanUndo() }

// CanRedo reports whether Redo would succeed.
func (v *Volume) CanRedo() bool { return v.loaded && !v.editing && v.history.CanRedo() }

// History returns the mask history, nil when unloaded.
func (v *Volume) History() *maskhist.History { return v.history }

// ExportMask writes the current mask snapshot.
func (v *Volume) ExportMask(w io.Writer) error {
	if !v.loaded {
		return ErrNotLoaded
	}
	return v.history.Export(w)
}

// ImportMask reads a mask snapshot and commits it as a new edit.
func (v *Volume) ImportMask(r io.Reader) error {
	if !v.loaded {
		return ErrNotLoaded
	}
	if v.editing {
		return fmt.Errorf("import mask: %w: edit in progress", models.ErrHistoryUnavailable)
	}
	_, err := v.history.Import(r)
	return err
}
