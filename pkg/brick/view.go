package brick

import (
	"fmt"

	"volbrick/pkg/arena"
)

// View is a brick's borrowed window into one component buffer: the buffer
// handle, the byte offset of the brick's first voxel, the voxel extent and
// the byte strides of the enclosing volume.
type View struct {
	Buffer        arena.Handle
	Offset        int
	Extent        [3]int
	Strides       [3]int
	BytesPerVoxel int
}

// Bound reports whether the view points at a buffer.
func (v View) Bound() bool { return !v.Buffer.IsZero() }

// Attach points component c of every brick at the volume-sized buffer h.
// Each brick retains h in the arena until Detach. The set is left untouched
// when the buffer is too small.
func (s *Set) Attach(a *arena.Arena, c Component, h arena.Handle, bytesPerVoxel int) error {
	buf, err := a.Bytes(h)
	if err != nil {
		return fmt.Errorf("attach %s: %w", c, err)
	}
	if bytesPerVoxel <= 0 {
		bytesPerVoxel = s.BytesPerVoxel
	}
	need := s.Res.Voxels() * bytesPerVoxel
	if len(buf) < need {
		return fmt.Errorf("attach %s: buffer holds %d bytes, volume %s needs %d", c, len(buf), s.Res, need)
	}

	if err := s.Detach(a, c); err != nil {
		return err
	}
	strides := [3]int{bytesPerVoxel, s.Res.X * bytesPerVoxel, s.Res.X * s.Res.Y * bytesPerVoxel}
	for _, b := range s.Bricks {
		if err := a.Retain(h); err != nil {
			return err
		}
		b.Views[c] = View{
			Buffer:        h,
			Offset:        s.Res.Index(b.Data.Min[0], b.Data.Min[1], b.Data.Min[2]) * bytesPerVoxel,
			Extent:        b.Data.Size(),
			Strides:       strides,
			BytesPerVoxel: bytesPerVoxel,
		}
	}
	return nil
}

// Detach releases component c of every brick. Unbound views are skipped.
func (s *Set) Detach(a *arena.Arena, c Component) error {
	for _, b := range s.Bricks {
		v := b.Views[c]
		if !v.Bound() {
			continue
		}
		if a.Valid(v.Buffer) {
			if err := a.Release(v.Buffer); err != nil {
				return fmt.Errorf("detach %s of brick %d: %w", c, b.ID, err)
			}
		}
		b.Views[c] = View{}
	}
	return nil
}

// DetachAll releases every component.
func (s *Set) DetachAll(a *arena.Arena) error {
	for c := Component(0); c < numComponents; c++ {
		if err := s.Detach(a, c); err != nil {
			return err
		}
	}
	return nil
}

// Gather copies the brick's component c out of the shared buffer into a
// packed tile of the allocated size, x fastest. Texels outside the data
// extent, present only in power-of-two allocations, are zero.
func (b *Brick) Gather(a *arena.Arena, c Component) ([]byte, error) {
	v := b.Views[c]
	if !v.Bound() {
		return nil, fmt.Errorf("brick %d has no %s view", b.ID, c)
	}
	src, err := a.Bytes(v.Buffer)
	if err != nil {
		return nil, fmt.Errorf("brick %d %s: %w", b.ID, c, err)
	}

	bpv := v.BytesPerVoxel
	row := v.Extent[0] * bpv
	out := make([]byte, b.Alloc[0]*b.Alloc[1]*b.Alloc[2]*bpv)
	dstRow := b.Alloc[0] * bpv
	dstSlice := b.Alloc[1] * dstRow
	for z := 0; z < v.Extent[2]; z++ {
		for y := 0; y < v.Extent[1]; y++ {
			so := v.Offset + z*v.Strides[2] + y*v.Strides[1]
			do := z*dstSlice + y*dstRow
			copy(out[do:do+row], src[so:so+row])
		}
	}
	return out, nil
}

// Voxel returns the bytes of one voxel of component c, at coordinates
// local to the brick's data extent.
func (b *Brick) Voxel(a *arena.Arena, c Component, lx, ly, lz int) ([]byte, error) {
	v := b.Views[c]
	if !v.Bound() {
		return nil, fmt.Errorf("brick %d has no %s view", b.ID, c)
	}
	if lx < 0 || ly < 0 || lz < 0 || lx >= v.Extent[0] || ly >= v.Extent[1] || lz >= v.Extent[2] {
		return nil, fmt.Errorf("brick %d: voxel (%d,%d,%d) outside extent %v", b.ID, lx, ly, lz, v.Extent)
	}
	src, err := a.Bytes(v.Buffer)
	if err != nil {
		return nil, err
	}
	o := v.Offset + lz*v.Strides[2] + ly*v.Strides[1] + lx*v.Strides[0]
	return src[o : o+v.BytesPerVoxel], nil
}
