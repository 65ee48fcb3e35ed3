// Package brick partitions a volume into GPU-sized tiles ("bricks") that
// overlap by one voxel at internal borders so trilinear sampling across
// neighbouring bricks is seamless.
//
// A brick never owns voxel data. It carries per-component views into buffers
// held by an arena.Arena; see View.
package brick

import (
	"fmt"

	"volbrick/internal/models"
)

// Component names one kind of per-voxel data a brick can view.
type Component int

const (
	ComponentData Component = iota
	ComponentGradient
	ComponentMask
	ComponentLabel
	numComponents
)

func (c Component) String() string {
	switch c {
	case ComponentData:
		return "data"
	case ComponentGradient:
		return "gradient"
	case ComponentMask:
		return "mask"
	case ComponentLabel:
		return "label"
	}
	return fmt.Sprintf("component(%d)", int(c))
}

// Priority values. Anything other than PriorityNonEmpty may be skipped by the
// scheduler when empty bricks are not wanted.
const (
	PriorityNonEmpty = 0
	PriorityEmpty    = 1
)

// Extent is a half-open box [Min, Max) in voxel index space.
type Extent struct {
	Min, Max [3]int
}

// Size returns the extent along each axis.
func (e Extent) Size() [3]int {
	return [3]int{e.Max[0] - e.Min[0], e.Max[1] - e.Min[1], e.Max[2] - e.Min[2]}
}

// Voxels returns the number of voxels in the extent.
func (e Extent) Voxels() int {
	s := e.Size()
	return s[0] * s[1] * s[2]
}

// Contains reports whether voxel (x, y, z) lies in the extent.
func (e Extent) Contains(x, y, z int) bool {
	return x >= e.Min[0] && x < e.Max[0] &&
		y >= e.Min[1] && y < e.Max[1] &&
		z >= e.Min[2] && z < e.Max[2]
}

func (e Extent) String() string {
	return fmt.Sprintf("[%d,%d,%d)-(%d,%d,%d)", e.Min[0], e.Min[1], e.Min[2], e.Max[0], e.Max[1], e.Max[2])
}

// Brick is one tile of a decomposed volume.
type Brick struct {
	// ID is dense within a Set, starting at 0
	ID int

	// Grid is the (bx, by, bz) position in the brick grid
	Grid [3]int

	// Bounds is the sub-region of the volume in normalized [0,1]^3 object
	// space, used for visibility and distance tests
	Bounds models.Box

	// TexBox is the sampled region in the brick's own [0,1]^3 texture frame
	TexBox models.Box

	// Data is the voxel range copied into the brick, overlap included
	Data Extent

	// Valid is the voxel range this brick is responsible for; valid
	// extents of a Set tile the volume exactly once
	Valid Extent

	// Alloc is the allocated texture size, which is larger than the data
	// size only when power-of-two textures are forced
	Alloc [3]int

	// Distance is the sort key written by the scheduler
	Distance float64

	// Priority is PriorityNonEmpty when the brick is known or estimated
	// to contain visible data
	Priority int

	// Views borrow per-component data from arena buffers
	Views [numComponents]View
}

// Size returns the number of data voxels along each axis.
func (b *Brick) Size() [3]int { return b.Data.Size() }

// View returns the view of component c.
func (b *Brick) View(c Component) View { return b.Views[c] }

func (b *Brick) String() string {
	return fmt.Sprintf("brick %d %v data %s", b.ID, b.Grid, b.Data)
}

// Direction selects one of the six face neighbours.
type Direction int

const (
	PosX Direction = iota
	NegX
	PosY
	NegY
	PosZ
	NegZ
)

// Set is the ordered brick sequence of one decomposition together with the
// grid it was cut from.
type Set struct {
	// Res is the resolution the set was built from
	Res models.Resolution

	// Edge is the tile edge used along each axis
	Edge [3]int

	// Count is the brick-grid size (bnx, bny, bnz)
	Count [3]int

	// BytesPerVoxel is channels times bytes per channel
	BytesPerVoxel int

	// Bricks is indexed by brick ID
	Bricks []*Brick
}

// Len returns the number of bricks.
func (s *Set) Len() int { return len(s.Bricks) }

// Brick returns the brick with the given id, or nil.
func (s *Set) Brick(id int) *Brick {
	if id < 0 || id >= len(s.Bricks) {
		return nil
	}
	return s.Bricks[id]
}

// GridCoords maps a brick id to brick-grid coordinates.
func (s *Set) GridCoords(id int) (bx, by, bz int) {
	plane := s.Count[0] * s.Count[1]
	bx = id % plane % s.Count[0]
	by = (id % plane) / s.Count[0]
	bz = id / plane
	return bx, by, bz
}

// ID linearizes brick-grid coordinates.
func (s *Set) ID(bx, by, bz int) int {
	return (bz*s.Count[1]+by)*s.Count[0] + bx
}

// Neighbor returns the id of the face neighbour of id in direction d. At the
// grid boundary it returns id itself.
func (s *Set) Neighbor(id int, d Direction) int {
	bx, by, bz := s.GridCoords(id)
	switch d {
	case PosX:
		if bx+1 < s.Count[0] {
			bx++
		}
	case NegX:
		if bx > 0 {
			bx--
		}
	case PosY:
		if by+1 < s.Count[1] {
			by++
		}
	case NegY:
		if by > 0 {
			by--
		}
	case PosZ:
		if bz+1 < s.Count[2] {
			bz++
		}
	case NegZ:
		if bz > 0 {
			bz--
		}
	}
	return s.ID(bx, by, bz)
}

// BrickIDForVoxel returns the brick whose valid region contains the voxel at
// the given flat index. An axis with an edge of 1 or less is not split.
// Indices outside the volume clamp to the nearest brick on each axis.
func (s *Set) BrickIDForVoxel(flat int) int {
	x, y, z := s.Res.Coords(flat)
	return s.brickIDAt(x, y, z)
}

// BrickIDAt is BrickIDForVoxel for unpacked coordinates.
func (s *Set) BrickIDAt(x, y, z int) int {
	return s.brickIDAt(x, y, z)
}

func (s *Set) brickIDAt(x, y, z int) int {
	c := [3]int{x, y, z}
	var g [3]int
	for a := 0; a < 3; a++ {
		if s.Edge[a] <= 1 {
			continue
		}
		g[a] = min(max(c[a]/(s.Edge[a]-1), 0), s.Count[a]-1)
	}
	return s.ID(g[0], g[1], g[2])
}

// BricksForVoxel returns every brick whose data range holds the voxel,
// overlap copies included. A voxel on a shared border appears in up to
// eight bricks; editing it means re-uploading all of them.
func (s *Set) BricksForVoxel(x, y, z int) []int {
	var lo, hi [3]int
	c := [3]int{x, y, z}
	for a := 0; a < 3; a++ {
		if s.Edge[a] <= 1 {
			continue
		}
		step := s.Edge[a] - 1
		hi[a] = c[a] / step
		if hi[a] >= s.Count[a] {
			hi[a] = s.Count[a] - 1
		}
		lo[a] = hi[a]
		if c[a]%step == 0 && c[a] > 0 {
			lo[a] = c[a]/step - 1
		}
	}
	var ids []int
	for bz := lo[2]; bz <= hi[2]; bz++ {
		for by := lo[1]; by <= hi[1]; by++ {
			for bx := lo[0]; bx <= hi[0]; bx++ {
				id := s.ID(bx, by, bz)
				if s.Bricks[id].Data.Contains(x, y, z) {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

// ResetDistances zeroes the sort key of every brick.
func (s *Set) ResetDistances() {
	for _, b := range s.Bricks {
		b.Distance = 0
	}
}
