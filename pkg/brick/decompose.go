package brick

import (
	"volbrick/internal/models"
)

// Options controls a decomposition.
type Options struct {
	// MaxEdge is the largest brick edge in voxels, normally the backend
	// texture limit or a configured override
	MaxEdge int

	// ForcePow2 allocates power-of-two textures for every brick; the valid
	// data of undersized trailing bricks then occupies only part of the
	// allocation
	ForcePow2 bool

	// Channels and BytesPerChannel size the buffer views
	Channels        int
	BytesPerChannel int
}

// Decompose cuts a volume of resolution res into bricks.
//
// Each axis is walked in strides of edge-1 so consecutive bricks share one
// border voxel. The last brick on an axis is clamped to the volume. Brick ids
// are dense, x varying fastest.
func Decompose(res models.Resolution, opts Options) (*Set, error) {
	if !res.Valid() {
		return nil, &models.ConfigError{Param: "resolution", Value: res, Reason: "every axis must be positive"}
	}
	if opts.MaxEdge <= 1 {
		return nil, &models.ConfigError{Param: "max edge", Value: opts.MaxEdge, Reason: "must be greater than 1"}
	}

	maxEdge := opts.MaxEdge
	if opts.ForcePow2 {
		maxEdge = floorPow2(maxEdge)
	}

	bpv := opts.Channels * opts.BytesPerChannel
	if bpv <= 0 {
		bpv = 1
	}

	set := &Set{Res: res, BytesPerVoxel: bpv}
	var axes [3]axisPlan
	for a := 0; a < 3; a++ {
		size := res.Axis(a)
		edge := maxEdge
		if p := ceilPow2(size); p < edge {
			edge = p
		}
		set.Edge[a] = edge
		set.Count[a] = gridCount(size, edge)
		axes[a] = planAxis(size, edge, set.Count[a], opts.ForcePow2)
	}

	total := set.Count[0] * set.Count[1] * set.Count[2]
	set.Bricks = make([]*Brick, 0, total)
	for bz := 0; bz < set.Count[2]; bz++ {
		for by := 0; by < set.Count[1]; by++ {
			for bx := 0; bx < set.Count[0]; bx++ {
				g := [3]int{bx, by, bz}
				b := &Brick{
					ID:       len(set.Bricks),
					Grid:     g,
					Priority: PriorityNonEmpty,
				}
				var obj, tex [2][3]float64
				for a := 0; a < 3; a++ {
					t := axes[a].tiles[g[a]]
					b.Data.Min[a] = t.start
					b.Data.Max[a] = t.start + t.extent
					b.Valid.Min[a] = t.start
					b.Valid.Max[a] = t.validEnd
					b.Alloc[a] = t.alloc
					obj[0][a], obj[1][a] = t.obj0, t.obj1
					tex[0][a], tex[1][a] = t.tex0, t.tex1
				}
				b.Bounds = models.NewBox(obj[0][0], obj[0][1], obj[0][2], obj[1][0], obj[1][1], obj[1][2])
				b.TexBox = models.NewBox(tex[0][0], tex[0][1], tex[0][2], tex[1][0], tex[1][1], tex[1][2])
				set.Bricks = append(set.Bricks, b)
			}
		}
	}
	return set, nil
}

// GridCount returns the number of bricks along an axis of the given size for
// tile edge edge: ceil((size-1)/(edge-1)), at least 1.
func GridCount(size, edge int) int {
	return gridCount(size, edge)
}

func gridCount(size, edge int) int {
	if edge <= 1 || size <= 1 {
		return 1
	}
	n := (size - 1 + edge - 2) / (edge - 1)
	if n < 1 {
		n = 1
	}
	return n
}

type axisTile struct {
	start, extent, alloc int
	validEnd             int
	obj0, obj1           float64
	tex0, tex1           float64
}

type axisPlan struct {
	tiles []axisTile
}

// planAxis computes the per-axis geometry shared by every brick in one
// grid row. Faces shared with a neighbour sit on texel centres so the two
// bricks meet exactly; faces on the volume boundary use the full texel.
func planAxis(size, edge, count int, pow2 bool) axisPlan {
	step := edge - 1
	if step < 1 {
		step = 1
	}
	plan := axisPlan{tiles: make([]axisTile, count)}
	for k := 0; k < count; k++ {
		first := k == 0
		last := k == count-1

		start := k * step
		extent := size - start
		if extent > edge {
			extent = edge
		}
		alloc := extent
		if pow2 {
			alloc = ceilPow2(extent)
		}

		t := axisTile{start: start, extent: extent, alloc: alloc}
		if last {
			t.validEnd = size
		} else {
			t.validEnd = start + step
		}

		fa := float64(alloc)
		if first {
			t.tex0 = 0
			t.obj0 = 0
		} else {
			t.tex0 = 0.5 / fa
			t.obj0 = (float64(start) + 0.5) / float64(size)
		}
		if last {
			t.tex1 = float64(extent) / fa
			t.obj1 = 1
		} else {
			t.tex1 = (float64(extent) - 0.5) / fa
			t.obj1 = (float64(start+extent) - 0.5) / float64(size)
		}
		plan.tiles[k] = t
	}
	return plan
}

func ceilPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func floorPow2(n int) int {
	if n < 1 {
		return 0
	}
	p := 1
	for p*2 <= n {
		p <<= 1
	}
	return p
}
