// Package scheduler orders bricks for rendering and, in out-of-core mode,
// selects the bounded subset of bricks to keep resident for a frame.
//
// The scheduler is driven synchronously from the render loop; it is not safe
// for concurrent use.
package scheduler

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"volbrick/pkg/brick"
	"volbrick/pkg/logging"
)

// Order is the total order bricks are returned in.
type Order int

const (
	// Ascending returns the nearest brick first.
	Ascending Order = iota
	// Descending returns the farthest brick first.
	Descending
)

// ParseOrder maps "ascending"/"descending" to an Order. Unknown values map
// to Ascending.
func ParseOrder(s string) Order {
	if s == "descending" {
		return Descending
	}
	return Ascending
}

// EmptinessOracle reports the emptiness priority of a brick:
// brick.PriorityNonEmpty (0) for bricks that must be rendered.
type EmptinessOracle interface {
	Priority(b *brick.Brick) int
}

// BrickPriority reads the priority flag stored on the brick by whichever
// kernel last estimated it.
type BrickPriority struct{}

// Priority implements EmptinessOracle.
func (BrickPriority) Priority(b *brick.Brick) int { return b.Priority }

// Scheduler orders the bricks of one active brick set.
type Scheduler struct {
	set    *brick.Set
	order  Order
	oracle EmptinessOracle
	log    *logging.Logger

	// working order; resorted lazily
	sorted []*brick.Brick
	dirty  bool
	key    sortKey
}

type sortKey struct {
	origin, dir r3.Vec
	ortho       bool
}

// New returns a scheduler over set. A nil oracle reads brick priorities.
func New(set *brick.Set, order Order, oracle EmptinessOracle, log *logging.Logger) *Scheduler {
	if oracle == nil {
		oracle = BrickPriority{}
	}
	s := &Scheduler{
		order:  order,
		oracle: oracle,
		log:    logging.OrNop(log).WithComponent("scheduler"),
	}
	s.SetBricks(set)
	return s
}

// SetBricks replaces the active brick set, for example after a pyramid
// level switch.
func (s *Scheduler) SetBricks(set *brick.Set) {
	s.set = set
	s.sorted = nil
	if set != nil {
		s.sorted = make([]*brick.Brick, len(set.Bricks))
		copy(s.sorted, set.Bricks)
	}
	s.dirty = true
}

// SetOrder changes the total order and forces a resort.
func (s *Scheduler) SetOrder(o Order) {
	if o != s.order {
		s.order = o
		s.dirty = true
	}
}

// SetOracle replaces the emptiness oracle.
func (s *Scheduler) SetOracle(o EmptinessOracle) {
	if o == nil {
		o = BrickPriority{}
	}
	s.oracle = o
}

// MarkDirty forces the next SortAll to recompute distances, e.g. after the
// data changed.
func (s *Scheduler) MarkDirty() { s.dirty = true }

// Len returns the number of bricks scheduled over.
func (s *Scheduler) Len() int { return len(s.sorted) }

// SortAll returns every brick ordered by its nearest point to the camera.
// The order is memoised until MarkDirty, a camera change or SelectQuota
// invalidates it. The returned slice is a copy.
func (s *Scheduler) SortAll(cam Camera) []*brick.Brick {
	key := sortKey{origin: cam.Origin, dir: cam.Direction, ortho: cam.Orthographic}
	if s.dirty || key != s.key {
		assignViewDistances(s.sorted, cam)
		sortBricks(s.sorted, s.order)
		s.key = key
		s.dirty = false
	}
	out := make([]*brick.Brick, len(s.sorted))
	copy(out, s.sorted)
	return out
}

// SelectQuota picks at most quota bricks to render this frame.
//
// With quota at least the brick count it is SortAll, minus the bricks the
// oracle reports empty when skipEmpty is set. Otherwise bricks are
// walked farthest-first from center and accepted while they pass the frustum
// test and, when skipEmpty is set, the oracle reports them non-empty. The
// accepted bricks are returned in the same order SortAll would use.
func (s *Scheduler) SelectQuota(center r3.Vec, quota int, skipEmpty bool, cam Camera) []*brick.Brick {
	if quota >= len(s.sorted) {
		all := s.SortAll(cam)
		if !skipEmpty {
			return all
		}
		kept := all[:0]
		for _, b := range all {
			if s.oracle.Priority(b) == brick.PriorityNonEmpty {
				kept = append(kept, b)
			}
		}
		return kept
	}
	if quota <= 0 {
		return nil
	}

	for _, b := range s.sorted {
		b.Distance = r3.Norm(r3.Sub(b.Bounds.Center(), center))
	}
	sortBricks(s.sorted, Descending)
	s.dirty = true

	fr, err := cam.frustum()
	if err != nil {
		s.log.Warn("camera has no transform, frustum culling disabled", "error", err)
		fr = nil
	}

	selected := make([]*brick.Brick, 0, quota)
	var culled, empty int
	for _, b := range s.sorted {
		if len(selected) >= quota {
			break
		}
		if fr != nil && !fr.visible(b.Bounds) {
			culled++
			continue
		}
		if skipEmpty && s.oracle.Priority(b) != brick.PriorityNonEmpty {
			empty++
			continue
		}
		selected = append(selected, b)
	}

	assignViewDistances(selected, cam)
	sortBricks(selected, s.order)
	s.log.Debug("quota selection", "quota", quota, "selected", len(selected), "culled", culled, "empty", empty)
	return selected
}

// ViewDistance is the distance of the nearest inset corner of b to the
// camera: signed distance along the view direction for orthographic views,
// Euclidean distance to the eye otherwise.
func ViewDistance(b *brick.Brick, cam Camera) float64 {
	d := math.Inf(1)
	for _, c := range insetCorners(b.Bounds) {
		var v float64
		if cam.Orthographic {
			v = r3.Dot(c, cam.Direction)
		} else {
			v = r3.Norm(r3.Sub(c, cam.Origin))
		}
		if v < d {
			d = v
		}
	}
	return d
}

func assignViewDistances(bricks []*brick.Brick, cam Camera) {
	for _, b := range bricks {
		b.Distance = ViewDistance(b, cam)
	}
}

// sortBricks orders by distance, ties broken by id so equal inputs always
// give equal orders.
func sortBricks(bricks []*brick.Brick, o Order) {
	sort.SliceStable(bricks, func(i, j int) bool {
		a, b := bricks[i], bricks[j]
		if a.Distance != b.Distance {
			if o == Descending {
				return a.Distance > b.Distance
			}
			return a.Distance < b.Distance
		}
		return a.ID < b.ID
	})
}
