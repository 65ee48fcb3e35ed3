// Package pyramid keeps several decimated resolutions of one logical volume
// and switches the active one.
//
// Level descriptors are immutable once built. The active level is exposed as
// an ActiveLevel value computed on demand rather than by mutating the
// owning volume.
package pyramid

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"volbrick/internal/models"
	"volbrick/pkg/arena"
	"volbrick/pkg/brick"
	"volbrick/pkg/logging"
)

// State is the pyramid lifecycle state.
type State int

const (
	NoPyramid State = iota
	Built
	LevelActive
)

func (s State) String() string {
	switch s {
	case NoPyramid:
		return "no-pyramid"
	case Built:
		return "built"
	case LevelActive:
		return "level-active"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Level describes one resolution tier. Index 0 is the finest.
type Level struct {
	Index         int
	Res           models.Resolution
	Spacing       models.Spacing
	Buffer        arena.Handle
	BytesPerVoxel int
	Bricks        *brick.Set
}

// ActiveLevel is the derived view of the active level.
type ActiveLevel struct {
	Index   int
	Res     models.Resolution
	Spacing models.Spacing
	Bricks  *brick.Set

	// Scale maps normalized object space to world space: resolution
	// times voxel spacing times the user spacing scale
	Scale r3.Vec
}

// Manager owns the pyramid levels of one volume.
type Manager struct {
	arena        *arena.Arena
	log          *logging.Logger
	levels       []Level
	active       int
	state        State
	spacingScale r3.Vec
}

// New returns a manager in the NoPyramid state. Level buffers are allocated
// from, and freed to, a.
func New(a *arena.Arena, log *logging.Logger) *Manager {
	return &Manager{
		arena:        a,
		log:          logging.OrNop(log).WithComponent("pyramid"),
		active:       -1,
		spacingScale: r3.Vec{X: 1, Y: 1, Z: 1},
	}
}

// State returns the lifecycle state.
func (m *Manager) State() State { return m.state }

// LevelCount returns the number of built levels.
func (m *Manager) LevelCount() int { return len(m.levels) }

// Level returns a copy of level i's descriptor.
func (m *Manager) Level(i int) (Level, bool) {
	if i < 0 || i >= len(m.levels) {
		return Level{}, false
	}
	return m.levels[i], true
}

// Build installs levels with their brick sets. bricks[i] must be the
// decomposition of levels[i]. Any previous pyramid is cleared first. Build
// is all-or-nothing: on failure the manager is left in NoPyramid and
// nothing of the rejected levels is retained.
//
// On success the manager owns the level buffers and frees them on Clear.
func (m *Manager) Build(levels []Level, bricks []*brick.Set) error {
	if m.state != NoPyramid {
		m.Clear()
	}
	if err := m.validate(levels, bricks); err != nil {
		m.log.Warn("pyramid build rejected", "error", err)
		return err
	}

	m.levels = make([]Level, len(levels))
	for i, l := range levels {
		l.Index = i
		l.Bricks = bricks[i]
		if l.BytesPerVoxel <= 0 {
			l.BytesPerVoxel = bricks[i].BytesPerVoxel
		}
		m.levels[i] = l
	}
	m.state = Built
	m.active = -1
	m.log.Info("pyramid built", "levels", len(levels), "finest", levels[0].Res.String(), "coarsest", levels[len(levels)-1].Res.String())
	return nil
}

func (m *Manager) validate(levels []Level, bricks []*brick.Set) error {
	if len(levels) == 0 {
		return &models.ConfigError{Param: "pyramid levels", Value: 0, Reason: "at least one level is required"}
	}
	if len(levels) != len(bricks) {
		return &models.ConfigError{Param: "pyramid brick sets", Value: len(bricks),
			Reason: fmt.Sprintf("expected one per level (%d)", len(levels))}
	}
	for i, l := range levels {
		if !l.Res.Valid() || !l.Spacing.Valid() {
			return &models.ConfigError{Param: fmt.Sprintf("level %d geometry", i), Value: l.Res, Reason: "resolution and spacing must be positive"}
		}
		set := bricks[i]
		if set == nil || set.Len() == 0 {
			return &models.ConfigError{Param: fmt.Sprintf("level %d bricks", i), Value: nil, Reason: "level has no bricks"}
		}
		if set.Res != l.Res {
			return &models.ConfigError{Param: fmt.Sprintf("level %d bricks", i), Value: set.Res, Reason: "decomposed from a different resolution " + l.Res.String()}
		}
		buf, err := m.arena.Bytes(l.Buffer)
		if err != nil {
			return &models.ConfigError{Param: fmt.Sprintf("level %d buffer", i), Value: l.Buffer, Reason: err.Error()}
		}
		bpv := l.BytesPerVoxel
		if bpv <= 0 {
			bpv = set.BytesPerVoxel
		}
		if len(buf) < l.Res.Voxels()*bpv {
			return &models.ConfigError{Param: fmt.Sprintf("level %d buffer", i), Value: len(buf), Reason: "smaller than the level resolution"}
		}
		if i > 0 {
			prev := levels[i-1].Res
			if l.Res.X > prev.X || l.Res.Y > prev.Y || l.Res.Z > prev.Z || l.Res.Voxels() >= prev.Voxels() {
				return &models.ConfigError{Param: fmt.Sprintf("level %d resolution", i), Value: l.Res, Reason: "must be strictly coarser than " + prev.String()}
			}
		}
	}
	return nil
}

// SetLevel activates level i. It re-points every brick of level i at the
// level's buffer and releases the previously active level's views. It is a
// no-op returning false when i is already active, out of range, or no
// pyramid is built.
func (m *Manager) SetLevel(i int) bool {
	if m.state == NoPyramid || i < 0 || i >= len(m.levels) || i == m.active {
		return false
	}
	next := m.levels[i]
	if err := next.Bricks.Attach(m.arena, brick.ComponentData, next.Buffer, next.BytesPerVoxel); err != nil {
		m.log.Error("level switch failed", "level", i, "error", err)
		return false
	}
	if m.active >= 0 {
		if err := m.levels[m.active].Bricks.Detach(m.arena, brick.ComponentData); err != nil {
			m.log.Warn("releasing previous level", "level", m.active, "error", err)
		}
	}
	m.active = i
	m.state = LevelActive
	m.log.Debug("level active", "level", i, "res", next.Res.String(), "bricks", next.Bricks.Len())
	return true
}

// ActiveIndex returns the active level, or -1.
func (m *Manager) ActiveIndex() int { return m.active }

// Active returns the active level value.
func (m *Manager) Active() (ActiveLevel, bool) {
	if m.state != LevelActive {
		return ActiveLevel{}, false
	}
	l := m.levels[m.active]
	return ActiveLevel{
		Index:   l.Index,
		Res:     l.Res,
		Spacing: l.Spacing,
		Bricks:  l.Bricks,
		Scale:   NormalizingScale(l.Res, l.Spacing, m.spacingScale),
	}, true
}

// SetSpacingScale sets the user spacing override folded into the
// normalizing transform.
func (m *Manager) SetSpacingScale(s r3.Vec) {
	m.spacingScale = s
}

// NormalizingScale is the object-space-to-world scale of a volume.
func NormalizingScale(res models.Resolution, spacing models.Spacing, userScale r3.Vec) r3.Vec {
	return r3.Vec{
		X: float64(res.X) * spacing.X * userScale.X,
		Y: float64(res.Y) * spacing.Y * userScale.Y,
		Z: float64(res.Z) * spacing.Z * userScale.Z,
	}
}

// Clear releases every level's brick views and decimated buffers.
func (m *Manager) Clear() {
	for i := range m.levels {
		l := &m.levels[i]
		if err := l.Bricks.DetachAll(m.arena); err != nil {
			m.log.Warn("detaching level bricks", "level", i, "error", err)
		}
		if err := m.arena.Free(l.Buffer); err != nil {
			m.log.Warn("freeing level buffer", "level", i, "error", err)
		}
	}
	m.levels = nil
	m.active = -1
	m.state = NoPyramid
}
