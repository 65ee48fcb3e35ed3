// Package volume owns one loaded dataset: its voxel buffers, brick set,
// optional resolution pyramid, residency cache and mask history.
//
// A Volume is driven from a single goroutine, the render/interaction loop.
package volume

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"volbrick/internal/models"
	"volbrick/pkg/arena"
	"volbrick/pkg/brick"
	"volbrick/pkg/config"
	"volbrick/pkg/downsample"
	"volbrick/pkg/logging"
	"volbrick/pkg/maskhist"
	"volbrick/pkg/metrics"
	"volbrick/pkg/pyramid"
	"volbrick/pkg/residency"
	"volbrick/pkg/scheduler"
)

// ErrNotLoaded is returned by operations that need loaded data.
var ErrNotLoaded = errors.New("volume not loaded")

// Volume is the owning entity of one channel of scalar data.
type Volume struct {
	cfg     *config.Config
	baseLog *logging.Logger
	log     *logging.Logger
	metrics *metrics.Metrics
	up      residency.Uploader

	arena   *arena.Arena
	info    models.VolumeInfo
	loaded  bool
	data    arena.Handle
	base    *brick.Set
	pyramid *pyramid.Manager
	sched   *scheduler.Scheduler
	oracle  *ThresholdOracle
	cache   *residency.Cache
	history *maskhist.History

	// mask view of the current snapshot and the set it is attached to
	mask    arena.Handle
	maskSet *brick.Set
	editing bool
	painted int
}

// Frame is the outcome of scheduling one frame.
type Frame struct {
	// Bricks in render order
	Bricks []*brick.Brick

	// Resident holds the uploaded subset of Bricks, in the same order. It
	// is nil when the volume has no uploader.
	Resident []residency.Resident
}

// New returns an unloaded volume. up may be nil, in which case frames are
// scheduled but nothing is uploaded. m may be nil.
func New(cfg *config.Config, log *logging.Logger, up residency.Uploader, m *metrics.Metrics) (*Volume, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := arena.New()
	v := &Volume{
		cfg:     cfg,
		baseLog: logging.OrNop(log),
		log:     logging.OrNop(log),
		metrics: m,
		up:      up,
		arena:   a,
		info:    models.VolumeInfo{Name: "volume"},
	}
	v.pyramid = pyramid.New(a, v.log)
	v.pyramid.SetSpacingScale(r3.Vec{X: cfg.Pyramid.SpacingScale[0], Y: cfg.Pyramid.SpacingScale[1], Z: cfg.Pyramid.SpacingScale[2]})
	return v, nil
}

// SetName names the volume in logs.
func (v *Volume) SetName(name string) {
	v.info.Name = name
}

func (v *Volume) bytesPerVoxel() int {
	return v.cfg.Bricks.Channels * v.cfg.Bricks.BytesPerChannel
}

func (v *Volume) brickOptions() brick.Options {
	return brick.Options{
		MaxEdge:         v.cfg.EffectiveEdge(),
		ForcePow2:       v.cfg.Bricks.ForcePow2,
		Channels:        v.cfg.Bricks.Channels,
		BytesPerChannel: v.cfg.Bricks.BytesPerChannel,
	}
}

// Load takes ownership of data and builds the brick set. A volume that is
// already loaded is unloaded first. On failure the volume stays unloaded.
// When the configuration asks for more than one level the pyramid is built
// too; a pyramid failure is logged and the single-resolution bricks are kept.
func (v *Volume) Load(data []byte, res models.Resolution, spacing models.Spacing) error {
	if v.loaded {
		v.Unload()
	}
	if !res.Valid() || !spacing.Valid() {
		return &models.ConfigError{Param: "volume geometry", Value: res, Reason: "resolution and spacing must be positive"}
	}
	if need := res.Voxels() * v.bytesPerVoxel(); len(data) != need {
		return fmt.Errorf("load %s: %d bytes, need %d", v.info.Name, len(data), need)
	}

	set, err := brick.Decompose(res, v.brickOptions())
	if err != nil {
		return fmt.Errorf("load %s: %w", v.info.Name, err)
	}
	h := v.arena.Adopt(data)
	if err := set.Attach(v.arena, brick.ComponentData, h, v.bytesPerVoxel()); err != nil {
		_ = v.arena.Free(h)
		return fmt.Errorf("load %s: %w", v.info.Name, err)
	}

	lo, hi := valueRange(data, v.cfg.Bricks.Channels, v.cfg.Bricks.BytesPerChannel)
	v.info = models.VolumeInfo{Name: v.info.Name, Res: res, Spacing: spacing, Min: lo, Max: hi}
	v.data = h
	v.base = set
	v.loaded = true
	v.log = v.baseLog.WithVolume(v.info.Name)

	threshold := lo + v.cfg.OutOfCore.EmptyThreshold*(hi-lo)
	v.oracle = NewThresholdOracle(v.arena, threshold, v.cfg.Bricks.BytesPerChannel)
	v.sched = scheduler.New(set, scheduler.ParseOrder(v.cfg.Scheduler.Order), v.oracle, v.log)
	if v.up != nil {
		capacity := 0
		if v.cfg.OutOfCore.Enabled {
			capacity = v.cfg.OutOfCore.Quota
		}
		v.cache = residency.New(v.arena, v.up, capacity, v.log, v.metrics)
	}

	v.history = maskhist.New(res, v.cfg.Mask.MaxDepth, maskhist.BinderFunc(v.bindMask), v.log)
	if v.history.Enabled() {
		if _, err := v.history.Commit(make([]byte, res.Voxels())); err != nil {
			v.Unload()
			return fmt.Errorf("load %s: %w", v.info.Name, err)
		}
	}

	v.log.Info("volume loaded",
		"res", res.String(),
		"bricks", set.Len(),
		"edge", set.Edge,
		"size", logging.Bytes(len(data)),
		"range", fmt.Sprintf("[%g, %g]", lo, hi))

	if v.cfg.Pyramid.Levels > 1 {
		if err := v.EnablePyramid(context.Background(), v.cfg.Pyramid.Levels); err != nil {
			v.log.Warn("pyramid unavailable, using single resolution", "error", err)
		}
	}
	return nil
}

// Loaded reports whether data is loaded.
func (v *Volume) Loaded() bool { return v.loaded }

// Info describes the volume as currently advertised: with an active pyramid
// level, its resolution and spacing.
func (v *Volume) Info() models.VolumeInfo {
	info := v.info
	if al, ok := v.pyramid.Active(); ok {
		info.Res = al.Res
		info.Spacing = al.Spacing
	}
	info.MultiComponent = v.maskSet != nil
	return info
}

// Bricks returns the active brick set.
func (v *Volume) Bricks() *brick.Set {
	if al, ok := v.pyramid.Active(); ok {
		return al.Bricks
	}
	return v.base
}

// Arena exposes the buffer arena, for readers of brick views.
func (v *Volume) Arena() *arena.Arena { return v.arena }

// Scale returns the object-to-world scale of the active bricks.
func (v *Volume) Scale() r3.Vec {
	if al, ok := v.pyramid.Active(); ok {
		return al.Scale
	}
	return pyramid.NormalizingScale(v.info.Res, v.info.Spacing,
		r3.Vec{X: v.cfg.Pyramid.SpacingScale[0], Y: v.cfg.Pyramid.SpacingScale[1], Z: v.cfg.Pyramid.SpacingScale[2]})
}

// Frame schedules the bricks to render for cam. In out-of-core mode at most
// the configured quota is selected, farthest-first from center; otherwise
// every brick is sorted. Upload failures drop bricks from Resident without
// failing the frame.
func (v *Volume) Frame(cam scheduler.Camera, center r3.Vec) (Frame, error) {
	if !v.loaded {
		return Frame{}, ErrNotLoaded
	}
	var f Frame
	if v.cfg.OutOfCore.Enabled {
		f.Bricks = v.sched.SelectQuota(center, v.cfg.OutOfCore.Quota, v.cfg.OutOfCore.SkipEmpty, cam)
	} else {
		f.Bricks = v.sched.SortAll(cam)
	}
	v.metrics.ObserveFrame(len(f.Bricks), v.sched.Len())
	if v.cache != nil {
		f.Resident = v.cache.Resolve(f.Bricks)
	}
	return f, nil
}

// Unload releases bricks, pyramid levels, mask history and voxel buffers.
func (v *Volume) Unload() {
	if !v.loaded {
		return
	}
	if v.cache != nil {
		v.cache.Clear()
	}
	v.history.Clear()
	v.pyramid.Clear()
	if err := v.base.DetachAll(v.arena); err != nil {
		v.log.Warn("detaching bricks", "error", err)
	}
	if err := v.arena.Free(v.data); err != nil {
		v.log.Warn("freeing volume data", "error", err)
	}
	v.log.Info("volume unloaded", "buffers", v.arena.Live())

	v.base = nil
	v.sched = nil
	v.oracle = nil
	v.cache = nil
	v.history = nil
	v.data = arena.Handle{}
	v.editing = false
	v.loaded = false
	v.info = models.VolumeInfo{Name: v.info.Name}
}

// EnablePyramid decimates the loaded data into levels and activates level
// 0. Decimation needs 8-bit channels. On failure the single-resolution
// bricks stay active.
func (v *Volume) EnablePyramid(ctx context.Context, levels int) error {
	if !v.loaded {
		return ErrNotLoaded
	}
	if v.cfg.Bricks.BytesPerChannel != 1 {
		return &models.ConfigError{Param: "bricks.bytesPerChannel", Value: v.cfg.Bricks.BytesPerChannel, Reason: "pyramid decimation needs 8-bit channels"}
	}
	src, err := v.arena.Bytes(v.data)
	if err != nil {
		return err
	}
	decimated, err := downsample.Build(ctx, src, v.info.Res, v.info.Spacing, downsample.Options{
		Levels:   levels,
		Workers:  v.cfg.Pyramid.Workers,
		Channels: v.cfg.Bricks.Channels,
	})
	if err != nil {
		return err
	}

	pl := make([]pyramid.Level, len(decimated))
	sets := make([]*brick.Set, len(decimated))
	for i, d := range decimated {
		set, err := brick.Decompose(d.Res, v.brickOptions())
		if err != nil {
			v.freeLevels(pl[:i])
			return fmt.Errorf("level %d: %w", i, err)
		}
		// level 0 borrows the source bytes under its own handle
		pl[i] = pyramid.Level{Res: d.Res, Spacing: d.Spacing, Buffer: v.arena.Adopt(d.Data), BytesPerVoxel: v.bytesPerVoxel()}
		sets[i] = set
	}
	return v.buildPyramid(pl, sets)
}

// buildPyramid installs prepared levels. On failure the levels are freed and
// the single-resolution bricks are restored.
func (v *Volume) buildPyramid(levels []pyramid.Level, sets []*brick.Set) error {
	v.detachMask()
	if err := v.pyramid.Build(levels, sets); err != nil {
		v.freeLevels(levels)
		v.useBricks(v.base)
		return err
	}
	if !v.SetLevel(0) {
		v.pyramid.Clear()
		v.useBricks(v.base)
		return fmt.Errorf("pyramid level 0 could not be activated")
	}
	return nil
}

func (v *Volume) freeLevels(levels []pyramid.Level) {
	for _, l := range levels {
		if !l.Buffer.IsZero() {
			_ = v.arena.Free(l.Buffer)
		}
	}
}

// SetLevel activates pyramid level i. It returns false when there is no
// pyramid, i is out of range, or i is already active.
func (v *Volume) SetLevel(i int) bool {
	if !v.pyramid.SetLevel(i) {
		return false
	}
	al, _ := v.pyramid.Active()
	v.useBricks(al.Bricks)
	v.metrics.ObserveLevel(i)
	v.log.Info("pyramid level active", "level", i, "res", al.Res.String(), "bricks", al.Bricks.Len())
	return true
}

// LevelCount returns the number of pyramid levels, 0 without a pyramid.
func (v *Volume) LevelCount() int { return v.pyramid.LevelCount() }

// ActiveLevel returns the active pyramid level.
func (v *Volume) ActiveLevel() (pyramid.ActiveLevel, bool) { return v.pyramid.Active() }

// DisablePyramid drops every level and returns to the single-resolution
// bricks.
func (v *Volume) DisablePyramid() {
	if v.pyramid.State() == pyramid.NoPyramid {
		return
	}
	v.detachMask()
	v.pyramid.Clear()
	v.useBricks(v.base)
	v.metrics.ObserveLevel(-1)
}

// useBricks makes set the scheduled set and moves the mask view onto it.
func (v *Volume) useBricks(set *brick.Set) {
	if v.sched == nil {
		return
	}
	v.sched.SetBricks(set)
	v.oracle.Reset()
	if v.cache != nil {
		v.cache.Clear()
	}
	if v.history != nil {
		v.bindMask(v.history.Current())
	}
}
