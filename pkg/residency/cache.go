// Package residency tracks which bricks have textures uploaded to the
// rendering backend and keeps that set bounded.
package residency

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/golang/groupcache/lru"

	"volbrick/internal/models"
	"volbrick/pkg/arena"
	"volbrick/pkg/brick"
	"volbrick/pkg/logging"
	"volbrick/pkg/metrics"
)

// TextureHandle names a texture owned by the backend.
type TextureHandle uint64

// Uploader is the rendering backend. Upload calls receive packed tiles of
// the brick's allocated size.
type Uploader interface {
	UploadBrick(b *brick.Brick, tile []byte) (TextureHandle, error)
	UploadMask(b *brick.Brick, tile []byte) (TextureHandle, error)
	Release(h TextureHandle)
}

// Resident is a brick whose textures are uploaded.
type Resident struct {
	Brick   *brick.Brick
	Data    TextureHandle
	Mask    TextureHandle
	HasMask bool
}

// Cache keeps at most capacity bricks resident, evicting the least recently
// resolved ones first.
type Cache struct {
	arena    *arena.Arena
	up       Uploader
	entries  *lru.Cache
	capacity int
	dirty    *roaring.Bitmap
	resident *roaring.Bitmap
	log      *logging.Logger
	metrics  *metrics.Metrics
}

// New returns a cache bounded to capacity bricks. A capacity of 0 means
// unbounded.
func New(a *arena.Arena, up Uploader, capacity int, log *logging.Logger, m *metrics.Metrics) *Cache {
	c := &Cache{
		arena:    a,
		up:       up,
		entries:  lru.New(capacity),
		capacity: capacity,
		dirty:    roaring.New(),
		resident: roaring.New(),
		log:      logging.OrNop(log).WithComponent("residency"),
		metrics:  m,
	}
	c.entries.OnEvicted = c.evicted
	return c
}

func (c *Cache) evicted(key lru.Key, value interface{}) {
	r := value.(*Resident)
	c.resident.Remove(uint32(r.Brick.ID))
	c.up.Release(r.Data)
	if r.HasMask {
		c.up.Release(r.Mask)
	}
	c.metrics.ObserveEviction()
	c.log.Debug("brick evicted", "brick", key)
}

// Len returns the number of resident bricks.
func (c *Cache) Len() int { return c.entries.Len() }

// Capacity returns the residency bound.
func (c *Cache) Capacity() int { return c.capacity }

// Resident reports whether brick id has an uploaded texture.
func (c *Cache) Resident(id int) bool {
	return id >= 0 && c.resident.Contains(uint32(id))
}

// Resolve makes bricks resident, in order, and returns the ones that are
// resident afterwards. Bricks whose upload fails are skipped; the frame
// renders without them. Dirty mask textures of resident bricks are
// re-uploaded.
func (c *Cache) Resolve(bricks []*brick.Brick) []Resident {
	var failed int
	for _, b := range bricks {
		if v, ok := c.entries.Get(b.ID); ok {
			r := v.(*Resident)
			if c.dirty.Contains(uint32(b.ID)) {
				if err := c.refreshMask(r); err != nil {
					c.log.Warn("mask re-upload failed", "brick", b.ID, "error", err)
				}
			}
			continue
		}
		r, err := c.upload(b)
		if err != nil {
			failed++
			c.log.Warn("brick skipped", "brick", b.ID, "error", err)
			continue
		}
		c.entries.Add(b.ID, r)
		c.resident.Add(uint32(b.ID))
		c.dirty.Remove(uint32(b.ID))
	}

	out := make([]Resident, 0, len(bricks))
	for _, b := range bricks {
		if v, ok := c.entries.Get(b.ID); ok {
			out = append(out, *v.(*Resident))
		}
	}
	if c.capacity > 0 && len(bricks) > c.capacity {
		c.log.Warn("frame exceeds residency capacity", "bricks", len(bricks), "capacity", c.capacity)
	}
	c.metrics.SetResident(c.entries.Len())
	c.log.Debug("resolved", "requested", len(bricks), "resident", len(out), "failed", failed)
	return out
}

func (c *Cache) upload(b *brick.Brick) (*Resident, error) {
	tile, err := b.Gather(c.arena, brick.ComponentData)
	if err != nil {
		return nil, err
	}
	h, err := c.up.UploadBrick(b, tile)
	c.metrics.ObserveUpload(brick.ComponentData.String(), err)
	if err != nil {
		return nil, unavailable(b, err)
	}
	r := &Resident{Brick: b, Data: h}
	if b.View(brick.ComponentMask).Bound() {
		if err := c.uploadMask(r); err != nil {
			c.up.Release(h)
			return nil, err
		}
	}
	return r, nil
}

func (c *Cache) uploadMask(r *Resident) error {
	tile, err := r.Brick.Gather(c.arena, brick.ComponentMask)
	if err != nil {
		return err
	}
	h, err := c.up.UploadMask(r.Brick, tile)
	c.metrics.ObserveUpload(brick.ComponentMask.String(), err)
	if err != nil {
		return unavailable(r.Brick, err)
	}
	r.Mask = h
	r.HasMask = true
	return nil
}

func (c *Cache) refreshMask(r *Resident) error {
	c.dirty.Remove(uint32(r.Brick.ID))
	if r.HasMask {
		c.up.Release(r.Mask)
		r.HasMask = false
	}
	if !r.Brick.View(brick.ComponentMask).Bound() {
		return nil
	}
	return c.uploadMask(r)
}

func unavailable(b *brick.Brick, err error) error {
	if errors.Is(err, models.ErrResourceUnavailable) {
		return fmt.Errorf("brick %d: %w", b.ID, err)
	}
	return fmt.Errorf("brick %d: %w: %v", b.ID, models.ErrResourceUnavailable, err)
}

// MarkMaskDirty flags the mask textures of ids for re-upload.
func (c *Cache) MarkMaskDirty(ids ...int) {
	for _, id := range ids {
		c.dirty.Add(uint32(id))
	}
}

// MarkAllMasksDirty flags every resident brick, e.g. after undo swaps the
// whole mask volume.
func (c *Cache) MarkAllMasksDirty() {
	c.dirty.Or(c.resident)
}

// DirtyMasks returns the number of bricks flagged for mask re-upload.
func (c *Cache) DirtyMasks() uint64 { return c.dirty.GetCardinality() }

// Clear releases every resident texture, e.g. on a level switch where
// brick ids change meaning.
func (c *Cache) Clear() {
	c.entries.Clear()
	c.dirty.Clear()
	c.metrics.SetResident(0)
}
