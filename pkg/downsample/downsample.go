// Package downsample produces the decimated levels of a resolution pyramid.
package downsample

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"volbrick/internal/models"
)

// Filter selects how a 2x2x2 block of voxels becomes one voxel.
type Filter int

const (
	// Mean averages intensities.
	Mean Filter = iota
	// Mode keeps the most frequent non-zero value, for label volumes.
	Mode
)

// Options controls Build.
type Options struct {
	// Levels is the total number of levels including the source
	Levels int

	// Workers bounds the z-slab goroutines; 0 uses GOMAXPROCS
	Workers int

	// Channels is the number of interleaved 8-bit channels per voxel
	Channels int

	Filter Filter
}

// Level is one decimated volume.
type Level struct {
	Res     models.Resolution
	Spacing models.Spacing
	Data    []byte
}

// Half returns the resolution one level coarser: each axis halved, rounding
// up, never below 1.
func Half(r models.Resolution) models.Resolution {
	h := func(n int) int {
		if n <= 1 {
			return 1
		}
		return (n + 1) / 2
	}
	return models.Resolution{X: h(r.X), Y: h(r.Y), Z: h(r.Z)}
}

// Build returns up to opts.Levels levels, the first being src itself. Each
// following level halves every axis. Building stops early once every axis
// has reached 1. Spacing grows by the actual per-axis ratio so the physical
// extent is preserved.
func Build(ctx context.Context, src []byte, res models.Resolution, spacing models.Spacing, opts Options) ([]Level, error) {
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Levels <= 0 {
		return nil, &models.ConfigError{Param: "pyramid levels", Value: opts.Levels, Reason: "must be at least 1"}
	}
	if !res.Valid() || !spacing.Valid() {
		return nil, &models.ConfigError{Param: "source geometry", Value: res, Reason: "resolution and spacing must be positive"}
	}
	if len(src) != res.Voxels()*opts.Channels {
		return nil, fmt.Errorf("downsample: source has %d bytes, %s x %d channels needs %d",
			len(src), res, opts.Channels, res.Voxels()*opts.Channels)
	}

	levels := []Level{{Res: res, Spacing: spacing, Data: src}}
	for len(levels) < opts.Levels {
		prev := levels[len(levels)-1]
		if prev.Res.X == 1 && prev.Res.Y == 1 && prev.Res.Z == 1 {
			break
		}
		next := Half(prev.Res)
		data, err := reduce(ctx, prev.Data, prev.Res, next, opts)
		if err != nil {
			return nil, fmt.Errorf("downsample level %d: %w", len(levels), err)
		}
		levels = append(levels, Level{
			Res: next,
			Spacing: models.Spacing{
				X: prev.Spacing.X * float64(prev.Res.X) / float64(next.X),
				Y: prev.Spacing.Y * float64(prev.Res.Y) / float64(next.Y),
				Z: prev.Spacing.Z * float64(prev.Res.Z) / float64(next.Z),
			},
			Data: data,
		})
	}
	return levels, nil
}

// reduce decimates hi into a volume of resolution lo, one output z slice
// per task.
func reduce(ctx context.Context, hi []byte, hr, lr models.Resolution, opts Options) ([]byte, error) {
	ch := opts.Channels
	lo := make([]byte, lr.Voxels()*ch)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for lz := 0; lz < lr.Z; lz++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			reduceSlice(hi, lo, hr, lr, lz, ch, opts.Filter)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lo, nil
}

func reduceSlice(hi, lo []byte, hr, lr models.Resolution, lz, ch int, f Filter) {
	var votes map[byte]int
	if f == Mode {
		votes = make(map[byte]int, 8)
	}
	z0, z1 := span(lz, hr.Z, lr.Z)
	for ly := 0; ly < lr.Y; ly++ {
		y0, y1 := span(ly, hr.Y, lr.Y)
		for lx := 0; lx < lr.X; lx++ {
			x0, x1 := span(lx, hr.X, lr.X)
			li := lr.Index(lx, ly, lz) * ch
			for c := 0; c < ch; c++ {
				var sum, n int
				for z := z0; z < z1; z++ {
					for y := y0; y < y1; y++ {
						for x := x0; x < x1; x++ {
							v := hi[hr.Index(x, y, z)*ch+c]
							if votes != nil {
								if v != 0 {
									votes[v]++
								}
								continue
							}
							sum += int(v)
							n++
						}
					}
				}
				if votes != nil {
					lo[li+c] = winner(votes)
					continue
				}
				lo[li+c] = byte((sum + n/2) / n)
			}
		}
	}
}

// span is the high-resolution range covered by low-resolution index l. An
// axis that did not shrink maps one to one.
func span(l, hn, ln int) (int, int) {
	if hn == ln {
		return l, l + 1
	}
	a := 2 * l
	b := a + 2
	if b > hn {
		b = hn
	}
	return a, b
}

// winner returns the most voted value, smallest value on ties, and resets
// the tally.
func winner(votes map[byte]int) byte {
	var best byte
	var bestVotes int
	for v, n := range votes {
		if n > bestVotes || (n == bestVotes && v < best) {
			best, bestVotes = v, n
		}
		delete(votes, v)
	}
	return best
}
