package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/spatial/r3"

	"volbrick/internal/models"
	"volbrick/pkg/brick"
	"volbrick/pkg/config"
	"volbrick/pkg/logging"
	"volbrick/pkg/metrics"
	"volbrick/pkg/residency"
	"volbrick/pkg/scheduler"
	"volbrick/pkg/visualization"
	"volbrick/pkg/volume"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "volbrick.yaml", "Path to the YAML configuration file")
	rawPath := flag.String("raw", "", "Raw 8-bit volume file (x fastest)")
	dims := flag.String("dims", "", "Volume resolution as X,Y,Z (required with -raw)")
	spacingArg := flag.String("spacing", "1,1,1", "Voxel spacing as SX,SY,SZ")
	synthetic := flag.Int("synthetic", 96, "Edge of a generated test volume when -raw is not given")
	levels := flag.Int("levels", 0, "Pyramid levels (overrides the configuration when > 0)")
	quota := flag.Int("quota", -1, "Out-of-core brick quota (enables out-of-core mode when >= 0)")
	textureBudget := flag.String("texture-budget", "", "Simulated texture memory, e.g. 64MiB")
	dumpDir := flag.String("dump-dir", "", "Directory to save z slices of the active level")
	maskOut := flag.String("mask-out", "", "File to write the final mask snapshot to")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *levels > 0 {
		cfg.Pyramid.Levels = *levels
	}
	if *quota >= 0 {
		cfg.OutOfCore.Enabled = true
		cfg.OutOfCore.Quota = *quota
	}

	logger := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logger.Close()

	fmt.Println("================================")
	fmt.Println("VOLBRICK: OUT-OF-CORE VOLUME BRICK PAGING AND MASKING")
	fmt.Println("================================")

	data, res, spacing, err := loadInput(*rawPath, *dims, *spacingArg, *synthetic)
	if err != nil {
		log.Fatalf("Failed to prepare input: %v", err)
	}
	fmt.Printf("Input volume: %s, %s\n", res, humanize.IBytes(uint64(len(data))))

	budget := uint64(0)
	if *textureBudget != "" {
		if budget, err = humanize.ParseBytes(*textureBudget); err != nil {
			log.Fatalf("Invalid texture budget %q: %v", *textureBudget, err)
		}
	}
	up := newMemUploader(budget)

	reg := prometheus.NewRegistry()
	vol, err := volume.New(cfg, logger, up, metrics.New(reg))
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	vol.SetName(volumeName(*rawPath))

	startTime := time.Now()
	if err := vol.Load(data, res, spacing); err != nil {
		log.Fatalf("Volume failed to load: %v", err)
	}
	set := vol.Bricks()
	fmt.Printf("Decomposed into %d bricks (%dx%dx%d grid, edge %v) in %s\n",
		set.Len(), set.Count[0], set.Count[1], set.Count[2], set.Edge, time.Since(startTime).Round(time.Millisecond))
	if n := vol.LevelCount(); n > 0 {
		fmt.Printf("Pyramid: %d levels\n", n)
		for i := n - 1; i >= 0; i-- {
			vol.SetLevel(i)
			runFrame(vol, fmt.Sprintf("level %d", i))
		}
	} else {
		runFrame(vol, "single resolution")
	}

	fmt.Println("\nMask editing:")
	maskDemo(vol)

	if *maskOut != "" {
		f, err := os.Create(*maskOut)
		if err != nil {
			log.Fatalf("Failed to create mask file: %v", err)
		}
		if err := vol.ExportMask(f); err != nil {
			log.Printf("Warning: mask not exported: %v", err)
		}
		f.Close()
		if st, err := os.Stat(*maskOut); err == nil {
			fmt.Printf("Mask snapshot saved to %s (%s)\n", *maskOut, humanize.IBytes(uint64(st.Size())))
		}
	}

	if *dumpDir != "" {
		fmt.Printf("\nSaving z slices to: %s\n", *dumpDir)
		viewer := visualization.NewViewer(vol)
		if err := viewer.SaveSliceSequence("z", *dumpDir); err != nil {
			log.Printf("Warning: Failed to save slices: %v", err)
		}
	}

	printMetrics(reg)
	vol.Unload()
	fmt.Printf("\nDone. Uploader still holds %d textures.\n", len(up.live))
}

func runFrame(vol *volume.Volume, label string) {
	cam := scheduler.NewPerspectiveCamera(
		r3.Vec{X: 0.5, Y: 0.5, Z: 3}, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, r3.Vec{Y: 1}, 45, 1, 0.1, 100)
	f, err := vol.Frame(cam, cam.Origin)
	if err != nil {
		log.Printf("Warning: frame failed: %v", err)
		return
	}
	info := vol.Info()
	fmt.Printf("- %s: %s, %d bricks scheduled, %d resident\n", label, info.Res, len(f.Bricks), len(f.Resident))
}

func maskDemo(vol *volume.Volume) {
	res := vol.Info().Res
	if !vol.BeginEdit() {
		fmt.Println("- mask history disabled, edits are not undoable")
		return
	}
	c := [3]int{res.X / 2, res.Y / 2, res.Z / 2}
	r := max(1, min(res.X, res.Y, res.Z)/8)
	box := brick.Extent{
		Min: [3]int{c[0] - r, c[1] - r, c[2] - r},
		Max: [3]int{c[0] + r, c[1] + r, c[2] + r},
	}
	if err := vol.PaintBox(box, 1); err != nil {
		log.Printf("Warning: paint failed: %v", err)
	}
	vol.CommitEdit()
	fmt.Printf("- painted %s\n", box)

	fmt.Printf("- undo: %v, painted voxel now %d\n", vol.Undo(), vol.Mask()[res.Index(c[0], c[1], c[2])])
	fmt.Printf("- redo: %v, painted voxel now %d\n", vol.Redo(), vol.Mask()[res.Index(c[0], c[1], c[2])])
	h := vol.History()
	fmt.Printf("- history: %d snapshots, %s\n", h.Len(), humanize.IBytes(uint64(h.Bytes())))
}

// loadInput reads a raw volume or synthesises a sphere with a radial ramp.
func loadInput(rawPath, dims, spacingArg string, synthetic int) ([]byte, models.Resolution, models.Spacing, error) {
	sv, err := parseTriple(spacingArg, strconv.ParseFloat)
	if err != nil {
		return nil, models.Resolution{}, models.Spacing{}, fmt.Errorf("invalid spacing: %w", err)
	}
	spacing := models.Spacing{X: sv[0], Y: sv[1], Z: sv[2]}

	if rawPath == "" {
		if synthetic < 2 {
			return nil, models.Resolution{}, models.Spacing{}, fmt.Errorf("synthetic edge must be at least 2")
		}
		res := models.Resolution{X: synthetic, Y: synthetic, Z: synthetic}
		return sphere(res), res, spacing, nil
	}

	dv, err := parseTriple(dims, func(s string, _ int) (int64, error) { return strconv.ParseInt(s, 10, 0) })
	if err != nil {
		return nil, models.Resolution{}, models.Spacing{}, fmt.Errorf("invalid dims: %w", err)
	}
	res := models.Resolution{X: int(dv[0]), Y: int(dv[1]), Z: int(dv[2])}
	data, err := os.ReadFile(rawPath)
	if err != nil {
		return nil, models.Resolution{}, models.Spacing{}, err
	}
	return data, res, spacing, nil
}

func parseTriple[T int64 | float64](s string, parse func(string, int) (T, error)) ([3]T, error) {
	var out [3]T
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return out, fmt.Errorf("expected three comma separated values, got %q", s)
	}
	for i, p := range parts {
		v, err := parse(strings.TrimSpace(p), 64)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

func sphere(res models.Resolution) []byte {
	data := make([]byte, res.Voxels())
	c := float64(res.X-1) / 2
	radius := 0.35 * float64(res.X)
	for z := 0; z < res.Z; z++ {
		for y := 0; y < res.Y; y++ {
			for x := 0; x < res.X; x++ {
				d := math.Sqrt((float64(x)-c)*(float64(x)-c) + (float64(y)-c)*(float64(y)-c) + (float64(z)-c)*(float64(z)-c))
				if d < radius {
					data[res.Index(x, y, z)] = byte(255 * (1 - d/radius))
				}
			}
		}
	}
	return data
}

func volumeName(rawPath string) string {
	if rawPath == "" {
		return "synthetic"
	}
	return strings.TrimSuffix(filepath.Base(rawPath), filepath.Ext(rawPath))
}

// memUploader stands in for a GPU backend: it hands out texture handles and
// refuses uploads once the simulated texture memory is exhausted.
type memUploader struct {
	budget uint64
	used   uint64
	next   residency.TextureHandle
	live   map[residency.TextureHandle]uint64
}

func newMemUploader(budget uint64) *memUploader {
	return &memUploader{budget: budget, live: make(map[residency.TextureHandle]uint64)}
}

func (u *memUploader) upload(tile []byte) (residency.TextureHandle, error) {
	n := uint64(len(tile))
	if u.budget > 0 && u.used+n > u.budget {
		return 0, fmt.Errorf("%w: %s of %s texture memory in use",
			models.ErrResourceUnavailable, humanize.IBytes(u.used), humanize.IBytes(u.budget))
	}
	u.next++
	u.used += n
	u.live[u.next] = n
	return u.next, nil
}

func (u *memUploader) UploadBrick(_ *brick.Brick, tile []byte) (residency.TextureHandle, error) {
	return u.upload(tile)
}

func (u *memUploader) UploadMask(_ *brick.Brick, tile []byte) (residency.TextureHandle, error) {
	return u.upload(tile)
}

func (u *memUploader) Release(h residency.TextureHandle) {
	u.used -= u.live[h]
	delete(u.live, h)
}

func printMetrics(g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		log.Printf("Warning: Failed to gather metrics: %v", err)
		return
	}
	fmt.Println("\nMetrics:")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			default:
				continue
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			fmt.Printf("- %s: %s\n", name, humanize.Commaf(v))
		}
	}
}
