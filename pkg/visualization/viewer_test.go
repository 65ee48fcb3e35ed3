package visualization

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"volbrick/internal/models"
	"volbrick/pkg/config"
	"volbrick/pkg/volume"
)

const width, height, depth = 10, 10, 5

// newTestVolume loads a volume where every z slice has the value 50*z
func newTestVolume(t *testing.T) *volume.Volume {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Bricks.MaxEdge = 4
	vol, err := volume.New(cfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}

	res := models.Resolution{X: width, Y: height, Z: depth}
	data := make([]byte, res.Voxels())
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				data[res.Index(x, y, z)] = byte(50 * z)
			}
		}
	}
	if err := vol.Load(data, res, models.Spacing{X: 1, Y: 1, Z: 2}); err != nil {
		t.Fatalf("Failed to load volume: %v", err)
	}
	return vol
}

// TestExtractSlice verifies that slices are read back through the bricks
func TestExtractSlice(t *testing.T) {
	viewer := NewViewer(newTestVolume(t))
	viewer.ShowGrid = false

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		expected := uint8(float64(50*z) / 200 * 255)
		got := img.(*image.RGBA).RGBAAt(width/2, height/2).G
		if got != expected {
			t.Errorf("Expected Z slice value %d at center, got %d", expected, got)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
}

// TestBrickGrid verifies that brick borders are outlined
func TestBrickGrid(t *testing.T) {
	viewer := NewViewer(newTestVolume(t))
	img, err := viewer.ExtractSlice("z", 1)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	rgba := img.(*image.RGBA)

	// bricks of edge 4 advance by 3 voxels
	if c := rgba.RGBAAt(3, 1); c != gridColor {
		t.Errorf("Expected grid color at brick border, got %v", c)
	}
	if c := rgba.RGBAAt(1, 1); c == gridColor {
		t.Errorf("Expected data color inside brick, got grid color")
	}
}

// TestMaskOverlay verifies that painted voxels are tinted
func TestMaskOverlay(t *testing.T) {
	vol := newTestVolume(t)
	if !vol.BeginEdit() {
		t.Fatal("Failed to begin edit")
	}
	if err := vol.Paint(5, 5, 2, 1); err != nil {
		t.Fatalf("Failed to paint: %v", err)
	}
	vol.CommitEdit()

	viewer := NewViewer(vol)
	viewer.ShowGrid = false
	img, err := viewer.ExtractSlice("z", 2)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	rgba := img.(*image.RGBA)

	painted := rgba.RGBAAt(5, 5)
	if painted.R <= painted.G {
		t.Errorf("Expected painted voxel to be tinted, got %v", painted)
	}
	plain := rgba.RGBAAt(4, 5)
	if plain.R != plain.G {
		t.Errorf("Expected unpainted voxel to be gray, got %v", plain)
	}

	viewer.ShowMask = false
	img, _ = viewer.ExtractSlice("z", 2)
	if c := img.(*image.RGBA).RGBAAt(5, 5); c != (color.RGBA{R: plain.R, G: plain.G, B: plain.B, A: 255}) {
		t.Errorf("Expected no tint with mask overlay off, got %v", c)
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir, err := os.MkdirTemp("", "viewer-sequence-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	viewer := NewViewer(newTestVolume(t))

	outputDir := filepath.Join(tempDir, "slices")
	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.jpg", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}

// TestUnloadedVolume verifies that an unloaded volume cannot be viewed
func TestUnloadedVolume(t *testing.T) {
	vol := newTestVolume(t)
	vol.Unload()
	viewer := NewViewer(vol)
	if _, err := viewer.ExtractSlice("z", 0); err == nil {
		t.Error("Expected error for unloaded volume, got nil")
	}
}
