package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"volbrick/pkg/brick"
	"volbrick/pkg/volume"
)

var (
	gridColor = color.RGBA{R: 40, G: 160, B: 255, A: 255}
	maskColor = color.RGBA{R: 255, G: 40, B: 40, A: 255}
)

// Viewer renders axis-aligned slices of a volume's active bricks for
// inspection. Voxels are read through the brick views, so the picture shows
// exactly what an uploader would receive.
type Viewer struct {
	vol *volume.Volume

	// ShowGrid outlines the valid region of every brick
	ShowGrid bool

	// ShowMask tints voxels whose mask value is non-zero
	ShowMask bool

	// MaskOpacity is the tint strength in [0,1]
	MaskOpacity float64
}

// NewViewer creates a viewer over vol with grid and mask overlays enabled.
func NewViewer(vol *volume.Volume) *Viewer {
	return &Viewer{
		vol:         vol,
		ShowGrid:    true,
		ShowMask:    true,
		MaskOpacity: 0.5,
	}
}

// slicePlane maps image coordinates (u, w) at position p to voxel
// coordinates for axis.
func slicePlane(axis string, nx, ny, nz int) (width, height, depth int, voxel func(u, w, p int) (int, int, int), err error) {
	switch axis {
	case "x", "X":
		return nz, ny, nx, func(u, w, p int) (int, int, int) { return p, w, u }, nil
	case "y", "Y":
		return nx, nz, ny, func(u, w, p int) (int, int, int) { return u, p, w }, nil
	case "z", "Z":
		return nx, ny, nz, func(u, w, p int) (int, int, int) { return u, w, p }, nil
	}
	return 0, 0, 0, nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice renders the slice at position along axis of the active
// level.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if !v.vol.Loaded() {
		return nil, volume.ErrNotLoaded
	}
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	set := v.vol.Bricks()
	info := v.vol.Info()
	res := set.Res
	width, height, depth, voxel, err := slicePlane(axis, res.X, res.Y, res.Z)
	if err != nil {
		return nil, err
	}
	if position >= depth {
		return nil, fmt.Errorf("position %d exceeds %s extent %d", position, axis, depth)
	}

	span := info.Max - info.Min
	if span <= 0 {
		span = 1
	}
	a := v.vol.Arena()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for w := 0; w < height; w++ {
		for u := 0; u < width; u++ {
			x, y, z := voxel(u, w, position)
			b := set.Brick(set.BrickIDAt(x, y, z))
			lx, ly, lz := x-b.Data.Min[0], y-b.Data.Min[1], z-b.Data.Min[2]

			p, err := b.Voxel(a, brick.ComponentData, lx, ly, lz)
			if err != nil {
				return nil, err
			}
			g := uint8(math.Max(0, math.Min(255, (float64(p[0])-info.Min)/span*255)))
			c := color.RGBA{R: g, G: g, B: g, A: 255}

			if v.ShowMask && b.View(brick.ComponentMask).Bound() {
				if m, err := b.Voxel(a, brick.ComponentMask, lx, ly, lz); err == nil && m[0] != 0 {
					c = blend(c, maskColor, v.MaskOpacity)
				}
			}
			if v.ShowGrid && onBorder(b, x, y, z, axis) {
				c = gridColor
			}
			img.SetRGBA(u, w, c)
		}
	}
	return img, nil
}

// onBorder reports whether the voxel lies on the low edge of its brick's
// valid region along one of the in-plane axes.
func onBorder(b *brick.Brick, x, y, z int, axis string) bool {
	c := [3]int{x, y, z}
	skip := map[string]int{"x": 0, "X": 0, "y": 1, "Y": 1, "z": 2, "Z": 2}[axis]
	for i := 0; i < 3; i++ {
		if i == skip {
			continue
		}
		if c[i] == b.Valid.Min[i] && c[i] > 0 {
			return true
		}
	}
	return false
}

func blend(a, b color.RGBA, t float64) color.RGBA {
	mix := func(x, y uint8) uint8 { return uint8(float64(x)*(1-t) + float64(y)*t) }
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if !v.vol.Loaded() {
		return volume.ErrNotLoaded
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	res := v.vol.Bricks().Res
	_, _, depth, _, err := slicePlane(axis, res.X, res.Y, res.Z)
	if err != nil {
		return err
	}

	for pos := 0; pos < depth; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
