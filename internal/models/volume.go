package models

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Resolution is the voxel resolution of a volume along x, y and z.
type Resolution struct {
	X, Y, Z int
}

// Valid reports whether every axis is positive.
func (r Resolution) Valid() bool {
	return r.X > 0 && r.Y > 0 && r.Z > 0
}

// Voxels returns the total number of voxels.
func (r Resolution) Voxels() int {
	return r.X * r.Y * r.Z
}

// Axis returns the size along axis 0, 1 or 2.
func (r Resolution) Axis(i int) int {
	switch i {
	case 0:
		return r.X
	case 1:
		return r.Y
	default:
		return r.Z
	}
}

// Index linearizes (x, y, z) in row-major order, x fastest.
func (r Resolution) Index(x, y, z int) int {
	return (z*r.Y+y)*r.X + x
}

// Coords is the inverse of Index.
func (r Resolution) Coords(index int) (x, y, z int) {
	plane := r.X * r.Y
	z = index / plane
	rem := index % plane
	y = rem / r.X
	x = rem % r.X
	return x, y, z
}

// Contains reports whether (x, y, z) lies inside the resolution.
func (r Resolution) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < r.X && y < r.Y && z < r.Z
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%dx%d", r.X, r.Y, r.Z)
}

// Spacing is the physical size of a voxel along each axis.
type Spacing struct {
	X, Y, Z float64
}

// Valid reports whether every axis is positive.
func (s Spacing) Valid() bool {
	return s.X > 0 && s.Y > 0 && s.Z > 0
}

// Vec returns the spacing as a vector.
func (s Spacing) Vec() r3.Vec {
	return r3.Vec{X: s.X, Y: s.Y, Z: s.Z}
}

// Box is an axis aligned box with Min <= Max on every axis.
type Box struct {
	Min, Max r3.Vec
}

// NewBox returns the box spanning the two corners.
func NewBox(x0, y0, z0, x1, y1, z1 float64) Box {
	return Box{Min: r3.Vec{X: x0, Y: y0, Z: z0}, Max: r3.Vec{X: x1, Y: y1, Z: z1}}
}

// Center returns the midpoint of the box.
func (b Box) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

// Diagonal returns the length of the box diagonal.
func (b Box) Diagonal() float64 {
	return r3.Norm(r3.Sub(b.Max, b.Min))
}

// Contains reports whether p is inside the box, faces included.
func (b Box) Contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Inset shrinks the box by d on every face.
func (b Box) Inset(d float64) Box {
	off := r3.Vec{X: d, Y: d, Z: d}
	return Box{Min: r3.Add(b.Min, off), Max: r3.Sub(b.Max, off)}
}

// Corners returns the eight vertices of the box.
func (b Box) Corners() [8]r3.Vec {
	var c [8]r3.Vec
	for i := 0; i < 8; i++ {
		p := b.Min
		if i&1 != 0 {
			p.X = b.Max.X
		}
		if i&2 != 0 {
			p.Y = b.Max.Y
		}
		if i&4 != 0 {
			p.Z = b.Max.Z
		}
		c[i] = p
	}
	return c
}

// VolumeInfo describes one channel of scalar data.
//
// Resolution and spacing are fixed once bricks are built from them; changing
// either requires a rebuild of the brick set.
type VolumeInfo struct {
	// Name identifies the volume in logs
	Name string

	// Res is the voxel resolution
	Res Resolution

	// Spacing is the physical voxel size
	Spacing Spacing

	// Min and Max are the value range of the scalar data
	Min, Max float64

	// MultiComponent is set when data other than the scalar channel
	// (gradient, mask, label) is attached
	MultiComponent bool
}
