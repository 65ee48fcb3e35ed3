package scheduler

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"volbrick/internal/models"
)

// Camera is the view state the scheduler orders and culls bricks against.
// All vectors are in the volume's normalized object space.
type Camera struct {
	// Origin is the eye position
	Origin r3.Vec

	// Direction is the viewing direction
	Direction r3.Vec

	// Orthographic selects plane distance instead of eye distance
	Orthographic bool

	// ModelView maps object space to eye space (4x4)
	ModelView *mat.Dense

	// Projection maps eye space to clip space (4x4)
	Projection *mat.Dense
}

// NewPerspectiveCamera builds a camera at eye looking at target.
func NewPerspectiveCamera(eye, target, up r3.Vec, fovyDeg, aspect, near, far float64) Camera {
	return Camera{
		Origin:     eye,
		Direction:  r3.Unit(r3.Sub(target, eye)),
		ModelView:  LookAt(eye, target, up),
		Projection: Perspective(fovyDeg, aspect, near, far),
	}
}

// NewOrthographicCamera builds an orthographic camera at eye looking at
// target with the given half extents of the view volume.
func NewOrthographicCamera(eye, target, up r3.Vec, halfWidth, halfHeight, near, far float64) Camera {
	return Camera{
		Origin:       eye,
		Direction:    r3.Unit(r3.Sub(target, eye)),
		Orthographic: true,
		ModelView:    LookAt(eye, target, up),
		Projection:   Orthographic(-halfWidth, halfWidth, -halfHeight, halfHeight, near, far),
	}
}

// LookAt returns the view matrix of an eye at eye looking at target.
func LookAt(eye, target, up r3.Vec) *mat.Dense {
	f := r3.Unit(r3.Sub(target, eye))
	s := r3.Unit(r3.Cross(f, up))
	u := r3.Cross(s, f)
	return mat.NewDense(4, 4, []float64{
		s.X, s.Y, s.Z, -r3.Dot(s, eye),
		u.X, u.Y, u.Z, -r3.Dot(u, eye),
		-f.X, -f.Y, -f.Z, r3.Dot(f, eye),
		0, 0, 0, 1,
	})
}

// Perspective returns a right-handed perspective projection.
func Perspective(fovyDeg, aspect, near, far float64) *mat.Dense {
	f := 1 / math.Tan(fovyDeg*math.Pi/360)
	return mat.NewDense(4, 4, []float64{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, (far + near) / (near - far), 2 * far * near / (near - far),
		0, 0, -1, 0,
	})
}

// Orthographic returns an orthographic projection of the given view volume.
func Orthographic(left, right, bottom, top, near, far float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		2 / (right - left), 0, 0, -(right + left) / (right - left),
		0, 2 / (top - bottom), 0, -(top + bottom) / (top - bottom),
		0, 0, -2 / (far - near), -(far + near) / (far - near),
		0, 0, 0, 1,
	})
}

// frustum is a camera prepared for repeated box tests.
type frustum struct {
	clip        *mat.Dense
	perspective bool
	eye         r3.Vec
	eyeValid    bool
}

func (c Camera) frustum() (*frustum, error) {
	if c.ModelView == nil || c.Projection == nil {
		return nil, fmt.Errorf("camera has no transform")
	}
	fr := &frustum{clip: mat.NewDense(4, 4, nil), perspective: !c.Orthographic}
	fr.clip.Mul(c.Projection, c.ModelView)

	if fr.perspective {
		// the eye in object space is the model-view inverse applied to the
		// eye-space origin
		var inv mat.Dense
		if err := inv.Inverse(c.ModelView); err == nil {
			w := inv.At(3, 3)
			if w != 0 {
				fr.eye = r3.Vec{X: inv.At(0, 3) / w, Y: inv.At(1, 3) / w, Z: inv.At(2, 3) / w}
				fr.eyeValid = true
			}
		}
	}
	return fr, nil
}

// visible is a conservative test: the box is rejected only when all of its
// inset corners lie outside the same clip plane. A perspective eye inside
// the box always sees it.
//
// Planes are tested in homogeneous clip space (|v| against w) rather than
// after the divide by w. Corners behind the eye have w < 0 and would flip
// sign under the divide.
func (fr *frustum) visible(box models.Box) bool {
	if fr.perspective && fr.eyeValid && box.Contains(fr.eye) {
		return true
	}

	var outside [6]int
	p := mat.NewVecDense(4, nil)
	var q mat.VecDense
	for _, c := range insetCorners(box) {
		p.SetVec(0, c.X)
		p.SetVec(1, c.Y)
		p.SetVec(2, c.Z)
		p.SetVec(3, 1)
		q.MulVec(fr.clip, p)
		w := q.AtVec(3)
		for a := 0; a < 3; a++ {
			v := q.AtVec(a)
			if v > w {
				outside[2*a]++
			}
			if v < -w {
				outside[2*a+1]++
			}
		}
	}
	for _, n := range outside {
		if n == 8 {
			return false
		}
	}
	return true
}

// Visible reports whether box passes the frustum test for c. A camera
// without transforms sees everything.
func (c Camera) Visible(box models.Box) bool {
	fr, err := c.frustum()
	if err != nil {
		return true
	}
	return fr.visible(box)
}

// insetCorners returns the box corners pulled in by a thousandth of the
// diagonal so bricks sharing a face do not tie.
func insetCorners(box models.Box) [8]r3.Vec {
	return box.Inset(box.Diagonal() / 1000).Corners()
}
