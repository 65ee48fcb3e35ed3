package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"volbrick/internal/models"
	"volbrick/pkg/brick"
)

var up = r3.Vec{Y: 1}

// testSet returns a 4x4x4 brick grid
func testSet(t *testing.T) *brick.Set {
	t.Helper()
	set, err := brick.Decompose(models.Resolution{X: 13, Y: 13, Z: 13}, brick.Options{MaxEdge: 4})
	require.NoError(t, err)
	require.Equal(t, 64, set.Len())
	return set
}

func frontCamera() Camera {
	return NewPerspectiveCamera(r3.Vec{X: 0.5, Y: 0.5, Z: 3}, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, up, 60, 1, 0.1, 100)
}

func ids(bricks []*brick.Brick) []int {
	out := make([]int, len(bricks))
	for i, b := range bricks {
		out[i] = b.ID
	}
	return out
}

func TestSortAllOrders(t *testing.T) {
	set := testSet(t)
	cam := frontCamera()

	asc := New(set, Ascending, nil, nil).SortAll(cam)
	require.Len(t, asc, 64)
	for i := 1; i < len(asc); i++ {
		assert.LessOrEqual(t, asc[i-1].Distance, asc[i].Distance)
	}
	// nearest brick faces the camera at +z
	assert.Equal(t, 3, asc[0].Grid[2])

	desc := New(set, Descending, nil, nil).SortAll(cam)
	for i := 1; i < len(desc); i++ {
		assert.GreaterOrEqual(t, desc[i-1].Distance, desc[i].Distance)
	}
	assert.Equal(t, 0, desc[0].Grid[2])
}

func TestSortAllDeterministic(t *testing.T) {
	set := testSet(t)
	s := New(set, Ascending, nil, nil)
	cam := frontCamera()
	first := ids(s.SortAll(cam))
	s.MarkDirty()
	second := ids(s.SortAll(cam))
	assert.Equal(t, first, second)
}

func TestSortAllMemoised(t *testing.T) {
	set := testSet(t)
	s := New(set, Ascending, nil, nil)
	cam := frontCamera()
	s.SortAll(cam)

	set.Bricks[0].Distance = -42
	s.SortAll(cam)
	assert.Equal(t, -42.0, set.Bricks[0].Distance, "clean scheduler must not recompute")

	s.MarkDirty()
	s.SortAll(cam)
	assert.NotEqual(t, -42.0, set.Bricks[0].Distance)

	// a camera move invalidates as well
	set.Bricks[0].Distance = -42
	moved := cam
	moved.Origin = r3.Vec{X: 0.5, Y: 0.5, Z: 4}
	s.SortAll(moved)
	assert.NotEqual(t, -42.0, set.Bricks[0].Distance)
}

func TestOrthographicDistance(t *testing.T) {
	set := testSet(t)
	cam := NewOrthographicCamera(r3.Vec{X: 0.5, Y: 0.5, Z: 3}, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, up, 1, 1, 0.1, 10)
	sorted := New(set, Ascending, nil, nil).SortAll(cam)
	assert.Equal(t, 3, sorted[0].Grid[2])
	assert.Equal(t, 0, sorted[len(sorted)-1].Grid[2])
	// signed projection onto the view direction (0,0,-1)
	assert.Less(t, sorted[0].Distance, 0.0)
}

func TestSelectQuotaBound(t *testing.T) {
	set := testSet(t)
	s := New(set, Ascending, nil, nil)
	cam := frontCamera()
	for quota := 0; quota <= set.Len()+2; quota++ {
		got := s.SelectQuota(cam.Origin, quota, false, cam)
		assert.LessOrEqual(t, len(got), quota, "quota %d", quota)
	}
}

func TestSelectQuotaDegenerate(t *testing.T) {
	set := testSet(t)
	s := New(set, Ascending, nil, nil)
	cam := frontCamera()
	all := s.SortAll(cam)
	assert.Equal(t, ids(all), ids(s.SelectQuota(cam.Origin, set.Len(), false, cam)))

	for _, b := range set.Bricks {
		b.Priority = brick.PriorityEmpty
	}
	for _, quota := range []int{set.Len() - 1, set.Len(), set.Len() + 5} {
		assert.Empty(t, s.SelectQuota(cam.Origin, quota, true, cam), "quota %d", quota)
	}

	set.Bricks[3].Priority = brick.PriorityNonEmpty
	got := s.SelectQuota(cam.Origin, set.Len(), true, cam)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].ID)
}

func TestSelectQuotaFarthestFirst(t *testing.T) {
	set := testSet(t)
	s := New(set, Ascending, nil, nil)
	cam := frontCamera()
	center := cam.Origin

	got := s.SelectQuota(center, 5, false, cam)
	require.Len(t, got, 5, "every brick is in view")
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}

	picked := map[int]bool{}
	minPicked := 1e9
	for _, b := range got {
		picked[b.ID] = true
		if d := r3.Norm(r3.Sub(b.Bounds.Center(), center)); d < minPicked {
			minPicked = d
		}
	}
	for _, b := range set.Bricks {
		if !picked[b.ID] {
			assert.LessOrEqual(t, r3.Norm(r3.Sub(b.Bounds.Center(), center)), minPicked+1e-12)
		}
	}
}

func TestSelectQuotaSkipsEmpty(t *testing.T) {
	set := testSet(t)
	s := New(set, Ascending, nil, nil)
	cam := frontCamera()
	for _, b := range set.Bricks {
		b.Priority = brick.PriorityEmpty
	}
	for _, quota := range []int{0, 1, 10, set.Len() - 1} {
		assert.Empty(t, s.SelectQuota(cam.Origin, quota, true, cam), "quota %d", quota)
	}

	set.Bricks[5].Priority = brick.PriorityNonEmpty
	got := s.SelectQuota(cam.Origin, 10, true, cam)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].ID)
}

type evenOracle struct{}

func (evenOracle) Priority(b *brick.Brick) int { return b.ID % 2 }

func TestSelectQuotaUsesOracle(t *testing.T) {
	set := testSet(t)
	s := New(set, Ascending, evenOracle{}, nil)
	cam := frontCamera()
	got := s.SelectQuota(cam.Origin, 20, true, cam)
	require.Len(t, got, 20)
	for _, b := range got {
		assert.Zero(t, b.ID%2)
	}
}

func TestSelectQuotaCullsBehindCamera(t *testing.T) {
	set := testSet(t)
	s := New(set, Ascending, nil, nil)
	away := NewPerspectiveCamera(r3.Vec{X: 0.5, Y: 0.5, Z: 3}, r3.Vec{X: 0.5, Y: 0.5, Z: 10}, up, 60, 1, 0.1, 100)
	assert.Empty(t, s.SelectQuota(away.Origin, 10, false, away))
}

func TestVisibleEyeInsideBox(t *testing.T) {
	eye := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	cam := NewPerspectiveCamera(eye, r3.Vec{X: 0.5, Y: 0.5, Z: -1}, up, 60, 1, 0.1, 100)
	box := models.NewBox(0.4, 0.4, 0.4, 0.6, 0.6, 0.6)
	assert.True(t, cam.Visible(box))

	behind := models.NewBox(0.4, 0.4, 0.8, 0.6, 0.6, 0.9)
	assert.False(t, cam.Visible(behind))

	ahead := models.NewBox(0.4, 0.4, 0.0, 0.6, 0.6, 0.1)
	assert.True(t, cam.Visible(ahead))
}

func TestVisibleOutsideSideFace(t *testing.T) {
	cam := NewOrthographicCamera(r3.Vec{X: 0.5, Y: 0.5, Z: 3}, r3.Vec{X: 0.5, Y: 0.5, Z: 0}, up, 0.25, 0.25, 0.1, 10)
	inView := models.NewBox(0.4, 0.4, 0, 0.6, 0.6, 1)
	leftOf := models.NewBox(0, 0, 0, 0.2, 1, 1)
	assert.True(t, cam.Visible(inView))
	assert.False(t, cam.Visible(leftOf))
}

func TestVisibleBehindEye(t *testing.T) {
	cam := frontCamera()
	behind := models.NewBox(0.4, 0.4, 4, 0.6, 0.6, 5)
	wideBehind := models.NewBox(-5, -5, 3.5, 6, 6, 8)
	ahead := models.NewBox(0.4, 0.4, 0, 0.6, 0.6, 1)
	assert.False(t, cam.Visible(behind))
	assert.False(t, cam.Visible(wideBehind))
	assert.True(t, cam.Visible(ahead))
}

func TestSetBricksReplacesSet(t *testing.T) {
	s := New(testSet(t), Ascending, nil, nil)
	small, err := brick.Decompose(models.Resolution{X: 4, Y: 4, Z: 4}, brick.Options{MaxEdge: 4})
	require.NoError(t, err)
	s.SetBricks(small)
	assert.Equal(t, 1, s.Len())
	assert.Len(t, s.SortAll(frontCamera()), 1)
}

func TestParseOrder(t *testing.T) {
	assert.Equal(t, Descending, ParseOrder("descending"))
	assert.Equal(t, Ascending, ParseOrder("ascending"))
	assert.Equal(t, Ascending, ParseOrder(""))
}
