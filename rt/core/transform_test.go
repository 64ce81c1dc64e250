package core

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
)

func TestNodeTransformDefaults(t *testing.T) {
	assert.Equal(t, mgl32.Ident4(), NodeTransform(&gltf.Node{}))
	assert.Equal(t, mgl32.Ident4(), NewTransform().ObjectToWorld())
}

func TestNodeTransformTRS(t *testing.T) {
	s := math.Sqrt2 / 2
	n := &gltf.Node{
		Translation: [3]float64{1, 2, 3},
		Rotation:    [4]float64{0, 0, s, s}, // 90 degrees about Z
		Scale:       [3]float64{2, 2, 2},
	}
	m := NodeTransform(n)

	// Scale, then rotate, then translate.
	p := m.Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	assert.InDelta(t, 1, p.X(), 1e-5)
	assert.InDelta(t, 4, p.Y(), 1e-5)
	assert.InDelta(t, 3, p.Z(), 1e-5)
}

func TestNodeTransformMatrixWins(t *testing.T) {
	n := &gltf.Node{
		Matrix:      [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 7, 8, 9, 1},
		Translation: [3]float64{100, 0, 0},
	}
	assert.Equal(t, mgl32.Translate3D(7, 8, 9), NodeTransform(n))
}

func TestComposeOrder(t *testing.T) {
	parent := mgl32.Translate3D(10, 0, 0).Mul4(mgl32.HomogRotate3DZ(mgl32.DegToRad(90)))
	local := mgl32.Translate3D(1, 0, 0)

	abs := Compose(parent, local)
	p := abs.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 10, p.X(), 1e-5)
	assert.InDelta(t, 1, p.Y(), 1e-5)

	// A root composes against identity and keeps its local transform.
	assert.Equal(t, local, Compose(mgl32.Ident4(), local))
}

func TestWorldToObject(t *testing.T) {
	o2w := mgl32.Translate3D(1, 2, 3).Mul4(mgl32.Scale3D(2, 2, 2))
	w2o := WorldToObject(o2w)
	assert.True(t, o2w.Mul4(w2o).ApproxEqualThreshold(mgl32.Ident4(), 1e-5))

	assert.Equal(t, mgl32.Mat4{}, WorldToObject(mgl32.Scale3D(0, 1, 1)))
}
