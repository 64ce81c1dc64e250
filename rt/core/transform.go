package core

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// Transform is a decomposed local transform.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

// NewTransform returns the identity transform.
func NewTransform() *Transform {
	return &Transform{
		Position: mgl32.Vec3{0, 0, 0},
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

func (t *Transform) ObjectToWorld() mgl32.Mat4 {
	// M = T * R * S
	translate := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	rotate := t.Rotation.Normalize().Mat4()
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())

	return translate.Mul4(rotate).Mul4(scale)
}

var identity16 = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// NodeTransform returns the local transform of n.
// An explicit matrix wins over translation/rotation/scale; glTF forbids
// setting both, and an identity matrix is indistinguishable from an unset one.
func NodeTransform(n *gltf.Node) mgl32.Mat4 {
	if m := n.MatrixOrDefault(); m != identity16 && m != [16]float64{} {
		var out mgl32.Mat4
		for i, v := range m {
			out[i] = float32(v) // both column-major
		}
		return out
	}
	tr := n.TranslationOrDefault()
	rot := n.RotationOrDefault()
	sc := n.ScaleOrDefault()
	t := NewTransform()
	t.Position = mgl32.Vec3{float32(tr[0]), float32(tr[1]), float32(tr[2])}
	// glTF stores quaternions as (x, y, z, w).
	t.Rotation = mgl32.Quat{W: float32(rot[3]), V: mgl32.Vec3{float32(rot[0]), float32(rot[1]), float32(rot[2])}}
	t.Scale = mgl32.Vec3{float32(sc[0]), float32(sc[1]), float32(sc[2])}
	return t.ObjectToWorld()
}

// Compose returns the absolute transform of a node whose parent has the
// absolute transform parent: parent * local. Column vectors are assumed,
// so local applies first. Roots compose against mgl32.Ident4().
func Compose(parent, local mgl32.Mat4) mgl32.Mat4 {
	return parent.Mul4(local)
}

// WorldToObject inverts an object-to-world matrix.
// Singular matrices (zero scale) yield the zero matrix.
func WorldToObject(o2w mgl32.Mat4) mgl32.Mat4 {
	return o2w.Inv()
}
