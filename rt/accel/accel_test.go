package accel

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/rtscene/rt/core"
	"github.com/gekko3d/rtscene/rt/gpu"
	"github.com/gekko3d/rtscene/rt/pack"
)

// newDoc returns a document with one mesh per entry of primCounts, each
// primitive a single triangle.
func newDoc(primCounts ...int) *gltf.Document {
	doc := gltf.NewDocument()
	for _, n := range primCounts {
		mesh := &gltf.Mesh{}
		for i := 0; i < n; i++ {
			mesh.Primitives = append(mesh.Primitives, &gltf.Primitive{
				Indices: gltf.Index(modeler.WriteIndices(doc, []uint32{0, 1, 2})),
				Attributes: gltf.PrimitiveAttributes{
					gltf.POSITION: modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}),
				},
			})
		}
		doc.Meshes = append(doc.Meshes, mesh)
	}
	return doc
}

func compile(t *testing.T, doc *gltf.Document) (*gpu.Soft, []core.MeshInfo, []gpu.BLAS) {
	t.Helper()
	r, err := pack.Pack(doc)
	require.NoError(t, err)
	p := gpu.NewSoft()
	bufs, err := r.Upload(p, "test")
	require.NoError(t, err)
	blases, err := CompileGeometry(p, bufs, r.Meshes, "test")
	require.NoError(t, err)
	return p, r.Meshes, blases
}

func TestCompileGeometryAlignsWithMeshes(t *testing.T) {
	doc := newDoc(1, 2, 3)
	_, meshes, blases := compile(t, doc)

	require.Len(t, blases, 3)
	for i, b := range blases {
		assert.Equal(t, len(meshes[i].Primitives), b.Geometries(), "mesh %d", i)
	}
	assert.Equal(t, 3, blases[2].(*gpu.SoftBLAS).Triangles())
}

func TestBuildInstancesCounter(t *testing.T) {
	doc := newDoc(1, 2, 3)
	doc.Nodes = []*gltf.Node{
		{Mesh: gltf.Index(1), Children: []int{1, 2}},
		{Mesh: gltf.Index(0)},
		{Children: []int{3}},
		{Mesh: gltf.Index(1)},
		{Mesh: gltf.Index(2)},
	}
	doc.Scenes[0].Nodes = []int{0, 4}
	_, meshes, blases := compile(t, doc)

	instances, total, err := BuildInstances(doc, 0, meshes, blases)
	require.NoError(t, err)
	require.Len(t, instances, 4)

	// Pre-order, children after their parent.
	assert.Equal(t, []int{0, 1, 3, 4}, []int{instances[0].Node, instances[1].Node, instances[2].Node, instances[3].Node})
	assert.Equal(t, []uint32{0, 2, 3, 5}, []uint32{
		instances[0].PrimitiveOffset, instances[1].PrimitiveOffset,
		instances[2].PrimitiveOffset, instances[3].PrimitiveOffset,
	})
	// Mesh 1 is referenced twice and counts twice.
	assert.Equal(t, uint32(2+1+2+3), total)
	assert.Same(t, blases[1], instances[2].BLAS)
}

func TestBuildInstancesComposesParentFirst(t *testing.T) {
	doc := newDoc(1)
	s := float64(math.Sqrt2 / 2)
	doc.Nodes = []*gltf.Node{
		{
			Mesh:        gltf.Index(0),
			Translation: [3]float64{10, 0, 0},
			Rotation:    [4]float64{0, 0, s, s}, // 90 degrees about Z
			Children:    []int{1},
		},
		{Mesh: gltf.Index(0), Translation: [3]float64{1, 0, 0}},
	}
	doc.Scenes[0].Nodes = []int{0}
	_, meshes, blases := compile(t, doc)

	instances, _, err := BuildInstances(doc, 0, meshes, blases)
	require.NoError(t, err)
	require.Len(t, instances, 2)

	// A root's absolute transform is its local transform.
	assert.True(t, instances[0].Transform.ApproxEqualThreshold(core.NodeTransform(doc.Nodes[0]), 1e-6))

	// The child's offset is rotated by the parent before the parent's translation.
	origin := instances[1].Transform.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 10, origin.X(), 1e-5)
	assert.InDelta(t, 1, origin.Y(), 1e-5)
	assert.InDelta(t, 0, origin.Z(), 1e-5)
}

func TestBuildInstancesUsesMatrix(t *testing.T) {
	doc := newDoc(1)
	m := mgl32.Translate3D(0, 0, 5)
	var matrix [16]float64
	for i, v := range m {
		matrix[i] = float64(v)
	}
	doc.Nodes = []*gltf.Node{{Mesh: gltf.Index(0), Matrix: matrix}}
	doc.Scenes[0].Nodes = []int{0}
	_, meshes, blases := compile(t, doc)

	instances, _, err := BuildInstances(doc, 0, meshes, blases)
	require.NoError(t, err)
	assert.Equal(t, m, instances[0].Transform)
}

func TestBuildInstancesRejectsSharedNodes(t *testing.T) {
	doc := newDoc(1)
	doc.Nodes = []*gltf.Node{
		{Children: []int{1}},
		{Mesh: gltf.Index(0)},
		{Children: []int{1}},
	}
	doc.Scenes[0].Nodes = []int{0, 2}
	_, meshes, blases := compile(t, doc)

	_, _, err := BuildInstances(doc, 0, meshes, blases)
	assert.ErrorIs(t, err, ErrNotATree)

	doc.Nodes = doc.Nodes[:2]
	doc.Scenes[0].Nodes = []int{1, 1}
	_, _, err = BuildInstances(doc, 0, meshes, blases)
	assert.ErrorIs(t, err, ErrNotATree)
}

func TestBuildInstancesInvalidReferences(t *testing.T) {
	doc := newDoc(1)
	doc.Nodes = []*gltf.Node{{Mesh: gltf.Index(4)}}
	doc.Scenes[0].Nodes = []int{0}
	_, meshes, blases := compile(t, doc)

	_, _, err := BuildInstances(doc, 0, meshes, blases)
	assert.ErrorIs(t, err, ErrInvalidReference)

	doc.Nodes = []*gltf.Node{{Children: []int{7}}}
	_, _, err = BuildInstances(doc, 0, meshes, blases)
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, _, err = BuildInstances(doc, 3, meshes, blases)
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, _, err = BuildInstances(doc, 0, meshes, nil)
	assert.ErrorIs(t, err, ErrMisaligned)
}

func TestSelectScene(t *testing.T) {
	doc := gltf.NewDocument()
	doc.Scenes = append(doc.Scenes, &gltf.Scene{Name: "second"})
	doc.Scene = gltf.Index(1)

	idx, err := SelectScene(doc, core.None)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	idx, err = SelectScene(doc, core.Some(0))
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	_, err = SelectScene(doc, core.Some(2))
	assert.ErrorIs(t, err, ErrInvalidReference)

	doc.Scene = nil
	idx, err = SelectScene(doc, core.None)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	doc.Scenes = nil
	_, err = SelectScene(doc, core.None)
	assert.ErrorIs(t, err, ErrNoScene)
}

func TestBuildTLAS(t *testing.T) {
	doc := newDoc(2, 1)
	doc.Nodes = []*gltf.Node{
		{Mesh: gltf.Index(0), Translation: [3]float64{0, 3, 0}},
		{Mesh: gltf.Index(1)},
	}
	doc.Scenes[0].Nodes = []int{0, 1}
	p, meshes, blases := compile(t, doc)
	meshes[1].Primitives[0].Material = core.Some(0)
	meshes[1].Primitives[0].ColorOffset = core.At(32)

	instances, total, err := BuildInstances(doc, 0, meshes, blases)
	require.NoError(t, err)

	res, err := BuildTLAS(p, "test", instances, meshes)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TLAS.Instances())
	assert.Equal(t, 2, res.Instances.Len())
	assert.Equal(t, uint64(2*TransformSize), res.Transforms.Size())
	assert.Equal(t, uint64(total)*PrimitiveRecordSize, res.PrimitiveTable.Size())

	transforms := res.Transforms.(*gpu.SoftBuffer).Bytes()
	ty := math.Float32frombits(binary.LittleEndian.Uint32(transforms[13*4:]))
	assert.Equal(t, float32(3), ty)
	ity := math.Float32frombits(binary.LittleEndian.Uint32(transforms[64+13*4:]))
	assert.InDelta(t, -3, ity, 1e-5)

	table := res.PrimitiveTable.(*gpu.SoftBuffer).Bytes()
	word := func(rec, field int) uint32 {
		return binary.LittleEndian.Uint32(table[rec*PrimitiveRecordSize+field*4:])
	}
	// Instance 1 starts after the two primitives of instance 0.
	assert.Equal(t, uint32(2), instances[1].PrimitiveOffset)
	assert.Equal(t, uint32(3), word(1, 0), "second primitive starts at index 3")
	assert.Equal(t, uint32(0), word(0, 4), "no material")
	assert.Equal(t, uint32(1), word(2, 4), "shifted material")
	assert.Equal(t, uint32(2), word(2, 5), "color offset in elements")
	assert.Equal(t, uint32(NoOffset), word(2, 6))
	assert.Equal(t, PrimitiveHasColor, word(2, 7))

	res.Release()
	for _, b := range blases {
		b.Release()
	}
}
