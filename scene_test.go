package rtscene

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/rtscene/rt/accel"
	"github.com/gekko3d/rtscene/rt/core"
	"github.com/gekko3d/rtscene/rt/gpu"
	"github.com/gekko3d/rtscene/rt/pack"
)

func triangleDoc() *gltf.Document {
	doc := gltf.NewDocument()
	doc.Meshes = []*gltf.Mesh{{
		Name: "tri",
		Primitives: []*gltf.Primitive{{
			Indices: gltf.Index(modeler.WriteIndices(doc, []uint16{0, 1, 2})),
			Attributes: gltf.PrimitiveAttributes{
				gltf.POSITION: modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}),
			},
		}},
	}}
	doc.Nodes = []*gltf.Node{{Name: "root", Mesh: gltf.Index(0)}}
	doc.Scenes[0].Name = "main"
	doc.Scenes[0].Nodes = []int{0}
	return doc
}

func saveGLB(t *testing.T, doc *gltf.Document) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scene.glb")
	require.NoError(t, gltf.SaveBinary(doc, path))
	return path
}

func softBytes(t *testing.T, v gpu.BufferView) []byte {
	t.Helper()
	b, ok := v.Buffer.(*gpu.SoftBuffer)
	require.True(t, ok)
	return b.Bytes()
}

func word(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i*4:])
}

func TestLoadOneTriangle(t *testing.T) {
	p := gpu.NewSoft()
	s, err := Load(context.Background(), p, saveGLB(t, triangleDoc()))
	require.NoError(t, err)

	assert.Equal(t, "main", s.Name())
	require.Len(t, s.Meshes(), 1)
	prim := s.Meshes()[0].Primitives[0]
	assert.Equal(t, uint64(0), prim.IndexOffset)
	assert.Equal(t, uint64(0), prim.VertexOffset)
	assert.Equal(t, uint32(3), prim.IndexCount)
	assert.Equal(t, uint32(3), prim.VertexCount)
	assert.Equal(t, core.None, prim.Material)

	require.Len(t, s.Instances(), 1)
	inst := s.Instances()[0]
	assert.Equal(t, mgl32.Ident4(), inst.Transform)
	assert.Equal(t, uint32(0), inst.PrimitiveOffset)
	assert.Equal(t, 1, s.TLAS().Instances())
	require.Len(t, s.BLASes(), 1)
	assert.Equal(t, 1, s.BLASes()[0].Geometries())
	assert.Equal(t, uint32(1), s.PrimitiveCount())

	assert.Equal(t, []byte{0, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0}, softBytes(t, s.IndexBuffer()))
	assert.Equal(t, uint64(36), s.VertexBuffer().Buffer.Size())
	_, ok := s.ColorBuffer()
	assert.False(t, ok)
	_, ok = s.TexCoordBuffer()
	assert.False(t, ok)

	require.Len(t, s.Materials(), 1)
	assert.Equal(t, core.DefaultMaterial(), s.Materials()[0])
	require.Len(t, s.Samplers(), 1)
	assert.Equal(t, core.DefaultSampler(), s.Samplers()[0].Desc())
	assert.Empty(t, s.Images())

	assert.Equal(t, uint64(MaterialSize), s.MaterialBuffer().Buffer.Size())
	assert.Equal(t, uint64(accel.TransformSize), s.TransformBuffer().Buffer.Size())
	assert.Equal(t, uint64(accel.PrimitiveRecordSize), s.PrimitiveTable().Buffer.Size())

	s.Release()
	assert.Equal(t, 0, p.Live())
	s.Release()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{B: 255, A: 128})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func texturedDoc(t *testing.T) *gltf.Document {
	doc := triangleDoc()
	src, err := modeler.WriteImage(doc, "checker", "image/png", bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)

	doc.Samplers = []*gltf.Sampler{{
		MagFilter: gltf.MagNearest,
		MinFilter: gltf.MinNearest,
		WrapS:     gltf.WrapRepeat,
		WrapT:     gltf.WrapMirroredRepeat,
	}}
	doc.Textures = []*gltf.Texture{
		{Sampler: gltf.Index(0), Source: gltf.Index(src)},
		{Source: gltf.Index(src)},
	}
	doc.Materials = []*gltf.Material{{
		Name: "painted",
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor:          &[4]float64{0.5, 0.5, 0.5, 1},
			BaseColorTexture:         &gltf.TextureInfo{Index: 0},
			MetallicRoughnessTexture: &gltf.TextureInfo{Index: 1},
			MetallicFactor:           gltf.Float(0),
			RoughnessFactor:          gltf.Float(0.25),
		},
	}}

	prim := doc.Meshes[0].Primitives[0]
	prim.Material = gltf.Index(0)
	prim.Attributes[gltf.TEXCOORD_0] = modeler.WriteTextureCoord(doc, [][2]float32{{0, 0}, {1, 0}, {0, 1}})
	return doc
}

func TestNewTexturedScene(t *testing.T) {
	doc := texturedDoc(t)
	images, err := ImportImages(doc, "")
	require.NoError(t, err)

	p := gpu.NewSoft()
	s, err := New(context.Background(), p, doc, images)
	require.NoError(t, err)
	defer s.Release()

	require.Len(t, s.Images(), 1)
	img := s.Images()[0].(*gpu.SoftImage)
	assert.Equal(t, uint32(2), img.Width())
	assert.Equal(t, uint32(1), img.Height())
	assert.Equal(t, gpu.PixelBGRA8Unorm, img.Format())
	assert.Equal(t, []byte{0, 0, 255, 255, 255, 0, 0, 128}, img.Pixels())

	require.Len(t, s.Samplers(), 2)
	assert.Equal(t, core.DefaultSampler(), s.Samplers()[0].Desc())
	desc := s.Samplers()[1].Desc()
	assert.Equal(t, core.FilterNearest, desc.MagFilter)
	assert.Equal(t, core.FilterNearest, desc.MinFilter)
	assert.Equal(t, core.AddressRepeat, desc.WrapU)
	assert.Equal(t, core.AddressMirroredRepeat, desc.WrapV)

	require.Len(t, s.Materials(), 2)
	painted := s.Materials()[1]
	require.NotNil(t, painted.BaseColorTexture)
	require.NotNil(t, painted.MetallicRoughnessTexture)
	assert.Equal(t, core.Some(0), painted.BaseColorTexture.Sampler)
	assert.Equal(t, core.None, painted.MetallicRoughnessTexture.Sampler)

	mats := softBytes(t, s.MaterialBuffer())
	require.Len(t, mats, 2*MaterialSize)
	assert.Equal(t, uint32(0), word(mats, 10), "default material is untextured")
	rec := mats[MaterialSize:]
	assert.Equal(t, float32(0.5), math.Float32frombits(word(rec, 0)))
	assert.Equal(t, float32(0.25), math.Float32frombits(word(rec, 5)))
	assert.Equal(t, uint32(1), word(rec, 6), "sampler 0 shifted")
	assert.Equal(t, uint32(0), word(rec, 7))
	assert.Equal(t, uint32(0), word(rec, 8), "default sampler")
	assert.Equal(t, MaterialHasBaseColorTexture|MaterialHasMetallicRoughnessTexture, word(rec, 10))

	tc, ok := s.TexCoordBuffer()
	require.True(t, ok)
	assert.Equal(t, uint64(3*core.TexCoordSize), tc.Buffer.Size())

	table := softBytes(t, s.PrimitiveTable())
	assert.Equal(t, uint32(1), word(table, 4), "material 0 shifted")
	assert.Equal(t, uint32(0), word(table, 6), "texcoord offset")
	assert.Equal(t, uint32(accel.NoOffset), word(table, 5))
	assert.Equal(t, accel.PrimitiveHasTexCoord, word(table, 7))
}

func TestLoadTexturedRoundTrip(t *testing.T) {
	p := gpu.NewSoft()
	s, err := Load(context.Background(), p, saveGLB(t, texturedDoc(t)))
	require.NoError(t, err)
	require.Len(t, s.Images(), 1)
	assert.Equal(t, []byte{0, 0, 255, 255, 255, 0, 0, 128}, s.Images()[0].(*gpu.SoftImage).Pixels())
	s.Release()
	assert.Equal(t, 0, p.Live())
}

func TestLoadIsIdempotent(t *testing.T) {
	doc := triangleDoc()
	doc.Nodes = append(doc.Nodes, &gltf.Node{Mesh: gltf.Index(0), Translation: [3]float64{2, 0, 0}})
	doc.Nodes[0].Children = []int{1}
	path := saveGLB(t, doc)

	p := gpu.NewSoft()
	a, err := Load(context.Background(), p, path)
	require.NoError(t, err)
	defer a.Release()
	b, err := Load(context.Background(), p, path)
	require.NoError(t, err)
	defer b.Release()

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, softBytes(t, a.IndexBuffer()), softBytes(t, b.IndexBuffer()))
	assert.Equal(t, softBytes(t, a.VertexBuffer()), softBytes(t, b.VertexBuffer()))
	assert.Equal(t, softBytes(t, a.TransformBuffer()), softBytes(t, b.TransformBuffer()))
	assert.Equal(t, softBytes(t, a.PrimitiveTable()), softBytes(t, b.PrimitiveTable()))
	assert.Equal(t, softBytes(t, a.MaterialBuffer()), softBytes(t, b.MaterialBuffer()))
	assert.Equal(t, a.Meshes(), b.Meshes())
	assert.Equal(t, a.Materials(), b.Materials())
	assert.Equal(t, a.TLAS().(*gpu.SoftTLAS).InstanceBytes(), b.TLAS().(*gpu.SoftTLAS).InstanceBytes())
}

func TestNewReleasesOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(doc *gltf.Document)
		opts   []Option
		want   error
	}{
		{
			name: "missing positions",
			mutate: func(doc *gltf.Document) {
				delete(doc.Meshes[0].Primitives[0].Attributes, gltf.POSITION)
			},
			want: pack.ErrMissingStream,
		},
		{
			name: "shared node",
			mutate: func(doc *gltf.Document) {
				doc.Scenes[0].Nodes = []int{0, 0}
			},
			want: accel.ErrNotATree,
		},
		{
			name: "missing image data",
			mutate: func(doc *gltf.Document) {
				doc.Images = []*gltf.Image{{Name: "lost"}}
			},
			want: ErrImageMismatch,
		},
		{
			name: "bad texture reference",
			mutate: func(doc *gltf.Document) {
				doc.Materials = []*gltf.Material{{
					PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
						BaseColorTexture: &gltf.TextureInfo{Index: 5},
					},
				}}
			},
			want: core.ErrInvalidReference,
		},
		{
			name:   "scene out of range",
			mutate: func(doc *gltf.Document) {},
			opts:   []Option{WithScene(3)},
			want:   accel.ErrInvalidReference,
		},
		{
			name: "no scene",
			mutate: func(doc *gltf.Document) {
				doc.Scenes = nil
				doc.Scene = nil
			},
			want: accel.ErrNoScene,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := triangleDoc()
			tt.mutate(doc)
			p := gpu.NewSoft()
			s, err := New(context.Background(), p, doc, nil, tt.opts...)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, p.Live())
		})
	}
}

func TestNewCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := gpu.NewSoft()
	s, err := New(ctx, p, triangleDoc(), nil)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.Live())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), gpu.NewSoft(), filepath.Join(t.TempDir(), "missing.glb"))
	assert.Error(t, err)
}

func TestNewWithConfig(t *testing.T) {
	doc := triangleDoc()
	doc.Nodes = append(doc.Nodes, &gltf.Node{Mesh: gltf.Index(0), Scale: [3]float64{2, 2, 2}})
	doc.Scenes = append(doc.Scenes, &gltf.Scene{Name: "alt", Nodes: []int{1}})

	cfg := DefaultConfig()
	cfg.Loader.Scene = gltf.Index(1)
	cfg.Loader.LabelPrefix = "demo"

	s, err := New(context.Background(), gpu.NewSoft(), doc, nil, WithConfig(cfg))
	require.NoError(t, err)
	defer s.Release()

	assert.Equal(t, "alt", s.Name())
	require.Len(t, s.Instances(), 1)
	assert.Equal(t, 1, s.Instances()[0].Node)
	assert.Equal(t, mgl32.Scale3D(2, 2, 2), s.Instances()[0].Transform)
	assert.True(t, strings.HasPrefix(s.TLAS().Label(), "demo "), s.TLAS().Label())
}

func TestAccessorsAfterRelease(t *testing.T) {
	s, err := New(context.Background(), gpu.NewSoft(), triangleDoc(), nil)
	require.NoError(t, err)
	s.Release()

	assert.NotPanics(t, func() {
		assert.Nil(t, s.TLAS())
		assert.Nil(t, s.IndexBuffer().Buffer)
		assert.Nil(t, s.VertexBuffer().Buffer)
		assert.Nil(t, s.TransformBuffer().Buffer)
		assert.Nil(t, s.PrimitiveTable().Buffer)
		assert.Nil(t, s.MaterialBuffer().Buffer)
		_, ok := s.ColorBuffer()
		assert.False(t, ok)
		_, ok = s.TexCoordBuffer()
		assert.False(t, ok)
	})
}
