// Package rtscene loads glTF documents into the GPU resources a ray tracer
// binds: packed geometry buffers, one BLAS per mesh, a single TLAS over the
// node hierarchy, and the image, sampler and material tables that shading
// indexes.
package rtscene

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/qmuntal/gltf"

	"github.com/gekko3d/rtscene/rt/accel"
	"github.com/gekko3d/rtscene/rt/core"
	"github.com/gekko3d/rtscene/rt/gpu"
	"github.com/gekko3d/rtscene/rt/pack"
	"github.com/gekko3d/rtscene/rt/texture"
)

// ErrImageMismatch means that the decoded images do not line up with the
// document's image array.
var ErrImageMismatch = errors.New("rtscene: decoded images do not match document images")

// Scene is the complete resource set of one loaded document. It is
// immutable once returned and safe for concurrent readers. Release must not
// race with readers.
type Scene struct {
	id    uuid.UUID
	name  string
	label string
	doc   *gltf.Document
	index int

	buffers     *pack.Buffers
	meshes      []core.MeshInfo
	materials   []core.MaterialInfo
	materialBuf gpu.Buffer
	images      []gpu.Image
	samplers    []gpu.Sampler
	blases      []gpu.BLAS
	instances   []accel.Instance
	tlas        *accel.TLASResult
	primitives  uint32
}

// Load imports the document at path and builds its resource set on p.
func Load(ctx context.Context, p gpu.Provider, path string, opts ...Option) (*Scene, error) {
	doc, images, err := Import(path)
	if err != nil {
		return nil, err
	}
	return New(ctx, p, doc, images, opts...)
}

// New builds the resource set of an already parsed document. images must
// be index-aligned with doc.Images. On error every resource created so far
// is released and no Scene is returned.
func New(ctx context.Context, p gpu.Provider, doc *gltf.Document, images []texture.ImageData, opts ...Option) (*Scene, error) {
	o := newOptions(opts)
	id := uuid.New()
	s := &Scene{
		id:    id,
		label: fmt.Sprintf("%s %s", o.labelPrefix, id.String()[:8]),
		doc:   doc,
	}
	log := o.logger

	stages := []struct {
		name string
		run  func() error
	}{
		{"select scene", func() error { return s.selectScene(o.scene) }},
		{"pack", func() error { return s.pack(p) }},
		{"images", func() error { return s.uploadImages(p, images) }},
		{"samplers", func() error { return s.createSamplers(p) }},
		{"materials", func() error { return s.createMaterials(p) }},
		{"blas", func() error { return s.compileGeometry(p) }},
		{"instances", s.buildInstances},
		{"tlas", func() error { return s.buildTLAS(p) }},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			log.Warnf("scene %s: cancelled before %s", id, st.name)
			s.Release()
			return nil, err
		}
		if err := st.run(); err != nil {
			log.Errorf("scene %s: %s failed: %v", id, st.name, err)
			s.Release()
			return nil, fmt.Errorf("rtscene: %s: %w", st.name, err)
		}
		log.Debugf("scene %s: %s done", id, st.name)
	}

	log.Infof("scene %s (%q): %d meshes, %d instances, %d primitive instances, %d materials, %d images",
		id, s.name, len(s.meshes), len(s.instances), s.primitives, len(s.materials), len(s.images))
	return s, nil
}

func (s *Scene) selectScene(requested core.Index) error {
	idx, err := accel.SelectScene(s.doc, requested)
	if err != nil {
		return err
	}
	s.index = idx
	s.name = s.doc.Scenes[idx].Name
	return nil
}

func (s *Scene) pack(p gpu.Provider) error {
	r, err := pack.Pack(s.doc)
	if err != nil {
		return err
	}
	if err := r.Validate(len(s.doc.Meshes)); err != nil {
		return err
	}
	s.meshes = r.Meshes
	s.buffers, err = r.Upload(p, s.label)
	return err
}

func (s *Scene) uploadImages(p gpu.Provider, images []texture.ImageData) error {
	if len(images) != len(s.doc.Images) {
		return fmt.Errorf("%d decoded for %d declared: %w", len(images), len(s.doc.Images), ErrImageMismatch)
	}
	s.images = make([]gpu.Image, 0, len(images))
	for i, img := range images {
		pixels, err := texture.ToBGRA8(img)
		if err != nil {
			return fmt.Errorf("image %d (%q): %w", i, img.Name, err)
		}
		gi, err := p.NewImage(fmt.Sprintf("%s image %d", s.label, i), gpu.PixelBGRA8Unorm, img.Width, img.Height, pixels)
		if err != nil {
			return fmt.Errorf("image %d (%q): %w", i, img.Name, err)
		}
		s.images = append(s.images, gi)
	}
	return nil
}

func (s *Scene) createSamplers(p gpu.Provider) error {
	descs := core.ResolveSamplers(s.doc)
	s.samplers = make([]gpu.Sampler, 0, len(descs))
	for i, d := range descs {
		smp, err := p.NewSampler(fmt.Sprintf("%s sampler %d", s.label, i), d)
		if err != nil {
			return fmt.Errorf("sampler %d: %w", i, err)
		}
		s.samplers = append(s.samplers, smp)
	}
	return nil
}

func (s *Scene) createMaterials(p gpu.Provider) error {
	mats, err := core.ResolveMaterials(s.doc)
	if err != nil {
		return err
	}
	s.materials = mats
	s.materialBuf, err = p.NewBuffer(s.label+" materials", EncodeMaterials(mats), gpu.UsageStorage)
	return err
}

func (s *Scene) compileGeometry(p gpu.Provider) error {
	blases, err := accel.CompileGeometry(p, s.buffers, s.meshes, s.label)
	if err != nil {
		return err
	}
	s.blases = blases
	return nil
}

func (s *Scene) buildInstances() error {
	var err error
	s.instances, s.primitives, err = accel.BuildInstances(s.doc, s.index, s.meshes, s.blases)
	return err
}

func (s *Scene) buildTLAS(p gpu.Provider) error {
	res, err := accel.BuildTLAS(p, s.label, s.instances, s.meshes)
	if err != nil {
		return err
	}
	s.tlas = res
	return nil
}

// Release frees every GPU resource of the scene. It is safe to call more
// than once.
func (s *Scene) Release() {
	if s.tlas != nil {
		s.tlas.Release()
		s.tlas = nil
	}
	for _, b := range s.blases {
		b.Release()
	}
	s.blases = nil
	if s.materialBuf != nil {
		s.materialBuf.Release()
		s.materialBuf = nil
	}
	for _, smp := range s.samplers {
		smp.Release()
	}
	s.samplers = nil
	for _, img := range s.images {
		img.Release()
	}
	s.images = nil
	if s.buffers != nil {
		s.buffers.Release()
		s.buffers = nil
	}
}

func (s *Scene) ID() uuid.UUID { return s.id }

// Name is the name of the instanced document scene.
func (s *Scene) Name() string { return s.name }

func (s *Scene) Document() *gltf.Document { return s.doc }

// TLAS returns the scene's single top-level acceleration structure.
func (s *Scene) TLAS() gpu.TLAS {
	return s.tables().TLAS
}

// BLASes is index-aligned with Meshes.
func (s *Scene) BLASes() []gpu.BLAS { return s.blases }

// Instances are in TLAS order.
func (s *Scene) Instances() []accel.Instance { return s.instances }

// PrimitiveCount is the number of records in the primitive table.
func (s *Scene) PrimitiveCount() uint32 { return s.primitives }

// streams returns the uploaded geometry buffers, empty after Release.
func (s *Scene) streams() pack.Buffers {
	if s.buffers == nil {
		return pack.Buffers{}
	}
	return *s.buffers
}

// tables returns the instance buffers, empty after Release.
func (s *Scene) tables() accel.TLASResult {
	if s.tlas == nil {
		return accel.TLASResult{}
	}
	return *s.tlas
}

func (s *Scene) IndexBuffer() gpu.BufferView {
	return gpu.BufferView{Buffer: s.streams().Index}
}

func (s *Scene) VertexBuffer() gpu.BufferView {
	return gpu.BufferView{Buffer: s.streams().Vertex}
}

// ColorBuffer reports false when no primitive has vertex colors.
func (s *Scene) ColorBuffer() (gpu.BufferView, bool) {
	b := s.streams().Color
	if b == nil {
		return gpu.BufferView{}, false
	}
	return gpu.BufferView{Buffer: b}, true
}

// TexCoordBuffer reports false when no primitive has texture coordinates.
func (s *Scene) TexCoordBuffer() (gpu.BufferView, bool) {
	b := s.streams().TexCoord
	if b == nil {
		return gpu.BufferView{}, false
	}
	return gpu.BufferView{Buffer: b}, true
}

// TransformBuffer holds accel.TransformSize bytes per instance.
func (s *Scene) TransformBuffer() gpu.BufferView {
	return gpu.BufferView{Buffer: s.tables().Transforms}
}

// PrimitiveTable holds accel.PrimitiveRecordSize bytes per primitive
// instance.
func (s *Scene) PrimitiveTable() gpu.BufferView {
	return gpu.BufferView{Buffer: s.tables().PrimitiveTable}
}

// MaterialBuffer holds MaterialSize bytes per entry of Materials.
func (s *Scene) MaterialBuffer() gpu.BufferView {
	return gpu.BufferView{Buffer: s.materialBuf}
}

func (s *Scene) Meshes() []core.MeshInfo { return s.meshes }

// Materials starts with the default material.
func (s *Scene) Materials() []core.MaterialInfo { return s.materials }

// Images is index-aligned with the document's images.
func (s *Scene) Images() []gpu.Image { return s.images }

// Samplers starts with the default sampler.
func (s *Scene) Samplers() []gpu.Sampler { return s.samplers }
