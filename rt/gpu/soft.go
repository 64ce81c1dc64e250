package gpu

import (
	"fmt"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/rtscene/rt/bvh"
	"github.com/gekko3d/rtscene/rt/core"
)

// Soft is a Provider backed by host memory. Acceleration structures are
// CPU BVHs in the same layout the WGPU provider uploads.
type Soft struct {
	live atomic.Int64
}

func NewSoft() *Soft {
	return &Soft{}
}

// Live returns the number of created resources not yet released.
func (p *Soft) Live() int {
	return int(p.live.Load())
}

type softResource struct {
	p        *Soft
	label    string
	released atomic.Bool
}

func (p *Soft) track(label string) softResource {
	p.live.Add(1)
	return softResource{p: p, label: label}
}

func (r *softResource) Label() string { return r.label }

func (r *softResource) Release() {
	if r.released.CompareAndSwap(false, true) {
		r.p.live.Add(-1)
	}
}

// Released reports whether Release was called.
func (r *softResource) Released() bool { return r.released.Load() }

type SoftBuffer struct {
	softResource
	data  []byte
	usage BufferUsage
}

func (b *SoftBuffer) Size() uint64       { return uint64(len(b.data)) }
func (b *SoftBuffer) Usage() BufferUsage { return b.usage }

// Bytes returns the buffer contents. Callers must not modify them.
func (b *SoftBuffer) Bytes() []byte { return b.data }

func (p *Soft) NewBuffer(label string, data []byte, usage BufferUsage) (Buffer, error) {
	return &SoftBuffer{
		softResource: p.track(label),
		data:         append([]byte(nil), data...),
		usage:        usage,
	}, nil
}

type SoftImage struct {
	softResource
	format        PixelFormat
	width, height uint32
	pixels        []byte
}

func (i *SoftImage) Format() PixelFormat { return i.format }
func (i *SoftImage) Width() uint32       { return i.width }
func (i *SoftImage) Height() uint32      { return i.height }
func (i *SoftImage) Pixels() []byte      { return i.pixels }

func (p *Soft) NewImage(label string, format PixelFormat, width, height uint32, pixels []byte) (Image, error) {
	if err := checkImage(format, width, height, pixels); err != nil {
		return nil, fmt.Errorf("image %q: %w", label, err)
	}
	return &SoftImage{
		softResource: p.track(label),
		format:       format,
		width:        width,
		height:       height,
		pixels:       append([]byte(nil), pixels...),
	}, nil
}

func checkImage(format PixelFormat, width, height uint32, pixels []byte) error {
	bpp := format.Size()
	if bpp == 0 {
		return fmt.Errorf("pixel format %d: %w", format, ErrUnsupportedFormat)
	}
	if width == 0 || height == 0 {
		return fmt.Errorf("%dx%d: %w", width, height, ErrInvalidImage)
	}
	if want := int(width) * int(height) * bpp; len(pixels) != want {
		return fmt.Errorf("%dx%d needs %d bytes, got %d: %w", width, height, want, len(pixels), ErrInvalidImage)
	}
	return nil
}

type SoftSampler struct {
	softResource
	desc core.SamplerDesc
}

func (s *SoftSampler) Desc() core.SamplerDesc { return s.desc }

func (p *Soft) NewSampler(label string, desc core.SamplerDesc) (Sampler, error) {
	return &SoftSampler{softResource: p.track(label), desc: desc}, nil
}

type SoftBLAS struct {
	softResource
	host *hostBLAS
}

func (b *SoftBLAS) Geometries() int       { return b.host.geoms }
func (b *SoftBLAS) Bounds() [2]mgl32.Vec3 { return b.host.bounds }
func (b *SoftBLAS) Nodes() []bvh.BVHNode  { return b.host.nodes }
func (b *SoftBLAS) TriangleRefs() []byte  { return b.host.refs }
func (b *SoftBLAS) Triangles() int        { return len(b.host.refs) / TriangleRefSize }

func (p *Soft) NewBLAS(label string, geoms []TriangleGeometry) (BLAS, error) {
	host, err := buildHostBLAS(geoms, p.contents)
	if err != nil {
		return nil, fmt.Errorf("blas %q: %w", label, err)
	}
	return &SoftBLAS{softResource: p.track(label), host: host}, nil
}

func (p *Soft) contents(b Buffer) ([]byte, error) {
	sb, ok := b.(*SoftBuffer)
	if !ok || sb.p != p {
		return nil, fmt.Errorf("buffer %q: %w", b.Label(), ErrForeignResource)
	}
	return sb.data, nil
}

type SoftInstanceGeometry struct {
	softResource
	records []InstanceRecord
}

func (g *SoftInstanceGeometry) Len() int                  { return len(g.records) }
func (g *SoftInstanceGeometry) Records() []InstanceRecord { return g.records }

func (p *Soft) NewInstanceGeometry(label string, instances []InstanceRecord) (InstanceGeometry, error) {
	for i, rec := range instances {
		if _, err := p.host(rec.BLAS); err != nil {
			return nil, fmt.Errorf("instances %q: record %d: %w", label, i, err)
		}
	}
	return &SoftInstanceGeometry{
		softResource: p.track(label),
		records:      append([]InstanceRecord(nil), instances...),
	}, nil
}

func (p *Soft) host(b BLAS) (*hostBLAS, error) {
	sb, ok := b.(*SoftBLAS)
	if !ok || sb.p != p {
		return nil, ErrForeignResource
	}
	return sb.host, nil
}

type SoftTLAS struct {
	softResource
	host    *hostTLAS
	records []InstanceRecord
}

func (t *SoftTLAS) Instances() int            { return t.host.count }
func (t *SoftTLAS) Bounds() [2]mgl32.Vec3     { return t.host.bounds }
func (t *SoftTLAS) Nodes() []bvh.BVHNode      { return t.host.nodes }
func (t *SoftTLAS) Records() []InstanceRecord { return t.records }
func (t *SoftTLAS) InstanceBytes() []byte     { return t.host.instances }
func (t *SoftTLAS) BLASNodeBytes() []byte     { return t.host.blasNodes }
func (t *SoftTLAS) TriangleRefBytes() []byte  { return t.host.refs }

func (p *Soft) NewTLAS(label string, geoms []InstanceGeometry) (TLAS, error) {
	var records []InstanceRecord
	for i, g := range geoms {
		sg, ok := g.(*SoftInstanceGeometry)
		if !ok || sg.p != p {
			return nil, fmt.Errorf("tlas %q: instance geometry %d: %w", label, i, ErrForeignResource)
		}
		records = append(records, sg.records...)
	}
	host, err := buildHostTLAS(records, p.host)
	if err != nil {
		return nil, fmt.Errorf("tlas %q: %w", label, err)
	}
	return &SoftTLAS{softResource: p.track(label), host: host, records: records}, nil
}
