package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/rtscene/rt/bvh"
	"github.com/gekko3d/rtscene/rt/core"
)

// WGPU is a Provider backed by a WebGPU device. There is no hardware ray
// tracing in WebGPU, so acceleration structures are built on the CPU and
// uploaded as storage buffers for compute-shader traversal. Buffers keep a
// host copy of their contents so that geometry can be read back for builds.
type WGPU struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
}

// NewWGPU opens a headless device. powerPreference is "low" or "high".
func NewWGPU(powerPreference string) (*WGPU, error) {
	instance := wgpu.CreateInstance(nil)

	pref := wgpu.PowerPreferenceHighPerformance
	if powerPreference == "low" {
		pref = wgpu.PowerPreferenceLowPower
	}
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: pref,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("gpu: request adapter: %w", err)
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "rtscene device",
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("gpu: request device: %w", err)
	}

	return &WGPU{
		Device:   device,
		Queue:    device.GetQueue(),
		instance: instance,
		adapter:  adapter,
	}, nil
}

// NewWGPUFromDevice wraps a device owned by the caller.
func NewWGPUFromDevice(device *wgpu.Device) *WGPU {
	return &WGPU{Device: device, Queue: device.GetQueue()}
}

// Release frees the device if NewWGPU opened it.
func (p *WGPU) Release() {
	if p.adapter == nil {
		return
	}
	p.Queue.Release()
	p.Device.Release()
	p.adapter.Release()
	p.instance.Release()
	p.adapter = nil
}

// createBuffer uploads data, padded to a non-zero multiple of four bytes.
func (p *WGPU) createBuffer(label string, data []byte, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	size := len(data)
	if size%4 != 0 {
		size += 4 - size%4
	}
	if size == 0 {
		size = 4
	}
	contents := data
	if size != len(data) {
		contents = make([]byte, size)
		copy(contents, data)
	}
	buf, err := p.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: contents,
		Usage:    usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %q: %w", label, err)
	}
	return buf, nil
}

type wgpuResource struct {
	p     *WGPU
	label string
}

func (r *wgpuResource) Label() string { return r.label }

type WGPUBuffer struct {
	wgpuResource
	Buffer *wgpu.Buffer
	host   []byte
	usage  BufferUsage
}

func (b *WGPUBuffer) Size() uint64       { return uint64(len(b.host)) }
func (b *WGPUBuffer) Usage() BufferUsage { return b.usage }

func (b *WGPUBuffer) Release() {
	if b.Buffer != nil {
		b.Buffer.Release()
		b.Buffer = nil
	}
}

func (p *WGPU) NewBuffer(label string, data []byte, usage BufferUsage) (Buffer, error) {
	var u wgpu.BufferUsage
	if usage&UsageVertex != 0 {
		u |= wgpu.BufferUsageVertex
	}
	if usage&UsageIndex != 0 {
		u |= wgpu.BufferUsageIndex
	}
	if usage&(UsageStorage|UsageAccelInput) != 0 {
		u |= wgpu.BufferUsageStorage
	}
	buf, err := p.createBuffer(label, data, u)
	if err != nil {
		return nil, err
	}
	return &WGPUBuffer{
		wgpuResource: wgpuResource{p: p, label: label},
		Buffer:       buf,
		host:         append([]byte(nil), data...),
		usage:        usage,
	}, nil
}

type WGPUImage struct {
	wgpuResource
	Texture *wgpu.Texture
	View    *wgpu.TextureView
	format  PixelFormat
	width   uint32
	height  uint32
}

func (i *WGPUImage) Format() PixelFormat { return i.format }
func (i *WGPUImage) Width() uint32       { return i.width }
func (i *WGPUImage) Height() uint32      { return i.height }

func (i *WGPUImage) Release() {
	if i.View != nil {
		i.View.Release()
		i.View = nil
	}
	if i.Texture != nil {
		i.Texture.Release()
		i.Texture = nil
	}
}

func (p *WGPU) NewImage(label string, format PixelFormat, width, height uint32, pixels []byte) (Image, error) {
	if err := checkImage(format, width, height, pixels); err != nil {
		return nil, fmt.Errorf("image %q: %w", label, err)
	}

	extent := wgpu.Extent3D{
		Width:              width,
		Height:             height,
		DepthOrArrayLayers: 1,
	}
	texture, err := p.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label,
		Size:          extent,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatBGRA8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create texture %q: %w", label, err)
	}

	p.Queue.WriteTexture(
		texture.AsImageCopy(),
		pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  width * uint32(format.Size()),
			RowsPerImage: height,
		},
		&extent,
	)

	view, err := texture.CreateView(nil)
	if err != nil {
		texture.Release()
		return nil, fmt.Errorf("gpu: create view %q: %w", label, err)
	}

	return &WGPUImage{
		wgpuResource: wgpuResource{p: p, label: label},
		Texture:      texture,
		View:         view,
		format:       format,
		width:        width,
		height:       height,
	}, nil
}

type WGPUSampler struct {
	wgpuResource
	Sampler *wgpu.Sampler
	desc    core.SamplerDesc
}

func (s *WGPUSampler) Desc() core.SamplerDesc { return s.desc }

func (s *WGPUSampler) Release() {
	if s.Sampler != nil {
		s.Sampler.Release()
		s.Sampler = nil
	}
}

func (p *WGPU) NewSampler(label string, desc core.SamplerDesc) (Sampler, error) {
	sampler, err := p.Device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         label,
		AddressModeU:  addressMode(desc.WrapU),
		AddressModeV:  addressMode(desc.WrapV),
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     filterMode(desc.MagFilter),
		MinFilter:     filterMode(desc.MinFilter),
		MipmapFilter:  wgpu.MipmapFilterModeLinear,
		LodMinClamp:   0.,
		LodMaxClamp:   32.,
		Compare:       wgpu.CompareFunctionUndefined,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create sampler %q: %w", label, err)
	}
	return &WGPUSampler{
		wgpuResource: wgpuResource{p: p, label: label},
		Sampler:      sampler,
		desc:         desc,
	}, nil
}

func filterMode(f core.Filter) wgpu.FilterMode {
	if f == core.FilterNearest {
		return wgpu.FilterModeNearest
	}
	return wgpu.FilterModeLinear
}

func addressMode(m core.AddressMode) wgpu.AddressMode {
	switch m {
	case core.AddressRepeat:
		return wgpu.AddressModeRepeat
	case core.AddressMirroredRepeat:
		return wgpu.AddressModeMirrorRepeat
	default:
		return wgpu.AddressModeClampToEdge
	}
}

// WGPUBLAS lives on the host until a TLAS referencing it is built; its
// nodes are uploaded as part of that TLAS.
type WGPUBLAS struct {
	wgpuResource
	host *hostBLAS
}

func (b *WGPUBLAS) Geometries() int       { return b.host.geoms }
func (b *WGPUBLAS) Bounds() [2]mgl32.Vec3 { return b.host.bounds }
func (b *WGPUBLAS) Release()              {}

func (p *WGPU) NewBLAS(label string, geoms []TriangleGeometry) (BLAS, error) {
	host, err := buildHostBLAS(geoms, p.contents)
	if err != nil {
		return nil, fmt.Errorf("blas %q: %w", label, err)
	}
	return &WGPUBLAS{wgpuResource: wgpuResource{p: p, label: label}, host: host}, nil
}

func (p *WGPU) contents(b Buffer) ([]byte, error) {
	wb, ok := b.(*WGPUBuffer)
	if !ok || wb.p != p {
		return nil, fmt.Errorf("buffer %q: %w", b.Label(), ErrForeignResource)
	}
	return wb.host, nil
}

func (p *WGPU) host(b BLAS) (*hostBLAS, error) {
	wb, ok := b.(*WGPUBLAS)
	if !ok || wb.p != p {
		return nil, ErrForeignResource
	}
	return wb.host, nil
}

type WGPUInstanceGeometry struct {
	wgpuResource
	records []InstanceRecord
}

func (g *WGPUInstanceGeometry) Len() int { return len(g.records) }
func (g *WGPUInstanceGeometry) Release() {}

func (p *WGPU) NewInstanceGeometry(label string, instances []InstanceRecord) (InstanceGeometry, error) {
	for i, rec := range instances {
		if _, err := p.host(rec.BLAS); err != nil {
			return nil, fmt.Errorf("instances %q: record %d: %w", label, i, err)
		}
	}
	return &WGPUInstanceGeometry{
		wgpuResource: wgpuResource{p: p, label: label},
		records:      append([]InstanceRecord(nil), instances...),
	}, nil
}

// WGPUTLAS holds the storage buffers a traversal shader binds.
type WGPUTLAS struct {
	wgpuResource
	NodeBuf        *wgpu.Buffer
	InstanceBuf    *wgpu.Buffer
	BLASNodeBuf    *wgpu.Buffer
	TriangleRefBuf *wgpu.Buffer

	count  int
	bounds [2]mgl32.Vec3
}

func (t *WGPUTLAS) Instances() int        { return t.count }
func (t *WGPUTLAS) Bounds() [2]mgl32.Vec3 { return t.bounds }

func (t *WGPUTLAS) Release() {
	for _, b := range []**wgpu.Buffer{&t.NodeBuf, &t.InstanceBuf, &t.BLASNodeBuf, &t.TriangleRefBuf} {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
}

func (p *WGPU) NewTLAS(label string, geoms []InstanceGeometry) (TLAS, error) {
	var records []InstanceRecord
	for i, g := range geoms {
		wg, ok := g.(*WGPUInstanceGeometry)
		if !ok || wg.p != p {
			return nil, fmt.Errorf("tlas %q: instance geometry %d: %w", label, i, ErrForeignResource)
		}
		records = append(records, wg.records...)
	}
	host, err := buildHostTLAS(records, p.host)
	if err != nil {
		return nil, fmt.Errorf("tlas %q: %w", label, err)
	}

	t := &WGPUTLAS{
		wgpuResource: wgpuResource{p: p, label: label},
		count:        host.count,
		bounds:       host.bounds,
	}
	uploads := []struct {
		suffix string
		dst    **wgpu.Buffer
		data   []byte
	}{
		{"nodes", &t.NodeBuf, bvh.Encode(host.nodes)},
		{"instances", &t.InstanceBuf, host.instances},
		{"blas nodes", &t.BLASNodeBuf, host.blasNodes},
		{"triangle refs", &t.TriangleRefBuf, host.refs},
	}
	for _, u := range uploads {
		buf, err := p.createBuffer(label+" "+u.suffix, u.data, wgpu.BufferUsageStorage)
		if err != nil {
			t.Release()
			return nil, err
		}
		*u.dst = buf
	}
	return t, nil
}
