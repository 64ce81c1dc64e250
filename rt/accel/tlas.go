package accel

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/rtscene/rt/core"
	"github.com/gekko3d/rtscene/rt/gpu"
)

// Matches WGSL InstanceTransform:
//
//	struct InstanceTransform {
//	    object_to_world : mat4x4<f32>; (64)
//	    world_to_object : mat4x4<f32>; (64)
//	}; -> 128 bytes
const TransformSize = 128

// Matches WGSL PrimitiveRecord:
//
//	struct PrimitiveRecord {
//	    index_offset : u32;    // in indices
//	    vertex_offset : u32;   // in vertices
//	    index_count : u32;
//	    vertex_count : u32;
//	    material : u32;        // 0 = default material
//	    color_offset : u32;    // in colors, NoOffset when absent
//	    texcoord_offset : u32; // in texcoords, NoOffset when absent
//	    flags : u32;
//	}; -> 32 bytes
const PrimitiveRecordSize = 32

// NoOffset marks an absent optional stream in a PrimitiveRecord.
const NoOffset = 0xFFFFFFFF

const (
	PrimitiveHasColor uint32 = 1 << iota
	PrimitiveHasTexCoord
)

// TLASResult is the device side of the instance hierarchy.
type TLASResult struct {
	TLAS           gpu.TLAS
	Instances      gpu.InstanceGeometry
	Transforms     gpu.Buffer
	PrimitiveTable gpu.Buffer
}

func (r *TLASResult) Release() {
	for _, res := range []gpu.Resource{r.TLAS, r.Instances, r.Transforms, r.PrimitiveTable} {
		if res != nil {
			res.Release()
		}
	}
}

// BuildTLAS creates the instance geometry and exactly one TLAS over it,
// plus the per-instance transform buffer and the flat primitive table.
func BuildTLAS(p gpu.Provider, label string, instances []Instance, meshes []core.MeshInfo) (*TLASResult, error) {
	records := make([]gpu.InstanceRecord, len(instances))
	for i, inst := range instances {
		records[i] = gpu.InstanceRecord{
			Transform:   inst.Transform,
			BLAS:        inst.BLAS,
			CustomIndex: inst.PrimitiveOffset,
			Mesh:        uint32(inst.Mesh),
		}
	}

	r := &TLASResult{}
	var err error
	fail := func() (*TLASResult, error) {
		r.Release()
		return nil, err
	}

	if r.Instances, err = p.NewInstanceGeometry(label+" instances", records); err != nil {
		return fail()
	}
	if r.TLAS, err = p.NewTLAS(label+" tlas", []gpu.InstanceGeometry{r.Instances}); err != nil {
		return fail()
	}
	if r.Transforms, err = p.NewBuffer(label+" transforms", EncodeTransforms(instances), gpu.UsageStorage); err != nil {
		return fail()
	}
	if r.PrimitiveTable, err = p.NewBuffer(label+" primitive table", EncodePrimitiveTable(instances, meshes), gpu.UsageStorage); err != nil {
		return fail()
	}
	return r, nil
}

// EncodeTransforms packs one TransformSize record per instance, in
// emission order.
func EncodeTransforms(instances []Instance) []byte {
	out := make([]byte, 0, len(instances)*TransformSize)
	for _, inst := range instances {
		out = appendMat4(out, inst.Transform)
		out = appendMat4(out, core.WorldToObject(inst.Transform))
	}
	return out
}

// EncodePrimitiveTable packs one PrimitiveRecordSize record per primitive
// of every instance, so that record PrimitiveOffset+g belongs to geometry
// g of the instance.
func EncodePrimitiveTable(instances []Instance, meshes []core.MeshInfo) []byte {
	var out []byte
	for _, inst := range instances {
		for _, p := range meshes[inst.Mesh].Primitives {
			var flags uint32
			color, texcoord := uint32(NoOffset), uint32(NoOffset)
			if off, ok := p.ColorOffset.Get(); ok {
				color = uint32(off / core.ColorSize)
				flags |= PrimitiveHasColor
			}
			if off, ok := p.TexCoordOffset.Get(); ok {
				texcoord = uint32(off / core.TexCoordSize)
				flags |= PrimitiveHasTexCoord
			}
			for _, v := range []uint32{
				uint32(p.IndexOffset / core.IndexSize),
				uint32(p.VertexOffset / core.PositionSize),
				p.IndexCount,
				p.VertexCount,
				p.Material.Shifted(),
				color,
				texcoord,
				flags,
			} {
				out = binary.LittleEndian.AppendUint32(out, v)
			}
		}
	}
	return out
}

func appendMat4(b []byte, m mgl32.Mat4) []byte {
	for _, v := range m {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}
