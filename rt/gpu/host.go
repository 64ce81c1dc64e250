package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/rtscene/rt/bvh"
)

// Matches WGSL TriangleRef:
//
//	struct TriangleRef {
//	    geometry : u32;
//	    triangle : u32;
//	    index_byte_offset : u32;  // first of the three indices
//	    vertex_byte_offset : u32; // base of the geometry's vertex view
//	}; -> 16 bytes
const TriangleRefSize = 16

// Matches WGSL Instance:
//
//	struct Instance {
//	    object_to_world : mat4x4<f32>; (64)
//	    world_to_object : mat4x4<f32>; (64)
//	    node_base : u32;    // first node of the instanced BLAS
//	    ref_base : u32;     // first triangle ref of the instanced BLAS
//	    custom_index : u32;
//	    mesh : u32;
//	}; -> 144 bytes
const InstanceSize = 144

// hostBLAS is the CPU-built form of a bottom-level structure.
type hostBLAS struct {
	nodes  []bvh.BVHNode
	refs   []byte
	bounds [2]mgl32.Vec3
	geoms  int
}

// buildHostBLAS reads the triangles referenced by geoms through contents
// and builds a BVH over them. Leaves reference triangles in geometry
// order, then primitive order.
func buildHostBLAS(geoms []TriangleGeometry, contents func(Buffer) ([]byte, error)) (*hostBLAS, error) {
	var tris [][3]mgl32.Vec3
	var refs []byte
	for gi, g := range geoms {
		if err := checkGeometry(g); err != nil {
			return nil, fmt.Errorf("geometry %d: %w", gi, err)
		}
		indices, err := viewBytes(g.Index.BufferView, uint64(g.Index.Count)*g.Index.Format.Size(), contents)
		if err != nil {
			return nil, fmt.Errorf("geometry %d indices: %w", gi, err)
		}
		var span uint64
		if g.Vertex.Count > 0 {
			span = uint64(g.Vertex.Count-1)*g.Vertex.Stride + g.Vertex.Format.Size()
		}
		vertices, err := viewBytes(g.Vertex.BufferView, span, contents)
		if err != nil {
			return nil, fmt.Errorf("geometry %d vertices: %w", gi, err)
		}

		for t := uint32(0); t < g.Index.Count/3; t++ {
			var tri [3]mgl32.Vec3
			for k := 0; k < 3; k++ {
				idx := binary.LittleEndian.Uint32(indices[(3*t+uint32(k))*4:])
				if idx >= g.Vertex.Count {
					return nil, fmt.Errorf("geometry %d triangle %d: index %d past %d vertices: %w",
						gi, t, idx, g.Vertex.Count, ErrInvalidGeometry)
				}
				tri[k] = readVec3(vertices[uint64(idx)*g.Vertex.Stride:])
			}
			tris = append(tris, tri)

			ref := make([]byte, TriangleRefSize)
			binary.LittleEndian.PutUint32(ref[0:4], uint32(gi))
			binary.LittleEndian.PutUint32(ref[4:8], t)
			binary.LittleEndian.PutUint32(ref[8:12], uint32(g.Index.Offset)+3*t*4)
			binary.LittleEndian.PutUint32(ref[12:16], uint32(g.Vertex.Offset))
			refs = append(refs, ref...)
		}
	}

	minB, maxB := bvh.EmptyBounds()
	for _, tri := range tris {
		for _, v := range tri {
			minB, maxB = bvh.Grow(minB, maxB, v, v)
		}
	}

	builder := &bvh.BLASBuilder{}
	return &hostBLAS{
		nodes:  builder.BuildTriangles(tris),
		refs:   refs,
		bounds: [2]mgl32.Vec3{minB, maxB},
		geoms:  len(geoms),
	}, nil
}

func checkGeometry(g TriangleGeometry) error {
	if g.Index.Buffer == nil || g.Vertex.Buffer == nil {
		return fmt.Errorf("nil buffer: %w", ErrInvalidGeometry)
	}
	if g.Index.Format.Size() == 0 {
		return fmt.Errorf("index format %d: %w", g.Index.Format, ErrUnsupportedFormat)
	}
	if g.Vertex.Format.Size() == 0 || g.Vertex.Stride < g.Vertex.Format.Size() {
		return fmt.Errorf("vertex format %d stride %d: %w", g.Vertex.Format, g.Vertex.Stride, ErrUnsupportedFormat)
	}
	if g.Index.Count%3 != 0 {
		return fmt.Errorf("%d indices is not a triangle list: %w", g.Index.Count, ErrInvalidGeometry)
	}
	for _, b := range []Buffer{g.Index.Buffer, g.Vertex.Buffer} {
		if b.Usage()&UsageAccelInput == 0 {
			return fmt.Errorf("buffer %q: %w", b.Label(), ErrBadUsage)
		}
	}
	return nil
}

// viewBytes returns the n bytes addressed by v.
func viewBytes(v BufferView, n uint64, contents func(Buffer) ([]byte, error)) ([]byte, error) {
	data, err := contents(v.Buffer)
	if err != nil {
		return nil, err
	}
	end := v.Offset + n
	if end < v.Offset || end > uint64(len(data)) {
		return nil, fmt.Errorf("buffer %q: [%d, %d) of %d bytes: %w", v.Buffer.Label(), v.Offset, end, len(data), ErrOutOfBounds)
	}
	return data[v.Offset:end], nil
}

func readVec3(b []byte) mgl32.Vec3 {
	return mgl32.Vec3{
		math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
	}
}

// hostTLAS is the CPU-built form of a top-level structure. Every distinct
// BLAS it references is concatenated into blasNodes and refs, and each
// instance records where its BLAS starts.
type hostTLAS struct {
	nodes     []bvh.BVHNode
	instances []byte
	blasNodes []byte
	refs      []byte
	bounds    [2]mgl32.Vec3
	count     int
}

func buildHostTLAS(records []InstanceRecord, host func(BLAS) (*hostBLAS, error)) (*hostTLAS, error) {
	type base struct{ node, ref uint32 }
	bases := make(map[*hostBLAS]base)

	out := &hostTLAS{count: len(records)}
	aabbs := make([][2]mgl32.Vec3, len(records))
	minB, maxB := bvh.EmptyBounds()
	for i, rec := range records {
		hb, err := host(rec.BLAS)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		b, ok := bases[hb]
		if !ok {
			b = base{
				node: uint32(len(out.blasNodes) / bvh.NodeSize),
				ref:  uint32(len(out.refs) / TriangleRefSize),
			}
			bases[hb] = b
			if len(hb.nodes) > 0 {
				out.blasNodes = append(out.blasNodes, bvh.Encode(hb.nodes)...)
			}
			out.refs = append(out.refs, hb.refs...)
		}

		out.instances = append(out.instances, mat4ToBytes(rec.Transform)...)
		out.instances = append(out.instances, mat4ToBytes(rec.Transform.Inv())...)
		tail := make([]byte, 16)
		binary.LittleEndian.PutUint32(tail[0:4], b.node)
		binary.LittleEndian.PutUint32(tail[4:8], b.ref)
		binary.LittleEndian.PutUint32(tail[8:12], rec.CustomIndex)
		binary.LittleEndian.PutUint32(tail[12:16], rec.Mesh)
		out.instances = append(out.instances, tail...)

		aabbs[i] = bvh.TransformAABB(hb.bounds, rec.Transform)
		minB, maxB = bvh.Grow(minB, maxB, aabbs[i][0], aabbs[i][1])
	}

	builder := &bvh.TLASBuilder{}
	out.nodes = builder.Build(aabbs)
	out.bounds = [2]mgl32.Vec3{minB, maxB}
	return out, nil
}

func mat4ToBytes(m [16]float32) []byte {
	buf := make([]byte, 64)
	for i, v := range m {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
