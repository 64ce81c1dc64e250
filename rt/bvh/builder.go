package bvh

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// Matches WGSL BVHNode:
//
//	struct BVHNode {
//	    aabb_min : vec4<f32>; (16)
//	    aabb_max : vec4<f32>; (16)
//	    left : i32; (4)
//	    right : i32; (4)
//	    leaf_first : i32; (4)
//	    leaf_count : i32; (4)
//	    padding : i32[4]; (16)
//	}; -> 64 bytes
const NodeSize = 64

type BVHNode struct {
	Min       mgl32.Vec3
	Max       mgl32.Vec3
	Left      int32
	Right     int32
	LeafFirst int32
	LeafCount int32
}

// IsLeaf reports whether n references items instead of children.
func (n *BVHNode) IsLeaf() bool { return n.LeafCount > 0 }

func (n *BVHNode) ToBytes() []byte {
	buf := make([]byte, NodeSize)
	n.put(buf)
	return buf
}

func (n *BVHNode) put(buf []byte) {
	// Min (vec4)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(n.Min.X()))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(n.Min.Y()))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(n.Min.Z()))
	binary.LittleEndian.PutUint32(buf[12:16], 0)

	// Max (vec4)
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(n.Max.X()))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(n.Max.Y()))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(n.Max.Z()))
	binary.LittleEndian.PutUint32(buf[28:32], 0)

	// Ints
	binary.LittleEndian.PutUint32(buf[32:36], uint32(n.Left))
	binary.LittleEndian.PutUint32(buf[36:40], uint32(n.Right))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(n.LeafFirst))
	binary.LittleEndian.PutUint32(buf[44:48], uint32(n.LeafCount))
}

// Encode linearizes nodes into the layout above.
// An empty tree encodes as a single zeroed node, since WebGPU
// rejects zero-sized buffers.
func Encode(nodes []BVHNode) []byte {
	if len(nodes) == 0 {
		return make([]byte, NodeSize)
	}
	out := make([]byte, len(nodes)*NodeSize)
	for i := range nodes {
		nodes[i].put(out[i*NodeSize:])
	}
	return out
}

type AABBItem struct {
	Min      mgl32.Vec3
	Max      mgl32.Vec3
	Centroid mgl32.Vec3
	Index    int
}

// Builder builds a binary BVH over axis-aligned boxes. Leaves hold
// exactly one box and reference it by its position in the input.
type Builder struct{}

// Build returns the nodes of the tree, root first.
func (b *Builder) Build(aabbs [][2]mgl32.Vec3) []BVHNode {
	if len(aabbs) == 0 {
		return nil
	}

	items := make([]AABBItem, len(aabbs))
	for i, bounds := range aabbs {
		items[i] = AABBItem{
			Min:      bounds[0],
			Max:      bounds[1],
			Centroid: bounds[0].Add(bounds[1]).Mul(0.5),
			Index:    i,
		}
	}

	nodes := make([]BVHNode, 0, 2*len(items)-1)
	b.recursiveBuild(items, &nodes)
	return nodes
}

func (b *Builder) recursiveBuild(items []AABBItem, nodes *[]BVHNode) int32 {
	idx := int32(len(*nodes))
	*nodes = append(*nodes, BVHNode{Left: -1, Right: -1, LeafFirst: -1, LeafCount: 0})

	minB, maxB := EmptyBounds()
	for _, it := range items {
		minB, maxB = Grow(minB, maxB, it.Min, it.Max)
	}

	(*nodes)[idx].Min = minB
	(*nodes)[idx].Max = maxB

	if len(items) == 1 {
		(*nodes)[idx].LeafFirst = int32(items[0].Index)
		(*nodes)[idx].LeafCount = 1
		return idx
	}

	// Split on the longest axis, at the median centroid.
	extent := maxB.Sub(minB)
	axis := 0
	if extent.Y() > extent.X() {
		axis = 1
	}
	if extent.Z() > extent[axis] {
		axis = 2
	}

	// Stable so that equal centroids keep input order and rebuilding the
	// same input yields byte-identical trees.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Centroid[axis] < items[j].Centroid[axis]
	})

	mid := len(items) / 2
	left := b.recursiveBuild(items[:mid], nodes)
	right := b.recursiveBuild(items[mid:], nodes)
	(*nodes)[idx].Left = left
	(*nodes)[idx].Right = right

	return idx
}

// TLASBuilder builds the top-level tree over instance world bounds.
type TLASBuilder struct{ Builder }

// BLASBuilder builds a bottom-level tree over triangles.
type BLASBuilder struct{ Builder }

// BuildTriangles returns a tree whose leaves reference triangles by
// their position in tris.
func (b *BLASBuilder) BuildTriangles(tris [][3]mgl32.Vec3) []BVHNode {
	aabbs := make([][2]mgl32.Vec3, len(tris))
	for i, t := range tris {
		minB, maxB := EmptyBounds()
		for _, v := range t {
			minB, maxB = Grow(minB, maxB, v, v)
		}
		aabbs[i] = [2]mgl32.Vec3{minB, maxB}
	}
	return b.Build(aabbs)
}

// EmptyBounds returns an inverted box that any Grow call replaces.
func EmptyBounds() (mgl32.Vec3, mgl32.Vec3) {
	inf := float32(math.Inf(1))
	return mgl32.Vec3{inf, inf, inf}, mgl32.Vec3{-inf, -inf, -inf}
}

// Grow returns the union of two boxes.
func Grow(minA, maxA, minB, maxB mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	return mgl32.Vec3{min(minA.X(), minB.X()), min(minA.Y(), minB.Y()), min(minA.Z(), minB.Z())},
		mgl32.Vec3{max(maxA.X(), maxB.X()), max(maxA.Y(), maxB.Y()), max(maxA.Z(), maxB.Z())}
}

// TransformAABB returns a conservative world box of a local box under o2w.
func TransformAABB(aabb [2]mgl32.Vec3, o2w mgl32.Mat4) [2]mgl32.Vec3 {
	minB, maxB := aabb[0], aabb[1]
	if minB.X() > maxB.X() {
		return aabb
	}
	corners := [8]mgl32.Vec3{
		{minB.X(), minB.Y(), minB.Z()},
		{maxB.X(), minB.Y(), minB.Z()},
		{minB.X(), maxB.Y(), minB.Z()},
		{maxB.X(), maxB.Y(), minB.Z()},
		{minB.X(), minB.Y(), maxB.Z()},
		{maxB.X(), minB.Y(), maxB.Z()},
		{minB.X(), maxB.Y(), maxB.Z()},
		{maxB.X(), maxB.Y(), maxB.Z()},
	}
	wMin, wMax := EmptyBounds()
	for _, c := range corners {
		wc := o2w.Mul4x1(c.Vec4(1.0)).Vec3()
		wMin, wMax = Grow(wMin, wMax, wc, wc)
	}
	return [2]mgl32.Vec3{wMin, wMax}
}
