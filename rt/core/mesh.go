package core

// Element sizes of the packed streams, in bytes.
const (
	IndexSize    = 4  // uint32
	PositionSize = 12 // float32x3
	ColorSize    = 16 // float32x4
	TexCoordSize = 8  // float32x2
)

// PrimitiveInfo locates one primitive inside the shared packed buffers.
// Offsets are in bytes, counts in elements.
type PrimitiveInfo struct {
	IndexOffset  uint64
	VertexOffset uint64
	IndexCount   uint32
	VertexCount  uint32

	// Material is the document material index. Its shifted form addresses
	// the scene's material list, whose slot 0 is DefaultMaterial.
	Material Index

	ColorOffset    Offset
	TexCoordOffset Offset
}

// IndexEnd returns one past the last byte of the primitive's indices.
func (p *PrimitiveInfo) IndexEnd() uint64 {
	return p.IndexOffset + uint64(p.IndexCount)*IndexSize
}

// VertexEnd returns one past the last byte of the primitive's positions.
func (p *PrimitiveInfo) VertexEnd() uint64 {
	return p.VertexOffset + uint64(p.VertexCount)*PositionSize
}

// MeshInfo is the packed layout of one document mesh.
type MeshInfo struct {
	Name       string
	Primitives []PrimitiveInfo
}
