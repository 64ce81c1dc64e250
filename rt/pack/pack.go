// Package pack decodes the geometry streams of every mesh primitive and
// appends them to shared index, position, color and texcoord buffers.
package pack

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/gekko3d/rtscene/rt/core"
)

// ErrMissingStream means that a primitive lacks indices or positions.
var ErrMissingStream = errors.New("pack: missing required geometry stream")

// ErrUnsupportedFormat means that an accessor's type/component combination
// cannot be packed.
var ErrUnsupportedFormat = errors.New("pack: unsupported accessor format")

// ErrLayout means that packed offsets are out of order or out of bounds.
var ErrLayout = errors.New("pack: inconsistent buffer layout")

// Result is the packed geometry of a document.
// Meshes is index-aligned with the document's meshes.
type Result struct {
	Indices   []byte // uint32
	Positions []byte // float32x3
	Colors    []byte // float32x4
	TexCoords []byte // float32x2
	Meshes    []core.MeshInfo
}

// Pack processes meshes in document order and primitives in mesh order.
// Each stream's offset is recorded before its bytes are appended.
func Pack(doc *gltf.Document) (*Result, error) {
	r := &Result{Meshes: make([]core.MeshInfo, 0, len(doc.Meshes))}
	for mi, mesh := range doc.Meshes {
		info := core.MeshInfo{Name: mesh.Name}
		for pi, prim := range mesh.Primitives {
			p, err := r.packPrimitive(doc, prim)
			if err != nil {
				return nil, fmt.Errorf("mesh %d (%q) primitive %d: %w", mi, mesh.Name, pi, err)
			}
			info.Primitives = append(info.Primitives, p)
		}
		r.Meshes = append(r.Meshes, info)
	}
	if err := r.Validate(len(doc.Meshes)); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Result) packPrimitive(doc *gltf.Document, prim *gltf.Primitive) (core.PrimitiveInfo, error) {
	var info core.PrimitiveInfo
	if prim.Mode != gltf.PrimitiveTriangles {
		return info, fmt.Errorf("primitive mode %d: %w", prim.Mode, ErrUnsupportedFormat)
	}

	if prim.Indices == nil {
		return info, fmt.Errorf("indices: %w", ErrMissingStream)
	}
	indices, err := readIndices(doc, *prim.Indices)
	if err != nil {
		return info, fmt.Errorf("indices: %w", err)
	}

	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return info, fmt.Errorf("%s: %w", gltf.POSITION, ErrMissingStream)
	}
	positions, err := readPositions(doc, posIdx)
	if err != nil {
		return info, fmt.Errorf("%s: %w", gltf.POSITION, err)
	}

	info.IndexOffset = uint64(len(r.Indices))
	info.IndexCount = uint32(len(indices))
	r.Indices = appendU32(r.Indices, indices...)

	info.VertexOffset = uint64(len(r.Positions))
	info.VertexCount = uint32(len(positions))
	for _, v := range positions {
		r.Positions = appendF32(r.Positions, v[:]...)
	}

	if idx, ok := prim.Attributes[gltf.COLOR_0]; ok {
		colors, err := readColors(doc, idx)
		if err != nil {
			return info, fmt.Errorf("%s: %w", gltf.COLOR_0, err)
		}
		if len(colors) != len(positions) {
			return info, fmt.Errorf("%s: %d colors for %d vertices: %w", gltf.COLOR_0, len(colors), len(positions), ErrUnsupportedFormat)
		}
		info.ColorOffset = core.At(uint64(len(r.Colors)))
		for _, c := range colors {
			r.Colors = appendF32(r.Colors, c[:]...)
		}
	}

	if idx, ok := prim.Attributes[gltf.TEXCOORD_0]; ok {
		uvs, err := readTexCoords(doc, idx)
		if err != nil {
			return info, fmt.Errorf("%s: %w", gltf.TEXCOORD_0, err)
		}
		if len(uvs) != len(positions) {
			return info, fmt.Errorf("%s: %d texcoords for %d vertices: %w", gltf.TEXCOORD_0, len(uvs), len(positions), ErrUnsupportedFormat)
		}
		info.TexCoordOffset = core.At(uint64(len(r.TexCoords)))
		for _, uv := range uvs {
			r.TexCoords = appendF32(r.TexCoords, uv[:]...)
		}
	}

	if m := prim.Material; m != nil {
		if *m < 0 || *m >= len(doc.Materials) {
			return info, fmt.Errorf("material %d: %w", *m, core.ErrInvalidReference)
		}
		info.Material = core.Some(*m)
	}
	return info, nil
}

// Validate checks that Meshes is aligned with meshCount document meshes and
// that every primitive's streams follow the previous one inside the buffers.
func (r *Result) Validate(meshCount int) error {
	if len(r.Meshes) != meshCount {
		return fmt.Errorf("%d mesh infos for %d meshes: %w", len(r.Meshes), meshCount, ErrLayout)
	}
	var index, vertex, color, texcoord uint64
	for mi := range r.Meshes {
		for pi := range r.Meshes[mi].Primitives {
			p := &r.Meshes[mi].Primitives[pi]
			if p.IndexOffset < index || p.IndexEnd() > uint64(len(r.Indices)) {
				return fmt.Errorf("mesh %d primitive %d indices: %w", mi, pi, ErrLayout)
			}
			index = p.IndexEnd()
			if p.VertexOffset < vertex || p.VertexEnd() > uint64(len(r.Positions)) {
				return fmt.Errorf("mesh %d primitive %d positions: %w", mi, pi, ErrLayout)
			}
			vertex = p.VertexEnd()
			if off, ok := p.ColorOffset.Get(); ok {
				end := off + uint64(p.VertexCount)*core.ColorSize
				if off < color || end > uint64(len(r.Colors)) {
					return fmt.Errorf("mesh %d primitive %d colors: %w", mi, pi, ErrLayout)
				}
				color = end
			}
			if off, ok := p.TexCoordOffset.Get(); ok {
				end := off + uint64(p.VertexCount)*core.TexCoordSize
				if off < texcoord || end > uint64(len(r.TexCoords)) {
					return fmt.Errorf("mesh %d primitive %d texcoords: %w", mi, pi, ErrLayout)
				}
				texcoord = end
			}
		}
	}
	return nil
}

func accessor(doc *gltf.Document, i int) (*gltf.Accessor, error) {
	if i < 0 || i >= len(doc.Accessors) {
		return nil, fmt.Errorf("accessor %d: %w", i, core.ErrInvalidReference)
	}
	return doc.Accessors[i], nil
}

// Narrow index types are widened to uint32.
func readIndices(doc *gltf.Document, i int) ([]uint32, error) {
	acr, err := accessor(doc, i)
	if err != nil {
		return nil, err
	}
	if acr.Type != gltf.AccessorScalar {
		return nil, unsupported(acr)
	}
	switch acr.ComponentType {
	case gltf.ComponentUbyte, gltf.ComponentUshort, gltf.ComponentUint:
	default:
		return nil, unsupported(acr)
	}
	return modeler.ReadIndices(doc, acr, nil)
}

func readPositions(doc *gltf.Document, i int) ([][3]float32, error) {
	acr, err := accessor(doc, i)
	if err != nil {
		return nil, err
	}
	if acr.Type != gltf.AccessorVec3 || acr.ComponentType != gltf.ComponentFloat {
		return nil, unsupported(acr)
	}
	return modeler.ReadPosition(doc, acr, nil)
}

// readColors returns RGBA colors. Integer components are normalized and a
// missing alpha channel is opaque.
func readColors(doc *gltf.Document, i int) ([][4]float32, error) {
	acr, err := accessor(doc, i)
	if err != nil {
		return nil, err
	}
	data, err := modeler.ReadAccessor(doc, acr, nil)
	if err != nil {
		return nil, err
	}
	var out [][4]float32
	switch v := data.(type) {
	case [][4]float32:
		out = v
	case [][3]float32:
		out = make([][4]float32, len(v))
		for j, c := range v {
			out[j] = [4]float32{c[0], c[1], c[2], 1}
		}
	case [][4]uint8:
		out = make([][4]float32, len(v))
		for j, c := range v {
			out[j] = [4]float32{unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(c[3])}
		}
	case [][3]uint8:
		out = make([][4]float32, len(v))
		for j, c := range v {
			out[j] = [4]float32{unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), 1}
		}
	case [][4]uint16:
		out = make([][4]float32, len(v))
		for j, c := range v {
			out[j] = [4]float32{unorm16(c[0]), unorm16(c[1]), unorm16(c[2]), unorm16(c[3])}
		}
	case [][3]uint16:
		out = make([][4]float32, len(v))
		for j, c := range v {
			out[j] = [4]float32{unorm16(c[0]), unorm16(c[1]), unorm16(c[2]), 1}
		}
	default:
		return nil, unsupported(acr)
	}
	return out, nil
}

func readTexCoords(doc *gltf.Document, i int) ([][2]float32, error) {
	acr, err := accessor(doc, i)
	if err != nil {
		return nil, err
	}
	data, err := modeler.ReadAccessor(doc, acr, nil)
	if err != nil {
		return nil, err
	}
	var out [][2]float32
	switch v := data.(type) {
	case [][2]float32:
		out = v
	case [][2]uint8:
		out = make([][2]float32, len(v))
		for j, c := range v {
			out[j] = [2]float32{unorm8(c[0]), unorm8(c[1])}
		}
	case [][2]uint16:
		out = make([][2]float32, len(v))
		for j, c := range v {
			out[j] = [2]float32{unorm16(c[0]), unorm16(c[1])}
		}
	default:
		return nil, unsupported(acr)
	}
	return out, nil
}

func unsupported(acr *gltf.Accessor) error {
	return fmt.Errorf("%v of %v: %w", acr.Type, acr.ComponentType, ErrUnsupportedFormat)
}

func unorm8(v uint8) float32   { return float32(v) / 255 }
func unorm16(v uint16) float32 { return float32(v) / 65535 }

func appendU32(b []byte, vs ...uint32) []byte {
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

func appendF32(b []byte, vs ...float32) []byte {
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}
