package accel

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"

	"github.com/gekko3d/rtscene/rt/core"
	"github.com/gekko3d/rtscene/rt/gpu"
)

// Instance places one mesh's BLAS in the world.
type Instance struct {
	Node      int
	Mesh      int
	Transform mgl32.Mat4 // absolute object-to-world
	// PrimitiveOffset is the number of primitive instances emitted before
	// this one. Entry PrimitiveOffset+g of the flat primitive table
	// describes geometry g of this instance.
	PrimitiveOffset uint32
	BLAS            gpu.BLAS
}

// SelectScene returns the scene to instance: requested when valid, else the
// document's default scene, else the first scene.
func SelectScene(doc *gltf.Document, requested core.Index) (int, error) {
	idx, ok := requested.Get()
	if !ok {
		switch {
		case doc.Scene != nil:
			idx = *doc.Scene
		case len(doc.Scenes) > 0:
			idx = 0
		default:
			return 0, ErrNoScene
		}
	}
	if idx < 0 || idx >= len(doc.Scenes) {
		return 0, fmt.Errorf("scene %d of %d: %w", idx, len(doc.Scenes), ErrInvalidReference)
	}
	return idx, nil
}

type instanceBuilder struct {
	doc     *gltf.Document
	meshes  []core.MeshInfo
	blases  []gpu.BLAS
	visited []bool
	offset  uint32
	out     []Instance
}

// BuildInstances walks the scene depth-first in pre-order and emits one
// instance per mesh-bearing node. It also returns the total number of
// primitive instances, which is the length of the flat primitive table.
func BuildInstances(doc *gltf.Document, scene int, meshes []core.MeshInfo, blases []gpu.BLAS) ([]Instance, uint32, error) {
	if len(blases) != len(meshes) {
		return nil, 0, fmt.Errorf("%d blases for %d meshes: %w", len(blases), len(meshes), ErrMisaligned)
	}
	if scene < 0 || scene >= len(doc.Scenes) {
		return nil, 0, fmt.Errorf("scene %d: %w", scene, ErrInvalidReference)
	}

	b := &instanceBuilder{
		doc:     doc,
		meshes:  meshes,
		blases:  blases,
		visited: make([]bool, len(doc.Nodes)),
	}
	for _, root := range doc.Scenes[scene].Nodes {
		if err := b.visit(root, mgl32.Ident4()); err != nil {
			return nil, 0, err
		}
	}
	return b.out, b.offset, nil
}

func (b *instanceBuilder) visit(idx int, parent mgl32.Mat4) error {
	if idx < 0 || idx >= len(b.doc.Nodes) {
		return fmt.Errorf("node %d: %w", idx, ErrInvalidReference)
	}
	if b.visited[idx] {
		return fmt.Errorf("node %d: %w", idx, ErrNotATree)
	}
	b.visited[idx] = true

	node := b.doc.Nodes[idx]
	abs := core.Compose(parent, core.NodeTransform(node))

	if node.Mesh != nil {
		m := *node.Mesh
		if m < 0 || m >= len(b.meshes) {
			return fmt.Errorf("node %d mesh %d: %w", idx, m, ErrInvalidReference)
		}
		b.out = append(b.out, Instance{
			Node:            idx,
			Mesh:            m,
			Transform:       abs,
			PrimitiveOffset: b.offset,
			BLAS:            b.blases[m],
		})
		b.offset += uint32(len(b.meshes[m].Primitives))
	}

	for _, child := range node.Children {
		if err := b.visit(child, abs); err != nil {
			return err
		}
	}
	return nil
}
