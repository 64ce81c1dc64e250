// Package accel compiles packed meshes into bottom-level acceleration
// structures and instances them through the node hierarchy into a single
// top-level structure.
package accel

import (
	"errors"
	"fmt"

	"github.com/gekko3d/rtscene/rt/core"
	"github.com/gekko3d/rtscene/rt/gpu"
	"github.com/gekko3d/rtscene/rt/pack"
)

var (
	// ErrNotATree means that a node is reachable more than once from the scene roots.
	ErrNotATree = errors.New("accel: node graph is not a tree")
	// ErrInvalidReference means that a scene, node or mesh index does not exist.
	ErrInvalidReference = errors.New("accel: invalid scene, node or mesh reference")
	// ErrNoScene means that the document has no scene to instance.
	ErrNoScene = errors.New("accel: document has no scene")
	// ErrMisaligned means that per-mesh lists disagree in length.
	ErrMisaligned = errors.New("accel: acceleration structures not aligned with meshes")
)

// CompileGeometry builds one BLAS per mesh, in mesh order. Each primitive
// becomes one triangle geometry viewing its region of the shared index and
// position buffers.
func CompileGeometry(p gpu.Provider, bufs *pack.Buffers, meshes []core.MeshInfo, label string) ([]gpu.BLAS, error) {
	blases := make([]gpu.BLAS, 0, len(meshes))
	release := func() {
		for _, b := range blases {
			b.Release()
		}
	}

	for mi, mesh := range meshes {
		geoms := make([]gpu.TriangleGeometry, 0, len(mesh.Primitives))
		for _, prim := range mesh.Primitives {
			geoms = append(geoms, gpu.TriangleGeometry{
				Index: gpu.IndexBufferView{
					BufferView: gpu.BufferView{Buffer: bufs.Index, Offset: prim.IndexOffset},
					Format:     gpu.IndexUint32,
					Count:      prim.IndexCount,
				},
				Vertex: gpu.VertexBufferView{
					BufferView: gpu.BufferView{Buffer: bufs.Vertex, Offset: prim.VertexOffset},
					Format:     gpu.VertexFloat32x3,
					Stride:     core.PositionSize,
					Count:      prim.VertexCount,
				},
			})
		}

		name := mesh.Name
		if name == "" {
			name = fmt.Sprintf("mesh %d", mi)
		}
		blas, err := p.NewBLAS(label+" "+name, geoms)
		if err != nil {
			release()
			return nil, fmt.Errorf("accel: mesh %d: %w", mi, err)
		}
		blases = append(blases, blas)
	}

	if len(blases) != len(meshes) {
		release()
		return nil, ErrMisaligned
	}
	return blases, nil
}
