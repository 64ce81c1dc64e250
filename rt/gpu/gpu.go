// Package gpu defines the device capabilities the scene compiler needs:
// immutable buffers, images, samplers and two-level acceleration
// structures. All creation methods are synchronous and fallible.
package gpu

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/rtscene/rt/core"
)

// ErrOutOfBounds means that a buffer view reaches past the end of its buffer.
var ErrOutOfBounds = errors.New("gpu: buffer view out of bounds")

// ErrBadUsage means that a buffer lacks the usage required by an operation.
var ErrBadUsage = errors.New("gpu: buffer usage mismatch")

// ErrUnsupportedFormat means that a format/stride combination cannot be consumed.
var ErrUnsupportedFormat = errors.New("gpu: unsupported format")

// ErrForeignResource means that a resource created by another provider was passed in.
var ErrForeignResource = errors.New("gpu: resource belongs to a different provider")

// ErrInvalidGeometry means that geometry does not describe a triangle list.
var ErrInvalidGeometry = errors.New("gpu: invalid triangle geometry")

// ErrInvalidImage means that image dimensions and pixel data disagree.
var ErrInvalidImage = errors.New("gpu: invalid image data")

// BufferUsage is a set of buffer usage flags.
type BufferUsage uint32

const (
	UsageVertex BufferUsage = 1 << iota
	UsageIndex
	UsageStorage
	// Read-only input to acceleration structure builds.
	UsageAccelInput
)

type IndexFormat int

const IndexUint32 IndexFormat = iota

// Size returns the size of one index in bytes.
func (f IndexFormat) Size() uint64 {
	switch f {
	case IndexUint32:
		return 4
	default:
		return 0
	}
}

type VertexFormat int

const VertexFloat32x3 VertexFormat = iota

// Size returns the size of one vertex element in bytes.
func (f VertexFormat) Size() uint64 {
	switch f {
	case VertexFloat32x3:
		return 12
	default:
		return 0
	}
}

type PixelFormat int

// Every image is uploaded as 8-bit BGRA.
const PixelBGRA8Unorm PixelFormat = iota

// Size returns the size of one pixel in bytes.
func (f PixelFormat) Size() int {
	switch f {
	case PixelBGRA8Unorm:
		return 4
	default:
		return 0
	}
}

// Resource is implemented by everything a Provider creates.
// Release frees device memory; it is safe to call more than once.
type Resource interface {
	Label() string
	Release()
}

type Buffer interface {
	Resource
	// Size returns the logical size in bytes (before any padding).
	Size() uint64
	Usage() BufferUsage
}

// BufferView addresses a byte offset within a buffer.
type BufferView struct {
	Buffer Buffer
	Offset uint64
}

type IndexBufferView struct {
	BufferView
	Format IndexFormat
	Count  uint32
}

type VertexBufferView struct {
	BufferView
	Format VertexFormat
	Stride uint64
	Count  uint32
}

// TriangleGeometry is one indexed triangle list of a bottom-level structure.
type TriangleGeometry struct {
	Index  IndexBufferView
	Vertex VertexBufferView
}

type Image interface {
	Resource
	Format() PixelFormat
	Width() uint32
	Height() uint32
}

type Sampler interface {
	Resource
	Desc() core.SamplerDesc
}

// BLAS is a bottom-level acceleration structure.
type BLAS interface {
	Resource
	// Geometries returns the number of triangle geometries.
	Geometries() int
	// Bounds returns the local-space bounding box.
	Bounds() [2]mgl32.Vec3
}

// InstanceRecord places a BLAS in the world.
type InstanceRecord struct {
	Transform mgl32.Mat4
	BLAS      BLAS
	// CustomIndex is reported to shaders on hit. The scene stores the
	// instance's first slot in the flat per-primitive table here.
	CustomIndex uint32
	// Mesh identifies the instanced mesh.
	Mesh uint32
}

// InstanceGeometry is device-resident instance storage.
type InstanceGeometry interface {
	Resource
	Len() int
}

// TLAS is a top-level acceleration structure.
type TLAS interface {
	Resource
	Instances() int
	Bounds() [2]mgl32.Vec3
}

// Provider creates device resources.
type Provider interface {
	NewBuffer(label string, data []byte, usage BufferUsage) (Buffer, error)
	NewImage(label string, format PixelFormat, width, height uint32, pixels []byte) (Image, error)
	NewSampler(label string, desc core.SamplerDesc) (Sampler, error)
	NewBLAS(label string, geoms []TriangleGeometry) (BLAS, error)
	NewInstanceGeometry(label string, instances []InstanceRecord) (InstanceGeometry, error)
	NewTLAS(label string, geoms []InstanceGeometry) (TLAS, error)
}
