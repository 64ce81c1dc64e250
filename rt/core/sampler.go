package core

import "github.com/qmuntal/gltf"

// Filter is a texture filtering mode.
type Filter int

const (
	FilterLinear Filter = iota
	FilterNearest
)

func (f Filter) String() string {
	switch f {
	case FilterLinear:
		return "linear"
	case FilterNearest:
		return "nearest"
	default:
		return "[!] invalid Filter value"
	}
}

// AddressMode is a texture coordinate wrapping mode.
type AddressMode int

const (
	AddressClampToEdge AddressMode = iota
	AddressRepeat
	AddressMirroredRepeat
)

func (m AddressMode) String() string {
	switch m {
	case AddressClampToEdge:
		return "clamp-to-edge"
	case AddressRepeat:
		return "repeat"
	case AddressMirroredRepeat:
		return "mirrored-repeat"
	default:
		return "[!] invalid AddressMode value"
	}
}

// SamplerDesc describes a sampler to create.
type SamplerDesc struct {
	Name      string
	MagFilter Filter
	MinFilter Filter
	WrapU     AddressMode
	WrapV     AddressMode
}

// DefaultSampler is the sampler at slot 0 of every scene:
// linear filtering, clamped to edge.
func DefaultSampler() SamplerDesc {
	return SamplerDesc{
		Name:      "default sampler",
		MagFilter: FilterLinear,
		MinFilter: FilterLinear,
		WrapU:     AddressClampToEdge,
		WrapV:     AddressClampToEdge,
	}
}

// ResolveSamplers returns DefaultSampler followed by one descriptor per
// document sampler. Mipmapped minification filters collapse to their
// base filter; undefined filters are linear.
func ResolveSamplers(doc *gltf.Document) []SamplerDesc {
	out := make([]SamplerDesc, 0, len(doc.Samplers)+1)
	out = append(out, DefaultSampler())
	for _, s := range doc.Samplers {
		out = append(out, SamplerDesc{
			Name:      s.Name,
			MagFilter: magFilter(s.MagFilter),
			MinFilter: minFilter(s.MinFilter),
			WrapU:     wrapMode(s.WrapS),
			WrapV:     wrapMode(s.WrapT),
		})
	}
	return out
}

func magFilter(f gltf.MagFilter) Filter {
	if f == gltf.MagNearest {
		return FilterNearest
	}
	return FilterLinear
}

func minFilter(f gltf.MinFilter) Filter {
	switch f {
	case gltf.MinNearest, gltf.MinNearestMipMapNearest, gltf.MinNearestMipMapLinear:
		return FilterNearest
	default:
		return FilterLinear
	}
}

// The glTF default (zero value) is repeat.
func wrapMode(m gltf.WrappingMode) AddressMode {
	switch m {
	case gltf.WrapClampToEdge:
		return AddressClampToEdge
	case gltf.WrapMirroredRepeat:
		return AddressMirroredRepeat
	default:
		return AddressRepeat
	}
}
