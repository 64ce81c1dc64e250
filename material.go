package rtscene

import (
	"encoding/binary"
	"math"

	"github.com/gekko3d/rtscene/rt/core"
)

// Matches WGSL Material:
//
//	struct Material {
//	    base_color : vec4<f32>;                 (16)
//	    metallic : f32;                         (4)
//	    roughness : f32;                        (4)
//	    base_color_sampler : u32;               // shifted, 0 = default sampler
//	    base_color_image : u32;
//	    metallic_roughness_sampler : u32;       // shifted
//	    metallic_roughness_image : u32;
//	    flags : u32;
//	    _pad : u32;
//	}; -> 48 bytes
const MaterialSize = 48

const (
	MaterialHasBaseColorTexture uint32 = 1 << iota
	MaterialHasMetallicRoughnessTexture
)

// EncodeMaterials packs one MaterialSize record per material. Slot 0 is
// expected to be the default material.
func EncodeMaterials(mats []core.MaterialInfo) []byte {
	buf := make([]byte, len(mats)*MaterialSize)
	for i, m := range mats {
		o := i * MaterialSize
		for j := 0; j < 4; j++ {
			binary.LittleEndian.PutUint32(buf[o+j*4:], math.Float32bits(m.BaseColorFactor[j]))
		}
		binary.LittleEndian.PutUint32(buf[o+16:], math.Float32bits(m.MetallicFactor))
		binary.LittleEndian.PutUint32(buf[o+20:], math.Float32bits(m.RoughnessFactor))

		var flags uint32
		if t := m.BaseColorTexture; t != nil {
			binary.LittleEndian.PutUint32(buf[o+24:], t.Sampler.Shifted())
			binary.LittleEndian.PutUint32(buf[o+28:], uint32(t.Image))
			flags |= MaterialHasBaseColorTexture
		}
		if t := m.MetallicRoughnessTexture; t != nil {
			binary.LittleEndian.PutUint32(buf[o+32:], t.Sampler.Shifted())
			binary.LittleEndian.PutUint32(buf[o+36:], uint32(t.Image))
			flags |= MaterialHasMetallicRoughnessTexture
		}
		binary.LittleEndian.PutUint32(buf[o+40:], flags)
	}
	return buf
}
