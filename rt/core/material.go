package core

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// ErrInvalidReference means that the document refers to an array
// element that does not exist.
var ErrInvalidReference = errors.New("core: invalid document reference")

// Texture pairs a sampler with an image.
type Texture struct {
	// Sampler is the document sampler index. When absent the
	// default sampler (slot 0 of the scene's sampler list) applies.
	Sampler Index
	// Image is the document image index. Images have no default slot.
	Image int
}

type MaterialInfo struct {
	Name            string
	BaseColorFactor mgl32.Vec4

	BaseColorTexture         *Texture
	MetallicRoughnessTexture *Texture

	MetallicFactor  float32
	RoughnessFactor float32
}

// DefaultMaterial is the material used by primitives without one:
// opaque white, fully metallic and rough, untextured.
func DefaultMaterial() MaterialInfo {
	return MaterialInfo{
		Name:            "default",
		BaseColorFactor: mgl32.Vec4{1, 1, 1, 1},
		MetallicFactor:  1.0,
		RoughnessFactor: 1.0,
	}
}

// ResolveMaterials returns DefaultMaterial followed by one entry per
// document material, in document order.
func ResolveMaterials(doc *gltf.Document) ([]MaterialInfo, error) {
	out := make([]MaterialInfo, 0, len(doc.Materials)+1)
	out = append(out, DefaultMaterial())
	for i, mat := range doc.Materials {
		info := DefaultMaterial()
		info.Name = mat.Name
		if pbr := mat.PBRMetallicRoughness; pbr != nil {
			f := pbr.BaseColorFactorOrDefault()
			info.BaseColorFactor = mgl32.Vec4{float32(f[0]), float32(f[1]), float32(f[2]), float32(f[3])}
			info.MetallicFactor = float32(pbr.MetallicFactorOrDefault())
			info.RoughnessFactor = float32(pbr.RoughnessFactorOrDefault())

			var err error
			if info.BaseColorTexture, err = resolveTexture(doc, pbr.BaseColorTexture); err != nil {
				return nil, fmt.Errorf("material %d base color: %w", i, err)
			}
			if info.MetallicRoughnessTexture, err = resolveTexture(doc, pbr.MetallicRoughnessTexture); err != nil {
				return nil, fmt.Errorf("material %d metallic-roughness: %w", i, err)
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// resolveTexture follows a texture info to its sampler and image.
// A missing info, or a texture without a source image, yields nil.
func resolveTexture(doc *gltf.Document, ti *gltf.TextureInfo) (*Texture, error) {
	if ti == nil {
		return nil, nil
	}
	if ti.Index < 0 || ti.Index >= len(doc.Textures) {
		return nil, fmt.Errorf("texture %d: %w", ti.Index, ErrInvalidReference)
	}
	tex := doc.Textures[ti.Index]
	if tex.Source == nil {
		return nil, nil
	}
	if src := *tex.Source; src < 0 || src >= len(doc.Images) {
		return nil, fmt.Errorf("texture %d image %d: %w", ti.Index, src, ErrInvalidReference)
	}
	t := &Texture{Image: *tex.Source}
	if s := tex.Sampler; s != nil {
		if *s < 0 || *s >= len(doc.Samplers) {
			return nil, fmt.Errorf("texture %d sampler %d: %w", ti.Index, *s, ErrInvalidReference)
		}
		t.Sampler = Some(*s)
	}
	return t, nil
}
