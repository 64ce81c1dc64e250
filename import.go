package rtscene

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/gekko3d/rtscene/rt/texture"
)

// Import parses a .gltf or .glb file with its buffers and decodes every
// image it declares. The returned images are index-aligned with
// doc.Images.
func Import(path string) (*gltf.Document, []texture.ImageData, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("rtscene: open %s: %w", path, err)
	}
	images, err := ImportImages(doc, filepath.Dir(path))
	if err != nil {
		return nil, nil, err
	}
	return doc, images, nil
}

// ImportImages decodes the images of doc. Image bytes come from a buffer
// view, a data URI, or a file resolved against dir.
func ImportImages(doc *gltf.Document, dir string) ([]texture.ImageData, error) {
	out := make([]texture.ImageData, 0, len(doc.Images))
	for i, img := range doc.Images {
		data, err := imageBytes(doc, img, dir)
		if err != nil {
			return nil, fmt.Errorf("rtscene: image %d (%q): %w", i, img.Name, err)
		}
		decoded, err := texture.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("rtscene: image %d (%q): %w", i, img.Name, err)
		}
		decoded.Name = img.Name
		out = append(out, decoded)
	}
	return out, nil
}

func imageBytes(doc *gltf.Document, img *gltf.Image, dir string) ([]byte, error) {
	switch {
	case img.BufferView != nil:
		bv := *img.BufferView
		if bv < 0 || bv >= len(doc.BufferViews) {
			return nil, fmt.Errorf("buffer view %d of %d: out of range", bv, len(doc.BufferViews))
		}
		return modeler.ReadBufferView(doc, doc.BufferViews[bv])
	case img.IsEmbeddedResource():
		return img.MarshalData()
	case img.URI != "":
		name, err := url.PathUnescape(img.URI)
		if err != nil {
			name = img.URI
		}
		return os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
	default:
		return nil, errors.New("image has neither buffer view nor uri")
	}
}
