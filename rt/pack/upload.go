package pack

import (
	"github.com/gekko3d/rtscene/rt/gpu"
)

// Buffers holds the device copies of a Result's streams.
// Color and TexCoord are nil when no primitive supplied the stream.
type Buffers struct {
	Index    gpu.Buffer
	Vertex   gpu.Buffer
	Color    gpu.Buffer
	TexCoord gpu.Buffer
}

// Release frees every buffer that was created.
func (b *Buffers) Release() {
	for _, buf := range []gpu.Buffer{b.Index, b.Vertex, b.Color, b.TexCoord} {
		if buf != nil {
			buf.Release()
		}
	}
}

// Upload creates one immutable device buffer per non-empty optional stream
// and one each for indices and positions. On failure nothing is left alive.
func (r *Result) Upload(p gpu.Provider, label string) (*Buffers, error) {
	b := &Buffers{}
	uploads := []struct {
		dst      *gpu.Buffer
		name     string
		data     []byte
		usage    gpu.BufferUsage
		optional bool
	}{
		{&b.Index, "index buffer", r.Indices, gpu.UsageIndex | gpu.UsageStorage | gpu.UsageAccelInput, false},
		{&b.Vertex, "vertex buffer", r.Positions, gpu.UsageVertex | gpu.UsageStorage | gpu.UsageAccelInput, false},
		{&b.Color, "color buffer", r.Colors, gpu.UsageVertex | gpu.UsageStorage, true},
		{&b.TexCoord, "texcoord buffer", r.TexCoords, gpu.UsageVertex | gpu.UsageStorage, true},
	}
	for _, u := range uploads {
		if u.optional && len(u.data) == 0 {
			continue
		}
		buf, err := p.NewBuffer(label+" "+u.name, u.data, u.usage)
		if err != nil {
			b.Release()
			return nil, err
		}
		*u.dst = buf
	}
	return b, nil
}
