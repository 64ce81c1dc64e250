package core

import "fmt"

// Index is an optional index into one of the document's arrays
// (materials, samplers, ...).
type Index struct {
	Value int
	Valid bool
}

// Some returns a valid Index holding i.
func Some(i int) Index { return Index{Value: i, Valid: true} }

// None is the absent Index.
var None = Index{}

// Get returns the index and whether it is set.
func (i Index) Get() (int, bool) { return i.Value, i.Valid }

// Shifted returns the GPU-side encoding of i: 0 when absent, Value+1 otherwise.
// Tables indexed by a shifted value carry a synthetic default entry at slot 0.
func (i Index) Shifted() uint32 {
	if !i.Valid {
		return 0
	}
	return uint32(i.Value) + 1
}

func (i Index) String() string {
	if !i.Valid {
		return "none"
	}
	return fmt.Sprintf("%d", i.Value)
}

// Offset is an optional byte offset into a packed buffer.
// Zero is a valid offset, so absence is tracked separately.
type Offset struct {
	Value uint64
	Valid bool
}

// At returns a valid Offset holding off.
func At(off uint64) Offset { return Offset{Value: off, Valid: true} }

// Get returns the offset and whether it is set.
func (o Offset) Get() (uint64, bool) { return o.Value, o.Valid }

func (o Offset) String() string {
	if !o.Valid {
		return "none"
	}
	return fmt.Sprintf("%d", o.Value)
}
