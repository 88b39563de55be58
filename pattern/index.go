package pattern

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// DimKey identifies one entry of a fragment Index: a dimension name plus
// the operation kind that placed the fragment along it. The kind matters
// because a merge position and a concat position along equally named
// dimensions are different things.
type DimKey struct {
	Name string
	Op   CombineOp
}

// DimVal describes a fragment's placement along one dimension. For concat
// dimensions, Index is the chunk-group ordinal and [Start, Stop) the
// fragment's range in global array-index space. For merge dimensions,
// Index is the selector and Start/Stop are zero.
type DimVal struct {
	Index int
	Start int
	Stop  int
}

// ConcatVal builds a concat-dimension placement.
func ConcatVal(index, start, stop int) DimVal {
	return DimVal{Index: index, Start: start, Stop: stop}
}

// MergeVal builds a merge-dimension selector.
func MergeVal(index int) DimVal {
	return DimVal{Index: index}
}

// Index is a fragment's positional tag: its placement along every
// dimension it spans. Values are self-contained; treat an Index as
// immutable once attached to a fragment.
type Index map[DimKey]DimVal

// Equal reports whether two indexes have identical entries.
func (ix Index) Equal(other Index) bool { return maps.Equal(ix, other) }

// Clone returns an independent copy.
func (ix Index) Clone() Index { return maps.Clone(ix) }

// Validate checks the Index invariants: Stop > Start for every concat
// entry, non-negative ordinals.
func (ix Index) Validate() error {
	for dk, dv := range ix {
		if dv.Index < 0 {
			return fmt.Errorf("dimension %q: negative ordinal %d: %w", dk.Name, dv.Index, ErrConstruction)
		}
		if dk.Op == OpConcat && dv.Stop <= dv.Start {
			return fmt.Errorf("dimension %q: empty range [%d, %d): %w", dk.Name, dv.Start, dv.Stop, ErrConstruction)
		}
	}
	return nil
}

// String renders entries sorted by dimension name, for logs and tests.
func (ix Index) String() string {
	keys := slices.SortedFunc(maps.Keys(ix), func(a, b DimKey) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return int(a.Op) - int(b.Op)
	})
	var sb strings.Builder
	sb.WriteByte('{')
	for i, dk := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		dv := ix[dk]
		if dk.Op == OpConcat {
			fmt.Fprintf(&sb, "%s/%s: %d@[%d,%d)", dk.Name, dk.Op, dv.Index, dv.Start, dv.Stop)
		} else {
			fmt.Fprintf(&sb, "%s/%s: %d", dk.Name, dk.Op, dv.Index)
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
