// Package pattern models n-dimensional file patterns: combinatorial
// addressing of source files through merge, concat, and subset dimensions,
// plus the positional Index tags fragments carry through a pipeline.
package pattern

import "strconv"

// CombineOp identifies the kind of operation a combine dimension (or an
// Index entry) represents.
type CombineOp uint8

const (
	OpConcat CombineOp = iota
	OpMerge
	OpSubset
)

func (op CombineOp) String() string {
	switch op {
	case OpConcat:
		return "concat"
	case OpMerge:
		return "merge"
	case OpSubset:
		return "subset"
	}
	return "combineop(" + strconv.Itoa(int(op)) + ")"
}

// CombineDim is one axis of a FilePattern. The set of implementations is
// closed: ConcatDim, MergeDim, and SubsetDim.
type CombineDim interface {
	// DimName returns the unique name of this pattern dimension.
	DimName() string
	// NKeys returns the number of keys along this dimension.
	NKeys() int
	// Op returns the operation kind of this dimension.
	Op() CombineOp

	combineDim()
}

// ConcatDim is a dimension along which source files are concatenated to
// form the full dataset. The most common name is "time".
type ConcatDim struct {
	// Name should match the dimension name inside the files.
	Name string
	// Keys represent the individual items along this dimension; each is
	// handed back to the pattern's format function.
	Keys []string
	// NItemsPerFile is the fixed number of items each file contributes
	// along this dimension, or 0 when unknown.
	NItemsPerFile int
}

func (d ConcatDim) DimName() string { return d.Name }
func (d ConcatDim) NKeys() int      { return len(d.Keys) }
func (d ConcatDim) Op() CombineOp   { return OpConcat }
func (d ConcatDim) combineDim()     {}

// MergeDim is a dimension along which source files hold distinct,
// non-concatenated variables. The most common name is "variable".
type MergeDim struct {
	Name string
	Keys []string
}

func (d MergeDim) DimName() string { return d.Name }
func (d MergeDim) NKeys() int      { return len(d.Keys) }
func (d MergeDim) Op() CombineOp   { return OpMerge }
func (d MergeDim) combineDim()     {}

// SubsetDim adds a layer of iteration that divides each file's content
// along Dim into Factor segments. Its keys are the segment ordinals
// 0..Factor-1 and its pattern-dimension name is "<Dim>_subset".
type SubsetDim struct {
	// Dim is the name of the concatenated dimension being subdivided.
	Dim    string
	Factor int
}

func (d SubsetDim) DimName() string { return d.Dim + "_subset" }
func (d SubsetDim) NKeys() int      { return d.Factor }
func (d SubsetDim) Op() CombineOp   { return OpSubset }
func (d SubsetDim) combineDim()     {}
