package kernels

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/scalar"
	"github.com/arrowdag/colexec/colbatch"
)

// indexKernel implements "index": a
// linear search for the first row equal to a target value, yielding its
// position or -1. Index is the one kernel in this catalog whose
// MergeFrom is not commutative: "first match" depends on which
// partition's rows logically come first. MergeFrom treats the
// receiver's rows as preceding the argument's, offsetting a match found
// only in the argument by the receiver's row count. nodes.Aggregate
// never calls MergeFrom: it keeps one state per aggregation (per group
// when grouped) and feeds it batches in arrival order.
type indexKernel struct{}

func (indexKernel) Name() string { return "index" }

func (indexKernel) Init(_ arrow.DataType, options any) (State, error) {
	return &indexState{opts: optionsOrDefault(options, IndexOptions{})}, nil
}

type indexState struct {
	opts     IndexOptions
	rowsSeen int64
	found    bool
	index    int64
}

func (s *indexState) Consume(input colbatch.Datum, length int) error {
	if input.IsScalar() {
		if !s.found && input.Scalar.IsValid() && scalarEquals(input.Scalar, s.opts.Value) {
			s.found = true
			s.index = s.rowsSeen
		}
		s.rowsSeen += int64(length)
		return nil
	}

	arr, err := input.Materialize(length, nil)
	if err != nil {
		return err
	}
	if !s.found {
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			if arrayValueEquals(arr, i, s.opts.Value) {
				s.found = true
				s.index = s.rowsSeen + int64(i)
				break
			}
		}
	}
	s.rowsSeen += int64(arr.Len())
	return nil
}

func (s *indexState) MergeFrom(other State) error {
	o := other.(*indexState)
	if !s.found && o.found {
		s.found = true
		s.index = s.rowsSeen + o.index
	}
	s.rowsSeen += o.rowsSeen
	return nil
}

func (s *indexState) Finalize() (colbatch.Datum, error) {
	if !s.found {
		return colbatch.ScalarDatum(scalar.NewInt64Scalar(-1)), nil
	}
	return colbatch.ScalarDatum(scalar.NewInt64Scalar(s.index)), nil
}

// scalarEquals compares a materialized scalar against the kernel's
// target value, which is supplied as a plain Go value (int64, float64
// or bool) by IndexOptions. String/binary targets are not supported.
func scalarEquals(s scalar.Scalar, target any) bool {
	switch v := s.(type) {
	case *scalar.Int64:
		t, ok := target.(int64)
		return ok && v.Value == t
	case *scalar.Float64:
		t, ok := target.(float64)
		return ok && v.Value == t
	case *scalar.Boolean:
		t, ok := target.(bool)
		return ok && v.Value == t
	default:
		return false
	}
}

// arrayValueEquals compares the i-th element of arr against target:
// Int64 and Int32 arrays against an int64 target, Float64 and Float32
// arrays against a float64 target, Boolean arrays against a bool target.
// Unlike scalarEquals it also accepts Int32 and Float32 values.
func arrayValueEquals(arr arrow.Array, i int, target any) bool {
	switch a := arr.(type) {
	case *array.Int64:
		t, ok := target.(int64)
		return ok && a.Value(i) == t
	case *array.Int32:
		t, ok := target.(int64)
		return ok && int64(a.Value(i)) == t
	case *array.Float64:
		t, ok := target.(float64)
		return ok && a.Value(i) == t
	case *array.Float32:
		t, ok := target.(float64)
		return ok && float64(a.Value(i)) == t
	case *array.Boolean:
		t, ok := target.(bool)
		return ok && a.Value(i) == t
	default:
		return false
	}
}
