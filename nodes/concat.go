package nodes

import (
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/arrow/scalar"

	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/colexecerr"
)

// concatScalars assembles one column's worth of per-group kernel results
// into a single array, one row per group. It requires every Datum to be
// scalar-valued: kernels that finalize to more than one value per group
// (mode, quantile, t-digest) are scoped to scalar aggregation only in
// this port, documented in DESIGN.md, since a grouped output column
// would otherwise need a list-typed column this module doesn't build.
func concatScalars(values []colbatch.Datum) (colbatch.Datum, error) {
	if len(values) == 0 {
		return colbatch.Datum{}, colexecerr.New(colexecerr.Invalid, "nodes: concatScalars requires at least one value")
	}
	for _, v := range values {
		if !v.IsScalar() {
			return colbatch.Datum{}, colexecerr.New(colexecerr.NotImplemented,
				"nodes: grouped aggregation does not support kernels whose Finalize returns more than one value per group")
		}
	}

	switch values[0].Scalar.(type) {
	case *scalar.Int64:
		b := array.NewInt64Builder(memory.DefaultAllocator)
		defer b.Release()
		for _, v := range values {
			appendScalar(b, v.Scalar)
		}
		return colbatch.ArrayDatum(b.NewArray()), nil
	case *scalar.Float64:
		b := array.NewFloat64Builder(memory.DefaultAllocator)
		defer b.Release()
		for _, v := range values {
			appendScalar(b, v.Scalar)
		}
		return colbatch.ArrayDatum(b.NewArray()), nil
	case *scalar.Boolean:
		b := array.NewBooleanBuilder(memory.DefaultAllocator)
		defer b.Release()
		for _, v := range values {
			appendScalar(b, v.Scalar)
		}
		return colbatch.ArrayDatum(b.NewArray()), nil
	default:
		return colbatch.Datum{}, colexecerr.Newf(colexecerr.TypeError, "nodes: concatScalars does not support scalar type %T", values[0].Scalar)
	}
}

func appendScalar(b array.Builder, s scalar.Scalar) {
	if !s.IsValid() {
		b.AppendNull()
		return
	}
	switch v := s.(type) {
	case *scalar.Int64:
		b.(*array.Int64Builder).Append(v.Value)
	case *scalar.Float64:
		b.(*array.Float64Builder).Append(v.Value)
	case *scalar.Boolean:
		b.(*array.BooleanBuilder).Append(v.Value)
	}
}
