package kernels

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/scalar"
	"github.com/arrowdag/colexec/colexecerr"
)

// nullScalar is the output of a kernel whose result is undefined (not
// enough valid input, or skip_nulls=false with a null present). Grounded
// on arrowexec's own convention of using an untyped &scalar.Null{} to
// stand in for any SQL NULL regardless of declared type
// (physical/arrow.go's OctoSQLValueToArrowScalar).
func nullScalar() scalar.Scalar { return &scalar.Null{} }

// float64ColumnOf widens arr's values to float64 plus a validity
// predicate, the same numeric widening aggregate_var_std.cc performs
// before feeding its moment-accumulation loop (ConsumeImpl widens every
// supported integer and floating width to double).
func float64ColumnOf(arr arrow.Array) ([]float64, func(int) bool, error) {
	switch a := arr.(type) {
	case *array.Int8:
		return widenInt(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Int16:
		return widenInt(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Int32:
		return widenInt(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Int64:
		return widenInt(a.Len(), func(i int) int64 { return a.Value(i) }), a.IsValid, nil
	case *array.Uint8:
		return widenInt(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Uint16:
		return widenInt(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Uint32:
		return widenInt(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Uint64:
		return widenInt(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Float32:
		out := make([]float64, a.Len())
		for i := 0; i < a.Len(); i++ {
			out[i] = float64(a.Value(i))
		}
		return out, a.IsValid, nil
	case *array.Float64:
		out := make([]float64, a.Len())
		for i := 0; i < a.Len(); i++ {
			out[i] = a.Value(i)
		}
		return out, a.IsValid, nil
	default:
		return nil, nil, colexecerr.Newf(colexecerr.TypeError, "kernels: unsupported numeric type %s", arr.DataType())
	}
}

func widenInt(n int, get func(int) int64) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = float64(get(i))
	}
	return out
}

// int64ColumnOf widens arr's values to int64 plus a validity predicate,
// the exact-integer counterpart to float64ColumnOf. sum/product/min/max
// use this instead for integer inputs so accumulation never round-trips
// through a float64 mantissa (a plain int64 add/compare stays exact well
// past 2^53, where float64 starts dropping integer precision).
func int64ColumnOf(arr arrow.Array) ([]int64, func(int) bool, error) {
	switch a := arr.(type) {
	case *array.Int8:
		return widenIntExact(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Int16:
		return widenIntExact(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Int32:
		return widenIntExact(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Int64:
		return widenIntExact(a.Len(), func(i int) int64 { return a.Value(i) }), a.IsValid, nil
	case *array.Uint8:
		return widenIntExact(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Uint16:
		return widenIntExact(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Uint32:
		return widenIntExact(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	case *array.Uint64:
		return widenIntExact(a.Len(), func(i int) int64 { return int64(a.Value(i)) }), a.IsValid, nil
	default:
		return nil, nil, colexecerr.Newf(colexecerr.TypeError, "kernels: unsupported integer type %s", arr.DataType())
	}
}

func widenIntExact(n int, get func(int) int64) []int64 {
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = get(i)
	}
	return out
}

// scalarToInt64 widens a broadcast scalar the exact-integer way, the
// counterpart to scalarToFloat64 used when the kernel's accumulator is
// integer-typed.
func scalarToInt64(s scalar.Scalar) (int64, error) {
	switch v := s.(type) {
	case *scalar.Int8:
		return int64(v.Value), nil
	case *scalar.Int16:
		return int64(v.Value), nil
	case *scalar.Int32:
		return int64(v.Value), nil
	case *scalar.Int64:
		return v.Value, nil
	case *scalar.Uint8:
		return int64(v.Value), nil
	case *scalar.Uint16:
		return int64(v.Value), nil
	case *scalar.Uint32:
		return int64(v.Value), nil
	case *scalar.Uint64:
		return int64(v.Value), nil
	default:
		return 0, colexecerr.Newf(colexecerr.TypeError, "kernels: unsupported scalar type %s", s.DataType())
	}
}

// isFloatingType reports whether dt is one of the floating widths, used to
// pick the output type for sum/product/min/max (integer in, integer out;
// float in, float out).
func isFloatingType(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.FLOAT32, arrow.FLOAT64:
		return true
	default:
		return false
	}
}
