package kernels

import (
	"math"
	"sort"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/arrowdag/colexec/colbatch"
)

// quantileKernel implements "quantile":
// exact quantiles over a numeric column. Unlike t-digest this kernel
// keeps every value seen (MergeFrom is plain concatenation) and sorts
// once at Finalize, trading memory for exactness -- the same tradeoff
// Arrow's own quantile kernel documents against its t-digest sibling.
type quantileKernel struct{}

func (quantileKernel) Name() string { return "quantile" }

func (quantileKernel) Init(_ arrow.DataType, options any) (State, error) {
	return &quantileState{opts: optionsOrDefault(options, DefaultQuantileOptions())}, nil
}

type quantileState struct {
	opts   QuantileOptions
	values []float64
}

func (s *quantileState) Consume(input colbatch.Datum, length int) error {
	if input.IsScalar() {
		if !input.Scalar.IsValid() {
			return nil
		}
		v, err := scalarToFloat64(input.Scalar)
		if err != nil {
			return err
		}
		for i := 0; i < length; i++ {
			s.values = append(s.values, v)
		}
		return nil
	}

	arr, err := input.Materialize(length, nil)
	if err != nil {
		return err
	}
	values, valid, err := float64ColumnOf(arr)
	if err != nil {
		return err
	}
	for i, v := range values {
		if valid == nil || valid(i) {
			s.values = append(s.values, v)
		}
	}
	return nil
}

func (s *quantileState) MergeFrom(other State) error {
	o := other.(*quantileState)
	s.values = append(s.values, o.values...)
	return nil
}

func (s *quantileState) Finalize() (colbatch.Datum, error) {
	if len(s.values) == 0 {
		b := array.NewFloat64Builder(memory.DefaultAllocator)
		defer b.Release()
		for range s.opts.Q {
			b.AppendNull()
		}
		return colbatch.ArrayDatum(b.NewArray()), nil
	}

	sorted := append([]float64(nil), s.values...)
	sort.Float64s(sorted)

	b := array.NewFloat64Builder(memory.DefaultAllocator)
	defer b.Release()
	for _, q := range s.opts.Q {
		b.Append(interpolate(sorted, q, s.opts.Interpolation))
	}
	return colbatch.ArrayDatum(b.NewArray()), nil
}

// interpolate picks the value at rank q*(n-1) in sorted, per the
// requested Interpolation mode.
func interpolate(sorted []float64, q float64, mode Interpolation) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := q * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	frac := rank - float64(lo)

	switch mode {
	case Lower:
		return sorted[lo]
	case Higher:
		return sorted[hi]
	case Nearest:
		if frac < 0.5 {
			return sorted[lo]
		}
		return sorted[hi]
	case Midpoint:
		return (sorted[lo] + sorted[hi]) / 2
	default: // Linear
		return sorted[lo] + (sorted[hi]-sorted[lo])*frac
	}
}
