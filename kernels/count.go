package kernels

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/scalar"
	"github.com/arrowdag/colexec/colbatch"
)

// countKernel implements "count": the number of rows seen,
// or of valid (non-null) rows when skip_nulls is set. Grounded on the
// arrowexec/aggregates' count accumulator, generalized from a
// per-group int64 slice to a single scalar accumulator.
type countKernel struct{}

func (countKernel) Name() string { return "count" }

func (countKernel) Init(_ arrow.DataType, options any) (State, error) {
	return &countState{opts: optionsOrDefault(options, DefaultScalarAggregateOptions())}, nil
}

type countState struct {
	opts  ScalarAggregateOptions
	count int64
}

func (s *countState) Consume(input colbatch.Datum, length int) error {
	if input.IsScalar() {
		if input.Scalar.IsValid() {
			s.count += int64(length)
		} else if !s.opts.SkipNulls {
			s.count += int64(length)
		}
		return nil
	}
	arr, err := input.Materialize(length, nil)
	if err != nil {
		return err
	}
	for i := 0; i < arr.Len(); i++ {
		if arr.IsValid(i) {
			s.count++
		} else if !s.opts.SkipNulls {
			s.count++
		}
	}
	return nil
}

func (s *countState) MergeFrom(other State) error {
	o := other.(*countState)
	s.count += o.count
	return nil
}

func (s *countState) Finalize() (colbatch.Datum, error) {
	if uint32(s.count) < s.opts.MinCount {
		return colbatch.ScalarDatum(nullScalar()), nil
	}
	return colbatch.ScalarDatum(scalar.NewInt64Scalar(s.count)), nil
}
