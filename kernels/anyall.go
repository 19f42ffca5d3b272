package kernels

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/scalar"
	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/colexecerr"
)

// anyKernel and allKernel implement "any"/"all" over a
// boolean column: any() is true as soon as one true is seen regardless
// of nulls; all() is false as soon as one false is seen regardless of
// nulls. Otherwise the result is null when no valid value was seen, or
// when skip_nulls is false and a null was seen (Kleene, three-valued
// logic); else it is the non-decisive value (false for any, true for
// all). With skip_nulls set (the default) nulls are ignored.
type anyKernel struct{}

func (anyKernel) Name() string { return "any" }

func (anyKernel) Init(_ arrow.DataType, options any) (State, error) {
	return &kleeneState{opts: optionsOrDefault(options, DefaultScalarAggregateOptions()), short: true}, nil
}

type allKernel struct{}

func (allKernel) Name() string { return "all" }

func (allKernel) Init(_ arrow.DataType, options any) (State, error) {
	return &kleeneState{opts: optionsOrDefault(options, DefaultScalarAggregateOptions()), short: false}, nil
}

// kleeneState tracks whether the "decisive" value (true for any, false
// for all) has been seen, and whether any null was seen.
type kleeneState struct {
	opts     ScalarAggregateOptions
	short    bool // decisive value short-circuits to true for `any`.
	decided  bool
	sawNull  bool
	sawValid bool
}

func (s *kleeneState) decisiveValue() bool { return s.short }

func (s *kleeneState) Consume(input colbatch.Datum, length int) error {
	if input.IsScalar() {
		if !input.Scalar.IsValid() {
			s.sawNull = true
			return nil
		}
		b, ok := input.Scalar.(*scalar.Boolean)
		if !ok {
			return colexecerr.Newf(colexecerr.TypeError, "kernels: any/all require a boolean column, got %s", input.Scalar.DataType())
		}
		s.sawValid = true
		if b.Value == s.decisiveValue() {
			s.decided = true
		}
		return nil
	}

	arr, err := input.Materialize(length, nil)
	if err != nil {
		return err
	}
	typed, ok := arr.(*array.Boolean)
	if !ok {
		return colexecerr.Newf(colexecerr.TypeError, "kernels: any/all require a boolean column, got %s", arr.DataType())
	}
	for i := 0; i < typed.Len(); i++ {
		if !typed.IsValid(i) {
			s.sawNull = true
			continue
		}
		s.sawValid = true
		if typed.Value(i) == s.decisiveValue() {
			s.decided = true
		}
	}
	return nil
}

func (s *kleeneState) MergeFrom(other State) error {
	o := other.(*kleeneState)
	s.sawNull = s.sawNull || o.sawNull
	s.sawValid = s.sawValid || o.sawValid
	s.decided = s.decided || o.decided
	return nil
}

func (s *kleeneState) Finalize() (colbatch.Datum, error) {
	if s.decided {
		return colbatch.ScalarDatum(scalar.NewBooleanScalar(s.decisiveValue())), nil
	}
	if s.opts.SkipNulls {
		if !s.sawValid {
			return colbatch.ScalarDatum(nullScalar()), nil
		}
		return colbatch.ScalarDatum(scalar.NewBooleanScalar(!s.decisiveValue())), nil
	}
	if s.sawNull {
		return colbatch.ScalarDatum(nullScalar()), nil
	}
	if !s.sawValid {
		return colbatch.ScalarDatum(nullScalar()), nil
	}
	return colbatch.ScalarDatum(scalar.NewBooleanScalar(!s.decisiveValue())), nil
}
