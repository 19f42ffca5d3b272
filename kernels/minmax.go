package kernels

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/scalar"
	"github.com/arrowdag/colexec/colbatch"
)

// minKernel and maxKernel implement "min"/"max": a running
// extremum over a numeric column, reusing the reduceState shape's null
// handling but with a comparison-based combine instead of a sum.
type minKernel struct{}

func (minKernel) Name() string { return "min" }

func (minKernel) Init(inputType arrow.DataType, options any) (State, error) {
	return newExtremeState(inputType, options,
		func(a, b float64) float64 {
			if a < b {
				return a
			}
			return b
		},
		func(a, b int64) int64 {
			if a < b {
				return a
			}
			return b
		},
	), nil
}

type maxKernel struct{}

func (maxKernel) Name() string { return "max" }

func (maxKernel) Init(inputType arrow.DataType, options any) (State, error) {
	return newExtremeState(inputType, options,
		func(a, b float64) float64 {
			if a > b {
				return a
			}
			return b
		},
		func(a, b int64) int64 {
			if a > b {
				return a
			}
			return b
		},
	), nil
}

// extremeState tracks a running min/max. Integer inputs compare and
// store through valueInt, an exact int64; only floating inputs take the
// valueFloat path, so an integer extremum is never corrupted by a
// float64 round trip.
type extremeState struct {
	opts       ScalarAggregateOptions
	floating   bool
	pickFloat  func(a, b float64) float64
	pickInt    func(a, b int64) int64
	valueFloat float64
	valueInt   int64
	set        bool
	seen       int64
	sawNull    bool
}

func newExtremeState(inputType arrow.DataType, options any, pickFloat func(a, b float64) float64, pickInt func(a, b int64) int64) *extremeState {
	return &extremeState{
		opts:      optionsOrDefault(options, DefaultScalarAggregateOptions()),
		floating:  isFloatingType(inputType),
		pickFloat: pickFloat,
		pickInt:   pickInt,
	}
}

func (s *extremeState) Consume(input colbatch.Datum, length int) error {
	if input.IsScalar() {
		if !input.Scalar.IsValid() {
			if !s.opts.SkipNulls {
				s.sawNull = true
			}
			return nil
		}
		if s.floating {
			v, err := scalarToFloat64(input.Scalar)
			if err != nil {
				return err
			}
			s.offerFloat(v)
		} else {
			v, err := scalarToInt64(input.Scalar)
			if err != nil {
				return err
			}
			s.offerInt(v)
		}
		s.seen += int64(length)
		return nil
	}

	arr, err := input.Materialize(length, nil)
	if err != nil {
		return err
	}
	if s.floating {
		values, valid, err := float64ColumnOf(arr)
		if err != nil {
			return err
		}
		for i, v := range values {
			if valid != nil && !valid(i) {
				if !s.opts.SkipNulls {
					s.sawNull = true
				}
				continue
			}
			s.offerFloat(v)
			s.seen++
		}
		return nil
	}

	values, valid, err := int64ColumnOf(arr)
	if err != nil {
		return err
	}
	for i, v := range values {
		if valid != nil && !valid(i) {
			if !s.opts.SkipNulls {
				s.sawNull = true
			}
			continue
		}
		s.offerInt(v)
		s.seen++
	}
	return nil
}

func (s *extremeState) offerFloat(v float64) {
	if !s.set {
		s.valueFloat, s.set = v, true
		return
	}
	s.valueFloat = s.pickFloat(s.valueFloat, v)
}

func (s *extremeState) offerInt(v int64) {
	if !s.set {
		s.valueInt, s.set = v, true
		return
	}
	s.valueInt = s.pickInt(s.valueInt, v)
}

func (s *extremeState) MergeFrom(other State) error {
	o := other.(*extremeState)
	if o.sawNull {
		s.sawNull = true
	}
	s.seen += o.seen
	if o.set {
		if s.floating {
			s.offerFloat(o.valueFloat)
		} else {
			s.offerInt(o.valueInt)
		}
	}
	return nil
}

func (s *extremeState) Finalize() (colbatch.Datum, error) {
	if s.sawNull || !s.set || uint32(s.seen) < s.opts.MinCount {
		return colbatch.ScalarDatum(nullScalar()), nil
	}
	if s.floating {
		return colbatch.ScalarDatum(scalar.NewFloat64Scalar(s.valueFloat)), nil
	}
	return colbatch.ScalarDatum(scalar.NewInt64Scalar(s.valueInt)), nil
}
