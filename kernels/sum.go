package kernels

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/scalar"
	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/colexecerr"
)

// sumKernel and productKernel implement "sum" and "product":
// widening accumulation over a numeric column, null handling controlled
// by ScalarAggregateOptions. Grounded on arrowexec's
// arrowexec/aggregates/sum.go per-group accumulator, collapsed to a
// single scalar.
type sumKernel struct{}

func (sumKernel) Name() string { return "sum" }

func (sumKernel) Init(inputType arrow.DataType, options any) (State, error) {
	return &reduceState{
		opts:         optionsOrDefault(options, DefaultScalarAggregateOptions()),
		floating:     isFloatingType(inputType),
		combineFloat: func(a, b float64) float64 { return a + b },
		combineInt:   func(a, b int64) int64 { return a + b },
	}, nil
}

type productKernel struct{}

func (productKernel) Name() string { return "product" }

func (productKernel) Init(inputType arrow.DataType, options any) (State, error) {
	return &reduceState{
		opts:         optionsOrDefault(options, DefaultScalarAggregateOptions()),
		floating:     isFloatingType(inputType),
		accFloat:     1,
		accInt:       1,
		combineFloat: func(a, b float64) float64 { return a * b },
		combineInt:   func(a, b int64) int64 { return a * b },
	}, nil
}

// reduceState folds a column through an associative, commutative binary
// operator, tracking validity the same way momentsState does. Integer
// inputs accumulate through accInt, an exact int64 widened from every
// narrower integer width; only floating inputs take the accFloat path.
// Keeping both means an integer sum/product never loses precision to a
// float64 mantissa once partial sums exceed 2^53.
type reduceState struct {
	opts         ScalarAggregateOptions
	floating     bool
	accFloat     float64
	accInt       int64
	seen         int64
	sawNull      bool
	combineFloat func(a, b float64) float64
	combineInt   func(a, b int64) int64
}

func (s *reduceState) Consume(input colbatch.Datum, length int) error {
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
			for i := 0; i < length; i++ {
				s.accFloat = s.combineFloat(s.accFloat, v)
			}
		} else {
			v, err := scalarToInt64(input.Scalar)
			if err != nil {
				return err
			}
			for i := 0; i < length; i++ {
				s.accInt = s.combineInt(s.accInt, v)
			}
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
			s.accFloat = s.combineFloat(s.accFloat, v)
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
		s.accInt = s.combineInt(s.accInt, v)
		s.seen++
	}
	return nil
}

func (s *reduceState) MergeFrom(other State) error {
	o := other.(*reduceState)
	if o.sawNull {
		s.sawNull = true
	}
	if s.floating {
		s.accFloat = s.combineFloat(s.accFloat, o.accFloat)
	} else {
		s.accInt = s.combineInt(s.accInt, o.accInt)
	}
	s.seen += o.seen
	return nil
}

func (s *reduceState) Finalize() (colbatch.Datum, error) {
	if s.sawNull || uint32(s.seen) < s.opts.MinCount {
		return colbatch.ScalarDatum(nullScalar()), nil
	}
	if s.floating {
		return colbatch.ScalarDatum(scalar.NewFloat64Scalar(s.accFloat)), nil
	}
	return colbatch.ScalarDatum(scalar.NewInt64Scalar(s.accInt)), nil
}

// scalarToFloat64 widens a broadcast scalar the same way float64ColumnOf
// widens an array.
func scalarToFloat64(s scalar.Scalar) (float64, error) {
	switch v := s.(type) {
	case *scalar.Int8:
		return float64(v.Value), nil
	case *scalar.Int16:
		return float64(v.Value), nil
	case *scalar.Int32:
		return float64(v.Value), nil
	case *scalar.Int64:
		return float64(v.Value), nil
	case *scalar.Uint8:
		return float64(v.Value), nil
	case *scalar.Uint16:
		return float64(v.Value), nil
	case *scalar.Uint32:
		return float64(v.Value), nil
	case *scalar.Uint64:
		return float64(v.Value), nil
	case *scalar.Float32:
		return float64(v.Value), nil
	case *scalar.Float64:
		return v.Value, nil
	default:
		return 0, colexecerr.Newf(colexecerr.TypeError, "kernels: unsupported scalar type %s", s.DataType())
	}
}
