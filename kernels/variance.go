// mean, variance and stddev are grounded directly on
// original_source/cpp/src/arrow/compute/kernels/aggregate_var_std.cc.
// That file accumulates (count, mean, M2) per partition via Welford's
// online algorithm and merges partitions with Chan et al.'s parallel
// combine formula -- exactly what momentsState implements below. The
// C++ kernel additionally special-cases narrow integer inputs with an
// exact one-pass sum/sum-of-squares accumulator to dodge the floating
// rounding Welford's method trades away; this port always makes a single
// Welford pass, for every input type, documented as a deliberate simplification in
// DESIGN.md rather than carried over, since Go has no equivalent to the
// header's compile-time-selected kernel variant.
package kernels

import (
	"math"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/scalar"
	"github.com/arrowdag/colexec/colbatch"
)

// momentsState accumulates count, mean and the sum of squared deviations
// from the mean (M2), from which variance and standard deviation are
// derived. MergeFrom implements the parallel variance combine formula:
// given two partitions' (count, mean, M2), delta = meanB - meanA;
// mean' = meanA + delta*countB/total; M2' = M2A + M2B +
// delta^2*countA*countB/total.
type momentsState struct {
	opts    ScalarAggregateOptions
	ddof    int
	count   int64
	mean    float64
	m2      float64
	sawNull bool
}

func newMomentsState(opts ScalarAggregateOptions, ddof int) *momentsState {
	return &momentsState{opts: opts, ddof: ddof}
}

func (s *momentsState) Consume(input colbatch.Datum, length int) error {
	if input.IsScalar() {
		if !input.Scalar.IsValid() {
			if !s.opts.SkipNulls {
				s.sawNull = true
			}
			return nil
		}
		v, err := scalarToFloat64(input.Scalar)
		if err != nil {
			return err
		}
		for i := 0; i < length; i++ {
			s.consumeOne(v)
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
		if valid != nil && !valid(i) {
			if !s.opts.SkipNulls {
				s.sawNull = true
			}
			continue
		}
		s.consumeOne(v)
	}
	return nil
}

// consumeOne is one step of Welford's online mean/variance algorithm.
func (s *momentsState) consumeOne(v float64) {
	s.count++
	delta := v - s.mean
	s.mean += delta / float64(s.count)
	delta2 := v - s.mean
	s.m2 += delta * delta2
}

func (s *momentsState) mergeFrom(o *momentsState) {
	if o.sawNull {
		s.sawNull = true
	}
	if o.count == 0 {
		return
	}
	if s.count == 0 {
		s.count, s.mean, s.m2 = o.count, o.mean, o.m2
		return
	}
	total := s.count + o.count
	delta := o.mean - s.mean
	newMean := s.mean + delta*float64(o.count)/float64(total)
	newM2 := s.m2 + o.m2 + delta*delta*float64(s.count)*float64(o.count)/float64(total)
	s.count, s.mean, s.m2 = total, newMean, newM2
}

func (s *momentsState) insufficient() bool {
	return s.sawNull || uint32(s.count) < s.opts.MinCount
}

func (s *momentsState) variance() (float64, bool) {
	denom := s.count - int64(s.ddof)
	if denom <= 0 {
		return 0, false
	}
	return s.m2 / float64(denom), true
}

// meanKernel implements "mean".
type meanKernel struct{}

func (meanKernel) Name() string { return "mean" }

func (meanKernel) Init(_ arrow.DataType, options any) (State, error) {
	return &meanState{newMomentsState(optionsOrDefault(options, DefaultScalarAggregateOptions()), 0)}, nil
}

type meanState struct{ *momentsState }

func (s *meanState) MergeFrom(other State) error {
	s.mergeFrom(other.(*meanState).momentsState)
	return nil
}

func (s *meanState) Finalize() (colbatch.Datum, error) {
	if s.insufficient() {
		return colbatch.ScalarDatum(nullScalar()), nil
	}
	return colbatch.ScalarDatum(scalar.NewFloat64Scalar(s.mean)), nil
}

// varianceKernel implements "variance".
type varianceKernel struct{}

func (varianceKernel) Name() string { return "variance" }

func (varianceKernel) Init(_ arrow.DataType, options any) (State, error) {
	opts := optionsOrDefault(options, DefaultVarianceOptions())
	scalarOpts := ScalarAggregateOptions{SkipNulls: opts.SkipNulls, MinCount: opts.MinCount}
	return &varianceState{newMomentsState(scalarOpts, opts.DDoF)}, nil
}

type varianceState struct{ *momentsState }

func (s *varianceState) MergeFrom(other State) error {
	s.mergeFrom(other.(*varianceState).momentsState)
	return nil
}

func (s *varianceState) Finalize() (colbatch.Datum, error) {
	if s.insufficient() {
		return colbatch.ScalarDatum(nullScalar()), nil
	}
	v, ok := s.variance()
	if !ok {
		return colbatch.ScalarDatum(nullScalar()), nil
	}
	return colbatch.ScalarDatum(scalar.NewFloat64Scalar(v)), nil
}

// stddevKernel implements "stddev": variance's square root.
type stddevKernel struct{}

func (stddevKernel) Name() string { return "stddev" }

func (stddevKernel) Init(_ arrow.DataType, options any) (State, error) {
	opts := optionsOrDefault(options, DefaultVarianceOptions())
	scalarOpts := ScalarAggregateOptions{SkipNulls: opts.SkipNulls, MinCount: opts.MinCount}
	return &stddevState{newMomentsState(scalarOpts, opts.DDoF)}, nil
}

type stddevState struct{ *momentsState }

func (s *stddevState) MergeFrom(other State) error {
	s.mergeFrom(other.(*stddevState).momentsState)
	return nil
}

func (s *stddevState) Finalize() (colbatch.Datum, error) {
	if s.insufficient() {
		return colbatch.ScalarDatum(nullScalar()), nil
	}
	v, ok := s.variance()
	if !ok {
		return colbatch.ScalarDatum(nullScalar()), nil
	}
	return colbatch.ScalarDatum(scalar.NewFloat64Scalar(math.Sqrt(v))), nil
}
