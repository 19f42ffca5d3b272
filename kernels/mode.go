package kernels

import (
	"sort"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/arrowdag/colexec/colbatch"
)

// modeKernel implements "mode": the N most
// frequent values of an integer column, most frequent first, ties broken
// by ascending value. Scoped to integer columns (the widened-to-float64
// representation the other numeric kernels share would blur distinct
// values together under floating rounding, which is wrong for frequency
// counting); floating-point columns are rejected with TypeError.
type modeKernel struct{}

func (modeKernel) Name() string { return "mode" }

func (modeKernel) Init(_ arrow.DataType, options any) (State, error) {
	return &modeState{
		opts:   optionsOrDefault(options, DefaultModeOptions()),
		counts: make(map[int64]int64),
	}, nil
}

type modeState struct {
	opts   ModeOptions
	counts map[int64]int64
}

func (s *modeState) Consume(input colbatch.Datum, length int) error {
	if input.IsScalar() {
		if !input.Scalar.IsValid() {
			return nil
		}
		v, err := scalarToInt64(input.Scalar)
		if err != nil {
			return err
		}
		s.counts[v] += int64(length)
		return nil
	}

	arr, err := input.Materialize(length, nil)
	if err != nil {
		return err
	}
	values, valid, err := int64ColumnOf(arr)
	if err != nil {
		return err
	}
	for i, v := range values {
		if valid != nil && !valid(i) {
			continue
		}
		s.counts[v]++
	}
	return nil
}

func (s *modeState) MergeFrom(other State) error {
	o := other.(*modeState)
	for v, c := range o.counts {
		s.counts[v] += c
	}
	return nil
}

func (s *modeState) Finalize() (colbatch.Datum, error) {
	type entry struct {
		value int64
		count int64
	}
	entries := make([]entry, 0, len(s.counts))
	for v, c := range s.counts {
		entries = append(entries, entry{v, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].value < entries[j].value
	})

	n := int(s.opts.N)
	if n > len(entries) {
		n = len(entries)
	}
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < n; i++ {
		b.Append(entries[i].value)
	}
	return colbatch.ArrayDatum(b.NewArray()), nil
}
