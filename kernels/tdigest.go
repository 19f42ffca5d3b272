package kernels

import (
	"sort"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/arrowdag/colexec/colbatch"
)

// tdigestKernel implements "t-digest":
// an approximate quantile sketch that merges in bounded space, the
// companion to quantileKernel's exact-but-unbounded approach. No pack
// example carries a t-digest implementation (DESIGN.md records this as
// the one from-scratch, standard-library-only kernel); the centroid
// merge/compress shape below follows the textbook t-digest algorithm
// (Dunning & Ertl) rather than any one library's API, since none of the
// examples gave a concrete Go shape to imitate.
type tdigestKernel struct{}

func (tdigestKernel) Name() string { return "t-digest" }

func (tdigestKernel) Init(_ arrow.DataType, options any) (State, error) {
	return &tdigestState{opts: optionsOrDefault(options, DefaultTDigestOptions())}, nil
}

type centroid struct {
	mean   float64
	weight float64
}

type tdigestState struct {
	opts      TDigestOptions
	buffer    []float64
	centroids []centroid
}

func (s *tdigestState) Consume(input colbatch.Datum, length int) error {
	if input.IsScalar() {
		if !input.Scalar.IsValid() {
			return nil
		}
		v, err := scalarToFloat64(input.Scalar)
		if err != nil {
			return err
		}
		for i := 0; i < length; i++ {
			s.add(v)
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
			s.add(v)
		}
	}
	return nil
}

func (s *tdigestState) add(v float64) {
	s.buffer = append(s.buffer, v)
	if uint32(len(s.buffer)) >= s.opts.BufferSize {
		s.compress()
	}
}

// compress folds the buffer into centroids, then greedily merges
// adjacent centroids whenever doing so keeps every centroid's weight
// under total_weight/delta -- a simplified stand-in for t-digest's
// k-scale function, sized by Delta the same way Delta controls centroid
// count in the canonical algorithm.
func (s *tdigestState) compress() {
	for _, v := range s.buffer {
		s.centroids = append(s.centroids, centroid{mean: v, weight: 1})
	}
	s.buffer = s.buffer[:0]
	if len(s.centroids) == 0 {
		return
	}

	sort.Slice(s.centroids, func(i, j int) bool { return s.centroids[i].mean < s.centroids[j].mean })

	total := 0.0
	for _, c := range s.centroids {
		total += c.weight
	}
	maxWeight := total / float64(s.opts.Delta)
	if maxWeight < 1 {
		maxWeight = 1
	}

	merged := s.centroids[:1]
	for _, c := range s.centroids[1:] {
		last := &merged[len(merged)-1]
		if last.weight+c.weight <= maxWeight {
			newWeight := last.weight + c.weight
			last.mean = (last.mean*last.weight + c.mean*c.weight) / newWeight
			last.weight = newWeight
			continue
		}
		merged = append(merged, c)
	}
	s.centroids = append([]centroid(nil), merged...)
}

func (s *tdigestState) MergeFrom(other State) error {
	o := other.(*tdigestState)
	s.buffer = append(s.buffer, o.buffer...)
	s.centroids = append(s.centroids, o.centroids...)
	s.compress()
	return nil
}

func (s *tdigestState) Finalize() (colbatch.Datum, error) {
	s.compress()

	b := array.NewFloat64Builder(memory.DefaultAllocator)
	defer b.Release()

	if len(s.centroids) == 0 {
		for range s.opts.Q {
			b.AppendNull()
		}
		return colbatch.ArrayDatum(b.NewArray()), nil
	}

	total := 0.0
	for _, c := range s.centroids {
		total += c.weight
	}
	for _, q := range s.opts.Q {
		b.Append(s.quantileOf(q, total))
	}
	return colbatch.ArrayDatum(b.NewArray()), nil
}

// quantileOf walks the sorted centroids accumulating weight and returns
// the mean of the first centroid at which the cumulative weight reaches
// the target rank; it does not interpolate between neighbouring
// centroids.
func (s *tdigestState) quantileOf(q float64, total float64) float64 {
	target := q * total
	cum := 0.0
	for i, c := range s.centroids {
		next := cum + c.weight
		if next >= target || i == len(s.centroids)-1 {
			return c.mean
		}
		cum = next
	}
	return s.centroids[len(s.centroids)-1].mean
}
