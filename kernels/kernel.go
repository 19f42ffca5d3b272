// Package kernels implements the aggregation kernel protocol: a
// three-phase Consume -> MergeFrom -> Finalize contract that every scalar
// aggregation kernel implements, plus the catalog of kernels (count, sum,
// product, mean, variance/stddev, min/max, any/all, mode, quantile,
// t-digest, index).
//
// The representative kernel -- variance/stddev -- is grounded directly on
// original_source/cpp/src/arrow/compute/kernels/aggregate_var_std.cc.
// count and sum are grounded on arrowexec/aggregates/{count.go,sum.go}
// (which hold per-group accumulator arrays rather than a single scalar
// accumulator, since they are used from GroupBy; this package's State is
// the single-accumulator scalar building block that nodes.Aggregate
// replicates once per group, mirroring that per-entry accumulator design
// at a finer grain).
package kernels

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/colexecerr"
)

// State is a per-partition aggregator accumulator. A fresh State is the
// identity element for MergeFrom.
type State interface {
	// Consume folds a batch column into the state. input may be an array
	// or a scalar broadcast; length is the batch length (used when input
	// is scalar).
	Consume(input colbatch.Datum, length int) error
	// MergeFrom associatively, commutatively combines other into the
	// receiver. other is not usable afterwards (the merge step takes
	// ownership of it).
	MergeFrom(other State) error
	// Finalize projects the accumulator to the kernel's declared output
	// type. Finalize is called at most once and is terminal.
	Finalize() (colbatch.Datum, error)
}

// Kernel is a named aggregation function capable of producing a fresh
// State for a given input type and options.
type Kernel interface {
	Name() string
	// Init returns a fresh, freshly-initialized State (the identity
	// element under MergeFrom).
	Init(inputType arrow.DataType, options any) (State, error)
}

// Registry is the process-wide, read-only-at-execution catalog of
// kernels; mutation only happens at package init time via Register.
type Registry struct {
	kernels map[string]Kernel
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{kernels: make(map[string]Kernel)}
}

// Register adds a kernel under its name, overwriting any existing
// registration of the same name.
func (r *Registry) Register(k Kernel) {
	r.kernels[k.Name()] = k
}

// Lookup returns the kernel registered under name.
func (r *Registry) Lookup(name string) (Kernel, error) {
	k, ok := r.kernels[name]
	if !ok {
		return nil, colexecerr.Newf(colexecerr.Invalid, "kernels: no aggregate function named %q", name)
	}
	return k, nil
}

// Default is the registry populated by this package's kernels at init
// time, analogous to arrowexec's aggregates.Aggregates table
// (arrowexec/aggregates/table.go).
var Default = NewRegistry()

func init() {
	Default.Register(countKernel{})
	Default.Register(sumKernel{})
	Default.Register(productKernel{})
	Default.Register(meanKernel{})
	Default.Register(varianceKernel{})
	Default.Register(stddevKernel{})
	Default.Register(minKernel{})
	Default.Register(maxKernel{})
	Default.Register(anyKernel{})
	Default.Register(allKernel{})
	Default.Register(modeKernel{})
	Default.Register(quantileKernel{})
	Default.Register(tdigestKernel{})
	Default.Register(indexKernel{})
}

// ScalarAggregateOptions controls null handling and the validity floor
// shared by most scalar aggregations.
type ScalarAggregateOptions struct {
	SkipNulls bool
	MinCount  uint32
}

// DefaultScalarAggregateOptions returns the conventional defaults:
// nulls skipped, at least one valid value required.
func DefaultScalarAggregateOptions() ScalarAggregateOptions {
	return ScalarAggregateOptions{SkipNulls: true, MinCount: 1}
}

// ModeOptions controls the mode kernel.
type ModeOptions struct {
	N int64
}

func DefaultModeOptions() ModeOptions { return ModeOptions{N: 1} }

// VarianceOptions controls the variance and stddev kernels: null
// handling plus the degrees-of-freedom adjustment.
type VarianceOptions struct {
	SkipNulls bool
	MinCount  uint32
	DDoF      int
}

// DefaultVarianceOptions returns the conventional defaults: nulls
// skipped, at least one valid value required, population variance.
func DefaultVarianceOptions() VarianceOptions {
	return VarianceOptions{SkipNulls: true, MinCount: 1, DDoF: 0}
}

// Interpolation selects how QuantileOptions picks a value between two
// ranks.
type Interpolation int

const (
	Linear Interpolation = iota
	Lower
	Higher
	Nearest
	Midpoint
)

// QuantileOptions controls the quantile kernel.
type QuantileOptions struct {
	Q             []float64
	Interpolation Interpolation
}

func DefaultQuantileOptions() QuantileOptions {
	return QuantileOptions{Q: []float64{0.5}, Interpolation: Linear}
}

// TDigestOptions controls the t-digest kernel.
type TDigestOptions struct {
	Q          []float64
	Delta      uint32
	BufferSize uint32
}

func DefaultTDigestOptions() TDigestOptions {
	return TDigestOptions{Q: []float64{0.5}, Delta: 100, BufferSize: 500}
}

// IndexOptions controls the index kernel.
type IndexOptions struct {
	Value any
}

func optionsOrDefault[T any](options any, def T) T {
	if options == nil {
		return def
	}
	if t, ok := options.(T); ok {
		return t
	}
	return def
}
