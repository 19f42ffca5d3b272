package nodes

import (
	"fmt"
	"runtime"

	"github.com/apache/arrow/go/v13/arrow"
	"golang.org/x/sync/errgroup"

	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/execplan"
	"github.com/arrowdag/colexec/grouper"
	"github.com/arrowdag/colexec/kernels"
)

// AggregateSpec names one output column of an aggregate node: which
// kernel computes it, which input column it consumes, and the kernel's
// options.
type AggregateSpec struct {
	Kernel     kernels.Kernel
	InputIndex int
	Options    any
	OutputName string
}

// AggregateNodeOptions configures an aggregate node. When GroupKeyIndices
// is empty the node performs scalar aggregation (one output row total);
// otherwise it performs grouped aggregation (one output row per distinct
// key).
type AggregateNodeOptions struct {
	GroupKeyIndices []int
	Aggregations    []AggregateSpec
}

// NewAggregate builds the Handlers for an aggregate node. inputSchema is
// the schema of batches the node consumes; outSchema is the schema of
// the single output batch it emits (group key columns followed by
// aggregation outputs, in that order, when grouped).
//
// Grounded on arrowexec/nodes/group_by.go's GroupBy.Run for the grouped
// case (per-entry accumulator arrays addressed by dense group id) and on
// arrowexec/aggregates' accumulators for the scalar case, but built on
// top of this module's kernels.State/grouper.Grouper instead of
// arrowexec's Aggregate/Key interfaces, since those are tied to its
// single-pass Run rather than the Consume/MergeFrom/Finalize split this
// module needs.
func NewAggregate(inputSchema, outSchema *arrow.Schema, opts AggregateNodeOptions) execplan.Handlers {
	if len(opts.GroupKeyIndices) == 0 {
		return newScalarAggregate(inputSchema, outSchema, opts)
	}
	return newGroupedAggregate(inputSchema, outSchema, opts)
}

func newScalarAggregate(inputSchema, outSchema *arrow.Schema, opts AggregateNodeOptions) execplan.Handlers {
	var states []kernels.State

	return execplan.Handlers{
		Start: func(n *execplan.Node) error {
			states = make([]kernels.State, len(opts.Aggregations))
			for i, agg := range opts.Aggregations {
				inputType := inputSchema.Field(agg.InputIndex).Type
				st, err := agg.Kernel.Init(inputType, agg.Options)
				if err != nil {
					return fmt.Errorf("nodes: initializing kernel %q: %w", agg.Kernel.Name(), err)
				}
				states[i] = st
			}
			return nil
		},
		InputReceived: func(n *execplan.Node, input int, batch colbatch.Batch) error {
			for i, agg := range opts.Aggregations {
				if err := states[i].Consume(batch.ColumnDatum(agg.InputIndex), int(batch.NumRows())); err != nil {
					return fmt.Errorf("nodes: kernel %q consuming batch: %w", agg.Kernel.Name(), err)
				}
			}
			return nil
		},
		InputFinished: func(n *execplan.Node, input int, total int) {
			values := make([]colbatch.Datum, len(opts.Aggregations))
			for i := range opts.Aggregations {
				d, err := states[i].Finalize()
				if err != nil {
					n.EmitError(fmt.Errorf("nodes: finalizing kernel %q: %w", opts.Aggregations[i].Kernel.Name(), err))
					return
				}
				values[i] = d
			}
			out, err := colbatch.New(outSchema, values, 1)
			if err != nil {
				n.EmitError(fmt.Errorf("nodes: building scalar aggregate output: %w", err))
				return
			}
			if err := n.Emit(out); err != nil {
				return
			}
			n.EmitFinished()
			n.MarkDrained()
		},
	}
}

func newGroupedAggregate(inputSchema, outSchema *arrow.Schema, opts AggregateNodeOptions) execplan.Handlers {
	var g *grouper.Grouper
	var groupStates [][]kernels.State

	return execplan.Handlers{
		Start: func(n *execplan.Node) error {
			keyTypes := make([]arrow.DataType, len(opts.GroupKeyIndices))
			for i, idx := range opts.GroupKeyIndices {
				keyTypes[i] = inputSchema.Field(idx).Type
			}
			var err error
			g, err = grouper.Make(keyTypes)
			return err
		},
		InputReceived: func(n *execplan.Node, input int, batch colbatch.Batch) error {
			keyValues := make([]colbatch.Datum, len(opts.GroupKeyIndices))
			keyFields := make([]arrow.Field, len(opts.GroupKeyIndices))
			for i, idx := range opts.GroupKeyIndices {
				keyValues[i] = batch.ColumnDatum(idx)
				keyFields[i] = inputSchema.Field(idx)
			}
			keyBatch, err := colbatch.New(arrow.NewSchema(keyFields, nil), keyValues, batch.NumRows())
			if err != nil {
				return err
			}

			ids, err := g.Consume(keyBatch)
			if err != nil {
				return fmt.Errorf("nodes: assigning group ids: %w", err)
			}
			groupings, err := grouper.MakeGroupings(ids, g.NumGroups())
			if err != nil {
				return err
			}

			for int64(len(groupStates)) < g.NumGroups() {
				states := make([]kernels.State, len(opts.Aggregations))
				for i, agg := range opts.Aggregations {
					inputType := inputSchema.Field(agg.InputIndex).Type
					st, err := agg.Kernel.Init(inputType, agg.Options)
					if err != nil {
						return fmt.Errorf("nodes: initializing kernel %q: %w", agg.Kernel.Name(), err)
					}
					states[i] = st
				}
				groupStates = append(groupStates, states)
			}

			for aggIdx, agg := range opts.Aggregations {
				col, err := batch.Column(agg.InputIndex)
				if err != nil {
					return err
				}
				gathered, err := grouper.ApplyGroupings(groupings, col)
				if err != nil {
					return fmt.Errorf("nodes: gathering column for kernel %q: %w", agg.Kernel.Name(), err)
				}
				for groupID, rows := range groupings {
					if len(rows) == 0 {
						continue
					}
					if err := groupStates[groupID][aggIdx].Consume(colbatch.ArrayDatum(gathered[groupID]), len(rows)); err != nil {
						return fmt.Errorf("nodes: kernel %q consuming group %d: %w", agg.Kernel.Name(), groupID, err)
					}
				}
			}
			return nil
		},
		InputFinished: func(n *execplan.Node, input int, total int) {
			uniques, err := g.GetUniques()
			if err != nil {
				n.EmitError(fmt.Errorf("nodes: reading group keys: %w", err))
				return
			}

			numGroups := int(g.NumGroups())
			finalized := make([][]colbatch.Datum, len(opts.Aggregations))
			for aggIdx := range opts.Aggregations {
				finalized[aggIdx] = make([]colbatch.Datum, numGroups)
			}

			// Each aggregation's groups finalize independently of every
			// other aggregation's, so one goroutine per output column
			// finalizes all its groups concurrently -- the same
			// one-goroutine-per-column split arrowexec's
			// hashtable.buildRecords uses for rewriting join output
			// columns.
			var eg errgroup.Group
			eg.SetLimit(runtime.GOMAXPROCS(0))
			for aggIdx, agg := range opts.Aggregations {
				aggIdx, agg := aggIdx, agg
				eg.Go(func() error {
					for groupID := 0; groupID < numGroups; groupID++ {
						d, err := groupStates[groupID][aggIdx].Finalize()
						if err != nil {
							return fmt.Errorf("nodes: finalizing kernel %q for group %d: %w", agg.Kernel.Name(), groupID, err)
						}
						finalized[aggIdx][groupID] = d
					}
					return nil
				})
			}
			if err := eg.Wait(); err != nil {
				n.EmitError(err)
				return
			}

			values := make([]colbatch.Datum, 0, len(opts.GroupKeyIndices)+len(opts.Aggregations))
			for i := range opts.GroupKeyIndices {
				values = append(values, uniques.ColumnDatum(i))
			}
			for aggIdx, agg := range opts.Aggregations {
				col, err := concatScalars(finalized[aggIdx])
				if err != nil {
					n.EmitError(fmt.Errorf("nodes: assembling output column for kernel %q: %w", agg.Kernel.Name(), err))
					return
				}
				values = append(values, col)
			}

			out, err := colbatch.New(outSchema, values, int64(numGroups))
			if err != nil {
				n.EmitError(fmt.Errorf("nodes: building grouped aggregate output: %w", err))
				return
			}
			if err := n.Emit(out); err != nil {
				return
			}
			n.EmitFinished()
			n.MarkDrained()
		},
	}
}
