package nodes

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"

	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/execplan"
	"github.com/arrowdag/colexec/expr"
)

// ProjectNodeOptions configures a project node: one output column per
// expression, evaluated against the input batch. Grounded on
// arrowexec/nodes/map.go, generalized from a single Run loop to the
// InputReceived/InputFinished handler split.
type ProjectNodeOptions struct {
	Exprs []expr.Expression
}

// NewProject builds the Handlers for a project node. outSchema must have
// one field per entry in opts.Exprs.
func NewProject(outSchema *arrow.Schema, opts ProjectNodeOptions) execplan.Handlers {
	return execplan.Handlers{
		InputReceived: func(n *execplan.Node, input int, batch colbatch.Batch) error {
			values := make([]colbatch.Datum, len(opts.Exprs))
			for i, e := range opts.Exprs {
				d, err := e.Evaluate(batch)
				if err != nil {
					return fmt.Errorf("nodes: evaluating projection %d: %w", i, err)
				}
				values[i] = d
			}
			out, err := colbatch.New(outSchema, values, batch.NumRows())
			if err != nil {
				return fmt.Errorf("nodes: building projected batch: %w", err)
			}
			return n.Emit(out)
		},
		InputFinished: func(n *execplan.Node, input int, total int) {
			n.EmitFinished()
		},
	}
}
