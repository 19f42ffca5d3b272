// Package declare implements declarative plan construction: a
// Declaration tree describing node kinds and their options, turned into
// a live execplan.Plan by AddToPlan. Grounded loosely on arrowexec's
// physical.Node/Materialize dispatch-by-kind pattern
// (physical/nodes.go), but flattened to a single node-kind registry
// rather than arrowexec's logical/physical split, which this module
// does not need since it has no separate query planner.
package declare

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"

	"github.com/arrowdag/colexec/execplan"
	"github.com/arrowdag/colexec/expr"
	"github.com/arrowdag/colexec/kernels"
	"github.com/arrowdag/colexec/nodes"
)

// Declaration is {node_kind_name, options, children}.
type Declaration struct {
	NodeKindName string
	Options      any
	Children     []*Declaration
}

// Sequence chains decls into a linear pipeline, wiring each
// declaration's single output into the next declaration's single input.
// The first declaration is expected to be a source (no children of its
// own).
func Sequence(decls ...*Declaration) *Declaration {
	if len(decls) == 0 {
		return nil
	}
	for i := 1; i < len(decls); i++ {
		decls[i].Children = []*Declaration{decls[i-1]}
	}
	return decls[len(decls)-1]
}

// SourceNodeOptions declares a source node's output schema and the
// async batch generator that feeds it.
type SourceNodeOptions struct {
	Schema    *arrow.Schema
	Generator execplan.BatchGenerator
}

// ProjectNodeOptions declares a project node's expressions and
// (optional) output column names, plus an OutputTypes field: this
// module's expr package has no static type-inference pass, so the
// output schema's field types must be supplied rather than derived.
type ProjectNodeOptions struct {
	Exprs       []expr.Expression
	OutputNames []string
	OutputTypes []arrow.DataType
}

// AggregateSpec is one (function_name, options) aggregate entry paired
// with its target column and output name.
type AggregateSpec struct {
	FunctionName string
	Options      any
	Target       string
	OutputName   string
}

// AggregateNodeOptions declares an aggregate node as one slice of
// AggregateSpec plus an optional list of group-key column names.
type AggregateNodeOptions struct {
	Aggregates []AggregateSpec
	Keys       []string
}

// StreamJoinOptions declares an adaptive hash-equijoin node.
type StreamJoinOptions struct {
	LeftKeyExprs, RightKeyExprs []expr.Expression
	KeyTypes                    []arrow.DataType
}

type builder func(inputs []*execplan.Node, options any) (execplan.Handlers, *arrow.Schema, int, error)

var registry = map[string]builder{
	"source":      buildSource,
	"filter":      buildFilter,
	"project":     buildProject,
	"aggregate":   buildAggregate,
	"sink":        buildSink,
	"stream_join": buildStreamJoin,
}

// AddToPlan recursively builds d and every ancestor declaration
// (children first) into plan, returning the resulting node.
func AddToPlan(plan *execplan.Plan, d *Declaration) (*execplan.Node, error) {
	inputs := make([]*execplan.Node, len(d.Children))
	for i, c := range d.Children {
		n, err := AddToPlan(plan, c)
		if err != nil {
			return nil, err
		}
		inputs[i] = n
	}

	build, ok := registry[d.NodeKindName]
	if !ok {
		return nil, fmt.Errorf("declare: unknown node kind %q", d.NodeKindName)
	}
	handlers, schema, numOutputs, err := build(inputs, d.Options)
	if err != nil {
		return nil, fmt.Errorf("declare: building node kind %q: %w", d.NodeKindName, err)
	}

	return plan.AddNode(execplan.AddNodeArgs{
		Label:      d.NodeKindName,
		Kind:       d.NodeKindName, // "source" is the exact tag Plan.Validate checks for input-less nodes
		Inputs:     inputs,
		NumOutputs: numOutputs,
		Schema:     schema,
		Handlers:   handlers,
	})
}

func buildSource(inputs []*execplan.Node, options any) (execplan.Handlers, *arrow.Schema, int, error) {
	opts, ok := options.(SourceNodeOptions)
	if !ok {
		return execplan.Handlers{}, nil, 0, fmt.Errorf("declare: source node requires declare.SourceNodeOptions, got %T", options)
	}
	return nodes.NewSource(opts.Generator), opts.Schema, 1, nil
}

func buildFilter(inputs []*execplan.Node, options any) (execplan.Handlers, *arrow.Schema, int, error) {
	opts, ok := options.(nodes.FilterNodeOptions)
	if !ok {
		return execplan.Handlers{}, nil, 0, fmt.Errorf("declare: filter node requires nodes.FilterNodeOptions, got %T", options)
	}
	if len(inputs) != 1 {
		return execplan.Handlers{}, nil, 0, fmt.Errorf("declare: filter node requires exactly one input, got %d", len(inputs))
	}
	schema := inputs[0].OutputSchema()
	return nodes.NewFilter(schema, opts), schema, 1, nil
}

func buildProject(inputs []*execplan.Node, options any) (execplan.Handlers, *arrow.Schema, int, error) {
	opts, ok := options.(ProjectNodeOptions)
	if !ok {
		return execplan.Handlers{}, nil, 0, fmt.Errorf("declare: project node requires declare.ProjectNodeOptions, got %T", options)
	}
	if len(opts.OutputTypes) != len(opts.Exprs) {
		return execplan.Handlers{}, nil, 0, fmt.Errorf("declare: project node needs one OutputType per expression (%d exprs, %d types)", len(opts.Exprs), len(opts.OutputTypes))
	}
	fields := make([]arrow.Field, len(opts.Exprs))
	for i := range opts.Exprs {
		name := fmt.Sprintf("col_%d", i)
		if i < len(opts.OutputNames) && opts.OutputNames[i] != "" {
			name = opts.OutputNames[i]
		}
		fields[i] = arrow.Field{Name: name, Type: opts.OutputTypes[i]}
	}
	schema := arrow.NewSchema(fields, nil)
	return nodes.NewProject(schema, nodes.ProjectNodeOptions{Exprs: opts.Exprs}), schema, 1, nil
}

func buildAggregate(inputs []*execplan.Node, options any) (execplan.Handlers, *arrow.Schema, int, error) {
	opts, ok := options.(AggregateNodeOptions)
	if !ok {
		return execplan.Handlers{}, nil, 0, fmt.Errorf("declare: aggregate node requires declare.AggregateNodeOptions, got %T", options)
	}
	if len(inputs) != 1 {
		return execplan.Handlers{}, nil, 0, fmt.Errorf("declare: aggregate node requires exactly one input, got %d", len(inputs))
	}
	inSchema := inputs[0].OutputSchema()

	keyIndices := make([]int, len(opts.Keys))
	for i, name := range opts.Keys {
		idx, err := fieldIndex(inSchema, name)
		if err != nil {
			return execplan.Handlers{}, nil, 0, err
		}
		keyIndices[i] = idx
	}

	specs := make([]nodes.AggregateSpec, len(opts.Aggregates))
	fields := make([]arrow.Field, 0, len(opts.Keys)+len(opts.Aggregates))
	for _, idx := range keyIndices {
		fields = append(fields, inSchema.Field(idx))
	}
	for i, a := range opts.Aggregates {
		idx, err := fieldIndex(inSchema, a.Target)
		if err != nil {
			return execplan.Handlers{}, nil, 0, err
		}
		kernel, err := kernels.Default.Lookup(a.FunctionName)
		if err != nil {
			return execplan.Handlers{}, nil, 0, err
		}
		specs[i] = nodes.AggregateSpec{Kernel: kernel, InputIndex: idx, Options: a.Options, OutputName: a.OutputName}
		fields = append(fields, arrow.Field{Name: a.OutputName, Type: outputTypeFor(a.FunctionName, inSchema.Field(idx).Type)})
	}

	schema := arrow.NewSchema(fields, nil)
	handlers := nodes.NewAggregate(inSchema, schema, nodes.AggregateNodeOptions{GroupKeyIndices: keyIndices, Aggregations: specs})
	return handlers, schema, 1, nil
}

func buildSink(inputs []*execplan.Node, options any) (execplan.Handlers, *arrow.Schema, int, error) {
	opts, ok := options.(nodes.SinkNodeOptions)
	if !ok {
		return execplan.Handlers{}, nil, 0, fmt.Errorf("declare: sink node requires nodes.SinkNodeOptions, got %T", options)
	}
	if len(inputs) != 1 {
		return execplan.Handlers{}, nil, 0, fmt.Errorf("declare: sink node requires exactly one input, got %d", len(inputs))
	}
	return nodes.NewSink(opts), inputs[0].OutputSchema(), 0, nil
}

func buildStreamJoin(inputs []*execplan.Node, options any) (execplan.Handlers, *arrow.Schema, int, error) {
	opts, ok := options.(StreamJoinOptions)
	if !ok {
		return execplan.Handlers{}, nil, 0, fmt.Errorf("declare: stream_join node requires declare.StreamJoinOptions, got %T", options)
	}
	if len(inputs) != 2 {
		return execplan.Handlers{}, nil, 0, fmt.Errorf("declare: stream_join node requires exactly two inputs (left, right), got %d", len(inputs))
	}
	leftSchema, rightSchema := inputs[0].OutputSchema(), inputs[1].OutputSchema()
	joinOpts := nodes.StreamJoinOptions{
		LeftSchema: leftSchema, RightSchema: rightSchema,
		LeftKeyExprs: opts.LeftKeyExprs, RightKeyExprs: opts.RightKeyExprs,
		KeyTypes: opts.KeyTypes,
	}
	return nodes.NewStreamJoin(joinOpts), nodes.JoinedSchema(leftSchema, rightSchema), 1, nil
}

func fieldIndex(schema *arrow.Schema, name string) (int, error) {
	indices := schema.FieldIndices(name)
	if len(indices) == 0 {
		return 0, fmt.Errorf("declare: no such column %q", name)
	}
	return indices[0], nil
}

// outputTypeFor picks a declared output type for a kernel given its
// input column's type. Kernels whose Finalize can yield more than one
// value per group (mode, quantile, t-digest) are only declared here for
// scalar aggregation; see nodes.concatScalars for the grouped-mode
// restriction this implies.
func outputTypeFor(functionName string, inputType arrow.DataType) arrow.DataType {
	switch functionName {
	case "count", "index", "mode":
		return arrow.PrimitiveTypes.Int64
	case "mean", "variance", "stddev", "quantile", "t-digest":
		return arrow.PrimitiveTypes.Float64
	case "any", "all":
		return arrow.FixedWidthTypes.Boolean
	case "sum", "product", "min", "max":
		switch inputType.ID() {
		case arrow.FLOAT32, arrow.FLOAT64:
			return arrow.PrimitiveTypes.Float64
		default:
			return arrow.PrimitiveTypes.Int64
		}
	default:
		return inputType
	}
}
