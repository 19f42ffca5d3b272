// Package expr implements the expression evaluator FilterNode/ProjectNode
// run against: Evaluate(batch) yields either an array of batch-length or a
// broadcast scalar. Grounded directly on
// arrowexec/execution/expression.go's RecordVariable/Constant/FunctionCall,
// adapted from arrow.Record to colbatch.Batch and from arrow.Array results
// to colbatch.Datum so that constant expressions stay scalar-broadcast
// rather than being eagerly materialized into arrays.
package expr

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow/scalar"
	"github.com/arrowdag/colexec/colbatch"
)

// Expression evaluates to a Datum given a batch of input rows.
type Expression interface {
	Evaluate(batch colbatch.Batch) (colbatch.Datum, error)
}

// Column references the i-th column of the input batch unchanged, the
// expression equivalent of arrowexec's RecordVariable.
type Column struct {
	Index int
}

func NewColumn(index int) *Column { return &Column{Index: index} }

func (c *Column) Evaluate(batch colbatch.Batch) (colbatch.Datum, error) {
	if c.Index < 0 || c.Index >= batch.NumCols() {
		return colbatch.Datum{}, fmt.Errorf("expr: column index %d out of range (batch has %d columns)", c.Index, batch.NumCols())
	}
	return batch.ColumnDatum(c.Index), nil
}

// Const always evaluates to the same scalar, broadcast to the batch
// length by whoever materializes it -- arrowexec's Constant expression.
type Const struct {
	Value scalar.Scalar
}

func NewConst(v scalar.Scalar) *Const { return &Const{Value: v} }

func (c *Const) Evaluate(batch colbatch.Batch) (colbatch.Datum, error) {
	return colbatch.ScalarDatum(c.Value), nil
}

// Func applies an arbitrary function to its evaluated arguments,
// arrowexec's FunctionCall. Arguments reach Fn unmaterialized (a scalar
// argument stays a scalar Datum), together with the batch length.
type Func struct {
	Name string
	Fn   func(args []colbatch.Datum, length int) (colbatch.Datum, error)
	Args []Expression
}

func NewFunc(name string, fn func(args []colbatch.Datum, length int) (colbatch.Datum, error), args ...Expression) *Func {
	return &Func{Name: name, Fn: fn, Args: args}
}

func (f *Func) Evaluate(batch colbatch.Batch) (colbatch.Datum, error) {
	args := make([]colbatch.Datum, len(f.Args))
	for i, a := range f.Args {
		d, err := a.Evaluate(batch)
		if err != nil {
			return colbatch.Datum{}, fmt.Errorf("expr: evaluating argument %d of %q: %w", i, f.Name, err)
		}
		args[i] = d
	}
	out, err := f.Fn(args, int(batch.NumRows()))
	if err != nil {
		return colbatch.Datum{}, fmt.Errorf("expr: evaluating %q: %w", f.Name, err)
	}
	return out, nil
}
