package declare

import (
	"context"
	"testing"
	"time"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/execplan"
	"github.com/arrowdag/colexec/expr"
	"github.com/arrowdag/colexec/nodes"
)

// drainSink pulls every batch gen yields until the terminator, failing
// the test on any error.
func drainSink(t *testing.T, gen execplan.BatchGenerator) []colbatch.Batch {
	t.Helper()
	var out []colbatch.Batch
	ctx := context.Background()
	for {
		b, ok, err := gen.Next(ctx)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

var declSchema = arrow.NewSchema([]arrow.Field{
	{Name: "a", Type: arrow.PrimitiveTypes.Int64},
	{Name: "b", Type: arrow.PrimitiveTypes.Int64},
}, nil)

func declBatch(t *testing.T, a, b []int64) colbatch.Batch {
	t.Helper()
	ab := array.NewInt64Builder(memory.DefaultAllocator)
	ab.AppendValues(a, nil)
	bb := array.NewInt64Builder(memory.DefaultAllocator)
	bb.AppendValues(b, nil)
	batch, err := colbatch.New(declSchema, []colbatch.Datum{colbatch.ArrayDatum(ab.NewArray()), colbatch.ArrayDatum(bb.NewArray())}, int64(len(a)))
	require.NoError(t, err)
	return batch
}

func TestSequence_BuildsLinearPipeline(t *testing.T) {
	gen := execplan.NewVectorGenerator([]colbatch.Batch{declBatch(t, []int64{1, 2, 3}, []int64{10, 20, 30})})

	var sinkGen execplan.BatchGenerator
	d := Sequence(
		&Declaration{NodeKindName: "source", Options: SourceNodeOptions{Schema: declSchema, Generator: gen}},
		&Declaration{NodeKindName: "sink", Options: nodes.SinkNodeOptions{OutGenerator: &sinkGen}},
	)

	p := execplan.New()
	_, err := AddToPlan(p, d)
	require.NoError(t, err)

	require.NoError(t, p.StartProducing())
	select {
	case <-p.Finished():
	case <-time.After(2 * time.Second):
		t.Fatal("plan did not finish within timeout")
	}
	require.NoError(t, p.Err())

	var gotRows int64
	for _, batch := range drainSink(t, sinkGen) {
		gotRows += batch.NumRows()
	}
	assert.Equal(t, int64(3), gotRows)
}

func TestAddToPlan_FilterAggregate(t *testing.T) {
	gen := execplan.NewVectorGenerator([]colbatch.Batch{
		declBatch(t, []int64{1, 1, 2}, []int64{10, 20, 30}),
		declBatch(t, []int64{2, 1}, []int64{40, 50}),
	})

	source := &Declaration{NodeKindName: "source", Options: SourceNodeOptions{Schema: declSchema, Generator: gen}}
	filter := &Declaration{
		NodeKindName: "filter",
		Options: nodes.FilterNodeOptions{
			Predicate: expr.NewFunc("gt0", func(args []colbatch.Datum, length int) (colbatch.Datum, error) {
				arr, err := args[0].Materialize(length, memory.DefaultAllocator)
				if err != nil {
					return colbatch.Datum{}, err
				}
				b := array.NewBooleanBuilder(memory.DefaultAllocator)
				typed := arr.(*array.Int64)
				for i := 0; i < typed.Len(); i++ {
					b.Append(typed.Value(i) > 0)
				}
				return colbatch.ArrayDatum(b.NewArray()), nil
			}, expr.NewColumn(1)),
		},
		Children: []*Declaration{source},
	}
	aggregate := &Declaration{
		NodeKindName: "aggregate",
		Options: AggregateNodeOptions{
			Keys: []string{"a"},
			Aggregates: []AggregateSpec{
				{FunctionName: "sum", Target: "b", OutputName: "b_sum"},
			},
		},
		Children: []*Declaration{filter},
	}

	var sinkGen execplan.BatchGenerator
	sink := &Declaration{
		NodeKindName: "sink",
		Options:      nodes.SinkNodeOptions{OutGenerator: &sinkGen},
		Children:     []*Declaration{aggregate},
	}

	p := execplan.New()
	_, err := AddToPlan(p, sink)
	require.NoError(t, err)

	require.NoError(t, p.StartProducing())
	select {
	case <-p.Finished():
	case <-time.After(2 * time.Second):
		t.Fatal("plan did not finish within timeout")
	}
	require.NoError(t, p.Err())

	got := map[int64]int64{}
	for _, batch := range drainSink(t, sinkGen) {
		keys, err := batch.Column(0)
		require.NoError(t, err)
		sums, err := batch.Column(1)
		require.NoError(t, err)
		keyArr, sumArr := keys.(*array.Int64), sums.(*array.Int64)
		for i := 0; i < keyArr.Len(); i++ {
			got[keyArr.Value(i)] = sumArr.Value(i)
		}
	}
	assert.Equal(t, map[int64]int64{1: 80, 2: 70}, got)
}

func TestAddToPlan_UnknownNodeKind(t *testing.T) {
	p := execplan.New()
	_, err := AddToPlan(p, &Declaration{NodeKindName: "not-a-kind"})
	assert.Error(t, err)
}

func TestAddToPlan_AggregateUnknownColumn(t *testing.T) {
	gen := execplan.NewVectorGenerator(nil)
	source := &Declaration{NodeKindName: "source", Options: SourceNodeOptions{Schema: declSchema, Generator: gen}}
	agg := &Declaration{
		NodeKindName: "aggregate",
		Options: AggregateNodeOptions{
			Aggregates: []AggregateSpec{{FunctionName: "sum", Target: "does-not-exist", OutputName: "out"}},
		},
		Children: []*Declaration{source},
	}

	p := execplan.New()
	_, err := AddToPlan(p, agg)
	assert.Error(t, err)
}

func TestOutputTypeFor(t *testing.T) {
	assert.Equal(t, arrow.PrimitiveTypes.Int64, outputTypeFor("count", arrow.PrimitiveTypes.Float64))
	assert.Equal(t, arrow.PrimitiveTypes.Float64, outputTypeFor("mean", arrow.PrimitiveTypes.Int64))
	assert.Equal(t, arrow.FixedWidthTypes.Boolean, outputTypeFor("any", arrow.PrimitiveTypes.Int64))
	assert.Equal(t, arrow.PrimitiveTypes.Int64, outputTypeFor("sum", arrow.PrimitiveTypes.Int64))
	assert.Equal(t, arrow.PrimitiveTypes.Float64, outputTypeFor("sum", arrow.PrimitiveTypes.Float64))
}
