package expr

import (
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/arrow/scalar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowdag/colexec/colbatch"
)

var schema = arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)

func testBatch(t *testing.T, values []int64) colbatch.Batch {
	t.Helper()
	b := array.NewInt64Builder(memory.DefaultAllocator)
	b.AppendValues(values, nil)
	batch, err := colbatch.New(schema, []colbatch.Datum{colbatch.ArrayDatum(b.NewArray())}, int64(len(values)))
	require.NoError(t, err)
	return batch
}

func TestColumn_Evaluate(t *testing.T) {
	batch := testBatch(t, []int64{1, 2, 3})
	d, err := NewColumn(0).Evaluate(batch)
	require.NoError(t, err)
	assert.False(t, d.IsScalar())
	assert.Equal(t, int64(2), d.Array.(*array.Int64).Value(1))
}

func TestColumn_OutOfRange(t *testing.T) {
	batch := testBatch(t, []int64{1})
	_, err := NewColumn(5).Evaluate(batch)
	assert.Error(t, err)
}

func TestConst_EvaluatesToScalarBroadcast(t *testing.T) {
	c := NewConst(scalar.NewInt64Scalar(42))
	batch := testBatch(t, []int64{1, 2, 3})
	d, err := c.Evaluate(batch)
	require.NoError(t, err)
	require.True(t, d.IsScalar())
	assert.Equal(t, int64(42), d.Scalar.(*scalar.Int64).Value)
}

func TestFunc_EvaluatesArgsAndApplies(t *testing.T) {
	doubled := NewFunc("double", func(args []colbatch.Datum, length int) (colbatch.Datum, error) {
		arr, err := args[0].Materialize(length, memory.DefaultAllocator)
		if err != nil {
			return colbatch.Datum{}, err
		}
		b := array.NewInt64Builder(memory.DefaultAllocator)
		typed := arr.(*array.Int64)
		for i := 0; i < typed.Len(); i++ {
			b.Append(typed.Value(i) * 2)
		}
		return colbatch.ArrayDatum(b.NewArray()), nil
	}, NewColumn(0))

	batch := testBatch(t, []int64{1, 2, 3})
	d, err := doubled.Evaluate(batch)
	require.NoError(t, err)
	got := d.Array.(*array.Int64)
	assert.Equal(t, []int64{2, 4, 6}, got.Int64Values())
}

func TestFunc_PropagatesArgumentError(t *testing.T) {
	f := NewFunc("noop", func(args []colbatch.Datum, length int) (colbatch.Datum, error) {
		return colbatch.Datum{}, nil
	}, NewColumn(99))

	batch := testBatch(t, []int64{1})
	_, err := f.Evaluate(batch)
	assert.Error(t, err)
}
