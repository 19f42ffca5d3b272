package colbatch

import (
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/arrow/scalar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var simpleSchema = arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)

func TestNew_RejectsFieldValueMismatch(t *testing.T) {
	_, err := New(simpleSchema, nil, 0)
	assert.Error(t, err)
}

func TestNew_RejectsLengthMismatch(t *testing.T) {
	b := array.NewInt64Builder(memory.DefaultAllocator)
	b.AppendValues([]int64{1, 2, 3}, nil)
	_, err := New(simpleSchema, []Datum{ArrayDatum(b.NewArray())}, 5)
	assert.Error(t, err)
}

func TestDatum_ScalarMaterializeBroadcasts(t *testing.T) {
	d := ScalarDatum(scalar.NewInt64Scalar(7))
	arr, err := d.Materialize(4, memory.DefaultAllocator)
	require.NoError(t, err)
	typed := arr.(*array.Int64)
	require.Equal(t, 4, typed.Len())
	for i := 0; i < 4; i++ {
		assert.Equal(t, int64(7), typed.Value(i))
	}
}

func TestBatch_ColumnMaterializesScalarColumn(t *testing.T) {
	b, err := New(simpleSchema, []Datum{ScalarDatum(scalar.NewInt64Scalar(9))}, 3)
	require.NoError(t, err)

	col, err := b.Column(0)
	require.NoError(t, err)
	typed := col.(*array.Int64)
	assert.Equal(t, 3, typed.Len())
	assert.Equal(t, int64(9), typed.Value(1))
}

func TestFromRecord_RoundTrip(t *testing.T) {
	colBuilder := array.NewInt64Builder(memory.DefaultAllocator)
	colBuilder.AppendValues([]int64{1, 2, 3}, nil)
	rec := array.NewRecord(simpleSchema, []arrow.Array{colBuilder.NewArray()}, 3)

	b := FromRecord(rec)
	assert.Equal(t, int64(3), b.NumRows())
	assert.Equal(t, 1, b.NumCols())
	assert.False(t, b.ColumnDatum(0).IsScalar())
}

func TestSchemaCompatible(t *testing.T) {
	other := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)
	assert.True(t, SchemaCompatible(simpleSchema, other))

	mismatched := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Float64}}, nil)
	assert.False(t, SchemaCompatible(simpleSchema, mismatched))
}
