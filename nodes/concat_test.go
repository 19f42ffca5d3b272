package nodes

import (
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/arrow/scalar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/colexecerr"
)

func TestConcatScalars_Int64(t *testing.T) {
	d, err := concatScalars([]colbatch.Datum{
		colbatch.ScalarDatum(scalar.NewInt64Scalar(1)),
		colbatch.ScalarDatum(scalar.NewInt64Scalar(2)),
		colbatch.ScalarDatum(scalar.NewInt64Scalar(3)),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, d.Array.(*array.Int64).Int64Values())
}

func TestConcatScalars_NullScalarBecomesNullEntry(t *testing.T) {
	null := scalar.MakeNullScalar(arrow.PrimitiveTypes.Int64)
	d, err := concatScalars([]colbatch.Datum{
		colbatch.ScalarDatum(scalar.NewInt64Scalar(1)),
		colbatch.ScalarDatum(null),
	})
	require.NoError(t, err)
	arr := d.Array.(*array.Int64)
	assert.False(t, arr.IsNull(0))
	assert.True(t, arr.IsNull(1))
}

func TestConcatScalars_RejectsArrayDatum(t *testing.T) {
	b := array.NewInt64Builder(memory.DefaultAllocator)
	b.Append(1)
	_, err := concatScalars([]colbatch.Datum{colbatch.ArrayDatum(b.NewArray())})
	assert.True(t, colexecerr.Is(err, colexecerr.NotImplemented))
}

func TestConcatScalars_RejectsEmpty(t *testing.T) {
	_, err := concatScalars(nil)
	assert.Error(t, err)
}
