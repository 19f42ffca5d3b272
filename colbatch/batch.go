// Package colbatch defines the immutable columnar batch that flows along
// the edges of an execution plan.
//
// A Batch generalizes arrowexec/execution's execution.Record (which
// simply embeds arrow.Record) by additionally admitting scalar broadcast
// columns, using github.com/apache/arrow/go/v13/arrow/scalar the same way
// arrowexec's execution.Constant expression does.
package colbatch

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/arrow/scalar"
)

// Datum is a column value: either a fully materialized arrow.Array of
// batch length, or a scalar.Scalar logically broadcast to batch length.
type Datum struct {
	Array  arrow.Array
	Scalar scalar.Scalar
}

// IsScalar reports whether this column is a scalar broadcast.
func (d Datum) IsScalar() bool { return d.Scalar != nil }

// ArrayDatum wraps a materialized array as a Datum.
func ArrayDatum(a arrow.Array) Datum { return Datum{Array: a} }

// ScalarDatum wraps a scalar as a broadcast Datum.
func ScalarDatum(s scalar.Scalar) Datum { return Datum{Scalar: s} }

// DataType returns the logical type of the column regardless of whether it
// is array- or scalar-backed.
func (d Datum) DataType() arrow.DataType {
	if d.IsScalar() {
		return d.Scalar.DataType()
	}
	return d.Array.DataType()
}

// Materialize returns d as a length-length array, broadcasting a scalar
// column to length copies if necessary.
func (d Datum) Materialize(length int, mem memory.Allocator) (arrow.Array, error) {
	if !d.IsScalar() {
		return d.Array, nil
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return scalar.MakeArrayFromScalar(d.Scalar, length, mem)
}

// Batch is an immutable horizontal slice of a columnar relation: an ordered
// sequence of Datums all sharing the same logical Length.
//
// Batch values are produced once and must never be mutated; downstream
// nodes receive them by reference and must treat them as read-only.
type Batch struct {
	Schema  *arrow.Schema
	Values  []Datum
	Length  int64
}

// New builds a Batch, validating that every array-typed column's length
// matches length.
func New(schema *arrow.Schema, values []Datum, length int64) (Batch, error) {
	if len(values) != len(schema.Fields()) {
		return Batch{}, fmt.Errorf("colbatch: schema has %d fields but got %d values", len(schema.Fields()), len(values))
	}
	for i, v := range values {
		if !v.IsScalar() && int64(v.Array.Len()) != length {
			return Batch{}, fmt.Errorf("colbatch: column %d (%s) has length %d, batch length is %d",
				i, schema.Field(i).Name, v.Array.Len(), length)
		}
	}
	return Batch{Schema: schema, Values: values, Length: length}, nil
}

// NumRows returns the batch length.
func (b Batch) NumRows() int64 { return b.Length }

// NumCols returns the number of columns.
func (b Batch) NumCols() int { return len(b.Values) }

// Column returns the i-th column, materializing a scalar broadcast into a
// full array if necessary.
func (b Batch) Column(i int) (arrow.Array, error) {
	return b.Values[i].Materialize(int(b.Length), memory.DefaultAllocator)
}

// ColumnDatum returns the i-th column's raw Datum without materializing.
func (b Batch) ColumnDatum(i int) Datum { return b.Values[i] }

// ToRecord materializes every column and returns a plain arrow.Record, for
// interop with arrow/compute functions that only operate on records (as
// arrowexec's nodes.NaiveFilter does with compute.FilterRecordBatch).
func (b Batch) ToRecord(mem memory.Allocator) (arrow.Record, error) {
	cols := make([]arrow.Array, len(b.Values))
	for i, v := range b.Values {
		arr, err := v.Materialize(int(b.Length), mem)
		if err != nil {
			return nil, fmt.Errorf("colbatch: materializing column %d: %w", i, err)
		}
		cols[i] = arr
	}
	return array.NewRecord(b.Schema, cols, b.Length), nil
}

// FromRecord wraps a plain arrow.Record as a Batch of all-array columns.
func FromRecord(rec arrow.Record) Batch {
	values := make([]Datum, rec.NumCols())
	for i := range values {
		values[i] = ArrayDatum(rec.Column(i))
	}
	return Batch{Schema: rec.Schema(), Values: values, Length: rec.NumRows()}
}

// SchemaCompatible reports whether downstream can accept batches with
// upstream's schema: same field count, names and types in order.
func SchemaCompatible(upstream, downstream *arrow.Schema) bool {
	if upstream.NumFields() != downstream.NumFields() {
		return false
	}
	for i := 0; i < upstream.NumFields(); i++ {
		uf, df := upstream.Field(i), downstream.Field(i)
		if uf.Name != df.Name || !arrow.TypeEqual(uf.Type, df.Type) {
			return false
		}
	}
	return true
}
