// Package grouper implements dense group-id assignment over one or more
// key columns, used by nodes.Aggregate's grouped mode. Grounded on
// arrowexec/nodes/group_by.go's Key/KeyInt/KeyString family and its
// MakeKeyHasher (fnv1a over intintmap-addressed entries), generalized
// from GroupBy's single Run loop into a standalone, reusable type that
// nodes.Aggregate drives batch-by-batch.
package grouper

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/bitutil"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/brentp/intintmap"
	"github.com/segmentio/fasthash/fnv1a"

	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/colexecerr"
)

// key is one column's worth of unique-value storage plus the equality
// check needed to confirm a hash match actually is the same value
// (arrowexec's group_by.go Key interface).
type key interface {
	addKey(arr arrow.Array, row int)
	equal(entryIndex int64, arr arrow.Array, row int) bool
	batch(length, offset int) arrow.Array
	dataType() arrow.DataType
}

// keyInt64 mirrors arrowexec's KeyInt, a resizable Int64 buffer indexed
// by dense entry id.
type keyInt64 struct {
	dt    arrow.DataType
	data  *memory.Buffer
	state []int64
	count int
}

func newKeyInt64(dt arrow.DataType) *keyInt64 {
	return &keyInt64{dt: dt, data: memory.NewResizableBuffer(memory.DefaultAllocator)}
}

func (k *keyInt64) addKey(arr arrow.Array, row int) {
	if k.count >= len(k.state) {
		k.data.Resize(arrow.Int64Traits.BytesRequired(bitutil.NextPowerOf2(k.count + 1)))
		k.state = arrow.Int64Traits.CastFromBytes(k.data.Bytes())
	}
	k.state[k.count] = arr.(*array.Int64).Value(row)
	k.count++
}

func (k *keyInt64) equal(entryIndex int64, arr arrow.Array, row int) bool {
	return arr.(*array.Int64).Value(row) == k.state[entryIndex]
}

func (k *keyInt64) batch(length, offset int) arrow.Array {
	return array.NewInt64Data(array.NewData(arrow.PrimitiveTypes.Int64, length,
		[]*memory.Buffer{nil, k.data}, nil, 0, offset))
}

func (k *keyInt64) dataType() arrow.DataType { return k.dt }

// keyString mirrors arrowexec's KeyString, a StringBuilder of unique
// values indexed by dense entry id.
type keyString struct {
	builder  *array.StringBuilder
	finished *array.String
}

func newKeyString() *keyString {
	return &keyString{builder: array.NewStringBuilder(memory.DefaultAllocator)}
}

func (k *keyString) addKey(arr arrow.Array, row int) {
	k.builder.Append(arr.(*array.String).Value(row))
}

func (k *keyString) equal(entryIndex int64, arr arrow.Array, row int) bool {
	return arr.(*array.String).Value(row) == k.builder.Value(int(entryIndex))
}

func (k *keyString) batch(length, offset int) arrow.Array {
	if k.finished == nil {
		k.finished = k.builder.NewStringArray()
	}
	return array.NewSlice(k.finished, int64(offset), int64(offset+length))
}

func (k *keyString) dataType() arrow.DataType { return arrow.BinaryTypes.String }

func makeKey(dt arrow.DataType) (key, error) {
	switch dt.ID() {
	case arrow.INT64:
		return newKeyInt64(dt), nil
	case arrow.STRING:
		return newKeyString(), nil
	default:
		return nil, colexecerr.Newf(colexecerr.NotImplemented, "grouper: unsupported key type %s", dt)
	}
}

// Grouper assigns a dense, zero-based group id to every row it consumes,
// returning the same id for rows whose key columns compare equal.
type Grouper struct {
	keyTypes  []arrow.DataType
	keys      []key
	index     *intintmap.Map
	numGroups int64
}

// Make builds an empty Grouper over the given key column types.
func Make(keyTypes []arrow.DataType) (*Grouper, error) {
	g := &Grouper{
		keyTypes: append([]arrow.DataType(nil), keyTypes...),
		index:    intintmap.New(16, 0.6),
	}
	for _, dt := range keyTypes {
		k, err := makeKey(dt)
		if err != nil {
			return nil, err
		}
		g.keys = append(g.keys, k)
	}
	return g, nil
}

// Consume assigns a group id to every row of keyBatch, growing the
// group set as new keys are seen, and returns the per-row ids as an
// Int64 array.
func (g *Grouper) Consume(keyBatch colbatch.Batch) (arrow.Array, error) {
	n := int(keyBatch.NumRows())
	cols := make([]arrow.Array, keyBatch.NumCols())
	for i := range cols {
		arr, err := keyBatch.Column(i)
		if err != nil {
			return nil, err
		}
		cols[i] = arr
	}

	ids := array.NewInt64Builder(memory.DefaultAllocator)
	defer ids.Release()

	for row := 0; row < n; row++ {
		hash := g.hashRow(cols, row)
		id := g.lookupOrInsert(hash, cols, row)
		ids.Append(id)
	}
	return ids.NewArray(), nil
}

// hashRow combines every key column's contribution to the row's hash,
// the same fnv1a.Init64/AddUint64/AddString64 chain as arrowexec's
// MakeKeyHasher.
func (g *Grouper) hashRow(cols []arrow.Array, row int) uint64 {
	hash := fnv1a.Init64
	for i, c := range cols {
		switch g.keys[i].(type) {
		case *keyInt64:
			hash = fnv1a.AddUint64(hash, uint64(c.(*array.Int64).Value(row)))
		case *keyString:
			hash = fnv1a.AddString64(hash, c.(*array.String).Value(row))
		}
	}
	return hash
}

// lookupOrInsert resolves hash to a dense group id, inserting a new
// group if hash has never been seen. Unlike arrowexec's group_by.go
// (which panics on a same-hash-different-value collision), a collision
// is resolved by reprobing with a perturbed hash until either a truly
// equal entry or a free slot is found, favoring correctness over the
// fail-fast assumption that fnv1a never collides in practice.
func (g *Grouper) lookupOrInsert(hash uint64, cols []arrow.Array, row int) int64 {
	h := hash
	for {
		entryIndex, ok := g.index.Get(int64(h))
		if !ok {
			id := g.numGroups
			g.index.Put(int64(h), id)
			g.numGroups++
			for i, k := range g.keys {
				k.addKey(cols[i], row)
			}
			return id
		}
		if g.rowEqualsEntry(entryIndex, cols, row) {
			return entryIndex
		}
		h = reprobe(h)
	}
}

func (g *Grouper) rowEqualsEntry(entryIndex int64, cols []arrow.Array, row int) bool {
	for i, k := range g.keys {
		if !k.equal(entryIndex, cols[i], row) {
			return false
		}
	}
	return true
}

// reprobe perturbs a colliding hash to a new candidate slot (a
// multiplicative congruential step, chosen only to decorrelate from the
// original fnv1a hash -- not for any cryptographic property).
func reprobe(h uint64) uint64 { return h*6364136223846793005 + 1442695040888963407 }

// NumGroups returns the number of distinct groups seen so far.
func (g *Grouper) NumGroups() int64 { return g.numGroups }

// GetUniques returns the distinct key tuples seen so far, one row per
// group, in group-id order.
func (g *Grouper) GetUniques() (colbatch.Batch, error) {
	fields := make([]arrow.Field, len(g.keyTypes))
	values := make([]colbatch.Datum, len(g.keyTypes))
	for i, k := range g.keys {
		fields[i] = arrow.Field{Name: "key", Type: k.dataType()}
		values[i] = colbatch.ArrayDatum(k.batch(int(g.numGroups), 0))
	}
	schema := arrow.NewSchema(fields, nil)
	return colbatch.New(schema, values, g.numGroups)
}

// MakeGroupings partitions row indices [0, len(ids)) by group id,
// returning, for each of numGroups groups, the list of row indices
// belonging to it in original order.
func MakeGroupings(ids arrow.Array, numGroups int64) ([][]int64, error) {
	typed, ok := ids.(*array.Int64)
	if !ok {
		return nil, colexecerr.Newf(colexecerr.TypeError, "grouper: MakeGroupings requires an Int64 id array, got %s", ids.DataType())
	}
	groupings := make([][]int64, numGroups)
	for row := 0; row < typed.Len(); row++ {
		id := typed.Value(row)
		groupings[id] = append(groupings[id], int64(row))
	}
	return groupings, nil
}

// ApplyGroupings gathers values at each grouping's row indices, returning
// one array per group.
// Limited to Int64, Float64, Boolean and String value arrays; other types
// are rejected with TypeError.
func ApplyGroupings(groupings [][]int64, values arrow.Array) ([]arrow.Array, error) {
	out := make([]arrow.Array, len(groupings))
	for i, rows := range groupings {
		arr, err := gather(values, rows)
		if err != nil {
			return nil, err
		}
		out[i] = arr
	}
	return out, nil
}

func gather(values arrow.Array, rows []int64) (arrow.Array, error) {
	switch v := values.(type) {
	case *array.Int64:
		b := array.NewInt64Builder(memory.DefaultAllocator)
		defer b.Release()
		for _, r := range rows {
			if v.IsNull(int(r)) {
				b.AppendNull()
			} else {
				b.Append(v.Value(int(r)))
			}
		}
		return b.NewArray(), nil
	case *array.Float64:
		b := array.NewFloat64Builder(memory.DefaultAllocator)
		defer b.Release()
		for _, r := range rows {
			if v.IsNull(int(r)) {
				b.AppendNull()
			} else {
				b.Append(v.Value(int(r)))
			}
		}
		return b.NewArray(), nil
	case *array.Boolean:
		b := array.NewBooleanBuilder(memory.DefaultAllocator)
		defer b.Release()
		for _, r := range rows {
			if v.IsNull(int(r)) {
				b.AppendNull()
			} else {
				b.Append(v.Value(int(r)))
			}
		}
		return b.NewArray(), nil
	case *array.String:
		b := array.NewStringBuilder(memory.DefaultAllocator)
		defer b.Release()
		for _, r := range rows {
			if v.IsNull(int(r)) {
				b.AppendNull()
			} else {
				b.Append(v.Value(int(r)))
			}
		}
		return b.NewArray(), nil
	default:
		return nil, colexecerr.Newf(colexecerr.TypeError, "grouper: ApplyGroupings does not support type %s", values.DataType())
	}
}
