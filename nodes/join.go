package nodes

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"

	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/execplan"
	"github.com/arrowdag/colexec/expr"
	"github.com/arrowdag/colexec/grouper"
)

// StreamJoinOptions configures nodes.StreamJoin: an adaptive
// hash-equijoin over two streamed inputs. Grounded on
// arrowexec/nodes/join.go, which builds its hash table from whichever
// side's stream closes first (so a join against a small side never
// waits for the large side's last batch). This port keeps that "table
// side is whichever input finishes first" policy but replaces
// arrowexec's bespoke nodes/hashtable/join_hashtable.go (built directly
// against execution.Record row refs) with this module's own
// grouper.Grouper, since a hash index keyed by dense group id is exactly
// what nodes.Aggregate already needed -- reusing it here avoids a
// second, parallel hash-table implementation.
type StreamJoinOptions struct {
	LeftSchema, RightSchema   *arrow.Schema
	LeftKeyExprs, RightKeyExprs []expr.Expression
	KeyTypes                  []arrow.DataType
}

const (
	joinInputLeft  = 0
	joinInputRight = 1
)

type joinRowRef struct {
	batchIndex int
	row        int
}

// NewStreamJoin builds the Handlers for a two-input StreamJoin node
// (input 0 is left, input 1 is right; the output schema is LeftSchema's
// fields followed by RightSchema's fields).
func NewStreamJoin(opts StreamJoinOptions) execplan.Handlers {
	st := &joinState{opts: opts}
	return execplan.Handlers{
		InputReceived: st.inputReceived,
		InputFinished: st.inputFinished,
	}
}

type joinState struct {
	opts StreamJoinOptions

	leftBatches, rightBatches []colbatch.Batch

	tableDecided bool
	tableIsLeft  bool
	g            *grouper.Grouper
	tableRefs    map[int64][]joinRowRef
	tableCols    map[int][]arrow.Array // batchIndex -> materialized columns, table side only

	leftFinished, rightFinished bool
}

func (s *joinState) inputReceived(n *execplan.Node, input int, batch colbatch.Batch) error {
	if !s.tableDecided {
		if input == joinInputLeft {
			s.leftBatches = append(s.leftBatches, batch)
		} else {
			s.rightBatches = append(s.rightBatches, batch)
		}
		return nil
	}

	if (s.tableIsLeft && input == joinInputLeft) || (!s.tableIsLeft && input == joinInputRight) {
		// A batch arriving on the table side after it has already
		// finished should not happen; ignore defensively.
		return nil
	}
	return s.probeBatch(n, batch)
}

func (s *joinState) inputFinished(n *execplan.Node, input int, total int) {
	if input == joinInputLeft {
		s.leftFinished = true
	} else {
		s.rightFinished = true
	}

	if !s.tableDecided {
		s.tableDecided = true
		s.tableIsLeft = input == joinInputLeft
		if err := s.buildTable(); err != nil {
			n.EmitError(fmt.Errorf("nodes: building join table: %w", err))
			return
		}

		probeBuffered := s.leftBatches
		if s.tableIsLeft {
			probeBuffered = s.rightBatches
		}
		for _, b := range probeBuffered {
			if err := s.probeBatch(n, b); err != nil {
				n.EmitError(fmt.Errorf("nodes: probing join table: %w", err))
				return
			}
		}
	}

	if s.leftFinished && s.rightFinished {
		n.EmitFinished()
		n.MarkDrained()
	}
}

// buildTable consumes every buffered batch on the table side into the
// grouper, recording which (batch, row) pairs belong to each group.
func (s *joinState) buildTable() error {
	tableBatches, keyExprs := s.leftBatches, s.opts.LeftKeyExprs
	if !s.tableIsLeft {
		tableBatches, keyExprs = s.rightBatches, s.opts.RightKeyExprs
	}

	var err error
	s.g, err = grouper.Make(s.opts.KeyTypes)
	if err != nil {
		return err
	}
	s.tableRefs = make(map[int64][]joinRowRef)
	s.tableCols = make(map[int][]arrow.Array)

	for batchIndex, batch := range tableBatches {
		keyBatch, err := evaluateKeys(batch, keyExprs, s.opts.KeyTypes)
		if err != nil {
			return err
		}
		ids, err := s.g.Consume(keyBatch)
		if err != nil {
			return err
		}
		idsTyped := ids.(*array.Int64)
		for row := 0; row < idsTyped.Len(); row++ {
			id := idsTyped.Value(row)
			s.tableRefs[id] = append(s.tableRefs[id], joinRowRef{batchIndex: batchIndex, row: row})
		}

		cols := make([]arrow.Array, batch.NumCols())
		for i := range cols {
			cols[i], err = batch.Column(i)
			if err != nil {
				return err
			}
		}
		s.tableCols[batchIndex] = cols
	}
	return nil
}

// probeBatch looks up each row of a probe-side batch in the table's
// grouper and emits one output row per match.
func (s *joinState) probeBatch(n *execplan.Node, batch colbatch.Batch) error {
	keyExprs := s.opts.RightKeyExprs
	if !s.tableIsLeft {
		keyExprs = s.opts.LeftKeyExprs
	}
	keyBatch, err := evaluateKeys(batch, keyExprs, s.opts.KeyTypes)
	if err != nil {
		return err
	}
	ids, err := s.g.Consume(keyBatch)
	if err != nil {
		return err
	}
	idsTyped := ids.(*array.Int64)

	probeCols := make([]arrow.Array, batch.NumCols())
	for i := range probeCols {
		probeCols[i], err = batch.Column(i)
		if err != nil {
			return err
		}
	}

	outSchema := JoinedSchema(s.opts.LeftSchema, s.opts.RightSchema)
	builder := array.NewRecordBuilder(memory.DefaultAllocator, outSchema)
	nLeft := len(s.opts.LeftSchema.Fields())

	for row := 0; row < idsTyped.Len(); row++ {
		refs := s.tableRefs[idsTyped.Value(row)]
		for _, ref := range refs {
			tableCols := s.tableCols[ref.batchIndex]
			var leftCols, rightCols []arrow.Array
			var leftRow, rightRow int
			if s.tableIsLeft {
				leftCols, leftRow = tableCols, ref.row
				rightCols, rightRow = probeCols, row
			} else {
				leftCols, leftRow = probeCols, row
				rightCols, rightRow = tableCols, ref.row
			}
			for i := 0; i < nLeft; i++ {
				if err := appendRow(builder.Field(i), leftCols[i], leftRow); err != nil {
					return err
				}
			}
			for j := range rightCols {
				if err := appendRow(builder.Field(nLeft+j), rightCols[j], rightRow); err != nil {
					return err
				}
			}
		}
	}

	if builder.Field(0).Len() == 0 {
		return nil
	}
	return n.Emit(colbatch.FromRecord(builder.NewRecord()))
}

func evaluateKeys(batch colbatch.Batch, keyExprs []expr.Expression, keyTypes []arrow.DataType) (colbatch.Batch, error) {
	fields := make([]arrow.Field, len(keyExprs))
	values := make([]colbatch.Datum, len(keyExprs))
	for i, e := range keyExprs {
		d, err := e.Evaluate(batch)
		if err != nil {
			return colbatch.Batch{}, fmt.Errorf("nodes: evaluating join key expression %d: %w", i, err)
		}
		values[i] = d
		fields[i] = arrow.Field{Name: "key", Type: keyTypes[i]}
	}
	return colbatch.New(arrow.NewSchema(fields, nil), values, batch.NumRows())
}

func JoinedSchema(left, right *arrow.Schema) *arrow.Schema {
	fields := append(append([]arrow.Field(nil), left.Fields()...), right.Fields()...)
	return arrow.NewSchema(fields, nil)
}
