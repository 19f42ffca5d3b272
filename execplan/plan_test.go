package execplan

import (
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/colexecerr"
)

var testSchema = arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)

func TestPlan_EmptyRejected(t *testing.T) {
	p := New()
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, colexecerr.Is(err, colexecerr.Invalid))
}

func TestPlan_SourceDeclaringInputsRejected(t *testing.T) {
	p := New()
	src, err := p.AddNode(AddNodeArgs{Label: "s1", Kind: "source", NumOutputs: 1, Schema: testSchema})
	require.NoError(t, err)
	_, err = p.AddNode(AddNodeArgs{Label: "bogus-source", Kind: "source", Inputs: []*Node{src}, NumOutputs: 0, Schema: testSchema})
	require.NoError(t, err)

	err = p.Validate()
	assert.Error(t, err)
}

func TestPlan_UnboundOutputSlotRejected(t *testing.T) {
	p := New()
	_, err := p.AddNode(AddNodeArgs{Label: "s1", Kind: "source", NumOutputs: 1, Schema: testSchema})
	require.NoError(t, err)

	err = p.Validate()
	assert.Error(t, err)
}

func TestPlan_NoFreeOutputSlotRejected(t *testing.T) {
	p := New()
	src, err := p.AddNode(AddNodeArgs{Label: "s1", Kind: "source", NumOutputs: 1, Schema: testSchema})
	require.NoError(t, err)
	_, err = p.AddNode(AddNodeArgs{Label: "c1", Kind: "sink", Inputs: []*Node{src}, NumOutputs: 0, Schema: testSchema})
	require.NoError(t, err)

	_, err = p.AddNode(AddNodeArgs{Label: "c2", Kind: "sink", Inputs: []*Node{src}, NumOutputs: 0, Schema: testSchema})
	assert.Error(t, err)
}

func TestPlan_StartStopLifecycle(t *testing.T) {
	p := New()
	var started, stopped bool
	src, err := p.AddNode(AddNodeArgs{
		Label: "s1", Kind: "source", NumOutputs: 1, Schema: testSchema,
		Handlers: Handlers{
			Start: func(n *Node) error { started = true; return nil },
			Stop:  func(n *Node) { stopped = true },
		},
	})
	require.NoError(t, err)
	_, err = p.AddNode(AddNodeArgs{Label: "c1", Kind: "sink", Inputs: []*Node{src}, NumOutputs: 0, Schema: testSchema})
	require.NoError(t, err)

	require.NoError(t, p.StartProducing())
	assert.True(t, started)
	assert.Equal(t, Started, src.State())

	p.StopProducing()
	<-p.Finished()
	assert.True(t, stopped)
	assert.Equal(t, Stopped, src.State())
}

func TestPlan_StartErrorUnwindsAlreadyStartedNodes(t *testing.T) {
	p := New()
	var firstStopped, secondStarted bool

	src, err := p.AddNode(AddNodeArgs{
		Label: "s1", Kind: "source", NumOutputs: 1, Schema: testSchema,
		Handlers: Handlers{Stop: func(n *Node) { firstStopped = true }},
	})
	require.NoError(t, err)
	_, err = p.AddNode(AddNodeArgs{
		Label: "c1", Kind: "sink", Inputs: []*Node{src}, NumOutputs: 0, Schema: testSchema,
		Handlers: Handlers{Start: func(n *Node) error {
			secondStarted = true
			return colexecerr.New(colexecerr.Invalid, "boom")
		}},
	})
	require.NoError(t, err)

	err = p.StartProducing()
	require.Error(t, err)
	assert.True(t, secondStarted)
	// reverse topological order starts the sink before the source, so by
	// the time the sink fails the source has not yet started and should
	// not be asked to stop.
	assert.False(t, firstStopped)
}

func TestPlan_RestartRejected(t *testing.T) {
	p := New()
	_, err := p.AddNode(AddNodeArgs{Label: "s1", Kind: "source", NumOutputs: 0, Schema: testSchema})
	require.NoError(t, err)

	require.NoError(t, p.StartProducing())
	p.StopProducing()
	<-p.Finished()

	err = p.StartProducing()
	assert.Error(t, err)
}

func TestPlan_AddNodeAfterStartRejected(t *testing.T) {
	p := New()
	_, err := p.AddNode(AddNodeArgs{Label: "s1", Kind: "source", NumOutputs: 0, Schema: testSchema})
	require.NoError(t, err)
	require.NoError(t, p.StartProducing())

	_, err = p.AddNode(AddNodeArgs{Label: "s2", Kind: "source", NumOutputs: 0, Schema: testSchema})
	assert.Error(t, err)
}

func TestNode_EmitForwardsToConsumer(t *testing.T) {
	p := New()
	var receivedRows int64
	src, err := p.AddNode(AddNodeArgs{Label: "s1", Kind: "source", NumOutputs: 1, Schema: testSchema})
	require.NoError(t, err)
	_, err = p.AddNode(AddNodeArgs{
		Label: "c1", Kind: "sink", Inputs: []*Node{src}, NumOutputs: 0, Schema: testSchema,
		Handlers: Handlers{InputReceived: func(n *Node, input int, batch colbatch.Batch) error {
			receivedRows += batch.NumRows()
			return nil
		}},
	})
	require.NoError(t, err)

	col := array.NewInt64Builder(memory.DefaultAllocator)
	col.AppendValues([]int64{1, 2, 3}, nil)
	batch, err := colbatch.New(testSchema, []colbatch.Datum{colbatch.ArrayDatum(col.NewArray())}, 3)
	require.NoError(t, err)

	require.NoError(t, src.Emit(batch))
	assert.Equal(t, int64(3), receivedRows)
}
