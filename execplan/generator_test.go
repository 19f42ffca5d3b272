package execplan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/workerpool"
)

var genSchema = arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)

func genBatch(t *testing.T, v int64) colbatch.Batch {
	t.Helper()
	b := array.NewInt64Builder(memory.DefaultAllocator)
	b.Append(v)
	batch, err := colbatch.New(genSchema, []colbatch.Datum{colbatch.ArrayDatum(b.NewArray())}, 1)
	require.NoError(t, err)
	return batch
}

func TestVectorGenerator_ExhaustionReturnsTerminator(t *testing.T) {
	g := NewVectorGenerator([]colbatch.Batch{genBatch(t, 1), genBatch(t, 2)})
	ctx := context.Background()

	_, ok, err := g.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = g.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = g.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVectorGenerator_MonotonicAfterTermination(t *testing.T) {
	g := NewVectorGenerator(nil)
	ctx := context.Background()

	_, ok, err := g.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	// Calling again after the terminator must keep replaying it, not panic
	// or advance any internal position.
	for i := 0; i < 3; i++ {
		_, ok, err := g.Next(ctx)
		assert.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestVectorGenerator_CancelledContextTerminates(t *testing.T) {
	g := NewVectorGenerator([]colbatch.Batch{genBatch(t, 1)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := g.Next(ctx)
	assert.False(t, ok)
	assert.Error(t, err)

	// Latched: a later call with a live context must still replay the error.
	_, ok, err = g.Next(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestBackgroundGenerator_DeliversAllThenTerminates(t *testing.T) {
	pool := workerpool.New(2)
	defer pool.Close()

	values := []int64{10, 20, 30}
	i := 0
	iter := func() (colbatch.Batch, bool, error) {
		if i >= len(values) {
			return colbatch.Batch{}, false, nil
		}
		b := genBatch(t, values[i])
		i++
		return b, true, nil
	}

	g := NewBackgroundGenerator(iter, pool)
	ctx := context.Background()

	var got []int64
	for {
		batch, ok, err := g.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		col, err := batch.Column(0)
		require.NoError(t, err)
		got = append(got, col.(*array.Int64).Value(0))
	}
	assert.Equal(t, values, got)

	_, ok, err := g.Next(ctx)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestBackgroundGenerator_PropagatesIteratorError(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Close()

	boom := errors.New("boom")
	iter := func() (colbatch.Batch, bool, error) {
		return colbatch.Batch{}, false, boom
	}

	g := NewBackgroundGenerator(iter, pool)
	_, ok, err := g.Next(context.Background())
	assert.False(t, ok)
	assert.Equal(t, boom, err)

	// Latched after the error.
	_, ok, err = g.Next(context.Background())
	assert.False(t, ok)
	assert.Equal(t, boom, err)
}

func TestBackgroundGenerator_CancelledContextUnblocks(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Close()

	block := make(chan struct{})
	iter := func() (colbatch.Batch, bool, error) {
		<-block
		return colbatch.Batch{}, false, nil
	}

	g := NewBackgroundGenerator(iter, pool)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := g.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	close(block)
}

func TestTransferredGenerator_RoundTripsThroughPool(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Close()

	src := NewVectorGenerator([]colbatch.Batch{genBatch(t, 5)})
	g := NewTransferredGenerator(src, pool)

	batch, ok, err := g.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	col, err := batch.Column(0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), col.(*array.Int64).Value(0))

	_, ok, err = g.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransferredGenerator_PropagatesSourceError(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Close()

	boom := errors.New("boom")
	src := blockingNextGenerator(func(ctx context.Context) (colbatch.Batch, bool, error) {
		return colbatch.Batch{}, false, boom
	})
	g := NewTransferredGenerator(src, pool)

	_, ok, err := g.Next(context.Background())
	assert.False(t, ok)
	assert.Equal(t, boom, err)
}

// blockingNextGenerator adapts a plain function into a BatchGenerator for
// tests that need a source with non-standard Next behavior.
type blockingNextGenerator func(ctx context.Context) (colbatch.Batch, bool, error)

func (f blockingNextGenerator) Next(ctx context.Context) (colbatch.Batch, bool, error) {
	return f(ctx)
}

func TestSinkGenerator_DeliversPushedBatchesInOrder(t *testing.T) {
	g := NewSinkGenerator()
	g.Push(genBatch(t, 1))
	g.Push(genBatch(t, 2))
	g.Finish(nil)

	ctx := context.Background()
	var got []int64
	for {
		batch, ok, err := g.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		col, err := batch.Column(0)
		require.NoError(t, err)
		got = append(got, col.(*array.Int64).Value(0))
	}
	assert.Equal(t, []int64{1, 2}, got)

	// Latched after the terminator.
	_, ok, err := g.Next(ctx)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestSinkGenerator_NextBlocksUntilPush(t *testing.T) {
	g := NewSinkGenerator()
	ctx := context.Background()

	type result struct {
		batch colbatch.Batch
		ok    bool
		err   error
	}
	results := make(chan result, 1)
	go func() {
		batch, ok, err := g.Next(ctx)
		results <- result{batch, ok, err}
	}()

	select {
	case <-results:
		t.Fatal("Next returned before a batch was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	g.Push(genBatch(t, 7))
	select {
	case r := <-results:
		require.NoError(t, r.err)
		require.True(t, r.ok)
		col, err := r.batch.Column(0)
		require.NoError(t, err)
		assert.Equal(t, int64(7), col.(*array.Int64).Value(0))
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Push")
	}
}

func TestSinkGenerator_FinishPropagatesError(t *testing.T) {
	g := NewSinkGenerator()
	boom := errors.New("boom")
	g.Finish(boom)

	_, ok, err := g.Next(context.Background())
	assert.False(t, ok)
	assert.Equal(t, boom, err)

	// Latched.
	_, ok, err = g.Next(context.Background())
	assert.False(t, ok)
	assert.Equal(t, boom, err)
}

func TestSinkGenerator_StopUnblocksReaderWithTerminator(t *testing.T) {
	g := NewSinkGenerator()
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		_, ok, err := g.Next(ctx)
		assert.False(t, ok)
		assert.NoError(t, err)
		close(done)
	}()

	// Give the reader goroutine a chance to block in Next before Stop
	// delivers the terminator.
	time.Sleep(10 * time.Millisecond)
	g.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not unblock the reader")
	}
}

func TestSinkGenerator_StopDiscardsBufferedBatches(t *testing.T) {
	g := NewSinkGenerator()
	g.Push(genBatch(t, 1))
	g.Stop()

	_, ok, err := g.Next(context.Background())
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestSinkGenerator_CancelledContextUnblocks(t *testing.T) {
	g := NewSinkGenerator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := g.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerators_CompleteWithinTimeout(t *testing.T) {
	pool := workerpool.New(2)
	defer pool.Close()

	done := make(chan struct{})
	go func() {
		g := NewTransferredGenerator(NewVectorGenerator([]colbatch.Batch{genBatch(t, 1)}), pool)
		g.Next(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("transferred generator did not complete within timeout")
	}
}
