package execplan

import (
	"context"
	"sync"

	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/workerpool"
)

// BatchGenerator is a pull-based, future-returning source of optional
// batches. Next returns (batch, true, nil) for a delivered batch, (zero,
// false, nil) for the terminator, or (zero, false, err) for a fatal
// error.
//
// Implementations must be monotonic: once Next has returned a terminator
// (ok=false) or an error, every subsequent call must return that same
// result.
type BatchGenerator interface {
	Next(ctx context.Context) (colbatch.Batch, bool, error)
}

// latch makes any generator monotonic-after-termination by remembering the
// first terminal result and replaying it forever after.
type latch struct {
	mu   sync.Mutex
	done bool
	err  error
}

func (l *latch) terminal() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done, l.err
}

func (l *latch) terminate(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.done {
		l.done = true
		l.err = err
	}
}

// VectorGenerator is an eager BatchGenerator backed by a pre-built slice
// of batches.
type VectorGenerator struct {
	batches []colbatch.Batch
	pos     int
	latch   latch
}

// NewVectorGenerator builds a VectorGenerator over batches. The slice is
// not copied; callers must not mutate it afterwards.
func NewVectorGenerator(batches []colbatch.Batch) *VectorGenerator {
	return &VectorGenerator{batches: batches}
}

func (g *VectorGenerator) Next(ctx context.Context) (colbatch.Batch, bool, error) {
	if done, err := g.latch.terminal(); done {
		return colbatch.Batch{}, false, err
	}
	if err := ctx.Err(); err != nil {
		g.latch.terminate(err)
		return colbatch.Batch{}, false, err
	}
	if g.pos >= len(g.batches) {
		g.latch.terminate(nil)
		return colbatch.Batch{}, false, nil
	}
	b := g.batches[g.pos]
	g.pos++
	return b, true, nil
}

// blockingNext is the synchronous iterator signature that
// BackgroundGenerator offloads.
type blockingNext func() (colbatch.Batch, bool, error)

// BackgroundGenerator runs a blocking synchronous iterator on a dedicated
// goroutine, started by the first Next call, and hands results back over
// a one-slot buffered channel, so the iterator can run ahead of the
// caller. The pool given to NewBackgroundGenerator is stored but not
// used: the iterator never runs on a pool worker.
// Grounded on arrowexec/nodes/join.go's pattern of running blocking
// producers on a separate goroutine and handing results back over a
// channel (there, leftRecordChannel/rightRecordChannel).
type BackgroundGenerator struct {
	pool *workerpool.Pool
	iter blockingNext

	once    sync.Once
	results chan asyncResult
	latch   latch
}

type asyncResult struct {
	batch colbatch.Batch
	ok    bool
	err   error
}

// NewBackgroundGenerator wraps iter so it runs on its own goroutine
// instead of the calling goroutine; pool is not used.
func NewBackgroundGenerator(iter blockingNext, pool *workerpool.Pool) *BackgroundGenerator {
	return &BackgroundGenerator{pool: pool, iter: iter}
}

func (g *BackgroundGenerator) start() {
	g.results = make(chan asyncResult, 1)
	go func() {
		for {
			b, ok, err := g.iter()
			g.results <- asyncResult{batch: b, ok: ok, err: err}
			if !ok || err != nil {
				close(g.results)
				return
			}
		}
	}()
}

func (g *BackgroundGenerator) Next(ctx context.Context) (colbatch.Batch, bool, error) {
	if done, err := g.latch.terminal(); done {
		return colbatch.Batch{}, false, err
	}
	g.once.Do(g.start)

	select {
	case res, open := <-g.results:
		if !open {
			g.latch.terminate(nil)
			return colbatch.Batch{}, false, nil
		}
		if !res.ok || res.err != nil {
			g.latch.terminate(res.err)
			return colbatch.Batch{}, false, res.err
		}
		return res.batch, true, nil
	case <-ctx.Done():
		g.latch.terminate(ctx.Err())
		return colbatch.Batch{}, false, ctx.Err()
	}
}

// TransferredGenerator hops every call to an upstream generator onto a
// workerpool.Pool goroutine, preventing a slow producer from starving the
// caller's own goroutine. Unlike BackgroundGenerator it does not
// prefetch; each Next is a synchronous round trip through the pool.
type TransferredGenerator struct {
	src  BatchGenerator
	pool *workerpool.Pool
}

// NewTransferredGenerator wraps src so that each Next call is executed by
// a pool worker rather than the caller's goroutine.
func NewTransferredGenerator(src BatchGenerator, pool *workerpool.Pool) *TransferredGenerator {
	return &TransferredGenerator{src: src, pool: pool}
}

func (g *TransferredGenerator) Next(ctx context.Context) (colbatch.Batch, bool, error) {
	var out colbatch.Batch
	var ok bool
	fut := g.pool.Submit(func() error {
		var err error
		out, ok, err = g.src.Next(ctx)
		return err
	})
	err := fut.Wait()
	return out, ok, err
}

// SinkGenerator is a buffered BatchGenerator with a push side
// (Push/Finish/Stop, called by the node delivering batches) and a pull
// side (Next, called by whatever external code is draining the sink).
// Unlike BackgroundGenerator/TransferredGenerator, which wrap a
// synchronous iterator, SinkGenerator's producer is asynchronous and
// push-driven, so there is no blockingNext to offload -- the queue and a
// one-slot notify channel take that role instead. A reader blocked in
// Next is unblocked by: a Push (delivers the new batch), a Finish
// (delivers the terminator or the error), or a Stop (delivers the
// terminator immediately, discarding anything still queued).
type SinkGenerator struct {
	mu     sync.Mutex
	queue  []colbatch.Batch
	done   bool
	err    error
	notify chan struct{}
}

// NewSinkGenerator returns an empty, open SinkGenerator.
func NewSinkGenerator() *SinkGenerator {
	return &SinkGenerator{notify: make(chan struct{}, 1)}
}

func (g *SinkGenerator) signal() {
	select {
	case g.notify <- struct{}{}:
	default:
	}
}

// Push enqueues batch for delivery by a future Next call. A no-op once
// the generator is done.
func (g *SinkGenerator) Push(batch colbatch.Batch) {
	g.mu.Lock()
	if !g.done {
		g.queue = append(g.queue, batch)
	}
	g.mu.Unlock()
	g.signal()
}

// Finish marks the generator done: once the queue drains, Next starts
// returning (zero, false, err). A no-op once already done.
func (g *SinkGenerator) Finish(err error) {
	g.mu.Lock()
	if !g.done {
		g.done = true
		g.err = err
	}
	g.mu.Unlock()
	g.signal()
}

// Stop is the node's StopProducing hook: it discards any batches not yet
// delivered and immediately unblocks a suspended reader with the
// terminator. A no-op once already done.
func (g *SinkGenerator) Stop() {
	g.mu.Lock()
	if !g.done {
		g.queue = nil
		g.done = true
		g.err = nil
	}
	g.mu.Unlock()
	g.signal()
}

func (g *SinkGenerator) Next(ctx context.Context) (colbatch.Batch, bool, error) {
	for {
		g.mu.Lock()
		if len(g.queue) > 0 {
			b := g.queue[0]
			g.queue = g.queue[1:]
			g.mu.Unlock()
			return b, true, nil
		}
		if g.done {
			err := g.err
			g.mu.Unlock()
			return colbatch.Batch{}, false, err
		}
		g.mu.Unlock()

		select {
		case <-g.notify:
		case <-ctx.Done():
			return colbatch.Batch{}, false, ctx.Err()
		}
	}
}
