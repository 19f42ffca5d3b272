// Package execplan implements the streaming execution plan: a DAG of
// nodes passing immutable colbatch.Batch values along edges, started in
// reverse topological order and stopped in forward topological order.
//
// cube2222/octosql's arrowexec package has no equivalent of this
// lifecycle: its Node.Run is a single synchronous push call with no
// separate start/stop/multi-consumer protocol. This file builds that
// protocol fresh, but in arrowexec's idiom (small interfaces, struct
// embedding for shared bookkeeping) and with a "node kinds are a closed
// set of function slots" design -- every node kind is the same concrete
// *Node type configured with a Handlers value, rather than an open
// interface hierarchy.
package execplan

import (
	"fmt"
	"sync"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/colexecerr"
)

// State is a node's position in its lifecycle.
type State int

const (
	Built State = iota
	Started
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Built:
		return "Built"
	case Started:
		return "Started"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Handlers are the function slots a node kind supplies; Node itself
// provides all of the shared bookkeeping (topology, output fan-out, state
// transitions, first-error capture).
type Handlers struct {
	// Start begins emitting (sources) or otherwise prepares internal
	// state. May be nil for nodes with nothing to do at start.
	Start func(n *Node) error
	// Stop must be idempotent and must not block.
	Stop func(n *Node)
	// InputReceived handles delivery of a batch on the given input index.
	InputReceived func(n *Node, input int, batch colbatch.Batch) error
	// InputFinished signals that input will deliver no more batches.
	// total is the number of batches seen on that input, or -1 if unknown.
	InputFinished func(n *Node, input int, total int)
	// ErrorReceived overrides the default forward-and-stop policy. Most
	// node kinds leave this nil.
	ErrorReceived func(n *Node, input int, err error)
}

type outputEdge struct {
	node       *Node
	inputIndex int
}

// Node is a single vertex of a Plan. Every concrete node kind (source,
// filter, project, aggregate, sink, join, ...) is constructed as a *Node
// with its behavior supplied via Handlers.
type Node struct {
	label      string
	kind       string
	inputs     []*Node
	numOutputs int
	schema     *arrow.Schema

	handlers Handlers
	plan     *Plan

	// handlerMu serializes calls into this node's Handlers: a node with
	// more than one input (e.g. StreamJoin) may be fed concurrently by
	// two different upstream pump goroutines, and node-kind state is
	// written assuming single-threaded delivery.
	handlerMu sync.Mutex

	mu             sync.Mutex
	state          State
	outputs        []outputEdge
	err            error
	finished       chan struct{}
	finishedClosed bool
	batchesEmitted int
}

// Label returns the node's human-readable identifier.
func (n *Node) Label() string { return n.label }

// Kind returns the node-kind tag (e.g. "source", "sink") used by
// Validate's source-shape check and by diagnostics.
func (n *Node) Kind() string { return n.kind }

// Inputs returns the nodes this node consumes from.
func (n *Node) Inputs() []*Node { return n.inputs }

// NumOutputs returns the number of outgoing edges this node declares.
func (n *Node) NumOutputs() int { return n.numOutputs }

// OutputSchema returns the schema of batches this node produces.
func (n *Node) OutputSchema() *arrow.Schema { return n.schema }

// State returns the node's current lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Err returns the first error observed by this node, if any.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Finished returns a channel closed once the node has fully stopped.
func (n *Node) Finished() <-chan struct{} {
	return n.finished
}

// MarkDrained tells the owning plan that n (a sink) has observed
// end-of-stream on all of its inputs and has nothing further to emit.
// Once every sink in the plan has called MarkDrained, the plan drives a
// clean StopProducing.
func (n *Node) MarkDrained() {
	if n.plan != nil {
		n.plan.NodeDrained(n)
	}
}

// Emit pushes batch to every bound consumer of n, in the order consumers
// were bound. It is the node-kind implementation's responsibility to call
// Emit from within its InputReceived/Start handler.
func (n *Node) Emit(batch colbatch.Batch) error {
	n.mu.Lock()
	n.batchesEmitted++
	outs := append([]outputEdge(nil), n.outputs...)
	n.mu.Unlock()

	for _, out := range outs {
		if err := out.node.deliverInput(out.inputIndex, batch); err != nil {
			return err
		}
	}
	return nil
}

// EmitFinished signals every bound consumer that n will produce no more
// batches, reporting the total batch count emitted by n.
func (n *Node) EmitFinished() {
	n.mu.Lock()
	total := n.batchesEmitted
	outs := append([]outputEdge(nil), n.outputs...)
	n.mu.Unlock()

	for _, out := range outs {
		out.node.deliverInputFinished(out.inputIndex, total)
	}
}

// EmitError reports a fatal error observed by n, forwarding it downstream
// by default unless the node overrode ErrorReceived.
func (n *Node) EmitError(err error) {
	n.recordError(err)
	n.mu.Lock()
	outs := append([]outputEdge(nil), n.outputs...)
	n.mu.Unlock()
	for _, out := range outs {
		out.node.deliverError(out.inputIndex, err)
	}
	if n.plan != nil {
		n.plan.reportFatal(err)
	}
}

func (n *Node) deliverInput(input int, batch colbatch.Batch) error {
	if n.handlers.InputReceived == nil {
		return nil
	}
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	if err := n.handlers.InputReceived(n, input, batch); err != nil {
		n.EmitError(fmt.Errorf("node %q: %w", n.label, err))
		return err
	}
	return nil
}

func (n *Node) deliverInputFinished(input int, total int) {
	if n.handlers.InputFinished == nil {
		return
	}
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.handlers.InputFinished(n, input, total)
}

func (n *Node) deliverError(input int, err error) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	if n.handlers.ErrorReceived != nil {
		n.handlers.ErrorReceived(n, input, err)
		return
	}
	n.EmitError(err)
}

func (n *Node) recordError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err == nil {
		n.err = err
	}
}

func (n *Node) start() error {
	n.mu.Lock()
	n.state = Started
	n.mu.Unlock()
	if n.handlers.Start == nil {
		return nil
	}
	if err := n.handlers.Start(n); err != nil {
		return colexecerr.Wrap(colexecerr.Upstream, fmt.Sprintf("node %q failed to start", n.label), err)
	}
	return nil
}

func (n *Node) stop() {
	n.mu.Lock()
	if n.state == Stopping || n.state == Stopped {
		n.mu.Unlock()
		return
	}
	n.state = Stopping
	n.mu.Unlock()

	if n.handlers.Stop != nil {
		n.handlers.Stop(n)
	}

	n.mu.Lock()
	n.state = Stopped
	if !n.finishedClosed {
		n.finishedClosed = true
		close(n.finished)
	}
	n.mu.Unlock()
}
