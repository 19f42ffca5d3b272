package execplan

import (
	"sync"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/arrowdag/colexec/colexecerr"
)

// planState tracks the plan's own lifecycle, distinct from any one node's
// State (Built/Started/restart rejection).
type planState int

const (
	planBuilt planState = iota
	planStarted
	planStopped
)

// Plan owns a DAG of Nodes.
//
// Modeled loosely on the arena-of-children shape of a Sneller-derived
// query planner's plan.Tree (plan/plan.go, plan/exec.go: a plan owns its
// nodes, edges are structural rather than reference-counted), since
// arrowexec has no plan-owning container at all, just a chain of
// Node.Run calls.
type Plan struct {
	mu    sync.Mutex
	nodes []*Node
	state planState

	firstErr error
	finished chan struct{}

	startedOrder []*Node
	drained      map[*Node]bool
}

// New returns an empty Plan.
func New() *Plan {
	return &Plan{finished: make(chan struct{})}
}

// AddNodeArgs are the parameters to AddNode.
type AddNodeArgs struct {
	Label      string
	Kind       string
	Inputs     []*Node
	NumOutputs int
	Schema     *arrow.Schema
	Handlers   Handlers
}

// AddNode attaches a new node to the plan, binding it as a consumer of
// each listed input: each input's next free output slot binds to this
// node.
func (p *Plan) AddNode(args AddNodeArgs) (*Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != planBuilt {
		return nil, colexecerr.New(colexecerr.Invalid, "plan: cannot add nodes after the plan has started")
	}

	n := &Node{
		label:      args.Label,
		kind:       args.Kind,
		inputs:     append([]*Node(nil), args.Inputs...),
		numOutputs: args.NumOutputs,
		schema:     args.Schema,
		handlers:   args.Handlers,
		plan:       p,
		finished:   make(chan struct{}),
	}

	for inputIdx, in := range args.Inputs {
		in.mu.Lock()
		if len(in.outputs) >= in.numOutputs {
			in.mu.Unlock()
			return nil, colexecerr.Newf(colexecerr.Invalid, "plan: node %q has no free output slot for consumer %q", in.label, n.label)
		}
		in.outputs = append(in.outputs, outputEdge{node: n, inputIndex: inputIdx})
		in.mu.Unlock()
	}

	p.nodes = append(p.nodes, n)
	return n, nil
}

// Nodes returns every node in the plan, in AddNode order.
func (p *Plan) Nodes() []*Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Node(nil), p.nodes...)
}

// Sources returns the nodes with no inputs.
func (p *Plan) Sources() []*Node {
	var out []*Node
	for _, n := range p.Nodes() {
		if len(n.inputs) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// Sinks returns the nodes with no declared outputs.
func (p *Plan) Sinks() []*Node {
	var out []*Node
	for _, n := range p.Nodes() {
		if n.numOutputs == 0 {
			out = append(out, n)
		}
	}
	return out
}

// forwardTopoOrder returns a topological order of the plan's nodes where
// every node appears after all of its inputs (sources first, sinks last).
// The tie-break among nodes with no remaining dependencies is AddNode
// insertion order, but any valid topological order satisfies the
// contract.
func (p *Plan) forwardTopoOrder() ([]*Node, error) {
	nodes := p.Nodes()
	indeg := make(map[*Node]int, len(nodes))
	consumers := make(map[*Node][]*Node, len(nodes))
	for _, n := range nodes {
		indeg[n] = len(n.inputs)
		for _, in := range n.inputs {
			consumers[in] = append(consumers[in], n)
		}
	}

	var ready []*Node
	for _, n := range nodes {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}

	var order []*Node
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, c := range consumers[n] {
			indeg[c]--
			if indeg[c] == 0 {
				ready = append(ready, c)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, colexecerr.New(colexecerr.Invalid, "plan: topology contains a cycle")
	}
	return order, nil
}

// Validate checks non-emptiness, that nodes of kind "source" declare no
// inputs, output-edge binding completeness, and absence of cycles. It
// does not check schema compatibility between connected nodes.
func (p *Plan) Validate() error {
	nodes := p.Nodes()
	if len(nodes) == 0 {
		return colexecerr.New(colexecerr.Invalid, "plan: empty plan")
	}

	for _, n := range nodes {
		if n.kind == "source" && len(n.inputs) != 0 {
			return colexecerr.Newf(colexecerr.Invalid, "plan: source node %q declares inputs", n.label)
		}
		if n.numOutputs > 0 && len(n.outputs) != n.numOutputs {
			return colexecerr.Newf(colexecerr.Invalid, "plan: node %q declares %d outputs but only %d are bound", n.label, n.numOutputs, len(n.outputs))
		}
		// Validate checks structural invariants only. Schema
		// compatibility at each edge is not checked here, and the node
		// kind constructors in package nodes do not check it either.
	}

	if _, err := p.forwardTopoOrder(); err != nil {
		return err
	}
	return nil
}

// StartProducing transitions the plan from Built to Started, invoking
// each node's start callback in reverse topological order (sinks first,
// sources last). If any node's start returns an error, every
// already-started node is stopped in the reverse order it was started,
// and the first error is returned.
func (p *Plan) StartProducing() error {
	p.mu.Lock()
	if p.state == planStarted || p.state == planStopped {
		p.mu.Unlock()
		return colexecerr.New(colexecerr.Invalid, "plan: already started (restarted)")
	}
	p.state = planStarted
	p.mu.Unlock()

	if err := p.Validate(); err != nil {
		return err
	}

	order, err := p.forwardTopoOrder()
	if err != nil {
		return err
	}
	// reverse topological order: sinks first, sources last.
	reverse := make([]*Node, len(order))
	for i, n := range order {
		reverse[len(order)-1-i] = n
	}

	var started []*Node
	for _, n := range reverse {
		if err := n.start(); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].stop()
			}
			p.mu.Lock()
			p.startedOrder = started
			p.mu.Unlock()
			p.finishWith(err)
			return err
		}
		started = append(started, n)
	}

	p.mu.Lock()
	p.startedOrder = started
	p.mu.Unlock()
	return nil
}

// StopProducing requests cooperative shutdown: each node's stop callback
// is invoked in forward topological order (sources first, sinks last),
// idempotently. When every node has stopped, Finished completes.
func (p *Plan) StopProducing() {
	order, err := p.forwardTopoOrder()
	if err != nil {
		// A plan that can't be topologically sorted can still be asked
		// to stop; fall back to AddNode order.
		order = p.Nodes()
	}
	for _, n := range order {
		n.stop()
	}
	p.finishWith(p.firstError())
}

func (p *Plan) firstError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstErr
}

// reportFatal records the first error observed anywhere in the plan and
// triggers StopProducing: the first error observed anywhere wins.
func (p *Plan) reportFatal(err error) {
	p.mu.Lock()
	isFirst := p.firstErr == nil
	if isFirst {
		p.firstErr = err
	}
	p.mu.Unlock()
	if isFirst {
		go p.StopProducing()
	}
}

// NodeDrained is called by a sink node's InputFinished handler once it has
// observed end-of-stream on its single input. Once every sink in the plan
// has drained, the plan drives a clean StopProducing so that Finished
// completes once all nodes have stopped and all in-flight work is
// drained.
func (p *Plan) NodeDrained(n *Node) {
	p.mu.Lock()
	if p.drained == nil {
		p.drained = make(map[*Node]bool)
	}
	p.drained[n] = true
	allDrained := true
	for _, sink := range p.sinksLocked() {
		if !p.drained[sink] {
			allDrained = false
			break
		}
	}
	p.mu.Unlock()

	if allDrained {
		go p.StopProducing()
	}
}

func (p *Plan) sinksLocked() []*Node {
	var out []*Node
	for _, n := range p.nodes {
		if n.numOutputs == 0 {
			out = append(out, n)
		}
	}
	return out
}

func (p *Plan) finishWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == planStopped {
		return
	}
	p.state = planStopped
	if err != nil && p.firstErr == nil {
		p.firstErr = err
	}
	select {
	case <-p.finished:
		// already closed
	default:
		close(p.finished)
	}
}

// Finished returns a channel closed once the plan has stopped, after
// which Err reports the terminal result.
func (p *Plan) Finished() <-chan struct{} { return p.finished }

// Err returns the first error observed during execution, or nil if the
// plan completed (or was cleanly stopped) without one.
func (p *Plan) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstErr
}

// Wait blocks until Finished is closed and returns Err().
func (p *Plan) Wait() error {
	<-p.finished
	return p.Err()
}
