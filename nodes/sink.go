package nodes

import (
	"github.com/arrowdag/colexec/colbatch"
	"github.com/arrowdag/colexec/execplan"
)

// SinkNodeOptions configures a sink node: the terminal node that
// buffers every batch delivered by its input, in arrival order, and
// exposes them to an external caller through a pulled,
// blocking execplan.BatchGenerator written into OutGenerator on Start.
// No arrowexec node plays this role directly (its Run chain terminates
// in a bare produce closure passed by the caller); this is built fresh
// on execplan.SinkGenerator, the push-side counterpart of
// BackgroundGenerator's channel-and-latch shape.
type SinkNodeOptions struct {
	OutGenerator *execplan.BatchGenerator
}

// NewSink builds the Handlers for a sink node. On Start it creates a
// execplan.SinkGenerator and writes it into opts.OutGenerator; every
// batch the node receives is pushed onto it; InputFinished closes it
// with the terminator, ErrorReceived closes it with the observed error,
// and Stop (the node's half of StopProducing) discards anything still
// buffered and unblocks a suspended reader with the terminator.
func NewSink(opts SinkNodeOptions) execplan.Handlers {
	gen := execplan.NewSinkGenerator()
	return execplan.Handlers{
		Start: func(n *execplan.Node) error {
			if opts.OutGenerator != nil {
				*opts.OutGenerator = gen
			}
			return nil
		},
		InputReceived: func(n *execplan.Node, input int, batch colbatch.Batch) error {
			gen.Push(batch)
			return nil
		},
		InputFinished: func(n *execplan.Node, input int, total int) {
			gen.Finish(nil)
			n.MarkDrained()
		},
		ErrorReceived: func(n *execplan.Node, input int, err error) {
			gen.Finish(err)
			n.EmitError(err)
		},
		Stop: func(n *execplan.Node) {
			gen.Stop()
		},
	}
}
