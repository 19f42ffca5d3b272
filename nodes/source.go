// Package nodes implements the concrete node kinds: each is a plain
// function returning an execplan.Handlers value, the same "node kinds
// are function slots" design used to build execplan.Node itself.
package nodes

import (
	"context"

	"github.com/arrowdag/colexec/execplan"
)

// NewSource builds the Handlers for a source node: on Start it begins
// pulling from gen on a background goroutine, emitting every batch until
// gen is exhausted or errors, then calling EmitFinished. Stop cancels the
// pull.
func NewSource(gen execplan.BatchGenerator) execplan.Handlers {
	type ctl struct {
		cancel context.CancelFunc
	}
	c := &ctl{}
	return execplan.Handlers{
		Start: func(n *execplan.Node) error {
			ctx, cancel := context.WithCancel(context.Background())
			c.cancel = cancel
			go sourcePump(ctx, n, gen)
			return nil
		},
		Stop: func(n *execplan.Node) {
			if c.cancel != nil {
				c.cancel()
			}
		},
	}
}

func sourcePump(ctx context.Context, n *execplan.Node, gen execplan.BatchGenerator) {
	for {
		batch, ok, err := gen.Next(ctx)
		if err != nil {
			n.EmitError(err)
			return
		}
		if !ok {
			n.EmitFinished()
			return
		}
		if err := n.Emit(batch); err != nil {
			return
		}
	}
}
