package network

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nsg-ethz/bgpsim/event"
	"github.com/nsg-ethz/bgpsim/internal/metrics"
)

// Step pops one event, applies it at the destination router, and enqueues
// whatever the handler emits. It reports whether an event was processed.
// Handlers run to completion; there is no partial application.
func (n *Network) Step() bool {
	ev, ok := n.queue.Pop()
	if !ok {
		return false
	}
	metrics.EventsProcessedTotal.WithLabelValues(ev.Kind.String()).Inc()
	n.dispatch(ev)
	return true
}

func (n *Network) dispatch(ev event.Event) {
	switch ev.Kind {
	case event.BgpUpdate:
		if ev.Route == nil {
			n.log.Warn("malformed update event, ignoring", zap.Uint32("dst", uint32(ev.Dst)))
			return
		}
		if r, ok := n.routers[ev.Dst]; ok {
			r.handleUpdate(n, ev.Src, ev.Route)
			return
		}
		if e, ok := n.externals[ev.Dst]; ok {
			e.receive(ev.Src, ev.Route)
			return
		}
		n.log.Debug("update for unknown router, ignoring", zap.Uint32("dst", uint32(ev.Dst)))

	case event.BgpWithdraw:
		if r, ok := n.routers[ev.Dst]; ok {
			r.handleWithdraw(n, ev.Src, ev.Prefix)
			return
		}
		if e, ok := n.externals[ev.Dst]; ok {
			e.receiveWithdraw(ev.Src, ev.Prefix)
			return
		}
		n.log.Debug("withdraw for unknown router, ignoring", zap.Uint32("dst", uint32(ev.Dst)))

	case event.OspfLsa:
		if ev.Lsa == nil {
			n.log.Warn("malformed LSA event, ignoring", zap.Uint32("dst", uint32(ev.Dst)))
			return
		}
		metrics.SpfRunsTotal.Inc()
		floods := n.igp.HandleLsa(ev.Dst, *ev.Lsa, n.ospfNeighbors)
		for _, f := range floods {
			n.queue.Push(event.Lsa(f))
		}
		// The receiver's IGP view may have shifted; revisit its BGP
		// decisions.
		n.refreshDecisions(ev.Dst)

	default:
		n.log.Warn("unknown event kind, ignoring", zap.Uint8("kind", uint8(ev.Kind)))
	}
}

// Simulate drains the queue to convergence. It returns ErrNoConvergence
// when the step budget runs out first; the partial state stays
// inspectable.
func (n *Network) Simulate() error {
	steps := 0
	for n.queue.Len() > 0 {
		if steps >= n.cfg.StepBudget {
			metrics.ConvergenceFailuresTotal.Inc()
			n.log.Error("step budget exhausted",
				zap.Int("budget", n.cfg.StepBudget),
				zap.Int("pending", n.queue.Len()),
			)
			return fmt.Errorf("%w: %d steps taken, %d events pending", ErrNoConvergence, steps, n.queue.Len())
		}
		n.Step()
		steps++
	}
	metrics.SimulationSteps.Observe(float64(steps))
	n.log.Debug("converged", zap.Int("steps", steps))
	return nil
}
