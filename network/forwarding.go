package network

import (
	"fmt"
	"slices"

	"github.com/nsg-ethz/bgpsim/internal/metrics"
	"github.com/nsg-ethz/bgpsim/prefix"
	"github.com/nsg-ethz/bgpsim/route"
)

// FsEntry is the forwarding state of one (router, prefix) pair: the
// selected route and the IGP next hops realizing it. With ECMP the hop set
// may have more than one member.
type FsEntry struct {
	Prefix   prefix.Prefix `json:"prefix"`
	Route    *route.Route  `json:"route"`
	NextHops []route.Rid   `json:"next_hops"`
}

// FsRouter is the forwarding state of one router, entries sorted by
// prefix.
type FsRouter struct {
	Router  route.Rid `json:"router"`
	Name    string    `json:"name"`
	Entries []FsEntry `json:"entries"`
}

// FsSnapshot is the forwarding state of the whole network at one converged
// point, a pure function of the Loc-RIBs and OSPF tables.
type FsSnapshot struct {
	Routers []FsRouter `json:"routers"`
}

// Entry finds the forwarding entry of (router, prefix) in the snapshot.
func (s *FsSnapshot) Entry(r route.Rid, p prefix.Prefix) (FsEntry, bool) {
	for _, fr := range s.Routers {
		if fr.Router != r {
			continue
		}
		for _, e := range fr.Entries {
			if e.Prefix == p {
				return e, true
			}
		}
	}
	return FsEntry{}, false
}

// ForwardingState takes a consistent snapshot of the converged network.
// It refuses to run while events are pending.
func (n *Network) ForwardingState() (*FsSnapshot, error) {
	if n.queue.Len() > 0 {
		return nil, fmt.Errorf("%w: %d events in queue", ErrPendingEvents, n.queue.Len())
	}
	snap := &FsSnapshot{}
	for _, id := range n.internalOrder() {
		r := n.routers[id]
		fr := FsRouter{Router: id, Name: r.name}
		for p, sel := range r.locRib.All() {
			fr.Entries = append(fr.Entries, FsEntry{
				Prefix:   p,
				Route:    sel.Route.Clone(),
				NextHops: n.resolveNextHops(id, sel),
			})
		}
		snap.Routers = append(snap.Routers, fr)
	}
	return snap, nil
}

// resolveNextHops maps a selection to the directly connected neighbors
// packets leave through. A next hop equal to the router itself means the
// router is the BGP egress; the hop set is then the external peer.
func (n *Network) resolveNextHops(id route.Rid, sel *selection) []route.Rid {
	if sel.Route.NextHop == id {
		return []route.Rid{sel.Peer}
	}
	nh, ok := n.igp.NextHops(id, sel.Route.NextHop)
	if !ok || nh.Unreachable() {
		return nil
	}
	return slices.Clone(nh.Hops)
}

// GetPaths enumerates all distinct loop-free forwarding paths from src to
// an egress external router for prefix p, branching at every ECMP split.
// Loc-RIB lookups use longest-prefix match under hierarchical prefixes.
// It fails with ErrForwardingLoop when a router repeats on a partial path,
// ErrBlackHole when a router has no usable route, and ErrTruncated when
// the enumeration bound is exceeded.
func (n *Network) GetPaths(src route.Rid, p prefix.Prefix) ([][]route.Rid, error) {
	if !n.exists(src) {
		return nil, fmt.Errorf("%w: router %s", ErrNotFound, src)
	}
	var paths [][]route.Rid
	var walk func(cur route.Rid, path []route.Rid) error
	walk = func(cur route.Rid, path []route.Rid) error {
		if _, ok := n.externals[cur]; ok {
			if len(paths) >= n.cfg.MaxPaths {
				metrics.PathsTruncatedTotal.Inc()
				return fmt.Errorf("%w: more than %d paths from %s to %s", ErrTruncated, n.cfg.MaxPaths, n.Name(src), p)
			}
			paths = append(paths, slices.Clone(path))
			return nil
		}
		r := n.routers[cur]
		_, sel, ok := r.locRib.GetLPM(p)
		if !ok {
			return fmt.Errorf("%w: no route for %s at %s", ErrBlackHole, p, r.name)
		}
		var hops []route.Rid
		if sel.Route.NextHop == cur {
			hops = []route.Rid{sel.Peer}
		} else {
			nh, ok := n.igp.NextHops(cur, sel.Route.NextHop)
			if !ok || nh.Unreachable() {
				return fmt.Errorf("%w: next hop %s unreachable at %s", ErrBlackHole, n.Name(sel.Route.NextHop), r.name)
			}
			hops = nh.Hops
		}
		for _, h := range hops {
			if slices.Contains(path, h) {
				return fmt.Errorf("%w: %s revisited tracing %s from %s", ErrForwardingLoop, n.Name(h), p, n.Name(src))
			}
			if err := walk(h, append(path, h)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(src, []route.Rid{src}); err != nil {
		return nil, err
	}
	return paths, nil
}
