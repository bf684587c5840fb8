package network

import (
	"slices"

	"go.uber.org/zap"

	"github.com/nsg-ethz/bgpsim/event"
	"github.com/nsg-ethz/bgpsim/internal/metrics"
	"github.com/nsg-ethz/bgpsim/prefix"
	"github.com/nsg-ethz/bgpsim/route"
)

// selection is one Loc-RIB entry: the best route for a prefix and the
// session facts it was chosen under.
type selection struct {
	Route    *route.Route `json:"route"`
	Peer     route.Rid    `json:"peer"`
	FromEbgp bool         `json:"from_ebgp"`
}

// router is the per-router BGP state machine of an internal router.
type router struct {
	id   route.Rid
	name string
	asn  route.AsN
	kind prefix.Kind

	// ribIn holds the post-ingress-policy routes per peer.
	ribIn map[route.Rid]prefix.Map[*route.Route]
	// locRib holds the selected best route per prefix.
	locRib prefix.Map[*selection]
	// ribOut tracks the last advertisement sent per peer, post egress
	// policy, so updates and withdrawals are emitted as exact diffs.
	ribOut map[route.Rid]prefix.Map[*route.Route]

	maps map[route.Rid]map[route.Direction]*route.RouteMap
}

func newRouter(id route.Rid, name string, asn route.AsN, kind prefix.Kind) *router {
	return &router{
		id:     id,
		name:   name,
		asn:    asn,
		kind:   kind,
		ribIn:  make(map[route.Rid]prefix.Map[*route.Route]),
		locRib: prefix.NewMap[*selection](kind),
		ribOut: make(map[route.Rid]prefix.Map[*route.Route]),
		maps:   make(map[route.Rid]map[route.Direction]*route.RouteMap),
	}
}

// peerView is one session as seen from a particular router.
type peerView struct {
	peer route.Rid
	typ  SessionType
	// peerIsClient: this router is the reflector of the session.
	peerIsClient bool
}

func (n *Network) viewOf(self, peer route.Rid) (peerView, bool) {
	s, ok := n.sessionBetween(self, peer)
	if !ok {
		return peerView{}, false
	}
	v := peerView{peer: peer, typ: s.Type}
	if s.Type == IBgpClient {
		v.peerIsClient = s.A == self
	}
	return v, true
}

// peersOf lists a router's sessions sorted by peer Rid.
func (n *Network) peersOf(self route.Rid) []peerView {
	var out []peerView
	for _, s := range n.sessions {
		var peer route.Rid
		switch self {
		case s.A:
			peer = s.B
		case s.B:
			peer = s.A
		default:
			continue
		}
		v, _ := n.viewOf(self, peer)
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b peerView) int { return int(a.peer) - int(b.peer) })
	return out
}

func (r *router) routeMap(peer route.Rid, dir route.Direction) *route.RouteMap {
	if byDir, ok := r.maps[peer]; ok {
		return byDir[dir]
	}
	return nil
}

func (r *router) setRouteMap(peer route.Rid, dir route.Direction, rm *route.RouteMap) {
	byDir, ok := r.maps[peer]
	if !ok {
		if rm == nil {
			return
		}
		byDir = make(map[route.Direction]*route.RouteMap)
		r.maps[peer] = byDir
	}
	if rm == nil {
		delete(byDir, dir)
		if len(byDir) == 0 {
			delete(r.maps, peer)
		}
		return
	}
	byDir[dir] = rm
}

// handleUpdate processes one received advertisement: AS-loop check on
// EBGP, ingress policy, RIB-In insert, decision re-run. A loop-dropped or
// policy-dropped update acts as an implicit withdrawal of the previous
// advertisement from that peer.
func (r *router) handleUpdate(n *Network, from route.Rid, rt *route.Route) {
	view, ok := n.viewOf(r.id, from)
	if !ok {
		n.log.Debug("update on torn-down session",
			zap.String("router", r.name),
			zap.Uint32("peer", uint32(from)),
		)
		return
	}

	if view.typ == EBgp && rt.HasAsLoop(r.asn) {
		metrics.RouteLoopsDroppedTotal.Inc()
		n.log.Warn("AS-path loop on ingress, dropping route",
			zap.String("router", r.name),
			zap.Uint32("peer", uint32(from)),
			zap.String("prefix", rt.Prefix.String()),
			zap.String("path", rt.PathString()),
		)
		r.withdrawFrom(n, from, rt.Prefix)
		return
	}

	if m := r.routeMap(from, route.Ingress); m != nil {
		out, keep := m.Apply(rt, from)
		if !keep {
			metrics.RouteMapDropsTotal.WithLabelValues("ingress").Inc()
			r.withdrawFrom(n, from, rt.Prefix)
			return
		}
		rt = out
	} else {
		rt = rt.Clone()
	}

	rib, ok := r.ribIn[from]
	if !ok {
		rib = prefix.NewMap[*route.Route](r.kind)
		r.ribIn[from] = rib
	}
	rib.Insert(rt.Prefix, rt)
	r.decide(n, rt.Prefix)
}

// handleWithdraw removes a peer's advertisement and re-runs the decision.
func (r *router) handleWithdraw(n *Network, from route.Rid, p prefix.Prefix) {
	r.withdrawFrom(n, from, p)
}

func (r *router) withdrawFrom(n *Network, from route.Rid, p prefix.Prefix) {
	rib, ok := r.ribIn[from]
	if !ok || !rib.Remove(p) {
		return
	}
	r.decide(n, p)
}

// decide selects the best route for p among the eligible RIB-In entries
// and, when the selection changed, re-derives the advertisements to every
// peer.
func (r *router) decide(n *Network, p prefix.Prefix) {
	var cands []route.Candidate
	for _, view := range n.peersOf(r.id) {
		rib, ok := r.ribIn[view.peer]
		if !ok {
			continue
		}
		rt, ok := rib.GetExact(p)
		if !ok {
			continue
		}
		cost := 0.0
		if rt.NextHop != r.id {
			nh, ok := n.igp.NextHops(r.id, rt.NextHop)
			if !ok || nh.Unreachable() {
				continue // next hop not IGP-reachable
			}
			cost = nh.Cost
		}
		cands = append(cands, route.Candidate{
			Route:    rt,
			Peer:     view.peer,
			FromEbgp: view.typ == EBgp,
			IgpCost:  cost,
		})
	}

	best, ok := route.Best(cands)
	old, hadOld := r.locRib.GetExact(p)

	if !ok {
		if !hadOld {
			return
		}
		r.locRib.Remove(p)
	} else {
		sel := &selection{Route: best.Route, Peer: best.Peer, FromEbgp: best.FromEbgp}
		if hadOld && old.Peer == sel.Peer && old.FromEbgp == sel.FromEbgp && old.Route.Equal(sel.Route) {
			return
		}
		r.locRib.Insert(p, sel)
		metrics.BestRouteChangesTotal.Inc()
	}
	r.emitPrefix(n, p)
}

func (r *router) emitPrefix(n *Network, p prefix.Prefix) {
	for _, view := range n.peersOf(r.id) {
		r.emitPrefixToPeer(n, p, view)
	}
}

// emitForPeer re-derives every advertisement toward one peer: all
// currently selected prefixes plus anything previously sent that must now
// be withdrawn.
func (r *router) emitForPeer(n *Network, peer route.Rid) {
	view, ok := n.viewOf(r.id, peer)
	if !ok {
		return
	}
	seen := make(map[prefix.Prefix]struct{})
	for p := range r.locRib.All() {
		seen[p] = struct{}{}
		r.emitPrefixToPeer(n, p, view)
	}
	if out, ok := r.ribOut[peer]; ok {
		for _, p := range prefixKeys(out) {
			if _, done := seen[p]; !done {
				r.emitPrefixToPeer(n, p, view)
			}
		}
	}
}

// resend advertises the current best routes on a freshly established
// session.
func (r *router) resend(n *Network, peer route.Rid) {
	r.emitForPeer(n, peer)
}

// emitPrefixToPeer diffs the desired egress for (p, peer) against the last
// sent advertisement and enqueues an update or withdrawal as needed.
func (r *router) emitPrefixToPeer(n *Network, p prefix.Prefix, view peerView) {
	desired := r.egressRoute(n, p, view)
	out, ok := r.ribOut[view.peer]
	if !ok {
		out = prefix.NewMap[*route.Route](r.kind)
		r.ribOut[view.peer] = out
	}
	prev, had := out.GetExact(p)
	switch {
	case desired == nil && had:
		out.Remove(p)
		n.queue.Push(event.Withdraw(r.id, view.peer, p))
	case desired != nil && (!had || !prev.Equal(desired)):
		out.Insert(p, desired)
		n.queue.Push(event.Update(r.id, view.peer, desired.Clone()))
	}
}

// egressRoute computes what this router advertises for p toward one peer,
// or nil: the session-type advertisement rules, the attribute rewrites,
// and the egress policy, in that order.
func (r *router) egressRoute(n *Network, p prefix.Prefix, view peerView) *route.Route {
	sel, ok := r.locRib.GetExact(p)
	if !ok {
		return nil
	}
	if view.peer == sel.Peer {
		return nil // never advertise a route back to its source
	}

	srcView, _ := n.viewOf(r.id, sel.Peer)
	fromClient := srcView.peerIsClient
	switch {
	case sel.FromEbgp:
		// EBGP-learned: everyone hears about it.
	case fromClient:
		// Client-learned: reflected to all IBGP peers and all EBGP peers.
	default:
		// IBGP-learned from a non-client: EBGP peers and own clients only.
		if view.typ != EBgp && !view.peerIsClient {
			return nil
		}
	}

	out := sel.Route.Clone()
	out.Weight = 0 // local to the selecting router
	out.IgpCost = nil

	if view.typ == EBgp {
		out.PrependPath(r.asn)
		out.NextHop = r.id // next-hop-self unless a setter overrides
		out.LocalPref = route.DefaultLocalPref
		out.OriginatorID = 0
		out.ClusterList = nil
	} else if !sel.FromEbgp {
		// Reflecting an IBGP-learned route to another IBGP session.
		if out.OriginatorID == 0 {
			out.OriginatorID = sel.Peer
		}
		out.ClusterList = append(out.ClusterList, r.id)
	}

	if m := r.routeMap(view.peer, route.Egress); m != nil {
		applied, keep := m.Apply(out, view.peer)
		if !keep {
			metrics.RouteMapDropsTotal.WithLabelValues("egress").Inc()
			return nil
		}
		out = applied
	}
	return out
}

// dropPeer removes all state tied to a torn-down session and re-decides
// the affected prefixes.
func (r *router) dropPeer(n *Network, peer route.Rid) {
	delete(r.ribOut, peer)
	rib, ok := r.ribIn[peer]
	if !ok {
		return
	}
	affected := prefixKeys(rib)
	delete(r.ribIn, peer)
	for _, p := range affected {
		r.decide(n, p)
	}
}

// refresh re-runs the decision for every prefix the router knows about.
// Called after IGP changes, which can flip next-hop eligibility and cost.
func (r *router) refresh(n *Network) {
	set := make(map[prefix.Prefix]struct{})
	for _, rib := range r.ribIn {
		for p := range rib.All() {
			set[p] = struct{}{}
		}
	}
	for p := range r.locRib.All() {
		set[p] = struct{}{}
	}
	keys := make([]prefix.Prefix, 0, len(set))
	for p := range set {
		keys = append(keys, p)
	}
	slices.SortFunc(keys, func(a, b prefix.Prefix) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})
	for _, p := range keys {
		r.decide(n, p)
	}
}

func (n *Network) refreshDecisions(id route.Rid) {
	if r, ok := n.routers[id]; ok {
		r.refresh(n)
	}
}

// prefixKeys snapshots the keys of a map in sorted order, so callers can
// mutate while iterating.
func prefixKeys[V any](m prefix.Map[V]) []prefix.Prefix {
	var keys []prefix.Prefix
	for p := range m.All() {
		keys = append(keys, p)
	}
	return keys
}

// collect snapshots the values of a route map in prefix order.
func collect(m prefix.Map[*route.Route]) []*route.Route {
	var out []*route.Route
	for _, rt := range m.All() {
		out = append(out, rt)
	}
	return out
}
