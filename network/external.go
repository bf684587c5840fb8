package network

import (
	"fmt"

	"github.com/nsg-ethz/bgpsim/event"
	"github.com/nsg-ethz/bgpsim/prefix"
	"github.com/nsg-ethz/bgpsim/route"
)

// externalRouter models a router of a foreign AS. It originates
// configured advertisements over its EBGP sessions and records what it
// hears back, but runs no decision process and never re-advertises.
type externalRouter struct {
	id   route.Rid
	name string
	asn  route.AsN
	kind prefix.Kind

	// adverts are the active advertisements, re-sent whenever a session
	// comes up.
	adverts prefix.Map[*route.Route]
	// ribIn records routes received from the simulated AS, for
	// inspection.
	ribIn map[route.Rid]prefix.Map[*route.Route]

	maps map[route.Rid]map[route.Direction]*route.RouteMap
}

func newExternalRouter(id route.Rid, name string, asn route.AsN, kind prefix.Kind) *externalRouter {
	return &externalRouter{
		id:      id,
		name:    name,
		asn:     asn,
		kind:    kind,
		adverts: prefix.NewMap[*route.Route](kind),
		ribIn:   make(map[route.Rid]prefix.Map[*route.Route]),
		maps:    make(map[route.Rid]map[route.Direction]*route.RouteMap),
	}
}

func (e *externalRouter) setRouteMap(peer route.Rid, dir route.Direction, rm *route.RouteMap) {
	byDir, ok := e.maps[peer]
	if !ok {
		if rm == nil {
			return
		}
		byDir = make(map[route.Direction]*route.RouteMap)
		e.maps[peer] = byDir
	}
	if rm == nil {
		delete(byDir, dir)
		if len(byDir) == 0 {
			delete(e.maps, peer)
		}
		return
	}
	byDir[dir] = rm
}

func (e *externalRouter) egressMap(peer route.Rid) *route.RouteMap {
	if byDir, ok := e.maps[peer]; ok {
		return byDir[route.Egress]
	}
	return nil
}

// advertise activates rt and announces it on every session.
func (e *externalRouter) advertise(n *Network, rt *route.Route) {
	e.adverts.Insert(rt.Prefix, rt)
	for _, view := range n.peersOf(e.id) {
		e.send(n, view.peer, rt)
	}
}

// withdraw retracts an active advertisement on every session.
func (e *externalRouter) withdraw(n *Network, p prefix.Prefix) error {
	if !e.adverts.Remove(p) {
		return fmt.Errorf("%w: advertisement %s at %s", ErrNotFound, p, e.name)
	}
	for _, view := range n.peersOf(e.id) {
		n.queue.Push(event.Withdraw(e.id, view.peer, p))
	}
	return nil
}

// resend replays the active advertisements toward one peer, used on
// session establishment and ingress-policy changes at the peer.
func (e *externalRouter) resend(n *Network, peer route.Rid) {
	for _, rt := range collect(e.adverts) {
		e.send(n, peer, rt)
	}
}

func (e *externalRouter) send(n *Network, peer route.Rid, rt *route.Route) {
	out := rt.Clone()
	if m := e.egressMap(peer); m != nil {
		applied, keep := m.Apply(out, peer)
		if !keep {
			return
		}
		out = applied
	}
	n.queue.Push(event.Update(e.id, peer, out))
}

// receive records an advertisement from the simulated AS.
func (e *externalRouter) receive(from route.Rid, rt *route.Route) {
	rib, ok := e.ribIn[from]
	if !ok {
		rib = prefix.NewMap[*route.Route](e.kind)
		e.ribIn[from] = rib
	}
	rib.Insert(rt.Prefix, rt)
}

func (e *externalRouter) receiveWithdraw(from route.Rid, p prefix.Prefix) {
	if rib, ok := e.ribIn[from]; ok {
		rib.Remove(p)
	}
}

func (e *externalRouter) dropPeer(peer route.Rid) {
	delete(e.ribIn, peer)
}
