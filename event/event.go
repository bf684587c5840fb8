// Package event defines the control-plane events exchanged between routers
// and the queue abstraction the engine drains.
package event

import (
	"fmt"

	"github.com/nsg-ethz/bgpsim/ospf"
	"github.com/nsg-ethz/bgpsim/prefix"
	"github.com/nsg-ethz/bgpsim/route"
)

// Kind discriminates the event payload.
type Kind uint8

const (
	BgpUpdate Kind = iota
	BgpWithdraw
	OspfLsa
)

func (k Kind) String() string {
	switch k {
	case BgpUpdate:
		return "bgp_update"
	case BgpWithdraw:
		return "bgp_withdraw"
	case OspfLsa:
		return "ospf_lsa"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event is one pending control-plane message. Src is the sending router,
// kept for per-peer book-keeping at the receiver.
type Event struct {
	Kind Kind      `json:"kind"`
	Src  route.Rid `json:"src"`
	Dst  route.Rid `json:"dst"`

	// Route is set for BgpUpdate.
	Route *route.Route `json:"route,omitempty"`
	// Prefix is set for BgpWithdraw.
	Prefix prefix.Prefix `json:"prefix,omitempty"`
	// Lsa is set for OspfLsa.
	Lsa *ospf.LinkState `json:"lsa,omitempty"`
}

// Update builds a BgpUpdate event.
func Update(src, dst route.Rid, r *route.Route) Event {
	return Event{Kind: BgpUpdate, Src: src, Dst: dst, Route: r}
}

// Withdraw builds a BgpWithdraw event.
func Withdraw(src, dst route.Rid, p prefix.Prefix) Event {
	return Event{Kind: BgpWithdraw, Src: src, Dst: dst, Prefix: p}
}

// Lsa builds an OspfLsa event.
func Lsa(f ospf.Flood) Event {
	rec := f.Record
	return Event{Kind: OspfLsa, Src: f.Src, Dst: f.Dst, Lsa: &rec}
}

// Params carries the network properties a queue may weight delivery by.
// The engine refreshes them whenever the topology changes.
type Params struct {
	// Delay returns the nominal propagation plus processing delay of the
	// (src, dst) link. Nil means unit delay everywhere.
	Delay func(src, dst route.Rid) float64
}

// Queue holds the pending events of a simulation. The engine treats the
// implementation as opaque; only delivery order differs between variants.
type Queue interface {
	Push(ev Event)
	Pop() (Event, bool)
	Len() int
	Clear()
	// Pending snapshots the undelivered events in delivery order, for
	// inspection and serialization.
	Pending() []Event
	UpdateParams(p Params)
}
