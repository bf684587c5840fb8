package network

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/nsg-ethz/bgpsim/event"
	"github.com/nsg-ethz/bgpsim/ospf"
	"github.com/nsg-ethz/bgpsim/prefix"
	"github.com/nsg-ethz/bgpsim/route"
)

// The serialized form is a self-describing JSON document carrying every
// field that affects future behavior: topology, configurations, RIBs,
// link-state databases, and pending queue events. All maps are rendered as
// sorted slices so equal networks serialize to identical bytes.

type peerRibSerial struct {
	Peer   route.Rid      `json:"peer"`
	Routes []*route.Route `json:"routes"`
}

type locEntrySerial struct {
	Prefix    prefix.Prefix `json:"prefix"`
	Selection *selection    `json:"selection"`
}

type mapBindingSerial struct {
	Peer      route.Rid       `json:"peer"`
	Direction string          `json:"direction"`
	Map       *route.RouteMap `json:"map"`
}

type routerSerial struct {
	Id       route.Rid          `json:"id"`
	Name     string             `json:"name"`
	External bool               `json:"external,omitempty"`
	Asn      route.AsN          `json:"asn,omitempty"`
	RibIn    []peerRibSerial    `json:"rib_in,omitempty"`
	LocRib   []locEntrySerial   `json:"loc_rib,omitempty"`
	RibOut   []peerRibSerial    `json:"rib_out,omitempty"`
	Adverts  []*route.Route     `json:"adverts,omitempty"`
	Maps     []mapBindingSerial `json:"route_maps,omitempty"`
}

type localLsdbSerial struct {
	Router route.Rid  `json:"router"`
	Lsdb   *ospf.Lsdb `json:"lsdb"`
}

type netSerial struct {
	PrefixKind string            `json:"prefix_kind"`
	OspfMode   string            `json:"ospf_mode"`
	Asn        route.AsN         `json:"asn"`
	NextRid    route.Rid         `json:"next_rid"`
	StepBudget int               `json:"step_budget"`
	MaxPaths   int               `json:"max_paths"`
	Routers    []routerSerial    `json:"routers"`
	Links      [][2]route.Rid    `json:"links"`
	LinkStates *ospf.Lsdb        `json:"link_states"`
	LocalLsdbs []localLsdbSerial `json:"local_lsdbs,omitempty"`
	Sessions   []Session         `json:"sessions"`
	Queue      []event.Event     `json:"queue"`
}

func serializeRibs(ribs map[route.Rid]prefix.Map[*route.Route]) []peerRibSerial {
	peers := make([]route.Rid, 0, len(ribs))
	for peer := range ribs {
		peers = append(peers, peer)
	}
	slices.Sort(peers)
	var out []peerRibSerial
	for _, peer := range peers {
		routes := collect(ribs[peer])
		if len(routes) == 0 {
			continue
		}
		out = append(out, peerRibSerial{Peer: peer, Routes: routes})
	}
	return out
}

func serializeMaps(maps map[route.Rid]map[route.Direction]*route.RouteMap) []mapBindingSerial {
	peers := make([]route.Rid, 0, len(maps))
	for peer := range maps {
		peers = append(peers, peer)
	}
	slices.Sort(peers)
	var out []mapBindingSerial
	for _, peer := range peers {
		for _, dir := range []route.Direction{route.Ingress, route.Egress} {
			if rm := maps[peer][dir]; rm != nil {
				out = append(out, mapBindingSerial{Peer: peer, Direction: dir.String(), Map: rm})
			}
		}
	}
	return out
}

// Serialize renders the complete network state. Two semantically equal
// networks produce byte-identical output.
func (n *Network) Serialize() ([]byte, error) {
	s := netSerial{
		PrefixKind: n.cfg.PrefixKind.String(),
		OspfMode:   n.cfg.OspfMode.String(),
		Asn:        n.cfg.Asn,
		NextRid:    n.nextRid,
		StepBudget: n.cfg.StepBudget,
		MaxPaths:   n.cfg.MaxPaths,
		LinkStates: n.igp.Auth(),
		Sessions:   n.Sessions(),
		Queue:      n.queue.Pending(),
	}

	for _, id := range n.order {
		if r, ok := n.routers[id]; ok {
			rs := routerSerial{
				Id:     id,
				Name:   r.name,
				RibIn:  serializeRibs(r.ribIn),
				RibOut: serializeRibs(r.ribOut),
				Maps:   serializeMaps(r.maps),
			}
			for p, sel := range r.locRib.All() {
				rs.LocRib = append(rs.LocRib, locEntrySerial{Prefix: p, Selection: sel})
			}
			s.Routers = append(s.Routers, rs)
			continue
		}
		e := n.externals[id]
		s.Routers = append(s.Routers, routerSerial{
			Id:       id,
			Name:     e.name,
			External: true,
			Asn:      e.asn,
			Adverts:  collect(e.adverts),
			RibIn:    serializeRibs(e.ribIn),
			Maps:     serializeMaps(e.maps),
		})
	}

	for key := range n.links {
		s.Links = append(s.Links, [2]route.Rid{key.lo, key.hi})
	}
	slices.SortFunc(s.Links, func(a, b [2]route.Rid) int {
		if a[0] != b[0] {
			return int(a[0]) - int(b[0])
		}
		return int(a[1]) - int(b[1])
	})

	if n.cfg.OspfMode == ospf.Distributed {
		for _, id := range n.internalOrder() {
			s.LocalLsdbs = append(s.LocalLsdbs, localLsdbSerial{Router: id, Lsdb: n.igp.Local(id)})
		}
	}

	return json.MarshalIndent(s, "", "  ")
}

// Deserialize rebuilds a network from its serialized form. The queue and
// logger come from cfg (a serialized document does not pin the queue
// implementation); every other parameter is restored from the data.
// Pending events are re-pushed in delivery order.
func Deserialize(data []byte, cfg Config) (*Network, error) {
	var s netSerial
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("network: decoding snapshot: %w", err)
	}

	pk, err := prefix.ParseKind(s.PrefixKind)
	if err != nil {
		return nil, err
	}
	om, err := ospf.ParseKind(s.OspfMode)
	if err != nil {
		return nil, err
	}

	n := New(Config{
		PrefixKind: pk,
		OspfMode:   om,
		Asn:        s.Asn,
		Queue:      cfg.Queue,
		StepBudget: s.StepBudget,
		MaxPaths:   s.MaxPaths,
		Logger:     cfg.Logger,
	})
	n.nextRid = s.NextRid

	restoreRibs := func(serials []peerRibSerial) map[route.Rid]prefix.Map[*route.Route] {
		out := make(map[route.Rid]prefix.Map[*route.Route])
		for _, pr := range serials {
			m := prefix.NewMap[*route.Route](pk)
			for _, rt := range pr.Routes {
				m.Insert(rt.Prefix, rt)
			}
			out[pr.Peer] = m
		}
		return out
	}
	restoreMaps := func(serials []mapBindingSerial) (map[route.Rid]map[route.Direction]*route.RouteMap, error) {
		out := make(map[route.Rid]map[route.Direction]*route.RouteMap)
		for _, mb := range serials {
			dir, err := route.ParseDirection(mb.Direction)
			if err != nil {
				return nil, err
			}
			byDir, ok := out[mb.Peer]
			if !ok {
				byDir = make(map[route.Direction]*route.RouteMap)
				out[mb.Peer] = byDir
			}
			byDir[dir] = mb.Map
		}
		return out, nil
	}

	var members []route.Rid
	for _, rs := range s.Routers {
		n.order = append(n.order, rs.Id)
		n.names[rs.Name] = rs.Id
		if rs.External {
			e := newExternalRouter(rs.Id, rs.Name, rs.Asn, pk)
			for _, rt := range rs.Adverts {
				e.adverts.Insert(rt.Prefix, rt)
			}
			e.ribIn = restoreRibs(rs.RibIn)
			if e.maps, err = restoreMaps(rs.Maps); err != nil {
				return nil, err
			}
			n.externals[rs.Id] = e
			continue
		}
		r := newRouter(rs.Id, rs.Name, s.Asn, pk)
		r.ribIn = restoreRibs(rs.RibIn)
		r.ribOut = restoreRibs(rs.RibOut)
		if r.maps, err = restoreMaps(rs.Maps); err != nil {
			return nil, err
		}
		for _, le := range rs.LocRib {
			r.locRib.Insert(le.Prefix, le.Selection)
		}
		n.routers[rs.Id] = r
		members = append(members, rs.Id)
	}

	for _, l := range s.Links {
		n.links[pairKey{lo: l[0], hi: l[1]}] = struct{}{}
	}
	for _, sess := range s.Sessions {
		n.sessions[pairOf(sess.A, sess.B)] = sess
	}

	locals := make(map[route.Rid]*ospf.Lsdb)
	for _, ll := range s.LocalLsdbs {
		locals[ll.Router] = ll.Lsdb
	}
	auth := s.LinkStates
	if auth == nil {
		auth = ospf.NewLsdb()
	}
	n.igp.Restore(auth, locals, members)
	n.queue.UpdateParams(event.Params{Delay: n.linkDelay})

	for _, ev := range s.Queue {
		n.queue.Push(ev)
	}
	return n, nil
}
