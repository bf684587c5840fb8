// Package scenario loads declarative network descriptions from YAML and
// builds simulations out of them.
package scenario

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/nsg-ethz/bgpsim/network"
	"github.com/nsg-ethz/bgpsim/ospf"
	"github.com/nsg-ethz/bgpsim/prefix"
	"github.com/nsg-ethz/bgpsim/route"
)

type Scenario struct {
	PrefixMode string `koanf:"prefix_mode"`
	OspfMode   string `koanf:"ospf_mode"`
	Asn        uint32 `koanf:"asn"`

	Routers         []string         `koanf:"routers"`
	ExternalRouters []ExternalRouter `koanf:"external_routers"`
	Links           []Link           `koanf:"links"`
	Sessions        []Session        `koanf:"sessions"`
	RouteMaps       []RouteMap       `koanf:"route_maps"`
	Advertisements  []Advertisement  `koanf:"advertisements"`
}

type ExternalRouter struct {
	Name string `koanf:"name"`
	Asn  uint32 `koanf:"asn"`
}

type Link struct {
	A string `koanf:"a"`
	B string `koanf:"b"`
	// Weight applies in both directions unless WeightReverse is set.
	Weight        *float64 `koanf:"weight"`
	WeightReverse *float64 `koanf:"weight_reverse"`
	Area          uint32   `koanf:"area"`
}

type Session struct {
	A    string `koanf:"a"`
	B    string `koanf:"b"`
	Type string `koanf:"type"`
}

type RouteMap struct {
	Router    string   `koanf:"router"`
	Peer      string   `koanf:"peer"`
	Direction string   `koanf:"direction"`
	Clauses   []Clause `koanf:"clauses"`
}

type Clause struct {
	Order      int    `koanf:"order"`
	Action     string `koanf:"action"`
	ContinueAt int    `koanf:"continue_at"`
	Match      Match  `koanf:"match"`
	Set        Set    `koanf:"set"`
}

type Match struct {
	Prefixes  []string `koanf:"prefixes"`
	PathRegex string   `koanf:"path_regex"`
	Community string   `koanf:"community"`
	NextHop   string   `koanf:"next_hop"`
	Peer      string   `koanf:"peer"`
}

type Set struct {
	LocalPref      *uint32  `koanf:"local_pref"`
	Med            *uint32  `koanf:"med"`
	Weight         *uint32  `koanf:"weight"`
	AddCommunities []string `koanf:"add_communities"`
	DelCommunities []string `koanf:"del_communities"`
	Prepend        []uint32 `koanf:"prepend"`
	IgpCost        *float64 `koanf:"igp_cost"`
}

type Advertisement struct {
	Router      string   `koanf:"router"`
	Prefix      string   `koanf:"prefix"`
	Path        []uint32 `koanf:"path"`
	Med         *uint32  `koanf:"med"`
	Communities []string `koanf:"communities"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading scenario %s: %w", path, err)
	}
	var s Scenario
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("unmarshaling scenario %s: %w", path, err)
	}
	return &s, nil
}

// Build assembles the network described by the scenario. Queue, logger,
// and engine bounds come from base; the scenario's own prefix mode, OSPF
// mode, and AS number take precedence when set.
func (s *Scenario) Build(base network.Config) (*network.Network, error) {
	if s.PrefixMode != "" {
		pk, err := prefix.ParseKind(s.PrefixMode)
		if err != nil {
			return nil, err
		}
		base.PrefixKind = pk
	}
	if s.OspfMode != "" {
		om, err := ospf.ParseKind(s.OspfMode)
		if err != nil {
			return nil, err
		}
		base.OspfMode = om
	}
	if s.Asn != 0 {
		base.Asn = route.AsN(s.Asn)
	}

	n := network.New(base)

	for _, name := range s.Routers {
		if _, err := n.AddRouter(name); err != nil {
			return nil, err
		}
	}
	for _, er := range s.ExternalRouters {
		if _, err := n.AddExternalRouter(er.Name, route.AsN(er.Asn)); err != nil {
			return nil, err
		}
	}

	for _, l := range s.Links {
		a, err := n.Rid(l.A)
		if err != nil {
			return nil, err
		}
		b, err := n.Rid(l.B)
		if err != nil {
			return nil, err
		}
		if err := n.AddLink(a, b); err != nil {
			return nil, err
		}
		if l.Weight != nil {
			if err := n.SetLinkWeight(a, b, *l.Weight); err != nil {
				return nil, err
			}
			back := *l.Weight
			if l.WeightReverse != nil {
				back = *l.WeightReverse
			}
			if err := n.SetLinkWeight(b, a, back); err != nil {
				return nil, err
			}
		}
		if l.Area != 0 {
			if err := n.SetOspfArea(a, b, ospf.Area(l.Area)); err != nil {
				return nil, err
			}
		}
	}

	for _, sess := range s.Sessions {
		a, err := n.Rid(sess.A)
		if err != nil {
			return nil, err
		}
		b, err := n.Rid(sess.B)
		if err != nil {
			return nil, err
		}
		typ, err := network.ParseSessionType(sess.Type)
		if err != nil {
			return nil, err
		}
		if err := n.SetBgpSession(a, b, &typ); err != nil {
			return nil, err
		}
	}

	for _, rm := range s.RouteMaps {
		id, err := n.Rid(rm.Router)
		if err != nil {
			return nil, err
		}
		peer, err := n.Rid(rm.Peer)
		if err != nil {
			return nil, err
		}
		dir, err := route.ParseDirection(rm.Direction)
		if err != nil {
			return nil, err
		}
		built, err := rm.build(n)
		if err != nil {
			return nil, err
		}
		if err := n.SetRouteMap(id, peer, dir, built); err != nil {
			return nil, err
		}
	}

	for _, ad := range s.Advertisements {
		ext, err := n.Rid(ad.Router)
		if err != nil {
			return nil, err
		}
		p, err := prefix.Parse(ad.Prefix)
		if err != nil {
			return nil, err
		}
		path := make([]route.AsN, len(ad.Path))
		for i, as := range ad.Path {
			path[i] = route.AsN(as)
		}
		comms, err := parseCommunities(ad.Communities)
		if err != nil {
			return nil, err
		}
		if err := n.AdvertiseExternalRoute(ext, p, path, ad.Med, comms); err != nil {
			return nil, err
		}
	}

	return n, nil
}

func (rm RouteMap) build(n *network.Network) (*route.RouteMap, error) {
	clauses := make([]route.Clause, 0, len(rm.Clauses))
	for _, c := range rm.Clauses {
		action, err := route.ParseAction(c.Action)
		if err != nil {
			return nil, err
		}
		match := route.Match{PathRegex: c.Match.PathRegex}
		for _, ps := range c.Match.Prefixes {
			p, err := prefix.Parse(ps)
			if err != nil {
				return nil, err
			}
			match.Prefixes = append(match.Prefixes, p)
		}
		if c.Match.Community != "" {
			comm, err := route.ParseCommunity(c.Match.Community)
			if err != nil {
				return nil, err
			}
			match.Community = &comm
		}
		if c.Match.NextHop != "" {
			nh, err := n.Rid(c.Match.NextHop)
			if err != nil {
				return nil, err
			}
			match.NextHop = &nh
		}
		if c.Match.Peer != "" {
			peer, err := n.Rid(c.Match.Peer)
			if err != nil {
				return nil, err
			}
			match.Peer = &peer
		}

		set := route.Set{
			LocalPref: c.Set.LocalPref,
			Med:       c.Set.Med,
			Weight:    c.Set.Weight,
			IgpCost:   c.Set.IgpCost,
		}
		if set.AddCommunities, err = parseCommunities(c.Set.AddCommunities); err != nil {
			return nil, err
		}
		if set.DelCommunities, err = parseCommunities(c.Set.DelCommunities); err != nil {
			return nil, err
		}
		for _, as := range c.Set.Prepend {
			set.Prepend = append(set.Prepend, route.AsN(as))
		}

		clauses = append(clauses, route.Clause{
			Order:      c.Order,
			Action:     action,
			ContinueAt: c.ContinueAt,
			Match:      match,
			Set:        set,
		})
	}
	return route.NewRouteMap(clauses...)
}

func parseCommunities(in []string) ([]route.Community, error) {
	var out []route.Community
	for _, s := range in {
		c, err := route.ParseCommunity(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
