package route

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/nsg-ethz/bgpsim/prefix"
)

// Direction tells whether a route-map runs at session ingress or egress.
type Direction uint8

const (
	Ingress Direction = iota
	Egress
)

func (d Direction) String() string {
	if d == Egress {
		return "egress"
	}
	return "ingress"
}

// ParseDirection parses a direction name as used in configuration files.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "ingress", "in":
		return Ingress, nil
	case "egress", "out":
		return Egress, nil
	default:
		return 0, fmt.Errorf("route: unknown direction %q", s)
	}
}

// Action is the outcome of a matching route-map clause.
type Action uint8

const (
	Allow Action = iota
	Deny
	Continue
)

func (a Action) String() string {
	switch a {
	case Deny:
		return "deny"
	case Continue:
		return "continue"
	default:
		return "allow"
	}
}

// ParseAction parses an action name.
func ParseAction(s string) (Action, error) {
	switch s {
	case "allow", "permit":
		return Allow, nil
	case "deny":
		return Deny, nil
	case "continue":
		return Continue, nil
	default:
		return 0, fmt.Errorf("route: unknown action %q", s)
	}
}

// Match is the predicate set of a clause. Empty fields always match; the
// clause matches when every populated predicate holds.
type Match struct {
	// Prefixes matches routes whose destination is contained in any listed
	// prefix.
	Prefixes []prefix.Prefix `json:"prefixes,omitempty"`
	// PathRegex matches against the rendered AS path ("1 2 3").
	PathRegex string     `json:"path_regex,omitempty"`
	Community *Community `json:"community,omitempty"`
	NextHop   *Rid       `json:"next_hop,omitempty"`
	Peer      *Rid       `json:"peer,omitempty"`

	re *regexp.Regexp
}

func (m *Match) matches(r *Route, peer Rid) bool {
	if len(m.Prefixes) > 0 {
		hit := false
		for _, p := range m.Prefixes {
			if p.Contains(r.Prefix) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if m.re != nil && !m.re.MatchString(r.PathString()) {
		return false
	}
	if m.Community != nil && !r.HasCommunity(*m.Community) {
		return false
	}
	if m.NextHop != nil && r.NextHop != *m.NextHop {
		return false
	}
	if m.Peer != nil && peer != *m.Peer {
		return false
	}
	return true
}

// Set mutates route attributes when its clause matches. Local-pref, MED and
// weight overwrite; prepends extend the path on the left; community adds and
// removes compose.
type Set struct {
	LocalPref      *uint32     `json:"local_pref,omitempty"`
	Med            *uint32     `json:"med,omitempty"`
	Weight         *uint32     `json:"weight,omitempty"`
	AddCommunities []Community `json:"add_communities,omitempty"`
	DelCommunities []Community `json:"del_communities,omitempty"`
	Prepend        []AsN       `json:"prepend,omitempty"`
	IgpCost        *float64    `json:"igp_cost,omitempty"`
}

func (s *Set) apply(r *Route) {
	if s.LocalPref != nil {
		r.LocalPref = *s.LocalPref
	}
	if s.Med != nil {
		r.Med = *s.Med
	}
	if s.Weight != nil {
		r.Weight = *s.Weight
	}
	for _, c := range s.AddCommunities {
		r.AddCommunity(c)
	}
	for _, c := range s.DelCommunities {
		r.RemoveCommunity(c)
	}
	if len(s.Prepend) > 0 {
		r.PrependPath(s.Prepend...)
	}
	if s.IgpCost != nil {
		v := *s.IgpCost
		r.IgpCost = &v
	}
}

// Clause is one rule of a route-map. Clauses are evaluated in ascending
// Order. ContinueAt names the order key evaluation resumes at after a
// Continue action; 0 means the next clause.
type Clause struct {
	Order      int    `json:"order"`
	Match      Match  `json:"match"`
	Action     Action `json:"action"`
	ContinueAt int    `json:"continue_at,omitempty"`
	Set        Set    `json:"set"`
}

// RouteMap is an ordered sequence of clauses applied at session ingress or
// egress. A route that matches no clause is allowed unchanged (implicit
// permit-all).
type RouteMap struct {
	clauses []Clause
}

// NewRouteMap validates and compiles a route-map. Continue targets must
// jump forward (back-jumps would allow non-terminating evaluation) and all
// path regexes must compile.
func NewRouteMap(clauses ...Clause) (*RouteMap, error) {
	cs := make([]Clause, len(clauses))
	copy(cs, clauses)
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Order < cs[j].Order })

	for i := range cs {
		cl := &cs[i]
		if cl.Action == Continue && cl.ContinueAt != 0 && cl.ContinueAt <= cl.Order {
			return nil, fmt.Errorf("route: clause %d: continue target %d is not a forward jump", cl.Order, cl.ContinueAt)
		}
		if cl.Match.PathRegex != "" {
			re, err := regexp.Compile(cl.Match.PathRegex)
			if err != nil {
				return nil, fmt.Errorf("route: clause %d: path regex: %w", cl.Order, err)
			}
			cl.Match.re = re
		}
	}
	return &RouteMap{clauses: cs}, nil
}

// Clauses returns the compiled clauses in evaluation order.
func (rm *RouteMap) Clauses() []Clause {
	out := make([]Clause, len(rm.clauses))
	copy(out, rm.clauses)
	return out
}

// Apply evaluates the route-map against a copy of r for the given peer.
// It returns the possibly-modified route and true, or nil and false when a
// Deny clause matched. r itself is never mutated.
func (rm *RouteMap) Apply(r *Route, peer Rid) (*Route, bool) {
	out := r.Clone()
	i := 0
	for i < len(rm.clauses) {
		cl := &rm.clauses[i]
		if !cl.Match.matches(out, peer) {
			i++
			continue
		}
		switch cl.Action {
		case Allow:
			cl.Set.apply(out)
			return out, true
		case Deny:
			return nil, false
		case Continue:
			cl.Set.apply(out)
			if cl.ContinueAt == 0 {
				i++
				continue
			}
			j := i + 1
			for j < len(rm.clauses) && rm.clauses[j].Order < cl.ContinueAt {
				j++
			}
			i = j
		}
	}
	return out, true
}

// MarshalJSON serializes the clause list.
func (rm *RouteMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(rm.clauses)
}

// UnmarshalJSON rebuilds the route-map through NewRouteMap so regexes are
// recompiled and validation re-runs.
func (rm *RouteMap) UnmarshalJSON(data []byte) error {
	var clauses []Clause
	if err := json.Unmarshal(data, &clauses); err != nil {
		return err
	}
	built, err := NewRouteMap(clauses...)
	if err != nil {
		return err
	}
	*rm = *built
	return nil
}
