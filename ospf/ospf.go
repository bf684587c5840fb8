// Package ospf implements the link-state database and the multi-area
// shortest-path computation backing IGP next-hop resolution.
package ospf

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/nsg-ethz/bgpsim/route"
)

// Kind selects how link-state information propagates.
type Kind uint8

const (
	// Global keeps one authoritative LSDB; tables are recomputed atomically
	// on every change and no messages are exchanged.
	Global Kind = iota
	// Distributed gives every router its own LSDB copy, synchronized by
	// flooding records through the event queue.
	Distributed
)

func (k Kind) String() string {
	if k == Distributed {
		return "distributed"
	}
	return "global"
}

// ParseKind parses an OSPF mode name as used in configuration files.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "global":
		return Global, nil
	case "distributed":
		return Distributed, nil
	default:
		return 0, fmt.Errorf("ospf: unknown mode %q", s)
	}
}

// Area is an OSPF area identifier. Area 0 is the backbone.
type Area uint32

// Backbone is area 0.
const Backbone Area = 0

// LinkKey identifies a directed link.
type LinkKey struct {
	From route.Rid
	To   route.Rid
}

// LinkState is one directed-link record: the unit of LSDB content and of
// flooding. A +Inf weight marks the link as unusable without removing the
// record, so the withdrawal itself still floods.
type LinkState struct {
	From   route.Rid
	To     route.Rid
	Area   Area
	Weight float64
}

// Key returns the directed-link key of the record.
func (ls LinkState) Key() LinkKey {
	return LinkKey{From: ls.From, To: ls.To}
}

type linkStateJSON struct {
	From   route.Rid `json:"from"`
	To     route.Rid `json:"to"`
	Area   Area      `json:"area"`
	Weight string    `json:"weight"`
}

// MarshalJSON renders the weight as a string so +Inf survives the trip.
func (ls LinkState) MarshalJSON() ([]byte, error) {
	return json.Marshal(linkStateJSON{
		From:   ls.From,
		To:     ls.To,
		Area:   ls.Area,
		Weight: strconv.FormatFloat(ls.Weight, 'g', -1, 64),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (ls *LinkState) UnmarshalJSON(data []byte) error {
	var raw linkStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w, err := strconv.ParseFloat(raw.Weight, 64)
	if err != nil {
		return fmt.Errorf("ospf: link weight %q: %w", raw.Weight, err)
	}
	*ls = LinkState{From: raw.From, To: raw.To, Area: raw.Area, Weight: w}
	return nil
}

// Lsdb is a link-state database: the set of directed-link records a router
// (or, in global mode, the network) currently believes in.
type Lsdb struct {
	links map[LinkKey]LinkState
}

// NewLsdb returns an empty database.
func NewLsdb() *Lsdb {
	return &Lsdb{links: make(map[LinkKey]LinkState)}
}

// Apply upserts a record and reports whether the database changed. Flooding
// stops at routers whose database already holds the record.
func (db *Lsdb) Apply(ls LinkState) bool {
	old, ok := db.links[ls.Key()]
	if ok && old == ls {
		return false
	}
	db.links[ls.Key()] = ls
	return true
}

// Get returns the record for a directed link.
func (db *Lsdb) Get(from, to route.Rid) (LinkState, bool) {
	ls, ok := db.links[LinkKey{From: from, To: to}]
	return ls, ok
}

// Remove deletes the record for a directed link.
func (db *Lsdb) Remove(from, to route.Rid) {
	delete(db.links, LinkKey{From: from, To: to})
}

// Clone returns a deep copy.
func (db *Lsdb) Clone() *Lsdb {
	c := NewLsdb()
	for k, v := range db.links {
		c.links[k] = v
	}
	return c
}

// Links returns all records sorted by (from, to) for deterministic
// iteration and serialization.
func (db *Lsdb) Links() []LinkState {
	out := make([]LinkState, 0, len(db.links))
	for _, ls := range db.links {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// MarshalJSON serializes the sorted record list.
func (db *Lsdb) MarshalJSON() ([]byte, error) {
	return json.Marshal(db.Links())
}

// UnmarshalJSON implements json.Unmarshaler.
func (db *Lsdb) UnmarshalJSON(data []byte) error {
	var links []LinkState
	if err := json.Unmarshal(data, &links); err != nil {
		return err
	}
	db.links = make(map[LinkKey]LinkState, len(links))
	for _, ls := range links {
		db.links[ls.Key()] = ls
	}
	return nil
}

// NextHops is the IGP result for one (source, destination) pair: the
// shortest-path cost and the set of first-hop neighbors realizing it.
type NextHops struct {
	Cost float64
	Hops []route.Rid // sorted
}

// Unreachable reports whether no finite-cost path exists.
func (n NextHops) Unreachable() bool {
	return math.IsInf(n.Cost, 1)
}
