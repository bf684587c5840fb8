package ospf

import (
	"math"

	"github.com/nsg-ethz/bgpsim/route"
)

// Flood is a link-state record to deliver to one neighbor. The engine
// wraps floods into queue events; this package never touches the queue.
type Flood struct {
	Src    route.Rid
	Dst    route.Rid
	Record LinkState
}

// Instance coordinates link-state propagation and the per-router IGP
// tables. In global mode all tables derive from the single authoritative
// database; in distributed mode each router's table derives from its own
// copy, synchronized by floods.
type Instance struct {
	kind Kind
	auth *Lsdb
	// local holds per-router database copies; populated in distributed
	// mode only.
	local map[route.Rid]*Lsdb
	// tables maps source router to destination rows.
	tables map[route.Rid]map[route.Rid]NextHops
	// members are the internal routers running OSPF, in insertion order.
	members []route.Rid
}

// New creates an instance of the given kind.
func New(kind Kind) *Instance {
	return &Instance{
		kind:   kind,
		auth:   NewLsdb(),
		local:  make(map[route.Rid]*Lsdb),
		tables: make(map[route.Rid]map[route.Rid]NextHops),
	}
}

// Kind returns the propagation mode.
func (o *Instance) Kind() Kind { return o.kind }

// Auth exposes the authoritative database (for serialization).
func (o *Instance) Auth() *Lsdb { return o.auth }

// Local exposes a router's database copy, or the authoritative one in
// global mode.
func (o *Instance) Local(r route.Rid) *Lsdb {
	if o.kind == Global {
		return o.auth
	}
	return o.local[r]
}

// Members returns the internal routers running OSPF.
func (o *Instance) Members() []route.Rid {
	out := make([]route.Rid, len(o.members))
	copy(out, o.members)
	return out
}

// AddRouter registers an internal router. In distributed mode the router
// starts with a copy of the authoritative database.
func (o *Instance) AddRouter(r route.Rid) {
	o.members = append(o.members, r)
	if o.kind == Distributed {
		o.local[r] = o.auth.Clone()
	}
	o.tables[r] = map[route.Rid]NextHops{r: {Cost: 0}}
	o.recompute(r)
}

// SetLink applies a link-state change at its endpoints. In global mode all
// tables are rebuilt atomically and no floods are produced; in distributed
// mode the internal endpoints learn the record immediately and flood it to
// their OSPF neighbors.
func (o *Instance) SetLink(rec LinkState, neighbors func(route.Rid) []route.Rid) []Flood {
	if !o.auth.Apply(rec) {
		return nil
	}
	if o.kind == Global {
		o.recomputeAll()
		return nil
	}

	var floods []Flood
	for _, end := range []route.Rid{rec.From, rec.To} {
		db, ok := o.local[end]
		if !ok {
			continue // external endpoints do not run OSPF
		}
		if !db.Apply(rec) {
			continue
		}
		o.recompute(end)
		for _, n := range neighbors(end) {
			floods = append(floods, Flood{Src: end, Dst: n, Record: rec})
		}
	}

	// A new adjacency also synchronizes the databases of its endpoints,
	// so records from before the link existed reach the other side.
	if _, fromInternal := o.local[rec.From]; fromInternal {
		if _, toInternal := o.local[rec.To]; toInternal {
			for _, pair := range [][2]route.Rid{{rec.From, rec.To}, {rec.To, rec.From}} {
				for _, ls := range o.local[pair[0]].Links() {
					if ls == rec {
						continue
					}
					floods = append(floods, Flood{Src: pair[0], Dst: pair[1], Record: ls})
				}
			}
		}
	}
	return floods
}

// HandleLsa merges a flooded record into the receiver's database. When the
// record is new the receiver recomputes its table and re-floods; a record
// already present stops the flood.
func (o *Instance) HandleLsa(at route.Rid, rec LinkState, neighbors func(route.Rid) []route.Rid) []Flood {
	db, ok := o.local[at]
	if !ok {
		return nil
	}
	if !db.Apply(rec) {
		return nil
	}
	o.recompute(at)
	var floods []Flood
	for _, n := range neighbors(at) {
		if n == rec.From {
			continue
		}
		floods = append(floods, Flood{Src: at, Dst: n, Record: rec})
	}
	return floods
}

// NextHops returns the IGP row for (src, dst).
func (o *Instance) NextHops(src, dst route.Rid) (NextHops, bool) {
	rows, ok := o.tables[src]
	if !ok {
		return NextHops{Cost: math.Inf(1)}, false
	}
	nh, ok := rows[dst]
	if !ok {
		return NextHops{Cost: math.Inf(1)}, false
	}
	return nh, true
}

// Cost returns the shortest-path cost from src to dst, +Inf when
// unreachable.
func (o *Instance) Cost(src, dst route.Rid) float64 {
	nh, ok := o.NextHops(src, dst)
	if !ok {
		return math.Inf(1)
	}
	return nh.Cost
}

// Reachable reports whether dst has a finite-cost path from src.
func (o *Instance) Reachable(src, dst route.Rid) bool {
	return !math.IsInf(o.Cost(src, dst), 1)
}

func (o *Instance) memberSet() map[route.Rid]bool {
	set := make(map[route.Rid]bool, len(o.members))
	for _, r := range o.members {
		set[r] = true
	}
	return set
}

func (o *Instance) recompute(r route.Rid) {
	db := o.auth
	if o.kind == Distributed {
		db = o.local[r]
	}
	for src, rows := range db.routesFor([]route.Rid{r}, o.memberSet()) {
		o.tables[src] = rows
	}
}

func (o *Instance) recomputeAll() {
	members := o.memberSet()
	for src, rows := range o.auth.routesFor(o.members, members) {
		o.tables[src] = rows
	}
}

// Restore rebuilds all tables from the current databases. Used after
// deserialization, where only the databases travel.
func (o *Instance) Restore(auth *Lsdb, local map[route.Rid]*Lsdb, members []route.Rid) {
	o.auth = auth
	o.members = members
	if o.kind == Distributed {
		o.local = local
		for _, r := range members {
			if _, ok := o.local[r]; !ok {
				o.local[r] = auth.Clone()
			}
		}
		for _, r := range members {
			o.recompute(r)
		}
		return
	}
	o.recomputeAll()
}
