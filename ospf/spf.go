package ospf

import (
	"math"
	"slices"
	"sort"

	"github.com/nsg-ethz/bgpsim/route"
)

// areaGraph is the weighted directed graph of one area, with all-pairs
// shortest distances. Networks are small enough that Floyd-Warshall keeps
// the code simple and handles zero-weight links without the equal-cost
// bookkeeping a settled-node Dijkstra would need.
//
// External routers appear as graph endpoints (their links carry real
// weights and BGP next-hop resolution must reach them) but only OSPF
// members are eligible as transit vertices: externals participate through
// EBGP sessions only and never forward between two other routers.
type areaGraph struct {
	nodes  []route.Rid
	index  map[route.Rid]int
	member map[route.Rid]bool
	w      map[LinkKey]float64
	dist   [][]float64
}

func (db *Lsdb) areaGraphs(members map[route.Rid]bool) map[Area]*areaGraph {
	graphs := make(map[Area]*areaGraph)
	for _, ls := range db.Links() {
		g := graphs[ls.Area]
		if g == nil {
			g = &areaGraph{index: make(map[route.Rid]int), member: members, w: make(map[LinkKey]float64)}
			graphs[ls.Area] = g
		}
		for _, r := range []route.Rid{ls.From, ls.To} {
			if _, ok := g.index[r]; !ok {
				g.index[r] = len(g.nodes)
				g.nodes = append(g.nodes, r)
			}
		}
		if !math.IsInf(ls.Weight, 1) {
			g.w[ls.Key()] = ls.Weight
		}
	}
	for _, g := range graphs {
		g.computeDist()
	}
	return graphs
}

func (g *areaGraph) computeDist() {
	n := len(g.nodes)
	g.dist = make([][]float64, n)
	for i := range g.dist {
		g.dist[i] = make([]float64, n)
		for j := range g.dist[i] {
			if i != j {
				g.dist[i][j] = math.Inf(1)
			}
		}
	}
	for k, w := range g.w {
		i, j := g.index[k.From], g.index[k.To]
		if w < g.dist[i][j] {
			g.dist[i][j] = w
		}
	}
	for k := 0; k < n; k++ {
		if !g.member[g.nodes[k]] {
			continue // non-members never relay traffic
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if d := g.dist[i][k] + g.dist[k][j]; d < g.dist[i][j] {
					g.dist[i][j] = d
				}
			}
		}
	}
}

func (g *areaGraph) has(r route.Rid) bool {
	_, ok := g.index[r]
	return ok
}

func (g *areaGraph) d(a, b route.Rid) float64 {
	i, ok1 := g.index[a]
	j, ok2 := g.index[b]
	if !ok1 || !ok2 {
		return math.Inf(1)
	}
	return g.dist[i][j]
}

// firstHops returns the neighbors of src that lie on a shortest path to
// dst, sorted. Empty when dst is unreachable or equals src. A non-member
// neighbor qualifies only when it is the destination itself; it never
// starts a longer path.
func (g *areaGraph) firstHops(src, dst route.Rid) []route.Rid {
	total := g.d(src, dst)
	if src == dst || math.IsInf(total, 1) {
		return nil
	}
	var hops []route.Rid
	for k, w := range g.w {
		if k.From != src {
			continue
		}
		if k.To != dst && !g.member[k.To] {
			continue
		}
		if w+g.d(k.To, dst) == total {
			hops = append(hops, k.To)
		}
	}
	slices.Sort(hops)
	return slices.Compact(hops)
}

// spfCandidate is one way of reaching a destination: a cost and the local
// first hops realizing it.
type spfCandidate struct {
	cost float64
	hops []route.Rid
}

func mergeCandidates(cands []spfCandidate) (NextHops, bool) {
	best := math.Inf(1)
	for _, c := range cands {
		if c.cost < best {
			best = c.cost
		}
	}
	if math.IsInf(best, 1) {
		return NextHops{Cost: best}, false
	}
	var hops []route.Rid
	for _, c := range cands {
		if c.cost == best {
			hops = append(hops, c.hops...)
		}
	}
	slices.Sort(hops)
	return NextHops{Cost: best, Hops: slices.Compact(hops)}, true
}

// routesFor computes the full IGP table for each listed source from this
// database. Intra-area routes dominate inter-area ones; inter-area costs go
// through area border routers with summaries propagated across the
// backbone. members are the OSPF-running routers; only they relay traffic
// or act as ABRs.
func (db *Lsdb) routesFor(sources []route.Rid, members map[route.Rid]bool) map[route.Rid]map[route.Rid]NextHops {
	graphs := db.areaGraphs(members)

	areas := make([]Area, 0, len(graphs))
	for a := range graphs {
		areas = append(areas, a)
	}
	sort.Slice(areas, func(i, j int) bool { return areas[i] < areas[j] })

	var allNodes []route.Rid
	for _, a := range areas {
		allNodes = append(allNodes, graphs[a].nodes...)
	}
	slices.Sort(allNodes)
	allNodes = slices.Compact(allNodes)

	bb := graphs[Backbone]

	// summary returns the cost from a backbone router y to dst, using the
	// cheapest combination of backbone distance to an ABR and that ABR's
	// intra-area distance to dst in dst's own area.
	summary := func(y, dst route.Rid) float64 {
		if bb == nil {
			return math.Inf(1)
		}
		best := bb.d(y, dst)
		for _, a := range areas {
			if a == Backbone {
				continue
			}
			g := graphs[a]
			if !g.has(dst) {
				continue
			}
			for _, x := range g.nodes {
				if !bb.has(x) || !members[x] {
					continue // only members serve as ABRs
				}
				if c := bb.d(y, x) + g.d(x, dst); c < best {
					best = c
				}
			}
		}
		return best
	}

	tables := make(map[route.Rid]map[route.Rid]NextHops, len(sources))
	for _, src := range sources {
		rows := make(map[route.Rid]NextHops)
		rows[src] = NextHops{Cost: 0}

		var myAreas []Area
		for _, a := range areas {
			if graphs[a].has(src) {
				myAreas = append(myAreas, a)
			}
		}

		for _, dst := range allNodes {
			if dst == src {
				continue
			}

			// Intra-area first.
			var intra []spfCandidate
			for _, a := range myAreas {
				g := graphs[a]
				if c := g.d(src, dst); !math.IsInf(c, 1) {
					intra = append(intra, spfCandidate{cost: c, hops: g.firstHops(src, dst)})
				}
			}
			if nh, ok := mergeCandidates(intra); ok {
				rows[dst] = nh
				continue
			}

			// Inter-area through the backbone.
			var inter []spfCandidate
			if bb != nil && bb.has(src) {
				if c := summary(src, dst); !math.IsInf(c, 1) {
					inter = append(inter, spfCandidate{cost: c, hops: db.summaryHops(graphs, areas, bb, src, dst, c)})
				}
			} else if bb != nil {
				for _, a1 := range myAreas {
					g1 := graphs[a1]
					for _, y := range g1.nodes {
						if y == src || !bb.has(y) || !members[y] {
							continue
						}
						base := g1.d(src, y)
						if math.IsInf(base, 1) {
							continue
						}
						if c := summary(y, dst); !math.IsInf(c, 1) {
							inter = append(inter, spfCandidate{cost: base + c, hops: g1.firstHops(src, y)})
						}
					}
				}
			}
			if nh, ok := mergeCandidates(inter); ok {
				rows[dst] = nh
			}
		}
		tables[src] = rows
	}
	return tables
}

// summaryHops derives the backbone first hops for a backbone source whose
// route to dst costs total: the union of first hops toward every ABR (or
// dst itself) participating in a minimal combination.
func (db *Lsdb) summaryHops(graphs map[Area]*areaGraph, areas []Area, bb *areaGraph, src, dst route.Rid, total float64) []route.Rid {
	var hops []route.Rid
	if bb.d(src, dst) == total {
		hops = append(hops, bb.firstHops(src, dst)...)
	}
	for _, a := range areas {
		if a == Backbone {
			continue
		}
		g := graphs[a]
		if !g.has(dst) {
			continue
		}
		for _, x := range g.nodes {
			if !bb.has(x) || x == src || !bb.member[x] {
				continue
			}
			if bb.d(src, x)+g.d(x, dst) == total {
				hops = append(hops, bb.firstHops(src, x)...)
			}
		}
	}
	slices.Sort(hops)
	return slices.Compact(hops)
}
