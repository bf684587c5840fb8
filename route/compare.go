package route

// Candidate is a RIB-In entry as seen by the decision process: the route
// plus the session facts the tie-breaks depend on.
type Candidate struct {
	Route    *Route
	Peer     Rid // neighbor the route was learned from
	FromEbgp bool
	IgpCost  float64 // cost to the route's next hop
}

func (c Candidate) igpCost() float64 {
	if c.Route.IgpCost != nil {
		return *c.Route.IgpCost
	}
	return c.IgpCost
}

func (c Candidate) originator() Rid {
	if c.Route.OriginatorID != 0 {
		return c.Route.OriginatorID
	}
	return c.Peer
}

// BetterThan reports whether c wins the decision process against o. The
// tie-break sequence, earlier criteria dominating:
//
//  1. higher weight
//  2. higher local-preference
//  3. shorter AS path
//  4. lower origin (IGP < EGP < Incomplete)
//  5. lower MED, only between routes with the same leftmost AS
//  6. EBGP-learned over IBGP-learned
//  7. lower IGP cost to next hop
//  8. lower originator-id (neighbor Rid if absent)
//  9. shorter cluster list
// 10. lower neighbor Rid
//
// Rid uniqueness per peer makes the order total: two distinct candidates
// never compare equal.
func (c Candidate) BetterThan(o Candidate) bool {
	if c.Route.Weight != o.Route.Weight {
		return c.Route.Weight > o.Route.Weight
	}
	if c.Route.LocalPref != o.Route.LocalPref {
		return c.Route.LocalPref > o.Route.LocalPref
	}
	if len(c.Route.Path) != len(o.Route.Path) {
		return len(c.Route.Path) < len(o.Route.Path)
	}
	if c.Route.Origin != o.Route.Origin {
		return c.Route.Origin < o.Route.Origin
	}
	if c.Route.LeftmostAs() == o.Route.LeftmostAs() && c.Route.Med != o.Route.Med {
		return c.Route.Med < o.Route.Med
	}
	if c.FromEbgp != o.FromEbgp {
		return c.FromEbgp
	}
	if c.igpCost() != o.igpCost() {
		return c.igpCost() < o.igpCost()
	}
	if c.originator() != o.originator() {
		return c.originator() < o.originator()
	}
	if len(c.Route.ClusterList) != len(o.Route.ClusterList) {
		return len(c.Route.ClusterList) < len(o.Route.ClusterList)
	}
	return c.Peer < o.Peer
}

// Best returns the winner among candidates, or a zero Candidate and false
// when the slice is empty.
func Best(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.BetterThan(best) {
			best = c
		}
	}
	return best, true
}
