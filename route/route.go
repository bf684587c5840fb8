// Package route defines BGP route records, the decision-process ordering,
// and route-map evaluation.
package route

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nsg-ethz/bgpsim/prefix"
)

// Rid uniquely identifies a router or external router within one network.
// Rid 0 is never allocated and marks "no router".
type Rid uint32

func (r Rid) String() string { return strconv.FormatUint(uint64(r), 10) }

// AsN is an autonomous-system number.
type AsN uint32

// Origin is the BGP origin attribute. The decision process prefers lower
// values: IGP < EGP < Incomplete.
type Origin uint8

const (
	OriginIgp Origin = iota
	OriginEgp
	OriginIncomplete
)

func (o Origin) String() string {
	switch o {
	case OriginIgp:
		return "IGP"
	case OriginEgp:
		return "EGP"
	case OriginIncomplete:
		return "INCOMPLETE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(o))
	}
}

// Community is an opaque route tag, rendered "hi:lo" like standard BGP
// communities.
type Community uint32

func (c Community) String() string {
	return fmt.Sprintf("%d:%d", uint32(c)>>16, uint32(c)&0xffff)
}

// ParseCommunity parses "hi:lo" or a plain decimal tag.
func ParseCommunity(s string) (Community, error) {
	if hi, lo, ok := strings.Cut(s, ":"); ok {
		h, err := strconv.ParseUint(hi, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("route: community %q: %w", s, err)
		}
		l, err := strconv.ParseUint(lo, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("route: community %q: %w", s, err)
		}
		return Community(h<<16 | l), nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("route: community %q: %w", s, err)
	}
	return Community(v), nil
}

// DefaultLocalPref is the local-preference assumed when an advertisement
// carries none.
const DefaultLocalPref uint32 = 100

// Route is a BGP route record as held in a RIB.
type Route struct {
	Prefix      prefix.Prefix `json:"prefix"`
	Path        []AsN         `json:"path,omitempty"` // leftmost = most recent
	NextHop     Rid           `json:"next_hop"`
	LocalPref   uint32        `json:"local_pref"`
	Med         uint32        `json:"med"`
	Origin      Origin        `json:"origin"`
	Communities []Community   `json:"communities,omitempty"` // sorted, unique
	Weight      uint32        `json:"weight"`

	// Route-reflection attributes. OriginatorID 0 means unset.
	OriginatorID Rid   `json:"originator_id,omitempty"`
	ClusterList  []Rid `json:"cluster_list,omitempty"`

	// IgpCost, when non-nil, overrides the IGP cost to the next hop in the
	// decision process. Set by route-maps.
	IgpCost *float64 `json:"igp_cost,omitempty"`
}

// Clone returns a deep copy. Routes in RIBs are never shared mutably; every
// propagation step works on its own copy.
func (r *Route) Clone() *Route {
	c := *r
	c.Path = slices.Clone(r.Path)
	c.Communities = slices.Clone(r.Communities)
	c.ClusterList = slices.Clone(r.ClusterList)
	if r.IgpCost != nil {
		v := *r.IgpCost
		c.IgpCost = &v
	}
	return &c
}

// Equal reports field-wise equality. Used to decide whether a changed
// selection needs re-advertising.
func (r *Route) Equal(o *Route) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.Prefix != o.Prefix || r.NextHop != o.NextHop ||
		r.LocalPref != o.LocalPref || r.Med != o.Med ||
		r.Origin != o.Origin || r.Weight != o.Weight ||
		r.OriginatorID != o.OriginatorID {
		return false
	}
	if !slices.Equal(r.Path, o.Path) || !slices.Equal(r.Communities, o.Communities) ||
		!slices.Equal(r.ClusterList, o.ClusterList) {
		return false
	}
	switch {
	case r.IgpCost == nil && o.IgpCost == nil:
	case r.IgpCost != nil && o.IgpCost != nil && *r.IgpCost == *o.IgpCost:
	default:
		return false
	}
	return true
}

// HasAsLoop reports whether asn appears anywhere in the AS path.
func (r *Route) HasAsLoop(asn AsN) bool {
	return slices.Contains(r.Path, asn)
}

// PrependPath prepends asns on the left of the AS path.
func (r *Route) PrependPath(asns ...AsN) {
	r.Path = append(slices.Clone(asns), r.Path...)
}

// PathString renders the AS path as space-separated numbers, leftmost first.
func (r *Route) PathString() string {
	parts := make([]string, len(r.Path))
	for i, as := range r.Path {
		parts[i] = strconv.FormatUint(uint64(as), 10)
	}
	return strings.Join(parts, " ")
}

// LeftmostAs returns the most recent AS on the path, or 0 for an empty path.
// The MED tie-break only applies between routes with equal leftmost AS.
func (r *Route) LeftmostAs() AsN {
	if len(r.Path) == 0 {
		return 0
	}
	return r.Path[0]
}

// HasCommunity reports whether the route carries tag c.
func (r *Route) HasCommunity(c Community) bool {
	_, ok := slices.BinarySearch(r.Communities, c)
	return ok
}

// AddCommunity inserts c, keeping the set sorted and unique.
func (r *Route) AddCommunity(c Community) {
	if i, ok := slices.BinarySearch(r.Communities, c); !ok {
		r.Communities = slices.Insert(r.Communities, i, c)
	}
}

// RemoveCommunity deletes c if present.
func (r *Route) RemoveCommunity(c Community) {
	if i, ok := slices.BinarySearch(r.Communities, c); ok {
		r.Communities = slices.Delete(r.Communities, i, i+1)
	}
}
