package network

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nsg-ethz/bgpsim/prefix"
	"github.com/nsg-ethz/bgpsim/route"
)

// squareNet is the ECMP topology of S3: a–b, a–c, b–d, c–d with unit
// weights, an external router behind d, and IBGP peerings from d to the
// other internals.
type squareNet struct {
	n             *Network
	a, b, c, d, e route.Rid
}

func buildSquare(t *testing.T) *squareNet {
	t.Helper()
	n := New(Config{PrefixKind: prefix.Simple})
	s := &squareNet{n: n}
	s.a, _ = n.AddRouter("a")
	s.b, _ = n.AddRouter("b")
	s.c, _ = n.AddRouter("c")
	s.d, _ = n.AddRouter("d")
	var err error
	if s.e, err = n.AddExternalRouter("e", 7); err != nil {
		t.Fatalf("AddExternalRouter: %v", err)
	}
	for _, pair := range [][2]route.Rid{{s.a, s.b}, {s.a, s.c}, {s.b, s.d}, {s.c, s.d}, {s.d, s.e}} {
		if err := n.AddLink(pair[0], pair[1]); err != nil {
			t.Fatalf("AddLink: %v", err)
		}
	}
	ebgp, ibgp := EBgp, IBgpPeer
	if err := n.SetBgpSession(s.e, s.d, &ebgp); err != nil {
		t.Fatalf("SetBgpSession: %v", err)
	}
	for _, r := range []route.Rid{s.a, s.b, s.c} {
		if err := n.SetBgpSession(s.d, r, &ibgp); err != nil {
			t.Fatalf("SetBgpSession: %v", err)
		}
	}
	return s
}

// S3: b and c are equidistant from a toward d, so the OSPF next-hop set
// has two members and path tracing forks.
func TestEcmpPaths(t *testing.T) {
	s := buildSquare(t)
	p := prefix.MustParse("100.0.0.0/8")

	nh, ok := s.n.Igp().NextHops(s.a, s.d)
	if !ok {
		t.Fatalf("no IGP row for (a,d)")
	}
	if diff := cmp.Diff([]route.Rid{s.b, s.c}, nh.Hops); diff != "" {
		t.Fatalf("ospf_next_hops(a,d) (-want +got):\n%s", diff)
	}

	if err := s.n.AdvertiseExternalRoute(s.e, p, []route.AsN{7}, nil, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if err := s.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	paths, err := s.n.GetPaths(s.a, p)
	if err != nil {
		t.Fatalf("GetPaths: %v", err)
	}
	want := [][]route.Rid{
		{s.a, s.b, s.d, s.e},
		{s.a, s.c, s.d, s.e},
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("ECMP paths (-want +got):\n%s", diff)
	}

	// The forwarding snapshot exposes both next hops at a.
	fs, err := s.n.ForwardingState()
	if err != nil {
		t.Fatalf("ForwardingState: %v", err)
	}
	entry, ok := fs.Entry(s.a, p)
	if !ok {
		t.Fatalf("no forwarding entry at a")
	}
	if diff := cmp.Diff([]route.Rid{s.b, s.c}, entry.NextHops); diff != "" {
		t.Errorf("forwarding next hops (-want +got):\n%s", diff)
	}
}

func TestPathEnumerationBound(t *testing.T) {
	s := buildSquare(t)
	s.n.cfg.MaxPaths = 1
	p := prefix.MustParse("100.0.0.0/8")
	if err := s.n.AdvertiseExternalRoute(s.e, p, []route.AsN{7}, nil, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if err := s.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if _, err := s.n.GetPaths(s.a, p); !errors.Is(err, ErrTruncated) {
		t.Errorf("GetPaths error = %v, want ErrTruncated", err)
	}
}

// Two routers whose selections point at each other: the tracer must
// report the loop instead of recursing forever.
func TestForwardingLoopDetection(t *testing.T) {
	n := New(Config{PrefixKind: prefix.Simple})
	x, _ := n.AddRouter("x")
	y, _ := n.AddRouter("y")
	if err := n.AddLink(x, y); err != nil {
		t.Fatalf("AddLink: %v", err)
	}

	p := prefix.MustParse("100.0.0.0/8")
	n.routers[x].locRib.Insert(p, &selection{Route: &route.Route{Prefix: p, NextHop: y}, Peer: y})
	n.routers[y].locRib.Insert(p, &selection{Route: &route.Route{Prefix: p, NextHop: x}, Peer: x})

	if _, err := n.GetPaths(x, p); !errors.Is(err, ErrForwardingLoop) {
		t.Errorf("GetPaths error = %v, want ErrForwardingLoop", err)
	}
}

func TestBlackHoleOnUnreachableNextHop(t *testing.T) {
	n := New(Config{PrefixKind: prefix.Simple})
	x, _ := n.AddRouter("x")
	p := prefix.MustParse("100.0.0.0/8")
	n.routers[x].locRib.Insert(p, &selection{Route: &route.Route{Prefix: p, NextHop: 99}, Peer: 99})

	if _, err := n.GetPaths(x, p); !errors.Is(err, ErrBlackHole) {
		t.Errorf("GetPaths error = %v, want ErrBlackHole", err)
	}
}

// An external router linked to two internal routers must not act as IGP
// transit between them: externals participate through EBGP sessions only.
func TestExternalRouterIsNotIgpTransit(t *testing.T) {
	n := New(Config{PrefixKind: prefix.Simple})
	x, _ := n.AddRouter("x")
	y, _ := n.AddRouter("y")
	e, err := n.AddExternalRouter("e", 7)
	if err != nil {
		t.Fatalf("AddExternalRouter: %v", err)
	}
	// x and y are connected only through e.
	for _, pair := range [][2]route.Rid{{x, e}, {y, e}} {
		if err := n.AddLink(pair[0], pair[1]); err != nil {
			t.Fatalf("AddLink: %v", err)
		}
	}
	ebgp := EBgp
	for _, r := range []route.Rid{x, y} {
		if err := n.SetBgpSession(e, r, &ebgp); err != nil {
			t.Fatalf("SetBgpSession: %v", err)
		}
	}

	if n.Igp().Reachable(x, y) || n.Igp().Reachable(y, x) {
		t.Fatalf("internal routers reachable through an external transit hop")
	}
	// The external stays a valid endpoint for direct resolution.
	nh, ok := n.Igp().NextHops(x, e)
	if !ok || nh.Cost != 1 {
		t.Fatalf("x→e = %+v, %v, want cost 1", nh, ok)
	}

	p := prefix.MustParse("100.0.0.0/8")
	if err := n.AdvertiseExternalRoute(e, p, []route.AsN{7}, nil, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if err := n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	paths, err := n.GetPaths(x, p)
	if err != nil {
		t.Fatalf("GetPaths: %v", err)
	}
	want := [][]route.Rid{{x, e}}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("paths from x (-want +got):\n%s", diff)
	}
}

func TestForwardingStateRequiresDrainedQueue(t *testing.T) {
	n := New(Config{PrefixKind: prefix.Simple})
	e0, _ := n.AddExternalRouter("e0", 1)
	b0, _ := n.AddRouter("b0")
	if err := n.AddLink(e0, b0); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	typ := EBgp
	if err := n.SetBgpSession(e0, b0, &typ); err != nil {
		t.Fatalf("SetBgpSession: %v", err)
	}
	if err := n.AdvertiseExternalRoute(e0, prefix.MustParse("10.0.0.0/8"), []route.AsN{1}, nil, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}

	if _, err := n.ForwardingState(); !errors.Is(err, ErrPendingEvents) {
		t.Errorf("ForwardingState error = %v, want ErrPendingEvents", err)
	}
	if err := n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if _, err := n.ForwardingState(); err != nil {
		t.Errorf("ForwardingState after drain: %v", err)
	}
}

// Forwarding soundness: every traced link has a finite OSPF weight in the
// current database.
func TestPathsTraverseOnlyFiniteLinks(t *testing.T) {
	s := buildSquare(t)
	p := prefix.MustParse("100.0.0.0/8")
	if err := s.n.AdvertiseExternalRoute(s.e, p, []route.AsN{7}, nil, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if err := s.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	paths, err := s.n.GetPaths(s.a, p)
	if err != nil {
		t.Fatalf("GetPaths: %v", err)
	}
	for _, path := range paths {
		for i := 0; i+1 < len(path); i++ {
			rec, ok := s.n.Igp().Auth().Get(path[i], path[i+1])
			if !ok {
				t.Errorf("path uses nonexistent link %v→%v", path[i], path[i+1])
				continue
			}
			if rec.Weight < 0 || math.IsNaN(rec.Weight) || math.IsInf(rec.Weight, 1) {
				t.Errorf("path uses unusable link %v→%v (weight %v)", path[i], path[i+1], rec.Weight)
			}
		}
	}
}

// Raising the weight of one ECMP leg prunes the corresponding path.
func TestLinkWeightChangeReconverges(t *testing.T) {
	s := buildSquare(t)
	p := prefix.MustParse("100.0.0.0/8")
	if err := s.n.AdvertiseExternalRoute(s.e, p, []route.AsN{7}, nil, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if err := s.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	if err := s.n.SetLinkWeight(s.a, s.b, 10); err != nil {
		t.Fatalf("SetLinkWeight: %v", err)
	}
	if err := s.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	paths, err := s.n.GetPaths(s.a, p)
	if err != nil {
		t.Fatalf("GetPaths: %v", err)
	}
	want := [][]route.Rid{{s.a, s.c, s.d, s.e}}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("paths after reweighting (-want +got):\n%s", diff)
	}
}
