package network

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nsg-ethz/bgpsim/prefix"
	"github.com/nsg-ethz/bgpsim/route"
)

// lineNet is the chain e0–b0–r0–r1–b1–e1 with unit weights, EBGP at the
// edges, r0/r1 as route reflectors for their border routers, and an IBGP
// peering between the reflectors.
type lineNet struct {
	n                      *Network
	e0, b0, r0, r1, b1, e1 route.Rid
}

func buildLine(t *testing.T, kind prefix.Kind) *lineNet {
	t.Helper()
	n := New(Config{PrefixKind: kind})
	l := &lineNet{n: n}

	var err error
	if l.e0, err = n.AddExternalRouter("e0", 1); err != nil {
		t.Fatalf("AddExternalRouter(e0): %v", err)
	}
	if l.b0, err = n.AddRouter("b0"); err != nil {
		t.Fatalf("AddRouter(b0): %v", err)
	}
	if l.r0, err = n.AddRouter("r0"); err != nil {
		t.Fatalf("AddRouter(r0): %v", err)
	}
	if l.r1, err = n.AddRouter("r1"); err != nil {
		t.Fatalf("AddRouter(r1): %v", err)
	}
	if l.b1, err = n.AddRouter("b1"); err != nil {
		t.Fatalf("AddRouter(b1): %v", err)
	}
	if l.e1, err = n.AddExternalRouter("e1", 2); err != nil {
		t.Fatalf("AddExternalRouter(e1): %v", err)
	}

	for _, pair := range [][2]route.Rid{{l.e0, l.b0}, {l.b0, l.r0}, {l.r0, l.r1}, {l.r1, l.b1}, {l.b1, l.e1}} {
		if err := n.AddLink(pair[0], pair[1]); err != nil {
			t.Fatalf("AddLink: %v", err)
		}
	}

	session := func(a, b route.Rid, typ SessionType) {
		t.Helper()
		if err := n.SetBgpSession(a, b, &typ); err != nil {
			t.Fatalf("SetBgpSession(%v,%v,%v): %v", a, b, typ, err)
		}
	}
	session(l.e0, l.b0, EBgp)
	session(l.r0, l.b0, IBgpClient)
	session(l.r0, l.r1, IBgpPeer)
	session(l.r1, l.b1, IBgpClient)
	session(l.e1, l.b1, EBgp)

	return l
}

func (l *lineNet) pathNames(t *testing.T, src route.Rid, p prefix.Prefix) [][]string {
	t.Helper()
	paths, err := l.n.GetPaths(src, p)
	if err != nil {
		t.Fatalf("GetPaths(%s, %s): %v", l.n.Name(src), p, err)
	}
	out := make([][]string, len(paths))
	for i, path := range paths {
		names := make([]string, len(path))
		for j, hop := range path {
			names[j] = l.n.Name(hop)
		}
		out[i] = names
	}
	return out
}

// S1: both externals advertise the prefix, e1 with the shorter AS path.
// Every internal router egresses via b1.
func TestLinearBestPathWithReflection(t *testing.T) {
	l := buildLine(t, prefix.Simple)
	p := prefix.MustParse("100.0.0.0/8")

	if err := l.n.AdvertiseExternalRoute(l.e0, p, []route.AsN{1, 2, 3}, nil, nil); err != nil {
		t.Fatalf("advertise e0: %v", err)
	}
	if err := l.n.AdvertiseExternalRoute(l.e1, p, []route.AsN{2, 3}, nil, nil); err != nil {
		t.Fatalf("advertise e1: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	want := map[route.Rid][][]string{
		l.b0: {{"b0", "r0", "r1", "b1", "e1"}},
		l.r0: {{"r0", "r1", "b1", "e1"}},
		l.r1: {{"r1", "b1", "e1"}},
		l.b1: {{"b1", "e1"}},
	}
	for src, wantPaths := range want {
		got := l.pathNames(t, src, p)
		if diff := cmp.Diff(wantPaths, got); diff != "" {
			t.Errorf("paths from %s (-want +got):\n%s", l.n.Name(src), diff)
		}
	}

	// The selected route carries the shorter path everywhere.
	fs, err := l.n.ForwardingState()
	if err != nil {
		t.Fatalf("ForwardingState: %v", err)
	}
	for _, id := range []route.Rid{l.b0, l.r0, l.r1, l.b1} {
		e, ok := fs.Entry(id, p)
		if !ok {
			t.Fatalf("no forwarding entry at %s", l.n.Name(id))
		}
		if got := e.Route.PathString(); got != "2 3" {
			t.Errorf("%s selected path %q, want \"2 3\"", l.n.Name(id), got)
		}
	}
}

// S2: equal AS paths, the tie is broken by MED (same leftmost AS on both
// advertisements).
func TestTieBrokenByMed(t *testing.T) {
	l := buildLine(t, prefix.Simple)
	p := prefix.MustParse("100.0.0.0/8")

	med10, med5 := uint32(10), uint32(5)
	if err := l.n.AdvertiseExternalRoute(l.e0, p, []route.AsN{1, 2, 3}, &med10, nil); err != nil {
		t.Fatalf("advertise e0: %v", err)
	}
	if err := l.n.AdvertiseExternalRoute(l.e1, p, []route.AsN{1, 2, 3}, &med5, nil); err != nil {
		t.Fatalf("advertise e1: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	got := l.pathNames(t, l.r0, p)
	want := [][]string{{"r0", "r1", "b1", "e1"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("r0 paths (-want +got):\n%s", diff)
	}
	got = l.pathNames(t, l.b0, p)
	want = [][]string{{"b0", "r0", "r1", "b1", "e1"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("b0 paths (-want +got):\n%s", diff)
	}
}

// S2 variant: when the leftmost AS differs, MED is not compared and the
// tie falls through to the later criteria (EBGP over IBGP, then IGP cost),
// so each border router keeps its local egress.
func TestMedDisabledAcrossNeighborAs(t *testing.T) {
	l := buildLine(t, prefix.Simple)
	p := prefix.MustParse("100.0.0.0/8")

	med10, med5 := uint32(10), uint32(5)
	if err := l.n.AdvertiseExternalRoute(l.e0, p, []route.AsN{1, 2, 3}, &med10, nil); err != nil {
		t.Fatalf("advertise e0: %v", err)
	}
	if err := l.n.AdvertiseExternalRoute(l.e1, p, []route.AsN{7, 2, 3}, &med5, nil); err != nil {
		t.Fatalf("advertise e1: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	// b0 is closer to e0 (EBGP beats IBGP before IGP cost even counts);
	// the lower MED of e1 must not pull it over.
	got := l.pathNames(t, l.b0, p)
	want := [][]string{{"b0", "e0"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("b0 paths (-want +got):\n%s", diff)
	}
}

// S4: withdrawing the winning advertisement makes everyone fall back.
func TestWithdrawalPropagation(t *testing.T) {
	l := buildLine(t, prefix.Simple)
	p := prefix.MustParse("100.0.0.0/8")

	if err := l.n.AdvertiseExternalRoute(l.e0, p, []route.AsN{1, 2, 3}, nil, nil); err != nil {
		t.Fatalf("advertise e0: %v", err)
	}
	if err := l.n.AdvertiseExternalRoute(l.e1, p, []route.AsN{2, 3}, nil, nil); err != nil {
		t.Fatalf("advertise e1: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	if err := l.n.WithdrawExternalRoute(l.e1, p); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("Simulate after withdraw: %v", err)
	}

	want := map[route.Rid][][]string{
		l.r0: {{"r0", "b0", "e0"}},
		l.b0: {{"b0", "e0"}},
		l.r1: {{"r1", "r0", "b0", "e0"}},
		l.b1: {{"b1", "r1", "r0", "b0", "e0"}},
	}
	for src, wantPaths := range want {
		got := l.pathNames(t, src, p)
		if diff := cmp.Diff(wantPaths, got); diff != "" {
			t.Errorf("paths from %s (-want +got):\n%s", l.n.Name(src), diff)
		}
	}
}

// S5: hierarchical prefixes resolve per hop with longest-prefix match.
func TestLongestPrefixMatchForwarding(t *testing.T) {
	l := buildLine(t, prefix.IPv4)

	coarse := prefix.MustParse("100.0.0.0/8")
	fine := prefix.MustParse("100.0.0.0/16")
	if err := l.n.AdvertiseExternalRoute(l.e0, coarse, []route.AsN{1}, nil, nil); err != nil {
		t.Fatalf("advertise e0: %v", err)
	}
	if err := l.n.AdvertiseExternalRoute(l.e1, fine, []route.AsN{2}, nil, nil); err != nil {
		t.Fatalf("advertise e1: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	// Inside the /16: the more specific route via e1 wins.
	got := l.pathNames(t, l.r0, prefix.MustParse("100.0.5.0/24"))
	want := [][]string{{"r0", "r1", "b1", "e1"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("paths for 100.0.5.0/24 (-want +got):\n%s", diff)
	}

	// Outside the /16 but inside the /8: the coarse route via e0.
	got = l.pathNames(t, l.r0, prefix.MustParse("100.200.0.0/16"))
	want = [][]string{{"r0", "b0", "e0"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("paths for 100.200.0.0/16 (-want +got):\n%s", diff)
	}
}

// S6: an ingress deny leaves the border RIB-In empty and path tracing
// reports a black hole.
func TestRouteMapDropCausesBlackHole(t *testing.T) {
	l := buildLine(t, prefix.Simple)
	p := prefix.MustParse("100.0.0.0/8")

	tag := route.Community(42)
	rm, err := route.NewRouteMap(route.Clause{
		Order:  10,
		Action: route.Deny,
		Match:  route.Match{Community: &tag},
	})
	if err != nil {
		t.Fatalf("NewRouteMap: %v", err)
	}
	if err := l.n.SetRouteMap(l.b0, l.e0, route.Ingress, rm); err != nil {
		t.Fatalf("SetRouteMap: %v", err)
	}

	if err := l.n.AdvertiseExternalRoute(l.e0, p, []route.AsN{1, 2, 3}, nil, []route.Community{42}); err != nil {
		t.Fatalf("advertise e0: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	b0 := l.n.routers[l.b0]
	if rib, ok := b0.ribIn[l.e0]; ok && rib.Len() != 0 {
		t.Errorf("b0 RIB-In holds %d routes, want none", rib.Len())
	}
	if _, err := l.n.GetPaths(l.b0, p); !errors.Is(err, ErrBlackHole) {
		t.Errorf("GetPaths error = %v, want ErrBlackHole", err)
	}
}

// A route received over a plain IBGP peer session is never re-advertised
// to another IBGP peer.
func TestIbgpNonTransitivity(t *testing.T) {
	n := New(Config{PrefixKind: prefix.Simple})
	e0, _ := n.AddExternalRouter("e0", 1)
	b0, _ := n.AddRouter("b0")
	r0, _ := n.AddRouter("r0")
	r1, _ := n.AddRouter("r1")
	for _, pair := range [][2]route.Rid{{e0, b0}, {b0, r0}, {r0, r1}} {
		if err := n.AddLink(pair[0], pair[1]); err != nil {
			t.Fatalf("AddLink: %v", err)
		}
	}
	for _, s := range []struct {
		a, b route.Rid
		typ  SessionType
	}{{e0, b0, EBgp}, {b0, r0, IBgpPeer}, {r0, r1, IBgpPeer}} {
		typ := s.typ
		if err := n.SetBgpSession(s.a, s.b, &typ); err != nil {
			t.Fatalf("SetBgpSession: %v", err)
		}
	}

	p := prefix.MustParse("100.0.0.0/8")
	if err := n.AdvertiseExternalRoute(e0, p, []route.AsN{1}, nil, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if err := n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	// r0 selected the route over IBGP from b0.
	if _, ok := n.routers[r0].locRib.GetExact(p); !ok {
		t.Fatalf("r0 has no best route")
	}
	// r1 must have heard nothing.
	if rib, ok := n.routers[r1].ribIn[r0]; ok && rib.Len() != 0 {
		t.Errorf("r1 received an IBGP-transitive route")
	}
	if _, ok := n.routers[r1].locRib.GetExact(p); ok {
		t.Errorf("r1 selected a route it should never have received")
	}
}

// Loop-free AS paths: accepted RIB-In entries never contain the local AS,
// and an update carrying it is silently dropped.
func TestAsLoopDroppedOnIngress(t *testing.T) {
	l := buildLine(t, prefix.Simple)
	p := prefix.MustParse("100.0.0.0/8")

	if err := l.n.AdvertiseExternalRoute(l.e0, p, []route.AsN{1, 65001, 3}, nil, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	for _, id := range []route.Rid{l.b0, l.r0, l.r1, l.b1} {
		r := l.n.routers[id]
		for peer, rib := range r.ribIn {
			for _, rt := range collect(rib) {
				if rt.HasAsLoop(65001) {
					t.Errorf("%s accepted looped path %q from peer %v", r.name, rt.PathString(), peer)
				}
			}
		}
	}
	if _, ok := l.n.routers[l.b0].locRib.GetExact(p); ok {
		t.Errorf("b0 selected a looped route")
	}
}

// Convergence idempotence: a drained network emits nothing new.
func TestConvergenceIdempotence(t *testing.T) {
	l := buildLine(t, prefix.Simple)
	p := prefix.MustParse("100.0.0.0/8")
	if err := l.n.AdvertiseExternalRoute(l.e0, p, []route.AsN{1, 2, 3}, nil, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	before, err := l.n.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("second Simulate: %v", err)
	}
	if l.n.Queue().Len() != 0 {
		t.Fatalf("second Simulate left %d events", l.n.Queue().Len())
	}
	after, err := l.n.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if string(before) != string(after) {
		t.Errorf("re-simulating a converged network changed state")
	}
}

func TestStepBudgetExhaustion(t *testing.T) {
	n := New(Config{PrefixKind: prefix.Simple, StepBudget: 1})
	e0, _ := n.AddExternalRouter("e0", 1)
	b0, _ := n.AddRouter("b0")
	if err := n.AddLink(e0, b0); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	typ := EBgp
	if err := n.SetBgpSession(e0, b0, &typ); err != nil {
		t.Fatalf("SetBgpSession: %v", err)
	}
	p := prefix.MustParse("100.0.0.0/8")
	q := prefix.MustParse("200.0.0.0/8")
	if err := n.AdvertiseExternalRoute(e0, p, []route.AsN{1}, nil, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if err := n.AdvertiseExternalRoute(e0, q, []route.AsN{1}, nil, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	// Two updates are pending but the budget covers one step.
	err := n.Simulate()
	if !errors.Is(err, ErrNoConvergence) {
		t.Fatalf("Simulate error = %v, want ErrNoConvergence", err)
	}
	// Partial state stays inspectable.
	if _, ok := n.routers[b0].locRib.GetExact(p); !ok {
		t.Errorf("partial state lost after non-convergence")
	}
}

func TestValidationErrors(t *testing.T) {
	n := New(Config{PrefixKind: prefix.Simple})
	a, _ := n.AddRouter("a")
	b, _ := n.AddRouter("b")
	ext, _ := n.AddExternalRouter("x", 7)

	if err := n.AddLink(a, 99); !errors.Is(err, ErrInvalidTopology) {
		t.Errorf("link to missing router: %v", err)
	}
	if err := n.AddLink(a, b); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := n.AddLink(b, a); !errors.Is(err, ErrInvalidTopology) {
		t.Errorf("duplicate link: %v", err)
	}
	if err := n.SetLinkWeight(a, b, -1); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("negative weight: %v", err)
	}
	if err := n.SetLinkWeight(a, ext, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("weight on missing link: %v", err)
	}

	ibgp := IBgpPeer
	ebgp := EBgp
	if err := n.SetBgpSession(a, ext, &ibgp); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("IBGP to external: %v", err)
	}
	if err := n.SetBgpSession(a, b, &ebgp); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("EBGP between internals: %v", err)
	}
	if err := n.SetBgpSession(a, b, &ibgp); err != nil {
		t.Fatalf("SetBgpSession: %v", err)
	}
	if err := n.SetBgpSession(a, b, &ibgp); !errors.Is(err, ErrInvalidTopology) {
		t.Errorf("duplicate session: %v", err)
	}
	if err := n.SetBgpSession(a, b, nil); err != nil {
		t.Errorf("teardown: %v", err)
	}
	if err := n.SetBgpSession(a, b, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("teardown of missing session: %v", err)
	}
	if _, err := n.Rid("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Rid of unknown name: %v", err)
	}
	if err := n.WithdrawExternalRoute(ext, prefix.MustParse("10.0.0.0/8")); !errors.Is(err, ErrNotFound) {
		t.Errorf("withdraw of unknown advertisement: %v", err)
	}
}

// Session teardown withdraws learned routes; re-establishment makes the
// external router re-send its active advertisements.
func TestSessionTeardownAndReestablish(t *testing.T) {
	l := buildLine(t, prefix.Simple)
	p := prefix.MustParse("100.0.0.0/8")
	if err := l.n.AdvertiseExternalRoute(l.e0, p, []route.AsN{1}, nil, nil); err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if _, ok := l.n.routers[l.r1].locRib.GetExact(p); !ok {
		t.Fatalf("route did not propagate")
	}

	if err := l.n.SetBgpSession(l.e0, l.b0, nil); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	for _, id := range []route.Rid{l.b0, l.r0, l.r1, l.b1} {
		if _, ok := l.n.routers[id].locRib.GetExact(p); ok {
			t.Errorf("%s kept a route after session teardown", l.n.Name(id))
		}
	}

	typ := EBgp
	if err := l.n.SetBgpSession(l.e0, l.b0, &typ); err != nil {
		t.Fatalf("re-establish: %v", err)
	}
	if err := l.n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if _, ok := l.n.routers[l.r1].locRib.GetExact(p); !ok {
		t.Errorf("active advertisement not re-sent on session establishment")
	}
}
