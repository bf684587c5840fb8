// Package network assembles routers, links, and BGP sessions into a
// simulated control plane and drives it to convergence over an event
// queue.
package network

import (
	"fmt"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/nsg-ethz/bgpsim/event"
	"github.com/nsg-ethz/bgpsim/ospf"
	"github.com/nsg-ethz/bgpsim/prefix"
	"github.com/nsg-ethz/bgpsim/route"
)

// SessionType classifies a BGP session.
type SessionType uint8

const (
	// EBgp is a session between the simulated AS and an external router.
	EBgp SessionType = iota
	// IBgpPeer is a plain internal session.
	IBgpPeer
	// IBgpClient is an asymmetric internal session: the first router of
	// the pair acts as route reflector, the second as its client.
	IBgpClient
)

func (t SessionType) String() string {
	switch t {
	case EBgp:
		return "ebgp"
	case IBgpPeer:
		return "ibgp_peer"
	case IBgpClient:
		return "ibgp_client"
	default:
		return fmt.Sprintf("session(%d)", uint8(t))
	}
}

// ParseSessionType parses a session type name as used in configuration
// files.
func ParseSessionType(s string) (SessionType, error) {
	switch s {
	case "ebgp":
		return EBgp, nil
	case "ibgp_peer", "ibgp":
		return IBgpPeer, nil
	case "ibgp_client", "client":
		return IBgpClient, nil
	default:
		return 0, fmt.Errorf("network: unknown session type %q", s)
	}
}

// Session is one configured BGP session. For IBgpClient sessions A is the
// reflector and B the client; other types are symmetric.
type Session struct {
	A    route.Rid   `json:"a"`
	B    route.Rid   `json:"b"`
	Type SessionType `json:"type"`
}

type pairKey struct {
	lo, hi route.Rid
}

func pairOf(a, b route.Rid) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// DefaultStepBudget bounds Simulate against control-plane oscillation.
const DefaultStepBudget = 1_000_000

// DefaultMaxPaths bounds forwarding-path enumeration; ECMP expansion is
// exponential in the worst case.
const DefaultMaxPaths = 1024

// DefaultAsn is the AS number of the simulated network when none is
// configured.
const DefaultAsn route.AsN = 65001

// Config carries the immutable parameters of a network.
type Config struct {
	PrefixKind prefix.Kind
	OspfMode   ospf.Kind
	Asn        route.AsN
	// Queue defaults to a FIFO queue.
	Queue event.Queue
	// StepBudget defaults to DefaultStepBudget.
	StepBudget int
	// MaxPaths defaults to DefaultMaxPaths.
	MaxPaths int
	Logger   *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.Asn == 0 {
		c.Asn = DefaultAsn
	}
	if c.Queue == nil {
		c.Queue = event.NewFifo()
	}
	if c.StepBudget <= 0 {
		c.StepBudget = DefaultStepBudget
	}
	if c.MaxPaths <= 0 {
		c.MaxPaths = DefaultMaxPaths
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Network owns all simulation state: routers, links, sessions,
// configurations, the OSPF instance, and the event queue. All references
// between components go through Rid lookups.
type Network struct {
	cfg Config

	routers   map[route.Rid]*router
	externals map[route.Rid]*externalRouter
	order     []route.Rid // creation order, for deterministic iteration
	names     map[string]route.Rid
	nextRid   route.Rid

	links    map[pairKey]struct{}
	sessions map[pairKey]Session

	igp   *ospf.Instance
	queue event.Queue
	log   *zap.Logger
}

// New creates an empty network.
func New(cfg Config) *Network {
	cfg.applyDefaults()
	n := &Network{
		cfg:       cfg,
		routers:   make(map[route.Rid]*router),
		externals: make(map[route.Rid]*externalRouter),
		names:     make(map[string]route.Rid),
		links:     make(map[pairKey]struct{}),
		sessions:  make(map[pairKey]Session),
		igp:       ospf.New(cfg.OspfMode),
		queue:     cfg.Queue,
		log:       cfg.Logger,
	}
	n.queue.UpdateParams(event.Params{Delay: n.linkDelay})
	return n
}

// Asn returns the AS number of the simulated network.
func (n *Network) Asn() route.AsN { return n.cfg.Asn }

// PrefixKind returns the prefix semantics of the network.
func (n *Network) PrefixKind() prefix.Kind { return n.cfg.PrefixKind }

// Igp exposes the OSPF instance for read access (next-hop tables, costs).
func (n *Network) Igp() *ospf.Instance { return n.igp }

// Queue exposes the event queue for inspection.
func (n *Network) Queue() event.Queue { return n.queue }

// Rid resolves a router name.
func (n *Network) Rid(name string) (route.Rid, error) {
	id, ok := n.names[name]
	if !ok {
		return 0, fmt.Errorf("%w: router %q", ErrNotFound, name)
	}
	return id, nil
}

// Name returns the configured name of a router.
func (n *Network) Name(id route.Rid) string {
	if r, ok := n.routers[id]; ok {
		return r.name
	}
	if e, ok := n.externals[id]; ok {
		return e.name
	}
	return id.String()
}

// IsExternal reports whether id names an external router.
func (n *Network) IsExternal(id route.Rid) bool {
	_, ok := n.externals[id]
	return ok
}

func (n *Network) allocate(name string) (route.Rid, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: router name is required", ErrInvalidConfiguration)
	}
	if _, ok := n.names[name]; ok {
		return 0, fmt.Errorf("%w: router %q already exists", ErrInvalidConfiguration, name)
	}
	n.nextRid++
	id := n.nextRid
	n.names[name] = id
	n.order = append(n.order, id)
	return id, nil
}

// AddRouter adds an internal router and returns its identifier.
func (n *Network) AddRouter(name string) (route.Rid, error) {
	id, err := n.allocate(name)
	if err != nil {
		return 0, err
	}
	n.routers[id] = newRouter(id, name, n.cfg.Asn, n.cfg.PrefixKind)
	n.igp.AddRouter(id)
	return id, nil
}

// AddExternalRouter adds a router of a foreign AS. It participates only
// through EBGP sessions and never runs OSPF.
func (n *Network) AddExternalRouter(name string, asn route.AsN) (route.Rid, error) {
	if asn == n.cfg.Asn {
		return 0, fmt.Errorf("%w: external router %q must not share AS %d", ErrInvalidConfiguration, name, n.cfg.Asn)
	}
	id, err := n.allocate(name)
	if err != nil {
		return 0, err
	}
	n.externals[id] = newExternalRouter(id, name, asn, n.cfg.PrefixKind)
	return id, nil
}

func (n *Network) exists(id route.Rid) bool {
	if _, ok := n.routers[id]; ok {
		return true
	}
	_, ok := n.externals[id]
	return ok
}

// AddLink connects two routers with a symmetric pair of directed links,
// initially weight 1 in the backbone area.
func (n *Network) AddLink(a, b route.Rid) error {
	if !n.exists(a) || !n.exists(b) {
		return fmt.Errorf("%w: link %s-%s references a nonexistent router", ErrInvalidTopology, a, b)
	}
	if a == b {
		return fmt.Errorf("%w: self link on %s", ErrInvalidTopology, a)
	}
	key := pairOf(a, b)
	if _, ok := n.links[key]; ok {
		return fmt.Errorf("%w: duplicate link %s-%s", ErrInvalidTopology, a, b)
	}
	n.links[key] = struct{}{}
	n.applyLinkState(ospf.LinkState{From: a, To: b, Area: ospf.Backbone, Weight: 1})
	n.applyLinkState(ospf.LinkState{From: b, To: a, Area: ospf.Backbone, Weight: 1})
	n.queue.UpdateParams(event.Params{Delay: n.linkDelay})
	return nil
}

// RemoveLink disconnects two routers. The link-state records stay in the
// databases with infinite weight so the withdrawal floods in distributed
// mode.
func (n *Network) RemoveLink(a, b route.Rid) error {
	key := pairOf(a, b)
	if _, ok := n.links[key]; !ok {
		return fmt.Errorf("%w: link %s-%s", ErrNotFound, a, b)
	}
	delete(n.links, key)
	for _, dir := range [][2]route.Rid{{a, b}, {b, a}} {
		rec, ok := n.igp.Auth().Get(dir[0], dir[1])
		if !ok {
			rec = ospf.LinkState{From: dir[0], To: dir[1], Area: ospf.Backbone}
		}
		rec.Weight = math.Inf(1)
		n.applyLinkState(rec)
	}
	n.queue.UpdateParams(event.Params{Delay: n.linkDelay})
	return nil
}

// SetLinkWeight sets the directional OSPF cost of the a→b link. Infinity
// disables the direction.
func (n *Network) SetLinkWeight(a, b route.Rid, w float64) error {
	if math.IsNaN(w) || w < 0 {
		return fmt.Errorf("%w: link weight %v", ErrInvalidConfiguration, w)
	}
	if _, ok := n.links[pairOf(a, b)]; !ok {
		return fmt.Errorf("%w: link %s-%s", ErrNotFound, a, b)
	}
	rec, _ := n.igp.Auth().Get(a, b)
	rec.From, rec.To = a, b
	rec.Weight = w
	n.applyLinkState(rec)
	n.queue.UpdateParams(event.Params{Delay: n.linkDelay})
	return nil
}

// SetOspfArea moves the a-b link into an area. Membership is per link and
// symmetric.
func (n *Network) SetOspfArea(a, b route.Rid, area ospf.Area) error {
	if _, ok := n.links[pairOf(a, b)]; !ok {
		return fmt.Errorf("%w: link %s-%s", ErrNotFound, a, b)
	}
	for _, dir := range [][2]route.Rid{{a, b}, {b, a}} {
		rec, _ := n.igp.Auth().Get(dir[0], dir[1])
		rec.From, rec.To = dir[0], dir[1]
		rec.Area = area
		n.applyLinkState(rec)
	}
	return nil
}

// applyLinkState pushes one record into the OSPF instance, enqueues any
// floods, and lets every router revisit BGP decisions that depend on IGP
// reachability.
func (n *Network) applyLinkState(rec ospf.LinkState) {
	floods := n.igp.SetLink(rec, n.ospfNeighbors)
	for _, f := range floods {
		n.queue.Push(event.Lsa(f))
	}
	switch n.cfg.OspfMode {
	case ospf.Global:
		// Tables changed atomically for everyone.
		for _, id := range n.internalOrder() {
			n.refreshDecisions(id)
		}
	case ospf.Distributed:
		// Only the endpoints have recomputed so far; the rest follow as
		// the floods deliver.
		for _, end := range []route.Rid{rec.From, rec.To} {
			if _, ok := n.routers[end]; ok {
				n.refreshDecisions(end)
			}
		}
	}
}

// ospfNeighbors lists the internal routers directly linked to r, sorted.
func (n *Network) ospfNeighbors(r route.Rid) []route.Rid {
	var out []route.Rid
	for key := range n.links {
		var other route.Rid
		switch r {
		case key.lo:
			other = key.hi
		case key.hi:
			other = key.lo
		default:
			continue
		}
		if _, ok := n.routers[other]; ok {
			out = append(out, other)
		}
	}
	slices.Sort(out)
	return out
}

// linkDelay feeds queue implementations that weight delivery by link
// properties: the current OSPF weight when finite, unit delay otherwise.
func (n *Network) linkDelay(src, dst route.Rid) float64 {
	if rec, ok := n.igp.Auth().Get(src, dst); ok && !math.IsInf(rec.Weight, 1) {
		return rec.Weight
	}
	return 1
}

// internalOrder returns internal router ids in creation order.
func (n *Network) internalOrder() []route.Rid {
	var out []route.Rid
	for _, id := range n.order {
		if _, ok := n.routers[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// SetBgpSession configures the session between a and b. For IBgpClient, a
// is the reflector and b the client. A nil type tears the session down;
// setting a different type replaces the session (teardown plus
// re-establishment). Establishing triggers both sides to advertise their
// current best routes to the new peer.
func (n *Network) SetBgpSession(a, b route.Rid, typ *SessionType) error {
	if !n.exists(a) || !n.exists(b) {
		return fmt.Errorf("%w: session %s-%s references a nonexistent router", ErrNotFound, a, b)
	}
	if a == b {
		return fmt.Errorf("%w: self session on %s", ErrInvalidTopology, a)
	}
	key := pairOf(a, b)
	old, hadOld := n.sessions[key]

	if typ != nil {
		extA, extB := n.IsExternal(a), n.IsExternal(b)
		if (extA || extB) && *typ != EBgp {
			return fmt.Errorf("%w: session %s-%s: external routers speak EBGP only", ErrInvalidConfiguration, a, b)
		}
		if !extA && !extB && *typ == EBgp {
			return fmt.Errorf("%w: session %s-%s: EBGP requires an external endpoint", ErrInvalidConfiguration, a, b)
		}
		if hadOld && old.Type == *typ && old.A == a && old.B == b {
			return fmt.Errorf("%w: duplicate session %s-%s", ErrInvalidTopology, a, b)
		}
	}

	if hadOld {
		n.teardownSession(old)
	}
	if typ == nil {
		if !hadOld {
			return fmt.Errorf("%w: session %s-%s", ErrNotFound, a, b)
		}
		return nil
	}

	n.sessions[key] = Session{A: a, B: b, Type: *typ}
	n.resendToPeer(a, b)
	n.resendToPeer(b, a)
	return nil
}

// teardownSession coalesces a session removal into one operation: both
// sides drop the peer's RIB-In entries (processed per prefix) and forget
// their RIB-Out state toward the peer.
func (n *Network) teardownSession(s Session) {
	delete(n.sessions, pairOf(s.A, s.B))
	for _, pair := range [][2]route.Rid{{s.A, s.B}, {s.B, s.A}} {
		self, peer := pair[0], pair[1]
		if r, ok := n.routers[self]; ok {
			r.dropPeer(n, peer)
		}
		if e, ok := n.externals[self]; ok {
			e.dropPeer(peer)
		}
	}
}

// resendToPeer makes from re-advertise toward peer whatever the
// advertisement rules allow on the fresh session.
func (n *Network) resendToPeer(from, peer route.Rid) {
	if e, ok := n.externals[from]; ok {
		e.resend(n, peer)
		return
	}
	if r, ok := n.routers[from]; ok {
		r.resend(n, peer)
	}
}

// sessionBetween returns the session joining a and b, if any.
func (n *Network) sessionBetween(a, b route.Rid) (Session, bool) {
	s, ok := n.sessions[pairOf(a, b)]
	return s, ok
}

// Sessions returns all sessions sorted by pair for deterministic
// iteration.
func (n *Network) Sessions() []Session {
	out := make([]Session, 0, len(n.sessions))
	for _, s := range n.sessions {
		out = append(out, s)
	}
	slices.SortFunc(out, func(x, y Session) int {
		kx, ky := pairOf(x.A, x.B), pairOf(y.A, y.B)
		if kx.lo != ky.lo {
			return int(kx.lo) - int(ky.lo)
		}
		return int(kx.hi) - int(ky.hi)
	})
	return out
}

// SetRouteMap binds a route-map to (router, peer, direction); nil removes
// the binding. Changing an ingress map asks the peer to replay its last
// advertisements so the new policy re-filters them; changing an egress map
// re-diffs this router's advertisements toward the peer. For an external
// router the binding is only stored: nothing is resent, egress maps apply
// to advertisements sent afterwards, and ingress maps are not applied.
func (n *Network) SetRouteMap(id, peer route.Rid, dir route.Direction, rm *route.RouteMap) error {
	r, ok := n.routers[id]
	if !ok {
		if e, ok := n.externals[id]; ok {
			e.setRouteMap(peer, dir, rm)
			return nil
		}
		return fmt.Errorf("%w: router %s", ErrNotFound, id)
	}
	if !n.exists(peer) {
		return fmt.Errorf("%w: peer %s", ErrNotFound, peer)
	}
	r.setRouteMap(peer, dir, rm)

	if _, up := n.sessionBetween(id, peer); !up {
		return nil
	}
	switch dir {
	case route.Ingress:
		n.replayToward(peer, id)
	case route.Egress:
		r.emitForPeer(n, peer)
	}
	return nil
}

// replayToward re-enqueues from's last advertisements to dst, so dst can
// re-run its ingress policy on them.
func (n *Network) replayToward(from, dst route.Rid) {
	if e, ok := n.externals[from]; ok {
		e.resend(n, dst)
		return
	}
	r, ok := n.routers[from]
	if !ok {
		return
	}
	out, ok := r.ribOut[dst]
	if !ok {
		return
	}
	for _, rt := range collect(out) {
		n.queue.Push(event.Update(from, dst, rt.Clone()))
	}
}

// AdvertiseExternalRoute makes an external router originate prefix p with
// the given AS path. The advertisement stays active until withdrawn and is
// re-sent on session establishment.
func (n *Network) AdvertiseExternalRoute(ext route.Rid, p prefix.Prefix, path []route.AsN, med *uint32, communities []route.Community) error {
	e, ok := n.externals[ext]
	if !ok {
		return fmt.Errorf("%w: external router %s", ErrNotFound, ext)
	}
	if !p.IsValid() {
		return fmt.Errorf("%w: invalid prefix", ErrInvalidConfiguration)
	}
	r := &route.Route{
		Prefix:    p,
		Path:      slices.Clone(path),
		NextHop:   ext,
		LocalPref: route.DefaultLocalPref,
		Origin:    route.OriginIgp,
	}
	if med != nil {
		r.Med = *med
	}
	for _, c := range communities {
		r.AddCommunity(c)
	}
	e.advertise(n, r)
	return nil
}

// WithdrawExternalRoute retracts an active external advertisement.
func (n *Network) WithdrawExternalRoute(ext route.Rid, p prefix.Prefix) error {
	e, ok := n.externals[ext]
	if !ok {
		return fmt.Errorf("%w: external router %s", ErrNotFound, ext)
	}
	return e.withdraw(n, p)
}
