package network

import "errors"

// Error taxonomy. Fallible operations wrap one of these sentinels so
// callers can branch with errors.Is. Control-plane anomalies during
// simulation (such as AS-path loops on ingress) are logged drops, not
// errors.
var (
	// ErrInvalidTopology covers links to nonexistent routers, duplicate
	// links, and duplicate sessions.
	ErrInvalidTopology = errors.New("invalid topology")
	// ErrInvalidConfiguration covers empty or duplicate router names,
	// external AS numbers equal to the own AS, malformed weights, unknown
	// session types, and invalid prefixes.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrNoConvergence is returned by Simulate when the step budget is
	// exhausted before the queue drains. Partial state stays inspectable.
	ErrNoConvergence = errors.New("no convergence")
	// ErrForwardingLoop is returned by path tracing when a router appears
	// twice on a partial path.
	ErrForwardingLoop = errors.New("forwarding loop")
	// ErrBlackHole is returned by path tracing when a router has no route
	// or an IGP-unreachable next hop.
	ErrBlackHole = errors.New("black hole")
	// ErrNotFound covers lookups of routers, links, and sessions that do
	// not exist.
	ErrNotFound = errors.New("not found")
	// ErrTruncated is returned by path tracing when the enumeration bound
	// is hit before all paths were expanded.
	ErrTruncated = errors.New("path enumeration truncated")
	// ErrPendingEvents is returned by ForwardingState when the queue is
	// not drained; snapshots are only consistent on a converged network.
	ErrPendingEvents = errors.New("pending events")
)
