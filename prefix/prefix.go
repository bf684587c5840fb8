// Package prefix provides the destination-prefix key used by all route
// tables in the simulator, together with a table container whose lookup
// semantics depend on the prefix mode a network was created with.
package prefix

import (
	"fmt"
	"net/netip"
)

// Kind selects the prefix semantics of a network. The kind is fixed at
// network construction; every table, message, and advertisement in one
// network uses the same kind.
type Kind uint8

const (
	// Single is one logical destination; tables hold at most one entry.
	Single Kind = iota
	// Simple is a set of disjoint prefixes keyed by equality.
	Simple
	// IPv4 is a hierarchy of IPv4 CIDR blocks with longest-prefix-match
	// lookup.
	IPv4
)

func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case Simple:
		return "simple"
	case IPv4:
		return "ipv4"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses a prefix kind name as it appears in configuration files.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "single":
		return Single, nil
	case "simple":
		return Simple, nil
	case "ipv4":
		return IPv4, nil
	default:
		return 0, fmt.Errorf("prefix: unknown kind %q", s)
	}
}

// Prefix is a destination prefix in CIDR form. The zero value is invalid.
type Prefix struct {
	p netip.Prefix
}

// Parse parses a prefix in CIDR notation.
func Parse(s string) (Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Prefix{}, fmt.Errorf("prefix: %w", err)
	}
	return Prefix{p: p.Masked()}, nil
}

// MustParse is Parse that panics on error. Intended for tests and fixtures.
func MustParse(s string) Prefix {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// From wraps a netip.Prefix.
func From(p netip.Prefix) Prefix {
	return Prefix{p: p.Masked()}
}

// IsValid reports whether p is a parsed prefix (not the zero value).
func (p Prefix) IsValid() bool { return p.p.IsValid() }

// Bits returns the prefix length.
func (p Prefix) Bits() int { return p.p.Bits() }

// Net returns the underlying netip.Prefix.
func (p Prefix) Net() netip.Prefix { return p.p }

// Contains reports whether the destination set of o is a subset of p.
func (p Prefix) Contains(o Prefix) bool {
	return p.p.Bits() <= o.p.Bits() && p.p.Overlaps(o.p)
}

// Less orders prefixes by address, then by prefix length. Used to give
// tables a deterministic iteration order.
func (p Prefix) Less(o Prefix) bool {
	if c := p.p.Addr().Compare(o.p.Addr()); c != 0 {
		return c < 0
	}
	return p.p.Bits() < o.p.Bits()
}

func (p Prefix) String() string { return p.p.String() }

// MarshalText implements encoding.TextMarshaler. The zero value marshals
// to the empty string.
func (p Prefix) MarshalText() ([]byte, error) {
	if !p.p.IsValid() {
		return nil, nil
	}
	return []byte(p.p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Prefix) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = Prefix{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
