package prefix

import (
	"iter"
	"sort"

	"github.com/gaissmai/bart"
)

// Map is a table keyed by Prefix. Lookup semantics follow the Kind the map
// was created with: GetLPM degenerates to GetExact for non-hierarchical
// kinds. Iteration order is deterministic (ascending prefix).
type Map[V any] interface {
	Insert(p Prefix, v V)
	Remove(p Prefix) bool
	GetExact(p Prefix) (V, bool)
	// GetLPM returns the most specific entry containing p, along with the
	// prefix it is stored under.
	GetLPM(p Prefix) (Prefix, V, bool)
	Len() int
	All() iter.Seq2[Prefix, V]
}

// NewMap creates the map implementation matching the prefix kind: a single
// cell for Single, a hash map for Simple, and a BART trie for IPv4.
func NewMap[V any](k Kind) Map[V] {
	switch k {
	case Single:
		return &singleMap[V]{}
	case IPv4:
		return &trieMap[V]{t: &bart.Table[V]{}}
	default:
		return simpleMap[V]{m: make(map[Prefix]V)}
	}
}

// singleMap holds at most one entry. Inserting under any prefix replaces
// the previous entry.
type singleMap[V any] struct {
	set bool
	key Prefix
	val V
}

func (m *singleMap[V]) Insert(p Prefix, v V) {
	m.set = true
	m.key = p
	m.val = v
}

func (m *singleMap[V]) Remove(p Prefix) bool {
	if !m.set || m.key != p {
		return false
	}
	var zero V
	m.set = false
	m.key = Prefix{}
	m.val = zero
	return true
}

func (m *singleMap[V]) GetExact(p Prefix) (V, bool) {
	if m.set && m.key == p {
		return m.val, true
	}
	var zero V
	return zero, false
}

func (m *singleMap[V]) GetLPM(p Prefix) (Prefix, V, bool) {
	v, ok := m.GetExact(p)
	return m.key, v, ok
}

func (m *singleMap[V]) Len() int {
	if m.set {
		return 1
	}
	return 0
}

func (m *singleMap[V]) All() iter.Seq2[Prefix, V] {
	return func(yield func(Prefix, V) bool) {
		if m.set {
			yield(m.key, m.val)
		}
	}
}

// simpleMap keys disjoint prefixes by equality.
type simpleMap[V any] struct {
	m map[Prefix]V
}

func (m simpleMap[V]) Insert(p Prefix, v V) { m.m[p] = v }

func (m simpleMap[V]) Remove(p Prefix) bool {
	if _, ok := m.m[p]; !ok {
		return false
	}
	delete(m.m, p)
	return true
}

func (m simpleMap[V]) GetExact(p Prefix) (V, bool) {
	v, ok := m.m[p]
	return v, ok
}

func (m simpleMap[V]) GetLPM(p Prefix) (Prefix, V, bool) {
	v, ok := m.m[p]
	return p, v, ok
}

func (m simpleMap[V]) Len() int { return len(m.m) }

func (m simpleMap[V]) All() iter.Seq2[Prefix, V] {
	keys := make([]Prefix, 0, len(m.m))
	for p := range m.m {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return func(yield func(Prefix, V) bool) {
		for _, p := range keys {
			if !yield(p, m.m[p]) {
				return
			}
		}
	}
}

// trieMap wraps a BART routing table for longest-prefix-match lookup.
type trieMap[V any] struct {
	t *bart.Table[V]
}

func (m *trieMap[V]) Insert(p Prefix, v V) { m.t.Insert(p.Net(), v) }

func (m *trieMap[V]) Remove(p Prefix) bool {
	_, ok := m.t.GetAndDelete(p.Net())
	return ok
}

func (m *trieMap[V]) GetExact(p Prefix) (V, bool) {
	return m.t.Get(p.Net())
}

func (m *trieMap[V]) GetLPM(p Prefix) (Prefix, V, bool) {
	lpm, v, ok := m.t.LookupPrefixLPM(p.Net())
	return From(lpm), v, ok
}

func (m *trieMap[V]) Len() int { return m.t.Size() }

func (m *trieMap[V]) All() iter.Seq2[Prefix, V] {
	return func(yield func(Prefix, V) bool) {
		for p, v := range m.t.AllSorted() {
			if !yield(From(p), v) {
				return
			}
		}
	}
}
