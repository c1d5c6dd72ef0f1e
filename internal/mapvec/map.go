package mapvec

import "hash/fnv"

type slotState uint8

const (
	slotEmpty slotState = iota
	slotOccupied
	slotTombstone
)

const maxLoadFactor = 0.70

type mapEntry[V any] struct {
	state slotState
	hash  uint64
	key   string
	value V
}

// Map is an open-addressed, linear-probed hash table keyed by string, with
// FNV-1a hashing and tombstone deletion, rehashing at a 70% load factor, per
// spec §4.6.
type Map[V any] struct {
	slots []mapEntry[V]
	count int // occupied, excludes tombstones
	used  int // occupied + tombstones, drives rehash threshold
}

// NewMap returns an empty map with the default initial capacity.
func NewMap[V any]() *Map[V] {
	return &Map[V]{slots: make([]mapEntry[V], 8)}
}

func fnv1a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func (m *Map[V]) Len() int { return m.count }

func (m *Map[V]) findSlot(key string, hash uint64) (idx int, found bool) {
	mask := uint64(len(m.slots) - 1)
	i := hash & mask
	firstTombstone := -1
	for probes := 0; probes < len(m.slots); probes++ {
		s := &m.slots[i]
		switch s.state {
		case slotEmpty:
			if firstTombstone >= 0 {
				return firstTombstone, false
			}
			return int(i), false
		case slotTombstone:
			if firstTombstone < 0 {
				firstTombstone = int(i)
			}
		case slotOccupied:
			if s.hash == hash && s.key == key {
				return int(i), true
			}
		}
		i = (i + 1) & mask
	}
	if firstTombstone >= 0 {
		return firstTombstone, false
	}
	return -1, false
}

// Get looks up key; ok is false if absent.
func (m *Map[V]) Get(key string) (val V, ok bool) {
	if len(m.slots) == 0 {
		return val, false
	}
	idx, found := m.findSlot(key, fnv1a(key))
	if !found {
		return val, false
	}
	return m.slots[idx].value, true
}

// Has reports whether key is present.
func (m *Map[V]) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Put inserts or overwrites key's value.
func (m *Map[V]) Put(key string, val V) {
	if float64(m.used+1) > maxLoadFactor*float64(len(m.slots)) {
		m.rehash()
	}
	hash := fnv1a(key)
	idx, found := m.findSlot(key, hash)
	if idx < 0 {
		m.rehash()
		idx, _ = m.findSlot(key, hash)
	}
	s := &m.slots[idx]
	wasEmpty := s.state == slotEmpty
	*s = mapEntry[V]{state: slotOccupied, hash: hash, key: key, value: val}
	if !found {
		m.count++
		if wasEmpty {
			m.used++
		}
	}
}

// Delete removes key, marking its slot a tombstone; reports whether it was
// present.
func (m *Map[V]) Delete(key string) bool {
	if len(m.slots) == 0 {
		return false
	}
	idx, found := m.findSlot(key, fnv1a(key))
	if !found {
		return false
	}
	m.slots[idx] = mapEntry[V]{state: slotTombstone}
	m.count--
	return true
}

func (m *Map[V]) rehash() {
	newCap := len(m.slots) * 2
	if newCap == 0 {
		newCap = 8
	}
	old := m.slots
	m.slots = make([]mapEntry[V], newCap)
	m.used = m.count
	m.count = 0
	for _, e := range old {
		if e.state == slotOccupied {
			idx, _ := m.findSlot(e.key, e.hash)
			m.slots[idx] = mapEntry[V]{state: slotOccupied, hash: e.hash, key: e.key, value: e.value}
			m.count++
		}
	}
	m.used = m.count
}

// Keys returns every occupied key; order is probe order, not insertion
// order, and callers must not depend on it (equality is defined structurally
// — see internal/value).
func (m *Map[V]) Keys() []string {
	out := make([]string, 0, m.count)
	for _, e := range m.slots {
		if e.state == slotOccupied {
			out = append(out, e.key)
		}
	}
	return out
}

// ForEach visits every occupied entry; stops early if fn returns false.
func (m *Map[V]) ForEach(fn func(key string, val V) bool) {
	for _, e := range m.slots {
		if e.state == slotOccupied {
			if !fn(e.key, e.value) {
				return
			}
		}
	}
}

// Clone returns an independent copy with the same entries (fresh table, not
// a byte-for-byte copy of probe/tombstone layout).
func (m *Map[V]) Clone() *Map[V] {
	c := NewMap[V]()
	m.ForEach(func(k string, v V) bool {
		c.Put(k, v)
		return true
	})
	return c
}
