package storage

import (
	"sort"
	"time"
)

// evictFraction of the local map is dropped when it overflows.
const evictFraction = 5

type localEntry struct {
	value     []byte
	expiresAt time.Time
	lastUsed  uint64
}

func (e *localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// localMap is a bounded key-value map with absolute expiry. When it grows
// past max, the least recently used fifth is evicted. Not safe for
// concurrent use; ResilientStore serializes access.
type localMap struct {
	max     int
	entries map[string]*localEntry
	tick    uint64
}

func newLocalMap(max int) *localMap {
	return &localMap{max: max, entries: make(map[string]*localEntry)}
}

func (m *localMap) set(key string, value []byte, ttl time.Duration, now time.Time) {
	m.tick++
	e := &localEntry{value: value, lastUsed: m.tick}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	m.entries[key] = e

	if m.max > 0 && len(m.entries) > m.max {
		m.evict()
	}
}

// get returns the value for key. Expired entries are removed on read.
func (m *localMap) get(key string, now time.Time) ([]byte, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(m.entries, key)
		return nil, false
	}
	m.tick++
	e.lastUsed = m.tick
	return e.value, true
}

// ttl reports the remaining lifetime of key; zero means no expiry.
func (m *localMap) ttl(key string, now time.Time) (time.Duration, bool) {
	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		return 0, false
	}
	if e.expiresAt.IsZero() {
		return 0, true
	}
	return e.expiresAt.Sub(now), true
}

func (m *localMap) delete(key string) {
	delete(m.entries, key)
}

// keys returns every live key.
func (m *localMap) keys(now time.Time) []string {
	out := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !e.expired(now) {
			out = append(out, k)
		}
	}
	return out
}

// sweep drops expired entries and returns how many were removed.
func (m *localMap) sweep(now time.Time) int {
	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func (m *localMap) evict() {
	n := len(m.entries) / evictFraction
	if n == 0 {
		n = 1
	}

	type aged struct {
		key  string
		used uint64
	}
	all := make([]aged, 0, len(m.entries))
	for k, e := range m.entries {
		all = append(all, aged{k, e.lastUsed})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].used < all[j].used })

	for _, a := range all[:n] {
		delete(m.entries, a.key)
	}
}

func (m *localMap) len() int { return len(m.entries) }
