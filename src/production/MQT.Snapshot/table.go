// Package snapshot keeps the latest reading per (location, room) and
// republishes it on a fixed cadence.
package snapshot

import (
	"sort"
	"sync"

	mqtmodels "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Models"
)

type tableKey struct {
	location string
	room     string
}

// Table is the in-memory latest reading per (location, room). It is a cache:
// nothing in it survives a restart.
type Table struct {
	mu     sync.RWMutex
	latest map[tableKey]mqtmodels.Reading
}

// NewTable creates an empty Table
func NewTable() *Table {
	return &Table{latest: make(map[tableKey]mqtmodels.Reading)}
}

// Put records r as the latest reading for its location and room
func (t *Table) Put(r mqtmodels.Reading) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest[tableKey{location: r.Location, room: r.Room}] = r
}

// Snapshot returns a point-in-time copy ordered by location then room
func (t *Table) Snapshot() []mqtmodels.Reading {
	t.mu.RLock()
	out := make([]mqtmodels.Reading, 0, len(t.latest))
	for _, r := range t.latest {
		out = append(out, r)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Room < out[j].Room
	})
	return out
}

// Len returns the number of (location, room) keys held
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.latest)
}
