// Package store holds the shared table of current entity colors. The
// receive path writes it, the send path snapshots it; it is the only
// mutable state the two loops share.
package store

import (
	"sort"
	"sync"
)

// Entity is one addressable LED: its color and the universe it belongs to.
type Entity struct {
	ID       uint16 `json:"id"`
	R        uint8  `json:"r"`
	G        uint8  `json:"g"`
	B        uint8  `json:"b"`
	Universe uint16 `json:"universe"`
}

// Update carries one color change. Keeping this type free of wire-format
// details lets preview and test tooling push synthetic batches through the
// same path real traffic takes.
type Update struct {
	ID      uint16
	R, G, B uint8
}

// Store is a concurrency-safe entity table. Entities enter through
// Register at startup or ApplyConfigRange at runtime and are never
// removed; updates overwrite colors in place.
type Store struct {
	mu       sync.RWMutex
	entities map[uint16]Entity
}

func New() *Store {
	return &Store{entities: make(map[uint16]Entity)}
}

// Register adds an entity initialized to black. Registering an existing id
// re-homes it and resets its color.
func (s *Store) Register(id, universe uint16) {
	s.mu.Lock()
	s.entities[id] = Entity{ID: id, Universe: universe}
	s.mu.Unlock()
}

// ApplyUpdate overwrites one entity's color. Unknown ids are dropped: the
// configuration is the authority on what exists. Reports whether the
// update was applied.
func (s *Store) ApplyUpdate(id uint16, r, g, b uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(id, r, g, b)
}

// ApplyBatch applies many updates under one lock acquisition and returns
// how many ids were known.
func (s *Store) ApplyBatch(updates []Update) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, u := range updates {
		if s.apply(u.ID, u.R, u.G, u.B) {
			applied++
		}
	}
	return applied
}

func (s *Store) apply(id uint16, r, g, b uint8) bool {
	e, ok := s.entities[id]
	if !ok {
		return false
	}
	e.R, e.G, e.B = r, g, b
	s.entities[id] = e
	return true
}

// ApplyConfigRange fills count consecutive ids starting at start with one
// color and binds them to universe. Unlike ApplyUpdate it upserts, so a
// config message can introduce entities the routing table never declared.
// Runs past id 65535 are clamped at the id space boundary.
func (s *Store) ApplyConfigRange(start, count uint16, r, g, b uint8, universe uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < int(count); i++ {
		id := int(start) + i
		if id > 0xFFFF {
			break
		}
		s.entities[uint16(id)] = Entity{ID: uint16(id), R: r, G: g, B: b, Universe: universe}
	}
}

// Len returns the number of entities in the table.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// SnapshotByUniverse returns a point-in-time copy of the table grouped by
// universe, each group sorted by entity id. The lock is held only for the
// copy; sorting and everything downstream works on the copy.
func (s *Store) SnapshotByUniverse() map[uint16][]Entity {
	s.mu.RLock()
	groups := make(map[uint16][]Entity)
	for _, e := range s.entities {
		groups[e.Universe] = append(groups[e.Universe], e)
	}
	s.mu.RUnlock()

	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].ID < g[j].ID })
	}
	return groups
}
