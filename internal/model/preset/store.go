package preset

import "strings"

// Store exposes preset retrieval for HTTP handlers and the orchestrator.
type Store interface {
	List() []Preset
	FindByID(id string) (Preset, bool)
}

// MemoryStore keeps presets in declaration order with an index by ID.
type MemoryStore struct {
	items []Preset
	byID  map[string]int
}

// NewMemoryStore indexes the supplied presets. Entries without an ID are skipped;
// for a repeated ID the first entry wins.
func NewMemoryStore(items []Preset) *MemoryStore {
	s := &MemoryStore{byID: make(map[string]int, len(items))}
	for _, item := range items {
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" {
			continue
		}
		if _, dup := s.byID[item.ID]; dup {
			continue
		}
		s.byID[item.ID] = len(s.items)
		s.items = append(s.items, item)
	}
	return s
}

// List returns the presets in declaration order.
func (s *MemoryStore) List() []Preset {
	return append([]Preset(nil), s.items...)
}

// FindByID looks up a preset. A blank id resolves to DefaultID, which is what a
// session created without a preset is bound to.
func (s *MemoryStore) FindByID(id string) (Preset, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = DefaultID
	}
	i, ok := s.byID[id]
	if !ok {
		return Preset{}, false
	}
	return s.items[i], true
}
