package topics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Entry is a loaded topic with the metadata of where it came from
type Entry struct {
	Topic    *Topic    `json:"-"`
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Registry is the set of loaded topics keyed by name
type Registry struct {
	entries map[string]*Entry
	mu      sync.RWMutex
}

// NewRegistry creates a new, empty topic registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Merge adds the given topic records to the registry. A name that is
// already loaded with an identical body is accepted and left untouched; a
// name loaded with a different body rejects the whole batch.
func (r *Registry) Merge(source string, cfgs ...Config) error {
	built := make([]*Topic, 0, len(cfgs))
	batch := make(map[string]*Topic, len(cfgs))
	for _, cfg := range cfgs {
		t, err := New(cfg)
		if err != nil {
			if ce, ok := err.(*ConfigError); ok {
				ce.Source = source
			}
			return err
		}
		if prev, ok := batch[t.Name()]; ok && !prev.Equal(t) {
			return formatError(source, t.Name(), "topic declared more than once with different bodies", nil)
		}
		batch[t.Name()] = t
		built = append(built, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range built {
		if existing, ok := r.entries[t.Name()]; ok && !existing.Topic.Equal(t) {
			return formatError(source, t.Name(),
				fmt.Sprintf("conflicts with topic already loaded from %s", existing.Source), nil)
		}
	}

	now := time.Now()
	for _, t := range built {
		if _, ok := r.entries[t.Name()]; ok {
			continue
		}
		r.entries[t.Name()] = &Entry{
			Topic:    t,
			Source:   source,
			LoadedAt: now,
		}
	}
	return nil
}

// Get returns a topic by name
func (r *Registry) Get(name string) (*Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[name]
	if !exists {
		return nil, false
	}
	return entry.Topic, true
}

// Entry returns a copy of the registry entry for a topic
func (r *Registry) Entry(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[name]
	if !exists {
		return Entry{}, false
	}
	return *entry, true
}

// List returns all loaded topics sorted by name
func (r *Registry) List() []*Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Topic, 0, len(r.entries))
	for _, entry := range r.entries {
		list = append(list, entry.Topic)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}

// Count returns the number of loaded topics
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
