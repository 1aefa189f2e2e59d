// Package structmem implements the structured-memory lane (spec §4.6):
// entity×attribute key-value facts with versioning and prefix query,
// staged the same two-phase way as lex and vector.
package structmem

import (
	"sort"
	"sync"

	"github.com/waxrag/waxrag/waxerr"
)

// Entry is one committed structured-memory fact.
type Entry struct {
	ID        uint64
	Entity    string
	Attribute string
	Value     string
	Version   uint64
	Metadata  map[string]string
}

type key struct{ entity, attribute string }

type stagedOp struct {
	remove                   bool
	entity, attribute, value string
	metadata                 map[string]string
}

// Store is a committed-view structured-memory table with staged
// mutations.
type Store struct {
	mu sync.Mutex

	entries map[key]*Entry
	nextID  uint64

	staged []stagedOp // staged upserts and removes, in insertion order
}

// New constructs an empty structured-memory store.
func New() *Store {
	return &Store{entries: make(map[key]*Entry)}
}

func validate(entity, attribute string) error {
	if entity == "" {
		return waxerr.New("structmem", waxerr.KindInvalidArgument, "entity must not be empty")
	}
	if attribute == "" {
		return waxerr.New("structmem", waxerr.KindInvalidArgument, "attribute must not be empty")
	}
	return nil
}

// Upsert immediately writes (or versions forward) entity/attribute and
// returns its stable id.
func (s *Store) Upsert(entity, attribute, value string, metadata map[string]string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyUpsert(entity, attribute, value, metadata)
}

// Remove immediately deletes entity/attribute, reporting whether it was
// present.
func (s *Store) Remove(entity, attribute string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyRemove(entity, attribute)
}

// StageUpsert queues an upsert, invisible to queries until CommitStaged.
func (s *Store) StageUpsert(entity, attribute, value string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := validate(entity, attribute); err != nil {
		return err
	}
	s.staged = append(s.staged, stagedOp{entity: entity, attribute: attribute, value: value, metadata: metadata})
	return nil
}

// StageRemove queues a removal.
func (s *Store) StageRemove(entity, attribute string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := validate(entity, attribute); err != nil {
		return err
	}
	s.staged = append(s.staged, stagedOp{remove: true, entity: entity, attribute: attribute})
	return nil
}

// PendingMutationCount reports how many staged operations are queued.
func (s *Store) PendingMutationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

// CommitStaged applies staged upserts/removes in insertion order; the
// last write to a key within the batch wins.
func (s *Store) CommitStaged() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.staged {
		if o.remove {
			if _, err := s.applyRemove(o.entity, o.attribute); err != nil {
				return err
			}
		} else {
			if _, err := s.applyUpsert(o.entity, o.attribute, o.value, o.metadata); err != nil {
				return err
			}
		}
	}
	s.staged = nil
	return nil
}

// RollbackStaged discards queued mutations.
func (s *Store) RollbackStaged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = nil
}

func (s *Store) applyUpsert(entity, attribute, value string, metadata map[string]string) (uint64, error) {
	if err := validate(entity, attribute); err != nil {
		return 0, err
	}
	k := key{entity: entity, attribute: attribute}
	if existing, ok := s.entries[k]; ok {
		existing.Value = value
		existing.Version++
		existing.Metadata = metadata
		return existing.ID, nil
	}
	id := s.nextID
	s.nextID++
	s.entries[k] = &Entry{ID: id, Entity: entity, Attribute: attribute, Value: value, Version: 1, Metadata: metadata}
	return id, nil
}

func (s *Store) applyRemove(entity, attribute string) (bool, error) {
	if err := validate(entity, attribute); err != nil {
		return false, err
	}
	k := key{entity: entity, attribute: attribute}
	if _, ok := s.entries[k]; !ok {
		return false, nil
	}
	delete(s.entries, k)
	return true, nil
}

// QueryByEntityPrefix returns committed entries whose entity starts with
// prefix, ordered lexicographically by (entity, attribute), clamped to
// limit (negative = unlimited).
func (s *Store) QueryByEntityPrefix(prefix string, limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if len(e.Entity) >= len(prefix) && e.Entity[:len(prefix)] == prefix {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].Attribute < out[j].Attribute
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
