package persistence

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// MemoryStore keeps collections in process memory. Documents are copied on the way in and out.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]map[string]any)}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.collections[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Data: copyData(data)}, nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	docs := make([]Document, 0, len(s.collections[q.Collection]))
	for id, data := range s.collections[q.Collection] {
		docs = append(docs, Document{ID: id, Data: data})
	}
	s.mu.RUnlock()

	out := applyQuery(docs, q)
	for i := range out {
		out[i].Data = copyData(out[i].Data)
	}
	return out, nil
}

func (s *MemoryStore) Commit(ctx context.Context, mutations []Mutation) error {
	if err := validateMutations(mutations); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage on copies of the touched collections so a failure leaves the store untouched.
	staged := make(map[string]map[string]map[string]any)
	stage := func(collection string) map[string]map[string]any {
		if c, ok := staged[collection]; ok {
			return c
		}
		c := maps.Clone(s.collections[collection])
		if c == nil {
			c = make(map[string]map[string]any)
		}
		staged[collection] = c
		return c
	}

	for _, m := range mutations {
		c := stage(m.Collection)
		switch m.Kind {
		case MutationSet:
			data, err := normalize(m.Data)
			if err != nil {
				return fmt.Errorf("encode %s/%s: %w", m.Collection, m.ID, err)
			}
			c[m.ID] = data
		case MutationUpdate:
			current, ok := c[m.ID]
			if !ok {
				return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, ErrNotFound)
			}
			patch, err := normalize(m.Data)
			if err != nil {
				return fmt.Errorf("encode %s/%s: %w", m.Collection, m.ID, err)
			}
			merged := copyData(current)
			maps.Copy(merged, patch)
			c[m.ID] = merged
		case MutationDelete:
			delete(c, m.ID)
		default:
			return fmt.Errorf("%w: unknown mutation kind %d", ErrInvalidQuery, m.Kind)
		}
	}

	maps.Copy(s.collections, staged)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// copyData is shallow: stored values are immutable once normalized.
func copyData(data map[string]any) map[string]any {
	return maps.Clone(data)
}
