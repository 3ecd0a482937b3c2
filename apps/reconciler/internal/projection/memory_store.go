package projection

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type memCollection struct {
	docs  map[string]Document
	order []string
}

// MemoryStore is an in-memory Store backed by a LocalFeed
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[Collection]*memCollection
	feed        *LocalFeed
	newID       func() string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[Collection]*memCollection),
		feed:        NewLocalFeed(),
		newID:       func() string { return uuid.New().String() },
	}
}

func (s *MemoryStore) collection(c Collection) *memCollection {
	col, ok := s.collections[c]
	if !ok {
		col = &memCollection{docs: make(map[string]Document)}
		s.collections[c] = col
	}
	return col
}

// Query returns matching documents in insertion order
func (s *MemoryStore) Query(ctx context.Context, c Collection, p Predicate) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[c]
	if !ok {
		return []Document{}, nil
	}

	result := make([]Document, 0, len(col.order))
	for _, id := range col.order {
		doc := col.docs[id]
		if p.Matches(doc) {
			cp, err := normalize(doc)
			if err != nil {
				return nil, err
			}
			result = append(result, cp)
		}
	}
	return result, nil
}

// Get returns one document
func (s *MemoryStore) Get(ctx context.Context, c Collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[c]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	doc, ok := col.docs[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	return normalize(doc)
}

// Save inserts or replaces a document
func (s *MemoryStore) Save(ctx context.Context, c Collection, doc Document) (string, error) {
	stored, err := normalize(doc)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	col := s.collection(c)
	id := stored.ID()
	if id == "" {
		id = s.newID()
		stored[IDField] = id
	}
	if _, exists := col.docs[id]; !exists {
		col.order = append(col.order, id)
	}
	col.docs[id] = stored
	snapshot, err := normalize(stored)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	return id, s.feed.Publish(ctx, Change{Collection: c, ID: id, Kind: ChangeSaved, Document: snapshot})
}

// AppendUnique adds value to the array field unless already present
func (s *MemoryStore) AppendUnique(ctx context.Context, c Collection, id, field string, value interface{}) error {
	v := jsonValue(value)
	return s.mutate(ctx, c, id, ChangeAppended, func(doc Document) error {
		arr, _ := doc[field].([]interface{})
		if EqualTo(field, v).Matches(doc) {
			return nil
		}
		doc[field] = append(arr, v)
		return nil
	})
}

// Increment adds delta to a numeric field, treating a missing field as zero
func (s *MemoryStore) Increment(ctx context.Context, c Collection, id, field string, delta int64) error {
	if delta < 0 {
		return ErrNegativeDelta
	}
	return s.mutate(ctx, c, id, ChangeIncrement, func(doc Document) error {
		current, _ := doc[field].(float64)
		doc[field] = current + float64(delta)
		return nil
	})
}

func (s *MemoryStore) mutate(ctx context.Context, c Collection, id string, kind ChangeKind, fn func(Document) error) error {
	s.mu.Lock()
	col := s.collection(c)
	doc, ok := col.docs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	if err := fn(doc); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot, err := normalize(doc)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return s.feed.Publish(ctx, Change{Collection: c, ID: id, Kind: kind, Document: snapshot})
}

// Subscribe opens a live subscription
func (s *MemoryStore) Subscribe(ctx context.Context, c Collection, p Predicate) (*Subscription, error) {
	return s.feed.Subscribe(ctx, c, p)
}

// Feed returns the store's change feed
func (s *MemoryStore) Feed() *LocalFeed {
	return s.feed
}

// Count returns the number of documents in a collection
func (s *MemoryStore) Count(c Collection) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if col, ok := s.collections[c]; ok {
		return len(col.docs)
	}
	return 0
}

// Close ends every live subscription
func (s *MemoryStore) Close() error {
	return s.feed.Close()
}
