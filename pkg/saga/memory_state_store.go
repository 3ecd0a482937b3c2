package saga

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStateStore is an in-memory implementation of StateStore
type MemoryStateStore struct {
	mu          sync.RWMutex
	intents     map[string]*IntentSaga
	transitions map[string][]StateTransition
	byTxHash    map[string]string // txHash -> intentID
}

// NewMemoryStateStore creates a new in-memory state store
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		intents:     make(map[string]*IntentSaga),
		transitions: make(map[string][]StateTransition),
		byTxHash:    make(map[string]string),
	}
}

// SaveIntent persists a new intent
func (s *MemoryStateStore) SaveIntent(ctx context.Context, intent *IntentSaga) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.intents[intent.ID]; exists {
		return ErrIntentExists
	}

	s.intents[intent.ID] = copyIntent(intent)
	if intent.TxHash != "" {
		s.byTxHash[intent.TxHash] = intent.ID
	}
	return nil
}

// GetIntent retrieves an intent by ID
func (s *MemoryStateStore) GetIntent(ctx context.Context, id string) (*IntentSaga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, exists := s.intents[id]
	if !exists {
		return nil, ErrIntentNotFound
	}
	return copyIntent(intent), nil
}

// GetIntentByTxHash retrieves an intent by transaction hash
func (s *MemoryStateStore) GetIntentByTxHash(ctx context.Context, txHash string) (*IntentSaga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byTxHash[txHash]
	if !exists {
		return nil, ErrIntentNotFound
	}
	intent, exists := s.intents[id]
	if !exists {
		return nil, ErrIntentNotFound
	}
	return copyIntent(intent), nil
}

// UpdateIntent updates an existing intent
func (s *MemoryStateStore) UpdateIntent(ctx context.Context, intent *IntentSaga) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.intents[intent.ID]; !exists {
		return ErrIntentNotFound
	}

	s.intents[intent.ID] = copyIntent(intent)
	if intent.TxHash != "" {
		s.byTxHash[intent.TxHash] = intent.ID
	}
	return nil
}

// SaveTransition persists a state transition
func (s *MemoryStateStore) SaveTransition(ctx context.Context, transition *StateTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions[transition.IntentID] = append(s.transitions[transition.IntentID], *transition)
	return nil
}

// GetTransitions retrieves all transitions for an intent, oldest first
func (s *MemoryStateStore) GetTransitions(ctx context.Context, intentID string) ([]StateTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transitions := s.transitions[intentID]
	result := make([]StateTransition, len(transitions))
	copy(result, transitions)
	return result, nil
}

// GetIntentsByState retrieves intents by state, oldest first
func (s *MemoryStateStore) GetIntentsByState(ctx context.Context, state IntentState, limit int) ([]*IntentSaga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*IntentSaga
	for _, intent := range s.intents {
		if intent.State == state {
			result = append(result, copyIntent(intent))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListIntents returns one page of intents in any of states, oldest first
func (s *MemoryStateStore) ListIntents(ctx context.Context, states []IntentState, offset, limit int) ([]*IntentSaga, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*IntentSaga
	for _, intent := range s.intents {
		if slices.Contains(states, intent.State) {
			matched = append(matched, intent)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min(max(offset, 0), total)
	end := total
	if limit > 0 {
		end = min(start+limit, total)
	}

	page := make([]*IntentSaga, 0, end-start)
	for _, intent := range matched[start:end] {
		page = append(page, copyIntent(intent))
	}
	return page, total, nil
}

// Clear removes all data
func (s *MemoryStateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = make(map[string]*IntentSaga)
	s.transitions = make(map[string][]StateTransition)
	s.byTxHash = make(map[string]string)
}

// Count returns the number of stored intents
func (s *MemoryStateStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.intents)
}

// copyIntent creates a copy of an intent; the payload map is copied one level deep
func copyIntent(intent *IntentSaga) *IntentSaga {
	if intent == nil {
		return nil
	}

	copied := *intent
	if intent.Payload != nil {
		copied.Payload = make(map[string]interface{}, len(intent.Payload))
		for k, v := range intent.Payload {
			copied.Payload[k] = v
		}
	}
	if intent.CompletedAt != nil {
		completed := *intent.CompletedAt
		copied.CompletedAt = &completed
	}
	return &copied
}

// generateID generates a unique ID using UUID
func generateID() string {
	return uuid.New().String()
}
