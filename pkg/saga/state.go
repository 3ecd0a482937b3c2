package saga

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// IntentState represents the state of a write intent
type IntentState string

const (
	StateIdle               IntentState = "IDLE"
	StateSubmitted          IntentState = "SUBMITTED"
	StateAwaitingSettlement IntentState = "AWAITING_SETTLEMENT"
	StateEventExtracted     IntentState = "EVENT_EXTRACTED"
	StateCommitting         IntentState = "COMMITTING"
	StateDone               IntentState = "DONE"
	StateFailed             IntentState = "FAILED"
	StateDiscarded          IntentState = "DISCARDED"
)

var (
	// ErrInvalidStateTransition is returned when a state transition is not allowed
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrIntentNotFound is returned when an intent is not found
	ErrIntentNotFound = errors.New("intent not found")
	// ErrIntentExists is returned when saving an intent whose id is taken
	ErrIntentExists = errors.New("intent already exists")
)

// validTransitions defines allowed state transitions.
// Key is current state, value is list of allowed next states.
var validTransitions = map[IntentState][]IntentState{
	StateIdle:               {StateSubmitted, StateFailed},
	StateSubmitted:          {StateAwaitingSettlement, StateFailed},
	StateAwaitingSettlement: {StateEventExtracted, StateFailed, StateDiscarded},
	StateEventExtracted:     {StateCommitting, StateFailed},
	StateCommitting:         {StateDone, StateFailed},
	StateDone:               {},
	StateFailed:             {},
	StateDiscarded:          {},
}

// pendingStates are the non-terminal states, in pipeline order
var pendingStates = []IntentState{
	StateIdle, StateSubmitted, StateAwaitingSettlement, StateEventExtracted, StateCommitting,
}

// IsTerminal returns true if the state is a terminal state
func (s IntentState) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateDiscarded
}

// IsValid returns true if the state is known
func (s IntentState) IsValid() bool {
	_, exists := validTransitions[s]
	return exists
}

// CanTransitionTo returns true if transition to the target state is allowed
func (s IntentState) CanTransitionTo(target IntentState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IntentSaga is the journal record of one write intent
type IntentSaga struct {
	ID            string                 `json:"id"`
	Kind          string                 `json:"kind"`
	Caller        string                 `json:"caller"`
	Fingerprint   string                 `json:"fingerprint"`
	State         IntentState            `json:"state"`
	PreviousState IntentState            `json:"previous_state,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	TxHash        string                 `json:"tx_hash,omitempty"`
	FailureKind   string                 `json:"failure_kind,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	Settled       bool                   `json:"settled"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}

// StateTransition represents a state transition record
type StateTransition struct {
	ID        string      `json:"id"`
	IntentID  string      `json:"intent_id"`
	FromState IntentState `json:"from_state"`
	ToState   IntentState `json:"to_state"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// StateStore persists intents and their transitions
type StateStore interface {
	// SaveIntent persists a new intent
	SaveIntent(ctx context.Context, intent *IntentSaga) error
	// GetIntent retrieves an intent by ID
	GetIntent(ctx context.Context, id string) (*IntentSaga, error)
	// GetIntentByTxHash retrieves an intent by its ledger transaction hash
	GetIntentByTxHash(ctx context.Context, txHash string) (*IntentSaga, error)
	// UpdateIntent updates an existing intent
	UpdateIntent(ctx context.Context, intent *IntentSaga) error
	// SaveTransition persists a state transition
	SaveTransition(ctx context.Context, transition *StateTransition) error
	// GetTransitions retrieves all transitions for an intent
	GetTransitions(ctx context.Context, intentID string) ([]StateTransition, error)
	// GetIntentsByState retrieves intents by state
	GetIntentsByState(ctx context.Context, state IntentState, limit int) ([]*IntentSaga, error)
	// ListIntents returns one page of intents in any of states, oldest first,
	// and how many intents those states hold in total
	ListIntents(ctx context.Context, states []IntentState, offset, limit int) ([]*IntentSaga, int, error)
}

// StateMachine drives intents through validTransitions and journals every step
type StateMachine struct {
	store StateStore
	now   func() time.Time
}

// NewStateMachine creates a new state machine
func NewStateMachine(store StateStore) *StateMachine {
	return &StateMachine{store: store, now: time.Now}
}

// CreateIntent records a new intent in IDLE state. The id is supplied by the
// caller so it can double as the correlation id handed back to clients.
func (sm *StateMachine) CreateIntent(ctx context.Context, id, kind, caller, fingerprint string, payload map[string]interface{}) (*IntentSaga, error) {
	now := sm.now()
	if payload == nil {
		payload = make(map[string]interface{})
	}

	intent := &IntentSaga{
		ID:          id,
		Kind:        kind,
		Caller:      caller,
		Fingerprint: fingerprint,
		State:       StateIdle,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := sm.store.SaveIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to save intent: %w", err)
	}
	return intent, nil
}

// TransitionTo moves the intent to newState, applying mutate to the record
// before it is written back
func (sm *StateMachine) TransitionTo(ctx context.Context, id string, newState IntentState, reason string, mutate func(*IntentSaga)) (*IntentSaga, error) {
	intent, err := sm.store.GetIntent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}

	if !intent.State.CanTransitionTo(newState) {
		return nil, fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStateTransition, intent.State, newState)
	}

	now := sm.now()
	transition := &StateTransition{
		ID:        generateID(),
		IntentID:  id,
		FromState: intent.State,
		ToState:   newState,
		Reason:    reason,
		Timestamp: now,
	}
	if err := sm.store.SaveTransition(ctx, transition); err != nil {
		return nil, fmt.Errorf("failed to save transition: %w", err)
	}

	intent.PreviousState = intent.State
	intent.State = newState
	intent.UpdatedAt = now
	if newState.IsTerminal() {
		intent.CompletedAt = &now
	}
	if mutate != nil {
		mutate(intent)
	}

	if err := sm.store.UpdateIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to update intent: %w", err)
	}
	return intent, nil
}

// MarkSubmitted records the transaction hash handed back by the ledger
func (sm *StateMachine) MarkSubmitted(ctx context.Context, id, txHash string) (*IntentSaga, error) {
	return sm.TransitionTo(ctx, id, StateSubmitted, "transaction submitted", func(i *IntentSaga) {
		i.TxHash = txHash
	})
}

// MarkAwaiting parks the intent until its settlement arrives
func (sm *StateMachine) MarkAwaiting(ctx context.Context, id string) (*IntentSaga, error) {
	return sm.TransitionTo(ctx, id, StateAwaitingSettlement, "awaiting settlement", nil)
}

// MarkExtracted records that the expected event was found in the settlement
func (sm *StateMachine) MarkExtracted(ctx context.Context, id, event string) (*IntentSaga, error) {
	return sm.TransitionTo(ctx, id, StateEventExtracted, "extracted "+event, func(i *IntentSaga) {
		i.Settled = true
	})
}

// MarkCommitting records that projection writes are being issued
func (sm *StateMachine) MarkCommitting(ctx context.Context, id string) (*IntentSaga, error) {
	return sm.TransitionTo(ctx, id, StateCommitting, "committing projection writes", nil)
}

// MarkDone retires the intent
func (sm *StateMachine) MarkDone(ctx context.Context, id string) (*IntentSaga, error) {
	return sm.TransitionTo(ctx, id, StateDone, "projection committed", nil)
}

// MarkDiscarded retires an intent whose settlement carried nothing to commit
func (sm *StateMachine) MarkDiscarded(ctx context.Context, id, reason string) (*IntentSaga, error) {
	return sm.TransitionTo(ctx, id, StateDiscarded, reason, func(i *IntentSaga) {
		i.Settled = true
	})
}

// MarkFailed moves a non-terminal intent to FAILED. settled records whether
// the ledger had already applied the change when the failure happened.
func (sm *StateMachine) MarkFailed(ctx context.Context, id, failureKind, errorMessage string, settled bool) (*IntentSaga, error) {
	intent, err := sm.store.GetIntent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}
	if intent.State.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot transition from terminal state %s", ErrInvalidStateTransition, intent.State)
	}

	return sm.TransitionTo(ctx, id, StateFailed, errorMessage, func(i *IntentSaga) {
		i.FailureKind = failureKind
		i.ErrorMessage = errorMessage
		i.Settled = i.Settled || settled
	})
}

// GetIntent retrieves an intent by ID
func (sm *StateMachine) GetIntent(ctx context.Context, id string) (*IntentSaga, error) {
	return sm.store.GetIntent(ctx, id)
}

// GetIntentByTxHash retrieves an intent by transaction hash
func (sm *StateMachine) GetIntentByTxHash(ctx context.Context, txHash string) (*IntentSaga, error) {
	return sm.store.GetIntentByTxHash(ctx, txHash)
}

// GetTransitionHistory retrieves all transitions for an intent
func (sm *StateMachine) GetTransitionHistory(ctx context.Context, id string) ([]StateTransition, error) {
	return sm.store.GetTransitions(ctx, id)
}

// GetPendingIntents retrieves intents that have not reached a terminal state
func (sm *StateMachine) GetPendingIntents(ctx context.Context, limit int) ([]*IntentSaga, error) {
	var result []*IntentSaga

	for _, state := range pendingStates {
		intents, err := sm.store.GetIntentsByState(ctx, state, limit)
		if err != nil {
			return nil, err
		}
		result = append(result, intents...)
		if limit > 0 && len(result) >= limit {
			return result[:limit], nil
		}
	}
	return result, nil
}

// ListIntents pages through intents in one state, or through every
// non-terminal intent when state is empty
func (sm *StateMachine) ListIntents(ctx context.Context, state IntentState, offset, limit int) ([]*IntentSaga, int, error) {
	states := pendingStates
	if state != "" {
		states = []IntentState{state}
	}
	return sm.store.ListIntents(ctx, states, offset, limit)
}

// GetIntentsByState lists intents in one state
func (sm *StateMachine) GetIntentsByState(ctx context.Context, state IntentState, limit int) ([]*IntentSaga, error) {
	return sm.store.GetIntentsByState(ctx, state, limit)
}
