package dto

import (
	"time"
)

// Topic names for reconciliation events
const (
	TopicIntentOutcome = "reconcile.intent-outcome"
	TopicProjectionLag = "reconcile.projection-lag"
)

// Event types
const (
	EventTypeIntentOutcome = "intent.outcome"
	EventTypeProjectionLag = "projection.lag"
)

// IntentOutcomeEvent is published when an intent reaches a terminal state
type IntentOutcomeEvent struct {
	EventType   string    `json:"event_type"`
	IntentID    string    `json:"intent_id"`
	Kind        string    `json:"kind"`
	Caller      string    `json:"caller"`
	State       string    `json:"state"`
	TxHash      string    `json:"tx_hash,omitempty"`
	FailureKind string    `json:"failure_kind,omitempty"`
	Message     string    `json:"message,omitempty"`
	Settled     bool      `json:"settled"`
	Timestamp   time.Time `json:"timestamp"`
}

// Key returns the Kafka message key for partitioning
func (e *IntentOutcomeEvent) Key() string {
	return e.IntentID
}

// ProjectionLagEvent is published when the ledger settled a change the
// projection store could not follow. Consumers can replay it from TxHash.
type ProjectionLagEvent struct {
	EventType string    `json:"event_type"`
	IntentID  string    `json:"intent_id"`
	Kind      string    `json:"kind"`
	TxHash    string    `json:"tx_hash"`
	Step      string    `json:"step"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the Kafka message key for partitioning
func (e *ProjectionLagEvent) Key() string {
	return e.TxHash
}
