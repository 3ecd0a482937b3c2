// Package projection is the off-chain document store the views are read from:
// named collections, predicate queries, point writes, unique-append and
// increment mutations, and live predicate subscriptions.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Collection names a group of documents
type Collection string

const (
	Organisations Collection = "Organisations"
	Participants  Collection = "Participants"
	Contests      Collection = "Contests"
	Actions       Collection = "Actions"
)

// AllCollections lists every collection the engine and views touch
var AllCollections = []Collection{Organisations, Participants, Contests, Actions}

var (
	// ErrNotFound is returned when a document id does not exist
	ErrNotFound = errors.New("document not found")
	// ErrNegativeDelta is returned by Increment for a negative delta
	ErrNegativeDelta = errors.New("increment delta must not be negative")
)

// Document is one JSON-shaped record. The "id" key holds its store-assigned id.
type Document map[string]interface{}

// IDField is the key documents carry their id under
const IDField = "id"

// ID returns the document id, or "" if unsaved
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// normalize deep-copies a document through JSON so stored values always have
// the shapes the decoder produces (float64 numbers, []interface{} arrays).
func normalize(v interface{}) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// ChangeKind tells subscribers which operation produced a change
type ChangeKind string

const (
	ChangeSaved     ChangeKind = "saved"
	ChangeAppended  ChangeKind = "appended"
	ChangeIncrement ChangeKind = "incremented"
)

// Change is a live-update notification. Consumers must treat it as "this
// document now looks like this", never as a diff to apply.
type Change struct {
	Collection Collection `json:"collection"`
	ID         string     `json:"id"`
	Kind       ChangeKind `json:"kind"`
	Document   Document   `json:"document"`
}

// Subscription delivers changes on C until Close is called. C is buffered to
// one slot and keeps only the newest pending change.
type Subscription struct {
	C <-chan Change

	once  sync.Once
	close func()
}

func newSubscription(c <-chan Change, closeFn func()) *Subscription {
	return &Subscription{C: c, close: closeFn}
}

// Close cancels the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.close)
}

// Store is the projection store contract. There is no cross-collection
// transaction: every call is an independent step.
type Store interface {
	Query(ctx context.Context, c Collection, p Predicate) ([]Document, error)
	Get(ctx context.Context, c Collection, id string) (Document, error)
	// Save inserts doc, or replaces it when doc carries an existing id, and returns the id.
	Save(ctx context.Context, c Collection, doc Document) (string, error)
	AppendUnique(ctx context.Context, c Collection, id, field string, value interface{}) error
	Increment(ctx context.Context, c Collection, id, field string, delta int64) error
	Subscribe(ctx context.Context, c Collection, p Predicate) (*Subscription, error)
}

// offer puts change on ch, evicting the pending one if the slot is full.
// Callers must serialize offers to the same channel.
func offer(ch chan Change, change Change) {
	select {
	case ch <- change:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- change:
	default:
	}
}

// ErrFeedPublish marks a write that committed but whose notification was not
// delivered. Callers may treat the write itself as done.
var ErrFeedPublish = errors.New("change notification not published")
