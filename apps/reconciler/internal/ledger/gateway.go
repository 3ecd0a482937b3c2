// Package ledger submits contract calls and reports their settlement.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/yugo-dao/yugo-sync/pkg/chain"
)

// Param is one named contract argument
type Param struct {
	Name  string
	Value interface{}
}

// Call is a named contract function invocation. Params are matched to the ABI
// inputs by name, so their order here does not matter.
type Call struct {
	Function string
	Params   []Param
	// Value is the wei attached to payable calls
	Value *big.Int
}

// Param returns the value bound to name
func (c Call) Param(name string) (interface{}, bool) {
	for _, p := range c.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// EventPayload is the decoded field set of one emitted event. Addresses are
// canonical lower-case strings and integers are *big.Int.
type EventPayload map[string]interface{}

// Address returns an address field in canonical form
func (p EventPayload) Address(field string) (string, bool) {
	v, ok := p[field].(string)
	if !ok || v == "" {
		return "", false
	}
	return chain.Canonical(v), true
}

// Settlement is a confirmed transaction and the events it emitted
type Settlement struct {
	TxHash      string
	BlockNumber uint64
	Events      map[string]EventPayload
}

// Event returns the payload of a named event
func (s *Settlement) Event(name string) (EventPayload, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.Events[name]
	return p, ok
}

// Status is the lifecycle of a handle
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

// Handle tracks one submitted transaction until it settles or fails
type Handle interface {
	TxHash() string
	Status() Status
	// Wait blocks until settlement. Context cancellation while waiting is
	// reported as a timeout; the transaction itself may still settle later.
	Wait(ctx context.Context) (*Settlement, error)
}

// Gateway submits contract calls. It never retries; retry policy belongs to the caller.
type Gateway interface {
	// Submit sends the call and returns once the transaction is accepted for mining
	Submit(ctx context.Context, call Call) (Handle, error)

	// Name returns the gateway name
	Name() string
}

// Kind classifies gateway failures
type Kind string

const (
	KindRejected Kind = "rejected"
	KindReverted Kind = "reverted"
	KindTimeout  Kind = "timeout"
)

var (
	ErrRejected = errors.New("ledger: submission rejected")
	ErrReverted = errors.New("ledger: execution reverted")
	ErrTimeout  = errors.New("ledger: settlement timed out")
)

// Error is a terminal gateway failure
type Error struct {
	Kind     Kind
	Function string
	TxHash   string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ledger %s %s", e.Function, e.Kind)
	if e.TxHash != "" {
		msg += " (" + e.TxHash + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrReverted:
		return e.Kind == KindReverted
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// Rejected builds a rejection error
func Rejected(function, reason string) *Error {
	return &Error{Kind: KindRejected, Function: function, Reason: reason}
}

// Reverted builds a revert error
func Reverted(function, txHash, reason string) *Error {
	return &Error{Kind: KindReverted, Function: function, TxHash: txHash, Reason: reason}
}

// Timeout builds a timeout error
func Timeout(function, txHash string, err error) *Error {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return &Error{Kind: KindTimeout, Function: function, TxHash: txHash, Reason: reason, Err: err}
}

// KindOf returns the failure kind of err, or "" if err is not a gateway error
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// pendingHandle resolves exactly once
type pendingHandle struct {
	function string
	txHash   string
	done     chan struct{}
	once     sync.Once

	settlement *Settlement
	err        error
}

func newPendingHandle(function, txHash string) *pendingHandle {
	return &pendingHandle{function: function, txHash: txHash, done: make(chan struct{})}
}

func (h *pendingHandle) resolve(s *Settlement, err error) bool {
	resolved := false
	h.once.Do(func() {
		h.settlement = s
		h.err = err
		close(h.done)
		resolved = true
	})
	return resolved
}

func (h *pendingHandle) TxHash() string {
	return h.txHash
}

func (h *pendingHandle) Status() Status {
	select {
	case <-h.done:
		if h.err != nil {
			return StatusFailed
		}
		return StatusSettled
	default:
		return StatusPending
	}
}

func (h *pendingHandle) Wait(ctx context.Context) (*Settlement, error) {
	select {
	case <-h.done:
		return h.settlement, h.err
	case <-ctx.Done():
		return nil, Timeout(h.function, h.txHash, ctx.Err())
	}
}
