package reconcile

import (
	"errors"
	"fmt"

	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/ledger"
)

var (
	// ErrDuplicateIntent is returned when an identical intent is still in flight
	ErrDuplicateIntent = errors.New("identical intent already in flight")
	// ErrStoreWriteFailed means the ledger applied the change but the projection did not follow
	ErrStoreWriteFailed = errors.New("projection write failed after settlement")
	// ErrContestNotCorrelated means no eligible contest matched a settled action
	ErrContestNotCorrelated = errors.New("no eligible contest matches the settled action")
	// ErrOrganisationNotProjected means the organisation named by an event is not in the store yet
	ErrOrganisationNotProjected = errors.New("organisation not projected")
	// ErrActionNotFound is returned when voting for an unknown action
	ErrActionNotFound = errors.New("action not found")
	// ErrEngineClosed is returned by Submit after Close
	ErrEngineClosed = errors.New("engine closed")
)

// DuplicateIntentError names the intent already carrying the same fingerprint
type DuplicateIntentError struct {
	ExistingID string
}

func (e *DuplicateIntentError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateIntent, e.ExistingID)
}

func (e *DuplicateIntentError) Is(target error) bool {
	return target == ErrDuplicateIntent
}

// StoreWriteError is a projection failure after the ledger settled. Step names
// the write that failed; writes before it were applied.
type StoreWriteError struct {
	IntentID string
	TxHash   string
	Step     string
	Err      error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("intent %s (%s): %s failed: %v", e.IntentID, e.TxHash, e.Step, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

func (e *StoreWriteError) Is(target error) bool {
	return target == ErrStoreWriteFailed
}

// Failure kinds recorded on the intent journal
const (
	FailureRejected   = "gateway_rejected"
	FailureReverted   = "gateway_reverted"
	FailureTimeout    = "gateway_timeout"
	FailureStoreWrite = "store_write_failed"
	FailureInternal   = "internal"
)

// FailureKind classifies err into one of the journal failure kinds
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStoreWriteFailed):
		return FailureStoreWrite
	}
	switch ledger.KindOf(err) {
	case ledger.KindRejected:
		return FailureRejected
	case ledger.KindReverted:
		return FailureReverted
	case ledger.KindTimeout:
		return FailureTimeout
	}
	return FailureInternal
}

// OnChainApplied reports whether err happened after the ledger recorded the
// change, meaning the projection may lag rather than nothing having happened
func OnChainApplied(err error) bool {
	return errors.Is(err, ErrStoreWriteFailed)
}
