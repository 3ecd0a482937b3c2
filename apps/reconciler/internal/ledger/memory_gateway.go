package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yugo-dao/yugo-sync/pkg/chain"
)

// Outcome scripts how one submission ends
type Outcome struct {
	// SubmitErr fails Submit itself, before any handle exists
	SubmitErr error
	// Err fails the handle
	Err error
	// Events settle the handle when Err is nil
	Events map[string]EventPayload
	// Delay postpones resolution
	Delay time.Duration
	// Hold leaves the handle pending until Resolve is called
	Hold bool
}

// Responder decides the outcome of calls with nothing queued
type Responder func(call Call) Outcome

// MemoryGateway is an in-process Gateway with scripted outcomes
type MemoryGateway struct {
	mu        sync.Mutex
	seq       uint64
	calls     []Call
	queued    map[string][]Outcome
	handles   map[string]*pendingHandle
	responder Responder
}

// NewMemoryGateway creates a gateway. Calls with nothing queued use responder;
// a nil responder leaves them pending until Resolve.
func NewMemoryGateway(responder Responder) *MemoryGateway {
	return &MemoryGateway{
		queued:    make(map[string][]Outcome),
		handles:   make(map[string]*pendingHandle),
		responder: responder,
	}
}

// Name returns the gateway name
func (g *MemoryGateway) Name() string {
	return "memory"
}

// Enqueue scripts the next outcome for a contract function
func (g *MemoryGateway) Enqueue(function string, outcome Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued[function] = append(g.queued[function], outcome)
}

// Submit records the call and applies the scripted outcome
func (g *MemoryGateway) Submit(ctx context.Context, call Call) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, Timeout(call.Function, "", err)
	}

	g.mu.Lock()
	g.calls = append(g.calls, call)

	outcome := Outcome{Hold: true}
	if q := g.queued[call.Function]; len(q) > 0 {
		outcome = q[0]
		g.queued[call.Function] = q[1:]
	} else if g.responder != nil {
		outcome = g.responder(call)
	}

	if outcome.SubmitErr != nil {
		g.mu.Unlock()
		return nil, outcome.SubmitErr
	}

	g.seq++
	block := g.seq
	txHash := fmt.Sprintf("0x%064x", block)
	h := newPendingHandle(call.Function, txHash)
	g.handles[txHash] = h
	g.mu.Unlock()

	if !outcome.Hold {
		settle := func() { h.resolve(settlementFor(txHash, block, outcome)) }
		if outcome.Delay > 0 {
			time.AfterFunc(outcome.Delay, settle)
		} else {
			settle()
		}
	}
	return h, nil
}

func settlementFor(txHash string, block uint64, outcome Outcome) (*Settlement, error) {
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	events := outcome.Events
	if events == nil {
		events = map[string]EventPayload{}
	}
	return &Settlement{TxHash: txHash, BlockNumber: block, Events: events}, nil
}

// Resolve settles or fails a held handle. It returns false if the handle is
// unknown or already resolved.
func (g *MemoryGateway) Resolve(txHash string, events map[string]EventPayload, err error) bool {
	g.mu.Lock()
	h, ok := g.handles[txHash]
	g.mu.Unlock()
	if !ok {
		return false
	}
	return h.resolve(settlementFor(txHash, 0, Outcome{Events: events, Err: err}))
}

// Calls returns every submitted call in order
func (g *MemoryGateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// Pending returns the hashes of handles not yet resolved
func (g *MemoryGateway) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []string
	for hash, h := range g.handles {
		if h.Status() == StatusPending {
			out = append(out, hash)
		}
	}
	return out
}

// SimulatedResponder settles every known contract function with the event the
// contract would emit, attributing it to signer. It lets the service run
// end-to-end without a chain.
func SimulatedResponder(signer string) Responder {
	signer = chain.Canonical(signer)
	return func(call Call) Outcome {
		str := func(name string) string {
			v, _ := call.Param(name)
			s, _ := v.(string)
			return chain.Canonical(s)
		}

		var events map[string]EventPayload
		switch call.Function {
		case FnRegisterOrganisation:
			events = map[string]EventPayload{EventOrganizationRegistered: {"addressOrga": signer}}
		case FnAddContest:
			events = map[string]EventPayload{EventContestCreated: {"addressOrga": signer}}
		case FnCreateAction:
			events = map[string]EventPayload{EventActionCreated: {"addressContestCreator": str("_creatorOfContest")}}
		case FnAddParticipant:
			events = map[string]EventPayload{EventParticipantWhitelisted: {
				"addressParticipant":  str("_addrParticipant"),
				"addressOrganization": str("_addrOrga"),
			}}
		case FnVoteForAction:
			events = map[string]EventPayload{}
		default:
			return Outcome{Err: Reverted(call.Function, "", "unknown function")}
		}
		return Outcome{Events: events}
	}
}
