// Package reconcile drives write intents through the ledger and projects the
// confirmed result into the projection store.
//
// Each intent moves IDLE -> SUBMITTED -> AWAITING_SETTLEMENT ->
// EVENT_EXTRACTED -> COMMITTING -> DONE, or ends FAILED or DISCARDED. Nothing
// is written to the projection before the ledger has settled the transaction
// with the expected event.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/dto"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/eligibility"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/ledger"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/projection"
	"github.com/yugo-dao/yugo-sync/pkg/chain"
	"github.com/yugo-dao/yugo-sync/pkg/kafka"
	"github.com/yugo-dao/yugo-sync/pkg/logger"
	"github.com/yugo-dao/yugo-sync/pkg/saga"
	"github.com/yugo-dao/yugo-sync/pkg/telemetry"
	"go.uber.org/zap"
)

// Publisher sends engine events to the message bus. *kafka.Producer satisfies it.
type Publisher interface {
	ProduceMessage(ctx context.Context, topic string, msg kafka.Message) error
}

// SettlementGuard claims a settlement so that only one replica commits it.
// *redis.Client satisfies it.
type SettlementGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Config holds the engine's collaborators. Gateway, Store and Projector are
// required.
type Config struct {
	Gateway   ledger.Gateway
	Store     *projection.Client
	Projector *eligibility.Projector
	// States journals every intent; defaults to an in-memory store
	States saga.StateStore
	// Caller is the signer address; defaults to the projector's caller
	Caller string
	// Publisher and Guard are optional
	Publisher Publisher
	Guard     SettlementGuard
	GuardTTL  time.Duration
	// SettlementTimeout bounds the wait for each transaction
	SettlementTimeout time.Duration
	Logger            *logger.Logger
}

// Engine reconciles ledger settlements into the projection store
type Engine struct {
	gateway           ledger.Gateway
	client            *projection.Client
	projector         *eligibility.Projector
	states            *saga.StateMachine
	caller            string
	publisher         Publisher
	guard             SettlementGuard
	guardTTL          time.Duration
	settlementTimeout time.Duration
	log               *logger.Logger
	metrics           *engineMetrics
	now               func() time.Time

	mu       sync.Mutex
	pending  map[string]*pending // by tx hash
	inflight map[string]string   // fingerprint -> intent id
	closed   bool

	// settlements are committed one at a time
	commitMu sync.Mutex
	wg       sync.WaitGroup
}

// pending is the domain payload remembered between submission and settlement
type pending struct {
	id          string
	kind        Kind
	fingerprint string
	txHash      string
	plan        *plan
	submittedAt time.Time

	done  chan struct{}
	final *saga.IntentSaga
	err   error
}

// Ticket is the caller's handle on a submitted intent
type Ticket struct {
	ID     string
	Kind   Kind
	TxHash string

	p *pending
}

// Done is closed once the intent reaches a terminal state
func (t *Ticket) Done() <-chan struct{} {
	return t.p.done
}

// Wait blocks until the intent is terminal and returns its journal record.
// The error is the failure surfaced to the caller: a *ledger.Error when
// nothing happened, a *StoreWriteError when the ledger applied the change but
// the projection lags. A discarded settlement is not an error.
func (t *Ticket) Wait(ctx context.Context) (*saga.IntentSaga, error) {
	select {
	case <-t.p.done:
		return t.p.final, t.p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewEngine creates an engine
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("reconcile: gateway is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("reconcile: projection store is required")
	}
	if cfg.Projector == nil {
		return nil, errors.New("reconcile: projector is required")
	}

	states := cfg.States
	if states == nil {
		states = saga.NewMemoryStateStore()
	}
	caller := chain.Canonical(cfg.Caller)
	if caller == "" {
		caller = cfg.Projector.Caller()
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = 2 * time.Minute
	}
	if cfg.GuardTTL <= 0 {
		cfg.GuardTTL = 24 * time.Hour
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &Engine{
		gateway:           cfg.Gateway,
		client:            cfg.Store,
		projector:         cfg.Projector,
		states:            saga.NewStateMachine(states),
		caller:            caller,
		publisher:         cfg.Publisher,
		guard:             cfg.Guard,
		guardTTL:          cfg.GuardTTL,
		settlementTimeout: cfg.SettlementTimeout,
		log:               log.Named("reconcile"),
		metrics:           newEngineMetrics(),
		now:               time.Now,
		pending:           make(map[string]*pending),
		inflight:          make(map[string]string),
	}, nil
}

// Caller returns the canonical signer address
func (e *Engine) Caller() string {
	return e.caller
}

// Submit journals the intent, sends it to the ledger and returns without
// waiting for settlement. An identical intent still in flight is rejected
// with a *DuplicateIntentError.
func (e *Engine) Submit(ctx context.Context, intent Intent) (*Ticket, error) {
	if intent == nil {
		return nil, fmt.Errorf("%w: nil intent", ErrInvalidIntent)
	}
	kind := intent.Kind()
	ctx, span := telemetry.StartSpan(ctx, "reconcile.submit")
	defer span.End()
	span.SetAttributes(telemetry.IntentKindAttr(string(kind)))

	if err := intent.Validate(); err != nil {
		return nil, err
	}
	fingerprint, err := Fingerprint(e.caller, intent)
	if err != nil {
		return nil, err
	}
	payload, err := payloadOf(intent)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	if err := e.reserve(fingerprint, id); err != nil {
		return nil, err
	}

	p, err := e.planFor(ctx, intent)
	if err != nil {
		e.abandon(fingerprint)
		return nil, err
	}

	ctx = logger.ContextWithIntentID(ctx, id)
	log := e.log.WithContext(ctx).WithFields(zap.String("kind", string(kind)))

	if _, err := e.states.CreateIntent(ctx, id, string(kind), e.caller, fingerprint, payload); err != nil {
		e.abandon(fingerprint)
		return nil, fmt.Errorf("failed to journal intent: %w", err)
	}
	e.metrics.submitted.Inc(ctx, telemetry.IntentKindAttr(string(kind)))

	handle, err := e.gateway.Submit(ctx, p.call)
	if err != nil {
		telemetry.SetSpanError(ctx, err)
		log.Warn("ledger submission failed", zap.String("function", p.call.Function), zap.Error(err))
		final := e.fail(ctx, id, err, false)
		e.publishOutcome(ctx, final)
		e.metrics.completed.Inc(ctx, telemetry.IntentKindAttr(string(kind)), telemetry.IntentStateAttr(string(saga.StateFailed)))
		e.abandon(fingerprint)
		return nil, fmt.Errorf("intent %s: %w", id, err)
	}

	txHash := handle.TxHash()
	if rec, err := e.states.MarkSubmitted(ctx, id, txHash); err != nil {
		log.Error("failed to journal submission", zap.String("tx_hash", txHash), zap.Error(err))
	} else {
		e.logTransition(ctx, rec)
	}
	if rec, err := e.states.MarkAwaiting(ctx, id); err != nil {
		log.Error("failed to journal awaiting settlement", zap.String("tx_hash", txHash), zap.Error(err))
	} else {
		e.logTransition(ctx, rec)
	}

	pend := &pending{
		id:          id,
		kind:        kind,
		fingerprint: fingerprint,
		txHash:      txHash,
		plan:        p,
		submittedAt: e.now(),
		done:        make(chan struct{}),
	}
	e.mu.Lock()
	e.pending[txHash] = pend
	e.mu.Unlock()
	e.metrics.inFlight.Inc(ctx, telemetry.IntentKindAttr(string(kind)))

	go e.await(pend, handle)

	return &Ticket{ID: id, Kind: kind, TxHash: txHash, p: pend}, nil
}

// reserve claims fingerprint for id and counts the intent as running
func (e *Engine) reserve(fingerprint, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if existing, ok := e.inflight[fingerprint]; ok {
		return &DuplicateIntentError{ExistingID: existing}
	}
	e.inflight[fingerprint] = id
	e.wg.Add(1)
	return nil
}

// abandon undoes reserve for an intent that never reached the ledger
func (e *Engine) abandon(fingerprint string) {
	e.mu.Lock()
	delete(e.inflight, fingerprint)
	e.mu.Unlock()
	e.wg.Done()
}

func (e *Engine) await(p *pending, h ledger.Handle) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), e.settlementTimeout)
	defer cancel()
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	s, err := h.Wait(ctx)

	select {
	case <-p.done:
		// already delivered by someone else
		return
	default:
	}
	_ = e.Deliver(context.Background(), p.txHash, s, err)
}

// Deliver applies the outcome of a transaction. werr is the gateway failure,
// if any. A transaction with no pending intent, because it was never ours or
// was already delivered, is ignored.
func (e *Engine) Deliver(ctx context.Context, txHash string, s *ledger.Settlement, werr error) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	e.mu.Lock()
	p, ok := e.pending[txHash]
	if ok {
		delete(e.pending, txHash)
	}
	e.mu.Unlock()

	if !ok {
		e.log.Debug("settlement discarded, no pending intent", zap.String("tx_hash", txHash))
		e.metrics.discarded.Inc(ctx, telemetry.ErrorTypeAttr("no_pending_intent"))
		return nil
	}

	ctx = logger.ContextWithIntentID(ctx, p.id)
	ctx, span := telemetry.StartSpan(ctx, "reconcile.settle")
	defer span.End()
	span.SetAttributes(telemetry.IntentKindAttr(string(p.kind)))

	e.metrics.inFlight.Dec(ctx, telemetry.IntentKindAttr(string(p.kind)))
	e.metrics.settlement.Record(ctx, e.now().Sub(p.submittedAt).Seconds(), telemetry.LedgerFunctionAttr(p.plan.call.Function))

	final, err := e.settle(ctx, p, s, werr)
	if err != nil {
		telemetry.SetSpanError(ctx, err)
	}
	e.finish(ctx, p, final, err)
	return err
}

func (e *Engine) settle(ctx context.Context, p *pending, s *ledger.Settlement, werr error) (*saga.IntentSaga, error) {
	log := e.log.WithContext(ctx).WithFields(zap.String("kind", string(p.kind)), zap.String("tx_hash", p.txHash))

	if werr != nil {
		log.Warn("transaction failed", zap.String("failure", FailureKind(werr)), zap.Error(werr))
		return e.fail(ctx, p.id, werr, false), werr
	}

	if e.guard != nil {
		won, err := e.guard.Claim(ctx, settlementKey(p.txHash), e.guardTTL)
		switch {
		case err != nil:
			log.Warn("settlement guard unavailable, committing anyway", zap.Error(err))
		case !won:
			return e.discard(ctx, log, p, "settlement already claimed"), nil
		}
	}

	eventName := p.plan.event
	var event ledger.EventPayload
	if eventName != "" {
		ev, ok := s.Event(eventName)
		if !ok {
			return e.discard(ctx, log, p, "settlement lacks "+eventName), nil
		}
		event = ev
	} else {
		eventName = "settlement"
	}

	rec, err := e.states.MarkExtracted(ctx, p.id, eventName)
	if err != nil {
		log.Error("failed to journal extracted event", zap.Error(err))
		return e.fail(ctx, p.id, err, true), err
	}
	e.logTransition(ctx, rec)

	if rec, err = e.states.MarkCommitting(ctx, p.id); err != nil {
		log.Error("failed to journal commit start", zap.Error(err))
		return e.fail(ctx, p.id, err, true), err
	}
	e.logTransition(ctx, rec)

	commitCtx, span := telemetry.StartSpan(ctx, "reconcile.commit")
	err = p.plan.commit(commitCtx, event)
	span.End()

	if err != nil {
		var swe *StoreWriteError
		if !errors.As(err, &swe) {
			swe = &StoreWriteError{Step: "commit", Err: err}
		}
		swe.IntentID, swe.TxHash = p.id, p.txHash

		log.Error("projection lags ledger", zap.String("step", swe.Step), zap.Error(swe.Err))
		e.metrics.lagged.Inc(ctx, telemetry.IntentKindAttr(string(p.kind)), telemetry.ErrorTypeAttr(swe.Step))
		e.publishLag(ctx, p, swe)
		return e.fail(ctx, p.id, swe, true), swe
	}

	if rec, err = e.states.MarkDone(ctx, p.id); err != nil {
		log.Error("failed to journal completion", zap.Error(err))
		return e.lookup(ctx, p.id), nil
	}
	e.logTransition(ctx, rec)
	return rec, nil
}

func (e *Engine) discard(ctx context.Context, log *logger.Logger, p *pending, reason string) *saga.IntentSaga {
	log.Debug("settlement discarded", zap.String("reason", reason))
	e.metrics.discarded.Inc(ctx, telemetry.IntentKindAttr(string(p.kind)))

	rec, err := e.states.MarkDiscarded(ctx, p.id, reason)
	if err != nil {
		log.Error("failed to journal discard", zap.Error(err))
		return e.lookup(ctx, p.id)
	}
	e.logTransition(ctx, rec)
	return rec
}

// fail moves the intent to FAILED. Journal errors are logged, not returned:
// the failure being recorded is the one the caller needs.
func (e *Engine) fail(ctx context.Context, id string, cause error, settled bool) *saga.IntentSaga {
	rec, err := e.states.MarkFailed(ctx, id, FailureKind(cause), cause.Error(), settled)
	if err != nil {
		e.log.WithContext(ctx).Error("failed to journal failure", zap.Error(err), zap.NamedError("cause", cause))
		return e.lookup(ctx, id)
	}
	e.logTransition(ctx, rec)
	return rec
}

func (e *Engine) lookup(ctx context.Context, id string) *saga.IntentSaga {
	rec, err := e.states.GetIntent(ctx, id)
	if err != nil {
		return nil
	}
	return rec
}

// finish clears the pending payload and wakes waiters
func (e *Engine) finish(ctx context.Context, p *pending, final *saga.IntentSaga, err error) {
	e.mu.Lock()
	if e.inflight[p.fingerprint] == p.id {
		delete(e.inflight, p.fingerprint)
	}
	e.mu.Unlock()

	state := saga.StateFailed
	if final != nil {
		state = final.State
	}
	e.metrics.completed.Inc(ctx, telemetry.IntentKindAttr(string(p.kind)), telemetry.IntentStateAttr(string(state)))
	e.publishOutcome(ctx, final)

	p.final, p.err = final, err
	close(p.done)
}

// logTransition expects ctx to carry the intent id
func (e *Engine) logTransition(ctx context.Context, rec *saga.IntentSaga) {
	e.log.WithContext(ctx).Info("intent transition",
		zap.String("kind", rec.Kind),
		zap.String("from", string(rec.PreviousState)),
		zap.String("to", string(rec.State)),
	)
}

func (e *Engine) publishOutcome(ctx context.Context, rec *saga.IntentSaga) {
	if e.publisher == nil || rec == nil {
		return
	}
	event := &dto.IntentOutcomeEvent{
		EventType:   dto.EventTypeIntentOutcome,
		IntentID:    rec.ID,
		Kind:        rec.Kind,
		Caller:      rec.Caller,
		State:       string(rec.State),
		TxHash:      rec.TxHash,
		FailureKind: rec.FailureKind,
		Message:     rec.ErrorMessage,
		Settled:     rec.Settled,
		Timestamp:   e.now(),
	}
	if err := e.publisher.ProduceMessage(ctx, dto.TopicIntentOutcome, event); err != nil {
		e.log.WithContext(ctx).Warn("failed to publish intent outcome", zap.Error(err))
	}
}

func (e *Engine) publishLag(ctx context.Context, p *pending, swe *StoreWriteError) {
	if e.publisher == nil {
		return
	}
	event := &dto.ProjectionLagEvent{
		EventType: dto.EventTypeProjectionLag,
		IntentID:  p.id,
		Kind:      string(p.kind),
		TxHash:    p.txHash,
		Step:      swe.Step,
		Error:     swe.Err.Error(),
		Timestamp: e.now(),
	}
	if err := e.publisher.ProduceMessage(ctx, dto.TopicProjectionLag, event); err != nil {
		e.log.WithContext(ctx).Warn("failed to publish projection lag", zap.Error(err))
	}
}

func settlementKey(txHash string) string {
	return "yugo:settlement:" + txHash
}

// InFlight returns the number of intents awaiting settlement
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Intent returns the journal record of an intent
func (e *Engine) Intent(ctx context.Context, id string) (*saga.IntentSaga, error) {
	return e.states.GetIntent(ctx, id)
}

// History returns the transitions of an intent, oldest first
func (e *Engine) History(ctx context.Context, id string) ([]saga.StateTransition, error) {
	return e.states.GetTransitionHistory(ctx, id)
}

// IntentPage returns one page of the intents in state, or of every
// non-terminal intent when state is empty, and how many there are
func (e *Engine) IntentPage(ctx context.Context, state saga.IntentState, offset, limit int) ([]*saga.IntentSaga, int, error) {
	if state != "" && !state.IsValid() {
		return nil, 0, fmt.Errorf("unknown intent state %q", state)
	}
	return e.states.ListIntents(ctx, state, offset, limit)
}

// Close stops accepting intents and waits for in-flight ones to finish
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
