package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/domain"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/dto"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/eligibility"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/ledger"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/projection"
	"github.com/yugo-dao/yugo-sync/pkg/kafka"
	"github.com/yugo-dao/yugo-sync/pkg/saga"
)

const (
	signer    = "0x1111111111111111111111111111111111111111"
	grantOrga = "0x2222222222222222222222222222222222222222"
	member    = "0x3333333333333333333333333333333333333333"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	msgs   []kafka.Message
}

func (p *recordingPublisher) ProduceMessage(ctx context.Context, topic string, msg kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) byTopic(topic string) []kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []kafka.Message
	for i, t := range p.topics {
		if t == topic {
			out = append(out, p.msgs[i])
		}
	}
	return out
}

type stubGuard struct {
	won bool
	err error
}

func (g stubGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.won, g.err
}

type fixture struct {
	engine    *Engine
	gateway   *ledger.MemoryGateway
	store     *projection.MemoryStore
	client    *projection.Client
	publisher *recordingPublisher
}

func newFixture(t *testing.T, responder ledger.Responder, opts ...func(*Config)) *fixture {
	t.Helper()

	gw := ledger.NewMemoryGateway(responder)
	store := projection.NewMemoryStore()
	client := projection.NewClient(store)
	pub := &recordingPublisher{}

	cfg := Config{
		Gateway:           gw,
		Store:             client,
		Projector:         eligibility.NewProjector(eligibility.Config{Caller: signer}),
		States:            saga.NewMemoryStateStore(),
		Publisher:         pub,
		SettlementTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Close(ctx)
		_ = store.Close()
	})

	return &fixture{engine: engine, gateway: gw, store: store, client: client, publisher: pub}
}

func wait(t *testing.T, ticket *Ticket) (*saga.IntentSaga, error) {
	t.Helper()
	select {
	case <-ticket.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("intent never finished")
	}
	return ticket.Wait(context.Background())
}

func cleanWater() CreateContest {
	return CreateContest{
		Name:               "Clean Water",
		AvailableFunds:     5,
		ApplicationEndDate: time.Now().Add(24 * time.Hour).Truncate(time.Millisecond),
		VotingEndDate:      time.Now().Add(72 * time.Hour).Truncate(time.Millisecond),
		Thematics:          []int{1, 4},
		Countries:          []int{3},
	}
}

func seedOrganisation(t *testing.T, f *fixture) string {
	t.Helper()
	id, err := f.client.SaveOrganisation(context.Background(), &domain.Organisation{
		EthAddress: signer, Thematics: []int{1}, Countries: []int{3}, Whitelisted: []string{},
	})
	require.NoError(t, err)
	return id
}

func seedContest(t *testing.T, f *fixture) string {
	t.Helper()
	id, err := f.client.SaveContest(context.Background(), &domain.Contest{
		Name:               "Reforestation",
		AddrGrantOrga:      grantOrga,
		Thematics:          []int{1, 2},
		Countries:          []int{3},
		VotingEndDate:      time.Now().Add(48 * time.Hour).UnixMilli(),
		AddrActionCreators: []string{},
	})
	require.NoError(t, err)
	return id
}

func TestCreateContest_ProjectsSettledEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.Enqueue(ledger.FnAddContest, ledger.Outcome{Events: map[string]ledger.EventPayload{
		ledger.EventContestCreated: {"addressOrga": "0xABC"},
	}})

	intent := cleanWater()
	ticket, err := f.engine.Submit(context.Background(), intent)
	require.NoError(t, err)

	rec, err := wait(t, ticket)
	require.NoError(t, err)
	assert.Equal(t, saga.StateDone, rec.State)
	assert.True(t, rec.Settled)

	contests, err := f.client.Contests(context.Background())
	require.NoError(t, err)
	require.Len(t, contests, 1)
	assert.Equal(t, "0xabc", contests[0].AddrGrantOrga)
	assert.Equal(t, float64(5), contests[0].AvailableFunds)
	assert.Equal(t, "Clean Water", contests[0].Name)
	assert.Equal(t, intent.VotingEndDate.UnixMilli(), contests[0].VotingEndDate)

	calls := f.gateway.Calls()
	require.Len(t, calls, 1)
	funds, _ := calls[0].Param("_funds")
	want := big.NewInt(5_000_000_000_000_000_000)
	assert.Equal(t, 0, want.Cmp(funds.(*big.Int)))
	deadline, _ := calls[0].Param("_votingEndDate")
	assert.Equal(t, intent.VotingEndDate.UnixMilli(), deadline.(*big.Int).Int64())
}

func TestSubmit_NothingWrittenBeforeSettlement(t *testing.T) {
	f := newFixture(t, nil)

	ticket, err := f.engine.Submit(context.Background(), cleanWater())
	require.NoError(t, err)

	rec, err := f.engine.Intent(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StateAwaitingSettlement, rec.State)
	assert.Equal(t, ticket.TxHash, rec.TxHash)
	assert.Equal(t, 0, f.store.Count(projection.Contests))
	assert.Equal(t, 1, f.engine.InFlight())

	require.True(t, f.gateway.Resolve(ticket.TxHash, map[string]ledger.EventPayload{
		ledger.EventContestCreated: {"addressOrga": grantOrga},
	}, nil))

	rec, err = wait(t, ticket)
	require.NoError(t, err)
	assert.Equal(t, saga.StateDone, rec.State)
	assert.Equal(t, 1, f.store.Count(projection.Contests))
	assert.Equal(t, 0, f.engine.InFlight())

	history, err := f.engine.History(context.Background(), ticket.ID)
	require.NoError(t, err)
	var states []saga.IntentState
	for _, tr := range history {
		states = append(states, tr.ToState)
	}
	assert.Equal(t, []saga.IntentState{
		saga.StateSubmitted,
		saga.StateAwaitingSettlement,
		saga.StateEventExtracted,
		saga.StateCommitting,
		saga.StateDone,
	}, states)
}

func TestDeliver_DuplicateSettlementWritesOnce(t *testing.T) {
	f := newFixture(t, nil)

	ticket, err := f.engine.Submit(context.Background(), cleanWater())
	require.NoError(t, err)

	settlement := &ledger.Settlement{TxHash: ticket.TxHash, Events: map[string]ledger.EventPayload{
		ledger.EventContestCreated: {"addressOrga": grantOrga},
	}}
	require.NoError(t, f.engine.Deliver(context.Background(), ticket.TxHash, settlement, nil))
	require.NoError(t, f.engine.Deliver(context.Background(), ticket.TxHash, settlement, nil))
	f.gateway.Resolve(ticket.TxHash, settlement.Events, nil)

	rec, err := wait(t, ticket)
	require.NoError(t, err)
	assert.Equal(t, saga.StateDone, rec.State)
	assert.Equal(t, 1, f.store.Count(projection.Contests))

	// unknown transactions are ignored too
	assert.NoError(t, f.engine.Deliver(context.Background(), "0xdead", settlement, nil))
	assert.Equal(t, 1, f.store.Count(projection.Contests))
}

func TestSubmit_RevertedSettlementFails(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.Enqueue(ledger.FnAddContest, ledger.Outcome{Err: ledger.Reverted(ledger.FnAddContest, "", "insufficient funds")})

	ticket, err := f.engine.Submit(context.Background(), cleanWater())
	require.NoError(t, err)

	rec, err := wait(t, ticket)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrReverted)
	assert.False(t, OnChainApplied(err))

	assert.Equal(t, saga.StateFailed, rec.State)
	assert.Equal(t, FailureReverted, rec.FailureKind)
	assert.False(t, rec.Settled)
	assert.Contains(t, rec.ErrorMessage, "insufficient funds")
	assert.Equal(t, 0, f.store.Count(projection.Contests))

	outcomes := f.publisher.byTopic(dto.TopicIntentOutcome)
	require.Len(t, outcomes, 1)
	assert.Equal(t, string(saga.StateFailed), outcomes[0].(*dto.IntentOutcomeEvent).State)
}

func TestSubmit_RejectedBeforeSending(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))
	f.gateway.Enqueue(ledger.FnAddContest, ledger.Outcome{SubmitErr: ledger.Rejected(ledger.FnAddContest, "user declined")})

	_, err := f.engine.Submit(context.Background(), cleanWater())
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrRejected)

	failed, total, err := f.engine.IntentPage(context.Background(), saga.StateFailed, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, failed, 1)
	assert.Equal(t, FailureRejected, failed[0].FailureKind)

	// the fingerprint is released, so the same intent can be retried
	ticket, err := f.engine.Submit(context.Background(), cleanWater())
	require.NoError(t, err)
	rec, err := wait(t, ticket)
	require.NoError(t, err)
	assert.Equal(t, saga.StateDone, rec.State)
}

func TestSettle_MissingEventIsDiscarded(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.Enqueue(ledger.FnAddContest, ledger.Outcome{Events: map[string]ledger.EventPayload{}})

	ticket, err := f.engine.Submit(context.Background(), cleanWater())
	require.NoError(t, err)

	rec, err := wait(t, ticket)
	require.NoError(t, err)
	assert.Equal(t, saga.StateDiscarded, rec.State)
	assert.Equal(t, 0, f.store.Count(projection.Contests))
}

func TestSettle_GuardClaimedElsewhereIsDiscarded(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer), func(c *Config) {
		c.Guard = stubGuard{won: false}
	})

	ticket, err := f.engine.Submit(context.Background(), cleanWater())
	require.NoError(t, err)

	rec, err := wait(t, ticket)
	require.NoError(t, err)
	assert.Equal(t, saga.StateDiscarded, rec.State)
	assert.Equal(t, 0, f.store.Count(projection.Contests))
}

func TestSettle_GuardErrorStillCommits(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer), func(c *Config) {
		c.Guard = stubGuard{err: errors.New("connection refused")}
	})

	ticket, err := f.engine.Submit(context.Background(), cleanWater())
	require.NoError(t, err)

	rec, err := wait(t, ticket)
	require.NoError(t, err)
	assert.Equal(t, saga.StateDone, rec.State)
	assert.Equal(t, 1, f.store.Count(projection.Contests))
}

func TestSubmit_DuplicateIntentRejectedWhileInFlight(t *testing.T) {
	f := newFixture(t, nil)
	intent := cleanWater()

	first, err := f.engine.Submit(context.Background(), intent)
	require.NoError(t, err)

	_, err = f.engine.Submit(context.Background(), intent)
	require.ErrorIs(t, err, ErrDuplicateIntent)
	var dup *DuplicateIntentError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingID)

	other := intent
	other.Name = "Clean Air"
	second, err := f.engine.Submit(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	events := map[string]ledger.EventPayload{ledger.EventContestCreated: {"addressOrga": grantOrga}}
	f.gateway.Resolve(first.TxHash, events, nil)
	f.gateway.Resolve(second.TxHash, events, nil)
	_, err = wait(t, first)
	require.NoError(t, err)
	_, err = wait(t, second)
	require.NoError(t, err)

	third, err := f.engine.Submit(context.Background(), intent)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCreateAction_CorrelatesEligibleContest(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))
	seedOrganisation(t, f)
	contestID := seedContest(t, f)

	ticket, err := f.engine.Submit(context.Background(), CreateAction{
		Name:          "Plant trees",
		Description:   "Ten thousand saplings",
		RequiredFunds: 1.5,
		AddrGrantOrga: "0x2222222222222222222222222222222222222222",
	})
	require.NoError(t, err)

	rec, err := wait(t, ticket)
	require.NoError(t, err)
	assert.Equal(t, saga.StateDone, rec.State)

	actions, err := f.client.Actions(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, contestID, actions[0].ContestID)
	assert.Equal(t, signer, actions[0].AddrOrgaCreator)
	assert.Equal(t, grantOrga, actions[0].AddrGrantOrga)
	assert.Equal(t, int64(0), actions[0].NbOfVotes)

	contest, err := f.client.Contest(context.Background(), contestID)
	require.NoError(t, err)
	assert.Equal(t, []string{signer}, contest.AddrActionCreators)
}

// unannouncedStore commits every write and then reports the change feed as down
type unannouncedStore struct {
	*projection.MemoryStore
}

func (s unannouncedStore) Save(ctx context.Context, c projection.Collection, doc projection.Document) (string, error) {
	id, err := s.MemoryStore.Save(ctx, c, doc)
	if err != nil {
		return "", err
	}
	return id, fmt.Errorf("%w: redis down", projection.ErrFeedPublish)
}

func (s unannouncedStore) AppendUnique(ctx context.Context, c projection.Collection, id, field string, value interface{}) error {
	if err := s.MemoryStore.AppendUnique(ctx, c, id, field, value); err != nil {
		return err
	}
	return fmt.Errorf("%w: redis down", projection.ErrFeedPublish)
}

func TestCreateAction_FeedOutageStillCommits(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))
	seedOrganisation(t, f)
	contestID := seedContest(t, f)

	engine, err := NewEngine(Config{
		Gateway:           f.gateway,
		Store:             projection.NewClient(unannouncedStore{f.store}),
		Projector:         eligibility.NewProjector(eligibility.Config{Caller: signer}),
		States:            saga.NewMemoryStateStore(),
		Publisher:         f.publisher,
		SettlementTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer func() { _ = engine.Close(context.Background()) }()

	ticket, err := engine.Submit(context.Background(), CreateAction{Name: "Plant trees", AddrGrantOrga: grantOrga})
	require.NoError(t, err)

	rec, err := wait(t, ticket)
	require.NoError(t, err)
	assert.Equal(t, saga.StateDone, rec.State)
	assert.Empty(t, rec.FailureKind)

	actions, err := f.client.Actions(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 1)

	contest, err := f.client.Contest(context.Background(), contestID)
	require.NoError(t, err)
	assert.Equal(t, []string{signer}, contest.AddrActionCreators)
	assert.Empty(t, f.publisher.byTopic(dto.TopicProjectionLag))
}

func TestWhitelistMember_FeedOutageStillCommits(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))
	orgID := seedOrganisation(t, f)

	engine, err := NewEngine(Config{
		Gateway:           f.gateway,
		Store:             projection.NewClient(unannouncedStore{f.store}),
		Projector:         eligibility.NewProjector(eligibility.Config{Caller: signer}),
		States:            saga.NewMemoryStateStore(),
		SettlementTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer func() { _ = engine.Close(context.Background()) }()

	ticket, err := engine.Submit(context.Background(), WhitelistMember{Member: member})
	require.NoError(t, err)

	rec, err := wait(t, ticket)
	require.NoError(t, err)
	assert.Equal(t, saga.StateDone, rec.State)

	org, err := f.client.OrganisationByAddress(context.Background(), signer)
	require.NoError(t, err)
	assert.Equal(t, orgID, org.ID)
	assert.Equal(t, []string{member}, org.Whitelisted)
}

func TestCreateAction_UncorrelatedIsProjectionLag(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))
	seedOrganisation(t, f)

	ticket, err := f.engine.Submit(context.Background(), CreateAction{Name: "Plant trees", AddrGrantOrga: grantOrga})
	require.NoError(t, err)

	rec, err := wait(t, ticket)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreWriteFailed)
	assert.ErrorIs(t, err, ErrContestNotCorrelated)
	assert.True(t, OnChainApplied(err))

	var swe *StoreWriteError
	require.ErrorAs(t, err, &swe)
	assert.Equal(t, ticket.ID, swe.IntentID)
	assert.Equal(t, ticket.TxHash, swe.TxHash)
	assert.Equal(t, stepCorrelateContest, swe.Step)

	assert.Equal(t, saga.StateFailed, rec.State)
	assert.Equal(t, FailureStoreWrite, rec.FailureKind)
	assert.True(t, rec.Settled)
	assert.Equal(t, 0, f.store.Count(projection.Actions))

	lags := f.publisher.byTopic(dto.TopicProjectionLag)
	require.Len(t, lags, 1)
	assert.Equal(t, ticket.TxHash, lags[0].Key())
}

func TestRegisterOrganisation_SavesOnce(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))
	intent := RegisterOrganisation{Thematics: []int{1, 4}, Country: 3}

	for i := 0; i < 2; i++ {
		ticket, err := f.engine.Submit(context.Background(), intent)
		require.NoError(t, err)
		rec, err := wait(t, ticket)
		require.NoError(t, err)
		assert.Equal(t, saga.StateDone, rec.State)
	}

	org, err := f.client.OrganisationByAddress(context.Background(), signer)
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.Equal(t, []int{1, 4}, org.Thematics)
	assert.Equal(t, []int{3}, org.Countries)
	assert.Equal(t, 1, f.store.Count(projection.Organisations))
}

func TestWhitelistMember_AppendsToOrganisation(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))
	seedOrganisation(t, f)

	ticket, err := f.engine.Submit(context.Background(), WhitelistMember{Member: "0x3333333333333333333333333333333333333333"})
	require.NoError(t, err)
	_, err = wait(t, ticket)
	require.NoError(t, err)

	org, err := f.client.OrganisationByAddress(context.Background(), signer)
	require.NoError(t, err)
	assert.Equal(t, []string{member}, org.Whitelisted)
}

func TestWhitelistMember_UnprojectedOrganisation(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))

	ticket, err := f.engine.Submit(context.Background(), WhitelistMember{Member: member})
	require.NoError(t, err)
	_, err = wait(t, ticket)
	assert.ErrorIs(t, err, ErrOrganisationNotProjected)
	assert.True(t, OnChainApplied(err))
}

func TestVoteAction_IncrementsVotes(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))
	actionID, err := f.client.SaveAction(context.Background(), &domain.Action{
		Name: "Plant trees", AddrOrgaCreator: member, AddrGrantOrga: grantOrga,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ticket, err := f.engine.Submit(context.Background(), VoteAction{ActionID: actionID})
		require.NoError(t, err)
		rec, err := wait(t, ticket)
		require.NoError(t, err)
		assert.Equal(t, saga.StateDone, rec.State)
	}

	action, err := f.client.Action(context.Background(), actionID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), action.NbOfVotes)

	call := f.gateway.Calls()[0]
	assert.Equal(t, ledger.FnVoteForAction, call.Function)
	v, _ := call.Param("_creatorOfContest")
	assert.Equal(t, grantOrga, v)
	v, _ = call.Param("_actionCreator")
	assert.Equal(t, member, v)
	v, _ = call.Param("_participantOrga")
	assert.Equal(t, signer, v)
}

func TestVoteAction_UnknownAction(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))

	_, err := f.engine.Submit(context.Background(), VoteAction{ActionID: "missing"})
	assert.ErrorIs(t, err, ErrActionNotFound)
	assert.Empty(t, f.gateway.Calls())
}

func TestSubmit_InvalidIntent(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))

	tests := []struct {
		name   string
		intent Intent
	}{
		{"contest without name", CreateContest{VotingEndDate: time.Now(), ApplicationEndDate: time.Now()}},
		{"contest voting before application", CreateContest{Name: "x", ApplicationEndDate: time.Now(), VotingEndDate: time.Now().Add(-time.Hour)}},
		{"action with bad creator", CreateAction{Name: "x", AddrGrantOrga: "nope"}},
		{"whitelist bad address", WhitelistMember{Member: "0x12"}},
		{"organisation without thematics", RegisterOrganisation{Country: 3}},
		{"vote without action", VoteAction{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Submit(context.Background(), tt.intent)
			assert.ErrorIs(t, err, ErrInvalidIntent)
		})
	}
	assert.Empty(t, f.gateway.Calls())
}

func TestSettle_Timeout(t *testing.T) {
	f := newFixture(t, nil, func(c *Config) {
		c.SettlementTimeout = 20 * time.Millisecond
	})

	ticket, err := f.engine.Submit(context.Background(), cleanWater())
	require.NoError(t, err)

	rec, err := wait(t, ticket)
	assert.ErrorIs(t, err, ledger.ErrTimeout)
	assert.Equal(t, saga.StateFailed, rec.State)
	assert.Equal(t, FailureTimeout, rec.FailureKind)
}

func TestEngine_ConcurrentIntents(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))

	var wg sync.WaitGroup
	tickets := make([]*Ticket, 10)
	for i := range tickets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			intent := cleanWater()
			intent.AvailableFunds = float64(i + 1)
			ticket, err := f.engine.Submit(context.Background(), intent)
			assert.NoError(t, err)
			tickets[i] = ticket
		}(i)
	}
	wg.Wait()

	for _, ticket := range tickets {
		require.NotNil(t, ticket)
		_, err := wait(t, ticket)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, f.store.Count(projection.Contests))
}

func TestEngine_Close(t *testing.T) {
	f := newFixture(t, ledger.SimulatedResponder(signer))

	require.NoError(t, f.engine.Close(context.Background()))
	_, err := f.engine.Submit(context.Background(), cleanWater())
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint("0xABC", VoteAction{ActionID: "a1"})
	require.NoError(t, err)
	b, err := Fingerprint("0xabc", VoteAction{ActionID: "a1"})
	require.NoError(t, err)
	c, err := Fingerprint("0xabc", VoteAction{ActionID: "a2"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, "", FailureKind(nil))
	assert.Equal(t, FailureRejected, FailureKind(ledger.Rejected("f", "no")))
	assert.Equal(t, FailureTimeout, FailureKind(ledger.Timeout("f", "", nil)))
	assert.Equal(t, FailureStoreWrite, FailureKind(&StoreWriteError{Err: errors.New("x")}))
	assert.Equal(t, FailureInternal, FailureKind(errors.New("x")))
}
