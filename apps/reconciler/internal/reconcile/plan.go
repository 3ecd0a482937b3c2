package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/domain"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/ledger"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/projection"
	"github.com/yugo-dao/yugo-sync/pkg/chain"
	"go.uber.org/zap"
)

// plan is what an intent turns into: the contract call, the event that
// confirms it and the projection writes derived from that event
type plan struct {
	call  ledger.Call
	event string
	// commit receives the expected event's payload, or nil when the plan
	// expects no event
	commit func(ctx context.Context, event ledger.EventPayload) error
}

// Write steps named in StoreWriteError
const (
	stepDecodeEvent       = "decode event"
	stepReadOrganisation  = "read organisation"
	stepSaveOrganisation  = "save organisation"
	stepSaveContest       = "save contest"
	stepCorrelateContest  = "correlate contest"
	stepSaveAction        = "save action"
	stepAppendCreator     = "append action creator"
	stepAppendWhitelisted = "append whitelisted"
	stepIncrementVotes    = "increment votes"
)

func stepError(step string, err error) *StoreWriteError {
	return &StoreWriteError{Step: step, Err: err}
}

// written maps a store write result to the commit outcome. A write whose
// change notification failed is committed; subscribers catch up on resync.
func (e *Engine) written(ctx context.Context, step string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, projection.ErrFeedPublish) {
		e.log.WithContext(ctx).Warn("projection write committed without notification",
			zap.String("step", step), zap.Error(err))
		return nil
	}
	return stepError(step, err)
}

func eventAddress(event ledger.EventPayload, field string) (string, error) {
	addr, ok := event.Address(field)
	if !ok {
		return "", stepError(stepDecodeEvent, fmt.Errorf("event has no %s", field))
	}
	return addr, nil
}

func (e *Engine) planFor(ctx context.Context, intent Intent) (*plan, error) {
	switch in := intent.(type) {
	case RegisterOrganisation:
		return e.planRegisterOrganisation(in), nil
	case CreateContest:
		return e.planCreateContest(in)
	case CreateAction:
		return e.planCreateAction(in)
	case WhitelistMember:
		return e.planWhitelistMember(in), nil
	case VoteAction:
		return e.planVoteAction(ctx, in)
	}
	return nil, fmt.Errorf("%w: unsupported intent %T", ErrInvalidIntent, intent)
}

func (e *Engine) planRegisterOrganisation(in RegisterOrganisation) *plan {
	return &plan{
		call: ledger.Call{
			Function: ledger.FnRegisterOrganisation,
			Params: []ledger.Param{
				{Name: "_thematicIds", Value: chain.TagIDs(in.Thematics)},
				countParam("_countryId", in.Country),
			},
		},
		event: ledger.EventOrganizationRegistered,
		commit: func(ctx context.Context, event ledger.EventPayload) error {
			addr, err := eventAddress(event, "addressOrga")
			if err != nil {
				return err
			}

			existing, err := e.client.OrganisationByAddress(ctx, addr)
			if err != nil {
				return stepError(stepReadOrganisation, err)
			}
			if existing != nil {
				return nil
			}

			org := &domain.Organisation{
				EthAddress:         addr,
				Thematics:          in.Thematics,
				Countries:          []int{in.Country},
				Whitelisted:        []string{},
				AuthorizedCreators: []string{},
			}
			_, err = e.client.SaveOrganisation(ctx, org)
			return e.written(ctx, stepSaveOrganisation, err)
		},
	}
}

func (e *Engine) planCreateContest(in CreateContest) (*plan, error) {
	funds, err := weiParam("_funds", in.AvailableFunds)
	if err != nil {
		return nil, err
	}

	return &plan{
		call: ledger.Call{
			Function: ledger.FnAddContest,
			Params: []ledger.Param{
				{Name: "_name", Value: in.Name},
				{Name: "_themeIds", Value: chain.TagIDs(in.Thematics)},
				{Name: "_eligibleCountryIds", Value: chain.TagIDs(in.Countries)},
				{Name: "_applicationEndDate", Value: chain.UnixMillis(in.ApplicationEndDate)},
				{Name: "_votingEndDate", Value: chain.UnixMillis(in.VotingEndDate)},
				funds,
			},
		},
		event: ledger.EventContestCreated,
		commit: func(ctx context.Context, event ledger.EventPayload) error {
			addr, err := eventAddress(event, "addressOrga")
			if err != nil {
				return err
			}

			contest := &domain.Contest{
				Name:               in.Name,
				AddrGrantOrga:      addr,
				AvailableFunds:     in.AvailableFunds,
				ApplicationEndDate: in.ApplicationEndDate.UnixMilli(),
				VotingEndDate:      in.VotingEndDate.UnixMilli(),
				Thematics:          in.Thematics,
				Countries:          in.Countries,
				AddrActionCreators: []string{},
			}
			_, err = e.client.SaveContest(ctx, contest)
			return e.written(ctx, stepSaveContest, err)
		},
	}, nil
}

func (e *Engine) planCreateAction(in CreateAction) (*plan, error) {
	funds, err := weiParam("_requiredFunds", in.RequiredFunds)
	if err != nil {
		return nil, err
	}

	return &plan{
		call: ledger.Call{
			Function: ledger.FnCreateAction,
			Params: []ledger.Param{
				{Name: "_name", Value: in.Name},
				{Name: "_creatorOfContest", Value: chain.Canonical(in.AddrGrantOrga)},
				funds,
			},
		},
		event: ledger.EventActionCreated,
		commit: func(ctx context.Context, event ledger.EventPayload) error {
			grantOrga, err := eventAddress(event, "addressContestCreator")
			if err != nil {
				return err
			}

			contest, err := e.correlateContest(ctx, grantOrga)
			if err != nil {
				return err
			}

			action := &domain.Action{
				Name:            in.Name,
				Description:     in.Description,
				RequiredFunds:   in.RequiredFunds,
				AddrOrgaCreator: e.caller,
				AddrGrantOrga:   grantOrga,
				ContestID:       contest.ID,
			}
			_, err = e.client.SaveAction(ctx, action)
			if err := e.written(ctx, stepSaveAction, err); err != nil {
				return err
			}
			return e.written(ctx, stepAppendCreator, e.client.AppendActionCreator(ctx, contest.ID, e.caller))
		},
	}, nil
}

// correlateContest finds the first contest eligible for the caller's
// organisation that is run by grantOrga
func (e *Engine) correlateContest(ctx context.Context, grantOrga string) (*domain.EligibleContest, error) {
	org, err := e.client.OrganisationByAddress(ctx, e.caller)
	if err != nil {
		return nil, stepError(stepReadOrganisation, err)
	}
	contests, err := e.client.Contests(ctx)
	if err != nil {
		return nil, stepError(stepCorrelateContest, err)
	}

	for _, c := range e.projector.EligibleContests(contests, org, e.caller) {
		if chain.SameAddress(c.AddrGrantOrga, grantOrga) {
			return &c, nil
		}
	}
	return nil, stepError(stepCorrelateContest, fmt.Errorf("%w: contest creator %s", ErrContestNotCorrelated, grantOrga))
}

func (e *Engine) planWhitelistMember(in WhitelistMember) *plan {
	member := chain.Canonical(in.Member)

	return &plan{
		call: ledger.Call{
			Function: ledger.FnAddParticipant,
			Params: []ledger.Param{
				{Name: "_addrOrga", Value: e.caller},
				{Name: "_addrParticipant", Value: member},
			},
		},
		event: ledger.EventParticipantWhitelisted,
		commit: func(ctx context.Context, event ledger.EventPayload) error {
			participant, err := eventAddress(event, "addressParticipant")
			if err != nil {
				return err
			}
			orgAddr, err := eventAddress(event, "addressOrganization")
			if err != nil {
				return err
			}

			org, err := e.client.OrganisationByAddress(ctx, orgAddr)
			if err != nil {
				return stepError(stepReadOrganisation, err)
			}
			if org == nil || org.ID == "" {
				return stepError(stepAppendWhitelisted, fmt.Errorf("%w: %s", ErrOrganisationNotProjected, orgAddr))
			}
			return e.written(ctx, stepAppendWhitelisted, e.client.AppendWhitelisted(ctx, org.ID, participant))
		},
	}
}

// planVoteAction reads the action so the call names its contest and creator
func (e *Engine) planVoteAction(ctx context.Context, in VoteAction) (*plan, error) {
	action, err := e.client.Action(ctx, in.ActionID)
	if err != nil {
		if projection.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrActionNotFound, in.ActionID)
		}
		return nil, fmt.Errorf("failed to read action: %w", err)
	}

	return &plan{
		call: ledger.Call{
			Function: ledger.FnVoteForAction,
			Params: []ledger.Param{
				{Name: "_creatorOfContest", Value: action.AddrGrantOrga},
				{Name: "_actionCreator", Value: action.AddrOrgaCreator},
				{Name: "_participantOrga", Value: e.caller},
			},
		},
		commit: func(ctx context.Context, _ ledger.EventPayload) error {
			return e.written(ctx, stepIncrementVotes, e.client.IncrementVotes(ctx, in.ActionID))
		},
	}, nil
}
