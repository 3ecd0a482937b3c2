package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/ledger"
	"github.com/yugo-dao/yugo-sync/pkg/chain"
)

// Kind names a write intent
type Kind string

const (
	KindRegisterOrganisation Kind = "register_organisation"
	KindCreateContest        Kind = "create_contest"
	KindCreateAction         Kind = "create_action"
	KindWhitelistMember      Kind = "whitelist_member"
	KindVoteAction           Kind = "vote_action"
)

// ErrInvalidIntent is returned for intents that cannot be turned into a call
var ErrInvalidIntent = errors.New("invalid intent")

// fingerprintSpace namespaces intent fingerprints
var fingerprintSpace = uuid.MustParse("8d1f4c1e-7a53-4a8e-9f0b-3c6f1d2b9e47")

// Intent is a user write that must be confirmed on the ledger before it is
// projected
type Intent interface {
	Kind() Kind
	Validate() error
}

// RegisterOrganisation registers the caller as an organisation
type RegisterOrganisation struct {
	Thematics []int `json:"thematics"`
	Country   int   `json:"country"`
}

func (RegisterOrganisation) Kind() Kind { return KindRegisterOrganisation }

func (i RegisterOrganisation) Validate() error {
	if len(i.Thematics) == 0 {
		return fmt.Errorf("%w: at least one thematic is required", ErrInvalidIntent)
	}
	if i.Country <= 0 {
		return fmt.Errorf("%w: country is required", ErrInvalidIntent)
	}
	return nil
}

// CreateContest opens a contest funded by the caller's organisation. Funds are
// in ether.
type CreateContest struct {
	Name               string    `json:"name"`
	AvailableFunds     float64   `json:"availableFunds"`
	ApplicationEndDate time.Time `json:"applicationEndDate"`
	VotingEndDate      time.Time `json:"votingEndDate"`
	Thematics          []int     `json:"thematics"`
	Countries          []int     `json:"countries"`
}

func (CreateContest) Kind() Kind { return KindCreateContest }

func (i CreateContest) Validate() error {
	switch {
	case strings.TrimSpace(i.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidIntent)
	case i.AvailableFunds < 0:
		return fmt.Errorf("%w: available funds must not be negative", ErrInvalidIntent)
	case i.VotingEndDate.IsZero() || i.ApplicationEndDate.IsZero():
		return fmt.Errorf("%w: application and voting end dates are required", ErrInvalidIntent)
	case i.VotingEndDate.Before(i.ApplicationEndDate):
		return fmt.Errorf("%w: voting must end after applications close", ErrInvalidIntent)
	}
	return nil
}

// CreateAction submits an action to the contest run by AddrGrantOrga
type CreateAction struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	RequiredFunds float64 `json:"requiredFunds"`
	AddrGrantOrga string  `json:"addrGrantOrga"`
}

func (CreateAction) Kind() Kind { return KindCreateAction }

func (i CreateAction) Validate() error {
	switch {
	case strings.TrimSpace(i.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidIntent)
	case i.RequiredFunds < 0:
		return fmt.Errorf("%w: required funds must not be negative", ErrInvalidIntent)
	case !chain.IsAddress(i.AddrGrantOrga):
		return fmt.Errorf("%w: invalid contest creator address %q", ErrInvalidIntent, i.AddrGrantOrga)
	}
	return nil
}

// WhitelistMember adds a member address to the caller's organisation
type WhitelistMember struct {
	Member string `json:"member"`
}

func (WhitelistMember) Kind() Kind { return KindWhitelistMember }

func (i WhitelistMember) Validate() error {
	if !chain.IsAddress(i.Member) {
		return fmt.Errorf("%w: invalid member address %q", ErrInvalidIntent, i.Member)
	}
	return nil
}

// VoteAction votes for a projected action
type VoteAction struct {
	ActionID string `json:"actionId"`
}

func (VoteAction) Kind() Kind { return KindVoteAction }

func (i VoteAction) Validate() error {
	if strings.TrimSpace(i.ActionID) == "" {
		return fmt.Errorf("%w: action id is required", ErrInvalidIntent)
	}
	return nil
}

// payloadOf flattens an intent into the journal payload
func payloadOf(intent Intent) (map[string]interface{}, error) {
	raw, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("failed to encode intent: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode intent: %w", err)
	}
	return out, nil
}

// Fingerprint identifies an intent by what it asks for, so that a repeated
// submission of the same write by the same caller can be recognised
func Fingerprint(caller string, intent Intent) (string, error) {
	raw, err := json.Marshal(intent)
	if err != nil {
		return "", fmt.Errorf("failed to encode intent: %w", err)
	}
	name := string(intent.Kind()) + "|" + chain.Canonical(caller) + "|" + string(raw)
	return uuid.NewSHA1(fingerprintSpace, []byte(name)).String(), nil
}

func weiParam(name string, ether float64) (ledger.Param, error) {
	wei, err := chain.FloatEtherToWei(ether)
	if err != nil {
		return ledger.Param{}, fmt.Errorf("%w: %s: %v", ErrInvalidIntent, name, err)
	}
	return ledger.Param{Name: name, Value: wei}, nil
}

func countParam(name string, v int) ledger.Param {
	return ledger.Param{Name: name, Value: big.NewInt(int64(v))}
}
