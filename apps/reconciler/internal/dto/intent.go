package dto

import (
	"time"
)

// RegisterOrganisationRequest registers the service's signer as an organisation
type RegisterOrganisationRequest struct {
	Thematics []int `json:"thematics" binding:"required,min=1,dive,min=1"`
	Country   int   `json:"country" binding:"required,min=1"`
}

// CreateContestRequest opens a contest. AvailableFunds is in ether.
type CreateContestRequest struct {
	Name               string    `json:"name" binding:"required,max=255"`
	AvailableFunds     float64   `json:"availableFunds" binding:"gte=0"`
	ApplicationEndDate time.Time `json:"applicationEndDate" binding:"required"`
	VotingEndDate      time.Time `json:"votingEndDate" binding:"required"`
	Thematics          []int     `json:"thematics" binding:"required,min=1,dive,min=1"`
	Countries          []int     `json:"countries" binding:"required,min=1,dive,min=1"`
}

// Validate checks the date ordering the binding tags cannot express
func (r *CreateContestRequest) Validate() (bool, string) {
	if r.VotingEndDate.Before(r.ApplicationEndDate) {
		return false, "votingEndDate must not be before applicationEndDate"
	}
	return true, ""
}

// CreateActionRequest submits an action to a contest
type CreateActionRequest struct {
	Name          string  `json:"name" binding:"required,max=255"`
	Description   string  `json:"description" binding:"omitempty,max=4000"`
	RequiredFunds float64 `json:"requiredFunds" binding:"gte=0"`
	AddrGrantOrga string  `json:"addrGrantOrga" binding:"required,eth_addr"`
}

// WhitelistMemberRequest whitelists a member address
type WhitelistMemberRequest struct {
	Member string `json:"member" binding:"required,eth_addr"`
}

// VoteActionRequest votes for an action
type VoteActionRequest struct {
	ActionID string `json:"actionId" binding:"required"`
}

// ListIntentsQuery represents query parameters for listing intents
type ListIntentsQuery struct {
	Page  int    `form:"page" binding:"omitempty,min=1"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=100"`
	State string `form:"state" binding:"omitempty"`
}

// SetDefaults sets default values for query parameters
func (q *ListIntentsQuery) SetDefaults() {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
}

// SubmitIntentResponse is returned when an intent is accepted
type SubmitIntentResponse struct {
	IntentID string `json:"intent_id"`
	Kind     string `json:"kind"`
	TxHash   string `json:"tx_hash"`
	State    string `json:"state"`
}

// IntentResponse is the journal record of an intent
type IntentResponse struct {
	ID           string                 `json:"id"`
	Kind         string                 `json:"kind"`
	Caller       string                 `json:"caller"`
	State        string                 `json:"state"`
	TxHash       string                 `json:"tx_hash,omitempty"`
	FailureKind  string                 `json:"failure_kind,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Settled      bool                   `json:"settled"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	CreatedAt    string                 `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at"`
	CompletedAt  string                 `json:"completed_at,omitempty"`
	History      []TransitionResponse   `json:"history,omitempty"`
}

// TransitionResponse is one state change of an intent
type TransitionResponse struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}
