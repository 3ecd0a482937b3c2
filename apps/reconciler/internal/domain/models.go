package domain

import (
	"time"

	"github.com/yugo-dao/yugo-sync/pkg/chain"
)

// Organisation is keyed by its canonical ledger address
type Organisation struct {
	ID                 string   `json:"id,omitempty"`
	EthAddress         string   `json:"ethAddress"`
	Thematics          []int    `json:"thematics"`
	Countries          []int    `json:"countries"`
	Whitelisted        []string `json:"whitelisted"`
	AuthorizedCreators []string `json:"authorizedCreators"`
}

// Canonicalize normalizes every address held by the record
func (o *Organisation) Canonicalize() {
	o.EthAddress = chain.Canonical(o.EthAddress)
	o.Whitelisted = chain.CanonicalAll(o.Whitelisted)
	o.AuthorizedCreators = chain.CanonicalAll(o.AuthorizedCreators)
}

// Contest is created only after a ContestCreated event confirms it on-chain.
// Deadlines are Unix milliseconds.
type Contest struct {
	ID                 string   `json:"id,omitempty"`
	Name               string   `json:"name"`
	AddrGrantOrga      string   `json:"addrGrantOrga"`
	AvailableFunds     float64  `json:"availableFunds"`
	ApplicationEndDate int64    `json:"applicationEndDate"`
	VotingEndDate      int64    `json:"votingEndDate"`
	Thematics          []int    `json:"thematics"`
	Countries          []int    `json:"countries"`
	AddrActionCreators []string `json:"addrActionCreators"`
}

// Canonicalize normalizes every address held by the record
func (c *Contest) Canonicalize() {
	c.AddrGrantOrga = chain.Canonical(c.AddrGrantOrga)
	c.AddrActionCreators = chain.CanonicalAll(c.AddrActionCreators)
}

// VotingDeadline returns the voting end as a time
func (c *Contest) VotingDeadline() time.Time {
	return time.UnixMilli(c.VotingEndDate)
}

// HasActionCreator reports whether addr joined the contest
func (c *Contest) HasActionCreator(addr string) bool {
	for _, a := range c.AddrActionCreators {
		if chain.SameAddress(a, addr) {
			return true
		}
	}
	return false
}

// Action is created only after an ActionCreated event confirms it on-chain.
// NbOfVotes only ever grows.
type Action struct {
	ID              string  `json:"id,omitempty"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	RequiredFunds   float64 `json:"requiredFunds"`
	AddrOrgaCreator string  `json:"addrOrgaCreator"`
	AddrGrantOrga   string  `json:"addrGrantOrga"`
	ContestID       string  `json:"contestId"`
	NbOfVotes       int64   `json:"nbOfVotes"`
}

// Canonicalize normalizes every address held by the record
func (a *Action) Canonicalize() {
	a.AddrOrgaCreator = chain.Canonical(a.AddrOrgaCreator)
	a.AddrGrantOrga = chain.Canonical(a.AddrGrantOrga)
}

// Participant is a registered member profile. RegisteredAt is Unix
// milliseconds.
type Participant struct {
	ID           string `json:"id,omitempty"`
	EthAddress   string `json:"ethAddress"`
	Firstname    string `json:"firstname"`
	Lastname     string `json:"lastname"`
	Email        string `json:"email"`
	RegisteredAt int64  `json:"registeredAt,omitempty"`
}

// Canonicalize normalizes the participant address
func (p *Participant) Canonicalize() {
	p.EthAddress = chain.Canonical(p.EthAddress)
}

// MemberStatus is derived, never stored
type MemberStatus string

const (
	MemberRegistered MemberStatus = "Registered"
	MemberPending    MemberStatus = "Pending"
)

// Member is the view of one whitelisted address. RegistrationDate is zero
// while the member is Pending.
type Member struct {
	EthAddress       string       `json:"ethAddress"`
	OrgEthAddress    string       `json:"orgEthAddress"`
	Status           MemberStatus `json:"status"`
	Firstname        string       `json:"firstname"`
	Lastname         string       `json:"lastname"`
	Email            string       `json:"email"`
	RegistrationDate int64        `json:"registrationDate,omitempty"`
}

// EligibleContest is a contest visible to an organisation, annotated with
// whether the caller already joined it
type EligibleContest struct {
	Contest
	Joined bool `json:"joined"`
}
