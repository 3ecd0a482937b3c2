// Package eligibility computes the views an organisation is allowed to see.
// Every function here is pure: it reads the records it is given and the
// configured clock, nothing else.
package eligibility

import (
	"sort"
	"time"

	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/domain"
	"github.com/yugo-dao/yugo-sync/pkg/chain"
)

// Config configures a Projector
type Config struct {
	// Caller is the address the views are computed for
	Caller string
	// Now defaults to time.Now
	Now func() time.Time
}

// Projector filters raw records into per-organisation views
type Projector struct {
	caller string
	now    func() time.Time
}

// NewProjector creates a projector
func NewProjector(cfg Config) *Projector {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Projector{caller: chain.Canonical(cfg.Caller), now: now}
}

// Caller returns the canonical caller address
func (p *Projector) Caller() string {
	return p.caller
}

// View is everything the caller's organisation can see at one instant
type View struct {
	Organisation *domain.Organisation    `json:"organisation"`
	Contests     []domain.EligibleContest `json:"contests"`
	Actions      []domain.Action          `json:"actions"`
	Members      []domain.Member          `json:"members"`
	ComputedAt   time.Time                `json:"computedAt"`
}

// Project recomputes the caller's whole view from a full record set
func (p *Projector) Project(orgs []domain.Organisation, participants []domain.Participant, contests []domain.Contest, actions []domain.Action) *View {
	org := FindOrganisation(orgs, p.caller)
	eligible := p.EligibleContests(contests, org, p.caller)
	return &View{
		Organisation: org,
		Contests:     eligible,
		Actions:      EligibleActions(actions, eligible),
		Members:      WhitelistedMembers(org, participants),
		ComputedAt:   p.now(),
	}
}

// FindOrganisation returns the organisation registered under addr, or nil
func FindOrganisation(orgs []domain.Organisation, addr string) *domain.Organisation {
	for i := range orgs {
		if chain.SameAddress(orgs[i].EthAddress, addr) {
			org := orgs[i]
			return &org
		}
	}
	return nil
}

// Eligible reports whether org may see contest at instant now. Thematic and
// country sets must each share at least one tag; an empty set shares nothing.
func Eligible(contest *domain.Contest, org *domain.Organisation, now time.Time) bool {
	if contest == nil || org == nil {
		return false
	}
	if !now.Before(contest.VotingDeadline()) {
		return false
	}
	return intersects(org.Thematics, contest.Thematics) && intersects(org.Countries, contest.Countries)
}

// EligibleContests keeps the contests org may see and marks the ones addr
// already joined. A nil org sees nothing.
func (p *Projector) EligibleContests(contests []domain.Contest, org *domain.Organisation, addr string) []domain.EligibleContest {
	out := make([]domain.EligibleContest, 0)
	if org == nil {
		return out
	}

	now := p.now()
	for i := range contests {
		c := contests[i]
		if !Eligible(&c, org, now) {
			continue
		}
		out = append(out, domain.EligibleContest{Contest: c, Joined: c.HasActionCreator(addr)})
	}
	return out
}

// ActionCreators is the union of action creators across contests, sorted
func ActionCreators(contests []domain.EligibleContest) []string {
	seen := make(map[string]struct{})
	for _, c := range contests {
		for _, a := range c.AddrActionCreators {
			if a = chain.Canonical(a); a != "" {
				seen[a] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// EligibleActions keeps the actions whose creator joined one of the eligible
// contests. Visibility follows contest membership, not the contest id stored
// on the action.
func EligibleActions(actions []domain.Action, eligible []domain.EligibleContest) []domain.Action {
	creators := make(map[string]struct{})
	for _, a := range ActionCreators(eligible) {
		creators[a] = struct{}{}
	}

	out := make([]domain.Action, 0)
	for _, a := range actions {
		if _, ok := creators[chain.Canonical(a.AddrOrgaCreator)]; ok {
			out = append(out, a)
		}
	}
	return out
}

// WhitelistedMembers returns one member per whitelisted address, in whitelist
// order. A member is Registered when a participant profile exists for the
// address and Pending with empty profile fields otherwise.
func WhitelistedMembers(org *domain.Organisation, participants []domain.Participant) []domain.Member {
	out := make([]domain.Member, 0)
	if org == nil {
		return out
	}

	profiles := make(map[string]domain.Participant, len(participants))
	for _, p := range participants {
		addr := chain.Canonical(p.EthAddress)
		if _, dup := profiles[addr]; !dup {
			profiles[addr] = p
		}
	}

	orgAddr := chain.Canonical(org.EthAddress)
	for _, addr := range chain.CanonicalAll(org.Whitelisted) {
		m := domain.Member{EthAddress: addr, OrgEthAddress: orgAddr, Status: domain.MemberPending}
		if p, ok := profiles[addr]; ok {
			m.Status = domain.MemberRegistered
			m.Firstname = p.Firstname
			m.Lastname = p.Lastname
			m.Email = p.Email
			m.RegistrationDate = p.RegisteredAt
		}
		out = append(out, m)
	}
	return out
}

func intersects(a, b []int) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[int]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
