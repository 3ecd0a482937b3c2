package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/domain"
	"github.com/yugo-dao/yugo-sync/pkg/chain"
)

// Client is typed access to a Store. Addresses are canonicalized on every
// record read and every record written.
type Client struct {
	store Store
}

// NewClient wraps a Store
func NewClient(store Store) *Client {
	return &Client{store: store}
}

// Store returns the underlying store
func (c *Client) Store() Store {
	return c.store
}

type canonicalizer interface {
	Canonicalize()
}

func encode(v canonicalizer) (Document, error) {
	v.Canonicalize()
	return normalize(v)
}

func decode[T any, PT interface {
	*T
	canonicalizer
}](doc Document) (T, error) {
	var out T
	raw, err := json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("failed to encode document: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode document: %w", err)
	}
	PT(&out).Canonicalize()
	return out, nil
}

func decodeAll[T any, PT interface {
	*T
	canonicalizer
}](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := decode[T, PT](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Organisations returns every organisation
func (c *Client) Organisations(ctx context.Context) ([]domain.Organisation, error) {
	docs, err := c.store.Query(ctx, Organisations, All())
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.Organisation](docs)
}

// OrganisationByAddress returns the organisation registered under addr, or nil
func (c *Client) OrganisationByAddress(ctx context.Context, addr string) (*domain.Organisation, error) {
	docs, err := c.store.Query(ctx, Organisations, EqualTo("ethAddress", chain.Canonical(addr)))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	org, err := decode[domain.Organisation](docs[0])
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// SaveOrganisation inserts or replaces an organisation
func (c *Client) SaveOrganisation(ctx context.Context, org *domain.Organisation) (string, error) {
	doc, err := encode(org)
	if err != nil {
		return "", err
	}
	return c.store.Save(ctx, Organisations, doc)
}

// AppendWhitelisted adds a member address to an organisation's whitelist
func (c *Client) AppendWhitelisted(ctx context.Context, orgID, member string) error {
	return c.store.AppendUnique(ctx, Organisations, orgID, "whitelisted", chain.Canonical(member))
}

// Participants returns every participant
func (c *Client) Participants(ctx context.Context) ([]domain.Participant, error) {
	docs, err := c.store.Query(ctx, Participants, All())
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.Participant](docs)
}

// SaveParticipant inserts or replaces a participant profile, stamping
// RegisteredAt with the current time when it is unset
func (c *Client) SaveParticipant(ctx context.Context, p *domain.Participant) (string, error) {
	doc, err := encode(p)
	if err != nil {
		return "", err
	}
	if p.RegisteredAt == 0 {
		doc["registeredAt"] = time.Now().UnixMilli()
	}
	return c.store.Save(ctx, Participants, doc)
}

// Contests returns every contest
func (c *Client) Contests(ctx context.Context) ([]domain.Contest, error) {
	docs, err := c.store.Query(ctx, Contests, All())
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.Contest](docs)
}

// Contest returns one contest
func (c *Client) Contest(ctx context.Context, id string) (*domain.Contest, error) {
	doc, err := c.store.Get(ctx, Contests, id)
	if err != nil {
		return nil, err
	}
	contest, err := decode[domain.Contest](doc)
	if err != nil {
		return nil, err
	}
	return &contest, nil
}

// SaveContest inserts or replaces a contest
func (c *Client) SaveContest(ctx context.Context, contest *domain.Contest) (string, error) {
	doc, err := encode(contest)
	if err != nil {
		return "", err
	}
	return c.store.Save(ctx, Contests, doc)
}

// AppendActionCreator adds addr to a contest's roster of action creators
func (c *Client) AppendActionCreator(ctx context.Context, contestID, addr string) error {
	return c.store.AppendUnique(ctx, Contests, contestID, "addrActionCreators", chain.Canonical(addr))
}

// Actions returns every action
func (c *Client) Actions(ctx context.Context) ([]domain.Action, error) {
	docs, err := c.store.Query(ctx, Actions, All())
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.Action](docs)
}

// ActionsByCreators returns actions whose creator is one of addrs
func (c *Client) ActionsByCreators(ctx context.Context, addrs []string) ([]domain.Action, error) {
	docs, err := c.store.Query(ctx, Actions, ContainedInStrings("addrOrgaCreator", chain.CanonicalAll(addrs)))
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.Action](docs)
}

// Action returns one action
func (c *Client) Action(ctx context.Context, id string) (*domain.Action, error) {
	doc, err := c.store.Get(ctx, Actions, id)
	if err != nil {
		return nil, err
	}
	action, err := decode[domain.Action](doc)
	if err != nil {
		return nil, err
	}
	return &action, nil
}

// SaveAction inserts or replaces an action
func (c *Client) SaveAction(ctx context.Context, action *domain.Action) (string, error) {
	doc, err := encode(action)
	if err != nil {
		return "", err
	}
	return c.store.Save(ctx, Actions, doc)
}

// IncrementVotes adds one vote to an action
func (c *Client) IncrementVotes(ctx context.Context, actionID string) error {
	return c.store.Increment(ctx, Actions, actionID, "nbOfVotes", 1)
}

// Snapshot is the full current record set the projector runs over
type Snapshot struct {
	Organisations []domain.Organisation
	Participants  []domain.Participant
	Contests      []domain.Contest
	Actions       []domain.Action
}

// Snapshot reads all four collections. Reads are independent, so a
// concurrent write may land between them; callers re-run on the next change.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	var (
		snap Snapshot
		err  error
	)
	if snap.Organisations, err = c.Organisations(ctx); err != nil {
		return nil, fmt.Errorf("organisations: %w", err)
	}
	if snap.Participants, err = c.Participants(ctx); err != nil {
		return nil, fmt.Errorf("participants: %w", err)
	}
	if snap.Contests, err = c.Contests(ctx); err != nil {
		return nil, fmt.Errorf("contests: %w", err)
	}
	if snap.Actions, err = c.Actions(ctx); err != nil {
		return nil, fmt.Errorf("actions: %w", err)
	}
	return &snap, nil
}

// IsNotFound reports whether err is a missing-document error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
