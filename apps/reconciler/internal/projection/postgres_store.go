package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the document table
const Schema = `
CREATE TABLE IF NOT EXISTS projection_documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_projection_documents_doc ON projection_documents USING GIN (doc);
`

// PostgresStore keeps documents as jsonb rows and announces every write on a Feed
type PostgresStore struct {
	pool *pgxpool.Pool
	feed Feed
}

// NewPostgresStore creates a store. feed may be a RedisFeed so that every
// replica sees every write, or a LocalFeed for a single process.
func NewPostgresStore(pool *pgxpool.Pool, feed Feed) *PostgresStore {
	return &PostgresStore{pool: pool, feed: feed}
}

// EnsureSchema creates the document table if missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create projection schema: %w", err)
	}
	return nil
}

// Query loads the collection in insertion order and filters it with p.
// Equality and containment on scalar values are pushed down to the GIN index.
func (s *PostgresStore) Query(ctx context.Context, c Collection, p Predicate) ([]Document, error) {
	query := `SELECT doc FROM projection_documents WHERE collection = $1`
	args := []interface{}{string(c)}

	cond, condArgs, err := pushdown(p, len(args)+1)
	if err != nil {
		return nil, err
	}
	if cond != "" {
		query += ` AND ` + cond
		args = append(args, condArgs...)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c, err)
	}
	defer rows.Close()

	result := []Document{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s document: %w", c, err)
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s document: %w", c, err)
		}
		if p.Matches(doc) {
			result = append(result, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", c, err)
	}
	return result, nil
}

// pushdown renders the SQL condition for p with parameters numbered from
// next. Each value matches the field holding it or an array containing it.
// It returns "" when p has to be evaluated in Go alone.
func pushdown(p Predicate, next int) (string, []interface{}, error) {
	if p.Op != OpEqualTo && p.Op != OpContainedIn {
		return "", nil, nil
	}
	if len(p.Values) == 0 {
		return "FALSE", nil, nil
	}

	terms := make([]string, 0, 2*len(p.Values))
	args := make([]interface{}, 0, 2*len(p.Values))
	for _, v := range p.Values {
		switch jsonValue(v).(type) {
		case []interface{}, map[string]interface{}:
			return "", nil, nil
		}
		scalar, err := json.Marshal(map[string]interface{}{p.Field: v})
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode predicate: %w", err)
		}
		array, err := json.Marshal(map[string]interface{}{p.Field: []interface{}{v}})
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode predicate: %w", err)
		}
		terms = append(terms,
			fmt.Sprintf("doc @> $%d::jsonb", next),
			fmt.Sprintf("doc @> $%d::jsonb", next+1))
		args = append(args, scalar, array)
		next += 2
	}
	return "(" + strings.Join(terms, " OR ") + ")", args, nil
}

// Get returns one document
func (s *PostgresStore) Get(ctx context.Context, c Collection, id string) (Document, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM projection_documents WHERE collection = $1 AND id = $2`,
		string(c), id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", c, id, err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", c, id, err)
	}
	return doc, nil
}

// Save upserts a document
func (s *PostgresStore) Save(ctx context.Context, c Collection, doc Document) (string, error) {
	stored, err := normalize(doc)
	if err != nil {
		return "", err
	}
	id := stored.ID()
	if id == "" {
		id = uuid.New().String()
		stored[IDField] = id
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO projection_documents (collection, id, doc)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, string(c), id, raw)
	if err != nil {
		return "", fmt.Errorf("failed to save %s/%s: %w", c, id, err)
	}

	return id, s.publish(ctx, c, id, ChangeSaved, stored)
}

// AppendUnique adds value to an array field unless present, in one statement
func (s *PostgresStore) AppendUnique(ctx context.Context, c Collection, id, field string, value interface{}) error {
	element, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}

	return s.mutate(ctx, c, id, ChangeAppended, `
		UPDATE projection_documents
		SET doc = jsonb_set(doc, ARRAY[$3::text],
				CASE WHEN COALESCE(doc->$3::text, '[]'::jsonb) @> jsonb_build_array($4::jsonb)
					THEN COALESCE(doc->$3::text, '[]'::jsonb)
					ELSE COALESCE(doc->$3::text, '[]'::jsonb) || jsonb_build_array($4::jsonb)
				END, true),
			updated_at = NOW()
		WHERE collection = $1 AND id = $2
		RETURNING doc
	`, string(c), id, field, element)
}

// Increment adds delta to a numeric field, treating a missing field as zero
func (s *PostgresStore) Increment(ctx context.Context, c Collection, id, field string, delta int64) error {
	if delta < 0 {
		return ErrNegativeDelta
	}

	return s.mutate(ctx, c, id, ChangeIncrement, `
		UPDATE projection_documents
		SET doc = jsonb_set(doc, ARRAY[$3::text],
				to_jsonb(COALESCE((doc->>$3::text)::numeric, 0) + $4), true),
			updated_at = NOW()
		WHERE collection = $1 AND id = $2
		RETURNING doc
	`, string(c), id, field, delta)
}

func (s *PostgresStore) mutate(ctx context.Context, c Collection, id string, kind ChangeKind, sql string, args ...interface{}) error {
	var raw []byte
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
		}
		return fmt.Errorf("failed to update %s/%s: %w", c, id, err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", c, id, err)
	}
	return s.publish(ctx, c, id, kind, doc)
}

// publish announces a committed write. A feed failure does not undo the
// write; subscribers catch up on their next full re-query.
func (s *PostgresStore) publish(ctx context.Context, c Collection, id string, kind ChangeKind, doc Document) error {
	if s.feed == nil {
		return nil
	}
	if err := s.feed.Publish(ctx, Change{Collection: c, ID: id, Kind: kind, Document: doc}); err != nil {
		return fmt.Errorf("%w: %v", ErrFeedPublish, err)
	}
	return nil
}

// Subscribe opens a live subscription on the feed
func (s *PostgresStore) Subscribe(ctx context.Context, c Collection, p Predicate) (*Subscription, error) {
	if s.feed == nil {
		return nil, errors.New("projection store has no feed")
	}
	return s.feed.Subscribe(ctx, c, p)
}
