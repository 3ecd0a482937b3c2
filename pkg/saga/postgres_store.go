package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the intent journal tables
const Schema = `
CREATE TABLE IF NOT EXISTS reconcile_intents (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	caller         TEXT NOT NULL,
	fingerprint    TEXT NOT NULL,
	state          TEXT NOT NULL,
	previous_state TEXT,
	payload        JSONB NOT NULL DEFAULT '{}'::jsonb,
	tx_hash        TEXT,
	failure_kind   TEXT,
	error_message  TEXT,
	settled        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_reconcile_intents_state ON reconcile_intents (state, created_at);
CREATE INDEX IF NOT EXISTS idx_reconcile_intents_tx_hash ON reconcile_intents (tx_hash);

CREATE TABLE IF NOT EXISTS reconcile_intent_transitions (
	id         TEXT PRIMARY KEY,
	intent_id  TEXT NOT NULL REFERENCES reconcile_intents (id),
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	reason     TEXT,
	timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reconcile_intent_transitions_intent ON reconcile_intent_transitions (intent_id, timestamp);
`

const intentColumns = `id, kind, caller, fingerprint, state, previous_state, payload,
	tx_hash, failure_kind, error_message, settled, created_at, updated_at, completed_at`

// PostgresStateStore implements StateStore using PostgreSQL
type PostgresStateStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStateStore creates a new PostgreSQL-based state store
func NewPostgresStateStore(pool *pgxpool.Pool) *PostgresStateStore {
	return &PostgresStateStore{pool: pool}
}

// EnsureSchema creates the journal tables if missing
func (s *PostgresStateStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create intent journal schema: %w", err)
	}
	return nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// SaveIntent persists a new intent
func (s *PostgresStateStore) SaveIntent(ctx context.Context, intent *IntentSaga) error {
	payloadJSON, err := json.Marshal(intent.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal intent payload: %w", err)
	}

	query := `INSERT INTO reconcile_intents (` + intentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		intent.ID,
		intent.Kind,
		intent.Caller,
		intent.Fingerprint,
		string(intent.State),
		nullable(string(intent.PreviousState)),
		payloadJSON,
		nullable(intent.TxHash),
		nullable(intent.FailureKind),
		nullable(intent.ErrorMessage),
		intent.Settled,
		intent.CreatedAt,
		intent.UpdatedAt,
		intent.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentExists
	}
	return nil
}

// GetIntent retrieves an intent by ID
func (s *PostgresStateStore) GetIntent(ctx context.Context, id string) (*IntentSaga, error) {
	query := `SELECT ` + intentColumns + ` FROM reconcile_intents WHERE id = $1`
	return scanIntent(s.pool.QueryRow(ctx, query, id))
}

// GetIntentByTxHash retrieves an intent by transaction hash
func (s *PostgresStateStore) GetIntentByTxHash(ctx context.Context, txHash string) (*IntentSaga, error) {
	query := `SELECT ` + intentColumns + ` FROM reconcile_intents WHERE tx_hash = $1 LIMIT 1`
	return scanIntent(s.pool.QueryRow(ctx, query, txHash))
}

// scanIntent scans a row into an IntentSaga
func scanIntent(row pgx.Row) (*IntentSaga, error) {
	var intent IntentSaga
	var state string
	var previousState, txHash, failureKind, errorMessage *string
	var payloadJSON []byte

	err := row.Scan(
		&intent.ID,
		&intent.Kind,
		&intent.Caller,
		&intent.Fingerprint,
		&state,
		&previousState,
		&payloadJSON,
		&txHash,
		&failureKind,
		&errorMessage,
		&intent.Settled,
		&intent.CreatedAt,
		&intent.UpdatedAt,
		&intent.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, fmt.Errorf("failed to scan intent: %w", err)
	}

	intent.State = IntentState(state)
	intent.PreviousState = IntentState(deref(previousState))
	intent.TxHash = deref(txHash)
	intent.FailureKind = deref(failureKind)
	intent.ErrorMessage = deref(errorMessage)

	intent.Payload = make(map[string]interface{})
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &intent.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal intent payload: %w", err)
		}
	}
	return &intent, nil
}

// UpdateIntent updates an existing intent
func (s *PostgresStateStore) UpdateIntent(ctx context.Context, intent *IntentSaga) error {
	payloadJSON, err := json.Marshal(intent.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal intent payload: %w", err)
	}

	query := `
		UPDATE reconcile_intents
		SET state = $2,
			previous_state = $3,
			payload = $4,
			tx_hash = $5,
			failure_kind = $6,
			error_message = $7,
			settled = $8,
			updated_at = $9,
			completed_at = $10
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		intent.ID,
		string(intent.State),
		nullable(string(intent.PreviousState)),
		payloadJSON,
		nullable(intent.TxHash),
		nullable(intent.FailureKind),
		nullable(intent.ErrorMessage),
		intent.Settled,
		time.Now(),
		intent.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update intent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// SaveTransition persists a state transition
func (s *PostgresStateStore) SaveTransition(ctx context.Context, transition *StateTransition) error {
	query := `
		INSERT INTO reconcile_intent_transitions (id, intent_id, from_state, to_state, reason, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		transition.ID,
		transition.IntentID,
		string(transition.FromState),
		string(transition.ToState),
		nullable(transition.Reason),
		transition.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save transition: %w", err)
	}
	return nil
}

// GetTransitions retrieves all transitions for an intent
func (s *PostgresStateStore) GetTransitions(ctx context.Context, intentID string) ([]StateTransition, error) {
	query := `
		SELECT id, intent_id, from_state, to_state, reason, timestamp
		FROM reconcile_intent_transitions
		WHERE intent_id = $1
		ORDER BY timestamp ASC
	`

	rows, err := s.pool.Query(ctx, query, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transitions: %w", err)
	}
	defer rows.Close()

	var transitions []StateTransition
	for rows.Next() {
		var t StateTransition
		var fromState, toState string
		var reason *string

		if err := rows.Scan(&t.ID, &t.IntentID, &fromState, &toState, &reason, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.FromState = IntentState(fromState)
		t.ToState = IntentState(toState)
		t.Reason = deref(reason)
		transitions = append(transitions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}
	return transitions, nil
}

// GetIntentsByState retrieves intents by state
func (s *PostgresStateStore) GetIntentsByState(ctx context.Context, state IntentState, limit int) ([]*IntentSaga, error) {
	query := `SELECT ` + intentColumns + ` FROM reconcile_intents WHERE state = $1 ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, query, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to get intents by state: %w", err)
	}
	defer rows.Close()

	var intents []*IntentSaga
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intents: %w", err)
	}
	return intents, nil
}

// ListIntents returns one page of intents in any of states, oldest first,
// with the total count of intents in those states
func (s *PostgresStateStore) ListIntents(ctx context.Context, states []IntentState, offset, limit int) ([]*IntentSaga, int, error) {
	names := make([]string, len(states))
	for i, state := range states {
		names[i] = string(state)
	}

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM reconcile_intents WHERE state = ANY($1)`, names).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count intents: %w", err)
	}
	if total == 0 || offset >= total {
		return nil, total, nil
	}

	query := `SELECT ` + intentColumns + ` FROM reconcile_intents
		WHERE state = ANY($1) ORDER BY created_at ASC, id ASC OFFSET $2`
	args := []any{names, max(offset, 0)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	var intents []*IntentSaga
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, 0, err
		}
		intents = append(intents, intent)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating intents: %w", err)
	}
	return intents, total, nil
}
