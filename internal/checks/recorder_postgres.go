package checks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tariffpub/pkg/platform/sentinel"
	"tariffpub/pkg/platform/tx"
)

// PostgresRecorder persists check results in PostgreSQL. One row per
// workbasket; a new run overwrites the previous result.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder constructs a PostgreSQL-backed check recorder.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (r *PostgresRecorder) Record(ctx context.Context, result CheckResult) error {
	outcomes, err := json.Marshal(result.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal rule outcomes: %w", err)
	}
	q := tx.Resolve(ctx, r.db)
	_, err = q.ExecContext(ctx, `
		INSERT INTO check_result (workbasket_id, state, fingerprint, checked_at, outcomes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workbasket_id) DO UPDATE
		SET state = EXCLUDED.state,
		    fingerprint = EXCLUDED.fingerprint,
		    checked_at = EXCLUDED.checked_at,
		    outcomes = EXCLUDED.outcomes`,
		result.WorkBasketID, string(result.State), result.Fingerprint, result.CheckedAt, outcomes,
	)
	if err != nil {
		return fmt.Errorf("record check result: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) Latest(ctx context.Context, workbasketID uuid.UUID) (*CheckResult, error) {
	q := tx.Resolve(ctx, r.db)
	result := &CheckResult{}
	var (
		state    string
		outcomes []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT workbasket_id, state, fingerprint, checked_at, outcomes
		FROM check_result WHERE workbasket_id = $1`, workbasketID,
	).Scan(&result.WorkBasketID, &state, &result.Fingerprint, &result.CheckedAt, &outcomes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no check result for workbasket %s: %w", workbasketID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load check result: %w", err)
	}
	result.State = State(state)
	if err := json.Unmarshal(outcomes, &result.Outcomes); err != nil {
		return nil, fmt.Errorf("unmarshal rule outcomes: %w", err)
	}
	return result, nil
}

func (r *PostgresRecorder) Invalidate(ctx context.Context, workbasketID uuid.UUID) error {
	q := tx.Resolve(ctx, r.db)
	if _, err := q.ExecContext(ctx,
		`DELETE FROM check_result WHERE workbasket_id = $1`, workbasketID); err != nil {
		return fmt.Errorf("invalidate check result: %w", err)
	}
	return nil
}
