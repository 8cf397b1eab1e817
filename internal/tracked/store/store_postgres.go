package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tariffpub/internal/tracked/models"
	wbmodels "tariffpub/internal/workbasket/models"
	"tariffpub/pkg/platform/sentinel"
	"tariffpub/pkg/platform/tx"
)

func approvedStatusArray() any {
	statuses := wbmodels.ApprovedStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}

// Postgres persists tracked models in PostgreSQL. Version resolution is done
// with SQL joins against the transaction and workbasket tables so the
// Postgres store does not need the Ledger indirection the memory store uses.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed tracked store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const trackedColumns = `t.id, t.kind, t.sid, t.version_group_id, t.transaction_id, t.update_type, t.valid_from, t.valid_to, t.data`

func (s *Postgres) Insert(ctx context.Context, m *models.TrackedModel) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO tracked_model (id, kind, sid, version_group_id, transaction_id, update_type, valid_from, valid_to, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, string(m.Kind), m.SID, m.VersionGroupID, m.TransactionID, int(m.UpdateType),
		m.ValidBetween.Lower, nullTime(m.ValidBetween.Upper), []byte(m.Data),
	)
	if err != nil {
		return fmt.Errorf("insert tracked model: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (*models.TrackedModel, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `SELECT `+trackedColumns+` FROM tracked_model t WHERE t.id = $1`, id)
	m, err := scanTracked(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tracked model %s: %w", id, sentinel.ErrNotFound)
	}
	return m, err
}

func (s *Postgres) CreateVersionGroup(ctx context.Context, g *models.VersionGroup) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx,
		`INSERT INTO version_group (id, current_version_id) VALUES ($1, $2)`,
		g.ID, nullUUID(g.CurrentVersionID),
	)
	if err != nil {
		return fmt.Errorf("insert version group: %w", err)
	}
	return nil
}

func (s *Postgres) VersionGroup(ctx context.Context, id uuid.UUID) (*models.VersionGroup, error) {
	q := tx.Resolve(ctx, s.db)
	g := &models.VersionGroup{}
	var current sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, current_version_id FROM version_group WHERE id = $1`, id,
	).Scan(&g.ID, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version group %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get version group: %w", err)
	}
	if current.Valid {
		parsed, err := uuid.Parse(current.String)
		if err != nil {
			return nil, fmt.Errorf("parse current version id: %w", err)
		}
		g.CurrentVersionID = &parsed
	}
	return g, nil
}

func (s *Postgres) SetCurrentVersion(ctx context.Context, groupID, versionID uuid.UUID) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx,
		`UPDATE version_group SET current_version_id = $2 WHERE id = $1`,
		groupID, versionID,
	)
	if err != nil {
		return fmt.Errorf("set current version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("version group %s: %w", groupID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Postgres) Current(ctx context.Context) ([]*models.TrackedModel, error) {
	return s.queryTracked(ctx, `
		SELECT `+trackedColumns+`
		FROM tracked_model t
		JOIN version_group g ON g.current_version_id = t.id
		WHERE t.update_type <> 3
		ORDER BY t.sid, t.kind`)
}

func (s *Postgres) AsAt(ctx context.Context, at time.Time) ([]*models.TrackedModel, error) {
	return s.queryTracked(ctx, `
		SELECT `+trackedColumns+`
		FROM tracked_model t
		JOIN version_group g ON g.current_version_id = t.id
		WHERE t.update_type <> 3
		  AND t.valid_from <= $1
		  AND (t.valid_to IS NULL OR t.valid_to >= $1)
		ORDER BY t.sid, t.kind`, at)
}

func (s *Postgres) WithWorkBasket(ctx context.Context, workbasketID *uuid.UUID) ([]*models.TrackedModel, error) {
	if workbasketID == nil {
		return s.Current(ctx)
	}
	// For every identity, pick the workbasket's own latest version (by
	// transaction order) when one exists, falling back to the group current
	// version. DISTINCT ON keeps only the preferred row per identity; the
	// in-basket predecessor of a later in-basket edit never wins the sort.
	return s.queryTracked(ctx, `
		SELECT id, kind, sid, version_group_id, transaction_id, update_type, valid_from, valid_to, data FROM (
			SELECT DISTINCT ON (t.kind, t.sid)
			       t.id, t.kind, t.sid, t.version_group_id, t.transaction_id, t.update_type,
			       t.valid_from, t.valid_to, t.data
			FROM tracked_model t
			JOIN version_group g ON g.id = t.version_group_id
			LEFT JOIN tariff_transaction txn ON txn.id = t.transaction_id
			WHERE (txn.workbasket_id = $1 OR g.current_version_id = t.id)
			ORDER BY t.kind, t.sid,
			         (txn.workbasket_id = $1) DESC,
			         txn.ord DESC
		) preferred
		WHERE preferred.update_type <> 3
		ORDER BY preferred.sid, preferred.kind`, *workbasketID)
}

func (s *Postgres) VersionHistory(ctx context.Context, identity models.Identity) ([]*models.TrackedModel, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	return s.queryTracked(ctx, `
		SELECT `+trackedColumns+`
		FROM tracked_model t
		JOIN tariff_transaction txn ON txn.id = t.transaction_id
		WHERE t.kind = $1 AND t.sid = $2
		ORDER BY txn.partition DESC, txn.ord ASC`, string(identity.Kind), identity.SID)
}

func (s *Postgres) LatestApproved(ctx context.Context, identity models.Identity) (*models.TrackedModel, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT `+trackedColumns+`
		FROM tracked_model t
		JOIN tariff_transaction txn ON txn.id = t.transaction_id
		JOIN workbasket wb ON wb.id = txn.workbasket_id
		WHERE t.kind = $1 AND t.sid = $2
		  AND wb.status = ANY($3)
		ORDER BY txn.partition DESC, txn.ord DESC
		LIMIT 1`,
		string(identity.Kind), identity.SID, approvedStatusArray(),
	)
	m, err := scanTracked(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no approved version of %s %s: %w", identity.Kind, identity.SID, sentinel.ErrNotFound)
	}
	return m, err
}

func (s *Postgres) ModelsForTransaction(ctx context.Context, transactionID uuid.UUID) ([]*models.TrackedModel, error) {
	return s.queryTracked(ctx, `
		SELECT `+trackedColumns+`
		FROM tracked_model t
		WHERE t.transaction_id = $1
		ORDER BY t.id`, transactionID)
}

func (s *Postgres) ModelsForWorkBasket(ctx context.Context, workbasketID uuid.UUID) ([]*models.TrackedModel, error) {
	return s.queryTracked(ctx, `
		SELECT `+trackedColumns+`
		FROM tracked_model t
		JOIN tariff_transaction txn ON txn.id = t.transaction_id
		WHERE txn.workbasket_id = $1
		ORDER BY txn.ord ASC, t.id`, workbasketID)
}

func (s *Postgres) PromoteCurrentVersions(ctx context.Context, workbasketID uuid.UUID) error {
	basketModels, err := s.ModelsForWorkBasket(ctx, workbasketID)
	if err != nil {
		return err
	}
	for _, m := range basketModels {
		if err := s.SetCurrentVersion(ctx, m.VersionGroupID, m.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) queryTracked(ctx context.Context, query string, args ...any) ([]*models.TrackedModel, error) {
	q := tx.Resolve(ctx, s.db)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tracked models: %w", err)
	}
	defer rows.Close()

	var out []*models.TrackedModel
	for rows.Next() {
		m, err := scanTracked(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTracked(row scanner) (*models.TrackedModel, error) {
	m := &models.TrackedModel{}
	var (
		kind       string
		updateType int
		validTo    sql.NullTime
		data       []byte
	)
	err := row.Scan(&m.ID, &kind, &m.SID, &m.VersionGroupID, &m.TransactionID, &updateType, &m.ValidBetween.Lower, &validTo, &data)
	if err != nil {
		return nil, err
	}
	m.Kind = models.RecordKind(kind)
	m.UpdateType = models.UpdateType(updateType)
	if validTo.Valid {
		t := validTo.Time
		m.ValidBetween.Upper = &t
	}
	m.Data = data
	return m, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}
