package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tariffpub/internal/publishing/models"
	"tariffpub/pkg/platform/sentinel"
	"tariffpub/pkg/platform/tx"
)

// Postgres persists the publishing state in PostgreSQL. Queue locking uses an
// exclusive table lock for creation and FOR UPDATE NOWAIT row locks for
// processing transitions, matching the fail-fast concurrency model.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed publishing store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const packagedColumns = `id, workbasket_id, position, state, envelope_id, crown_envelope_id,
	theme, description, eif, embargo, jira_url, processing_started_at, created_at, updated_at`

func (s *Postgres) LockQueue(ctx context.Context) error {
	q := tx.Resolve(ctx, s.db)
	if _, err := q.ExecContext(ctx, `LOCK TABLE packaged_workbasket IN EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("lock packaging queue: %w", err)
	}
	return nil
}

func (s *Postgres) CreatePackaged(ctx context.Context, pwb *models.PackagedWorkBasket) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO packaged_workbasket
			(id, workbasket_id, position, state, envelope_id, crown_envelope_id,
			 theme, description, eif, embargo, jira_url, processing_started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		pwb.ID, pwb.WorkBasketID, pwb.Position, string(pwb.State),
		nullUUID(pwb.EnvelopeID), nullUUID(pwb.CrownDependenciesEnvelopeID),
		pwb.Theme, pwb.Description, nullTimePtr(pwb.EIF), pwb.Embargo, pwb.JiraURL,
		nullTimePtr(pwb.ProcessingStartedAt), pwb.CreatedAt, pwb.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert packaged workbasket: %w", err)
	}
	return nil
}

func (s *Postgres) GetPackaged(ctx context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx,
		`SELECT `+packagedColumns+` FROM packaged_workbasket WHERE id = $1`, id)
	pwb, err := scanPackaged(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("packaged workbasket %s: %w", id, sentinel.ErrNotFound)
	}
	return pwb, err
}

func (s *Postgres) GetPackagedForUpdate(ctx context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx,
		`SELECT `+packagedColumns+` FROM packaged_workbasket WHERE id = $1 FOR UPDATE NOWAIT`, id)
	pwb, err := scanPackaged(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("packaged workbasket %s: %w", id, sentinel.ErrNotFound)
	}
	if isLockNotAvailable(err) {
		return nil, fmt.Errorf("packaged workbasket %s is locked: %w", id, sentinel.ErrLocked)
	}
	return pwb, err
}

func (s *Postgres) UpdatePackaged(ctx context.Context, pwb *models.PackagedWorkBasket) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE packaged_workbasket
		SET position = $2, state = $3, envelope_id = $4, crown_envelope_id = $5,
		    processing_started_at = $6, updated_at = NOW()
		WHERE id = $1`,
		pwb.ID, pwb.Position, string(pwb.State),
		nullUUID(pwb.EnvelopeID), nullUUID(pwb.CrownDependenciesEnvelopeID),
		nullTimePtr(pwb.ProcessingStartedAt),
	)
	if err != nil {
		return fmt.Errorf("update packaged workbasket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("packaged workbasket %s: %w", pwb.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Postgres) ActiveEntryForWorkBasket(ctx context.Context, workbasketID uuid.UUID) (*models.PackagedWorkBasket, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT `+packagedColumns+`
		FROM packaged_workbasket
		WHERE workbasket_id = $1 AND state IN ($2, $3)`,
		workbasketID, string(models.StateAwaitingProcessing), string(models.StateCurrentlyProcessing))
	pwb, err := scanPackaged(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no active entry for workbasket %s: %w", workbasketID, sentinel.ErrNotFound)
	}
	return pwb, err
}

func (s *Postgres) ListAwaiting(ctx context.Context) ([]*models.PackagedWorkBasket, error) {
	return s.queryPackaged(ctx, `
		SELECT `+packagedColumns+`
		FROM packaged_workbasket
		WHERE state = $1
		ORDER BY position ASC`, string(models.StateAwaitingProcessing))
}

func (s *Postgres) CurrentlyProcessing(ctx context.Context) (*models.PackagedWorkBasket, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT `+packagedColumns+`
		FROM packaged_workbasket
		WHERE state = $1`, string(models.StateCurrentlyProcessing))
	pwb, err := scanPackaged(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("nothing currently processing: %w", sentinel.ErrNotFound)
	}
	return pwb, err
}

func (s *Postgres) MaxPosition(ctx context.Context) (int, error) {
	q := tx.Resolve(ctx, s.db)
	var max int
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), 0)
		FROM packaged_workbasket
		WHERE state = $1`, string(models.StateAwaitingProcessing),
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max queue position: %w", err)
	}
	return max, nil
}

func (s *Postgres) DecrementPositionsAbove(ctx context.Context, pos int) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		UPDATE packaged_workbasket
		SET position = position - 1, updated_at = NOW()
		WHERE state = $1 AND position > $2`,
		string(models.StateAwaitingProcessing), pos)
	if err != nil {
		return fmt.Errorf("shift queue positions: %w", err)
	}
	return nil
}

func (s *Postgres) CreateEnvelope(ctx context.Context, e *models.Envelope) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO envelope (id, envelope_id, xml_file_key, published_to_api, deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.EnvelopeID, e.XMLFileKey, nullTimePtr(e.PublishedToAPI), e.Deleted, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert envelope: %w", err)
	}
	return nil
}

func (s *Postgres) GetEnvelope(ctx context.Context, id uuid.UUID) (*models.Envelope, error) {
	q := tx.Resolve(ctx, s.db)
	e := &models.Envelope{}
	var published sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, envelope_id, xml_file_key, published_to_api, deleted, created_at
		FROM envelope WHERE id = $1`, id,
	).Scan(&e.ID, &e.EnvelopeID, &e.XMLFileKey, &published, &e.Deleted, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("envelope %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get envelope: %w", err)
	}
	if published.Valid {
		t := published.Time
		e.PublishedToAPI = &t
	}
	return e, nil
}

func (s *Postgres) UpdateEnvelope(ctx context.Context, e *models.Envelope) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE envelope
		SET xml_file_key = $2, published_to_api = $3, deleted = $4
		WHERE id = $1`,
		e.ID, e.XMLFileKey, nullTimePtr(e.PublishedToAPI), e.Deleted,
	)
	if err != nil {
		return fmt.Errorf("update envelope: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("envelope %s: %w", e.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Postgres) LatestEnvelopeIDForYear(ctx context.Context, year int) (string, error) {
	q := tx.Resolve(ctx, s.db)
	var latest sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT MAX(e.envelope_id)
		FROM envelope e
		JOIN packaged_workbasket p ON p.envelope_id = e.id
		WHERE p.state = $1
		  AND e.deleted = FALSE
		  AND e.envelope_id LIKE $2`,
		string(models.StateSuccessfullyProcessed), fmt.Sprintf("%02d%%", year%100),
	).Scan(&latest)
	if err != nil {
		return "", fmt.Errorf("latest envelope id: %w", err)
	}
	if !latest.Valid {
		return "", nil
	}
	return latest.String, nil
}

func (s *Postgres) CreateCrownEnvelope(ctx context.Context, c *models.CrownDependenciesEnvelope) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO crown_dependencies_envelope (id, packaged_workbasket_id, state, published, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.PackagedWorkBasketID, string(c.State), nullTimePtr(c.Published), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert crown dependencies envelope: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		UPDATE packaged_workbasket SET crown_envelope_id = $2, updated_at = NOW() WHERE id = $1`,
		c.PackagedWorkBasketID, c.ID,
	)
	if err != nil {
		return fmt.Errorf("link crown dependencies envelope: %w", err)
	}
	return nil
}

func (s *Postgres) GetCrownEnvelope(ctx context.Context, id uuid.UUID) (*models.CrownDependenciesEnvelope, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT id, packaged_workbasket_id, state, published, created_at
		FROM crown_dependencies_envelope WHERE id = $1`, id)
	c, err := scanCrown(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("crown dependencies envelope %s: %w", id, sentinel.ErrNotFound)
	}
	return c, err
}

func (s *Postgres) UpdateCrownEnvelope(ctx context.Context, c *models.CrownDependenciesEnvelope) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE crown_dependencies_envelope
		SET state = $2, published = $3
		WHERE id = $1`,
		c.ID, string(c.State), nullTimePtr(c.Published),
	)
	if err != nil {
		return fmt.Errorf("update crown dependencies envelope: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("crown dependencies envelope %s: %w", c.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Postgres) ListCurrentlyPublishing(ctx context.Context) ([]*models.CrownDependenciesEnvelope, error) {
	q := tx.Resolve(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT id, packaged_workbasket_id, state, published, created_at
		FROM crown_dependencies_envelope
		WHERE state = $1
		ORDER BY created_at ASC`, string(models.StateCurrentlyPublishing))
	if err != nil {
		return nil, fmt.Errorf("list publishing envelopes: %w", err)
	}
	defer rows.Close()

	var out []*models.CrownDependenciesEnvelope
	for rows.Next() {
		c, err := scanCrown(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) UnpublishedProcessed(ctx context.Context) ([]*models.PackagedWorkBasket, error) {
	return s.queryPackaged(ctx, `
		SELECT `+prefixedPackagedColumns("p")+`
		FROM packaged_workbasket p
		JOIN envelope e ON e.id = p.envelope_id
		LEFT JOIN crown_dependencies_envelope c ON c.id = p.crown_envelope_id
		WHERE p.state = $1
		  AND (c.id IS NULL OR c.state = $2)
		ORDER BY e.envelope_id ASC`,
		string(models.StateSuccessfullyProcessed), string(models.StateFailedPublishing))
}

func (s *Postgres) LastPublishedEnvelopeID(ctx context.Context) (string, error) {
	q := tx.Resolve(ctx, s.db)
	var latest sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT e.envelope_id
		FROM crown_dependencies_envelope c
		JOIN packaged_workbasket p ON p.id = c.packaged_workbasket_id
		JOIN envelope e ON e.id = p.envelope_id
		WHERE c.state <> $1
		ORDER BY c.created_at DESC
		LIMIT 1`, string(models.StateFailedPublishing),
	).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last published envelope id: %w", err)
	}
	return latest.String, nil
}

func (s *Postgres) AppendOperationalStatus(ctx context.Context, st *models.OperationalStatus) error {
	q := tx.Resolve(ctx, s.db)
	err := q.QueryRowContext(ctx, `
		INSERT INTO operational_status (queue, paused, created_by, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		string(st.Queue), st.Paused, st.CreatedBy, st.CreatedAt,
	).Scan(&st.ID)
	if err != nil {
		return fmt.Errorf("append operational status: %w", err)
	}
	return nil
}

func (s *Postgres) CurrentOperationalStatus(ctx context.Context, queue models.QueueKind) (*models.OperationalStatus, error) {
	q := tx.Resolve(ctx, s.db)
	st := &models.OperationalStatus{}
	var kind string
	err := q.QueryRowContext(ctx, `
		SELECT id, queue, paused, created_by, created_at
		FROM operational_status
		WHERE queue = $1
		ORDER BY id DESC
		LIMIT 1`, string(queue),
	).Scan(&st.ID, &kind, &st.Paused, &st.CreatedBy, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no operational status for queue %s: %w", queue, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("current operational status: %w", err)
	}
	st.Queue = models.QueueKind(kind)
	return st, nil
}

func (s *Postgres) queryPackaged(ctx context.Context, query string, args ...any) ([]*models.PackagedWorkBasket, error) {
	q := tx.Resolve(ctx, s.db)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query packaged workbaskets: %w", err)
	}
	defer rows.Close()

	var out []*models.PackagedWorkBasket
	for rows.Next() {
		pwb, err := scanPackaged(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pwb)
	}
	return out, rows.Err()
}

func prefixedPackagedColumns(alias string) string {
	return alias + `.id, ` + alias + `.workbasket_id, ` + alias + `.position, ` + alias + `.state, ` +
		alias + `.envelope_id, ` + alias + `.crown_envelope_id, ` + alias + `.theme, ` +
		alias + `.description, ` + alias + `.eif, ` + alias + `.embargo, ` + alias + `.jira_url, ` +
		alias + `.processing_started_at, ` + alias + `.created_at, ` + alias + `.updated_at`
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPackaged(row scanner) (*models.PackagedWorkBasket, error) {
	pwb := &models.PackagedWorkBasket{}
	var (
		state      string
		envelopeID sql.NullString
		crownID    sql.NullString
		eif        sql.NullTime
		startedAt  sql.NullTime
	)
	err := row.Scan(&pwb.ID, &pwb.WorkBasketID, &pwb.Position, &state,
		&envelopeID, &crownID, &pwb.Theme, &pwb.Description, &eif,
		&pwb.Embargo, &pwb.JiraURL, &startedAt, &pwb.CreatedAt, &pwb.UpdatedAt)
	if err != nil {
		return nil, err
	}
	pwb.State = models.ProcessingState(state)
	if pwb.EnvelopeID, err = parseNullUUID(envelopeID); err != nil {
		return nil, err
	}
	if pwb.CrownDependenciesEnvelopeID, err = parseNullUUID(crownID); err != nil {
		return nil, err
	}
	if eif.Valid {
		t := eif.Time
		pwb.EIF = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		pwb.ProcessingStartedAt = &t
	}
	return pwb, nil
}

func scanCrown(row scanner) (*models.CrownDependenciesEnvelope, error) {
	c := &models.CrownDependenciesEnvelope{}
	var (
		state     string
		published sql.NullTime
	)
	err := row.Scan(&c.ID, &c.PackagedWorkBasketID, &state, &published, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.State = models.ApiPublishingState(state)
	if published.Valid {
		t := published.Time
		c.Published = &t
	}
	return c, nil
}

func parseNullUUID(v sql.NullString) (*uuid.UUID, error) {
	if !v.Valid {
		return nil, nil
	}
	parsed, err := uuid.Parse(v.String)
	if err != nil {
		return nil, fmt.Errorf("parse uuid: %w", err)
	}
	return &parsed, nil
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isLockNotAvailable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "55P03"
}
