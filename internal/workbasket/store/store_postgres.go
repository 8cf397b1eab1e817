package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tariffpub/internal/workbasket/models"
	"tariffpub/pkg/platform/sentinel"
	"tariffpub/pkg/platform/tx"
)

// Postgres persists workbaskets and transactions in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed workbasket store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const workbasketColumns = `id, title, reason, author, approver, status, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, wb *models.WorkBasket) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO workbasket (id, title, reason, author, approver, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		wb.ID, wb.Title, wb.Reason, wb.Author, nullString(wb.Approver), string(wb.Status), wb.CreatedAt, wb.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("workbasket %s already exists: %w", wb.ID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert workbasket: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (*models.WorkBasket, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `SELECT `+workbasketColumns+` FROM workbasket WHERE id = $1`, id)
	wb, err := scanWorkBasket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workbasket %s: %w", id, sentinel.ErrNotFound)
	}
	return wb, err
}

func (s *Postgres) List(ctx context.Context, statuses ...models.Status) ([]*models.WorkBasket, error) {
	q := tx.Resolve(ctx, s.db)
	query := `SELECT ` + workbasketColumns + ` FROM workbasket`
	var args []any
	if len(statuses) > 0 {
		out := make([]string, len(statuses))
		for i, st := range statuses {
			out[i] = string(st)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, pq.Array(out))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workbaskets: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkBasket
	for rows.Next() {
		wb, err := scanWorkBasket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wb)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status, approver *string) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE workbasket
		SET status = $2, approver = COALESCE($3, approver), updated_at = NOW()
		WHERE id = $1`,
		id, string(status), nullString(approver),
	)
	if err != nil {
		return fmt.Errorf("update workbasket status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workbasket %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Postgres) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO tariff_transaction (id, workbasket_id, ord, partition, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		txn.ID, txn.WorkBasketID, txn.Order, int(txn.Partition), txn.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s already exists: %w", txn.ID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Postgres) TransactionByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT id, workbasket_id, ord, partition, created_at
		FROM tariff_transaction WHERE id = $1`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, sentinel.ErrNotFound)
	}
	return txn, err
}

func (s *Postgres) TransactionsForWorkBasket(ctx context.Context, workbasketID uuid.UUID) ([]*models.Transaction, error) {
	q := tx.Resolve(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT id, workbasket_id, ord, partition, created_at
		FROM tariff_transaction
		WHERE workbasket_id = $1
		ORDER BY ord ASC`, workbasketID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func (s *Postgres) CountTransactions(ctx context.Context, workbasketID uuid.UUID) (int, error) {
	q := tx.Resolve(ctx, s.db)
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tariff_transaction WHERE workbasket_id = $1`, workbasketID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (s *Postgres) UpdateTransactionOrders(ctx context.Context, txns []*models.Transaction) error {
	q := tx.Resolve(ctx, s.db)
	for _, txn := range txns {
		res, err := q.ExecContext(ctx,
			`UPDATE tariff_transaction SET ord = $2 WHERE id = $1`, txn.ID, txn.Order)
		if err != nil {
			return fmt.Errorf("update transaction order: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("transaction %s: %w", txn.ID, sentinel.ErrNotFound)
		}
	}
	return nil
}

func (s *Postgres) MoveToRevisionPartition(ctx context.Context, workbasketID uuid.UUID) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx,
		`UPDATE tariff_transaction SET partition = $2 WHERE workbasket_id = $1`,
		workbasketID, int(models.PartitionRevision),
	)
	if err != nil {
		return fmt.Errorf("move transactions to revision partition: %w", err)
	}
	return nil
}

func (s *Postgres) WorkBasketStatus(ctx context.Context, id uuid.UUID) (models.Status, error) {
	q := tx.Resolve(ctx, s.db)
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM workbasket WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("workbasket %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get workbasket status: %w", err)
	}
	return models.Status(status), nil
}

func scanWorkBasket(row interface{ Scan(...any) error }) (*models.WorkBasket, error) {
	wb := &models.WorkBasket{}
	var (
		approver sql.NullString
		status   string
	)
	err := row.Scan(&wb.ID, &wb.Title, &wb.Reason, &wb.Author, &approver, &status, &wb.CreatedAt, &wb.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if approver.Valid {
		a := approver.String
		wb.Approver = &a
	}
	wb.Status = models.Status(status)
	return wb, nil
}

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	txn := &models.Transaction{}
	var partition int
	err := row.Scan(&txn.ID, &txn.WorkBasketID, &txn.Order, &partition, &txn.CreatedAt)
	if err != nil {
		return nil, err
	}
	txn.Partition = models.Partition(partition)
	return txn, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
