// Package store persists workbaskets and their transactions. It also serves
// as the ledger consulted by the tracked model store for version resolution.
package store

import (
	"context"

	"github.com/google/uuid"

	"tariffpub/internal/workbasket/models"
)

// Store is the workbasket and transaction ledger.
type Store interface {
	Create(ctx context.Context, wb *models.WorkBasket) error
	Get(ctx context.Context, id uuid.UUID) (*models.WorkBasket, error)
	List(ctx context.Context, statuses ...models.Status) ([]*models.WorkBasket, error)
	// UpdateStatus persists a status change, optionally recording the
	// approver. All callers go through the workflow transition table first.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status, approver *string) error

	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	TransactionByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	TransactionsForWorkBasket(ctx context.Context, workbasketID uuid.UUID) ([]*models.Transaction, error)
	CountTransactions(ctx context.Context, workbasketID uuid.UUID) (int, error)
	// UpdateTransactionOrders rewrites the order of the given transactions
	// in one atomic step.
	UpdateTransactionOrders(ctx context.Context, txns []*models.Transaction) error
	// MoveToRevisionPartition moves all of a workbasket's transactions from
	// the draft to the revision partition. Called at approval time.
	MoveToRevisionPartition(ctx context.Context, workbasketID uuid.UUID) error

	WorkBasketStatus(ctx context.Context, id uuid.UUID) (models.Status, error)
}
