// Package store persists tracked model versions and resolves the "current"
// view of the tariff.
//
// Error contract: methods return sentinel.ErrNotFound when an entity does not
// exist, wrapped errors for infrastructure failures, and nil on success.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tariffpub/internal/tracked/models"
	wbmodels "tariffpub/internal/workbasket/models"
)

// Ledger supplies the transaction and workbasket context that version
// resolution needs. The workbasket store implements it.
type Ledger interface {
	TransactionByID(ctx context.Context, id uuid.UUID) (*wbmodels.Transaction, error)
	TransactionsForWorkBasket(ctx context.Context, workbasketID uuid.UUID) ([]*wbmodels.Transaction, error)
	WorkBasketStatus(ctx context.Context, id uuid.UUID) (wbmodels.Status, error)
}

// Store is the versioned record store.
type Store interface {
	// Insert writes a new row-version. Row-versions are never updated in
	// place; the service layer enforces the approval guard before calling.
	Insert(ctx context.Context, m *models.TrackedModel) error
	Get(ctx context.Context, id uuid.UUID) (*models.TrackedModel, error)

	CreateVersionGroup(ctx context.Context, g *models.VersionGroup) error
	VersionGroup(ctx context.Context, id uuid.UUID) (*models.VersionGroup, error)
	// SetCurrentVersion advances a group's current-version pointer.
	SetCurrentVersion(ctx context.Context, groupID, versionID uuid.UUID) error

	// Current returns the row-versions that are the current version of their
	// group, excluding deletions.
	Current(ctx context.Context) ([]*models.TrackedModel, error)
	// AsAt returns the current row-versions whose validity contains the
	// given instant.
	AsAt(ctx context.Context, at time.Time) ([]*models.TrackedModel, error)
	// WithWorkBasket returns the current set overlaid with the workbasket's
	// own newer draft versions. A nil workbasket ID degrades to Current.
	WithWorkBasket(ctx context.Context, workbasketID *uuid.UUID) ([]*models.TrackedModel, error)

	// VersionHistory returns every version of the identity in version order
	// (transaction partition, then transaction order).
	VersionHistory(ctx context.Context, identity models.Identity) ([]*models.TrackedModel, error)
	// LatestApproved returns the most recent approved version of the
	// identity, including deletions, or ErrNotFound.
	LatestApproved(ctx context.Context, identity models.Identity) (*models.TrackedModel, error)

	ModelsForTransaction(ctx context.Context, transactionID uuid.UUID) ([]*models.TrackedModel, error)
	ModelsForWorkBasket(ctx context.Context, workbasketID uuid.UUID) ([]*models.TrackedModel, error)

	// PromoteCurrentVersions makes every row-version in the workbasket the
	// current version of its group, in transaction order. Called once at
	// approval time.
	PromoteCurrentVersions(ctx context.Context, workbasketID uuid.UUID) error
}
