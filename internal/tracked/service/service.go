// Package service exposes the versioned record operations: current-view
// resolution, draft overlays, new-draft creation and the immutability guard
// on save.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tariffpub/internal/tracked/models"
	"tariffpub/internal/tracked/store"
	dErrors "tariffpub/pkg/domain-errors"
	"tariffpub/pkg/platform/sentinel"
)

// ErrIllegalSave is returned when a caller attempts to mutate a row-version
// whose owning workbasket has already reached an approved status.
var ErrIllegalSave = errors.New("tracked models cannot be updated once written and approved")

// Service is the versioned record store service.
type Service struct {
	store  store.Store
	ledger store.Ledger
	logger *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New constructs the tracked model service.
func New(st store.Store, ledger store.Ledger, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "tracked store is required")
	}
	if ledger == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "ledger is required")
	}
	svc := &Service{store: st, ledger: ledger, logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Current returns the row-versions that are the current version of their
// version group.
func (s *Service) Current(ctx context.Context) ([]*models.TrackedModel, error) {
	return s.store.Current(ctx)
}

// AsAt returns the current row-versions valid at the given instant.
func (s *Service) AsAt(ctx context.Context, at time.Time) ([]*models.TrackedModel, error) {
	return s.store.AsAt(ctx, at)
}

// Active returns the current row-versions valid right now.
func (s *Service) Active(ctx context.Context) ([]*models.TrackedModel, error) {
	return s.store.AsAt(ctx, time.Now())
}

// WithWorkBasket returns the current set overlaid with the workbasket's own
// not-yet-approved versions. Passing nil returns the plain current set.
func (s *Service) WithWorkBasket(ctx context.Context, workbasketID *uuid.UUID) ([]*models.TrackedModel, error) {
	return s.store.WithWorkBasket(ctx, workbasketID)
}

// VersionHistory returns every version of the identity in version order.
func (s *Service) VersionHistory(ctx context.Context, identity models.Identity) ([]*models.TrackedModel, error) {
	return s.store.VersionHistory(ctx, identity)
}

// NewDraft builds a new unsaved row-version of the given model, attached to
// the given transaction with update type UPDATE. Callers adjust payload and
// validity on the returned draft before saving.
func (s *Service) NewDraft(ctx context.Context, modelID, transactionID uuid.UUID) (*models.TrackedModel, error) {
	existing, err := s.store.Get(ctx, modelID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "tracked model not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load tracked model")
	}
	draft, err := existing.BuildNewVersion(transactionID, models.UpdateTypeUpdate)
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// NewDelete builds a new unsaved deletion row-version of the given model.
func (s *Service) NewDelete(ctx context.Context, modelID, transactionID uuid.UUID) (*models.TrackedModel, error) {
	existing, err := s.store.Get(ctx, modelID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "tracked model not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load tracked model")
	}
	return existing.BuildNewVersion(transactionID, models.UpdateTypeDelete)
}

// Save persists a row-version.
//
// Saving a row-version that already exists and whose owning workbasket has
// reached an approved status fails with ErrIllegalSave unless force is set.
// On success, when the owning workbasket is approved, the row-version
// becomes its version group's current version.
func (s *Service) Save(ctx context.Context, m *models.TrackedModel, force bool) error {
	if err := m.Identity().Validate(); err != nil {
		return err
	}

	txn, err := s.ledger.TransactionByID(ctx, m.TransactionID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "resolve owning transaction")
	}
	status, err := s.ledger.WorkBasketStatus(ctx, txn.WorkBasketID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "resolve workbasket status")
	}
	approved := status.IsApproved()

	_, getErr := s.store.Get(ctx, m.ID)
	exists := getErr == nil
	if exists && approved && !force {
		return dErrors.Wrap(ErrIllegalSave, dErrors.CodeInvalidState, "illegal save")
	}

	if m.VersionGroupID == uuid.Nil {
		groupID, err := s.resolveVersionGroup(ctx, m)
		if err != nil {
			return err
		}
		m.VersionGroupID = groupID
	}

	if !exists {
		if err := s.store.Insert(ctx, m); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "insert tracked model")
		}
	}

	if approved {
		if err := s.store.SetCurrentVersion(ctx, m.VersionGroupID, m.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "advance current version")
		}
	}
	return nil
}

// resolveVersionGroup finds the group from the latest approved version of the
// model's identity, or creates a new group for a CREATE.
func (s *Service) resolveVersionGroup(ctx context.Context, m *models.TrackedModel) (uuid.UUID, error) {
	latest, err := s.store.LatestApproved(ctx, m.Identity())
	if err == nil {
		return latest.VersionGroupID, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve version group")
	}

	if m.UpdateType != models.UpdateTypeCreate {
		return uuid.Nil, dErrors.Newf(
			dErrors.CodeInvalidState,
			"no version group exists for %s %s and update type is %s",
			m.Kind, m.SID, m.UpdateType,
		)
	}
	group := models.NewVersionGroup()
	if err := s.store.CreateVersionGroup(ctx, group); err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInternal, "create version group")
	}
	return group.ID, nil
}
