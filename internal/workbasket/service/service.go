// Package service drives the workbasket workflow: transaction authoring,
// business-rule check gating and the approval step that promotes draft
// versions into the published record history.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tariffpub/internal/checks"
	trackedstore "tariffpub/internal/tracked/store"
	"tariffpub/internal/workbasket/models"
	"tariffpub/internal/workbasket/store"
	dErrors "tariffpub/pkg/domain-errors"
	"tariffpub/pkg/platform/sentinel"
	"tariffpub/pkg/platform/tx"
)

// Service coordinates workbasket lifecycle operations.
type Service struct {
	store   store.Store
	tracked trackedstore.Store
	checker checks.Checker
	results checks.Recorder
	runner  tx.Runner
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs the workbasket service.
func New(st store.Store, tracked trackedstore.Store, checker checks.Checker, results checks.Recorder, runner tx.Runner, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "workbasket store is required")
	}
	if tracked == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "tracked store is required")
	}
	if checker == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "checker is required")
	}
	if results == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "check recorder is required")
	}
	if runner == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "tx runner is required")
	}
	svc := &Service{
		store:   st,
		tracked: tracked,
		checker: checker,
		results: results,
		runner:  runner,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create opens a new workbasket.
func (s *Service) Create(ctx context.Context, title, reason, author string) (*models.WorkBasket, error) {
	if title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "title is required")
	}
	wb := models.NewWorkBasket(title, reason, author, s.now())
	if err := s.store.Create(ctx, wb); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create workbasket")
	}
	s.logger.Info("workbasket created", "workbasket_id", wb.ID, "author", author)
	return wb, nil
}

// Get returns a workbasket by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.WorkBasket, error) {
	wb, err := s.store.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "workbasket not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get workbasket")
	}
	return wb, nil
}

// List returns workbaskets, optionally filtered by status.
func (s *Service) List(ctx context.Context, statuses ...models.Status) ([]*models.WorkBasket, error) {
	out, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list workbaskets")
	}
	return out, nil
}

// NewTransaction appends an empty transaction at the end of the workbasket's
// draft ordering. Only unchecked workbaskets accept new transactions.
func (s *Service) NewTransaction(ctx context.Context, workbasketID uuid.UUID) (*models.Transaction, error) {
	wb, err := s.Get(ctx, workbasketID)
	if err != nil {
		return nil, err
	}
	if !wb.Status.IsUnchecked() {
		return nil, dErrors.Newf(dErrors.CodeInvalidState,
			"cannot add transactions to workbasket in status %s", wb.Status)
	}

	var txn *models.Transaction
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		n, err := s.store.CountTransactions(ctx, workbasketID)
		if err != nil {
			return err
		}
		txn = models.NewTransaction(workbasketID, n+1, s.now())
		if err := s.store.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		// Adding content invalidates any passed check.
		return s.results.Invalidate(ctx, workbasketID)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create transaction")
	}
	return txn, nil
}

// Transactions returns the workbasket's transactions in replay order.
func (s *Service) Transactions(ctx context.Context, workbasketID uuid.UUID) ([]*models.Transaction, error) {
	txns, err := s.store.TransactionsForWorkBasket(ctx, workbasketID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list transactions")
	}
	return txns, nil
}

// ReorderTransactions rewrites the workbasket's transaction ordering in one
// atomic step. orderedIDs must be a permutation of the workbasket's
// transactions. Reordering invalidates any recorded check result.
func (s *Service) ReorderTransactions(ctx context.Context, workbasketID uuid.UUID, orderedIDs []uuid.UUID) error {
	wb, err := s.Get(ctx, workbasketID)
	if err != nil {
		return err
	}
	if !wb.Status.IsUnchecked() {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"cannot reorder transactions of workbasket in status %s", wb.Status)
	}

	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.TransactionsForWorkBasket(ctx, workbasketID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "list transactions")
		}
		if len(orderedIDs) != len(existing) {
			return dErrors.Newf(dErrors.CodeValidation,
				"ordering names %d transactions, workbasket has %d", len(orderedIDs), len(existing))
		}
		byID := make(map[uuid.UUID]*models.Transaction, len(existing))
		for _, txn := range existing {
			byID[txn.ID] = txn
		}
		updated := make([]*models.Transaction, 0, len(orderedIDs))
		for i, id := range orderedIDs {
			txn, ok := byID[id]
			if !ok {
				return dErrors.Newf(dErrors.CodeValidation,
					"transaction %s is not part of workbasket %s", id, workbasketID)
			}
			delete(byID, id)
			txn.Order = i + 1
			updated = append(updated, txn)
		}
		if err := s.store.UpdateTransactionOrders(ctx, updated); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update transaction orders")
		}
		return s.results.Invalidate(ctx, workbasketID)
	})
}

// RunChecks executes the business rules against the workbasket's pending
// changes and records the outcome against the current transaction ordering.
func (s *Service) RunChecks(ctx context.Context, workbasketID uuid.UUID) (*checks.CheckResult, error) {
	if _, err := s.Get(ctx, workbasketID); err != nil {
		return nil, err
	}
	fingerprint, err := s.orderingFingerprint(ctx, workbasketID)
	if err != nil {
		return nil, err
	}

	result, err := s.checker.Check(ctx, workbasketID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "run business rule checks")
	}
	state := checks.StateFailed
	if result.Passed() {
		state = checks.StatePassed
	}
	recorded := checks.CheckResult{
		WorkBasketID: workbasketID,
		State:        state,
		Fingerprint:  fingerprint,
		CheckedAt:    s.now(),
		Outcomes:     result.Outcomes,
	}
	if err := s.results.Record(ctx, recorded); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record check result")
	}
	s.logger.Info("business rule checks recorded",
		"workbasket_id", workbasketID, "state", state, "rules", len(result.Outcomes))
	return &recorded, nil
}

// LatestCheck returns the recorded check result for the workbasket, or a
// not-found error when checks have never run.
func (s *Service) LatestCheck(ctx context.Context, workbasketID uuid.UUID) (*checks.CheckResult, error) {
	result, err := s.results.Latest(ctx, workbasketID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "no check result recorded")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load check result")
	}
	return result, nil
}

// SubmitForApproval moves the workbasket to AWAITING_APPROVAL. The workbasket
// must hold at least one transaction and a passed check covering the current
// transaction ordering.
func (s *Service) SubmitForApproval(ctx context.Context, workbasketID uuid.UUID) (*models.WorkBasket, error) {
	n, err := s.store.CountTransactions(ctx, workbasketID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count transactions")
	}
	if n == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidState, "workbasket has no transactions")
	}

	result, err := s.LatestCheck(ctx, workbasketID)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeNotFound {
			return nil, dErrors.New(dErrors.CodeInvalidState, "business rule checks have not run")
		}
		return nil, err
	}
	if result.State != checks.StatePassed {
		return nil, dErrors.New(dErrors.CodeInvalidState, "business rule checks did not pass")
	}
	fingerprint, err := s.orderingFingerprint(ctx, workbasketID)
	if err != nil {
		return nil, err
	}
	if result.Fingerprint != fingerprint {
		return nil, dErrors.New(dErrors.CodeInvalidState,
			"workbasket changed since checks last ran")
	}

	return s.Transition(ctx, workbasketID, models.EventSubmitForApproval, "")
}

// Approve moves the workbasket to READY_FOR_EXPORT, promotes each of its
// row-versions to be the current version of its group and moves its
// transactions into the revision partition, all in one storage transaction.
func (s *Service) Approve(ctx context.Context, workbasketID uuid.UUID, approver string) (*models.WorkBasket, error) {
	if approver == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "approver is required")
	}

	var wb *models.WorkBasket
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		wb, err = s.Transition(ctx, workbasketID, models.EventApprove, approver)
		if err != nil {
			return err
		}
		if err := s.tracked.PromoteCurrentVersions(ctx, workbasketID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "promote current versions")
		}
		if err := s.store.MoveToRevisionPartition(ctx, workbasketID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "move transactions to revision partition")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("workbasket approved", "workbasket_id", workbasketID, "approver", approver)
	return wb, nil
}

// Reject moves the workbasket back to APPROVAL_REJECTED.
func (s *Service) Reject(ctx context.Context, workbasketID uuid.UUID, approver string) (*models.WorkBasket, error) {
	if approver == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "approver is required")
	}
	return s.Transition(ctx, workbasketID, models.EventReject, approver)
}

// Withdraw returns the workbasket to EDITING.
func (s *Service) Withdraw(ctx context.Context, workbasketID uuid.UUID) (*models.WorkBasket, error) {
	return s.Transition(ctx, workbasketID, models.EventWithdraw, "")
}

// Archive shelves an unstarted or in-edit workbasket.
func (s *Service) Archive(ctx context.Context, workbasketID uuid.UUID) (*models.WorkBasket, error) {
	return s.Transition(ctx, workbasketID, models.EventArchive, "")
}

// Unarchive returns an archived workbasket to EDITING.
func (s *Service) Unarchive(ctx context.Context, workbasketID uuid.UUID) (*models.WorkBasket, error) {
	return s.Transition(ctx, workbasketID, models.EventUnarchive, "")
}

// Transition applies a workflow event to the workbasket and persists the
// resulting status. The packaging queue drives the queue, dequeue and CDS
// events through here so every status write goes through the state table.
func (s *Service) Transition(ctx context.Context, workbasketID uuid.UUID, event models.Event, actor string) (*models.WorkBasket, error) {
	wb, err := s.Get(ctx, workbasketID)
	if err != nil {
		return nil, err
	}
	target, err := models.Apply(wb.Status, event)
	if err != nil {
		return nil, err
	}

	var approver *string
	if models.RequiresApprover(event) {
		if actor == "" {
			return nil, dErrors.Newf(dErrors.CodeForbidden, "event %q requires an approver", event)
		}
		approver = &actor
	}
	if err := s.store.UpdateStatus(ctx, workbasketID, target, approver); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update workbasket status")
	}
	s.logger.Info("workbasket transitioned",
		"workbasket_id", workbasketID, "event", event, "from", wb.Status, "to", target)
	wb.Status = target
	if approver != nil {
		wb.Approver = approver
	}
	return wb, nil
}

func (s *Service) orderingFingerprint(ctx context.Context, workbasketID uuid.UUID) (string, error) {
	txns, err := s.store.TransactionsForWorkBasket(ctx, workbasketID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "list transactions")
	}
	ids := make([]uuid.UUID, len(txns))
	for i, txn := range txns {
		ids[i] = txn.ID
	}
	return checks.Fingerprint(ids), nil
}
