// Package envelope generates, validates and stores envelope files, and owns
// the year-scoped envelope numbering.
package envelope

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tariffpub/internal/blobstore"
	"tariffpub/internal/exporter"
	"tariffpub/internal/platform/metrics"
	"tariffpub/internal/publishing/models"
	"tariffpub/internal/publishing/store"
	trackedstore "tariffpub/internal/tracked/store"
	wbstore "tariffpub/internal/workbasket/store"
	dErrors "tariffpub/pkg/domain-errors"
	"tariffpub/pkg/platform/sentinel"
	"tariffpub/pkg/platform/tx"
)

// Service renders and persists envelopes for packaged workbaskets.
type Service struct {
	store      store.Store
	ledger     wbstore.Store
	tracked    trackedstore.Store
	serializer exporter.Serializer
	validator  exporter.Validator
	blobs      blobstore.Store
	runner     tx.Runner

	seed    int
	maxSize int
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSeed sets the first counter value of each year's envelope sequence.
func WithSeed(seed int) Option {
	return func(s *Service) { s.seed = seed }
}

// WithMaxSize bounds the rendered envelope size in bytes.
func WithMaxSize(maxSize int) Option {
	return func(s *Service) { s.maxSize = maxSize }
}

// New constructs the envelope service.
func New(st store.Store, ledger wbstore.Store, tracked trackedstore.Store, serializer exporter.Serializer, validator exporter.Validator, blobs blobstore.Store, runner tx.Runner, opts ...Option) (*Service, error) {
	if st == nil || ledger == nil || tracked == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "stores are required")
	}
	if serializer == nil || validator == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "serializer and validator are required")
	}
	if blobs == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "blob store is required")
	}
	if runner == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "tx runner is required")
	}
	svc := &Service{
		store:      st,
		ledger:     ledger,
		tracked:    tracked,
		serializer: serializer,
		validator:  validator,
		blobs:      blobs,
		runner:     runner,
		seed:       1,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// NextEnvelopeID computes the next identifier in the year's sequence, seeded
// at the configured value when the year has no successfully processed
// envelopes yet.
func (s *Service) NextEnvelopeID(ctx context.Context) (string, error) {
	now := s.now()
	previous, err := s.store.LatestEnvelopeIDForYear(ctx, now.UTC().Year())
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "resolve latest envelope id")
	}
	return models.NextEnvelopeID(previous, now, s.seed)
}

// UploadEnvelope renders the packaged workbasket's transactions into exactly
// one envelope, validates it, persists the blob and records the envelope
// against the queue entry.
//
// Generation only runs for the head of the queue while nothing is processing;
// the rendered document must fit a single envelope, and the validated record
// and transaction counts must match what the workbasket holds.
func (s *Service) UploadEnvelope(ctx context.Context, packagedID uuid.UUID) (*models.Envelope, error) {
	pwb, err := s.store.GetPackaged(ctx, packagedID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "packaged workbasket not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get packaged workbasket")
	}
	if _, err := s.store.CurrentlyProcessing(ctx); err == nil {
		return nil, dErrors.New(dErrors.CodeInvalidState,
			"cannot generate an envelope while another entry is processing")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check in-flight entry")
	}
	if pwb.State != models.StateAwaitingProcessing || pwb.Position != 1 {
		return nil, dErrors.New(dErrors.CodeInvalidState,
			"envelope generation is only allowed for the head of the queue")
	}

	transactions, err := s.transactionData(ctx, pwb.WorkBasketID)
	if err != nil {
		return nil, err
	}
	if len(transactions) == 0 {
		return nil, dErrors.Wrapf(models.ErrNoTransactions, dErrors.CodeValidation,
			"workbasket %s", pwb.WorkBasketID)
	}

	envelopeID, err := s.NextEnvelopeID(ctx)
	if err != nil {
		return nil, err
	}

	rendered, err := s.serializer.Render(envelopeID, transactions, s.maxSize)
	if err != nil {
		s.recordFailure()
		return nil, err
	}
	if len(rendered) != 1 {
		s.recordFailure()
		return nil, dErrors.Wrapf(models.ErrMultipleEnvelopesGenerated, dErrors.CodeValidation,
			"rendering produced %d envelopes", len(rendered))
	}
	doc := rendered[0]

	expectedRecords := 0
	for _, txn := range transactions {
		expectedRecords += len(txn.Models)
	}
	if err := s.validator.Validate(doc.Body, envelopeID, len(transactions), expectedRecords); err != nil {
		s.recordFailure()
		s.logger.Error("envelope validation failed",
			"packaged_id", packagedID, "envelope_id", envelopeID, "error", err)
		return nil, err
	}

	key := blobstore.Key(envelopeID, doc.Body)
	if err := s.blobs.Save(ctx, key, doc.Body); err != nil {
		s.recordFailure()
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "store envelope blob")
	}

	env := models.NewEnvelope(envelopeID, s.now())
	env.XMLFileKey = key
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateEnvelope(ctx, env); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "record envelope")
		}
		pwb.EnvelopeID = &env.ID
		if err := s.store.UpdatePackaged(ctx, pwb); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "attach envelope to queue entry")
		}
		return nil
	})
	if err != nil {
		// The blob is orphaned on failure; the content-hash key means a
		// retry writes a fresh object.
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.EnvelopesGenerated.Inc()
	}
	s.logger.Info("envelope generated",
		"packaged_id", packagedID, "envelope_id", envelopeID, "file", env.FileName(),
		"transactions", len(transactions), "records", expectedRecords)
	return env, nil
}

// DeleteEnvelope removes the blob and soft-deletes the envelope row.
func (s *Service) DeleteEnvelope(ctx context.Context, id uuid.UUID) error {
	env, err := s.store.GetEnvelope(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "envelope not found")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "get envelope")
	}
	if env.Deleted {
		return nil
	}
	if env.XMLFileKey != "" {
		if err := s.blobs.Delete(ctx, env.XMLFileKey); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "delete envelope blob")
		}
	}
	env.Deleted = true
	if err := s.store.UpdateEnvelope(ctx, env); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "mark envelope deleted")
	}
	s.logger.Info("envelope deleted", "envelope_id", env.EnvelopeID)
	return nil
}

// Open returns the stored envelope body and its download filename.
func (s *Service) Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, string, error) {
	env, err := s.store.GetEnvelope(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, "", dErrors.Wrap(err, dErrors.CodeNotFound, "envelope not found")
	}
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "get envelope")
	}
	if env.Deleted {
		return nil, "", dErrors.New(dErrors.CodeNotFound, "envelope has been deleted")
	}
	rc, err := s.blobs.Open(ctx, env.XMLFileKey)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, "", dErrors.Wrap(err, dErrors.CodeNotFound, "envelope file missing from storage")
	}
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeUnavailable, "open envelope blob")
	}
	return rc, env.FileName(), nil
}

// transactionData loads the workbasket's transactions and their row-versions
// in replay order.
func (s *Service) transactionData(ctx context.Context, workbasketID uuid.UUID) ([]exporter.TransactionData, error) {
	txns, err := s.ledger.TransactionsForWorkBasket(ctx, workbasketID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list transactions")
	}
	out := make([]exporter.TransactionData, 0, len(txns))
	for _, txn := range txns {
		trackedModels, err := s.tracked.ModelsForTransaction(ctx, txn.ID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load transaction models")
		}
		if len(trackedModels) == 0 {
			continue
		}
		out = append(out, exporter.TransactionData{
			ID:     txn.ID,
			Order:  txn.Order,
			Models: trackedModels,
		})
	}
	return out, nil
}

func (s *Service) recordFailure() {
	if s.metrics != nil {
		s.metrics.EnvelopeGenFailures.Inc()
	}
}
