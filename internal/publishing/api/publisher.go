package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tariffpub/internal/notify"
	"tariffpub/internal/platform/config"
	"tariffpub/internal/platform/metrics"
	"tariffpub/internal/publishing/models"
	"tariffpub/internal/publishing/store"
	dErrors "tariffpub/pkg/domain-errors"
	"tariffpub/pkg/platform/sentinel"
)

// Locker is the single-flight guard for the publish task. The Redis lock
// satisfies it; tests and single-process dev mode use LocalLock.
type Locker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LocalLock is an in-process Locker for dev mode without Redis.
type LocalLock struct {
	mu sync.Mutex
}

func (l *LocalLock) TryAcquire(context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

func (l *LocalLock) Release(context.Context) error {
	l.mu.Unlock()
	return nil
}

// PauseController reads and sets the publishing pause flag. The queue
// coordinator satisfies it.
type PauseController interface {
	IsPaused(ctx context.Context, queue models.QueueKind) (bool, error)
	Pause(ctx context.Context, queue models.QueueKind, by string) error
}

// EnvelopeOpener resolves a stored envelope body. The envelope service
// satisfies it.
type EnvelopeOpener interface {
	Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, string, error)
}

// Publisher runs the Crown Dependencies publish task.
type Publisher struct {
	store     store.Store
	client    Client
	opener    EnvelopeOpener
	lock      Locker
	pauses    PauseController
	notifier  notify.Notifier
	templates config.NotifyConfig
	seed      int
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures the publisher.
type Option func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// WithSeed sets the first envelope counter of a year, used by the contiguity
// check at year rollover.
func WithSeed(seed int) Option {
	return func(p *Publisher) { p.seed = seed }
}

// WithNotifier sets the notification sink.
func WithNotifier(n notify.Notifier, templates config.NotifyConfig) Option {
	return func(p *Publisher) {
		p.notifier = n
		p.templates = templates
	}
}

// New constructs the publisher.
func New(st store.Store, client Client, opener EnvelopeOpener, lock Locker, pauses PauseController, opts ...Option) (*Publisher, error) {
	if st == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "publishing store is required")
	}
	if client == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "tariff api client is required")
	}
	if opener == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "envelope opener is required")
	}
	if lock == nil {
		lock = &LocalLock{}
	}
	if pauses == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "pause controller is required")
	}
	p := &Publisher{
		store:    st,
		client:   client,
		opener:   opener,
		lock:     lock,
		pauses:   pauses,
		notifier: notify.Nop{},
		seed:     1,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PublishTask publishes pending envelopes to the Crown Dependencies API.
//
// Skips silently when publishing is paused or another run holds the lock.
// Recovers a single envelope stuck mid-publication idempotently; more than
// one stuck envelope is a fatal inconsistency that pauses publishing.
// Publishes strictly in envelope-id sequence; a gap pauses publishing and
// aborts. Transient upload failures return a retryable error for the
// scheduler's backoff policy.
func (p *Publisher) PublishTask(ctx context.Context) error {
	paused, err := p.pauses.IsPaused(ctx, models.QueueCrownDependencies)
	if err != nil {
		return err
	}
	if paused {
		return nil
	}

	acquired, err := p.lock.TryAcquire(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "acquire publish lock")
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := p.lock.Release(ctx); err != nil {
			p.logger.Warn("release publish lock", "error", err)
		}
	}()

	if err := p.recoverStuck(ctx); err != nil {
		return err
	}

	pending, err := p.store.UnpublishedProcessed(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "list unpublished envelopes")
	}
	for _, pwb := range pending {
		if err := p.publishNext(ctx, pwb); err != nil {
			return err
		}
	}
	return nil
}

// recoverStuck handles envelopes left CURRENTLY_PUBLISHING by an interrupted
// run. Exactly one is recovered idempotently against the remote API; more
// than one pauses publishing and aborts.
func (p *Publisher) recoverStuck(ctx context.Context) error {
	stuck, err := p.store.ListCurrentlyPublishing(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "list publishing envelopes")
	}
	switch len(stuck) {
	case 0:
		return nil
	case 1:
	default:
		p.logger.Error("multiple envelopes stuck mid-publication, pausing publishing",
			"count", len(stuck))
		if err := p.pauses.Pause(ctx, models.QueueCrownDependencies, "publisher"); err != nil {
			return err
		}
		return dErrors.Newf(dErrors.CodeSequence,
			"%d envelopes are currently publishing, manual remediation required", len(stuck))
	}

	crown := stuck[0]
	pwb, env, err := p.resolve(ctx, crown.PackagedWorkBasketID)
	if err != nil {
		return err
	}

	exists, err := p.client.EnvelopeExists(ctx, env.EnvelopeID)
	if err != nil {
		return err
	}
	if exists {
		p.logger.Info("stuck envelope already present remotely, marking published",
			"envelope_id", env.EnvelopeID)
		return p.markPublished(ctx, crown, env)
	}
	return p.upload(ctx, crown, pwb, env)
}

// publishNext verifies sequence contiguity and publishes one envelope.
func (p *Publisher) publishNext(ctx context.Context, pwb *models.PackagedWorkBasket) error {
	pwb, env, err := p.resolve(ctx, pwb.ID)
	if err != nil {
		return err
	}

	last, err := p.store.LastPublishedEnvelopeID(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "resolve last published envelope")
	}
	if last != "" {
		ok, err := models.IsSuccessor(last, env.EnvelopeID, p.seed)
		if err != nil {
			return err
		}
		if !ok {
			p.logger.Error("envelope out of sequence, pausing publishing",
				"last_published", last, "next", env.EnvelopeID)
			if err := p.pauses.Pause(ctx, models.QueueCrownDependencies, "publisher"); err != nil {
				return err
			}
			return dErrors.Newf(dErrors.CodeSequence,
				"envelope %s does not follow %s", env.EnvelopeID, last)
		}
	}

	crown, err := p.ensureCrownEnvelope(ctx, pwb)
	if err != nil {
		return err
	}
	return p.upload(ctx, crown, pwb, env)
}

// ensureCrownEnvelope creates the publication record, or returns a failed one
// to CURRENTLY_PUBLISHING for retry.
func (p *Publisher) ensureCrownEnvelope(ctx context.Context, pwb *models.PackagedWorkBasket) (*models.CrownDependenciesEnvelope, error) {
	if pwb.CrownDependenciesEnvelopeID != nil {
		crown, err := p.store.GetCrownEnvelope(ctx, *pwb.CrownDependenciesEnvelopeID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load crown dependencies envelope")
		}
		next, err := crown.State.Transition(models.StateCurrentlyPublishing)
		if err != nil {
			return nil, err
		}
		crown.State = next
		if err := p.store.UpdateCrownEnvelope(ctx, crown); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update crown dependencies envelope")
		}
		return crown, nil
	}

	crown, err := models.NewCrownDependenciesEnvelope(pwb, p.now())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "create crown dependencies envelope")
	}
	if err := p.store.CreateCrownEnvelope(ctx, crown); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record crown dependencies envelope")
	}
	return crown, nil
}

// upload posts the envelope file and records the outcome.
func (p *Publisher) upload(ctx context.Context, crown *models.CrownDependenciesEnvelope, pwb *models.PackagedWorkBasket, env *models.Envelope) error {
	if p.metrics != nil {
		p.metrics.PublishAttempts.Inc()
	}
	body, filename, err := p.opener.Open(ctx, env.ID)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := p.client.UploadEnvelope(ctx, env.EnvelopeID, filename, body); err != nil {
		if p.metrics != nil {
			p.metrics.PublishFailures.Inc()
		}
		if failErr := p.markFailed(ctx, crown); failErr != nil {
			return failErr
		}
		p.notify(ctx, p.templates.PublishingFailedTemplateID, env, pwb)
		// Retryable: the scheduler re-runs the task with backoff.
		return dErrors.Wrapf(err, dErrors.CodeUnavailable, "publish envelope %s", env.EnvelopeID)
	}

	if err := p.markPublished(ctx, crown, env); err != nil {
		return err
	}
	p.notify(ctx, p.templates.PublishingSucceededTemplateID, env, pwb)
	p.logger.Info("envelope published to tariff api", "envelope_id", env.EnvelopeID)
	return nil
}

func (p *Publisher) markPublished(ctx context.Context, crown *models.CrownDependenciesEnvelope, env *models.Envelope) error {
	next, err := crown.State.Transition(models.StateSuccessfullyPublished)
	if err != nil {
		return err
	}
	published := p.now()
	crown.State = next
	crown.Published = &published
	if err := p.store.UpdateCrownEnvelope(ctx, crown); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "update crown dependencies envelope")
	}
	env.PublishedToAPI = &published
	if err := p.store.UpdateEnvelope(ctx, env); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "record envelope publication")
	}
	return nil
}

func (p *Publisher) markFailed(ctx context.Context, crown *models.CrownDependenciesEnvelope) error {
	next, err := crown.State.Transition(models.StateFailedPublishing)
	if err != nil {
		return err
	}
	crown.State = next
	if err := p.store.UpdateCrownEnvelope(ctx, crown); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "update crown dependencies envelope")
	}
	return nil
}

// resolve loads a packaged workbasket and its envelope.
func (p *Publisher) resolve(ctx context.Context, packagedID uuid.UUID) (*models.PackagedWorkBasket, *models.Envelope, error) {
	pwb, err := p.store.GetPackaged(ctx, packagedID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeNotFound, "packaged workbasket not found")
	}
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "get packaged workbasket")
	}
	if pwb.EnvelopeID == nil {
		return nil, nil, dErrors.Newf(dErrors.CodeInvalidState,
			"packaged workbasket %s has no envelope", packagedID)
	}
	env, err := p.store.GetEnvelope(ctx, *pwb.EnvelopeID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "get envelope")
	}
	return pwb, env, nil
}

func (p *Publisher) notify(ctx context.Context, templateID string, env *models.Envelope, pwb *models.PackagedWorkBasket) {
	if templateID == "" {
		return
	}
	event := notify.Event{
		TemplateID: templateID,
		Personalisation: map[string]string{
			"envelope_id":   env.EnvelopeID,
			"workbasket_id": pwb.WorkBasketID.String(),
		},
	}
	if err := p.notifier.Send(ctx, event); err != nil {
		p.logger.Warn("notification delivery failed", "template", templateID, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.NotificationsSent.WithLabelValues(templateID).Inc()
	}
}
