// Package worker runs the background side of the packaging pipeline:
// envelope generation jobs dispatched by the queue coordinator and the
// periodic Crown Dependencies publish task.
package worker

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"tariffpub/internal/notify"
	"tariffpub/internal/platform/config"
	"tariffpub/internal/platform/metrics"
	"tariffpub/internal/publishing/api"
	"tariffpub/internal/publishing/envelope"
	"tariffpub/internal/publishing/models"
	"tariffpub/internal/publishing/queue"
	dErrors "tariffpub/pkg/domain-errors"
)

const (
	defaultQueueSize   = 128
	defaultMaxAttempts = 5
	defaultBaseBackoff = 2 * time.Second
)

// PauseReader reads the packaging pause flag. The queue coordinator
// satisfies it.
type PauseReader interface {
	IsPaused(ctx context.Context, queue models.QueueKind) (bool, error)
}

// Worker consumes queue effects and runs the publish ticker. It implements
// queue.Dispatcher.
type Worker struct {
	envelopes *envelope.Service
	publisher *api.Publisher
	pauses    PauseReader
	notifier  notify.Notifier
	templates config.NotifyConfig

	jobs            chan queue.Effect
	publishInterval time.Duration
	maxAttempts     int
	baseBackoff     time.Duration

	notificationsEnabled bool
	metrics              *metrics.Metrics
	logger               *slog.Logger
}

// Option configures the worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithNotifier sets the notification sink and template ids.
func WithNotifier(n notify.Notifier, templates config.NotifyConfig, enabled bool) Option {
	return func(w *Worker) {
		w.notifier = n
		w.templates = templates
		w.notificationsEnabled = enabled
	}
}

// WithPublishInterval sets the publish task period. Zero disables the ticker.
func WithPublishInterval(d time.Duration) Option {
	return func(w *Worker) { w.publishInterval = d }
}

// WithRetryPolicy bounds transient-failure retries.
func WithRetryPolicy(maxAttempts int, baseBackoff time.Duration) Option {
	return func(w *Worker) {
		w.maxAttempts = maxAttempts
		w.baseBackoff = baseBackoff
	}
}

// New constructs the worker.
func New(envelopes *envelope.Service, publisher *api.Publisher, pauses PauseReader, opts ...Option) (*Worker, error) {
	if envelopes == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "envelope service is required")
	}
	if pauses == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "pause reader is required")
	}
	w := &Worker{
		envelopes:       envelopes,
		publisher:       publisher,
		pauses:          pauses,
		notifier:        notify.Nop{},
		jobs:            make(chan queue.Effect, defaultQueueSize),
		publishInterval: time.Minute,
		maxAttempts:     defaultMaxAttempts,
		baseBackoff:     defaultBaseBackoff,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dispatch enqueues effects for background execution. A full queue drops the
// effect with a warning; the next head change re-derives generation.
func (w *Worker) Dispatch(_ context.Context, effects []queue.Effect) {
	for _, effect := range effects {
		select {
		case w.jobs <- effect:
		default:
			w.logger.Warn("worker queue full, dropping effect",
				"kind", effect.Kind, "packaged_id", effect.PackagedWorkBasketID)
		}
	}
}

// Run processes effects until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	var ticker *time.Ticker
	var tick <-chan time.Time
	if w.publisher != nil && w.publishInterval > 0 {
		ticker = time.NewTicker(w.publishInterval)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case effect := <-w.jobs:
			w.handle(ctx, effect)
		case <-tick:
			w.runPublishTask(ctx)
		}
	}
}

func (w *Worker) handle(ctx context.Context, effect queue.Effect) {
	switch effect.Kind {
	case queue.EffectGenerateEnvelope:
		w.generateEnvelope(ctx, effect)
	case queue.EffectDeleteEnvelope:
		if err := w.envelopes.DeleteEnvelope(ctx, effect.EnvelopeID); err != nil {
			w.logger.Error("delete superseded envelope failed",
				"envelope_id", effect.EnvelopeID, "error", err)
		}
	case queue.EffectNotify:
		w.send(ctx, effect.Event)
	default:
		w.logger.Warn("unknown effect kind", "kind", effect.Kind)
	}
}

// generateEnvelope runs envelope generation with bounded retries for
// transient failures. Validation and state errors are permanent: they are
// logged and the queue entry stays where it is for operator attention.
func (w *Worker) generateEnvelope(ctx context.Context, effect queue.Effect) {
	paused, err := w.pauses.IsPaused(ctx, models.QueuePackaging)
	if err != nil {
		w.logger.Error("read packaging pause flag", "error", err)
		return
	}
	if paused {
		w.logger.Info("packaging paused, skipping envelope generation",
			"packaged_id", effect.PackagedWorkBasketID)
		return
	}

	err = w.retry(ctx, func(ctx context.Context) error {
		_, err := w.envelopes.UploadEnvelope(ctx, effect.PackagedWorkBasketID)
		return err
	})
	if err != nil {
		w.logger.Error("envelope generation failed",
			"packaged_id", effect.PackagedWorkBasketID, "error", err)
		return
	}
	if w.templates.ReadyForProcessingTemplateID != "" {
		w.send(ctx, notify.Event{
			TemplateID: w.templates.ReadyForProcessingTemplateID,
			Personalisation: map[string]string{
				"packaged_workbasket_id": effect.PackagedWorkBasketID.String(),
			},
		})
	}
}

func (w *Worker) runPublishTask(ctx context.Context) {
	err := w.retry(ctx, w.publisher.PublishTask)
	if err != nil {
		w.logger.Error("publish task failed", "error", err)
	}
}

// retry runs fn with exponential backoff and jitter, retrying only transient
// (unavailable) failures.
func (w *Worker) retry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	backoff := w.baseBackoff
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !dErrors.Is(err, dErrors.CodeUnavailable) {
			return err
		}
		if attempt == w.maxAttempts {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
		backoff *= 2
	}
	return err
}

func (w *Worker) send(ctx context.Context, event notify.Event) {
	if !w.notificationsEnabled || event.TemplateID == "" {
		return
	}
	if err := w.notifier.Send(ctx, event); err != nil {
		w.logger.Warn("notification delivery failed",
			"template", event.TemplateID, "error", err)
		return
	}
	if w.metrics != nil {
		w.metrics.NotificationsSent.WithLabelValues(event.TemplateID).Inc()
	}
}
