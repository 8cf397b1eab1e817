// Package queue is the packaging queue coordinator: the only code path that
// mutates packaged workbasket positions and processing states.
//
// All mutations run inside one storage transaction under the queue lock, and
// every transition that changes the queue head while nothing is processing
// re-derives envelope generation for the new head.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tariffpub/internal/notify"
	"tariffpub/internal/platform/config"
	"tariffpub/internal/platform/metrics"
	"tariffpub/internal/publishing/models"
	"tariffpub/internal/publishing/store"
	wbmodels "tariffpub/internal/workbasket/models"
	dErrors "tariffpub/pkg/domain-errors"
	"tariffpub/pkg/platform/sentinel"
	"tariffpub/pkg/platform/tx"
)

// WorkflowDriver applies workflow events to workbaskets. Implemented by the
// workbasket service.
type WorkflowDriver interface {
	Get(ctx context.Context, id uuid.UUID) (*wbmodels.WorkBasket, error)
	Transition(ctx context.Context, workbasketID uuid.UUID, event wbmodels.Event, actor string) (*wbmodels.WorkBasket, error)
}

// Coordinator drives the packaging queue.
type Coordinator struct {
	store       store.Store
	workbaskets WorkflowDriver
	runner      tx.Runner
	dispatcher  Dispatcher
	templates   config.NotifyConfig
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time

	// mu serializes queue mutations within this process; the store's table
	// and row locks extend the same guarantee across processes.
	mu sync.Mutex
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithTemplates sets the notification template ids.
func WithTemplates(t config.NotifyConfig) Option {
	return func(c *Coordinator) { c.templates = t }
}

// New constructs the queue coordinator.
func New(st store.Store, workbaskets WorkflowDriver, runner tx.Runner, dispatcher Dispatcher, opts ...Option) (*Coordinator, error) {
	if st == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "publishing store is required")
	}
	if workbaskets == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "workflow driver is required")
	}
	if runner == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "tx runner is required")
	}
	if dispatcher == nil {
		dispatcher = NopDispatcher{}
	}
	c := &Coordinator{
		store:       st,
		workbaskets: workbaskets,
		runner:      runner,
		dispatcher:  dispatcher,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetDispatcher installs the effect dispatcher after construction. The worker
// reads the coordinator's pause flag, so main builds the coordinator first and
// wires the worker in a second step.
func (c *Coordinator) SetDispatcher(d Dispatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d == nil {
		d = NopDispatcher{}
	}
	c.dispatcher = d
}

// Create queues an approved workbasket for packaging. The entry lands at the
// tail of the queue; landing at position 1 while nothing is processing
// schedules envelope generation.
func (c *Coordinator) Create(ctx context.Context, workbasketID uuid.UUID, meta models.ReleaseMetadata) (*models.PackagedWorkBasket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wb, err := c.workbaskets.Get(ctx, workbasketID)
	if err != nil {
		return nil, err
	}
	if wb.Status.IsUnchecked() {
		return nil, dErrors.Wrapf(models.ErrInvalidCheckStatus, dErrors.CodeInvalidState,
			"workbasket %s has status %s", workbasketID, wb.Status)
	}
	if _, err := c.store.ActiveEntryForWorkBasket(ctx, workbasketID); err == nil {
		return nil, dErrors.Wrapf(models.ErrDuplication, dErrors.CodeConflict,
			"workbasket %s", workbasketID)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check existing queue entry")
	}

	var (
		pwb     *models.PackagedWorkBasket
		effects []Effect
	)
	err = c.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := c.store.LockQueue(ctx); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "lock packaging queue")
		}
		max, err := c.store.MaxPosition(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "compute queue position")
		}
		pwb = models.NewPackagedWorkBasket(workbasketID, max+1, meta, c.now())
		if err := c.store.CreatePackaged(ctx, pwb); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "create queue entry")
		}
		if _, err := c.workbaskets.Transition(ctx, workbasketID, wbmodels.EventQueue, ""); err != nil {
			return err
		}
		if pwb.Position == 1 {
			effects = append(effects, c.headEffects(ctx, nil)...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("workbasket queued for packaging",
		"workbasket_id", workbasketID, "packaged_id", pwb.ID, "position", pwb.Position)
	c.updateQueueDepth(ctx)
	c.dispatcher.Dispatch(ctx, effects)
	return pwb, nil
}

// Get returns one queue entry.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error) {
	pwb, err := c.store.GetPackaged(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "packaged workbasket not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get packaged workbasket")
	}
	return pwb, nil
}

// List returns the queue in position order.
func (c *Coordinator) List(ctx context.Context) ([]*models.PackagedWorkBasket, error) {
	out, err := c.store.ListAwaiting(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list packaging queue")
	}
	return out, nil
}

// BeginProcessing marks the head of the queue as in flight. Guards: the entry
// must be at position 1 and nothing else may be processing. Pops the entry
// from the queue so the next entry becomes the new head, but does not
// generate its envelope while processing is under way.
func (c *Coordinator) BeginProcessing(ctx context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pwb *models.PackagedWorkBasket
	err := c.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		pwb, err = c.lockEntry(ctx, id)
		if err != nil {
			return err
		}
		if pwb.Position != 1 {
			return dErrors.Wrapf(models.ErrInvalidQueueOperation, dErrors.CodeInvalidState,
				"entry at position %d is not the head of the queue", pwb.Position)
		}
		if _, err := c.store.CurrentlyProcessing(ctx); err == nil {
			return dErrors.Wrap(models.ErrInvalidQueueOperation, dErrors.CodeInvalidState,
				"another entry is currently processing")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "check in-flight entry")
		}

		next, err := pwb.State.Transition(models.StateCurrentlyProcessing)
		if err != nil {
			return err
		}
		started := c.now()
		pwb.State = next
		pwb.Position = 0
		pwb.ProcessingStartedAt = &started
		if err := c.store.UpdatePackaged(ctx, pwb); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update queue entry")
		}
		if err := c.store.DecrementPositionsAbove(ctx, 1); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "shift queue positions")
		}
		_, err = c.workbaskets.Transition(ctx, pwb.WorkBasketID, wbmodels.EventExportToCDS, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("processing started", "packaged_id", id, "workbasket_id", pwb.WorkBasketID)
	c.updateQueueDepth(ctx)
	return pwb, nil
}

// ProcessingSucceeded records that the external system accepted the envelope.
// Publishes the workbasket, notifies, and schedules envelope generation for
// the new head of the queue.
func (c *Coordinator) ProcessingSucceeded(ctx context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error) {
	return c.finishProcessing(ctx, id, models.StateSuccessfullyProcessed,
		wbmodels.EventCDSConfirmed, c.templates.ProcessingSucceededTemplateID)
}

// ProcessingFailed records that the external system rejected the envelope.
// The entry is already popped, so the queue is not blocked; the workbasket
// moves to CDS_ERROR for out-of-band investigation.
func (c *Coordinator) ProcessingFailed(ctx context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error) {
	return c.finishProcessing(ctx, id, models.StateFailedProcessing,
		wbmodels.EventCDSError, c.templates.ProcessingFailedTemplateID)
}

func (c *Coordinator) finishProcessing(ctx context.Context, id uuid.UUID, outcome models.ProcessingState, event wbmodels.Event, templateID string) (*models.PackagedWorkBasket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		pwb     *models.PackagedWorkBasket
		effects []Effect
	)
	err := c.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		pwb, err = c.lockEntry(ctx, id)
		if err != nil {
			return err
		}
		next, err := pwb.State.Transition(outcome)
		if err != nil {
			return err
		}
		pwb.State = next
		if err := c.store.UpdatePackaged(ctx, pwb); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update queue entry")
		}
		if _, err := c.workbaskets.Transition(ctx, pwb.WorkBasketID, event, ""); err != nil {
			return err
		}
		effects = append(effects, c.notifyEffect(templateID, pwb))
		// Nothing is processing any more; generation resumes for the head.
		effects = append(effects, c.headEffects(ctx, nil)...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.ProcessingOutcomes.WithLabelValues(string(outcome)).Inc()
	}
	c.logger.Info("processing finished",
		"packaged_id", id, "workbasket_id", pwb.WorkBasketID, "outcome", outcome)
	c.dispatcher.Dispatch(ctx, effects)
	return pwb, nil
}

// Abandon withdraws a queued entry before any processing attempt and returns
// its workbasket to EDITING.
func (c *Coordinator) Abandon(ctx context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		pwb     *models.PackagedWorkBasket
		effects []Effect
	)
	err := c.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		pwb, err = c.lockEntry(ctx, id)
		if err != nil {
			return err
		}
		if pwb.State == models.StateCurrentlyProcessing {
			return dErrors.Wrap(models.ErrInvalidQueueOperation, dErrors.CodeInvalidState,
				"cannot abandon, entry is already processing")
		}
		next, err := pwb.State.Transition(models.StateAbandoned)
		if err != nil {
			return err
		}
		oldHead := pwb.Position == 1
		oldPos := pwb.Position
		pwb.State = next
		pwb.Position = 0
		if err := c.store.UpdatePackaged(ctx, pwb); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update queue entry")
		}
		if oldPos > 0 {
			if err := c.store.DecrementPositionsAbove(ctx, oldPos); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "shift queue positions")
			}
		}
		if _, err := c.workbaskets.Transition(ctx, pwb.WorkBasketID, wbmodels.EventDequeue, ""); err != nil {
			return err
		}
		if oldHead {
			effects = append(effects, c.headEffects(ctx, pwb)...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("queue entry abandoned", "packaged_id", id, "workbasket_id", pwb.WorkBasketID)
	c.updateQueueDepth(ctx)
	c.dispatcher.Dispatch(ctx, effects)
	return pwb, nil
}

// PopTop removes the head of the queue from the ordering, shifting every
// remaining entry up by one. Only legal at position 1. Unlike a reposition the
// popped entry keeps its envelope, so only generation for the new head is
// scheduled.
func (c *Coordinator) PopTop(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var effects []Effect
	err := c.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := c.store.LockQueue(ctx); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "lock packaging queue")
		}
		pwb, err := c.lockEntry(ctx, id)
		if err != nil {
			return err
		}
		if !pwb.Queued() {
			return dErrors.Wrap(models.ErrInvalidQueueOperation, dErrors.CodeInvalidState,
				"entry is not queued")
		}
		if pwb.Position != 1 {
			return dErrors.Wrapf(models.ErrInvalidQueueOperation, dErrors.CodeInvalidState,
				"entry at position %d is not the head of the queue", pwb.Position)
		}
		pwb.Position = 0
		if err := c.store.UpdatePackaged(ctx, pwb); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update queue entry")
		}
		if err := c.store.DecrementPositionsAbove(ctx, 1); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "shift queue positions")
		}
		effects = c.headEffects(ctx, nil)
		return nil
	})
	if err != nil {
		return err
	}

	c.updateQueueDepth(ctx)
	c.dispatcher.Dispatch(ctx, effects)
	return nil
}

// RemoveFromQueue takes a queued entry out of the ordering without changing
// its processing state.
func (c *Coordinator) RemoveFromQueue(ctx context.Context, id uuid.UUID) error {
	return c.reposition(ctx, id, func(ctx context.Context, pwb *models.PackagedWorkBasket) error {
		if !pwb.Queued() {
			return dErrors.Wrap(models.ErrInvalidQueueOperation, dErrors.CodeInvalidState,
				"entry is not queued")
		}
		oldPos := pwb.Position
		pwb.Position = 0
		if err := c.store.UpdatePackaged(ctx, pwb); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update queue entry")
		}
		return c.store.DecrementPositionsAbove(ctx, oldPos)
	})
}

// PromoteToTop moves a queued entry to position 1, shifting everything it
// passes down by one. No-op when already at the top.
func (c *Coordinator) PromoteToTop(ctx context.Context, id uuid.UUID) error {
	return c.reposition(ctx, id, func(ctx context.Context, pwb *models.PackagedWorkBasket) error {
		if !pwb.Queued() {
			return dErrors.Wrap(models.ErrInvalidQueueOperation, dErrors.CodeInvalidState,
				"entry is not queued")
		}
		if pwb.Position == 1 {
			return nil
		}
		queued, err := c.store.ListAwaiting(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "list queue")
		}
		for _, other := range queued {
			if other.ID != pwb.ID && other.Position < pwb.Position {
				other.Position++
				if err := c.store.UpdatePackaged(ctx, other); err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "update queue entry")
				}
			}
		}
		pwb.Position = 1
		if err := c.store.UpdatePackaged(ctx, pwb); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update queue entry")
		}
		return nil
	})
}

// PromotePosition swaps a queued entry with the one above it. No-op at the
// top.
func (c *Coordinator) PromotePosition(ctx context.Context, id uuid.UUID) error {
	return c.swap(ctx, id, -1)
}

// DemotePosition swaps a queued entry with the one below it. No-op at the
// bottom.
func (c *Coordinator) DemotePosition(ctx context.Context, id uuid.UUID) error {
	return c.swap(ctx, id, +1)
}

func (c *Coordinator) swap(ctx context.Context, id uuid.UUID, direction int) error {
	return c.reposition(ctx, id, func(ctx context.Context, pwb *models.PackagedWorkBasket) error {
		if !pwb.Queued() {
			return dErrors.Wrap(models.ErrInvalidQueueOperation, dErrors.CodeInvalidState,
				"entry is not queued")
		}
		queued, err := c.store.ListAwaiting(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "list queue")
		}
		target := pwb.Position + direction
		if target < 1 || target > len(queued) {
			return nil
		}
		for _, other := range queued {
			if other.ID != pwb.ID && other.Position == target {
				other.Position = pwb.Position
				if err := c.store.UpdatePackaged(ctx, other); err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "update queue entry")
				}
				break
			}
		}
		pwb.Position = target
		if err := c.store.UpdatePackaged(ctx, pwb); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update queue entry")
		}
		return nil
	})
}

// reposition wraps a position mutation in the queue lock and re-derives
// envelope generation when the head changed.
func (c *Coordinator) reposition(ctx context.Context, id uuid.UUID, mutate func(context.Context, *models.PackagedWorkBasket) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var effects []Effect
	err := c.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := c.store.LockQueue(ctx); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "lock packaging queue")
		}
		oldHead, err := c.head(ctx)
		if err != nil {
			return err
		}
		pwb, err := c.lockEntry(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(ctx, pwb); err != nil {
			return err
		}
		newHead, err := c.head(ctx)
		if err != nil {
			return err
		}
		if headID(oldHead) != headID(newHead) {
			effects = append(effects, c.headEffects(ctx, oldHead)...)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.updateQueueDepth(ctx)
	c.dispatcher.Dispatch(ctx, effects)
	return nil
}

// Pause stops a pipeline. Sequencing failures pause automatically; operators
// pause explicitly.
func (c *Coordinator) Pause(ctx context.Context, queue models.QueueKind, by string) error {
	return c.setPaused(ctx, queue, true, by)
}

// Resume restarts a paused pipeline.
func (c *Coordinator) Resume(ctx context.Context, queue models.QueueKind, by string) error {
	return c.setPaused(ctx, queue, false, by)
}

// IsPaused reports the current pause flag for a pipeline. An empty pause log
// means running.
func (c *Coordinator) IsPaused(ctx context.Context, queue models.QueueKind) (bool, error) {
	st, err := c.store.CurrentOperationalStatus(ctx, queue)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "read operational status")
	}
	return st.Paused, nil
}

func (c *Coordinator) setPaused(ctx context.Context, queue models.QueueKind, paused bool, by string) error {
	st := &models.OperationalStatus{
		Queue:     queue,
		Paused:    paused,
		CreatedBy: by,
		CreatedAt: c.now(),
	}
	if err := c.store.AppendOperationalStatus(ctx, st); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "append operational status")
	}
	c.logger.Info("operational status changed", "queue", queue, "paused", paused, "by", by)
	return nil
}

// lockEntry loads a queue entry under a row lock, mapping store sentinels to
// caller-facing errors.
func (c *Coordinator) lockEntry(ctx context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error) {
	pwb, err := c.store.GetPackagedForUpdate(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "packaged workbasket not found")
	}
	if errors.Is(err, sentinel.ErrLocked) {
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "queue entry is locked by another operation")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "lock queue entry")
	}
	return pwb, nil
}

// head returns the current head of the queue, or nil when the queue is empty.
func (c *Coordinator) head(ctx context.Context) (*models.PackagedWorkBasket, error) {
	queued, err := c.store.ListAwaiting(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list queue")
	}
	for _, pwb := range queued {
		if pwb.Position == 1 {
			return pwb, nil
		}
	}
	return nil, nil
}

// headEffects derives the envelope effects of a head change: drop the
// superseded head's envelope and schedule generation for the new head, but
// only while nothing is processing.
func (c *Coordinator) headEffects(ctx context.Context, oldHead *models.PackagedWorkBasket) []Effect {
	if _, err := c.store.CurrentlyProcessing(ctx); err == nil {
		return nil
	}
	var effects []Effect
	if oldHead != nil && oldHead.EnvelopeID != nil {
		effects = append(effects, Effect{
			Kind:                 EffectDeleteEnvelope,
			PackagedWorkBasketID: oldHead.ID,
			EnvelopeID:           *oldHead.EnvelopeID,
		})
	}
	newHead, err := c.head(ctx)
	if err != nil || newHead == nil {
		return effects
	}
	if newHead.EnvelopeID == nil {
		effects = append(effects, Effect{
			Kind:                 EffectGenerateEnvelope,
			PackagedWorkBasketID: newHead.ID,
		})
	}
	return effects
}

func (c *Coordinator) notifyEffect(templateID string, pwb *models.PackagedWorkBasket) Effect {
	personalisation := map[string]string{
		"workbasket_id": pwb.WorkBasketID.String(),
		"theme":         pwb.Theme,
	}
	if pwb.EnvelopeID != nil {
		personalisation["envelope_id"] = pwb.EnvelopeID.String()
	}
	return Effect{
		Kind:                 EffectNotify,
		PackagedWorkBasketID: pwb.ID,
		Event: notify.Event{
			TemplateID:      templateID,
			Personalisation: personalisation,
		},
	}
}

func (c *Coordinator) updateQueueDepth(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	queued, err := c.store.ListAwaiting(ctx)
	if err != nil {
		return
	}
	depth := 0
	for _, pwb := range queued {
		if pwb.Position > 0 {
			depth++
		}
	}
	c.metrics.QueueDepth.Set(float64(depth))
}

func headID(pwb *models.PackagedWorkBasket) uuid.UUID {
	if pwb == nil {
		return uuid.Nil
	}
	return pwb.ID
}
