package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffpub/internal/blobstore"
	"tariffpub/internal/exporter"
	"tariffpub/internal/notify"
	"tariffpub/internal/platform/config"
	"tariffpub/internal/publishing/envelope"
	"tariffpub/internal/publishing/models"
	"tariffpub/internal/publishing/queue"
	pubstore "tariffpub/internal/publishing/store"
	trackedmodels "tariffpub/internal/tracked/models"
	trackedstore "tariffpub/internal/tracked/store"
	wbmodels "tariffpub/internal/workbasket/models"
	wbstore "tariffpub/internal/workbasket/store"
	dErrors "tariffpub/pkg/domain-errors"
	"tariffpub/pkg/platform/tx"
)

type staticPauses bool

func (p staticPauses) IsPaused(context.Context, models.QueueKind) (bool, error) {
	return bool(p), nil
}

type workerFixture struct {
	worker   *Worker
	store    *pubstore.InMemory
	notifier *notify.Memory
	head     uuid.UUID
}

func newWorkerFixture(t *testing.T, paused, notificationsOn bool) *workerFixture {
	t.Helper()
	ledger := wbstore.NewInMemory()
	tracked := trackedstore.NewInMemory(ledger)
	st := pubstore.NewInMemory()
	envelopes, err := envelope.New(st, ledger, tracked,
		exporter.NewTaricSerializer(), exporter.NewTaricValidator(),
		blobstore.NewMemory(), tx.NoopRunner{})
	require.NoError(t, err)

	notifier := notify.NewMemory()
	w, err := New(envelopes, nil, staticPauses(paused),
		WithNotifier(notifier, config.NotifyConfig{ReadyForProcessingTemplateID: "ready-template"}, notificationsOn),
		WithRetryPolicy(3, time.Millisecond))
	require.NoError(t, err)

	f := &workerFixture{worker: w, store: st, notifier: notifier}
	f.seedQueuedHead(t, ledger, tracked)
	return f
}

// seedQueuedHead puts one populated workbasket at the head of the queue.
func (f *workerFixture) seedQueuedHead(t *testing.T, ledger *wbstore.InMemory, tracked trackedstore.Store) {
	t.Helper()
	ctx := context.Background()
	wb := wbmodels.NewWorkBasket("worker basket", "", "author", time.Now())
	wb.Status = wbmodels.StatusQueued
	require.NoError(t, ledger.Create(ctx, wb))
	txn := wbmodels.NewTransaction(wb.ID, 1, time.Now())
	require.NoError(t, ledger.CreateTransaction(ctx, txn))

	group := trackedmodels.NewVersionGroup()
	require.NoError(t, tracked.CreateVersionGroup(ctx, group))
	m := &trackedmodels.TrackedModel{
		ID:             uuid.New(),
		Kind:           trackedmodels.KindFootnote,
		SID:            uuid.NewString()[:8],
		VersionGroupID: group.ID,
		TransactionID:  txn.ID,
		UpdateType:     trackedmodels.UpdateTypeCreate,
		ValidBetween:   trackedmodels.DateRange{Lower: time.Now()},
		Data:           json.RawMessage(`{"description":"test"}`),
	}
	require.NoError(t, tracked.Insert(ctx, m))

	pwb := models.NewPackagedWorkBasket(wb.ID, 1, models.ReleaseMetadata{}, time.Now())
	require.NoError(t, f.store.CreatePackaged(ctx, pwb))
	f.head = pwb.ID
}

func TestHandle_GenerateEnvelope(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, false, true)

	f.worker.handle(ctx, queue.Effect{Kind: queue.EffectGenerateEnvelope, PackagedWorkBasketID: f.head})

	pwb, err := f.store.GetPackaged(ctx, f.head)
	require.NoError(t, err)
	require.NotNil(t, pwb.EnvelopeID)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "ready-template", events[0].TemplateID)
}

func TestHandle_GenerateEnvelope_SkippedWhilePaused(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, true, true)

	f.worker.handle(ctx, queue.Effect{Kind: queue.EffectGenerateEnvelope, PackagedWorkBasketID: f.head})

	pwb, err := f.store.GetPackaged(ctx, f.head)
	require.NoError(t, err)
	assert.Nil(t, pwb.EnvelopeID)
	assert.Empty(t, f.notifier.Events())
}

func TestHandle_DeleteEnvelope(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, false, false)

	f.worker.handle(ctx, queue.Effect{Kind: queue.EffectGenerateEnvelope, PackagedWorkBasketID: f.head})
	pwb, err := f.store.GetPackaged(ctx, f.head)
	require.NoError(t, err)
	require.NotNil(t, pwb.EnvelopeID)

	f.worker.handle(ctx, queue.Effect{Kind: queue.EffectDeleteEnvelope, EnvelopeID: *pwb.EnvelopeID})
	env, err := f.store.GetEnvelope(ctx, *pwb.EnvelopeID)
	require.NoError(t, err)
	assert.True(t, env.Deleted)
}

func TestHandle_NotifyRespectsEnabledFlag(t *testing.T) {
	ctx := context.Background()
	event := notify.Event{TemplateID: "custom", Personalisation: map[string]string{"theme": "test"}}

	enabled := newWorkerFixture(t, false, true)
	enabled.worker.handle(ctx, queue.Effect{Kind: queue.EffectNotify, Event: event})
	require.Len(t, enabled.notifier.Events(), 1)
	assert.Equal(t, "custom", enabled.notifier.Events()[0].TemplateID)

	disabled := newWorkerFixture(t, false, false)
	disabled.worker.handle(ctx, queue.Effect{Kind: queue.EffectNotify, Event: event})
	assert.Empty(t, disabled.notifier.Events())
}

func TestRetry_OnlyTransientFailures(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, false, false)

	attempts := 0
	err := f.worker.retry(ctx, func(context.Context) error {
		attempts++
		return dErrors.New(dErrors.CodeValidation, "permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "permanent failures are not retried")

	attempts = 0
	err = f.worker.retry(ctx, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return dErrors.New(dErrors.CodeUnavailable, "transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = f.worker.retry(ctx, func(context.Context) error {
		attempts++
		return dErrors.New(dErrors.CodeUnavailable, "always down")
	})
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnavailable))
	assert.Equal(t, 3, attempts)
}

func TestRun_ProcessesDispatchedEffects(t *testing.T) {
	f := newWorkerFixture(t, false, false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	f.worker.Dispatch(ctx, []queue.Effect{{Kind: queue.EffectGenerateEnvelope, PackagedWorkBasketID: f.head}})

	require.Eventually(t, func() bool {
		pwb, err := f.store.GetPackaged(context.Background(), f.head)
		return err == nil && pwb.EnvelopeID != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
