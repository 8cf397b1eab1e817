package queue

import (
	"context"

	"github.com/google/uuid"

	"tariffpub/internal/notify"
)

// EffectKind names a deferred side effect of a queue transition.
type EffectKind string

const (
	// EffectGenerateEnvelope schedules envelope generation for the queue head.
	EffectGenerateEnvelope EffectKind = "generate_envelope"
	// EffectDeleteEnvelope removes an envelope superseded by a head change.
	EffectDeleteEnvelope EffectKind = "delete_envelope"
	// EffectNotify emits a notification event.
	EffectNotify EffectKind = "notify"
)

// Effect is one side effect produced by a queue transition. Transitions only
// mutate queue state; effects are dispatched by the coordinator after the
// storage transaction commits, keeping the transition logic pure and
// testable.
type Effect struct {
	Kind                 EffectKind
	PackagedWorkBasketID uuid.UUID
	EnvelopeID           uuid.UUID
	Event                notify.Event
}

// Dispatcher performs effects out of band, typically by handing them to the
// background worker and the notifier.
type Dispatcher interface {
	Dispatch(ctx context.Context, effects []Effect)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, effects []Effect)

func (f DispatcherFunc) Dispatch(ctx context.Context, effects []Effect) { f(ctx, effects) }

// NopDispatcher discards effects. Used in tests that only exercise queue
// state.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, []Effect) {}
