// Package models defines the packaging queue entities: packaged workbaskets,
// envelopes, Crown Dependencies envelopes and the operational pause flags.
package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors raised by packaging queue and publishing operations. The service
// layer wraps these with domain error codes before they reach callers.
var (
	// ErrInvalidCheckStatus is returned when a workbasket that has not passed
	// rule checks is packaged.
	ErrInvalidCheckStatus = errors.New("workbasket has not passed business rule checks")
	// ErrDuplication is returned when a workbasket already has an
	// actively-queued entry.
	ErrDuplication = errors.New("workbasket is already queued for packaging")
	// ErrInvalidQueueOperation is returned for position operations that are
	// not legal from the entry's current position or state.
	ErrInvalidQueueOperation = errors.New("invalid queue operation")
	// ErrNoTransactions is returned when envelope generation finds nothing to
	// serialize.
	ErrNoTransactions = errors.New("workbasket has no transactions")
	// ErrMultipleEnvelopesGenerated is returned when the single-envelope
	// render path produces more than one document.
	ErrMultipleEnvelopesGenerated = errors.New("transactions do not fit in a single envelope")
	// ErrInvalidWorkBasketStatus is returned when a Crown Dependencies
	// envelope is created from a packaged workbasket that is not
	// successfully processed.
	ErrInvalidWorkBasketStatus = errors.New("packaged workbasket is not successfully processed")
)

// PackagedWorkBasket is one packaging queue entry wrapping an approved
// workbasket for release.
//
// Position 1 is the head of the queue; position 0 means not queued (either
// mid-flight or terminal). Position and ProcessingState are only ever written
// by the queue coordinator.
type PackagedWorkBasket struct {
	ID           uuid.UUID
	WorkBasketID uuid.UUID
	Position     int
	State        ProcessingState

	EnvelopeID                  *uuid.UUID
	CrownDependenciesEnvelopeID *uuid.UUID

	// Release metadata supplied by the operator at queueing time.
	Theme       string
	Description string
	EIF         *time.Time
	Embargo     string
	JiraURL     string

	ProcessingStartedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewPackagedWorkBasket creates a queue entry in the initial state at the
// given position.
func NewPackagedWorkBasket(workbasketID uuid.UUID, position int, meta ReleaseMetadata, now time.Time) *PackagedWorkBasket {
	return &PackagedWorkBasket{
		ID:           uuid.New(),
		WorkBasketID: workbasketID,
		Position:     position,
		State:        StateAwaitingProcessing,
		Theme:        meta.Theme,
		Description:  meta.Description,
		EIF:          meta.EIF,
		Embargo:      meta.Embargo,
		JiraURL:      meta.JiraURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ReleaseMetadata carries the operator-supplied release fields.
type ReleaseMetadata struct {
	Theme       string
	Description string
	EIF         *time.Time
	Embargo     string
	JiraURL     string
}

// Queued reports whether the entry currently occupies a queue position.
func (p *PackagedWorkBasket) Queued() bool {
	return p.State == StateAwaitingProcessing && p.Position > 0
}

// Envelope is the generated XML artifact for one packaged workbasket.
type Envelope struct {
	ID uuid.UUID
	// EnvelopeID is the YYxxxx wire identifier.
	EnvelopeID string
	// XMLFileKey is the blob storage key of the rendered document.
	XMLFileKey string
	// PublishedToAPI records when the Crown Dependencies publisher uploaded
	// this envelope.
	PublishedToAPI *time.Time
	// Deleted marks a soft-deleted envelope; the row is retained for audit.
	Deleted   bool
	CreatedAt time.Time
}

// NewEnvelope creates an envelope record for the given wire identifier.
func NewEnvelope(envelopeID string, now time.Time) *Envelope {
	return &Envelope{
		ID:         uuid.New(),
		EnvelopeID: envelopeID,
		CreatedAt:  now,
	}
}

// FileName returns the conventional download name for the envelope.
func (e *Envelope) FileName() string {
	return "DIT" + e.EnvelopeID + ".xml"
}

// CrownDependenciesEnvelope records the secondary publication of an envelope
// to the Crown Dependencies tariff API.
type CrownDependenciesEnvelope struct {
	ID                   uuid.UUID
	PackagedWorkBasketID uuid.UUID
	State                ApiPublishingState
	Published            *time.Time
	CreatedAt            time.Time
}

// NewCrownDependenciesEnvelope creates a publication record for a packaged
// workbasket. The source must be successfully processed.
func NewCrownDependenciesEnvelope(pwb *PackagedWorkBasket, now time.Time) (*CrownDependenciesEnvelope, error) {
	if pwb.State != StateSuccessfullyProcessed {
		return nil, ErrInvalidWorkBasketStatus
	}
	return &CrownDependenciesEnvelope{
		ID:                   uuid.New(),
		PackagedWorkBasketID: pwb.ID,
		State:                StateCurrentlyPublishing,
		CreatedAt:            now,
	}, nil
}

// QueueKind discriminates the two pausable pipelines.
type QueueKind string

const (
	QueuePackaging         QueueKind = "PACKAGING"
	QueueCrownDependencies QueueKind = "CROWN_DEPENDENCIES"
)

// OperationalStatus is one row of the append-only pause/unpause log. The
// current state of a queue is its most recently created row.
type OperationalStatus struct {
	ID        int64
	Queue     QueueKind
	Paused    bool
	CreatedBy string
	CreatedAt time.Time
}
