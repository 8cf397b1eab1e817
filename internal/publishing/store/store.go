// Package store persists the packaging queue, envelopes, Crown Dependencies
// envelopes and the operational pause log.
//
// Position and processing-state writes only come from the queue coordinator;
// the store exposes the locking primitives the coordinator needs and nothing
// higher level.
package store

import (
	"context"

	"github.com/google/uuid"

	"tariffpub/internal/publishing/models"
)

// Store is the publishing persistence surface.
type Store interface {
	// LockQueue takes an exclusive queue-wide lock for the rest of the
	// surrounding storage transaction. Serializes concurrent creations.
	LockQueue(ctx context.Context) error

	CreatePackaged(ctx context.Context, pwb *models.PackagedWorkBasket) error
	GetPackaged(ctx context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error)
	// GetPackagedForUpdate loads the entry under a row lock without waiting;
	// returns sentinel.ErrLocked when another transaction holds the row.
	GetPackagedForUpdate(ctx context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error)
	UpdatePackaged(ctx context.Context, pwb *models.PackagedWorkBasket) error

	// ActiveEntryForWorkBasket returns the workbasket's queued or in-flight
	// entry, or sentinel.ErrNotFound.
	ActiveEntryForWorkBasket(ctx context.Context, workbasketID uuid.UUID) (*models.PackagedWorkBasket, error)
	// ListAwaiting returns AWAITING_PROCESSING entries ordered by position.
	ListAwaiting(ctx context.Context) ([]*models.PackagedWorkBasket, error)
	// CurrentlyProcessing returns the single in-flight entry, or
	// sentinel.ErrNotFound when nothing is processing.
	CurrentlyProcessing(ctx context.Context) (*models.PackagedWorkBasket, error)
	MaxPosition(ctx context.Context) (int, error)
	// DecrementPositionsAbove shifts every queued entry with a position
	// strictly greater than pos down by one.
	DecrementPositionsAbove(ctx context.Context, pos int) error

	CreateEnvelope(ctx context.Context, e *models.Envelope) error
	GetEnvelope(ctx context.Context, id uuid.UUID) (*models.Envelope, error)
	UpdateEnvelope(ctx context.Context, e *models.Envelope) error
	// LatestEnvelopeIDForYear returns the highest envelope id for the
	// two-digit year among non-deleted envelopes attached to successfully
	// processed packaged workbaskets, or "" when the year has none.
	LatestEnvelopeIDForYear(ctx context.Context, year int) (string, error)

	CreateCrownEnvelope(ctx context.Context, c *models.CrownDependenciesEnvelope) error
	GetCrownEnvelope(ctx context.Context, id uuid.UUID) (*models.CrownDependenciesEnvelope, error)
	UpdateCrownEnvelope(ctx context.Context, c *models.CrownDependenciesEnvelope) error
	// ListCurrentlyPublishing returns crown envelopes stuck mid-publication.
	ListCurrentlyPublishing(ctx context.Context) ([]*models.CrownDependenciesEnvelope, error)
	// UnpublishedProcessed returns successfully processed packaged
	// workbaskets with no successful publication yet, ordered by envelope id.
	UnpublishedProcessed(ctx context.Context) ([]*models.PackagedWorkBasket, error)
	// LastPublishedEnvelopeID returns the envelope id of the most recent
	// envelope that reached SUCCESSFULLY_PUBLISHED or is mid-publication, or
	// "" when nothing has been published.
	LastPublishedEnvelopeID(ctx context.Context) (string, error)

	AppendOperationalStatus(ctx context.Context, s *models.OperationalStatus) error
	// CurrentOperationalStatus returns the newest pause-log row for the
	// queue, or sentinel.ErrNotFound when the log is empty (unpaused).
	CurrentOperationalStatus(ctx context.Context, queue models.QueueKind) (*models.OperationalStatus, error)
}
