package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	dErrors "tariffpub/pkg/domain-errors"
)

// UpdateType is the change a row-version records against its logical entity.
type UpdateType int

const (
	UpdateTypeCreate UpdateType = 1
	UpdateTypeUpdate UpdateType = 2
	UpdateTypeDelete UpdateType = 3
)

func (u UpdateType) String() string {
	switch u {
	case UpdateTypeCreate:
		return "CREATE"
	case UpdateTypeUpdate:
		return "UPDATE"
	case UpdateTypeDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// DateRange is a half-open validity interval. A nil Upper means open-ended.
type DateRange struct {
	Lower time.Time
	Upper *time.Time
}

// Contains reports whether the instant falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if t.Before(r.Lower) {
		return false
	}
	if r.Upper != nil && t.After(*r.Upper) {
		return false
	}
	return true
}

// Identity is the composite key that identifies one logical tariff entity
// across all of its versions.
type Identity struct {
	Kind RecordKind
	SID  string
}

// Validate returns an error when identifying values are missing.
func (i Identity) Validate() error {
	if !i.Kind.IsValid() {
		return dErrors.Newf(dErrors.CodeBadRequest, "unknown record kind %q", i.Kind)
	}
	if i.SID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "no identifying values given: sid is required")
	}
	return nil
}

// VersionGroup groups all row-versions of one logical entity.
//
// CurrentVersionID points at the version presently considered authoritative.
// It is advanced only at save time for writes belonging to approved
// workbaskets, never computed by scanning history.
type VersionGroup struct {
	ID               uuid.UUID
	CurrentVersionID *uuid.UUID
}

// NewVersionGroup creates an empty version group.
func NewVersionGroup() *VersionGroup {
	return &VersionGroup{ID: uuid.New()}
}

// TrackedModel is one immutable version of one tariff entity.
//
// Once the owning workbasket reaches an approved status the row must never be
// mutated; later edits create a new row-version in the same version group.
type TrackedModel struct {
	ID             uuid.UUID
	Kind           RecordKind
	SID            string
	VersionGroupID uuid.UUID
	TransactionID  uuid.UUID
	UpdateType     UpdateType
	ValidBetween   DateRange
	// Data holds the kind-specific payload. The versioning layer treats it as
	// opaque; the exporter maps it to XML elements.
	Data json.RawMessage
}

// Identity returns the model's composite identity.
func (m *TrackedModel) Identity() Identity {
	return Identity{Kind: m.Kind, SID: m.SID}
}

// BuildNewVersion returns an unsaved copy of the model carrying the same
// identity and payload, attached to the given transaction. updateType must be
// UPDATE or DELETE.
func (m *TrackedModel) BuildNewVersion(transactionID uuid.UUID, updateType UpdateType) (*TrackedModel, error) {
	if updateType != UpdateTypeUpdate && updateType != UpdateTypeDelete {
		return nil, dErrors.New(dErrors.CodeBadRequest, "update type must be UPDATE or DELETE")
	}
	data := make(json.RawMessage, len(m.Data))
	copy(data, m.Data)
	return &TrackedModel{
		ID:             uuid.New(),
		Kind:           m.Kind,
		SID:            m.SID,
		VersionGroupID: m.VersionGroupID,
		TransactionID:  transactionID,
		UpdateType:     updateType,
		ValidBetween:   m.ValidBetween,
		Data:           data,
	}, nil
}
