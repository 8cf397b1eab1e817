// Package exporter renders ordered transactions into TARIC3-shaped envelope
// XML and validates rendered output before it is persisted.
package exporter

import (
	"github.com/google/uuid"

	"tariffpub/internal/tracked/models"
)

// TransactionData is one transaction and its row-versions, in the order they
// should appear on the wire.
type TransactionData struct {
	ID     uuid.UUID
	Order  int
	Models []*models.TrackedModel
}

// RenderedEnvelope is one rendered document and the transactions it contains.
type RenderedEnvelope struct {
	EnvelopeID     string
	Body           []byte
	TransactionIDs []uuid.UUID
	RecordCount    int
}

// Serializer renders transactions into one or more size-bounded envelope
// documents. A maxSize of 0 disables splitting.
type Serializer interface {
	Render(envelopeID string, transactions []TransactionData, maxSize int) ([]RenderedEnvelope, error)
}

// Validator checks a rendered envelope before it is persisted: XML
// well-formedness, envelope id match, and the record and transaction counts
// expected from the source workbasket.
type Validator interface {
	Validate(body []byte, envelopeID string, expectedTransactions, expectedRecords int) error
}
