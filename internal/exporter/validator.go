package exporter

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	dErrors "tariffpub/pkg/domain-errors"
)

// TaricValidator checks rendered envelopes before they are persisted: XML
// well-formedness, envelope id match, and transaction and record counts
// against what the source workbasket holds. The XSD library itself stays an
// external concern; this validator covers the structural checks the pipeline
// owns.
type TaricValidator struct{}

// NewTaricValidator constructs the default envelope validator.
func NewTaricValidator() *TaricValidator {
	return &TaricValidator{}
}

func (v *TaricValidator) Validate(body []byte, envelopeID string, expectedTransactions, expectedRecords int) error {
	dec := xml.NewDecoder(bytes.NewReader(body))

	var (
		foundID      string
		transactions int
		records      int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "envelope is not well-formed XML")
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "envelope":
			for _, attr := range start.Attr {
				if attr.Name.Local == "id" {
					foundID = attr.Value
				}
			}
		case "transaction":
			transactions++
		case "record":
			records++
		}
	}

	if foundID != envelopeID {
		return dErrors.Newf(dErrors.CodeValidation,
			"envelope id mismatch: document carries %q, expected %q", foundID, envelopeID)
	}
	if transactions != expectedTransactions {
		return dErrors.New(dErrors.CodeValidation, countMismatch("transaction", expectedTransactions, transactions))
	}
	if records != expectedRecords {
		return dErrors.New(dErrors.CodeValidation, countMismatch("record", expectedRecords, records))
	}
	return nil
}

func countMismatch(what string, expected, actual int) string {
	return fmt.Sprintf("%s count mismatch: expected %d, found %d", what, expected, actual)
}
