package models

import (
	dErrors "tariffpub/pkg/domain-errors"
)

// RecordKind tags the tariff entity type of a tracked model. Kinds carry the
// TARIC record and subrecord codes used for ordering records inside an
// envelope transaction.
type RecordKind string

const (
	KindAdditionalCode   RecordKind = "additional_code"
	KindCertificate      RecordKind = "certificate"
	KindCommodity        RecordKind = "commodity"
	KindFootnote         RecordKind = "footnote"
	KindGeographicalArea RecordKind = "geographical_area"
	KindMeasure          RecordKind = "measure"
	KindQuotaOrderNumber RecordKind = "quota_order_number"
	KindQuotaDefinition  RecordKind = "quota_definition"
	KindRegulation       RecordKind = "regulation"
)

type kindCodes struct {
	record    string
	subrecord string
}

// recordCodes maps each kind to its TARIC record and subrecord code. Smaller
// subrecord codes come before larger ones within a transaction.
var recordCodes = map[RecordKind]kindCodes{
	KindAdditionalCode:   {"245", "00"},
	KindCertificate:      {"205", "00"},
	KindCommodity:        {"400", "00"},
	KindFootnote:         {"200", "00"},
	KindGeographicalArea: {"250", "00"},
	KindMeasure:          {"430", "00"},
	KindQuotaOrderNumber: {"360", "00"},
	KindQuotaDefinition:  {"370", "00"},
	KindRegulation:       {"285", "00"},
}

// ParseRecordKind validates a kind string from external input.
func ParseRecordKind(s string) (RecordKind, error) {
	k := RecordKind(s)
	if _, ok := recordCodes[k]; !ok {
		return "", dErrors.Newf(dErrors.CodeBadRequest, "unknown record kind %q", s)
	}
	return k, nil
}

// IsValid reports whether the kind is known.
func (k RecordKind) IsValid() bool {
	_, ok := recordCodes[k]
	return ok
}

// RecordCode returns the TARIC record code for the kind.
func (k RecordKind) RecordCode() string { return recordCodes[k].record }

// SubrecordCode returns the TARIC subrecord code for the kind.
func (k RecordKind) SubrecordCode() string { return recordCodes[k].subrecord }

func (k RecordKind) String() string { return string(k) }
