package exporter

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	pubmodels "tariffpub/internal/publishing/models"
	"tariffpub/internal/tracked/models"
	dErrors "tariffpub/pkg/domain-errors"
)

const (
	envelopeNamespace = "urn:publicid:-:DGTAXUD:GENERAL:ENVELOPE:1.0"
	messageNamespace  = "urn:publicid:-:DGTAXUD:TARIC:MESSAGE:1.0"
	taricDateLayout   = "2006-01-02"
)

// TaricSerializer renders transactions into TARIC3-shaped envelope XML.
// Records within a transaction are ordered by record and subrecord code;
// message ids number sequentially through the whole envelope.
type TaricSerializer struct{}

// NewTaricSerializer constructs the default envelope serializer.
func NewTaricSerializer() *TaricSerializer {
	return &TaricSerializer{}
}

func (s *TaricSerializer) Render(envelopeID string, transactions []TransactionData, maxSize int) ([]RenderedEnvelope, error) {
	if len(transactions) == 0 {
		return nil, dErrors.Wrap(pubmodels.ErrNoTransactions, dErrors.CodeValidation, "render envelope")
	}

	var parts [][]TransactionData
	if maxSize <= 0 {
		parts = [][]TransactionData{transactions}
	} else {
		var err error
		parts, err = s.split(envelopeID, transactions, maxSize)
		if err != nil {
			return nil, err
		}
	}

	out := make([]RenderedEnvelope, 0, len(parts))
	partID := envelopeID
	for i, part := range parts {
		if i > 0 {
			year, counter, err := pubmodels.ParseEnvelopeID(partID)
			if err != nil {
				return nil, err
			}
			partID = pubmodels.FormatEnvelopeID(year, counter+1)
		}
		body, records, err := s.renderOne(partID, part)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, len(part))
		for j, txn := range part {
			ids[j] = txn.ID
		}
		out = append(out, RenderedEnvelope{
			EnvelopeID:     partID,
			Body:           body,
			TransactionIDs: ids,
			RecordCount:    records,
		})
	}
	return out, nil
}

// split packs transactions greedily into size-bounded parts. A single
// transaction larger than maxSize is an error; transactions are never split.
func (s *TaricSerializer) split(envelopeID string, transactions []TransactionData, maxSize int) ([][]TransactionData, error) {
	var (
		parts   [][]TransactionData
		current []TransactionData
		size    int
	)
	for _, txn := range transactions {
		body, _, err := s.renderOne(envelopeID, []TransactionData{txn})
		if err != nil {
			return nil, err
		}
		if len(body) > maxSize {
			return nil, dErrors.Newf(dErrors.CodeValidation,
				"transaction %s alone exceeds the envelope size limit", txn.ID)
		}
		if size+len(body) > maxSize && len(current) > 0 {
			parts = append(parts, current)
			current = nil
			size = 0
		}
		current = append(current, txn)
		size += len(body)
	}
	if len(current) > 0 {
		parts = append(parts, current)
	}
	return parts, nil
}

func (s *TaricSerializer) renderOne(envelopeID string, transactions []TransactionData) ([]byte, int, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	envStart := xml.StartElement{
		Name: xml.Name{Local: "env:envelope"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:env"}, Value: envelopeNamespace},
			{Name: xml.Name{Local: "id"}, Value: envelopeID},
		},
	}
	if err := enc.EncodeToken(envStart); err != nil {
		return nil, 0, fmt.Errorf("encode envelope: %w", err)
	}

	records := 0
	messageID := 1
	for i, txn := range transactions {
		txnStart := xml.StartElement{
			Name: xml.Name{Local: "env:transaction"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "id"}, Value: strconv.Itoa(i + 1)}},
		}
		if err := enc.EncodeToken(txnStart); err != nil {
			return nil, 0, fmt.Errorf("encode transaction: %w", err)
		}

		ordered := orderRecords(txn.Models)
		for seq, m := range ordered {
			if err := s.renderRecord(enc, m, i+1, seq+1, messageID); err != nil {
				return nil, 0, err
			}
			messageID++
			records++
		}

		if err := enc.EncodeToken(txnStart.End()); err != nil {
			return nil, 0, fmt.Errorf("encode transaction: %w", err)
		}
	}

	if err := enc.EncodeToken(envStart.End()); err != nil {
		return nil, 0, fmt.Errorf("encode envelope: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, 0, fmt.Errorf("flush envelope: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), records, nil
}

func (s *TaricSerializer) renderRecord(enc *xml.Encoder, m *models.TrackedModel, txnID, seq, messageID int) error {
	msgStart := xml.StartElement{
		Name: xml.Name{Local: "env:app.message"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "id"}, Value: strconv.Itoa(messageID)}},
	}
	transmissionStart := xml.StartElement{
		Name: xml.Name{Local: "oub:transmission"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns:oub"}, Value: messageNamespace}},
	}
	recordStart := xml.StartElement{Name: xml.Name{Local: "oub:record"}}

	for _, tok := range []xml.Token{msgStart, transmissionStart, recordStart} {
		if err := enc.EncodeToken(tok); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}

	fields := []struct{ name, value string }{
		{"oub:transaction.id", strconv.Itoa(txnID)},
		{"oub:record.code", m.Kind.RecordCode()},
		{"oub:subrecord.code", m.Kind.SubrecordCode()},
		{"oub:record.sequence.number", strconv.Itoa(seq)},
		{"oub:update.type", strconv.Itoa(int(m.UpdateType))},
	}
	for _, f := range fields {
		if err := encodeElement(enc, f.name, f.value); err != nil {
			return err
		}
	}

	kindStart := xml.StartElement{Name: xml.Name{Local: "oub:" + string(m.Kind)}}
	if err := enc.EncodeToken(kindStart); err != nil {
		return fmt.Errorf("encode record payload: %w", err)
	}
	if err := encodeElement(enc, "oub:"+string(m.Kind)+".sid", m.SID); err != nil {
		return err
	}
	if err := encodeElement(enc, "oub:validity.start.date", m.ValidBetween.Lower.Format(taricDateLayout)); err != nil {
		return err
	}
	if m.ValidBetween.Upper != nil {
		if err := encodeElement(enc, "oub:validity.end.date", m.ValidBetween.Upper.Format(taricDateLayout)); err != nil {
			return err
		}
	}
	if err := s.renderPayload(enc, m.Data); err != nil {
		return err
	}
	if err := enc.EncodeToken(kindStart.End()); err != nil {
		return fmt.Errorf("encode record payload: %w", err)
	}

	for _, tok := range []xml.Token{recordStart.End(), transmissionStart.End(), msgStart.End()} {
		if err := enc.EncodeToken(tok); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	return nil
}

// renderPayload maps the opaque JSON payload onto XML elements, one per
// top-level field, in stable key order.
func (s *TaricSerializer) renderPayload(enc *xml.Encoder, data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "record payload is not a JSON object")
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := encodeElement(enc, "oub:"+k, fmt.Sprint(payload[k])); err != nil {
			return err
		}
	}
	return nil
}

// orderRecords sorts a transaction's records by TARIC record then subrecord
// code, preserving input order within a code.
func orderRecords(in []*models.TrackedModel) []*models.TrackedModel {
	out := make([]*models.TrackedModel, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind.RecordCode() != out[j].Kind.RecordCode() {
			return out[i].Kind.RecordCode() < out[j].Kind.RecordCode()
		}
		return out[i].Kind.SubrecordCode() < out[j].Kind.SubrecordCode()
	})
	return out
}

func encodeElement(enc *xml.Encoder, name, value string) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := enc.EncodeElement(value, start); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return nil
}
