package exporter

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffpub/internal/tracked/models"
	dErrors "tariffpub/pkg/domain-errors"
)

func record(kind models.RecordKind, sid string) *models.TrackedModel {
	return &models.TrackedModel{
		ID:           uuid.New(),
		Kind:         kind,
		SID:          sid,
		UpdateType:   models.UpdateTypeCreate,
		ValidBetween: models.DateRange{Lower: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)},
		Data:         json.RawMessage(`{"description":"test"}`),
	}
}

func transaction(order int, recs ...*models.TrackedModel) TransactionData {
	return TransactionData{ID: uuid.New(), Order: order, Models: recs}
}

func TestRender_StructureAndNumbering(t *testing.T) {
	s := NewTaricSerializer()
	txns := []TransactionData{
		transaction(1, record(models.KindFootnote, "TN001"), record(models.KindMeasure, "M1")),
		transaction(2, record(models.KindCertificate, "C1")),
	}

	out, err := s.Render("260001", txns, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	env := out[0]
	assert.Equal(t, "260001", env.EnvelopeID)
	assert.Equal(t, 3, env.RecordCount)
	assert.Equal(t, []uuid.UUID{txns[0].ID, txns[1].ID}, env.TransactionIDs)

	body := string(env.Body)
	assert.Contains(t, body, `<env:envelope xmlns:env="urn:publicid:-:DGTAXUD:GENERAL:ENVELOPE:1.0" id="260001">`)
	assert.Contains(t, body, `<oub:validity.start.date>2026-01-01</oub:validity.start.date>`)

	// Message ids number sequentially through the whole envelope.
	ids := regexp.MustCompile(`<env:app.message id="(\d+)">`).FindAllStringSubmatch(body, -1)
	require.Len(t, ids, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{ids[0][1], ids[1][1], ids[2][1]})

	// Transactions renumber from 1 regardless of their stored order values.
	txnIDs := regexp.MustCompile(`<env:transaction id="(\d+)">`).FindAllStringSubmatch(body, -1)
	require.Len(t, txnIDs, 2)
	assert.Equal(t, "1", txnIDs[0][1])
	assert.Equal(t, "2", txnIDs[1][1])
}

func TestRender_OrdersRecordsByCode(t *testing.T) {
	s := NewTaricSerializer()
	// Input order: measure (430), footnote (200), certificate (205).
	txns := []TransactionData{transaction(1,
		record(models.KindMeasure, "M1"),
		record(models.KindFootnote, "TN001"),
		record(models.KindCertificate, "C1"),
	)}

	out, err := s.Render("260001", txns, 0)
	require.NoError(t, err)
	body := string(out[0].Body)

	footnote := strings.Index(body, "<oub:footnote>")
	certificate := strings.Index(body, "<oub:certificate>")
	measure := strings.Index(body, "<oub:measure>")
	require.True(t, footnote >= 0 && certificate >= 0 && measure >= 0)
	assert.Less(t, footnote, certificate)
	assert.Less(t, certificate, measure)
}

func TestRender_PayloadFieldsInStableOrder(t *testing.T) {
	s := NewTaricSerializer()
	m := record(models.KindFootnote, "TN001")
	m.Data = json.RawMessage(`{"footnote_type_id":"TN","description":"winter measures"}`)

	out, err := s.Render("260001", []TransactionData{transaction(1, m)}, 0)
	require.NoError(t, err)
	body := string(out[0].Body)
	assert.Contains(t, body, "<oub:description>winter measures</oub:description>")
	assert.Less(t,
		strings.Index(body, "<oub:description>"),
		strings.Index(body, "<oub:footnote_type_id>"))
}

func TestRender_NoTransactions(t *testing.T) {
	s := NewTaricSerializer()
	_, err := s.Render("260001", nil, 0)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
}

func TestRender_SplitsWhenOverSize(t *testing.T) {
	s := NewTaricSerializer()
	txns := []TransactionData{
		transaction(1, record(models.KindFootnote, "TN001")),
		transaction(2, record(models.KindFootnote, "TN002")),
		transaction(3, record(models.KindFootnote, "TN003")),
	}

	// Measure one transaction so the bound admits two per part.
	single, err := s.Render("260001", txns[:1], 0)
	require.NoError(t, err)
	maxSize := 2*len(single[0].Body) + len(single[0].Body)/2

	out, err := s.Render("260001", txns, maxSize)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "260001", out[0].EnvelopeID)
	assert.Equal(t, "260002", out[1].EnvelopeID)
	assert.Len(t, out[0].TransactionIDs, 2)
	assert.Len(t, out[1].TransactionIDs, 1)
}

func TestRender_SingleTransactionOverSize(t *testing.T) {
	s := NewTaricSerializer()
	txns := []TransactionData{transaction(1, record(models.KindFootnote, "TN001"))}

	_, err := s.Render("260001", txns, 64)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
}

func TestValidate(t *testing.T) {
	s := NewTaricSerializer()
	v := NewTaricValidator()
	out, err := s.Render("260001", []TransactionData{
		transaction(1, record(models.KindFootnote, "TN001"), record(models.KindMeasure, "M1")),
	}, 0)
	require.NoError(t, err)
	body := out[0].Body

	assert.NoError(t, v.Validate(body, "260001", 1, 2))

	err = v.Validate(body, "260002", 1, 2)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))

	err = v.Validate(body, "260001", 2, 2)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))

	err = v.Validate(body, "260001", 1, 3)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))

	err = v.Validate([]byte("<env:envelope>"), "260001", 0, 0)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
}
