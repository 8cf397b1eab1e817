package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffpub/internal/tracked/models"
	"tariffpub/internal/tracked/service"
	trackedstore "tariffpub/internal/tracked/store"
	wbmodels "tariffpub/internal/workbasket/models"
	wbstore "tariffpub/internal/workbasket/store"
	dErrors "tariffpub/pkg/domain-errors"
)

type fixture struct {
	router  chi.Router
	svc     *service.Service
	tracked trackedstore.Store
	ledger  *wbstore.InMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := wbstore.NewInMemory()
	tracked := trackedstore.NewInMemory(ledger)
	svc, err := service.New(tracked, ledger)
	require.NoError(t, err)

	r := chi.NewRouter()
	New(svc, slog.Default()).Register(r)
	return &fixture{router: r, svc: svc, tracked: tracked, ledger: ledger}
}

// approvedFootnote writes one approved footnote version and returns it.
func (f *fixture) approvedFootnote(t *testing.T, sid string, validFrom time.Time) *models.TrackedModel {
	t.Helper()
	ctx := context.Background()
	wb := wbmodels.NewWorkBasket("record basket", "", "author", time.Now())
	require.NoError(t, f.ledger.Create(ctx, wb))
	txn := wbmodels.NewTransaction(wb.ID, 1, time.Now())
	require.NoError(t, f.ledger.CreateTransaction(ctx, txn))

	m := &models.TrackedModel{
		ID:            uuid.New(),
		Kind:          models.KindFootnote,
		SID:           sid,
		TransactionID: txn.ID,
		UpdateType:    models.UpdateTypeCreate,
		ValidBetween:  models.DateRange{Lower: validFrom},
		Data:          json.RawMessage(`{"description":"test"}`),
	}
	require.NoError(t, f.svc.Save(ctx, m, false))
	require.NoError(t, f.ledger.UpdateStatus(ctx, wb.ID, wbmodels.StatusReadyForExport, nil))
	require.NoError(t, f.tracked.PromoteCurrentVersions(ctx, wb.ID))
	return m
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleCurrent(t *testing.T) {
	f := newFixture(t)
	m := f.approvedFootnote(t, "TN001", time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))

	rec := f.get(t, "/records")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []recordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, m.ID.String(), records[0].ID)
	assert.Equal(t, "footnote", records[0].Kind)
	assert.Equal(t, "TN001", records[0].SID)
	assert.Equal(t, "CREATE", records[0].UpdateType)
}

func TestHandleCurrent_AsAt(t *testing.T) {
	f := newFixture(t)
	f.approvedFootnote(t, "TN001", time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC))

	rec := f.get(t, "/records?as_at=2026-07-01")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []recordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 1)

	rec = f.get(t, "/records?as_at=2026-01-01")
	require.Equal(t, http.StatusOK, rec.Code)
	records = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Empty(t, records)

	rec = f.get(t, "/records?as_at=January")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCurrent_WorkBasketOverlay(t *testing.T) {
	f := newFixture(t)
	original := f.approvedFootnote(t, "TN001", time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))

	// A second basket drafts an edit that only its own overlay sees.
	ctx := context.Background()
	wb := wbmodels.NewWorkBasket("editing basket", "", "author", time.Now())
	require.NoError(t, f.ledger.Create(ctx, wb))
	txn := wbmodels.NewTransaction(wb.ID, 1, time.Now())
	require.NoError(t, f.ledger.CreateTransaction(ctx, txn))
	draft, err := f.svc.NewDraft(ctx, original.ID, txn.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Save(ctx, draft, false))

	rec := f.get(t, "/records?workbasket_id="+wb.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var records []recordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, draft.ID.String(), records[0].ID)

	rec = f.get(t, "/records")
	records = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, original.ID.String(), records[0].ID)

	rec = f.get(t, "/records?workbasket_id=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleVersionHistory(t *testing.T) {
	f := newFixture(t)
	f.approvedFootnote(t, "TN001", time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))

	rec := f.get(t, "/records/footnote/TN001/versions")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []recordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 1)

	rec = f.get(t, "/records/satellite/TN001/versions")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(dErrors.CodeBadRequest))
}
