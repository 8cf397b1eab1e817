package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffpub/internal/blobstore"
	"tariffpub/internal/checks"
	"tariffpub/internal/exporter"
	"tariffpub/internal/platform/middleware"
	"tariffpub/internal/publishing/envelope"
	"tariffpub/internal/publishing/models"
	"tariffpub/internal/publishing/queue"
	pubstore "tariffpub/internal/publishing/store"
	trackedmodels "tariffpub/internal/tracked/models"
	trackedstore "tariffpub/internal/tracked/store"
	wbservice "tariffpub/internal/workbasket/service"
	wbstore "tariffpub/internal/workbasket/store"
	dErrors "tariffpub/pkg/domain-errors"
	"tariffpub/pkg/platform/tx"
)

type fixture struct {
	router    chi.Router
	baskets   *wbservice.Service
	tracked   trackedstore.Store
	envelopes *envelope.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := wbstore.NewInMemory()
	tracked := trackedstore.NewInMemory(ledger)
	checker, err := checks.NewRuleSet(ledger, tracked)
	require.NoError(t, err)
	baskets, err := wbservice.New(ledger, tracked, checker, checks.NewInMemoryRecorder(), tx.NoopRunner{})
	require.NoError(t, err)

	pubSt := pubstore.NewInMemory()
	coord, err := queue.New(pubSt, baskets, tx.NoopRunner{}, nil)
	require.NoError(t, err)
	envelopes, err := envelope.New(pubSt, ledger, tracked,
		exporter.NewTaricSerializer(), exporter.NewTaricValidator(),
		blobstore.NewMemory(), tx.NoopRunner{})
	require.NoError(t, err)

	r := chi.NewRouter()
	New(coord, envelopes, slog.Default()).Register(r)
	return &fixture{router: r, baskets: baskets, tracked: tracked, envelopes: envelopes}
}

// approvedBasket drives a workbasket through checks and approval so it can be
// queued.
func (f *fixture) approvedBasket(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	wb, err := f.baskets.Create(ctx, "queue test basket", "", "editor")
	require.NoError(t, err)
	txn, err := f.baskets.NewTransaction(ctx, wb.ID)
	require.NoError(t, err)

	group := trackedmodels.NewVersionGroup()
	require.NoError(t, f.tracked.CreateVersionGroup(ctx, group))
	m := &trackedmodels.TrackedModel{
		ID:             uuid.New(),
		Kind:           trackedmodels.KindFootnote,
		SID:            uuid.NewString()[:8],
		VersionGroupID: group.ID,
		TransactionID:  txn.ID,
		UpdateType:     trackedmodels.UpdateTypeCreate,
		ValidBetween:   trackedmodels.DateRange{Lower: time.Now()},
		Data:           json.RawMessage(`{"description":"test"}`),
	}
	require.NoError(t, f.tracked.Insert(ctx, m))

	_, err = f.baskets.RunChecks(ctx, wb.ID)
	require.NoError(t, err)
	_, err = f.baskets.SubmitForApproval(ctx, wb.ID)
	require.NoError(t, err)
	_, err = f.baskets.Approve(ctx, wb.ID, "senior-officer")
	require.NoError(t, err)
	return wb.ID
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	claims := &middleware.Claims{UserID: "operator"}
	req = req.WithContext(context.WithValue(req.Context(), middleware.ContextKeyClaims, claims))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) enqueue(t *testing.T) packagedResponse {
	t.Helper()
	wbID := f.approvedBasket(t)
	body := fmt.Sprintf(`{"workbasket_id":%q,"theme":"test","description":"release"}`, wbID)
	rec := f.do(t, http.MethodPost, "/queue", strings.NewReader(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created packagedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	return created
}

func TestHandleCreateAndList(t *testing.T) {
	f := newFixture(t)
	created := f.enqueue(t)
	assert.Equal(t, 1, created.Position)
	assert.Equal(t, string(models.StateAwaitingProcessing), created.State)
	assert.Equal(t, "test", created.Theme)

	rec := f.do(t, http.MethodGet, "/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []packagedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, created.ID, entries[0].ID)

	rec = f.do(t, http.MethodGet, "/queue/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCreate_Rejections(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/queue", strings.NewReader(`{"workbasket_id":"nope"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	wbID := f.approvedBasket(t)
	body := fmt.Sprintf(`{"workbasket_id":%q,"eif":"03/01/2026"}`, wbID)
	rec = f.do(t, http.MethodPost, "/queue", strings.NewReader(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// An unapproved workbasket cannot be queued.
	ctx := context.Background()
	wb, err := f.baskets.Create(ctx, "still editing", "", "editor")
	require.NoError(t, err)
	body = fmt.Sprintf(`{"workbasket_id":%q}`, wb.ID)
	rec = f.do(t, http.MethodPost, "/queue", strings.NewReader(body))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), string(dErrors.CodeInvalidState))
}

func TestQueueLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	head := f.enqueue(t)
	second := f.enqueue(t)

	// Only the head can start processing.
	rec := f.do(t, http.MethodPost, "/queue/"+second.ID+"/begin-processing", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/queue/"+head.ID+"/begin-processing", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var started packagedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, string(models.StateCurrentlyProcessing), started.State)
	assert.NotNil(t, started.ProcessingStartedAt)

	rec = f.do(t, http.MethodPost, "/queue/"+head.ID+"/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var done packagedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	assert.Equal(t, string(models.StateSuccessfullyProcessed), done.State)
}

func TestRepositionEndpoints(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t)
	f.enqueue(t)
	third := f.enqueue(t)

	rec := f.do(t, http.MethodPost, "/queue/"+third.ID+"/promote-top", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []packagedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, third.ID, entries[0].ID)

	rec = f.do(t, http.MethodPost, "/queue/"+third.ID+"/remove", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/queue", nil)
	entries = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)
}

func TestOperationalStatusEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/operational-status/packaging", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status operationalStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Paused)

	rec = f.do(t, http.MethodPost, "/operational-status/packaging/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/operational-status/packaging", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Paused)

	rec = f.do(t, http.MethodPost, "/operational-status/packaging/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/operational-status/packaging", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Paused)

	rec = f.do(t, http.MethodGet, "/operational-status/unknown", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDownloadEnvelope(t *testing.T) {
	f := newFixture(t)
	created := f.enqueue(t)

	id, err := uuid.Parse(created.ID)
	require.NoError(t, err)
	env, err := f.envelopes.UploadEnvelope(context.Background(), id)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/envelopes/"+env.ID.String()+"/file", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), env.FileName())
	assert.Contains(t, rec.Body.String(), "env:envelope")

	rec = f.do(t, http.MethodGet, "/envelopes/"+uuid.NewString()+"/file", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
