package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffpub/internal/tracked/models"
	trackedstore "tariffpub/internal/tracked/store"
	wbmodels "tariffpub/internal/workbasket/models"
	wbstore "tariffpub/internal/workbasket/store"
	dErrors "tariffpub/pkg/domain-errors"
)

type fixture struct {
	svc     *Service
	tracked trackedstore.Store
	ledger  *wbstore.InMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := wbstore.NewInMemory()
	tracked := trackedstore.NewInMemory(ledger)
	svc, err := New(tracked, ledger)
	require.NoError(t, err)
	return &fixture{svc: svc, tracked: tracked, ledger: ledger}
}

// newBasket creates a workbasket with one draft transaction.
func (f *fixture) newBasket(t *testing.T) (*wbmodels.WorkBasket, *wbmodels.Transaction) {
	t.Helper()
	ctx := context.Background()
	wb := wbmodels.NewWorkBasket("test basket", "", "author", time.Now())
	require.NoError(t, f.ledger.Create(ctx, wb))
	txn := wbmodels.NewTransaction(wb.ID, 1, time.Now())
	require.NoError(t, f.ledger.CreateTransaction(ctx, txn))
	return wb, txn
}

func (f *fixture) approve(t *testing.T, workbasketID uuid.UUID) {
	t.Helper()
	require.NoError(t, f.ledger.UpdateStatus(context.Background(), workbasketID, wbmodels.StatusReadyForExport, nil))
}

func footnote(transactionID uuid.UUID, validFrom time.Time) *models.TrackedModel {
	return &models.TrackedModel{
		ID:            uuid.New(),
		Kind:          models.KindFootnote,
		SID:           "TN001",
		TransactionID: transactionID,
		UpdateType:    models.UpdateTypeCreate,
		ValidBetween:  models.DateRange{Lower: validFrom},
		Data:          json.RawMessage(`{"footnote_type_id":"TN","description":"test"}`),
	}
}

func TestSave_DraftIsNotCurrentUntilApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wb, txn := f.newBasket(t)

	m := footnote(txn.ID, time.Now())
	require.NoError(t, f.svc.Save(ctx, m, false))

	current, err := f.svc.Current(ctx)
	require.NoError(t, err)
	assert.Empty(t, current, "unapproved draft must not appear in the current view")

	f.approve(t, wb.ID)
	require.NoError(t, f.tracked.PromoteCurrentVersions(ctx, wb.ID))

	current, err = f.svc.Current(ctx)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, m.ID, current[0].ID)
}

func TestSave_ApprovedWriteBecomesCurrentImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wb, txn := f.newBasket(t)
	f.approve(t, wb.ID)

	m := footnote(txn.ID, time.Now())
	require.NoError(t, f.svc.Save(ctx, m, false))

	current, err := f.svc.Current(ctx)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, m.ID, current[0].ID)
}

func TestSave_IllegalSaveGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wb, txn := f.newBasket(t)

	m := footnote(txn.ID, time.Now())
	require.NoError(t, f.svc.Save(ctx, m, false))
	f.approve(t, wb.ID)

	err := f.svc.Save(ctx, m, false)
	require.ErrorIs(t, err, ErrIllegalSave)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))

	// force bypasses the guard for operational repair.
	assert.NoError(t, f.svc.Save(ctx, m, true))
}

func TestSave_InvalidIdentityRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, txn := f.newBasket(t)

	m := footnote(txn.ID, time.Now())
	m.SID = ""
	err := f.svc.Save(ctx, m, false)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest))
}

func TestSave_UpdateWithoutPredecessorRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, txn := f.newBasket(t)

	m := footnote(txn.ID, time.Now())
	m.UpdateType = models.UpdateTypeUpdate
	err := f.svc.Save(ctx, m, false)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
}

func TestNewDraft_OverlayAndPromotion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// First basket establishes the approved version.
	wb1, txn1 := f.newBasket(t)
	original := footnote(txn1.ID, time.Now())
	require.NoError(t, f.svc.Save(ctx, original, false))
	f.approve(t, wb1.ID)
	require.NoError(t, f.tracked.PromoteCurrentVersions(ctx, wb1.ID))

	// Second basket edits it.
	wb2, txn2 := f.newBasket(t)
	draft, err := f.svc.NewDraft(ctx, original.ID, txn2.ID)
	require.NoError(t, err)
	assert.Equal(t, original.VersionGroupID, draft.VersionGroupID)
	assert.Equal(t, models.UpdateTypeUpdate, draft.UpdateType)
	assert.NotEqual(t, original.ID, draft.ID)
	require.NoError(t, f.svc.Save(ctx, draft, false))

	// Plain current view still resolves to the approved version.
	current, err := f.svc.Current(ctx)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, original.ID, current[0].ID)

	// The overlay shows the basket its own draft.
	overlay, err := f.svc.WithWorkBasket(ctx, &wb2.ID)
	require.NoError(t, err)
	require.Len(t, overlay, 1)
	assert.Equal(t, draft.ID, overlay[0].ID)

	// Approval promotes the draft to current.
	f.approve(t, wb2.ID)
	require.NoError(t, f.tracked.PromoteCurrentVersions(ctx, wb2.ID))
	current, err = f.svc.Current(ctx)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, draft.ID, current[0].ID)
}

func TestNewDelete_RemovesFromCurrentView(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	wb1, txn1 := f.newBasket(t)
	original := footnote(txn1.ID, time.Now())
	require.NoError(t, f.svc.Save(ctx, original, false))
	f.approve(t, wb1.ID)
	require.NoError(t, f.tracked.PromoteCurrentVersions(ctx, wb1.ID))

	wb2, txn2 := f.newBasket(t)
	deletion, err := f.svc.NewDelete(ctx, original.ID, txn2.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Save(ctx, deletion, false))
	f.approve(t, wb2.ID)
	require.NoError(t, f.tracked.PromoteCurrentVersions(ctx, wb2.ID))

	current, err := f.svc.Current(ctx)
	require.NoError(t, err)
	assert.Empty(t, current, "deleted entity must not appear in the current view")

	// But the deletion stays in the version history.
	history, err := f.svc.VersionHistory(ctx, original.Identity())
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestAsAt_FiltersByValidity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wb, txn := f.newBasket(t)

	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC)
	m := footnote(txn.ID, start)
	m.ValidBetween.Upper = &end
	require.NoError(t, f.svc.Save(ctx, m, false))
	f.approve(t, wb.ID)
	require.NoError(t, f.tracked.PromoteCurrentVersions(ctx, wb.ID))

	inRange, err := f.svc.AsAt(ctx, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Len(t, inRange, 1)

	before, err := f.svc.AsAt(ctx, start.AddDate(0, -1, 0))
	require.NoError(t, err)
	assert.Empty(t, before)

	after, err := f.svc.AsAt(ctx, end.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Empty(t, after)
}
