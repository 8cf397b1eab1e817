package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffpub/internal/checks"
	trackedmodels "tariffpub/internal/tracked/models"
	trackedstore "tariffpub/internal/tracked/store"
	"tariffpub/internal/workbasket/models"
	wbstore "tariffpub/internal/workbasket/store"
	dErrors "tariffpub/pkg/domain-errors"
	"tariffpub/pkg/platform/tx"
)

type fixture struct {
	svc     *Service
	tracked trackedstore.Store
	store   *wbstore.InMemory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := wbstore.NewInMemory()
	tracked := trackedstore.NewInMemory(st)
	checker, err := checks.NewRuleSet(st, tracked)
	require.NoError(t, err)
	svc, err := New(st, tracked, checker, checks.NewInMemoryRecorder(), tx.NoopRunner{})
	require.NoError(t, err)
	return &fixture{svc: svc, tracked: tracked, store: st}
}

// addRecord writes one CREATE row-version into the transaction so the
// structural checks pass.
func (f *fixture) addRecord(t *testing.T, transactionID uuid.UUID) *trackedmodels.TrackedModel {
	t.Helper()
	group := trackedmodels.NewVersionGroup()
	require.NoError(t, f.tracked.CreateVersionGroup(context.Background(), group))
	m := &trackedmodels.TrackedModel{
		ID:             uuid.New(),
		Kind:           trackedmodels.KindFootnote,
		SID:            uuid.NewString()[:8],
		VersionGroupID: group.ID,
		TransactionID:  transactionID,
		UpdateType:     trackedmodels.UpdateTypeCreate,
		ValidBetween:   trackedmodels.DateRange{Lower: time.Now()},
		Data:           json.RawMessage(`{"description":"test"}`),
	}
	require.NoError(t, f.tracked.Insert(context.Background(), m))
	return m
}

func TestWorkBasketLifecycle_DraftToApproved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	wb, err := f.svc.Create(ctx, "March footnote updates", "quarterly review", "editor")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNewInProgress, wb.Status)

	txn, err := f.svc.NewTransaction(ctx, wb.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, txn.Order)
	assert.Equal(t, models.PartitionDraft, txn.Partition)
	record := f.addRecord(t, txn.ID)

	result, err := f.svc.RunChecks(ctx, wb.ID)
	require.NoError(t, err)
	assert.Equal(t, checks.StatePassed, result.State)

	wb, err = f.svc.SubmitForApproval(ctx, wb.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingApproval, wb.Status)

	wb, err = f.svc.Approve(ctx, wb.ID, "senior-officer")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyForExport, wb.Status)
	require.NotNil(t, wb.Approver)
	assert.Equal(t, "senior-officer", *wb.Approver)

	// Approval promotes the row-version to current.
	current, err := f.tracked.Current(ctx)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, record.ID, current[0].ID)

	// And moves the transactions into the revision partition.
	txns, err := f.svc.Transactions(ctx, wb.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, models.PartitionRevision, txns[0].Partition)
}

func TestCreate_TitleRequired(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), "", "", "editor")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
}

func TestSubmitForApproval_RequiresTransactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wb, err := f.svc.Create(ctx, "empty basket", "", "editor")
	require.NoError(t, err)

	_, err = f.svc.SubmitForApproval(ctx, wb.ID)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
}

func TestSubmitForApproval_RequiresPassedChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wb, err := f.svc.Create(ctx, "unchecked basket", "", "editor")
	require.NoError(t, err)
	txn, err := f.svc.NewTransaction(ctx, wb.ID)
	require.NoError(t, err)
	f.addRecord(t, txn.ID)

	// Checks never ran.
	_, err = f.svc.SubmitForApproval(ctx, wb.ID)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))

	// An empty transaction fails the structural rules.
	_, err = f.svc.NewTransaction(ctx, wb.ID)
	require.NoError(t, err)
	result, err := f.svc.RunChecks(ctx, wb.ID)
	require.NoError(t, err)
	assert.Equal(t, checks.StateFailed, result.State)

	_, err = f.svc.SubmitForApproval(ctx, wb.ID)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
}

func TestNewTransaction_InvalidatesPassedChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wb, err := f.svc.Create(ctx, "invalidation", "", "editor")
	require.NoError(t, err)
	txn, err := f.svc.NewTransaction(ctx, wb.ID)
	require.NoError(t, err)
	f.addRecord(t, txn.ID)

	result, err := f.svc.RunChecks(ctx, wb.ID)
	require.NoError(t, err)
	require.Equal(t, checks.StatePassed, result.State)

	// Adding content discards the recorded result.
	txn2, err := f.svc.NewTransaction(ctx, wb.ID)
	require.NoError(t, err)
	f.addRecord(t, txn2.ID)

	_, err = f.svc.SubmitForApproval(ctx, wb.ID)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
}

func TestReorderTransactions_InvalidatesChecksAndValidatesPermutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wb, err := f.svc.Create(ctx, "reorder", "", "editor")
	require.NoError(t, err)
	txn1, err := f.svc.NewTransaction(ctx, wb.ID)
	require.NoError(t, err)
	f.addRecord(t, txn1.ID)
	txn2, err := f.svc.NewTransaction(ctx, wb.ID)
	require.NoError(t, err)
	f.addRecord(t, txn2.ID)

	_, err = f.svc.RunChecks(ctx, wb.ID)
	require.NoError(t, err)

	// Not a permutation of the basket's transactions.
	err = f.svc.ReorderTransactions(ctx, wb.ID, []uuid.UUID{txn1.ID, uuid.New()})
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))

	require.NoError(t, f.svc.ReorderTransactions(ctx, wb.ID, []uuid.UUID{txn2.ID, txn1.ID}))
	txns, err := f.svc.Transactions(ctx, wb.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, txn2.ID, txns[0].ID)
	assert.Equal(t, txn1.ID, txns[1].ID)

	// The reorder discarded the passed check.
	_, err = f.svc.SubmitForApproval(ctx, wb.ID)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
}

func TestNewTransaction_RejectedOnceSubmitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wb := f.submittedBasket(t)

	_, err := f.svc.NewTransaction(ctx, wb.ID)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
}

func TestApprove_RequiresApprover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wb := f.submittedBasket(t)

	_, err := f.svc.Approve(ctx, wb.ID, "")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
}

func TestRejectAndWithdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wb := f.submittedBasket(t)

	rejected, err := f.svc.Reject(ctx, wb.ID, "senior-officer")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApprovalRejected, rejected.Status)

	withdrawn, err := f.svc.Withdraw(ctx, wb.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEditing, withdrawn.Status)
}

func TestTransition_ApproverEventsNeedActor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wb := f.submittedBasket(t)

	_, err := f.svc.Transition(ctx, wb.ID, models.EventApprove, "")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeForbidden))
}

// submittedBasket builds a basket ready for the approval decision.
func (f *fixture) submittedBasket(t *testing.T) *models.WorkBasket {
	t.Helper()
	ctx := context.Background()
	wb, err := f.svc.Create(ctx, "submitted basket", "", "editor")
	require.NoError(t, err)
	txn, err := f.svc.NewTransaction(ctx, wb.ID)
	require.NoError(t, err)
	f.addRecord(t, txn.ID)
	_, err = f.svc.RunChecks(ctx, wb.ID)
	require.NoError(t, err)
	wb, err = f.svc.SubmitForApproval(ctx, wb.ID)
	require.NoError(t, err)
	return wb
}
