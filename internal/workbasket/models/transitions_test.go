package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "tariffpub/pkg/domain-errors"
)

func TestApply_FullLifecycle(t *testing.T) {
	status := StatusNewInProgress

	steps := []struct {
		event Event
		want  Status
	}{
		{EventSubmitForApproval, StatusAwaitingApproval},
		{EventApprove, StatusReadyForExport},
		{EventQueue, StatusQueued},
		{EventExportToCDS, StatusSentToCDS},
		{EventCDSConfirmed, StatusPublished},
	}
	for _, step := range steps {
		next, err := Apply(status, step.event)
		require.NoError(t, err, "event %s from %s", step.event, status)
		assert.Equal(t, step.want, next)
		status = next
	}
}

func TestApply_RejectedBasketReturnsToEditingOnWithdraw(t *testing.T) {
	status, err := Apply(StatusAwaitingApproval, EventReject)
	require.NoError(t, err)
	assert.Equal(t, StatusApprovalRejected, status)

	status, err = Apply(status, EventWithdraw)
	require.NoError(t, err)
	assert.Equal(t, StatusEditing, status)
}

func TestApply_CDSErrorIsRecoverable(t *testing.T) {
	status, err := Apply(StatusSentToCDS, EventCDSError)
	require.NoError(t, err)
	assert.Equal(t, StatusCDSError, status)

	status, err = Apply(status, EventWithdraw)
	require.NoError(t, err)
	assert.Equal(t, StatusEditing, status)
}

func TestApply_IllegalTransition(t *testing.T) {
	_, err := Apply(StatusPublished, EventSubmitForApproval)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
}

func TestApply_UnknownEvent(t *testing.T) {
	_, err := Apply(StatusEditing, Event("explode"))
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest))
}

func TestApply_ArchiveOnlyFromUnchecked(t *testing.T) {
	for _, src := range []Status{StatusNewInProgress, StatusEditing} {
		status, err := Apply(src, EventArchive)
		require.NoError(t, err)
		assert.Equal(t, StatusArchived, status)
	}
	_, err := Apply(StatusQueued, EventArchive)
	assert.Error(t, err)
}

func TestRequiresApprover(t *testing.T) {
	assert.True(t, RequiresApprover(EventApprove))
	assert.True(t, RequiresApprover(EventReject))
	assert.False(t, RequiresApprover(EventSubmitForApproval))
	assert.False(t, RequiresApprover(EventQueue))
}

func TestStatusSets(t *testing.T) {
	assert.True(t, StatusQueued.IsApproved())
	assert.True(t, StatusPublished.IsApproved())
	assert.False(t, StatusEditing.IsApproved())

	assert.True(t, StatusEditing.IsUnchecked())
	assert.False(t, StatusReadyForExport.IsUnchecked())
}
