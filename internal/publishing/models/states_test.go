package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "tariffpub/pkg/domain-errors"
)

func TestProcessingState_Transitions(t *testing.T) {
	legal := []struct {
		from, to ProcessingState
	}{
		{StateAwaitingProcessing, StateCurrentlyProcessing},
		{StateAwaitingProcessing, StateAbandoned},
		{StateCurrentlyProcessing, StateSuccessfullyProcessed},
		{StateCurrentlyProcessing, StateFailedProcessing},
	}
	for _, tt := range legal {
		got, err := tt.from.Transition(tt.to)
		require.NoError(t, err, "%s -> %s", tt.from, tt.to)
		assert.Equal(t, tt.to, got)
	}

	illegal := []struct {
		from, to ProcessingState
	}{
		{StateCurrentlyProcessing, StateAbandoned},
		{StateSuccessfullyProcessed, StateCurrentlyProcessing},
		{StateFailedProcessing, StateAwaitingProcessing},
		{StateAbandoned, StateCurrentlyProcessing},
		{StateAwaitingProcessing, StateSuccessfullyProcessed},
	}
	for _, tt := range illegal {
		_, err := tt.from.Transition(tt.to)
		require.Error(t, err, "%s -> %s", tt.from, tt.to)
		assert.True(t, dErrors.Is(err, dErrors.CodeInvalidState))
	}
}

func TestApiPublishingState_FailedIsRetryable(t *testing.T) {
	got, err := StateFailedPublishing.Transition(StateCurrentlyPublishing)
	require.NoError(t, err)
	assert.Equal(t, StateCurrentlyPublishing, got)

	got, err = StateFailedPublishing.Transition(StateSuccessfullyPublished)
	require.NoError(t, err)
	assert.Equal(t, StateSuccessfullyPublished, got)

	_, err = StateSuccessfullyPublished.Transition(StateCurrentlyPublishing)
	assert.Error(t, err)
}

func TestNewCrownDependenciesEnvelope_RequiresProcessedEntry(t *testing.T) {
	now := time.Now()
	pwb := NewPackagedWorkBasket(uuid.New(), 1, ReleaseMetadata{}, now)

	_, err := NewCrownDependenciesEnvelope(pwb, now)
	require.ErrorIs(t, err, ErrInvalidWorkBasketStatus)

	pwb.State = StateSuccessfullyProcessed
	crown, err := NewCrownDependenciesEnvelope(pwb, now)
	require.NoError(t, err)
	assert.Equal(t, StateCurrentlyPublishing, crown.State)
	assert.Equal(t, pwb.ID, crown.PackagedWorkBasketID)
}

func TestEnvelopeFileName(t *testing.T) {
	e := NewEnvelope("260001", time.Now())
	assert.Equal(t, "DIT260001.xml", e.FileName())
}
