package models

import (
	dErrors "tariffpub/pkg/domain-errors"
)

// ProcessingState is the lifecycle of a packaged workbasket through external
// ingestion.
type ProcessingState string

const (
	// StateAwaitingProcessing is the initial queued state.
	StateAwaitingProcessing ProcessingState = "AWAITING_PROCESSING"
	// StateCurrentlyProcessing marks the single in-flight entry.
	StateCurrentlyProcessing   ProcessingState = "CURRENTLY_PROCESSING"
	StateSuccessfullyProcessed ProcessingState = "SUCCESSFULLY_PROCESSED"
	StateFailedProcessing      ProcessingState = "FAILED_PROCESSING"
	// StateAbandoned is terminal and only reachable before any processing
	// attempt.
	StateAbandoned ProcessingState = "ABANDONED"
)

// processingTransitions is the packaged workbasket state table. Guards that
// need queue context (position, other in-flight entries) live in the queue
// coordinator.
var processingTransitions = map[ProcessingState][]ProcessingState{
	StateAwaitingProcessing:  {StateCurrentlyProcessing, StateAbandoned},
	StateCurrentlyProcessing: {StateSuccessfullyProcessed, StateFailedProcessing},
}

// CanTransition reports whether the processing state change is legal.
func (s ProcessingState) CanTransition(to ProcessingState) bool {
	for _, t := range processingTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition returns the target state or a CodeInvalidState error.
func (s ProcessingState) Transition(to ProcessingState) (ProcessingState, error) {
	if !s.CanTransition(to) {
		return "", dErrors.Newf(dErrors.CodeInvalidState,
			"processing transition %s -> %s not allowed", s, to)
	}
	return to, nil
}

// ApiPublishingState is the lifecycle of a Crown Dependencies envelope.
type ApiPublishingState string

const (
	// StateCurrentlyPublishing is the initial state, set at creation.
	StateCurrentlyPublishing   ApiPublishingState = "CURRENTLY_PUBLISHING"
	StateSuccessfullyPublished ApiPublishingState = "SUCCESSFULLY_PUBLISHED"
	StateFailedPublishing      ApiPublishingState = "FAILED_PUBLISHING"
)

var publishingTransitions = map[ApiPublishingState][]ApiPublishingState{
	StateCurrentlyPublishing: {StateSuccessfullyPublished, StateFailedPublishing},
	// A failed publication is retried with the same envelope id.
	StateFailedPublishing: {StateCurrentlyPublishing, StateSuccessfullyPublished},
}

// Transition returns the target state or a CodeInvalidState error.
func (s ApiPublishingState) Transition(to ApiPublishingState) (ApiPublishingState, error) {
	for _, t := range publishingTransitions[s] {
		if t == to {
			return to, nil
		}
	}
	return "", dErrors.Newf(dErrors.CodeInvalidState,
		"publishing transition %s -> %s not allowed", s, to)
}
