package checks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tariffpub/pkg/platform/sentinel"
)

// InMemoryRecorder stores check results in memory for tests and dev mode.
type InMemoryRecorder struct {
	mu      sync.RWMutex
	results map[uuid.UUID]*CheckResult
}

// NewInMemoryRecorder constructs an empty in-memory check recorder.
func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{results: make(map[uuid.UUID]*CheckResult)}
}

func (r *InMemoryRecorder) Record(_ context.Context, result CheckResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := result
	r.results[result.WorkBasketID] = &cp
	return nil
}

func (r *InMemoryRecorder) Latest(_ context.Context, workbasketID uuid.UUID) (*CheckResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.results[workbasketID]
	if !ok {
		return nil, fmt.Errorf("no check result for workbasket %s: %w", workbasketID, sentinel.ErrNotFound)
	}
	cp := *result
	return &cp, nil
}

func (r *InMemoryRecorder) Invalidate(_ context.Context, workbasketID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.results, workbasketID)
	return nil
}

// PassAllChecker is a Checker that passes everything. Used in dev wiring and
// tests that are not exercising rule failures.
type PassAllChecker struct{}

func (PassAllChecker) Check(_ context.Context, _ uuid.UUID) (Result, error) {
	return Result{Outcomes: []RuleOutcome{{Rule: "always", Passed: true}}}, nil
}
