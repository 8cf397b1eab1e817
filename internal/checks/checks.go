// Package checks defines the business-rule check gate consumed by the
// workbasket workflow and the packaging queue.
//
// The rule implementations themselves are external; this package only records
// aggregate outcomes and ties them to the transaction ordering they covered,
// so a reorder invalidates a previously passed check.
package checks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// RuleOutcome is the result of one business rule against a workbasket.
type RuleOutcome struct {
	Rule    string
	Passed  bool
	Message string
}

// Result is the aggregate outcome of a check run.
type Result struct {
	Outcomes []RuleOutcome
}

// Passed reports whether every rule passed.
func (r Result) Passed() bool {
	for _, o := range r.Outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

// Checker runs the business rules against a workbasket's pending changes.
type Checker interface {
	Check(ctx context.Context, workbasketID uuid.UUID) (Result, error)
}

// State is the recorded aggregate state of a workbasket's checks.
type State string

const (
	StatePending State = "PENDING"
	StatePassed  State = "PASSED"
	StateFailed  State = "FAILED"
)

// CheckResult records the latest check run for a workbasket.
type CheckResult struct {
	WorkBasketID uuid.UUID
	State        State
	// Fingerprint identifies the transaction ordering the run covered.
	Fingerprint string
	CheckedAt   time.Time
	Outcomes    []RuleOutcome
}

// Recorder persists check results.
type Recorder interface {
	Record(ctx context.Context, result CheckResult) error
	Latest(ctx context.Context, workbasketID uuid.UUID) (*CheckResult, error)
	// Invalidate discards any recorded result, forcing a re-run before the
	// basket can progress.
	Invalidate(ctx context.Context, workbasketID uuid.UUID) error
}

// Fingerprint derives a stable fingerprint from an ordered transaction ID
// list.
func Fingerprint(orderedTransactionIDs []uuid.UUID) string {
	h := sha256.New()
	for _, id := range orderedTransactionIDs {
		h.Write(id[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
