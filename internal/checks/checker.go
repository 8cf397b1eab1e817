package checks

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	trackedmodels "tariffpub/internal/tracked/models"
	trackedstore "tariffpub/internal/tracked/store"
	wbmodels "tariffpub/internal/workbasket/models"
	dErrors "tariffpub/pkg/domain-errors"
)

// Snapshot is the workbasket content a rule run covers.
type Snapshot struct {
	WorkBasketID uuid.UUID
	Transactions []*wbmodels.Transaction
	Models       []*trackedmodels.TrackedModel
}

// Rule is one named business rule evaluated against a snapshot.
type Rule struct {
	Name  string
	Apply func(Snapshot) RuleOutcome
}

// RuleSet loads a workbasket snapshot and evaluates each rule against it. It
// implements Checker.
type RuleSet struct {
	ledger  trackedstore.Ledger
	tracked trackedstore.Store
	rules   []Rule
}

// NewRuleSet builds a checker over the given rules. With no rules given the
// default structural set applies.
func NewRuleSet(ledger trackedstore.Ledger, tracked trackedstore.Store, rules ...Rule) (*RuleSet, error) {
	if ledger == nil || tracked == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "ledger and tracked store are required")
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &RuleSet{ledger: ledger, tracked: tracked, rules: rules}, nil
}

// Check evaluates every rule against the workbasket's pending changes.
func (r *RuleSet) Check(ctx context.Context, workbasketID uuid.UUID) (Result, error) {
	txns, err := r.ledger.TransactionsForWorkBasket(ctx, workbasketID)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "load workbasket transactions")
	}
	models, err := r.tracked.ModelsForWorkBasket(ctx, workbasketID)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "load workbasket models")
	}
	snapshot := Snapshot{WorkBasketID: workbasketID, Transactions: txns, Models: models}

	var result Result
	for _, rule := range r.rules {
		outcome := rule.Apply(snapshot)
		outcome.Rule = rule.Name
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

// DefaultRules is the structural rule set every workbasket must pass before
// submission.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "workbasket-not-empty", Apply: ruleNotEmpty},
		{Name: "transactions-contiguous", Apply: ruleContiguousOrdering},
		{Name: "transactions-not-empty", Apply: ruleTransactionsNotEmpty},
		{Name: "record-identities-valid", Apply: ruleValidIdentities},
		{Name: "validity-ranges-ordered", Apply: ruleValidityRanges},
	}
}

func ruleNotEmpty(s Snapshot) RuleOutcome {
	if len(s.Transactions) == 0 {
		return RuleOutcome{Passed: false, Message: "workbasket has no transactions"}
	}
	return RuleOutcome{Passed: true}
}

func ruleContiguousOrdering(s Snapshot) RuleOutcome {
	for i, txn := range s.Transactions {
		if txn.Order != i+1 {
			return RuleOutcome{
				Passed:  false,
				Message: fmt.Sprintf("transaction %s has order %d, expected %d", txn.ID, txn.Order, i+1),
			}
		}
	}
	return RuleOutcome{Passed: true}
}

func ruleTransactionsNotEmpty(s Snapshot) RuleOutcome {
	populated := make(map[uuid.UUID]bool, len(s.Transactions))
	for _, m := range s.Models {
		populated[m.TransactionID] = true
	}
	for _, txn := range s.Transactions {
		if !populated[txn.ID] {
			return RuleOutcome{
				Passed:  false,
				Message: fmt.Sprintf("transaction %s carries no record changes", txn.ID),
			}
		}
	}
	return RuleOutcome{Passed: true}
}

func ruleValidIdentities(s Snapshot) RuleOutcome {
	for _, m := range s.Models {
		if err := m.Identity().Validate(); err != nil {
			return RuleOutcome{
				Passed:  false,
				Message: fmt.Sprintf("record %s: %v", m.ID, err),
			}
		}
	}
	return RuleOutcome{Passed: true}
}

func ruleValidityRanges(s Snapshot) RuleOutcome {
	for _, m := range s.Models {
		upper := m.ValidBetween.Upper
		if upper != nil && upper.Before(m.ValidBetween.Lower) {
			return RuleOutcome{
				Passed:  false,
				Message: fmt.Sprintf("record %s ends before it starts", m.ID),
			}
		}
	}
	return RuleOutcome{Passed: true}
}
