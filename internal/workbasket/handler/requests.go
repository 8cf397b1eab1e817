package handler

import (
	"time"

	"github.com/google/uuid"

	"tariffpub/internal/checks"
	"tariffpub/internal/workbasket/models"
	dErrors "tariffpub/pkg/domain-errors"
)

type createRequest struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

type reorderRequest struct {
	TransactionIDs []string `json:"transaction_ids"`
}

func (r reorderRequest) parsedIDs() ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(r.TransactionIDs))
	for _, s := range r.TransactionIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, dErrors.Newf(dErrors.CodeBadRequest, "invalid transaction id %q", s)
		}
		out = append(out, id)
	}
	return out, nil
}

type workBasketResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Reason    string    `json:"reason"`
	Author    string    `json:"author"`
	Approver  *string   `json:"approver,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func fromWorkBasket(wb *models.WorkBasket) workBasketResponse {
	return workBasketResponse{
		ID:        wb.ID.String(),
		Title:     wb.Title,
		Reason:    wb.Reason,
		Author:    wb.Author,
		Approver:  wb.Approver,
		Status:    string(wb.Status),
		CreatedAt: wb.CreatedAt,
		UpdatedAt: wb.UpdatedAt,
	}
}

type transactionResponse struct {
	ID           string    `json:"id"`
	WorkBasketID string    `json:"workbasket_id"`
	Order        int       `json:"order"`
	Partition    int       `json:"partition"`
	CreatedAt    time.Time `json:"created_at"`
}

func fromTransaction(txn *models.Transaction) transactionResponse {
	return transactionResponse{
		ID:           txn.ID.String(),
		WorkBasketID: txn.WorkBasketID.String(),
		Order:        txn.Order,
		Partition:    int(txn.Partition),
		CreatedAt:    txn.CreatedAt,
	}
}

type ruleOutcomeResponse struct {
	Rule    string `json:"rule"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

type checkResultResponse struct {
	WorkBasketID string                `json:"workbasket_id"`
	State        string                `json:"state"`
	CheckedAt    time.Time             `json:"checked_at"`
	Outcomes     []ruleOutcomeResponse `json:"outcomes"`
}

func fromCheckResult(result *checks.CheckResult) checkResultResponse {
	outcomes := make([]ruleOutcomeResponse, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		outcomes = append(outcomes, ruleOutcomeResponse{Rule: o.Rule, Passed: o.Passed, Message: o.Message})
	}
	return checkResultResponse{
		WorkBasketID: result.WorkBasketID.String(),
		State:        string(result.State),
		CheckedAt:    result.CheckedAt,
		Outcomes:     outcomes,
	}
}
