package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkBasket groups tariff edits which will be applied at the same time.
//
// Status is controlled by the workflow state table in transitions.go; all
// writes go through the workbasket service so the table is never bypassed.
type WorkBasket struct {
	ID        uuid.UUID
	Title     string
	Reason    string
	Author    string
	Approver  *string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewWorkBasket creates a workbasket in its initial state.
func NewWorkBasket(title, reason, author string, now time.Time) *WorkBasket {
	return &WorkBasket{
		ID:        uuid.New(),
		Title:     title,
		Reason:    reason,
		Author:    author,
		Status:    StatusNewInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Partition separates draft transactions from the immutable revision history.
type Partition int

const (
	// PartitionDraft holds transactions of workbaskets still being edited.
	PartitionDraft Partition = 1
	// PartitionRevision holds transactions of approved workbaskets. Revision
	// transactions sort before draft ones in version ordering.
	PartitionRevision Partition = 2
)

// Transaction is an ordered, atomic group of row-version writes within a
// workbasket; the unit of replay ordering and envelope message numbering.
type Transaction struct {
	ID           uuid.UUID
	WorkBasketID uuid.UUID
	Order        int
	Partition    Partition
	CreatedAt    time.Time
}

// NewTransaction creates a draft transaction at the given order.
func NewTransaction(workbasketID uuid.UUID, order int, now time.Time) *Transaction {
	return &Transaction{
		ID:           uuid.New(),
		WorkBasketID: workbasketID,
		Order:        order,
		Partition:    PartitionDraft,
		CreatedAt:    now,
	}
}
