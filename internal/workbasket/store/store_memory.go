package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tariffpub/internal/workbasket/models"
	"tariffpub/pkg/platform/sentinel"
)

// InMemory stores workbaskets and transactions in memory for tests and dev
// mode.
type InMemory struct {
	mu           sync.RWMutex
	workbaskets  map[uuid.UUID]*models.WorkBasket
	transactions map[uuid.UUID]*models.Transaction
}

// NewInMemory constructs an empty in-memory workbasket store.
func NewInMemory() *InMemory {
	return &InMemory{
		workbaskets:  make(map[uuid.UUID]*models.WorkBasket),
		transactions: make(map[uuid.UUID]*models.Transaction),
	}
}

func (s *InMemory) Create(_ context.Context, wb *models.WorkBasket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workbaskets[wb.ID]; ok {
		return fmt.Errorf("workbasket %s already exists: %w", wb.ID, sentinel.ErrConflict)
	}
	cp := *wb
	s.workbaskets[wb.ID] = &cp
	return nil
}

func (s *InMemory) Get(_ context.Context, id uuid.UUID) (*models.WorkBasket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wb, ok := s.workbaskets[id]
	if !ok {
		return nil, fmt.Errorf("workbasket %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *wb
	return &cp, nil
}

func (s *InMemory) List(_ context.Context, statuses ...models.Status) ([]*models.WorkBasket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkBasket
	for _, wb := range s.workbaskets {
		if len(statuses) > 0 && !statusIn(wb.Status, statuses) {
			continue
		}
		cp := *wb
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) UpdateStatus(_ context.Context, id uuid.UUID, status models.Status, approver *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wb, ok := s.workbaskets[id]
	if !ok {
		return fmt.Errorf("workbasket %s: %w", id, sentinel.ErrNotFound)
	}
	wb.Status = status
	if approver != nil {
		wb.Approver = approver
	}
	wb.UpdatedAt = time.Now()
	return nil
}

func (s *InMemory) CreateTransaction(_ context.Context, txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[txn.ID]; ok {
		return fmt.Errorf("transaction %s already exists: %w", txn.ID, sentinel.ErrConflict)
	}
	if _, ok := s.workbaskets[txn.WorkBasketID]; !ok {
		return fmt.Errorf("workbasket %s: %w", txn.WorkBasketID, sentinel.ErrNotFound)
	}
	cp := *txn
	s.transactions[txn.ID] = &cp
	return nil
}

func (s *InMemory) TransactionByID(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *txn
	return &cp, nil
}

func (s *InMemory) TransactionsForWorkBasket(_ context.Context, workbasketID uuid.UUID) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Transaction
	for _, txn := range s.transactions {
		if txn.WorkBasketID == workbasketID {
			cp := *txn
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *InMemory) CountTransactions(ctx context.Context, workbasketID uuid.UUID) (int, error) {
	txns, err := s.TransactionsForWorkBasket(ctx, workbasketID)
	if err != nil {
		return 0, err
	}
	return len(txns), nil
}

func (s *InMemory) UpdateTransactionOrders(_ context.Context, txns []*models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txn := range txns {
		stored, ok := s.transactions[txn.ID]
		if !ok {
			return fmt.Errorf("transaction %s: %w", txn.ID, sentinel.ErrNotFound)
		}
		stored.Order = txn.Order
	}
	return nil
}

func (s *InMemory) MoveToRevisionPartition(_ context.Context, workbasketID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txn := range s.transactions {
		if txn.WorkBasketID == workbasketID {
			txn.Partition = models.PartitionRevision
		}
	}
	return nil
}

func (s *InMemory) WorkBasketStatus(_ context.Context, id uuid.UUID) (models.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wb, ok := s.workbaskets[id]
	if !ok {
		return "", fmt.Errorf("workbasket %s: %w", id, sentinel.ErrNotFound)
	}
	return wb.Status, nil
}

func statusIn(status models.Status, statuses []models.Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
