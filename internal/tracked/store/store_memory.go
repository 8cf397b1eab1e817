package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tariffpub/internal/tracked/models"
	wbmodels "tariffpub/internal/workbasket/models"
	"tariffpub/pkg/platform/sentinel"
)

// InMemory stores tracked models in memory for tests and dev mode.
type InMemory struct {
	mu     sync.RWMutex
	ledger Ledger

	versions map[uuid.UUID]*models.TrackedModel
	groups   map[uuid.UUID]*models.VersionGroup
	// insertion order of version IDs, used as a stable tiebreak.
	order []uuid.UUID
}

// NewInMemory constructs an empty in-memory tracked store backed by the given
// ledger for transaction and workbasket context.
func NewInMemory(ledger Ledger) *InMemory {
	return &InMemory{
		ledger:   ledger,
		versions: make(map[uuid.UUID]*models.TrackedModel),
		groups:   make(map[uuid.UUID]*models.VersionGroup),
	}
}

func (s *InMemory) Insert(_ context.Context, m *models.TrackedModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[m.ID]; ok {
		return fmt.Errorf("tracked model %s already exists: %w", m.ID, sentinel.ErrConflict)
	}
	if _, ok := s.groups[m.VersionGroupID]; !ok {
		return fmt.Errorf("version group %s: %w", m.VersionGroupID, sentinel.ErrNotFound)
	}
	cp := *m
	s.versions[m.ID] = &cp
	s.order = append(s.order, m.ID)
	return nil
}

func (s *InMemory) Get(_ context.Context, id uuid.UUID) (*models.TrackedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.versions[id]
	if !ok {
		return nil, fmt.Errorf("tracked model %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *InMemory) CreateVersionGroup(_ context.Context, g *models.VersionGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; ok {
		return fmt.Errorf("version group %s already exists: %w", g.ID, sentinel.ErrConflict)
	}
	cp := *g
	s.groups[g.ID] = &cp
	return nil
}

func (s *InMemory) VersionGroup(_ context.Context, id uuid.UUID) (*models.VersionGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("version group %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *g
	return &cp, nil
}

func (s *InMemory) SetCurrentVersion(_ context.Context, groupID, versionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("version group %s: %w", groupID, sentinel.ErrNotFound)
	}
	if _, ok := s.versions[versionID]; !ok {
		return fmt.Errorf("tracked model %s: %w", versionID, sentinel.ErrNotFound)
	}
	v := versionID
	g.CurrentVersionID = &v
	return nil
}

func (s *InMemory) Current(ctx context.Context) ([]*models.TrackedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentLocked()
}

func (s *InMemory) currentLocked() ([]*models.TrackedModel, error) {
	var out []*models.TrackedModel
	for _, id := range s.order {
		m := s.versions[id]
		g := s.groups[m.VersionGroupID]
		if g == nil || g.CurrentVersionID == nil || *g.CurrentVersionID != m.ID {
			continue
		}
		if m.UpdateType == models.UpdateTypeDelete {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemory) AsAt(ctx context.Context, at time.Time) ([]*models.TrackedModel, error) {
	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	out := current[:0]
	for _, m := range current {
		if m.ValidBetween.Contains(at) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemory) WithWorkBasket(ctx context.Context, workbasketID *uuid.UUID) ([]*models.TrackedModel, error) {
	s.mu.RLock()
	current, err := s.currentLocked()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if workbasketID == nil {
		return current, nil
	}

	overlay := make(map[models.Identity]*models.TrackedModel, len(current))
	var identities []models.Identity
	for _, m := range current {
		identity := m.Identity()
		overlay[identity] = m
		identities = append(identities, identity)
	}

	// Walk the workbasket's transactions in order. A later in-basket version
	// of the same identity supersedes an earlier one, so only the last write
	// per identity survives the overlay.
	basketModels, err := s.modelsForWorkBasketOrdered(ctx, *workbasketID)
	if err != nil {
		return nil, err
	}
	for _, m := range basketModels {
		identity := m.Identity()
		if _, seen := overlay[identity]; !seen {
			identities = append(identities, identity)
		}
		overlay[identity] = m
	}

	out := make([]*models.TrackedModel, 0, len(identities))
	for _, identity := range identities {
		m := overlay[identity]
		if m.UpdateType == models.UpdateTypeDelete {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *InMemory) VersionHistory(ctx context.Context, identity models.Identity) ([]*models.TrackedModel, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var matched []*models.TrackedModel
	for _, id := range s.order {
		m := s.versions[id]
		if m.Identity() == identity {
			cp := *m
			matched = append(matched, &cp)
		}
	}
	s.mu.RUnlock()
	return s.versionOrdered(ctx, matched)
}

func (s *InMemory) LatestApproved(ctx context.Context, identity models.Identity) (*models.TrackedModel, error) {
	history, err := s.VersionHistory(ctx, identity)
	if err != nil {
		return nil, err
	}
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		txn, err := s.ledger.TransactionByID(ctx, m.TransactionID)
		if err != nil {
			return nil, err
		}
		status, err := s.ledger.WorkBasketStatus(ctx, txn.WorkBasketID)
		if err != nil {
			return nil, err
		}
		if status.IsApproved() {
			return m, nil
		}
	}
	return nil, fmt.Errorf("no approved version of %s %s: %w", identity.Kind, identity.SID, sentinel.ErrNotFound)
}

func (s *InMemory) ModelsForTransaction(_ context.Context, transactionID uuid.UUID) ([]*models.TrackedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TrackedModel
	for _, id := range s.order {
		m := s.versions[id]
		if m.TransactionID == transactionID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemory) ModelsForWorkBasket(ctx context.Context, workbasketID uuid.UUID) ([]*models.TrackedModel, error) {
	return s.modelsForWorkBasketOrdered(ctx, workbasketID)
}

func (s *InMemory) PromoteCurrentVersions(ctx context.Context, workbasketID uuid.UUID) error {
	basketModels, err := s.modelsForWorkBasketOrdered(ctx, workbasketID)
	if err != nil {
		return err
	}
	for _, m := range basketModels {
		if err := s.SetCurrentVersion(ctx, m.VersionGroupID, m.ID); err != nil {
			return err
		}
	}
	return nil
}

// modelsForWorkBasketOrdered returns the workbasket's models in transaction
// order.
func (s *InMemory) modelsForWorkBasketOrdered(ctx context.Context, workbasketID uuid.UUID) ([]*models.TrackedModel, error) {
	txns, err := s.ledger.TransactionsForWorkBasket(ctx, workbasketID)
	if err != nil {
		return nil, err
	}
	sort.Slice(txns, func(i, j int) bool { return txns[i].Order < txns[j].Order })

	var out []*models.TrackedModel
	for _, txn := range txns {
		ms, err := s.ModelsForTransaction(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	return out, nil
}

// versionOrdered sorts versions by transaction partition then order, with
// insertion order as tiebreak.
func (s *InMemory) versionOrdered(ctx context.Context, ms []*models.TrackedModel) ([]*models.TrackedModel, error) {
	type keyed struct {
		m         *models.TrackedModel
		partition wbmodels.Partition
		order     int
		pos       int
	}
	pos := make(map[uuid.UUID]int, len(s.order))
	s.mu.RLock()
	for i, id := range s.order {
		pos[id] = i
	}
	s.mu.RUnlock()

	keyedModels := make([]keyed, 0, len(ms))
	for _, m := range ms {
		txn, err := s.ledger.TransactionByID(ctx, m.TransactionID)
		if err != nil {
			return nil, err
		}
		keyedModels = append(keyedModels, keyed{m: m, partition: txn.Partition, order: txn.Order, pos: pos[m.ID]})
	}
	sort.Slice(keyedModels, func(i, j int) bool {
		a, b := keyedModels[i], keyedModels[j]
		if a.partition != b.partition {
			// Revision history precedes draft edits.
			return a.partition == wbmodels.PartitionRevision
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.pos < b.pos
	})
	out := make([]*models.TrackedModel, len(keyedModels))
	for i, k := range keyedModels {
		out[i] = k.m
	}
	return out, nil
}
