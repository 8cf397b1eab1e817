package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tariffpub/internal/publishing/models"
	"tariffpub/pkg/platform/sentinel"
)

// InMemory holds the publishing state in memory for tests and dev mode. The
// queue coordinator serializes mutations; the store mutex only protects the
// maps themselves.
type InMemory struct {
	mu        sync.RWMutex
	packaged  map[uuid.UUID]*models.PackagedWorkBasket
	envelopes map[uuid.UUID]*models.Envelope
	crown     map[uuid.UUID]*models.CrownDependenciesEnvelope
	opLog     []*models.OperationalStatus
	nextOpID  int64
}

// NewInMemory constructs an empty in-memory publishing store.
func NewInMemory() *InMemory {
	return &InMemory{
		packaged:  make(map[uuid.UUID]*models.PackagedWorkBasket),
		envelopes: make(map[uuid.UUID]*models.Envelope),
		crown:     make(map[uuid.UUID]*models.CrownDependenciesEnvelope),
		nextOpID:  1,
	}
}

func (s *InMemory) LockQueue(context.Context) error { return nil }

func (s *InMemory) CreatePackaged(_ context.Context, pwb *models.PackagedWorkBasket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packaged[pwb.ID]; ok {
		return fmt.Errorf("packaged workbasket %s already exists: %w", pwb.ID, sentinel.ErrConflict)
	}
	cp := *pwb
	s.packaged[pwb.ID] = &cp
	return nil
}

func (s *InMemory) GetPackaged(_ context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pwb, ok := s.packaged[id]
	if !ok {
		return nil, fmt.Errorf("packaged workbasket %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *pwb
	return &cp, nil
}

func (s *InMemory) GetPackagedForUpdate(ctx context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error) {
	return s.GetPackaged(ctx, id)
}

func (s *InMemory) UpdatePackaged(_ context.Context, pwb *models.PackagedWorkBasket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packaged[pwb.ID]; !ok {
		return fmt.Errorf("packaged workbasket %s: %w", pwb.ID, sentinel.ErrNotFound)
	}
	cp := *pwb
	cp.UpdatedAt = time.Now()
	s.packaged[pwb.ID] = &cp
	return nil
}

func (s *InMemory) ActiveEntryForWorkBasket(_ context.Context, workbasketID uuid.UUID) (*models.PackagedWorkBasket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pwb := range s.packaged {
		if pwb.WorkBasketID != workbasketID {
			continue
		}
		if pwb.State == models.StateAwaitingProcessing || pwb.State == models.StateCurrentlyProcessing {
			cp := *pwb
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no active entry for workbasket %s: %w", workbasketID, sentinel.ErrNotFound)
}

func (s *InMemory) ListAwaiting(_ context.Context) ([]*models.PackagedWorkBasket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PackagedWorkBasket
	for _, pwb := range s.packaged {
		if pwb.State == models.StateAwaitingProcessing {
			cp := *pwb
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *InMemory) CurrentlyProcessing(_ context.Context) (*models.PackagedWorkBasket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pwb := range s.packaged {
		if pwb.State == models.StateCurrentlyProcessing {
			cp := *pwb
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("nothing currently processing: %w", sentinel.ErrNotFound)
}

func (s *InMemory) MaxPosition(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, pwb := range s.packaged {
		if pwb.State == models.StateAwaitingProcessing && pwb.Position > max {
			max = pwb.Position
		}
	}
	return max, nil
}

func (s *InMemory) DecrementPositionsAbove(_ context.Context, pos int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pwb := range s.packaged {
		if pwb.State == models.StateAwaitingProcessing && pwb.Position > pos {
			pwb.Position--
		}
	}
	return nil
}

func (s *InMemory) CreateEnvelope(_ context.Context, e *models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.envelopes[e.ID]; ok {
		return fmt.Errorf("envelope %s already exists: %w", e.ID, sentinel.ErrConflict)
	}
	cp := *e
	s.envelopes[e.ID] = &cp
	return nil
}

func (s *InMemory) GetEnvelope(_ context.Context, id uuid.UUID) (*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.envelopes[id]
	if !ok {
		return nil, fmt.Errorf("envelope %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *InMemory) UpdateEnvelope(_ context.Context, e *models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.envelopes[e.ID]; !ok {
		return fmt.Errorf("envelope %s: %w", e.ID, sentinel.ErrNotFound)
	}
	cp := *e
	s.envelopes[e.ID] = &cp
	return nil
}

func (s *InMemory) LatestEnvelopeIDForYear(_ context.Context, year int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := fmt.Sprintf("%02d", year%100)
	latest := ""
	for _, pwb := range s.packaged {
		if pwb.State != models.StateSuccessfullyProcessed || pwb.EnvelopeID == nil {
			continue
		}
		e, ok := s.envelopes[*pwb.EnvelopeID]
		if !ok || e.Deleted {
			continue
		}
		if len(e.EnvelopeID) == 6 && e.EnvelopeID[:2] == prefix && e.EnvelopeID > latest {
			latest = e.EnvelopeID
		}
	}
	return latest, nil
}

func (s *InMemory) CreateCrownEnvelope(_ context.Context, c *models.CrownDependenciesEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.crown[c.ID]; ok {
		return fmt.Errorf("crown dependencies envelope %s already exists: %w", c.ID, sentinel.ErrConflict)
	}
	cp := *c
	s.crown[c.ID] = &cp

	if pwb, ok := s.packaged[c.PackagedWorkBasketID]; ok {
		id := c.ID
		pwb.CrownDependenciesEnvelopeID = &id
	}
	return nil
}

func (s *InMemory) GetCrownEnvelope(_ context.Context, id uuid.UUID) (*models.CrownDependenciesEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.crown[id]
	if !ok {
		return nil, fmt.Errorf("crown dependencies envelope %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *InMemory) UpdateCrownEnvelope(_ context.Context, c *models.CrownDependenciesEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.crown[c.ID]; !ok {
		return fmt.Errorf("crown dependencies envelope %s: %w", c.ID, sentinel.ErrNotFound)
	}
	cp := *c
	s.crown[c.ID] = &cp
	return nil
}

func (s *InMemory) ListCurrentlyPublishing(_ context.Context) ([]*models.CrownDependenciesEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CrownDependenciesEnvelope
	for _, c := range s.crown {
		if c.State == models.StateCurrentlyPublishing {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) UnpublishedProcessed(_ context.Context) ([]*models.PackagedWorkBasket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PackagedWorkBasket
	for _, pwb := range s.packaged {
		if pwb.State != models.StateSuccessfullyProcessed || pwb.EnvelopeID == nil {
			continue
		}
		if pwb.CrownDependenciesEnvelopeID != nil {
			c, ok := s.crown[*pwb.CrownDependenciesEnvelopeID]
			if ok && c.State != models.StateFailedPublishing {
				continue
			}
		}
		cp := *pwb
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.envelopeIDLocked(out[i]) < s.envelopeIDLocked(out[j])
	})
	return out, nil
}

func (s *InMemory) LastPublishedEnvelopeID(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := ""
	var latestAt time.Time
	for _, c := range s.crown {
		if c.State == models.StateFailedPublishing {
			continue
		}
		pwb, ok := s.packaged[c.PackagedWorkBasketID]
		if !ok || pwb.EnvelopeID == nil {
			continue
		}
		e, ok := s.envelopes[*pwb.EnvelopeID]
		if !ok {
			continue
		}
		if latest == "" || c.CreatedAt.After(latestAt) {
			latest = e.EnvelopeID
			latestAt = c.CreatedAt
		}
	}
	return latest, nil
}

func (s *InMemory) AppendOperationalStatus(_ context.Context, st *models.OperationalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	cp.ID = s.nextOpID
	s.nextOpID++
	s.opLog = append(s.opLog, &cp)
	st.ID = cp.ID
	return nil
}

func (s *InMemory) CurrentOperationalStatus(_ context.Context, queue models.QueueKind) (*models.OperationalStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.opLog) - 1; i >= 0; i-- {
		if s.opLog[i].Queue == queue {
			cp := *s.opLog[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no operational status for queue %s: %w", queue, sentinel.ErrNotFound)
}

func (s *InMemory) envelopeIDLocked(pwb *models.PackagedWorkBasket) string {
	if pwb.EnvelopeID == nil {
		return ""
	}
	e, ok := s.envelopes[*pwb.EnvelopeID]
	if !ok {
		return ""
	}
	return e.EnvelopeID
}
