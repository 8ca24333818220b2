package statestore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
)

// MemoryStore is the in-process Store used by demo mode and tests.
// Investigations are deep-copied through JSON so callers never share
// state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	invs map[string]*models.Investigation

	// SaveErr, when set, fails the next Save. Used to exercise
	// checkpoint failure paths.
	SaveErr error
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invs: make(map[string]*models.Investigation)}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, inv *models.Investigation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invs[inv.ID]; ok {
		return errors.Newf(errors.KindInternal, "investigation %s already exists", inv.ID)
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	inv.Version = 1
	s.invs[inv.ID] = deepCopy(inv)
	return nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, inv *models.Investigation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		err := s.SaveErr
		s.SaveErr = nil
		return err
	}
	stored, ok := s.invs[inv.ID]
	if !ok {
		return errors.Newf(errors.KindInvalidFormat, "investigation %s not found", inv.ID)
	}
	if stored.Version != inv.Version {
		return errors.Newf(errors.KindInternal,
			"stale checkpoint for investigation %s at version %d", inv.ID, inv.Version)
	}
	inv.Version++
	inv.UpdatedAt = time.Now().UTC()
	s.invs[inv.ID] = deepCopy(inv)
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, id string) (*models.Investigation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invs[id]
	if !ok {
		return nil, errors.Newf(errors.KindInvalidFormat, "investigation %s not found", id)
	}
	return deepCopy(inv), nil
}

// ListResumable implements Store.
func (s *MemoryStore) ListResumable(ctx context.Context, limit int) ([]models.Investigation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Investigation
	for _, inv := range s.invs {
		if inv.Status.Terminal() {
			continue
		}
		out = append(out, *deepCopy(inv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListCompleted implements Store.
func (s *MemoryStore) ListCompleted(ctx context.Context, limit int) ([]models.Investigation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Investigation
	for _, inv := range s.invs {
		if inv.Status != models.StatusCompleted {
			continue
		}
		out = append(out, *deepCopy(inv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() {}

func deepCopy(inv *models.Investigation) *models.Investigation {
	raw, _ := json.Marshal(inv)
	var out models.Investigation
	_ = json.Unmarshal(raw, &out)
	return &out
}
