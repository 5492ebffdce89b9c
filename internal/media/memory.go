package media

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a process-local Repository. It enforces the same
// (owner, content hash) uniqueness as the Postgres schema.
type MemoryRepository struct {
	mu     sync.RWMutex
	assets map[uuid.UUID]*Asset
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		assets: make(map[uuid.UUID]*Asset),
		now:    time.Now,
	}
}

func (r *MemoryRepository) FindByHash(ctx context.Context, ownerID uuid.UUID, hash string) (*Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.assets {
		if a.OwnerID == ownerID && a.ContentHash == hash {
			return clone(a), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) FindByID(ctx context.Context, id, ownerID uuid.UUID) (*Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[id]
	if !ok || a.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (r *MemoryRepository) FindAll(ctx context.Context, ownerID uuid.UUID) ([]*Asset, error) {
	r.mu.RLock()
	out := make([]*Asset, 0, len(r.assets))
	for _, a := range r.assets {
		if a.OwnerID == ownerID {
			out = append(out, clone(a))
		}
	}
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b *Asset) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, a *Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if r.conflicts(a) {
		return ErrDuplicateHash
	}
	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	r.assets[a.ID] = clone(a)
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, a *Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.assets[a.ID]
	if !ok || cur.OwnerID != a.OwnerID {
		return ErrNotFound
	}
	if r.conflicts(a) {
		return ErrDuplicateHash
	}
	a.CreatedAt = cur.CreatedAt
	a.UpdatedAt = r.now()
	r.assets[a.ID] = clone(a)
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assets[id]
	if !ok || a.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(r.assets, id)
	return nil
}

// conflicts must be called with mu held.
func (r *MemoryRepository) conflicts(a *Asset) bool {
	if a.ContentHash == "" {
		return false
	}
	for id, other := range r.assets {
		if id != a.ID && other.OwnerID == a.OwnerID && other.ContentHash == a.ContentHash {
			return true
		}
	}
	return false
}

func clone(a *Asset) *Asset {
	c := *a
	c.FrameHashes = slices.Clone(a.FrameHashes)
	return &c
}
