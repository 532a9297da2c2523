package repo

import (
	"context"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

// MemoryRepo is an in-process store with the same contract as AccountRepo.
// A single mutex covers both the rows and the live-email index, so the
// uniqueness check and the write happen atomically.
type MemoryRepo struct {
	mu        sync.RWMutex
	ids       func() string
	rows      map[string]*entity.Account
	liveEmail map[string]string // email -> id
	order     []string
}

func NewMemoryRepo(ids func() string) *MemoryRepo {
	if ids == nil {
		ids = utilities.NewSnowflakeID
	}
	return &MemoryRepo{
		ids:       ids,
		rows:      make(map[string]*entity.Account),
		liveEmail: make(map[string]string),
	}
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*entity.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryRepo) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.liveEmail[email]; ok {
		return r.rows[id].Clone(), nil
	}
	var found *entity.Account
	for _, id := range r.order {
		a := r.rows[id]
		if a.Email != email {
			continue
		}
		if found == nil || a.CreatedAt.After(found.CreatedAt) {
			found = a
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.Clone(), nil
}

func (r *MemoryRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.liveEmail[email]
	return ok, nil
}

func (r *MemoryRepo) Save(ctx context.Context, a *entity.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == "" {
		if a.Status.Live() {
			if _, taken := r.liveEmail[a.Email]; taken {
				return ErrDuplicateEmail
			}
		}
		a.ID = r.ids()
		r.rows[a.ID] = a.Clone()
		r.order = append(r.order, a.ID)
		if a.Status.Live() {
			r.liveEmail[a.Email] = a.ID
		}
		return nil
	}

	prev, ok := r.rows[a.ID]
	if !ok {
		return ErrNotFound
	}
	if prev.Status == entity.StatusDeleted {
		return ErrDeleted
	}
	if a.Version != prev.Version {
		return ErrConflict
	}
	if a.Status.Live() {
		if owner, taken := r.liveEmail[a.Email]; taken && owner != a.ID {
			return ErrDuplicateEmail
		}
	}
	if owner := r.liveEmail[prev.Email]; owner == a.ID {
		delete(r.liveEmail, prev.Email)
	}
	next := a.Clone()
	// id and creation time are fixed at insert
	next.CreatedAt = prev.CreatedAt
	next.Version = prev.Version + 1
	a.Version = next.Version
	r.rows[a.ID] = next
	if next.Status.Live() {
		r.liveEmail[next.Email] = next.ID
	}
	return nil
}

func (r *MemoryRepo) ListByStatus(ctx context.Context, status entity.Status) ([]entity.Account, error) {
	return r.filter(ctx, func(a *entity.Account) bool { return a.Status == status })
}

func (r *MemoryRepo) ListByStatuses(ctx context.Context, statuses []entity.Status) ([]entity.Account, error) {
	set := make(map[entity.Status]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return r.filter(ctx, func(a *entity.Account) bool {
		_, ok := set[a.Status]
		return ok
	})
}

func (r *MemoryRepo) ListCreatedAfter(ctx context.Context, since time.Time, status *entity.Status) ([]entity.Account, error) {
	return r.filter(ctx, func(a *entity.Account) bool {
		if !a.CreatedAt.After(since) {
			return false
		}
		return status == nil || a.Status == *status
	})
}

func (r *MemoryRepo) ListAll(ctx context.Context) ([]entity.Account, error) {
	return r.filter(ctx, func(*entity.Account) bool { return true })
}

func (r *MemoryRepo) CountByStatus(ctx context.Context, status entity.Status) (int64, error) {
	list, err := r.ListByStatus(ctx, status)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (r *MemoryRepo) filter(ctx context.Context, keep func(*entity.Account) bool) ([]entity.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []entity.Account{}
	for _, id := range r.order {
		a := r.rows[id]
		if keep(a) {
			out = append(out, *a.Clone())
		}
	}
	return out, nil
}
