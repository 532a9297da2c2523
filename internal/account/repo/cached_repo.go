package repo

import (
	"context"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/entity"
)

// Store is the contract shared by AccountRepo and MemoryRepo.
type Store interface {
	Get(ctx context.Context, id string) (*entity.Account, error)
	GetByEmail(ctx context.Context, email string) (*entity.Account, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Save(ctx context.Context, a *entity.Account) error
	ListByStatus(ctx context.Context, status entity.Status) ([]entity.Account, error)
	ListByStatuses(ctx context.Context, statuses []entity.Status) ([]entity.Account, error)
	ListCreatedAfter(ctx context.Context, since time.Time, status *entity.Status) ([]entity.Account, error)
	ListAll(ctx context.Context) ([]entity.Account, error)
	CountByStatus(ctx context.Context, status entity.Status) (int64, error)
}

var (
	_ Store = (*AccountRepo)(nil)
	_ Store = (*MemoryRepo)(nil)
	_ Store = (*CachedRepo)(nil)
)

// CachedRecord is the cache representation of an account. Unlike
// entity.Account it keeps the credential fields, otherwise a cached read
// followed by Save would wipe the hash.
type CachedRecord struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	CredentialHash string     `json:"credential_hash"`
	CredentialAlgo string     `json:"credential_algo"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	LastModified   *time.Time `json:"last_modified,omitempty"`
	Version        int64      `json:"version"`
}

func toRecord(a *entity.Account) *CachedRecord {
	c := a.Clone()
	return &CachedRecord{
		ID:             c.ID,
		Email:          c.Email,
		CredentialHash: c.CredentialHash,
		CredentialAlgo: c.CredentialAlgo,
		Status:         string(c.Status),
		CreatedAt:      c.CreatedAt,
		LastModified:   c.LastModified,
		Version:        c.Version,
	}
}

func (r *CachedRecord) account() *entity.Account {
	return &entity.Account{
		ID:             r.ID,
		Email:          r.Email,
		CredentialHash: r.CredentialHash,
		CredentialAlgo: r.CredentialAlgo,
		Status:         entity.Status(r.Status),
		CreatedAt:      r.CreatedAt,
		LastModified:   r.LastModified,
		Version:        r.Version,
	}
}

// RecordCache is satisfied by cache.JSONCache[CachedRecord].
type RecordCache interface {
	Get(ctx context.Context, key string) (*CachedRecord, bool)
	Set(ctx context.Context, key string, value *CachedRecord)
	Delete(ctx context.Context, key string)
}

// CachedRepo serves Get from a cache and invalidates on Save. Everything
// else goes straight to the wrapped store, which stays the uniqueness and
// terminal-state authority.
//
// A Get that misses must not refill the cache with a row read before a
// concurrent Save landed. Each id hashes onto a generation counter that Save
// bumps around the write; a refill whose generation moved is dropped. This
// only covers writers in this process, other replicas rely on the TTL.
type CachedRepo struct {
	next  Store
	cache RecordCache
	gens  [64]atomic.Uint64
}

func NewCachedRepo(next Store, cache RecordCache) *CachedRepo {
	return &CachedRepo{next: next, cache: cache}
}

func cacheKey(id string) string { return "account:id:" + id }

func (r *CachedRepo) generation(id string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.gens[h.Sum32()%uint32(len(r.gens))]
}

func (r *CachedRepo) Get(ctx context.Context, id string) (*entity.Account, error) {
	key := cacheKey(id)
	if rec, ok := r.cache.Get(ctx, key); ok {
		return rec.account(), nil
	}
	gen := r.generation(id)
	seen := gen.Load()
	a, err := r.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if gen.Load() != seen {
		return a, nil
	}
	r.cache.Set(ctx, key, toRecord(a))
	// a Save may have finished between the check and the Set
	if gen.Load() != seen {
		r.cache.Delete(ctx, key)
	}
	return a, nil
}

func (r *CachedRepo) Save(ctx context.Context, a *entity.Account) error {
	if a.ID == "" {
		return r.next.Save(ctx, a)
	}
	key := cacheKey(a.ID)
	gen := r.generation(a.ID)
	gen.Add(1)
	r.cache.Delete(ctx, key)
	err := r.next.Save(ctx, a)
	gen.Add(1)
	r.cache.Delete(ctx, key)
	return err
}

func (r *CachedRepo) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	return r.next.GetByEmail(ctx, email)
}

func (r *CachedRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.next.ExistsByEmail(ctx, email)
}

func (r *CachedRepo) ListByStatus(ctx context.Context, status entity.Status) ([]entity.Account, error) {
	return r.next.ListByStatus(ctx, status)
}

func (r *CachedRepo) ListByStatuses(ctx context.Context, statuses []entity.Status) ([]entity.Account, error) {
	return r.next.ListByStatuses(ctx, statuses)
}

func (r *CachedRepo) ListCreatedAfter(ctx context.Context, since time.Time, status *entity.Status) ([]entity.Account, error) {
	return r.next.ListCreatedAfter(ctx, since, status)
}

func (r *CachedRepo) ListAll(ctx context.Context) ([]entity.Account, error) {
	return r.next.ListAll(ctx)
}

func (r *CachedRepo) CountByStatus(ctx context.Context, status entity.Status) (int64, error) {
	return r.next.CountByStatus(ctx, status)
}
