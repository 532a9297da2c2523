package account

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/repo"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStorage           = errors.New("storage failure")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrBadCredentials    = errors.New("invalid credentials")
	ErrLoginNotAllowed   = errors.New("account status does not allow login")
	// ErrConflict means the account changed between read and write; retry from a fresh read.
	ErrConflict = errors.New("account was modified concurrently")
)

// Config holds the knobs read from the environment.
type Config struct {
	PasswordAlgo  string
	BcryptCost    int
	InitialStatus entity.Status
}

// ConfigFromEnv reads PASSWORD_ALGO, BCRYPT_COST and ACCOUNT_INITIAL_STATUS.
func ConfigFromEnv() Config {
	cost := 12
	if v, err := strconv.Atoi(os.Getenv("BCRYPT_COST")); err == nil && v > 0 {
		cost = v
	}
	initial := entity.StatusActive
	if st, err := entity.ParseStatus(os.Getenv("ACCOUNT_INITIAL_STATUS")); err == nil && st == entity.StatusPending {
		initial = st
	}
	return Config{
		PasswordAlgo:  os.Getenv("PASSWORD_ALGO"),
		BcryptCost:    cost,
		InitialStatus: initial,
	}
}

// Service is the sole authority for creating and mutating accounts. It holds
// no per-call state; the store is the arbiter for concurrent writers.
type Service struct {
	store  repo.Store
	hasher PasswordHasher
	logger *zap.SugaredLogger
	// configuration knobs, set before first use
	InitialStatus entity.Status
	Clock         clockwork.Clock
}

func NewService(store repo.Store, hasher PasswordHasher, logger *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = AdaptiveHasher{Primary: BcryptHasher{Cost: 12}}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:         store,
		hasher:        hasher,
		logger:        logger,
		InitialStatus: entity.StatusActive,
		Clock:         clockwork.NewRealClock(),
	}
}

// NewServiceFromConfig wires the hasher and initial status from cfg.
func NewServiceFromConfig(store repo.Store, cfg Config, logger *zap.SugaredLogger) (*Service, error) {
	hasher, err := NewHasher(cfg.PasswordAlgo, cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	s := NewService(store, hasher, logger)
	if cfg.InitialStatus != "" {
		s.InitialStatus = cfg.InitialStatus
	}
	return s, nil
}

func (s *Service) now() time.Time { return s.Clock.Now().UTC() }

// storageErr translates store sentinels into service errors.
func storageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repo.ErrDuplicateEmail):
		return ErrDuplicateEmail
	case errors.Is(err, repo.ErrDeleted):
		return fmt.Errorf("%w: account is deleted", ErrInvalidTransition)
	case errors.Is(err, repo.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
}

// normalizeEmail strips surrounding whitespace. Case is kept; emails compare
// case-sensitively.
func normalizeEmail(email string) string { return strings.TrimSpace(email) }

func (s *Service) hash(secret string) (string, string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", "", fmt.Errorf("%w: secret is required", ErrInvalidArgument)
	}
	hash, algo, err := s.hasher.Hash(secret)
	if err != nil {
		if errors.Is(err, ErrSecretTooLong) {
			return "", "", fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		return "", "", fmt.Errorf("hash credential: %w", err)
	}
	if hash == "" || hash == secret {
		return "", "", errors.New("hash credential: hasher returned an unusable hash")
	}
	return hash, algo, nil
}

// Register creates a new account. The existence check is a fast path; the
// store's unique constraint decides races.
func (s *Service) Register(ctx context.Context, email, secret string) (*entity.Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}
	taken, err := s.store.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, storageErr(err)
	}
	if taken {
		return nil, ErrDuplicateEmail
	}
	hash, algo, err := s.hash(secret)
	if err != nil {
		return nil, err
	}
	a := &entity.Account{
		Email:          email,
		CredentialHash: hash,
		CredentialAlgo: algo,
		Status:         s.InitialStatus,
		CreatedAt:      s.now(),
	}
	if err := s.store.Save(ctx, a); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			s.logger.Debugw("register lost uniqueness race", "email", email)
		}
		return nil, storageErr(err)
	}
	s.logger.Infow("account registered", "id", a.ID, "email", a.Email, "status", a.Status)
	return a, nil
}

func (s *Service) FindByID(ctx context.Context, id string) (*entity.Account, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storageErr(err)
	}
	return a, nil
}

// FindByEmail returns the live account for email, or the latest deleted one.
func (s *Service) FindByEmail(ctx context.Context, email string) (*entity.Account, error) {
	a, err := s.store.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, storageErr(err)
	}
	return a, nil
}

// IsEmailTaken reports whether a live account holds email.
func (s *Service) IsEmailTaken(ctx context.Context, email string) (bool, error) {
	ok, err := s.store.ExistsByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return false, storageErr(err)
	}
	return ok, nil
}

// ChangeCredential re-hashes the secret. Neither old nor new plaintext is
// compared or logged.
func (s *Service) ChangeCredential(ctx context.Context, id, secret string) error {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return storageErr(err)
	}
	if a.Status == entity.StatusDeleted {
		return fmt.Errorf("%w: account is deleted", ErrInvalidTransition)
	}
	hash, algo, err := s.hash(secret)
	if err != nil {
		return err
	}
	a.CredentialHash = hash
	a.CredentialAlgo = algo
	a.Touch(s.now())
	if err := s.store.Save(ctx, a); err != nil {
		return storageErr(err)
	}
	s.logger.Infow("account credential changed", "id", a.ID)
	return nil
}

// ChangeStatus moves the account along the status state machine. Setting the
// current status again is a no-op, except for deleted which admits nothing.
func (s *Service) ChangeStatus(ctx context.Context, id string, next entity.Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, next)
	}
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return storageErr(err)
	}
	prev := a.Status
	if prev == entity.StatusDeleted {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, prev)
	}
	if prev == next {
		return nil
	}
	if !prev.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}
	a.Status = next
	a.Touch(s.now())
	if err := s.store.Save(ctx, a); err != nil {
		return storageErr(err)
	}
	s.logger.Infow("account status changed", "id", a.ID, "from", prev, "to", next)
	return nil
}

// ChangeEmail moves the account to a new email, re-checking uniqueness.
func (s *Service) ChangeEmail(ctx context.Context, id, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return storageErr(err)
	}
	if a.Status == entity.StatusDeleted {
		return fmt.Errorf("%w: account is deleted", ErrInvalidTransition)
	}
	if a.Email == email {
		return nil
	}
	taken, err := s.store.ExistsByEmail(ctx, email)
	if err != nil {
		return storageErr(err)
	}
	if taken {
		return ErrDuplicateEmail
	}
	prev := a.Email
	a.Email = email
	a.Touch(s.now())
	if err := s.store.Save(ctx, a); err != nil {
		return storageErr(err)
	}
	s.logger.Infow("account email changed", "id", a.ID, "from", prev, "to", email)
	return nil
}

// Authenticate looks the account up by email and verifies the secret.
// Unknown emails, deleted accounts and wrong secrets all yield
// ErrBadCredentials so callers cannot enumerate accounts.
func (s *Service) Authenticate(ctx context.Context, email, secret string) (*entity.Account, error) {
	email = normalizeEmail(email)
	if email == "" || secret == "" {
		return nil, ErrBadCredentials
	}
	a, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, storageErr(err)
	}
	if a.Status == entity.StatusDeleted || a.CredentialHash == "" {
		return nil, ErrBadCredentials
	}
	if !s.hasher.Verify(a.CredentialHash, secret) {
		s.logger.Debugw("authentication failed", "id", a.ID)
		return nil, ErrBadCredentials
	}
	if !a.Status.CanLogin() {
		return nil, fmt.Errorf("%w: %s", ErrLoginNotAllowed, a.Status)
	}
	if s.hasher.NeedsRehash(a.CredentialHash) {
		s.rehash(ctx, a, secret)
	}
	return a, nil
}

// rehash upgrades a stored hash after a successful login. Failures are
// logged only; the login itself already succeeded. A version conflict means
// another writer got there first and the upgrade waits for the next login.
func (s *Service) rehash(ctx context.Context, a *entity.Account, secret string) {
	hash, algo, err := s.hasher.Hash(secret)
	if err != nil {
		s.logger.Warnw("credential rehash failed", "id", a.ID, "err", err)
		return
	}
	updated := a.Clone()
	updated.CredentialHash = hash
	updated.CredentialAlgo = algo
	updated.Touch(s.now())
	if err := s.store.Save(ctx, updated); err != nil {
		s.logger.Warnw("credential rehash not saved", "id", a.ID, "err", err)
		return
	}
	*a = *updated
	s.logger.Infow("account credential rehashed", "id", a.ID, "algo", algo)
}

func (s *Service) ListByStatus(ctx context.Context, status entity.Status) ([]entity.Account, error) {
	out, err := s.store.ListByStatus(ctx, status)
	return out, storageErr(err)
}

func (s *Service) ListByStatuses(ctx context.Context, statuses ...entity.Status) ([]entity.Account, error) {
	out, err := s.store.ListByStatuses(ctx, statuses)
	return out, storageErr(err)
}

// ListCreatedAfter lists accounts created after since; a nil status disables
// the status filter.
func (s *Service) ListCreatedAfter(ctx context.Context, since time.Time, status *entity.Status) ([]entity.Account, error) {
	out, err := s.store.ListCreatedAfter(ctx, since, status)
	return out, storageErr(err)
}

func (s *Service) ListAll(ctx context.Context) ([]entity.Account, error) {
	out, err := s.store.ListAll(ctx)
	return out, storageErr(err)
}

func (s *Service) CountByStatus(ctx context.Context, status entity.Status) (int64, error) {
	n, err := s.store.CountByStatus(ctx, status)
	return n, storageErr(err)
}
