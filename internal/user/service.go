package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lumonote/service-auth-go/internal/user/entity"
	userrepo "github.com/lumonote/service-auth-go/internal/user/repo"
	"github.com/lumonote/service-auth-go/pkg/utilities"
)

// CredentialStore is the persistence seam for user rows. *repo.UserRepo
// is the production implementation; tests substitute an in-memory fake.
type CredentialStore interface {
	Create(ctx context.Context, u *entity.User) error
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	SetResetToken(ctx context.Context, email, token string, expiresAt time.Time) (bool, error)
	GetByValidResetToken(ctx context.Context, token string, now time.Time) (*entity.User, error)
	UpdatePasswordAndClearReset(ctx context.Context, id int64, token, newHash string) (bool, error)
}

var _ CredentialStore = (*userrepo.UserRepo)(nil)

// PasswordHasher defines the minimal hashing interface (abstract so we
// can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation. The cost is deliberately expensive;
// lowering it trades away brute-force resistance.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = 12
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

var (
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrUnknownEmail          = errors.New("unknown email")
	ErrInvalidPassword       = errors.New("invalid password")
	ErrCorruptCredential     = errors.New("stored credential is corrupt")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
	ErrUpdateFailed          = errors.New("password update affected no rows")
	ErrValidation            = errors.New("validation failed")
	ErrStoreUnavailable      = errors.New("credential store unavailable")
)

// MinPasswordLen applies to both registration and reset.
const MinPasswordLen = 8

// MaxPasswordLen is bcrypt's hard input limit; longer passwords make
// GenerateFromPassword error, so they are rejected as client input.
const MaxPasswordLen = 72

func validPasswordLen(pw string) error {
	if len(pw) < MinPasswordLen || len(pw) > MaxPasswordLen {
		return fmt.Errorf("%w: password must be between %d and %d characters", ErrValidation, MinPasswordLen, MaxPasswordLen)
	}
	return nil
}

// AuthService orchestrates the credential and password-reset lifecycle.
type AuthService struct {
	store  CredentialStore
	hasher PasswordHasher
	issuer *ResetTokenIssuer

	// now is swappable for tests.
	now func() time.Time
}

// costFromEnv reads BCRYPT_COST, clamped to bcrypt's supported range.
// The default of 12 is intentional brute-force resistance.
func costFromEnv() int {
	cost := 12
	if v := os.Getenv("BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= bcrypt.MinCost && n <= bcrypt.MaxCost {
			cost = n
		}
	}
	return cost
}

func NewAuthService(db *sqlx.DB, store CredentialStore, hasher PasswordHasher) *AuthService {
	if store == nil {
		store = userrepo.NewUserRepo(db)
	}
	if hasher == nil {
		hasher = BcryptHasher{Cost: costFromEnv()}
	}
	return &AuthService{
		store:  store,
		hasher: hasher,
		issuer: NewResetTokenIssuer(DefaultResetTTL),
		now:    time.Now,
	}
}

// storeFault wraps an unexpected persistence error so callers can match
// on ErrStoreUnavailable without seeing driver internals leak upward as
// business errors.
func storeFault(err error) error {
	return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Register creates a new account and returns its ID. The existence
// check is advisory; the store's unique constraint is the authoritative
// duplicate signal when two registrations race.
func (s *AuthService) Register(ctx context.Context, email, password string) (int64, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return 0, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if err := validPasswordLen(password); err != nil {
		return 0, err
	}

	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return 0, ErrDuplicateEmail
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, storeFault(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	id, err := utilities.NewUserID()
	if err != nil {
		return 0, fmt.Errorf("generate user id: %w", err)
	}
	u := &entity.User{ID: id, Email: email, PasswordHash: hash}
	if err := s.store.Create(ctx, u); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateEmail
		}
		return 0, storeFault(err)
	}
	return id, nil
}

// Login verifies credentials and returns the user ID on success. It
// never touches session state; binding the session is the caller's job
// and must happen only when Login returned nil.
func (s *AuthService) Login(ctx context.Context, email, password string) (int64, error) {
	email = strings.TrimSpace(email)
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUnknownEmail
		}
		return 0, storeFault(err)
	}
	if u.PasswordHash == "" {
		// server-side integrity fault, not a user error
		return 0, ErrCorruptCredential
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		return 0, ErrInvalidPassword
	}
	return u.ID, nil
}

// ForgotPassword issues a reset token for the account and persists it
// with its expiry. The token is returned to the caller; whether it is
// emailed or surfaced directly is a delivery concern outside this
// service.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if _, err := s.store.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUnknownEmail
		}
		return "", storeFault(err)
	}

	token, expiresAt, err := s.issuer.Issue()
	if err != nil {
		return "", fmt.Errorf("issue reset token: %w", err)
	}
	ok, err := s.store.SetResetToken(ctx, email, token, expiresAt)
	if err != nil {
		return "", storeFault(err)
	}
	if !ok {
		// row vanished between lookup and update
		return "", ErrUnknownEmail
	}
	return token, nil
}

// ResetPassword consumes a reset token and replaces the password. The
// compound update is keyed on the token, so of two concurrent resets
// only one mutates the row; the loser sees zero rows and fails with
// ErrUpdateFailed.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if !ValidTokenShape(token) {
		return ErrInvalidOrExpiredToken
	}
	if err := validPasswordLen(newPassword); err != nil {
		return err
	}

	u, err := s.store.GetByValidResetToken(ctx, token, s.now())
	if err != nil {
		return storeFault(err)
	}
	if u == nil {
		return ErrInvalidOrExpiredToken
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	ok, err := s.store.UpdatePasswordAndClearReset(ctx, u.ID, token, hash)
	if err != nil {
		return storeFault(err)
	}
	if !ok {
		return ErrUpdateFailed
	}
	return nil
}
