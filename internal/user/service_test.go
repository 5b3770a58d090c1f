package user

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumonote/service-auth-go/internal/user/entity"
)

// memStore is an in-memory CredentialStore used by service and handler
// tests. failWith, when set, makes every call fail with that error.
type memStore struct {
	mu       sync.Mutex
	byEmail  map[string]*entity.User
	failWith error
}

func newMemStore() *memStore {
	return &memStore{byEmail: make(map[string]*entity.User)}
}

func (m *memStore) Create(ctx context.Context, u *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.byEmail[u.Email]; ok {
		return &pq.Error{Code: "23505"}
	}
	cp := *u
	cp.CreatedAt = time.Now()
	m.byEmail[u.Email] = &cp
	return nil
}

func (m *memStore) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	u, ok := m.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) SetResetToken(ctx context.Context, email, token string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	u, ok := m.byEmail[email]
	if !ok {
		return false, nil
	}
	u.ResetToken = &token
	u.ResetExpires = &expiresAt
	return true, nil
}

func (m *memStore) GetByValidResetToken(ctx context.Context, token string, now time.Time) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, u := range m.byEmail {
		if u.ResetToken != nil && *u.ResetToken == token {
			if u.ResetExpires == nil || now.After(*u.ResetExpires) {
				u.ResetToken = nil
				u.ResetExpires = nil
				return nil, nil
			}
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdatePasswordAndClearReset(ctx context.Context, id int64, token, newHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	for _, u := range m.byEmail {
		if u.ID == id && u.ResetToken != nil && *u.ResetToken == token {
			u.PasswordHash = newHash
			u.ResetToken = nil
			u.ResetExpires = nil
			return true, nil
		}
	}
	return false, nil
}

// fastHasher keeps bcrypt at its minimum cost so tests stay quick.
var fastHasher = BcryptHasher{Cost: bcrypt.MinCost}

func newTestService(store CredentialStore) *AuthService {
	return NewAuthService(nil, store, fastHasher)
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore())

	id, err := svc.Register(ctx, "alice@example.com", "Secret123")
	require.NoError(t, err)
	assert.NotZero(t, id)

	gotID, err := svc.Login(ctx, "alice@example.com", "Secret123")
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore())

	_, err := svc.Register(ctx, "alice@example.com", "Secret123")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice@example.com", "Another123")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

// raceStore simulates a lost check-then-insert race: the advisory read
// sees no row but the insert hits the unique constraint.
type raceStore struct{ *memStore }

func (r *raceStore) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return nil, sql.ErrNoRows
}

func TestRegisterRaceIsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	base := newMemStore()
	svc := newTestService(base)
	_, err := svc.Register(ctx, "alice@example.com", "Secret123")
	require.NoError(t, err)

	racy := newTestService(&raceStore{base})
	_, err = racy.Register(ctx, "alice@example.com", "Secret123")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore())

	_, err := svc.Register(ctx, "", "Secret123")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Register(ctx, "alice@example.com", "short")
	assert.ErrorIs(t, err, ErrValidation)

	// bcrypt refuses inputs past 72 bytes; that is a client error,
	// not a server fault
	_, err = svc.Register(ctx, "alice@example.com", strings.Repeat("a", MaxPasswordLen+1))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegisterMaxLengthPassword(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore())

	pw := strings.Repeat("a", MaxPasswordLen)
	_, err := svc.Register(ctx, "alice@example.com", pw)
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice@example.com", pw)
	assert.NoError(t, err)
}

func TestLoginUnknownEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore())

	_, err := svc.Login(ctx, "nobody@example.com", "whatever123")
	assert.ErrorIs(t, err, ErrUnknownEmail)
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore())

	_, err := svc.Register(ctx, "alice@example.com", "Secret123")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice@example.com", "WrongPass1")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestLoginCorruptCredential(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.byEmail["bad@example.com"] = &entity.User{ID: 1, Email: "bad@example.com", PasswordHash: ""}
	svc := newTestService(store)

	_, err := svc.Login(ctx, "bad@example.com", "whatever123")
	assert.ErrorIs(t, err, ErrCorruptCredential)
}

func TestLoginStoreFault(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failWith = sql.ErrConnDone
	svc := newTestService(store)

	_, err := svc.Login(ctx, "alice@example.com", "Secret123")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore())

	_, err := svc.ForgotPassword(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUnknownEmail)
}

func TestForgotPasswordIssuesToken(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(store)

	_, err := svc.Register(ctx, "alice@example.com", "Secret123")
	require.NoError(t, err)

	token, err := svc.ForgotPassword(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ValidTokenShape(token))

	u, err := store.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.True(t, u.HasPendingReset())
	assert.Equal(t, token, *u.ResetToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *u.ResetExpires, time.Minute)
}

func TestResetPasswordFullFlow(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore())

	_, err := svc.Register(ctx, "alice@example.com", "Secret123")
	require.NoError(t, err)

	token, err := svc.ForgotPassword(ctx, "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, svc.ResetPassword(ctx, token, "NewPass123"))

	_, err = svc.Login(ctx, "alice@example.com", "NewPass123")
	assert.NoError(t, err)

	_, err = svc.Login(ctx, "alice@example.com", "Secret123")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestResetPasswordTokenIsSingleUse(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore())

	_, err := svc.Register(ctx, "alice@example.com", "Secret123")
	require.NoError(t, err)
	token, err := svc.ForgotPassword(ctx, "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, svc.ResetPassword(ctx, token, "NewPass123"))

	err = svc.ResetPassword(ctx, token, "OtherPass123")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(store)

	_, err := svc.Register(ctx, "alice@example.com", "Secret123")
	require.NoError(t, err)
	token, err := svc.ForgotPassword(ctx, "alice@example.com")
	require.NoError(t, err)

	// the raw token still matches a stored row, but its window passed
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	err = svc.ResetPassword(ctx, token, "NewPass123")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	// old password still works: expiry cleared the token without a
	// password change
	svcFresh := newTestService(store)
	_, err = svcFresh.Login(ctx, "alice@example.com", "Secret123")
	assert.NoError(t, err)
}

func TestResetPasswordMalformedToken(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(store)

	err := svc.ResetPassword(ctx, "not-a-real-token", "whatever123")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	// cheap rejection: no store call, no row touched
	assert.Empty(t, store.byEmail)
}

func TestResetPasswordShortPassword(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore())

	token := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	err := svc.ResetPassword(ctx, token, "short")
	assert.ErrorIs(t, err, ErrValidation)

	err = svc.ResetPassword(ctx, token, strings.Repeat("a", MaxPasswordLen+1))
	assert.ErrorIs(t, err, ErrValidation)
}

// consumedStore reports the token as present but refuses the update,
// modeling a concurrent reset that won the race.
type consumedStore struct{ *memStore }

func (c *consumedStore) UpdatePasswordAndClearReset(ctx context.Context, id int64, token, newHash string) (bool, error) {
	return false, nil
}

func TestResetPasswordLostRace(t *testing.T) {
	ctx := context.Background()
	base := newMemStore()
	svc := newTestService(base)

	_, err := svc.Register(ctx, "alice@example.com", "Secret123")
	require.NoError(t, err)
	token, err := svc.ForgotPassword(ctx, "alice@example.com")
	require.NoError(t, err)

	loser := newTestService(&consumedStore{base})
	err = loser.ResetPassword(ctx, token, "NewPass123")
	assert.ErrorIs(t, err, ErrUpdateFailed)
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h := fastHasher

	hash, err := h.Hash("Secret123")
	require.NoError(t, err)
	assert.NotEqual(t, "Secret123", hash)

	assert.True(t, h.Verify(hash, "Secret123"))
	assert.False(t, h.Verify(hash, "Secret124"))
	assert.False(t, h.Verify(hash, ""))
}

func TestHashVerifyAtBcryptLimit(t *testing.T) {
	h := fastHasher

	pw := strings.Repeat("x", MaxPasswordLen)
	hash, err := h.Hash(pw)
	require.NoError(t, err)
	assert.True(t, h.Verify(hash, pw))
}

func TestHashIsSalted(t *testing.T) {
	h := fastHasher

	a, err := h.Hash("Secret123")
	require.NoError(t, err)
	b, err := h.Hash("Secret123")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
