package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"student-records-service/internal/domain"
	"student-records-service/internal/repository"
)

type inMemoryUserRepo struct {
	mu          sync.Mutex
	nextID      uint
	byID        map[uint]*domain.User
	byName      map[string]*domain.User
	findByIDErr error
}

func newInMemoryUserRepo() *inMemoryUserRepo {
	return &inMemoryUserRepo{
		nextID: 1,
		byID:   map[uint]*domain.User{},
		byName: map[string]*domain.User{},
	}
}

func (r *inMemoryUserRepo) Create(u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[u.Username]; ok {
		return repository.ErrDuplicateUser
	}
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return repository.ErrDuplicateUser
		}
	}
	cp := *u
	cp.ID = r.nextID
	r.nextID++
	r.byID[cp.ID] = &cp
	r.byName[cp.Username] = &cp
	u.ID = cp.ID
	return nil
}

func (r *inMemoryUserRepo) FindByID(id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findByIDErr != nil {
		return nil, r.findByIDErr
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *inMemoryUserRepo) FindByUsername(username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byName[username]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *inMemoryUserRepo) ExistsByUsernameOrEmail(username, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[username]; ok {
		return true, nil
	}
	for _, u := range r.byID {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *inMemoryUserRepo) deactivate(id uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.IsActive = false
	}
}

type inMemorySessionRepo struct {
	mu        sync.Mutex
	nextID    uint
	byAccess  map[string]*domain.Session
	byRefresh map[string]*domain.Session
}

func newInMemorySessionRepo() *inMemorySessionRepo {
	return &inMemorySessionRepo{
		nextID:    1,
		byAccess:  map[string]*domain.Session{},
		byRefresh: map[string]*domain.Session{},
	}
}

func (r *inMemorySessionRepo) Create(s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.ID = r.nextID
	r.nextID++
	r.byAccess[cp.AccessToken] = &cp
	r.byRefresh[cp.RefreshToken] = &cp
	s.ID = cp.ID
	return nil
}

func (r *inMemorySessionRepo) FindActiveByAccessToken(token string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byAccess[token]
	if !ok || !s.IsActive || s.ExpiresAt.Before(time.Now()) {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *inMemorySessionRepo) FindActiveByRefreshToken(token string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byRefresh[token]
	if !ok || !s.IsActive || s.ExpiresAt.Before(time.Now()) {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *inMemorySessionRepo) Rotate(refreshToken, newAccess, newRefresh string, newExpiry time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byRefresh[refreshToken]
	if !ok || !s.IsActive || s.ExpiresAt.Before(time.Now()) {
		return nil, repository.ErrSessionNotFound
	}
	delete(r.byAccess, s.AccessToken)
	delete(r.byRefresh, s.RefreshToken)
	s.AccessToken = newAccess
	s.RefreshToken = newRefresh
	s.ExpiresAt = newExpiry
	r.byAccess[newAccess] = s
	r.byRefresh[newRefresh] = s
	cp := *s
	return &cp, nil
}

func (r *inMemorySessionRepo) DeactivateByAccessToken(token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byAccess[token]
	if !ok || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	return true, nil
}

func (r *inMemorySessionRepo) CleanupExpired() (int64, error) {
	return 0, nil
}

func newAuthServiceForTest() (*AuthService, *inMemoryUserRepo, *inMemorySessionRepo) {
	users := newInMemoryUserRepo()
	sessions := newInMemorySessionRepo()
	return NewAuthService(users, sessions, time.Hour), users, sessions
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAuthServiceForTest()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret", false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "other@example.com", "s3cret", false); !errors.Is(err, ErrCredentialsTaken) {
		t.Fatalf("expected duplicate username rejected, got %v", err)
	}
	if _, err := svc.Register(ctx, "bob", "alice@example.com", "s3cret", false); !errors.Is(err, ErrCredentialsTaken) {
		t.Fatalf("expected duplicate email rejected, got %v", err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAuthServiceForTest()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret", false); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, _, unknownErr := svc.Login(ctx, "nobody", "s3cret")
	_, _, wrongErr := svc.Login(ctx, "alice", "wrong")
	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("expected identical credential errors, got %v and %v", unknownErr, wrongErr)
	}
}

func TestLoginAndVerifyToken(t *testing.T) {
	ctx := context.Background()
	svc, users, _ := newAuthServiceForTest()

	user, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret", true)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, _, err := svc.Login(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.AccessToken == pair.RefreshToken {
		t.Fatalf("unexpected token pair %+v", pair)
	}
	if pair.TokenType != "bearer" {
		t.Fatalf("token type = %q", pair.TokenType)
	}

	authCtx, err := svc.VerifyToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if authCtx.UserID != user.ID || authCtx.Username != "alice" || !authCtx.IsReadOnly {
		t.Fatalf("unexpected auth context %+v", authCtx)
	}

	if _, err := svc.VerifyToken(ctx, "bogus"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	// deactivated account invalidates the live session
	users.deactivate(user.ID)
	if _, err := svc.VerifyToken(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected deactivated user rejected, got %v", err)
	}
}

func TestRefreshRotatesInPlace(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAuthServiceForTest()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret", false); err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, _, err := svc.Login(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.AccessToken == pair.AccessToken || rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation must mint a fresh pair")
	}

	// the consumed refresh token is dead
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected consumed token rejected, got %v", err)
	}
	// so is the old access token
	if _, err := svc.VerifyToken(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected old access token rejected, got %v", err)
	}
	if _, err := svc.VerifyToken(ctx, rotated.AccessToken); err != nil {
		t.Fatalf("new access token must verify: %v", err)
	}
}

// overlappingUserRepo simulates two registrations racing: the pre-check sees
// nothing, the insert hits the unique index.
type overlappingUserRepo struct{ *inMemoryUserRepo }

func (r *overlappingUserRepo) ExistsByUsernameOrEmail(username, email string) (bool, error) {
	return false, nil
}

func TestRegisterMapsUniqueIndexViolationToConflict(t *testing.T) {
	ctx := context.Background()
	users := &overlappingUserRepo{newInMemoryUserRepo()}
	svc := NewAuthService(users, newInMemorySessionRepo(), time.Hour)

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret", false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "other@example.com", "s3cret", false); !errors.Is(err, ErrCredentialsTaken) {
		t.Fatalf("expected unique index violation surfaced as conflict, got %v", err)
	}
}

func TestRefreshRejectsInactiveUserWithoutConsumingToken(t *testing.T) {
	ctx := context.Background()
	svc, users, sessions := newAuthServiceForTest()

	user, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret", false)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, _, err := svc.Login(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	users.deactivate(user.ID)
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected inactive user rejected, got %v", err)
	}

	// the rejection must not have rotated the session
	sessions.mu.Lock()
	_, stillThere := sessions.byRefresh[pair.RefreshToken]
	sessions.mu.Unlock()
	if !stillThere {
		t.Fatal("refresh token must not be consumed for an inactive user")
	}
}

func TestRefreshPropagatesUserLookupErrors(t *testing.T) {
	ctx := context.Background()
	svc, users, _ := newAuthServiceForTest()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret", false); err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, _, err := svc.Login(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	dbErr := errors.New("connection reset")
	users.mu.Lock()
	users.findByIDErr = dbErr
	users.mu.Unlock()

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	if errors.Is(err, ErrInvalidToken) {
		t.Fatal("database failures must not masquerade as invalid tokens")
	}
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected the lookup error propagated, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAuthServiceForTest()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret", false); err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, _, err := svc.Login(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.Logout(ctx, pair.AccessToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.VerifyToken(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected logged out token rejected, got %v", err)
	}
	if err := svc.Logout(ctx, pair.AccessToken); err != nil {
		t.Fatalf("second logout must be a no-op: %v", err)
	}
	if err := svc.Logout(ctx, "never-issued"); err != nil {
		t.Fatalf("logout of unknown token must be a no-op: %v", err)
	}
}
