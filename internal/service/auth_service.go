package service

import (
	"context"
	"errors"
	"time"

	"student-records-service/internal/domain"
	"student-records-service/internal/observability"
	"student-records-service/internal/repository"
	"student-records-service/internal/security"
)

var (
	ErrCredentialsTaken   = errors.New("username or email already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// AuthContext is what a verified access token resolves to. Handlers and
// middleware read it instead of touching the session row.
type AuthContext struct {
	UserID     uint
	Username   string
	IsReadOnly bool
}

type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type AuthService struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	sessionTTL  time.Duration
}

func NewAuthService(userRepo repository.UserRepository, sessionRepo repository.SessionRepository, sessionTTL time.Duration) *AuthService {
	return &AuthService{userRepo: userRepo, sessionRepo: sessionRepo, sessionTTL: sessionTTL}
}

func (s *AuthService) Register(ctx context.Context, username, email, password string, isReadOnly bool) (*domain.User, error) {
	taken, err := s.userRepo.ExistsByUsernameOrEmail(username, email)
	if err != nil {
		observability.RecordAuthAttempt(ctx, "register", "error")
		return nil, err
	}
	if taken {
		observability.RecordAuthAttempt(ctx, "register", "conflict")
		return nil, ErrCredentialsTaken
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		observability.RecordAuthAttempt(ctx, "register", "error")
		return nil, err
	}
	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsReadOnly:   isReadOnly,
		IsActive:     true,
	}
	if err := s.userRepo.Create(user); err != nil {
		// a concurrent registration can slip past the exists check and
		// hit the unique index instead
		if errors.Is(err, repository.ErrDuplicateUser) {
			observability.RecordAuthAttempt(ctx, "register", "conflict")
			return nil, ErrCredentialsTaken
		}
		observability.RecordAuthAttempt(ctx, "register", "error")
		return nil, err
	}
	observability.RecordAuthAttempt(ctx, "register", "success")
	return user, nil
}

// Login verifies credentials and opens a session. Unknown usernames,
// inactive accounts, and wrong passwords are indistinguishable to the
// caller.
func (s *AuthService) Login(ctx context.Context, username, password string) (*TokenPair, *domain.User, error) {
	user, err := s.userRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthAttempt(ctx, "login", "failure")
			return nil, nil, ErrInvalidCredentials
		}
		observability.RecordAuthAttempt(ctx, "login", "error")
		return nil, nil, err
	}
	if !user.IsActive || !security.VerifyPassword(password, user.PasswordHash) {
		observability.RecordAuthAttempt(ctx, "login", "failure")
		return nil, nil, ErrInvalidCredentials
	}
	pair, err := s.openSession(user.ID)
	if err != nil {
		observability.RecordAuthAttempt(ctx, "login", "error")
		return nil, nil, err
	}
	observability.RecordAuthAttempt(ctx, "login", "success")
	return pair, user, nil
}

func (s *AuthService) VerifyToken(ctx context.Context, accessToken string) (*AuthContext, error) {
	session, err := s.sessionRepo.FindActiveByAccessToken(accessToken)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	user, err := s.userRepo.FindByID(session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidToken
	}
	return &AuthContext{UserID: user.ID, Username: user.Username, IsReadOnly: user.IsReadOnly}, nil
}

// Refresh rotates the session in place: the presented refresh token is
// consumed and a fresh pair takes over the same session row. A token that
// was already rotated, expired, or revoked is rejected, and a token whose
// owner has been deactivated is rejected without being consumed.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	current, err := s.sessionRepo.FindActiveByRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordAuthAttempt(ctx, "refresh", "failure")
			return nil, ErrInvalidToken
		}
		observability.RecordAuthAttempt(ctx, "refresh", "error")
		return nil, err
	}
	user, err := s.userRepo.FindByID(current.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthAttempt(ctx, "refresh", "failure")
			return nil, ErrInvalidToken
		}
		observability.RecordAuthAttempt(ctx, "refresh", "error")
		return nil, err
	}
	if !user.IsActive {
		observability.RecordAuthAttempt(ctx, "refresh", "failure")
		return nil, ErrInvalidToken
	}
	access, refresh, err := security.NewTokenPair()
	if err != nil {
		observability.RecordAuthAttempt(ctx, "refresh", "error")
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(s.sessionTTL)
	session, err := s.sessionRepo.Rotate(refreshToken, access, refresh, expiresAt)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordAuthAttempt(ctx, "refresh", "failure")
			return nil, ErrInvalidToken
		}
		observability.RecordAuthAttempt(ctx, "refresh", "error")
		return nil, err
	}
	observability.RecordAuthAttempt(ctx, "refresh", "success")
	return &TokenPair{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		TokenType:    "bearer",
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// Logout deactivates the session behind the access token. Logging out a
// token that is already dead is not an error.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	changed, err := s.sessionRepo.DeactivateByAccessToken(accessToken)
	if err != nil {
		observability.RecordAuthAttempt(ctx, "logout", "error")
		return err
	}
	if changed {
		observability.RecordAuthAttempt(ctx, "logout", "success")
	} else {
		observability.RecordAuthAttempt(ctx, "logout", "noop")
	}
	return nil
}

func (s *AuthService) openSession(userID uint) (*TokenPair, error) {
	access, refresh, err := security.NewTokenPair()
	if err != nil {
		return nil, err
	}
	session := &domain.Session{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().UTC().Add(s.sessionTTL),
		IsActive:     true,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    session.ExpiresAt,
	}, nil
}
