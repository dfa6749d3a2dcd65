package repository

import (
	"context"
	"errors"
	"time"

	"student-records-service/internal/domain"
	"student-records-service/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(s *domain.Session) error
	FindActiveByAccessToken(token string) (*domain.Session, error)
	FindActiveByRefreshToken(token string) (*domain.Session, error)
	Rotate(refreshToken, newAccess, newRefresh string, newExpiry time.Time) (*domain.Session, error)
	DeactivateByAccessToken(token string) (bool, error)
	CleanupExpired() (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.Session) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindActiveByAccessToken(token string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("access_token = ? AND is_active = ? AND expires_at > ?", token, true, time.Now()).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_access_token", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_access_token", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_access_token", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindActiveByRefreshToken(token string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("refresh_token = ? AND is_active = ? AND expires_at > ?", token, true, time.Now()).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_refresh_token", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_refresh_token", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_active_by_refresh_token", "success")
	return &s, nil
}

// Rotate swaps both tokens and the expiry on the session row that currently
// holds refreshToken. The row is locked and re-checked inside the
// transaction, so of two concurrent rotations with the same token exactly
// one wins; the loser gets ErrSessionNotFound.
func (r *GormSessionRepository) Rotate(refreshToken, newAccess, newRefresh string, newExpiry time.Time) (*domain.Session, error) {
	var rotated *domain.Session
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var s domain.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("refresh_token = ? AND is_active = ? AND expires_at > ?", refreshToken, true, time.Now()).
			First(&s).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		res := tx.Model(&domain.Session{}).
			Where("id = ? AND refresh_token = ? AND is_active = ?", s.ID, refreshToken, true).
			Updates(map[string]any{
				"access_token":  newAccess,
				"refresh_token": newRefresh,
				"expires_at":    newExpiry,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		s.AccessToken = newAccess
		s.RefreshToken = newRefresh
		s.ExpiresAt = newExpiry
		rotated = &s
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "rotate", "not_found")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "session", "rotate", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "rotate", "success")
	return rotated, nil
}

// DeactivateByAccessToken soft-deletes the single session holding the token.
// Other sessions of the same user stay valid.
func (r *GormSessionRepository) DeactivateByAccessToken(token string) (bool, error) {
	res := r.db.Model(&domain.Session{}).
		Where("access_token = ? AND is_active = ?", token, true).
		Update("is_active", false)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "deactivate_by_access_token", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "deactivate_by_access_token", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) CleanupExpired() (int64, error) {
	res := r.db.Where("expires_at <= ?", time.Now()).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
