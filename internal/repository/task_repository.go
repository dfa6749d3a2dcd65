package repository

import (
	"context"
	"errors"
	"time"

	"student-records-service/internal/domain"
	"student-records-service/internal/observability"

	"gorm.io/gorm"
)

var ErrTaskNotFound = errors.New("task not found")

type TaskRepository interface {
	Create(t *domain.Task) error
	FindByID(id string) (*domain.Task, error)
	MarkRunning(id string) error
	MarkFinished(id, status, detail string, recordsAffected int) error
}

type GormTaskRepository struct{ db *gorm.DB }

func NewTaskRepository(db *gorm.DB) TaskRepository { return &GormTaskRepository{db: db} }

func (r *GormTaskRepository) Create(t *domain.Task) error {
	err := r.db.Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "task", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "task", "create", "success")
	return nil
}

func (r *GormTaskRepository) FindByID(id string) (*domain.Task, error) {
	var t domain.Task
	err := r.db.Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "task", "find_by_id", "not_found")
			return nil, ErrTaskNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "task", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "task", "find_by_id", "success")
	return &t, nil
}

func (r *GormTaskRepository) MarkRunning(id string) error {
	now := time.Now().UTC()
	err := r.db.Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": domain.TaskStatusRunning, "started_at": now}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "task", "mark_running", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "task", "mark_running", "success")
	return nil
}

func (r *GormTaskRepository) MarkFinished(id, status, detail string, recordsAffected int) error {
	now := time.Now().UTC()
	err := r.db.Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           status,
			"detail":           detail,
			"records_affected": recordsAffected,
			"finished_at":      now,
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "task", "mark_finished", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "task", "mark_finished", "success")
	return nil
}
