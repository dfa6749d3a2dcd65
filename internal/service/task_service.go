package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"student-records-service/internal/domain"
	"student-records-service/internal/observability"
	"student-records-service/internal/repository"
)

var ErrTaskQueueFull = errors.New("task queue is full")

const taskQueueSize = 64

type taskJob struct {
	taskID string
	kind   string
	run    func(ctx context.Context) (detail string, affected int, err error)
}

// TaskService runs imports and bulk deletes on a background worker. Every
// task is persisted before it is queued, so its outcome stays queryable
// after the request that started it has returned.
type TaskService struct {
	tasks    repository.TaskRepository
	students *StudentService
	queue    chan taskJob
	wg       sync.WaitGroup
	stopOnce sync.Once
	logger   *slog.Logger
}

func NewTaskService(tasks repository.TaskRepository, students *StudentService, logger *slog.Logger) *TaskService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &TaskService{
		tasks:    tasks,
		students: students,
		queue:    make(chan taskJob, taskQueueSize),
		logger:   logger,
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// EnqueueCSVImport schedules an import of the file at path. The file is
// read, never removed; its owner controls its lifecycle.
func (s *TaskService) EnqueueCSVImport(ctx context.Context, userID uint, path string) (*domain.Task, error) {
	return s.enqueue(ctx, userID, domain.TaskKindCSVImport, func(ctx context.Context) (string, int, error) {
		f, err := os.Open(path)
		if err != nil {
			return "", 0, fmt.Errorf("open import file: %w", err)
		}
		defer f.Close()
		count, err := s.students.ImportCSV(ctx, f)
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("imported %d records", count), count, nil
	})
}

func (s *TaskService) EnqueueBulkDelete(ctx context.Context, userID uint, ids []uint) (*domain.Task, error) {
	return s.enqueue(ctx, userID, domain.TaskKindBulkDelete, func(ctx context.Context) (string, int, error) {
		deleted, err := s.students.BulkDelete(ctx, ids)
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("deleted %d of %d records", deleted, len(ids)), int(deleted), nil
	})
}

func (s *TaskService) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return s.tasks.FindByID(id)
}

func (s *TaskService) enqueue(ctx context.Context, userID uint, kind string, run func(ctx context.Context) (string, int, error)) (*domain.Task, error) {
	task := &domain.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    domain.TaskStatusQueued,
		CreatedBy: userID,
	}
	if err := s.tasks.Create(task); err != nil {
		return nil, err
	}
	select {
	case s.queue <- taskJob{taskID: task.ID, kind: kind, run: run}:
		return task, nil
	default:
		_ = s.tasks.MarkFinished(task.ID, domain.TaskStatusFailed, "task queue is full", 0)
		observability.RecordTaskOutcome(ctx, kind, "rejected")
		return nil, ErrTaskQueueFull
	}
}

// Stop drains the queue and blocks until already-queued tasks finish.
func (s *TaskService) Stop() {
	s.stopOnce.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
}

func (s *TaskService) worker() {
	defer s.wg.Done()
	// tasks outlive the request that queued them
	ctx := context.Background()
	for job := range s.queue {
		if err := s.tasks.MarkRunning(job.taskID); err != nil {
			s.logger.ErrorContext(ctx, "task could not be marked running", "task_id", job.taskID, "error", err)
		}
		detail, affected, err := job.run(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "task failed", "task_id", job.taskID, "kind", job.kind, "error", err)
			if markErr := s.tasks.MarkFinished(job.taskID, domain.TaskStatusFailed, err.Error(), 0); markErr != nil {
				s.logger.ErrorContext(ctx, "task could not be marked failed", "task_id", job.taskID, "error", markErr)
			}
			observability.RecordTaskOutcome(ctx, job.kind, "failed")
			continue
		}
		if markErr := s.tasks.MarkFinished(job.taskID, domain.TaskStatusCompleted, detail, affected); markErr != nil {
			s.logger.ErrorContext(ctx, "task could not be marked completed", "task_id", job.taskID, "error", markErr)
		}
		observability.RecordTaskOutcome(ctx, job.kind, "completed")
		s.logger.InfoContext(ctx, "task completed", "task_id", job.taskID, "kind", job.kind, "records_affected", affected)
	}
}
