package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"student-records-service/internal/domain"
	"student-records-service/internal/observability"
	"student-records-service/internal/repository"
)

var (
	ErrInvalidCSV     = errors.New("invalid csv")
	ErrImportTooLarge = errors.New("import exceeds row limit")
)

const studentCacheNamespace = "students"

// StudentService wraps the student repository with a best-effort
// read-through cache. Cache failures degrade to direct reads; every
// mutation flushes the whole namespace so no derived query can go stale.
type StudentService struct {
	repo          repository.StudentRepository
	cache         QueryCacheStore
	cacheTTL      time.Duration
	cachePrefix   string
	importMaxRows int
	group         singleflight.Group
	logger        *slog.Logger
}

func NewStudentService(repo repository.StudentRepository, cache QueryCacheStore, cacheTTL time.Duration, cachePrefix string, importMaxRows int, logger *slog.Logger) *StudentService {
	if cache == nil {
		cache = NewNoopQueryCacheStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StudentService{
		repo:          repo,
		cache:         cache,
		cacheTTL:      cacheTTL,
		cachePrefix:   cachePrefix,
		importMaxRows: importMaxRows,
		logger:        logger,
	}
}

func (s *StudentService) Create(ctx context.Context, student *domain.Student) error {
	if err := s.repo.Create(student); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *StudentService) Get(ctx context.Context, id uint) (*domain.Student, error) {
	return s.repo.FindByID(id)
}

func (s *StudentService) List(ctx context.Context) ([]domain.Student, error) {
	var out []domain.Student
	err := s.withCache(ctx, s.key("list", nil), &out, func() (any, error) {
		return s.repo.ListAll()
	})
	return out, err
}

func (s *StudentService) ListByFaculty(ctx context.Context, faculty string) ([]domain.Student, error) {
	var out []domain.Student
	err := s.withCache(ctx, s.key("by_faculty", map[string]string{"faculty": faculty}), &out, func() (any, error) {
		return s.repo.ListByFaculty(faculty)
	})
	return out, err
}

func (s *StudentService) Courses(ctx context.Context) ([]string, error) {
	var out []string
	err := s.withCache(ctx, s.key("courses", nil), &out, func() (any, error) {
		return s.repo.DistinctCourses()
	})
	return out, err
}

func (s *StudentService) AverageScore(ctx context.Context, faculty string) (float64, error) {
	var out float64
	err := s.withCache(ctx, s.key("avg_score", map[string]string{"faculty": faculty}), &out, func() (any, error) {
		return s.repo.AverageScoreByFaculty(faculty)
	})
	return out, err
}

func (s *StudentService) LowScores(ctx context.Context, course string, threshold int) ([]domain.Student, error) {
	var out []domain.Student
	params := map[string]string{"course": course, "threshold": strconv.Itoa(threshold)}
	err := s.withCache(ctx, s.key("low_scores", params), &out, func() (any, error) {
		return s.repo.LowScoresByCourse(course, threshold)
	})
	return out, err
}

func (s *StudentService) Update(ctx context.Context, id uint, update repository.StudentUpdate) (*domain.Student, error) {
	student, err := s.repo.Update(id, update)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return student, nil
}

func (s *StudentService) Delete(ctx context.Context, id uint) error {
	if err := s.repo.Delete(id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// ImportCSV parses the whole stream before touching the database: a single
// malformed row rejects the entire import.
func (s *StudentService) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	students, err := ParseStudentsCSV(r, s.importMaxRows)
	if err != nil {
		return 0, err
	}
	count, err := s.repo.BulkCreate(students)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	return count, nil
}

func (s *StudentService) BulkDelete(ctx context.Context, ids []uint) (int64, error) {
	deleted, err := s.repo.DeleteByIDs(ids)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	return deleted, nil
}

func (s *StudentService) key(endpoint string, params map[string]string) string {
	return BuildCacheKey(s.cachePrefix, studentCacheNamespace, endpoint, params)
}

// withCache serves the query from cache when possible and otherwise fills
// it through singleflight, so a cold or just-invalidated key triggers one
// database read no matter how many requests race on it.
func (s *StudentService) withCache(ctx context.Context, key string, out any, fill func() (any, error)) error {
	payload, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.RecordCacheEvent(ctx, studentCacheNamespace, "error")
		s.logger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
	} else if hit {
		if err := json.Unmarshal(payload, out); err == nil {
			observability.RecordCacheEvent(ctx, studentCacheNamespace, "hit")
			return nil
		}
		// corrupt entry, refill below
	}
	observability.RecordCacheEvent(ctx, studentCacheNamespace, "miss")

	filled, err, _ := s.group.Do(key, func() (any, error) {
		v, err := fill()
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
			observability.RecordCacheEvent(ctx, studentCacheNamespace, "error")
			s.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(filled.([]byte), out)
}

func (s *StudentService) invalidate(ctx context.Context) {
	pattern := NamespacePattern(s.cachePrefix, studentCacheNamespace)
	if err := s.cache.InvalidatePattern(ctx, pattern); err != nil {
		observability.RecordCacheEvent(ctx, studentCacheNamespace, "invalidate_error")
		s.logger.WarnContext(ctx, "cache invalidation failed", "pattern", pattern, "error", err)
		return
	}
	observability.RecordCacheEvent(ctx, studentCacheNamespace, "invalidate")
}

var csvHeader = []string{"last_name", "first_name", "faculty", "course", "score"}

// ParseStudentsCSV reads rows of last_name,first_name,faculty,course,score
// with a mandatory header. Row numbers in errors count the header as row 1.
func ParseStudentsCSV(r io.Reader, maxRows int) ([]domain.Student, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(csvHeader)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidCSV)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}
	for i, name := range csvHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != name {
			return nil, fmt.Errorf("%w: header must be %s", ErrInvalidCSV, strings.Join(csvHeader, ","))
		}
	}

	var students []domain.Student
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidCSV, row, err)
		}
		score, err := strconv.Atoi(strings.TrimSpace(record[4]))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: score %q is not an integer", ErrInvalidCSV, row, record[4])
		}
		students = append(students, domain.Student{
			LastName:  strings.TrimSpace(record[0]),
			FirstName: strings.TrimSpace(record[1]),
			Faculty:   strings.TrimSpace(record[2]),
			Course:    strings.TrimSpace(record[3]),
			Score:     score,
		})
		if maxRows > 0 && len(students) > maxRows {
			return nil, fmt.Errorf("%w: more than %d rows", ErrImportTooLarge, maxRows)
		}
	}
	return students, nil
}
