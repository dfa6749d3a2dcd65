package repository

import (
	"context"
	"errors"

	"student-records-service/internal/domain"
	"student-records-service/internal/observability"

	"gorm.io/gorm"
)

var ErrStudentNotFound = errors.New("student not found")

// StudentUpdate carries a partial update; nil fields are left untouched.
type StudentUpdate struct {
	LastName  *string
	FirstName *string
	Faculty   *string
	Course    *string
	Score     *int
}

type StudentRepository interface {
	Create(s *domain.Student) error
	FindByID(id uint) (*domain.Student, error)
	ListAll() ([]domain.Student, error)
	ListByFaculty(faculty string) ([]domain.Student, error)
	DistinctCourses() ([]string, error)
	AverageScoreByFaculty(faculty string) (float64, error)
	LowScoresByCourse(course string, threshold int) ([]domain.Student, error)
	Update(id uint, update StudentUpdate) (*domain.Student, error)
	Delete(id uint) error
	BulkCreate(students []domain.Student) (int, error)
	DeleteByIDs(ids []uint) (int64, error)
}

type GormStudentRepository struct{ db *gorm.DB }

func NewStudentRepository(db *gorm.DB) StudentRepository { return &GormStudentRepository{db: db} }

func (r *GormStudentRepository) Create(s *domain.Student) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "student", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "student", "create", "success")
	return nil
}

func (r *GormStudentRepository) FindByID(id uint) (*domain.Student, error) {
	var s domain.Student
	err := r.db.First(&s, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "student", "find_by_id", "not_found")
			return nil, ErrStudentNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "student", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "student", "find_by_id", "success")
	return &s, nil
}

func (r *GormStudentRepository) ListAll() ([]domain.Student, error) {
	var students []domain.Student
	err := r.db.Order("id").Find(&students).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "student", "list_all", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "student", "list_all", "success")
	return students, nil
}

func (r *GormStudentRepository) ListByFaculty(faculty string) ([]domain.Student, error) {
	var students []domain.Student
	err := r.db.Where("faculty = ?", faculty).Order("id").Find(&students).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "student", "list_by_faculty", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "student", "list_by_faculty", "success")
	return students, nil
}

func (r *GormStudentRepository) DistinctCourses() ([]string, error) {
	var courses []string
	err := r.db.Model(&domain.Student{}).
		Distinct("course").
		Order("course").
		Pluck("course", &courses).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "student", "distinct_courses", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "student", "distinct_courses", "success")
	return courses, nil
}

// AverageScoreByFaculty returns 0.0 when the faculty has no rows.
func (r *GormStudentRepository) AverageScoreByFaculty(faculty string) (float64, error) {
	var avg float64
	err := r.db.Model(&domain.Student{}).
		Where("faculty = ?", faculty).
		Select("COALESCE(AVG(score), 0)").
		Scan(&avg).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "student", "average_score_by_faculty", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "student", "average_score_by_faculty", "success")
	return avg, nil
}

func (r *GormStudentRepository) LowScoresByCourse(course string, threshold int) ([]domain.Student, error) {
	var students []domain.Student
	err := r.db.Where("course = ? AND score < ?", course, threshold).Order("id").Find(&students).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "student", "low_scores_by_course", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "student", "low_scores_by_course", "success")
	return students, nil
}

// Update applies only the fields set in the partial update and returns the
// resulting row. A missing id yields ErrStudentNotFound.
func (r *GormStudentRepository) Update(id uint, update StudentUpdate) (*domain.Student, error) {
	fields := map[string]any{}
	if update.LastName != nil {
		fields["last_name"] = *update.LastName
	}
	if update.FirstName != nil {
		fields["first_name"] = *update.FirstName
	}
	if update.Faculty != nil {
		fields["faculty"] = *update.Faculty
	}
	if update.Course != nil {
		fields["course"] = *update.Course
	}
	if update.Score != nil {
		fields["score"] = *update.Score
	}

	var updated domain.Student
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&updated, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStudentNotFound
			}
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		if err := tx.Model(&updated).Updates(fields).Error; err != nil {
			return err
		}
		return tx.First(&updated, id).Error
	})
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "student", "update", "not_found")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "student", "update", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "student", "update", "success")
	return &updated, nil
}

func (r *GormStudentRepository) Delete(id uint) error {
	res := r.db.Delete(&domain.Student{}, id)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "student", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "student", "delete", "not_found")
		return ErrStudentNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "student", "delete", "success")
	return nil
}

func (r *GormStudentRepository) BulkCreate(students []domain.Student) (int, error) {
	if len(students) == 0 {
		return 0, nil
	}
	err := r.db.CreateInBatches(students, 500).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "student", "bulk_create", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "student", "bulk_create", "success")
	return len(students), nil
}

func (r *GormStudentRepository) DeleteByIDs(ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.Where("id IN ?", ids).Delete(&domain.Student{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "student", "delete_by_ids", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "student", "delete_by_ids", "success")
	return res.RowsAffected, nil
}
