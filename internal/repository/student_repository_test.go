package repository

import (
	"errors"
	"testing"

	"student-records-service/internal/domain"
)

func newStudentRepoForTest(t *testing.T) StudentRepository {
	t.Helper()
	return NewStudentRepository(newTestDB(t, &domain.Student{}))
}

func seedStudents(t *testing.T, repo StudentRepository, students ...domain.Student) []domain.Student {
	t.Helper()
	out := make([]domain.Student, 0, len(students))
	for _, s := range students {
		created := s
		if err := repo.Create(&created); err != nil {
			t.Fatalf("seed student %s: %v", s.LastName, err)
		}
		out = append(out, created)
	}
	return out
}

func TestStudentRepositoryQueries(t *testing.T) {
	repo := newStudentRepoForTest(t)
	seedStudents(t, repo,
		domain.Student{LastName: "Ivanov", FirstName: "Ivan", Faculty: "Physics", Course: "Mechanics", Score: 90},
		domain.Student{LastName: "Petrov", FirstName: "Petr", Faculty: "Physics", Course: "Optics", Score: 50},
		domain.Student{LastName: "Sidorov", FirstName: "Sidor", Faculty: "Math", Course: "Algebra", Score: 20},
		domain.Student{LastName: "Orlova", FirstName: "Olga", Faculty: "Math", Course: "Algebra", Score: 40},
	)

	byFaculty, err := repo.ListByFaculty("Physics")
	if err != nil {
		t.Fatalf("list by faculty: %v", err)
	}
	if len(byFaculty) != 2 {
		t.Fatalf("expected 2 physics students, got %d", len(byFaculty))
	}

	courses, err := repo.DistinctCourses()
	if err != nil {
		t.Fatalf("distinct courses: %v", err)
	}
	if len(courses) != 3 {
		t.Fatalf("expected 3 distinct courses, got %v", courses)
	}

	avg, err := repo.AverageScoreByFaculty("Physics")
	if err != nil {
		t.Fatalf("average score: %v", err)
	}
	if avg != 70 {
		t.Fatalf("expected physics average 70, got %v", avg)
	}

	avg, err = repo.AverageScoreByFaculty("Chemistry")
	if err != nil {
		t.Fatalf("average score empty faculty: %v", err)
	}
	if avg != 0 {
		t.Fatalf("expected 0.0 for faculty with no rows, got %v", avg)
	}

	low, err := repo.LowScoresByCourse("Algebra", 30)
	if err != nil {
		t.Fatalf("low scores: %v", err)
	}
	if len(low) != 1 || low[0].LastName != "Sidorov" {
		t.Fatalf("expected only Sidorov below 30, got %+v", low)
	}
}

func TestStudentRepositoryPartialUpdate(t *testing.T) {
	repo := newStudentRepoForTest(t)
	created := seedStudents(t, repo,
		domain.Student{LastName: "Ivanov", FirstName: "Ivan", Faculty: "Physics", Course: "Mechanics", Score: 95},
	)[0]

	updated, err := repo.Update(created.ID, StudentUpdate{Score: intPtr(50)})
	if err != nil {
		t.Fatalf("update score: %v", err)
	}
	if updated.Score != 50 {
		t.Fatalf("score not updated: %+v", updated)
	}
	if updated.LastName != "Ivanov" || updated.FirstName != "Ivan" ||
		updated.Faculty != "Physics" || updated.Course != "Mechanics" {
		t.Fatalf("partial update must leave other fields untouched: %+v", updated)
	}

	updated, err = repo.Update(created.ID, StudentUpdate{Faculty: strPtr("Math"), LastName: strPtr("Ivanova")})
	if err != nil {
		t.Fatalf("update two fields: %v", err)
	}
	if updated.Faculty != "Math" || updated.LastName != "Ivanova" || updated.Score != 50 {
		t.Fatalf("unexpected row after second update: %+v", updated)
	}

	// empty update is a read
	updated, err = repo.Update(created.ID, StudentUpdate{})
	if err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if updated.Faculty != "Math" {
		t.Fatalf("empty update must not change the row: %+v", updated)
	}

	if _, err := repo.Update(9999, StudentUpdate{Score: intPtr(1)}); !errors.Is(err, ErrStudentNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestStudentRepositoryDelete(t *testing.T) {
	repo := newStudentRepoForTest(t)
	created := seedStudents(t, repo,
		domain.Student{LastName: "Ivanov", FirstName: "Ivan", Faculty: "Physics", Course: "Mechanics", Score: 90},
	)[0]

	if err := repo.Delete(created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(created.ID); !errors.Is(err, ErrStudentNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := repo.FindByID(created.ID); !errors.Is(err, ErrStudentNotFound) {
		t.Fatalf("expected row gone, got %v", err)
	}
}

func TestStudentRepositoryBulkCreateAndDeleteByIDs(t *testing.T) {
	repo := newStudentRepoForTest(t)

	count, err := repo.BulkCreate([]domain.Student{
		{LastName: "A", FirstName: "A", Faculty: "F", Course: "C", Score: 10},
		{LastName: "B", FirstName: "B", Faculty: "F", Course: "C", Score: 20},
		{LastName: "C", FirstName: "C", Faculty: "F", Course: "C", Score: 30},
	})
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 imported, got %d", count)
	}

	all, err := repo.ListAll()
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}

	deleted, err := repo.DeleteByIDs([]uint{all[0].ID, all[1].ID, 424242})
	if err != nil {
		t.Fatalf("delete by ids: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted (unknown id is a no-op), got %d", deleted)
	}

	if deleted, err := repo.DeleteByIDs(nil); err != nil || deleted != 0 {
		t.Fatalf("empty id list must be a no-op, got %d, %v", deleted, err)
	}
}
