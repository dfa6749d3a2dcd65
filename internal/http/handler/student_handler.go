package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"student-records-service/internal/domain"
	"student-records-service/internal/http/middleware"
	"student-records-service/internal/http/response"
	"student-records-service/internal/observability"
	"student-records-service/internal/repository"
	"student-records-service/internal/service"
)

const defaultLowScoreThreshold = 30

type StudentHandler struct {
	students *service.StudentService
	tasks    *service.TaskService
}

func NewStudentHandler(students *service.StudentService, tasks *service.TaskService) *StudentHandler {
	return &StudentHandler{students: students, tasks: tasks}
}

type createStudentRequest struct {
	LastName  string `json:"last_name"`
	FirstName string `json:"first_name"`
	Faculty   string `json:"faculty"`
	Course    string `json:"course"`
	Score     *int   `json:"score"`
}

type updateStudentRequest struct {
	LastName  *string `json:"last_name"`
	FirstName *string `json:"first_name"`
	Faculty   *string `json:"faculty"`
	Course    *string `json:"course"`
	Score     *int    `json:"score"`
}

type importCSVRequest struct {
	CSVFile string `json:"csv_file"`
}

type bulkDeleteRequest struct {
	StudentIDs []uint `json:"student_ids"`
}

func (h *StudentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "invalid request body", nil)
		return
	}
	fields := map[string]string{}
	if req.LastName == "" {
		fields["last_name"] = "required"
	}
	if req.FirstName == "" {
		fields["first_name"] = "required"
	}
	if req.Faculty == "" {
		fields["faculty"] = "required"
	}
	if req.Course == "" {
		fields["course"] = "required"
	}
	if req.Score == nil {
		fields["score"] = "required"
	}
	if len(fields) > 0 {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "invalid student payload", fields)
		return
	}
	student := &domain.Student{
		LastName:  req.LastName,
		FirstName: req.FirstName,
		Faculty:   req.Faculty,
		Course:    req.Course,
		Score:     *req.Score,
	}
	if err := h.students.Create(r.Context(), student); err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "could not create student", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, student)
}

func (h *StudentHandler) List(w http.ResponseWriter, r *http.Request) {
	students, err := h.students.List(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "could not list students", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, emptyAsSlice(students))
}

func (h *StudentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uintURLParam(r, "id")
	if !ok {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "invalid student id", nil)
		return
	}
	student, err := h.students.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "student not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "could not load student", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, student)
}

func (h *StudentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uintURLParam(r, "id")
	if !ok {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "invalid student id", nil)
		return
	}
	var req updateStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "invalid request body", nil)
		return
	}
	student, err := h.students.Update(r.Context(), id, repository.StudentUpdate{
		LastName:  req.LastName,
		FirstName: req.FirstName,
		Faculty:   req.Faculty,
		Course:    req.Course,
		Score:     req.Score,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "student not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "could not update student", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, student)
}

func (h *StudentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uintURLParam(r, "id")
	if !ok {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "invalid student id", nil)
		return
	}
	if err := h.students.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "student not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "could not delete student", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "student deleted"})
}

func (h *StudentHandler) ListByFaculty(w http.ResponseWriter, r *http.Request) {
	faculty := chi.URLParam(r, "faculty")
	students, err := h.students.ListByFaculty(r.Context(), faculty)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "could not list students", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, emptyAsSlice(students))
}

func (h *StudentHandler) Courses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.students.Courses(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "could not list courses", nil)
		return
	}
	if courses == nil {
		courses = []string{}
	}
	response.JSON(w, r, http.StatusOK, courses)
}

func (h *StudentHandler) AverageScore(w http.ResponseWriter, r *http.Request) {
	faculty := chi.URLParam(r, "faculty")
	avg, err := h.students.AverageScore(r.Context(), faculty)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "could not compute average score", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"faculty": faculty, "average_score": avg})
}

func (h *StudentHandler) LowScores(w http.ResponseWriter, r *http.Request) {
	course := chi.URLParam(r, "course")
	threshold := defaultLowScoreThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "threshold must be an integer", nil)
			return
		}
		threshold = parsed
	}
	students, err := h.students.LowScores(r.Context(), course, threshold)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "could not list students", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, emptyAsSlice(students))
}

func (h *StudentHandler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	var req importCSVRequest
	if err := decodeJSON(r, &req); err != nil || req.CSVFile == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "csv_file is required", nil)
		return
	}
	authCtx, _ := middleware.AuthFromContext(r.Context())
	task, err := h.tasks.EnqueueCSVImport(r.Context(), authCtx.UserID, req.CSVFile)
	if err != nil {
		if errors.Is(err, service.ErrTaskQueueFull) {
			response.Error(w, r, http.StatusServiceUnavailable, response.CodeUnavailable, "task queue is full, retry later", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "could not schedule import", nil)
		return
	}
	observability.Audit(r, "students.import_scheduled", "task_id", task.ID, "user_id", authCtx.UserID)
	response.JSON(w, r, http.StatusAccepted, task)
}

func (h *StudentHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := decodeJSON(r, &req); err != nil || len(req.StudentIDs) == 0 {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "student_ids must be a non-empty list", nil)
		return
	}
	authCtx, _ := middleware.AuthFromContext(r.Context())
	task, err := h.tasks.EnqueueBulkDelete(r.Context(), authCtx.UserID, req.StudentIDs)
	if err != nil {
		if errors.Is(err, service.ErrTaskQueueFull) {
			response.Error(w, r, http.StatusServiceUnavailable, response.CodeUnavailable, "task queue is full, retry later", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "could not schedule bulk delete", nil)
		return
	}
	observability.Audit(r, "students.bulk_delete_scheduled", "task_id", task.ID, "user_id", authCtx.UserID)
	response.JSON(w, r, http.StatusAccepted, task)
}

func emptyAsSlice(students []domain.Student) []domain.Student {
	if students == nil {
		return []domain.Student{}
	}
	return students
}
