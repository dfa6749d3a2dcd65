package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"student-records-service/internal/http/middleware"
	"student-records-service/internal/http/response"
	"student-records-service/internal/repository"
	"student-records-service/internal/service"
)

type TaskHandler struct {
	tasks *service.TaskService
}

func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	authCtx, _ := middleware.AuthFromContext(r.Context())
	task, err := h.tasks.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "task not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "could not load task", nil)
		return
	}
	// tasks are visible to their creator only; a foreign id looks unknown
	if authCtx == nil || task.CreatedBy != authCtx.UserID {
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "task not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, task)
}
