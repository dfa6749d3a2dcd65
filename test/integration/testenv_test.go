package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"student-records-service/internal/domain"
	"student-records-service/internal/http/handler"
	"student-records-service/internal/http/router"
	"student-records-service/internal/repository"
	"student-records-service/internal/service"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

type testEnv struct {
	baseURL string
	client  *http.Client
	redis   *miniredis.Miniredis
}

// newTestEnv boots the whole HTTP stack against an in-memory database and
// an in-process redis.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.Student{}, &domain.Task{}))

	server := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	logg := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := service.NewAuthService(repository.NewUserRepository(db), repository.NewSessionRepository(db), time.Hour)
	studentSvc := service.NewStudentService(
		repository.NewStudentRepository(db),
		service.NewRedisQueryCacheStore(redisClient),
		time.Hour, "cache", 1000, logg,
	)
	taskSvc := service.NewTaskService(repository.NewTaskRepository(db), studentSvc, logg)
	t.Cleanup(taskSvc.Stop)

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(authSvc),
		StudentHandler:   handler.NewStudentHandler(studentSvc, taskSvc),
		TaskHandler:      handler.NewTaskHandler(taskSvc),
		Verifier:         authSvc,
		APIRateLimitRPM:  10000,
		AuthRateLimitRPM: 10000,
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &testEnv{baseURL: ts.URL, client: ts.Client(), redis: server}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.baseURL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func (e *testEnv) decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

// registerAndLogin creates an account and returns its access and refresh
// tokens.
func (e *testEnv) registerAndLogin(t *testing.T, username string, readOnly bool) (access, refresh string) {
	t.Helper()
	resp, env := e.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username":     username,
		"email":        username + "@example.com",
		"password":     "correcthorse",
		"is_read_only": readOnly,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "register %s", username)
	require.True(t, env.Success)

	resp, env = e.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"username": username,
		"password": "correcthorse",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "login %s", username)
	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	e.decodeData(t, env, &tokens)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	return tokens.AccessToken, tokens.RefreshToken
}

func (e *testEnv) createStudent(t *testing.T, token string, lastName, faculty, course string, score int) domain.Student {
	t.Helper()
	resp, env := e.do(t, http.MethodPost, "/students", token, map[string]any{
		"last_name":  lastName,
		"first_name": "Test",
		"faculty":    faculty,
		"course":     course,
		"score":      score,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "create student %s", lastName)
	var student domain.Student
	e.decodeData(t, env, &student)
	require.NotZero(t, student.ID)
	return student
}

func (e *testEnv) waitForTask(t *testing.T, token, taskID string) domain.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, env := e.do(t, http.MethodGet, "/tasks/"+taskID, token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var task domain.Task
		e.decodeData(t, env, &task)
		if task.Status == domain.TaskStatusCompleted || task.Status == domain.TaskStatusFailed {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never finished", taskID)
	return domain.Task{}
}
