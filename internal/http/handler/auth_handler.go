package handler

import (
	"errors"
	"net/http"
	"time"

	"student-records-service/internal/http/middleware"
	"student-records-service/internal/http/response"
	"student-records-service/internal/observability"
	"student-records-service/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type registerRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	IsReadOnly bool   `json:"is_read_only"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type loginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       uint      `json:"user_id"`
	Username     string    `json:"username"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "invalid request body", nil)
		return
	}
	fields := map[string]string{}
	if req.Username == "" {
		fields["username"] = "required"
	}
	if req.Email == "" {
		fields["email"] = "required"
	}
	if req.Password == "" {
		fields["password"] = "required"
	}
	if len(fields) > 0 {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "invalid registration payload", fields)
		return
	}
	user, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password, req.IsReadOnly)
	if err != nil {
		if errors.Is(err, service.ErrCredentialsTaken) {
			response.Error(w, r, http.StatusBadRequest, response.CodeConflict, "username or email already registered", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "registration failed", nil)
		return
	}
	observability.Audit(r, "user.registered", "user_id", user.ID, "username", user.Username)
	response.JSON(w, r, http.StatusOK, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "username and password are required", nil)
		return
	}
	pair, user, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "invalid username or password", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "login failed", nil)
		return
	}
	observability.Audit(r, "user.login", "user_id", user.ID)
	response.JSON(w, r, http.StatusOK, loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresAt:    pair.ExpiresAt,
		UserID:       user.ID,
		Username:     user.Username,
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "refresh_token is required", nil)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired refresh token", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "refresh failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "missing auth context", nil)
		return
	}
	if err := h.auth.Logout(r.Context(), token); err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "logout failed", nil)
		return
	}
	if authCtx, ok := middleware.AuthFromContext(r.Context()); ok {
		observability.Audit(r, "user.logout", "user_id", authCtx.UserID)
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "logged out"})
}
