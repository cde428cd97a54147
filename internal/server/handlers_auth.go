package server

import (
	"errors"
	"net/http"

	"github.com/book-expert/llm-gateway/internal/auth"
)

const (
	titleConflict          = "Conflict"
	titleRegisterFailed    = "Registration failed"
	titleRefreshFailed     = "Token refresh failed"
	titleUsersFailed       = "Failed to retrieve users"
	titlePasswordInvalid   = "Password validation failed"
	titlePasswordFailed    = "Password change failed"
	titleNotAllowed        = "Operation not allowed"
	titleDeleteFailed      = "Account deletion failed"
	titleInitAdminFailed   = "Failed to initialize admin"
	titleCurrentUserFailed = "Failed to load user"

	msgRegistered          = "User registered successfully"
	msgLoginSuccessful     = "Login successful"
	msgLoginFailed         = "Login failed"
	msgTokenRefreshed      = "Token refreshed successfully"
	msgInvalidRefreshToken = "Invalid refresh token"
	msgPasswordChanged     = "Password changed successfully"
	msgAccountDeleted      = "Account deleted successfully"
	msgAdminInitialized    = "Default admin user initialized"
	msgAdminNote           = "Check server logs for admin credentials"

	msgEmailPasswordRequired = "Email and password are required"
	msgRefreshTokenRequired  = "Refresh token is required"
	msgPasswordRequired      = "Password is required"
	msgLoginToChangePassword = "You must be logged in to change your password"
	msgLoginToDeleteAccount  = "You must be logged in to delete your account"
)

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type registeredUser struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

type registerResponse struct {
	Message string         `json:"message"`
	User    registeredUser `json:"user"`
	Tokens  auth.Tokens    `json:"tokens"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	user, tokens, err := s.auth.Register(req.Email, req.Username, req.Password)

	switch {
	case err == nil:
	case errors.Is(err, auth.ErrMissingFields),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		s.respondError(w, http.StatusBadRequest, titleValidation, sentence(err))

		return
	case errors.Is(err, auth.ErrUserExists):
		s.respondError(w, http.StatusConflict, titleConflict, sentence(err))

		return
	default:
		s.respondInternal(w, titleRegisterFailed, err)

		return
	}

	s.respondJSON(w, registerResponse{
		Message: msgRegistered,
		User:    registeredUser{Email: user.Email, Username: user.Username},
		Tokens:  tokens,
	}, http.StatusCreated)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionUser struct {
	UserID   string    `json:"userId"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
	Role     auth.Role `json:"role"`
}

type loginResponse struct {
	Message string      `json:"message"`
	User    sessionUser `json:"user"`
	Tokens  auth.Tokens `json:"tokens"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		s.respondError(w, http.StatusBadRequest, titleValidation, msgEmailPasswordRequired)

		return
	}

	user, tokens, err := s.auth.Login(req.Email, req.Password)
	if errors.Is(err, auth.ErrLoginFailed) {
		s.respondError(w, http.StatusUnauthorized, titleAuthFailed, msgLoginFailed)

		return
	}

	if err != nil {
		s.respondInternal(w, titleAuthFailed, err)

		return
	}

	s.respondJSON(w, loginResponse{
		Message: msgLoginSuccessful,
		User: sessionUser{
			UserID:   user.ID,
			Email:    user.Email,
			Username: user.Username,
			Role:     user.Role,
		},
		Tokens: tokens,
	}, http.StatusOK)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Message string      `json:"message"`
	Tokens  auth.Tokens `json:"tokens"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if req.RefreshToken == "" {
		s.respondError(w, http.StatusBadRequest, titleValidation, msgRefreshTokenRequired)

		return
	}

	tokens, err := s.auth.Refresh(req.RefreshToken)
	if errors.Is(err, auth.ErrInvalidRefreshToken) {
		s.respondError(w, http.StatusUnauthorized, titleRefreshFailed, msgInvalidRefreshToken)

		return
	}

	if err != nil {
		s.respondInternal(w, titleRefreshFailed, err)

		return
	}

	s.respondJSON(w, refreshResponse{Message: msgTokenRefreshed, Tokens: tokens}, http.StatusOK)
}

type usersResponse struct {
	Users []auth.PublicUser `json:"users"`
	Total int               `json:"total"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	users, err := s.auth.ListUsers()
	if err != nil {
		s.respondInternal(w, titleUsersFailed, err)

		return
	}

	s.respondJSON(w, usersResponse{Users: users, Total: len(users)}, http.StatusOK)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	user, err := s.auth.UserByID(claims.UserID)
	if err != nil {
		s.respondInternal(w, titleCurrentUserFailed, err)

		return
	}

	s.respondJSON(w, user.Public(), http.StatusOK)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, titleAuthRequired, msgLoginToChangePassword)

		return
	}

	var req changePasswordRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	err := s.auth.ChangePassword(claims.UserID, req.CurrentPassword, req.NewPassword, req.ConfirmPassword)

	switch {
	case err == nil:
		s.respondJSON(w, messageResponse{Message: msgPasswordChanged}, http.StatusOK)
	case errors.Is(err, auth.ErrWeakPassword):
		s.respondError(w, http.StatusBadRequest, titlePasswordInvalid, sentence(err))
	case errors.Is(err, auth.ErrCurrentPasswordWrong):
		s.respondError(w, http.StatusUnauthorized, titleAuthFailed, sentence(err))
	case errors.Is(err, auth.ErrPasswordFieldsRequired),
		errors.Is(err, auth.ErrPasswordMismatch),
		errors.Is(err, auth.ErrPasswordTooLong):
		s.respondError(w, http.StatusBadRequest, titleValidation, sentence(err))
	default:
		s.respondInternal(w, titlePasswordFailed, err)
	}
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, titleAuthRequired, msgLoginToDeleteAccount)

		return
	}

	var req deleteAccountRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	err := s.auth.DeleteAccount(claims.UserID, req.Password)

	switch {
	case err == nil:
		s.respondJSON(w, messageResponse{Message: msgAccountDeleted}, http.StatusOK)
	case errors.Is(err, auth.ErrPasswordRequired):
		s.respondError(w, http.StatusBadRequest, titleValidation, sentence(err))
	case errors.Is(err, auth.ErrAdminUndeletable):
		s.respondError(w, http.StatusForbidden, titleNotAllowed, sentence(err))
	case errors.Is(err, auth.ErrPasswordIncorrect):
		s.respondError(w, http.StatusUnauthorized, titleAuthFailed, sentence(err))
	default:
		s.respondInternal(w, titleDeleteFailed, err)
	}
}

type validatePasswordRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleValidatePassword(w http.ResponseWriter, r *http.Request) {
	var req validatePasswordRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if req.Password == "" {
		s.respondError(w, http.StatusBadRequest, titleValidation, msgPasswordRequired)

		return
	}

	s.respondJSON(w, auth.CheckPasswordStrength(req.Password), http.StatusOK)
}

type initAdminResponse struct {
	Message string `json:"message"`
	Note    string `json:"note"`
	Created bool   `json:"created"`
}

func (s *Server) handleInitAdmin(w http.ResponseWriter, _ *http.Request) {
	created, err := s.auth.InitDefaultAdmin()
	if err != nil {
		s.respondInternal(w, titleInitAdminFailed, err)

		return
	}

	s.respondJSON(w, initAdminResponse{
		Message: msgAdminInitialized,
		Note:    msgAdminNote,
		Created: created,
	}, http.StatusOK)
}
