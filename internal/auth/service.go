// Package auth manages gateway users: a JSON file of accounts, bcrypt
// password hashes and HS256 access/refresh tokens.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/book-expert/llm-gateway/internal/config"
)

// Role is the permission level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	minRegisterPasswordLen = 6

	defaultAdminEmail    = "admin@example.com"
	defaultAdminUsername = "admin"
	defaultAdminPassword = "admin123"
	adminIDPrefix        = "admin-"
)

const (
	logRegistered      = "Registered user %s (%s)"
	logPasswordChanged = "Password changed for user: %s (%s)"
	logAccountDeleted  = "User account deleted: %s (%s)"
	logAdminCreated    = "Default admin created: email=%s username=%s password=%s. CHANGE THIS PASSWORD IN PRODUCTION!"
	logAdminExists     = "Admin user already exists, skipping default admin"
)

var (
	ErrMissingFields          = errors.New("email, username, and password are required")
	ErrPasswordTooShort       = errors.New("password must be at least 6 characters long")
	ErrPasswordTooLong        = errors.New("password is too long to hash")
	ErrUserExists             = errors.New("user with this email or username already exists")
	ErrLoginFailed            = errors.New("login failed")
	ErrInvalidRefreshToken    = errors.New("invalid refresh token")
	ErrUserNotFound           = errors.New("user not found")
	ErrPasswordFieldsRequired = errors.New("current password, new password, and confirmation are required")
	ErrPasswordMismatch       = errors.New("new password and confirmation do not match")
	ErrWeakPassword           = errors.New("password validation failed")
	ErrCurrentPasswordWrong   = errors.New("current password is incorrect")
	ErrPasswordRequired       = errors.New("password confirmation is required")
	ErrAdminUndeletable       = errors.New("admin accounts cannot be deleted")
	ErrPasswordIncorrect      = errors.New("password is incorrect")
)

// User is a stored account.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"passwordHash"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	Role         Role       `json:"role"`
}

// PublicUser is a User without its password hash.
type PublicUser struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	CreatedAt time.Time  `json:"createdAt"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	Role      Role       `json:"role"`
}

// Public strips the password hash.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
		Role:      u.Role,
	}
}

// Service implements registration, login and account management.
type Service struct {
	store      *FileStore
	tokens     *TokenIssuer
	bcryptCost int
	log        *logger.Logger
	now        func() time.Time
}

// NewService creates a service storing users in cfg.UsersFile.
func NewService(cfg config.AuthConfig, log *logger.Logger) *Service {
	return &Service{
		store: NewFileStore(cfg.UsersFile),
		tokens: NewTokenIssuer(cfg.JWTSecret, cfg.JWTRefreshSecret,
			cfg.AccessTokenTTL(), cfg.RefreshTokenTTL()),
		bcryptCost: cfg.BcryptCost,
		log:        log,
		now:        time.Now,
	}
}

// Register creates a user account and signs its first token pair.
func (s *Service) Register(email, username, password string) (*User, Tokens, error) {
	if email == "" || username == "" || password == "" {
		return nil, Tokens{}, ErrMissingFields
	}

	if utf8.RuneCountInString(password) < minRegisterPasswordLen {
		return nil, Tokens{}, ErrPasswordTooShort
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, Tokens{}, err
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(email),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
		LastLogin:    nil,
		Role:         RoleUser,
	}

	err = s.store.Mutate(func(users []User) ([]User, error) {
		taken := slices.ContainsFunc(users, func(existing User) bool {
			return existing.Email == user.Email || existing.Username == user.Username
		})
		if taken {
			return nil, ErrUserExists
		}

		return append(users, user), nil
	})
	if err != nil {
		return nil, Tokens{}, err
	}

	s.log.Info(logRegistered, user.Username, user.Email)

	tokens, err := s.tokens.Issue(&user)
	if err != nil {
		return nil, Tokens{}, err
	}

	return &user, tokens, nil
}

// Login checks credentials, records the login time and signs a token pair.
// Unknown emails and wrong passwords fail alike with ErrLoginFailed.
func (s *Service) Login(email, password string) (*User, Tokens, error) {
	users, err := s.store.Users()
	if err != nil {
		return nil, Tokens{}, err
	}

	email = strings.ToLower(email)

	idx := slices.IndexFunc(users, func(u User) bool { return u.Email == email })
	if idx < 0 || !passwordMatches(users[idx].PasswordHash, password) {
		return nil, Tokens{}, ErrLoginFailed
	}

	user := users[idx]
	loggedIn := s.now().UTC()
	user.LastLogin = &loggedIn

	err = s.updateUser(user.ID, func(stored *User) error {
		stored.LastLogin = &loggedIn

		return nil
	})
	if err != nil {
		return nil, Tokens{}, err
	}

	tokens, err := s.tokens.Issue(&user)
	if err != nil {
		return nil, Tokens{}, err
	}

	return &user, tokens, nil
}

// Refresh exchanges a refresh token for a new pair. The user must still
// exist.
func (s *Service) Refresh(refreshToken string) (Tokens, error) {
	userID, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}

	user, err := s.UserByID(userID)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}

	return s.tokens.Issue(user)
}

// VerifyAccess validates an access token.
func (s *Service) VerifyAccess(token string) (*Claims, error) {
	return s.tokens.VerifyAccess(token)
}

// UserByID returns the stored user or ErrUserNotFound.
func (s *Service) UserByID(id string) (*User, error) {
	users, err := s.store.Users()
	if err != nil {
		return nil, err
	}

	idx := slices.IndexFunc(users, func(u User) bool { return u.ID == id })
	if idx < 0 {
		return nil, ErrUserNotFound
	}

	return &users[idx], nil
}

// ListUsers returns every user without password hashes.
func (s *Service) ListUsers() ([]PublicUser, error) {
	users, err := s.store.Users()
	if err != nil {
		return nil, err
	}

	public := make([]PublicUser, 0, len(users))
	for i := range users {
		public = append(public, users[i].Public())
	}

	return public, nil
}

// ChangePassword replaces the password of userID after checking the current
// one and the strength of the new one.
func (s *Service) ChangePassword(userID, current, next, confirm string) error {
	if current == "" || next == "" || confirm == "" {
		return ErrPasswordFieldsRequired
	}

	if next != confirm {
		return ErrPasswordMismatch
	}

	check := CheckPasswordStrength(next)
	if !check.IsValid {
		return &WeakPasswordError{Problems: check.Errors}
	}

	user, err := s.UserByID(userID)
	if err != nil {
		return err
	}

	if !passwordMatches(user.PasswordHash, current) {
		return ErrCurrentPasswordWrong
	}

	hash, err := s.hash(next)
	if err != nil {
		return err
	}

	err = s.updateUser(userID, func(stored *User) error {
		stored.PasswordHash = hash

		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info(logPasswordChanged, user.Username, user.Email)

	return nil
}

// DeleteAccount removes userID after confirming its password. Admin
// accounts cannot be deleted.
func (s *Service) DeleteAccount(userID, password string) error {
	if password == "" {
		return ErrPasswordRequired
	}

	user, err := s.UserByID(userID)
	if err != nil {
		return err
	}

	if user.Role == RoleAdmin {
		return ErrAdminUndeletable
	}

	if !passwordMatches(user.PasswordHash, password) {
		return ErrPasswordIncorrect
	}

	err = s.store.Mutate(func(users []User) ([]User, error) {
		idx := slices.IndexFunc(users, func(u User) bool { return u.ID == userID })
		if idx < 0 {
			return nil, ErrUserNotFound
		}

		return slices.Delete(users, idx, idx+1), nil
	})
	if err != nil {
		return err
	}

	s.log.Info(logAccountDeleted, user.Username, user.Email)

	return nil
}

// InitDefaultAdmin creates admin@example.com / admin / admin123 unless an
// admin already exists. It reports whether an account was created.
func (s *Service) InitDefaultAdmin() (bool, error) {
	hash, err := s.hash(defaultAdminPassword)
	if err != nil {
		return false, err
	}

	created := false

	err = s.store.Mutate(func(users []User) ([]User, error) {
		if slices.ContainsFunc(users, func(u User) bool { return u.Role == RoleAdmin }) {
			return users, nil
		}

		created = true
		admin := User{
			ID:           adminIDPrefix + uuid.NewString(),
			Email:        defaultAdminEmail,
			Username:     defaultAdminUsername,
			PasswordHash: hash,
			CreatedAt:    s.now().UTC(),
			LastLogin:    nil,
			Role:         RoleAdmin,
		}

		return append(users, admin), nil
	})
	if err != nil {
		return false, err
	}

	if !created {
		s.log.Info(logAdminExists)

		return false, nil
	}

	s.log.Warn(logAdminCreated, defaultAdminEmail, defaultAdminUsername, defaultAdminPassword)

	return true, nil
}

func (s *Service) updateUser(id string, fn func(*User) error) error {
	return s.store.Mutate(func(users []User) ([]User, error) {
		idx := slices.IndexFunc(users, func(u User) bool { return u.ID == id })
		if idx < 0 {
			return nil, ErrUserNotFound
		}

		err := fn(&users[idx])
		if err != nil {
			return nil, err
		}

		return users, nil
	})
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}

	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hash), nil
}

func passwordMatches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// WeakPasswordError lists the strength rules a new password breaks.
type WeakPasswordError struct {
	Problems []string
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("%s: %s", ErrWeakPassword, strings.Join(e.Problems, ", "))
}

func (e *WeakPasswordError) Unwrap() error {
	return ErrWeakPassword
}
