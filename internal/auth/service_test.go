package auth_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/book-expert/llm-gateway/internal/auth"
	"github.com/book-expert/llm-gateway/internal/config"
)

const (
	testEmail    = "Reader@Example.com"
	testUsername = "reader"
	testPassword = "secret-pass"
	strongNew    = "N3w-Passw0rd!"
)

func newService(t *testing.T) (*auth.Service, string) {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "auth-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testLogger.Close() })

	usersFile := filepath.Join(t.TempDir(), "data", "users.json")
	cfg := config.AuthConfig{
		JWTSecret:             "access-secret",
		JWTRefreshSecret:      "refresh-secret",
		AccessTokenTTLMinutes: 60,
		RefreshTokenTTLHours:  168,
		BcryptCost:            bcrypt.MinCost,
		UsersFile:             usersFile,
	}

	return auth.NewService(cfg, testLogger), usersFile
}

func TestRegisterStoresLowercasedUser(t *testing.T) {
	t.Parallel()

	service, usersFile := newService(t)

	user, tokens, err := service.Register(testEmail, testUsername, testPassword)
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", user.Email)
	assert.Equal(t, auth.RoleUser, user.Role)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	info, err := os.Stat(usersFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	data, err := os.ReadFile(usersFile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "[\n  {"), "file is an indented JSON array")

	var stored []auth.User
	require.NoError(t, json.Unmarshal(data, &stored))
	require.Len(t, stored, 1)
	assert.NotEqual(t, testPassword, stored[0].PasswordHash)

	claims, err := service.VerifyAccess(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, testUsername, claims.Username)
	assert.False(t, claims.IsAdmin())
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	service, _ := newService(t)

	_, _, err := service.Register("", testUsername, testPassword)
	require.ErrorIs(t, err, auth.ErrMissingFields)

	_, _, err = service.Register(testEmail, testUsername, "12345")
	require.ErrorIs(t, err, auth.ErrPasswordTooShort)

	_, _, err = service.Register(testEmail, testUsername, testPassword)
	require.NoError(t, err)

	_, _, err = service.Register("READER@example.com", "someone-else", testPassword)
	require.ErrorIs(t, err, auth.ErrUserExists, "emails compare case-insensitively")

	_, _, err = service.Register("other@example.com", testUsername, testPassword)
	require.ErrorIs(t, err, auth.ErrUserExists)
}

func TestConcurrentRegistrationsAreAllStored(t *testing.T) {
	t.Parallel()

	service, _ := newService(t)

	const count = 8

	var wg sync.WaitGroup
	for i := range count {
		wg.Go(func() {
			name := "user" + string(rune('a'+i))
			_, _, err := service.Register(name+"@example.com", name, testPassword)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	users, err := service.ListUsers()
	require.NoError(t, err)
	assert.Len(t, users, count)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	service, _ := newService(t)

	registered, _, err := service.Register(testEmail, testUsername, testPassword)
	require.NoError(t, err)
	assert.Nil(t, registered.LastLogin)

	user, tokens, err := service.Login("READER@EXAMPLE.COM", testPassword)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.NotEmpty(t, tokens.AccessToken)

	stored, err := service.UserByID(registered.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLogin)

	_, _, err = service.Login(testEmail, "wrong-password")
	require.ErrorIs(t, err, auth.ErrLoginFailed)

	_, _, err = service.Login("nobody@example.com", testPassword)
	require.ErrorIs(t, err, auth.ErrLoginFailed)
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	service, _ := newService(t)

	user, tokens, err := service.Register(testEmail, testUsername, testPassword)
	require.NoError(t, err)

	refreshed, err := service.Refresh(tokens.RefreshToken)
	require.NoError(t, err)

	claims, err := service.VerifyAccess(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, err = service.Refresh(tokens.AccessToken)
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken, "access tokens are not refresh tokens")

	_, err = service.Refresh("garbage")
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)

	require.NoError(t, service.DeleteAccount(user.ID, testPassword))

	_, err = service.Refresh(tokens.RefreshToken)
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken, "deleted users cannot refresh")
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	service, _ := newService(t)

	user, _, err := service.Register(testEmail, testUsername, testPassword)
	require.NoError(t, err)

	err = service.ChangePassword(user.ID, testPassword, "", "")
	require.ErrorIs(t, err, auth.ErrPasswordFieldsRequired)

	err = service.ChangePassword(user.ID, testPassword, strongNew, strongNew+"x")
	require.ErrorIs(t, err, auth.ErrPasswordMismatch)

	err = service.ChangePassword(user.ID, testPassword, "weakpass", "weakpass")
	require.ErrorIs(t, err, auth.ErrWeakPassword)
	assert.Contains(t, err.Error(), "Password must contain at least one uppercase letter")

	err = service.ChangePassword(user.ID, "not-current", strongNew, strongNew)
	require.ErrorIs(t, err, auth.ErrCurrentPasswordWrong)

	err = service.ChangePassword("missing", testPassword, strongNew, strongNew)
	require.ErrorIs(t, err, auth.ErrUserNotFound)

	require.NoError(t, service.ChangePassword(user.ID, testPassword, strongNew, strongNew))

	_, _, err = service.Login(testEmail, testPassword)
	require.ErrorIs(t, err, auth.ErrLoginFailed)

	_, _, err = service.Login(testEmail, strongNew)
	require.NoError(t, err)
}

func TestDeleteAccount(t *testing.T) {
	t.Parallel()

	service, _ := newService(t)

	user, _, err := service.Register(testEmail, testUsername, testPassword)
	require.NoError(t, err)

	require.ErrorIs(t, service.DeleteAccount(user.ID, ""), auth.ErrPasswordRequired)
	require.ErrorIs(t, service.DeleteAccount(user.ID, "wrong"), auth.ErrPasswordIncorrect)
	require.ErrorIs(t, service.DeleteAccount("missing", testPassword), auth.ErrUserNotFound)
	require.NoError(t, service.DeleteAccount(user.ID, testPassword))

	_, err = service.UserByID(user.ID)
	require.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestInitDefaultAdmin(t *testing.T) {
	t.Parallel()

	service, _ := newService(t)

	created, err := service.InitDefaultAdmin()
	require.NoError(t, err)
	assert.True(t, created)

	created, err = service.InitDefaultAdmin()
	require.NoError(t, err)
	assert.False(t, created, "a second call keeps the existing admin")

	admin, tokens, err := service.Login("admin@example.com", "admin123")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, admin.Role)
	assert.True(t, strings.HasPrefix(admin.ID, "admin-"))

	claims, err := service.VerifyAccess(tokens.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())

	require.ErrorIs(t, service.DeleteAccount(admin.ID, "admin123"), auth.ErrAdminUndeletable)
}

func TestListUsersOmitsHashes(t *testing.T) {
	t.Parallel()

	service, _ := newService(t)

	_, _, err := service.Register(testEmail, testUsername, testPassword)
	require.NoError(t, err)

	users, err := service.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)

	encoded, err := json.Marshal(users)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "passwordHash")
}

func TestCorruptUsersFile(t *testing.T) {
	t.Parallel()

	service, usersFile := newService(t)

	require.NoError(t, os.MkdirAll(filepath.Dir(usersFile), 0o755))
	require.NoError(t, os.WriteFile(usersFile, []byte("{not json"), 0o644))

	_, err := service.ListUsers()
	require.Error(t, err)

	_, _, err = service.Register(testEmail, testUsername, testPassword)
	require.Error(t, err)

	data, err := os.ReadFile(usersFile)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data), "a failed read never rewrites the file")
}

func TestTokenIssuer(t *testing.T) {
	t.Parallel()

	user := &auth.User{
		ID:           "user-1",
		Email:        "a@example.com",
		Username:     "a",
		PasswordHash: "",
		CreatedAt:    time.Now(),
		LastLogin:    nil,
		Role:         auth.RoleAdmin,
	}

	issuer := auth.NewTokenIssuer("access", "refresh", time.Hour, 24*time.Hour)

	tokens, err := issuer.Issue(user)
	require.NoError(t, err)

	claims, err := issuer.VerifyAccess(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.True(t, claims.IsAdmin())

	userID, err := issuer.VerifyRefresh(tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = issuer.VerifyAccess(tokens.RefreshToken)
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	other := auth.NewTokenIssuer("different", "refresh", time.Hour, time.Hour)
	_, err = other.VerifyAccess(tokens.AccessToken)
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	expired := auth.NewTokenIssuer("access", "refresh", -time.Minute, -time.Minute)
	stale, err := expired.Issue(user)
	require.NoError(t, err)

	_, err = issuer.VerifyAccess(stale.AccessToken)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}
