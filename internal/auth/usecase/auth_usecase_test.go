package usecase

import (
	"testing"
	"time"

	authdomain "safe-backend/internal/auth/domain"
	authdto "safe-backend/internal/auth/dto"
	"safe-backend/internal/auth/repository"
	"safe-backend/pkg/config"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupAuthUsecase(t *testing.T) AuthUsecase {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&authdomain.User{}, &authdomain.RefreshToken{}))

	cfg := &config.Config{
		JWTSecret:        "test-secret",
		JWTAccessExpiry:  15 * time.Minute,
		JWTRefreshExpiry: 24 * time.Hour,
	}
	return NewAuthUsecase(repository.NewUserRepository(db), cfg)
}

func registerReq() *authdto.RegisterRequest {
	return &authdto.RegisterRequest{
		Email:    "alice@example.com",
		Password: "secret123",
		Name:     "Alice",
	}
}

func TestRegisterAndLogin(t *testing.T) {
	uc := setupAuthUsecase(t)

	resp, err := uc.Register(registerReq())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	require.NotNil(t, resp.User)
	assert.Equal(t, "alice@example.com", resp.User.Email)
	// The stored hash never equals the plain password.
	assert.NotEqual(t, "secret123", resp.User.Password)

	loginResp, err := uc.Login(&authdto.LoginRequest{Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, loginResp.User.ID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	uc := setupAuthUsecase(t)

	_, err := uc.Register(registerReq())
	require.NoError(t, err)

	_, err = uc.Register(registerReq())
	assert.EqualError(t, err, "email already registered")
}

func TestLoginWrongPassword(t *testing.T) {
	uc := setupAuthUsecase(t)

	_, err := uc.Register(registerReq())
	require.NoError(t, err)

	_, err = uc.Login(&authdto.LoginRequest{Email: "alice@example.com", Password: "wrongpass"})
	assert.EqualError(t, err, "invalid email or password")

	_, err = uc.Login(&authdto.LoginRequest{Email: "nobody@example.com", Password: "secret123"})
	assert.EqualError(t, err, "invalid email or password")
}

func TestValidateToken(t *testing.T) {
	uc := setupAuthUsecase(t)

	resp, err := uc.Register(registerReq())
	require.NoError(t, err)

	user, err := uc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, user.ID)

	_, err = uc.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestRefreshTokenFlow(t *testing.T) {
	uc := setupAuthUsecase(t)

	resp, err := uc.Register(registerReq())
	require.NoError(t, err)

	refreshed, err := uc.RefreshToken(resp.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.Equal(t, resp.User.ID, refreshed.User.ID)
}

func TestRefreshTokenRevokedByLogout(t *testing.T) {
	uc := setupAuthUsecase(t)

	resp, err := uc.Register(registerReq())
	require.NoError(t, err)

	require.NoError(t, uc.Logout(resp.RefreshToken))

	// A logged-out refresh token is no longer stored, even though the JWT
	// itself has not expired.
	_, err = uc.RefreshToken(resp.RefreshToken)
	assert.EqualError(t, err, "refresh token expired")
}
