package usecase

import (
	authdomain "safe-backend/internal/auth/domain"
	authdto "safe-backend/internal/auth/dto"
)

// AuthUsecase defines session issuance and validation.
type AuthUsecase interface {
	Register(req *authdto.RegisterRequest) (*authdto.TokenResponse, error)
	Login(req *authdto.LoginRequest) (*authdto.TokenResponse, error)
	RefreshToken(refreshToken string) (*authdto.TokenResponse, error)
	Logout(refreshToken string) error
	ValidateToken(tokenString string) (*authdomain.User, error)
}
