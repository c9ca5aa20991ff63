package repository

import credentialdomain "safe-backend/internal/credential/domain"

// CredentialRepository defines the interface for OAuth credential storage.
// Lookups return (nil, nil) when no record exists so callers can distinguish
// "not connected" from an I/O error.
type CredentialRepository interface {
	GetByUserAndProvider(userID, provider string) (*credentialdomain.OAuthCredential, error)
	GetByAccountEmail(accountEmail string) (*credentialdomain.OAuthCredential, error)
	// Upsert overwrites the access token and bumps the update timestamp. The
	// refresh token is replaced only when a non-empty one is supplied; an
	// existing refresh token is never nulled out.
	Upsert(userID, provider, accessToken, refreshToken string) (*credentialdomain.OAuthCredential, error)
	UpdateAccessToken(userID, provider, accessToken string) error
	UpdateHistoryID(userID, provider, historyID string) error
	UpdateAccountEmail(userID, provider, accountEmail string) error
	Delete(userID, provider string) error
}
