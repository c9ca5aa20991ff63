package repository

import (
	"errors"
	"time"

	credentialdomain "safe-backend/internal/credential/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// credentialRepository implements CredentialRepository interface
type credentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a new instance of credentialRepository
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{
		db: db,
	}
}

func (r *credentialRepository) GetByUserAndProvider(userID, provider string) (*credentialdomain.OAuthCredential, error) {
	var cred credentialdomain.OAuthCredential
	err := r.db.Where("user_id = ? AND provider = ?", userID, provider).First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepository) GetByAccountEmail(accountEmail string) (*credentialdomain.OAuthCredential, error) {
	var cred credentialdomain.OAuthCredential
	err := r.db.Where("account_email = ?", accountEmail).First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepository) Upsert(userID, provider, accessToken, refreshToken string) (*credentialdomain.OAuthCredential, error) {
	existing, err := r.GetByUserAndProvider(userID, provider)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if existing == nil {
		cred := &credentialdomain.OAuthCredential{
			ID:           uuid.New().String(),
			UserID:       userID,
			Provider:     provider,
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := r.db.Create(cred).Error; err != nil {
			return nil, err
		}
		return cred, nil
	}

	existing.AccessToken = accessToken
	// A refresh token is only issued on the first consent; never erase the
	// stored one when the provider omits it.
	if refreshToken != "" {
		existing.RefreshToken = refreshToken
	}
	existing.UpdatedAt = now
	if err := r.db.Save(existing).Error; err != nil {
		return nil, err
	}
	return existing, nil
}

func (r *credentialRepository) UpdateAccessToken(userID, provider, accessToken string) error {
	return r.db.Model(&credentialdomain.OAuthCredential{}).
		Where("user_id = ? AND provider = ?", userID, provider).
		Updates(map[string]interface{}{
			"access_token": accessToken,
			"updated_at":   time.Now(),
		}).Error
}

func (r *credentialRepository) UpdateHistoryID(userID, provider, historyID string) error {
	return r.db.Model(&credentialdomain.OAuthCredential{}).
		Where("user_id = ? AND provider = ?", userID, provider).
		Updates(map[string]interface{}{
			"history_id": historyID,
			"updated_at": time.Now(),
		}).Error
}

func (r *credentialRepository) UpdateAccountEmail(userID, provider, accountEmail string) error {
	return r.db.Model(&credentialdomain.OAuthCredential{}).
		Where("user_id = ? AND provider = ?", userID, provider).
		Updates(map[string]interface{}{
			"account_email": accountEmail,
			"updated_at":    time.Now(),
		}).Error
}

func (r *credentialRepository) Delete(userID, provider string) error {
	return r.db.Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&credentialdomain.OAuthCredential{}).Error
}
