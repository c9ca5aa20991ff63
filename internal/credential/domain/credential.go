package domain

import "time"

const ProviderGoogle = "google"

// OAuthCredential holds the token pair and sync cursor for one (user,
// provider) pair. At most one record exists per pair; updates overwrite in
// place and records are never deleted in normal operation, only superseded.
type OAuthCredential struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	UserID       string    `json:"user_id" gorm:"uniqueIndex:idx_user_provider;not null"`
	Provider     string    `json:"provider" gorm:"uniqueIndex:idx_user_provider;not null"`
	AccountEmail string    `json:"account_email" gorm:"index"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	HistoryID    string    `json:"history_id"`
	LabelFilter  string    `json:"label_filter,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
