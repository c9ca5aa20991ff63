package domain

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// TokenUpdateFunc is called when the provider transport refreshed the OAuth
// token, so the new access token can be persisted before the request returns.
type TokenUpdateFunc func(token *oauth2.Token) error

// ErrHistoryExpired is returned by ListHistory when the stored cursor is older
// than what the provider retains.
var ErrHistoryExpired = errors.New("provider history expired for stored cursor")

// Profile identifies the connected mailbox and its current change cursor.
type Profile struct {
	EmailAddress string
	HistoryID    uint64
}

// MessageMeta is the header-only view of a provider message fetched during
// sync. Bodies are fetched separately and never during sync.
type MessageMeta struct {
	ID         string
	ThreadID   string
	Snippet    string
	From       string
	To         string
	Subject    string
	ReceivedAt time.Time
	Labels     []string
}

// HistoryPage is one page of change records since a cursor.
type HistoryPage struct {
	AddedIDs      []string
	DeletedIDs    []string
	NextPageToken string
	// HistoryID is the provider's cursor after these changes; persisted as-is.
	HistoryID uint64
}

// MailProvider is the external email API boundary. Implementations must make
// one network call per method and surface refreshed tokens via the callback.
type MailProvider interface {
	ValidateToken(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) error
	GetProfile(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) (*Profile, error)
	ListMessageIDs(ctx context.Context, accessToken, refreshToken, pageToken string, pageSize int64, onTokenRefresh TokenUpdateFunc) ([]string, string, error)
	GetMessageMeta(ctx context.Context, accessToken, refreshToken, messageID string, onTokenRefresh TokenUpdateFunc) (*MessageMeta, error)
	GetMessageBody(ctx context.Context, accessToken, refreshToken, messageID string, onTokenRefresh TokenUpdateFunc) (string, error)
	ListHistory(ctx context.Context, accessToken, refreshToken string, startHistoryID uint64, pageToken string, onTokenRefresh TokenUpdateFunc) (*HistoryPage, error)
	Watch(ctx context.Context, accessToken, refreshToken, topicName string, onTokenRefresh TokenUpdateFunc) error
	Stop(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) error
}

// NewEmail normalizes provider message metadata into a stored Email record.
func NewEmail(userID, projectID string, meta *MessageMeta) *Email {
	return &Email{
		ID:         meta.ID,
		UserID:     userID,
		ProjectID:  projectID,
		ThreadID:   meta.ThreadID,
		Snippet:    meta.Snippet,
		Sender:     meta.From,
		Recipient:  meta.To,
		Subject:    meta.Subject,
		ReceivedAt: meta.ReceivedAt,
		Labels:     meta.Labels,
		CreatedAt:  time.Now(),
	}
}
