package usecase

import (
	"context"

	credentialdomain "safe-backend/internal/credential/domain"
	insightdomain "safe-backend/internal/insight/domain"
	"safe-backend/pkg/queue"
)

// InsightUsecase defines the email synchronization entry points exposed to
// the API layer and the background worker.
type InsightUsecase interface {
	// FetchInsights is the primary read path: credential lookup, token
	// validation, full or incremental sync, then aggregation. Provider
	// failures surface as an empty-but-typed result, never an error.
	FetchInsights(ctx context.Context, userID, projectID string, forceRefresh bool) (*insightdomain.Insights, error)
	// FetchMessageBody lazily fetches one message body from the provider.
	// Bodies are not cached and not part of the stored Email record.
	FetchMessageBody(ctx context.Context, userID, messageID string) (string, error)
	// StoreCredential persists the token pair after the OAuth callback and
	// resolves the connected account address.
	StoreCredential(ctx context.Context, userID, accessToken, refreshToken string) (*credentialdomain.OAuthCredential, error)
	// Disconnect stops the mailbox watch and removes the credential.
	Disconnect(ctx context.Context, userID string) error
	// SyncOnNotification runs incremental syncs for every project of the
	// mailbox identified by accountEmail (Gmail push path).
	SyncOnNotification(ctx context.Context, accountEmail string)
	// HandleSyncJob is the retry queue handler: it repeats the full sync and
	// publishes the result into the insight cache.
	HandleSyncJob(ctx context.Context, job queue.SyncJob) error
}
