package repository

import insightdomain "safe-backend/internal/insight/domain"

// EmailRepository defines the interface for synchronized email storage.
type EmailRepository interface {
	// BulkInsert inserts a batch, skipping ids that already exist. Re-inserting
	// an existing id is a no-op, never an overwrite.
	BulkInsert(emails []*insightdomain.Email) error
	// DeleteByIDs removes the given provider message ids, restricted to the
	// (user, project) scope.
	DeleteByIDs(userID, projectID string, ids []string) error
	FindByUserAndProject(userID, projectID string, limit int) ([]*insightdomain.Email, error)
	CountByUserAndProject(userID, projectID string) (int64, error)
	// ListProjectIDs returns the distinct project ids that have synced emails
	// for a user, used to fan out push-triggered incremental syncs.
	ListProjectIDs(userID string) ([]string, error)
}
