// Package cache provides the insight read cache keyed by (user, project).
// Background sync workers publish results here; the read path checks it
// before falling back to a direct provider fetch.
package cache

import (
	"context"
	"time"

	insightdomain "safe-backend/internal/insight/domain"
)

// InsightCache is the shared read cache between sync workers and request
// handlers.
type InsightCache interface {
	Get(ctx context.Context, userID, projectID string) (*insightdomain.Insights, bool, error)
	Set(ctx context.Context, userID, projectID string, insights *insightdomain.Insights, ttl time.Duration) error
	Delete(ctx context.Context, userID, projectID string) error
}

func cacheKey(userID, projectID string) string {
	return "safe:insights:" + userID + ":" + projectID
}
