// Package queue provides the background retry queue used when a live sync
// yields nothing: a later asynchronous attempt repeats the full sync without
// blocking the request.
package queue

import (
	"context"
	"time"
)

const (
	// MaxAttempts is the fixed retry budget; exhausted jobs are dropped.
	MaxAttempts = 5
	// BaseDelay is the starting delay for exponential backoff.
	BaseDelay = 3 * time.Second
)

// SyncJob is one background sync unit, keyed by (user, project).
type SyncJob struct {
	UserID      string `json:"user_id"`
	ProjectID   string `json:"project_id"`
	AccessToken string `json:"access_token"`
	Attempt     int    `json:"attempt"`
}

// Key identifies the job for de-duplication: at most one waiting or running
// job per (user, project) pair.
func (j SyncJob) Key() string {
	return j.UserID + ":" + j.ProjectID
}

// Handler processes one job attempt. A non-nil error schedules a retry until
// MaxAttempts is reached.
type Handler func(ctx context.Context, job SyncJob) error

// Queue is the retry queue backend. Enqueue reports false when a job for the
// same key is already in flight.
type Queue interface {
	Enqueue(ctx context.Context, job SyncJob) (bool, error)
	Start(handler Handler)
	Close() error
}

// Backoff returns the delay before the given retry attempt (1-based).
func Backoff(attempt int) time.Duration {
	delay := BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
