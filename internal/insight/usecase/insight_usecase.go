package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	credentialdomain "safe-backend/internal/credential/domain"
	credrepo "safe-backend/internal/credential/repository"
	insightdomain "safe-backend/internal/insight/domain"
	"safe-backend/internal/insight/repository"
	"safe-backend/pkg/cache"
	"safe-backend/pkg/config"
	"safe-backend/pkg/queue"

	"golang.org/x/oauth2"
)

// ErrReauthRequired means the refresh token is missing or the refresh
// exchange was rejected; only the user re-authorizing can recover. The sync
// path never proceeds with known-bad credentials.
var ErrReauthRequired = errors.New("provider credentials require re-authorization")

// insightUsecase implements InsightUsecase interface
type insightUsecase struct {
	emailRepo      repository.EmailRepository
	credentialRepo credrepo.CredentialRepository
	provider       insightdomain.MailProvider
	syncQueue      queue.Queue
	insightCache   cache.InsightCache
	config         *config.Config
}

// NewInsightUsecase creates a new instance of insightUsecase
func NewInsightUsecase(emailRepo repository.EmailRepository, credentialRepo credrepo.CredentialRepository, provider insightdomain.MailProvider, syncQueue queue.Queue, insightCache cache.InsightCache, cfg *config.Config) InsightUsecase {
	return &insightUsecase{
		emailRepo:      emailRepo,
		credentialRepo: credentialRepo,
		provider:       provider,
		syncQueue:      syncQueue,
		insightCache:   insightCache,
		config:         cfg,
	}
}

func (u *insightUsecase) FetchInsights(ctx context.Context, userID, projectID string, forceRefresh bool) (*insightdomain.Insights, error) {
	cred, err := u.credentialRepo.GetByUserAndProvider(userID, credentialdomain.ProviderGoogle)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		// Never connected; callers render a "connect account" affordance.
		return notConnectedInsights(false), nil
	}

	if !forceRefresh {
		if cached, ok, cacheErr := u.insightCache.Get(ctx, userID, projectID); cacheErr == nil && ok {
			return cached, nil
		}
	}

	if err := u.ensureValidToken(ctx, cred, forceRefresh); err != nil {
		if errors.Is(err, ErrReauthRequired) {
			return notConnectedInsights(true), nil
		}
		return nil, err
	}

	count, err := u.emailRepo.CountByUserAndProject(userID, projectID)
	if err != nil {
		return nil, err
	}

	if forceRefresh || cred.HistoryID == "" || count == 0 {
		if syncErr := u.fullSync(ctx, cred, projectID); syncErr != nil {
			// Swallowed at this boundary: the caller gets whatever is stored
			// plus a queued retry, never an error.
			log.Printf("[Sync] Full sync failed for user %s project %s: %v", userID, projectID, syncErr)
		}
	} else {
		if syncErr := u.incrementalSync(ctx, cred, projectID); syncErr != nil {
			// Keep serving the last-known-good snapshot.
			log.Printf("[Sync] Incremental sync failed for user %s project %s: %v", userID, projectID, syncErr)
		}
	}

	insights, err := u.buildInsights(userID, projectID)
	if err != nil {
		return nil, err
	}

	// An empty mailbox right after connect is more likely a transient API
	// issue than truly empty; hedge with one asynchronous retry.
	if insights.EmailCount == 0 {
		u.enqueueRetry(ctx, cred, projectID)
	}

	if err := u.insightCache.Set(ctx, userID, projectID, insights, u.config.InsightCacheTTL); err != nil {
		log.Printf("[Sync] Failed to cache insights for user %s project %s: %v", userID, projectID, err)
	}

	return insights, nil
}

func (u *insightUsecase) FetchMessageBody(ctx context.Context, userID, messageID string) (string, error) {
	cred, err := u.credentialRepo.GetByUserAndProvider(userID, credentialdomain.ProviderGoogle)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", fmt.Errorf("no provider connected for user %s", userID)
	}
	return u.provider.GetMessageBody(ctx, cred.AccessToken, cred.RefreshToken, messageID, u.makeTokenUpdateCallback(cred))
}

func (u *insightUsecase) StoreCredential(ctx context.Context, userID, accessToken, refreshToken string) (*credentialdomain.OAuthCredential, error) {
	cred, err := u.credentialRepo.Upsert(userID, credentialdomain.ProviderGoogle, accessToken, refreshToken)
	if err != nil {
		return nil, err
	}

	// Resolve the connected account address so push notifications can be
	// routed back to this credential.
	profile, err := u.provider.GetProfile(ctx, cred.AccessToken, cred.RefreshToken, u.makeTokenUpdateCallback(cred))
	if err != nil {
		log.Printf("[Sync] Unable to resolve account email for user %s: %v", userID, err)
		return cred, nil
	}
	cred.AccountEmail = profile.EmailAddress
	if err := u.credentialRepo.UpdateAccountEmail(userID, cred.Provider, profile.EmailAddress); err != nil {
		log.Printf("[Sync] Failed to store account email for user %s: %v", userID, err)
	}

	if u.config.GoogleProjectID != "" {
		topic := fmt.Sprintf("projects/%s/topics/%s", u.config.GoogleProjectID, u.config.GooglePubSubTopic)
		if err := u.provider.Watch(ctx, cred.AccessToken, cred.RefreshToken, topic, u.makeTokenUpdateCallback(cred)); err != nil {
			log.Printf("[Sync] Failed to start mailbox watch for user %s: %v", userID, err)
		}
	}

	return cred, nil
}

func (u *insightUsecase) Disconnect(ctx context.Context, userID string) error {
	cred, err := u.credentialRepo.GetByUserAndProvider(userID, credentialdomain.ProviderGoogle)
	if err != nil {
		return err
	}
	if cred == nil {
		return nil
	}
	if err := u.provider.Stop(ctx, cred.AccessToken, cred.RefreshToken, u.makeTokenUpdateCallback(cred)); err != nil {
		log.Printf("[Sync] Failed to stop mailbox watch for user %s: %v", userID, err)
	}
	return u.credentialRepo.Delete(userID, cred.Provider)
}

func (u *insightUsecase) SyncOnNotification(ctx context.Context, accountEmail string) {
	cred, err := u.credentialRepo.GetByAccountEmail(accountEmail)
	if err != nil || cred == nil {
		if err != nil {
			log.Printf("[Sync] Credential lookup failed for %s: %v", accountEmail, err)
		}
		return
	}
	if cred.HistoryID == "" {
		return
	}

	projectIDs, err := u.emailRepo.ListProjectIDs(cred.UserID)
	if err != nil {
		log.Printf("[Sync] Project lookup failed for user %s: %v", cred.UserID, err)
		return
	}

	for _, projectID := range projectIDs {
		if err := u.incrementalSync(ctx, cred, projectID); err != nil {
			log.Printf("[Sync] Push-triggered sync failed for user %s project %s: %v", cred.UserID, projectID, err)
			continue
		}
		insights, err := u.buildInsights(cred.UserID, projectID)
		if err != nil {
			continue
		}
		if err := u.insightCache.Set(ctx, cred.UserID, projectID, insights, u.config.InsightCacheTTL); err != nil {
			log.Printf("[Sync] Failed to cache insights for user %s project %s: %v", cred.UserID, projectID, err)
		}
	}
}

// ensureValidToken is the token refresher: one cheap authenticated call
// decides Valid/Invalid, and the wrapped token source performs the refresh
// exchange when a refresh token exists. Any failure past that point means
// re-authorization.
func (u *insightUsecase) ensureValidToken(ctx context.Context, cred *credentialdomain.OAuthCredential, forceRefresh bool) error {
	if cred.RefreshToken == "" && forceRefresh {
		return ErrReauthRequired
	}

	err := u.provider.ValidateToken(ctx, cred.AccessToken, cred.RefreshToken, u.makeTokenUpdateCallback(cred))
	if err == nil {
		return nil
	}
	// The token source already attempted the refresh exchange before the
	// validation call failed, so there is nothing further to retry.
	return ErrReauthRequired
}

func (u *insightUsecase) makeTokenUpdateCallback(cred *credentialdomain.OAuthCredential) insightdomain.TokenUpdateFunc {
	return func(token *oauth2.Token) error {
		cred.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			cred.RefreshToken = token.RefreshToken
		}
		if _, err := u.credentialRepo.Upsert(cred.UserID, cred.Provider, token.AccessToken, token.RefreshToken); err != nil {
			return err
		}
		return nil
	}
}

// fullSync walks every message id page by page, staging header metadata in
// memory, and commits the whole batch in one duplicate-skipping insert only
// after the walk completes. The cursor is captured from the profile BEFORE
// the walk so mail arriving mid-walk is picked up by the next incremental
// sync instead of being lost.
func (u *insightUsecase) fullSync(ctx context.Context, cred *credentialdomain.OAuthCredential, projectID string) error {
	onRefresh := u.makeTokenUpdateCallback(cred)

	profile, err := u.provider.GetProfile(ctx, cred.AccessToken, cred.RefreshToken, onRefresh)
	if err != nil {
		return fmt.Errorf("unable to capture sync cursor: %v", err)
	}

	var staged []*insightdomain.Email
	pageToken := ""
	for {
		ids, nextToken, err := u.provider.ListMessageIDs(ctx, cred.AccessToken, cred.RefreshToken, pageToken, u.config.SyncPageSize, onRefresh)
		if err != nil {
			return fmt.Errorf("unable to list messages: %v", err)
		}

		for _, id := range ids {
			meta, err := u.provider.GetMessageMeta(ctx, cred.AccessToken, cred.RefreshToken, id, onRefresh)
			if err != nil {
				// Abort the whole walk; the staged batch is discarded so the
				// store either reflects the full walk or stays untouched.
				return fmt.Errorf("unable to fetch message %s: %v", id, err)
			}
			staged = append(staged, insightdomain.NewEmail(cred.UserID, projectID, meta))
		}

		if nextToken == "" {
			break
		}
		pageToken = nextToken
	}

	if err := u.emailRepo.BulkInsert(staged); err != nil {
		return fmt.Errorf("unable to store synced emails: %v", err)
	}

	historyID := strconv.FormatUint(profile.HistoryID, 10)
	if err := u.credentialRepo.UpdateHistoryID(cred.UserID, cred.Provider, historyID); err != nil {
		return fmt.Errorf("unable to store sync cursor: %v", err)
	}
	cred.HistoryID = historyID

	log.Printf("[Sync] Full sync stored %d emails for user %s project %s (cursor %s)", len(staged), cred.UserID, projectID, historyID)
	return nil
}

// incrementalSync applies provider change records since the stored cursor:
// added messages are fetched as header metadata and inserted with duplicate
// skip, deletions are applied scoped to (user, project), and the provider's
// new cursor is persisted as-is.
func (u *insightUsecase) incrementalSync(ctx context.Context, cred *credentialdomain.OAuthCredential, projectID string) error {
	startHistoryID, err := strconv.ParseUint(cred.HistoryID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid stored cursor %q: %v", cred.HistoryID, err)
	}

	onRefresh := u.makeTokenUpdateCallback(cred)

	var staged []*insightdomain.Email
	var deletedIDs []string
	var newHistoryID uint64
	pageToken := ""
	for {
		page, err := u.provider.ListHistory(ctx, cred.AccessToken, cred.RefreshToken, startHistoryID, pageToken, onRefresh)
		if err != nil {
			if errors.Is(err, insightdomain.ErrHistoryExpired) {
				// The stored snapshot stays as last-known-good; no automatic
				// full-sync fallback.
				return fmt.Errorf("stored cursor %s expired upstream: %v", cred.HistoryID, err)
			}
			return fmt.Errorf("unable to list history: %v", err)
		}

		for _, id := range page.AddedIDs {
			meta, err := u.provider.GetMessageMeta(ctx, cred.AccessToken, cred.RefreshToken, id, onRefresh)
			if err != nil {
				return fmt.Errorf("unable to fetch message %s: %v", id, err)
			}
			staged = append(staged, insightdomain.NewEmail(cred.UserID, projectID, meta))
		}
		deletedIDs = append(deletedIDs, page.DeletedIDs...)

		if page.HistoryID > 0 {
			newHistoryID = page.HistoryID
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if err := u.emailRepo.BulkInsert(staged); err != nil {
		return fmt.Errorf("unable to store synced emails: %v", err)
	}
	if err := u.emailRepo.DeleteByIDs(cred.UserID, projectID, deletedIDs); err != nil {
		return fmt.Errorf("unable to apply deletions: %v", err)
	}

	if newHistoryID > 0 {
		historyID := strconv.FormatUint(newHistoryID, 10)
		if err := u.credentialRepo.UpdateHistoryID(cred.UserID, cred.Provider, historyID); err != nil {
			return fmt.Errorf("unable to advance sync cursor: %v", err)
		}
		cred.HistoryID = historyID
	}

	log.Printf("[Sync] Incremental sync applied +%d/-%d for user %s project %s", len(staged), len(deletedIDs), cred.UserID, projectID)
	return nil
}

func (u *insightUsecase) buildInsights(userID, projectID string) (*insightdomain.Insights, error) {
	emails, err := u.emailRepo.FindByUserAndProject(userID, projectID, u.config.EmailFetchLimit)
	if err != nil {
		return nil, err
	}

	threatCounts, activity := Aggregate(emails)
	return &insightdomain.Insights{
		HasProvider:   true,
		EmailCount:    len(emails),
		ThreatCounts:  threatCounts,
		ActivityByDay: activity,
		Emails:        emails,
	}, nil
}

func (u *insightUsecase) enqueueRetry(ctx context.Context, cred *credentialdomain.OAuthCredential, projectID string) {
	enqueued, err := u.syncQueue.Enqueue(ctx, queue.SyncJob{
		UserID:      cred.UserID,
		ProjectID:   projectID,
		AccessToken: cred.AccessToken,
	})
	if err != nil {
		log.Printf("[Sync] Failed to enqueue retry for user %s project %s: %v", cred.UserID, projectID, err)
		return
	}
	if enqueued {
		log.Printf("[Sync] Enqueued background retry for user %s project %s", cred.UserID, projectID)
	}
}

// HandleSyncJob repeats the full sync out of band and publishes the result
// into the read cache so later reads observe it without an explicit refetch.
func (u *insightUsecase) HandleSyncJob(ctx context.Context, job queue.SyncJob) error {
	cred, err := u.credentialRepo.GetByUserAndProvider(job.UserID, credentialdomain.ProviderGoogle)
	if err != nil {
		return err
	}
	if cred == nil {
		// Disconnected since the job was queued; nothing to retry.
		return nil
	}

	if err := u.fullSync(ctx, cred, job.ProjectID); err != nil {
		return err
	}

	insights, err := u.buildInsights(job.UserID, job.ProjectID)
	if err != nil {
		return err
	}
	if insights.EmailCount == 0 {
		return fmt.Errorf("sync yielded no emails for user %s project %s", job.UserID, job.ProjectID)
	}

	return u.insightCache.Set(ctx, job.UserID, job.ProjectID, insights, u.config.InsightCacheTTL)
}

func notConnectedInsights(reauthRequired bool) *insightdomain.Insights {
	return &insightdomain.Insights{
		HasProvider:    false,
		ReauthRequired: reauthRequired,
		ThreatCounts:   []insightdomain.ThreatCount{},
		ActivityByDay:  []insightdomain.ActivityPoint{},
		Emails:         []*insightdomain.Email{},
	}
}
