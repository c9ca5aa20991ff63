package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	credentialdomain "safe-backend/internal/credential/domain"
	insightdomain "safe-backend/internal/insight/domain"
	"safe-backend/pkg/cache"
	"safe-backend/pkg/config"
	"safe-backend/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeEmailRepo struct {
	mu     sync.Mutex
	emails map[string]*insightdomain.Email // keyed by id:user:project
}

func newFakeEmailRepo() *fakeEmailRepo {
	return &fakeEmailRepo{emails: make(map[string]*insightdomain.Email)}
}

func (r *fakeEmailRepo) key(id, userID, projectID string) string {
	return id + ":" + userID + ":" + projectID
}

func (r *fakeEmailRepo) BulkInsert(emails []*insightdomain.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range emails {
		k := r.key(e.ID, e.UserID, e.ProjectID)
		if _, exists := r.emails[k]; exists {
			continue
		}
		r.emails[k] = e
	}
	return nil
}

func (r *fakeEmailRepo) DeleteByIDs(userID, projectID string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.emails, r.key(id, userID, projectID))
	}
	return nil
}

func (r *fakeEmailRepo) FindByUserAndProject(userID, projectID string, limit int) ([]*insightdomain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*insightdomain.Email
	for _, e := range r.emails {
		if e.UserID == userID && e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeEmailRepo) CountByUserAndProject(userID, projectID string) (int64, error) {
	emails, _ := r.FindByUserAndProject(userID, projectID, 0)
	return int64(len(emails)), nil
}

func (r *fakeEmailRepo) ListProjectIDs(userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range r.emails {
		if e.UserID == userID && !seen[e.ProjectID] {
			seen[e.ProjectID] = true
			out = append(out, e.ProjectID)
		}
	}
	return out, nil
}

type fakeCredRepo struct {
	mu   sync.Mutex
	cred *credentialdomain.OAuthCredential
}

func (r *fakeCredRepo) GetByUserAndProvider(userID, provider string) (*credentialdomain.OAuthCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cred == nil || r.cred.UserID != userID || r.cred.Provider != provider {
		return nil, nil
	}
	c := *r.cred
	return &c, nil
}

func (r *fakeCredRepo) GetByAccountEmail(accountEmail string) (*credentialdomain.OAuthCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cred == nil || r.cred.AccountEmail != accountEmail {
		return nil, nil
	}
	c := *r.cred
	return &c, nil
}

func (r *fakeCredRepo) Upsert(userID, provider, accessToken, refreshToken string) (*credentialdomain.OAuthCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cred == nil || r.cred.UserID != userID || r.cred.Provider != provider {
		r.cred = &credentialdomain.OAuthCredential{
			UserID:       userID,
			Provider:     provider,
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
		}
	} else {
		r.cred.AccessToken = accessToken
		if refreshToken != "" {
			r.cred.RefreshToken = refreshToken
		}
	}
	c := *r.cred
	return &c, nil
}

func (r *fakeCredRepo) UpdateAccessToken(userID, provider, accessToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cred != nil {
		r.cred.AccessToken = accessToken
	}
	return nil
}

func (r *fakeCredRepo) UpdateHistoryID(userID, provider, historyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cred != nil {
		r.cred.HistoryID = historyID
	}
	return nil
}

func (r *fakeCredRepo) UpdateAccountEmail(userID, provider, accountEmail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cred != nil {
		r.cred.AccountEmail = accountEmail
	}
	return nil
}

func (r *fakeCredRepo) Delete(userID, provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cred = nil
	return nil
}

// fakeProvider routes each method to an optional function field; unset
// methods succeed with zero values.
type fakeProvider struct {
	validateFn    func() error
	profileFn     func() (*insightdomain.Profile, error)
	listFn        func(pageToken string) ([]string, string, error)
	metaFn        func(messageID string) (*insightdomain.MessageMeta, error)
	bodyFn        func(messageID string) (string, error)
	listHistoryFn func(startHistoryID uint64, pageToken string) (*insightdomain.HistoryPage, error)

	onRefreshToken *oauth2.Token // when set, ValidateToken fires the callback first

	calls struct {
		sync.Mutex
		validate int
		profile  int
		list     int
		meta     int
		history  int
	}
}

func (p *fakeProvider) ValidateToken(ctx context.Context, accessToken, refreshToken string, onTokenRefresh insightdomain.TokenUpdateFunc) error {
	p.calls.Lock()
	p.calls.validate++
	p.calls.Unlock()
	if p.onRefreshToken != nil {
		if err := onTokenRefresh(p.onRefreshToken); err != nil {
			return err
		}
	}
	if p.validateFn != nil {
		return p.validateFn()
	}
	return nil
}

func (p *fakeProvider) GetProfile(ctx context.Context, accessToken, refreshToken string, onTokenRefresh insightdomain.TokenUpdateFunc) (*insightdomain.Profile, error) {
	p.calls.Lock()
	p.calls.profile++
	p.calls.Unlock()
	if p.profileFn != nil {
		return p.profileFn()
	}
	return &insightdomain.Profile{EmailAddress: "user@example.com", HistoryID: 1}, nil
}

func (p *fakeProvider) ListMessageIDs(ctx context.Context, accessToken, refreshToken, pageToken string, pageSize int64, onTokenRefresh insightdomain.TokenUpdateFunc) ([]string, string, error) {
	p.calls.Lock()
	p.calls.list++
	p.calls.Unlock()
	if p.listFn != nil {
		return p.listFn(pageToken)
	}
	return nil, "", nil
}

func (p *fakeProvider) GetMessageMeta(ctx context.Context, accessToken, refreshToken, messageID string, onTokenRefresh insightdomain.TokenUpdateFunc) (*insightdomain.MessageMeta, error) {
	p.calls.Lock()
	p.calls.meta++
	p.calls.Unlock()
	if p.metaFn != nil {
		return p.metaFn(messageID)
	}
	return &insightdomain.MessageMeta{ID: messageID, ReceivedAt: time.Now().UTC()}, nil
}

func (p *fakeProvider) GetMessageBody(ctx context.Context, accessToken, refreshToken, messageID string, onTokenRefresh insightdomain.TokenUpdateFunc) (string, error) {
	if p.bodyFn != nil {
		return p.bodyFn(messageID)
	}
	return "", nil
}

func (p *fakeProvider) ListHistory(ctx context.Context, accessToken, refreshToken string, startHistoryID uint64, pageToken string, onTokenRefresh insightdomain.TokenUpdateFunc) (*insightdomain.HistoryPage, error) {
	p.calls.Lock()
	p.calls.history++
	p.calls.Unlock()
	if p.listHistoryFn != nil {
		return p.listHistoryFn(startHistoryID, pageToken)
	}
	return &insightdomain.HistoryPage{}, nil
}

func (p *fakeProvider) Watch(ctx context.Context, accessToken, refreshToken, topicName string, onTokenRefresh insightdomain.TokenUpdateFunc) error {
	return nil
}

func (p *fakeProvider) Stop(ctx context.Context, accessToken, refreshToken string, onTokenRefresh insightdomain.TokenUpdateFunc) error {
	return nil
}

type fakeQueue struct {
	mu       sync.Mutex
	inflight map[string]bool
	jobs     []queue.SyncJob
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{inflight: make(map[string]bool)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, job queue.SyncJob) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight[job.Key()] {
		return false, nil
	}
	q.inflight[job.Key()] = true
	q.jobs = append(q.jobs, job)
	return true, nil
}

func (q *fakeQueue) Start(handler queue.Handler) {}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) jobCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func testConfig() *config.Config {
	return &config.Config{
		SyncPageSize:    100,
		EmailFetchLimit: 500,
		InsightCacheTTL: time.Minute,
	}
}

type fixture struct {
	emailRepo *fakeEmailRepo
	credRepo  *fakeCredRepo
	provider  *fakeProvider
	queue     *fakeQueue
	cache     cache.InsightCache
	usecase   InsightUsecase
}

func newFixture() *fixture {
	f := &fixture{
		emailRepo: newFakeEmailRepo(),
		credRepo:  &fakeCredRepo{},
		provider:  &fakeProvider{},
		queue:     newFakeQueue(),
		cache:     cache.NewMemoryCache(),
	}
	f.usecase = NewInsightUsecase(f.emailRepo, f.credRepo, f.provider, f.queue, f.cache, testConfig())
	return f
}

func (f *fixture) seedCredential(historyID string) {
	f.credRepo.cred = &credentialdomain.OAuthCredential{
		UserID:       "u1",
		Provider:     credentialdomain.ProviderGoogle,
		AccountEmail: "user@example.com",
		AccessToken:  "access",
		RefreshToken: "refresh",
		HistoryID:    historyID,
	}
}

func TestFetchInsightsNoCredential(t *testing.T) {
	f := newFixture()

	insights, err := f.usecase.FetchInsights(context.Background(), "u1", "p1", false)
	require.NoError(t, err)

	assert.False(t, insights.HasProvider)
	assert.False(t, insights.ReauthRequired)
	assert.Zero(t, insights.EmailCount)
	assert.Equal(t, 0, f.provider.calls.validate)
}

func TestFetchInsightsServesCache(t *testing.T) {
	f := newFixture()
	f.seedCredential("10")

	cached := &insightdomain.Insights{HasProvider: true, EmailCount: 7}
	require.NoError(t, f.cache.Set(context.Background(), "u1", "p1", cached, time.Minute))

	insights, err := f.usecase.FetchInsights(context.Background(), "u1", "p1", false)
	require.NoError(t, err)

	assert.Equal(t, 7, insights.EmailCount)
	// A cache hit never touches the provider.
	assert.Equal(t, 0, f.provider.calls.validate)
	assert.Equal(t, 0, f.provider.calls.history)
}

func TestFetchInsightsFullSync(t *testing.T) {
	f := newFixture()
	f.seedCredential("")

	f.provider.profileFn = func() (*insightdomain.Profile, error) {
		return &insightdomain.Profile{EmailAddress: "user@example.com", HistoryID: 42}, nil
	}
	f.provider.listFn = func(pageToken string) ([]string, string, error) {
		if pageToken == "" {
			return []string{"m1", "m2"}, "next", nil
		}
		return []string{"m3"}, "", nil
	}
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	f.provider.metaFn = func(messageID string) (*insightdomain.MessageMeta, error) {
		return &insightdomain.MessageMeta{ID: messageID, Subject: "urgent " + messageID, ReceivedAt: day}, nil
	}

	insights, err := f.usecase.FetchInsights(context.Background(), "u1", "p1", false)
	require.NoError(t, err)

	assert.True(t, insights.HasProvider)
	assert.Equal(t, 3, insights.EmailCount)
	assert.Equal(t, []insightdomain.ThreatCount{
		{Category: insightdomain.ThreatSuspicious, Count: 3},
	}, insights.ThreatCounts)

	// The cursor comes from the profile captured before the walk.
	cred, _ := f.credRepo.GetByUserAndProvider("u1", credentialdomain.ProviderGoogle)
	assert.Equal(t, "42", cred.HistoryID)

	// Result published to the read cache.
	cachedInsights, ok, err := f.cache.Get(context.Background(), "u1", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, cachedInsights.EmailCount)

	assert.Equal(t, 0, f.queue.jobCount())
}

func TestFullSyncAbortDiscardsBatch(t *testing.T) {
	f := newFixture()
	f.seedCredential("")

	f.provider.listFn = func(pageToken string) ([]string, string, error) {
		return []string{"m1", "m2", "m3"}, "", nil
	}
	f.provider.metaFn = func(messageID string) (*insightdomain.MessageMeta, error) {
		if messageID == "m2" {
			return nil, errors.New("rate limited")
		}
		return &insightdomain.MessageMeta{ID: messageID, ReceivedAt: time.Now().UTC()}, nil
	}

	insights, err := f.usecase.FetchInsights(context.Background(), "u1", "p1", false)
	require.NoError(t, err)

	// Partial data is never committed and the cursor never advances.
	count, _ := f.emailRepo.CountByUserAndProject("u1", "p1")
	assert.Zero(t, count)
	cred, _ := f.credRepo.GetByUserAndProvider("u1", credentialdomain.ProviderGoogle)
	assert.Equal(t, "", cred.HistoryID)

	// The empty result hedges with a queued retry.
	assert.Zero(t, insights.EmailCount)
	assert.Equal(t, 1, f.queue.jobCount())
}

func TestFetchInsightsReauthRequired(t *testing.T) {
	f := newFixture()
	f.seedCredential("10")
	f.provider.validateFn = func() error {
		return errors.New("invalid or expired access token")
	}

	insights, err := f.usecase.FetchInsights(context.Background(), "u1", "p1", false)
	require.NoError(t, err)

	assert.False(t, insights.HasProvider)
	assert.True(t, insights.ReauthRequired)
	// No sync is attempted with known-bad credentials.
	assert.Equal(t, 0, f.provider.calls.list)
	assert.Equal(t, 0, f.provider.calls.history)
}

func TestFetchInsightsRefreshedTokenPersisted(t *testing.T) {
	f := newFixture()
	f.seedCredential("")
	f.provider.onRefreshToken = &oauth2.Token{AccessToken: "fresh-access"}

	_, err := f.usecase.FetchInsights(context.Background(), "u1", "p1", false)
	require.NoError(t, err)

	cred, _ := f.credRepo.GetByUserAndProvider("u1", credentialdomain.ProviderGoogle)
	assert.Equal(t, "fresh-access", cred.AccessToken)
	// The stored refresh token survives a refresh response that omits one.
	assert.Equal(t, "refresh", cred.RefreshToken)
}

func TestEmptyMailboxQueuesOneRetry(t *testing.T) {
	f := newFixture()
	f.seedCredential("")

	insights, err := f.usecase.FetchInsights(context.Background(), "u1", "p1", true)
	require.NoError(t, err)
	assert.Zero(t, insights.EmailCount)

	// Repeat with force so the cache does not short-circuit; the queue still
	// holds a single job for the (user, project) pair.
	_, err = f.usecase.FetchInsights(context.Background(), "u1", "p1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.queue.jobCount())
}

func TestFetchInsightsIncrementalSync(t *testing.T) {
	f := newFixture()
	f.seedCredential("10")

	day := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	require.NoError(t, f.emailRepo.BulkInsert([]*insightdomain.Email{
		{ID: "old1", UserID: "u1", ProjectID: "p1", ReceivedAt: day},
		{ID: "old2", UserID: "u1", ProjectID: "p1", ReceivedAt: day},
	}))

	f.provider.listHistoryFn = func(startHistoryID uint64, pageToken string) (*insightdomain.HistoryPage, error) {
		assert.Equal(t, uint64(10), startHistoryID)
		return &insightdomain.HistoryPage{
			AddedIDs:   []string{"new1"},
			DeletedIDs: []string{"old2"},
			HistoryID:  20,
		}, nil
	}
	f.provider.metaFn = func(messageID string) (*insightdomain.MessageMeta, error) {
		return &insightdomain.MessageMeta{ID: messageID, ReceivedAt: day}, nil
	}

	insights, err := f.usecase.FetchInsights(context.Background(), "u1", "p1", false)
	require.NoError(t, err)

	assert.Equal(t, 2, insights.EmailCount)
	ids := make(map[string]bool)
	for _, e := range insights.Emails {
		ids[e.ID] = true
	}
	assert.True(t, ids["old1"])
	assert.True(t, ids["new1"])
	assert.False(t, ids["old2"])

	cred, _ := f.credRepo.GetByUserAndProvider("u1", credentialdomain.ProviderGoogle)
	assert.Equal(t, "20", cred.HistoryID)

	// Full walk is never triggered on the incremental path.
	assert.Equal(t, 0, f.provider.calls.list)
}

func TestStaleCursorKeepsSnapshot(t *testing.T) {
	f := newFixture()
	f.seedCredential("10")

	day := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	require.NoError(t, f.emailRepo.BulkInsert([]*insightdomain.Email{
		{ID: "old1", UserID: "u1", ProjectID: "p1", ReceivedAt: day},
	}))

	f.provider.listHistoryFn = func(startHistoryID uint64, pageToken string) (*insightdomain.HistoryPage, error) {
		return nil, insightdomain.ErrHistoryExpired
	}

	insights, err := f.usecase.FetchInsights(context.Background(), "u1", "p1", false)
	require.NoError(t, err)

	// Last-known-good snapshot is served; no silent full-sync fallback.
	assert.Equal(t, 1, insights.EmailCount)
	assert.Equal(t, 0, f.provider.calls.list)
	cred, _ := f.credRepo.GetByUserAndProvider("u1", credentialdomain.ProviderGoogle)
	assert.Equal(t, "10", cred.HistoryID)
}

func TestHandleSyncJob(t *testing.T) {
	f := newFixture()
	f.seedCredential("")

	f.provider.listFn = func(pageToken string) ([]string, string, error) {
		return []string{"m1"}, "", nil
	}

	job := queue.SyncJob{UserID: "u1", ProjectID: "p1", Attempt: 1}
	require.NoError(t, f.usecase.HandleSyncJob(context.Background(), job))

	cachedInsights, ok, err := f.cache.Get(context.Background(), "u1", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, cachedInsights.EmailCount)
}

func TestHandleSyncJobStillEmptyFails(t *testing.T) {
	f := newFixture()
	f.seedCredential("")

	job := queue.SyncJob{UserID: "u1", ProjectID: "p1", Attempt: 1}
	err := f.usecase.HandleSyncJob(context.Background(), job)
	assert.Error(t, err)
}

func TestHandleSyncJobDisconnectedUser(t *testing.T) {
	f := newFixture()

	job := queue.SyncJob{UserID: "ghost", ProjectID: "p1", Attempt: 1}
	assert.NoError(t, f.usecase.HandleSyncJob(context.Background(), job))
}

func TestSyncOnNotificationFansOut(t *testing.T) {
	f := newFixture()
	f.seedCredential("10")

	day := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	require.NoError(t, f.emailRepo.BulkInsert([]*insightdomain.Email{
		{ID: "a", UserID: "u1", ProjectID: "p1", ReceivedAt: day},
		{ID: "b", UserID: "u1", ProjectID: "p2", ReceivedAt: day},
	}))

	f.provider.listHistoryFn = func(startHistoryID uint64, pageToken string) (*insightdomain.HistoryPage, error) {
		return &insightdomain.HistoryPage{AddedIDs: []string{"pushed"}, HistoryID: 11}, nil
	}
	f.provider.metaFn = func(messageID string) (*insightdomain.MessageMeta, error) {
		return &insightdomain.MessageMeta{ID: messageID, ReceivedAt: day}, nil
	}

	f.usecase.SyncOnNotification(context.Background(), "user@example.com")

	// Both projects with synced mail got an incremental pass and a cache entry.
	for _, projectID := range []string{"p1", "p2"} {
		cachedInsights, ok, err := f.cache.Get(context.Background(), "u1", projectID)
		require.NoError(t, err)
		require.True(t, ok, "expected cache entry for %s", projectID)
		assert.Equal(t, 2, cachedInsights.EmailCount)
	}
}

func TestSyncOnNotificationUnknownAccount(t *testing.T) {
	f := newFixture()

	// Must not panic or sync anything for an unknown address.
	f.usecase.SyncOnNotification(context.Background(), "stranger@example.com")
	assert.Equal(t, 0, f.provider.calls.history)
}
