package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	insightdomain "safe-backend/internal/insight/domain"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// TokenUpdateFunc is a callback function that handles token updates
type TokenUpdateFunc = insightdomain.TokenUpdateFunc

var metadataHeaders = []string{"From", "To", "Subject", "Date"}

type Service struct {
	clientID     string
	clientSecret string
	breaker      *gobreaker.CircuitBreaker
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			log.Printf("[Gmail] Failed to persist refreshed token: %v", err)
		}
	}
	return t, nil
}

func NewService(clientID, clientSecret string) *Service {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "gmail-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[Gmail] Circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		breaker:      breaker,
	}
}

// getGmailService creates a Gmail client with the user's access token.
func (s *Service) getGmailService(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}

	// Only force refresh if we have a refresh token
	if refreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	tokenSource := config.TokenSource(ctx, token)

	// Wrap token source to detect refreshes
	wrappedSource := &notifyTokenSource{
		src:      tokenSource,
		current:  token,
		callback: onTokenRefresh,
	}

	client := oauth2.NewClient(ctx, wrappedSource)

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %v", err)
	}

	return srv, nil
}

// execute runs one provider call behind the circuit breaker.
func (s *Service) execute(call func() (interface{}, error)) (interface{}, error) {
	return s.breaker.Execute(call)
}

// ValidateToken validates the access token by making a simple API call
func (s *Service) ValidateToken(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) error {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return err
	}

	_, err = s.execute(func() (interface{}, error) {
		return srv.Users.GetProfile("me").Do()
	})
	if err != nil {
		return errors.New("invalid or expired access token")
	}

	return nil
}

// GetProfile returns the mailbox address and its current history id.
func (s *Service) GetProfile(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) (*insightdomain.Profile, error) {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	result, err := s.execute(func() (interface{}, error) {
		return srv.Users.GetProfile("me").Do()
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve profile: %v", err)
	}

	profile := result.(*gmail.Profile)
	return &insightdomain.Profile{
		EmailAddress: profile.EmailAddress,
		HistoryID:    profile.HistoryId,
	}, nil
}

// ListMessageIDs returns one page of message ids and the continuation token.
func (s *Service) ListMessageIDs(ctx context.Context, accessToken, refreshToken, pageToken string, pageSize int64, onTokenRefresh TokenUpdateFunc) ([]string, string, error) {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return nil, "", err
	}

	listQuery := srv.Users.Messages.List("me").MaxResults(pageSize)
	if pageToken != "" {
		listQuery = listQuery.PageToken(pageToken)
	}

	result, err := s.execute(func() (interface{}, error) {
		return listQuery.Do()
	})
	if err != nil {
		return nil, "", fmt.Errorf("unable to retrieve messages: %v", err)
	}

	resp := result.(*gmail.ListMessagesResponse)
	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		ids = append(ids, msg.Id)
	}
	return ids, resp.NextPageToken, nil
}

// GetMessageMeta fetches header metadata only (From/To/Subject/Date). Bodies
// are fetched lazily via GetMessageBody and never during sync.
func (s *Service) GetMessageMeta(ctx context.Context, accessToken, refreshToken, messageID string, onTokenRefresh TokenUpdateFunc) (*insightdomain.MessageMeta, error) {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	result, err := s.execute(func() (interface{}, error) {
		return srv.Users.Messages.Get("me", messageID).
			Format("metadata").
			MetadataHeaders(metadataHeaders...).
			Do()
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve message metadata: %v", err)
	}

	return convertMessageMeta(result.(*gmail.Message)), nil
}

// GetMessageBody fetches the full body of a single message.
func (s *Service) GetMessageBody(ctx context.Context, accessToken, refreshToken, messageID string, onTokenRefresh TokenUpdateFunc) (string, error) {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return "", err
	}

	result, err := s.execute(func() (interface{}, error) {
		return srv.Users.Messages.Get("me", messageID).Format("full").Do()
	})
	if err != nil {
		return "", fmt.Errorf("unable to retrieve message: %v", err)
	}

	body, _ := getEmailBody(result.(*gmail.Message).Payload)
	return body, nil
}

// ListHistory returns one page of change records since startHistoryID.
// A stale cursor surfaces as ErrHistoryExpired.
func (s *Service) ListHistory(ctx context.Context, accessToken, refreshToken string, startHistoryID uint64, pageToken string, onTokenRefresh TokenUpdateFunc) (*insightdomain.HistoryPage, error) {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	histQuery := srv.Users.History.List("me").StartHistoryId(startHistoryID)
	if pageToken != "" {
		histQuery = histQuery.PageToken(pageToken)
	}

	result, err := s.execute(func() (interface{}, error) {
		return histQuery.Do()
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return nil, insightdomain.ErrHistoryExpired
		}
		return nil, fmt.Errorf("unable to retrieve history: %v", err)
	}

	resp := result.(*gmail.ListHistoryResponse)
	page := &insightdomain.HistoryPage{
		NextPageToken: resp.NextPageToken,
		HistoryID:     resp.HistoryId,
	}
	for _, record := range resp.History {
		for _, added := range record.MessagesAdded {
			page.AddedIDs = append(page.AddedIDs, added.Message.Id)
		}
		for _, deleted := range record.MessagesDeleted {
			page.DeletedIDs = append(page.DeletedIDs, deleted.Message.Id)
		}
	}
	return page, nil
}

// Watch sets up push notifications for the user's mailbox
func (s *Service) Watch(ctx context.Context, accessToken, refreshToken, topicName string, onTokenRefresh TokenUpdateFunc) error {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return err
	}

	// Stop any existing watch first to avoid "Only one user push notification
	// client allowed" errors.
	_ = srv.Users.Stop("me").Do()

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}

	resp, err := srv.Users.Watch("me", req).Do()
	if err != nil {
		return fmt.Errorf("unable to watch mailbox: %v", err)
	}
	log.Printf("[Gmail] Watch started on topic %s, expiration: %d, historyId: %d", topicName, resp.Expiration, resp.HistoryId)

	return nil
}

// Stop stops push notifications for the user's mailbox
func (s *Service) Stop(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) error {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return err
	}

	if err := srv.Users.Stop("me").Do(); err != nil {
		return fmt.Errorf("unable to stop mailbox watch: %v", err)
	}

	return nil
}

// Helper functions

func convertMessageMeta(msg *gmail.Message) *insightdomain.MessageMeta {
	meta := &insightdomain.MessageMeta{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		Snippet:    msg.Snippet,
		ReceivedAt: time.Unix(msg.InternalDate/1000, 0).UTC(),
		Labels:     msg.LabelIds,
	}
	if msg.Payload != nil {
		meta.From = getHeader(msg.Payload.Headers, "From")
		meta.To = getHeader(msg.Payload.Headers, "To")
		meta.Subject = getHeader(msg.Payload.Headers, "Subject")
	}
	return meta
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func getEmailBody(payload *gmail.MessagePart) (string, bool) {
	if payload == nil {
		return "", false
	}

	// If the payload itself is the body
	if payload.Body != nil && payload.Body.Data != "" {
		data, err := decodeBody(payload.Body.Data)
		if err == nil {
			return data, payload.MimeType == "text/html"
		}
	}

	var htmlBody string
	var plainBody string

	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.MimeType == "text/html" {
				if part.Body != nil && part.Body.Data != "" {
					if data, err := decodeBody(part.Body.Data); err == nil {
						htmlBody = data
					}
				}
			} else if part.MimeType == "text/plain" {
				if part.Body != nil && part.Body.Data != "" {
					if data, err := decodeBody(part.Body.Data); err == nil {
						plainBody = data
					}
				}
			}

			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}

	findBody(payload.Parts)

	if htmlBody != "" {
		return htmlBody, true
	}
	return plainBody, false
}

func decodeBody(data string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
