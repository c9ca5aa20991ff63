package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"safe-backend/internal/insight/usecase"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes to the Pub/Sub topic when
// a watched mailbox changes.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Service listens on the Gmail push subscription and triggers incremental
// syncs for the affected account.
type Service struct {
	pubsubClient   *pubsub.Client
	insightUsecase usecase.InsightUsecase
	topicName      string
	subName        string

	// Deduplication: track last historyId per account to avoid re-syncing on
	// duplicate deliveries.
	lastHistoryID map[string]uint64
	mu            sync.Mutex
}

func NewService(projectID, topicName, credentialsFile string, insightUsecase usecase.InsightUsecase) (*Service, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %v", err)
	}

	return &Service{
		pubsubClient:   client,
		insightUsecase: insightUsecase,
		topicName:      topicName,
		subName:        topicName + "-sub", // Convention: topic-sub
		lastHistoryID:  make(map[string]uint64),
	}, nil
}

func (s *Service) Start(ctx context.Context) {
	log.Printf("[PubSub] Starting notification service with topic: %s, subscription: %s", s.topicName, s.subName)

	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] Error checking subscription existence: %v", err)
		return
	}

	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			log.Printf("[PubSub] Error checking topic existence: %v", err)
			return
		}
		if !topicExists {
			log.Printf("[PubSub] Topic %s does not exist, cannot create subscription", s.topicName)
			return
		}

		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Printf("[PubSub] Failed to create subscription: %v", err)
			return
		}
		log.Printf("[PubSub] Created subscription: %s", s.subName)
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(ctx, msg)
		msg.Ack()
	})
	if err != nil {
		log.Printf("[PubSub] Error receiving messages: %v", err)
	}
}

func (s *Service) handleMessage(ctx context.Context, msg *pubsub.Message) {
	var notification GmailNotification
	if err := json.Unmarshal(msg.Data, &notification); err != nil {
		log.Printf("[PubSub] Failed to decode notification: %v", err)
		return
	}
	if notification.EmailAddress == "" {
		return
	}

	if s.isDuplicate(notification) {
		return
	}

	log.Printf("[PubSub] Mailbox change for %s (historyId %s)", notification.EmailAddress, strconv.FormatUint(notification.HistoryID, 10))
	s.insightUsecase.SyncOnNotification(ctx, notification.EmailAddress)
}

func (s *Service) isDuplicate(notification GmailNotification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastHistoryID[notification.EmailAddress]; ok && notification.HistoryID <= last {
		return true
	}
	s.lastHistoryID[notification.EmailAddress] = notification.HistoryID
	return false
}
