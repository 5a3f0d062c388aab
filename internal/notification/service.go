package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/usecase"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes on a mailbox change.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Syncer runs incremental syncs for the accounts bound to an address.
type Syncer interface {
	SyncAddress(ctx context.Context, provider domain.Provider, email string) usecase.SyncSummary
}

type Service struct {
	pubsubClient *pubsub.Client
	syncer       Syncer
	topicName    string
	subName      string
	logger       *slog.Logger

	mu sync.Mutex
	// last historyId seen per address; older or equal ids are duplicates
	lastHistoryID map[string]uint64
}

func NewService(ctx context.Context, projectID, topic, credentialsFile string, syncer Syncer, logger *slog.Logger) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	s := newService(syncer, ShortTopicName(topic), logger)
	s.pubsubClient = client
	return s, nil
}

func newService(syncer Syncer, topicName string, logger *slog.Logger) *Service {
	return &Service{
		syncer:        syncer,
		topicName:     topicName,
		subName:       topicName + "-sub", // Convention: topic-sub
		logger:        logger.With("component", "pubsub"),
		lastHistoryID: make(map[string]uint64),
	}
}

// ShortTopicName strips the "projects/<p>/topics/" prefix Gmail watch expects.
func ShortTopicName(topic string) string {
	if parts := strings.Split(topic, "/"); len(parts) > 1 {
		topic = parts[len(parts)-1]
	}
	if topic == "" {
		topic = "gmail-updates"
	}
	return topic
}

// Start blocks receiving push messages until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting notification service", "topic", s.topicName, "subscription", s.subName)

	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription: %w", err)
	}

	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			return fmt.Errorf("check topic: %w", err)
		}
		if !topicExists {
			return fmt.Errorf("topic %s does not exist", s.topicName)
		}

		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		s.logger.Info("created subscription", "subscription", s.subName)
	}

	// Syncs run inside the handler, so keep one in flight at a time.
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = 1

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.HandleMessage(ctx, msg.Data)
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

func (s *Service) Close() error {
	if s.pubsubClient == nil {
		return nil
	}
	return s.pubsubClient.Close()
}

// HandleMessage decodes one push payload and syncs the matching Gmail accounts.
// Malformed or duplicate payloads are dropped; it reports whether a sync ran.
func (s *Service) HandleMessage(ctx context.Context, data []byte) bool {
	var notification GmailNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		s.logger.Warn("failed to unmarshal notification", "error", err)
		return false
	}

	email := strings.ToLower(strings.TrimSpace(notification.EmailAddress))
	if email == "" {
		s.logger.Warn("notification without email address")
		return false
	}

	if !s.markSeen(email, notification.HistoryID) {
		s.logger.Debug("skipping duplicate notification", "email", email, "history_id", notification.HistoryID)
		return false
	}

	summary := s.syncer.SyncAddress(ctx, domain.ProviderGmail, email)
	s.logger.Info("push sync finished",
		"email", email,
		"history_id", notification.HistoryID,
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return true
}

func (s *Service) markSeen(email string, historyID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastHistoryID[email]; ok && historyID <= last {
		return false
	}
	s.lastHistoryID[email] = historyID
	return true
}
