package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/google/uuid"
)

const (
	// EventPasswordResetRequested is the event type and topic suffix.
	EventPasswordResetRequested = "auth.password_reset.requested"

	schemaVersion = "1.0"
)

type eventEnvelope struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Payload   any       `json:"payload"`
}

type passwordResetPayload struct {
	AccountID string    `json:"account_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// KafkaNotifier publishes reset notices for a mail service to deliver.
type KafkaNotifier struct {
	producer    sarama.AsyncProducer
	topicPrefix string
	logger      logging.Logger
	now         func() time.Time
	done        chan struct{}
	stopped     chan struct{}
}

// NewKafkaProducer builds a fire-and-forget async producer.
func NewKafkaProducer(brokers []string) (sarama.AsyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Flush.Frequency = 100 * time.Millisecond
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.Metadata.Retry.Max = 3
	cfg.Metadata.Retry.Backoff = 250 * time.Millisecond

	p, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return p, nil
}

// NewKafkaNotifier takes ownership of producer; Close closes it.
func NewKafkaNotifier(producer sarama.AsyncProducer, topicPrefix string, logger logging.Logger) *KafkaNotifier {
	n := &KafkaNotifier{
		producer:    producer,
		topicPrefix: topicPrefix,
		logger:      logger.With("module", "notify"),
		now:         time.Now,
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go n.handleErrors()
	return n
}

func (n *KafkaNotifier) handleErrors() {
	defer close(n.stopped)
	for {
		select {
		case err, ok := <-n.producer.Errors():
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			topic := ""
			if err.Msg != nil {
				topic = err.Msg.Topic
			}
			n.logger.Error(context.Background(), "kafka producer error",
				"error", err.Err, "topic", topic)
		case <-n.done:
			return
		}
	}
}

// TopicName prefixes eventType unless it already carries the prefix.
func (n *KafkaNotifier) TopicName(eventType string) string {
	if n.topicPrefix == "" {
		return eventType
	}
	prefix := n.topicPrefix + "."
	if strings.HasPrefix(eventType, prefix) {
		return eventType
	}
	return prefix + eventType
}

func (n *KafkaNotifier) PasswordResetRequested(ctx context.Context, notice models.PasswordResetNotice) error {
	envelope := eventEnvelope{
		EventID:   uuid.NewString(),
		EventType: EventPasswordResetRequested,
		UserID:    notice.AccountID,
		Timestamp: n.now().UTC(),
		Version:   schemaVersion,
		Payload: passwordResetPayload{
			AccountID: notice.AccountID,
			Username:  notice.Username,
			Email:     notice.Email,
			Token:     notice.Token,
			ExpiresAt: notice.ExpiresAt.UTC(),
		},
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: n.TopicName(EventPasswordResetRequested),
		Key:   sarama.StringEncoder(notice.AccountID),
		Value: sarama.ByteEncoder(b),
	}

	select {
	case n.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending messages and stops the error handler.
func (n *KafkaNotifier) Close() error {
	close(n.done)
	<-n.stopped
	if err := n.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
