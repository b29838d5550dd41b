// Package notify delivers auth notifications (verification and reset
// tokens, registration notices) to the platform's messaging collaborator.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/modforge/authcore"
	"github.com/modforge/authcore/internal/logger"
)

const (
	TopicEmailVerification = "modforge.auth.email_verification"
	TopicPasswordReset     = "modforge.auth.password_reset"
	TopicAccountRegistered = "modforge.auth.account_registered"

	EventEmailVerification = "auth.email_verification.requested"
	EventPasswordReset     = "auth.password_reset.requested"
	EventAccountRegistered = "auth.account.registered"
)

const (
	defaultSource       = "authd"
	defaultBatchSize    = 100
	defaultBatchTimeout = 10 * time.Millisecond

	verifyPath = "/verify"
	resetPath  = "/reset-password"
)

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures KafkaNotifier.
type KafkaConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
	Async        bool
	Source       string
	// FrontendURL is used to build the links embedded in verification and
	// reset events. Empty leaves Link unset.
	FrontendURL string
}

// KafkaNotifier publishes notification events for the mailer service.
type KafkaNotifier struct {
	writer      MessageWriter
	brokers     []string
	source      string
	frontendURL string
	logger      *slog.Logger
	now         func() time.Time
}

var _ authcore.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier builds a notifier over a kafka-go writer that waits for
// all in-sync replicas.
func NewKafkaNotifier(cfg KafkaConfig, log *slog.Logger) *KafkaNotifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		Async:                  cfg.Async,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}
	n := NewKafkaNotifierWithWriter(w, cfg, log)
	n.brokers = append([]string(nil), cfg.Brokers...)
	return n
}

// NewKafkaNotifierWithWriter builds a notifier over an existing writer.
func NewKafkaNotifierWithWriter(w MessageWriter, cfg KafkaConfig, log *slog.Logger) *KafkaNotifier {
	if log == nil {
		log = slog.Default()
	}
	source := cfg.Source
	if source == "" {
		source = defaultSource
	}
	return &KafkaNotifier{
		writer:      w,
		source:      source,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		logger:      log.With(slog.String("component", "notify")),
		now:         time.Now,
	}
}

func (n *KafkaNotifier) SendEmailVerification(ctx context.Context, account *authcore.Account, token string) error {
	return n.publish(ctx, TopicEmailVerification, EventEmailVerification, account.ID, EmailVerificationRequested{
		AccountID: account.ID,
		Username:  account.Username,
		Email:     account.Email,
		Token:     token,
		Link:      n.link(verifyPath, token),
	})
}

func (n *KafkaNotifier) SendPasswordReset(ctx context.Context, account *authcore.Account, token string) error {
	return n.publish(ctx, TopicPasswordReset, EventPasswordReset, account.ID, PasswordResetRequested{
		AccountID: account.ID,
		Username:  account.Username,
		Email:     account.Email,
		Token:     token,
		Link:      n.link(resetPath, token),
	})
}

func (n *KafkaNotifier) AccountRegistered(ctx context.Context, account *authcore.Account) error {
	return n.publish(ctx, TopicAccountRegistered, EventAccountRegistered, account.ID, AccountRegistered{
		AccountID: account.ID,
		Username:  account.Username,
		Email:     account.Email,
		Tier:      account.Tier,
		CreatedAt: account.CreatedAt,
	})
}

func (n *KafkaNotifier) publish(ctx context.Context, topic, eventType, accountID string, data any) error {
	ev, err := NewEvent(eventType, accountID, n.source, n.now(), data)
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	ev.CorrelationID = logger.CorrelationIDFromContext(ctx)

	payload, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(accountID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "source", Value: []byte(n.source)},
		},
	}
	if ev.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "correlation_id", Value: []byte(ev.CorrelationID)})
	}

	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.logger.ErrorContext(ctx, "publish notification failed",
			slog.String("topic", topic),
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	n.logger.DebugContext(ctx, "notification published",
		slog.String("topic", topic),
		slog.String("event_id", ev.EventID),
		slog.String("account_id", accountID),
	)
	return nil
}

func (n *KafkaNotifier) link(path, token string) string {
	return buildLink(n.frontendURL, path, token)
}

func buildLink(base, path, token string) string {
	if base == "" {
		return ""
	}
	return base + path + "?token=" + url.QueryEscape(token)
}

// Ping dials the configured brokers and succeeds when one answers.
func (n *KafkaNotifier) Ping(ctx context.Context) error {
	if len(n.brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	var lastErr error
	for _, addr := range n.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("kafka ping: all brokers unreachable: %w", lastErr)
}

// Close flushes pending messages.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
