package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/modforge/authcore"
)

// LogNotifier writes notifications to a logger. It is meant for local
// development, where the logged link replaces the mailer.
type LogNotifier struct {
	logger      *slog.Logger
	frontendURL string
}

var _ authcore.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(log *slog.Logger, frontendURL string) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{
		logger:      log.With(slog.String("component", "notify")),
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

func (n *LogNotifier) SendEmailVerification(ctx context.Context, account *authcore.Account, token string) error {
	n.logger.InfoContext(ctx, "email verification requested",
		slog.String("account_id", account.ID),
		slog.String("email", account.Email),
		slog.String("link", buildLink(n.frontendURL, verifyPath, token)),
	)
	return nil
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, account *authcore.Account, token string) error {
	n.logger.InfoContext(ctx, "password reset requested",
		slog.String("account_id", account.ID),
		slog.String("email", account.Email),
		slog.String("link", buildLink(n.frontendURL, resetPath, token)),
	)
	return nil
}

func (n *LogNotifier) AccountRegistered(ctx context.Context, account *authcore.Account) error {
	n.logger.InfoContext(ctx, "account registered",
		slog.String("account_id", account.ID),
		slog.String("username", account.Username),
	)
	return nil
}
