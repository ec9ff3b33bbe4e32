// Package messaging posts the daily briefing to an outbound platform.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Consumer is one outbound platform.
type Consumer interface {
	Name() string
	SupportsDocuments() bool
	// SendMessage posts a plain notification message.
	SendMessage(ctx context.Context, text string) error
	// SendDocument publishes a titled rich document and returns its link.
	SendDocument(ctx context.Context, title, content string) (string, error)
}

// NewConsumer selects the active platform by name.
func NewConsumer(active string, slack SlackOptions) (Consumer, error) {
	switch active {
	case "slack":
		return NewSlackConsumer(slack), nil
	case "":
		return nil, fmt.Errorf("messaging: no active platform configured")
	default:
		return nil, fmt.Errorf("messaging: unknown platform %q", active)
	}
}

// PostSummary publishes one day's briefing: the details as a document when
// the platform supports them, then the overview as the notification message
// with a link to the details.
func PostSummary(ctx context.Context, consumer Consumer, title, overview, details string, logger *slog.Logger) error {
	var link string
	if consumer.SupportsDocuments() && strings.TrimSpace(details) != "" {
		var err error
		link, err = consumer.SendDocument(ctx, title, details)
		if err != nil {
			return fmt.Errorf("messaging: post document: %w", err)
		}
		logger.Info("document posted",
			slog.String("platform", consumer.Name()),
			slog.String("link", link))
	}

	message := "*" + title + "*\n\n" + strings.TrimSpace(overview)
	if link != "" {
		message += "\n\nDetails: " + link
	}
	if err := consumer.SendMessage(ctx, message); err != nil {
		return fmt.Errorf("messaging: post message: %w", err)
	}
	logger.Info("message posted", slog.String("platform", consumer.Name()))
	return nil
}
