package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultSlackBaseURL = "https://slack.com/api"

// SlackOptions configures the Slack consumer.
type SlackOptions struct {
	Token           string
	ChannelID       string
	HeaderMaxLength int
	// CanvasEnabled false degrades to message-only posting with an optional
	// static details link.
	CanvasEnabled bool
	DetailsLink   string
	BaseURL       string
}

// SlackConsumer posts briefings as a channel message plus a Canvas document.
type SlackConsumer struct {
	opts       SlackOptions
	httpClient *http.Client
}

// NewSlackConsumer creates a Slack Web API consumer.
func NewSlackConsumer(opts SlackOptions) *SlackConsumer {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultSlackBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.HeaderMaxLength <= 0 {
		opts.HeaderMaxLength = 150
	}
	return &SlackConsumer{
		opts:       opts,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the platform identifier.
func (s *SlackConsumer) Name() string { return "slack" }

// SupportsDocuments reports whether a details document can accompany the
// message: a Canvas, or the configured static link when Canvas posting is
// off.
func (s *SlackConsumer) SupportsDocuments() bool {
	return s.opts.CanvasEnabled || s.opts.DetailsLink != ""
}

type slackResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	CanvasID string `json:"canvas_id"`
	File     struct {
		Permalink string `json:"permalink"`
	} `json:"file"`
}

func (s *SlackConsumer) call(ctx context.Context, method string, payload any) (*slackResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("slack: marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("slack: read %s response: %w", method, err)
	}
	var decoded slackResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("slack: decode %s response: %w", method, err)
	}
	if !decoded.OK {
		return nil, fmt.Errorf("slack: %s failed: %s", method, decoded.Error)
	}
	return &decoded, nil
}

// SendMessage posts a message to the configured channel.
func (s *SlackConsumer) SendMessage(ctx context.Context, text string) error {
	_, err := s.call(ctx, "chat.postMessage", map[string]any{
		"channel": s.opts.ChannelID,
		"text":    text,
	})
	return err
}

// SendDocument creates a Canvas with the given Markdown content, shares it
// with the channel, and returns its permalink. With Canvas posting disabled
// it returns the configured static link instead.
func (s *SlackConsumer) SendDocument(ctx context.Context, title, content string) (string, error) {
	if !s.opts.CanvasEnabled {
		return s.opts.DetailsLink, nil
	}

	created, err := s.call(ctx, "canvases.create", map[string]any{
		"title": TruncateTitle(title, s.opts.HeaderMaxLength),
		"document_content": map[string]string{
			"type":     "markdown",
			"markdown": content,
		},
	})
	if err != nil {
		return "", err
	}

	if s.opts.ChannelID != "" {
		_, err = s.call(ctx, "canvases.access.set", map[string]any{
			"canvas_id":    created.CanvasID,
			"channel_ids":  []string{s.opts.ChannelID},
			"access_level": "read",
		})
		if err != nil {
			return "", err
		}
	}

	// Canvases are files underneath; files.info is where the permalink lives.
	info, err := s.callGet(ctx, "files.info", url.Values{"file": {created.CanvasID}})
	if err != nil {
		return "", err
	}
	return info.File.Permalink, nil
}

func (s *SlackConsumer) callGet(ctx context.Context, method string, query url.Values) (*slackResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.BaseURL+"/"+method+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.opts.Token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("slack: read %s response: %w", method, err)
	}
	var decoded slackResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("slack: decode %s response: %w", method, err)
	}
	if !decoded.OK {
		return nil, fmt.Errorf("slack: %s failed: %s", method, decoded.Error)
	}
	return &decoded, nil
}

// Ping verifies credentials against auth.test.
func (s *SlackConsumer) Ping(ctx context.Context) error {
	_, err := s.call(ctx, "auth.test", map[string]any{})
	return err
}

// TruncateTitle cuts a title to at most max characters, never splitting a
// rune, with a visible ellipsis when something was dropped.
func TruncateTitle(title string, max int) string {
	if max <= 0 {
		return title
	}
	runes := []rune(title)
	if len(runes) <= max {
		return title
	}
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
