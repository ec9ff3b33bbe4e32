package messaging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewConsumer(t *testing.T) {
	consumer, err := NewConsumer("slack", SlackOptions{Token: "xoxb", CanvasEnabled: true})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if consumer.Name() != "slack" {
		t.Errorf("Name = %q", consumer.Name())
	}
	if _, err := NewConsumer("carrier-pigeon", SlackOptions{}); err == nil {
		t.Error("unknown platform should fail")
	}
	if _, err := NewConsumer("", SlackOptions{}); err == nil {
		t.Error("empty platform should fail")
	}
}

func TestTruncateTitle(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"this one is too long", 10, "this one …"},
		{"研究チームの進捗まとめ", 5, "研究チー…"},
		{"anything", 0, "anything"},
		{"ab", 1, "…"},
	}
	for _, c := range cases {
		got := TruncateTitle(c.in, c.max)
		if got != c.want {
			t.Errorf("TruncateTitle(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("TruncateTitle(%q, %d) produced invalid UTF-8", c.in, c.max)
		}
	}
}

func slackServer(t *testing.T, calls *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/")
		*calls = append(*calls, method)
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-test" {
			t.Errorf("auth header = %q", got)
		}
		switch method {
		case "canvases.create":
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "canvas_id": "F123"})
		case "canvases.access.set":
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		case "files.info":
			if got := r.URL.Query().Get("file"); got != "F123" {
				t.Errorf("file = %q", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true, "file": map[string]any{"permalink": "https://slack.test/canvas/F123"},
			})
		case "chat.postMessage":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["channel"] != "C42" {
				t.Errorf("channel = %v", body["channel"])
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		default:
			t.Errorf("unexpected method %s", method)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "unknown_method"})
		}
	}))
}

func TestSlackCanvasFlow(t *testing.T) {
	var calls []string
	server := slackServer(t, &calls)
	defer server.Close()

	consumer := NewSlackConsumer(SlackOptions{
		Token: "xoxb-test", ChannelID: "C42", CanvasEnabled: true, BaseURL: server.URL,
	})

	link, err := consumer.SendDocument(context.Background(), "QBio Research 2025-07-21", "# details")
	if err != nil {
		t.Fatalf("SendDocument: %v", err)
	}
	if link != "https://slack.test/canvas/F123" {
		t.Errorf("link = %q", link)
	}
	want := []string{"canvases.create", "canvases.access.set", "files.info"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestSlackAPIErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "invalid_auth"})
	}))
	defer server.Close()

	consumer := NewSlackConsumer(SlackOptions{Token: "bad", ChannelID: "C42", BaseURL: server.URL})
	err := consumer.SendMessage(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "invalid_auth") {
		t.Errorf("err = %v", err)
	}
}

func TestSendDocumentCanvasDisabled(t *testing.T) {
	consumer := NewSlackConsumer(SlackOptions{
		Token: "xoxb-test", CanvasEnabled: false, DetailsLink: "https://wiki.test/daily",
	})
	link, err := consumer.SendDocument(context.Background(), "t", "details")
	if err != nil {
		t.Fatalf("SendDocument: %v", err)
	}
	if link != "https://wiki.test/daily" {
		t.Errorf("link = %q", link)
	}
	if !consumer.SupportsDocuments() {
		t.Error("a static details link still counts as document support")
	}

	noLink := NewSlackConsumer(SlackOptions{Token: "xoxb-test", CanvasEnabled: false})
	if noLink.SupportsDocuments() {
		t.Error("no canvas and no link should mean no document support")
	}
}

func TestPostSummaryCanvasDisabledUsesDetailsLink(t *testing.T) {
	var calls, texts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, strings.TrimPrefix(r.URL.Path, "/"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if text, ok := body["text"].(string); ok {
			texts = append(texts, text)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	consumer := NewSlackConsumer(SlackOptions{
		Token: "xoxb-test", ChannelID: "C42", CanvasEnabled: false,
		DetailsLink: "https://wiki.test/daily", BaseURL: server.URL,
	})
	err := PostSummary(context.Background(), consumer, "Title", "overview body", "# details", discard())
	if err != nil {
		t.Fatalf("PostSummary: %v", err)
	}
	if strings.Join(calls, ",") != "chat.postMessage" {
		t.Errorf("calls = %v, want only chat.postMessage", calls)
	}
	if len(texts) != 1 || !strings.Contains(texts[0], "Details: https://wiki.test/daily") {
		t.Errorf("posted texts = %v, want the configured details link", texts)
	}
}

type recordingConsumer struct {
	messages  []string
	documents []string
	docs      bool
}

func (r *recordingConsumer) Name() string            { return "recording" }
func (r *recordingConsumer) SupportsDocuments() bool { return r.docs }
func (r *recordingConsumer) SendMessage(ctx context.Context, text string) error {
	r.messages = append(r.messages, text)
	return nil
}
func (r *recordingConsumer) SendDocument(ctx context.Context, title, content string) (string, error) {
	r.documents = append(r.documents, title+": "+content)
	return "https://link.test/doc", nil
}

func TestPostSummaryWithDocuments(t *testing.T) {
	consumer := &recordingConsumer{docs: true}
	err := PostSummary(context.Background(), consumer, "QBio Research 2025-07-21", "overview text", "# details", discard())
	if err != nil {
		t.Fatalf("PostSummary: %v", err)
	}
	if len(consumer.documents) != 1 {
		t.Fatalf("documents = %v", consumer.documents)
	}
	if len(consumer.messages) != 1 {
		t.Fatalf("messages = %v", consumer.messages)
	}
	message := consumer.messages[0]
	if !strings.Contains(message, "overview text") || !strings.Contains(message, "https://link.test/doc") {
		t.Errorf("message = %q", message)
	}
}

func TestPostSummaryMessageOnly(t *testing.T) {
	consumer := &recordingConsumer{docs: false}
	err := PostSummary(context.Background(), consumer, "Title", "overview", "# details", discard())
	if err != nil {
		t.Fatalf("PostSummary: %v", err)
	}
	if len(consumer.documents) != 0 {
		t.Errorf("no documents expected, got %v", consumer.documents)
	}
	if len(consumer.messages) != 1 || strings.Contains(consumer.messages[0], "Details:") {
		t.Errorf("messages = %v", consumer.messages)
	}
}
