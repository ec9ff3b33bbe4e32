// Package notion talks to the Notion API and synchronizes workspace pages
// into the notes repository.
package notion

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

const defaultBaseURL = "https://api.notion.com/v1"

// Client is a thin wrapper over the Notion REST API.
type Client struct {
	apiKey     string
	apiVersion string
	baseURL    string
	pageSize   int
	httpClient *http.Client
}

// NewClient creates a Notion API client.
func NewClient(apiKey, apiVersion string, pageSize int) *Client {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &Client{
		apiKey:     apiKey,
		apiVersion: apiVersion,
		baseURL:    defaultBaseURL,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint; used in tests.
func (c *Client) SetBaseURL(base string) { c.baseURL = strings.TrimRight(base, "/") }

// Page is the metadata scribe keeps for one workspace page.
type Page struct {
	ID             string
	Title          string
	URL            string
	CreatedBy      string
	LastEditedBy   string
	CreatedTime    time.Time
	LastEditedTime time.Time
}

// User is one workspace member.
type User struct {
	ID   string
	Name string
	Type string
}

type richText struct {
	Type      string `json:"type"`
	PlainText string `json:"plain_text"`
	Text      struct {
		Content string `json:"content"`
	} `json:"text"`
}

func plainText(parts []richText) string {
	var b strings.Builder
	for _, part := range parts {
		if part.PlainText != "" {
			b.WriteString(part.PlainText)
		} else {
			b.WriteString(part.Text.Content)
		}
	}
	return b.String()
}

type objectPayload struct {
	Object         string     `json:"object"`
	ID             string     `json:"id"`
	URL            string     `json:"url"`
	CreatedTime    time.Time  `json:"created_time"`
	LastEditedTime time.Time  `json:"last_edited_time"`
	Title          []richText `json:"title"`
	CreatedBy      struct {
		ID string `json:"id"`
	} `json:"created_by"`
	LastEditedBy struct {
		ID string `json:"id"`
	} `json:"last_edited_by"`
	Properties map[string]struct {
		ID    string     `json:"id"`
		Type  string     `json:"type"`
		Title []richText `json:"title"`
	} `json:"properties"`
	Parent struct {
		Type       string `json:"type"`
		PageID     string `json:"page_id"`
		DatabaseID string `json:"database_id"`
	} `json:"parent"`
}

func (o *objectPayload) title() string {
	if len(o.Title) > 0 {
		return plainText(o.Title)
	}
	for _, prop := range o.Properties {
		if prop.Type == "title" && len(prop.Title) > 0 {
			return plainText(prop.Title)
		}
	}
	return "Untitled (" + shortID(o.ID) + ")"
}

func shortID(id string) string {
	id = NormalizeID(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// NormalizeID strips dashes and lowercases a page or user identifier.
func NormalizeID(id string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}

type listResponse struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor"`
}

type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("notion: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("notion: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Notion-Version", c.apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notion: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("notion: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("notion: %s %s: %s (%d)", method, path, apiErr.Message, resp.StatusCode)
		}
		return nil, fmt.Errorf("notion: %s %s: status %d", method, path, resp.StatusCode)
	}
	return respBody, nil
}

// paginate repeatedly calls one list endpoint until has_more is false or
// stop returns true.
func (c *Client) paginate(ctx context.Context, method, path string, payload map[string]any, stop func([]json.RawMessage) (bool, error)) error {
	cursor := ""
	for {
		var respBody []byte
		var err error
		if method == http.MethodGet {
			query := url.Values{"page_size": {fmt.Sprint(c.pageSize)}}
			if cursor != "" {
				query.Set("start_cursor", cursor)
			}
			respBody, err = c.do(ctx, method, path, query, nil)
		} else {
			body := map[string]any{"page_size": c.pageSize}
			for k, v := range payload {
				body[k] = v
			}
			if cursor != "" {
				body["start_cursor"] = cursor
			}
			respBody, err = c.do(ctx, method, path, nil, body)
		}
		if err != nil {
			return err
		}

		var page listResponse
		if err := json.Unmarshal(respBody, &page); err != nil {
			return fmt.Errorf("notion: decode list response: %w", err)
		}
		done, err := stop(page.Results)
		if err != nil {
			return err
		}
		if done || !page.HasMore {
			return nil
		}
		cursor = page.NextCursor
	}
}

// ChangedPagesSince returns pages edited at or after since, newest first.
// The search API sorts by last_edited_time, so pagination stops at the first
// entry outside the window.
func (c *Client) ChangedPagesSince(ctx context.Context, since time.Time) ([]Page, error) {
	payload := map[string]any{
		"sort": map[string]string{
			"direction": "descending",
			"timestamp": "last_edited_time",
		},
	}

	var pages []Page
	err := c.paginate(ctx, http.MethodPost, "/search", payload, func(results []json.RawMessage) (bool, error) {
		for _, raw := range results {
			var obj objectPayload
			if err := json.Unmarshal(raw, &obj); err != nil {
				return false, fmt.Errorf("notion: decode search result: %w", err)
			}
			if obj.LastEditedTime.Before(since) {
				return true, nil
			}
			if obj.Object != "page" {
				continue
			}
			pages = append(pages, Page{
				ID:             obj.ID,
				Title:          obj.title(),
				URL:            obj.URL,
				CreatedBy:      obj.CreatedBy.ID,
				LastEditedBy:   obj.LastEditedBy.ID,
				CreatedTime:    obj.CreatedTime,
				LastEditedTime: obj.LastEditedTime,
			})
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// Users returns every workspace member. Bot accounts are tagged so the
// userlist stays readable.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	err := c.paginate(ctx, http.MethodGet, "/users", nil, func(results []json.RawMessage) (bool, error) {
		for _, raw := range results {
			var entry struct {
				ID   string `json:"id"`
				Name string `json:"name"`
				Type string `json:"type"`
			}
			if err := json.Unmarshal(raw, &entry); err != nil {
				return false, fmt.Errorf("notion: decode user: %w", err)
			}
			name := entry.Name
			if name == "" {
				name = "Unknown"
			}
			if entry.Type == "bot" {
				name += " (Bot)"
			}
			users = append(users, User{ID: entry.ID, Name: name, Type: entry.Type})
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// User fetches a single workspace member by ID.
func (c *Client) User(ctx context.Context, id string) (User, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/users/"+id, nil, nil)
	if err != nil {
		return User{}, err
	}
	var entry struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(respBody, &entry); err != nil {
		return User{}, fmt.Errorf("notion: decode user: %w", err)
	}
	if entry.Name == "" {
		entry.Name = "Unknown"
	}
	return User{ID: entry.ID, Name: entry.Name, Type: entry.Type}, nil
}

// Ping verifies credentials and connectivity against the bot user endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/users/me", nil, nil)
	return err
}

// PagePath walks parent pages up to the workspace root and returns the
// hierarchical location, e.g. "Projects / Sequencing / Run 42".
func (c *Client) PagePath(ctx context.Context, pageID string) (string, error) {
	var parts []string
	currentID := pageID
	for depth := 0; currentID != "" && depth < 16; depth++ {
		obj, err := c.retrieveObject(ctx, currentID)
		if err != nil {
			if depth == 0 {
				return "", err
			}
			break // partial path is better than none
		}
		parts = append(parts, obj.title())
		switch obj.Parent.Type {
		case "page_id":
			currentID = obj.Parent.PageID
		case "database_id":
			currentID = obj.Parent.DatabaseID
		default:
			currentID = ""
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " / "), nil
}

func (c *Client) retrieveObject(ctx context.Context, id string) (*objectPayload, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/pages/"+id, nil, nil)
	if err != nil {
		// Databases live behind a different endpoint.
		respBody, err = c.do(ctx, http.MethodGet, "/databases/"+id, nil, nil)
		if err != nil {
			return nil, err
		}
	}
	var obj objectPayload
	if err := json.Unmarshal(respBody, &obj); err != nil {
		return nil, fmt.Errorf("notion: decode object: %w", err)
	}
	return &obj, nil
}
