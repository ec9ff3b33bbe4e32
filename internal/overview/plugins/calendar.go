package plugins

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// calendarPlugin lists upcoming events from an iCal feed over HTTP.
type calendarPlugin struct {
	enabled    bool
	feedURL    string
	days       int
	httpClient *http.Client
	now        func() time.Time
}

func newCalendar(enabled bool, settings Settings) (Plugin, error) {
	feedURL := settings.String("url", "")
	if enabled && feedURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	return &calendarPlugin{
		enabled:    enabled,
		feedURL:    feedURL,
		days:       settings.Int("days", 7),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}, nil
}

func (p *calendarPlugin) Name() string  { return "Upcoming Events" }
func (p *calendarPlugin) Enabled() bool { return p.enabled }

type calendarEvent struct {
	Summary string
	Start   time.Time
	AllDay  bool
}

func (p *calendarPlugin) Context(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		return "", fmt.Errorf("calendar: create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calendar: fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("calendar: status %d", resp.StatusCode)
	}

	events, err := parseICal(resp.Body)
	if err != nil {
		return "", err
	}

	now := p.now()
	horizon := now.AddDate(0, 0, p.days)
	var upcoming []calendarEvent
	for _, event := range events {
		if event.Start.Before(now.Truncate(24*time.Hour)) || event.Start.After(horizon) {
			continue
		}
		upcoming = append(upcoming, event)
	}
	if len(upcoming) == 0 {
		return "", nil
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].Start.Before(upcoming[j].Start) })

	var b strings.Builder
	for _, event := range upcoming {
		if event.AllDay {
			fmt.Fprintf(&b, "- %s: %s\n", event.Start.Format("Mon 2006-01-02"), event.Summary)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", event.Start.Format("Mon 2006-01-02 15:04"), event.Summary)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// parseICal extracts VEVENT summaries and start times. This is a deliberately
// small reader: folded lines are unfolded, everything but SUMMARY and DTSTART
// is ignored.
func parseICal(r io.Reader) ([]calendarEvent, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("calendar: read feed: %w", err)
	}

	var events []calendarEvent
	var current *calendarEvent
	for _, line := range lines {
		switch {
		case line == "BEGIN:VEVENT":
			current = &calendarEvent{}
		case line == "END:VEVENT":
			if current != nil && current.Summary != "" && !current.Start.IsZero() {
				events = append(events, *current)
			}
			current = nil
		case current == nil:
		case strings.HasPrefix(line, "SUMMARY"):
			if _, value, ok := strings.Cut(line, ":"); ok {
				current.Summary = strings.TrimSpace(value)
			}
		case strings.HasPrefix(line, "DTSTART"):
			name, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			start, allDay, err := parseICalTime(name, strings.TrimSpace(value))
			if err == nil {
				current.Start = start
				current.AllDay = allDay
			}
		}
	}
	return events, nil
}

func parseICalTime(name, value string) (time.Time, bool, error) {
	if strings.Contains(name, "VALUE=DATE") || len(value) == 8 {
		t, err := time.ParseInLocation("20060102", value, time.Local)
		return t, true, err
	}
	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse("20060102T150405Z", value)
		return t, false, err
	}
	location := time.Local
	if idx := strings.Index(name, "TZID="); idx >= 0 {
		tzid := name[idx+len("TZID="):]
		if semi := strings.IndexByte(tzid, ';'); semi >= 0 {
			tzid = tzid[:semi]
		}
		if loc, err := time.LoadLocation(tzid); err == nil {
			location = loc
		}
	}
	t, err := time.ParseInLocation("20060102T150405", value, location)
	return t, false, err
}
