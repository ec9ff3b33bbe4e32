package plugins

import (
	"context"
	"fmt"
	"time"
)

// datePlugin states the current date so the model does not have to guess it.
type datePlugin struct {
	enabled  bool
	location *time.Location
	now      func() time.Time
}

func newDate(enabled bool, settings Settings) (Plugin, error) {
	location := time.Local
	if tz := settings.String("timezone", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		location = loc
	}
	return &datePlugin{enabled: enabled, location: location, now: time.Now}, nil
}

func (p *datePlugin) Name() string  { return "Date" }
func (p *datePlugin) Enabled() bool { return p.enabled }

func (p *datePlugin) Context(ctx context.Context) (string, error) {
	now := p.now().In(p.location)
	return fmt.Sprintf("Today is %s, %s.", now.Weekday(), now.Format("2006-01-02")), nil
}
