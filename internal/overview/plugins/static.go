package plugins

import (
	"context"
	"strings"
)

// staticPlugin injects a fixed block of configured text.
type staticPlugin struct {
	enabled bool
	heading string
	text    string
}

func newStatic(enabled bool, settings Settings) (Plugin, error) {
	return &staticPlugin{
		enabled: enabled,
		heading: settings.String("heading", "Notes"),
		text:    strings.TrimSpace(settings.String("text", "")),
	}, nil
}

func (p *staticPlugin) Name() string  { return p.heading }
func (p *staticPlugin) Enabled() bool { return p.enabled }

func (p *staticPlugin) Context(ctx context.Context) (string, error) {
	return p.text, nil
}
