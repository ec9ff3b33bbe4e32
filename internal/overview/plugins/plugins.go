// Package plugins provides the pluggable context sources whose output is
// embedded in the overview prompt.
package plugins

import (
	"context"
	"fmt"
)

// Plugin is one context source. Context returns an empty string when the
// plugin has nothing to contribute.
type Plugin interface {
	Name() string
	Enabled() bool
	Context(ctx context.Context) (string, error)
}

// Settings is the free-form configuration block of one plugin declaration.
type Settings map[string]any

// String returns a string-valued setting, or def when absent.
func (s Settings) String(key, def string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Float returns a numeric setting, or def when absent.
func (s Settings) Float(key string, def float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Int returns an integer setting, or def when absent.
func (s Settings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// Factory builds a plugin from its declaration.
type Factory func(enabled bool, settings Settings) (Plugin, error)

var registry = map[string]Factory{
	"date":     newDate,
	"static":   newStatic,
	"weather":  newWeather,
	"calendar": newCalendar,
}

// Register adds a factory under a plugin kind. Intended for tests and
// future sources; the built-in kinds are registered at init.
func Register(kind string, factory Factory) {
	registry[kind] = factory
}

// Decl is one entry of the context_plugins config mapping, in declared order.
type Decl struct {
	Kind     string
	Enabled  bool
	Settings Settings
}

// Build constructs plugin instances in declaration order. An unknown kind is
// a configuration error.
func Build(decls []Decl) ([]Plugin, error) {
	out := make([]Plugin, 0, len(decls))
	for _, decl := range decls {
		factory, ok := registry[decl.Kind]
		if !ok {
			return nil, fmt.Errorf("plugins: unknown context plugin %q", decl.Kind)
		}
		plugin, err := factory(decl.Enabled, decl.Settings)
		if err != nil {
			return nil, fmt.Errorf("plugins: build %q: %w", decl.Kind, err)
		}
		out = append(out, plugin)
	}
	return out, nil
}
