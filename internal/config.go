// Package internal wires configuration into the scribe command entry points.
package internal

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	App           ApplicationConfig   `yaml:"app"`
	Paths         PathsConfig         `yaml:"paths"`
	Global        GlobalConfig        `yaml:"global"`
	Sync          SyncConfig          `yaml:"sync"`
	API           APIConfig           `yaml:"api"`
	ChangeSummary ChangeSummaryConfig `yaml:"change_summary"`
	Overview      OverviewConfig      `yaml:"overview"`
	Messaging     MessagingConfig     `yaml:"messaging"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Paths.Validate(); err != nil {
		return err
	}
	if err := c.Global.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.ChangeSummary.Validate(); err != nil {
		return err
	}
	if err := c.Overview.Validate(); err != nil {
		return err
	}
	return c.Messaging.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// PathsConfig holds every filesystem location scribe reads or writes.
type PathsConfig struct {
	NotesRepository      string `yaml:"notes_repository"`
	ChangeSummaryOutput  string `yaml:"change_summary_output"`
	CheckpointFile       string `yaml:"checkpoint_file"`
	BlacklistFile        string `yaml:"blacklist_file"`
	UserlistFile         string `yaml:"userlist_file"`
	UserlistOverrideFile string `yaml:"userlist_override_file"`
	LedgerFile           string `yaml:"ledger_file"`
}

// Validate validates the paths configuration.
func (c *PathsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.NotesRepository, validation.Required),
		validation.Field(&c.ChangeSummaryOutput, validation.Required),
		validation.Field(&c.CheckpointFile, validation.Required),
	)
}

// GlobalConfig holds timezone and day-boundary settings shared by all stages.
type GlobalConfig struct {
	Timezone        string `yaml:"timezone"`
	LogicalDayStart int    `yaml:"logical_day_start"`
}

// Validate validates the global configuration.
func (c *GlobalConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Timezone, validation.Required),
		validation.Field(&c.LogicalDayStart, validation.Min(0), validation.Max(23)),
	); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("global: invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured timezone.
func (c *GlobalConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// SyncConfig controls the workspace-to-git synchronization.
type SyncConfig struct {
	DefaultLookbackDays int            `yaml:"default_lookback_days"`
	GitCommitTemplate   string         `yaml:"git_commit_template"`
	Markdown            MarkdownConfig `yaml:"markdown"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultLookbackDays, validation.Min(1)),
	)
}

// MarkdownConfig holds the note rendering templates.
type MarkdownConfig struct {
	DumpPathTemplate string `yaml:"dump_path_template"`
	HeaderTemplate   string `yaml:"header_template"`
}

// APIConfig groups external API credentials and tuning.
type APIConfig struct {
	Notion NotionConfig `yaml:"notion"`
	LLM    LLMConfig    `yaml:"llm"`
}

// Validate validates the API configuration.
func (c *APIConfig) Validate() error {
	if err := c.Notion.Validate(); err != nil {
		return err
	}
	return c.LLM.Validate()
}

// NotionConfig holds Notion API settings. The key may come from the
// NOTION_API_KEY environment variable instead of the config file.
type NotionConfig struct {
	APIKey     string `yaml:"api_key"`
	APIVersion string `yaml:"api_version"`
	PageSize   int    `yaml:"page_size"`
}

// Key returns the configured API key, falling back to NOTION_API_KEY.
func (c *NotionConfig) Key() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return os.Getenv("NOTION_API_KEY")
}

// Validate validates the Notion configuration.
func (c *NotionConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.PageSize, validation.Min(1), validation.Max(100)),
	); err != nil {
		return err
	}
	if c.Key() == "" {
		return fmt.Errorf("api.notion: missing API key (set api.notion.api_key or NOTION_API_KEY)")
	}
	return nil
}

// LLMConfig holds LLM API settings. The key may come from the LLM_API_KEY
// environment variable instead of the config file.
type LLMConfig struct {
	APIKey                 string `yaml:"key"`
	BaseURL                string `yaml:"base_url"`
	DiffSummarizationModel string `yaml:"diff_summarization_model"`
	OverviewModel          string `yaml:"overview_model"`
	JSONLOutputModel       string `yaml:"jsonl_output_model"`
	DiffPromptTemplate     string `yaml:"diff_prompt_template"`
	OverviewPromptTemplate string `yaml:"overview_prompt_template"`
	JSONLPromptTemplate    string `yaml:"jsonl_prompt_template"`
}

// Key returns the configured API key, falling back to LLM_API_KEY.
func (c *LLMConfig) Key() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return os.Getenv("LLM_API_KEY")
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c.Key() == "" {
		return fmt.Errorf("api.llm: missing API key (set api.llm.key or LLM_API_KEY)")
	}
	return nil
}

// ChangeSummaryConfig controls the diff summarization stage.
type ChangeSummaryConfig struct {
	MaxAgeByWeekday map[string]int `yaml:"max_age_by_weekday"`
	MaxDiffLength   int            `yaml:"max_diff_length"`
}

// Validate validates the change summary configuration.
func (c *ChangeSummaryConfig) Validate() error {
	for day, days := range c.MaxAgeByWeekday {
		if !validWeekday(day) {
			return fmt.Errorf("change_summary: invalid weekday in max_age_by_weekday: %q", day)
		}
		if days <= 0 {
			return fmt.Errorf("change_summary: max_age for %s must be positive, got %d", day, days)
		}
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxDiffLength, validation.Min(1)),
	)
}

// LookbackDays returns the configured lookback for the given weekday.
func (c *ChangeSummaryConfig) LookbackDays(weekday time.Weekday) int {
	if days, ok := c.MaxAgeByWeekday[WeekdayName(weekday)]; ok {
		return days
	}
	return 1
}

// WeekdayRanges labels the time spans mentioned in the overview prompt.
type WeekdayRanges struct {
	SummaryRange     string `yaml:"summary_range"`
	ForthcomingRange string `yaml:"forthcoming_range"`
}

// OverviewConfig controls the team overview generation stage.
type OverviewConfig struct {
	Language        string                    `yaml:"language"`
	LabInfo         string                    `yaml:"lab_info"`
	ContextPrefix   string                    `yaml:"context_information_prefix"`
	WeekdayRanges   map[string]*WeekdayRanges `yaml:"weekday_ranges"`
	ContextPlugins  PluginConfigs             `yaml:"context_plugins"`
	ExternalContent ExternalContentConfig     `yaml:"external_content"`
	JSONLOutput     JSONLOutputConfig         `yaml:"jsonl_output"`
}

// JSONLOutputConfig controls the machine-readable daily digest written
// alongside the prose overview.
type JSONLOutputConfig struct {
	Enabled    bool   `yaml:"enabled"`
	FileSuffix string `yaml:"file_suffix"`
}

// Validate validates the overview configuration.
func (c *OverviewConfig) Validate() error {
	for day := range c.WeekdayRanges {
		if !validWeekday(day) {
			return fmt.Errorf("overview: invalid weekday in weekday_ranges: %q", day)
		}
	}
	for _, source := range c.ExternalContent.Sources {
		if source.FileSuffix == "" {
			return fmt.Errorf("overview: external content source %q has no file_suffix", source.Name)
		}
	}
	return nil
}

// RangesFor returns the prompt range labels for a weekday, or nil when the
// weekday is excluded from overview generation.
func (c *OverviewConfig) RangesFor(weekday time.Weekday) *WeekdayRanges {
	ranges, ok := c.WeekdayRanges[WeekdayName(weekday)]
	if !ok {
		return nil
	}
	return ranges
}

// PluginConfig is one context plugin declaration. Settings are interpreted
// by the plugin registry.
type PluginConfig struct {
	Name     string
	Enabled  bool
	Settings map[string]any
}

// PluginConfigs preserves the declaration order of the context_plugins
// mapping, which determines prompt section order.
type PluginConfigs []PluginConfig

// UnmarshalYAML decodes a YAML mapping while keeping key order.
func (p *PluginConfigs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("context_plugins must be a mapping")
	}
	out := make(PluginConfigs, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		name := value.Content[i].Value
		settings := map[string]any{}
		if err := value.Content[i+1].Decode(&settings); err != nil {
			return fmt.Errorf("context plugin %q: %w", name, err)
		}
		enabled := true
		if v, ok := settings["enabled"].(bool); ok {
			enabled = v
		}
		out = append(out, PluginConfig{Name: name, Enabled: enabled, Settings: settings})
	}
	*p = out
	return nil
}

// ExternalContentConfig declares optional per-date Markdown inputs for the
// overview prompt.
type ExternalContentConfig struct {
	Enabled bool             `yaml:"enabled"`
	Sources []ExternalSource `yaml:"sources"`
}

// ExternalSource is one external content file keyed by date and suffix.
type ExternalSource struct {
	Name        string `yaml:"name"`
	FileSuffix  string `yaml:"file_suffix"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// MessagingConfig selects and configures the outbound platform.
type MessagingConfig struct {
	Active string      `yaml:"active"`
	Slack  SlackConfig `yaml:"slack"`
}

// Validate validates the messaging configuration.
func (c *MessagingConfig) Validate() error {
	if c.Active == "" {
		return nil // posting is optional
	}
	if c.Active != "slack" {
		return fmt.Errorf("messaging: unknown platform %q (only \"slack\" is supported)", c.Active)
	}
	return c.Slack.Validate()
}

// SlackConfig holds Slack settings. The token may come from the SLACK_TOKEN
// environment variable instead of the config file.
type SlackConfig struct {
	APIToken            string `yaml:"token"`
	ChannelID           string `yaml:"channel_id"`
	HeaderMaxLength     int    `yaml:"header_max_length"`
	PostDetailsInCanvas *bool  `yaml:"post_details_in_canvas"`
	PostDetailsLink     string `yaml:"post_details_link"`
}

// Token returns the configured token, falling back to SLACK_TOKEN.
func (c *SlackConfig) Token() string {
	if c.APIToken != "" {
		return c.APIToken
	}
	return os.Getenv("SLACK_TOKEN")
}

// CanvasEnabled reports whether details are posted as a Canvas document.
func (c *SlackConfig) CanvasEnabled() bool {
	if c.PostDetailsInCanvas == nil {
		return true
	}
	return *c.PostDetailsInCanvas
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.Token() == "" {
		return fmt.Errorf("messaging.slack: missing token (set messaging.slack.token or SLACK_TOKEN)")
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.HeaderMaxLength, validation.Min(1)),
	)
}

// PipelineConfig holds settings for the full pipeline command.
type PipelineConfig struct {
	TitleFormat string `yaml:"title_format"`
}

// WeekdayName returns the lowercase English name used in config tables.
func WeekdayName(weekday time.Weekday) string {
	return strings.ToLower(weekday.String())
}

func validWeekday(name string) bool {
	switch name {
	case "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday":
		return true
	}
	return false
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Global: GlobalConfig{
			Timezone:        "UTC",
			LogicalDayStart: 4,
		},
		Sync: SyncConfig{
			DefaultLookbackDays: 7,
			GitCommitTemplate:   "Automated commit: {datetime}",
			Markdown: MarkdownConfig{
				DumpPathTemplate: "{noteid_0}/{noteid_1}/{noteid_2}/{noteid}.md",
				HeaderTemplate: "# {title}\n" +
					"- Page Location: {path}\n" +
					"- Last Edited By: {last_edited_by}\n" +
					"- Updated: {last_edited_time}\n",
			},
		},
		API: APIConfig{
			Notion: NotionConfig{
				APIVersion: "2022-06-28",
				PageSize:   100,
			},
			LLM: LLMConfig{
				BaseURL:                "https://generativelanguage.googleapis.com/v1beta",
				DiffSummarizationModel: "gemini-2.5-flash",
				OverviewModel:          "gemini-2.5-pro",
			},
		},
		ChangeSummary: ChangeSummaryConfig{
			MaxAgeByWeekday: map[string]int{
				"monday":    2,
				"tuesday":   1,
				"wednesday": 1,
				"thursday":  1,
				"friday":    1,
				"saturday":  1,
				"sunday":    1,
			},
			MaxDiffLength: 4000,
		},
		Overview: OverviewConfig{
			Language: "English",
			LabInfo:  "the research team",
			WeekdayRanges: map[string]*WeekdayRanges{
				"monday":    {SummaryRange: "last weekend", ForthcomingRange: "this week"},
				"tuesday":   {SummaryRange: "yesterday", ForthcomingRange: "today"},
				"wednesday": {SummaryRange: "yesterday", ForthcomingRange: "today"},
				"thursday":  {SummaryRange: "yesterday", ForthcomingRange: "today"},
				"friday":    {SummaryRange: "yesterday", ForthcomingRange: "today"},
				"saturday":  {SummaryRange: "yesterday", ForthcomingRange: "next week"},
				// no sunday entry: overview generation is skipped
			},
		},
		Messaging: MessagingConfig{
			Slack: SlackConfig{
				HeaderMaxLength: 150,
			},
		},
		Pipeline: PipelineConfig{
			TitleFormat: "QBio Research {date}",
		},
	}
}
