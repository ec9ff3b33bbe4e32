package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qbiolab/scribe/internal/apperr"
	"github.com/qbiolab/scribe/internal/checkpoint"
	"github.com/qbiolab/scribe/internal/gitrepo"
	"github.com/qbiolab/scribe/internal/health"
	"github.com/qbiolab/scribe/internal/ledger"
	"github.com/qbiolab/scribe/internal/llm"
	"github.com/qbiolab/scribe/internal/messaging"
	"github.com/qbiolab/scribe/internal/notion"
	"github.com/qbiolab/scribe/internal/overview"
	"github.com/qbiolab/scribe/internal/overview/plugins"
	"github.com/qbiolab/scribe/internal/pipeline"
	"github.com/qbiolab/scribe/internal/storage"
	"github.com/qbiolab/scribe/internal/summary"
	"github.com/qbiolab/scribe/internal/timeutil"
	"github.com/qbiolab/scribe/internal/userdir"
	pkgconfig "github.com/qbiolab/scribe/pkg/config"
)

// LoadConfig locates and loads the configuration, applying defaults first.
func LoadConfig(explicit string) (*Config, error) {
	path, err := pkgconfig.Locate(explicit)
	if err != nil {
		return nil, err
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the structured JSON logger. quiet raises the level to
// error, verbose lowers it to debug.
func NewLogger(cfg *Config, quiet, verbose bool) *slog.Logger {
	level := cfg.App.LogLevel
	if quiet {
		level = slog.LevelError
	} else if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// application bundles the wiring shared by the commands.
type application struct {
	cfg      *Config
	logger   *slog.Logger
	location *time.Location
}

func newApplication(cfg *Config, logger *slog.Logger) (*application, error) {
	location, err := cfg.Global.Location()
	if err != nil {
		return nil, err
	}
	return &application{cfg: cfg, logger: logger, location: location}, nil
}

func (a *application) notionClient() *notion.Client {
	return notion.NewClient(a.cfg.API.Notion.Key(), a.cfg.API.Notion.APIVersion, a.cfg.API.Notion.PageSize)
}

func (a *application) llmClient() *llm.Client {
	return llm.NewClient(a.cfg.API.LLM.Key(), a.cfg.API.LLM.BaseURL)
}

func (a *application) userDirectory(client *notion.Client) *userdir.Directory {
	var fetch userdir.FetchFunc
	if client != nil {
		fetch = func(ctx context.Context) ([]userdir.Entry, error) {
			users, err := client.Users(ctx)
			if err != nil {
				return nil, err
			}
			entries := make([]userdir.Entry, 0, len(users))
			for _, user := range users {
				entries = append(entries, userdir.Entry{ID: user.ID, Name: user.Name})
			}
			return entries, nil
		}
	}
	return userdir.New(a.cfg.Paths.UserlistFile, a.cfg.Paths.UserlistOverrideFile, fetch, a.logger)
}

func (a *application) outputDir() (*storage.Dir, error) {
	if err := os.MkdirAll(a.cfg.Paths.ChangeSummaryOutput, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return storage.NewDir(a.cfg.Paths.ChangeSummaryOutput)
}

func (a *application) slackOptions() messaging.SlackOptions {
	slack := a.cfg.Messaging.Slack
	return messaging.SlackOptions{
		Token:           slack.Token(),
		ChannelID:       slack.ChannelID,
		HeaderMaxLength: slack.HeaderMaxLength,
		CanvasEnabled:   slack.CanvasEnabled(),
		DetailsLink:     slack.PostDetailsLink,
	}
}

// record writes one run to the ledger; ledger trouble is logged, never fatal.
func (a *application) record(ctx context.Context, command string, started time.Time, status string, items int, detail string) {
	if a.cfg.Paths.LedgerFile == "" {
		return
	}
	store, err := ledger.Open(a.cfg.Paths.LedgerFile)
	if err != nil {
		a.logger.Warn("ledger unavailable", slog.String("error", err.Error()))
		return
	}
	defer store.Close()
	err = store.Record(ctx, ledger.Run{
		Command:    command,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Status:     status,
		Items:      items,
		Detail:     detail,
	})
	if err != nil {
		a.logger.Warn("ledger write failed", slog.String("error", err.Error()))
	}
}

func runStatus(err error) (string, string) {
	if err == nil {
		return ledger.StatusOK, ""
	}
	if errors.Is(err, apperr.ErrPolicySkip) || errors.Is(err, apperr.ErrNothingToReport) {
		return ledger.StatusSkipped, err.Error()
	}
	return ledger.StatusFailed, err.Error()
}

// RunSync performs one workspace-to-git synchronization pass.
func RunSync(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}
	started := time.Now()

	repo, err := gitrepo.OpenOrInit(cfg.Paths.NotesRepository)
	if err != nil {
		return err
	}
	store, err := storage.NewDir(repo.Path())
	if err != nil {
		return err
	}
	client := app.notionClient()
	engine := notion.NewEngine(client, repo, store, checkpoint.NewStore(cfg.Paths.CheckpointFile),
		app.userDirectory(client),
		notion.EngineOptions{
			LookbackDays:     cfg.Sync.DefaultLookbackDays,
			DumpPathTemplate: cfg.Sync.Markdown.DumpPathTemplate,
			HeaderTemplate:   cfg.Sync.Markdown.HeaderTemplate,
			CommitTemplate:   cfg.Sync.GitCommitTemplate,
			BlacklistFile:    cfg.Paths.BlacklistFile,
			Location:         app.location,
		}, logger)

	result, err := engine.Run(ctx)
	status, detail := runStatus(err)
	app.record(ctx, "sync", started, status, result.Exported, detail)
	return err
}

// RunSyncUserlist refreshes the user directory from the workspace.
func RunSyncUserlist(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}
	started := time.Now()

	count, err := app.userDirectory(app.notionClient()).Refresh(ctx)
	status, detail := runStatus(err)
	app.record(ctx, "sync-userlist", started, status, count, detail)
	return err
}

// RunChangeSummary generates the day's individual change summary. It returns
// the number of qualifying commits so the pipeline can short-circuit.
func RunChangeSummary(ctx context.Context, cfg *Config, logger *slog.Logger, noWrite bool) (int, error) {
	app, err := newApplication(cfg, logger)
	if err != nil {
		return 0, err
	}
	started := time.Now()

	result, err := app.changeSummary(ctx, noWrite)
	if err == nil && noWrite && result.Content != "" {
		fmt.Println(result.Content)
	}
	status, detail := runStatus(err)
	if !noWrite {
		app.record(ctx, pipeline.StageIndividual, started, status, result.Written, detail)
	}
	return result.Commits, err
}

func (a *application) changeSummary(ctx context.Context, noWrite bool) (summary.Result, error) {
	repo, err := gitrepo.Open(a.cfg.Paths.NotesRepository)
	if err != nil {
		return summary.Result{}, err
	}
	output, err := a.outputDir()
	if err != nil {
		return summary.Result{}, err
	}
	gen := summary.New(repo, a.llmClient(), a.userDirectory(a.notionClient()), output,
		summary.Options{
			Model:          a.cfg.API.LLM.DiffSummarizationModel,
			PromptTemplate: a.cfg.API.LLM.DiffPromptTemplate,
			MaxDiffLength:  a.cfg.ChangeSummary.MaxDiffLength,
			LookbackDays:   a.cfg.ChangeSummary.LookbackDays,
			BoundaryHour:   a.cfg.Global.LogicalDayStart,
			Location:       a.location,
		}, a.logger)
	return gen.Run(ctx, time.Now(), !noWrite)
}

// RunOverview generates the day's team overview. Policy skips and empty days
// are informational, not errors.
func RunOverview(ctx context.Context, cfg *Config, logger *slog.Logger, noWrite, printPrompt bool) error {
	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}
	started := time.Now()

	gen, err := app.overviewGenerator()
	if err != nil {
		return err
	}

	if printPrompt {
		prompt, _, err := gen.BuildPrompt(ctx, time.Now())
		if err != nil {
			return describeSkip(err, logger)
		}
		fmt.Println(prompt)
		return nil
	}

	result, err := gen.Run(ctx, time.Now(), !noWrite)
	if err == nil && noWrite {
		fmt.Println(result.Content)
	}
	status, detail := runStatus(err)
	if !noWrite {
		app.record(ctx, pipeline.StageOverview, started, status, 0, detail)
	}
	return describeSkip(err, logger)
}

// describeSkip downgrades policy skips and empty days to a log line.
func describeSkip(err error, logger *slog.Logger) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrPolicySkip) || errors.Is(err, apperr.ErrNothingToReport) {
		logger.Info("overview not generated", slog.String("reason", err.Error()))
		return nil
	}
	return err
}

func (a *application) overviewGenerator() (*overview.Generator, error) {
	output, err := a.outputDir()
	if err != nil {
		return nil, err
	}

	decls := make([]plugins.Decl, 0, len(a.cfg.Overview.ContextPlugins))
	for _, pc := range a.cfg.Overview.ContextPlugins {
		decls = append(decls, plugins.Decl{Kind: pc.Name, Enabled: pc.Enabled, Settings: plugins.Settings(pc.Settings)})
	}
	contextPlugins, err := plugins.Build(decls)
	if err != nil {
		return nil, err
	}

	var sources []overview.Source
	if a.cfg.Overview.ExternalContent.Enabled {
		for _, src := range a.cfg.Overview.ExternalContent.Sources {
			sources = append(sources, overview.Source{
				Name:        src.Name,
				FileSuffix:  src.FileSuffix,
				Description: src.Description,
				Required:    src.Required,
			})
		}
	}

	return overview.New(a.llmClient(), output, contextPlugins,
		overview.Options{
			Model:          a.cfg.API.LLM.OverviewModel,
			Language:       a.cfg.Overview.Language,
			LabInfo:        a.cfg.Overview.LabInfo,
			ContextPrefix:  a.cfg.Overview.ContextPrefix,
			PromptTemplate: a.cfg.API.LLM.OverviewPromptTemplate,
			RangesFor:    a.overviewRanges,
			Sources:      sources,
			BoundaryHour: a.cfg.Global.LogicalDayStart,
			Location:     a.location,
		}, a.logger), nil
}

func (a *application) overviewRanges(weekday time.Weekday) *overview.Ranges {
	ranges := a.cfg.Overview.RangesFor(weekday)
	if ranges == nil {
		return nil
	}
	return &overview.Ranges{
		SummaryRange:     ranges.SummaryRange,
		ForthcomingRange: ranges.ForthcomingRange,
	}
}

func (a *application) structuredLogger() (*overview.StructuredLogger, error) {
	output, err := a.outputDir()
	if err != nil {
		return nil, err
	}
	model := a.cfg.API.LLM.JSONLOutputModel
	if model == "" {
		model = a.cfg.API.LLM.OverviewModel
	}
	return overview.NewStructuredLogger(a.llmClient(), output,
		overview.StructuredOptions{
			Model:          model,
			Language:       a.cfg.Overview.Language,
			LabInfo:        a.cfg.Overview.LabInfo,
			FileSuffix:     a.cfg.Overview.JSONLOutput.FileSuffix,
			PromptTemplate: a.cfg.API.LLM.JSONLPromptTemplate,
			StaticContext:  a.staticPluginText(),
			RangesFor:      a.overviewRanges,
			BoundaryHour:   a.cfg.Global.LogicalDayStart,
			Location:       a.location,
		}, a.logger), nil
}

// staticPluginText returns the enabled static context plugin's text; the
// structured digest takes no other plugin input.
func (a *application) staticPluginText() string {
	for _, pc := range a.cfg.Overview.ContextPlugins {
		if pc.Name != "static" || !pc.Enabled {
			continue
		}
		return strings.TrimSpace(plugins.Settings(pc.Settings).String("text", ""))
	}
	return ""
}

// RunPostSummary posts an already generated summary pair.
func RunPostSummary(ctx context.Context, cfg *Config, logger *slog.Logger, summaryFile, overviewFile, title string) error {
	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}
	started := time.Now()

	err = app.postFiles(ctx, summaryFile, overviewFile, title)
	status, detail := runStatus(err)
	app.record(ctx, pipeline.StagePost, started, status, 0, detail)
	return err
}

func (a *application) postFiles(ctx context.Context, summaryFile, overviewFile, title string) error {
	details, err := os.ReadFile(summaryFile)
	if err != nil {
		return fmt.Errorf("read summary file: %w", err)
	}
	overviewText, err := os.ReadFile(overviewFile)
	if err != nil {
		return fmt.Errorf("read overview file: %w", err)
	}
	consumer, err := messaging.NewConsumer(a.cfg.Messaging.Active, a.slackOptions())
	if err != nil {
		return err
	}
	return messaging.PostSummary(ctx, consumer, title, string(overviewText), string(details), a.logger)
}

// RunPipeline executes the full daily pipeline.
func RunPipeline(ctx context.Context, cfg *Config, logger *slog.Logger, noPosting bool) error {
	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}
	started := time.Now()

	date := timeutil.LogicalDate(time.Now().In(app.location), cfg.Global.LogicalDayStart)
	title := strings.ReplaceAll(cfg.Pipeline.TitleFormat, "{date}", date.Format("2006-01-02"))

	stages := pipeline.Stages{
		GenerateIndividual: func(ctx context.Context) (int, error) {
			result, err := app.changeSummary(ctx, false)
			return result.Commits, err
		},
		GenerateOverview: func(ctx context.Context) error {
			gen, err := app.overviewGenerator()
			if err != nil {
				return err
			}
			_, err = gen.Run(ctx, time.Now(), true)
			return err
		},
		Post: func(ctx context.Context) error {
			summaryFile := filepath.Join(cfg.Paths.ChangeSummaryOutput, storage.DatedPath(date, "-indiv"))
			overviewFile := filepath.Join(cfg.Paths.ChangeSummaryOutput, storage.DatedPath(date, "-overview"))
			return app.postFiles(ctx, summaryFile, overviewFile, title)
		},
	}
	if cfg.Overview.JSONLOutput.Enabled {
		stages.GenerateStructured = func(ctx context.Context) error {
			structured, err := app.structuredLogger()
			if err != nil {
				return err
			}
			_, err = structured.Run(ctx, time.Now(), true)
			return err
		}
	}
	runner := pipeline.NewRunner(stages, logger)

	result, err := runner.Run(ctx, noPosting)
	status, detail := runStatus(err)
	if err == nil && result.Skipped {
		status, detail = ledger.StatusSkipped, result.Reason
	}
	app.record(ctx, "pipeline", started, status, result.Commits, detail)
	return err
}

// RunHealth runs the health checks and returns the report's exit code.
func RunHealth(ctx context.Context, cfg *Config, logger *slog.Logger, quick, jsonOut, serve bool, listen string) (int, error) {
	app, err := newApplication(cfg, logger)
	if err != nil {
		return 2, err
	}

	opts := health.Options{
		RepositoryPath: cfg.Paths.NotesRepository,
		WritePaths: []string{
			cfg.Paths.ChangeSummaryOutput,
			filepath.Dir(cfg.Paths.CheckpointFile),
		},
		Notion: app.notionClient(),
		LLM:    app.llmClient(),
		LedgerCommands: []string{
			"sync", pipeline.StageIndividual, pipeline.StageOverview, "pipeline",
		},
	}
	if cfg.Messaging.Active == "slack" {
		opts.Slack = messaging.NewSlackConsumer(app.slackOptions())
	}
	if cfg.Paths.LedgerFile != "" {
		store, err := ledger.Open(cfg.Paths.LedgerFile)
		if err != nil {
			logger.Warn("ledger unavailable", slog.String("error", err.Error()))
		} else {
			defer store.Close()
			opts.Ledger = store
		}
	}

	checker := health.NewChecker(opts, logger)
	if serve {
		return 0, checker.Serve(ctx, listen)
	}

	report := checker.Run(ctx, quick)
	if jsonOut {
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return 2, err
		}
		fmt.Println(string(encoded))
	} else {
		for _, check := range report.Checks {
			line := fmt.Sprintf("%-8s %s", check.Severity, check.Name)
			if check.Detail != "" {
				line += ": " + check.Detail
			}
			fmt.Println(line)
		}
		fmt.Printf("overall: %s\n", report.Status)
	}
	return report.ExitCode(), nil
}
