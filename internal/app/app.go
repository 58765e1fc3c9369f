// Package app wires configuration into the running service and exposes the
// command line.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"loandocs/internal/classify"
	"loandocs/internal/config"
	"loandocs/internal/documents"
	"loandocs/internal/domain"
	"loandocs/internal/extract"
	"loandocs/internal/httpapi"
	"loandocs/internal/httpx"
	"loandocs/internal/inbox"
	slackbot "loandocs/internal/integrations/slack"
	"loandocs/internal/integrations/llm"
	"loandocs/internal/learning"
	"loandocs/internal/pipeline"
	"loandocs/internal/prompts"
	"loandocs/internal/review"
	"loandocs/internal/schedule"
	"loandocs/internal/storage/sqlite"
)

// App holds every wired component. Slack fields are nil when Slack is not
// configured.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	DB        *sql.DB
	Store     *sqlite.CorrectionStore
	Learning  *learning.Loop
	Documents *documents.Cache
	Pipeline  *pipeline.Orchestrator
	Session   *review.Session

	Slack    *slack.Client
	Notifier *slackbot.Notifier
}

// New opens the correction store and builds the pipeline.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient, appliedTimeout := httpx.NewClient(cfg.ExternalHTTPTimeoutSeconds)
	logger.Info("config loaded",
		zap.String("llm_provider", cfg.LLMProvider),
		zap.String("llm_model", cfg.LLMModel),
		zap.Int("batch_concurrency", cfg.BatchConcurrency),
		zap.Int("learning_context_limit", cfg.LearningContextLimit),
		zap.String("learning_redaction", cfg.LearningRedaction),
		zap.String("timezone", cfg.Timezone),
		zap.Duration("external_http_timeout", appliedTimeout),
	)

	redaction, err := learning.ParseRedaction(cfg.LearningRedaction)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	classifierPrompt, err := prompts.Resolve(cfg.ClassifierPromptPath, prompts.ClassifierName)
	if err != nil {
		return nil, err
	}
	extractionPrompt, err := prompts.Resolve(cfg.ExtractionPromptPath, prompts.ExtractionName)
	if err != nil {
		return nil, err
	}
	policy, err := review.NewPolicy(cfg.ConfidenceThresholds)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	logger.Info("database initialized", zap.String("path", cfg.DBPath))

	store := sqlite.NewCorrectionStore(db)
	loop := learning.NewLoop(store, logger.Named("learning"),
		learning.WithLimit(cfg.LearningContextLimit),
		learning.WithRedaction(redaction),
	)
	docs := documents.NewCache(httpClient)

	gen, err := llm.New(cfg.LLMProvider,
		llm.AnthropicConfig{
			APIKey:     cfg.AnthropicAPIKey,
			Model:      cfg.LLMModel,
			BaseURL:    cfg.AnthropicBaseURL,
			HTTPClient: httpClient,
		},
		llm.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.LLMModel,
			BaseURL:    cfg.OpenAIBaseURL,
			HTTPClient: httpClient,
		},
		docs, logger.Named("llm"),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	gen = llm.NewRateLimited(gen, cfg.LLMRequestsPerMinute)

	orchestrator := pipeline.New(
		docs,
		classify.New(gen, classifierPrompt, logger.Named("classify")),
		extract.New(gen, extractionPrompt, loop, logger.Named("extract")),
		logger.Named("pipeline"),
		pipeline.WithConcurrency(cfg.BatchConcurrency),
	)

	a := &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Store:     store,
		Learning:  loop,
		Documents: docs,
		Pipeline:  orchestrator,
		Session:   review.NewSession(policy, loop, logger.Named("review")),
	}
	if cfg.SlackConfigured() {
		opts := []slack.Option{slack.OptionHTTPClient(httpClient)}
		if cfg.SlackAppToken != "" {
			opts = append(opts, slack.OptionAppLevelToken(cfg.SlackAppToken))
		}
		a.Slack = slack.New(cfg.SlackBotToken, opts...)
		a.Notifier = slackbot.NewNotifier(a.Slack, cfg.ReviewChannelID, logger.Named("slack"))
	}
	return a, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// Inbox returns the inbox watcher, or nil when no inbox is configured.
func (a *App) Inbox() *inbox.Watcher {
	if a.Config.InboxDir == "" {
		return nil
	}
	var notifier inbox.Notifier
	if a.Notifier != nil {
		notifier = a.Notifier
	}
	return inbox.New(a.Config.InboxDir, a.Config.ProcessedDir, a.Pipeline, a.Session, notifier, a.Logger.Named("inbox"))
}

// Serve runs the HTTP API, the inbox and digest schedules and the Slack bot
// until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	server, err := httpapi.NewServer(a.Session, a.Pipeline, a.Store, a.Logger.Named("http"), a.Config.HTTPAddr)
	if err != nil {
		return err
	}

	if w := a.Inbox(); w != nil {
		if err := ensureDir(a.Config.InboxDir); err != nil {
			return err
		}
		err := schedule.Start(ctx, "inbox", a.Config.InboxSchedule, a.Config.Location, a.Logger, func(ctx context.Context) {
			summary, err := w.RunOnce(ctx)
			if err != nil {
				a.Logger.Error("inbox scan", zap.Error(err))
				return
			}
			if summary.Found > 0 {
				a.Logger.Info("inbox", zap.String("summary", inbox.FormatSummary(summary)))
			}
		})
		if err != nil {
			return err
		}
	} else {
		a.Logger.Info("inbox disabled (inbox_dir not set)")
	}

	if a.Notifier != nil && a.Config.DigestSchedule != "" {
		err := schedule.Start(ctx, "digest", a.Config.DigestSchedule, a.Config.Location, a.Logger, func(ctx context.Context) {
			d := a.Session.Dashboard(time.Now().In(a.Config.Location))
			if stats, err := a.Store.CorrectionStats(ctx, time.Now().Add(-httpapi.DefaultStatsWindow)); err == nil {
				d.Corrections = stats
			}
			if err := a.Notifier.PostDigest(ctx, d); err != nil {
				a.Logger.Warn("digest", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}

	if a.Config.SlackInteractive() {
		bot := slackbot.NewBot(a.Slack, a.Session, a.Logger.Named("slack"))
		go func() {
			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("slack bot", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// ensureDir creates dir when set.
func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}
