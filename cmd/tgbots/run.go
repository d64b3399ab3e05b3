package main

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"telegram-assistant-bots/internal/access"
	"telegram-assistant-bots/internal/bot"
	"telegram-assistant-bots/internal/chat"
	"telegram-assistant-bots/internal/closer"
	"telegram-assistant-bots/internal/config"
	"telegram-assistant-bots/internal/crypt"
	"telegram-assistant-bots/internal/handler"
	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/metrics"
	"telegram-assistant-bots/internal/notes"
	"telegram-assistant-bots/internal/notion"
	"telegram-assistant-bots/internal/ratelimit"
	"telegram-assistant-bots/internal/router"
	"telegram-assistant-bots/internal/scheduler"
	"telegram-assistant-bots/internal/sleep"
	"telegram-assistant-bots/internal/storage"
	"telegram-assistant-bots/internal/transcribe"
)

const shutdownTimeout = 5 * time.Second

type scheduleFunc func(*scheduler.Scheduler, router.Bot) error

// run starts one bot and blocks until SIGINT or SIGTERM.
func run(ctx context.Context, kind config.Kind, cfg *config.Config) error {
	logging.Init(cfg.Log.Level, cfg.Log.Format)
	log := logging.Log.With().Str("bot", string(kind)).Logger()

	ctx, cancel := context.WithCancel(ctx)
	signals := closer.New(syscall.SIGINT, syscall.SIGTERM)
	signals.Add(func() error {
		cancel()
		return nil
	})
	defer func() { _ = signals.Close() }()

	resources := closer.New()
	defer func() {
		if err := resources.Close(); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	if err := openStorage(kind, cfg); err != nil {
		return err
	}
	resources.Add(storage.Close)

	metrics.MustRegister()
	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr)
		srv.Start()
		resources.Add(func() error {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	rt, schedule, err := build(kind, cfg)
	if err != nil {
		return err
	}

	runner, err := bot.New(bot.Opts{
		Name:          string(kind),
		Token:         cfg.Bot.Token,
		Machine:       cfg.Bot.Machine,
		ReportChatIDs: cfg.Bot.StartupReportIDs,
		Filter:        access.New(cfg.Bot.AllowedChatIDs, access.Mode(cfg.Bot.AccessMode)),
		Router:        rt,
		Schedule:      schedule,
		Location:      cfg.Location(),
		DropPending:   cfg.DropPendingFor(kind),
		Debug:         cfg.Bot.Debug,
	})
	if err != nil {
		return err
	}
	if len(cfg.Bot.AllowedChatIDs) == 0 {
		log.Warn().Msg("ALLOWED_CHAT_IDS is empty, every update will be dropped")
	}
	return runner.Run(ctx)
}

func openStorage(kind config.Kind, cfg *config.Config) error {
	path := cfg.Storage.Path
	if path == "" {
		path = string(kind) + ".db"
	}
	if err := storage.Init(path); err != nil {
		return fmt.Errorf("open storage %s: %w", path, err)
	}
	if cfg.Storage.MasterKey != "" {
		c, err := crypt.New(cfg.Storage.MasterKey)
		if err != nil {
			_ = storage.Close()
			return fmt.Errorf("TBOT_MASTER_KEY: %w", err)
		}
		storage.SetCipher(c)
	}
	return nil
}

// build assembles the router and the optional scheduled jobs of a bot.
func build(kind config.Kind, cfg *config.Config) (*router.Router, scheduleFunc, error) {
	loc := cfg.Location()
	now := func() time.Time { return time.Now().In(loc) }

	switch kind {
	case config.KindWhisper:
		limiter := ratelimit.New(ratelimit.Opts{
			PerChatLimit: cfg.RateLimit.PerChat,
			PerChatBurst: cfg.RateLimit.PerChatBurst,
			GlobalLimit:  cfg.RateLimit.Global,
			GlobalBurst:  cfg.RateLimit.GlobalBurst,
		})
		sessions := chat.NewSessions(chat.NewClient(cfg.OpenAI.APIKey), chat.Opts{
			DefaultModel: cfg.OpenAI.Model,
			MaxTokens:    cfg.OpenAI.MaxHistoryTokens,
			Limiter:      limiter,
			Persist:      true,
		})
		opts := handler.WhisperOpts{
			Sessions:         sessions,
			Transcriber:      transcribe.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.TranscribeModel),
			AdvancedModel:    cfg.OpenAI.AdvancedModel,
			TranscriptPageID: cfg.Notion.TranscriptPageID,
			SummaryPageID:    cfg.Notion.SummaryPageID,
			Now:              now,
		}
		if cfg.Notion.Token != "" {
			opts.Notion = notion.NewClient(cfg.Notion.Token)
		}
		return handler.Whisper(opts), nil, nil

	case config.KindNotes, config.KindDev:
		opts := handler.NotesOpts{
			Notion:     notion.NewClient(cfg.Notion.Token),
			DatabaseID: cfg.Notion.DatabaseID,
			Now:        now,
		}
		if kind == config.KindDev {
			return handler.Dev(opts), nil, nil
		}
		return handler.Notes(opts), nil, nil

	case config.KindWorkout, config.KindFood:
		path := notes.PathNotes
		if kind == config.KindFood {
			path = notes.PathFoodLogs
		}
		store := notes.NewAPIClient(notes.Opts{BaseURL: cfg.NotesAPI.URL, Token: cfg.NotesAPI.Token, Path: path})
		if kind == config.KindFood {
			return handler.Journal(handler.FoodOpts(store, loc)), nil, nil
		}
		return handler.Journal(handler.WorkoutOpts(store, loc)), nil, nil

	case config.KindSleep:
		s := handler.NewSleep(handler.SleepOpts{
			Tracker:        sleep.NewTracker(sleep.NewBackend(cfg.Sleep.BackendURL, nil)),
			Chats:          cfg.Bot.AllowedChatIDs,
			MorningAt:      cfg.Sleep.MorningAt,
			AfternoonAt:    cfg.Sleep.AfternoonAt,
			HealthInterval: cfg.Sleep.HealthInterval,
		})
		return s.Router(), s.Schedule, nil
	}
	return nil, nil, fmt.Errorf("unknown bot kind %q", kind)
}
