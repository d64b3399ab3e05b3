// Package bot runs one Telegram bot: long polling, access control, routing
// and the bot's scheduled jobs.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram-assistant-bots/internal/access"
	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/metrics"
	"telegram-assistant-bots/internal/router"
	"telegram-assistant-bots/internal/scheduler"
)

// telegramBot is the part of *tg.Bot the runner drives.
type telegramBot interface {
	router.Bot
	Start(ctx context.Context)
	DeleteWebhook(ctx context.Context, params *tg.DeleteWebhookParams) (bool, error)
}

var _ telegramBot = (*tg.Bot)(nil)

// newTelegramBot is replaced in tests.
var newTelegramBot = func(token string, opts ...tg.Option) (telegramBot, error) {
	b, err := tg.New(token, opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Opts configures a Runner.
type Opts struct {
	// Name identifies the bot in logs, metrics and the startup report.
	Name    string
	Token   string
	Machine string
	// ReportChatIDs receive "Running <name> on <machine>" before polling starts.
	ReportChatIDs []int64
	Filter        *access.Filter
	Router        *router.Router
	// Schedule registers the bot's periodic jobs. Optional.
	Schedule func(s *scheduler.Scheduler, b router.Bot) error
	// Location resolves daily job times.
	Location    *time.Location
	DropPending bool
	Debug       bool
}

// Runner owns the polling loop of one bot.
type Runner struct {
	opts   Opts
	handle router.HandlerFunc
}

// New validates opts and wires the access filter in front of the router.
func New(opts Opts) (*Runner, error) {
	switch {
	case opts.Token == "":
		return nil, errors.New("telegram bot token is required")
	case opts.Router == nil:
		return nil, errors.New("router is required")
	case opts.Filter == nil:
		return nil, errors.New("access filter is required")
	}
	if opts.Filter.OnReject == nil {
		name := opts.Name
		opts.Filter.OnReject = func() { metrics.IncRejected(name) }
	}
	rt := opts.Router
	return &Runner{
		opts: opts,
		handle: opts.Filter.Middleware(func(ctx context.Context, b router.Bot, upd *models.Update) {
			rt.Dispatch(ctx, b, upd)
		}),
	}, nil
}

// HandleUpdate processes one update with a request scoped logger. Handler
// panics are logged and do not stop the loop.
func (r *Runner) HandleUpdate(ctx context.Context, b router.Bot, upd *models.Update) {
	ctx = logging.Context(ctx)
	if chatID, ok := access.ChatID(upd); ok {
		ctx = logging.WithChat(ctx, chatID)
	}
	if userID := senderOf(upd); userID != 0 {
		ctx = logging.WithUser(ctx, userID)
	}
	log := logging.Ctx(ctx)
	kind := router.Classify(upd)
	metrics.IncUpdate(r.opts.Name, string(kind))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("stack", string(debug.Stack())).Msg("handler panic")
		}
	}()

	log.Info().Str("event", "telegram_request").Str("kind", string(kind)).Str("snippet", logging.Snippet(textOf(upd), 30)).Msg("incoming update")
	r.handle(ctx, b, upd)
}

func senderOf(upd *models.Update) int64 {
	switch {
	case upd.Message != nil && upd.Message.From != nil:
		return upd.Message.From.ID
	case upd.EditedMessage != nil && upd.EditedMessage.From != nil:
		return upd.EditedMessage.From.ID
	case upd.CallbackQuery != nil:
		return upd.CallbackQuery.From.ID
	}
	return 0
}

func textOf(upd *models.Update) string {
	if msg := router.MessageOf(upd); msg != nil {
		return msg.Text
	}
	if upd.CallbackQuery != nil {
		return upd.CallbackQuery.Data
	}
	return ""
}

// Report sends the startup message to every report chat.
func (r *Runner) Report(ctx context.Context, b router.Bot) {
	text := fmt.Sprintf("Running %s on %s", r.opts.Name, r.opts.Machine)
	for _, id := range r.opts.ReportChatIDs {
		if _, err := b.SendMessage(ctx, &tg.SendMessageParams{ChatID: id, Text: text}); err != nil {
			logging.Log.Error().Err(err).Int64("chat_id", id).Msg("send startup report")
		}
	}
}

// Run polls Telegram until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	log := logging.Log.With().Str("bot", r.opts.Name).Logger()

	options := []tg.Option{
		tg.WithDefaultHandler(func(ctx context.Context, b *tg.Bot, upd *models.Update) {
			r.HandleUpdate(ctx, b, upd)
		}),
		tg.WithErrorsHandler(func(err error) {
			log.Error().Err(err).Msg("telegram polling error")
		}),
	}
	if r.opts.Debug {
		options = append(options, tg.WithDebug())
	}
	b, err := newTelegramBot(r.opts.Token, options...)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}

	fp := logging.Fingerprint(r.opts.Token)
	log.Info().Str("token", fp).Str("machine", r.opts.Machine).
		Msgf("Running telegram bot %s - %s on Machine %s", fp, r.opts.Name, r.opts.Machine)

	if r.opts.DropPending {
		if _, err := b.DeleteWebhook(ctx, &tg.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
			log.Warn().Err(err).Msg("drop pending updates")
		}
	}
	r.Report(ctx, b)

	if r.opts.Schedule != nil {
		sch := scheduler.New(r.opts.Location)
		if err := r.opts.Schedule(sch, b); err != nil {
			return fmt.Errorf("schedule jobs: %w", err)
		}
		sch.Start(ctx)
		defer sch.Stop()
	}

	b.Start(ctx)
	log.Info().Msg("polling stopped")
	return nil
}
