package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/router"
	"telegram-assistant-bots/internal/scheduler"
	"telegram-assistant-bots/internal/sleep"
)

const (
	SleepWelcome = "Welcome to Sleep Tracker! 😴\n\n" +
		"I'll help you track your drowsiness levels throughout the day.\n" +
		"You'll receive reminders in the morning and afternoon.\n\n" +
		"Commands:\n" +
		"/check - Log your current drowsiness level\n" +
		"/note - Add a note to your last entry\n" +
		"/history - View your recent entries\n" +
		"/memory - View current memory state\n" +
		"/sync - Try to sync pending entries with backend\n" +
		"/flush - Clear pending entries from memory"

	ratingPrompt   = "How drowsy do you feel right now?"
	historyLimit   = 5
	flushConfirm   = "flush_confirm"
	flushCancel    = "flush_cancel"
	onDemandCheck  = "on-demand"
	morningCheck   = "morning"
	afternoonCheck = "afternoon"

	allSyncedMessage = "✅ All pending entries have been synced to the backend!"
)

// SleepOpts configures the sleep tracker bot.
type SleepOpts struct {
	Tracker *sleep.Tracker
	// Chats receive reminders and status notifications.
	Chats []int64
	// MorningAt and AfternoonAt are "HH:MM" reminder times.
	MorningAt      string
	AfternoonAt    string
	HealthInterval time.Duration
	// StartupDelay and HealthFirst delay the first startup and health jobs.
	StartupDelay time.Duration
	HealthFirst  time.Duration
}

// SleepBot is the sleep tracker bot.
type SleepBot struct {
	opts SleepOpts
}

// NewSleep builds the sleep tracker bot with defaults for unset options.
func NewSleep(opts SleepOpts) *SleepBot {
	if opts.MorningAt == "" {
		opts.MorningAt = "07:00"
	}
	if opts.AfternoonAt == "" {
		opts.AfternoonAt = "13:00"
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = time.Minute
	}
	if opts.StartupDelay <= 0 {
		opts.StartupDelay = time.Second
	}
	if opts.HealthFirst <= 0 {
		opts.HealthFirst = 10 * time.Second
	}
	return &SleepBot{opts: opts}
}

// Router returns the command and callback routes.
func (s *SleepBot) Router() *router.Router {
	return router.New().
		Command("start", replyWith(SleepWelcome)).
		Command("check", s.check).
		Command("note", s.note).
		Command("history", s.history).
		Command("memory", s.memory).
		Command("sync", s.sync).
		Command("flush", s.flush).
		Handle("flush_answer", router.CallbackPrefix("flush_"), s.flushAnswer).
		Handle("rating", router.Callback(), s.rating)
}

// Schedule registers reminders, the startup notification and the backend
// health check.
func (s *SleepBot) Schedule(sch *scheduler.Scheduler, b router.Bot) error {
	if err := sch.Daily("morning_reminder", []string{s.opts.MorningAt}, s.reminder(b, morningCheck)); err != nil {
		return err
	}
	if err := sch.Daily("afternoon_reminder", []string{s.opts.AfternoonAt}, s.reminder(b, afternoonCheck)); err != nil {
		return err
	}
	sch.Once("startup_notification", s.opts.StartupDelay, func(ctx context.Context) error {
		s.Startup(ctx, b)
		return nil
	})
	sch.Every("backend_health", s.opts.HealthInterval, s.opts.HealthFirst, func(ctx context.Context) error {
		s.HealthCheck(ctx, b)
		return nil
	})
	return nil
}

func ratingKeyboard(checkinType string) *models.InlineKeyboardMarkup {
	data := func(r int) string { return fmt.Sprintf("%d_%s", r, checkinType) }
	return inlineKeyboard(
		[][2]string{{"1 (Very Alert)", data(1)}, {"2 (Alert)", data(2)}},
		[][2]string{{"3 (Drowsy)", data(3)}, {"4 (Very Drowsy)", data(4)}},
	)
}

func (s *SleepBot) check(ctx context.Context, b router.Bot, upd *models.Update) {
	logging.Ctx(ctx).Debug().Msg("starting check-in")
	sendKeyboard(ctx, b, upd.Message.Chat.ID, ratingPrompt, ratingKeyboard(onDemandCheck))
}

func (s *SleepBot) broadcast(ctx context.Context, b router.Bot, text string) {
	for _, id := range s.opts.Chats {
		router.Reply(ctx, b, id, text)
	}
}

func (s *SleepBot) reminder(b router.Bot, checkinType string) scheduler.Job {
	return func(ctx context.Context) error {
		logging.Ctx(ctx).Info().Str("type", checkinType).Msg("sending reminders")
		for _, id := range s.opts.Chats {
			router.Reply(ctx, b, id, fmt.Sprintf("Time for your %s check-in!", checkinType))
			sendKeyboard(ctx, b, id, ratingPrompt, ratingKeyboard(checkinType))
		}
		return nil
	}
}

// rating records a "<rating>_<type>" keyboard answer.
func (s *SleepBot) rating(ctx context.Context, b router.Bot, upd *models.Update) {
	cq := upd.CallbackQuery
	answerCallback(ctx, b, cq)
	parts := strings.Split(cq.Data, "_")
	if len(parts) != 2 {
		return
	}
	rating, err := strconv.Atoi(parts[0])
	if err != nil {
		return
	}
	checkinType := parts[1]
	msg := cq.Message.Message
	if msg == nil {
		return
	}

	_, offline := s.opts.Tracker.Record(ctx, msg.Chat.ID, checkinType, rating)
	text := fmt.Sprintf("Recorded %s drowsiness level: %d\n"+
		"You can add notes to this entry using:\n"+
		"/note your note text", checkinType, rating)
	if offline {
		text = fmt.Sprintf("Recorded %s drowsiness level: %d (stored offline)\n"+
			"Entry will be synced when backend is available.\n"+
			"You can add notes using:\n"+
			"/note your note text", checkinType, rating)
	}
	editText(ctx, b, msg.Chat.ID, msg.ID, text)
}

func (s *SleepBot) note(ctx context.Context, b router.Bot, upd *models.Update) {
	_, args, _ := router.ParseCommand(upd.Message)
	chatID := upd.Message.Chat.ID
	if args == "" {
		router.Reply(ctx, b, chatID, "Please provide the note text after the command.\n"+
			"Example: /note Feeling tired after lunch")
		return
	}
	err := s.opts.Tracker.AddNote(ctx, chatID, args)
	switch {
	case err == nil:
		router.Reply(ctx, b, chatID, "Note added successfully!")
	case errors.Is(err, sleep.ErrNoLastEntry):
		router.Reply(ctx, b, chatID, "No recent entry found to add notes to.\n"+
			"Please submit a new entry first with /check")
	default:
		logging.Ctx(ctx).Error().Err(err).Msg("error adding note")
		router.Reply(ctx, b, chatID, "Error adding note. Please try again.")
	}
}

func formatEntries(entries []sleep.Entry, pending map[string]bool) string {
	var sb strings.Builder
	for _, e := range entries {
		if pending[e.ID] {
			sb.WriteString("🔄 ")
		}
		fmt.Fprintf(&sb, "📅 %s\nType: %s\nRating: %d\nNotes: %s\n\n", e.Timestamp, e.CheckinType, e.Rating, e.NotesOrNA())
	}
	return sb.String()
}

func (s *SleepBot) history(ctx context.Context, b router.Bot, upd *models.Update) {
	chatID := upd.Message.Chat.ID
	view := s.opts.Tracker.History(ctx, historyLimit)
	if view.BackendErr != nil {
		logging.Ctx(ctx).Error().Err(view.BackendErr).Msg("error fetching history")
		if len(view.Entries) == 0 {
			router.Reply(ctx, b, chatID, "⚠️ Backend is unavailable and no entries in local cache.")
			return
		}
		router.Reply(ctx, b, chatID, "⚠️ Backend is unavailable. Showing cached entries:\n\n"+formatEntries(view.Entries, view.Pending))
		return
	}
	if len(view.Entries) == 0 {
		router.Reply(ctx, b, chatID, "No entries found.")
		return
	}
	text := "Recent entries:\n\n" + formatEntries(view.Entries, view.Pending)
	if view.PendingCount > 0 {
		text += fmt.Sprintf("\n🔄 %d entries pending sync", view.PendingCount)
	}
	router.Reply(ctx, b, chatID, text)
}

func (s *SleepBot) memory(ctx context.Context, b router.Bot, upd *models.Update) {
	st := s.opts.Tracker.Status()
	var sb strings.Builder
	sb.WriteString("🧠 Memory Cache Status:\n\n")
	backend := "🔴 Offline"
	if st.Available {
		backend = "🟢 Online"
	}
	fmt.Fprintf(&sb, "Backend: %s\n\n", backend)

	fmt.Fprintf(&sb, "Pending Entries: %d\n", len(st.Pending))
	if len(st.Pending) > 0 {
		sb.WriteString("Latest pending entries:\n")
		for _, e := range st.Pending[max(0, len(st.Pending)-3):] {
			fmt.Fprintf(&sb, "- %s: %s, rating %d\n", e.Timestamp, e.CheckinType, e.Rating)
		}
	}
	fmt.Fprintf(&sb, "\nCached Entries: %d\n", len(st.Known))
	if len(st.Known) > 0 {
		sb.WriteString("Latest cached entries:\n")
		for _, e := range st.Known[:min(3, len(st.Known))] {
			fmt.Fprintf(&sb, "- %s: %s, rating %d\n", e.Timestamp, e.CheckinType, e.Rating)
		}
	}
	router.Reply(ctx, b, upd.Message.Chat.ID, sb.String())
}

func (s *SleepBot) sync(ctx context.Context, b router.Bot, upd *models.Update) {
	chatID := upd.Message.Chat.ID
	tr := s.opts.Tracker
	n := tr.PendingCount()
	if n == 0 {
		router.Reply(ctx, b, chatID, "No pending entries to sync.")
		return
	}
	if !tr.Available() {
		router.Reply(ctx, b, chatID, "⚠️ Backend is currently offline.\n"+
			fmt.Sprintf("There are %d entries pending sync.\n", n)+
			"They will be automatically synced when the backend becomes available.")
		return
	}

	progress := send(ctx, b, chatID, fmt.Sprintf("🔄 Attempting to sync %d entries...", n))
	synced, failed := tr.Sync(ctx)
	text := fmt.Sprintf("✅ Successfully synced %d entries!", synced)
	if failed > 0 {
		text = fmt.Sprintf("📊 Sync results:\n"+
			"✅ %d entries synced successfully\n"+
			"❌ %d entries failed to sync\n\n"+
			"Remaining pending entries: %d", synced, failed, tr.PendingCount())
	}
	if progress == nil {
		router.Reply(ctx, b, chatID, text)
		return
	}
	editText(ctx, b, chatID, progress.ID, text)
}

func (s *SleepBot) flush(ctx context.Context, b router.Bot, upd *models.Update) {
	chatID := upd.Message.Chat.ID
	n := s.opts.Tracker.PendingCount()
	if n == 0 {
		router.Reply(ctx, b, chatID, "No pending entries to flush.")
		return
	}
	kb := inlineKeyboard([][2]string{{"Yes, delete all", flushConfirm}, {"No, keep them", flushCancel}})
	sendKeyboard(ctx, b, chatID, fmt.Sprintf("⚠️ Are you sure you want to delete %d pending entries?\n", n)+
		"They will be permanently lost and won't sync to the backend.", kb)
}

func (s *SleepBot) flushAnswer(ctx context.Context, b router.Bot, upd *models.Update) {
	cq := upd.CallbackQuery
	answerCallback(ctx, b, cq)
	msg := cq.Message.Message
	if msg == nil {
		return
	}
	if cq.Data == flushConfirm {
		n := s.opts.Tracker.Flush(ctx)
		editText(ctx, b, msg.Chat.ID, msg.ID, fmt.Sprintf("✅ Cleared %d pending entries from memory.", n))
		return
	}
	editText(ctx, b, msg.Chat.ID, msg.ID, "Operation cancelled. Pending entries preserved.")
}

// Startup probes the backend, announces the bot and syncs entries queued
// before a restart.
func (s *SleepBot) Startup(ctx context.Context, b router.Bot) {
	available, _ := s.opts.Tracker.CheckHealth(ctx)
	status := "⚠️ Backend is not accessible"
	if available {
		status = "✅ Backend is accessible"
	}
	s.broadcast(ctx, b, "🤖 Sleep Tracker Bot is now online!\n"+status+"\nUse /start to see available commands.")
	if available && s.opts.Tracker.PendingCount() > 0 {
		s.syncPending(ctx, b)
	}
}

// HealthCheck announces backend status changes and syncs pending entries
// when the backend comes back.
func (s *SleepBot) HealthCheck(ctx context.Context, b router.Bot) {
	available, changed := s.opts.Tracker.CheckHealth(ctx)
	if !changed {
		return
	}
	status := "🔴 Backend is currently unavailable"
	if available {
		status = "🟢 Backend is now available"
	}
	s.broadcast(ctx, b, status)
	if available && s.opts.Tracker.PendingCount() > 0 {
		s.syncPending(ctx, b)
	}
}

func (s *SleepBot) syncPending(ctx context.Context, b router.Bot) {
	logging.Ctx(ctx).Info().Int("pending", s.opts.Tracker.PendingCount()).Msg("attempting to sync pending entries")
	s.opts.Tracker.Sync(ctx)
	if s.opts.Tracker.PendingCount() == 0 {
		s.broadcast(ctx, b, allSyncedMessage)
	}
}
