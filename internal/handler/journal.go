package handler

import (
	"context"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/notes"
	"telegram-assistant-bots/internal/router"
)

const (
	WorkoutWelcome = "Welcome! Send me your workout notes. Edit messages to update them."
	FoodWelcome    = "Welcome! Send me your food logs. Edit messages to update them."

	createdReaction = "👍"
	updatedReaction = "❤️"
)

// JournalOpts configures a journal bot backed by the notes API.
type JournalOpts struct {
	// Title answers /ver.
	Title   string
	Welcome string
	Store   notes.Store
	// Ping enables the /ping command and answers plain "ping" without saving.
	Ping bool
	Now  func() time.Time
}

// WorkoutOpts returns the journal options of the workout bot.
func WorkoutOpts(store notes.Store, loc *time.Location) JournalOpts {
	return JournalOpts{Title: "Workout Bot", Welcome: WorkoutWelcome, Store: store, Ping: true, Now: nowIn(loc)}
}

// FoodOpts returns the journal options of the food bot.
func FoodOpts(store notes.Store, loc *time.Location) JournalOpts {
	return JournalOpts{Title: "Food Bot", Welcome: FoodWelcome, Store: store, Now: nowIn(loc)}
}

func nowIn(loc *time.Location) func() time.Time {
	if loc == nil {
		return time.Now
	}
	return func() time.Time { return time.Now().In(loc) }
}

type journalBot struct {
	opts JournalOpts
}

// Journal returns the router of a journal bot. New and edited messages are
// saved under the same id, so an edit updates the stored note.
func Journal(opts JournalOpts) *router.Router {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	j := &journalBot{opts: opts}
	r := router.New().
		Command("start", replyWith(opts.Welcome)).
		Command("ver", replyWith(opts.Title))
	if opts.Ping {
		r.Command("ping", pong)
	}
	return r.Handle("save", router.Any(router.Text(), router.EditedText()), j.save)
}

func (j *journalBot) save(ctx context.Context, b router.Bot, upd *models.Update) {
	msg := router.MessageOf(upd)
	if msg == nil || msg.Text == "" {
		return
	}
	if j.opts.Ping && trimmedLower(msg.Text) == "ping" {
		pong(ctx, b, upd)
		return
	}

	now := j.opts.Now()
	note := notes.Note{ChatID: msg.Chat.ID, MessageID: msg.ID, Text: msg.Text, Created: now, Updated: now}
	if upd.EditedMessage != nil && msg.Date > 0 {
		note.Created = time.Unix(int64(msg.Date), 0).In(now.Location())
	}

	log := logging.Ctx(ctx)
	res, err := j.opts.Store.SaveNote(ctx, note)
	if err != nil {
		log.Error().Err(err).Str("title", j.opts.Title).Msg("error saving note")
		return
	}
	j.react(ctx, b, msg, res.Status)
}

// react marks the message with 👍 when created and ❤️ otherwise.
func (j *journalBot) react(ctx context.Context, b router.Bot, msg *models.Message, status string) {
	log := logging.Ctx(ctx)
	emoji := updatedReaction
	if status == notes.StatusCreated {
		emoji = createdReaction
	} else if _, err := b.SetMessageReaction(ctx, &tg.SetMessageReactionParams{ChatID: msg.Chat.ID, MessageID: msg.ID}); err != nil {
		log.Debug().Err(err).Msg("clear reaction")
	}
	_, err := b.SetMessageReaction(ctx, &tg.SetMessageReactionParams{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		Reaction: []models.ReactionType{{
			Type:              models.ReactionTypeTypeEmoji,
			ReactionTypeEmoji: &models.ReactionTypeEmoji{Type: models.ReactionTypeTypeEmoji, Emoji: emoji},
		}},
	})
	if err != nil {
		log.Error().Err(err).Str("emoji", emoji).Msg("could not set reaction")
	}
}
