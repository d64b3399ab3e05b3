package handler

import (
	"context"
	"time"

	"github.com/go-telegram/bot/models"

	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/notion"
	"telegram-assistant-bots/internal/router"
)

const (
	NotesWelcome = "Welcome, I'd love to help with your notes"

	noteStoredReply = "Note stored"
)

// NotesOpts configures the Notion notes bot.
type NotesOpts struct {
	Notion     notion.Store
	DatabaseID string
	Now        func() time.Time
}

// Notes returns the router of the Notion notes bot.
func Notes(opts NotesOpts) *router.Router {
	return router.New().
		Command("start", replyWith(NotesWelcome)).
		Handle("text", router.Text(), router.ReplyRules(
			router.Rule{When: router.Exact("ping"), Then: pong},
			router.Rule{When: router.CatchAll(), Then: storeNote(opts)},
		))
}

// storeNote adds the message as a new page of the notes database.
func storeNote(opts NotesOpts) router.HandlerFunc {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return func(ctx context.Context, b router.Bot, upd *models.Update) {
		msg := router.MessageOf(upd)
		log := logging.Ctx(ctx)
		id, err := opts.Notion.AddPage(ctx, opts.DatabaseID, msg.Text, opts.Now())
		if err != nil {
			log.Error().Err(err).Str("event", "notion_store").Msg("store note failed")
			router.Reply(ctx, b, msg.Chat.ID, "Failed to store note: "+err.Error())
			return
		}
		log.Info().Str("event", "notion_store").Str("page_id", id).Msg("note stored")
		router.Reply(ctx, b, msg.Chat.ID, noteStoredReply)
	}
}
