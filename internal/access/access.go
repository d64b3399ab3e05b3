// Package access decides which chats a bot talks to.
package access

import (
	"context"

	"github.com/go-telegram/bot/models"

	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/router"
)

// Mode selects what happens to rejected updates.
type Mode string

const (
	// ModeSilent drops rejected updates with a debug log line.
	ModeSilent Mode = "silent"
	// ModeWarn also logs a warning and tells the sender the bot is private.
	ModeWarn Mode = "warn"
)

// PrivateReply is sent to rejected chats in ModeWarn.
const PrivateReply = "This bot is private. Ask its owner to add your chat to the allow list."

// Filter holds the allow-list of chat ids.
type Filter struct {
	allowed map[int64]struct{}
	mode    Mode
	// OnReject is called for every dropped update, e.g. to count it.
	OnReject func()
}

// New builds a filter. An empty list rejects everything.
func New(ids []int64, mode Mode) *Filter {
	f := &Filter{allowed: make(map[int64]struct{}, len(ids)), mode: mode}
	for _, id := range ids {
		f.allowed[id] = struct{}{}
	}
	if f.mode != ModeWarn {
		f.mode = ModeSilent
	}
	return f
}

// Allowed reports whether chatID is on the list.
func (f *Filter) Allowed(chatID int64) bool {
	_, ok := f.allowed[chatID]
	return ok
}

// IDs returns the allowed chat ids.
func (f *Filter) IDs() []int64 {
	ids := make([]int64, 0, len(f.allowed))
	for id := range f.allowed {
		ids = append(ids, id)
	}
	return ids
}

// ChatID returns the chat an update belongs to.
func ChatID(upd *models.Update) (int64, bool) {
	if upd == nil {
		return 0, false
	}
	switch {
	case upd.Message != nil:
		return upd.Message.Chat.ID, true
	case upd.EditedMessage != nil:
		return upd.EditedMessage.Chat.ID, true
	case upd.CallbackQuery != nil:
		if m := upd.CallbackQuery.Message.Message; m != nil {
			return m.Chat.ID, true
		}
		return upd.CallbackQuery.From.ID, true
	}
	return 0, false
}

// Middleware drops updates from chats not on the list.
func (f *Filter) Middleware(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, b router.Bot, upd *models.Update) {
		chatID, ok := ChatID(upd)
		if ok && f.Allowed(chatID) {
			next(ctx, b, upd)
			return
		}
		if f.OnReject != nil {
			f.OnReject()
		}
		log := logging.Ctx(ctx)
		if !ok {
			log.Debug().Str("event", "access_rejected").Msg("update without chat dropped")
			return
		}
		if f.mode == ModeSilent {
			log.Debug().Str("event", "access_rejected").Int64("chat_id", chatID).Msg("chat not allowed")
			return
		}
		log.Warn().Str("event", "access_rejected").Int64("chat_id", chatID).Msg("chat not allowed")
		router.Reply(ctx, b, chatID, PrivateReply)
	}
}
