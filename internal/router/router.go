// Package router maps an incoming Telegram update to exactly one handler.
package router

import (
	"context"
	"fmt"
	"strings"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/samber/lo"

	"telegram-assistant-bots/internal/logging"
)

// Bot is the subset of the Telegram API the handlers use. *tg.Bot satisfies it.
type Bot interface {
	SendMessage(ctx context.Context, params *tg.SendMessageParams) (*models.Message, error)
	GetFile(ctx context.Context, params *tg.GetFileParams) (*models.File, error)
	FileDownloadLink(file *models.File) string
	SetMessageReaction(ctx context.Context, params *tg.SetMessageReactionParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *tg.AnswerCallbackQueryParams) (bool, error)
	EditMessageText(ctx context.Context, params *tg.EditMessageTextParams) (*models.Message, error)
}

var _ Bot = (*tg.Bot)(nil)

// HandlerFunc handles a single update.
type HandlerFunc func(ctx context.Context, b Bot, upd *models.Update)

// MatchFunc decides whether a route accepts an update.
type MatchFunc func(upd *models.Update) bool

type route struct {
	name    string
	match   MatchFunc
	handler HandlerFunc
	command string
}

// Router dispatches updates to the first route whose matcher accepts them.
type Router struct {
	routes []route
}

// New returns an empty Router.
func New() *Router {
	return &Router{}
}

// Handle appends a route. Routes are tried in registration order.
func (r *Router) Handle(name string, match MatchFunc, h HandlerFunc) *Router {
	r.routes = append(r.routes, route{name: name, match: match, handler: h})
	return r
}

// Command registers a handler for /name.
func (r *Router) Command(name string, h HandlerFunc) *Router {
	r.routes = append(r.routes, route{name: "/" + name, match: Command(name), handler: h, command: name})
	return r
}

// Commands lists the registered command names.
func (r *Router) Commands() []string {
	return lo.FilterMap(r.routes, func(rt route, _ int) (string, bool) {
		return rt.command, rt.command != ""
	})
}

// Dispatch runs the first matching handler and reports whether one ran.
func (r *Router) Dispatch(ctx context.Context, b Bot, upd *models.Update) bool {
	for _, rt := range r.routes {
		if rt.match(upd) {
			logging.Ctx(ctx).Debug().Str("route", rt.name).Str("kind", string(Classify(upd))).Msg("dispatch")
			rt.handler(ctx, b, upd)
			return true
		}
	}
	if Classify(upd) == KindCommand {
		r.unknownCommand(ctx, b, upd)
	}
	return false
}

func (r *Router) unknownCommand(ctx context.Context, b Bot, upd *models.Update) {
	cmd, _, _ := ParseCommand(upd.Message)
	suggestions := Suggest(r.Commands(), cmd)
	if len(suggestions) == 0 {
		logging.Ctx(ctx).Debug().Str("command", cmd).Msg("unknown command ignored")
		return
	}
	text := fmt.Sprintf("Unknown command /%s. Did you mean: %s?", cmd,
		strings.Join(lo.Map(suggestions, func(s string, _ int) string { return "/" + s }), ", "))
	if _, err := b.SendMessage(ctx, &tg.SendMessageParams{ChatID: upd.Message.Chat.ID, Text: text}); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("send suggestion")
	}
}

// ParseCommand extracts the command name and its arguments from a message.
// "/gpt@my_bot hello" yields ("gpt", "hello", true).
func ParseCommand(msg *models.Message) (cmd, args string, ok bool) {
	if msg == nil || msg.Text == "" {
		return "", "", false
	}
	length := 0
	for _, e := range msg.Entities {
		if e.Type == models.MessageEntityTypeBotCommand && e.Offset == 0 {
			length = e.Length
			break
		}
	}
	if length == 0 {
		if !strings.HasPrefix(msg.Text, "/") {
			return "", "", false
		}
		length = strings.IndexAny(msg.Text, " \n\t")
		if length < 0 {
			length = len(msg.Text)
		}
	}
	if length > len(msg.Text) {
		length = len(msg.Text)
	}
	cmd = strings.TrimPrefix(msg.Text[:length], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return "", "", false
	}
	args = strings.TrimSpace(msg.Text[length:])
	return cmd, args, true
}

// Reply sends text to the update's chat and logs failures.
func Reply(ctx context.Context, b Bot, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &tg.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("send message")
	}
}
