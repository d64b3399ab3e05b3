package handler

import (
	"context"

	"github.com/go-telegram/bot/models"

	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/router"
)

const chooseOptionText = "Choose an option:"

var devOptions = map[string]string{
	"GPT3":    "Send me a message to get a GPT-3 response.",
	"GPT4":    "Send me a message to get a GPT-4 response.",
	"Summary": "Send me a message to get a summary.",
}

// Dev returns the router of the development bot. Text other than ping, in
// any case, is stored like in the notes bot.
func Dev(opts NotesOpts) *router.Router {
	return router.New().
		Command("start", drawButtons).
		Handle("option", router.Callback(), devOption).
		Handle("text", router.Text(), router.ReplyRules(
			router.Rule{When: router.Ping, Then: pong},
			router.Rule{When: router.CatchAll(), Then: storeNote(opts)},
		))
}

func drawButtons(ctx context.Context, b router.Bot, upd *models.Update) {
	logging.Ctx(ctx).Info().Msg("drawing buttons")
	kb := inlineKeyboard(
		[][2]string{{"GPT-3", "GPT3"}, {"GPT-4", "GPT4"}},
		[][2]string{{"Summary", "Summary"}},
	)
	sendKeyboard(ctx, b, upd.Message.Chat.ID, chooseOptionText, kb)
}

func devOption(ctx context.Context, b router.Bot, upd *models.Update) {
	cq := upd.CallbackQuery
	answerCallback(ctx, b, cq)
	text, ok := devOptions[cq.Data]
	if !ok {
		logging.Ctx(ctx).Debug().Str("data", cq.Data).Msg("unknown option")
		return
	}
	router.Reply(ctx, b, chatOf(upd), text)
}
