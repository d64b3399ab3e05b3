// Package handler builds the routers of the individual bots.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram-assistant-bots/internal/chat"
	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/router"
)

const (
	// maxMessageLen is the Telegram limit for a single text message.
	maxMessageLen = 4096

	pongReply        = "pong"
	rateLimitedReply = "Too many requests, please try again in a moment."
)

// httpGetFunc downloads Telegram files. Tests replace it.
var httpGetFunc = func(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

// chatOf returns the chat id of a message update.
func chatOf(upd *models.Update) int64 {
	if msg := router.MessageOf(upd); msg != nil {
		return msg.Chat.ID
	}
	if cq := upd.CallbackQuery; cq != nil && cq.Message.Message != nil {
		return cq.Message.Message.Chat.ID
	}
	return 0
}

// replyWith answers any update with a fixed text.
func replyWith(text string) router.HandlerFunc {
	return func(ctx context.Context, b router.Bot, upd *models.Update) {
		router.Reply(ctx, b, chatOf(upd), text)
	}
}

func pong(ctx context.Context, b router.Bot, upd *models.Update) {
	router.Reply(ctx, b, chatOf(upd), pongReply)
}

// sendLong sends text split into Telegram sized messages.
func sendLong(ctx context.Context, b router.Bot, chatID int64, text string) {
	for _, part := range splitMessage(text, maxMessageLen) {
		router.Reply(ctx, b, chatID, part)
	}
}

func splitMessage(s string, n int) []string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	var parts []string
	r := []rune(s)
	for len(r) > n {
		parts = append(parts, string(r[:n]))
		r = r[n:]
	}
	if len(r) > 0 {
		parts = append(parts, string(r))
	}
	return parts
}

// dropChars removes the first n characters of s.
func dropChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return ""
	}
	return string(r[n:])
}

// chatFailure turns a chat error into the text shown to the user.
func chatFailure(err error) string {
	if errors.Is(err, chat.ErrRateLimited) {
		return rateLimitedReply
	}
	return "OpenAI error: " + err.Error()
}

// answerWith replies with the model's answer for the text after prefixLen characters.
func answerWith(s *chat.Sessions, prefixLen int, model string) router.HandlerFunc {
	return func(ctx context.Context, b router.Bot, upd *models.Update) {
		msg := router.MessageOf(upd)
		log := logging.Ctx(ctx)
		question := dropChars(msg.Text, prefixLen)
		log.Info().Str("event", "chatgpt_request").Str("model", model).Str("snippet", logging.Snippet(question, 30)).Msg("sending to ChatGPT")

		answer, err := s.Answer(ctx, msg.Chat.ID, question, model)
		if err != nil {
			log.Error().Err(err).Msg("chatgpt request failed")
			router.Reply(ctx, b, msg.Chat.ID, chatFailure(err))
			return
		}
		log.Info().Str("event", "chatgpt_response").Str("snippet", logging.Snippet(answer, 30)).Msg("received from ChatGPT")
		sendLong(ctx, b, msg.Chat.ID, answer)
	}
}

// download fetches a Telegram file by id.
func download(ctx context.Context, b router.Bot, fileID string) ([]byte, error) {
	f, err := b.GetFile(ctx, &tg.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	resp, err := httpGetFunc(ctx, b.FileDownloadLink(f))
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 0 && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// inlineKeyboard builds a keyboard from rows of (text, data) pairs.
func inlineKeyboard(rows ...[][2]string) *models.InlineKeyboardMarkup {
	kb := make([][]models.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, models.InlineKeyboardButton{Text: b[0], CallbackData: b[1]})
		}
		kb = append(kb, btns)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: kb}
}

// sendKeyboard sends text with an inline keyboard.
func sendKeyboard(ctx context.Context, b router.Bot, chatID int64, text string, kb *models.InlineKeyboardMarkup) {
	if _, err := b.SendMessage(ctx, &tg.SendMessageParams{ChatID: chatID, Text: text, ReplyMarkup: kb}); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("send keyboard")
	}
}

// send sends text and returns the sent message, or nil on failure.
func send(ctx context.Context, b router.Bot, chatID int64, text string) *models.Message {
	msg, err := b.SendMessage(ctx, &tg.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("send message")
		return nil
	}
	return msg
}

// answerCallback acknowledges a callback query so the client stops its spinner.
func answerCallback(ctx context.Context, b router.Bot, cq *models.CallbackQuery) {
	if _, err := b.AnswerCallbackQuery(ctx, &tg.AnswerCallbackQueryParams{CallbackQueryID: cq.ID}); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("answer callback query")
	}
}

// editText replaces the text of a message sent earlier.
func editText(ctx context.Context, b router.Bot, chatID int64, messageID int, text string) {
	if _, err := b.EditMessageText(ctx, &tg.EditMessageTextParams{ChatID: chatID, MessageID: messageID, Text: text}); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("edit message")
	}
}

// trimmedLower normalises short control words like "ping".
func trimmedLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
