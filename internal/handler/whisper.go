package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"telegram-assistant-bots/internal/chat"
	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/notion"
	"telegram-assistant-bots/internal/router"
	"telegram-assistant-bots/internal/transcribe"
)

const (
	WhisperWelcome = "Welcome, I'd love to help with questions to GPT or audio transcriptions"

	audioReceivedReply = "Audio received, starting transcription..."
	noteTimeLayout     = "2006-01-02 15:04:05"
)

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, r io.Reader, filename string) (string, error)
}

// WhisperOpts configures the GPT and Whisper bot.
type WhisperOpts struct {
	Sessions    *chat.Sessions
	Transcriber Transcriber
	// AdvancedModel answers "gpt4" prefixed messages.
	AdvancedModel string
	// Notion is optional; transcripts and summaries are stored when the
	// matching page id is set.
	Notion           notion.Store
	TranscriptPageID string
	SummaryPageID    string
	Now              func() time.Time
}

type whisperBot struct {
	opts WhisperOpts
}

// Whisper returns the router of the GPT and Whisper bot.
func Whisper(opts WhisperOpts) *router.Router {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AdvancedModel == "" {
		opts.AdvancedModel = "gpt-4"
	}
	w := &whisperBot{opts: opts}
	return router.New().
		Command("start", replyWith(WhisperWelcome)).
		Command("limit", w.limit).
		Handle("text", router.Text(), router.ReplyRules(
			router.Rule{When: router.Ping, Then: pong},
			router.Rule{When: router.FirstCharsLower(4, "gpt4"), Then: answerWith(opts.Sessions, 4, opts.AdvancedModel)},
			router.Rule{When: router.FirstCharsLower(3, "gpt"), Then: answerWith(opts.Sessions, 3, "")},
		)).
		Handle("audio", router.AudioOrVoice(), w.audio)
}

// limit sets how many stored conversation turns the chat keeps.
func (w *whisperBot) limit(ctx context.Context, b router.Bot, upd *models.Update) {
	_, args, _ := router.ParseCommand(upd.Message)
	chatID := upd.Message.Chat.ID
	n, err := strconv.Atoi(args)
	if err != nil || n < 0 {
		router.Reply(ctx, b, chatID, "Usage: /limit <number of messages>")
		return
	}
	if err := w.opts.Sessions.SetLimit(chatID, n); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("set history limit")
		router.Reply(ctx, b, chatID, "Failed to set limit: "+err.Error())
		return
	}
	router.Reply(ctx, b, chatID, fmt.Sprintf("History limit set to %d messages.", n))
}

// audioMeta describes the received audio for the stored transcript.
type audioMeta struct {
	FileID    string
	Type      string
	Duration  int
	FileSize  int64
	FileName  string
	MIMEType  string
	Performer string
	Title     string
}

func audioMetaOf(msg *models.Message) (audioMeta, bool) {
	switch {
	case msg.Audio != nil:
		a := msg.Audio
		return audioMeta{
			FileID:    a.FileID,
			Type:      "audio",
			Duration:  a.Duration,
			FileSize:  a.FileSize,
			FileName:  a.FileName,
			MIMEType:  a.MimeType,
			Performer: a.Performer,
			Title:     a.Title,
		}, true
	case msg.Voice != nil:
		v := msg.Voice
		return audioMeta{
			FileID:   v.FileID,
			Type:     "voice",
			Duration: v.Duration,
			FileSize: v.FileSize,
			FileName: v.FileUniqueID + ".m4a",
			MIMEType: v.MimeType,
		}, true
	}
	return audioMeta{}, false
}

func (w *whisperBot) audio(ctx context.Context, b router.Bot, upd *models.Update) {
	msg := upd.Message
	chatID := msg.Chat.ID
	log := logging.Ctx(ctx)

	w.opts.Sessions.Clear(ctx, chatID)
	now := w.opts.Now()
	router.Reply(ctx, b, chatID, audioReceivedReply)

	meta, ok := audioMetaOf(msg)
	if !ok {
		return
	}
	log.Info().Str("event", "transcription").Str("type", meta.Type).Int("duration", meta.Duration).Int64("size", meta.FileSize).Msg("audio received")

	text, err := w.transcribe(ctx, b, meta)
	if err != nil {
		log.Error().Err(err).Msg("transcription failed")
		router.Reply(ctx, b, chatID, err.Error())
		return
	}
	chunks := transcribe.Split(text, transcribe.MessageLimit)
	log.Info().Str("event", "transcription").Int("segments", len(chunks)).Msg("transcription completed")
	for _, c := range chunks {
		router.Reply(ctx, b, chatID, c)
	}

	full := strings.Join(chunks, " ")
	w.store(ctx, w.opts.TranscriptPageID, "transcript", formatTranscript(full, meta, now))

	summary, err := w.opts.Sessions.Answer(ctx, chatID, summaryPrompt(full), "")
	if err != nil {
		log.Error().Err(err).Msg("summary generation failed")
		router.Reply(ctx, b, chatID, "Summary generation failed: "+err.Error())
		return
	}
	sendLong(ctx, b, chatID, summary)
	w.store(ctx, w.opts.SummaryPageID, "summary", formatSummary(summary, meta, now))
}

func (w *whisperBot) transcribe(ctx context.Context, b router.Bot, meta audioMeta) (string, error) {
	data, err := download(ctx, b, meta.FileID)
	if err != nil {
		return "", err
	}
	name := meta.FileName
	if name == "" {
		name = meta.FileID + ".ogg"
	}
	return w.opts.Transcriber.Transcribe(ctx, bytes.NewReader(data), name)
}

// store appends text to a Notion page. Failures are logged only.
func (w *whisperBot) store(ctx context.Context, pageID, what, text string) {
	log := logging.Ctx(ctx)
	if w.opts.Notion == nil || pageID == "" {
		log.Warn().Str("event", "notion_store").Str("what", what).Msg("notion page not configured, skipping")
		return
	}
	if err := w.opts.Notion.AppendText(ctx, pageID, text); err != nil {
		log.Error().Err(err).Str("event", "notion_store").Str("what", what).Msg("failed to store in notion")
		return
	}
	log.Info().Str("event", "notion_store").Str("what", what).Msg("stored in notion")
}

func summaryPrompt(text string) string {
	return "Please summarise the following message, keep the original language " +
		"(if the text is in Spanish, perform the summary in Spanish). " +
		"It will likely be Spanish or English: \"" + text + "\"\n" +
		`Your answer should start with "SUMMARY:" ` +
		`(use "RESUMEN:" if the language is Spanish).`
}

func metaHeader(meta audioMeta) string {
	var sb strings.Builder
	sb.WriteString("📊 Metadata:\n")
	fmt.Fprintf(&sb, "• Type: %s\n", orUnknown(meta.Type))
	if meta.Duration > 0 {
		fmt.Fprintf(&sb, "• Duration: %ds\n", meta.Duration)
	} else {
		sb.WriteString("• Duration: Unknown\n")
	}
	if meta.FileSize > 0 {
		fmt.Fprintf(&sb, "• File size: %d bytes\n", meta.FileSize)
	} else {
		sb.WriteString("• File size: Unknown\n")
	}
	if meta.FileName != "" {
		fmt.Fprintf(&sb, "• File name: %s\n", meta.FileName)
	}
	return sb.String()
}

func formatTranscript(text string, meta audioMeta, at time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🎵 Audio Transcription - %s\n\n", at.Format(noteTimeLayout))
	sb.WriteString(metaHeader(meta))
	if meta.MIMEType != "" {
		fmt.Fprintf(&sb, "• MIME type: %s\n", meta.MIMEType)
	}
	if meta.Performer != "" {
		fmt.Fprintf(&sb, "• Performer: %s\n", meta.Performer)
	}
	if meta.Title != "" {
		fmt.Fprintf(&sb, "• Title: %s\n", meta.Title)
	}
	fmt.Fprintf(&sb, "\n📝 Transcription:\n%s", text)
	return sb.String()
}

func formatSummary(summary string, meta audioMeta, at time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 Audio Summary - %s\n\n", at.Format(noteTimeLayout))
	sb.WriteString(metaHeader(meta))
	fmt.Fprintf(&sb, "\n📄 Summary:\n%s", summary)
	return sb.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
