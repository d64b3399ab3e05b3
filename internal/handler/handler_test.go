package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram-assistant-bots/internal/chat"
	"telegram-assistant-bots/internal/router"
	"telegram-assistant-bots/internal/storage"
)

type sentMessage struct {
	ChatID int64
	Text   string
	Markup models.ReplyMarkup
}

// testBot records what the handlers send.
type testBot struct {
	mu        sync.Mutex
	sent      []sentMessage
	reactions []*tg.SetMessageReactionParams
	edits     []*tg.EditMessageTextParams
	answered  []string
	nextID    int
	getFile   func(ctx context.Context, params *tg.GetFileParams) (*models.File, error)
	reactErr  error
}

func (b *testBot) SendMessage(ctx context.Context, params *tg.SendMessageParams) (*models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, _ := params.ChatID.(int64)
	b.sent = append(b.sent, sentMessage{ChatID: id, Text: params.Text, Markup: params.ReplyMarkup})
	b.nextID++
	return &models.Message{ID: 100 + b.nextID, Chat: models.Chat{ID: id}}, nil
}

func (b *testBot) GetFile(ctx context.Context, params *tg.GetFileParams) (*models.File, error) {
	if b.getFile != nil {
		return b.getFile(ctx, params)
	}
	return &models.File{FileID: params.FileID, FilePath: "voice/file.oga"}, nil
}

func (b *testBot) FileDownloadLink(file *models.File) string {
	return "http://example.com/" + file.FilePath
}

func (b *testBot) SetMessageReaction(ctx context.Context, params *tg.SetMessageReactionParams) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reactions = append(b.reactions, params)
	return b.reactErr == nil, b.reactErr
}

func (b *testBot) AnswerCallbackQuery(ctx context.Context, params *tg.AnswerCallbackQueryParams) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answered = append(b.answered, params.CallbackQueryID)
	return true, nil
}

func (b *testBot) EditMessageText(ctx context.Context, params *tg.EditMessageTextParams) (*models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edits = append(b.edits, params)
	return &models.Message{ID: params.MessageID}, nil
}

func (b *testBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.sent))
	for _, m := range b.sent {
		out = append(out, m.Text)
	}
	return out
}

func (b *testBot) last() sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		return sentMessage{}
	}
	return b.sent[len(b.sent)-1]
}

func textUpdate(chatID int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{ID: 7, Text: text, Chat: models.Chat{ID: chatID}, From: &models.User{ID: chatID}}}
}

func commandUpdate(chatID int64, text string) *models.Update {
	upd := textUpdate(chatID, text)
	cmdLen := strings.IndexByte(text, ' ')
	if cmdLen < 0 {
		cmdLen = len(text)
	}
	upd.Message.Entities = []models.MessageEntity{{Type: models.MessageEntityTypeBotCommand, Offset: 0, Length: cmdLen}}
	return upd
}

func callbackUpdate(chatID int64, data string) *models.Update {
	return &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cq1",
		From: models.User{ID: chatID},
		Data: data,
		Message: models.MaybeInaccessibleMessage{
			Message: &models.Message{ID: 55, Chat: models.Chat{ID: chatID}},
		},
	}}
}

type completion struct {
	Model    string
	Messages []chat.Message
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls []completion
	reply string
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, chatID int64, model string, messages []chat.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, completion{Model: model, Messages: messages})
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeTranscriber struct {
	filename string
	audio    string
	text     string
	err      error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, r io.Reader, filename string) (string, error) {
	data, _ := io.ReadAll(r)
	f.audio = string(data)
	f.filename = filename
	return f.text, f.err
}

type notionPage struct {
	Parent string
	Text   string
	Date   time.Time
}

type fakeNotion struct {
	appended []notionPage
	pages    []notionPage
	err      error
}

func (f *fakeNotion) AppendText(ctx context.Context, pageID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, notionPage{Parent: pageID, Text: text})
	return nil
}

func (f *fakeNotion) AddPage(ctx context.Context, databaseID, title string, date time.Time) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.pages = append(f.pages, notionPage{Parent: databaseID, Text: title, Date: date})
	return "page-1", nil
}

func stubDownload(t *testing.T, body string) {
	t.Helper()
	orig := httpGetFunc
	httpGetFunc = func(ctx context.Context, url string) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
	}
	t.Cleanup(func() { httpGetFunc = orig })
}

func TestSplitMessage(t *testing.T) {
	parts := splitMessage("abcdef", 2)
	expected := []string{"ab", "cd", "ef"}
	if !reflect.DeepEqual(parts, expected) {
		t.Fatalf("splitMessage got %v want %v", parts, expected)
	}
	if got := splitMessage("héllo", 10); len(got) != 1 || got[0] != "héllo" {
		t.Fatalf("short message split: %v", got)
	}
}

func TestDropChars(t *testing.T) {
	if got := dropChars("gpt4 hola", 4); got != " hola" {
		t.Fatalf("dropChars = %q", got)
	}
	if got := dropChars("gp", 3); got != "" {
		t.Fatalf("dropChars short = %q", got)
	}
}

func newWhisper(fc *fakeCompleter, tr *fakeTranscriber, fn *fakeNotion) *router.Router {
	opts := WhisperOpts{
		Sessions:         chat.NewSessions(fc, chat.Opts{DefaultModel: "gpt-3.5-turbo"}),
		Transcriber:      tr,
		AdvancedModel:    "gpt-4",
		TranscriptPageID: "transcripts",
		SummaryPageID:    "summaries",
		Now:              func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) },
	}
	if fn != nil {
		opts.Notion = fn
	}
	return Whisper(opts)
}

func TestWhisperTextRules(t *testing.T) {
	fc := &fakeCompleter{reply: "answer"}
	r := newWhisper(fc, &fakeTranscriber{}, nil)
	ctx := context.Background()

	cases := []struct {
		in, want, model, prompt string
	}{
		{in: "ping", want: "pong"},
		{in: "GPT4 what is go?", want: "answer - message #3", model: "gpt-4", prompt: " what is go?"},
		{in: "gpt hello", want: "answer - message #5", model: "gpt-3.5-turbo", prompt: " hello"},
		{in: "hello", want: router.UnknownReply},
	}
	for _, tc := range cases {
		b := &testBot{}
		r.Dispatch(ctx, b, textUpdate(1, tc.in))
		if got := b.last().Text; got != tc.want {
			t.Fatalf("%q: reply = %q, want %q", tc.in, got, tc.want)
		}
		if tc.model == "" {
			continue
		}
		call := fc.calls[len(fc.calls)-1]
		if call.Model != tc.model {
			t.Fatalf("%q: model = %q", tc.in, call.Model)
		}
		if got := call.Messages[len(call.Messages)-1].Content; got != tc.prompt {
			t.Fatalf("%q: prompt = %q", tc.in, got)
		}
	}
}

func TestWhisperChatError(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("boom")}
	b := &testBot{}
	newWhisper(fc, &fakeTranscriber{}, nil).Dispatch(context.Background(), b, textUpdate(1, "gpt hi"))
	if got := b.last().Text; got != "OpenAI error: boom" {
		t.Fatalf("reply = %q", got)
	}
}

func TestWhisperStart(t *testing.T) {
	b := &testBot{}
	newWhisper(&fakeCompleter{}, &fakeTranscriber{}, nil).Dispatch(context.Background(), b, commandUpdate(1, "/start"))
	if got := b.last().Text; got != WhisperWelcome {
		t.Fatalf("reply = %q", got)
	}
}

func TestWhisperVoiceFlow(t *testing.T) {
	stubDownload(t, "audio-bytes")
	fc := &fakeCompleter{reply: "SUMMARY: a greeting"}
	tr := &fakeTranscriber{text: "Hello there. How are you?"}
	fn := &fakeNotion{}
	b := &testBot{}

	upd := &models.Update{Message: &models.Message{
		ID:    9,
		Chat:  models.Chat{ID: 5},
		Voice: &models.Voice{FileID: "v1", FileUniqueID: "u1", Duration: 3, FileSize: 1200, MimeType: "audio/ogg"},
	}}
	newWhisper(fc, tr, fn).Dispatch(context.Background(), b, upd)

	want := []string{audioReceivedReply, "Hello there. How are you?", "SUMMARY: a greeting - message #3"}
	if got := b.texts(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sent = %q", got)
	}
	if tr.filename != "u1.m4a" || tr.audio != "audio-bytes" {
		t.Fatalf("transcriber got %q %q", tr.filename, tr.audio)
	}
	prompt := fc.calls[0].Messages[1].Content
	if !strings.Contains(prompt, `It will likely be Spanish or English: "Hello there. How are you?"`) {
		t.Fatalf("summary prompt = %q", prompt)
	}
	if len(fn.appended) != 2 {
		t.Fatalf("notion appends = %d", len(fn.appended))
	}
	tp := fn.appended[0]
	if tp.Parent != "transcripts" ||
		!strings.HasPrefix(tp.Text, "🎵 Audio Transcription - 2024-05-01 10:00:00\n\n📊 Metadata:\n• Type: voice\n• Duration: 3s\n• File size: 1200 bytes\n• File name: u1.m4a\n• MIME type: audio/ogg\n") ||
		!strings.HasSuffix(tp.Text, "\n📝 Transcription:\nHello there. How are you?") {
		t.Fatalf("transcript page = %+v", tp)
	}
	sp := fn.appended[1]
	if sp.Parent != "summaries" || !strings.HasPrefix(sp.Text, "📋 Audio Summary - 2024-05-01 10:00:00") ||
		!strings.HasSuffix(sp.Text, "📄 Summary:\nSUMMARY: a greeting - message #3") {
		t.Fatalf("summary page = %+v", sp)
	}
}

func TestWhisperAudioWithoutNotion(t *testing.T) {
	stubDownload(t, "x")
	tr := &fakeTranscriber{text: "Hola."}
	b := &testBot{}
	upd := &models.Update{Message: &models.Message{Chat: models.Chat{ID: 5}, Audio: &models.Audio{FileID: "a1", FileName: "memo.mp3"}}}
	newWhisper(&fakeCompleter{reply: "RESUMEN: hola"}, tr, nil).Dispatch(context.Background(), b, upd)
	if tr.filename != "memo.mp3" {
		t.Fatalf("filename = %q", tr.filename)
	}
	if got := b.last().Text; got != "RESUMEN: hola - message #3" {
		t.Fatalf("summary reply = %q", got)
	}
}

func TestWhisperTranscriptionFailure(t *testing.T) {
	stubDownload(t, "x")
	fc := &fakeCompleter{reply: "unused"}
	b := &testBot{}
	upd := &models.Update{Message: &models.Message{Chat: models.Chat{ID: 5}, Voice: &models.Voice{FileID: "v", FileUniqueID: "u"}}}
	newWhisper(fc, &fakeTranscriber{err: errors.New("no transcription text returned")}, &fakeNotion{}).Dispatch(context.Background(), b, upd)

	want := []string{audioReceivedReply, "no transcription text returned"}
	if got := b.texts(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sent = %q", got)
	}
	if len(fc.calls) != 0 {
		t.Fatal("summary requested after failed transcription")
	}
}

func TestWhisperSummaryFailure(t *testing.T) {
	stubDownload(t, "x")
	fn := &fakeNotion{}
	b := &testBot{}
	upd := &models.Update{Message: &models.Message{Chat: models.Chat{ID: 5}, Voice: &models.Voice{FileID: "v", FileUniqueID: "u"}}}
	newWhisper(&fakeCompleter{err: errors.New("quota")}, &fakeTranscriber{text: "Hi."}, fn).Dispatch(context.Background(), b, upd)

	if got := b.last().Text; got != "Summary generation failed: quota" {
		t.Fatalf("reply = %q", got)
	}
	if len(fn.appended) != 1 {
		t.Fatalf("only the transcript should be stored, got %d", len(fn.appended))
	}
}

func TestWhisperDownloadFailure(t *testing.T) {
	b := &testBot{getFile: func(ctx context.Context, params *tg.GetFileParams) (*models.File, error) {
		return nil, errors.New("file is too big")
	}}
	upd := &models.Update{Message: &models.Message{Chat: models.Chat{ID: 5}, Voice: &models.Voice{FileID: "v"}}}
	newWhisper(&fakeCompleter{}, &fakeTranscriber{}, nil).Dispatch(context.Background(), b, upd)
	if got := b.last().Text; got != "get file: file is too big" {
		t.Fatalf("reply = %q", got)
	}
}

func TestNotesBot(t *testing.T) {
	fn := &fakeNotion{}
	now := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	r := Notes(NotesOpts{Notion: fn, DatabaseID: "db", Now: func() time.Time { return now }})
	ctx := context.Background()

	b := &testBot{}
	r.Dispatch(ctx, b, commandUpdate(1, "/start"))
	r.Dispatch(ctx, b, textUpdate(1, "ping"))
	r.Dispatch(ctx, b, textUpdate(1, "buy milk"))
	want := []string{NotesWelcome, "pong", noteStoredReply}
	if got := b.texts(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sent = %q", got)
	}
	if len(fn.pages) != 1 || fn.pages[0] != (notionPage{Parent: "db", Text: "buy milk", Date: now}) {
		t.Fatalf("pages = %+v", fn.pages)
	}

	fn.err = errors.New("unauthorized")
	r.Dispatch(ctx, b, textUpdate(1, "Ping"))
	if got := b.last().Text; got != "Failed to store note: unauthorized" {
		t.Fatalf("reply = %q", got)
	}
}

func TestDevBot(t *testing.T) {
	fn := &fakeNotion{}
	r := Dev(NotesOpts{Notion: fn, DatabaseID: "db"})
	ctx := context.Background()

	b := &testBot{}
	r.Dispatch(ctx, b, commandUpdate(3, "/start"))
	msg := b.last()
	if msg.Text != chooseOptionText {
		t.Fatalf("start reply = %q", msg.Text)
	}
	kb, ok := msg.Markup.(*models.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 2 || len(kb.InlineKeyboard[0]) != 2 || kb.InlineKeyboard[1][0].CallbackData != "Summary" {
		t.Fatalf("keyboard = %#v", msg.Markup)
	}

	r.Dispatch(ctx, b, callbackUpdate(3, "GPT4"))
	if got := b.last().Text; got != "Send me a message to get a GPT-4 response." {
		t.Fatalf("callback reply = %q", got)
	}
	if len(b.answered) != 1 {
		t.Fatalf("callback not answered")
	}

	r.Dispatch(ctx, b, textUpdate(3, "Ping"))
	if got := b.last().Text; got != pongReply || len(fn.pages) != 0 {
		t.Fatalf("ping reply = %q pages = %d", got, len(fn.pages))
	}

	r.Dispatch(ctx, b, textUpdate(3, "idea"))
	if got := b.last().Text; got != noteStoredReply || len(fn.pages) != 1 {
		t.Fatalf("note reply = %q pages = %d", got, len(fn.pages))
	}
}

func TestWhisperLimit(t *testing.T) {
	ctx := context.Background()
	b := &testBot{}
	r := newWhisper(&fakeCompleter{}, &fakeTranscriber{}, nil)
	r.Dispatch(ctx, b, commandUpdate(1, "/limit many"))
	if got := b.last().Text; got != "Usage: /limit <number of messages>" {
		t.Fatalf("reply = %q", got)
	}
	r.Dispatch(ctx, b, commandUpdate(1, "/limit 3"))
	if got := b.last().Text; got != "Failed to set limit: history persistence disabled" {
		t.Fatalf("reply = %q", got)
	}

	if err := storage.Init(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("storage init: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	r = Whisper(WhisperOpts{Sessions: chat.NewSessions(&fakeCompleter{}, chat.Opts{Persist: true}), Transcriber: &fakeTranscriber{}})
	r.Dispatch(ctx, b, commandUpdate(1, "/limit 3"))
	if got := b.last().Text; got != "History limit set to 3 messages." {
		t.Fatalf("reply = %q", got)
	}
	if n, err := storage.LoadHistoryLimit(1); err != nil || n != 3 {
		t.Fatalf("stored limit = %d, %v", n, err)
	}
}
