package chat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	openai "github.com/openai/openai-go/v2"
	"github.com/pkoukk/tiktoken-go"

	"telegram-assistant-bots/internal/storage"
)

type fakeCompleter struct {
	reply string
	err   error
	got   [][]Message
	model string
}

func (f *fakeCompleter) Complete(ctx context.Context, chatID int64, model string, messages []Message) (string, error) {
	f.got = append(f.got, append([]Message(nil), messages...))
	f.model = model
	return f.reply, f.err
}

func TestAnswerFormatsMessageCount(t *testing.T) {
	fc := &fakeCompleter{reply: "hi there"}
	s := NewSessions(fc, Opts{})

	got, err := s.Answer(context.Background(), 1, "hello", "")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got != "hi there - message #3" {
		t.Fatalf("reply = %q", got)
	}
	if fc.model != "gpt-3.5-turbo" {
		t.Fatalf("model = %s", fc.model)
	}
	first := fc.got[0]
	if len(first) != 2 || first[0].Role != RoleSystem || first[0].Content != SystemPrompt || first[1].Content != "hello" {
		t.Fatalf("prompt = %+v", first)
	}

	got, _ = s.Answer(context.Background(), 1, "again", "gpt-4")
	if got != "hi there - message #5" {
		t.Fatalf("second reply = %q", got)
	}
	if fc.model != "gpt-4" {
		t.Fatalf("model = %s", fc.model)
	}
}

func TestQuitAndClean(t *testing.T) {
	fc := &fakeCompleter{reply: "ok"}
	s := NewSessions(fc, Opts{})
	ctx := context.Background()

	s.Answer(ctx, 1, "one", "")
	got, err := s.Answer(ctx, 1, "QUIT", "")
	if err != nil || got != ClearedReply {
		t.Fatalf("quit = %q, %v", got, err)
	}
	if len(s.History(1)) != 0 {
		t.Fatal("history not cleared by quit")
	}

	s.Answer(ctx, 1, "one", "")
	got, _ = s.Answer(ctx, 1, "/clean fresh start", "")
	if got != "ok - message #3" {
		t.Fatalf("clean reply = %q", got)
	}
	last := fc.got[len(fc.got)-1]
	if last[1].Content != " fresh start" {
		t.Fatalf("clean prompt = %+v", last)
	}
}

func TestChatsAreIndependent(t *testing.T) {
	fc := &fakeCompleter{reply: "ok"}
	s := NewSessions(fc, Opts{})
	s.Answer(context.Background(), 1, "a", "")
	s.Answer(context.Background(), 1, "b", "")
	got, _ := s.Answer(context.Background(), 2, "c", "")
	if got != "ok - message #3" {
		t.Fatalf("other chat reply = %q", got)
	}
}

func TestFailedCompletionKeepsHistory(t *testing.T) {
	fc := &fakeCompleter{reply: "ok"}
	s := NewSessions(fc, Opts{})
	s.Answer(context.Background(), 1, "a", "")

	fc.err = errors.New("boom")
	if _, err := s.Answer(context.Background(), 1, "b", ""); err == nil {
		t.Fatal("expected error")
	}
	if n := len(s.History(1)); n != 3 {
		t.Fatalf("history len = %d, want 3", n)
	}
}

func TestTrimToBudget(t *testing.T) {
	orig := countTokens
	countTokens = func(_, text string) int { return len(text) }
	defer func() { countTokens = orig }()

	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "aaaaaaaaaa"},
		{Role: RoleAssistant, Content: "bbbbbbbbbb"},
		{Role: RoleUser, Content: "cc"},
	}
	// sys=3+4, a=10+4, b=10+4, cc=2+4 -> 41
	out := trimToBudget("m", msgs, 27)
	if len(out) != 3 || out[0].Role != RoleSystem || out[1].Content != "bbbbbbbbbb" {
		t.Fatalf("trimmed = %+v", out)
	}
	if len(msgs) != 4 || msgs[1].Content != "aaaaaaaaaa" {
		t.Fatal("input slice modified")
	}
	out = trimToBudget("m", msgs, 1)
	if len(out) != 2 || out[1].Content != "cc" {
		t.Fatalf("newest message must survive: %+v", out)
	}
	if got := trimToBudget("m", msgs, 0); len(got) != 4 {
		t.Fatal("zero budget should disable trimming")
	}
}

func TestFailedEncodingLookupIsCached(t *testing.T) {
	const model = "no-such-model"
	attempts := 0
	orig := loadEncoding
	loadEncoding = func(string) (*tiktoken.Tiktoken, error) {
		attempts++
		return nil, errors.New("network unreachable")
	}
	defer func() {
		loadEncoding = orig
		encodings.Delete(model)
	}()

	for i := 0; i < 2; i++ {
		if enc := encodingFor(model); enc != nil {
			t.Fatalf("encoding = %v, want nil", enc)
		}
	}
	if attempts != 1 {
		t.Fatalf("lookup attempts = %d, want 1", attempts)
	}
	// len/4 + 1 fallback
	if got := countTokens(model, "abcdefgh"); got != 3 || attempts != 1 {
		t.Fatalf("tokens = %d attempts = %d", got, attempts)
	}
}

func TestEncodingLoadsOffline(t *testing.T) {
	enc := encodingFor("gpt-3.5-turbo")
	if enc == nil {
		t.Fatal("embedded cl100k_base encoding not available")
	}
	if n := len(enc.Encode("hello world", nil, nil)); n != 2 {
		t.Fatalf("tokens = %d, want 2", n)
	}
}

func TestPersistedHistory(t *testing.T) {
	if err := storage.Init(filepath.Join(t.TempDir(), "chat.db")); err != nil {
		t.Fatalf("storage init: %v", err)
	}
	defer storage.Close()

	fc := &fakeCompleter{reply: "ok"}
	s := NewSessions(fc, Opts{Persist: true})
	s.Answer(context.Background(), 1, "remember me", "")

	restored := NewSessions(fc, Opts{Persist: true})
	got, _ := restored.Answer(context.Background(), 1, "again", "")
	if got != "ok - message #5" {
		t.Fatalf("restored reply = %q", got)
	}
	if c := fc.got[len(fc.got)-1][1].Content; c != "remember me" {
		t.Fatalf("restored prompt = %q", c)
	}

	if err := restored.SetLimit(1, 2); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	n, _ := storage.CountHistory(1)
	if n != 2 {
		t.Fatalf("stored = %d, want 2", n)
	}

	restored.Clear(context.Background(), 1)
	n, _ = storage.CountHistory(1)
	if n != 0 {
		t.Fatalf("stored after clear = %d", n)
	}
}

func TestClientComplete(t *testing.T) {
	orig := openAIComplete
	defer func() { openAIComplete = orig }()

	var params openai.ChatCompletionNewParams
	openAIComplete = func(ctx context.Context, client *openai.Client, p openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		params = p
		return &openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: ""}},
			{Message: openai.ChatCompletionMessage{Content: "second"}},
		}}, nil
	}

	c := NewClient("key")
	got, err := c.Complete(context.Background(), 1, "gpt-4", []Message{
		{Role: RoleSystem, Content: "s"}, {Role: RoleUser, Content: "u"}, {Role: RoleAssistant, Content: "a"},
	})
	if err != nil || got != "second" {
		t.Fatalf("Complete = %q, %v", got, err)
	}
	if string(params.Model) != "gpt-4" || len(params.Messages) != 3 {
		t.Fatalf("params = %+v", params)
	}
	if params.Messages[0].OfSystem == nil || params.Messages[1].OfUser == nil || params.Messages[2].OfAssistant == nil {
		t.Fatal("roles not mapped")
	}
	if params.Temperature.Value != 0.7 {
		t.Fatalf("temperature = %v", params.Temperature.Value)
	}

	openAIComplete = func(context.Context, *openai.Client, openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		return &openai.ChatCompletion{}, nil
	}
	if _, err := c.Complete(context.Background(), 1, "m", nil); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v", err)
	}
}
