package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/ratelimit"
	"telegram-assistant-bots/internal/storage"
)

const (
	// SystemPrompt seeds every new conversation.
	SystemPrompt = "You are a helpful assistant."
	// ClearedReply answers a "quit" message.
	ClearedReply = "Conversation cleared"

	cleanPrefix = "/clean"
)

// Completer produces an assistant reply for a conversation.
type Completer interface {
	Complete(ctx context.Context, chatID int64, model string, messages []Message) (string, error)
}

// Opts configures Sessions.
type Opts struct {
	DefaultModel string
	// MaxTokens bounds the prompt sent to the model; zero disables trimming.
	MaxTokens int
	// Limiter is optional.
	Limiter *ratelimit.Limiter
	// Persist writes conversations through to storage.
	Persist bool
}

// Sessions keeps one conversation per chat.
type Sessions struct {
	completer Completer
	opts      Opts

	mu      sync.Mutex
	history map[int64][]Message
	locks   map[int64]*sync.Mutex
}

// NewSessions returns an empty session store.
func NewSessions(c Completer, opts Opts) *Sessions {
	if opts.DefaultModel == "" {
		opts.DefaultModel = "gpt-3.5-turbo"
	}
	return &Sessions{
		completer: c,
		opts:      opts,
		history:   make(map[int64][]Message),
		locks:     make(map[int64]*sync.Mutex),
	}
}

func (s *Sessions) chatLock(chatID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chatID] = l
	}
	return l
}

// Answer adds text to the chat's conversation, asks model for a reply and
// returns it suffixed with the conversation length. An empty model selects
// the default one.
func (s *Sessions) Answer(ctx context.Context, chatID int64, text, model string) (string, error) {
	if strings.EqualFold(text, "quit") {
		s.Clear(ctx, chatID)
		return ClearedReply, nil
	}
	if strings.HasPrefix(text, cleanPrefix) {
		s.Clear(ctx, chatID)
		text = text[len(cleanPrefix):]
	}
	if model == "" {
		model = s.opts.DefaultModel
	}
	if s.opts.Limiter != nil && !s.opts.Limiter.Wait(ctx, chatID) {
		return "", ErrRateLimited
	}

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	msgs := append(s.load(ctx, chatID), Message{Role: RoleUser, Content: text})
	msgs = trimToBudget(model, msgs, s.opts.MaxTokens)

	reply, err := s.completer.Complete(ctx, chatID, model, msgs)
	if err != nil {
		return "", err
	}
	msgs = append(msgs, Message{Role: RoleAssistant, Content: reply})

	s.mu.Lock()
	s.history[chatID] = msgs
	s.mu.Unlock()
	s.persist(ctx, chatID, msgs)

	return fmt.Sprintf("%s - message #%d", reply, len(msgs)), nil
}

// History returns a copy of the chat's conversation.
func (s *Sessions) History(chatID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history[chatID]...)
}

// Clear forgets the chat's conversation.
func (s *Sessions) Clear(ctx context.Context, chatID int64) {
	s.mu.Lock()
	s.history[chatID] = nil
	s.mu.Unlock()
	if s.opts.Persist && storage.Ready() {
		if n, err := storage.ClearHistory(chatID); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("clear stored history")
		} else {
			logging.Ctx(ctx).Debug().Int("removed", n).Msg("stored history cleared")
		}
	}
}

// SetLimit caps the number of stored turns kept for a chat.
func (s *Sessions) SetLimit(chatID int64, limit int) error {
	if !s.opts.Persist || !storage.Ready() {
		return fmt.Errorf("history persistence disabled")
	}
	if err := storage.SaveHistoryLimit(chatID, limit); err != nil {
		return err
	}
	return storage.TrimHistory(chatID, limit)
}

// load returns the conversation, restoring it from storage on first use.
func (s *Sessions) load(ctx context.Context, chatID int64) []Message {
	s.mu.Lock()
	msgs, ok := s.history[chatID]
	s.mu.Unlock()
	if ok && len(msgs) > 0 {
		return append([]Message(nil), msgs...)
	}
	msgs = []Message{{Role: RoleSystem, Content: SystemPrompt}}
	if !s.opts.Persist || !storage.Ready() {
		return msgs
	}
	stored, err := storage.LoadHistory(chatID)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("load stored history")
		return msgs
	}
	for _, h := range stored {
		msgs = append(msgs, Message{Role: h.Role, Content: h.Content})
	}
	return msgs
}

// persist writes the newest user and assistant turns and applies the chat's
// stored limit. The system prompt is not stored.
func (s *Sessions) persist(ctx context.Context, chatID int64, msgs []Message) {
	if !s.opts.Persist || !storage.Ready() || len(msgs) < 2 {
		return
	}
	log := logging.Ctx(ctx)
	now := time.Now()
	for _, m := range msgs[len(msgs)-2:] {
		if err := storage.AddHistoryMessage(chatID, storage.HistoryMessage{Role: m.Role, When: now.Unix(), Content: m.Content}); err != nil {
			log.Error().Err(err).Msg("store history message")
			return
		}
	}
	keep := len(msgs) - 1
	if limit, err := storage.LoadHistoryLimit(chatID); err == nil && limit > 0 && limit < keep {
		keep = limit
	}
	if err := storage.TrimHistory(chatID, keep); err != nil {
		log.Error().Err(err).Msg("trim stored history")
	}
}
