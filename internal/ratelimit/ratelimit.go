// Package ratelimit bounds how often chats may hit a vendor API.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"telegram-assistant-bots/internal/logging"
)

// Opts configures requests per second and burst for each limiter.
type Opts struct {
	PerChatLimit float64
	PerChatBurst int
	GlobalLimit  float64
	GlobalBurst  int
}

// Limiter combines one token bucket per chat with a global one.
type Limiter struct {
	perChatLimit rate.Limit
	perChatBurst int
	mu           sync.RWMutex
	perChat      map[int64]*rate.Limiter
	global       *rate.Limiter
}

// New returns a Limiter. Non-positive limits disable that bucket.
func New(opts Opts) *Limiter {
	l := &Limiter{
		perChatLimit: limitOf(opts.PerChatLimit),
		perChatBurst: burstOf(opts.PerChatBurst, opts.PerChatLimit),
		perChat:      make(map[int64]*rate.Limiter),
	}
	l.global = rate.NewLimiter(limitOf(opts.GlobalLimit), burstOf(opts.GlobalBurst, opts.GlobalLimit))
	return l
}

func limitOf(v float64) rate.Limit {
	if v <= 0 {
		return rate.Inf
	}
	return rate.Limit(v)
}

func burstOf(burst int, limit float64) int {
	if burst > 0 {
		return burst
	}
	if limit >= 1 {
		return int(limit)
	}
	return 1
}

// Wait blocks until both the chat's and the global bucket grant a token, or
// ctx is done. It reports whether the request may proceed.
func (l *Limiter) Wait(ctx context.Context, chatID int64) bool {
	if err := l.chatLimiter(chatID).Wait(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("chat_id", chatID).Msg("per chat rate limit quota not granted")
		return false
	}
	if err := l.global.Wait(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("global rate limit quota not granted")
		return false
	}
	return true
}

func (l *Limiter) chatLimiter(chatID int64) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.perChat[chatID]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.perChat[chatID]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.perChatLimit, l.perChatBurst)
	l.perChat[chatID] = lim
	return lim
}
