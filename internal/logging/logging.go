package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Log is the base logger used throughout the application.
var Log = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the global logger. level is one of debug, info, warn or
// error (LOG_LEVEL); format is "json" or "console".
func Init(level, format string) {
	InitWriter(os.Stdout, level, format)
}

// InitWriter is Init with an explicit output, used by tests.
func InitWriter(w io.Writer, level, format string) {
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
			lvl = l
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	Log = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Context returns a new context with a request scoped logger containing a
// generated trace_id field.
func Context(ctx context.Context) context.Context {
	logger := Log.With().Str("trace_id", uuid.NewString()).Logger()
	return logger.WithContext(ctx)
}

// WithChat attaches the chat id to the logger stored in ctx.
func WithChat(ctx context.Context, chatID int64) context.Context {
	logger := Ctx(ctx).With().Int64("chat_id", chatID).Logger()
	return logger.WithContext(ctx)
}

// WithUser attaches the user id to the logger stored in ctx.
func WithUser(ctx context.Context, userID int64) context.Context {
	logger := Ctx(ctx).With().Int64("user_id", userID).Logger()
	return logger.WithContext(ctx)
}

// Ctx extracts the logger from the context or returns the base logger.
func Ctx(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &Log
}

// Snippet returns the first n characters of s.
func Snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Fingerprint shortens a secret to its first and last four characters.
func Fingerprint(secret string) string {
	if len(secret) < 8 {
		return "****"
	}
	return secret[:4] + ".." + secret[len(secret)-4:]
}
