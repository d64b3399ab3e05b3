package router

import (
	"context"
	"regexp"
	"strings"

	"github.com/go-telegram/bot/models"
)

// Condition tests the text of a message.
type Condition func(text string) bool

// Exact matches text equal to value.
func Exact(value string) Condition {
	return func(text string) bool { return text == value }
}

// LowerMatch matches text equal to value ignoring case.
func LowerMatch(value string) Condition {
	return func(text string) bool { return strings.ToLower(text) == strings.ToLower(value) }
}

// FirstCharsLower matches when the first length characters equal value ignoring case.
func FirstCharsLower(length int, value string) Condition {
	return func(text string) bool {
		return strings.ToLower(firstChars(text, length)) == strings.ToLower(value)
	}
}

// FirstCharsExact matches when the first length characters equal value.
func FirstCharsExact(length int, value string) Condition {
	return func(text string) bool { return firstChars(text, length) == value }
}

// Regex matches when pattern matches at the start of the text.
// It panics on an invalid pattern, like regexp.MustCompile.
func Regex(pattern string) Condition {
	re := regexp.MustCompile(`^(?:` + pattern + `)`)
	return re.MatchString
}

// CatchAll matches everything.
func CatchAll() Condition {
	return func(string) bool { return true }
}

// Ping matches "ping" in any case.
var Ping = LowerMatch("ping")

func firstChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Rule pairs a text condition with the action to run.
type Rule struct {
	When Condition
	Then HandlerFunc
}

// UnknownReply is sent when no rule matches.
const UnknownReply = "I don't know how to answer to that"

// ReplyRules builds a text handler that runs the first rule whose condition
// accepts the message text.
func ReplyRules(rules ...Rule) HandlerFunc {
	return func(ctx context.Context, b Bot, upd *models.Update) {
		msg := MessageOf(upd)
		if msg == nil {
			return
		}
		for _, r := range rules {
			if r.When(msg.Text) {
				r.Then(ctx, b, upd)
				return
			}
		}
		Reply(ctx, b, msg.Chat.ID, UnknownReply)
	}
}
