package router

import (
	"strings"

	"github.com/go-telegram/bot/models"
)

// Kind is the content class of an update.
type Kind string

const (
	KindCommand    Kind = "command"
	KindText       Kind = "text"
	KindEditedText Kind = "edited_text"
	KindVoice      Kind = "voice"
	KindAudio      Kind = "audio"
	KindCallback   Kind = "callback"
	KindUnknown    Kind = "unknown"
)

// Classify inspects an update and returns its Kind.
func Classify(upd *models.Update) Kind {
	switch {
	case upd == nil:
		return KindUnknown
	case upd.CallbackQuery != nil:
		return KindCallback
	case upd.EditedMessage != nil:
		if upd.EditedMessage.Text != "" && !strings.HasPrefix(upd.EditedMessage.Text, "/") {
			return KindEditedText
		}
		return KindUnknown
	case upd.Message == nil:
		return KindUnknown
	}
	msg := upd.Message
	if _, _, ok := ParseCommand(msg); ok {
		return KindCommand
	}
	switch {
	case msg.Voice != nil:
		return KindVoice
	case msg.Audio != nil:
		return KindAudio
	case msg.Text != "":
		return KindText
	}
	return KindUnknown
}

func kindIs(kinds ...Kind) MatchFunc {
	return func(upd *models.Update) bool {
		k := Classify(upd)
		for _, want := range kinds {
			if k == want {
				return true
			}
		}
		return false
	}
}

// Text matches plain (non-command) text messages.
func Text() MatchFunc { return kindIs(KindText) }

// EditedText matches edited text messages that are not commands.
func EditedText() MatchFunc { return kindIs(KindEditedText) }

// Voice matches voice notes.
func Voice() MatchFunc { return kindIs(KindVoice) }

// Audio matches audio files.
func Audio() MatchFunc { return kindIs(KindAudio) }

// AudioOrVoice matches either audio files or voice notes.
func AudioOrVoice() MatchFunc { return kindIs(KindAudio, KindVoice) }

// Callback matches any callback query.
func Callback() MatchFunc { return kindIs(KindCallback) }

// CallbackPrefix matches callback queries whose data starts with prefix.
func CallbackPrefix(prefix string) MatchFunc {
	return func(upd *models.Update) bool {
		return upd != nil && upd.CallbackQuery != nil && strings.HasPrefix(upd.CallbackQuery.Data, prefix)
	}
}

// Command matches /name, with or without a @botname suffix.
func Command(name string) MatchFunc {
	return func(upd *models.Update) bool {
		if upd == nil {
			return false
		}
		cmd, _, ok := ParseCommand(upd.Message)
		return ok && strings.EqualFold(cmd, name)
	}
}

// Any matches when at least one of the matchers does.
func Any(ms ...MatchFunc) MatchFunc {
	return func(upd *models.Update) bool {
		for _, m := range ms {
			if m(upd) {
				return true
			}
		}
		return false
	}
}

// MessageOf returns the message or edited message carried by the update.
func MessageOf(upd *models.Update) *models.Message {
	if upd == nil {
		return nil
	}
	if upd.Message != nil {
		return upd.Message
	}
	return upd.EditedMessage
}
