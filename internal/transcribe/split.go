package transcribe

import (
	"strings"
	"unicode/utf8"
)

// MessageLimit is the size of the chunks sent back to the chat.
const MessageLimit = 1000

// Split breaks text at sentence ends and packs whole sentences into chunks of
// at most limit characters. Sentences longer than limit are cut. Empty chunks
// are never returned.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	var chunks []string
	cur := ""
	flush := func() {
		if cur != "" {
			chunks = append(chunks, cur)
			cur = ""
		}
	}
	for _, s := range sentences(text) {
		n := utf8.RuneCountInString(s)
		switch {
		case n > limit:
			flush()
			chunks = append(chunks, hardSplit(s, limit)...)
		case cur == "":
			cur = s
		case utf8.RuneCountInString(cur)+1+n <= limit:
			cur += " " + s
		default:
			flush()
			cur = s
		}
	}
	flush()
	return chunks
}

// sentences splits after '.', '!' or '?' when followed by spaces.
func sentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		j := i + 1
		for j < len(text) && text[j] == ' ' {
			j++
		}
		if j == i+1 {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func hardSplit(s string, limit int) []string {
	r := []rune(s)
	var out []string
	for len(r) > 0 {
		n := min(limit, len(r))
		if part := strings.TrimSpace(string(r[:n])); part != "" {
			out = append(out, part)
		}
		r = r[n:]
	}
	return out
}
