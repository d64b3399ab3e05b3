package chat

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	// BPE files are embedded, no download on first use.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// per-message overhead of the chat format
const tokensPerMessage = 4

// model -> *tiktoken.Tiktoken; a nil value records a failed lookup
var encodings sync.Map

// countTokens estimates the prompt size of text for model. Swapped in tests.
var countTokens = func(model, text string) int {
	if enc := encodingFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

// loadEncoding resolves the tokenizer of model. Swapped in tests.
var loadEncoding = func(model string) (*tiktoken.Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return tiktoken.GetEncoding("cl100k_base")
	}
	return enc, nil
}

// encodingFor returns the cached tokenizer of model, or nil when none could
// be loaded. Either outcome is decided once per model.
func encodingFor(model string) *tiktoken.Tiktoken {
	if v, ok := encodings.Load(model); ok {
		return v.(*tiktoken.Tiktoken)
	}
	enc, err := loadEncoding(model)
	if err != nil {
		enc = nil
	}
	v, _ := encodings.LoadOrStore(model, enc)
	return v.(*tiktoken.Tiktoken)
}

// trimToBudget drops the oldest non-system messages until the conversation
// fits in budget tokens. The newest message is always kept.
func trimToBudget(model string, msgs []Message, budget int) []Message {
	if budget <= 0 {
		return msgs
	}
	total := 0
	for _, m := range msgs {
		total += countTokens(model, m.Content) + tokensPerMessage
	}
	for total > budget {
		i := firstDroppable(msgs)
		if i < 0 {
			break
		}
		total -= countTokens(model, msgs[i].Content) + tokensPerMessage
		msgs = append(msgs[:i:i], msgs[i+1:]...)
	}
	return msgs
}

func firstDroppable(msgs []Message) int {
	if len(msgs) == 0 {
		return -1
	}
	for i, m := range msgs[:len(msgs)-1] {
		if m.Role != RoleSystem {
			return i
		}
	}
	return -1
}
