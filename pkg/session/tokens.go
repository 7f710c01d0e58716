package session

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding covers models tiktoken does not know.
const fallbackEncoding = "cl100k_base"

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.Mutex
)

// TokenCounter counts tokens with the model's tiktoken encoding. When the
// encoding is unavailable it falls back to a bytes/4 estimate.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter(model string) *TokenCounter {
	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()
	if enc, ok := encodingCache[model]; ok {
		return &TokenCounter{enc: enc}
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			enc = nil
		}
	}
	encodingCache[model] = enc
	return &TokenCounter{enc: enc}
}

func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.enc == nil {
		return len(text) / 4
	}
	return len(tc.enc.Encode(text, nil, nil))
}

// CountMessages includes the per-message role overhead.
func (tc *TokenCounter) CountMessages(msgs []Message) int {
	total := 3
	for i := range msgs {
		total += 3
		total += tc.Count(msgs[i].Role)
		total += tc.Count(msgs[i].PlainText())
	}
	return total
}
