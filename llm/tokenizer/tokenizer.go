// Package tokenizer estimates token counts for conversation trimming.
package tokenizer

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/voiceflow/types"
)

// DefaultEncoding is used for all models. The voice models served through
// OpenAI-compatible endpoints tokenize close enough to cl100k_base for
// budget enforcement.
const DefaultEncoding = "cl100k_base"

// perMessageOverhead approximates the role and framing tokens the chat
// format adds around each message.
const perMessageOverhead = 4

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

func getEncoding() (*tiktoken.Tiktoken, error) {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding(DefaultEncoding)
	})
	return encoding, encodingErr
}

// CountTokens returns the token count of text. Falls back to a rune-based
// estimate when the encoding is unavailable.
func CountTokens(text string) int {
	enc, err := getEncoding()
	if err != nil {
		// Roughly 4 characters per token for English text.
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessage returns the token count of one chat message including
// framing overhead.
func CountMessage(msg types.Message) int {
	return CountTokens(msg.Content) + perMessageOverhead
}

// CountMessages returns the total token count of a message slice.
func CountMessages(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += CountMessage(m)
	}
	return total
}
