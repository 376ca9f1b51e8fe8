package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/voiceflow/types"
)

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	assert.Greater(t, CountTokens("hello world"), 0)
	assert.Greater(t,
		CountTokens("a much longer sentence with many more words in it than the short one"),
		CountTokens("short one"))
}

func TestCountMessages(t *testing.T) {
	msgs := []types.Message{
		types.NewSystemMessage("be brief"),
		types.NewUserMessage("hello"),
	}
	total := CountMessages(msgs)
	assert.Equal(t, CountMessage(msgs[0])+CountMessage(msgs[1]), total)
	// Framing overhead applies per message.
	assert.GreaterOrEqual(t, total, 2*perMessageOverhead)
}
