package pipeline

import (
	"sync"

	"github.com/BaSui01/voiceflow/llm/tokenizer"
	"github.com/BaSui01/voiceflow/types"
)

// ConversationContext holds the message history of one session. The
// system message stays pinned; when the token budget is exceeded the
// oldest non-system messages are dropped in pairs so the history keeps
// alternating user and assistant turns.
type ConversationContext struct {
	mu       sync.Mutex
	messages []types.Message
	budget   int
}

// NewConversationContext seeds a context with the system prompt.
// budget of zero disables trimming.
func NewConversationContext(systemPrompt string, budget int) *ConversationContext {
	c := &ConversationContext{budget: budget}
	if systemPrompt != "" {
		c.messages = append(c.messages, types.NewSystemMessage(systemPrompt))
	}
	return c
}

// AddUser appends a user message.
func (c *ConversationContext) AddUser(text string) {
	c.add(types.NewUserMessage(text))
}

// AddAssistant appends an assistant message.
func (c *ConversationContext) AddAssistant(text string) {
	c.add(types.NewAssistantMessage(text))
}

// Append appends arbitrary messages.
func (c *ConversationContext) Append(messages ...types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, messages...)
	c.trimLocked()
}

func (c *ConversationContext) add(msg types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	c.trimLocked()
}

// Snapshot returns a copy of the current history.
func (c *ConversationContext) Snapshot() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the message count including the system message.
func (c *ConversationContext) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func (c *ConversationContext) trimLocked() {
	if c.budget <= 0 {
		return
	}
	for tokenizer.CountMessages(c.messages) > c.budget {
		idx := 0
		if len(c.messages) > 0 && c.messages[0].Role == types.RoleSystem {
			idx = 1
		}
		// Nothing left to drop but the system message and the newest turn.
		if len(c.messages)-idx <= 2 {
			return
		}
		// Drop the oldest turn pair; fall back to one message if the
		// history lost its alternation.
		drop := 2
		if idx+1 < len(c.messages) && c.messages[idx].Role == c.messages[idx+1].Role {
			drop = 1
		}
		c.messages = append(c.messages[:idx], c.messages[idx+drop:]...)
	}
}
