// Package persona defines the bot identities a session can run: the
// system prompt seeding the conversation and the greeting policy used
// when the first participant joins.
package persona

import (
	"fmt"

	"github.com/BaSui01/voiceflow/config"
)

// GreetingPolicy selects how the greeting reaches the participant.
type GreetingPolicy string

const (
	// PolicySpeak synthesizes the greeting text verbatim.
	PolicySpeak GreetingPolicy = "speak"
	// PolicyPrompt injects the greeting as a user message and lets the
	// model produce the opening line.
	PolicyPrompt GreetingPolicy = "prompt"
)

// Persona is one bot identity.
type Persona struct {
	Name           string
	DisplayName    string
	SystemPrompt   string
	Greeting       string
	GreetingPolicy GreetingPolicy
}

var builtins = map[string]Persona{
	"institute": {
		Name:        "institute",
		DisplayName: "Institute Assistant",
		SystemPrompt: "You are a helpful and friendly AI assistant for a research institute. " +
			"Keep your responses concise and conversational, as they will be spoken aloud. " +
			"Avoid special characters, markdown, and lists; speak in plain sentences.",
		Greeting:       "Hello! Welcome. How can I help you today?",
		GreetingPolicy: PolicySpeak,
	},
	"devotional": {
		Name:        "devotional",
		DisplayName: "Devotional Guide",
		SystemPrompt: "You are a warm, knowledgeable guide on devotional literature and practice. " +
			"Answer with patience and reverence. Keep responses short and conversational, " +
			"as they will be spoken aloud. Avoid special characters and markdown.",
		Greeting:       "Greet the visitor warmly in one short sentence and ask what they would like to explore.",
		GreetingPolicy: PolicyPrompt,
	},
}

// Builtin returns a built-in persona by name.
func Builtin(name string) (Persona, bool) {
	p, ok := builtins[name]
	return p, ok
}

// Names lists the built-in persona names.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	return names
}

// FromConfig resolves the configured persona. Config fields override the
// built-in's when set; an unknown name with a system prompt defines a
// fully custom persona.
func FromConfig(cfg config.PersonaConfig) (Persona, error) {
	p, ok := Builtin(cfg.Name)
	if !ok {
		if cfg.SystemPrompt == "" {
			return Persona{}, fmt.Errorf("unknown persona %q and no system_prompt given", cfg.Name)
		}
		p = Persona{Name: cfg.Name, GreetingPolicy: PolicySpeak}
	}
	if cfg.DisplayName != "" {
		p.DisplayName = cfg.DisplayName
	}
	if cfg.SystemPrompt != "" {
		p.SystemPrompt = cfg.SystemPrompt
	}
	if cfg.Greeting != "" {
		p.Greeting = cfg.Greeting
	}
	if cfg.GreetingMode != "" {
		p.GreetingPolicy = GreetingPolicy(cfg.GreetingMode)
	}
	return p, nil
}
