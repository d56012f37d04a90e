// Package oracle asks a language model what two elements combine into.
//
// The system prompt is an opaque policy payload; backends only differ in
// transport. Every backend turns the model's text through ParseReply so the
// protocol rules are the same regardless of provider.
package oracle

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"neuralcraft/internal/domain"
)

//go:embed prompt.txt
var defaultPrompt string

// Sentinel is the reply name meaning the pair does not combine.
const Sentinel = "NONE"

const (
	maxWords = 2
	maxRunes = 40
)

// DefaultPrompt returns the embedded system prompt.
func DefaultPrompt() string { return defaultPrompt }

// LoadPrompt reads the system prompt from path, or returns the embedded
// default when path is empty.
func LoadPrompt(path string) (string, error) {
	if path == "" {
		return defaultPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return prompt, nil
}

// UserMessage formats the per-request message.
func UserMessage(first, second string) string {
	return fmt.Sprintf("Combine: %s + %s", first, second)
}

// ParseReply interprets the model's raw text. A declined combination is a
// zero Synthesis; anything outside the protocol is ErrOracleUnavailable.
func ParseReply(text string) (domain.Synthesis, error) {
	body := stripFences(strings.TrimSpace(text))
	var reply struct {
		Name *string `json:"name"`
	}
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return domain.Synthesis{}, fmt.Errorf("%w: malformed reply: %w", domain.ErrOracleUnavailable, err)
	}
	if reply.Name == nil {
		return domain.Synthesis{}, nil
	}
	name := domain.CleanName(*reply.Name)
	if name == "" || strings.EqualFold(name, Sentinel) {
		return domain.Synthesis{}, nil
	}
	if len(strings.Fields(name)) > maxWords || utf8.RuneCountInString(name) > maxRunes {
		return domain.Synthesis{}, fmt.Errorf("%w: reply %q is not a short name", domain.ErrOracleUnavailable, name)
	}
	return domain.Synthesis{Name: name}, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
