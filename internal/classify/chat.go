package classify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/gomoderate/internal/llm"
)

// Example is a labelled reference text offered to the model as context.
type Example struct {
	Text  string `yaml:"text" json:"text"`
	Label string `yaml:"label" json:"label"`
}

// ChatClassifier classifies single texts with an OpenAI-compatible chat
// model, giving it the most similar reference examples as context.
type ChatClassifier struct {
	Client   llm.Client
	Model    string
	Examples []Example
	// MaxExamples caps the context examples. Zero means 3.
	MaxExamples int
	// SystemPrompt, when non-empty, overrides the default system message.
	SystemPrompt string
}

func (c *ChatClassifier) ClassifyText(ctx context.Context, text string) (Label, error) {
	if c.Client == nil || strings.TrimSpace(c.Model) == "" {
		return Safe, &Error{Op: "classify", Kind: ErrNetwork, Err: errors.New("chat classifier not configured")}
	}
	sys := buildSystemMessage()
	if strings.TrimSpace(c.SystemPrompt) != "" {
		sys = c.SystemPrompt
	}
	req := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: sys},
			{Role: openai.ChatMessageRoleUser, Content: buildUserMessage(text, c.similar(text))},
		},
		Temperature: 0.0,
		N:           1,
	}
	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Safe, &Error{Op: "classify", Kind: ErrNetwork, Err: err}
	}
	if len(resp.Choices) == 0 {
		return Safe, &Error{Op: "classify", Kind: ErrMalformedResponse, Err: errors.New("no choices")}
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	label, ok := ParseLabel(answer)
	if !ok {
		return Safe, &Error{Op: "classify", Kind: ErrMalformedResponse, Err: fmt.Errorf("unrecognized answer %q", answer)}
	}
	return label, nil
}

func buildSystemMessage() string {
	return "You are a content moderator. Classify the user input as exactly one of: \"Safe\", \"Moderate\", \"Hate Speech\". Output only the classification."
}

func buildUserMessage(text string, examples []Example) string {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	if len(examples) == 0 {
		sb.WriteString("No relevant examples found.\n")
	}
	for _, ex := range examples {
		sb.WriteString("- ")
		sb.WriteString(ex.Text)
		sb.WriteString(" => ")
		sb.WriteString(ex.Label)
		sb.WriteString("\n")
	}
	sb.WriteString("\nUser Input: ")
	sb.WriteString(text)
	return sb.String()
}

// similar returns up to MaxExamples examples whose word overlap with text
// is at least one half, most similar first.
func (c *ChatClassifier) similar(text string) []Example {
	limit := c.MaxExamples
	if limit <= 0 {
		limit = 3
	}
	words := wordSet(text)
	type scored struct {
		ex    Example
		score float64
	}
	var hits []scored
	for _, ex := range c.Examples {
		if s := overlap(words, wordSet(ex.Text)); s >= 0.5 {
			hits = append(hits, scored{ex, s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]Example, 0, limit)
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, h.ex)
	}
	return out
}

func wordSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w != "" {
			out[w] = struct{}{}
		}
	}
	return out
}

// overlap is the Dice coefficient of two word sets.
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for w := range a {
		if _, ok := b[w]; ok {
			common++
		}
	}
	return 2 * float64(common) / float64(len(a)+len(b))
}
