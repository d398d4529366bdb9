package upstream

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/quotaforge/gateway/chatapi"
)

// Mock answers chat-completions requests deterministically, deriving a
// synthetic completion and usage figures from the request itself.
type Mock struct {
	// ResponseContent is the canned assistant reply, truncated when it
	// exceeds the request's max_tokens.
	ResponseContent string
}

// NewMock returns a Mock with a default canned response.
func NewMock() *Mock {
	return &Mock{ResponseContent: "This is a mock completion."}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) ChatCompletion(ctx context.Context, req *chatapi.Request) (*chatapi.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	promptTokens := 0
	for _, msg := range req.Messages {
		if s, ok := msg.Content.(string); ok {
			promptTokens += estimateChars(s)
		}
	}
	if promptTokens == 0 {
		promptTokens = 1
	}

	content := m.ResponseContent
	completionTokens := estimateChars(content)
	maxTokens := 1024
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	if completionTokens > maxTokens {
		completionTokens = maxTokens
		content = truncateToTokens(content, maxTokens)
	}

	return &chatapi.Response{
		ID:      "mockcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Model:   req.Model,
		Choices: []chatapi.Choice{
			{
				Index:        0,
				Message:      chatapi.Message{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
		Usage: chatapi.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

func estimateChars(s string) int {
	n := utf8.RuneCountInString(s) / 4
	if n == 0 {
		return 1
	}
	return n
}

func truncateToTokens(s string, tokens int) string {
	maxChars := tokens * 4
	if maxChars <= 0 || maxChars >= len(s) {
		return s
	}
	return strings.TrimSpace(s[:maxChars])
}
