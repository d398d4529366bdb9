package upstream_test

import (
	"context"
	"testing"

	"github.com/quotaforge/gateway/chatapi"
	"github.com/quotaforge/gateway/upstream"
)

func TestMockChatCompletionReturnsUsage(t *testing.T) {
	m := upstream.NewMock()
	req := &chatapi.Request{
		Model:    "gpt-4o-mini",
		Messages: []chatapi.Message{{Role: "user", Content: "hello there"}},
	}

	resp, err := m.ChatCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if resp.Usage.PromptTokens <= 0 {
		t.Fatalf("expected positive prompt tokens, got %d", resp.Usage.PromptTokens)
	}
	if resp.Usage.CompletionTokens <= 0 {
		t.Fatalf("expected positive completion tokens, got %d", resp.Usage.CompletionTokens)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected exactly one choice, got %d", len(resp.Choices))
	}
}

func TestMockChatCompletionRespectsMaxTokens(t *testing.T) {
	m := &upstream.Mock{ResponseContent: "this is a fairly long canned response that should get truncated down to a small number of tokens for the test"}
	maxTokens := 3
	req := &chatapi.Request{
		Model:     "gpt-4o-mini",
		MaxTokens: &maxTokens,
		Messages:  []chatapi.Message{{Role: "user", Content: "hi"}},
	}

	resp, err := m.ChatCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if resp.Usage.CompletionTokens > maxTokens {
		t.Fatalf("expected completion tokens <= %d, got %d", maxTokens, resp.Usage.CompletionTokens)
	}
}

func TestMockChatCompletionRespectsCancellation(t *testing.T) {
	m := upstream.NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ChatCompletion(ctx, &chatapi.Request{Model: "gpt-4o-mini"})
	if err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
