package estimator_test

import (
	"testing"

	"github.com/quotaforge/gateway/chatapi"
	"github.com/quotaforge/gateway/estimator"
)

const testDefaultOutputReserve = 1024

func TestEstimatePromptDefaultsOutputReserve(t *testing.T) {
	req := &chatapi.Request{
		Model: "gpt-4o",
		Messages: []chatapi.Message{
			{Role: "user", Content: "hello there, how are you today?"},
		},
	}

	est := estimator.EstimatePrompt(req, testDefaultOutputReserve)
	if est.PromptTokens <= 0 {
		t.Fatalf("expected positive prompt token estimate, got %d", est.PromptTokens)
	}
	if est.OutputReserve != testDefaultOutputReserve {
		t.Fatalf("expected default output reserve of %d, got %d", testDefaultOutputReserve, est.OutputReserve)
	}
}

func TestEstimatePromptHonorsConfiguredDefault(t *testing.T) {
	req := &chatapi.Request{
		Model: "gpt-4o",
		Messages: []chatapi.Message{
			{Role: "user", Content: "hello there, how are you today?"},
		},
	}

	est := estimator.EstimatePrompt(req, 2048)
	if est.OutputReserve != 2048 {
		t.Fatalf("expected configured default output reserve of 2048, got %d", est.OutputReserve)
	}
}

func TestEstimatePromptHonorsMaxTokens(t *testing.T) {
	maxTokens := 256
	req := &chatapi.Request{
		Model:     "claude-3-5-sonnet",
		MaxTokens: &maxTokens,
		Messages: []chatapi.Message{
			{Role: "user", Content: "short prompt"},
		},
	}

	est := estimator.EstimatePrompt(req, testDefaultOutputReserve)
	if est.OutputReserve != 256 {
		t.Fatalf("expected output reserve 256, got %d", est.OutputReserve)
	}
}

func TestEstimatePromptIsDeterministic(t *testing.T) {
	req := &chatapi.Request{
		Model:    "gpt-4o-mini",
		Messages: []chatapi.Message{{Role: "user", Content: "estimate me twice"}},
	}

	first := estimator.EstimatePrompt(req, testDefaultOutputReserve)
	second := estimator.EstimatePrompt(req, testDefaultOutputReserve)
	if first != second {
		t.Fatalf("expected repeated estimation of the same request to be stable")
	}
}

func TestEstimatePromptCountsToolDefinitions(t *testing.T) {
	withoutTools := &chatapi.Request{
		Model:    "gpt-4o",
		Messages: []chatapi.Message{{Role: "user", Content: "what's the weather"}},
	}

	withTools := &chatapi.Request{
		Model:    "gpt-4o",
		Messages: []chatapi.Message{{Role: "user", Content: "what's the weather"}},
		Tools: []chatapi.Tool{
			{Type: "function", Function: chatapi.Function{Name: "get_weather", Description: "Get the current weather for a location"}},
		},
	}

	base := estimator.EstimatePrompt(withoutTools, testDefaultOutputReserve)
	withToolsEst := estimator.EstimatePrompt(withTools, testDefaultOutputReserve)
	if withToolsEst.PromptTokens <= base.PromptTokens {
		t.Fatalf("expected tool definitions to add tokens: base=%d withTools=%d", base.PromptTokens, withToolsEst.PromptTokens)
	}
}

func TestMeasureUsageExtractsCounts(t *testing.T) {
	resp := &chatapi.Response{Usage: chatapi.Usage{PromptTokens: 42, CompletionTokens: 17, TotalTokens: 59}}
	prompt, completion := estimator.MeasureUsage(resp)
	if prompt != 42 || completion != 17 {
		t.Fatalf("unexpected usage extraction: prompt=%d completion=%d", prompt, completion)
	}
}

func TestMeasureUsageNilResponse(t *testing.T) {
	prompt, completion := estimator.MeasureUsage(nil)
	if prompt != 0 || completion != 0 {
		t.Fatalf("expected zero usage for nil response, got prompt=%d completion=%d", prompt, completion)
	}
}
