// Package estimator provides an upper-bound estimate of prompt tokens
// before a request is admitted, and measures actual usage once an
// upstream response is available.
package estimator

import (
	"strings"
	"unicode/utf8"

	"github.com/quotaforge/gateway/chatapi"
)

// Strategy selects the chars-per-token ratio and per-message overhead
// for a model family.
type Strategy int

const (
	// StrategyTiktoken approximates OpenAI's BPE tokenizer.
	StrategyTiktoken Strategy = iota
	// StrategyAnthropic approximates Anthropic's tokenizer.
	StrategyAnthropic
	// StrategyGemini approximates Google's tokenizer.
	StrategyGemini
	// StrategyMistral approximates Mistral's SentencePiece tokenizer.
	StrategyMistral
	// StrategyDefault is a conservative fallback.
	StrategyDefault
)

func resolveStrategy(model string) Strategy {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-"), strings.Contains(m, "openai"):
		return StrategyTiktoken
	case strings.HasPrefix(m, "claude"):
		return StrategyAnthropic
	case strings.HasPrefix(m, "gemini"):
		return StrategyGemini
	case strings.HasPrefix(m, "mistral"), strings.HasPrefix(m, "mixtral"):
		return StrategyMistral
	default:
		return StrategyDefault
	}
}

func charsPerToken(s Strategy) float64 {
	switch s {
	case StrategyTiktoken:
		return 3.3
	case StrategyAnthropic:
		return 3.5
	case StrategyGemini:
		return 4.0
	case StrategyMistral:
		return 3.8
	default:
		return 4.0
	}
}

func messageOverhead(s Strategy) int {
	switch s {
	case StrategyTiktoken, StrategyMistral:
		return 4
	case StrategyAnthropic, StrategyGemini:
		return 3
	default:
		return 4
	}
}

func imageTokenEstimate(s Strategy) int {
	switch s {
	case StrategyTiktoken:
		return 85
	case StrategyAnthropic:
		return 1024
	case StrategyGemini:
		return 258
	default:
		return 512
	}
}

const (
	toolDefinitionOverhead = 8
	toolSystemOverhead     = 12
	replyPrimingTokens     = 3
)

func estimateText(s Strategy, text string) int {
	if text == "" {
		return 0
	}
	chars := utf8.RuneCountInString(text)
	tokens := int(float64(chars) / charsPerToken(s))
	if tokens == 0 {
		return 1
	}
	return tokens
}

func countMessage(s Strategy, msg chatapi.Message) int {
	tokens := messageOverhead(s) + 1 // role token

	switch content := msg.Content.(type) {
	case string:
		tokens += estimateText(s, content)
	case []interface{}:
		for _, part := range content {
			m, ok := part.(map[string]interface{})
			if !ok {
				continue
			}
			if text, exists := m["text"]; exists {
				if str, ok := text.(string); ok {
					tokens += estimateText(s, str)
				}
			}
			if m["type"] == "image_url" {
				tokens += imageTokenEstimate(s)
			}
		}
	}

	if msg.Name != "" {
		tokens += estimateText(s, msg.Name) + 1
	}

	for _, call := range msg.ToolCalls {
		tokens += estimateText(s, call.Function.Name)
		tokens += estimateText(s, call.Function.Arguments)
		tokens += 4
	}

	if msg.ToolCallID != "" {
		tokens += estimateText(s, msg.ToolCallID)
	}

	return tokens
}

func countTools(s Strategy, tools []chatapi.Tool) int {
	if len(tools) == 0 {
		return 0
	}
	tokens := 0
	for _, tool := range tools {
		tokens += estimateText(s, tool.Function.Name)
		tokens += estimateText(s, tool.Function.Description)
		if tool.Function.Parameters != nil {
			tokens += estimateText(s, string(tool.Function.Parameters))
		}
		tokens += toolDefinitionOverhead
	}
	return tokens + toolSystemOverhead
}

// Estimate is the result of a pre-flight estimation: a prompt-token
// upper bound and the output-token reservation to request against the
// quota engine.
type Estimate struct {
	PromptTokens    int
	OutputReserve   int
}

// EstimatePrompt computes an upper-bound prompt token count and the
// output-token reservation for req. defaultOutputReserve is used as the
// reservation when the client omits max_tokens, normally
// config.Config.DefaultMaxTokensReserve. Pure and side-effect free; the
// caller holds the single result for the lifetime of the admission call
// instead of recomputing it.
func EstimatePrompt(req *chatapi.Request, defaultOutputReserve int) Estimate {
	if req == nil {
		return Estimate{}
	}

	s := resolveStrategy(req.Model)

	total := 0
	for _, msg := range req.Messages {
		total += countMessage(s, msg)
	}
	total += countTools(s, req.Tools)
	total += replyPrimingTokens

	outputReserve := defaultOutputReserve
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		outputReserve = *req.MaxTokens
	}

	return Estimate{PromptTokens: total, OutputReserve: outputReserve}
}

// MeasureUsage extracts the actual prompt/completion token counts the
// upstream reported, for use at commit time.
func MeasureUsage(resp *chatapi.Response) (promptTokens, completionTokens int) {
	if resp == nil {
		return 0, 0
	}
	return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
}
