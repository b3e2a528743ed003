package gateway

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// CompletionRequest is the downstream call shape after sanitisation.
type CompletionRequest struct {
	Prompt        string
	SystemMessage string
	Model         string
	MaxTokens     int
	Temperature   float64
}

// LLM is the downstream model client. Complete blocks until the model
// responds or ctx is done.
type LLM interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// OpenAIClient forwards completions to an OpenAI-compatible endpoint.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a client for the given API key. baseURL
// overrides the endpoint when non-empty, for OpenAI-compatible gateways.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// Complete issues one chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if req.SystemMessage != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemMessage,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// MockLLM answers deterministically from prompt keywords. Used when no
// API key is configured, so the gateway stays exercisable end to end.
type MockLLM struct{}

// NewMockLLM creates a MockLLM.
func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

// Complete returns a canned response keyed on the prompt content.
func (m *MockLLM) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	lower := strings.ToLower(req.Prompt)
	switch {
	case strings.Contains(lower, "hello") || strings.Contains(lower, "hi"):
		return "Hello! I'm a simulated LLM assistant. How can I help you today?", nil
	case strings.Contains(lower, "explain"):
		return "I'd be happy to help explain that concept. Based on my understanding, " +
			"this topic involves several key aspects that are worth exploring. " +
			"Would you like me to elaborate on any specific area?", nil
	case strings.Contains(lower, "write") || strings.Contains(lower, "create"):
		return "Here's a draft based on your request:\n\n" +
			"[Simulated content would appear here]\n\n" +
			"This is a safe, simulated response from the IPI Shield mock LLM. " +
			"In production, this would be replaced with actual LLM output.", nil
	case strings.Contains(lower, "code") || strings.Contains(lower, "function"):
		return "```python\ndef example_function():\n    '''Simulated code response'''\n" +
			"    return 'This is a mock response'\n```\n\n" +
			"This is a simulated code response from IPI Shield.", nil
	default:
		return fmt.Sprintf("Thank you for your query. I've processed your request safely.\n\n"+
			"[Simulated LLM Response]\nModel: %s\n"+
			"Status: Request processed through IPI Shield protection layer.\n\n"+
			"This response demonstrates the proxy functionality. "+
			"Your input was analyzed for prompt injection before reaching the LLM.", req.Model), nil
	}
}
