// Package modelgateway is the Model Gateway (component D): embedding,
// reranking, and LLM generation behind bounded concurrency, token-bucket
// rate limiting, and a Transient/Permanent/OverlongInput failure
// taxonomy (§4.4). Grounded on the teacher's llm package (Provider
// interface, openai_compat.go's shared HTTP client with retry/backoff),
// extended with a Rerank capability the teacher does not have.
package modelgateway

import "context"

// Message is one chat turn sent to the generation model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions configures a generate() call (§4.4).
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// TokenUsage mirrors the usage block returned by OpenAI-compatible APIs.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Gateway is the Model Gateway contract consumed by the rest of the core.
// Embed, Rerank, and Generate may each be backed by a different model
// endpoint (different BaseURL/Model/rate limit), mirroring the spec's
// three independently-configured capabilities.
type Gateway interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Rerank(ctx context.Context, query string, docs []string) ([]float64, error)
	Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, TokenUsage, error)
}
