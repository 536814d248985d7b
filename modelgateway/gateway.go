package modelgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/brunobiangulo/kbrag/kberrors"
)

// EndpointConfig configures one of the three model capabilities.
type EndpointConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	RequestsPerSec  float64
	Burst           int
	TokensPerMinute int
	MaxRetries      int
	Timeout         time.Duration
}

const embedBatchSize = 32 // mirrors the teacher's embedChunks batching (goreason.go)

// gateway is the concrete Model Gateway, one endpointClient+limiter per
// capability so each can be configured (and fail) independently, as
// required by "bounded concurrency and retry" per capability (§4.4).
type gateway struct {
	embed   *endpointClient
	rerank  *endpointClient
	generate *endpointClient

	embedLimiter   *limiter
	rerankLimiter  *limiter
	generateLimiter *limiter

	embedPool *ants.Pool
}

// New builds a Gateway from per-capability endpoint configs. queueSize
// bounds the FIFO rate-limit wait queue (§5) shared by all calls against
// one capability; embedConcurrency bounds how many embedding batches run
// concurrently via a panjf2000/ants worker pool.
func New(embedCfg, rerankCfg, generateCfg EndpointConfig, queueSize, embedConcurrency int) (Gateway, error) {
	pool, err := ants.NewPool(max(1, embedConcurrency))
	if err != nil {
		return nil, fmt.Errorf("modelgateway: creating embed pool: %w", err)
	}
	return &gateway{
		embed:    newEndpointClient(embedCfg.BaseURL, embedCfg.APIKey, embedCfg.Model, embedCfg.Timeout, embedCfg.MaxRetries),
		rerank:   newEndpointClient(rerankCfg.BaseURL, rerankCfg.APIKey, rerankCfg.Model, rerankCfg.Timeout, rerankCfg.MaxRetries),
		generate: newEndpointClient(generateCfg.BaseURL, generateCfg.APIKey, generateCfg.Model, generateCfg.Timeout, generateCfg.MaxRetries),

		embedLimiter:    newLimiter(embedCfg.RequestsPerSec, embedCfg.Burst, embedCfg.TokensPerMinute, queueSize),
		rerankLimiter:   newLimiter(rerankCfg.RequestsPerSec, rerankCfg.Burst, rerankCfg.TokensPerMinute, queueSize),
		generateLimiter: newLimiter(generateCfg.RequestsPerSec, generateCfg.Burst, generateCfg.TokensPerMinute, queueSize),

		embedPool: pool,
	}, nil
}

func (g *gateway) Close() {
	g.embedPool.Release()
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed embeds texts in batches of embedBatchSize, dispatched concurrently
// through the bounded worker pool; results are reassembled in the
// original order regardless of completion order.
func (g *gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var wg sync.WaitGroup
	errCh := make(chan error, (len(texts)/embedBatchSize)+1)

	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		offset := start

		wg.Add(1)
		task := func() {
			defer wg.Done()
			vecs, err := g.embedBatch(ctx, batch)
			if err != nil {
				errCh <- err
				return
			}
			for i, v := range vecs {
				out[offset+i] = v
			}
		}
		if err := g.embedPool.Submit(task); err != nil {
			wg.Done()
			return nil, kberrors.Wrap(kberrors.ErrTransientBackend, err)
		}
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return nil, err
	}
	return out, nil
}

func (g *gateway) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.embedLimiter.acquire(ctx, estimateTokens(texts...)); err != nil {
		return nil, err
	}

	respBody, err := g.embed.doPost(ctx, "/embeddings", embeddingRequest{Model: g.embed.model, Input: texts})
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, kberrors.Wrap(kberrors.ErrPermanentBackend, fmt.Errorf("decoding embedding response: %w", err))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vecs) {
			vecs[d.Index] = d.Embedding
		}
	}
	return vecs, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores each doc against query via an OpenAI/Cohere-style
// /rerank endpoint. len(scores) == len(docs) always, per §4.4.
func (g *gateway) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if err := g.rerankLimiter.acquire(ctx, estimateTokens(append([]string{query}, docs...)...)); err != nil {
		return nil, err
	}

	respBody, err := g.rerank.doPost(ctx, "/rerank", rerankRequest{Model: g.rerank.model, Query: query, Documents: docs})
	if err != nil {
		return nil, err
	}

	var resp rerankResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, kberrors.Wrap(kberrors.ErrPermanentBackend, fmt.Errorf("decoding rerank response: %w", err))
	}

	scores := make([]float64, len(docs))
	for _, r := range resp.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}
	return scores, nil
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate calls the chat-completions endpoint for final answer / rewrite
// generation (§4.4). Streaming is not exercised by the core orchestrator
// (§4.8 calls generate once per answer), so this implementation issues a
// single non-streamed request; streaming remains a documented
// implementation choice per the spec.
func (g *gateway) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, TokenUsage, error) {
	contents := make([]string, len(messages))
	for i, m := range messages {
		contents[i] = m.Content
	}
	if err := g.generateLimiter.acquire(ctx, estimateTokens(contents...)+opts.MaxTokens); err != nil {
		return "", TokenUsage{}, err
	}

	respBody, err := g.generate.doPost(ctx, "/chat/completions", chatCompletionRequest{
		Model:       g.generate.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stop:        opts.Stop,
	})
	if err != nil {
		return "", TokenUsage{}, err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", TokenUsage{}, kberrors.Wrap(kberrors.ErrPermanentBackend, fmt.Errorf("decoding chat response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", TokenUsage{}, kberrors.Wrap(kberrors.ErrPermanentBackend, fmt.Errorf("no choices in response"))
	}

	usage := TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
