// Package rag is the RAG Orchestrator (component H): query validation,
// history loading, query rewrite, retrieval, context assembly, single-
// pass generation, and turn persistence (§4.8). Grounded on the
// teacher's reasoning package for prompt-construction idiom (a package-
// level system prompt constant, small prompt-builder helper functions)
// though the orchestrator here is single-pass generation, not the
// teacher's multi-round refine/validate loop — the spec names exactly
// one generate call per answer.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/kbrag/kberrors"
	"github.com/brunobiangulo/kbrag/modelgateway"
	"github.com/brunobiangulo/kbrag/retrieval"
	"github.com/brunobiangulo/kbrag/sessionlock"
	"github.com/brunobiangulo/kbrag/store"
)

// refusalTemplate is returned verbatim when retrieval finds nothing to
// answer from, per §4.8 step 4 ("do NOT call the LLM for an answer").
const refusalTemplate = "I don't have enough information in the knowledge base to answer that question."

const systemPrompt = `You are a knowledge-base assistant. Answer the user's question using ONLY the numbered context sources below.
Rules:
1. Only state facts directly supported by the provided sources.
2. Cite sources inline using their [doc_name, page] tag.
3. If the context does not contain enough information, reply exactly with the fixed refusal sentence you were given; do not speculate.
4. Be concise.`

// Config controls orchestration limits (§6: history_max, context_max).
type Config struct {
	MaxQueryChars int
	HistoryMaxChars int
	ContextMaxChars int
	ConfidenceThreshold float64
}

func defaultConfig(cfg Config) Config {
	if cfg.MaxQueryChars <= 0 {
		cfg.MaxQueryChars = 2000
	}
	if cfg.HistoryMaxChars <= 0 {
		cfg.HistoryMaxChars = 4000
	}
	if cfg.ContextMaxChars <= 0 {
		cfg.ContextMaxChars = 8000
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.35
	}
	return cfg
}

// Source is one attributed context segment surfaced in the answer.
type Source struct {
	DocID       string  `json:"doc_id"`
	SegID       string  `json:"seg_id"`
	SegPageIdx  int     `json:"seg_page_idx"`
	RerankScore float64 `json:"rerank_score"`
	Snippet     string  `json:"snippet,omitempty"`
}

// Answer is H's contract per §4.8.
type Answer struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	TokensUsed     int      `json:"tokens_used"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// turnMetadata is persisted as JSON on the AI chat_messages row.
type turnMetadata struct {
	Sources          []Source `json:"sources"`
	RewrittenQuery   string   `json:"rewritten_query,omitempty"`
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	ElapsedMs        int64    `json:"elapsed_ms"`
	Error            string   `json:"error,omitempty"`
	ExcludedFromHistory bool  `json:"excluded_from_history,omitempty"`
}

// SessionStore is the slice of *store.Store that H needs, narrowed to
// an interface the way the teacher's reasoning.Engine depends on
// llm.Provider rather than a concrete client.
type SessionStore interface {
	EnsureSession(ctx context.Context, sessionID string) error
	LoadRecentMessages(ctx context.Context, sessionID string, maxChars int) ([]store.ChatMessage, error)
	AppendMessage(ctx context.Context, sessionID string, msgType store.MessageType, content, metadataJSON string) (*store.ChatMessage, error)
}

// Retriever is the slice of *retrieval.Retriever that H needs.
type Retriever interface {
	Search(ctx context.Context, query, subjectID string) ([]retrieval.Result, *retrieval.Trace, error)
}

// Orchestrator is component H.
type Orchestrator struct {
	store     SessionStore
	retriever Retriever
	gateway   modelgateway.Gateway
	locks     *sessionlock.Striped
	cfg       Config
}

func New(s SessionStore, retriever Retriever, gateway modelgateway.Gateway, locks *sessionlock.Striped, cfg Config) *Orchestrator {
	return &Orchestrator{store: s, retriever: retriever, gateway: gateway, locks: locks, cfg: defaultConfig(cfg)}
}

// Answer runs the full H pipeline for one chat turn.
func (o *Orchestrator) Answer(ctx context.Context, sessionID, subjectID, query string) (*Answer, error) {
	start := time.Now()

	if len(query) > o.cfg.MaxQueryChars {
		return nil, kberrors.ErrQueryTooLong
	}

	unlock := o.locks.Lock(sessionID)
	defer unlock()

	if err := o.store.EnsureSession(ctx, sessionID); err != nil {
		return nil, err
	}

	loaded, err := o.store.LoadRecentMessages(ctx, sessionID, o.cfg.HistoryMaxChars)
	if err != nil {
		return nil, err
	}
	// AI turns flagged excluded_from_history by the quality gate below
	// never feed a later rewrite.
	var history []store.ChatMessage
	for _, m := range loaded {
		var meta turnMetadata
		if m.MessageType == store.MessageAI && json.Unmarshal([]byte(m.Metadata), &meta) == nil && meta.ExcludedFromHistory {
			continue
		}
		history = append(history, m)
	}

	rewritten := query
	if len(history) > 0 {
		rewritten, err = o.rewriteQuery(ctx, query, history)
		if err != nil {
			slog.Warn("rag: query rewrite failed, using original query", "error", err)
			rewritten = query
		}
	}

	if _, err := o.store.AppendMessage(ctx, sessionID, store.MessageHuman, query, "{}"); err != nil {
		return nil, err
	}

	results, _, err := o.retriever.Search(ctx, rewritten, subjectID)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		o.persistAIResponse(ctx, sessionID, refusalTemplate, turnMetadata{RewrittenQuery: rewritten, ElapsedMs: time.Since(start).Milliseconds()})
		return &Answer{Answer: refusalTemplate, ProcessingTime: time.Since(start)}, nil
	}

	contextStr, sources, contents := assembleContext(results, o.cfg.ContextMaxChars)

	messages := []modelgateway.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildAnswerPrompt(rewritten, contextStr)},
	}
	text, usage, err := o.gateway.Generate(ctx, messages, modelgateway.GenerateOptions{Temperature: 0})
	if err != nil || strings.TrimSpace(text) == "" {
		meta := turnMetadata{RewrittenQuery: rewritten, ElapsedMs: time.Since(start).Milliseconds(), Error: errString(err)}
		o.persistAIResponse(ctx, sessionID, "", meta)
		return nil, kberrors.Wrap(kberrors.ErrPermanentBackend, fmt.Errorf("generation failed or empty: %w", err))
	}

	answerWords := significantWords(text)
	for i := range sources {
		sources[i].Snippet = extractSnippet(contents[i], answerWords)
	}

	meta := turnMetadata{
		Sources: sources, RewrittenQuery: rewritten,
		PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	// Low-confidence answers are excluded from future history so a poor
	// turn doesn't poison subsequent rewrites, per §4.8's quality gate.
	if confidence(text, results) < o.cfg.ConfidenceThreshold {
		meta.ExcludedFromHistory = true
	}
	o.persistAIResponse(ctx, sessionID, text, meta)

	return &Answer{
		Answer:         text,
		Sources:        sources,
		TokensUsed:     usage.TotalTokens,
		ProcessingTime: time.Since(start),
	}, nil
}

func (o *Orchestrator) rewriteQuery(ctx context.Context, query string, history []store.ChatMessage) (string, error) {
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.MessageType, m.Content)
	}
	prompt := fmt.Sprintf(`Conversation so far:
%s
Latest question: %s

Rewrite the latest question into a single self-contained question that does not require the conversation history to understand. Reply with only the rewritten question.`, b.String(), query)

	text, _, err := o.gateway.Generate(ctx, []modelgateway.Message{
		{Role: "system", Content: "You rewrite follow-up questions into standalone questions."},
		{Role: "user", Content: prompt},
	}, modelgateway.GenerateOptions{Temperature: 0})
	if err != nil {
		return "", err
	}
	rewritten := strings.TrimSpace(text)
	if rewritten == "" {
		return query, nil
	}
	return rewritten, nil
}

func (o *Orchestrator) persistAIResponse(ctx context.Context, sessionID, content string, meta turnMetadata) {
	b, err := json.Marshal(meta)
	if err != nil {
		b = []byte("{}")
	}
	if _, err := o.store.AppendMessage(ctx, sessionID, store.MessageAI, content, string(b)); err != nil {
		slog.Error("rag: failed to persist AI turn", "session_id", sessionID, "error", err)
	}
}

// assembleContext concatenates retrieved segments in fused/rerank order,
// tagging each with [doc_name, page_idx], stopping at context_max chars
// (§4.8 step 5). doc_name here is doc_id: the display name lookup is the
// caller's concern if it wants friendlier citations.
func assembleContext(results []retrieval.Result, maxChars int) (string, []Source, []string) {
	var b strings.Builder
	var sources []Source
	var contents []string
	for _, r := range results {
		tag := fmt.Sprintf("[%s, p.%d]", r.DocID, r.SegPageIdx)
		block := tag + " " + r.Content + "\n\n"
		if b.Len()+len(block) > maxChars && b.Len() > 0 {
			break
		}
		b.WriteString(block)
		sources = append(sources, Source{DocID: r.DocID, SegID: r.SegID, SegPageIdx: r.SegPageIdx, RerankScore: r.RerankScore})
		contents = append(contents, r.Content)
	}
	return b.String(), sources, contents
}

func buildAnswerPrompt(question, contextStr string) string {
	return fmt.Sprintf(`Context:
%s

Question: %s

Answer using only the context above.`, contextStr, question)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
