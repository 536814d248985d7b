package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/kbrag/modelgateway"
	"github.com/brunobiangulo/kbrag/retrieval"
	"github.com/brunobiangulo/kbrag/sessionlock"
	"github.com/brunobiangulo/kbrag/store"
)

type fakeStore struct {
	history   []store.ChatMessage
	messages  []store.ChatMessage
	ensureErr error
	loadErr   error
}

func (f *fakeStore) EnsureSession(ctx context.Context, sessionID string) error { return f.ensureErr }
func (f *fakeStore) LoadRecentMessages(ctx context.Context, sessionID string, maxChars int) ([]store.ChatMessage, error) {
	return f.history, f.loadErr
}
func (f *fakeStore) AppendMessage(ctx context.Context, sessionID string, msgType store.MessageType, content, metadataJSON string) (*store.ChatMessage, error) {
	m := store.ChatMessage{SessionID: sessionID, MessageType: msgType, Content: content, Metadata: metadataJSON}
	f.messages = append(f.messages, m)
	return &m, nil
}

type fakeRetriever struct {
	results []retrieval.Result
	trace   *retrieval.Trace
	err     error
	calls   []string
}

func (f *fakeRetriever) Search(ctx context.Context, query, subjectID string) ([]retrieval.Result, *retrieval.Trace, error) {
	f.calls = append(f.calls, query)
	return f.results, f.trace, f.err
}

type fakeGateway struct {
	generateText  string
	generateUsage modelgateway.TokenUsage
	generateErr   error
	rewriteText   string
	calls         int
}

func (f *fakeGateway) Embed(ctx context.Context, texts []string) ([][]float32, error) { return nil, nil }
func (f *fakeGateway) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	return nil, nil
}
func (f *fakeGateway) Generate(ctx context.Context, messages []modelgateway.Message, opts modelgateway.GenerateOptions) (string, modelgateway.TokenUsage, error) {
	f.calls++
	// The rewrite call's system prompt is distinct from the answer call's;
	// tests that care which one fired inspect messages[0].Content.
	if strings.Contains(messages[0].Content, "rewrite follow-up questions") {
		if f.rewriteText != "" {
			return f.rewriteText, modelgateway.TokenUsage{}, nil
		}
		return "", modelgateway.TokenUsage{}, nil
	}
	return f.generateText, f.generateUsage, f.generateErr
}

func newOrchestrator(s SessionStore, r Retriever, g modelgateway.Gateway) *Orchestrator {
	return New(s, r, g, sessionlock.New(), Config{})
}

func TestAnswerRejectsOverlongQuery(t *testing.T) {
	o := newOrchestrator(&fakeStore{}, &fakeRetriever{}, &fakeGateway{})
	_, err := o.Answer(context.Background(), "sess-1", "subj-1", strings.Repeat("a", 2001))
	require.Error(t, err)
}

func TestAnswerReturnsRefusalWithoutCallingGenerateWhenNoResults(t *testing.T) {
	s := &fakeStore{}
	gw := &fakeGateway{generateText: "should not be used"}
	o := newOrchestrator(s, &fakeRetriever{results: nil}, gw)

	ans, err := o.Answer(context.Background(), "sess-1", "subj-1", "what is the refund policy?")
	require.NoError(t, err)
	require.Equal(t, refusalTemplate, ans.Answer)
	require.Equal(t, 0, gw.calls)
	require.Len(t, s.messages, 2) // human turn + refusal AI turn
}

func TestAnswerSkipsRewriteWhenNoHistory(t *testing.T) {
	s := &fakeStore{}
	r := &fakeRetriever{results: []retrieval.Result{{DocID: "doc-1", SegID: "seg-1", Content: "policy text", SegPageIdx: 2}}}
	gw := &fakeGateway{generateText: "Refunds are processed within 30 days [doc-1, p.2]."}
	o := newOrchestrator(s, r, gw)

	ans, err := o.Answer(context.Background(), "sess-1", "subj-1", "what is the refund policy?")
	require.NoError(t, err)
	require.Equal(t, "what is the refund policy?", r.calls[0])
	require.Equal(t, gw.generateText, ans.Answer)
	require.Len(t, ans.Sources, 1)
	require.Equal(t, "doc-1", ans.Sources[0].DocID)
}

func TestAnswerRewritesQueryWhenHistoryExists(t *testing.T) {
	s := &fakeStore{history: []store.ChatMessage{{MessageType: store.MessageHuman, Content: "tell me about refunds"}}}
	r := &fakeRetriever{results: []retrieval.Result{{DocID: "doc-1", SegID: "seg-1", Content: "policy text", SegPageIdx: 1}}}
	gw := &fakeGateway{rewriteText: "what is the refund window?", generateText: "30 days [doc-1, p.1]."}
	o := newOrchestrator(s, r, gw)

	_, err := o.Answer(context.Background(), "sess-1", "subj-1", "and how long is it?")
	require.NoError(t, err)
	require.Equal(t, "what is the refund window?", r.calls[0])
}

func TestAnswerPersistsErrorTurnOnGenerationFailureAndReturnsError(t *testing.T) {
	s := &fakeStore{}
	r := &fakeRetriever{results: []retrieval.Result{{DocID: "doc-1", SegID: "seg-1", Content: "x", SegPageIdx: 1}}}
	gwFail := &fakeGateway{generateText: ""}
	o := newOrchestrator(s, r, gwFail)

	_, err := o.Answer(context.Background(), "sess-1", "subj-1", "question")
	require.Error(t, err)
	require.Len(t, s.messages, 2)
	require.Equal(t, store.MessageAI, s.messages[1].MessageType)
}

func TestAssembleContextStopsAtMaxChars(t *testing.T) {
	results := []retrieval.Result{
		{DocID: "doc-1", SegID: "seg-1", SegPageIdx: 1, Content: strings.Repeat("x", 50)},
		{DocID: "doc-2", SegID: "seg-2", SegPageIdx: 2, Content: strings.Repeat("y", 50)},
	}
	ctxStr, sources, contents := assembleContext(results, 60)
	require.Len(t, sources, 1)
	require.Len(t, contents, 1)
	require.Contains(t, ctxStr, "doc-1")
	require.NotContains(t, ctxStr, "doc-2")
}

func TestAssembleContextAlwaysIncludesFirstResultEvenIfOverLimit(t *testing.T) {
	results := []retrieval.Result{{DocID: "doc-1", SegID: "seg-1", SegPageIdx: 1, Content: strings.Repeat("x", 200)}}
	_, sources, contents := assembleContext(results, 10)
	require.Len(t, sources, 1)
	require.Len(t, contents, 1)
}
