package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/kbrag"
	"github.com/brunobiangulo/kbrag/rag"
	"github.com/brunobiangulo/kbrag/store"
)

type fakeEngine struct {
	ingestDocID string
	ingestErr   error
	lastIngest  kbrag.IngestRequest

	deleteErr error
	deletedID string

	chatResp *kbrag.ChatResponse
	chatErr  error

	docs    []store.Document
	listErr error

	healthErr error
}

func (f *fakeEngine) IngestDocument(ctx context.Context, req kbrag.IngestRequest) (string, error) {
	f.lastIngest = req
	return f.ingestDocID, f.ingestErr
}
func (f *fakeEngine) DeleteDocument(ctx context.Context, docID string) error {
	f.deletedID = docID
	return f.deleteErr
}
func (f *fakeEngine) Chat(ctx context.Context, req kbrag.ChatRequest) (*kbrag.ChatResponse, error) {
	return f.chatResp, f.chatErr
}
func (f *fakeEngine) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return f.docs, f.listErr
}
func (f *fakeEngine) Health(ctx context.Context) error { return f.healthErr }
func (f *fakeEngine) Close() error                     { return nil }

func TestHandleIngestDocumentJSONPath(t *testing.T) {
	fe := &fakeEngine{ingestDocID: "doc-1"}
	h := newHandler(fe)

	body, err := json.Marshal(map[string]interface{}{
		"path":        "/etc/hostname",
		"subject_ids": []string{"dept-a"},
	})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.handleIngestDocument(w, r)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, []string{"dept-a"}, fe.lastIngest.SubjectIDs)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "doc-1", resp["doc_id"])
}

func TestHandleIngestDocumentRejectsMissingPath(t *testing.T) {
	h := newHandler(&fakeEngine{})

	r := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader([]byte(`{}`)))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.handleIngestDocument(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDeleteDocumentUsesPathValue(t *testing.T) {
	fe := &fakeEngine{}
	h := newHandler(fe)

	r := httptest.NewRequest(http.MethodDelete, "/documents/doc-7", nil)
	r.SetPathValue("doc_id", "doc-7")
	w := httptest.NewRecorder()

	h.handleDeleteDocument(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "doc-7", fe.deletedID)
}

func TestHandleDeleteDocumentPropagatesEngineError(t *testing.T) {
	fe := &fakeEngine{deleteErr: errors.New("not found")}
	h := newHandler(fe)

	r := httptest.NewRequest(http.MethodDelete, "/documents/missing", nil)
	r.SetPathValue("doc_id", "missing")
	w := httptest.NewRecorder()

	h.handleDeleteDocument(w, r)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleListDocumentsReturnsEngineDocs(t *testing.T) {
	fe := &fakeEngine{docs: []store.Document{{DocID: "d1"}, {DocID: "d2"}}}
	h := newHandler(fe)

	r := httptest.NewRequest(http.MethodGet, "/documents", nil)
	w := httptest.NewRecorder()

	h.handleListDocuments(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Documents []store.Document `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Documents, 2)
}

func TestHandleRAGChatRejectsMissingSubjectID(t *testing.T) {
	h := newHandler(&fakeEngine{})

	body := []byte(`{"query":"what is the policy?"}`)
	r := httptest.NewRequest(http.MethodPost, "/rag_chat", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.handleRAGChat(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRAGChatReturnsEngineResponse(t *testing.T) {
	fe := &fakeEngine{chatResp: &kbrag.ChatResponse{
		Answer:    &rag.Answer{Answer: "the policy allows it"},
		SessionID: "sess-1",
	}}
	h := newHandler(fe)

	body := []byte(`{"query":"what is the policy?","subject_id":"dept-a"}`)
	r := httptest.NewRequest(http.MethodPost, "/rag_chat", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.handleRAGChat(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp kbrag.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "sess-1", resp.SessionID)
	require.Equal(t, "the policy allows it", resp.Answer.Answer)
}

func TestHandleRAGChatPropagatesEngineFailure(t *testing.T) {
	fe := &fakeEngine{chatErr: errors.New("generation failed")}
	h := newHandler(fe)

	body := []byte(`{"query":"q","subject_id":"dept-a"}`)
	r := httptest.NewRequest(http.MethodPost, "/rag_chat", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.handleRAGChat(w, r)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleHealthOK(t *testing.T) {
	h := newHandler(&fakeEngine{})

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.handleHealth(w, r)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleHealthReportsUnavailable(t *testing.T) {
	h := newHandler(&fakeEngine{healthErr: errors.New("db unreachable")})

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.handleHealth(w, r)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSplitCSVTrimsAndDropsEmpty(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitCSV(" a, b ,"))
	require.Nil(t, splitCSV(""))
}
