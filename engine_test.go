package kbrag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/kbrag/ingest"
	"github.com/brunobiangulo/kbrag/rag"
	"github.com/brunobiangulo/kbrag/store"
)

type fakeIngestor struct {
	lastReq ingest.UploadRequest
	docID   string
	err     error
	deleted string
}

func (f *fakeIngestor) Ingest(ctx context.Context, req ingest.UploadRequest) (string, error) {
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	return f.docID, nil
}
func (f *fakeIngestor) Delete(ctx context.Context, docID string) error {
	f.deleted = docID
	return f.err
}

type fakeChatter struct {
	lastSessionID string
	answer        *rag.Answer
	err           error
}

func (f *fakeChatter) Answer(ctx context.Context, sessionID, subjectID, query string) (*rag.Answer, error) {
	f.lastSessionID = sessionID
	return f.answer, f.err
}

type fakeLister struct {
	docs []store.Document
	err  error
}

func (f *fakeLister) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return f.docs, f.err
}

func TestIngestDocumentGeneratesDocIDAndForwardsFields(t *testing.T) {
	fi := &fakeIngestor{docID: "doc-123"}
	e := &engine{ingest: fi}

	docID, err := e.IngestDocument(context.Background(), IngestRequest{DisplayName: "report.pdf", Extension: "pdf", SubjectIDs: []string{"dept-a"}})
	require.NoError(t, err)
	require.Equal(t, "doc-123", docID)
	require.NotEmpty(t, fi.lastReq.DocID)
	require.Equal(t, "report.pdf", fi.lastReq.DisplayName)
	require.Equal(t, []string{"dept-a"}, fi.lastReq.SubjectIDs)
}

func TestDeleteDocumentForwardsToIngestor(t *testing.T) {
	fi := &fakeIngestor{}
	e := &engine{ingest: fi}

	err := e.DeleteDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Equal(t, "doc-1", fi.deleted)
}

func TestChatGeneratesSessionIDWhenOmitted(t *testing.T) {
	fc := &fakeChatter{answer: &rag.Answer{Answer: "hi"}}
	e := &engine{chat: fc}

	resp, err := e.Chat(context.Background(), ChatRequest{Query: "q", SubjectID: "s"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)
	require.Equal(t, resp.SessionID, fc.lastSessionID)
	require.Equal(t, "hi", resp.Answer.Answer)
}

func TestChatReusesProvidedSessionID(t *testing.T) {
	fc := &fakeChatter{answer: &rag.Answer{}}
	e := &engine{chat: fc}

	resp, err := e.Chat(context.Background(), ChatRequest{Query: "q", SubjectID: "s", SessionID: "sess-existing"})
	require.NoError(t, err)
	require.Equal(t, "sess-existing", resp.SessionID)
	require.Equal(t, "sess-existing", fc.lastSessionID)
}

func TestChatPropagatesErrorWithoutWrapping(t *testing.T) {
	wantErr := errors.New("generation failed")
	fc := &fakeChatter{err: wantErr}
	e := &engine{chat: fc}

	_, err := e.Chat(context.Background(), ChatRequest{Query: "q", SubjectID: "s"})
	require.ErrorIs(t, err, wantErr)
}

func TestHealthReportsStoreFailure(t *testing.T) {
	fl := &fakeLister{err: errors.New("connection refused")}
	e := &engine{list: fl}

	err := e.Health(context.Background())
	require.Error(t, err)
}

func TestHealthOKWhenStoreReachable(t *testing.T) {
	fl := &fakeLister{docs: []store.Document{{DocID: "d1"}}}
	e := &engine{list: fl}

	require.NoError(t, e.Health(context.Background()))
}

func TestListDocumentsForwardsToLister(t *testing.T) {
	fl := &fakeLister{docs: []store.Document{{DocID: "d1"}, {DocID: "d2"}}}
	e := &engine{list: fl}

	docs, err := e.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestCloseDelegatesToClosureField(t *testing.T) {
	called := false
	e := &engine{closer: func() error { called = true; return nil }}
	require.NoError(t, e.Close())
	require.True(t, called)
}
