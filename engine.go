// Package kbrag is the top-level facade over the Container, the entry
// point `cmd/server` drives. Grounded on the teacher's root goreason.go
// Engine interface/impl: a small interface naming the operations an HTTP
// layer needs, backed by a concrete struct that holds the wired
// components and translates between the HTTP-facing request/response
// shapes and each component's own types.
package kbrag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/kbrag/config"
	"github.com/brunobiangulo/kbrag/container"
	"github.com/brunobiangulo/kbrag/ingest"
	"github.com/brunobiangulo/kbrag/rag"
	"github.com/brunobiangulo/kbrag/store"
)

// Engine is the operation set `cmd/server`'s handlers call, mirroring
// the teacher's Engine interface narrowed to the spec's four HTTP
// operations (§6's "External HTTP API surface") plus ListDocuments.
type Engine interface {
	IngestDocument(ctx context.Context, req IngestRequest) (string, error)
	DeleteDocument(ctx context.Context, docID string) error
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	Health(ctx context.Context) error
	Close() error
}

// IngestRequest is the engine-facing shape of POST /documents.
type IngestRequest struct {
	DisplayName  string
	Extension    string
	OriginalPath string
	OutputDir    string
	SubjectIDs   []string
	CallbackURL  string
	RequestID    string
}

// ChatRequest is the engine-facing shape of POST /rag_chat.
type ChatRequest struct {
	Query     string
	SubjectID string
	SessionID string
	Timeout   time.Duration
}

// ChatResponse carries H's answer contract (§4.8: answer, sources,
// tokens_used, processing_time) plus the session_id the caller should
// send on the next turn. SessionID is additive: H's own contract has no
// notion of it, but POST /rag_chat lets session_id be omitted on the
// first call, and the HTTP surface (out of core per §1) has to hand the
// generated id back somehow for the conversation to continue.
type ChatResponse struct {
	*rag.Answer
	SessionID string `json:"session_id"`
}

// ingestor, chatter, lister, and closer are the narrow slices of
// Container's components the facade depends on, mirroring the teacher's
// engine struct holding llm.Provider/store.Store-shaped fields rather
// than one monolithic dependency — this is what lets engine_test.go
// exercise the facade's request/response translation without a real
// MySQL/Qdrant/Bleve-backed Container.
type ingestor interface {
	Ingest(ctx context.Context, req ingest.UploadRequest) (string, error)
	Delete(ctx context.Context, docID string) error
}

type chatter interface {
	Answer(ctx context.Context, sessionID, subjectID, query string) (*rag.Answer, error)
}

type lister interface {
	ListDocuments(ctx context.Context) ([]store.Document, error)
}

type engine struct {
	ingest ingestor
	chat   chatter
	list   lister
	closer func() error
}

// New opens a Container from cfg and returns the facade the server
// binds its handlers to.
func New(ctx context.Context, cfg *config.Config) (Engine, error) {
	c, err := container.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &engine{ingest: c.Ingest, chat: c.RAG, list: c.Store, closer: c.Close}, nil
}

// IngestDocument generates a fresh doc_id for every upload and kicks
// off asynchronous processing via F,
// per §6: "processing runs asynchronously".
func (e *engine) IngestDocument(ctx context.Context, req IngestRequest) (string, error) {
	return e.ingest.Ingest(ctx, ingest.UploadRequest{
		DocID:        uuid.NewString(),
		DisplayName:  req.DisplayName,
		Extension:    req.Extension,
		OriginalPath: req.OriginalPath,
		OutputDir:    req.OutputDir,
		SubjectIDs:   req.SubjectIDs,
		CallbackURL:  req.CallbackURL,
		RequestID:    req.RequestID,
	})
}

// DeleteDocument hard-deletes per §6 ("hard delete cascades to B, C,
// A") — there is no separate soft-delete path in this facade since
// SPEC_FULL.md does not define soft-delete semantics beyond the name.
func (e *engine) DeleteDocument(ctx context.Context, docID string) error {
	return e.ingest.Delete(ctx, docID)
}

// Chat answers one turn via H, generating a session_id when the caller
// starts a new conversation (session_id is optional on POST /rag_chat).
func (e *engine) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	answer, err := e.chat.Answer(ctx, sessionID, req.SubjectID, req.Query)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Answer: answer, SessionID: sessionID}, nil
}

func (e *engine) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return e.list.ListDocuments(ctx)
}

// Health pings the metadata store, the one backend whose unavailability
// makes every other operation fail immediately.
func (e *engine) Health(ctx context.Context) error {
	if _, err := e.list.ListDocuments(ctx); err != nil {
		return fmt.Errorf("kbrag: health check failed: %w", err)
	}
	return nil
}

func (e *engine) Close() error {
	return e.closer()
}
