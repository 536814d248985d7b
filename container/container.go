// Package container wires the concrete adapters (MySQL metadata store,
// Qdrant vector store, Bleve lexical store, Model Gateway, Status
// Synchronizer) and the core components built on top of them (docparse,
// chunker, ingest, retrieval, rag) into one lifecycle-managed object.
// Grounded on the teacher's goreason.New constructor (a single function
// opening every backend in order, tearing everything down on any
// failure), generalized from one embedded SQLite file to the spec's set
// of externalized backends.
package container

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/kbrag/chunker"
	"github.com/brunobiangulo/kbrag/config"
	"github.com/brunobiangulo/kbrag/docparse"
	"github.com/brunobiangulo/kbrag/ingest"
	"github.com/brunobiangulo/kbrag/lexical"
	"github.com/brunobiangulo/kbrag/modelgateway"
	"github.com/brunobiangulo/kbrag/rag"
	"github.com/brunobiangulo/kbrag/retrieval"
	"github.com/brunobiangulo/kbrag/sessionlock"
	"github.com/brunobiangulo/kbrag/statussync"
	"github.com/brunobiangulo/kbrag/store"
	"github.com/brunobiangulo/kbrag/vectorstore"
)

// Container owns every backend connection and the components built on
// top of them. Close tears them down in reverse order of opening.
type Container struct {
	Store     *store.Store
	Vectors   *vectorstore.Store
	Lexical   *lexical.Store
	Gateway   modelgateway.Gateway
	Sync      *statussync.Synchronizer
	Ingest    *ingest.Pipeline
	Retriever *retrieval.Retriever
	RAG       *rag.Orchestrator

	closers []func() error
}

// New opens every backend in dependency order and wires the core
// components. On any failure it tears down whatever was already opened
// before returning the error, so a partial container never leaks
// connections.
func New(ctx context.Context, cfg *config.Config) (c *Container, err error) {
	c = &Container{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Store, err = store.Open(ctx, cfg.MySQL.DSN, cfg.MySQL.MaxOpenConns, cfg.MySQL.MaxIdleConns, cfg.MySQL.ConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("container: opening metadata store: %w", err)
	}
	c.closers = append(c.closers, c.Store.Close)

	c.Vectors, err = vectorstore.Open(ctx, vectorstore.Config{
		Addr: cfg.Vector.Addr, Collection: cfg.Vector.Collection,
		Dim: cfg.Vector.Dim, DistanceMetric: cfg.Vector.DistanceMetric,
	})
	if err != nil {
		return nil, fmt.Errorf("container: opening vector store: %w", err)
	}
	c.closers = append(c.closers, c.Vectors.Close)

	c.Lexical, err = lexical.Open(cfg.Lexical.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("container: opening lexical store: %w", err)
	}
	c.closers = append(c.closers, c.Lexical.Close)

	c.Gateway, err = modelgateway.New(
		modelEndpoint(cfg.Embedding), modelEndpoint(cfg.Rerank), modelEndpoint(cfg.Chat),
		1024, cfg.Ingestion.VectorizeConcurrency,
	)
	if err != nil {
		return nil, fmt.Errorf("container: creating model gateway: %w", err)
	}

	c.Sync, err = statussync.New(cfg.StatusSync.Workers, cfg.StatusSync.QueueSize, cfg.StatusSync.Timeout, cfg.StatusSync.RetryAttempts)
	if err != nil {
		return nil, fmt.Errorf("container: creating status synchronizer: %w", err)
	}
	c.closers = append(c.closers, func() error { c.Sync.Close(); return nil })

	c.Ingest = ingest.New(ingest.Deps{
		Store:                c.Store,
		Converter:            docparse.NewLibreOfficeConverter(cfg.Ingestion.ConvertOutputDir, cfg.Ingestion.LibreOfficeBinary),
		Extractor:            docparse.NewRoutingExtractor(cfg.Ingestion.ImagesRoot, cfg.Ingestion.LlamaParseAPIKey, cfg.Ingestion.LlamaParseBaseURL),
		Chunker:              chunker.New(chunker.Config{SoftLimitChars: cfg.Chunker.SoftLimitChars, PageSummaryEnabled: cfg.Chunker.PageSummaryEnabled}),
		Vectors:              c.Vectors,
		Lexical:              c.Lexical,
		Gateway:              c.Gateway,
		Sync:                 c.Sync,
		ParseConcurrency:     cfg.Ingestion.ParseConcurrency,
		VectorizeConcurrency: cfg.Ingestion.VectorizeConcurrency,
	})

	c.Retriever, err = retrieval.New(c.Store, c.Vectors, c.Lexical, c.Gateway, retrieval.Config{
		Alpha: cfg.Retrieval.Alpha, CandidateK: cfg.Retrieval.CandidateK,
		RerankK: cfg.Retrieval.RerankK, TopK: cfg.Retrieval.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("container: creating retriever: %w", err)
	}

	c.RAG = rag.New(c.Store, c.Retriever, c.Gateway, sessionlock.New(), rag.Config{
		MaxQueryChars:   cfg.Retrieval.QueryMaxLen,
		HistoryMaxChars: cfg.Retrieval.HistoryMax,
		ContextMaxChars: cfg.Retrieval.ContextMax,
	})

	return c, nil
}

func modelEndpoint(m config.ModelConfig) modelgateway.EndpointConfig {
	return modelgateway.EndpointConfig{
		BaseURL: m.BaseURL, APIKey: m.APIKey, Model: m.Model,
		RequestsPerSec: m.RequestsPerSec, Burst: m.Burst,
		TokensPerMinute: m.TokensPerMinute, MaxRetries: m.MaxRetries, Timeout: m.Timeout,
	}
}

// Close tears down every opened backend in reverse order, collecting
// (not short-circuiting on) the first error encountered the way the
// teacher's engine.Close propagates a single store-close error — here
// extended to multiple backends, each given a chance to close.
func (c *Container) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
