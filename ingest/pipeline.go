// Package ingest is the Ingestion Pipeline (component F): the stage
// scheduler that drives a document through convert -> parse -> merge ->
// chunk -> vectorize+index (§4.6), owning every process_status
// transition and milestone callback. Grounded on the teacher's
// goroutine-per-unit-of-work style (root goreason.go's document
// processing loop, deleted) generalized to the spec's five-stage DAG
// with per-stage concurrency budgets.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/brunobiangulo/kbrag/chunker"
	"github.com/brunobiangulo/kbrag/docparse"
	"github.com/brunobiangulo/kbrag/kberrors"
	"github.com/brunobiangulo/kbrag/lexical"
	"github.com/brunobiangulo/kbrag/modelgateway"
	"github.com/brunobiangulo/kbrag/statussync"
	"github.com/brunobiangulo/kbrag/store"
	"github.com/brunobiangulo/kbrag/vectorstore"
)

// Deps are the collaborators the pipeline drives. Converter and
// Extractor are the two out-of-core contracts from §1/§6 (package
// docparse); everything else is one of the spec's lettered components.
type Deps struct {
	Store     *store.Store
	Converter docparse.Converter
	Extractor docparse.StructuralExtractor
	Chunker   *chunker.Chunker
	Vectors   *vectorstore.Store
	Lexical   *lexical.Store
	Gateway   modelgateway.Gateway
	Sync      *statussync.Synchronizer

	ParseConcurrency     int
	VectorizeConcurrency int
}

// Pipeline schedules stages for individual documents, enforcing
// per-stage concurrency budgets (§5: "the heaviest stages (Parse and
// Vectorize) get separate budgets").
type Pipeline struct {
	deps Deps

	parseSem     chan struct{}
	vectorizeSem chan struct{}
}

func New(deps Deps) *Pipeline {
	if deps.ParseConcurrency <= 0 {
		deps.ParseConcurrency = 4
	}
	if deps.VectorizeConcurrency <= 0 {
		deps.VectorizeConcurrency = 4
	}
	return &Pipeline{
		deps:         deps,
		parseSem:     make(chan struct{}, deps.ParseConcurrency),
		vectorizeSem: make(chan struct{}, deps.VectorizeConcurrency),
	}
}

// UploadRequest is the F-facing shape of "upload request" (§2's data
// flow). CallbackURL/RequestID travel with the request rather than
// doc_info, since E's contract (§4.5) takes them as call parameters, not
// persisted document fields.
type UploadRequest struct {
	DocID        string
	DisplayName  string
	Extension    string
	OriginalPath string
	OutputDir    string
	SubjectIDs   []string
	CallbackURL  string
	RequestID    string
}

// Ingest writes the initial pending doc_info row and permission links
// synchronously, then runs the pipeline stages asynchronously — the
// caller (HTTP handler) gets doc_id back immediately, per §6's
// "processing runs asynchronously".
func (p *Pipeline) Ingest(ctx context.Context, req UploadRequest) (string, error) {
	doc := store.Document{
		DocID:        req.DocID,
		DisplayName:  req.DisplayName,
		Extension:    req.Extension,
		OriginalPath: req.OriginalPath,
		OutputDir:    req.OutputDir,
	}
	if err := p.deps.Store.CreateDocument(ctx, doc); err != nil {
		return "", err
	}

	perms := permissionsFor(req.DocID, req.SubjectIDs)
	if err := p.deps.Store.SetPermissions(ctx, req.DocID, perms); err != nil {
		return "", err
	}

	go p.run(req)
	return req.DocID, nil
}

func permissionsFor(docID string, subjectIDs []string) []store.Permission {
	if len(subjectIDs) == 0 {
		return []store.Permission{{PermissionType: "read", SubjectID: "", DocID: docID}}
	}
	perms := make([]store.Permission, len(subjectIDs))
	for i, sid := range subjectIDs {
		perms[i] = store.Permission{PermissionType: "read", SubjectID: sid, DocID: docID}
	}
	return perms
}

// resumePoint names where in the stage chain a run should start, so a
// recovered document never has to repeat a stage whose output is already
// durable (§4.6: "resumed from the start of its current stage, never
// mid-stage").
type resumePoint int

const (
	resumeFromConvert resumePoint = iota
	resumeFromParse
	resumeFromVectorize
)

// resumeStageFor maps a stuck non-terminal status to the resume point
// that can recover it without redoing durable work. Parse's output
// (page blocks) isn't persisted, so a document stuck mid-merge or
// mid-chunk still has to re-parse its already-converted PDF; a document
// stuck mid-vectorize already has its segments persisted and resumes
// straight there, reusing them instead of re-converting or re-parsing.
func resumeStageFor(status store.Status) resumePoint {
	switch status {
	case store.StatusParsing, store.StatusMerging, store.StatusChunking:
		return resumeFromParse
	case store.StatusVectorizing:
		return resumeFromVectorize
	default:
		return resumeFromConvert
	}
}

// run drives a fresh document through every stage starting at Convert.
func (p *Pipeline) run(req UploadRequest) {
	p.runFrom(req, resumeFromConvert, "")
}

// runFrom drives a document through the stage chain starting at resume.
// pdfPath is required (and used in place of re-running Convert) when
// resume is resumeFromParse; it is ignored for resumeFromVectorize, which
// reloads already-persisted segments instead.
func (p *Pipeline) runFrom(req UploadRequest, resume resumePoint, pdfPath string) {
	ctx := context.Background()
	docID := req.DocID

	if resume == resumeFromVectorize {
		segments, err := p.deps.Store.GetSegmentsByDocument(ctx, docID)
		if err != nil {
			p.failStage(ctx, docID, store.StatusSplitFailed, err, req)
			return
		}
		if err := p.vectorizeAndIndex(ctx, docID, segments); err != nil {
			p.failStage(ctx, docID, store.StatusSplitFailed, err, req)
			return
		}
		p.finishSplited(ctx, docID, req)
		return
	}

	if resume == resumeFromConvert {
		var err error
		pdfPath, err = p.convert(ctx, req)
		if err != nil {
			p.failStage(ctx, docID, store.StatusConvertFailed, err, req)
			return
		}
	}

	extract, err := p.parse(ctx, docID, pdfPath)
	if err != nil {
		p.failStage(ctx, docID, store.StatusParseFailed, err, req)
		return
	}
	p.deps.Sync.Enqueue(statussync.Event{DocID: docID, InternalStatus: statussync.StatusParsed, RequestID: req.RequestID, CallbackURL: req.CallbackURL})

	pages, err := p.merge(ctx, docID, extract)
	if err != nil {
		p.failStage(ctx, docID, store.StatusMergeFailed, err, req)
		return
	}

	segments, err := p.chunk(ctx, docID, extract)
	if err != nil {
		p.failStage(ctx, docID, store.StatusChunkFailed, err, req)
		return
	}
	if err := p.persistPagesAndSegments(ctx, docID, pages, segments); err != nil {
		p.failStage(ctx, docID, store.StatusChunkFailed, err, req)
		return
	}

	if err := p.vectorizeAndIndex(ctx, docID, segments); err != nil {
		p.failStage(ctx, docID, store.StatusSplitFailed, err, req)
		return
	}
	p.finishSplited(ctx, docID, req)
}

func (p *Pipeline) finishSplited(ctx context.Context, docID string, req UploadRequest) {
	if err := p.deps.Store.UpdateStatus(ctx, docID, store.StatusSplited, ""); err != nil {
		slog.Error("ingest: failed to mark document splited", "doc_id", docID, "error", err)
		return
	}
	p.deps.Sync.Enqueue(statussync.Event{DocID: docID, InternalStatus: statussync.StatusSplited, RequestID: req.RequestID, CallbackURL: req.CallbackURL})
}

func (p *Pipeline) convert(ctx context.Context, req UploadRequest) (string, error) {
	if err := p.deps.Store.UpdateStatus(ctx, req.DocID, store.StatusConverting, ""); err != nil {
		return "", err
	}
	pdfPath, err := p.deps.Converter.ConvertToPDF(ctx, req.OriginalPath)
	if err != nil {
		return "", kberrors.Wrap(kberrors.ErrConvertFailed, err)
	}
	if err := p.deps.Store.SetDerivedPaths(ctx, req.DocID, "pdf", pdfPath); err != nil {
		return "", err
	}
	return pdfPath, nil
}

func (p *Pipeline) parse(ctx context.Context, docID, pdfPath string) (*docparse.ExtractResult, error) {
	p.parseSem <- struct{}{}
	defer func() { <-p.parseSem }()

	if err := p.deps.Store.UpdateStatus(ctx, docID, store.StatusParsing, ""); err != nil {
		return nil, err
	}
	result, err := p.deps.Extractor.Extract(ctx, pdfPath)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.ErrParseFailed, err)
	}
	if err := p.deps.Store.SetPageCount(ctx, docID, result.PageCount); err != nil {
		return nil, err
	}
	if result.ImagesDir != "" {
		if err := p.deps.Store.SetDerivedPaths(ctx, docID, "images", result.ImagesDir); err != nil {
			return nil, err
		}
	}
	if err := p.deps.Store.UpdateStatus(ctx, docID, store.StatusParsed, ""); err != nil {
		return nil, err
	}
	return result, nil
}

// merge collects the distinct pages of the already-flattened blocks
// (first-seen order) into doc_page_info rows. Proximity-based caption/footnote attachment for
// images/tables happens in the chunker, which consumes the same
// ordered block stream; merge's job here is strictly page bookkeeping
// (§4.6: "Produce doc_page_info rows").
func (p *Pipeline) merge(ctx context.Context, docID string, extract *docparse.ExtractResult) ([]store.Page, error) {
	if err := p.deps.Store.UpdateStatus(ctx, docID, store.StatusMerging, ""); err != nil {
		return nil, err
	}

	seen := map[int]bool{}
	var pages []store.Page
	for _, b := range extract.Blocks {
		if seen[b.Page] {
			continue
		}
		seen[b.Page] = true
		pages = append(pages, store.Page{DocID: docID, PageIdx: b.Page})
	}

	if err := p.deps.Store.UpdateStatus(ctx, docID, store.StatusMerged, ""); err != nil {
		return nil, kberrors.Wrap(kberrors.ErrMergeFailed, err)
	}
	return pages, nil
}

func (p *Pipeline) chunk(ctx context.Context, docID string, extract *docparse.ExtractResult) ([]store.Segment, error) {
	if err := p.deps.Store.UpdateStatus(ctx, docID, store.StatusChunking, ""); err != nil {
		return nil, err
	}
	segments := p.deps.Chunker.Chunk(docID, extract.Blocks)
	if err := p.deps.Store.UpdateStatus(ctx, docID, store.StatusChunked, ""); err != nil {
		return nil, kberrors.Wrap(kberrors.ErrChunkFailed, err)
	}
	return segments, nil
}

func (p *Pipeline) persistPagesAndSegments(ctx context.Context, docID string, pages []store.Page, segments []store.Segment) error {
	if len(pages) > 0 {
		if err := p.deps.Store.InsertPages(ctx, docID, pages); err != nil {
			return kberrors.Wrap(kberrors.ErrMergeFailed, err)
		}
	}
	if len(segments) > 0 {
		if err := p.deps.Store.InsertSegmentsBulk(ctx, docID, segments); err != nil {
			return kberrors.Wrap(kberrors.ErrChunkFailed, err)
		}
	}
	return nil
}

// vectorizeAndIndex embeds every indexable segment, then upserts to the
// vector store and indexes to the lexical store, both keyed by doc_id so
// the document becomes visible atomically at the document grain (§4.6).
// If lexical indexing fails, the already-upserted vectors are deleted
// before returning; on any failure the caller's failStage then deletes
// the document's records from both derived stores.
func (p *Pipeline) vectorizeAndIndex(ctx context.Context, docID string, segments []store.Segment) error {
	p.vectorizeSem <- struct{}{}
	defer func() { <-p.vectorizeSem }()

	if err := p.deps.Store.UpdateStatus(ctx, docID, store.StatusVectorizing, ""); err != nil {
		return err
	}

	var indexable []store.Segment
	for _, seg := range segments {
		if seg.SegType.Indexable() {
			indexable = append(indexable, seg)
		}
	}
	if len(indexable) == 0 {
		return nil
	}

	texts := make([]string, len(indexable))
	for i, seg := range indexable {
		texts[i] = seg.SegContent
	}

	vectors, err := p.deps.Gateway.Embed(ctx, texts)
	if err != nil {
		return kberrors.Wrap(kberrors.ErrSplitFailed, err)
	}

	vecRecords := make([]vectorstore.Record, len(indexable))
	lexRecords := make([]lexical.Record, len(indexable))
	for i, seg := range indexable {
		vecRecords[i] = vectorstore.Record{
			SegID: seg.SegID, DocID: seg.DocID, Vector: vectors[i],
			SegType: string(seg.SegType), SegPageIdx: seg.SegPageIdx,
		}
		lexRecords[i] = lexical.Record{
			SegID: seg.SegID, DocID: seg.DocID, Content: seg.SegContent,
			SegType: string(seg.SegType), SegPageIdx: seg.SegPageIdx,
		}
	}

	if err := p.deps.Vectors.Upsert(ctx, vecRecords); err != nil {
		return kberrors.Wrap(kberrors.ErrSplitFailed, err)
	}
	if err := p.deps.Lexical.Index(lexRecords); err != nil {
		_ = p.deps.Vectors.DeleteByDoc(ctx, docID) // roll back the half-visible document
		return kberrors.Wrap(kberrors.ErrSplitFailed, err)
	}
	return nil
}

func (p *Pipeline) failStage(ctx context.Context, docID string, failStatus store.Status, cause error, req UploadRequest) {
	_ = p.deps.Vectors.DeleteByDoc(ctx, docID)
	_ = p.deps.Lexical.DeleteByDoc(docID)

	if err := p.deps.Store.UpdateStatus(ctx, docID, failStatus, cause.Error()); err != nil {
		slog.Error("ingest: failed to record stage failure", "doc_id", docID, "status", failStatus, "error", err)
	}
	slog.Warn("ingest: stage failed", "doc_id", docID, "status", failStatus, "error", cause)

	p.deps.Sync.Enqueue(statussync.Event{
		DocID: docID, InternalStatus: string(failStatus), RequestID: req.RequestID, CallbackURL: req.CallbackURL,
	})
}

// Delete removes a document's derived records from the vector and
// lexical stores before deleting the metadata row, so no cascade ever
// leaves B/C ahead of A (§4.1, §6: hard delete cascades to B, C, A).
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	if err := p.deps.Vectors.DeleteByDoc(ctx, docID); err != nil {
		return kberrors.Wrap(kberrors.ErrPermanentBackend, err)
	}
	if err := p.deps.Lexical.DeleteByDoc(docID); err != nil {
		return kberrors.Wrap(kberrors.ErrPermanentBackend, err)
	}
	return p.deps.Store.DeleteDocument(ctx, docID)
}

// ReconcileOrphans sweeps documents stuck in a non-terminal state past a
// grace period and resumes each from the start of a stage, never
// mid-stage (§4.6 recovery policy). A document stuck mid-vectorize keeps
// its persisted segments and resumes straight into vectorize-index; one
// stuck mid-parse/merge/chunk re-derives page blocks from its
// already-converted PDF without repeating Convert (whose source file may
// since have been cleaned up). Every other status, including the
// between-stage parsed, merged and chunked ones, restarts from Convert.
// It also repairs B/C records left behind by a crash between
// vectorize-index and the splited status commit, per §3's "orphan-repair
// procedures MAY run, but no read path may rely on them."
func (p *Pipeline) ReconcileOrphans(ctx context.Context, gracePeriod time.Duration) error {
	docs, err := p.deps.Store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, d := range docs {
		if d.ProcessStatus.Terminal() {
			continue
		}
		if now.Sub(d.UpdatedAt) < gracePeriod {
			continue
		}
		slog.Info("ingest: reconciling stuck document", "doc_id", d.DocID, "status", d.ProcessStatus)

		req := UploadRequest{
			DocID: d.DocID, DisplayName: d.DisplayName, Extension: d.Extension,
			OriginalPath: d.OriginalPath, OutputDir: d.OutputDir,
		}

		switch resumeStageFor(d.ProcessStatus) {
		case resumeFromVectorize:
			if err := p.deps.Store.UpdateStatus(ctx, d.DocID, store.StatusVectorizing, "resumed after restart"); err != nil {
				slog.Error("ingest: failed to reaffirm stuck document", "doc_id", d.DocID, "error", err)
				continue
			}
			go p.runFrom(req, resumeFromVectorize, "")
		case resumeFromParse:
			if err := p.deps.Store.UpdateStatus(ctx, d.DocID, store.StatusPending, "resumed after restart"); err != nil {
				slog.Error("ingest: failed to reset stuck document", "doc_id", d.DocID, "error", err)
				continue
			}
			go p.runFrom(req, resumeFromParse, d.PDFPath)
		default:
			if err := p.deps.Store.UpdateStatus(ctx, d.DocID, store.StatusPending, "resumed after restart"); err != nil {
				slog.Error("ingest: failed to reset stuck document", "doc_id", d.DocID, "error", err)
				continue
			}
			go p.runFrom(req, resumeFromConvert, "")
		}
	}
	return nil
}
