// Package retrieval is the Hybrid Retriever (component G): permission
// filtering, parallel dense+lexical search, alpha-weighted min-max fusion,
// and cross-encoder reranking (§4.7). Structurally grounded on the
// teacher's retrieval/retrieval.go (concurrent fan-out over search
// backends via goroutines + buffered channels, a SearchTrace for
// observability); the fusion math replaces the teacher's Reciprocal Rank
// Fusion entirely with the spec's alpha-weighted min-max normalization —
// RRF is not used anywhere in this package.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/brunobiangulo/kbrag/kberrors"
	"github.com/brunobiangulo/kbrag/lexical"
	"github.com/brunobiangulo/kbrag/modelgateway"
	"github.com/brunobiangulo/kbrag/store"
	"github.com/brunobiangulo/kbrag/vectorstore"
)

// Config holds retrieval tunables, validated at startup per §4.7's
// "candidate_k >= rerank_k >= top_k".
type Config struct {
	Alpha      float64
	CandidateK int
	RerankK    int
	TopK       int
}

func (c Config) Validate() error {
	if c.CandidateK < c.RerankK || c.RerankK < c.TopK {
		return fmt.Errorf("retrieval: require candidate_k >= rerank_k >= top_k, got %d/%d/%d", c.CandidateK, c.RerankK, c.TopK)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("retrieval: alpha must be in [0,1], got %f", c.Alpha)
	}
	return nil
}

// Result is one retrieved segment, fully hydrated and reranked.
type Result struct {
	DocID       string
	SegID       string
	SegPageIdx  int
	SegCaption  string
	SegFootnote string
	Content     string
	FusedScore  float64
	RerankScore float64
}

// Trace records the breakdown of one hybrid search, mirroring the
// teacher's SearchTrace for observability.
type Trace struct {
	DenseResults  int
	LexResults    int
	FusedResults  int
	Reason        string // set when retrieval short-circuits, e.g. "no-permitted-documents"
	ElapsedMs     int64
}

// Retriever wires the Metadata Store (for permission + hydration), the
// vector and lexical stores, and the Model Gateway (for query embedding
// and reranking).
type Retriever struct {
	store   *store.Store
	vectors *vectorstore.Store
	lexical *lexical.Store
	gateway modelgateway.Gateway
	cfg     Config
}

func New(s *store.Store, vectors *vectorstore.Store, lex *lexical.Store, gateway modelgateway.Gateway, cfg Config) (*Retriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Retriever{store: s, vectors: vectors, lexical: lex, gateway: gateway, cfg: cfg}, nil
}

// Search runs the full G pipeline for one already-rewritten query under
// subjectID's permissions.
func (r *Retriever) Search(ctx context.Context, query, subjectID string) ([]Result, *Trace, error) {
	start := time.Now()
	trace := &Trace{}

	allowed, err := r.store.AuthorizedDocIDs(ctx, subjectID)
	if err != nil {
		return nil, trace, kberrors.Wrap(kberrors.ErrTransientBackend, err)
	}
	if len(allowed) == 0 {
		trace.Reason = "no-permitted-documents"
		return nil, trace, nil
	}

	denseHits, lexHits, err := r.fanOut(ctx, query, allowed)
	if err != nil {
		return nil, trace, err
	}
	trace.DenseResults = len(denseHits)
	trace.LexResults = len(lexHits)

	fused := fuse(denseHits, lexHits, r.cfg.Alpha)
	trace.FusedResults = len(fused)

	if len(fused) > r.cfg.RerankK {
		fused = fused[:r.cfg.RerankK]
	}
	if len(fused) == 0 {
		trace.ElapsedMs = time.Since(start).Milliseconds()
		return nil, trace, nil
	}

	segIDs := make([]string, len(fused))
	for i, f := range fused {
		segIDs[i] = f.segID
	}
	segments, err := r.store.GetSegmentsByIDs(ctx, segIDs)
	if err != nil {
		return nil, trace, kberrors.Wrap(kberrors.ErrTransientBackend, err)
	}
	segByID := make(map[string]store.Segment, len(segments))
	for _, s := range segments {
		segByID[s.SegID] = s
	}

	// A race with delete means a fused seg_id is no longer in A: dropped
	// silently, per §4.7 edge cases.
	var hydrated []Result
	var contents []string
	for _, f := range fused {
		seg, ok := segByID[f.segID]
		if !ok {
			continue
		}
		hydrated = append(hydrated, Result{
			DocID: seg.DocID, SegID: seg.SegID, SegPageIdx: seg.SegPageIdx,
			SegCaption: seg.SegCaption, SegFootnote: seg.SegFootnote,
			Content: seg.SegContent, FusedScore: f.fused,
		})
		contents = append(contents, seg.SegContent)
	}

	if len(hydrated) == 0 {
		trace.ElapsedMs = time.Since(start).Milliseconds()
		return nil, trace, nil
	}

	scores, err := r.gateway.Rerank(ctx, query, contents)
	if err != nil {
		return nil, trace, err
	}
	for i := range hydrated {
		hydrated[i].RerankScore = scores[i]
	}
	sort.SliceStable(hydrated, func(i, j int) bool { return hydrated[i].RerankScore > hydrated[j].RerankScore })

	if len(hydrated) > r.cfg.TopK {
		hydrated = hydrated[:r.cfg.TopK]
	}
	trace.ElapsedMs = time.Since(start).Milliseconds()
	return hydrated, trace, nil
}

func (r *Retriever) fanOut(ctx context.Context, query string, allowed []string) ([]vectorstore.Hit, []lexical.Hit, error) {
	type denseResult struct {
		hits []vectorstore.Hit
		err  error
	}
	type lexResult struct {
		hits []lexical.Hit
		err  error
	}

	denseCh := make(chan denseResult, 1)
	lexCh := make(chan lexResult, 1)

	go func() {
		vecs, err := r.gateway.Embed(ctx, []string{query})
		if err != nil {
			denseCh <- denseResult{nil, err}
			return
		}
		hits, err := r.vectors.Search(ctx, vecs[0], r.cfg.CandidateK, vectorstore.Filter{AllowedDocIDs: allowed})
		denseCh <- denseResult{hits, err}
	}()
	go func() {
		hits, err := r.lexical.Search(ctx, query, r.cfg.CandidateK, lexical.Filter{AllowedDocIDs: allowed})
		lexCh <- lexResult{hits, err}
	}()

	dense := <-denseCh
	lex := <-lexCh

	if dense.err != nil {
		slog.Warn("retrieval: dense search failed", "error", dense.err)
	}
	if lex.err != nil {
		slog.Warn("retrieval: lexical search failed", "error", lex.err)
	}
	if dense.err != nil && lex.err != nil {
		return nil, nil, kberrors.Wrap(kberrors.ErrTransientBackend, fmt.Errorf("dense: %v, lexical: %v", dense.err, lex.err))
	}
	return dense.hits, lex.hits, nil
}

type fusedCandidate struct {
	segID      string
	fused      float64
	denseScore float64
}

// fuse implements §4.7 step 3: min-max normalize each side independently
// to [0,1], then fused = alpha*dense_norm + (1-alpha)*lex_norm, missing
// side contributing 0. Ties break by raw dense score.
func fuse(dense []vectorstore.Hit, lex []lexical.Hit, alpha float64) []fusedCandidate {
	denseNorm := minMaxNormalizeVector(dense)
	lexNorm := minMaxNormalizeLexical(lex)

	denseRaw := make(map[string]float64, len(dense))
	for _, h := range dense {
		denseRaw[h.SegID] = float64(h.Score)
	}

	combined := make(map[string]*fusedCandidate)
	for segID, n := range denseNorm {
		combined[segID] = &fusedCandidate{segID: segID, fused: alpha * n, denseScore: denseRaw[segID]}
	}
	for segID, n := range lexNorm {
		if c, ok := combined[segID]; ok {
			c.fused += (1 - alpha) * n
		} else {
			combined[segID] = &fusedCandidate{segID: segID, fused: (1 - alpha) * n}
		}
	}

	out := make([]fusedCandidate, 0, len(combined))
	for _, c := range combined {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].fused != out[j].fused {
			return out[i].fused > out[j].fused
		}
		return out[i].denseScore > out[j].denseScore
	})
	return out
}

func minMaxNormalizeVector(hits []vectorstore.Hit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	span := float64(max - min)
	for _, h := range hits {
		if span == 0 {
			out[h.SegID] = 1 // a single distinct value (or all equal): treat as fully relevant
			continue
		}
		out[h.SegID] = float64(h.Score-min) / span
	}
	return out
}

func minMaxNormalizeLexical(hits []lexical.Hit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	span := max - min
	for _, h := range hits {
		if span == 0 {
			out[h.SegID] = 1
			continue
		}
		out[h.SegID] = (h.Score - min) / span
	}
	return out
}
