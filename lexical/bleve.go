// Package lexical is the Lexical Store Adapter (component C): BM25
// indexing and search over analyzed text, backed by
// github.com/blevesearch/bleve/v2. Grounded on the pack's Bleve-based
// indexer, which couples an embedding pipeline with a Bleve index for
// keyword search; here Bleve stands entirely alone as the BM25 backend,
// with CJK handled by Bleve's built-in CJK analyzer on the content field.
package lexical

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Record mirrors vectorstore.Record for the lexical side: primary key
// seg_id, the analyzed text body, and scalar attributes (§3, §6).
type Record struct {
	SegID      string
	Content    string
	DocID      string
	SegType    string
	SegPageIdx int
}

// Hit is a BM25 search result.
type Hit struct {
	SegID string
	Score float64
}

// Filter mirrors vectorstore.Filter.
type Filter struct {
	AllowedDocIDs []string
	SegTypes      []string
}

type indexDoc struct {
	SegID      string `json:"seg_id"`
	Content    string `json:"content"`
	DocID      string `json:"doc_id"`
	SegType    string `json:"seg_type"`
	SegPageIdx int    `json:"seg_page_idx"`
}

type Store struct {
	idx bleve.Index
}

// Open opens (creating if absent) a Bleve index at path with a field
// mapping that uses the CJK analyzer for content (mixed CJK/Latin text,
// §4.3/§6) and keyword (non-analyzed) mappings for the scalar filter
// fields.
func Open(path string) (*Store, error) {
	var idx bleve.Index
	var err error

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		idx, err = bleve.New(path, buildMapping())
	} else {
		idx, err = bleve.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("lexical: opening index: %w", err)
	}
	return &Store{idx: idx}, nil
}

func buildMapping() *mapping.IndexMappingImpl {
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = "cjk"

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	numericField := bleve.NewNumericFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	docMapping.AddFieldMappingsAt("doc_id", keywordField)
	docMapping.AddFieldMappingsAt("seg_type", keywordField)
	docMapping.AddFieldMappingsAt("seg_page_idx", numericField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func (s *Store) Close() error { return s.idx.Close() }

// Index upserts records; Bleve's Index call is itself idempotent on
// document ID (a re-index with the same seg_id replaces the prior
// document), satisfying §4.3's idempotence requirement. A batch is used
// so a multi-segment document is written as one unit of work.
func (s *Store) Index(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := s.idx.NewBatch()
	for _, r := range records {
		doc := indexDoc{SegID: r.SegID, Content: r.Content, DocID: r.DocID, SegType: r.SegType, SegPageIdx: r.SegPageIdx}
		if err := batch.Index(r.SegID, doc); err != nil {
			return err
		}
	}
	return s.idx.Batch(batch)
}

// Search runs a BM25 match query over content, restricted by filter via a
// conjunctive boolean query, per §4.3/§4.7.
func (s *Store) Search(ctx context.Context, queryText string, k int, filter Filter) ([]Hit, error) {
	matchQ := bleve.NewMatchQuery(queryText)
	matchQ.SetField("content")

	conjuncts := []query.Query{matchQ}
	if len(filter.AllowedDocIDs) > 0 {
		docQ := bleve.NewDisjunctionQuery()
		for _, id := range filter.AllowedDocIDs {
			tq := bleve.NewTermQuery(id)
			tq.SetField("doc_id")
			docQ.AddQuery(tq)
		}
		conjuncts = append(conjuncts, docQ)
	}
	if len(filter.SegTypes) > 0 {
		typeQ := bleve.NewDisjunctionQuery()
		for _, st := range filter.SegTypes {
			tq := bleve.NewTermQuery(st)
			tq.SetField("seg_type")
			typeQ.AddQuery(tq)
		}
		conjuncts = append(conjuncts, typeQ)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(conjuncts...), k, 0, false)
	result, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical: search: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, Hit{SegID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// DeleteByDoc removes every record for doc_id via a bulk delete-by-query
// batch, part of the fan-out delete in §9.
func (s *Store) DeleteByDoc(docID string) error {
	docQ := bleve.NewTermQuery(docID)
	docQ.SetField("doc_id")
	req := bleve.NewSearchRequestOptions(docQ, 10000, 0, false)
	result, err := s.idx.Search(req)
	if err != nil {
		return err
	}
	if len(result.Hits) == 0 {
		return nil
	}
	batch := s.idx.NewBatch()
	for _, h := range result.Hits {
		batch.Delete(h.ID)
	}
	return s.idx.Batch(batch)
}
