// Package vectorstore is the Vector Store Adapter (component B): upsert
// and search of dense embedding vectors with scalar filters, backed by
// Qdrant. Grounded on the Qdrant adapter pattern in the example pack
// (collection bootstrap with a fixed distance metric, payload carrying
// scalar attributes alongside the vector, point-struct upsert/search).
package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Record is one vector row: primary key seg_id, the embedding, and the
// scalar attributes the retriever filters on (§3, §6).
type Record struct {
	SegID      string
	Vector     []float32
	DocID      string
	SegType    string
	SegPageIdx int
}

// Hit is a search result: seg_id plus similarity score, "higher is
// better" regardless of whether the underlying metric is cosine or dot
// product (§4.2 — this adapter uses cosine, documented here).
type Hit struct {
	SegID string
	Score float32
}

// Filter restricts search and is always a conjunction over doc_id plus
// optional scalar attributes, per §4.2/§4.7.
type Filter struct {
	AllowedDocIDs []string
	SegTypes      []string
}

type Store struct {
	client     *qdrant.Client
	collection string
	dim        int
}

// Config configures the Qdrant connection and collection. DistanceMetric
// is "cosine" or "dot"; this adapter documents cosine similarity as
// "higher is better", matching §4.2's requirement.
type Config struct {
	Addr           string
	Collection     string
	Dim            int
	DistanceMetric string
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: cfg.Addr, UseTLS: false})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connecting to qdrant: %w", err)
	}

	s := &Store{client: client, collection: cfg.Collection, dim: cfg.Dim}
	if err := s.ensureCollection(ctx, cfg.DistanceMetric); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context, distanceMetric string) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("vectorstore: checking collection: %w", err)
	}
	if exists {
		return nil
	}

	distance := qdrant.Distance_Cosine
	if distanceMetric == "dot" {
		distance = qdrant.Distance_Dot
	}

	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dim),
			Distance: distance,
		}),
	})
}

// Upsert writes records for one document in a single batched call with
// wait=true, so the whole batch becomes visible atomically at the
// document grain (§4.2, §4.6 step 5) — no partial document is ever
// visible to a concurrent search.
func (s *Store) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(segIDHash(r.SegID)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"seg_id":       r.SegID,
				"doc_id":       r.DocID,
				"seg_type":     r.SegType,
				"seg_page_idx": r.SegPageIdx,
			}),
		}
	}
	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	return err
}

// Search returns up to k (seg_id, score) pairs ordered by similarity
// descending, restricted to filter.AllowedDocIDs.
func (s *Store) Search(ctx context.Context, queryVector []float32, k int, filter Filter) ([]Hit, error) {
	qf := buildFilter(filter)
	limit := uint64(k)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryVector...),
		Filter:         qf,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		segID := ""
		if v, ok := p.Payload["seg_id"]; ok {
			segID = v.GetStringValue()
		}
		if segID == "" {
			continue
		}
		hits = append(hits, Hit{SegID: segID, Score: p.Score})
	}
	return hits, nil
}

// DeleteByDoc removes every record with the given doc_id, part of the
// fan-out delete described in §9 ("deletion is a fan-out, never a graph
// walk").
func (s *Store) DeleteByDoc(ctx context.Context, docID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("doc_id", docID),
			},
		}),
	})
	return err
}

func (s *Store) Close() error {
	return s.client.Close()
}

func buildFilter(f Filter) *qdrant.Filter {
	if len(f.AllowedDocIDs) == 0 && len(f.SegTypes) == 0 {
		return nil
	}
	var must []*qdrant.Condition
	if len(f.AllowedDocIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords("doc_id", f.AllowedDocIDs...))
	}
	if len(f.SegTypes) > 0 {
		must = append(must, qdrant.NewMatchKeywords("seg_type", f.SegTypes...))
	}
	return &qdrant.Filter{Must: must}
}

// segIDHash maps a string seg_id to a stable uint64 point ID. Qdrant point
// IDs are numeric or UUID; seg_ids here are deterministic strings
// (§4.9), so we hash them with FNV-1a rather than requiring every seg_id
// to already be a UUID.
func segIDHash(segID string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(segID); i++ {
		h ^= uint64(segID[i])
		h *= prime64
	}
	return h
}
