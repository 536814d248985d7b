package lexical

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "idx.bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIndexAndSearchRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Index([]Record{
		{SegID: "seg-1", Content: "quarterly revenue grew across all regions", DocID: "doc1", SegType: "text", SegPageIdx: 1},
		{SegID: "seg-2", Content: "unrelated content about office furniture", DocID: "doc2", SegType: "text", SegPageIdx: 1},
	}))

	hits, err := s.Search(ctx, "revenue", 10, Filter{AllowedDocIDs: []string{"doc1", "doc2"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "seg-1", hits[0].SegID)
}

func TestSearchRespectsDocFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Index([]Record{
		{SegID: "seg-1", Content: "shared keyword appears here", DocID: "doc1", SegType: "text", SegPageIdx: 1},
		{SegID: "seg-2", Content: "shared keyword appears here too", DocID: "doc2", SegType: "text", SegPageIdx: 1},
	}))

	hits, err := s.Search(ctx, "shared keyword", 10, Filter{AllowedDocIDs: []string{"doc1"}})
	require.NoError(t, err)
	for _, h := range hits {
		require.Equal(t, "seg-1", h.SegID)
	}
}

func TestDeleteByDoc(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Index([]Record{{SegID: "seg-1", Content: "to be deleted", DocID: "doc1", SegType: "text", SegPageIdx: 1}}))
	require.NoError(t, s.DeleteByDoc("doc1"))

	hits, err := s.Search(context.Background(), "deleted", 10, Filter{})
	require.NoError(t, err)
	require.Empty(t, hits)
}
