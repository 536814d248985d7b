package retrieval

import (
	"testing"

	"github.com/brunobiangulo/kbrag/lexical"
	"github.com/brunobiangulo/kbrag/vectorstore"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateEnforcesOrdering(t *testing.T) {
	require.NoError(t, Config{Alpha: 0.5, CandidateK: 50, RerankK: 20, TopK: 5}.Validate())
	require.Error(t, Config{Alpha: 0.5, CandidateK: 10, RerankK: 20, TopK: 5}.Validate())
	require.Error(t, Config{Alpha: 1.5, CandidateK: 50, RerankK: 20, TopK: 5}.Validate())
}

func TestMinMaxNormalizeVectorHandlesEqualScores(t *testing.T) {
	hits := []vectorstore.Hit{{SegID: "a", Score: 0.5}, {SegID: "b", Score: 0.5}}
	norm := minMaxNormalizeVector(hits)
	require.Equal(t, 1.0, norm["a"])
	require.Equal(t, 1.0, norm["b"])
}

func TestMinMaxNormalizeVectorSpansZeroToOne(t *testing.T) {
	hits := []vectorstore.Hit{{SegID: "a", Score: 0.2}, {SegID: "b", Score: 0.8}, {SegID: "c", Score: 0.5}}
	norm := minMaxNormalizeVector(hits)
	require.Equal(t, 0.0, norm["a"])
	require.Equal(t, 1.0, norm["b"])
	require.InDelta(t, 0.5, norm["c"], 1e-9)
}

func TestFuseMergesOverlapAndWeightsAlpha(t *testing.T) {
	// seg-1 appears only in dense (normalized 1.0), seg-3 only in lex
	// (normalized 0.0), seg-2 appears in both (dense norm 0.0, lex norm 1.0).
	dense := []vectorstore.Hit{{SegID: "seg-1", Score: 1.0}, {SegID: "seg-2", Score: 0.0}}
	lex := []lexical.Hit{{SegID: "seg-2", Score: 10}, {SegID: "seg-3", Score: 0}}

	fused := fuse(dense, lex, 0.6)
	byID := map[string]float64{}
	for _, f := range fused {
		byID[f.segID] = f.fused
	}

	require.InDelta(t, 0.6, byID["seg-1"], 1e-9) // dense-only: alpha*1 + (1-alpha)*0
	require.InDelta(t, 0.4, byID["seg-2"], 1e-9)  // both: alpha*0 + (1-alpha)*1
	require.InDelta(t, 0.0, byID["seg-3"], 1e-9)  // lex-only, at the bottom of its own range: alpha*0 + (1-alpha)*0
}

func TestFuseOrdersDescendingByFusedThenDenseTieBreak(t *testing.T) {
	dense := []vectorstore.Hit{{SegID: "a", Score: 0.9}, {SegID: "b", Score: 0.1}}
	lex := []lexical.Hit{}

	fused := fuse(dense, lex, 0.5)
	require.Equal(t, "a", fused[0].segID)
	require.Equal(t, "b", fused[1].segID)
}
