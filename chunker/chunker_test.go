package chunker

import (
	"strings"
	"testing"

	"github.com/brunobiangulo/kbrag/docparse"
	"github.com/stretchr/testify/require"
)

func TestChunkTextRespectsSoftLimitAndPageBoundary(t *testing.T) {
	c := New(Config{SoftLimitChars: 50})

	longPara := strings.Repeat("word ", 30) // well over 50 chars
	blocks := []docparse.Block{
		{Type: docparse.BlockTitle, Content: "Section One", Page: 1, Order: 1},
		{Type: docparse.BlockText, Content: longPara, Page: 1, Order: 2},
		{Type: docparse.BlockText, Content: "short tail on page one.", Page: 1, Order: 3},
		{Type: docparse.BlockText, Content: "first text on page two.", Page: 2, Order: 1},
	}

	segs := c.Chunk("doc1", blocks)
	require.NotEmpty(t, segs)

	for _, s := range segs {
		require.LessOrEqual(t, s.SegLen, 200) // no fragment wildly exceeds the budget
	}

	var page1Segs, page2Segs int
	for _, s := range segs {
		if s.SegPageIdx == 1 {
			page1Segs++
			require.Equal(t, "Section One", s.SegCaption)
		}
		if s.SegPageIdx == 2 {
			page2Segs++
		}
	}
	require.Greater(t, page1Segs, 0)
	require.Greater(t, page2Segs, 0)
}

func TestChunkDeterministicSegIDScheme(t *testing.T) {
	c := New(Config{SoftLimitChars: 800})
	blocks := []docparse.Block{
		{Type: docparse.BlockText, Content: "hello world.", Page: 3, Order: 1},
	}
	segs := c.Chunk("doc42", blocks)
	require.Len(t, segs, 1)
	require.Equal(t, "doc42-3-1-text", segs[0].SegID)
}

func TestChunkTableCapturesCaptionAndFootnote(t *testing.T) {
	c := New(Config{SoftLimitChars: 800})
	blocks := []docparse.Block{
		{Type: docparse.BlockCaption, Content: "Table 1: Revenue by region", Page: 1, Order: 1},
		{Type: docparse.BlockTable, Content: "<table>...</table>", Page: 1, Order: 2},
		{Type: docparse.BlockFootnote, Content: "Source: internal reporting", Page: 1, Order: 3},
	}
	segs := c.Chunk("doc1", blocks)

	var table *struct {
		caption, footnote string
	}
	for _, s := range segs {
		if s.SegType == "table" {
			table = &struct{ caption, footnote string }{s.SegCaption, s.SegFootnote}
		}
	}
	require.NotNil(t, table)
	require.Equal(t, "Table 1: Revenue by region", table.caption)
	require.Equal(t, "Source: internal reporting", table.footnote)
}

func TestChunkImageEmitsIndexableMarker(t *testing.T) {
	c := New(Config{SoftLimitChars: 800})
	blocks := []docparse.Block{
		{Type: docparse.BlockCaption, Content: "Figure 2: Architecture diagram", Page: 1, Order: 1},
		{Type: docparse.BlockImage, ImageRef: "/tmp/fig2.png", Page: 1, Order: 2},
	}
	segs := c.Chunk("doc1", blocks)
	require.Len(t, segs, 1)
	require.Equal(t, "/tmp/fig2.png", segs[0].SegImagePath)
	require.Contains(t, segs[0].SegContent, "Figure 2: Architecture diagram")
}

func TestChunkPageSummaryDisabledByDefault(t *testing.T) {
	c := New(Config{SoftLimitChars: 800})
	blocks := []docparse.Block{
		{Type: docparse.BlockText, Content: "one sentence here. another one too.", Page: 1, Order: 1},
	}
	segs := c.Chunk("doc1", blocks)
	for _, s := range segs {
		require.NotEqual(t, "page_summary", string(s.SegType))
	}
}

func TestChunkPageSummaryWhenEnabled(t *testing.T) {
	c := New(Config{SoftLimitChars: 800, PageSummaryEnabled: true, PageSummaryChars: 100})
	blocks := []docparse.Block{
		{Type: docparse.BlockText, Content: "First sentence of the page. Second sentence follows.", Page: 1, Order: 1},
	}
	segs := c.Chunk("doc1", blocks)

	var found bool
	for _, s := range segs {
		if string(s.SegType) == "page_summary" {
			found = true
		}
	}
	require.True(t, found)
}

func TestSplitByCharBudgetNeverSplitsSentence(t *testing.T) {
	text := "Alpha sentence here. Beta sentence follows after. Gamma sentence ends it."
	frags := splitByCharBudget(text, 30)
	for _, f := range frags {
		require.True(t, strings.HasSuffix(f, ".") || strings.HasSuffix(f, text[len(text)-1:]))
	}
}
