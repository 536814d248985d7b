// Package docparse defines the two narrow collaborator contracts the
// ingestion pipeline's Convert and Parse stages depend on (§1, §4.6):
// Converter (non-PDF -> PDF) and StructuralExtractor (PDF -> page
// blocks). These are deliberately narrow interfaces so a production
// deployment can swap in its own remote service by implementing them,
// while the reference implementations here make the pipeline runnable
// end to end without one.
package docparse

import "context"

// BlockType is the page-block vocabulary the Merge stage (§4.6) expects:
// text, table, image, title, caption, footnote.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockTable    BlockType = "table"
	BlockImage    BlockType = "image"
	BlockTitle    BlockType = "title"
	BlockCaption  BlockType = "caption"
	BlockFootnote BlockType = "footnote"
)

// Block is one structural unit in reading order on a page. Table blocks
// carry the table's text in Content as the extractor produced it
// (NativeExtractor's is plain extracted text; no HTML is rendered);
// image blocks carry a reference path in ImageRef and leave Content
// empty.
type Block struct {
	Type     BlockType
	Content  string
	ImageRef string
	Page     int // 1-indexed
	Order    int // position within the page, reading order
}

// ExtractResult is what a StructuralExtractor produces from one PDF.
type ExtractResult struct {
	Blocks     []Block
	PageCount  int
	ImagesDir  string // directory holding extracted image files, referenced by Block.ImageRef
	Method     string // "native" or "llamaparse"
}

// StructuralExtractor is the Parse-stage collaborator: takes a PDF path,
// returns page blocks in reading order.
type StructuralExtractor interface {
	Extract(ctx context.Context, pdfPath string) (*ExtractResult, error)
}

// Converter is the Convert-stage collaborator: produces a PDF from an
// arbitrary source document, or is a no-op pass-through if the source is
// already a PDF.
type Converter interface {
	ConvertToPDF(ctx context.Context, sourcePath string) (pdfPath string, err error)
}
