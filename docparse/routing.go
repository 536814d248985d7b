package docparse

import (
	"context"
	"fmt"
)

// RoutingExtractor scores each converted PDF for structural complexity
// (multi-column layout, grid-like tables) and routes documents the native
// extractor handles poorly to a remote LlamaParse job. When no LlamaParse
// key is configured, every document goes through native.
type RoutingExtractor struct {
	native     *NativeExtractor
	llamaParse *llamaParseClient
}

// NewRoutingExtractor builds a RoutingExtractor. apiKey empty disables the
// fallback and every document is handled by native.
func NewRoutingExtractor(imagesRoot, apiKey, baseURL string) *RoutingExtractor {
	r := &RoutingExtractor{native: NewNativeExtractor(imagesRoot)}
	if apiKey != "" {
		r.llamaParse = newLlamaParseClient(llamaParseConfig{APIKey: apiKey, BaseURL: baseURL})
	}
	return r
}

func (r *RoutingExtractor) Extract(ctx context.Context, pdfPath string) (*ExtractResult, error) {
	if r.llamaParse != nil {
		if score, err := detectComplexity(pdfPath); err == nil && score.isComplex() {
			blocks, err := r.llamaParse.parse(ctx, pdfPath)
			if err != nil {
				return nil, fmt.Errorf("docparse: llamaparse fallback %s: %w", pdfPath, err)
			}
			maxPage := 0
			for _, b := range blocks {
				if b.Page > maxPage {
					maxPage = b.Page
				}
			}
			return &ExtractResult{Blocks: blocks, PageCount: maxPage, Method: "llamaparse"}, nil
		}
	}
	return r.native.Extract(ctx, pdfPath)
}
