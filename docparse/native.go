package docparse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// NativeExtractor is the reference StructuralExtractor: it reads a PDF's
// content streams directly, groups lines into page/heading/table/caption/
// footnote sections, and writes extracted images out to imagesRoot so
// later stages can reference them by path.
type NativeExtractor struct {
	imagesRoot string
}

func NewNativeExtractor(imagesRoot string) *NativeExtractor {
	return &NativeExtractor{imagesRoot: imagesRoot}
}

func (n *NativeExtractor) Extract(ctx context.Context, pdfPath string) (*ExtractResult, error) {
	sections, images, _, err := extractPDFStructure(ctx, pdfPath)
	if err != nil {
		return nil, fmt.Errorf("docparse: native extract %s: %w", pdfPath, err)
	}

	var blocks []Block
	maxPage := 0
	order := map[int]int{} // page -> running order counter

	for _, s := range sections {
		if s.PageNumber > maxPage {
			maxPage = s.PageNumber
		}
		order[s.PageNumber]++
		blocks = append(blocks, Block{
			Type:    classifyBlock(s),
			Content: blockContent(s),
			Page:    s.PageNumber,
			Order:   order[s.PageNumber],
		})
	}

	imagesDir := filepath.Join(n.imagesRoot, filepath.Base(pdfPath)+"-images")
	if len(images) > 0 {
		if err := os.MkdirAll(imagesDir, 0o755); err != nil {
			return nil, fmt.Errorf("docparse: creating images dir: %w", err)
		}
		for i, img := range images {
			page := img.PageNumber
			if page == 0 {
				page = 1
			}
			name := fmt.Sprintf("img-%04d.%s", i, extFor(img.MIMEType))
			refPath := filepath.Join(imagesDir, name)
			if err := os.WriteFile(refPath, img.Data, 0o644); err != nil {
				return nil, fmt.Errorf("docparse: writing extracted image: %w", err)
			}
			order[page]++
			blocks = append(blocks, Block{
				Type:     BlockImage,
				ImageRef: refPath,
				Page:     page,
				Order:    order[page],
			})
			if page > maxPage {
				maxPage = page
			}
		}
	}

	return &ExtractResult{
		Blocks:    blocks,
		PageCount: maxPage,
		ImagesDir: imagesDir,
		Method:    "native",
	}, nil
}

func extFor(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	default:
		return "bin"
	}
}
