package docparse

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfSection is an intermediate structural unit produced while walking a
// PDF page, before being classified into the Block vocabulary. Forced is
// set when the line itself identifies the block type (a caption or
// footnote marker) rather than needing heuristic classification.
type pdfSection struct {
	Heading    string
	Content    string
	Level      int
	PageNumber int
	Forced     BlockType
}

// extractPDFStructure walks every page of the PDF at path, extracting
// reading-order text split into sections and any embedded images. It
// mirrors how a page-native PDF reader has to work around the library's
// content-stream ordering and filter support rather than any
// document-specific structure.
func extractPDFStructure(ctx context.Context, path string) ([]pdfSection, []pdfImage, int, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	var sections []pdfSection
	var images []pdfImage

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, 0, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := extractPageTextOrdered(page)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		sections = append(sections, splitPageIntoSections(text, i)...)
		images = append(images, extractPageImages(page, i)...)
	}

	sections = fixRunningHeaders(sections, totalPages)

	if len(sections) == 0 {
		sections = []pdfSection{{Content: "Unable to extract text from PDF", PageNumber: 1}}
	}

	return sections, images, totalPages, nil
}

// extractPageTextOrdered extracts text from a PDF page sorted by visual
// position (top-to-bottom). The default GetPlainText reads text in
// content-stream order, which can differ from visual layout — headings may
// appear after the body text they label.
//
// This groups Content() elements into visual lines by Y proximity
// (preserving content-stream order within a line, since some PDFs use
// negative text matrices that would garble an X-sort), then sorts the
// lines by Y so the result follows reading order.
func extractPageTextOrdered(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	const lineTolerance = 3.0

	type visualLine struct {
		y   float64
		buf strings.Builder
	}

	var lines []*visualLine
	var cur *visualLine

	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &visualLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.buf.WriteString(t.S)
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].y > lines[j].y
	})

	var parts []string
	for _, l := range lines {
		if text := strings.TrimSpace(l.buf.String()); text != "" {
			parts = append(parts, text)
		}
	}

	result := strings.Join(parts, "\n")
	if strings.TrimSpace(result) == "" {
		return page.GetPlainText(nil)
	}
	return result, nil
}

// splitPageIntoSections breaks page text into pdfSections, forcing a
// caption or footnote classification when a line itself carries one of
// those markers, and otherwise grouping lines under the nearest preceding
// heading.
func splitPageIntoSections(text string, pageNum int) []pdfSection {
	lines := strings.Split(text, "\n")
	var sections []pdfSection
	var currentContent strings.Builder
	var currentHeading string
	currentLevel := 0

	flushCurrent := func() {
		if currentContent.Len() > 0 || currentHeading != "" {
			sections = append(sections, pdfSection{
				Heading:    currentHeading,
				Content:    strings.TrimSpace(currentContent.String()),
				Level:      currentLevel,
				PageNumber: pageNum,
			})
			currentContent.Reset()
			currentHeading = ""
			currentLevel = 0
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			continue
		}

		switch {
		case isCaptionMarker(trimmed):
			flushCurrent()
			sections = append(sections, pdfSection{Content: trimmed, PageNumber: pageNum, Forced: BlockCaption})
		case isFootnoteMarker(trimmed):
			flushCurrent()
			sections = append(sections, pdfSection{Content: trimmed, PageNumber: pageNum, Forced: BlockFootnote})
		case isLikelyHeading(trimmed):
			flushCurrent()
			currentHeading = trimmed
			currentLevel = detectHeadingLevel(trimmed)
		default:
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			currentContent.WriteString(trimmed)
		}
	}
	flushCurrent()

	// Merge empty-content sections into the next section: when a parent
	// heading (e.g. "3.9.1 Model A") has no body because the next line is
	// a sub-heading, prepend the parent heading so the two stay co-located.
	for i := len(sections) - 2; i >= 0; i-- {
		if sections[i].Forced != "" || sections[i+1].Forced != "" {
			continue
		}
		if sections[i].Content == "" && sections[i].Heading != "" &&
			sections[i+1].Level > sections[i].Level {
			if sections[i+1].Heading != "" {
				sections[i+1].Heading = sections[i].Heading + " — " + sections[i+1].Heading
			} else {
				sections[i+1].Heading = sections[i].Heading
			}
			sections[i+1].Level = sections[i].Level
			sections = append(sections[:i], sections[i+1:]...)
		}
	}

	if len(sections) == 0 && strings.TrimSpace(text) != "" {
		sections = append(sections, pdfSection{Content: text, PageNumber: pageNum})
	}

	return sections
}

// isLikelyHeading flags all-caps short lines, numbered sections ("1.",
// "3.9.1"), and common English section-prefix words.
func isLikelyHeading(line string) bool {
	if len(line) < 100 && line == strings.ToUpper(line) && len(line) > 2 {
		return true
	}
	if len(line) >= 120 {
		return false
	}
	if line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:min(10, len(line))], ".") {
		return true
	}
	lower := strings.ToLower(line)
	for _, prefix := range []string{"section ", "article ", "chapter ", "part "} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// isCaptionMarker flags lines that open a table/figure caption, e.g.
// "Table 1: Revenue by region" or "Figure 2. Architecture diagram".
func isCaptionMarker(line string) bool {
	if len(line) >= 160 {
		return false
	}
	lower := strings.ToLower(line)
	for _, prefix := range []string{"table ", "figure ", "exhibit ", "chart "} {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		rest := lower[len(prefix):]
		if rest != "" && rest[0] >= '0' && rest[0] <= '9' {
			return true
		}
	}
	return false
}

// isFootnoteMarker flags short trailing lines that annotate the segment
// above them rather than continuing it: "Note: ...", "Source: ...", and
// lines opening with a footnote glyph.
func isFootnoteMarker(line string) bool {
	if len(line) >= 300 {
		return false
	}
	if strings.HasPrefix(line, "*") || strings.HasPrefix(line, "†") {
		return true
	}
	lower := strings.ToLower(line)
	for _, prefix := range []string{"note:", "notes:", "source:", "sources:", "footnote:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func detectHeadingLevel(heading string) int {
	parts := strings.SplitN(heading, " ", 2)
	if len(parts) > 0 {
		if dots := strings.Count(parts[0], "."); dots > 0 {
			return dots
		}
	}
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}

// classifyBlock maps a pdfSection to the page-block vocabulary. Forced
// sections (captions, footnotes) pass straight through; everything else is
// a table when its heading says so or its body looks grid-like, a title
// when it carries a real heading, otherwise body text.
func classifyBlock(s pdfSection) BlockType {
	if s.Forced != "" {
		return s.Forced
	}
	headingLower := strings.ToLower(s.Heading)
	if strings.Contains(headingLower, "table") {
		return BlockTable
	}
	if strings.Count(s.Content, "\t") > 3 || strings.Count(s.Content, "|") > 3 {
		return BlockTable
	}
	if s.Level > 0 && s.Heading != "" {
		return BlockTitle
	}
	return BlockText
}

// blockContent renders the heading (if any) ahead of the body, mirroring
// how the merge stage expects title blocks to carry their own text.
func blockContent(s pdfSection) string {
	if s.Heading != "" && s.Content == "" {
		return s.Heading
	}
	if s.Heading != "" {
		return s.Heading + "\n" + s.Content
	}
	return s.Content
}

// fixRunningHeaders detects headers/footers repeated across many pages
// (e.g. a document title printed on every page) and replaces them with the
// last real heading, so a section that spans a page boundary doesn't get
// reassigned to the generic running header.
func fixRunningHeaders(sections []pdfSection, totalPages int) []pdfSection {
	if len(sections) == 0 || totalPages == 0 {
		return sections
	}

	headingPages := make(map[string]map[int]bool)
	for _, s := range sections {
		h := normalizeHeading(s.Heading)
		if h == "" {
			continue
		}
		if headingPages[h] == nil {
			headingPages[h] = make(map[int]bool)
		}
		headingPages[h][s.PageNumber] = true
	}

	threshold := max(3, totalPages/4)
	runningHeaders := make(map[string]bool)
	for h, pages := range headingPages {
		if len(pages) >= threshold {
			runningHeaders[h] = true
		}
	}
	if len(runningHeaders) == 0 {
		return sections
	}

	var lastRealHeading string
	var lastRealLevel int
	for i := range sections {
		h := normalizeHeading(sections[i].Heading)
		if runningHeaders[h] {
			if lastRealHeading != "" {
				sections[i].Heading = lastRealHeading
				sections[i].Level = lastRealLevel
			}
		} else if sections[i].Heading != "" {
			lastRealHeading = sections[i].Heading
			lastRealLevel = sections[i].Level
		}
	}
	return sections
}

// normalizeHeading strips trailing whitespace and non-printable artifacts
// PDF extraction sometimes leaves behind, so the same heading text matches
// across pages.
func normalizeHeading(h string) string {
	h = strings.TrimSpace(h)
	for len(h) > 0 {
		r := rune(h[len(h)-1])
		if r > 127 || r == '�' {
			h = h[:len(h)-1]
			h = strings.TrimSpace(h)
		} else {
			break
		}
	}
	return h
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
