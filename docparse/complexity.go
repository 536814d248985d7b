package docparse

import (
	"strings"

	"github.com/ledongthuc/pdf"
)

// complexityScore represents the structural complexity of a PDF,
// estimated from page text alone, before deciding whether the native
// extractor is trustworthy enough or the document should be routed to the
// remote LlamaParse fallback.
type complexityScore struct {
	HasTables   bool
	IsMultiCol  bool
	Score       float64 // 0.0 simple, 1.0 highly complex
}

// detectComplexity scores a PDF's layout complexity by scanning every
// page's plain text for grid-like and multi-column patterns.
func detectComplexity(path string) (*complexityScore, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	score := &complexityScore{}
	totalPages := reader.NumPage()

	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		analyzePageComplexity(text, score)
	}

	s := 0.0
	if score.HasTables {
		s += 0.4
	}
	if score.IsMultiCol {
		s += 0.4
	}
	score.Score = s

	return score, nil
}

// isComplex reports whether the document should be routed to the remote
// fallback instead of the native extractor.
func (cs *complexityScore) isComplex() bool {
	return cs.Score >= 0.4
}

func analyzePageComplexity(text string, score *complexityScore) {
	lines := strings.Split(text, "\n")

	tabCount, pipeCount, dashLineCount := 0, 0, 0
	for _, line := range lines {
		tabCount += strings.Count(line, "\t")
		pipeCount += strings.Count(line, "|")
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 3 && (strings.Count(trimmed, "-") > len(trimmed)/2 || strings.Count(trimmed, "_") > len(trimmed)/2) {
			dashLineCount++
		}
	}
	if tabCount > 5 || pipeCount > 5 || dashLineCount > 2 {
		score.HasTables = true
	}

	multiColIndicators := 0
	for _, line := range lines {
		if len(line) <= 40 || !strings.Contains(line, "    ") {
			continue
		}
		mid := len(line) / 2
		start, end := mid-10, mid+10
		if start < 0 {
			start = 0
		}
		if end > len(line) {
			end = len(line)
		}
		if strings.Count(line[start:end], " ") > 8 {
			multiColIndicators++
		}
	}
	if multiColIndicators > 3 {
		score.IsMultiCol = true
	}
}
