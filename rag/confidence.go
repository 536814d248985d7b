package rag

import (
	"regexp"
	"strings"

	"github.com/brunobiangulo/kbrag/retrieval"
)

// confidence adapts the teacher's reasoning.ComputeConfidence heuristic
// (source coverage + citation matching + consistency + length) into a
// single score used here only as the exclude-from-history signal, not a
// refine/retry trigger — this package does one generation pass.
func confidence(answer string, results []retrieval.Result) float64 {
	sc := sourceCoverageScore(answer, results)
	ca := citationAccuracyScore(answer, results)
	si := selfConsistencyScore(answer)
	al := answerLengthScore(answer)

	score := sc*0.3 + ca*0.3 + si*0.25 + al*0.15
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func sourceCoverageScore(answer string, results []retrieval.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	lower := strings.ToLower(answer)
	checkCount := len(results)
	if checkCount > 5 {
		checkCount = 5
	}
	referenced := 0
	for _, r := range results[:checkCount] {
		if r.DocID != "" && strings.Contains(lower, strings.ToLower(r.DocID)) {
			referenced++
			continue
		}
		words := strings.Fields(r.Content)
		if len(words) > 5 {
			phrase := strings.Join(words[:5], " ")
			if strings.Contains(lower, strings.ToLower(phrase)) {
				referenced++
			}
		}
	}
	return float64(referenced) / float64(checkCount)
}

// citationTagPattern matches the "[doc_id, p.N]" tags assembleContext
// writes into the model's context, the same shape the system prompt
// asks the model to cite with.
var citationTagPattern = regexp.MustCompile(`\[([^,\]]+),\s*p\.(\d+)\]`)

func citationAccuracyScore(answer string, results []retrieval.Result) float64 {
	matches := citationTagPattern.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return 0.5 // neutral: no citation markers attempted
	}
	known := make(map[string]bool, len(results))
	for _, r := range results {
		known[r.DocID] = true
	}
	verified := 0
	for _, m := range matches {
		if known[strings.TrimSpace(m[1])] {
			verified++
		}
	}
	return float64(verified) / float64(len(matches))
}

func selfConsistencyScore(answer string) float64 {
	lower := strings.ToLower(answer)
	score := 1.0
	for _, c := range []string{"on the other hand", "however, it also", "contradicts", "inconsistent"} {
		if strings.Contains(lower, c) {
			score -= 0.15
		}
	}
	for _, u := range []string{"i'm not sure", "it's unclear", "cannot determine", "insufficient information", "not enough context"} {
		if strings.Contains(lower, u) {
			score -= 0.2
		}
	}
	// Phrases that indicate the model reached past the provided context
	// into its own training knowledge, which the system prompt forbids.
	for _, u := range []string{"based on my knowledge", "in general,", "it is commonly known", "as an ai"} {
		if strings.Contains(lower, u) {
			score -= 0.25
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

func answerLengthScore(answer string) float64 {
	words := len(strings.Fields(answer))
	switch {
	case words < 10:
		return 0.2
	case words < 30:
		return 0.5
	case words < 100:
		return 0.8
	case words < 500:
		return 1.0
	default:
		return 0.9
	}
}
