package docparse

import "testing"

func TestAnalyzePageComplexityDetectsTablePipes(t *testing.T) {
	score := &complexityScore{}
	tableText := "| Col1 | Col2 | Col3 |\n| --- | --- | --- |\n| val1 | val2 | val3 |\n| a | b | c |\n| d | e | f |\n| g | h | i |"
	analyzePageComplexity(tableText, score)
	if !score.HasTables {
		t.Error("expected HasTables = true for pipe-delimited table text")
	}
}

func TestAnalyzePageComplexityDetectsTableTabs(t *testing.T) {
	score := &complexityScore{}
	tabText := "Col1\tCol2\tCol3\nval1\tval2\tval3\na\tb\tc\nd\te\tf\ng\th\ti\nj\tk\tl\n"
	analyzePageComplexity(tabText, score)
	if !score.HasTables {
		t.Error("expected HasTables = true for tab-delimited table text")
	}
}

func TestAnalyzePageComplexityDetectsDashSeparators(t *testing.T) {
	score := &complexityScore{}
	dashText := "Header Row\n--------------------\nData row 1\n--------------------\nData row 2\n--------------------\n"
	analyzePageComplexity(dashText, score)
	if !score.HasTables {
		t.Error("expected HasTables = true for text with dash separators")
	}
}

func TestAnalyzePageComplexityNoTable(t *testing.T) {
	score := &complexityScore{}
	analyzePageComplexity("This is a regular paragraph.\nIt has no table-like patterns.\nJust normal sentences.", score)
	if score.HasTables {
		t.Error("expected HasTables = false for plain paragraph text")
	}
}

func TestAnalyzePageComplexityDetectsMultiColumn(t *testing.T) {
	score := &complexityScore{}
	var multiColText string
	for i := 0; i < 5; i++ {
		multiColText += "Some left column text              Some right column text here\n"
	}
	analyzePageComplexity(multiColText, score)
	if !score.IsMultiCol {
		t.Error("expected IsMultiCol = true for multi-column formatted text")
	}
}

func TestAnalyzePageComplexityNotMultiColumn(t *testing.T) {
	score := &complexityScore{}
	analyzePageComplexity("This is a single-column paragraph.\nEach line flows normally.\nNo large gaps in the middle.", score)
	if score.IsMultiCol {
		t.Error("expected IsMultiCol = false for single-column text")
	}
}

func TestComplexityScoreIsComplexThreshold(t *testing.T) {
	tests := []struct {
		name     string
		score    complexityScore
		wantComp bool
	}{
		{"below_threshold", complexityScore{Score: 0.3}, false},
		{"at_threshold", complexityScore{Score: 0.4}, true},
		{"above_threshold", complexityScore{Score: 0.8}, true},
		{"zero", complexityScore{Score: 0.0}, false},
		{"max", complexityScore{Score: 1.0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.score.isComplex(); got != tt.wantComp {
				t.Errorf("isComplex() = %v, want %v", got, tt.wantComp)
			}
		})
	}
}

func TestComplexityScoreComposition(t *testing.T) {
	tests := []struct {
		name        string
		hasTables   bool
		isMultiCol  bool
		wantScore   float64
		wantComplex bool
	}{
		{"simple_text", false, false, 0.0, false},
		{"tables_only", true, false, 0.4, true},
		{"multicol_only", false, true, 0.4, true},
		{"tables_and_multicol", true, true, 0.8, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := &complexityScore{HasTables: tt.hasTables, IsMultiCol: tt.isMultiCol}
			s := 0.0
			if score.HasTables {
				s += 0.4
			}
			if score.IsMultiCol {
				s += 0.4
			}
			score.Score = s
			if score.Score != tt.wantScore {
				t.Errorf("Score = %f, want %f", score.Score, tt.wantScore)
			}
			if score.isComplex() != tt.wantComplex {
				t.Errorf("isComplex() = %v, want %v", score.isComplex(), tt.wantComplex)
			}
		})
	}
}

func TestAnalyzePageComplexityEmptyText(t *testing.T) {
	score := &complexityScore{}
	analyzePageComplexity("", score)
	if score.HasTables || score.IsMultiCol {
		t.Error("expected no complexity signals for empty text")
	}
}

func TestAnalyzePageComplexityAccumulatesAcrossPages(t *testing.T) {
	score := &complexityScore{}
	analyzePageComplexity("Normal text.", score)
	if score.HasTables {
		t.Error("HasTables should be false after first page")
	}
	tableText := "| A | B | C |\n| D | E | F |\n| G | H | I |\n| J | K | L |\n| M | N | O |\n| P | Q | R |"
	analyzePageComplexity(tableText, score)
	if !score.HasTables {
		t.Error("HasTables should be true after accumulating a table page")
	}
}
