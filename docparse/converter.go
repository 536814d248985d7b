package docparse

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// LibreOfficeConverter is the reference Converter: a pass-through for
// PDF input, and a "libreoffice --headless --convert-to pdf" shellout
// for Office formats, the conversion path the teacher's parser registry
// comments (registry.go's LlamaParse fallback framing) describe as the
// expected route for non-native formats before structural extraction.
type LibreOfficeConverter struct {
	outputDir string
	binary    string
}

func NewLibreOfficeConverter(outputDir, binary string) *LibreOfficeConverter {
	if binary == "" {
		binary = "libreoffice"
	}
	return &LibreOfficeConverter{outputDir: outputDir, binary: binary}
}

func (c *LibreOfficeConverter) ConvertToPDF(ctx context.Context, sourcePath string) (string, error) {
	if strings.EqualFold(filepath.Ext(sourcePath), ".pdf") {
		return sourcePath, nil
	}

	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("docparse: creating converter output dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.binary,
		"--headless", "--convert-to", "pdf", "--outdir", c.outputDir, sourcePath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docparse: libreoffice convert %s: %w (%s)", sourcePath, err, string(out))
	}

	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	pdfPath := filepath.Join(c.outputDir, base+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("docparse: expected converted pdf not found at %s: %w", pdfPath, err)
	}
	return pdfPath, nil
}
