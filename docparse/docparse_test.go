package docparse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLibreOfficeConverterPassthroughForPDF(t *testing.T) {
	c := NewLibreOfficeConverter(t.TempDir(), "")
	path, err := c.ConvertToPDF(context.Background(), "/some/doc.PDF")
	require.NoError(t, err)
	require.Equal(t, "/some/doc.PDF", path)
}

func TestClassifyBlock(t *testing.T) {
	cases := []struct {
		name string
		s    pdfSection
		want BlockType
	}{
		{"forced caption wins", pdfSection{Forced: BlockCaption, Heading: "Introduction", Level: 1}, BlockCaption},
		{"forced footnote wins", pdfSection{Forced: BlockFootnote}, BlockFootnote},
		{"heading names a table", pdfSection{Heading: "Table of contents"}, BlockTable},
		{"grid-like content", pdfSection{Content: "a\tb\tc\td\t"}, BlockTable},
		{"real heading is a title", pdfSection{Level: 1, Heading: "Introduction"}, BlockTitle},
		{"plain paragraph is text", pdfSection{Content: "just some prose."}, BlockText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, classifyBlock(tc.s))
		})
	}
}

func TestExtForMapsKnownMimeTypes(t *testing.T) {
	require.Equal(t, "png", extFor("image/png"))
	require.Equal(t, "jpg", extFor("image/jpeg"))
	require.Equal(t, "bin", extFor("image/unknown"))
}

func TestNewRoutingExtractorDisablesFallbackWithoutAPIKey(t *testing.T) {
	r := NewRoutingExtractor(t.TempDir(), "", "")
	require.Nil(t, r.llamaParse)
	require.NotNil(t, r.native)
}

func TestNewRoutingExtractorEnablesFallbackWithAPIKey(t *testing.T) {
	r := NewRoutingExtractor(t.TempDir(), "test-key", "")
	require.NotNil(t, r.llamaParse)
}
