// Package chunker is component I: turns ordered per-page blocks into
// ordered, deterministically-identified segments (§4.9). Grounded on the
// teacher's chunker/chunker.go sentence-safe splitting and soft-limit
// merge loop, generalized from its token-budget model to the spec's
// character-budget model, and its contentHash/ID pattern generalized
// into the spec's {doc_id}-{page}-{ordinal}-{type} seg_id scheme.
package chunker

import (
	"fmt"
	"strings"

	"github.com/brunobiangulo/kbrag/docparse"
	"github.com/brunobiangulo/kbrag/store"
)

// Config controls chunking behaviour (§4.9, spec default soft limit 800
// chars; page summaries are an Open Question resolved to opt-in, see
// DESIGN.md).
type Config struct {
	SoftLimitChars     int
	PageSummaryEnabled bool
	PageSummaryChars   int
}

func defaultConfig(cfg Config) Config {
	if cfg.SoftLimitChars <= 0 {
		cfg.SoftLimitChars = 800
	}
	if cfg.PageSummaryChars <= 0 {
		cfg.PageSummaryChars = 240
	}
	return cfg
}

// Chunker converts docparse.Block streams into store.Segment rows.
type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	return &Chunker{cfg: defaultConfig(cfg)}
}

// pageState accumulates the in-progress text buffer and proximity
// bookkeeping for one page.
type pageState struct {
	page           int
	ordinal        int
	textBuf        strings.Builder
	textBufLen     int
	lastTitle      string
	pendingCap     string // caption block awaiting attachment to the next table/image
	lastAttachable int    // index into segments of the last table/image awaiting a trailing footnote, -1 if none
	segments       []store.Segment
	textBlocksBuf  []string // for the optional page summary
}

// Chunk groups blocks by page (input is expected in reading order,
// already page-grouped by the Merge stage) and produces segments.
func (c *Chunker) Chunk(docID string, blocks []docparse.Block) []store.Segment {
	var all []store.Segment
	var cur *pageState

	flush := func() {
		if cur == nil {
			return
		}
		cur.flushText(docID, c.cfg.SoftLimitChars)
		if c.cfg.PageSummaryEnabled && len(cur.textBlocksBuf) > 0 {
			cur.emitPageSummary(docID, c.cfg.PageSummaryChars)
		}
		all = append(all, cur.segments...)
	}

	for _, b := range blocks {
		if cur == nil || b.Page != cur.page {
			flush()
			cur = &pageState{page: b.Page, lastAttachable: -1}
		}
		switch b.Type {
		case docparse.BlockTitle:
			cur.flushText(docID, c.cfg.SoftLimitChars)
			cur.lastTitle = b.Content
		case docparse.BlockCaption:
			cur.pendingCap = b.Content
		case docparse.BlockFootnote:
			cur.attachFootnote(b.Content)
		case docparse.BlockTable:
			cur.flushText(docID, c.cfg.SoftLimitChars)
			cur.emitTable(docID, b.Content)
		case docparse.BlockImage:
			cur.flushText(docID, c.cfg.SoftLimitChars)
			cur.emitImage(docID, b)
		default: // text
			cur.appendText(b.Content)
		}
	}
	flush()
	return all
}

func (p *pageState) nextSegID(docID, segType string) string {
	p.ordinal++
	return fmt.Sprintf("%s-%d-%d-%s", docID, p.page, p.ordinal, segType)
}

func (p *pageState) appendText(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	p.textBlocksBuf = append(p.textBlocksBuf, content)
	if p.textBufLen > 0 {
		p.textBuf.WriteString("\n\n")
	}
	p.textBuf.WriteString(content)
	p.textBufLen += len(content)
}

// flushText splits the accumulated text buffer into soft-limit-bounded,
// sentence-safe segments and resets the buffer.
func (p *pageState) flushText(docID string, softLimit int) {
	if p.textBufLen == 0 {
		return
	}
	text := p.textBuf.String()
	p.textBuf.Reset()
	p.textBufLen = 0

	for _, frag := range splitByCharBudget(text, softLimit) {
		p.segments = append(p.segments, store.Segment{
			SegID:      p.nextSegID(docID, "text"),
			DocID:      docID,
			SegContent: frag,
			SegCaption: p.lastTitle,
			SegLen:     len(frag),
			SegType:    store.SegText,
			SegPageIdx: p.page,
		})
	}
}

func (p *pageState) emitTable(docID, html string) {
	p.segments = append(p.segments, store.Segment{
		SegID:      p.nextSegID(docID, "table"),
		DocID:      docID,
		SegContent: html,
		SegCaption: p.takeCaption(),
		SegLen:     len(html),
		SegType:    store.SegTable,
		SegPageIdx: p.page,
	})
	p.lastAttachable = len(p.segments) - 1
}

func (p *pageState) emitImage(docID string, b docparse.Block) {
	caption := p.takeCaption()
	marker := "[image]"
	if caption != "" {
		marker = "[image: " + caption + "]"
	}
	p.segments = append(p.segments, store.Segment{
		SegID:        p.nextSegID(docID, "image"),
		DocID:        docID,
		SegContent:   marker,
		SegImagePath: b.ImageRef,
		SegCaption:   caption,
		SegLen:       len(marker),
		SegType:      store.SegImage,
		SegPageIdx:   p.page,
	})
	p.lastAttachable = len(p.segments) - 1
}

// attachFootnote attaches a footnote block to the table/image segment it
// trails, per the "footnotes attach by below on same page" proximity rule
// — the mirror image of takeCaption's preceding-block rule.
func (p *pageState) attachFootnote(content string) {
	if p.lastAttachable < 0 {
		return
	}
	p.segments[p.lastAttachable].SegFootnote = content
	p.lastAttachable = -1
}

func (p *pageState) emitPageSummary(docID string, maxChars int) {
	joined := strings.Join(p.textBlocksBuf, " ")
	summary := extractiveSummary(joined, maxChars)
	if summary == "" {
		return
	}
	p.segments = append(p.segments, store.Segment{
		SegID:      p.nextSegID(docID, "page_summary"),
		DocID:      docID,
		SegContent: summary,
		SegLen:     len(summary),
		SegType:    store.SegPageSummary,
		SegPageIdx: p.page,
	})
}

func (p *pageState) takeCaption() string {
	c := p.pendingCap
	p.pendingCap = ""
	return c
}

// extractiveSummary takes the leading sentences of text up to maxChars,
// never splitting mid-sentence.
func extractiveSummary(text string, maxChars int) string {
	sentences := splitSentences(text)
	var b strings.Builder
	for _, s := range sentences {
		if b.Len() > 0 && b.Len()+1+len(s) > maxChars {
			break
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(s)
	}
	if b.Len() == 0 && len(text) > 0 {
		if len(text) > maxChars {
			return text[:maxChars]
		}
		return text
	}
	return b.String()
}
