// Package store is the Metadata Store Adapter: the durable source of truth
// for documents, segments, pages, permissions, chat sessions and messages.
// It is backed by MySQL (database/sql + github.com/go-sql-driver/mysql),
// generalizing the teacher's embedded-SQLite store to an external backend.
package store

import "time"

// Status is a document's position in the ingestion state machine (§4.6).
type Status string

const (
	StatusPending       Status = "pending"
	StatusConverting    Status = "converting"
	StatusParsing       Status = "parsing"
	StatusParsed        Status = "parsed"
	StatusMerging       Status = "merging"
	StatusMerged        Status = "merged"
	StatusChunking      Status = "chunking"
	StatusChunked       Status = "chunked"
	StatusVectorizing   Status = "vectorizing"
	StatusSplited       Status = "splited"
	StatusConvertFailed Status = "convert_failed"
	StatusParseFailed   Status = "parse_failed"
	StatusMergeFailed   Status = "merge_failed"
	StatusChunkFailed   Status = "chunk_failed"
	StatusSplitFailed   Status = "split_failed"
)

// Terminal reports whether status has no further automatic transitions
// (only an explicit restart moves it forward again).
func (s Status) Terminal() bool {
	switch s {
	case StatusSplited, StatusConvertFailed, StatusParseFailed, StatusMergeFailed, StatusChunkFailed, StatusSplitFailed:
		return true
	}
	return false
}

// Failed reports whether status is one of the *_failed states.
func (s Status) Failed() bool {
	switch s {
	case StatusConvertFailed, StatusParseFailed, StatusMergeFailed, StatusChunkFailed, StatusSplitFailed:
		return true
	}
	return false
}

// SegType is the structural kind of a segment.
type SegType string

const (
	SegText        SegType = "text"
	SegTable       SegType = "table"
	SegImage       SegType = "image"
	SegPageSummary SegType = "page_summary"
)

// Indexable reports whether segments of this type get a vector + lexical
// record (images are not dense/lexically indexed directly — their caption
// marker segment content is indexable, see chunker rules, so in practice
// all four types are indexable; kept as a named predicate because the
// spec calls it out as a distinct concept in §3).
func (t SegType) Indexable() bool {
	switch t {
	case SegText, SegTable, SegPageSummary, SegImage:
		return true
	}
	return false
}

// MessageType distinguishes human and AI chat turns.
type MessageType string

const (
	MessageHuman MessageType = "human"
	MessageAI    MessageType = "ai"
)

// Document mirrors the doc_info table.
type Document struct {
	DocID           string
	DisplayName     string
	Extension       string
	OriginalPath    string
	OutputDir       string
	PDFPath         string
	JSONPath        string
	SpansPath       string
	LayoutPath      string
	ImagesPath      string
	MergedPath      string
	ProcessStatus   Status
	ErrorMessage    string
	PageCount       int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Segment mirrors the segment_info table.
type Segment struct {
	SegID        string
	DocID        string
	SegContent   string
	SegImagePath string
	SegCaption   string
	SegFootnote  string
	SegLen       int
	SegType      SegType
	SegPageIdx   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Page mirrors doc_page_info.
type Page struct {
	DocID     string
	PageIdx   int
	ImagePath string
}

// Permission mirrors permission_doc_link. An empty SubjectID means
// "unrestricted".
type Permission struct {
	PermissionType string
	SubjectID      string
	DocID          string
}

// ChatMessage mirrors chat_messages.
type ChatMessage struct {
	ID          int64
	SessionID   string
	MessageType MessageType
	Content     string
	Metadata    string // JSON blob, validated by the rag package on write
	CreatedAt   time.Time
}
