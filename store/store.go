package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/brunobiangulo/kbrag/kberrors"
)

// Store wraps the MySQL connection pool backing the Metadata Store
// Adapter. Generalized from the teacher's SQLite-backed Store (same
// constructor/inTx shape), re-targeted at an external MySQL instance per
// the spec's externalized-backend framing.
type Store struct {
	db *sql.DB
}

// Open connects to MySQL, applies the schema, and returns a ready Store.
func Open(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateDocument inserts a new document in state pending. Per §4.1: fails
// with Duplicate if an identical doc_id exists and is not in a failure
// state; the "re-upload while in flight" open question (§9) is resolved
// as Conflict for any existing non-terminal, non-failure row; otherwise
// the row (and its derived path columns) is overwritten.
func (s *Store) CreateDocument(ctx context.Context, doc Document) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var existing Status
		err := tx.QueryRowContext(ctx, "SELECT process_status FROM doc_info WHERE doc_id = ?", doc.DocID).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err := tx.ExecContext(ctx, `
				INSERT INTO doc_info (doc_id, display_name, extension, original_path, output_dir, process_status)
				VALUES (?, ?, ?, ?, ?, ?)`,
				doc.DocID, doc.DisplayName, doc.Extension, doc.OriginalPath, doc.OutputDir, StatusPending)
			return err
		case err != nil:
			return err
		case !existing.Terminal():
			return kberrors.ErrConflict
		case !existing.Failed():
			return kberrors.ErrDuplicate
		default:
			// Terminal failure (*_failed): re-upload restarts processing and
			// overwrites derived paths, per the restart semantics in §4.6.
			_, err := tx.ExecContext(ctx, `
				UPDATE doc_info SET display_name=?, extension=?, original_path=?, output_dir=?,
					pdf_path=NULL, json_path=NULL, spans_path=NULL, layout_path=NULL, images_path=NULL, merged_path=NULL,
					process_status=?, error_message=NULL, page_count=0
				WHERE doc_id=?`,
				doc.DisplayName, doc.Extension, doc.OriginalPath, doc.OutputDir, StatusPending, doc.DocID)
			return err
		}
	})
}

// allowedTransitions enumerates the §4.6 state machine. A restart (reset
// to pending) is legal from any non-pending state.
var allowedTransitions = map[Status][]Status{
	StatusPending:     {StatusConverting, StatusParsing}, // parsing directly if already-PDF, skipping convert
	StatusConverting:  {StatusParsing, StatusConvertFailed},
	StatusParsing:     {StatusParsed, StatusParseFailed},
	StatusParsed:      {StatusMerging},
	StatusMerging:     {StatusMerged, StatusMergeFailed},
	StatusMerged:      {StatusChunking},
	StatusChunking:    {StatusChunked, StatusChunkFailed},
	StatusChunked:     {StatusVectorizing},
	StatusVectorizing: {StatusSplited, StatusSplitFailed},
}

func transitionAllowed(from, to Status) bool {
	if to == StatusPending {
		return from != StatusPending // restart always legal except as a no-op from pending
	}
	if to == from {
		return true // reaffirming the current in-progress status, e.g. reconcile resuming a stage in place
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// UpdateStatus atomically transitions a document's process_status. See
// §4.1: rejects illegal transitions without modifying the row. A restart
// (new == StatusPending) also clears error_message.
func (s *Store) UpdateStatus(ctx context.Context, docID string, newStatus Status, errMsg string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var current Status
		if err := tx.QueryRowContext(ctx, "SELECT process_status FROM doc_info WHERE doc_id = ? FOR UPDATE", docID).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return kberrors.ErrNotFound
			}
			return err
		}
		if !transitionAllowed(current, newStatus) {
			return kberrors.Wrap(kberrors.ErrIllegalTransition, fmt.Errorf("%s -> %s", current, newStatus))
		}

		var res sql.Result
		var err error
		if newStatus == StatusPending {
			res, err = tx.ExecContext(ctx,
				"UPDATE doc_info SET process_status=?, error_message=NULL WHERE doc_id=?", newStatus, docID)
		} else if errMsg != "" {
			res, err = tx.ExecContext(ctx,
				"UPDATE doc_info SET process_status=?, error_message=? WHERE doc_id=?", newStatus, errMsg, docID)
		} else {
			res, err = tx.ExecContext(ctx,
				"UPDATE doc_info SET process_status=? WHERE doc_id=?", newStatus, docID)
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return kberrors.ErrNotFound
		}
		return nil
	})
}

// SetDerivedPaths records converter/parser output paths produced by a
// stage, without touching process_status.
func (s *Store) SetDerivedPaths(ctx context.Context, docID string, field, path string) error {
	col := map[string]string{
		"pdf": "pdf_path", "json": "json_path", "spans": "spans_path",
		"layout": "layout_path", "images": "images_path", "merged": "merged_path",
	}[field]
	if col == "" {
		return fmt.Errorf("store: unknown derived path field %q", field)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("UPDATE doc_info SET %s=? WHERE doc_id=?", col), path, docID)
	return err
}

func (s *Store) SetPageCount(ctx context.Context, docID string, count int) error {
	_, err := s.db.ExecContext(ctx, "UPDATE doc_info SET page_count=? WHERE doc_id=?", count, docID)
	return err
}

func (s *Store) GetDocument(ctx context.Context, docID string) (*Document, error) {
	d := &Document{}
	var pdfPath, jsonPath, spansPath, layoutPath, imagesPath, mergedPath, errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT doc_id, display_name, extension, original_path, output_dir,
			pdf_path, json_path, spans_path, layout_path, images_path, merged_path,
			process_status, error_message, page_count, created_at, updated_at
		FROM doc_info WHERE doc_id=?`, docID).Scan(
		&d.DocID, &d.DisplayName, &d.Extension, &d.OriginalPath, &d.OutputDir,
		&pdfPath, &jsonPath, &spansPath, &layoutPath, &imagesPath, &mergedPath,
		&d.ProcessStatus, &errMsg, &d.PageCount, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kberrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.PDFPath, d.JSONPath, d.SpansPath = pdfPath.String, jsonPath.String, spansPath.String
	d.LayoutPath, d.ImagesPath, d.MergedPath = layoutPath.String, imagesPath.String, mergedPath.String
	d.ErrorMessage = errMsg.String
	return d, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, display_name, extension, original_path, output_dir, process_status,
			COALESCE(error_message,''), page_count, created_at, updated_at
		FROM doc_info ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.DocID, &d.DisplayName, &d.Extension, &d.OriginalPath, &d.OutputDir,
			&d.ProcessStatus, &d.ErrorMessage, &d.PageCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument hard-deletes a document; FK cascades remove segment_info,
// doc_page_info, and permission_doc_link rows.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM doc_info WHERE doc_id=?", docID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return kberrors.ErrNotFound
	}
	return nil
}

// InsertPages replaces the doc_page_info rows for a document (merge stage).
func (s *Store) InsertPages(ctx context.Context, docID string, pages []Page) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM doc_page_info WHERE doc_id=?", docID); err != nil {
			return err
		}
		for _, p := range pages {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO doc_page_info (doc_id, page_idx, image_path) VALUES (?, ?, ?)",
				docID, p.PageIdx, p.ImagePath); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertSegmentsBulk inserts all segments for a document in one
// transaction. Per §4.1: all-or-nothing; duplicate seg_id fails the whole
// batch with Duplicate.
func (s *Store) InsertSegmentsBulk(ctx context.Context, docID string, segments []Segment) error {
	if len(segments) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, seg := range segments {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO segment_info (seg_id, doc_id, seg_content, seg_image_path, seg_caption, seg_footnote, seg_len, seg_type, seg_page_idx)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				seg.SegID, docID, seg.SegContent, nullableString(seg.SegImagePath), nullableString(seg.SegCaption),
				nullableString(seg.SegFootnote), seg.SegLen, string(seg.SegType), seg.SegPageIdx)
			if err != nil {
				if isDuplicateKeyErr(err) {
					return kberrors.Wrap(kberrors.ErrDuplicate, err)
				}
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetSegmentsByDocument(ctx context.Context, docID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seg_id, doc_id, seg_content, COALESCE(seg_image_path,''), COALESCE(seg_caption,''),
			COALESCE(seg_footnote,''), seg_len, seg_type, seg_page_idx, created_at, updated_at
		FROM segment_info WHERE doc_id=? ORDER BY seg_page_idx, seg_id`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segs []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.SegID, &seg.DocID, &seg.SegContent, &seg.SegImagePath, &seg.SegCaption,
			&seg.SegFootnote, &seg.SegLen, &seg.SegType, &seg.SegPageIdx, &seg.CreatedAt, &seg.UpdatedAt); err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// GetSegmentsByIDs hydrates full segment content for retrieval (§4.7 step
// 4). seg_ids absent from the store (race with delete) are silently
// dropped from the returned slice.
func (s *Store) GetSegmentsByIDs(ctx context.Context, segIDs []string) ([]Segment, error) {
	if len(segIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(segIDs)), ",")
	args := make([]interface{}, len(segIDs))
	for i, id := range segIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT seg_id, doc_id, seg_content, COALESCE(seg_image_path,''), COALESCE(seg_caption,''),
			COALESCE(seg_footnote,''), seg_len, seg_type, seg_page_idx, created_at, updated_at
		FROM segment_info WHERE seg_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segs []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.SegID, &seg.DocID, &seg.SegContent, &seg.SegImagePath, &seg.SegCaption,
			&seg.SegFootnote, &seg.SegLen, &seg.SegType, &seg.SegPageIdx, &seg.CreatedAt, &seg.UpdatedAt); err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// SetPermissions replaces the permission_doc_link rows for a document. An
// empty subjectID means unrestricted (§3).
func (s *Store) SetPermissions(ctx context.Context, docID string, perms []Permission) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM permission_doc_link WHERE doc_id=?", docID); err != nil {
			return err
		}
		for _, p := range perms {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO permission_doc_link (permission_type, subject_id, doc_id) VALUES (?, ?, ?)",
				p.PermissionType, p.SubjectID, docID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListPermissions(ctx context.Context, docID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT permission_type, subject_id, doc_id FROM permission_doc_link WHERE doc_id=?", docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.PermissionType, &p.SubjectID, &p.DocID); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// AuthorizedDocIDs returns every doc_id the subject can read: documents
// with an explicit row for subjectID, plus every document with an
// "unrestricted" (empty subject_id) row.
func (s *Store) AuthorizedDocIDs(ctx context.Context, subjectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT doc_id FROM permission_doc_link WHERE subject_id = ? OR subject_id = ''", subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) EnsureSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "INSERT IGNORE INTO chat_sessions (session_id) VALUES (?)", sessionID)
	return err
}

// AppendMessage appends one chat turn under the caller's responsibility to
// serialize per-session writes (§5: per-session mutex upstream in the rag
// package). created_at is set from the DB clock so strict total ordering
// by (created_at, id) matches insertion order even under concurrent writers
// from different sessions.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msgType MessageType, content, metadataJSON string) (*ChatMessage, error) {
	if err := s.EnsureSession(ctx, sessionID); err != nil {
		return nil, err
	}
	var metaArg interface{}
	if metadataJSON == "" {
		metaArg = nil
	} else {
		metaArg = metadataJSON
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_messages (session_id, message_type, content, metadata) VALUES (?, ?, ?, ?)",
		sessionID, string(msgType), content, metaArg)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &ChatMessage{ID: id, SessionID: sessionID, MessageType: msgType, Content: content, Metadata: metadataJSON, CreatedAt: time.Now()}, nil
}

// LoadRecentMessages reads a session's messages newest-first and keeps
// them until the cumulative character count would exceed maxChars (the
// newest message is always kept), per §4.1. The kept messages are
// returned oldest-first for direct use in prompt assembly, so the budget
// trims from the oldest end.
func (s *Store) LoadRecentMessages(ctx context.Context, sessionID string, maxChars int) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, message_type, content, COALESCE(metadata,''), created_at
		FROM chat_messages WHERE session_id=? ORDER BY created_at DESC, id DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var newestFirst []ChatMessage
	total := 0
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.MessageType, &m.Content, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		if total > 0 && total+len(m.Content) > maxChars {
			break
		}
		total += len(m.Content)
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first for prompt assembly.
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isDuplicateKeyErr(err error) bool {
	// github.com/go-sql-driver/mysql reports duplicate primary/unique key
	// violations as error 1062; avoid importing the driver's error type
	// just to check a code by matching on its stable message substring,
	// the same pragmatic approach the teacher uses for sqlite3 error text.
	return err != nil && strings.Contains(err.Error(), "Error 1062")
}
