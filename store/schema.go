package store

// schemaSQL is the DDL for all six metadata tables. Generalized from the
// teacher's schemaSQL(embeddingDim) (store/schema.go), which emitted a
// single-file SQLite schema including vec0/FTS5 virtual tables; those
// virtual tables have no home here because vectors and lexical text now
// live in the Vector Store Adapter and Lexical Store Adapter respectively,
// not in the Metadata Store. Knowledge-graph tables (entities,
// relationships, communities) are likewise dropped — see DESIGN.md.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS doc_info (
    doc_id VARCHAR(64) PRIMARY KEY,
    display_name VARCHAR(512) NOT NULL,
    extension VARCHAR(16) NOT NULL,
    original_path TEXT NOT NULL,
    output_dir TEXT NOT NULL,
    pdf_path TEXT,
    json_path TEXT,
    spans_path TEXT,
    layout_path TEXT,
    images_path TEXT,
    merged_path TEXT,
    process_status VARCHAR(32) NOT NULL DEFAULT 'pending',
    error_message TEXT,
    page_count INT NOT NULL DEFAULT 0,
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
    INDEX idx_doc_info_status (process_status)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS segment_info (
    seg_id VARCHAR(128) PRIMARY KEY,
    doc_id VARCHAR(64) NOT NULL,
    seg_content LONGTEXT NOT NULL,
    seg_image_path TEXT,
    seg_caption TEXT,
    seg_footnote TEXT,
    seg_len INT NOT NULL,
    seg_type VARCHAR(16) NOT NULL,
    seg_page_idx INT NOT NULL,
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
    CONSTRAINT fk_segment_doc FOREIGN KEY (doc_id) REFERENCES doc_info(doc_id) ON DELETE CASCADE,
    INDEX idx_segment_doc (doc_id),
    INDEX idx_segment_type (seg_type)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS doc_page_info (
    doc_id VARCHAR(64) NOT NULL,
    page_idx INT NOT NULL,
    image_path TEXT,
    PRIMARY KEY (doc_id, page_idx),
    CONSTRAINT fk_page_doc FOREIGN KEY (doc_id) REFERENCES doc_info(doc_id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS permission_doc_link (
    permission_type VARCHAR(32) NOT NULL,
    subject_id VARCHAR(128) NOT NULL DEFAULT '',
    doc_id VARCHAR(64) NOT NULL,
    PRIMARY KEY (permission_type, subject_id, doc_id),
    CONSTRAINT fk_permission_doc FOREIGN KEY (doc_id) REFERENCES doc_info(doc_id) ON DELETE CASCADE,
    INDEX idx_permission_subject (subject_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS chat_sessions (
    session_id VARCHAR(64) PRIMARY KEY,
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS chat_messages (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    message_type VARCHAR(8) NOT NULL,
    content LONGTEXT NOT NULL,
    metadata JSON,
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    CONSTRAINT fk_message_session FOREIGN KEY (session_id) REFERENCES chat_sessions(session_id) ON DELETE CASCADE,
    INDEX idx_message_session_created (session_id, created_at, id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`
