package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionAllowed(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConverting, true},
		{StatusPending, StatusParsing, true}, // already-PDF skips convert
		{StatusPending, StatusChunked, false},
		{StatusConverting, StatusParsing, true},
		{StatusConverting, StatusConvertFailed, true},
		{StatusConverting, StatusSplited, false},
		{StatusVectorizing, StatusSplited, true},
		{StatusVectorizing, StatusSplitFailed, true},
		{StatusSplited, StatusPending, true}, // explicit restart always legal
		{StatusSplitFailed, StatusPending, true},
		{StatusSplited, StatusConverting, false},
		{StatusVectorizing, StatusVectorizing, true}, // reaffirming in place, e.g. reconcile resume
		{StatusMerging, StatusMerging, true},
	}
	for _, c := range cases {
		got := transitionAllowed(c.from, c.to)
		assert.Equalf(t, c.want, got, "transition %s -> %s", c.from, c.to)
	}
}

func TestStatusTerminalAndFailed(t *testing.T) {
	assert.True(t, StatusSplited.Terminal())
	assert.True(t, StatusParseFailed.Terminal())
	assert.True(t, StatusParseFailed.Failed())
	assert.False(t, StatusSplited.Failed())
	assert.False(t, StatusParsing.Terminal())
}

// newTestStore connects to a real MySQL instance for CRUD-level
// integration coverage. Skipped unless KBRAG_TEST_MYSQL_DSN is set, the
// same opt-in pattern used for backend-dependent tests across the
// example pack (these tests exercise a live MySQL server, not a
// process-local embeddable database like the teacher's SQLite store).
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("KBRAG_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("KBRAG_TEST_MYSQL_DSN not set; skipping MySQL-backed store test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn, 5, 2, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateDocumentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	docID := "test-doc-1"
	t.Cleanup(func() { s.DeleteDocument(ctx, docID) })

	require.NoError(t, s.CreateDocument(ctx, Document{DocID: docID, DisplayName: "a.pdf", Extension: "pdf", OriginalPath: "/tmp/a.pdf", OutputDir: "/tmp/out"}))

	// Duplicate create while pending is a conflict, not a duplicate error.
	err := s.CreateDocument(ctx, Document{DocID: docID, DisplayName: "a.pdf", Extension: "pdf", OriginalPath: "/tmp/a.pdf", OutputDir: "/tmp/out"})
	require.Error(t, err)

	require.NoError(t, s.UpdateStatus(ctx, docID, StatusConverting, ""))
	require.NoError(t, s.UpdateStatus(ctx, docID, StatusParsing, ""))

	// Illegal: parsing can't jump straight to splited.
	err = s.UpdateStatus(ctx, docID, StatusSplited, "")
	require.Error(t, err)

	doc, err := s.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, StatusParsing, doc.ProcessStatus)
}

func TestAuthorizedDocIDsUnrestricted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	docID := "test-doc-perm"
	t.Cleanup(func() { s.DeleteDocument(ctx, docID) })

	require.NoError(t, s.CreateDocument(ctx, Document{DocID: docID, DisplayName: "b.pdf", Extension: "pdf", OriginalPath: "/tmp/b.pdf", OutputDir: "/tmp/out"}))
	require.NoError(t, s.SetPermissions(ctx, docID, []Permission{{PermissionType: "read", SubjectID: "", DocID: docID}}))

	ids, err := s.AuthorizedDocIDs(ctx, "anyone")
	require.NoError(t, err)
	assert.Contains(t, ids, docID)
}
