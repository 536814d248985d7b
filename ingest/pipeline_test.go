package ingest

import (
	"testing"

	"github.com/brunobiangulo/kbrag/store"
	"github.com/stretchr/testify/require"
)

func TestPermissionsForUnrestrictedWhenNoSubjects(t *testing.T) {
	perms := permissionsFor("doc1", nil)
	require.Len(t, perms, 1)
	require.Equal(t, "", perms[0].SubjectID)
	require.Equal(t, "doc1", perms[0].DocID)
}

func TestPermissionsForOneRowPerSubject(t *testing.T) {
	perms := permissionsFor("doc1", []string{"dept-a", "dept-b"})
	require.Len(t, perms, 2)
	require.Equal(t, "dept-a", perms[0].SubjectID)
	require.Equal(t, "dept-b", perms[1].SubjectID)
	for _, p := range perms {
		require.Equal(t, "doc1", p.DocID)
		require.Equal(t, "read", p.PermissionType)
	}
}

func TestNewAppliesDefaultConcurrency(t *testing.T) {
	p := New(Deps{})
	require.Equal(t, 4, cap(p.parseSem))
	require.Equal(t, 4, cap(p.vectorizeSem))
}

func TestNewRespectsExplicitConcurrency(t *testing.T) {
	p := New(Deps{ParseConcurrency: 2, VectorizeConcurrency: 7})
	require.Equal(t, 2, cap(p.parseSem))
	require.Equal(t, 7, cap(p.vectorizeSem))
}

func TestResumeStageForPicksNearestRecoverablePoint(t *testing.T) {
	cases := []struct {
		status store.Status
		want   resumePoint
	}{
		{store.StatusPending, resumeFromConvert},
		{store.StatusConverting, resumeFromConvert},
		{store.StatusParsing, resumeFromParse},
		{store.StatusMerging, resumeFromParse},
		{store.StatusChunking, resumeFromParse},
		{store.StatusVectorizing, resumeFromVectorize},
	}
	for _, tc := range cases {
		require.Equalf(t, tc.want, resumeStageFor(tc.status), "status %s", tc.status)
	}
}
