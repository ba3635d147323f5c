package pubfiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) (*Service, string) {
	t.Helper()
	t.Setenv("TEST_PUB_SECRET", "hunter2")
	sessions := t.TempDir()
	return New("TEST_PUB_SECRET", sessions), sessions
}

func writePub(t *testing.T, sessions, session, name, content string) {
	t.Helper()
	dir := filepath.Join(sessions, session, "pub")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestMintVerify(t *testing.T) {
	svc, _ := testService(t)

	token, err := svc.Mint("s1", "report.txt")
	require.NoError(t, err)
	assert.Len(t, token, 64)

	assert.True(t, svc.Verify(token, "s1", "report.txt"))
	assert.False(t, svc.Verify(token, "s2", "report.txt"))
	assert.False(t, svc.Verify(token, "s1", "other.txt"))
	assert.False(t, svc.Verify("deadbeef", "s1", "report.txt"))
}

func TestMint_NoSecret(t *testing.T) {
	t.Setenv("TEST_PUB_SECRET", "")
	svc := New("TEST_PUB_SECRET", t.TempDir())
	_, err := svc.Mint("s1", "f")
	require.ErrorIs(t, err, ErrNoSecret)
}

func TestResolve(t *testing.T) {
	svc, sessions := testService(t)
	writePub(t, sessions, "s1", "report.txt", "data")

	token, err := svc.Mint("s1", "report.txt")
	require.NoError(t, err)

	path, ok := svc.Resolve(token, "report.txt")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(sessions, "s1", "pub", "report.txt"), path)

	// Wrong token, missing file, and traversal all 404.
	_, ok = svc.Resolve("deadbeef", "report.txt")
	assert.False(t, ok)
	token2, _ := svc.Mint("s1", "missing.txt")
	_, ok = svc.Resolve(token2, "missing.txt")
	assert.False(t, ok)
	_, ok = svc.Resolve(token, "../report.txt")
	assert.False(t, ok)
	_, ok = svc.Resolve(token, ".hidden")
	assert.False(t, ok)
}

func TestSnapshotNewSince(t *testing.T) {
	svc, sessions := testService(t)
	_ = svc
	writePub(t, sessions, "s1", "old.txt", "x")
	workspace := filepath.Join(sessions, "s1")

	before := Snapshot(workspace)
	writePub(t, sessions, "s1", "new-b.txt", "y")
	writePub(t, sessions, "s1", "new-a.txt", "z")

	assert.Equal(t, []string{"new-a.txt", "new-b.txt"}, NewSince(workspace, before))
	assert.Empty(t, NewSince(workspace, Snapshot(workspace)))
}
