package chunkcache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chunks", "book"))
	require.NoError(t, err)
	return s
}

func TestDirFor(t *testing.T) {
	assert.Equal(t, filepath.Join("root", "odyssey"), DirFor("root", "/books/odyssey.txt"))
	assert.Equal(t, filepath.Join("root", "notes"), DirFor("root", "notes"))
}

func TestPutGetRead(t *testing.T) {
	s := openTemp(t)
	assert.Equal(t, filepath.Join(s.Dir(), "0007.md"), s.ChunkPath(7))

	_, ok, err := s.Get(1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(1, "chunk one[^1]\n\n[^1]: [TERM] one"))
	text, ok, err := s.Get(1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, text, "chunk one")

	require.NoError(t, s.Put(2, "  \n"))
	_, ok, err = s.Get(2)
	require.NoError(t, err)
	assert.False(t, ok, "blank checkpoints do not count")

	_, err = s.Read(3)
	var pathErr *PathError
	require.ErrorAs(t, err, &pathErr)
	assert.True(t, errors.Is(err, ErrMissing))
	assert.Equal(t, s.ChunkPath(3), pathErr.Path)
	assert.Contains(t, err.Error(), "0003.md")

	indexes, err := s.Indexes()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, indexes)
}

func TestWriteFailed(t *testing.T) {
	s := openTemp(t)
	path, err := s.WriteFailed(3, "s2a1", "source_mismatch:\nleading anchor", "  12 - old\n", "candidate text")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "failed", "0003_s2a1.md"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	assert.Equal(t, "# reason: source_mismatch: leading anchor", lines[0])
	assert.True(t, strings.HasSuffix(string(data), "candidate text"))

	dumps, err := s.FailedDumps()
	require.NoError(t, err)
	assert.Equal(t, []string{path}, dumps)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("body", 1800, "m")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("body", 1800, "m"))
	assert.NotEqual(t, a, Fingerprint("body", 1200, "m"))
	assert.NotEqual(t, a, Fingerprint("body", 1800, "other"))
	assert.NotEqual(t, a, Fingerprint("body!", 1800, "m"))
}

func TestPrepareResume(t *testing.T) {
	s := openTemp(t)
	m := Manifest{Fingerprint: Fingerprint("body", 1800, "m"), Model: "m", ChunkTokens: 1800, Chunks: 2}

	stale, err := s.Prepare(m, true)
	require.NoError(t, err)
	assert.False(t, stale)
	require.NoError(t, s.Put(1, "done"))
	require.NoError(t, os.WriteFile(s.VocabPath(), []byte(`["a"]`), 0o600))

	stale, err = s.Prepare(m, true)
	require.NoError(t, err)
	assert.False(t, stale)
	_, ok, _ := s.Get(1)
	assert.True(t, ok, "matching fingerprint keeps checkpoints")

	changed := m
	changed.Fingerprint = Fingerprint("edited body", 1800, "m")
	stale, err = s.Prepare(changed, true)
	require.NoError(t, err)
	assert.True(t, stale)
	_, ok, _ = s.Get(1)
	assert.False(t, ok)
	_, statErr := os.Stat(s.VocabPath())
	assert.True(t, os.IsNotExist(statErr))

	stored, err := s.ReadManifest()
	require.NoError(t, err)
	assert.Equal(t, changed.Fingerprint, stored.Fingerprint)
	assert.Equal(t, 1, stored.Version)
}

func TestPrepareWithoutResumeDiscards(t *testing.T) {
	s := openTemp(t)
	m := Manifest{Fingerprint: "f"}
	_, err := s.Prepare(m, true)
	require.NoError(t, err)
	require.NoError(t, s.Put(1, "done"))
	_, err = s.WriteFailed(1, "a1", "missing_tag", "", "x")
	require.NoError(t, err)

	stale, err := s.Prepare(m, false)
	require.NoError(t, err)
	assert.True(t, stale)
	indexes, err := s.Indexes()
	require.NoError(t, err)
	assert.Empty(t, indexes)
	dumps, err := s.FailedDumps()
	require.NoError(t, err)
	assert.Empty(t, dumps)
}

func TestStatsAndClear(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Put(1, "abc"))
	require.NoError(t, s.Put(2, "de"))
	_, err := s.WriteFailed(2, "a1", "timeout", "", "zz")
	require.NoError(t, err)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Checkpoints)
	assert.Equal(t, 1, stats.Failed)
	assert.Greater(t, stats.TotalBytes, int64(5))

	require.NoError(t, s.Clear())
	_, statErr := os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(statErr))
}

func TestStatsMissingDir(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Clear())
	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestStatsReportsUnreadableDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	s := openTemp(t)
	locked := filepath.Join(s.Dir(), "locked")
	require.NoError(t, os.Mkdir(locked, 0o755))
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	_, err := s.Stats()
	var pathErr *PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "list", pathErr.Op)
}

func TestOpenUnwritable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err := Open(filepath.Join(file, "sub"))
	var pathErr *PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "create", pathErr.Op)
}
