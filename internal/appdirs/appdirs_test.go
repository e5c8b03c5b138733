package appdirs

import (
	"path/filepath"
	"testing"
)

func TestDataDirOverride(t *testing.T) {
	t.Setenv(DataDirVar, "/tmp/glossa-test")
	path, err := DataDir()
	if err != nil {
		t.Fatalf("data dir: %v", err)
	}
	if path != "/tmp/glossa-test" {
		t.Fatalf("expected override path, got %s", path)
	}

	if chunks := ChunksDir(path); chunks != filepath.Join("/tmp/glossa-test", "chunks") {
		t.Fatalf("expected chunks dir, got %s", chunks)
	}
	if logs := LogsDir(path); logs != filepath.Join("/tmp/glossa-test", "logs") {
		t.Fatalf("expected logs dir, got %s", logs)
	}
	if secrets := SecretsDir(path); secrets != filepath.Join("/tmp/glossa-test", "secrets") {
		t.Fatalf("expected secrets dir, got %s", secrets)
	}
}

func TestJournalPathSitsOutsideCacheDirs(t *testing.T) {
	path := JournalPath("/tmp/glossa-test")
	if path != filepath.Join("/tmp/glossa-test", "attempts.db") {
		t.Fatalf("expected journal under data dir, got %s", path)
	}
	if filepath.Dir(path) == ChunksDir("/tmp/glossa-test") {
		t.Fatalf("journal must not live in the cache dir")
	}
}
