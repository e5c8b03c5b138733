package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWriteCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "file.md")
	if err := AtomicWrite(path, []byte("one")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := AtomicWrite(path, []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "two" {
		t.Fatalf("expected two, got %q", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, got %d entries", len(entries))
	}
}

func TestJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terms.json")
	if err := WriteJSON(path, []string{"Ferryman", "Harbor"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got []string
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[1] != "Harbor" {
		t.Fatalf("unexpected terms %#v", got)
	}
	if err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &got); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
