// Package chunkcache stores validated per-chunk checkpoints on disk so an
// interrupted run can resume, plus diagnostics for failed attempts.
//
// Layout of one cache directory:
//
//	0001.md 0002.md ...   validated, locally numbered chunk text
//	failed/0003_a2.md     rejected candidates, first line "# reason: ..."
//	manifest.json         fingerprint of the run the checkpoints belong to
//	vocab.json            vocabulary memory
package chunkcache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"glossa/internal/fsutil"
)

const (
	failedFolder     = "failed"
	manifestFile     = "manifest.json"
	vocabFile        = "vocab.json"
	chunkExt         = ".md"
	manifestVersion  = 1
	chunkIndexDigits = 4
)

// PathError reports a filesystem failure together with the offending path.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("chunk cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// ErrMissing is wrapped by Read when a checkpoint is absent or empty.
var ErrMissing = errors.New("checkpoint missing")

type Manifest struct {
	Version     int    `json:"version"`
	Fingerprint string `json:"fingerprint"`
	Input       string `json:"input,omitempty"`
	Model       string `json:"model"`
	ChunkTokens int    `json:"chunk_tokens"`
	Chunks      int    `json:"chunks"`
	CreatedAt   string `json:"created_at"`
}

// Fingerprint digests everything that determines chunk boundaries and
// content: the canonical body, the chunk budget and the model.
func Fingerprint(body string, chunkTokens int, model string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(model))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.Itoa(chunkTokens)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

type Store struct {
	dir string
}

// DirFor returns the cache directory for an input file under root, keyed by
// the input's file name without extension.
func DirFor(root, inputPath string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		stem = "manuscript"
	}
	return filepath.Join(root, stem)
}

// Open creates the directory if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &PathError{Op: "create", Path: dir, Err: err}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string       { return s.dir }
func (s *Store) VocabPath() string { return filepath.Join(s.dir, vocabFile) }

func chunkName(index int) string {
	return fmt.Sprintf("%0*d%s", chunkIndexDigits, index, chunkExt)
}

func (s *Store) ChunkPath(index int) string {
	return filepath.Join(s.dir, chunkName(index))
}

// Get returns a checkpoint and whether a non-empty one exists.
func (s *Store) Get(index int) (string, bool, error) {
	path := s.ChunkPath(index)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, &PathError{Op: "read", Path: path, Err: err}
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", false, nil
	}
	return text, true, nil
}

// Read is Get for callers that require the checkpoint to exist.
func (s *Store) Read(index int) (string, error) {
	text, ok, err := s.Get(index)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &PathError{Op: "read", Path: s.ChunkPath(index), Err: ErrMissing}
	}
	return text, nil
}

func (s *Store) Put(index int, text string) error {
	path := s.ChunkPath(index)
	if err := fsutil.AtomicWrite(path, []byte(text)); err != nil {
		return &PathError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Indexes lists the chunk indexes that have a checkpoint file, ascending.
func (s *Store) Indexes() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &PathError{Op: "list", Path: s.dir, Err: err}
	}
	var out []int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, chunkExt) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, chunkExt))
		if err != nil || n < 1 {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// WriteFailed archives a rejected candidate under failed/ and returns its path.
func (s *Store) WriteFailed(index int, label, reason, detail, candidate string) (string, error) {
	name := fmt.Sprintf("%0*d_%s%s", chunkIndexDigits, index, label, chunkExt)
	path := filepath.Join(s.dir, failedFolder, name)
	var b strings.Builder
	b.WriteString("# reason: ")
	b.WriteString(oneLine(reason))
	b.WriteString("\n")
	if detail != "" {
		b.WriteString(detail)
		if !strings.HasSuffix(detail, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(candidate)
	if err := fsutil.AtomicWrite(path, []byte(b.String())); err != nil {
		return "", &PathError{Op: "write", Path: path, Err: err}
	}
	return path, nil
}

// FailedDumps lists archived failures, sorted by name.
func (s *Store) FailedDumps() ([]string, error) {
	dir := filepath.Join(s.dir, failedFolder)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &PathError{Op: "list", Path: dir, Err: err}
	}
	var out []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), chunkExt) {
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ReadManifest() (*Manifest, error) {
	path := filepath.Join(s.dir, manifestFile)
	var m Manifest
	if err := fsutil.ReadJSON(path, &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &PathError{Op: "read", Path: path, Err: err}
	}
	return &m, nil
}

func (s *Store) WriteManifest(m Manifest) error {
	if m.Version == 0 {
		m.Version = manifestVersion
	}
	if m.CreatedAt == "" {
		m.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	path := filepath.Join(s.dir, manifestFile)
	if err := fsutil.WriteJSON(path, m); err != nil {
		return &PathError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Prepare readies the store for a run described by m. With resume off, or
// when the stored manifest belongs to a different run, existing
// checkpoints are discarded. It reports whether stale state was dropped.
func (s *Store) Prepare(m Manifest, resume bool) (bool, error) {
	existing, err := s.ReadManifest()
	if err != nil {
		return false, err
	}
	indexes, err := s.Indexes()
	if err != nil {
		return false, err
	}
	stale := false
	switch {
	case !resume:
		stale = len(indexes) > 0
	case existing == nil:
		stale = len(indexes) > 0
	case existing.Fingerprint != m.Fingerprint:
		stale = true
	}
	if stale || !resume {
		if err := s.Reset(); err != nil {
			return false, err
		}
	}
	if existing != nil && !stale && resume {
		m.CreatedAt = existing.CreatedAt
	}
	return stale, s.WriteManifest(m)
}

// Reset deletes checkpoints, failure dumps, vocabulary and manifest but
// keeps the directory.
func (s *Store) Reset() error {
	indexes, err := s.Indexes()
	if err != nil {
		return err
	}
	for _, index := range indexes {
		if err := removeIfExists(s.ChunkPath(index)); err != nil {
			return err
		}
	}
	for _, path := range []string{
		filepath.Join(s.dir, manifestFile),
		s.VocabPath(),
	} {
		if err := removeIfExists(path); err != nil {
			return err
		}
	}
	failed := filepath.Join(s.dir, failedFolder)
	if err := os.RemoveAll(failed); err != nil {
		return &PathError{Op: "remove", Path: failed, Err: err}
	}
	return nil
}

// Clear removes the whole cache directory.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return &PathError{Op: "remove", Path: s.dir, Err: err}
	}
	return nil
}

// Stats summarizes the directory contents.
type Stats struct {
	Checkpoints int
	Failed      int
	TotalBytes  int64
}

func (s *Store) Stats() (Stats, error) {
	var stats Stats
	indexes, err := s.Indexes()
	if err != nil {
		return stats, err
	}
	stats.Checkpoints = len(indexes)
	failed, err := s.FailedDumps()
	if err != nil {
		return stats, err
	}
	stats.Failed = len(failed)
	err = filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		stats.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return stats, &PathError{Op: "list", Path: s.dir, Err: err}
	}
	return stats, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &PathError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
