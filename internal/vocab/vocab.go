// Package vocab keeps a bounded, ordered, case-insensitive memory of terms
// already annotated, persisted as a JSON array.
package vocab

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"glossa/internal/footnote"
	"glossa/internal/fsutil"
)

const (
	DefaultLimit  = 300
	maxTermLength = 60
)

// termSeparators end a term inside a definition, searched in this order of
// earliest position.
var termSeparators = []string{":", "：", " - ", " — ", "(", "（", ";"}

var leadingTagRe = regexp.MustCompile(`^\[[A-Z]+\]\s*`)

// Store is safe for concurrent use.
type Store struct {
	path  string
	limit int

	mu    sync.Mutex
	terms []string
	index map[string]bool
}

func New(path string, limit int) *Store {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Store{path: path, limit: limit, index: make(map[string]bool)}
}

// Load reads persisted terms, deduplicating case-insensitively and keeping
// the newest limit entries. A missing file yields an empty store.
func Load(path string, limit int) (*Store, error) {
	s := New(path, limit)
	var terms []string
	if err := fsutil.ReadJSON(path, &terms); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("load vocabulary %s: %w", path, err)
	}
	s.Add(terms...)
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Limit() int {
	return s.limit
}

// Add appends terms not yet present, evicting the oldest on overflow, and
// returns the terms actually added.
func (s *Store) Add(terms ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, term := range terms {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" || s.index[key] {
			continue
		}
		s.terms = append(s.terms, term)
		s.index[key] = true
		added = append(added, term)
	}
	for len(s.terms) > s.limit {
		delete(s.index, strings.ToLower(s.terms[0]))
		s.terms = s.terms[1:]
	}
	return added
}

// Update extracts terms from accepted annotated text and adds them.
func (s *Store) Update(annotated string) []string {
	return s.Add(ExtractTerms(annotated)...)
}

// Recent returns up to limit of the newest terms, oldest first.
func (s *Store) Recent(limit int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.terms) {
		limit = len(s.terms)
	}
	out := make([]string, limit)
	copy(out, s.terms[len(s.terms)-limit:])
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.terms)
}

func (s *Store) Contains(term string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index[strings.ToLower(strings.TrimSpace(term))]
}

func (s *Store) Save() error {
	s.mu.Lock()
	terms := make([]string, len(s.terms))
	copy(terms, s.terms)
	s.mu.Unlock()
	if err := fsutil.WriteJSON(s.path, terms); err != nil {
		return fmt.Errorf("save vocabulary %s: %w", s.path, err)
	}
	return nil
}

// Delete removes the persisted file and clears the in-memory terms.
func (s *Store) Delete() error {
	s.mu.Lock()
	s.terms = nil
	s.index = make(map[string]bool)
	s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete vocabulary %s: %w", s.path, err)
	}
	return nil
}

// ExtractTerms reads each footnote definition, drops its leading tag and
// keeps the text before the first separator.
func ExtractTerms(annotated string) []string {
	var terms []string
	for _, def := range footnote.Definitions(annotated) {
		if term := termOf(def.Text); term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}

func termOf(definition string) string {
	text := leadingTagRe.ReplaceAllString(strings.TrimSpace(definition), "")
	cut := len(text)
	for _, sep := range termSeparators {
		if idx := strings.Index(text, sep); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	term := strings.Trim(strings.TrimSpace(text[:cut]), `"'“”‘’*`)
	if term == "" || utf8.RuneCountInString(term) > maxTermLength {
		return ""
	}
	return term
}
