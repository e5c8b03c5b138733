// Package manuscript loads an input text into a canonical body plus a
// side table of the footnote definitions it already carried.
package manuscript

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"glossa/internal/footnote"
)

// SourcePrefix marks footnote ids that came with the input. They are
// never renumbered.
const SourcePrefix = "src-"

var blankRunRe = regexp.MustCompile(`\n{3,}`)

type Note struct {
	ID   string
	Text string
}

// Manuscript is immutable after Parse.
type Manuscript struct {
	Path  string
	Body  string
	Notes []Note
}

func Load(path string) (*Manuscript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manuscript %s: %w", path, err)
	}
	m := Parse(string(data))
	m.Path = path
	return m, nil
}

// Parse canonicalizes line endings and blank-line runs, removes footnote
// definitions into Notes, and rewrites the body markers to SourcePrefix ids.
func Parse(raw string) *Manuscript {
	text := strings.TrimPrefix(raw, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	body, defs := footnote.Split(text)
	body = canonical(body)

	var rewrites []footnote.Rewrite
	for _, occ := range footnote.Scan(body) {
		if occ.Kind == footnote.KindMarker && !strings.HasPrefix(occ.ID, SourcePrefix) {
			rewrites = append(rewrites, footnote.Rewrite{Occurrence: occ, NewID: SourcePrefix + occ.ID})
		}
	}
	body = footnote.Apply(body, rewrites)

	notes := make([]Note, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		id := strings.TrimPrefix(def.ID, SourcePrefix)
		if seen[id] {
			continue
		}
		seen[id] = true
		notes = append(notes, Note{ID: SourcePrefix + id, Text: def.Text})
	}
	return &Manuscript{Body: body, Notes: notes}
}

func canonical(text string) string {
	lines := strings.Split(text, "\n")
	for i, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			lines[i] = ""
		} else {
			lines[i] = strings.TrimRight(ln, " \t")
		}
	}
	text = strings.Join(lines, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.Trim(text, "\n")
}

// Appendix renders the source notes as definition lines, or "".
func (m *Manuscript) Appendix() string {
	if len(m.Notes) == 0 {
		return ""
	}
	lines := make([]string, len(m.Notes))
	for i, note := range m.Notes {
		lines[i] = fmt.Sprintf("[^%s]: %s", note.ID, note.Text)
	}
	return strings.Join(lines, "\n")
}
