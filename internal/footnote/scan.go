// Package footnote scans, relocates and renumbers Markdown-style footnote
// markers ([^3]) and definitions ([^3]: text).
//
// Renumbering is structural: Scan yields occurrence records, Plan maps them
// to fresh ids, and Apply rebuilds the text in a single pass.
package footnote

import (
	"regexp"
	"strconv"
	"strings"
)

type Kind int

const (
	KindMarker Kind = iota
	KindDefinition
)

func (k Kind) String() string {
	if k == KindDefinition {
		return "definition"
	}
	return "marker"
}

var (
	markerRe  = regexp.MustCompile(`\[\^([^\]\s]+)\]`)
	defHeadRe = regexp.MustCompile(`^ {0,3}\[\^([^\]\s]+)\]:`)
)

// Occurrence locates one identifier. Start and End are byte offsets of the
// identifier itself, excluding the surrounding brackets.
type Occurrence struct {
	Kind  Kind
	ID    string
	Start int
	End   int
}

// Numeric reports whether the identifier is a model-assigned decimal id.
func (o Occurrence) Numeric() bool {
	return IsNumeric(o.ID)
}

// IsNumeric reports whether id is a plain decimal identifier.
func IsNumeric(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type line struct {
	text  string
	start int
}

func splitLines(text string) []line {
	var lines []line
	offset := 0
	for {
		idx := strings.IndexByte(text[offset:], '\n')
		if idx < 0 {
			lines = append(lines, line{text: text[offset:], start: offset})
			return lines
		}
		lines = append(lines, line{text: text[offset : offset+idx], start: offset})
		offset += idx + 1
	}
}

// Scan returns every marker and definition identifier in document order.
func Scan(text string) []Occurrence {
	var out []Occurrence
	for _, ln := range splitLines(text) {
		rest := 0
		if m := defHeadRe.FindStringSubmatchIndex(ln.text); m != nil {
			out = append(out, Occurrence{
				Kind:  KindDefinition,
				ID:    ln.text[m[2]:m[3]],
				Start: ln.start + m[2],
				End:   ln.start + m[3],
			})
			rest = m[1]
		}
		for _, m := range markerRe.FindAllStringSubmatchIndex(ln.text[rest:], -1) {
			out = append(out, Occurrence{
				Kind:  KindMarker,
				ID:    ln.text[rest+m[2] : rest+m[3]],
				Start: ln.start + rest + m[2],
				End:   ln.start + rest + m[3],
			})
		}
	}
	return out
}

// Rewrite replaces one occurrence's identifier with NewID.
type Rewrite struct {
	Occurrence
	NewID string
}

// Plan assigns sequential ids from start to numeric identifiers in order of
// first occurrence, whether marker or definition. It returns the rewrites
// and the next unused id.
func Plan(text string, start int) ([]Rewrite, int) {
	assigned := make(map[string]string)
	next := start
	var rewrites []Rewrite
	for _, occ := range Scan(text) {
		if !occ.Numeric() {
			continue
		}
		newID, ok := assigned[occ.ID]
		if !ok {
			newID = strconv.Itoa(next)
			assigned[occ.ID] = newID
			next++
		}
		rewrites = append(rewrites, Rewrite{Occurrence: occ, NewID: newID})
	}
	return rewrites, next
}

// Apply rebuilds text with every rewrite applied. Rewrites must be in
// document order and must not overlap, as produced by Plan.
func Apply(text string, rewrites []Rewrite) string {
	if len(rewrites) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + len(rewrites))
	last := 0
	for _, rw := range rewrites {
		b.WriteString(text[last:rw.Start])
		b.WriteString(rw.NewID)
		last = rw.End
	}
	b.WriteString(text[last:])
	return b.String()
}

// Renumber rewrites numeric ids to a contiguous sequence beginning at start
// and returns the rewritten text with the next free id. Non-numeric ids
// are left untouched.
func Renumber(text string, start int) (string, int) {
	rewrites, next := Plan(text, start)
	return Apply(text, rewrites), next
}
