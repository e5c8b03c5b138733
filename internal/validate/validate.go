// Package validate decides whether a model candidate may replace an
// original chunk: the prose must survive verbatim and every footnote
// definition must carry exactly one allowed tag.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"glossa/internal/diff"
	"glossa/internal/footnote"
)

type Reason string

const (
	ReasonSourceMismatch Reason = "source_mismatch"
	ReasonMissingTag     Reason = "missing_tag"
	ReasonUnpaired       Reason = "unpaired_footnote"
)

// Failure is the error returned for a rejected candidate.
type Failure struct {
	Reason Reason
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return string(f.Reason)
	}
	return string(f.Reason) + ": " + f.Detail
}

// DefaultTags is the allowed set of leading definition tags.
var DefaultTags = []string{"TERM", "PERSON", "PLACE", "WORK", "EVENT", "IDIOM", "CONTEXT"}

const defaultAnchorWords = 8

var (
	spaceRe = regexp.MustCompile(`\s+`)
	dashRe  = regexp.MustCompile(`\s*(—|–|--)\s*`)
	tagRe   = regexp.MustCompile(`^\[([A-Z]+)\]`)
)

type Validator struct {
	tags         map[string]bool
	anchorWords  int
	requirePairs bool
}

type Option func(*Validator)

// WithTags replaces the allowed tag set. Tags are given without brackets.
func WithTags(tags []string) Option {
	return func(v *Validator) {
		v.tags = make(map[string]bool, len(tags))
		for _, tag := range tags {
			v.tags[strings.Trim(strings.TrimSpace(tag), "[]")] = true
		}
	}
}

// WithAnchorWords sets how many words bound each side of a windowed match.
func WithAnchorWords(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.anchorWords = n
		}
	}
}

// WithoutPairCheck accepts candidates whose markers and definitions do not
// pair up.
func WithoutPairCheck() Option {
	return func(v *Validator) { v.requirePairs = false }
}

func New(opts ...Option) *Validator {
	v := &Validator{anchorWords: defaultAnchorWords, requirePairs: true}
	WithTags(DefaultTags)(v)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs every check and returns the first *Failure, or nil.
func (v *Validator) Validate(original, candidate string) error {
	if err := v.Verbatim(original, candidate); err != nil {
		return err
	}
	if err := v.Tags(candidate); err != nil {
		return err
	}
	if v.requirePairs {
		return Pairs(candidate)
	}
	return nil
}

// Normalize strips footnote markup, collapses whitespace and removes the
// spacing around dashes.
func Normalize(text string) string {
	text = footnote.StripMarkup(text)
	text = spaceRe.ReplaceAllString(text, " ")
	text = dashRe.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// Verbatim requires the normalized original to appear inside the
// normalized candidate body, with the original's source markers kept in
// order. When the direct test fails, a windowed match is tried on the
// word sequence with punctuation dropped: the first and last anchor words
// must each occur exactly once, in order, and the words between them must
// equal the original's words.
func (v *Validator) Verbatim(original, candidate string) error {
	if want, got := sourceMarkers(original), sourceMarkers(candidate); !slices.Equal(want, got) {
		return &Failure{
			Reason: ReasonSourceMismatch,
			Detail: fmt.Sprintf("source markers changed: want [%s], got [%s]", strings.Join(want, " "), strings.Join(got, " ")),
		}
	}
	want := Normalize(original)
	if want == "" {
		return nil
	}
	got := Normalize(candidate)
	if strings.Contains(got, want) {
		return nil
	}
	detail, ok := v.windowMatch(want, got)
	if ok {
		return nil
	}
	return &Failure{Reason: ReasonSourceMismatch, Detail: detail}
}

// sourceMarkers lists the non-numeric marker ids of text in order.
func sourceMarkers(text string) []string {
	var ids []string
	for _, occ := range footnote.Scan(text) {
		if occ.Kind == footnote.KindMarker && !occ.Numeric() {
			ids = append(ids, occ.ID)
		}
	}
	return ids
}

// plainWords splits text into words with punctuation and symbols removed.
func plainWords(text string) []string {
	var out []string
	for _, field := range strings.Fields(text) {
		word := strings.Map(func(r rune) rune {
			if unicode.IsPunct(r) || unicode.IsSymbol(r) {
				return -1
			}
			return r
		}, field)
		if word != "" {
			out = append(out, word)
		}
	}
	return out
}

// indexAll returns every position where needle occurs in words.
func indexAll(words, needle []string) []int {
	var hits []int
	for i := 0; i+len(needle) <= len(words); i++ {
		if slices.Equal(words[i:i+len(needle)], needle) {
			hits = append(hits, i)
		}
	}
	return hits
}

func (v *Validator) windowMatch(want, got string) (string, bool) {
	wantWords := plainWords(want)
	if len(wantWords) < 2*v.anchorWords {
		return "original not found in candidate", false
	}
	gotWords := plainWords(got)
	heads := indexAll(gotWords, wantWords[:v.anchorWords])
	if len(heads) != 1 {
		return fmt.Sprintf("leading anchor found %d times", len(heads)), false
	}
	tails := indexAll(gotWords, wantWords[len(wantWords)-v.anchorWords:])
	if len(tails) != 1 {
		return fmt.Sprintf("trailing anchor found %d times", len(tails)), false
	}
	start, end := heads[0], tails[0]+v.anchorWords
	if tails[0] < start {
		return "anchors out of order", false
	}
	span := gotWords[start:end]
	if slices.Equal(span, wantWords) {
		return "", true
	}
	at := 0
	for at < len(span) && at < len(wantWords) && span[at] == wantWords[at] {
		at++
	}
	drift := diff.Distance(strings.Join(span, " "), strings.Join(wantWords, " "))
	return fmt.Sprintf("anchored span differs from word %d (%d chars of drift)", at+1, drift), false
}

// Tags requires every definition to start with exactly one allowed tag
// followed by text.
func (v *Validator) Tags(candidate string) error {
	for _, def := range footnote.Definitions(candidate) {
		if def.Text == "" {
			return &Failure{Reason: ReasonMissingTag, Detail: fmt.Sprintf("footnote %s is empty", def.ID)}
		}
		m := tagRe.FindStringSubmatch(def.Text)
		if m == nil || !v.tags[m[1]] {
			return &Failure{Reason: ReasonMissingTag, Detail: fmt.Sprintf("footnote %s lacks an allowed tag", def.ID)}
		}
		rest := strings.TrimSpace(def.Text[len(m[0]):])
		if rest == "" {
			return &Failure{Reason: ReasonMissingTag, Detail: fmt.Sprintf("footnote %s has a tag but no text", def.ID)}
		}
		if next := tagRe.FindStringSubmatch(rest); next != nil && v.tags[next[1]] {
			return &Failure{Reason: ReasonMissingTag, Detail: fmt.Sprintf("footnote %s carries more than one tag", def.ID)}
		}
	}
	return nil
}

// Pairs requires every numeric marker to have a definition and vice versa.
// Non-numeric ids, such as source footnotes, are ignored.
func Pairs(candidate string) error {
	markers, defs := footnote.Unpaired(candidate)
	markers = numericOnly(markers)
	defs = numericOnly(defs)
	switch {
	case len(markers) > 0:
		return &Failure{Reason: ReasonUnpaired, Detail: "markers without definition: " + strings.Join(markers, ", ")}
	case len(defs) > 0:
		return &Failure{Reason: ReasonUnpaired, Detail: "definitions without marker: " + strings.Join(defs, ", ")}
	}
	return nil
}

// SourceNotes requires a marker in body for every source note id.
func SourceNotes(body string, ids []string) error {
	present := make(map[string]bool)
	for _, occ := range footnote.Scan(body) {
		if occ.Kind == footnote.KindMarker {
			present[occ.ID] = true
		}
	}
	var missing []string
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &Failure{Reason: ReasonUnpaired, Detail: "source notes without marker: " + strings.Join(missing, ", ")}
	}
	return nil
}

func numericOnly(ids []string) []string {
	var out []string
	for _, id := range ids {
		if footnote.IsNumeric(id) {
			out = append(out, id)
		}
	}
	return out
}

// ReasonOf returns the failure reason carried by err, or "".
func ReasonOf(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ""
}
