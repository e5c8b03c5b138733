// Package diff compares an original chunk with a model candidate, both as
// a character edit distance and as a readable line excerpt.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Line struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

const (
	LineContext = "context"
	LineAdded   = "added"
	LineRemoved = "removed"
)

const DefaultExcerptLines = 40

// Distance is the character-level Levenshtein distance between a and b.
func Distance(a, b string) int {
	if a == b {
		return 0
	}
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return dmp.DiffLevenshtein(dmp.DiffMain(a, b, false))
}

// Lines returns a line-level diff of before and after.
func Lines(before, after string) []Line {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var lines []Line
	oldLine := 1
	newLine := 1
	for _, d := range diffs {
		chunkLines := strings.Split(d.Text, "\n")
		if len(chunkLines) > 0 && chunkLines[len(chunkLines)-1] == "" {
			chunkLines = chunkLines[:len(chunkLines)-1]
		}
		for _, text := range chunkLines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, Line{Type: LineContext, Text: text, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				lines = append(lines, Line{Type: LineRemoved, Text: text, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				lines = append(lines, Line{Type: LineAdded, Text: text, NewLine: newLine})
				newLine++
			}
		}
	}
	return lines
}

// Excerpt renders the changed lines of a diff, prefixed "-" and "+", each
// preceded by its original line number. Output stops after maxLines lines.
func Excerpt(before, after string, maxLines int) string {
	if maxLines <= 0 {
		maxLines = DefaultExcerptLines
	}
	var b strings.Builder
	written := 0
	for _, ln := range Lines(before, after) {
		if ln.Type == LineContext {
			continue
		}
		if written == maxLines {
			b.WriteString("...\n")
			break
		}
		switch ln.Type {
		case LineRemoved:
			fmt.Fprintf(&b, "%4d - %s\n", ln.OldLine, ln.Text)
		case LineAdded:
			fmt.Fprintf(&b, "%4d + %s\n", ln.NewLine, ln.Text)
		}
		written++
	}
	return b.String()
}
