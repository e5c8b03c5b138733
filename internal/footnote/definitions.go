package footnote

import (
	"strings"
)

// Definition is one definition block: the head line plus any indented
// continuation lines.
type Definition struct {
	ID string
	// Text is the content after the colon with continuation lines joined
	// and whitespace collapsed.
	Text string
	// Raw is the block exactly as it appeared, without a trailing newline.
	Raw string
}

func isContinuation(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	return strings.HasPrefix(s, "\t") || strings.HasPrefix(s, "  ")
}

// Split separates body text from definition blocks. Blank lines left
// behind by a removed block are collapsed so the body keeps single
// paragraph breaks.
func Split(text string) (string, []Definition) {
	lines := strings.Split(text, "\n")
	var body []string
	var defs []Definition
	removedAt := -1
	for i := 0; i < len(lines); i++ {
		m := defHeadRe.FindStringSubmatchIndex(lines[i])
		if m == nil {
			if strings.TrimSpace(lines[i]) == "" && removedAt == len(body) && len(body) > 0 &&
				strings.TrimSpace(body[len(body)-1]) == "" {
				continue
			}
			body = append(body, lines[i])
			continue
		}
		head := lines[i]
		block := []string{head}
		parts := []string{strings.TrimSpace(head[m[1]:])}
		for i+1 < len(lines) && isContinuation(lines[i+1]) {
			i++
			block = append(block, lines[i])
			parts = append(parts, strings.TrimSpace(lines[i]))
		}
		defs = append(defs, Definition{
			ID:   head[m[2]:m[3]],
			Text: strings.Join(strings.Fields(strings.Join(parts, " ")), " "),
			Raw:  strings.Join(block, "\n"),
		})
		removedAt = len(body)
	}
	return strings.Join(body, "\n"), defs
}

// Definitions returns the definition blocks of text in document order.
func Definitions(text string) []Definition {
	_, defs := Split(text)
	return defs
}

// EnsureAtEnd moves every definition block to a trailing block after the
// body, keeping their relative order. Text without definitions is returned
// unchanged.
func EnsureAtEnd(text string) string {
	body, defs := Split(text)
	if len(defs) == 0 {
		return text
	}
	raws := make([]string, len(defs))
	for i, def := range defs {
		raws[i] = def.Raw
	}
	body = strings.TrimRight(body, " \t\n")
	if body == "" {
		return strings.Join(raws, "\n")
	}
	return body + "\n\n" + strings.Join(raws, "\n")
}

// StripMarkup removes definition blocks and inline markers, leaving only
// the body prose.
func StripMarkup(text string) string {
	body, _ := Split(text)
	return markerRe.ReplaceAllString(body, "")
}

// Unpaired lists marker ids without a definition and definition ids
// without a marker, each in order of first occurrence.
func Unpaired(text string) (markers, definitions []string) {
	hasMarker := make(map[string]bool)
	hasDef := make(map[string]bool)
	occs := Scan(text)
	for _, occ := range occs {
		if occ.Kind == KindMarker {
			hasMarker[occ.ID] = true
		} else {
			hasDef[occ.ID] = true
		}
	}
	seen := make(map[string]bool)
	for _, occ := range occs {
		key := occ.Kind.String() + ":" + occ.ID
		if seen[key] {
			continue
		}
		seen[key] = true
		switch {
		case occ.Kind == KindMarker && !hasDef[occ.ID]:
			markers = append(markers, occ.ID)
		case occ.Kind == KindDefinition && !hasMarker[occ.ID]:
			definitions = append(definitions, occ.ID)
		}
	}
	return markers, definitions
}

// Combine relocates definitions within each part, renumbers the parts
// sequentially from start, and joins them with a blank line. Each part
// keeps its own definitions right after its body.
func Combine(parts []string, start int) (string, int) {
	next := start
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(EnsureAtEnd(part))
		if part == "" {
			continue
		}
		var renumbered string
		renumbered, next = Renumber(part, next)
		out = append(out, renumbered)
	}
	return strings.Join(out, "\n\n"), next
}
