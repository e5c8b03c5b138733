// Package prompt fills the annotation prompt for one chunk.
package prompt

import (
	"fmt"
	"strings"

	"glossa/internal/llm"
)

const (
	GenreGeneral    = "general"
	GenreFiction    = "fiction"
	GenreHistory    = "history"
	GenrePhilosophy = "philosophy"
	GenreReligion   = "religion"
)

// Genres lists the genres with dedicated guidance.
var Genres = []string{GenreGeneral, GenreFiction, GenreHistory, GenrePhilosophy, GenreReligion}

// Input is everything one chunk prompt depends on.
type Input struct {
	Genre  string
	Recent []string
	Text   string
	Tags   []string
}

func systemPrompt(genre string, tags []string) string {
	tagList := make([]string, len(tags))
	for i, tag := range tags {
		tagList[i] = "[" + tag + "]"
	}
	common := fmt.Sprintf(`You annotate manuscripts with explanatory footnotes.
Rules:
- Reproduce the input text exactly. Do not add, remove, reorder or reword any of it.
- Insert Markdown footnote markers like [^1] directly after the annotated word or phrase.
- Number markers from 1 in order of appearance.
- After the text, add one definition line per marker: [^1]: [TAG] Term: explanation.
- Every definition starts with exactly one tag from: %s.
- Leave existing markers such as [^src-3] untouched and never define them.
- Return only the annotated text, no commentary and no code fences.`, strings.Join(tagList, " "))

	switch genre {
	case GenreFiction:
		return common + `
Genre: fiction.
Annotate allusions, idioms, period vocabulary and real places or people. Never explain the plot or foreshadow events.`
	case GenreHistory:
		return common + `
Genre: history.
Annotate people, places, events, institutions and dates a general reader may not know. Prefer precise, neutral explanations.`
	case GenrePhilosophy:
		return common + `
Genre: philosophy.
Annotate technical terms, named doctrines, works cited and thinkers referenced. Keep explanations short and non-partisan.`
	case GenreReligion:
		return common + `
Genre: religion.
Annotate scriptural references, liturgical terms, figures and places. Describe traditions without endorsing or disputing them.`
	default:
		return common + `
Genre: general.
Annotate terms, names, references and idioms a general reader may not know.`
	}
}

func userPrompt(recent []string, text string) string {
	var builder strings.Builder
	if len(recent) > 0 {
		builder.WriteString("Already annotated earlier, do not annotate again:\n")
		builder.WriteString(strings.Join(recent, ", "))
		builder.WriteString("\n\n")
	}
	builder.WriteString("Text:\n")
	builder.WriteString(text)
	return builder.String()
}

// Build returns the system and user turns for one chunk.
func Build(in Input) []llm.Turn {
	return []llm.Turn{
		{Role: llm.RoleSystem, Content: systemPrompt(strings.ToLower(strings.TrimSpace(in.Genre)), in.Tags)},
		{Role: llm.RoleUser, Content: userPrompt(in.Recent, in.Text)},
	}
}

// KnownGenre reports whether genre has dedicated guidance.
func KnownGenre(genre string) bool {
	genre = strings.ToLower(strings.TrimSpace(genre))
	for _, g := range Genres {
		if g == genre {
			return true
		}
	}
	return false
}
