package prompt

import (
	"strings"
	"testing"

	"glossa/internal/llm"
)

func TestBuildTurns(t *testing.T) {
	turns := Build(Input{
		Genre:  "History",
		Recent: []string{"Ithaca", "Troy"},
		Text:   "The sun set.",
		Tags:   []string{"TERM", "PLACE"},
	})
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != llm.RoleSystem || turns[1].Role != llm.RoleUser {
		t.Fatalf("unexpected roles %q %q", turns[0].Role, turns[1].Role)
	}
	if !strings.Contains(turns[0].Content, "Genre: history.") {
		t.Fatalf("expected history guidance, got %q", turns[0].Content)
	}
	if !strings.Contains(turns[0].Content, "[TERM] [PLACE]") {
		t.Fatalf("expected tag list, got %q", turns[0].Content)
	}
	if !strings.Contains(turns[1].Content, "Ithaca, Troy") {
		t.Fatalf("expected vocabulary block, got %q", turns[1].Content)
	}
	if !strings.HasSuffix(turns[1].Content, "Text:\nThe sun set.") {
		t.Fatalf("expected chunk text last, got %q", turns[1].Content)
	}
}

func TestBuildWithoutVocabulary(t *testing.T) {
	turns := Build(Input{Genre: "unknown", Text: "x"})
	if strings.Contains(turns[1].Content, "Already annotated") {
		t.Fatalf("expected no vocabulary block")
	}
	if !strings.Contains(turns[0].Content, "Genre: general.") {
		t.Fatalf("expected general guidance for unknown genre")
	}
}

func TestKnownGenre(t *testing.T) {
	if !KnownGenre(" Fiction ") || KnownGenre("poetry") {
		t.Fatalf("unexpected genre classification")
	}
}
