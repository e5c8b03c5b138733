// Package chunker splits a manuscript body into paragraph-aligned chunks
// bounded by an estimated token budget.
package chunker

import "strings"

// ParagraphSeparator joins paragraphs inside a chunk and chunks inside a body.
const ParagraphSeparator = "\n\n"

type Estimator interface {
	Estimate(text string) int
}

type Chunk struct {
	// Index is 1-based.
	Index int
	Text  string
	// Tokens is the sum of the paragraph estimates that formed the chunk.
	Tokens int
	// Paragraphs is the number of paragraphs in Text.
	Paragraphs int
}

type Chunker struct {
	est      Estimator
	margin   int
	minFloor int
}

// New returns a Chunker that reserves margin tokens of every budget for
// inserted annotations, never going below minFloor.
func New(est Estimator, margin, minFloor int) *Chunker {
	if margin < 0 {
		margin = 0
	}
	if minFloor < 1 {
		minFloor = 1
	}
	return &Chunker{est: est, margin: margin, minFloor: minFloor}
}

// EffectiveMax is max(minFloor, maxTokens-margin).
func (c *Chunker) EffectiveMax(maxTokens int) int {
	effective := maxTokens - c.margin
	if effective < c.minFloor {
		return c.minFloor
	}
	return effective
}

// Paragraphs splits text on blank-line boundaries. Joining the result with
// ParagraphSeparator reproduces text exactly.
func Paragraphs(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, ParagraphSeparator)
}

// Split greedily packs paragraphs into chunks while the running estimate
// stays within the effective budget. A paragraph that alone exceeds the
// budget becomes its own chunk; paragraphs are never split.
func (c *Chunker) Split(text string, maxTokens int) []Chunk {
	paragraphs := Paragraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}
	limit := c.EffectiveMax(maxTokens)

	var chunks []Chunk
	var current []string
	running := 0
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks) + 1,
			Text:       strings.Join(current, ParagraphSeparator),
			Tokens:     running,
			Paragraphs: len(current),
		})
		current = nil
		running = 0
	}
	for _, paragraph := range paragraphs {
		cost := c.est.Estimate(paragraph)
		if len(current) > 0 && running+cost > limit {
			flush()
		}
		current = append(current, paragraph)
		running += cost
	}
	flush()
	return chunks
}

// Join reassembles chunk texts into a body.
func Join(chunks []Chunk) string {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	return strings.Join(texts, ParagraphSeparator)
}
