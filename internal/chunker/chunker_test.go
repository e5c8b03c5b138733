package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glossa/internal/tokens"
)

// wordEstimator charges one token per whitespace-delimited word.
type wordEstimator struct{}

func (wordEstimator) Estimate(text string) int {
	return len(strings.Fields(text))
}

func TestEffectiveMax(t *testing.T) {
	c := New(wordEstimator{}, 300, 200)
	assert.Equal(t, 1500, c.EffectiveMax(1800))
	assert.Equal(t, 200, c.EffectiveMax(400))
	assert.Equal(t, 200, c.EffectiveMax(0))
}

func TestSplitPacksGreedily(t *testing.T) {
	c := New(wordEstimator{}, 0, 1)
	text := "a b\n\nc d e\n\nf\n\ng h i j k l\n\nm"
	chunks := c.Split(text, 5)
	require.Len(t, chunks, 4)
	assert.Equal(t, "a b\n\nc d e", chunks[0].Text)
	assert.Equal(t, 5, chunks[0].Tokens)
	assert.Equal(t, "f", chunks[1].Text)
	assert.Equal(t, "g h i j k l", chunks[2].Text)
	assert.Equal(t, 6, chunks[2].Tokens)
	assert.Equal(t, 1, chunks[2].Paragraphs)
	assert.Equal(t, "m", chunks[3].Text)
	for i, chunk := range chunks {
		assert.Equal(t, i+1, chunk.Index)
	}
}

func TestSplitReconstructsBody(t *testing.T) {
	c := New(tokens.NewEstimator("m", 64), 10, 5)
	bodies := []string{
		"The sun set.\n\nThe moon rose over the quiet harbor, and nobody spoke.",
		strings.Repeat("Paragraph with several ordinary words in it.\n\n", 40) + "Tail.",
		"single paragraph only",
		"trailing blank\n\n",
		"\n\nleading blank",
		"odd\n\n\nspacing",
	}
	for _, body := range bodies {
		for _, budget := range []int{1, 12, 30, 200} {
			chunks := c.Split(body, budget)
			assert.Equal(t, body, Join(chunks), "budget %d", budget)
			limit := c.EffectiveMax(budget)
			for _, chunk := range chunks {
				if chunk.Paragraphs > 1 {
					assert.LessOrEqual(t, chunk.Tokens, limit, "budget %d chunk %d", budget, chunk.Index)
				}
			}
		}
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	c := New(tokens.NewEstimator("m", 64), 0, 1)
	body := strings.Repeat("Alpha beta, gamma delta.\n\n", 25) + "Omega."
	assert.Equal(t, c.Split(body, 20), c.Split(body, 20))
}

func TestSplitEmpty(t *testing.T) {
	c := New(wordEstimator{}, 0, 1)
	assert.Empty(t, c.Split("", 100))
	assert.Nil(t, Paragraphs(""))
}
