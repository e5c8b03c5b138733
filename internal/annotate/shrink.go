package annotate

import (
	"context"
	"fmt"
	"math"
	"strings"

	"glossa/internal/chunker"
	"glossa/internal/footnote"
)

// shrink re-splits a failing chunk under smaller budgets and annotates the
// pieces independently. Sub-chunks do not shrink further.
func (r *run) shrink(ctx context.Context, cs *chunkRun, chunk chunker.Chunk, cause error) (string, error) {
	subs, factor := r.splitSmaller(chunk)
	if len(subs) < 2 {
		r.logger.Warn("annotate.shrink_unavailable", "chunk", chunk.Index, "paragraphs", chunk.Paragraphs)
		return "", fmt.Errorf("%w; no shrink factor splits the chunk", cause)
	}
	r.enter(cs, StateShrinkFallback, "", cause)
	r.res.Shrunk++
	r.logger.Info("annotate.shrink",
		"chunk", chunk.Index,
		"factor", factor,
		"sub_chunks", len(subs),
		"cause", cause.Error(),
	)

	parts := make([]string, 0, len(subs))
	for _, sub := range subs {
		text, err := r.annotateSub(ctx, cs, sub)
		if err != nil {
			return "", fmt.Errorf("sub-chunk %d/%d: %w", sub.Index, len(subs), err)
		}
		local := footnote.EnsureAtEnd(strings.TrimSpace(text))
		local, _ = footnote.Renumber(local, 1)
		parts = append(parts, local)
	}
	combined, _ := footnote.Combine(parts, 1)
	return combined, nil
}

// splitSmaller returns the sub-chunks of the first factor that yields more
// than one non-empty piece.
func (r *run) splitSmaller(chunk chunker.Chunk) ([]chunker.Chunk, float64) {
	for _, factor := range r.opts.ShrinkFactors {
		budget := int(math.Round(float64(r.opts.ChunkTokens) * factor))
		if budget < 1 {
			budget = 1
		}
		var subs []chunker.Chunk
		for _, sub := range r.chunker.Split(chunk.Text, budget) {
			if strings.TrimSpace(sub.Text) == "" {
				continue
			}
			sub.Index = len(subs) + 1
			subs = append(subs, sub)
		}
		if len(subs) > 1 {
			return subs, factor
		}
	}
	return nil, 0
}

func (r *run) annotateSub(ctx context.Context, cs *chunkRun, sub chunker.Chunk) (string, error) {
	var last error
	for attempt := 1; attempt <= r.opts.ChunkAttempts; attempt++ {
		text, err := r.attempt(ctx, cs, fmt.Sprintf("s%da%d", sub.Index, attempt), sub.Text)
		if err == nil {
			return text, nil
		}
		last = err
		if !retryable(err) {
			return "", err
		}
	}
	return "", last
}
