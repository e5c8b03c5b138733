package annotate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glossa/internal/chunkcache"
	"glossa/internal/chunker"
	"glossa/internal/journal"
	"glossa/internal/llm"
	"glossa/internal/manuscript"
	"glossa/internal/validate"
)

type wordCount struct{}

func (wordCount) Estimate(text string) int { return len(strings.Fields(text)) }

type scripted struct {
	mu     sync.Mutex
	texts  []string
	recent [][]string
	reply  func(call int, text string) (string, error)
}

func (s *scripted) Annotate(_ context.Context, text string, recent []string) (string, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.recent = append(s.recent, recent)
	call := len(s.texts)
	s.mu.Unlock()
	return s.reply(call, text)
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

// firstWordNote marks the end of text and defines the note on its first word.
func firstWordNote(text string) string {
	first := strings.Fields(text)[0]
	return text + "[^1]\n\n[^1]: [TERM] " + first + ": note."
}

type harness struct {
	cache  *chunkcache.Store
	events []Event
}

func newOrchestrator(t *testing.T, dir string, ann Annotator, mutate func(*Options), extra ...Option) (*Orchestrator, *harness) {
	t.Helper()
	cache, err := chunkcache.Open(dir)
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Model = "test-model"
	opts.ChunkTokens = 100
	if mutate != nil {
		mutate(&opts)
	}
	h := &harness{cache: cache}
	options := append([]Option{WithProgress(func(ev Event) { h.events = append(h.events, ev) })}, extra...)
	return New(ann, chunker.New(wordCount{}, 0, 1), cache, opts, options...), h
}

func TestRunSingleChunkKeepsMinimalNumbering(t *testing.T) {
	reply := "The sun[^1] set.[^2]\n\nparagraph two\n\n[^1]: [TERM] sun: our star.\n[^2]: [CONTEXT] set: went below the horizon."
	ann := &scripted{reply: func(int, string) (string, error) { return reply, nil }}
	dir := filepath.Join(t.TempDir(), "book")
	orch, h := newOrchestrator(t, dir, ann, func(o *Options) { o.KeepCache = true })

	var sunk string
	res, err := orch.Run(context.Background(), manuscript.Parse("The sun set.\n\nparagraph two\n"), func(_ context.Context, text string) error {
		sunk = text
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, reply+"\n", res.Text)
	assert.Equal(t, res.Text, sunk)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 2, res.Footnotes)
	assert.Equal(t, 1, ann.calls())

	checkpoint, err := h.cache.Read(1)
	require.NoError(t, err)
	assert.Equal(t, reply, checkpoint)

	_, err = os.Stat(h.cache.VocabPath())
	assert.True(t, errors.Is(err, os.ErrNotExist), "vocabulary is dropped after a complete run")

	var states []State
	var labels []string
	for _, ev := range h.events {
		states = append(states, ev.State)
		labels = append(labels, ev.Label)
	}
	assert.Equal(t, []State{StatePending, StateAnnotating, StateAnnotating, StateSuccess}, states)
	assert.Equal(t, []string{"", "", "a1", ""}, labels)
}

func TestRunRenumbersAcrossChunks(t *testing.T) {
	replies := map[string]string{
		"Alpha beta gamma delta.":   "Alpha[^1] beta gamma[^2] delta.\n\n[^1]: [TERM] Alpha: first.\n[^2]: [TERM] gamma: third.",
		"Epsilon zeta eta theta.": "Epsilon[^1] zeta[^2] eta theta[^3].\n\n[^1]: [TERM] Epsilon: fifth.\n[^2]: [TERM] zeta: sixth.\n[^3]: [TERM] theta: eighth.",
	}
	ann := &scripted{reply: func(_ int, text string) (string, error) { return replies[text], nil }}
	dir := filepath.Join(t.TempDir(), "book")
	orch, _ := newOrchestrator(t, dir, ann, func(o *Options) { o.ChunkTokens = 4 })

	res, err := orch.Run(context.Background(), manuscript.Parse("Alpha beta gamma delta.\n\nEpsilon zeta eta theta."), nil)
	require.NoError(t, err)

	want := "Alpha[^1] beta gamma[^2] delta.\n\n[^1]: [TERM] Alpha: first.\n[^2]: [TERM] gamma: third." +
		"\n\nEpsilon[^3] zeta[^4] eta theta[^5].\n\n[^3]: [TERM] Epsilon: fifth.\n[^4]: [TERM] zeta: sixth.\n[^5]: [TERM] theta: eighth.\n"
	assert.Equal(t, want, res.Text)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 5, res.Footnotes)

	require.Len(t, ann.recent, 2)
	assert.Empty(t, ann.recent[0])
	assert.Equal(t, []string{"Alpha", "gamma"}, ann.recent[1])

	_, err = os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "checkpoint directory is removed")
}

func TestRunShrinksAfterRepeatedFailures(t *testing.T) {
	ann := &scripted{reply: func(call int, text string) (string, error) {
		switch call {
		case 1, 2:
			return "alpha beta delta\n\nepsilon zeta eta theta", nil
		case 3:
			return "", fmt.Errorf("%w after 1s", llm.ErrTimeout)
		}
		return firstWordNote(text), nil
	}}
	dir := filepath.Join(t.TempDir(), "book")
	j, err := journal.Open(filepath.Join(t.TempDir(), "attempts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	orch, h := newOrchestrator(t, dir, ann, func(o *Options) {
		o.ChunkTokens = 8
		o.KeepCache = true
	}, WithJournal(j, "run-1"))

	res, err := orch.Run(context.Background(), manuscript.Parse("alpha beta gamma delta\n\nepsilon zeta eta theta"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Shrunk)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, 2, res.Rejected)
	assert.Equal(t, []string{"alpha beta gamma delta", "epsilon zeta eta theta"}, ann.texts[3:])

	checkpoint, err := h.cache.Read(1)
	require.NoError(t, err)
	assert.Equal(t, "alpha beta gamma delta[^1]\n\nepsilon zeta eta theta[^2]\n\n[^1]: [TERM] alpha: note.\n[^2]: [TERM] epsilon: note.", checkpoint)
	assert.Equal(t, checkpoint+"\n", res.Text)

	dumps, err := h.cache.FailedDumps()
	require.NoError(t, err)
	require.Len(t, dumps, 2)
	assert.Equal(t, "0001_a1.md", filepath.Base(dumps[0]))
	data, err := os.ReadFile(dumps[1])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# reason: source_mismatch"))

	var sawShrink bool
	for _, ev := range h.events {
		sawShrink = sawShrink || ev.State == StateShrinkFallback
	}
	assert.True(t, sawShrink)

	attempts, err := j.Attempts(context.Background(), "run-1", 1)
	require.NoError(t, err)
	var labels []string
	for _, a := range attempts {
		labels = append(labels, a.Label)
	}
	assert.Equal(t, []string{"a1", "a2", "a3", "s1a1", "s2a1"}, labels)
	assert.Equal(t, journal.OutcomeError, attempts[2].Outcome)
	assert.Equal(t, "timeout", attempts[2].Reason)
}

func TestRunMissingTagIsTerminalWithoutShrink(t *testing.T) {
	ann := &scripted{reply: func(int, string) (string, error) {
		return "alpha beta[^1]\n\n[^1]: no tag here", nil
	}}
	dir := filepath.Join(t.TempDir(), "book")
	orch, h := newOrchestrator(t, dir, ann, nil)

	_, err := orch.Run(context.Background(), manuscript.Parse("alpha beta"), nil)
	require.Error(t, err)

	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, 1, chunkErr.ChunkIndex())
	assert.Equal(t, validate.ReasonMissingTag, validate.ReasonOf(err))
	assert.Equal(t, 3, ann.calls())
	require.NotEmpty(t, chunkErr.DumpPath())
	data, err := os.ReadFile(chunkErr.DumpPath())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# reason: missing_tag"))

	last := h.events[len(h.events)-1]
	assert.Equal(t, StateTerminalFailure, last.State)
	for _, ev := range h.events {
		assert.NotEqual(t, StateShrinkFallback, ev.State)
	}
}

func TestRunResumesFromCheckpoints(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "book")
	body := "Alpha beta gamma delta.\n\nEpsilon zeta eta theta."
	first := &scripted{reply: func(_ int, text string) (string, error) {
		if strings.HasPrefix(text, "Epsilon") {
			return "", &llm.StatusError{Status: 400, Message: "bad request"}
		}
		return "Alpha[^1] beta gamma delta.\n\n[^1]: [TERM] Alpha: first.", nil
	}}
	orch, _ := newOrchestrator(t, dir, first, func(o *Options) { o.ChunkTokens = 4 })
	_, err := orch.Run(context.Background(), manuscript.Parse(body), nil)
	require.Error(t, err)
	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, 2, chunkErr.Index)
	assert.Equal(t, 400, llm.StatusOf(err))
	assert.Equal(t, 2, first.calls(), "non-retryable errors are not retried")

	second := &scripted{reply: func(_ int, text string) (string, error) {
		return "Epsilon[^1] zeta eta theta.\n\n[^1]: [PLACE] Epsilon: fifth.", nil
	}}
	orch, h := newOrchestrator(t, dir, second, func(o *Options) { o.ChunkTokens = 4 })
	res, err := orch.Run(context.Background(), manuscript.Parse(body), nil)
	require.NoError(t, err)

	assert.False(t, res.Stale)
	assert.Equal(t, 1, res.CacheHits)
	assert.Equal(t, []string{"Epsilon zeta eta theta."}, second.texts)
	assert.Equal(t, []string{"Alpha"}, second.recent[0])
	assert.Contains(t, res.Text, "Epsilon[^2] zeta")
	assert.Contains(t, res.Text, "[^2]: [PLACE] Epsilon: fifth.")

	assert.Equal(t, StateCacheHit, h.events[1].State)
}

func TestRunDiscardsStaleCheckpoints(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "book")
	ann := &scripted{reply: func(_ int, text string) (string, error) { return firstWordNote(text), nil }}
	orch, _ := newOrchestrator(t, dir, ann, func(o *Options) { o.KeepCache = true })
	_, err := orch.Run(context.Background(), manuscript.Parse("one two three"), nil)
	require.NoError(t, err)

	orch, _ = newOrchestrator(t, dir, ann, func(o *Options) {
		o.KeepCache = true
		o.Model = "other-model"
	})
	res, err := orch.Run(context.Background(), manuscript.Parse("one two three"), nil)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, 0, res.CacheHits)
	assert.Equal(t, 2, ann.calls())
}

func TestRunAppendsSourceNotes(t *testing.T) {
	ann := &scripted{reply: func(int, string) (string, error) {
		return "Word[^src-a] here[^1].\n\n[^1]: [TERM] here: this place.", nil
	}}
	orch, _ := newOrchestrator(t, filepath.Join(t.TempDir(), "book"), ann, nil)

	res, err := orch.Run(context.Background(), manuscript.Parse("Word[^a] here.\n\n[^a]: Source note."), nil)
	require.NoError(t, err)
	assert.Equal(t, "Word[^src-a] here[^1].\n\n[^1]: [TERM] here: this place.\n\n[^src-a]: Source note.\n", res.Text)
	assert.Equal(t, []string{"Word[^src-a] here."}, ann.texts)
}

func TestRunRejectsEmptyManuscript(t *testing.T) {
	orch, _ := newOrchestrator(t, filepath.Join(t.TempDir(), "book"), &scripted{}, nil)
	_, err := orch.Run(context.Background(), manuscript.Parse("\n\n  \n"), nil)
	assert.ErrorIs(t, err, ErrEmptyManuscript)
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ann := &scripted{reply: func(int, string) (string, error) {
		cancel()
		return "", ctx.Err()
	}}
	orch, _ := newOrchestrator(t, filepath.Join(t.TempDir(), "book"), ann, nil)
	_, err := orch.Run(ctx, manuscript.Parse("one two"), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, ann.calls())
}

func TestSinkFailureKeepsCheckpoints(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "book")
	ann := &scripted{reply: func(_ int, text string) (string, error) { return firstWordNote(text), nil }}
	orch, h := newOrchestrator(t, dir, ann, nil)
	_, err := orch.Run(context.Background(), manuscript.Parse("one two"), func(context.Context, string) error {
		return errors.New("disk full")
	})
	require.Error(t, err)
	_, ok, err := h.cache.Get(1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunRejectsDroppedSourceMarker(t *testing.T) {
	ann := &scripted{reply: func(int, string) (string, error) {
		return "Word here[^1].\n\n[^1]: [TERM] here: this place.", nil
	}}
	orch, _ := newOrchestrator(t, filepath.Join(t.TempDir(), "book"), ann, func(o *Options) { o.ShrinkAfter = 3 })

	_, err := orch.Run(context.Background(), manuscript.Parse("Word[^a] here.\n\n[^a]: Source note."), nil)
	require.Error(t, err)
	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, validate.ReasonSourceMismatch, validate.ReasonOf(err))
	assert.Contains(t, err.Error(), "source markers changed")
}

func TestRunTimeoutsOnSingleParagraphFailWithoutShrink(t *testing.T) {
	ann := &scripted{reply: func(int, string) (string, error) {
		return "", fmt.Errorf("%w after 1s", llm.ErrTimeout)
	}}
	orch, h := newOrchestrator(t, filepath.Join(t.TempDir(), "book"), ann, func(o *Options) {
		o.ChunkAttempts = 3
		o.ShrinkAfter = 3
	})

	_, err := orch.Run(context.Background(), manuscript.Parse("one long paragraph that cannot be split"), nil)
	require.Error(t, err)
	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, 1, chunkErr.ChunkIndex())
	assert.True(t, llm.IsTimeout(err))
	assert.Contains(t, err.Error(), "no shrink factor splits the chunk")
	assert.Equal(t, 3, ann.calls())

	require.NotEmpty(t, h.events)
	assert.Equal(t, StateTerminalFailure, h.events[len(h.events)-1].State)
	for _, ev := range h.events {
		assert.NotEqual(t, StateShrinkFallback, ev.State)
	}
}

func TestJournalOutlivesClearedCheckpoints(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "book")
	j, err := journal.Open(filepath.Join(t.TempDir(), "attempts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	ann := &scripted{reply: func(_ int, text string) (string, error) { return firstWordNote(text), nil }}
	orch, _ := newOrchestrator(t, dir, ann, nil, WithJournal(j, "run-2"))
	_, err = orch.Run(context.Background(), manuscript.Parse("one two"), nil)
	require.NoError(t, err)

	_, err = os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "checkpoint directory is removed")
	attempts, err := j.Attempts(context.Background(), "run-2", 1)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, journal.OutcomeAccepted, attempts[0].Outcome)
}
