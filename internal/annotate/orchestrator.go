// Package annotate drives a manuscript through chunking, model annotation,
// validation and checkpointing, then combines the checkpoints into one
// document with globally sequential footnote ids.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"glossa/internal/chunkcache"
	"glossa/internal/chunker"
	"glossa/internal/diff"
	"glossa/internal/footnote"
	"glossa/internal/journal"
	"glossa/internal/llm"
	"glossa/internal/manuscript"
	"glossa/internal/validate"
	"glossa/internal/vocab"
)

// ErrEmptyManuscript is returned when the body has no text to annotate.
var ErrEmptyManuscript = errors.New("manuscript body is empty")

type Options struct {
	Model         string
	ChunkTokens   int
	ChunkAttempts int
	ShrinkAfter   int
	ShrinkFactors []float64
	VocabLimit    int
	VocabPrompt   int
	Resume        bool
	KeepCache     bool
	ArchiveFailed bool
}

func DefaultOptions() Options {
	return Options{
		ChunkTokens:   1800,
		ChunkAttempts: 3,
		ShrinkAfter:   3,
		ShrinkFactors: []float64{0.5, 0.33, 0.25},
		VocabLimit:    vocab.DefaultLimit,
		VocabPrompt:   80,
		Resume:        true,
		ArchiveFailed: true,
	}
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithProgress(progress Progress) Option {
	return func(o *Orchestrator) {
		o.progress = progress
	}
}

// WithJournal records every attempt under runID.
func WithJournal(j *journal.Journal, runID string) Option {
	return func(o *Orchestrator) {
		o.journal = j
		o.runID = runID
	}
}

func WithValidator(v *validate.Validator) Option {
	return func(o *Orchestrator) {
		if v != nil {
			o.validator = v
		}
	}
}

// Sink persists the combined document. It runs before vocabulary state and
// checkpoints are dropped.
type Sink func(ctx context.Context, text string) error

type Result struct {
	Text      string
	Chunks    int
	CacheHits int
	Annotated int
	Shrunk    int
	Attempts  int
	Rejected  int
	// Footnotes is the number of model footnotes in Text.
	Footnotes int
	// Stale reports that checkpoints from a different run were discarded.
	Stale   bool
	Reasons []journal.ReasonCount
	Elapsed time.Duration
}

// Orchestrator processes chunks strictly in order: vocabulary memory and
// footnote continuity both depend on it.
type Orchestrator struct {
	annotator Annotator
	chunker   *chunker.Chunker
	validator *validate.Validator
	cache     *chunkcache.Store
	opts      Options
	logger    *slog.Logger
	progress  Progress
	journal   *journal.Journal
	runID     string
}

func New(annotator Annotator, ch *chunker.Chunker, cache *chunkcache.Store, opts Options, options ...Option) *Orchestrator {
	if opts.ChunkAttempts < 1 {
		opts.ChunkAttempts = 1
	}
	if opts.VocabLimit < 1 {
		opts.VocabLimit = vocab.DefaultLimit
	}
	o := &Orchestrator{
		annotator: annotator,
		chunker:   ch,
		validator: validate.New(),
		cache:     cache,
		opts:      opts,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// run holds the state of one Run call.
type run struct {
	*Orchestrator
	vocab *vocab.Store
	total int
	res   *Result
}

// chunkRun tracks one chunk through its state machine.
type chunkRun struct {
	index int
	state State
	dump  string
}

func (o *Orchestrator) Run(ctx context.Context, m *manuscript.Manuscript, sink Sink) (*Result, error) {
	started := time.Now()
	chunks := o.chunker.Split(m.Body, o.opts.ChunkTokens)
	if strings.TrimSpace(m.Body) == "" || len(chunks) == 0 {
		return nil, ErrEmptyManuscript
	}

	manifest := chunkcache.Manifest{
		Fingerprint: chunkcache.Fingerprint(m.Body, o.opts.ChunkTokens, o.opts.Model),
		Input:       m.Path,
		Model:       o.opts.Model,
		ChunkTokens: o.opts.ChunkTokens,
		Chunks:      len(chunks),
	}
	stale, err := o.cache.Prepare(manifest, o.opts.Resume)
	if err != nil {
		return nil, err
	}
	if stale {
		o.logger.Warn("annotate.cache_stale", "dir", o.cache.Dir(), "resume", o.opts.Resume)
	}
	store, err := vocab.Load(o.cache.VocabPath(), o.opts.VocabLimit)
	if err != nil {
		return nil, err
	}

	r := &run{Orchestrator: o, vocab: store, total: len(chunks), res: &Result{Chunks: len(chunks), Stale: stale}}
	o.logger.Info("annotate.start",
		"input", m.Path,
		"chunks", len(chunks),
		"source_notes", len(m.Notes),
		"vocab_terms", store.Len(),
	)
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return r.res, err
		}
		if err := r.processChunk(ctx, chunk); err != nil {
			return r.res, err
		}
	}

	text, next, err := r.combine(m)
	if err != nil {
		return r.res, err
	}
	r.res.Text = text
	r.res.Footnotes = next - 1
	if sink != nil {
		if err := sink(ctx, text); err != nil {
			return r.res, err
		}
	}
	if err := store.Delete(); err != nil {
		return r.res, err
	}
	r.res.Reasons = r.summary(ctx)
	if !o.opts.KeepCache {
		if err := o.cache.Clear(); err != nil {
			return r.res, err
		}
	}
	r.res.Elapsed = time.Since(started)
	o.logger.Info("annotate.done",
		"chunks", r.res.Chunks,
		"cache_hits", r.res.CacheHits,
		"shrunk", r.res.Shrunk,
		"attempts", r.res.Attempts,
		"footnotes", r.res.Footnotes,
		"elapsed", r.res.Elapsed.String(),
	)
	return r.res, nil
}

func (r *run) enter(cs *chunkRun, to State, label string, cause error) {
	if cs.state != to && !CanTransition(cs.state, to) {
		r.logger.Error("annotate.invalid_transition", "chunk", cs.index, "from", cs.state.String(), "to", to.String())
	}
	cs.state = to
	r.report(cs, label, cause)
}

func (r *run) report(cs *chunkRun, label string, cause error) {
	if r.progress != nil {
		r.progress(Event{Chunk: cs.index, Total: r.total, State: cs.state, Label: label, Err: cause})
	}
}

func (r *run) processChunk(ctx context.Context, chunk chunker.Chunk) error {
	cs := &chunkRun{index: chunk.Index, state: StatePending}
	r.report(cs, "", nil)

	if r.opts.Resume {
		text, ok, err := r.cache.Get(chunk.Index)
		if err != nil {
			return &ChunkError{Index: chunk.Index, Err: err}
		}
		if ok {
			r.enter(cs, StateCacheHit, "", nil)
			r.res.CacheHits++
			r.record(ctx, chunk.Index, "cache", journal.OutcomeCached, "", 0, len(text))
			if err := r.remember(text); err != nil {
				return &ChunkError{Index: chunk.Index, Err: err}
			}
			r.logger.Info("annotate.cache_hit", "chunk", chunk.Index, "bytes", len(text))
			r.enter(cs, StateSuccess, "", nil)
			return nil
		}
	}

	r.enter(cs, StateAnnotating, "", nil)
	r.logger.Info("annotate.chunk_start", "chunk", chunk.Index, "total", r.total, "tokens", chunk.Tokens)
	text, err := r.annotateChunk(ctx, cs, chunk)
	if err != nil {
		r.enter(cs, StateTerminalFailure, "", err)
		r.logger.Error("annotate.chunk_failed", "chunk", chunk.Index, "error", err.Error(), "dump", cs.dump)
		return &ChunkError{Index: chunk.Index, Err: err, Dump: cs.dump}
	}

	local := footnote.EnsureAtEnd(strings.TrimSpace(text))
	local, _ = footnote.Renumber(local, 1)
	if err := r.cache.Put(chunk.Index, local); err != nil {
		return &ChunkError{Index: chunk.Index, Err: err}
	}
	if err := r.remember(local); err != nil {
		return &ChunkError{Index: chunk.Index, Err: err}
	}
	r.res.Annotated++
	r.enter(cs, StateSuccess, "", nil)
	return nil
}

// annotateChunk runs the ordinary attempts and escalates to the shrink
// fallback once the trigger condition holds.
func (r *run) annotateChunk(ctx context.Context, cs *chunkRun, chunk chunker.Chunk) (string, error) {
	var last error
	for attempt := 1; attempt <= r.opts.ChunkAttempts; attempt++ {
		text, err := r.attempt(ctx, cs, fmt.Sprintf("a%d", attempt), chunk.Text)
		if err == nil {
			return text, nil
		}
		last = err
		if !retryable(err) {
			return "", err
		}
		if attempt >= r.opts.ShrinkAfter && shrinkable(err) {
			return r.shrink(ctx, cs, chunk, err)
		}
	}
	return "", last
}

// attempt performs one annotation call and validates the candidate.
func (r *run) attempt(ctx context.Context, cs *chunkRun, label, original string) (string, error) {
	r.report(cs, label, nil)
	r.res.Attempts++
	started := time.Now()
	candidate, err := r.annotator.Annotate(ctx, original, r.vocab.Recent(r.opts.VocabPrompt))
	if err != nil {
		r.record(ctx, cs.index, label, journal.OutcomeError, errorReason(err), time.Since(started), 0)
		r.logger.Warn("annotate.attempt_failed",
			"chunk", cs.index,
			"label", label,
			"retryable", retryable(err),
			"error", err.Error(),
		)
		return "", err
	}
	if err := r.validator.Validate(original, candidate); err != nil {
		r.res.Rejected++
		r.record(ctx, cs.index, label, journal.OutcomeRejected, string(validate.ReasonOf(err)), time.Since(started), len(candidate))
		if r.opts.ArchiveFailed {
			r.archive(cs, label, original, candidate, err)
		}
		r.logger.Warn("annotate.attempt_rejected", "chunk", cs.index, "label", label, "error", err.Error())
		return "", err
	}
	r.record(ctx, cs.index, label, journal.OutcomeAccepted, "", time.Since(started), len(candidate))
	return candidate, nil
}

func (r *run) archive(cs *chunkRun, label, original, candidate string, cause error) {
	excerpt := diff.Excerpt(original, footnote.StripMarkup(candidate), diff.DefaultExcerptLines)
	path, err := r.cache.WriteFailed(cs.index, label, cause.Error(), excerpt, candidate)
	if err != nil {
		r.logger.Warn("annotate.archive_failed", "chunk", cs.index, "label", label, "error", err.Error())
		return
	}
	cs.dump = path
}

// remember feeds accepted text into vocabulary memory and flushes it.
func (r *run) remember(text string) error {
	added := r.vocab.Update(text)
	if err := r.vocab.Save(); err != nil {
		return err
	}
	if len(added) > 0 {
		r.logger.Debug("vocab.updated", "added", len(added), "terms", r.vocab.Len())
	}
	return nil
}

// combine is the only place where document-wide footnote ids are assigned.
func (r *run) combine(m *manuscript.Manuscript) (string, int, error) {
	parts := make([]string, 0, r.total)
	for index := 1; index <= r.total; index++ {
		text, err := r.cache.Read(index)
		if err != nil {
			return "", 0, err
		}
		parts = append(parts, text)
	}
	text, next := footnote.Combine(parts, 1)
	ids := make([]string, len(m.Notes))
	for i, note := range m.Notes {
		ids[i] = note.ID
	}
	if err := validate.SourceNotes(text, ids); err != nil {
		return "", 0, fmt.Errorf("combined document: %w", err)
	}
	if appendix := m.Appendix(); appendix != "" {
		text += "\n\n" + appendix
	}
	if err := validate.Pairs(text); err != nil {
		return "", 0, fmt.Errorf("combined document: %w", err)
	}
	r.logger.Info("annotate.combined", "chunks", r.total, "footnotes", next-1, "bytes", len(text))
	return text + "\n", next, nil
}

func (r *run) record(ctx context.Context, chunk int, label string, outcome journal.Outcome, reason string, took time.Duration, size int) {
	if r.journal == nil {
		return
	}
	err := r.journal.Record(ctx, journal.Attempt{
		RunID:    r.runID,
		Chunk:    chunk,
		Label:    label,
		Outcome:  outcome,
		Reason:   reason,
		Duration: took,
		Bytes:    size,
	})
	if err != nil {
		r.logger.Warn("journal.record_failed", "chunk", chunk, "label", label, "error", err.Error())
	}
}

func (r *run) summary(ctx context.Context) []journal.ReasonCount {
	if r.journal == nil {
		return nil
	}
	counts, err := r.journal.Summary(ctx, r.runID)
	if err != nil {
		r.logger.Warn("journal.summary_failed", "error", err.Error())
		return nil
	}
	return counts
}

// retryable covers rejected candidates and transient call failures.
func retryable(err error) bool {
	if validate.ReasonOf(err) != "" {
		return true
	}
	return llm.IsRetryable(err)
}

// shrinkable reports whether a failure suggests the chunk is too large.
func shrinkable(err error) bool {
	return llm.IsTimeout(err) || validate.ReasonOf(err) == validate.ReasonSourceMismatch
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case llm.StatusOf(err) != 0:
		return fmt.Sprintf("status_%d", llm.StatusOf(err))
	case llm.IsTimeout(err):
		return "timeout"
	case errors.Is(err, llm.ErrEmptyResponse):
		return "empty_response"
	}
	return "error"
}
