package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"glossa/internal/annotate"
	"glossa/internal/appdirs"
	"glossa/internal/chunkcache"
	"glossa/internal/chunker"
	"glossa/internal/config"
	"glossa/internal/errinfo"
	"glossa/internal/journal"
	"glossa/internal/logging"
	"glossa/internal/manuscript"
	"glossa/internal/openai"
	"glossa/internal/publish"
	"glossa/internal/retry"
	"glossa/internal/tokens"
	"glossa/internal/validate"
	"glossa/internal/vocab"
)

type AnnotateCmd struct {
	Input       string `arg:"" help:"Manuscript to annotate" type:"existingfile" json:"input"`
	Output      string `short:"o" help:"Output path (default: <input>.annotated.md)" type:"path" json:"output,omitempty"`
	Genre       string `help:"Genre guidance: general, fiction, history, philosophy, religion" json:"genre,omitempty"`
	Model       string `help:"Model identifier" json:"model,omitempty"`
	ChunkTokens int    `name:"chunk-tokens" help:"Token budget per chunk" json:"chunk_tokens,omitempty"`
	NoResume    bool   `name:"no-resume" help:"Discard existing checkpoints and start over" json:"no_resume,omitempty"`
	KeepCache   bool   `name:"keep-cache" help:"Keep checkpoints after a successful run" json:"keep_cache,omitempty"`
}

// apply copies flag overrides onto cfg.
func (c *AnnotateCmd) apply(cfg *config.Config) {
	if c.Genre != "" {
		cfg.Annotate.Genre = c.Genre
	}
	if c.Model != "" {
		cfg.API.Model = c.Model
	}
	if c.ChunkTokens > 0 {
		cfg.Chunking.MaxTokens = c.ChunkTokens
	}
	if c.NoResume {
		cfg.Annotate.Resume = false
	}
	if c.KeepCache {
		cfg.Annotate.KeepCache = true
	}
}

func (c *AnnotateCmd) outputPath() string {
	if c.Output != "" {
		return c.Output
	}
	return defaultOutput(c.Input)
}

func defaultOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".annotated.md"
}

func titleOf(input string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (c *AnnotateCmd) Run(g *Globals) error {
	a, err := bootstrap(g, "annotate")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, err := c.execute(ctx, a, progressPrinter(a.out))
	if err != nil {
		return err
	}
	printSummary(a.out, res, c.outputPath())
	return nil
}

// execute runs one annotation and publishes the result. It is shared by the
// CLI command and the AnnotateRun RPC method.
func (c *AnnotateCmd) execute(ctx context.Context, a *app, progress annotate.Progress) (*annotate.Result, error) {
	cfg := a.cfg
	c.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := resolveAPIKey(&cfg, keyringFor(cfg)); err != nil {
		return nil, err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	a.logger.Debug("annotate.config", "config", logging.RedactAny(cfg.Fields()))

	m, err := manuscript.Load(c.Input)
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseLoad, err.Error())
	}
	output := c.outputPath()

	runID := uuid.NewString()
	logger := a.logger.With("run_id", runID)
	cache, err := chunkcache.Open(chunkcache.DirFor(appdirs.ChunksDir(cfg.DataDir), c.Input))
	if err != nil {
		return nil, err
	}
	journalPath := appdirs.JournalPath(cfg.DataDir)
	j, err := journal.Open(journalPath)
	if err != nil {
		logger.Warn("journal.open_failed", "path", journalPath, "error", err.Error())
		j = nil
	} else {
		defer j.Close()
	}

	client, err := openai.NewClient(openai.Options{
		BaseURL:       cfg.API.BaseURL,
		APIKey:        cfg.API.Key,
		Timeout:       cfg.API.Timeout,
		AllowInsecure: cfg.API.AllowInsecure,
		Logger:        logger.With("component", "openai"),
	})
	if err != nil {
		return nil, errinfo.ConfigInvalid(err.Error())
	}
	scheduler := retry.New(cfg.RetryPolicy(), retry.WithLogger(logger.With("component", "retry")))
	annotator := annotate.NewModelAnnotator(client, scheduler, annotate.ModelSettings{
		Model:       cfg.API.Model,
		Temperature: cfg.API.Temperature,
		Genre:       cfg.Annotate.Genre,
		Tags:        validate.DefaultTags,
	})
	est := tokens.NewEstimator(cfg.API.Model, cfg.Chunking.EstimatorCache)
	orch := annotate.New(annotator, chunker.New(est, cfg.Chunking.Margin, cfg.Chunking.MinTokens), cache,
		annotate.Options{
			Model:         cfg.API.Model,
			ChunkTokens:   cfg.Chunking.MaxTokens,
			ChunkAttempts: cfg.Annotate.ChunkAttempts,
			ShrinkAfter:   cfg.Annotate.ShrinkAfter,
			ShrinkFactors: cfg.Annotate.ShrinkFactors,
			VocabLimit:    cfg.Vocab.Limit,
			VocabPrompt:   cfg.Vocab.PromptTerms,
			Resume:        cfg.Annotate.Resume,
			KeepCache:     cfg.Annotate.KeepCache,
			ArchiveFailed: cfg.Annotate.ArchiveFailed,
		},
		annotate.WithLogger(logger),
		annotate.WithJournal(j, runID),
		annotate.WithProgress(progress),
	)

	sink := func(_ context.Context, text string) error {
		if err := publish.Publish(publish.MarkdownConverter{}, publish.FilePackager{}, titleOf(c.Input), text, output); err != nil {
			info := errinfo.FileWriteFailed(errinfo.PhasePublish, err.Error())
			info.DetailRef = output
			return info
		}
		return nil
	}
	return orch.Run(ctx, m, sink)
}

func progressPrinter(w io.Writer) annotate.Progress {
	return func(ev annotate.Event) {
		switch ev.State {
		case annotate.StateCacheHit, annotate.StateShrinkFallback, annotate.StateSuccess, annotate.StateTerminalFailure:
			fmt.Fprintf(w, "[%*d/%d] %s\n", len(fmt.Sprint(ev.Total)), ev.Chunk, ev.Total, ev.State)
		}
	}
}

func printSummary(w io.Writer, res *annotate.Result, output string) {
	size := uint64(len(res.Text))
	if info, err := os.Stat(output); err == nil {
		size = uint64(info.Size())
	}
	fmt.Fprintf(w, "wrote %s (%s, %s footnotes)\n", output, humanize.Bytes(size), humanize.Comma(int64(res.Footnotes)))
	fmt.Fprintf(w, "chunks: %d, cached: %d, shrunk: %d, attempts: %d, rejected: %d, elapsed: %s\n",
		res.Chunks, res.CacheHits, res.Shrunk, res.Attempts, res.Rejected, res.Elapsed.Round(time.Second))
	if res.Stale {
		fmt.Fprintln(w, "note: checkpoints from a different run were discarded")
	}
	for _, rc := range res.Reasons {
		reason := rc.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "  %-9s %-20s %d\n", rc.Outcome, reason, rc.Count)
	}
}

type ChunksCmd struct {
	Input       string `arg:"" help:"Manuscript to inspect" type:"existingfile"`
	ChunkTokens int    `name:"chunk-tokens" help:"Token budget per chunk"`
}

func (c *ChunksCmd) Run(g *Globals) error {
	a, err := bootstrap(g, "chunks")
	if err != nil {
		return err
	}
	defer a.Close()
	p, err := planChunks(a.cfg, c.Input, c.ChunkTokens)
	if err != nil {
		return err
	}
	writeChunkTable(a.out, p.Chunks, p.Budget, p.Notes)
	return nil
}

type chunkPlan struct {
	Chunks []chunker.Chunk `json:"chunks"`
	Budget int             `json:"budget"`
	Notes  int             `json:"source_notes"`
}

func planChunks(cfg config.Config, input string, chunkTokens int) (*chunkPlan, error) {
	if chunkTokens > 0 {
		cfg.Chunking.MaxTokens = chunkTokens
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := manuscript.Load(input)
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseLoad, err.Error())
	}
	est := tokens.NewEstimator(cfg.API.Model, cfg.Chunking.EstimatorCache)
	ch := chunker.New(est, cfg.Chunking.Margin, cfg.Chunking.MinTokens)
	return &chunkPlan{
		Chunks: ch.Split(m.Body, cfg.Chunking.MaxTokens),
		Budget: ch.EffectiveMax(cfg.Chunking.MaxTokens),
		Notes:  len(m.Notes),
	}, nil
}

func writeChunkTable(w io.Writer, chunks []chunker.Chunk, budget, notes int) {
	fmt.Fprintf(w, "%5s  %10s  %6s  %10s\n", "chunk", "paragraphs", "tokens", "size")
	total := 0
	for _, chunk := range chunks {
		marker := ""
		if chunk.Tokens > budget {
			marker = "  over budget"
		}
		fmt.Fprintf(w, "%5d  %10d  %6d  %10s%s\n",
			chunk.Index, chunk.Paragraphs, chunk.Tokens, humanize.Bytes(uint64(len(chunk.Text))), marker)
		total += chunk.Tokens
	}
	fmt.Fprintf(w, "%d chunks, %s tokens, effective budget %d, %d source notes\n",
		len(chunks), humanize.Comma(int64(total)), budget, notes)
}

type VocabCmd struct {
	Input string `arg:"" help:"Manuscript whose state to print"`
}

func (c *VocabCmd) Run(g *Globals) error {
	a, err := bootstrap(g, "vocab")
	if err != nil {
		return err
	}
	defer a.Close()
	st, err := inspectState(a.cfg, c.Input)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: %d checkpoints, %d failed dumps, %s\n",
		st.Dir, st.Checkpoints, st.Failed, humanize.Bytes(uint64(st.Bytes)))
	if len(st.Terms) == 0 {
		fmt.Fprintln(a.out, "no vocabulary memory")
		return nil
	}
	fmt.Fprintf(a.out, "%d of %d terms:\n", len(st.Terms), st.Limit)
	for _, term := range st.Terms {
		fmt.Fprintf(a.out, "  %s\n", term)
	}
	return nil
}

// cacheState describes the checkpoint directory and vocabulary memory of
// one manuscript.
type cacheState struct {
	Dir         string   `json:"dir"`
	Checkpoints int      `json:"checkpoints"`
	Failed      int      `json:"failed"`
	Bytes       int64    `json:"bytes"`
	Limit       int      `json:"limit"`
	Terms       []string `json:"terms"`
}

func inspectState(cfg config.Config, input string) (*cacheState, error) {
	dir := chunkcache.DirFor(appdirs.ChunksDir(cfg.DataDir), input)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return &cacheState{Dir: dir, Limit: cfg.Vocab.Limit, Terms: []string{}}, nil
	}
	cache, err := chunkcache.Open(dir)
	if err != nil {
		return nil, err
	}
	store, err := vocab.Load(cache.VocabPath(), cfg.Vocab.Limit)
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseLoad, err.Error())
	}
	stats, err := cache.Stats()
	if err != nil {
		return nil, err
	}
	return &cacheState{
		Dir:         cache.Dir(),
		Checkpoints: stats.Checkpoints,
		Failed:      stats.Failed,
		Bytes:       stats.TotalBytes,
		Limit:       store.Limit(),
		Terms:       store.Recent(0),
	}, nil
}

type CleanCmd struct {
	Input string `arg:"" help:"Manuscript whose checkpoints to delete"`
}

func (c *CleanCmd) Run(g *Globals) error {
	a, err := bootstrap(g, "clean")
	if err != nil {
		return err
	}
	defer a.Close()
	res, err := cleanCache(a, c.Input)
	if err != nil {
		return err
	}
	if !res.Removed {
		fmt.Fprintf(a.out, "nothing to clean at %s\n", res.Dir)
		return nil
	}
	fmt.Fprintf(a.out, "removed %s (%s)\n", res.Dir, humanize.Bytes(uint64(res.Bytes)))
	return nil
}

type cleanResult struct {
	Dir     string `json:"dir"`
	Removed bool   `json:"removed"`
	Bytes   int64  `json:"bytes"`
}

func cleanCache(a *app, input string) (*cleanResult, error) {
	dir := chunkcache.DirFor(appdirs.ChunksDir(a.cfg.DataDir), input)
	if _, err := os.Stat(dir); err != nil {
		return &cleanResult{Dir: dir}, nil
	}
	cache, err := chunkcache.Open(dir)
	if err != nil {
		return nil, err
	}
	stats, err := cache.Stats()
	if err != nil {
		return nil, err
	}
	if err := cache.Clear(); err != nil {
		return nil, err
	}
	a.logger.Info("clean.removed", "dir", dir, "bytes", stats.TotalBytes)
	return &cleanResult{Dir: dir, Removed: true, Bytes: stats.TotalBytes}, nil
}
