package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"glossa/internal/annotate"
	"glossa/internal/errinfo"
	"glossa/internal/rpc"
)

const apiVersion = "1"

// ServeCmd speaks JSON-RPC over stdin/stdout. Nothing else may write to
// stdout while it runs.
type ServeCmd struct{}

type engineInfo struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	DataDir    string `json:"data_dir"`
}

type inputParams struct {
	Input       string `json:"input"`
	ChunkTokens int    `json:"chunk_tokens,omitempty"`
}

type progressParams struct {
	Chunk int    `json:"chunk"`
	Total int    `json:"total"`
	State string `json:"state"`
	Label string `json:"label,omitempty"`
	Error string `json:"error,omitempty"`
}

type annotateResult struct {
	Output    string `json:"output"`
	Chunks    int    `json:"chunks"`
	CacheHits int    `json:"cache_hits"`
	Annotated int    `json:"annotated"`
	Shrunk    int    `json:"shrunk"`
	Attempts  int    `json:"attempts"`
	Rejected  int    `json:"rejected"`
	Footnotes int    `json:"footnotes"`
	Stale     bool   `json:"stale"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// service holds the RPC methods. Annotation runs are serialized because
// two runs on one manuscript would share a checkpoint directory.
type service struct {
	app    *app
	notify func(method string, params any)
	runMu  sync.Mutex
}

func progressNotifier(notify func(string, any)) annotate.Progress {
	return func(ev annotate.Event) {
		p := progressParams{Chunk: ev.Chunk, Total: ev.Total, State: ev.State.String(), Label: ev.Label}
		if ev.Err != nil {
			p.Error = ev.Err.Error()
		}
		notify("AnnotateProgress", p)
	}
}

func decodeParams(params json.RawMessage, dst any) *errinfo.ErrorInfo {
	if len(params) == 0 {
		return errinfo.InvalidParams("params required")
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return errinfo.InvalidParams(err.Error())
	}
	return nil
}

func requireInput(input string) *errinfo.ErrorInfo {
	if input == "" {
		return errinfo.InvalidParams("input is required")
	}
	return nil
}

func (s *service) EngineGetInfo(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	return engineInfo{Name: "glossa", Version: version, APIVersion: apiVersion, DataDir: s.app.cfg.DataDir}, nil
}

func (s *service) AnnotateRun(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var cmd AnnotateCmd
	if info := decodeParams(params, &cmd); info != nil {
		return nil, info
	}
	if info := requireInput(cmd.Input); info != nil {
		return nil, info
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	res, err := cmd.execute(ctx, s.app, progressNotifier(s.notify))
	if err != nil {
		return nil, errinfo.FromError(errinfo.PhaseAnnotate, err)
	}
	return annotateResult{
		Output:    cmd.outputPath(),
		Chunks:    res.Chunks,
		CacheHits: res.CacheHits,
		Annotated: res.Annotated,
		Shrunk:    res.Shrunk,
		Attempts:  res.Attempts,
		Rejected:  res.Rejected,
		Footnotes: res.Footnotes,
		Stale:     res.Stale,
		ElapsedMS: res.Elapsed.Milliseconds(),
	}, nil
}

func (s *service) AnnotateChunks(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p inputParams
	if info := decodeParams(params, &p); info != nil {
		return nil, info
	}
	if info := requireInput(p.Input); info != nil {
		return nil, info
	}
	plan, err := planChunks(s.app.cfg, p.Input, p.ChunkTokens)
	if err != nil {
		return nil, errinfo.FromError(errinfo.PhaseLoad, err)
	}
	return plan, nil
}

func (s *service) VocabGet(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p inputParams
	if info := decodeParams(params, &p); info != nil {
		return nil, info
	}
	if info := requireInput(p.Input); info != nil {
		return nil, info
	}
	st, err := inspectState(s.app.cfg, p.Input)
	if err != nil {
		return nil, errinfo.FromError(errinfo.PhaseLoad, err)
	}
	return st, nil
}

func (s *service) CacheClean(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p inputParams
	if info := decodeParams(params, &p); info != nil {
		return nil, info
	}
	if info := requireInput(p.Input); info != nil {
		return nil, info
	}
	// Clearing under a running annotation would remove its checkpoints.
	s.runMu.Lock()
	defer s.runMu.Unlock()
	res, err := cleanCache(s.app, p.Input)
	if err != nil {
		return nil, errinfo.FromError(errinfo.PhaseLoad, err)
	}
	return res, nil
}

// registerService wires every method of svc into server, mapping errors to
// RPC errors that carry the ErrorInfo as data.
func registerService(server *rpc.Server, svc *service) {
	register := func(method string, fn func(context.Context, json.RawMessage) (any, *errinfo.ErrorInfo)) {
		server.Register(method, func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
			result, errInfo := fn(ctx, params)
			if errInfo != nil {
				msg := errInfo.ErrorCode
				if errInfo.Detail != "" {
					msg = errInfo.Detail
				}
				return nil, &rpc.Error{Message: msg, Data: errInfo}
			}
			return result, nil
		})
	}
	register("EngineGetInfo", svc.EngineGetInfo)
	register("AnnotateRun", svc.AnnotateRun)
	register("AnnotateChunks", svc.AnnotateChunks)
	register("VocabGet", svc.VocabGet)
	register("CacheClean", svc.CacheClean)
}

func (c *ServeCmd) Run(g *Globals) error {
	a, err := bootstrap(g, "serve")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	server := rpc.NewServer(apiVersion, os.Stdin, os.Stdout, a.logger.With("component", "rpc"))
	registerService(server, &service{app: a, notify: server.Notify})
	a.logger.Info("serve.started", "api_version", apiVersion)
	if err := server.Serve(ctx); err != nil {
		return errinfo.Internal(errinfo.PhaseRPC, err.Error())
	}
	a.logger.Info("serve.stopped")
	return nil
}
