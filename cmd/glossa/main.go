// Command glossa annotates a manuscript with tagged explanatory footnotes
// using a streaming model endpoint, resuming from per-chunk checkpoints.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"glossa/internal/appdirs"
	"glossa/internal/config"
	"glossa/internal/envfile"
	"glossa/internal/errinfo"
	"glossa/internal/logging"
)

const version = "0.4.0"

// Globals are flags shared by every command.
type Globals struct {
	Verbose bool `short:"v" help:"Log debug events to the console"`
}

var CLI struct {
	Globals

	Annotate AnnotateCmd `cmd:"" help:"Annotate a manuscript with footnotes"`
	Chunks   ChunksCmd   `cmd:"" help:"Show how a manuscript would be chunked, without calling the model"`
	Vocab    VocabCmd    `cmd:"" help:"Print the vocabulary memory and checkpoint state of a manuscript"`
	Clean    CleanCmd    `cmd:"" help:"Delete the checkpoint directory of a manuscript"`
	Key      KeyCmd      `cmd:"" help:"Manage the stored API key"`
	Serve    ServeCmd    `cmd:"" help:"Serve JSON-RPC on stdin/stdout for editor integrations"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

// app is the per-invocation environment shared by commands.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	out    io.Writer
	close  func() error
}

func bootstrap(g *Globals, component string) (*app, error) {
	envResult := envfile.Load()
	cfg, cfgErr := config.FromEnv()
	if cfgErr != nil {
		return nil, errinfo.ConfigInvalid(cfgErr.Error())
	}
	fileLog, logErr := logging.NewFileLogger(appdirs.LogsDir(cfg.DataDir), cfg.Debug)
	logger := logging.Tee(logging.NewConsole(os.Stderr, g.Verbose), fileLog.Logger).With("component", component)
	if fileLog.Enabled {
		logger.Debug("glossa.logging_enabled", "path", fileLog.Path)
	}
	if envResult.Loaded {
		logger.Debug("glossa.env_loaded", "path", envResult.Path, "keys", envResult.Keys)
	}
	if envResult.Err != nil {
		logger.Warn("glossa.env_load_failed", "path", envResult.Path, "error", envResult.Err.Error())
	}
	if logErr != nil {
		logger.Warn("glossa.log_setup_failed", "error", logErr.Error())
	}
	return &app{cfg: cfg, logger: logger, out: os.Stdout, close: fileLog.Close}, nil
}

func (a *app) Close() {
	if a.close != nil {
		_ = a.close()
	}
}

type VersionCmd struct{}

func (VersionCmd) Run() error {
	fmt.Println("glossa", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("glossa"),
		kong.Description("Footnote annotation for long manuscripts"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(&CLI.Globals)
	os.Exit(report(os.Stderr, err))
}

// report prints err with its code and suggested actions and returns the
// process exit code.
func report(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	info := errinfo.FromError(errinfo.PhaseAnnotate, err)
	fmt.Fprintf(w, "glossa: %s\n", info.Error())
	if info.DetailRef != "" {
		fmt.Fprintf(w, "  see: %s\n", info.DetailRef)
	}
	for _, action := range info.Actions {
		fmt.Fprintf(w, "  hint: %s\n", actionHint(action))
	}
	return info.ExitCode()
}

func actionHint(action string) string {
	switch action {
	case errinfo.ActionRetry:
		return "try again later"
	case errinfo.ActionResume:
		return "run the same command again to resume from the last checkpoint"
	case errinfo.ActionCheckConfig:
		return "check GLOSSA_* variables and the .env file"
	case errinfo.ActionInspectDumps:
		return "inspect the rejected candidates in the failed/ checkpoint folder"
	}
	return action
}
