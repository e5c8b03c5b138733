package annotate

import (
	"context"
	"strings"

	"glossa/internal/llm"
	"glossa/internal/openai"
	"glossa/internal/prompt"
	"glossa/internal/retry"
)

// Annotator turns one chunk of prose into annotated text. recent lists
// terms annotated earlier in the run.
type Annotator interface {
	Annotate(ctx context.Context, text string, recent []string) (string, error)
}

// Caller performs one streaming call with a serialized payload.
type Caller interface {
	Call(ctx context.Context, payload []byte) (string, error)
}

type ModelSettings struct {
	Model       string
	Temperature float64
	Genre       string
	Tags        []string
}

// ModelAnnotator fills the prompt, serializes it once and hands the
// payload to the retry scheduler.
type ModelAnnotator struct {
	caller    Caller
	scheduler *retry.Scheduler
	settings  ModelSettings
}

func NewModelAnnotator(caller Caller, scheduler *retry.Scheduler, settings ModelSettings) *ModelAnnotator {
	return &ModelAnnotator{caller: caller, scheduler: scheduler, settings: settings}
}

func (a *ModelAnnotator) Annotate(ctx context.Context, text string, recent []string) (string, error) {
	turns := prompt.Build(prompt.Input{
		Genre:  a.settings.Genre,
		Recent: recent,
		Text:   text,
		Tags:   a.settings.Tags,
	})
	payload, err := openai.BuildPayload(llm.Request{
		Model:       a.settings.Model,
		Turns:       turns,
		Temperature: a.settings.Temperature,
	})
	if err != nil {
		return "", err
	}
	out, err := a.scheduler.Do(ctx, payload, a.caller.Call)
	if err != nil {
		return "", err
	}
	return stripFences(out), nil
}

// stripFences removes a Markdown code fence wrapped around the whole reply.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return text
	}
	inner := strings.TrimSuffix(trimmed, "```")
	nl := strings.IndexByte(inner, '\n')
	if nl < 0 {
		return text
	}
	return strings.TrimSpace(inner[nl+1:])
}
