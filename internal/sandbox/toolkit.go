package sandbox

import (
	"context"
	"encoding/json"

	"github.com/docforge/docforge/internal/assistant"
	"github.com/docforge/docforge/internal/faults"
	"github.com/docforge/docforge/internal/progress"
)

// Toolkit is the only gateway a generator has to live customer data. A
// generator may call it zero or more times per run; it must never embed
// literal sample values observed at compile time.
type Toolkit interface {
	// QueryStructured sends a data prompt and returns the decoded JSON value.
	QueryStructured(ctx context.Context, prompt string) (any, error)
	// QueryText sends a data prompt and returns the raw text answer.
	QueryText(ctx context.Context, prompt string) (string, error)
}

const toolkitSystemPrompt = "You are a data retrieval assistant answering queries issued by a document generator. " +
	"Answer using only the workspace's customer data. " +
	"When asked for structured data, respond with JSON only. " +
	"Do not include any explanations."

// AssistantToolkit answers generator queries through the external assistant,
// scoped to one workspace. Every query is surfaced on the progress stream so
// callers can see what data the generator asked for.
type AssistantToolkit struct {
	client    assistant.Client
	workspace string
	sink      progress.Sink
}

func NewAssistantToolkit(client assistant.Client, workspace string, sink progress.Sink) *AssistantToolkit {
	if sink == nil {
		sink = progress.Nop{}
	}
	return &AssistantToolkit{client: client, workspace: workspace, sink: sink}
}

func (t *AssistantToolkit) QueryStructured(ctx context.Context, prompt string) (any, error) {
	t.sink.Emit(progress.Info(map[string]any{"query": prompt, "mode": "structured"}))

	raw, err := t.client.Complete(ctx, assistant.CompletionRequest{
		Workspace:    t.workspace,
		SystemPrompt: toolkitSystemPrompt,
		UserMessage:  prompt,
	})
	if err != nil {
		return nil, err
	}

	outcome := assistant.ExtractJSON(raw)
	if !outcome.Parsed {
		return nil, faults.New(faults.ErrEmptyGeneration, "structured query returned no parseable JSON").
			WithContext("raw", truncate(outcome.Raw, 200))
	}
	var value any
	if err := json.Unmarshal(outcome.Value, &value); err != nil {
		return nil, faults.Wrap(err, faults.ErrEmptyGeneration, "structured query returned malformed JSON")
	}
	return value, nil
}

func (t *AssistantToolkit) QueryText(ctx context.Context, prompt string) (string, error) {
	t.sink.Emit(progress.Info(map[string]any{"query": prompt, "mode": "text"}))

	return t.client.Complete(ctx, assistant.CompletionRequest{
		Workspace:    t.workspace,
		SystemPrompt: toolkitSystemPrompt,
		UserMessage:  prompt,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
