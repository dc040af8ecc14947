package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"

	"github.com/docforge/docforge/internal/faults"
	"github.com/docforge/docforge/internal/metadata"
	"github.com/docforge/docforge/pkg/log"
)

// DefaultExecBudget caps the wall-clock time of one generator run. Toolkit
// calls count against it, so slow assistant answers eat into the budget.
const DefaultExecBudget = 60 * time.Second

// Sandbox executes compiled generator source in an isolated JavaScript
// runtime. Each run gets a fresh runtime, so no mutable state survives
// between invocations, and the generator has no file or network access beyond
// the toolkit it is handed.
type Sandbox struct {
	budget time.Duration
}

func New(budget time.Duration) *Sandbox {
	if budget <= 0 {
		budget = DefaultExecBudget
	}
	return &Sandbox{budget: budget}
}

// Run loads source, locates the generate(toolkit, builder, context) entry
// point and invokes it. Any generator failure, including a missing entry
// point, a thrown exception, or an exceeded budget, surfaces as a
// GenerationFailed error and no output is returned.
func (s *Sandbox) Run(ctx context.Context, source string, kind metadata.TemplateKind, toolkit Toolkit, params map[string]any) (*Output, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	// Interrupt the runtime when the budget expires or the caller gives up.
	// The watcher goroutine exits once the run finishes.
	runCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt(runCtx.Err())
		case <-watcherDone:
		}
	}()

	if _, err := vm.RunString(source); err != nil {
		return nil, runFailure("generator source failed to load", err, runCtx, ctx)
	}

	entry, ok := goja.AssertFunction(vm.Get("generate"))
	if !ok {
		return nil, faults.New(faults.ErrGenerationFailed,
			"generator does not define generate(toolkit, builder, context)")
	}

	builder := NewBuilder(kind)
	if params == nil {
		params = map[string]any{}
	}

	_, err := entry(goja.Undefined(),
		vm.ToValue(s.toolkitObject(runCtx, toolkit)),
		vm.ToValue(s.builderObject(builder)),
		vm.ToValue(params),
	)
	if err != nil {
		return nil, runFailure("generator execution failed", err, runCtx, ctx)
	}

	return builder.Output(), nil
}

// toolkitObject bridges the toolkit into the runtime. Goja throws a returned
// non-nil error as a JS exception, so a generator can try/catch an individual
// query failure and continue with the rest of the document.
func (s *Sandbox) toolkitObject(ctx context.Context, toolkit Toolkit) map[string]any {
	return map[string]any{
		"queryStructured": func(prompt string) (any, error) {
			value, err := toolkit.QueryStructured(ctx, prompt)
			if err != nil {
				log.Warn("Generator structured query failed: %v", err)
			}
			return value, err
		},
		"queryText": func(prompt string) (string, error) {
			value, err := toolkit.QueryText(ctx, prompt)
			if err != nil {
				log.Warn("Generator text query failed: %v", err)
			}
			return value, err
		},
	}
}

func (s *Sandbox) builderObject(b *Builder) map[string]any {
	return map[string]any{
		"paragraph": func(text string) error {
			return b.paragraph([]Run{{Text: text}})
		},
		"styledParagraph": func(runs []Run) error {
			return b.paragraph(runs)
		},
		"heading": func(text string, level int) error {
			return b.heading(text, level)
		},
		"table": func(rows [][]string, style string) error {
			return b.table(rows, style)
		},
		"setCell": func(sheet, ref string, value any) error {
			return b.setCell(sheet, ref, value)
		},
		"setRange": func(sheet, ref string, values [][]any) error {
			return b.setRange(sheet, ref, values)
		},
		"insertRow": func(sheet string, afterRow int, values []any, copyStyleFromRow int) error {
			return b.insertRow(sheet, afterRow, values, copyStyleFromRow)
		},
	}
}

func runFailure(message string, err error, runCtx, callerCtx context.Context) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if callerCtx.Err() != nil {
			return faults.Wrap(callerCtx.Err(), faults.ErrGenerationFailed, "generator run cancelled")
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return faults.New(faults.ErrGenerationFailed, "generator exceeded execution budget")
		}
	}
	return faults.Wrap(err, faults.ErrGenerationFailed, message)
}
