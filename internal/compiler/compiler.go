package compiler

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/docforge/docforge/internal/assistant"
	"github.com/docforge/docforge/internal/faults"
	"github.com/docforge/docforge/internal/metadata"
	"github.com/docforge/docforge/internal/progress"
	"github.com/docforge/docforge/pkg/log"
)

// CompileRequest asks for a template's generator to be (re)built.
type CompileRequest struct {
	Slug string
	// RevisionInstructions, when set on an already-compiled template, take
	// priority over the fresh-compile instructions in the prompt. The
	// compiler never diffs code: every compile regenerates the artifact.
	RevisionInstructions string
	// JobID is echoed on the final progress event so a consumer can
	// correlate the stream with the job record.
	JobID string
}

// Result describes a successful compilation.
type Result struct {
	Slug        string
	ArtifactRef string
	UsedContext string
	JobID       string
}

const relevantDocLimit = 5

// Compiler turns a stored template artifact into executable generator source
// through a fixed pipeline: resolveTemplate, resolveContext, readArtifact,
// extractSkeleton, buildMetadataContext, buildPrompt, invokeAssistant,
// parseAndWrite. Each stage boundary is reported on the progress sink.
// Failures propagate to the caller without internal retry; the assistant may
// be stateful per session, so retrying is the orchestrator's call.
type Compiler struct {
	store      metadata.Store
	client     assistant.Client
	generators *GeneratorStore
}

func New(store metadata.Store, client assistant.Client, generators *GeneratorStore) *Compiler {
	return &Compiler{store: store, client: client, generators: generators}
}

var stageNames = []string{
	"resolveTemplate",
	"resolveContext",
	"readArtifact",
	"extractSkeleton",
	"buildMetadataContext",
	"buildPrompt",
	"invokeAssistant",
	"parseAndWrite",
}

func stagePercent(i int) int {
	return (i + 1) * 100 / len(stageNames)
}

func (c *Compiler) Compile(ctx context.Context, req CompileRequest, sink progress.Sink) (*Result, error) {
	if sink == nil {
		sink = progress.Nop{}
	}

	stage := 0
	start := func() {
		sink.Emit(progress.Step(stageNames[stage], progress.StepStart, stage*100/len(stageNames)))
	}
	ok := func() {
		sink.Emit(progress.Step(stageNames[stage], progress.StepOK, stagePercent(stage)))
		stage++
	}

	// resolveTemplate
	start()
	tmpl, err := c.store.GetTemplate(ctx, req.Slug)
	if err != nil {
		return nil, err
	}
	ok()

	// resolveContext
	start()
	if tmpl.Workspace == "" {
		return nil, faults.Newf(faults.ErrNoContext,
			"template %q has no assistant workspace configured", req.Slug)
	}
	ok()

	// readArtifact
	start()
	content, err := c.readArtifact(tmpl)
	if err != nil {
		return nil, err
	}
	ok()

	// extractSkeleton
	start()
	skeleton, err := ExtractSkeleton(content)
	if err != nil {
		return nil, err
	}
	sink.Emit(progress.Log("Extracted skeleton: %d bytes from %s", len(skeleton), tmpl.ArtifactPath))
	ok()

	// buildMetadataContext, non-fatal: an empty context still compiles.
	start()
	metaContext := c.buildMetadataContext(ctx, tmpl)
	ok()

	// buildPrompt
	start()
	var existing string
	if req.RevisionInstructions != "" {
		if src, err := c.generators.Read(req.Slug); err == nil {
			existing = src
		}
	}
	prompt := buildCompilePrompt(tmpl, skeleton, metaContext, req.RevisionInstructions, existing)
	ok()

	// invokeAssistant
	start()
	raw, err := c.client.Complete(ctx, assistant.CompletionRequest{
		Workspace:    tmpl.Workspace,
		SystemPrompt: compileSystemPrompt,
		UserMessage:  prompt,
	})
	if err != nil {
		return nil, err
	}
	ok()

	// parseAndWrite
	start()
	code := assistant.ExtractCode(raw)
	if strings.TrimSpace(code) == "" {
		// An existing artifact stays untouched on an empty generation.
		return nil, faults.Newf(faults.ErrEmptyGeneration,
			"assistant response contained no usable code for template %q", req.Slug)
	}
	if err := c.generators.Write(req.Slug, code); err != nil {
		return nil, err
	}
	ok()

	return &Result{
		Slug:        req.Slug,
		ArtifactRef: c.generators.Ref(req.Slug),
		UsedContext: tmpl.Workspace,
		JobID:       req.JobID,
	}, nil
}

func (c *Compiler) readArtifact(tmpl *metadata.TemplateMetadata) ([]byte, error) {
	if tmpl.ArtifactPath == "" {
		return nil, faults.Newf(faults.ErrNotFound, "template %q has no stored artifact", tmpl.Slug)
	}
	content, err := os.ReadFile(tmpl.ArtifactPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, faults.Newf(faults.ErrNotFound,
				"template %q artifact missing at %s", tmpl.Slug, tmpl.ArtifactPath)
		}
		return nil, faults.Wrap(err, faults.ErrStorage, "reading template artifact").
			WithContext("slug", tmpl.Slug)
	}
	return content, nil
}

// buildMetadataContext ranks customer documents already scored against this
// template and returns a prompt fragment describing them. Errors degrade to
// an empty context rather than failing the compile.
func (c *Compiler) buildMetadataContext(ctx context.Context, tmpl *metadata.TemplateMetadata) string {
	docs, err := c.store.ListDocuments(ctx, "")
	if err != nil {
		log.Warn("Metadata context unavailable for template %s: %v", tmpl.Slug, err)
		return ""
	}

	type ranked struct {
		doc   *metadata.DocumentMetadata
		score float64
	}
	var candidates []ranked
	for _, doc := range docs {
		for _, entry := range doc.TemplateRelevance {
			if entry.TemplateSlug == tmpl.Slug {
				candidates = append(candidates, ranked{doc: doc, score: entry.Score})
				break
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].doc.ID < candidates[j].doc.ID
	})
	if len(candidates) > relevantDocLimit {
		candidates = candidates[:relevantDocLimit]
	}
	if len(candidates) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, cand := range candidates {
		sb.WriteString("- ")
		sb.WriteString(cand.doc.Filename)
		if cand.doc.Purpose != "" {
			sb.WriteString(" (" + cand.doc.Purpose + ")")
		}
		if len(cand.doc.DataCategories) > 0 {
			sb.WriteString(", data: " + strings.Join(cand.doc.DataCategories, ", "))
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
