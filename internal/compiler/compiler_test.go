package compiler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge/docforge/internal/assistant"
	"github.com/docforge/docforge/internal/faults"
	"github.com/docforge/docforge/internal/metadata"
	"github.com/docforge/docforge/internal/progress"
)

type stubClient struct {
	response string
	err      error
	calls    int
	lastReq  assistant.CompletionRequest
}

func (s *stubClient) Complete(_ context.Context, req assistant.CompletionRequest) (string, error) {
	s.calls++
	s.lastReq = req
	return s.response, s.err
}

type recordingSink struct {
	events []progress.Event
}

func (r *recordingSink) Emit(ev progress.Event) {
	r.events = append(r.events, ev)
}

func (r *recordingSink) steps(status progress.StepStatus) []string {
	var names []string
	for _, ev := range r.events {
		if ev.Type == progress.TypeStep && ev.Status == status {
			names = append(names, ev.Name)
		}
	}
	return names
}

const sampleArtifact = `QUARTERLY REPORT

# Revenue Overview
Revenue for Q3 was 1.2M EUR, up 12% year over year.

Quarter | Revenue | Growth
Q2      | 1.1M    | 8%
Q3      | 1.2M    | 12%
`

const generatedCode = "```javascript\nfunction generate(toolkit, builder, context) {\n  builder.paragraph(toolkit.queryText(\"revenue summary\"));\n}\n```"

func newTestCompiler(t *testing.T, client assistant.Client) (*Compiler, *metadata.MemoryStore, *GeneratorStore, string) {
	t.Helper()
	dir := t.TempDir()
	generators, err := NewGeneratorStore(dir)
	require.NoError(t, err)
	store := metadata.NewMemoryStore()
	return New(store, client, generators), store, generators, dir
}

func putTemplate(t *testing.T, store *metadata.MemoryStore, dir, workspace string, artifact string) *metadata.TemplateMetadata {
	t.Helper()
	tmpl := &metadata.TemplateMetadata{
		Slug:         "quarterly-report",
		Name:         "Quarterly Report",
		Kind:         metadata.KindDocument,
		Purpose:      "quarterly financial reporting",
		RequiredData: []string{"revenue"},
		Workspace:    workspace,
		UpdatedAt:    time.Now().UTC(),
	}
	if artifact != "" {
		path := filepath.Join(dir, "quarterly-report.txt")
		require.NoError(t, os.WriteFile(path, []byte(artifact), 0o644))
		tmpl.ArtifactPath = path
	}
	require.NoError(t, store.PutTemplate(context.Background(), tmpl))
	return tmpl
}

func TestCompiler_HappyPath(t *testing.T) {
	client := &stubClient{response: generatedCode}
	c, store, generators, dir := newTestCompiler(t, client)
	putTemplate(t, store, dir, "ws-1", sampleArtifact)

	sink := &recordingSink{}
	result, err := c.Compile(context.Background(), CompileRequest{Slug: "quarterly-report", JobID: "job-9"}, sink)
	require.NoError(t, err)

	assert.Equal(t, "generators/quarterly-report.js", result.ArtifactRef)
	assert.Equal(t, "ws-1", result.UsedContext)
	assert.Equal(t, "job-9", result.JobID)

	source, err := generators.Read("quarterly-report")
	require.NoError(t, err)
	assert.Contains(t, source, "function generate(toolkit, builder, context)")
	assert.NotContains(t, source, "```")

	assert.Equal(t, []string{
		"resolveTemplate", "resolveContext", "readArtifact", "extractSkeleton",
		"buildMetadataContext", "buildPrompt", "invokeAssistant", "parseAndWrite",
	}, sink.steps(progress.StepOK))

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, 100, last.ProgressPercent)
}

func TestCompiler_PromptCarriesSkeletonAndContract(t *testing.T) {
	client := &stubClient{response: generatedCode}
	c, store, _, dir := newTestCompiler(t, client)
	putTemplate(t, store, dir, "ws-1", sampleArtifact)

	_, err := c.Compile(context.Background(), CompileRequest{Slug: "quarterly-report"}, nil)
	require.NoError(t, err)

	prompt := client.lastReq.UserMessage
	assert.Equal(t, "ws-1", client.lastReq.Workspace)
	assert.Contains(t, prompt, "=== TEMPLATE SKELETON ===")
	assert.Contains(t, prompt, "Revenue Overview")
	assert.Contains(t, prompt, "function generate(toolkit, builder, context)")
	assert.Contains(t, prompt, "Do not include any explanations")
	assert.NotContains(t, prompt, "REVISION INSTRUCTIONS")
}

func TestCompiler_UnknownTemplate(t *testing.T) {
	client := &stubClient{response: generatedCode}
	c, _, _, _ := newTestCompiler(t, client)

	_, err := c.Compile(context.Background(), CompileRequest{Slug: "missing"}, nil)
	assert.True(t, faults.IsType(err, faults.ErrNotFound))
	assert.Zero(t, client.calls)
}

func TestCompiler_NoWorkspaceIsNoContext(t *testing.T) {
	client := &stubClient{response: generatedCode}
	c, store, _, dir := newTestCompiler(t, client)
	putTemplate(t, store, dir, "", sampleArtifact)

	_, err := c.Compile(context.Background(), CompileRequest{Slug: "quarterly-report"}, nil)
	assert.True(t, faults.IsType(err, faults.ErrNoContext))
	assert.Zero(t, client.calls)
}

func TestCompiler_MissingArtifactFailsBeforeAssistant(t *testing.T) {
	client := &stubClient{response: generatedCode}
	c, store, _, dir := newTestCompiler(t, client)
	tmpl := putTemplate(t, store, dir, "ws-1", sampleArtifact)
	require.NoError(t, os.Remove(tmpl.ArtifactPath))

	sink := &recordingSink{}
	_, err := c.Compile(context.Background(), CompileRequest{Slug: "quarterly-report"}, sink)
	assert.True(t, faults.IsType(err, faults.ErrNotFound))
	assert.Zero(t, client.calls)
	assert.NotContains(t, sink.steps(progress.StepStart), "invokeAssistant")
}

func TestCompiler_EmptyArtifactFailsAtSkeleton(t *testing.T) {
	client := &stubClient{response: generatedCode}
	c, store, _, dir := newTestCompiler(t, client)
	putTemplate(t, store, dir, "ws-1", "   \n\n   ")

	_, err := c.Compile(context.Background(), CompileRequest{Slug: "quarterly-report"}, nil)
	assert.True(t, faults.IsType(err, faults.ErrValidation))
	assert.Zero(t, client.calls)
}

func TestCompiler_EmptyGenerationKeepsExistingArtifact(t *testing.T) {
	client := &stubClient{response: "   "}
	c, store, generators, dir := newTestCompiler(t, client)
	putTemplate(t, store, dir, "ws-1", sampleArtifact)
	require.NoError(t, generators.Write("quarterly-report", "function generate() {}"))

	_, err := c.Compile(context.Background(), CompileRequest{Slug: "quarterly-report"}, nil)
	assert.True(t, faults.IsType(err, faults.ErrEmptyGeneration))

	source, err := generators.Read("quarterly-report")
	require.NoError(t, err)
	assert.Equal(t, "function generate() {}", source)
}

func TestCompiler_AssistantErrorPropagates(t *testing.T) {
	client := &stubClient{err: faults.New(faults.ErrUpstreamUnavailable, "assistant down")}
	c, store, _, dir := newTestCompiler(t, client)
	putTemplate(t, store, dir, "ws-1", sampleArtifact)

	_, err := c.Compile(context.Background(), CompileRequest{Slug: "quarterly-report"}, nil)
	assert.True(t, faults.IsType(err, faults.ErrUpstreamUnavailable))
	assert.Equal(t, 1, client.calls)
}

func TestCompiler_RevisionInstructionsTakePriority(t *testing.T) {
	client := &stubClient{response: generatedCode}
	c, store, generators, dir := newTestCompiler(t, client)
	putTemplate(t, store, dir, "ws-1", sampleArtifact)
	require.NoError(t, generators.Write("quarterly-report", "function generate() { /* v1 */ }"))

	_, err := c.Compile(context.Background(), CompileRequest{
		Slug:                 "quarterly-report",
		RevisionInstructions: "Add a growth-by-region table after the revenue table.",
	}, nil)
	require.NoError(t, err)

	prompt := client.lastReq.UserMessage
	require.Contains(t, prompt, "=== REVISION INSTRUCTIONS (highest priority) ===")
	assert.Contains(t, prompt, "growth-by-region")
	assert.Contains(t, prompt, "/* v1 */")
	// Revision instructions lead the prompt.
	assert.Less(t,
		strings.Index(prompt, "REVISION INSTRUCTIONS"),
		strings.Index(prompt, "=== TASK ==="))
}

func TestCompiler_MetadataContextListsRankedDocuments(t *testing.T) {
	client := &stubClient{response: generatedCode}
	c, store, _, dir := newTestCompiler(t, client)
	putTemplate(t, store, dir, "ws-1", sampleArtifact)

	ctx := context.Background()
	require.NoError(t, store.PutDocument(ctx, &metadata.DocumentMetadata{
		ID: "7/q3.txt", CustomerID: "7", Filename: "q3.txt", Purpose: "Q3 figures",
		DataCategories: []string{"revenue"},
		TemplateRelevance: []metadata.RelevanceEntry{
			{TemplateSlug: "quarterly-report", TemplateName: "Quarterly Report", Score: 9},
		},
	}))
	require.NoError(t, store.PutDocument(ctx, &metadata.DocumentMetadata{
		ID: "7/memo.txt", CustomerID: "7", Filename: "memo.txt",
		TemplateRelevance: []metadata.RelevanceEntry{
			{TemplateSlug: "other", Score: 9},
		},
	}))

	_, err := c.Compile(ctx, CompileRequest{Slug: "quarterly-report"}, nil)
	require.NoError(t, err)

	prompt := client.lastReq.UserMessage
	assert.Contains(t, prompt, "=== RELEVANT CUSTOMER DOCUMENTS ===")
	assert.Contains(t, prompt, "q3.txt")
	assert.NotContains(t, prompt, "memo.txt")
}
