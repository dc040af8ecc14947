package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/docforge/docforge/internal/assistant"
	"github.com/docforge/docforge/internal/compiler"
	"github.com/docforge/docforge/internal/config"
	"github.com/docforge/docforge/internal/faults"
	"github.com/docforge/docforge/internal/jobs"
	"github.com/docforge/docforge/internal/metadata"
)

type stubClient struct {
	response string
	err      error
	calls    int
}

func (s *stubClient) Complete(_ context.Context, _ assistant.CompletionRequest) (string, error) {
	s.calls++
	return s.response, s.err
}

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Matching.BatchSize = 2
	cfg.Matching.RelevanceCap = 20
	cfg.Matching.JobHistory = 50
	cfg.Sandbox.ExecBudget = 5
	cfg.System.DefaultLanguage = language.English
	return cfg
}

func newTestService(t *testing.T, client assistant.Client) (*Service, *metadata.MemoryStore, *compiler.GeneratorStore) {
	t.Helper()
	store := metadata.NewMemoryStore()
	generators, err := compiler.NewGeneratorStore(t.TempDir())
	require.NoError(t, err)
	manager := jobs.NewManager(jobs.NewMemoryRegistry(), 50)
	svc := New(testConfig(), store, client, manager, generators)
	t.Cleanup(manager.Wait)
	return svc, store, generators
}

func seedMatchingData(t *testing.T, store *metadata.MemoryStore, docs int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.PutTemplate(ctx, &metadata.TemplateMetadata{
		Slug: "invoice", Name: "Invoice", Kind: metadata.KindDocument,
		RequiredData: []string{"revenue"}, UpdatedAt: time.Now().UTC(),
	}))
	for i := 0; i < docs; i++ {
		require.NoError(t, store.PutDocument(ctx, &metadata.DocumentMetadata{
			ID:             "7/doc-" + string(rune('a'+i)) + ".txt",
			CustomerID:     "7",
			Filename:       "doc-" + string(rune('a'+i)) + ".txt",
			DataCategories: []string{"revenue"},
			UpdatedAt:      time.Now().UTC(),
		}))
	}
}

func TestService_StartMatchingJobCompletes(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	seedMatchingData(t, store, 3)

	job, err := svc.StartMatchingJob(jobs.Scope{CustomerIDs: []string{"7"}}, false, "tester")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := svc.JobStatus(job.ID)
		return err == nil && got.Status == jobs.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	got, err := svc.JobStatus(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalUnits)
	assert.Equal(t, 3, got.MatchedUnits)
	assert.Zero(t, got.SkippedUnits)
}

func TestService_JobStatusNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	_, err := svc.JobStatus("nope")
	assert.True(t, faults.IsType(err, faults.ErrNotFound))
}

func TestService_CancelAndClear(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	seedMatchingData(t, store, 1)

	job, err := svc.StartMatchingJob(jobs.Scope{}, false, "tester")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := svc.JobStatus(job.ID)
		return err == nil && got.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.False(t, svc.CancelJob(job.ID))
	assert.Equal(t, 1, svc.ClearJobs())
	assert.Empty(t, svc.ListJobs())
}

func TestService_GenerateDocument(t *testing.T) {
	svc, store, generators := newTestService(t, &stubClient{})
	require.NoError(t, store.PutTemplate(context.Background(), &metadata.TemplateMetadata{
		Slug: "invoice", Name: "Invoice", Kind: metadata.KindDocument,
		Workspace: "ws-1", UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, generators.Write("invoice",
		`function generate(toolkit, builder, context) { builder.paragraph("Invoice for " + context.customerId); }`))

	out, err := svc.GenerateDocument(context.Background(), "invoice", map[string]any{"customerId": "7"}, nil)
	require.NoError(t, err)
	require.Len(t, out.Blocks, 1)
	assert.Equal(t, "Invoice for 7", out.Blocks[0].Runs[0].Text)
}

func TestService_GenerateDocumentWithoutCompiledGenerator(t *testing.T) {
	svc, store, _ := newTestService(t, &stubClient{})
	require.NoError(t, store.PutTemplate(context.Background(), &metadata.TemplateMetadata{
		Slug: "invoice", Name: "Invoice", Workspace: "ws-1", UpdatedAt: time.Now().UTC(),
	}))

	_, err := svc.GenerateDocument(context.Background(), "invoice", nil, nil)
	assert.True(t, faults.IsType(err, faults.ErrNotFound))
}

func TestService_GenerateDocumentWithoutWorkspace(t *testing.T) {
	svc, store, _ := newTestService(t, &stubClient{})
	require.NoError(t, store.PutTemplate(context.Background(), &metadata.TemplateMetadata{
		Slug: "invoice", Name: "Invoice", UpdatedAt: time.Now().UTC(),
	}))

	_, err := svc.GenerateDocument(context.Background(), "invoice", nil, nil)
	assert.True(t, faults.IsType(err, faults.ErrNoContext))
}

func TestService_RegisterDocument(t *testing.T) {
	client := &stubClient{response: `{"kind":"report","purpose":"quarterly figures","topics":["finance"],"data_categories":["revenue"],"language":"en"}`}
	svc, store, _ := newTestService(t, client)

	meta, err := svc.RegisterDocument(context.Background(), "7", "q3.txt", "Revenue was 1.2M")
	require.NoError(t, err)
	assert.Equal(t, "7/q3.txt", meta.ID)
	assert.Equal(t, "report", meta.Kind)
	assert.Equal(t, []string{"revenue"}, meta.DataCategories)

	stored, err := store.GetDocument(context.Background(), "7/q3.txt")
	require.NoError(t, err)
	assert.Equal(t, "quarterly figures", stored.Purpose)
}

func TestService_RegisterDocumentPreservesRelevance(t *testing.T) {
	client := &stubClient{response: `{"kind":"report","purpose":"figures","topics":[],"data_categories":[],"language":"en"}`}
	svc, store, _ := newTestService(t, client)

	require.NoError(t, store.PutDocument(context.Background(), &metadata.DocumentMetadata{
		ID: "7/q3.txt", CustomerID: "7", Filename: "q3.txt",
		TemplateRelevance: []metadata.RelevanceEntry{{TemplateSlug: "invoice", Score: 8}},
		UpdatedAt:         time.Now().UTC(),
	}))

	meta, err := svc.RegisterDocument(context.Background(), "7", "q3.txt", "updated content")
	require.NoError(t, err)
	require.Len(t, meta.TemplateRelevance, 1)
	assert.Equal(t, "invoice", meta.TemplateRelevance[0].TemplateSlug)
}

func TestService_RegisterDocumentValidation(t *testing.T) {
	svc, _, _ := newTestService(t, &stubClient{})
	_, err := svc.RegisterDocument(context.Background(), "", "a.txt", "x")
	assert.True(t, faults.IsType(err, faults.ErrValidation))
}

func TestService_RegisterTemplate(t *testing.T) {
	client := &stubClient{response: `{"kind":"document","purpose":"billing","required_data":["revenue"],"complexity":"simple","expected_entities":["amount"]}`}
	svc, store, _ := newTestService(t, client)

	dir := t.TempDir()
	artifact := filepath.Join(dir, "invoice.txt")
	require.NoError(t, os.WriteFile(artifact, []byte("INVOICE\n\nTotal | 100 EUR\n"), 0o644))

	tmpl, err := svc.RegisterTemplate(context.Background(), "invoice", "Invoice", metadata.KindDocument, "ws-1", artifact)
	require.NoError(t, err)
	assert.Equal(t, "billing", tmpl.Purpose)
	assert.Equal(t, []string{"revenue"}, tmpl.RequiredData)

	stored, err := store.GetTemplate(context.Background(), "invoice")
	require.NoError(t, err)
	assert.Equal(t, "ws-1", stored.Workspace)
}

func TestService_RegisterTemplateValidation(t *testing.T) {
	svc, _, _ := newTestService(t, &stubClient{})
	_, err := svc.RegisterTemplate(context.Background(), "", "Invoice", metadata.KindDocument, "ws", "path")
	assert.True(t, faults.IsType(err, faults.ErrValidation))
}

func TestScheduler_RunSweepStartsMatchingJob(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	seedMatchingData(t, store, 1)

	sched := NewScheduler(svc, cron.New(cron.WithSeconds()), "* * * * * *")
	sched.runSweep()

	require.Eventually(t, func() bool {
		for _, j := range svc.ListJobs() {
			if j.Status == jobs.StatusCompleted && j.CreatedBy == "scheduler" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduler_SkipsWhileJobActive(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	release := make(chan struct{})
	blocked, err := svc.manager.Create(jobs.Scope{}, false, "tester")
	require.NoError(t, err)
	require.NoError(t, svc.manager.StartInBackground(blocked.ID, func(ctx context.Context, h *jobs.Handle) error {
		<-release
		return nil
	}))

	sched := NewScheduler(svc, cron.New(cron.WithSeconds()), "* * * * * *")
	sched.runSweep()
	assert.Len(t, svc.ListJobs(), 1)

	close(release)
}

func TestScheduler_ScheduleRegistersCronEntry(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	c := cron.New(cron.WithSeconds())
	sched := NewScheduler(svc, c, "0 0 3 * * *")

	require.NoError(t, sched.Schedule(context.Background()))
	assert.Len(t, c.Entries(), 1)
}

func TestScheduler_RejectsBadExpression(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	sched := NewScheduler(svc, cron.New(cron.WithSeconds()), "not-a-cron")
	assert.Error(t, sched.Schedule(context.Background()))
}
