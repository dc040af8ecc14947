package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge/docforge/internal/metadata"
)

type fakeScorer struct {
	mu      sync.Mutex
	calls   int
	failFor map[string]error
	block   chan struct{} // when set, Score waits on it
}

func (f *fakeScorer) Score(_ context.Context, doc *metadata.DocumentMetadata, templates []*metadata.TemplateMetadata) ([]metadata.RelevanceEntry, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.failFor != nil {
		if err, ok := f.failFor[doc.ID]; ok {
			return nil, err
		}
	}

	entries := make([]metadata.RelevanceEntry, 0, len(templates))
	for _, t := range templates {
		entries = append(entries, metadata.RelevanceEntry{
			TemplateSlug: t.Slug,
			TemplateName: t.Name,
			Score:        5,
			Reasoning:    "test",
		})
	}
	return entries, nil
}

func (f *fakeScorer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func seedStore(t *testing.T, store *metadata.MemoryStore, templates int, docsPerCustomer map[string]int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < templates; i++ {
		require.NoError(t, store.PutTemplate(ctx, &metadata.TemplateMetadata{
			Slug: fmt.Sprintf("tmpl-%d", i),
			Name: fmt.Sprintf("Template %d", i),
			Kind: metadata.KindDocument,
		}))
	}
	for customer, count := range docsPerCustomer {
		for i := 0; i < count; i++ {
			require.NoError(t, store.PutDocument(ctx, &metadata.DocumentMetadata{
				ID:         fmt.Sprintf("%s/doc-%d", customer, i),
				CustomerID: customer,
				Filename:   fmt.Sprintf("doc-%d.txt", i),
			}))
		}
	}
}

func runMatchingJob(t *testing.T, m *Manager, runner *MatchRunner, scope Scope, force bool) *Job {
	t.Helper()
	job, err := m.Create(scope, force, "test")
	require.NoError(t, err)
	require.NoError(t, m.StartInBackground(job.ID, runner.Run))

	var final *Job
	require.Eventually(t, func() bool {
		got, ok := m.Get(job.ID)
		if !ok || !got.Status.Terminal() {
			return false
		}
		final = got
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return final
}

func TestMatchRunner_ScoresAllDocumentsForCustomer(t *testing.T) {
	store := metadata.NewMemoryStore()
	seedStore(t, store, 2, map[string]int{"7": 5, "8": 3})
	runner := NewMatchRunner(store, &fakeScorer{}, 10, 20)
	m := NewManager(nil, 0)

	job := runMatchingJob(t, m, runner, Scope{CustomerIDs: []string{"7"}}, false)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 5, job.TotalUnits)
	assert.Equal(t, 5, job.ProcessedUnits)
	assert.Equal(t, 5, job.MatchedUnits)
	assert.Equal(t, 0, job.SkippedUnits)

	doc, err := store.GetDocument(context.Background(), "7/doc-0")
	require.NoError(t, err)
	assert.Len(t, doc.TemplateRelevance, 2)
}

func TestMatchRunner_RerunSkipsScoredDocuments(t *testing.T) {
	store := metadata.NewMemoryStore()
	seedStore(t, store, 2, map[string]int{"7": 4})
	scorer := &fakeScorer{}
	runner := NewMatchRunner(store, scorer, 10, 20)
	m := NewManager(nil, 0)

	first := runMatchingJob(t, m, runner, Scope{CustomerIDs: []string{"7"}}, false)
	assert.Equal(t, 4, first.MatchedUnits)

	second := runMatchingJob(t, m, runner, Scope{CustomerIDs: []string{"7"}}, false)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Equal(t, second.TotalUnits, second.SkippedUnits)
	assert.Equal(t, 0, second.MatchedUnits)
	assert.Equal(t, 4, scorer.callCount())
}

func TestMatchRunner_ForceRecalculateRescoresEverything(t *testing.T) {
	store := metadata.NewMemoryStore()
	seedStore(t, store, 2, map[string]int{"7": 3})
	scorer := &fakeScorer{}
	runner := NewMatchRunner(store, scorer, 10, 20)
	m := NewManager(nil, 0)

	runMatchingJob(t, m, runner, Scope{}, false)
	job := runMatchingJob(t, m, runner, Scope{}, true)

	assert.Equal(t, 3, job.MatchedUnits)
	assert.Equal(t, 0, job.SkippedUnits)
	assert.Equal(t, 6, scorer.callCount())
}

func TestMatchRunner_FailsWithoutTemplates(t *testing.T) {
	store := metadata.NewMemoryStore()
	seedStore(t, store, 0, map[string]int{"7": 2})
	runner := NewMatchRunner(store, &fakeScorer{}, 10, 20)
	m := NewManager(nil, 0)

	job := runMatchingJob(t, m, runner, Scope{}, false)

	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, "no templates")
}

func TestMatchRunner_TemplateScopeFilters(t *testing.T) {
	store := metadata.NewMemoryStore()
	seedStore(t, store, 3, map[string]int{"7": 1})
	runner := NewMatchRunner(store, &fakeScorer{}, 10, 20)
	m := NewManager(nil, 0)

	job := runMatchingJob(t, m, runner, Scope{TemplateSlugs: []string{"tmpl-1"}}, false)
	assert.Equal(t, StatusCompleted, job.Status)

	doc, err := store.GetDocument(context.Background(), "7/doc-0")
	require.NoError(t, err)
	require.Len(t, doc.TemplateRelevance, 1)
	assert.Equal(t, "tmpl-1", doc.TemplateRelevance[0].TemplateSlug)
}

func TestMatchRunner_UnitFailureDoesNotAbortJob(t *testing.T) {
	store := metadata.NewMemoryStore()
	seedStore(t, store, 1, map[string]int{"7": 3})
	scorer := &fakeScorer{failFor: map[string]error{"7/doc-1": errors.New("assistant flaked")}}
	runner := NewMatchRunner(store, scorer, 10, 20)
	m := NewManager(nil, 0)

	job := runMatchingJob(t, m, runner, Scope{}, false)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 3, job.ProcessedUnits)
	assert.Equal(t, 2, job.MatchedUnits)
}

func TestMatchRunner_CancellationStopsAtBatchBoundary(t *testing.T) {
	store := metadata.NewMemoryStore()
	seedStore(t, store, 1, map[string]int{"7": 6})
	release := make(chan struct{})
	scorer := &fakeScorer{block: release}
	// Batch size 2: first batch blocks in Score, cancel, then release.
	runner := NewMatchRunner(store, scorer, 2, 20)
	m := NewManager(nil, 0)

	job, err := m.Create(Scope{}, false, "")
	require.NoError(t, err)
	require.NoError(t, m.StartInBackground(job.ID, runner.Run))

	require.Eventually(t, func() bool {
		got, _ := m.Get(job.ID)
		return got != nil && got.Status == StatusRunning
	}, time.Second, 5*time.Millisecond)

	require.True(t, m.Cancel(job.ID))
	close(release)

	final := waitForStatus(t, m, job.ID, StatusCancelled)
	// The in-flight batch finishes; no later batch starts.
	assert.LessOrEqual(t, final.ProcessedUnits, 2)
	assert.Equal(t, 6, final.TotalUnits)
}
