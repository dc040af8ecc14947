package jobs

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/docforge/docforge/internal/faults"
	"github.com/docforge/docforge/internal/metadata"
	"github.com/docforge/docforge/pkg/log"
)

// DefaultBatchSize bounds peak concurrent assistant calls per batch.
const DefaultBatchSize = 10

// Scorer computes document-to-template relevance. One entry per input
// template, score 0-10.
type Scorer interface {
	Score(ctx context.Context, doc *metadata.DocumentMetadata, templates []*metadata.TemplateMetadata) ([]metadata.RelevanceEntry, error)
}

// MatchRunner processes a matching job: it scores every in-scope document
// against every in-scope template and merges the results into each
// document's relevance list.
type MatchRunner struct {
	store        metadata.Store
	scorer       Scorer
	batchSize    int
	relevanceCap int
}

func NewMatchRunner(store metadata.Store, scorer Scorer, batchSize, relevanceCap int) *MatchRunner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if relevanceCap <= 0 {
		relevanceCap = metadata.DefaultRelevanceCap
	}
	return &MatchRunner{
		store:        store,
		scorer:       scorer,
		batchSize:    batchSize,
		relevanceCap: relevanceCap,
	}
}

// Run implements RunFunc. Unit failures are logged and tolerated; only
// resolution failures (no templates, store errors) fail the job.
func (r *MatchRunner) Run(ctx context.Context, h *Handle) error {
	job := h.Job()

	templates, err := r.resolveTemplates(ctx, job.Scope)
	if err != nil {
		return err
	}
	if len(templates) == 0 {
		return fmt.Errorf("no templates resolved for matching job")
	}

	documents, err := r.resolveDocuments(ctx, job.Scope)
	if err != nil {
		return err
	}

	h.SetTotal(len(documents))
	log.Info("Matching job %s: %d documents x %d templates", h.ID(), len(documents), len(templates))

	for start := 0; start < len(documents); start += r.batchSize {
		// Cancellation is checked between batches; in-flight units finish.
		if h.Cancelled() {
			log.Info("Matching job %s observed cancellation before batch at %d", h.ID(), start)
			return ErrCancelled
		}

		end := min(start+r.batchSize, len(documents))
		batch := documents[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.batchSize)
		for _, doc := range batch {
			g.Go(func() error {
				r.processUnit(gctx, h, doc, templates, job.ForceRecalculate)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	return nil
}

// processUnit scores one document. Failures are recorded, never propagated:
// a single bad unit must not abort the batch or the job.
func (r *MatchRunner) processUnit(ctx context.Context, h *Handle, doc *metadata.DocumentMetadata, templates []*metadata.TemplateMetadata, force bool) {
	defer h.AddProcessed(1)

	pending := templates
	if !force {
		pending = nil
		for _, t := range templates {
			if !doc.HasRelevanceFor(t.Slug) {
				pending = append(pending, t)
			}
		}
	}
	if len(pending) == 0 {
		h.AddSkipped(1)
		return
	}

	entries, err := r.scorer.Score(ctx, doc, pending)
	if err != nil {
		unitErr := faults.Wrap(err, faults.ErrPartialUnitFailure, "scoring failed").
			WithContext("document", doc.ID)
		log.Error("Matching job %s: %v", h.ID(), unitErr)
		return
	}

	err = r.store.UpdateRelevance(ctx, doc.ID, func(existing []metadata.RelevanceEntry) []metadata.RelevanceEntry {
		return metadata.MergeRelevance(existing, entries, r.relevanceCap)
	})
	if err != nil {
		unitErr := faults.Wrap(err, faults.ErrPartialUnitFailure, "merge failed").
			WithContext("document", doc.ID)
		log.Error("Matching job %s: %v", h.ID(), unitErr)
		return
	}

	h.AddMatched(1)
}

func (r *MatchRunner) resolveTemplates(ctx context.Context, scope Scope) ([]*metadata.TemplateMetadata, error) {
	all, err := r.store.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	if scope.TemplateSlugs == nil {
		return all, nil
	}

	filtered := make([]*metadata.TemplateMetadata, 0, len(scope.TemplateSlugs))
	for _, t := range all {
		if slices.Contains(scope.TemplateSlugs, t.Slug) {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (r *MatchRunner) resolveDocuments(ctx context.Context, scope Scope) ([]*metadata.DocumentMetadata, error) {
	if scope.CustomerIDs == nil {
		docs, err := r.store.ListDocuments(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		return docs, nil
	}

	var all []*metadata.DocumentMetadata
	for _, customerID := range scope.CustomerIDs {
		docs, err := r.store.ListDocuments(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("list documents for customer %s: %w", customerID, err)
		}
		all = append(all, docs...)
	}
	return all, nil
}
