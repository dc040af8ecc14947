package service

import (
	"context"
	"os"
	"time"

	"github.com/docforge/docforge/internal/assistant"
	"github.com/docforge/docforge/internal/compiler"
	"github.com/docforge/docforge/internal/config"
	"github.com/docforge/docforge/internal/faults"
	"github.com/docforge/docforge/internal/jobs"
	"github.com/docforge/docforge/internal/matching"
	"github.com/docforge/docforge/internal/metadata"
	"github.com/docforge/docforge/internal/progress"
	"github.com/docforge/docforge/internal/sandbox"
	"github.com/docforge/docforge/pkg/log"
)

// Service ties the stores, the job manager, the compiler and the sandbox
// together behind one orchestration surface. Retry policy lives here, not in
// the pipeline pieces it wraps.
type Service struct {
	cfg        config.Config
	store      metadata.Store
	client     assistant.Client
	analyzer   *metadata.Analyzer
	scorer     *matching.Scorer
	manager    *jobs.Manager
	runner     *jobs.MatchRunner
	generators *compiler.GeneratorStore
	compiler   *compiler.Compiler
	sandbox    *sandbox.Sandbox
}

func New(
	cfg config.Config,
	store metadata.Store,
	client assistant.Client,
	manager *jobs.Manager,
	generators *compiler.GeneratorStore,
) *Service {
	scorer := matching.NewScorer(client)
	return &Service{
		cfg:        cfg,
		store:      store,
		client:     client,
		analyzer:   metadata.NewAnalyzer(client, cfg.System.DefaultLanguage),
		scorer:     scorer,
		manager:    manager,
		runner:     jobs.NewMatchRunner(store, scorer, cfg.Matching.BatchSize, cfg.Matching.RelevanceCap),
		generators: generators,
		compiler:   compiler.New(store, client, generators),
		sandbox:    sandbox.New(time.Duration(cfg.Sandbox.ExecBudget) * time.Second),
	}
}

// StartMatchingJob creates a matching job and starts it in the background.
// The returned snapshot is already in running state unless startup raced
// with a cancel.
func (s *Service) StartMatchingJob(scope jobs.Scope, forceRecalculate bool, createdBy string) (*jobs.Job, error) {
	job, err := s.manager.Create(scope, forceRecalculate, createdBy)
	if err != nil {
		return nil, err
	}
	if err := s.manager.StartInBackground(job.ID, s.runner.Run); err != nil {
		return nil, err
	}
	s.manager.CleanupOld()
	snapshot, _ := s.manager.Get(job.ID)
	return snapshot, nil
}

func (s *Service) JobStatus(jobID string) (*jobs.Job, error) {
	job, ok := s.manager.Get(jobID)
	if !ok {
		return nil, faults.Newf(faults.ErrNotFound, "job %q not found", jobID)
	}
	return job, nil
}

func (s *Service) ListJobs() []*jobs.Job {
	return s.manager.List()
}

func (s *Service) CancelJob(jobID string) bool {
	return s.manager.Cancel(jobID)
}

func (s *Service) ClearJobs() int {
	return s.manager.ClearAll()
}

// CleanupOldJobs trims terminal job history down to the configured retention.
func (s *Service) CleanupOldJobs() int {
	return s.manager.CleanupOld()
}

// CompileTemplate runs the compile pipeline for one template. When the
// stored metadata still looks unanalyzed, a re-analysis is attempted first
// so the prompt carries purpose and data categories; analysis failure is not
// fatal to the compile.
func (s *Service) CompileTemplate(ctx context.Context, req compiler.CompileRequest, sink progress.Sink) (*compiler.Result, error) {
	if tmpl, err := s.store.GetTemplate(ctx, req.Slug); err == nil && tmpl.Purpose == "" {
		if err := s.refreshTemplateMetadata(ctx, tmpl); err != nil {
			log.Warn("Template %s re-analysis failed, compiling with stored metadata: %v", req.Slug, err)
		}
	}
	return s.compiler.Compile(ctx, req, sink)
}

// RegisterTemplate stores a template artifact reference and analyzes it.
// Analysis runs through the assistant with retries; when every attempt falls
// back to heuristics the fallback metadata is kept.
func (s *Service) RegisterTemplate(ctx context.Context, slug, name string, kind metadata.TemplateKind, workspace, artifactPath string) (*metadata.TemplateMetadata, error) {
	if slug == "" || name == "" {
		return nil, faults.New(faults.ErrValidation, "template slug and name are required")
	}
	tmpl := &metadata.TemplateMetadata{
		Slug:         slug,
		Name:         name,
		Kind:         kind,
		Workspace:    workspace,
		ArtifactPath: artifactPath,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.refreshTemplateMetadata(ctx, tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

func (s *Service) refreshTemplateMetadata(ctx context.Context, tmpl *metadata.TemplateMetadata) error {
	content, err := os.ReadFile(tmpl.ArtifactPath)
	if err != nil {
		return faults.Wrap(err, faults.ErrStorage, "reading template artifact for analysis").
			WithContext("slug", tmpl.Slug)
	}
	skeleton, err := compiler.ExtractSkeleton(content)
	if err != nil {
		return err
	}

	// Retry until the assistant answers; a run where every attempt fell back
	// to heuristics still yields usable metadata.
	fallback, err := metadata.Retry(ctx, metadata.DefaultAnalysisRetry,
		func(ctx context.Context) (bool, error) {
			return s.analyzer.AnalyzeTemplate(ctx, tmpl, skeleton)
		},
		func(fellBack bool) bool { return !fellBack },
	)
	if err != nil {
		return err
	}
	if fallback {
		log.Warn("Template %s analyzed via heuristic fallback", tmpl.Slug)
	}
	tmpl.UpdatedAt = time.Now().UTC()
	return s.store.PutTemplate(ctx, tmpl)
}

// RegisterDocument analyzes an uploaded document and stores its metadata.
// Existing relevance scores for the same document are preserved.
func (s *Service) RegisterDocument(ctx context.Context, customerID, filename, content string) (*metadata.DocumentMetadata, error) {
	if customerID == "" || filename == "" {
		return nil, faults.New(faults.ErrValidation, "customer id and filename are required")
	}

	analysis, err := metadata.Retry(ctx, metadata.DefaultAnalysisRetry,
		func(ctx context.Context) (metadata.DocumentAnalysis, error) {
			return s.analyzer.AnalyzeDocument(ctx, customerID, filename, content)
		},
		func(a metadata.DocumentAnalysis) bool { return !a.Fallback },
	)
	if err != nil {
		return nil, err
	}
	meta := analysis.Meta

	if existing, err := s.store.GetDocument(ctx, meta.ID); err == nil {
		meta.TemplateRelevance = existing.TemplateRelevance
	}
	meta.UpdatedAt = time.Now().UTC()
	if err := s.store.PutDocument(ctx, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// GenerateDocument loads a compiled generator and executes it against live
// context. The toolkit routes data queries through the template's workspace
// and mirrors them on the progress sink.
func (s *Service) GenerateDocument(ctx context.Context, slug string, params map[string]any, sink progress.Sink) (*sandbox.Output, error) {
	if sink == nil {
		sink = progress.Nop{}
	}

	tmpl, err := s.store.GetTemplate(ctx, slug)
	if err != nil {
		return nil, err
	}
	if tmpl.Workspace == "" {
		return nil, faults.Newf(faults.ErrNoContext, "template %q has no assistant workspace configured", slug)
	}
	source, err := s.generators.Read(slug)
	if err != nil {
		return nil, err
	}

	sink.Emit(progress.Log("Running generator for template %s", slug))
	toolkit := sandbox.NewAssistantToolkit(s.client, tmpl.Workspace, sink)
	out, err := s.sandbox.Run(ctx, source, tmpl.Kind, toolkit, params)
	if err != nil {
		return nil, err
	}
	return out, nil
}
