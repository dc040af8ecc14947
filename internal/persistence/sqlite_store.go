package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docforge/docforge/internal/faults"
	"github.com/docforge/docforge/internal/jobs"
	"github.com/docforge/docforge/internal/metadata"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore backs both the metadata store and the job registry with one
// sqlite database.
type SQLiteStore struct {
	db *sql.DB

	// Serializes relevance read-modify-write per document.
	docLocks sync.Map // docID -> *sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename
// (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// --- metadata.Store ---

func (s *SQLiteStore) GetTemplate(ctx context.Context, slug string) (*metadata.TemplateMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT slug, name, kind, purpose, required_data_json, complexity, expected_entities_json, workspace, artifact_path, updated_at
		 FROM templates WHERE slug = ?`, slug)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.Newf(faults.ErrNotFound, "template %s not found", slug)
	}
	return t, err
}

func (s *SQLiteStore) PutTemplate(ctx context.Context, t *metadata.TemplateMetadata) error {
	if t == nil || t.Slug == "" {
		return fmt.Errorf("template slug is required")
	}
	requiredJSON, err := json.Marshal(emptyIfNil(t.RequiredData))
	if err != nil {
		return err
	}
	entitiesJSON, err := json.Marshal(emptyIfNil(t.ExpectedEntities))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (slug, name, kind, purpose, required_data_json, complexity, expected_entities_json, workspace, artifact_path, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET
			name=excluded.name,
			kind=excluded.kind,
			purpose=excluded.purpose,
			required_data_json=excluded.required_data_json,
			complexity=excluded.complexity,
			expected_entities_json=excluded.expected_entities_json,
			workspace=excluded.workspace,
			artifact_path=excluded.artifact_path,
			updated_at=excluded.updated_at`,
		t.Slug, t.Name, string(t.Kind), t.Purpose, string(requiredJSON), t.Complexity,
		string(entitiesJSON), t.Workspace, t.ArtifactPath, t.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]*metadata.TemplateMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, name, kind, purpose, required_data_json, complexity, expected_entities_json, workspace, artifact_path, updated_at
		 FROM templates ORDER BY slug ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*metadata.TemplateMetadata, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, t)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) DeleteTemplate(ctx context.Context, slug string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE slug = ?`, slug)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*metadata.TemplateMetadata, error) {
	var (
		t            metadata.TemplateMetadata
		kind         string
		requiredJSON string
		entitiesJSON string
	)
	if err := row.Scan(&t.Slug, &t.Name, &kind, &t.Purpose, &requiredJSON, &t.Complexity,
		&entitiesJSON, &t.Workspace, &t.ArtifactPath, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Kind = metadata.TemplateKind(kind)
	if err := json.Unmarshal([]byte(requiredJSON), &t.RequiredData); err != nil {
		return nil, fmt.Errorf("decode required data for %s: %w", t.Slug, err)
	}
	if err := json.Unmarshal([]byte(entitiesJSON), &t.ExpectedEntities); err != nil {
		return nil, fmt.Errorf("decode expected entities for %s: %w", t.Slug, err)
	}
	return &t, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*metadata.DocumentMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, filename, kind, purpose, topics_json, data_categories_json, language, relevance_json, updated_at
		 FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.Newf(faults.ErrNotFound, "document %s not found", id)
	}
	return d, err
}

func (s *SQLiteStore) PutDocument(ctx context.Context, d *metadata.DocumentMetadata) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("document id is required")
	}
	topicsJSON, err := json.Marshal(emptyIfNil(d.Topics))
	if err != nil {
		return err
	}
	categoriesJSON, err := json.Marshal(emptyIfNil(d.DataCategories))
	if err != nil {
		return err
	}
	relevanceJSON, err := json.Marshal(emptyRelevanceIfNil(d.TemplateRelevance))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, customer_id, filename, kind, purpose, topics_json, data_categories_json, language, relevance_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			customer_id=excluded.customer_id,
			filename=excluded.filename,
			kind=excluded.kind,
			purpose=excluded.purpose,
			topics_json=excluded.topics_json,
			data_categories_json=excluded.data_categories_json,
			language=excluded.language,
			relevance_json=excluded.relevance_json,
			updated_at=excluded.updated_at`,
		d.ID, d.CustomerID, d.Filename, d.Kind, d.Purpose, string(topicsJSON),
		string(categoriesJSON), d.Language, string(relevanceJSON), d.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, customerID string) ([]*metadata.DocumentMetadata, error) {
	query := `SELECT id, customer_id, filename, kind, purpose, topics_json, data_categories_json, language, relevance_json, updated_at
		 FROM documents`
	args := []any{}
	if customerID != "" {
		query += ` WHERE customer_id = ?`
		args = append(args, customerID)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*metadata.DocumentMetadata, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, d)
	}
	return ret, rows.Err()
}

func scanDocument(row rowScanner) (*metadata.DocumentMetadata, error) {
	var (
		d              metadata.DocumentMetadata
		topicsJSON     string
		categoriesJSON string
		relevanceJSON  string
	)
	if err := row.Scan(&d.ID, &d.CustomerID, &d.Filename, &d.Kind, &d.Purpose,
		&topicsJSON, &categoriesJSON, &d.Language, &relevanceJSON, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(topicsJSON), &d.Topics); err != nil {
		return nil, fmt.Errorf("decode topics for %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(categoriesJSON), &d.DataCategories); err != nil {
		return nil, fmt.Errorf("decode data categories for %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(relevanceJSON), &d.TemplateRelevance); err != nil {
		return nil, fmt.Errorf("decode relevance for %s: %w", d.ID, err)
	}
	return &d, nil
}

// UpdateRelevance rewrites the document's relevance list whole inside a
// per-document critical section.
func (s *SQLiteStore) UpdateRelevance(ctx context.Context, docID string, fn func(existing []metadata.RelevanceEntry) []metadata.RelevanceEntry) error {
	lock := s.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	merged := fn(doc.TemplateRelevance)
	relevanceJSON, err := json.Marshal(emptyRelevanceIfNil(merged))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE documents SET relevance_json = ?, updated_at = ? WHERE id = ?`,
		string(relevanceJSON), time.Now().UTC(), docID)
	return err
}

func (s *SQLiteStore) docLock(docID string) *sync.Mutex {
	actual, _ := s.docLocks.LoadOrStore(docID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// --- jobs.Registry ---

func (s *SQLiteStore) Load(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope_json, force_recalculate, created_by, status, total_units, processed_units, matched_units, skipped_units, error, created_at, started_at, completed_at
		 FROM jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		var (
			job         jobs.Job
			scopeJSON   string
			force       int
			status      string
			startedAt   sql.NullTime
			completedAt sql.NullTime
		)
		if err := rows.Scan(&job.ID, &scopeJSON, &force, &job.CreatedBy, &status,
			&job.TotalUnits, &job.ProcessedUnits, &job.MatchedUnits, &job.SkippedUnits,
			&job.Error, &job.CreatedAt, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(scopeJSON), &job.Scope); err != nil {
			return nil, fmt.Errorf("decode scope for job %s: %w", job.ID, err)
		}
		job.ForceRecalculate = force != 0
		job.Status = jobs.Status(status)
		if startedAt.Valid {
			t := startedAt.Time
			job.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			job.CompletedAt = &t
		}
		ret = append(ret, &job)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) Upsert(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	scopeJSON, err := json.Marshal(job.Scope)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, scope_json, force_recalculate, created_by, status, total_units, processed_units, matched_units, skipped_units, error, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			scope_json=excluded.scope_json,
			force_recalculate=excluded.force_recalculate,
			created_by=excluded.created_by,
			status=excluded.status,
			total_units=excluded.total_units,
			processed_units=excluded.processed_units,
			matched_units=excluded.matched_units,
			skipped_units=excluded.skipped_units,
			error=excluded.error,
			started_at=excluded.started_at,
			completed_at=excluded.completed_at`,
		job.ID, string(scopeJSON), boolToInt(job.ForceRecalculate), job.CreatedBy,
		string(job.Status), job.TotalUnits, job.ProcessedUnits, job.MatchedUnits,
		job.SkippedUnits, job.Error, job.CreatedAt.UTC(), nullableTime(job.StartedAt), nullableTime(job.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyRelevanceIfNil(s []metadata.RelevanceEntry) []metadata.RelevanceEntry {
	if s == nil {
		return []metadata.RelevanceEntry{}
	}
	return s
}
