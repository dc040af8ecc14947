package metadata

import (
	"context"
	"time"
)

// RelevanceEntry is one document-to-template compatibility rating.
// Score is 0-10; Reasoning is free text from the scorer.
type RelevanceEntry struct {
	TemplateSlug string  `json:"template_slug"`
	TemplateName string  `json:"template_name"`
	Score        float64 `json:"score"`
	Reasoning    string  `json:"reasoning"`
}

// TemplateKind selects the generator output shape.
type TemplateKind string

const (
	KindDocument    TemplateKind = "document"
	KindSpreadsheet TemplateKind = "spreadsheet"
)

// TemplateMetadata is one record per template, refreshed when the template
// artifact is uploaded or re-analyzed.
type TemplateMetadata struct {
	Slug             string       `json:"slug"`
	Name             string       `json:"name"`
	Kind             TemplateKind `json:"kind"`
	Purpose          string       `json:"purpose"`
	RequiredData     []string     `json:"required_data"`
	Complexity       string       `json:"complexity"` // "simple", "moderate", "complex"
	ExpectedEntities []string     `json:"expected_entities"`
	Workspace        string       `json:"workspace"` // assistant context; empty means not configured
	ArtifactPath     string       `json:"artifact_path"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// DocumentMetadata is one record per uploaded customer document.
// TemplateRelevance holds the top-scored template matches and is only ever
// rewritten whole via the merge step.
type DocumentMetadata struct {
	ID                string           `json:"id"`
	CustomerID        string           `json:"customer_id"`
	Filename          string           `json:"filename"`
	Kind              string           `json:"kind"`
	Purpose           string           `json:"purpose"`
	Topics            []string         `json:"topics"`
	DataCategories    []string         `json:"data_categories"`
	Language          string           `json:"language"`
	TemplateRelevance []RelevanceEntry `json:"template_relevance"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// HasRelevanceFor reports whether the document already carries a score for
// the given template slug. Stale entries for deleted templates are fine here;
// readers tolerate them.
func (d *DocumentMetadata) HasRelevanceFor(slug string) bool {
	for _, e := range d.TemplateRelevance {
		if e.TemplateSlug == slug {
			return true
		}
	}
	return false
}

// Store is durable access to per-document and per-template metadata.
type Store interface {
	GetTemplate(ctx context.Context, slug string) (*TemplateMetadata, error)
	PutTemplate(ctx context.Context, t *TemplateMetadata) error
	ListTemplates(ctx context.Context) ([]*TemplateMetadata, error)
	DeleteTemplate(ctx context.Context, slug string) error

	GetDocument(ctx context.Context, id string) (*DocumentMetadata, error)
	PutDocument(ctx context.Context, d *DocumentMetadata) error
	// ListDocuments returns documents for one customer, or all when
	// customerID is empty.
	ListDocuments(ctx context.Context, customerID string) ([]*DocumentMetadata, error)

	// UpdateRelevance applies fn to the document's relevance list inside a
	// read-modify-write transaction serialized per document ID.
	UpdateRelevance(ctx context.Context, docID string, fn func(existing []RelevanceEntry) []RelevanceEntry) error
}
