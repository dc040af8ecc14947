package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"

	"github.com/docforge/docforge/internal/assistant"
	"github.com/docforge/docforge/pkg/log"
)

// analysisExcerptLimit caps how much document text is embedded in prompts.
const analysisExcerptLimit = 4000

// Analyzer derives metadata records from raw document and template content
// via the assistant, with a deterministic heuristic fallback when the
// assistant is unavailable or returns nothing parseable.
type Analyzer struct {
	client          assistant.Client
	defaultLanguage language.Tag
}

func NewAnalyzer(client assistant.Client, defaultLanguage language.Tag) *Analyzer {
	return &Analyzer{
		client:          client,
		defaultLanguage: defaultLanguage,
	}
}

// DocumentAnalysis wraps an analyzed record. Fallback is true when the
// heuristic path produced it; callers may retry for a non-fallback result.
type DocumentAnalysis struct {
	Meta     *DocumentMetadata
	Fallback bool
}

type documentAnalysisPayload struct {
	Kind           string   `json:"kind"`
	Purpose        string   `json:"purpose"`
	Topics         []string `json:"topics"`
	DataCategories []string `json:"data_categories"`
	Language       string   `json:"language"`
}

// AnalyzeDocument infers type, purpose, topics and data categories for one
// uploaded document. Assistant failures degrade to the heuristic fallback
// rather than erroring; only context cancellation aborts.
func (a *Analyzer) AnalyzeDocument(ctx context.Context, customerID, filename, content string) (DocumentAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return DocumentAnalysis{}, err
	}

	meta := &DocumentMetadata{
		ID:         documentID(customerID, filename),
		CustomerID: customerID,
		Filename:   filename,
		UpdatedAt:  time.Now().UTC(),
	}

	raw, err := a.client.Complete(ctx, assistant.CompletionRequest{
		SystemPrompt: documentAnalysisSystemPrompt,
		UserMessage:  buildDocumentAnalysisPrompt(filename, content),
	})
	if err != nil {
		if ctx.Err() != nil {
			return DocumentAnalysis{}, ctx.Err()
		}
		log.Warn("Document analysis via assistant failed for %s: %v", filename, err)
		a.fillDocumentFallback(meta, content)
		return DocumentAnalysis{Meta: meta, Fallback: true}, nil
	}

	outcome := assistant.ExtractJSON(raw)
	if !outcome.Parsed {
		log.Warn("Unparseable document analysis for %s, raw: %s", filename, truncateForLog(outcome.Raw))
		a.fillDocumentFallback(meta, content)
		return DocumentAnalysis{Meta: meta, Fallback: true}, nil
	}

	var payload documentAnalysisPayload
	if err := json.Unmarshal(outcome.Value, &payload); err != nil {
		log.Warn("Malformed document analysis for %s: %v", filename, err)
		a.fillDocumentFallback(meta, content)
		return DocumentAnalysis{Meta: meta, Fallback: true}, nil
	}

	meta.Kind = payload.Kind
	meta.Purpose = payload.Purpose
	meta.Topics = payload.Topics
	meta.DataCategories = payload.DataCategories
	meta.Language = payload.Language
	if meta.Language == "" {
		meta.Language = a.detectLanguage(content)
	}
	return DocumentAnalysis{Meta: meta}, nil
}

type templateAnalysisPayload struct {
	Kind             string   `json:"kind"`
	Purpose          string   `json:"purpose"`
	RequiredData     []string `json:"required_data"`
	Complexity       string   `json:"complexity"`
	ExpectedEntities []string `json:"expected_entities"`
}

// AnalyzeTemplate fills the inferred fields of base from the template's
// structural skeleton. Identity fields (slug, name, workspace, artifact
// path) are left untouched.
func (a *Analyzer) AnalyzeTemplate(ctx context.Context, base *TemplateMetadata, skeleton string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	base.UpdatedAt = time.Now().UTC()

	raw, err := a.client.Complete(ctx, assistant.CompletionRequest{
		Workspace:    base.Workspace,
		SystemPrompt: templateAnalysisSystemPrompt,
		UserMessage:  buildTemplateAnalysisPrompt(base.Name, skeleton),
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Warn("Template analysis via assistant failed for %s: %v", base.Slug, err)
		fillTemplateFallback(base, skeleton)
		return true, nil
	}

	outcome := assistant.ExtractJSON(raw)
	if !outcome.Parsed {
		log.Warn("Unparseable template analysis for %s, raw: %s", base.Slug, truncateForLog(outcome.Raw))
		fillTemplateFallback(base, skeleton)
		return true, nil
	}

	var payload templateAnalysisPayload
	if err := json.Unmarshal(outcome.Value, &payload); err != nil {
		fillTemplateFallback(base, skeleton)
		return true, nil
	}

	if payload.Kind == string(KindSpreadsheet) {
		base.Kind = KindSpreadsheet
	} else {
		base.Kind = KindDocument
	}
	base.Purpose = payload.Purpose
	base.RequiredData = payload.RequiredData
	base.Complexity = payload.Complexity
	base.ExpectedEntities = payload.ExpectedEntities
	return false, nil
}

func (a *Analyzer) fillDocumentFallback(meta *DocumentMetadata, content string) {
	meta.Kind = kindFromExtension(meta.Filename)
	meta.Purpose = "unclassified"
	meta.Language = a.detectLanguage(content)
}

func fillTemplateFallback(base *TemplateMetadata, skeleton string) {
	if base.Kind == "" {
		base.Kind = KindDocument
	}
	if base.Purpose == "" {
		base.Purpose = "unclassified"
	}
	switch {
	case len(skeleton) > 6000:
		base.Complexity = "complex"
	case len(skeleton) > 1500:
		base.Complexity = "moderate"
	default:
		base.Complexity = "simple"
	}
}

func (a *Analyzer) detectLanguage(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return a.defaultLanguage.String()
	}
	if iso := whatlanggo.DetectLang(trimmed).Iso6391(); iso != "" {
		return iso
	}
	return a.defaultLanguage.String()
}

func kindFromExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls", ".csv":
		return "spreadsheet"
	case ".docx", ".doc", ".odt", ".md", ".txt":
		return "document"
	case ".pdf":
		return "document"
	default:
		return "unknown"
	}
}

func documentID(customerID, filename string) string {
	return customerID + "/" + filename
}

const documentAnalysisSystemPrompt = "You are a document classification expert. " +
	"Given a customer document you identify its type, purpose, topics and the categories of data it contains. " +
	"Respond with JSON only."

func buildDocumentAnalysisPrompt(filename, content string) string {
	var prompt strings.Builder

	prompt.WriteString("Analyze the following document.\n\n")
	prompt.WriteString(fmt.Sprintf("Filename: %s\n\n", filename))
	prompt.WriteString("=== CONTENT EXCERPT ===\n")
	prompt.WriteString(excerpt(content, analysisExcerptLimit))
	prompt.WriteString("\n\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return a JSON object with exactly these keys:\n")
	prompt.WriteString(`{"kind": "document|spreadsheet|unknown", "purpose": "...", "topics": ["..."], "data_categories": ["..."], "language": "ISO 639-1 code"}` + "\n")
	prompt.WriteString("Do not include any explanations or additional text.\n")

	return prompt.String()
}

const templateAnalysisSystemPrompt = "You are a template analysis expert. " +
	"Given the structural skeleton of a reusable document template you identify its purpose, " +
	"the data it requires and its complexity. Respond with JSON only."

func buildTemplateAnalysisPrompt(name, skeleton string) string {
	var prompt strings.Builder

	prompt.WriteString("Analyze the following template skeleton.\n\n")
	prompt.WriteString(fmt.Sprintf("Template name: %s\n\n", name))
	prompt.WriteString("=== SKELETON ===\n")
	prompt.WriteString(excerpt(skeleton, analysisExcerptLimit))
	prompt.WriteString("\n\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return a JSON object with exactly these keys:\n")
	prompt.WriteString(`{"kind": "document|spreadsheet", "purpose": "...", "required_data": ["..."], "complexity": "simple|moderate|complex", "expected_entities": ["..."]}` + "\n")
	prompt.WriteString("Do not include any explanations or additional text.\n")

	return prompt.String()
}

func excerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[... truncated ...]"
}

func truncateForLog(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "..."
}
