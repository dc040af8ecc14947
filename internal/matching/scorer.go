package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/docforge/docforge/internal/assistant"
	"github.com/docforge/docforge/internal/metadata"
	"github.com/docforge/docforge/pkg/log"
)

// Scorer rates document-to-template compatibility on a 0-10 scale. When an
// assistant workspace is available it asks the assistant first and falls
// back to the deterministic rule heuristic on any parse failure; without a
// workspace the heuristic is used directly. Either path returns exactly one
// entry per input template.
type Scorer struct {
	client assistant.Client
}

func NewScorer(client assistant.Client) *Scorer {
	return &Scorer{client: client}
}

func (s *Scorer) Score(ctx context.Context, doc *metadata.DocumentMetadata, templates []*metadata.TemplateMetadata) ([]metadata.RelevanceEntry, error) {
	if len(templates) == 0 {
		return nil, nil
	}

	workspace := firstWorkspace(templates)
	if s.client != nil && workspace != "" {
		if entries, ok := s.scoreViaAssistant(ctx, workspace, doc, templates); ok {
			return entries, nil
		}
	}

	return s.scoreViaRules(doc, templates), nil
}

type assistantScore struct {
	TemplateSlug string  `json:"template_slug"`
	Score        float64 `json:"score"`
	Reasoning    string  `json:"reasoning"`
}

func (s *Scorer) scoreViaAssistant(ctx context.Context, workspace string, doc *metadata.DocumentMetadata, templates []*metadata.TemplateMetadata) ([]metadata.RelevanceEntry, bool) {
	raw, err := s.client.Complete(ctx, assistant.CompletionRequest{
		Workspace:    workspace,
		SystemPrompt: scoringSystemPrompt,
		UserMessage:  buildScoringPrompt(doc, templates),
	})
	if err != nil {
		log.Warn("Assistant scoring failed for document %s: %v", doc.ID, err)
		return nil, false
	}

	outcome := assistant.ExtractJSON(raw)
	if !outcome.Parsed {
		log.Warn("Unparseable assistant scores for document %s, raw: %.200s", doc.ID, outcome.Raw)
		return nil, false
	}

	var scores []assistantScore
	if err := json.Unmarshal(outcome.Value, &scores); err != nil {
		log.Warn("Malformed assistant scores for document %s: %v", doc.ID, err)
		return nil, false
	}
	if len(scores) == 0 {
		return nil, false
	}

	bySlug := make(map[string]assistantScore, len(scores))
	for _, sc := range scores {
		bySlug[sc.TemplateSlug] = sc
	}

	// Every input template gets an entry; templates the assistant skipped
	// fall back to the rule heuristic.
	entries := make([]metadata.RelevanceEntry, 0, len(templates))
	for _, t := range templates {
		if sc, ok := bySlug[t.Slug]; ok {
			entries = append(entries, metadata.RelevanceEntry{
				TemplateSlug: t.Slug,
				TemplateName: t.Name,
				Score:        clampScore(sc.Score),
				Reasoning:    sc.Reasoning,
			})
			continue
		}
		entries = append(entries, s.ruleEntry(doc, t))
	}
	return entries, true
}

func (s *Scorer) scoreViaRules(doc *metadata.DocumentMetadata, templates []*metadata.TemplateMetadata) []metadata.RelevanceEntry {
	entries := make([]metadata.RelevanceEntry, 0, len(templates))
	for _, t := range templates {
		entries = append(entries, s.ruleEntry(doc, t))
	}
	return entries
}

// ruleEntry computes the deterministic heuristic score: weighted overlap of
// the document's data categories and topics against the template's required
// data and expected entities.
func (s *Scorer) ruleEntry(doc *metadata.DocumentMetadata, t *metadata.TemplateMetadata) metadata.RelevanceEntry {
	docTerms := normalizeTerms(append(append([]string{}, doc.DataCategories...), doc.Topics...))

	requiredHits, requiredTotal := overlap(docTerms, t.RequiredData)
	entityHits, entityTotal := overlap(docTerms, t.ExpectedEntities)

	var score float64
	if requiredTotal > 0 {
		score += 7 * float64(requiredHits) / float64(requiredTotal)
	}
	if entityTotal > 0 {
		score += 3 * float64(entityHits) / float64(entityTotal)
	}
	if requiredTotal == 0 && entityTotal == 0 {
		// Template declares nothing; purpose-word overlap is all we have.
		purposeHits, purposeTotal := overlap(docTerms, strings.Fields(t.Purpose))
		if purposeTotal > 0 {
			score = 5 * float64(purposeHits) / float64(purposeTotal)
		}
	}

	reasoning := fmt.Sprintf("rule-based: %d/%d required data categories, %d/%d expected entities",
		requiredHits, requiredTotal, entityHits, entityTotal)

	return metadata.RelevanceEntry{
		TemplateSlug: t.Slug,
		TemplateName: t.Name,
		Score:        clampScore(math.Round(score*10) / 10),
		Reasoning:    reasoning,
	}
}

func firstWorkspace(templates []*metadata.TemplateMetadata) string {
	for _, t := range templates {
		if t.Workspace != "" {
			return t.Workspace
		}
	}
	return ""
}

func normalizeTerms(terms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		norm := strings.ToLower(strings.TrimSpace(term))
		if norm != "" {
			set[norm] = struct{}{}
		}
	}
	return set
}

func overlap(docTerms map[string]struct{}, wanted []string) (hits, total int) {
	seen := make(map[string]struct{}, len(wanted))
	for _, w := range wanted {
		norm := strings.ToLower(strings.TrimSpace(w))
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		total++
		if _, ok := docTerms[norm]; ok {
			hits++
			continue
		}
		// Substring match catches "revenue" inside "revenue figures".
		for term := range docTerms {
			if strings.Contains(term, norm) || strings.Contains(norm, term) {
				hits++
				break
			}
		}
	}
	return hits, total
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

const scoringSystemPrompt = "You are a document-template matching expert. " +
	"You rate how well each reusable template fits a customer document on a 0-10 scale. " +
	"Respond with JSON only."

func buildScoringPrompt(doc *metadata.DocumentMetadata, templates []*metadata.TemplateMetadata) string {
	var prompt strings.Builder

	prompt.WriteString("=== DOCUMENT ===\n")
	prompt.WriteString(fmt.Sprintf("Filename: %s\n", doc.Filename))
	if doc.Purpose != "" {
		prompt.WriteString(fmt.Sprintf("Purpose: %s\n", doc.Purpose))
	}
	if len(doc.Topics) > 0 {
		prompt.WriteString(fmt.Sprintf("Topics: %s\n", strings.Join(doc.Topics, ", ")))
	}
	if len(doc.DataCategories) > 0 {
		prompt.WriteString(fmt.Sprintf("Data categories: %s\n", strings.Join(doc.DataCategories, ", ")))
	}

	prompt.WriteString("\n=== TEMPLATES ===\n")
	for _, t := range templates {
		prompt.WriteString(fmt.Sprintf("- slug: %s | name: %s | purpose: %s | required data: %s | expected entities: %s\n",
			t.Slug, t.Name, t.Purpose,
			strings.Join(t.RequiredData, ", "),
			strings.Join(t.ExpectedEntities, ", ")))
	}

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return a JSON array with one object per template:\n")
	prompt.WriteString(`[{"template_slug": "...", "score": 0, "reasoning": "..."}]` + "\n")
	prompt.WriteString("Score every listed template, even when the score is 0.\n")
	prompt.WriteString("Do not include any explanations outside the JSON.\n")

	return prompt.String()
}
