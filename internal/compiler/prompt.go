package compiler

import (
	"fmt"
	"strings"

	"github.com/docforge/docforge/internal/metadata"
)

const compileSystemPrompt = "You are an expert document automation engineer. " +
	"You write JavaScript generator functions that rebuild business documents from live customer data. " +
	"Respond with JavaScript source code only."

func buildCompilePrompt(tmpl *metadata.TemplateMetadata, skeleton, metaContext, revisionInstructions, existingSource string) string {
	var prompt strings.Builder

	// Revision instructions come first so they take priority over the
	// generic compile instructions below.
	if revisionInstructions != "" {
		prompt.WriteString("=== REVISION INSTRUCTIONS (highest priority) ===\n")
		prompt.WriteString(revisionInstructions + "\n")
		if existingSource != "" {
			prompt.WriteString("\nCurrent generator to revise (regenerate it in full, do not produce a diff):\n")
			prompt.WriteString("```javascript\n" + existingSource + "\n```\n")
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("=== TASK ===\n")
	prompt.WriteString(fmt.Sprintf("Write a generator for the %s template %q (%s).\n", tmpl.Kind, tmpl.Name, tmpl.Slug))
	if tmpl.Purpose != "" {
		prompt.WriteString("Template purpose: " + tmpl.Purpose + "\n")
	}
	if len(tmpl.RequiredData) > 0 {
		prompt.WriteString("Required data categories: " + strings.Join(tmpl.RequiredData, ", ") + "\n")
	}
	if len(tmpl.ExpectedEntities) > 0 {
		prompt.WriteString("Expected entities: " + strings.Join(tmpl.ExpectedEntities, ", ") + "\n")
	}

	prompt.WriteString("\n=== TEMPLATE SKELETON ===\n")
	prompt.WriteString("Preserve this structure. Every sample value in it is a placeholder: ")
	prompt.WriteString("query real data through the toolkit at generation time, never copy sample values into the code.\n")
	prompt.WriteString(skeleton + "\n")

	if metaContext != "" {
		prompt.WriteString("\n=== RELEVANT CUSTOMER DOCUMENTS ===\n")
		prompt.WriteString("Documents known to match this template; use them to phrase better toolkit queries:\n")
		prompt.WriteString(metaContext + "\n")
	}

	prompt.WriteString("\n=== OUTPUT CONTRACT ===\n")
	prompt.WriteString("Define exactly one top-level function:\n")
	prompt.WriteString("  function generate(toolkit, builder, context)\n")
	prompt.WriteString("toolkit.queryStructured(prompt) returns parsed JSON; toolkit.queryText(prompt) returns a string. ")
	prompt.WriteString("Both query live customer data and may be called as often as needed.\n")
	prompt.WriteString("context is a plain object of caller parameters (for example context.customerId).\n")
	if tmpl.Kind == metadata.KindSpreadsheet {
		prompt.WriteString("builder methods: setCell(sheet, ref, value), setRange(sheet, ref, values), ")
		prompt.WriteString("insertRow(sheet, afterRow, values, copyStyleFromRow).\n")
	} else {
		prompt.WriteString("builder methods: heading(text, level), paragraph(text), ")
		prompt.WriteString("styledParagraph(runs), table(rows, style). ")
		prompt.WriteString("A run is {text, bold, italic, style}.\n")
	}
	prompt.WriteString("Use only the toolkit, builder and context arguments. No file, network or global access.\n")
	prompt.WriteString("Respond with the JavaScript source only. Do not include any explanations.\n")

	return prompt.String()
}
