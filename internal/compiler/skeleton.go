package compiler

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/docforge/docforge/internal/faults"
)

const (
	maxSkeletonLines      = 400
	maxSampleRowsPerTable = 3
	maxSampleParagraphs   = 12
	maxSampleLength       = 160
)

// ExtractSkeleton derives a structural description of a template artifact:
// its headings, table shapes with a few sample rows, and representative
// paragraphs. The description guides generation; the samples in it are
// placeholders the generator must replace with queried data, never copy.
func ExtractSkeleton(content []byte) (string, error) {
	if isBinary(content) {
		return "", faults.New(faults.ErrValidation, "template artifact is not text-extractable")
	}

	text := strings.TrimSpace(string(content))
	if text == "" {
		return "", faults.New(faults.ErrValidation, "template artifact has no extractable skeleton")
	}

	var (
		headings   []string
		tables     [][]string
		paragraphs []string

		currentTable []string
	)
	flushTable := func() {
		if len(currentTable) > 0 {
			tables = append(tables, currentTable)
			currentTable = nil
		}
	}

	lines := strings.Split(text, "\n")
	if len(lines) > maxSkeletonLines {
		lines = lines[:maxSkeletonLines]
	}
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			flushTable()
			continue
		}

		switch {
		case isHeadingLine(line):
			flushTable()
			headings = append(headings, strings.TrimSpace(strings.TrimLeft(line, "#")))
		case isTableRow(line):
			if len(currentTable) < maxSampleRowsPerTable {
				currentTable = append(currentTable, truncateLine(line))
			}
		default:
			flushTable()
			if len(paragraphs) < maxSampleParagraphs {
				paragraphs = append(paragraphs, truncateLine(line))
			}
		}
	}
	flushTable()

	var sb strings.Builder
	if len(headings) > 0 {
		sb.WriteString("HEADINGS (structure to preserve):\n")
		for _, h := range headings {
			sb.WriteString("- " + h + "\n")
		}
	}
	if len(tables) > 0 {
		sb.WriteString("\nTABLES (sample rows, replace values with queried data):\n")
		for i, table := range tables {
			sb.WriteString(fmt.Sprintf("table %d:\n", i+1))
			for _, row := range table {
				sb.WriteString("  " + row + "\n")
			}
		}
	}
	if len(paragraphs) > 0 {
		sb.WriteString("\nSAMPLE PARAGRAPHS (tone and layout only, content is placeholder):\n")
		for _, p := range paragraphs {
			sb.WriteString("- " + p + "\n")
		}
	}

	skeleton := strings.TrimSpace(sb.String())
	if skeleton == "" {
		return "", faults.New(faults.ErrValidation, "template artifact has no extractable skeleton")
	}
	return skeleton, nil
}

func isBinary(content []byte) bool {
	sample := content
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return true
	}
	nonPrintable := 0
	for _, r := range string(sample) {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if !unicode.IsPrint(r) {
			nonPrintable++
		}
	}
	return len(sample) > 0 && nonPrintable*10 > len(sample)*3
}

func isHeadingLine(line string) bool {
	if strings.HasPrefix(line, "#") {
		return true
	}
	// Short all-caps lines read as section titles in plain-text templates.
	if len(line) > 60 {
		return false
	}
	letters := 0
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 3
}

func isTableRow(line string) bool {
	if strings.Count(line, "|") >= 2 || strings.Contains(line, "\t") {
		return true
	}
	return strings.Count(line, "  ") >= 2
}

func truncateLine(line string) string {
	if len(line) <= maxSampleLength {
		return line
	}
	return line[:maxSampleLength] + "..."
}
