package sandbox

import (
	"fmt"

	"github.com/docforge/docforge/internal/metadata"
)

// BlockType enumerates document-body block kinds.
type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading   BlockType = "heading"
	BlockTable     BlockType = "table"
)

// Run is one styled span inside a paragraph.
type Run struct {
	Text   string `json:"text"`
	Bold   bool   `json:"bold,omitempty"`
	Italic bool   `json:"italic,omitempty"`
	Style  string `json:"style,omitempty"`
}

// Block is one ordered element of a document body.
type Block struct {
	Type  BlockType  `json:"type"`
	Runs  []Run      `json:"runs,omitempty"`
	Level int        `json:"level,omitempty"`
	Rows  [][]string `json:"rows,omitempty"`
	Style string     `json:"style,omitempty"`
}

// SheetOpKind enumerates spreadsheet operations.
type SheetOpKind string

const (
	OpSetCell   SheetOpKind = "setCell"
	OpSetRange  SheetOpKind = "setRange"
	OpInsertRow SheetOpKind = "insertRow"
)

// SheetOp is one spreadsheet mutation. InsertRow carries an optional
// style-copy hint: the row whose formatting the new row should inherit.
type SheetOp struct {
	Op               SheetOpKind `json:"op"`
	Sheet            string      `json:"sheet"`
	Ref              string      `json:"ref,omitempty"`
	Value            any         `json:"value,omitempty"`
	Values           [][]any     `json:"values,omitempty"`
	AfterRow         int         `json:"afterRow,omitempty"`
	RowValues        []any       `json:"rowValues,omitempty"`
	CopyStyleFromRow int         `json:"copyStyleFromRow,omitempty"`
}

// Output is the structured result of one generator run: either an ordered
// document body or a list of spreadsheet operations, depending on the
// template kind.
type Output struct {
	Kind   metadata.TemplateKind `json:"kind"`
	Blocks []Block               `json:"blocks,omitempty"`
	Ops    []SheetOp             `json:"ops,omitempty"`
}

// Builder accumulates generator output. It is handed to the generator as its
// second argument; each run gets a fresh builder, so no state leaks between
// invocations. Methods are shape-checked: calling a spreadsheet operation on
// a document builder is a generator bug and raises an error inside the
// sandbox.
type Builder struct {
	kind metadata.TemplateKind
	out  Output
}

func NewBuilder(kind metadata.TemplateKind) *Builder {
	return &Builder{kind: kind, out: Output{Kind: kind}}
}

func (b *Builder) Output() *Output {
	out := b.out
	return &out
}

func (b *Builder) requireKind(want metadata.TemplateKind, op string) error {
	if b.kind != want {
		return fmt.Errorf("%s is a %s operation, but this template produces a %s", op, want, b.kind)
	}
	return nil
}

func (b *Builder) paragraph(runs []Run) error {
	if err := b.requireKind(metadata.KindDocument, "paragraph"); err != nil {
		return err
	}
	b.out.Blocks = append(b.out.Blocks, Block{Type: BlockParagraph, Runs: runs})
	return nil
}

func (b *Builder) heading(text string, level int) error {
	if err := b.requireKind(metadata.KindDocument, "heading"); err != nil {
		return err
	}
	if level < 1 {
		level = 1
	}
	b.out.Blocks = append(b.out.Blocks, Block{
		Type:  BlockHeading,
		Level: level,
		Runs:  []Run{{Text: text}},
	})
	return nil
}

func (b *Builder) table(rows [][]string, style string) error {
	if err := b.requireKind(metadata.KindDocument, "table"); err != nil {
		return err
	}
	b.out.Blocks = append(b.out.Blocks, Block{Type: BlockTable, Rows: rows, Style: style})
	return nil
}

func (b *Builder) setCell(sheet, ref string, value any) error {
	if err := b.requireKind(metadata.KindSpreadsheet, "setCell"); err != nil {
		return err
	}
	b.out.Ops = append(b.out.Ops, SheetOp{Op: OpSetCell, Sheet: sheet, Ref: ref, Value: value})
	return nil
}

func (b *Builder) setRange(sheet, ref string, values [][]any) error {
	if err := b.requireKind(metadata.KindSpreadsheet, "setRange"); err != nil {
		return err
	}
	b.out.Ops = append(b.out.Ops, SheetOp{Op: OpSetRange, Sheet: sheet, Ref: ref, Values: values})
	return nil
}

func (b *Builder) insertRow(sheet string, afterRow int, values []any, copyStyleFromRow int) error {
	if err := b.requireKind(metadata.KindSpreadsheet, "insertRow"); err != nil {
		return err
	}
	b.out.Ops = append(b.out.Ops, SheetOp{
		Op:               OpInsertRow,
		Sheet:            sheet,
		AfterRow:         afterRow,
		RowValues:        values,
		CopyStyleFromRow: copyStyleFromRow,
	})
	return nil
}
