// Package ast defines the validated intermediate representation of a slide
// explanation. The parser in this package is the single trust boundary
// between model-generated text and the rest of the pipeline: everything
// downstream only ever sees the closed set of node and span variants below.
package ast

// NodeKind tags the ExplanationNode variants.
type NodeKind string

const (
	NodeHeading   NodeKind = "heading"
	NodeParagraph NodeKind = "paragraph"
	NodeEquation  NodeKind = "equation"
	NodeList      NodeKind = "list"
)

// Display distinguishes block-level from inline equations.
type Display string

const (
	DisplayBlock  Display = "block"
	DisplayInline Display = "inline"
)

// SpanKind tags the Span variants.
type SpanKind string

const (
	SpanText SpanKind = "text"
	SpanBold SpanKind = "bold"
	SpanMath SpanKind = "math"
)

// Span is an inline run within a heading, paragraph, or list item.
// Text spans carry Text; math spans carry Latex.
type Span struct {
	Kind  SpanKind
	Text  string
	Latex string
}

// ListItem is one entry of a list node. Children hold nested lists.
type ListItem struct {
	Spans    []Span
	Children []Node
}

// Node is a tagged variant. Exactly the fields for its Kind are set:
//
//	NodeHeading:   Level, Spans
//	NodeParagraph: Spans
//	NodeEquation:  Latex, Display
//	NodeList:      Ordered, Items
type Node struct {
	Kind    NodeKind
	Level   int
	Spans   []Span
	Latex   string
	Display Display
	Ordered bool
	Items   []ListItem
}

// Text returns a plain span.
func Text(s string) Span { return Span{Kind: SpanText, Text: s} }

// Bold returns a bold span.
func Bold(s string) Span { return Span{Kind: SpanBold, Text: s} }

// Math returns an inline equation span.
func Math(latex string) Span { return Span{Kind: SpanMath, Latex: latex} }
