package ast

import (
	"log/slog"
	"strings"
)

// Parser converts raw model output into explanation nodes following the
// documented structural convention: '#' headings, $$…$$ display math, $…$
// inline math, **bold**, '-'/'*' and 'N.' list markers, two-space nesting.
//
// Parse is a total function. The model is never trusted to emit well-formed
// markup, so anything unrecognized degrades to plain text instead of failing.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser. A nil logger falls back to slog.Default().
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger.With("component", "ast")}
}

// Parse parses raw text with a default parser. Convenience for callers that
// do not need degradation logging.
func Parse(raw string) []Node {
	return NewParser(slog.Default()).Parse(raw)
}

// Parse returns the explanation nodes for raw, in source order.
func (p *Parser) Parse(raw string) []Node {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	w := &walker{lines: strings.Split(raw, "\n"), logger: p.logger}
	return w.parseBlocks()
}

type walker struct {
	lines  []string
	pos    int
	logger *slog.Logger
}

func (w *walker) parseBlocks() []Node {
	var nodes []Node

	for w.pos < len(w.lines) {
		line := w.lines[w.pos]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			w.pos++

		case headingLevel(trimmed) > 0:
			level := headingLevel(trimmed)
			text := strings.TrimSpace(trimmed[level:])
			w.pos++
			spans := parseSpans(text)
			if len(spans) == 0 {
				continue
			}
			if level > 3 {
				level = 3
			}
			nodes = append(nodes, Node{Kind: NodeHeading, Level: level, Spans: spans})

		case strings.HasPrefix(trimmed, "$$"):
			nodes = append(nodes, w.parseDisplayMath())

		default:
			if _, _, ok := listMarker(trimmed); ok {
				nodes = append(nodes, w.parseList(indentOf(line)))
				continue
			}
			if n, ok := w.parseParagraph(); ok {
				nodes = append(nodes, n)
			}
		}
	}

	return nodes
}

// parseDisplayMath handles a line starting with "$$". An unterminated
// delimiter degrades to a plain paragraph carrying the literal fragment.
func (w *walker) parseDisplayMath() Node {
	trimmed := strings.TrimSpace(w.lines[w.pos])
	rest := trimmed[2:]

	// Single-line form: $$latex$$.
	if end := strings.Index(rest, "$$"); end >= 0 {
		w.pos++
		latex := strings.TrimSpace(rest[:end])
		if latex == "" {
			w.logger.Debug("empty display equation dropped")
			return Node{Kind: NodeParagraph, Spans: []Span{Text(trimmed)}}
		}
		return Node{Kind: NodeEquation, Latex: latex, Display: DisplayBlock}
	}

	// Multi-line form: collect until a closing $$.
	start := w.pos
	var body []string
	if rest != "" {
		body = append(body, rest)
	}
	w.pos++
	for w.pos < len(w.lines) {
		line := strings.TrimSpace(w.lines[w.pos])
		if line == "$$" {
			w.pos++
			return Node{Kind: NodeEquation, Latex: strings.TrimSpace(strings.Join(body, "\n")), Display: DisplayBlock}
		}
		if strings.HasSuffix(line, "$$") {
			body = append(body, strings.TrimSpace(strings.TrimSuffix(line, "$$")))
			w.pos++
			return Node{Kind: NodeEquation, Latex: strings.TrimSpace(strings.Join(body, "\n")), Display: DisplayBlock}
		}
		body = append(body, line)
		w.pos++
	}

	// No closing delimiter: emit the raw fragment verbatim as plain text.
	w.logger.Debug("unterminated display equation, degrading to paragraph", "line", start+1)
	literal := strings.Join(trimLines(w.lines[start:]), "\n")
	return Node{Kind: NodeParagraph, Spans: []Span{Text(literal)}}
}

// parseParagraph collects consecutive plain lines into one paragraph. A
// paragraph that is a single inline equation is promoted to an inline-display
// equation node.
func (w *walker) parseParagraph() (Node, bool) {
	var parts []string
	for w.pos < len(w.lines) {
		trimmed := strings.TrimSpace(w.lines[w.pos])
		if trimmed == "" || headingLevel(trimmed) > 0 || strings.HasPrefix(trimmed, "$$") {
			break
		}
		if _, _, ok := listMarker(trimmed); ok {
			break
		}
		parts = append(parts, trimmed)
		w.pos++
	}

	spans := parseSpans(strings.Join(parts, " "))
	if len(spans) == 0 {
		return Node{}, false
	}
	if len(spans) == 1 && spans[0].Kind == SpanMath {
		return Node{Kind: NodeEquation, Latex: spans[0].Latex, Display: DisplayInline}, true
	}
	return Node{Kind: NodeParagraph, Spans: spans}, true
}

// parseList consumes a run of list items at the given indent. Deeper-indented
// markers nest under the preceding item; a marker-type switch at the same
// indent starts a new list.
func (w *walker) parseList(indent int) Node {
	list := Node{Kind: NodeList}
	first := true

	for w.pos < len(w.lines) {
		line := w.lines[w.pos]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}

		lineIndent := indentOf(line)
		content, ordered, ok := listMarker(trimmed)

		switch {
		case lineIndent < indent:
			return list

		case lineIndent > indent:
			if !ok {
				// Continuation of the previous item's text.
				if len(list.Items) == 0 {
					return list
				}
				last := &list.Items[len(list.Items)-1]
				last.Spans = appendSpans(last.Spans, parseSpans(trimmed))
				w.pos++
				continue
			}
			if len(list.Items) == 0 {
				// Nested marker with no parent item: treat as this list's level.
				lineIndent = indent
			} else {
				child := w.parseList(lineIndent)
				last := &list.Items[len(list.Items)-1]
				last.Children = append(last.Children, child)
				continue
			}
			fallthrough

		default:
			if !ok {
				return list
			}
			if first {
				list.Ordered = ordered
				first = false
			} else if ordered != list.Ordered {
				return list
			}
			list.Items = append(list.Items, ListItem{Spans: parseSpans(content)})
			w.pos++
		}
	}

	return list
}

// headingLevel returns the number of leading '#' characters when the line is
// a heading ('#'s followed by a space), else 0.
func headingLevel(trimmed string) int {
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n >= len(trimmed) || trimmed[n] != ' ' {
		return 0
	}
	return n
}

// listMarker recognizes "- ", "* " and "N. " / "N) " item markers.
func listMarker(trimmed string) (content string, ordered, ok bool) {
	if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
		return strings.TrimSpace(trimmed[2:]), false, true
	}
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(trimmed) && (trimmed[i] == '.' || trimmed[i] == ')') && trimmed[i+1] == ' ' {
		return strings.TrimSpace(trimmed[i+2:]), true, true
	}
	return "", false, false
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 2
		default:
			return n
		}
	}
	return n
}

func trimLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimSpace(l)
	}
	return out
}

// parseSpans splits text into plain, bold, and inline-math spans. Unmatched
// delimiters stay in the output as literal text.
func parseSpans(text string) []Span {
	var spans []Span
	var plain strings.Builder

	flush := func() {
		if plain.Len() > 0 {
			spans = append(spans, Text(plain.String()))
			plain.Reset()
		}
	}

	i := 0
	for i < len(text) {
		switch {
		case strings.HasPrefix(text[i:], "$$"):
			end := strings.Index(text[i+2:], "$$")
			if end > 0 && strings.TrimSpace(text[i+2:i+2+end]) != "" {
				flush()
				spans = append(spans, Math(strings.TrimSpace(text[i+2:i+2+end])))
				i += end + 4
			} else {
				plain.WriteString("$$")
				i += 2
			}

		case text[i] == '$':
			end := strings.IndexByte(text[i+1:], '$')
			if end > 0 && strings.TrimSpace(text[i+1:i+1+end]) != "" {
				flush()
				spans = append(spans, Math(strings.TrimSpace(text[i+1:i+1+end])))
				i += end + 2
			} else {
				plain.WriteByte('$')
				i++
			}

		case strings.HasPrefix(text[i:], "**"):
			end := strings.Index(text[i+2:], "**")
			if end > 0 {
				flush()
				spans = append(spans, Bold(text[i+2:i+2+end]))
				i += end + 4
			} else {
				plain.WriteString("**")
				i += 2
			}

		default:
			plain.WriteByte(text[i])
			i++
		}
	}
	flush()

	// Drop whitespace-only output.
	if len(spans) == 1 && spans[0].Kind == SpanText && strings.TrimSpace(spans[0].Text) == "" {
		return nil
	}
	return spans
}

func appendSpans(dst, more []Span) []Span {
	if len(more) == 0 {
		return dst
	}
	if len(dst) > 0 {
		dst = append(dst, Text(" "))
	}
	return append(dst, more...)
}
