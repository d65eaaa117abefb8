package blocks

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jackzampolin/lectern/internal/ast"
)

// Limits are the destination platform's structural ceilings. They come from
// configuration, not from constants buried in the lowering code.
type Limits struct {
	MaxBlocksPerAppend int // top-level blocks per append request
	MaxRunLength       int // characters per text run
}

// DefaultLimits returns the platform's published ceilings.
func DefaultLimits() Limits {
	return Limits{MaxBlocksPerAppend: 100, MaxRunLength: 2000}
}

// Compiler lowers explanation nodes into platform blocks, splitting oversized
// text runs and batching oversized block sequences. Compilation is
// deterministic: the same AST always yields the same batches.
type Compiler struct {
	limits Limits
	logger *slog.Logger
}

// NewCompiler creates a compiler. Zero-value limits fall back to defaults.
func NewCompiler(limits Limits, logger *slog.Logger) *Compiler {
	if limits.MaxBlocksPerAppend <= 0 {
		limits.MaxBlocksPerAppend = DefaultLimits().MaxBlocksPerAppend
	}
	if limits.MaxRunLength <= 0 {
		limits.MaxRunLength = DefaultLimits().MaxRunLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{limits: limits, logger: logger.With("component", "compiler")}
}

// Limits returns the compiler's configured ceilings.
func (c *Compiler) Limits() Limits { return c.limits }

// Compile lowers nodes and batches the result for ordered appending.
func (c *Compiler) Compile(nodes []ast.Node) [][]Block {
	return c.Batch(c.Lower(nodes))
}

// Lower converts nodes to blocks in source order.
func (c *Compiler) Lower(nodes []ast.Node) []Block {
	var out []Block

	for _, n := range nodes {
		switch n.Kind {
		case ast.NodeHeading:
			runs := c.runs(n.Spans)
			if len(runs) == 0 {
				continue
			}
			typ := TypeHeading3
			if n.Level == 1 {
				typ = TypeHeading2
			}
			out = append(out, Block{Type: typ, RichText: runs})

		case ast.NodeParagraph:
			runs := c.runs(n.Spans)
			if len(runs) == 0 {
				continue
			}
			out = append(out, Paragraph(runs...))

		case ast.NodeEquation:
			latex := strings.TrimSpace(n.Latex)
			if latex == "" {
				continue
			}
			if n.Display == ast.DisplayInline {
				out = append(out, Paragraph(EquationRun(latex)))
			} else {
				out = append(out, EquationBlock(latex))
			}

		case ast.NodeList:
			typ := TypeBulletedItem
			if n.Ordered {
				typ = TypeNumberedItem
			}
			for _, item := range n.Items {
				runs := c.runs(item.Spans)
				if len(runs) == 0 && len(item.Children) == 0 {
					continue
				}
				out = append(out, Block{
					Type:     typ,
					RichText: runs,
					Children: c.Lower(item.Children),
				})
			}
		}
	}

	return out
}

// Batch chunks top-level blocks so no append request exceeds the ceiling.
func (c *Compiler) Batch(bs []Block) [][]Block {
	if len(bs) == 0 {
		return nil
	}
	max := c.limits.MaxBlocksPerAppend
	batches := make([][]Block, 0, (len(bs)+max-1)/max)
	for start := 0; start < len(bs); start += max {
		end := start + max
		if end > len(bs) {
			end = len(bs)
		}
		batches = append(batches, bs[start:end])
	}
	return batches
}

// runs converts spans to rich text. Text runs over the character ceiling are
// split at whitespace boundaries; an inline equation is never split.
func (c *Compiler) runs(spans []ast.Span) []RichText {
	spans = normalizeSpacing(spans)

	var out []RichText
	for _, s := range spans {
		switch s.Kind {
		case ast.SpanMath:
			if s.Latex == "" {
				continue
			}
			out = append(out, EquationRun(s.Latex))
		case ast.SpanBold:
			for _, part := range splitRun(s.Text, c.limits.MaxRunLength) {
				out = append(out, BoldRun(part))
			}
		default:
			for _, part := range splitRun(s.Text, c.limits.MaxRunLength) {
				out = append(out, TextRun(part))
			}
		}
	}
	return out
}

// splitRun splits s into pieces of at most max bytes, cutting at the nearest
// preceding whitespace. Only a pathological whitespace-free run is cut
// mid-word, at a rune boundary, to keep the ceiling hard.
func splitRun(s string, max int) []string {
	if s == "" {
		return nil
	}
	if len(s) <= max {
		return []string{s}
	}

	var parts []string
	for len(s) > max {
		cut := strings.LastIndexFunc(s[:max], unicode.IsSpace)
		if cut <= 0 {
			cut = max
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			parts = append(parts, s[:cut])
			s = s[cut:]
			continue
		}
		parts = append(parts, s[:cut])
		// The separator may be a multi-byte rune (NBSP, ideographic space);
		// skip its full width so the next part starts on a rune boundary.
		_, size := utf8.DecodeRuneInString(s[cut:])
		s = s[cut+size:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

var (
	closingPunct = ",.;:!?)]}"
	openers      = "([{"
)

// normalizeSpacing inserts natural spacing around inline math so adjacent
// text and equation runs do not render glued together.
func normalizeSpacing(spans []ast.Span) []ast.Span {
	if len(spans) < 2 {
		return spans
	}

	out := make([]ast.Span, len(spans))
	copy(out, spans)

	for i := 0; i < len(out)-1; i++ {
		cur, next := &out[i], &out[i+1]

		if cur.Kind != ast.SpanMath && next.Kind == ast.SpanMath {
			if t := cur.Text; t != "" && !strings.HasSuffix(t, " ") && !strings.ContainsAny(t[len(t)-1:], openers) {
				cur.Text += " "
			}
		}
		if cur.Kind == ast.SpanMath && next.Kind != ast.SpanMath {
			if t := next.Text; t != "" && !strings.HasPrefix(t, " ") && !strings.ContainsAny(t[:1], closingPunct) {
				next.Text = " " + t
			}
		}
	}

	return out
}
