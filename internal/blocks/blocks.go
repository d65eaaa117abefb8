// Package blocks lowers explanation ASTs into the destination workspace's
// block representation and batches them to fit the platform's structural
// ceilings (max blocks per append request, max characters per text run).
package blocks

import (
	"encoding/json"
)

// Block types understood by the workspace append endpoint.
const (
	TypeParagraph    = "paragraph"
	TypeHeading2     = "heading_2"
	TypeHeading3     = "heading_3"
	TypeHeading1     = "heading_1"
	TypeEquation     = "equation"
	TypeBulletedItem = "bulleted_list_item"
	TypeNumberedItem = "numbered_list_item"
	TypeImage        = "image"
	TypeDivider      = "divider"
)

// RichText is a single text run. Kind "text" runs carry Text (and optional
// Bold); kind "equation" runs carry Expression.
type RichText struct {
	Kind       string
	Text       string
	Bold       bool
	Expression string
}

// Block is one platform-ready content unit. Children nest list items.
type Block struct {
	Type         string
	RichText     []RichText
	Expression   string // equation blocks
	FileUploadID string // image blocks
	Children     []Block
}

// MarshalJSON renders the block in the workspace API's wire shape:
// {"object":"block","type":T,T:{...}}.
func (b Block) MarshalJSON() ([]byte, error) {
	payload := map[string]any{}

	switch b.Type {
	case TypeEquation:
		payload["expression"] = b.Expression
	case TypeImage:
		payload["type"] = "file_upload"
		payload["file_upload"] = map[string]any{"id": b.FileUploadID}
	case TypeDivider:
		// empty object
	default:
		payload["rich_text"] = richTextWire(b.RichText)
		if len(b.Children) > 0 {
			payload["children"] = b.Children
		}
	}

	return json.Marshal(map[string]any{
		"object": "block",
		"type":   b.Type,
		b.Type:   payload,
	})
}

func richTextWire(runs []RichText) []any {
	out := make([]any, 0, len(runs))
	for _, r := range runs {
		switch r.Kind {
		case "equation":
			out = append(out, map[string]any{
				"type":     "equation",
				"equation": map[string]any{"expression": r.Expression},
			})
		default:
			entry := map[string]any{
				"type": "text",
				"text": map[string]any{"content": r.Text},
			}
			if r.Bold {
				entry["annotations"] = map[string]any{"bold": true}
			}
			out = append(out, entry)
		}
	}
	return out
}

// TextRun returns a plain text run.
func TextRun(s string) RichText { return RichText{Kind: "text", Text: s} }

// BoldRun returns a bold text run.
func BoldRun(s string) RichText { return RichText{Kind: "text", Text: s, Bold: true} }

// EquationRun returns an inline equation run.
func EquationRun(latex string) RichText { return RichText{Kind: "equation", Expression: latex} }

// Paragraph builds a paragraph block.
func Paragraph(runs ...RichText) Block { return Block{Type: TypeParagraph, RichText: runs} }

// Heading1 builds a top-level section heading (used for the summary and
// practice-question sections).
func Heading1(title string) Block {
	return Block{Type: TypeHeading1, RichText: []RichText{TextRun(title)}}
}

// EquationBlock builds a display equation block.
func EquationBlock(latex string) Block { return Block{Type: TypeEquation, Expression: latex} }

// Image builds an image block referencing an uploaded file.
func Image(fileUploadID string) Block { return Block{Type: TypeImage, FileUploadID: fileUploadID} }

// Divider builds a divider block.
func Divider() Block { return Block{Type: TypeDivider} }

// Spacer builds an empty paragraph used for visual spacing between slides.
func Spacer() Block { return Block{Type: TypeParagraph, RichText: []RichText{}} }
