package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchema is the response-schema directive sent with every model call.
// The model wraps its explanation markup in a small JSON envelope so the
// response can be checked for shape before the markup itself is parsed.
const envelopeSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "title": {"type": "string"},
    "markup": {"type": "string"}
  },
  "required": ["title", "markup"]
}`

// Envelope is the validated model response wrapper. Markup carries the
// structured explanation text; Title names the slide.
type Envelope struct {
	Title  string `json:"title"`
	Markup string `json:"markup"`
}

// compileEnvelopeSchema compiles the envelope schema once at client setup.
func compileEnvelopeSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("envelope.json", bytes.NewReader([]byte(envelopeSchema))); err != nil {
		return nil, fmt.Errorf("failed to load envelope schema: %w", err)
	}
	schema, err := compiler.Compile("envelope.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile envelope schema: %w", err)
	}
	return schema, nil
}

// decodeEnvelope extracts and validates the response envelope from raw model
// content. Recovery is lenient (markdown fences, surrounding prose) because
// even schema-directed output is model-generated text. It returns ok=false
// when no valid envelope can be recovered; the caller then treats the whole
// content as markup and lets the AST parser degrade it.
func decodeEnvelope(schema *jsonschema.Schema, content string) (Envelope, bool) {
	for _, candidate := range jsonCandidates(content) {
		var doc any
		if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
			continue
		}
		if err := schema.Validate(doc); err != nil {
			continue
		}
		var env Envelope
		if err := json.Unmarshal([]byte(candidate), &env); err != nil {
			continue
		}
		return env, true
	}
	return Envelope{}, false
}

// jsonCandidates returns plausible JSON payloads within content: the content
// itself, the content with markdown code fences stripped, and the outermost
// braced region.
func jsonCandidates(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractBraced(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractBraced(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}
