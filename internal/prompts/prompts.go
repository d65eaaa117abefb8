// Package prompts holds the embedded tutoring prompts.
package prompts

import (
	"bytes"
	_ "embed"
	"text/template"
)

//go:embed system.tmpl
var systemPromptTmpl string

var systemTemplate = template.Must(template.New("system").Parse(systemPromptTmpl))

// System builds the tutoring system prompt for a course.
func System(course string) string {
	var buf bytes.Buffer
	data := struct{ Course string }{Course: course}
	if err := systemTemplate.Execute(&buf, data); err != nil {
		return systemPromptTmpl
	}
	return buf.String()
}

// Per-call user instructions.
const (
	// AnalyzeInstruction accompanies each slide image.
	AnalyzeInstruction = "Help me understand this slide. Focus on explaining the concepts " +
		"and intuition, do not expand on the math beyond what the slide shows."

	// SummaryInstruction closes the lecture with a recap.
	SummaryInstruction = "Now that we've gone through the entire lecture, provide a " +
		"comprehensive summary. Make sure you mention the most important " +
		"concepts, formulas, and insights that were covered."

	// QuestionsInstruction asks for exam practice material.
	QuestionsInstruction = "Based on the lecture content we've covered, generate 5 exam-style " +
		"questions. Format each question as a numbered list item. Make the " +
		"questions challenging but fair based on the lecture material. Also " +
		"include the correct answer for each question after the question itself."
)
