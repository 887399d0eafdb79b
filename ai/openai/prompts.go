package openai

import (
	"strings"
)

const answerSystemPrompt = `You answer questions about a catalog of data attributes.
Answer using only the catalog entries given in the context. Do not use prior knowledge.
If the context does not contain enough information, say clearly that the catalog does not answer the question.
Be concise and address the question directly. Refer to attributes by their name.`

const noContext = "No relevant attributes were found in the catalog."

// buildAnswerPrompt lays out the retrieved catalog entries, most relevant
// first, followed by the question.
func buildAnswerPrompt(question string, passages []string) string {
	var b strings.Builder
	b.WriteString("Context:\n--- START CONTEXT ---\n")
	if len(passages) == 0 {
		b.WriteString(noContext)
		b.WriteString("\n")
	}
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimSpace(p))
		b.WriteString("\n")
	}
	b.WriteString("--- END CONTEXT ---\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nAnswer:")
	return b.String()
}
