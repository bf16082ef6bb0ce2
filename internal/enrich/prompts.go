package enrich

import (
	"fmt"
	"strings"
)

func analysisPrompt(subject, body string) string {
	var b strings.Builder
	b.WriteString("You help a university student triage their inbox.\n")
	b.WriteString("Classify the email below and respond with a single JSON object:\n")
	b.WriteString(`{"category": "academic-notice" | "deadline-notice" | "event-notice" | "general",`)
	b.WriteString(` "summary": "one or two sentences",`)
	b.WriteString(` "events": [{"type": "exam" | "deadline" | "event", "text": "what and when"}]}`)
	b.WriteString("\nUse an empty events list when the email mentions no dated item.\n\n")
	fmt.Fprintf(&b, "Subject: %s\n\nBody:\n%s\n", subject, body)
	return b.String()
}

func replyPrompt(subject, body, intent string) string {
	var b strings.Builder
	b.WriteString("Draft a reply to the email below on behalf of the recipient.\n")
	fmt.Fprintf(&b, "What the reply should say: %s\n", intent)
	b.WriteString(`Respond with a single JSON object: {"subject": "...", "body": "..."}`)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Original subject: %s\n\nOriginal body:\n%s\n", subject, body)
	return b.String()
}

func refinementPrompt(subject, body, currentDraft, refinement string) string {
	var b strings.Builder
	b.WriteString("Revise the reply draft below.\n")
	fmt.Fprintf(&b, "Requested change: %s\n", refinement)
	b.WriteString(`Respond with a single JSON object: {"subject": "...", "body": "..."}`)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Current draft:\n%s\n\n", currentDraft)
	fmt.Fprintf(&b, "Original subject: %s\n\nOriginal body:\n%s\n", subject, body)
	return b.String()
}
