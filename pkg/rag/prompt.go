package rag

import "strings"

const (
	contextHeader  = "CONTEXT:\n"
	questionHeader = "QUESTION:\n"
)

// Prompt is an augmented request split across the two channels a chat model
// accepts: the system instruction and the user message.
type Prompt struct {
	System string
	User   string
}

// Assemble joins the retrieved chunks, in retrieval order, into a CONTEXT
// block followed by a QUESTION block carrying the question verbatim.
func Assemble(chunks []string, question string) string {
	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteString(strings.Join(chunks, "\n\n"))
	b.WriteString("\n\n")
	b.WriteString(questionHeader)
	b.WriteString(question)
	return b.String()
}

// Build assembles the user message and attaches system on its own channel.
func Build(chunks []string, question, system string) Prompt {
	return Prompt{
		System: system,
		User:   Assemble(chunks, question),
	}
}

// Inline renders the legacy single-string form with the system text
// prepended, for backends that have no system role.
func (p Prompt) Inline() string {
	if strings.TrimSpace(p.System) == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}
