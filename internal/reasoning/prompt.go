package reasoning

import (
	"fmt"
	"strings"

	"github.com/vinodismyname/datasavant/internal/ops"
)

const systemPreamble = `You answer questions about a single table of data named %q (%d rows).
You cannot see the data directly. Inspect it by issuing one instruction at a time; each instruction is executed and its result is returned as an Observation.

%s

Respond in exactly one of these two forms.
To run an instruction:
Thought: <what you want to learn>
Action Input: <one instruction>

When you know the answer:
Thought: <why the evidence is sufficient>
Final Answer: <the answer to the question>

Never write an Observation yourself. Base answers only on observations.`

const summaryDirective = `You have run out of steps. Using only the observations above, reply with "Final Answer:" followed by your best answer. If the evidence is inconclusive, say so briefly.`

// SystemPrompt describes the task, the instruction language, and the schema.
func SystemPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, systemPreamble, req.DatasetName, req.Rows, ops.Vocabulary)
	b.WriteString("\n\nColumns:\n")
	for _, f := range req.Schema {
		fmt.Fprintf(&b, "- %s (%s)\n", f.Name, f.Type)
	}
	return strings.TrimRight(b.String(), "\n")
}

// UserPrompt carries the question and the history of the current session.
func UserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", req.Question)
	if req.Transcript != nil && req.Transcript.Len() > 0 {
		b.WriteString("\n")
		b.WriteString(req.Transcript.Render())
	}
	if req.Summarize {
		b.WriteString("\n")
		b.WriteString(summaryDirective)
	}
	return strings.TrimRight(b.String(), "\n")
}
