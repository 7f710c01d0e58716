package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/openviking/openviking/pkg/vlm"
)

// summaryInputBudget bounds how many tokens of conversation feed one
// summary prompt; older messages fall off first.
const summaryInputBudget = 6000

const summarySystemPrompt = "You compress agent conversations into archive summaries. " +
	"Write a markdown summary covering: what the user wanted, what was done, decisions made, " +
	"and open followups. Keep concrete names, URIs, and numbers. No preamble."

// summarize produces the archive summary for a batch of messages.
func (s *Service) summarize(ctx context.Context, msgs []Message) (string, error) {
	transcript := s.renderTranscript(msgs, summaryInputBudget)
	out, err := s.vlm.Complete(ctx, vlm.Request{
		System: summarySystemPrompt,
		Prompt: fmt.Sprintf("Summarize this conversation:\n\n%s", transcript),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// renderTranscript flattens messages newest-last, dropping the oldest
// ones until the token budget holds.
func (s *Service) renderTranscript(msgs []Message, budget int) string {
	lines := make([]string, len(msgs))
	for i := range msgs {
		lines[i] = msgs[i].Role + ": " + msgs[i].PlainText()
	}
	start := 0
	total := 0
	for i := len(lines) - 1; i >= 0; i-- {
		total += s.tokens.Count(lines[i])
		if total > budget {
			start = i + 1
			break
		}
	}
	if start >= len(lines) {
		start = len(lines) - 1
	}
	return strings.Join(lines[start:], "\n")
}
