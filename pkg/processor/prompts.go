package processor

import (
	"fmt"
	"unicode/utf8"
)

// promptContentCap bounds how much node content goes into one prompt.
const promptContentCap = 8000

const abstractSystemPrompt = "You write one-line abstracts for documents in a context store. " +
	"Answer with the abstract only, no preamble, at most 100 words, in the document's language."

const overviewSystemPrompt = "You write structured overviews for documents in a context store. " +
	"Answer with a short markdown outline: purpose, key points, and notable entities. No preamble."

const skillOverviewSystemPrompt = "You summarize agent skills. Given a SKILL.md document, answer with " +
	"a short markdown overview covering what the skill does, when to use it, and its inputs. No preamble."

func abstractPrompt(content string) string {
	return fmt.Sprintf("Write the abstract for the following document:\n\n%s", capText(content, promptContentCap))
}

func overviewPrompt(content string) string {
	return fmt.Sprintf("Write the overview for the following document:\n\n%s", capText(content, promptContentCap))
}

func skillOverviewPrompt(body string) string {
	return fmt.Sprintf("Summarize this skill:\n\n%s", capText(body, promptContentCap))
}

func capText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n(truncated)"
}
