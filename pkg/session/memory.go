package session

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/openviking/openviking/pkg/processor"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vector"
	"github.com/openviking/openviking/pkg/vikingfs"
	"github.com/openviking/openviking/pkg/vlm"
)

// Memory categories. The first four persist per user, the last two are
// agent-wide working knowledge.
const (
	CategoryProfile     = "profile"
	CategoryPreferences = "preferences"
	CategoryEntities    = "entities"
	CategoryEvents      = "events"
	CategoryCases       = "cases"
	CategoryPatterns    = "patterns"
)

var categoryScopes = map[string]uri.Scope{
	CategoryProfile:     uri.ScopeUser,
	CategoryPreferences: uri.ScopeUser,
	CategoryEntities:    uri.ScopeUser,
	CategoryEvents:      uri.ScopeUser,
	CategoryCases:       uri.ScopeAgent,
	CategoryPatterns:    uri.ScopeAgent,
}

// memoryNameLen bounds the derived node name.
const memoryNameLen = 30

const extractSystemPrompt = "You extract long-term memories from agent conversations. " +
	"Answer with JSON only: {\"memories\": [{\"text\": ..., \"category\": ..., \"confidence\": 0..1}]}. " +
	"Categories: profile (stable facts about the user), preferences (how the user wants things done), " +
	"entities (people, projects, systems), events (dated occurrences), " +
	"cases (solved problems worth reusing), patterns (recurring approaches). " +
	"Each text is one self-contained statement."

const mergeSystemPrompt = "You merge two statements about the same fact into one. " +
	"Keep every detail that is still true; the newer statement wins conflicts. " +
	"Answer with the merged statement only, in the same language."

const decideSystemPrompt = "You deduplicate memories. Given an existing memory and a new candidate, " +
	"answer with JSON only: {\"action\": \"create\"|\"merge\"|\"skip\"}. " +
	"merge when they describe the same fact, create when the candidate is genuinely new, " +
	"skip when it adds nothing."

type memoryCandidate struct {
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

type extraction struct {
	Memories []memoryCandidate `json:"memories"`
}

type dedupDecision struct {
	Action string `json:"action"`
}

// extractMemories runs the extraction prompt over the archived messages
// and persists each accepted candidate, deduplicating against existing
// memories of the same category. Returns how many nodes were created or
// merged.
func (s *Service) extractMemories(ctx context.Context, sessionID string, msgs []Message, used []uri.URI) (int, error) {
	transcript := s.renderTranscript(msgs, summaryInputBudget)
	if strings.TrimSpace(transcript) == "" {
		return 0, nil
	}
	lang := detectLanguage(transcript, s.langFallback)

	var ext extraction
	err := vlm.CompleteJSON(ctx, s.vlm, vlm.Request{
		System: extractSystemPrompt,
		Prompt: fmt.Sprintf("Write each memory in language %q.\n\nConversation:\n\n%s", lang, transcript),
	}, &ext)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, cand := range ext.Memories {
		scope, ok := categoryScopes[cand.Category]
		if !ok || cand.Confidence < s.cfg.MinConfidence || strings.TrimSpace(cand.Text) == "" {
			continue
		}
		stored, err := s.storeMemory(ctx, sessionID, scope, cand, used)
		if err != nil {
			return count, err
		}
		if stored {
			count++
		}
	}
	return count, nil
}

// storeMemory creates or merges one candidate. Returns false when the
// candidate was skipped as a duplicate.
func (s *Service) storeMemory(ctx context.Context, sessionID string, scope uri.Scope, cand memoryCandidate, used []uri.URI) (bool, error) {
	root := uri.Root(scope).Join("memories", cand.Category)

	vec, err := s.emb.Embed(ctx, cand.Text)
	if err != nil {
		return false, err
	}
	hits, err := s.col.Search(ctx, vec,
		vector.And(vector.Eq("context_type", "memory"), vector.Prefix("uri", root.String())),
		1, float32(s.cfg.DedupThreshold))
	if err != nil {
		return false, err
	}

	if len(hits) > 0 {
		switch cand.Category {
		case CategoryEvents, CategoryCases:
			return false, nil
		case CategoryProfile:
			return true, s.mergeMemory(ctx, sessionID, hits[0].Record, cand)
		}
		var dec dedupDecision
		err := vlm.CompleteJSON(ctx, s.vlm, vlm.Request{
			System: decideSystemPrompt,
			Prompt: fmt.Sprintf("Existing: %s\n\nCandidate: %s", hits[0].Record.Abstract, cand.Text),
		}, &dec)
		if err != nil {
			return false, err
		}
		switch dec.Action {
		case "skip":
			return false, nil
		case "merge":
			return true, s.mergeMemory(ctx, sessionID, hits[0].Record, cand)
		}
	}
	return true, s.createMemory(ctx, sessionID, root, cand, used)
}

func (s *Service) createMemory(ctx context.Context, sessionID string, root uri.URI, cand memoryCandidate, used []uri.URI) error {
	base := root.JoinSanitized(memoryName(cand.Text))
	target, err := s.fs.ResolveUniqueURI(ctx, base)
	if err != nil {
		return err
	}
	if err := s.fs.WriteContext(ctx, target, vikingfs.WriteContextInput{
		Content:       []byte(cand.Text),
		Abstract:      cand.Text,
		IsLeaf:        true,
		Category:      cand.Category,
		SessionID:     sessionID,
		VectorizeText: cand.Text,
	}); err != nil {
		return err
	}
	if _, err := s.queues.Enqueue(ctx, queue.EmbeddingQueue, &processor.EmbeddingTask{
		URI:           target.String(),
		VectorizeText: cand.Text,
	}); err != nil {
		return err
	}
	return s.linkUsed(ctx, sessionID, target, used)
}

func (s *Service) mergeMemory(ctx context.Context, sessionID string, existing *vector.Record, cand memoryCandidate) error {
	merged, err := s.vlm.Complete(ctx, vlm.Request{
		System: mergeSystemPrompt,
		Prompt: fmt.Sprintf("Existing: %s\n\nNew: %s", existing.Abstract, cand.Text),
	})
	if err != nil {
		return err
	}
	merged = strings.TrimSpace(merged)
	u, err := uri.Parse(existing.URI)
	if err != nil {
		return err
	}
	if err := s.fs.WriteContext(ctx, u, vikingfs.WriteContextInput{
		Content:       []byte(merged),
		Abstract:      merged,
		IsLeaf:        true,
		Category:      cand.Category,
		SessionID:     sessionID,
		VectorizeText: merged,
	}); err != nil {
		return err
	}
	_, err = s.queues.Enqueue(ctx, queue.EmbeddingQueue, &processor.EmbeddingTask{
		URI:           existing.URI,
		VectorizeText: merged,
	})
	return err
}

// linkUsed records bidirectional relations between a new memory and the
// resources and skills the session used.
func (s *Service) linkUsed(ctx context.Context, sessionID string, mem uri.URI, used []uri.URI) error {
	if len(used) == 0 {
		return nil
	}
	reason := "derived during session " + sessionID
	if err := s.fs.Link(ctx, mem, used, reason); err != nil {
		return err
	}
	for _, u := range used {
		if err := s.fs.Link(ctx, u, []uri.URI{mem}, reason); err != nil {
			return err
		}
	}
	return nil
}

func memoryName(text string) string {
	r := []rune(strings.Join(strings.Fields(text), " "))
	if len(r) > memoryNameLen {
		r = r[:memoryNameLen]
	}
	return string(r)
}

// detectLanguage picks the output language from the dominant script.
// Kana anywhere means Japanese; otherwise the most frequent of Hangul,
// Cyrillic, Arabic, and Han wins; plain Latin falls back.
func detectLanguage(text, fallback string) string {
	var hangul, cyrillic, arabic, kana, han int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Han, r):
			han++
		}
	}
	if kana > 0 {
		return "ja"
	}
	best, lang := 0, fallback
	for _, c := range []struct {
		n    int
		code string
	}{{hangul, "ko"}, {cyrillic, "ru"}, {arabic, "ar"}, {han, "zh-CN"}} {
		if c.n > best {
			best, lang = c.n, c.code
		}
	}
	return lang
}
