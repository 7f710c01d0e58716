package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/embedder"
	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vector"
	"github.com/openviking/openviking/pkg/vikingfs"
	"github.com/openviking/openviking/pkg/vlm"
)

const (
	messagesFile = "messages.jsonl"
	usageFile    = ".usage.jsonl"
	archiveDir   = "archive"
	toolsDir     = "tools"
	toolFile     = "tool.json"
)

// Service owns the session trees under viking://session/. All mutations
// of one session serialize on its lock.
type Service struct {
	fs     *vikingfs.FS
	col    *vector.Collection
	emb    embedder.Embedder
	vlm    vlm.VLM
	queues *queue.Manager
	cfg    config.MemoryConfig
	// langFallback is the output language when no script dominates.
	langFallback string
	tokens       *TokenCounter
	log          *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(fs *vikingfs.FS, col *vector.Collection, emb embedder.Embedder, v vlm.VLM, queues *queue.Manager, cfg config.MemoryConfig, langFallback string) *Service {
	if langFallback == "" {
		langFallback = "en"
	}
	model := ""
	if v != nil {
		model = v.Model()
	}
	return &Service{
		fs:           fs,
		col:          col,
		emb:          emb,
		vlm:          v,
		queues:       queues,
		cfg:          cfg,
		langFallback: langFallback,
		tokens:       NewTokenCounter(model),
		log:          logger.GetLogger("session"),
		locks:        make(map[string]*sync.Mutex),
	}
}

func (s *Service) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// URI returns the session's root URI.
func (s *Service) URI(id string) uri.URI {
	return uri.Root(uri.ScopeSession).JoinSanitized(id)
}

func (s *Service) basePath(id string) string {
	return vikingfs.BackendPath(s.URI(id))
}

// AddMessage appends one message and persists the log.
func (s *Service) AddMessage(ctx context.Context, sessionID, role string, parts []Part) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, status.InvalidArgument("role must be user or assistant, got %q", role)
	}
	if len(parts) == 0 {
		return nil, status.InvalidArgument("message requires at least one part")
	}
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Parts:     parts,
		CreatedAt: time.Now().UnixMilli(),
	}

	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	msgs, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, msg)
	if err := s.writeLog(ctx, sessionID, msgs); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Load returns every message of the session, oldest first.
func (s *Service) Load(ctx context.Context, sessionID string) ([]Message, error) {
	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()
	return s.load(ctx, sessionID)
}

func (s *Service) load(ctx context.Context, sessionID string) ([]Message, error) {
	data, err := s.fs.Backend().ReadBytes(ctx, s.basePath(sessionID)+"/"+messagesFile)
	if err != nil {
		if status.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return decodeLog(data)
}

func (s *Service) writeLog(ctx context.Context, sessionID string, msgs []Message) error {
	data, err := encodeLog(msgs)
	if err != nil {
		return err
	}
	return s.fs.Backend().WriteBytes(ctx, s.basePath(sessionID)+"/"+messagesFile, data)
}

// UpdateToolPart records a tool result: the matching part is mutated in
// place, the whole log is rewritten atomically, and the tool record file
// is updated.
func (s *Service) UpdateToolPart(ctx context.Context, sessionID, messageID, toolID, output, toolStatus string) (*Message, error) {
	switch toolStatus {
	case ToolPending, ToolRunning, ToolCompleted, ToolError:
	default:
		return nil, status.InvalidArgument("unknown tool status %q", toolStatus)
	}

	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	msgs, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var updated *Message
	var part *Part
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		for j := range msgs[i].Parts {
			p := &msgs[i].Parts[j]
			if p.Type == PartTool && p.ToolID == toolID {
				p.ToolOutput = output
				p.ToolStatus = toolStatus
				updated = &msgs[i]
				part = p
			}
		}
	}
	if updated == nil {
		return nil, status.NotFound("no tool part %s in message %s", toolID, messageID)
	}
	if err := s.writeLog(ctx, sessionID, msgs); err != nil {
		return nil, err
	}

	record, err := encodeLog([]Message{{ID: updated.ID, Role: updated.Role, Parts: []Part{*part}, CreatedAt: updated.CreatedAt}})
	if err != nil {
		return nil, err
	}
	toolPath := s.basePath(sessionID) + "/" + toolsDir + "/" + uri.SanitizeSegment(toolID) + "/" + toolFile
	if err := s.fs.Backend().WriteBytes(ctx, toolPath, record); err != nil {
		return nil, err
	}
	return updated, nil
}

// usageRecord is one line of .usage.jsonl.
type usageRecord struct {
	URIs     []string `json:"uris,omitempty"`
	SkillURI string   `json:"skill_uri,omitempty"`
	UsedAt   int64    `json:"used_at"`
}

// Used records that contexts or a skill informed the conversation and
// bumps active_count on each referenced node, in the tree and in the
// collection.
func (s *Service) Used(ctx context.Context, sessionID string, contexts []uri.URI, skill string) (int, error) {
	rec := usageRecord{SkillURI: skill, UsedAt: time.Now().UnixMilli()}
	for _, u := range contexts {
		rec.URIs = append(rec.URIs, u.String())
	}

	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	path := s.basePath(sessionID) + "/" + usageFile
	prev, err := s.fs.Backend().ReadBytes(ctx, path)
	if err != nil && !status.IsNotFound(err) {
		return 0, err
	}
	line, err := encodeUsage(rec)
	if err != nil {
		return 0, err
	}
	if err := s.fs.Backend().WriteBytes(ctx, path, append(prev, line...)); err != nil {
		return 0, err
	}

	all := rec.URIs
	if skill != "" {
		all = append(all, skill)
	}
	updated := 0
	for _, raw := range all {
		u, err := uri.Parse(raw)
		if err != nil {
			continue
		}
		if err := s.fs.Touch(ctx, u); err != nil {
			if status.IsNotFound(err) {
				continue
			}
			return updated, err
		}
		if err := s.bumpActive(ctx, raw); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func (s *Service) bumpActive(ctx context.Context, rawURI string) error {
	recs, _, err := s.col.Fetch(ctx, []uint64{vector.RecordID(rawURI)})
	if err != nil || len(recs) == 0 {
		return err
	}
	recs[0].ActiveCount++
	return s.col.Upsert(ctx, recs)
}

// usedURIs returns the unique URIs the usage log references.
func (s *Service) usedURIs(ctx context.Context, sessionID string) ([]uri.URI, error) {
	data, err := s.fs.Backend().ReadBytes(ctx, s.basePath(sessionID)+"/"+usageFile)
	if err != nil {
		if status.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	recs, err := decodeUsage(data)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []uri.URI
	add := func(raw string) {
		if raw == "" || seen[raw] {
			return
		}
		seen[raw] = true
		if u, err := uri.Parse(raw); err == nil {
			out = append(out, u)
		}
	}
	for _, r := range recs {
		for _, raw := range r.URIs {
			add(raw)
		}
		add(r.SkillURI)
	}
	return out, nil
}

// Commit and extract response statuses.
const (
	StatusCommitted = "committed"
	StatusExtracted = "extracted"
)

// CommitResult reports one commit.
type CommitResult struct {
	Status             string `json:"status"`
	SessionID          string `json:"session_id"`
	Archived           bool   `json:"archived"`
	ArchiveURI         string `json:"archive_uri,omitempty"`
	MemoriesExtracted  int    `json:"memories_extracted"`
	ActiveCountUpdated int    `json:"active_count_updated"`
}

// Commit archives the live log as a summary, extracts long-term
// memories, and truncates the log. An empty session commits to a no-op.
func (s *Service) Commit(ctx context.Context, sessionID string) (*CommitResult, error) {
	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	res := &CommitResult{Status: StatusCommitted, SessionID: sessionID}
	msgs, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return res, nil
	}

	summary, err := s.summarize(ctx, msgs)
	if err != nil {
		return nil, err
	}
	archivePath, err := s.writeArchive(ctx, sessionID, summary)
	if err != nil {
		return nil, err
	}
	res.Archived = true
	res.ArchiveURI = archivePath

	used, err := s.usedURIs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	extracted, err := s.extractMemories(ctx, sessionID, msgs, used)
	if err != nil {
		// The archive is already written; report extraction failure
		// without losing the log.
		return nil, err
	}
	res.MemoriesExtracted = extracted
	res.ActiveCountUpdated = len(used)

	if err := s.fs.Backend().Delete(ctx, s.basePath(sessionID)+"/"+messagesFile); err != nil && !status.IsNotFound(err) {
		return nil, err
	}
	s.log.Info("session committed",
		"session", sessionID, "messages", len(msgs), "memories", extracted, "archive", archivePath)
	return res, nil
}

// Extract runs memory extraction over the live log without archiving
// or truncating it.
func (s *Service) Extract(ctx context.Context, sessionID string) (*CommitResult, error) {
	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	res := &CommitResult{Status: StatusExtracted, SessionID: sessionID}
	msgs, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return res, nil
	}
	used, err := s.usedURIs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	extracted, err := s.extractMemories(ctx, sessionID, msgs, used)
	if err != nil {
		return nil, err
	}
	res.MemoriesExtracted = extracted
	return res, nil
}

// writeArchive stores the summary as the next archive_%03d.md.
func (s *Service) writeArchive(ctx context.Context, sessionID, summary string) (string, error) {
	dir := s.basePath(sessionID) + "/" + archiveDir
	n := 0
	if entries, err := s.fs.Backend().List(ctx, dir); err == nil {
		n = len(entries)
	}
	path := fmt.Sprintf("%s/archive_%03d.md", dir, n)
	if err := s.fs.Backend().WriteBytes(ctx, path, []byte(summary)); err != nil {
		return "", err
	}
	return path, nil
}

// Delete removes the session subtree.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	return s.fs.Rm(ctx, s.URI(sessionID), true)
}

// List returns the known session ids.
func (s *Service) List(ctx context.Context) ([]string, error) {
	entries, err := s.fs.Backend().List(ctx, string(uri.ScopeSession))
	if err != nil {
		if status.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir {
			out = append(out, e.Name)
		}
	}
	return out, nil
}
