// Package service assembles the storage, vector, model, queue, and
// processing layers into one facade the HTTP server and CLI share.
package service

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/embedder"
	"github.com/openviking/openviking/pkg/lock"
	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/parser"
	"github.com/openviking/openviking/pkg/processor"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/retrieve"
	"github.com/openviking/openviking/pkg/session"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/store"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vector"
	"github.com/openviking/openviking/pkg/vikingfs"
	"github.com/openviking/openviking/pkg/vlm"

	"github.com/prometheus/client_golang/prometheus"
)

// Service owns every subsystem. Construction wires them together and
// starts the background workers; Close tears them down in reverse order.
type Service struct {
	cfg *config.Config

	backend  store.Backend
	locks    *lock.Manager
	fs       *vikingfs.FS
	provider vector.Provider
	col      *vector.Collection
	emb      embedder.Embedder
	vlm      vlm.VLM
	queues   *queue.Manager
	registry *parser.Registry

	resources *processor.Resource
	skills    *processor.Skill
	sessions  *session.Service
	retriever *retrieve.Retriever

	log    *slog.Logger
	closed bool
}

// New builds and starts a fully wired service: scope roots exist, stale
// transactions are rolled back, lock sweeping and queue workers run.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, status.InvalidArgument("invalid configuration: %v", err)
	}

	s := &Service{cfg: cfg, log: logger.GetLogger("service")}

	backend, err := store.NewLocal(cfg.Storage.Root)
	if err != nil {
		return nil, err
	}
	s.backend = backend
	for _, scope := range uri.Scopes() {
		if err := backend.Mkdir(ctx, string(scope), true); err != nil {
			return nil, err
		}
	}

	s.locks = lock.NewManager(backend)
	if n, err := s.locks.Recover(ctx); err != nil {
		s.log.Warn("transaction recovery incomplete", "error", err)
	} else if n > 0 {
		s.log.Info("rolled back stale transactions", "count", n)
	}
	s.locks.Start()
	s.fs = vikingfs.New(backend, s.locks)

	s.emb, err = embedder.New(cfg.Embedding)
	if err != nil {
		return nil, s.failInit(err)
	}

	vdb := cfg.Storage.VectorDB
	if vdb.Provider == "chromem" && vdb.Path == "" {
		vdb.Path = filepath.Join(cfg.Storage.Root, "vectordb")
	}
	s.provider, err = vector.NewProvider(vdb)
	if err != nil {
		return nil, s.failInit(err)
	}
	s.col, err = vector.NewCollection(ctx, s.provider, vdb.Collection, s.emb.Dimension())
	if err != nil {
		return nil, s.failInit(err)
	}

	s.vlm, err = vlm.New(cfg.VLM)
	if err != nil {
		return nil, s.failInit(err)
	}

	s.queues = queue.NewManager(cfg.Queue, reg)
	if err := s.queues.Bind(queue.EmbeddingQueue, processor.EmbeddingHandler(s.fs, s.col, s.emb)); err != nil {
		return nil, s.failInit(err)
	}
	if err := s.queues.Bind(queue.SemanticQueue, processor.SemanticHandler(s.fs, s.vlm, s.queues)); err != nil {
		return nil, s.failInit(err)
	}
	s.queues.Start()

	s.fs.SetIndex(&collectionIndex{col: s.col, fs: s.fs, queues: s.queues})

	s.registry = parser.DefaultRegistry()
	s.resources = processor.NewResource(s.fs, s.registry, s.queues)
	s.skills = processor.NewSkill(s.fs, s.vlm, s.queues)
	s.sessions = session.NewService(s.fs, s.col, s.emb, s.vlm, s.queues, cfg.Memory, cfg.LanguageFallback)
	s.retriever = retrieve.New(s.col, s.emb, s.vlm)

	s.log.Info("service ready",
		"root", cfg.Storage.Root,
		"vectordb", vdb.Provider,
		"embedding", s.emb.Model(),
		"vlm", s.vlm.Model())
	return s, nil
}

// failInit tears down whatever came up before the failing step.
func (s *Service) failInit(err error) error {
	_ = s.Close()
	return err
}

// Close stops workers and releases providers. Safe to call twice.
func (s *Service) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.queues != nil {
		s.queues.Stop()
	}
	if s.col != nil {
		if err := s.col.Close(); err != nil {
			s.log.Warn("closing vector collection", "error", err)
		}
	} else if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.log.Warn("closing vector provider", "error", err)
		}
	}
	if s.vlm != nil {
		_ = s.vlm.Close()
	}
	if s.emb != nil {
		_ = s.emb.Close()
	}
	if s.locks != nil {
		s.locks.Stop()
	}
	return nil
}

func (s *Service) Config() *config.Config        { return s.cfg }
func (s *Service) FS() *vikingfs.FS              { return s.fs }
func (s *Service) Collection() *vector.Collection { return s.col }
func (s *Service) Queues() *queue.Manager        { return s.queues }
func (s *Service) Locks() *lock.Manager          { return s.locks }
func (s *Service) Resources() *processor.Resource { return s.resources }
func (s *Service) Skills() *processor.Skill      { return s.skills }
func (s *Service) Sessions() *session.Service    { return s.sessions }
func (s *Service) Retriever() *retrieve.Retriever { return s.retriever }

// SystemStatus is the observer roll-up of every subsystem.
type SystemStatus struct {
	StorageRoot  string                    `json:"storage_root"`
	VectorDB     VectorDBStatus            `json:"vectordb"`
	VLM          ModelStatus               `json:"vlm"`
	Embedding    ModelStatus               `json:"embedding"`
	Queues       map[string]queue.Snapshot `json:"queues"`
	Transactions TransactionStatus         `json:"transactions"`
}

type VectorDBStatus struct {
	Provider   string           `json:"provider"`
	Collection string           `json:"collection"`
	Records    int64            `json:"records"`
	ByType     map[string]int64 `json:"by_type,omitempty"`
}

type ModelStatus struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type TransactionStatus struct {
	Active  int              `json:"active"`
	Records []map[string]any `json:"records,omitempty"`
}

// Status gathers the observer snapshot.
func (s *Service) Status(ctx context.Context) (*SystemStatus, error) {
	byType, err := s.col.Count(ctx, nil, "context_type")
	if err != nil {
		return nil, err
	}
	var total int64
	for _, n := range byType {
		total += n
	}
	return &SystemStatus{
		StorageRoot: s.cfg.Storage.Root,
		VectorDB: VectorDBStatus{
			Provider:   s.cfg.Storage.VectorDB.Provider,
			Collection: s.cfg.Storage.VectorDB.Collection,
			Records:    total,
			ByType:     byType,
		},
		VLM:       ModelStatus{Provider: s.cfg.VLM.Provider, Model: s.vlm.Model()},
		Embedding: ModelStatus{Provider: s.cfg.Embedding.Provider, Model: s.emb.Model()},
		Queues:    s.queues.Snapshot(),
		Transactions: TransactionStatus{
			Active:  s.locks.Count(),
			Records: s.locks.Snapshot(),
		},
	}, nil
}

// collectionIndex keeps the vector collection in step with tree
// mutations: rm purges the subtree's records, mv purges the old address
// and schedules fresh embeddings at the new one.
type collectionIndex struct {
	col    *vector.Collection
	fs     *vikingfs.FS
	queues *queue.Manager
}

func (i *collectionIndex) DeleteSubtree(ctx context.Context, u string) error {
	return i.col.DeleteSubtree(ctx, u)
}

func (i *collectionIndex) ReindexSubtree(ctx context.Context, root uri.URI) error {
	_, err := processor.ReindexTree(ctx, i.fs, i.queues, root)
	return err
}
