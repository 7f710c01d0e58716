package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/philippgille/chromem-go"

	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/status"
)

// ChromemProvider persists vectors through chromem-go. chromem answers the
// similarity queries; a JSON record index alongside the gob file serves
// fetch-by-id, filtered deletes, and count aggregation, which chromem does
// not expose.
type ChromemProvider struct {
	db          *chromem.DB
	persistPath string

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	// index maps collection -> record id -> record.
	index map[string]map[uint64]*Record
	dims  map[string]int
}

// NewChromemProvider opens (or creates) a chromem database at persistPath.
// An empty path keeps everything in memory.
func NewChromemProvider(persistPath string) (*ChromemProvider, error) {
	log := logger.GetLogger("vector")
	var db *chromem.DB
	if persistPath != "" {
		if err := os.MkdirAll(persistPath, 0755); err != nil {
			return nil, status.Unavailable("create vector dir %q", persistPath).WithCause(err)
		}
		dbPath := filepath.Join(persistPath, "vectors.gob")
		if _, err := os.Stat(dbPath); err == nil {
			loaded, err := chromem.NewPersistentDB(dbPath, false)
			if err != nil {
				log.Warn("existing vector database unreadable, starting fresh", "path", dbPath, "error", err)
				db = chromem.NewDB()
			} else {
				db = loaded
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	p := &ChromemProvider{
		db:          db,
		persistPath: persistPath,
		collections: make(map[string]*chromem.Collection),
		index:       make(map[string]map[uint64]*Record),
		dims:        make(map[string]int),
	}
	if err := p.loadIndex(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ChromemProvider) Name() string { return "chromem" }

// identityEmbed rejects text embedding; vectors are always precomputed.
func identityEmbed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("vectors must be precomputed")
}

func (p *ChromemProvider) indexPath() string {
	return filepath.Join(p.persistPath, "records.json")
}

func (p *ChromemProvider) loadIndex() error {
	if p.persistPath == "" {
		return nil
	}
	data, err := os.ReadFile(p.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return status.Internal("read record index").WithCause(err)
	}
	raw := make(map[string][]*Record)
	if err := json.Unmarshal(data, &raw); err != nil {
		return status.Internal("parse record index").WithCause(err)
	}
	for name, records := range raw {
		m := make(map[uint64]*Record, len(records))
		dim := 0
		for _, r := range records {
			m[r.ID] = r
			if len(r.DenseVector) > 0 {
				dim = len(r.DenseVector)
			}
		}
		p.index[name] = m
		if dim > 0 {
			p.dims[name] = dim
		}
	}
	return nil
}

// saveIndex writes the record index atomically. Callers hold p.mu.
func (p *ChromemProvider) saveIndex() error {
	if p.persistPath == "" {
		return nil
	}
	raw := make(map[string][]*Record, len(p.index))
	for name, m := range p.index {
		records := make([]*Record, 0, len(m))
		for _, r := range m {
			records = append(records, r)
		}
		raw[name] = records
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return status.Internal("encode record index").WithCause(err)
	}
	if err := atomic.WriteFile(p.indexPath(), bytes.NewReader(data)); err != nil {
		return status.Internal("write record index").WithCause(err)
	}
	return nil
}

func (p *ChromemProvider) getCollection(name string) (*chromem.Collection, error) {
	if col, ok := p.collections[name]; ok {
		return col, nil
	}
	col, err := p.db.GetOrCreateCollection(name, nil, identityEmbed)
	if err != nil {
		return nil, status.Internal("get collection %q", name).WithCause(err)
	}
	p.collections[name] = col
	return col, nil
}

func (p *ChromemProvider) CreateCollection(_ context.Context, name string, dim int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	created := p.index[name] == nil
	if created {
		p.index[name] = make(map[uint64]*Record)
	}
	p.dims[name] = dim
	if _, err := p.getCollection(name); err != nil {
		return false, err
	}
	if created {
		if err := p.saveIndex(); err != nil {
			return false, err
		}
	}
	return created, nil
}

func (p *ChromemProvider) records(name string) (map[uint64]*Record, error) {
	m, ok := p.index[name]
	if !ok {
		return nil, status.NotFound("collection %q does not exist", name)
	}
	return m, nil
}

func (p *ChromemProvider) Upsert(ctx context.Context, collection string, records []*Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.records(collection)
	if err != nil {
		return err
	}
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	dim := p.dims[collection]
	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		if r.ID == 0 {
			r.ID = RecordID(r.URI)
		}
		if len(r.DenseVector) > 0 && dim > 0 && len(r.DenseVector) != dim {
			return status.InvalidArgument(
				"vector dimension mismatch for %s: expected %d, got %d", r.URI, dim, len(r.DenseVector))
		}
		clone := *r
		m[r.ID] = &clone
		if len(r.DenseVector) > 0 {
			docs = append(docs, chromem.Document{
				ID:        strconv.FormatUint(r.ID, 10),
				Content:   r.URI,
				Metadata:  map[string]string{"uri": r.URI, "context_type": r.ContextType},
				Embedding: r.DenseVector,
			})
		}
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return status.Internal("upsert into %q", collection).WithCause(err)
		}
	}
	if err := p.saveIndex(); err != nil {
		return err
	}
	return p.persist()
}

func (p *ChromemProvider) Fetch(_ context.Context, collection string, ids []uint64) ([]*Record, []uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, err := p.records(collection)
	if err != nil {
		return nil, nil, err
	}
	var found []*Record
	var missing []uint64
	for _, id := range ids {
		if r, ok := m[id]; ok {
			clone := *r
			found = append(found, &clone)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

func (p *ChromemProvider) Delete(ctx context.Context, collection string, ids []uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.records(collection)
	if err != nil {
		return err
	}
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}
	strIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := m[id]; ok {
			delete(m, id)
			strIDs = append(strIDs, strconv.FormatUint(id, 10))
		}
	}
	if len(strIDs) > 0 {
		if err := col.Delete(ctx, nil, nil, strIDs...); err != nil {
			return status.Internal("delete from %q", collection).WithCause(err)
		}
	}
	if err := p.saveIndex(); err != nil {
		return err
	}
	return p.persist()
}

func (p *ChromemProvider) DeleteByFilter(ctx context.Context, collection string, filter *Filter) error {
	p.mu.RLock()
	m, err := p.records(collection)
	if err != nil {
		p.mu.RUnlock()
		return err
	}
	var ids []uint64
	for id, r := range m {
		if filter.Match(r) {
			ids = append(ids, id)
		}
	}
	p.mu.RUnlock()
	return p.Delete(ctx, collection, ids)
}

func (p *ChromemProvider) Search(ctx context.Context, collection string, vector []float32, filter *Filter, limit int, scoreThreshold float32) ([]SearchResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, err := p.records(collection)
	if err != nil {
		return nil, err
	}
	col, err := p.getCollection(collection)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	// chromem rejects nResults above the document count, and the filter is
	// applied after the query, so over-fetch within that bound.
	total := col.Count()
	if total == 0 {
		return nil, nil
	}
	n := limit * 4
	if filter == nil {
		n = limit
	}
	if n > total {
		n = total
	}

	hits, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, status.Internal("search %q", collection).WithCause(err)
	}

	results := make([]SearchResult, 0, limit)
	for _, h := range hits {
		id, err := strconv.ParseUint(h.ID, 10, 64)
		if err != nil {
			continue
		}
		r, ok := m[id]
		if !ok || !filter.Match(r) || h.Similarity < scoreThreshold {
			continue
		}
		clone := *r
		results = append(results, SearchResult{Record: &clone, Score: h.Similarity})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (p *ChromemProvider) Count(_ context.Context, collection string, filter *Filter, groupBy string) (map[string]int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, err := p.records(collection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, r := range m {
		if !filter.Match(r) {
			continue
		}
		if groupBy == "" {
			out["_total"]++
			continue
		}
		v, ok := fieldValue(r, groupBy)
		if !ok {
			continue
		}
		out[fmt.Sprint(v)]++
	}
	if groupBy == "" && len(out) == 0 {
		out["_total"] = 0
	}
	return out, nil
}

// persist exports the chromem database. Callers hold p.mu.
func (p *ChromemProvider) persist() error {
	if p.persistPath == "" {
		return nil
	}
	dbPath := filepath.Join(p.persistPath, "vectors.gob")
	//nolint:staticcheck // Export remains the stable persistence entry point.
	if err := p.db.Export(dbPath, false, ""); err != nil {
		return status.Internal("persist vector database").WithCause(err)
	}
	return nil
}

func (p *ChromemProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.saveIndex(); err != nil {
		return err
	}
	return p.persist()
}

var _ Provider = (*ChromemProvider)(nil)
