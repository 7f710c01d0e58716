package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openviking/openviking/pkg/status"
)

// MemoryProvider is the in-process reference implementation. It backs tests
// and small deployments; semantics here define what the other providers
// must honor.
type MemoryProvider struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dim     int
	records map[uint64]*Record
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{collections: make(map[string]*memoryCollection)}
}

func (p *MemoryProvider) Name() string { return "memory" }

func (p *MemoryProvider) CreateCollection(_ context.Context, name string, dim int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.collections[name]; ok {
		return false, nil
	}
	p.collections[name] = &memoryCollection{dim: dim, records: make(map[uint64]*Record)}
	return true, nil
}

func (p *MemoryProvider) collection(name string) (*memoryCollection, error) {
	if c, ok := p.collections[name]; ok {
		return c, nil
	}
	return nil, status.NotFound("collection %q does not exist", name)
}

func (p *MemoryProvider) Upsert(_ context.Context, collection string, records []*Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, err := p.collection(collection)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.ID == 0 {
			r.ID = RecordID(r.URI)
		}
		if len(r.DenseVector) > 0 && c.dim > 0 && len(r.DenseVector) != c.dim {
			return status.InvalidArgument(
				"vector dimension mismatch for %s: expected %d, got %d", r.URI, c.dim, len(r.DenseVector))
		}
		clone := *r
		c.records[r.ID] = &clone
	}
	return nil
}

func (p *MemoryProvider) Fetch(_ context.Context, collection string, ids []uint64) ([]*Record, []uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, err := p.collection(collection)
	if err != nil {
		return nil, nil, err
	}
	var found []*Record
	var missing []uint64
	for _, id := range ids {
		if r, ok := c.records[id]; ok {
			clone := *r
			found = append(found, &clone)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

func (p *MemoryProvider) Delete(_ context.Context, collection string, ids []uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, err := p.collection(collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(c.records, id)
	}
	return nil
}

func (p *MemoryProvider) DeleteByFilter(_ context.Context, collection string, filter *Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, err := p.collection(collection)
	if err != nil {
		return err
	}
	for id, r := range c.records {
		if filter.Match(r) {
			delete(c.records, id)
		}
	}
	return nil
}

func (p *MemoryProvider) Search(_ context.Context, collection string, vector []float32, filter *Filter, limit int, scoreThreshold float32) ([]SearchResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, err := p.collection(collection)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	results := make([]SearchResult, 0, limit)
	for _, r := range c.records {
		if len(r.DenseVector) == 0 || !filter.Match(r) {
			continue
		}
		score := Cosine(vector, r.DenseVector)
		if score < scoreThreshold {
			continue
		}
		clone := *r
		results = append(results, SearchResult{Record: &clone, Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (p *MemoryProvider) Count(_ context.Context, collection string, filter *Filter, groupBy string) (map[string]int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, err := p.collection(collection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, r := range c.records {
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

func (p *MemoryProvider) Close() error { return nil }

var _ Provider = (*MemoryProvider)(nil)
