package vector

import (
	"context"
	"sync/atomic"

	"github.com/openviking/openviking/pkg/status"
)

// Collection binds a provider to one named collection and carries the
// shutdown latch queue workers consult. During shutdown an upsert against
// a torn-down provider must not surface as an item failure.
type Collection struct {
	provider Provider
	name     string
	closing  atomic.Bool
}

func NewCollection(ctx context.Context, provider Provider, name string, dim int) (*Collection, error) {
	if _, err := provider.CreateCollection(ctx, name, dim); err != nil {
		return nil, err
	}
	return &Collection{provider: provider, name: name}, nil
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Provider() Provider { return c.provider }

// Closing reports whether Close has begun.
func (c *Collection) Closing() bool { return c.closing.Load() }

func (c *Collection) Upsert(ctx context.Context, records []*Record) error {
	err := c.provider.Upsert(ctx, c.name, records)
	if err != nil && c.closing.Load() && status.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Collection) Fetch(ctx context.Context, ids []uint64) ([]*Record, []uint64, error) {
	return c.provider.Fetch(ctx, c.name, ids)
}

func (c *Collection) Delete(ctx context.Context, ids []uint64) error {
	return c.provider.Delete(ctx, c.name, ids)
}

func (c *Collection) DeleteByFilter(ctx context.Context, filter *Filter) error {
	return c.provider.DeleteByFilter(ctx, c.name, filter)
}

func (c *Collection) Search(ctx context.Context, vector []float32, filter *Filter, limit int, scoreThreshold float32) ([]SearchResult, error) {
	return c.provider.Search(ctx, c.name, vector, filter, limit, scoreThreshold)
}

func (c *Collection) Count(ctx context.Context, filter *Filter, groupBy string) (map[string]int64, error) {
	return c.provider.Count(ctx, c.name, filter, groupBy)
}

// DeleteSubtree removes the record for a URI and all its descendants.
func (c *Collection) DeleteSubtree(ctx context.Context, uri string) error {
	return c.DeleteByFilter(ctx, Prefix("uri", uri))
}

func (c *Collection) Close() error {
	c.closing.Store(true)
	return c.provider.Close()
}
