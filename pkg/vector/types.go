// Package vector provides the collection layer: schema-typed records with
// dense and optional sparse vectors, filtered similarity search, and count
// aggregation. Three providers are available: an in-memory reference, a
// chromem-go backed persistent store, and qdrant.
package vector

import (
	"context"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Record is one entry in a collection. A record mirrors the filter-relevant
// metadata of a context node; the tree remains authoritative for content.
type Record struct {
	ID           uint64             `json:"id"`
	URI          string             `json:"uri"`
	DenseVector  []float32          `json:"vector,omitempty"`
	SparseVector map[string]float32 `json:"sparse_vector,omitempty"`
	Fields       map[string]any     `json:"fields,omitempty"`
	ContextType  string             `json:"context_type"`
	User         string             `json:"user,omitempty"`
	SessionID    string             `json:"session_id,omitempty"`
	Abstract     string             `json:"abstract,omitempty"`
	ActiveCount  int64              `json:"active_count"`
	// CreatedAt and UpdatedAt are unix milliseconds.
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// RecordID derives the primary key for a URI.
func RecordID(uri string) uint64 {
	return xxhash.Sum64String(uri)
}

// SearchResult pairs a record with its similarity score. Scores are
// comparable only within one search call.
type SearchResult struct {
	Record *Record `json:"record"`
	Score  float32 `json:"score"`
}

// Provider is the capability set every collection backend implements.
type Provider interface {
	// CreateCollection ensures a collection with the given dimension exists.
	// Returns true when it was newly created.
	CreateCollection(ctx context.Context, name string, dim int) (bool, error)
	Upsert(ctx context.Context, collection string, records []*Record) error
	// Fetch returns found records and the ids that were missing.
	Fetch(ctx context.Context, collection string, ids []uint64) ([]*Record, []uint64, error)
	Delete(ctx context.Context, collection string, ids []uint64) error
	DeleteByFilter(ctx context.Context, collection string, filter *Filter) error
	Search(ctx context.Context, collection string, vector []float32, filter *Filter, limit int, scoreThreshold float32) ([]SearchResult, error)
	// Count aggregates matching records; with groupBy == "" the result is
	// {"_total": n}, otherwise one bucket per field value.
	Count(ctx context.Context, collection string, filter *Filter, groupBy string) (map[string]int64, error)
	Name() string
	Close() error
}

// Cosine computes cosine similarity between two vectors of equal length.
func Cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
