package vector

import (
	"context"
	"encoding/json"

	"github.com/qdrant/go-client/qdrant"

	"github.com/openviking/openviking/pkg/status"
)

// recordPayloadKey holds the full record as a JSON string. Filterable
// columns are duplicated as flat payload fields so qdrant can pre-filter
// server-side.
const recordPayloadKey = "record"

// QdrantProvider talks to a qdrant server over gRPC.
type QdrantProvider struct {
	client *qdrant.Client
}

// QdrantConfig carries the connection settings for a qdrant server.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

func NewQdrantProvider(cfg QdrantConfig) (*QdrantProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, status.Unavailable("connect to qdrant at %s:%d", cfg.Host, cfg.Port).WithCause(err)
	}
	return &QdrantProvider{client: client}, nil
}

func (p *QdrantProvider) Name() string { return "qdrant" }

func (p *QdrantProvider) CreateCollection(ctx context.Context, name string, dim int) (bool, error) {
	exists, err := p.client.CollectionExists(ctx, name)
	if err != nil {
		return false, status.Unavailable("check collection %q", name).WithCause(err)
	}
	if exists {
		return false, nil
	}
	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return false, status.Unavailable("create collection %q", name).WithCause(err)
	}
	return true, nil
}

func payloadFromRecord(r *Record) (map[string]*qdrant.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, status.Internal("encode record %s", r.URI).WithCause(err)
	}
	payload := map[string]*qdrant.Value{
		recordPayloadKey: qdrant.NewValueString(string(data)),
		"uri":            qdrant.NewValueString(r.URI),
		"context_type":   qdrant.NewValueString(r.ContextType),
		"user":           qdrant.NewValueString(r.User),
		"session_id":     qdrant.NewValueString(r.SessionID),
		"active_count":   qdrant.NewValueInt(r.ActiveCount),
		"created_at":     qdrant.NewValueInt(r.CreatedAt),
		"updated_at":     qdrant.NewValueInt(r.UpdatedAt),
	}
	return payload, nil
}

func recordFromPayload(payload map[string]*qdrant.Value) (*Record, bool) {
	v, ok := payload[recordPayloadKey]
	if !ok {
		return nil, false
	}
	var r Record
	if err := json.Unmarshal([]byte(v.GetStringValue()), &r); err != nil {
		return nil, false
	}
	return &r, true
}

func (p *QdrantProvider) Upsert(ctx context.Context, collection string, records []*Record) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		if r.ID == 0 {
			r.ID = RecordID(r.URI)
		}
		payload, err := payloadFromRecord(r)
		if err != nil {
			return err
		}
		point := &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(r.ID),
			Payload: payload,
		}
		if len(r.DenseVector) > 0 {
			point.Vectors = qdrant.NewVectors(r.DenseVector...)
		}
		points = append(points, point)
	}
	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return status.Unavailable("upsert into %q", collection).WithCause(err)
	}
	return nil
}

func (p *QdrantProvider) Fetch(ctx context.Context, collection string, ids []uint64) ([]*Record, []uint64, error) {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDNum(id))
	}
	points, err := p.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, nil, status.Unavailable("fetch from %q", collection).WithCause(err)
	}
	seen := make(map[uint64]bool, len(points))
	var found []*Record
	for _, point := range points {
		r, ok := recordFromPayload(point.Payload)
		if !ok {
			continue
		}
		seen[r.ID] = true
		found = append(found, r)
	}
	var missing []uint64
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

func (p *QdrantProvider) Delete(ctx context.Context, collection string, ids []uint64) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDNum(id))
	}
	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return status.Unavailable("delete from %q", collection).WithCause(err)
	}
	return nil
}

func (p *QdrantProvider) DeleteByFilter(ctx context.Context, collection string, filter *Filter) error {
	qf, exact := translateFilter(filter)
	if exact {
		_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf},
			},
		})
		if err != nil {
			return status.Unavailable("delete by filter from %q", collection).WithCause(err)
		}
		return nil
	}

	// The filter does not translate fully, so match client-side and delete
	// by id.
	records, err := p.scan(ctx, collection, filter)
	if err != nil {
		return err
	}
	ids := make([]uint64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	return p.Delete(ctx, collection, ids)
}

func (p *QdrantProvider) Search(ctx context.Context, collection string, vector []float32, filter *Filter, limit int, scoreThreshold float32) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	qf, exact := translateFilter(filter)
	fetchLimit := limit
	if !exact {
		fetchLimit = limit * 4
	}

	req := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(fetchLimit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if qf != nil {
		req.Filter = qf
	}
	if scoreThreshold > 0 {
		req.ScoreThreshold = &scoreThreshold
	}

	resp, err := p.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, status.Unavailable("search %q", collection).WithCause(err)
	}

	results := make([]SearchResult, 0, limit)
	for _, point := range resp.Result {
		r, ok := recordFromPayload(point.Payload)
		if !ok {
			continue
		}
		if !exact && !filter.Match(r) {
			continue
		}
		results = append(results, SearchResult{Record: r, Score: point.Score})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// scan pages through a collection and returns the records the filter
// matches. Used for aggregation and for filters qdrant cannot evaluate.
func (p *QdrantProvider) scan(ctx context.Context, collection string, filter *Filter) ([]*Record, error) {
	qf, exact := translateFilter(filter)
	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(uint32(10000)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if exact && qf != nil {
		req.Filter = qf
	}
	points, err := p.client.Scroll(ctx, req)
	if err != nil {
		return nil, status.Unavailable("scan %q", collection).WithCause(err)
	}
	var out []*Record
	for _, point := range points {
		r, ok := recordFromPayload(point.Payload)
		if !ok {
			continue
		}
		if !exact && !filter.Match(r) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (p *QdrantProvider) Count(ctx context.Context, collection string, filter *Filter, groupBy string) (map[string]int64, error) {
	records, err := p.scan(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, r := range records {
		if groupBy == "" {
			out["_total"]++
			continue
		}
		v, ok := fieldValue(r, groupBy)
		if !ok {
			continue
		}
		out[jsonString(v)]++
	}
	if groupBy == "" && len(out) == 0 {
		out["_total"] = 0
	}
	return out, nil
}

func jsonString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

// translateFilter converts a filter tree into a qdrant filter. The second
// return is false when the tree contains a node qdrant cannot express, in
// which case callers must re-check results with Filter.Match.
func translateFilter(f *Filter) (*qdrant.Filter, bool) {
	if f == nil {
		return nil, true
	}
	cond, exact := translateCondition(f)
	if cond == nil {
		return nil, false
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{cond}}, exact
}

func translateCondition(f *Filter) (*qdrant.Condition, bool) {
	switch f.Op {
	case OpAnd:
		conditions := make([]*qdrant.Condition, 0, len(f.Children))
		exact := true
		for _, c := range f.Children {
			cond, childExact := translateCondition(c)
			if cond != nil {
				conditions = append(conditions, cond)
			}
			exact = exact && childExact
		}
		if len(conditions) == 0 {
			return nil, false
		}
		return qdrant.NewFilterAsCondition(&qdrant.Filter{Must: conditions}), exact
	case OpOr:
		conditions := make([]*qdrant.Condition, 0, len(f.Children))
		for _, c := range f.Children {
			cond, childExact := translateCondition(c)
			if cond == nil || !childExact {
				// A partial OR branch would widen the result set, so the
				// whole node falls back to client-side matching.
				return nil, false
			}
			conditions = append(conditions, cond)
		}
		if len(conditions) == 0 {
			return nil, false
		}
		return qdrant.NewFilterAsCondition(&qdrant.Filter{Should: conditions}), true
	case OpEq:
		cond := matchCondition(f.Field, f.Value)
		return cond, cond != nil
	case OpNe:
		cond := matchCondition(f.Field, f.Value)
		if cond == nil {
			return nil, false
		}
		return qdrant.NewFilterAsCondition(&qdrant.Filter{MustNot: []*qdrant.Condition{cond}}), true
	case OpIn:
		keywords := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			s, ok := v.(string)
			if !ok {
				return nil, false
			}
			keywords = append(keywords, s)
		}
		if len(keywords) == 0 {
			return nil, false
		}
		return qdrant.NewMatchKeywords(f.Field, keywords...), true
	case OpRange:
		r := &qdrant.Range{}
		if f.Min != nil {
			r.Gte = f.Min
		}
		if f.Max != nil {
			r.Lte = f.Max
		}
		return qdrant.NewRange(f.Field, r), true
	case OpPrefix:
		// Prefix carries descendant semantics qdrant's text match does not
		// honor, so it always falls back to client-side matching.
		return nil, false
	}
	return nil, false
}

func matchCondition(field string, value any) *qdrant.Condition {
	switch v := value.(type) {
	case string:
		return qdrant.NewMatch(field, v)
	case bool:
		return qdrant.NewMatchBool(field, v)
	case int:
		return qdrant.NewMatchInt(field, int64(v))
	case int64:
		return qdrant.NewMatchInt(field, v)
	case float64:
		fv := v
		return qdrant.NewRange(field, &qdrant.Range{Gte: &fv, Lte: &fv})
	}
	return nil
}

var _ Provider = (*QdrantProvider)(nil)
