package vector

import (
	"fmt"
	"strings"
)

// Op is a filter operator.
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpIn     Op = "in"
	OpRange  Op = "range"
	OpPrefix Op = "prefix"
	OpAnd    Op = "and"
	OpOr     Op = "or"
)

// Filter is a predicate tree over record fields. Leaf nodes name a field;
// and/or nodes carry children.
type Filter struct {
	Op       Op        `json:"op"`
	Field    string    `json:"field,omitempty"`
	Value    any       `json:"value,omitempty"`
	Values   []any     `json:"values,omitempty"`
	Min      *float64  `json:"min,omitempty"`
	Max      *float64  `json:"max,omitempty"`
	Children []*Filter `json:"children,omitempty"`
}

func Eq(field string, value any) *Filter {
	return &Filter{Op: OpEq, Field: field, Value: value}
}

func Ne(field string, value any) *Filter {
	return &Filter{Op: OpNe, Field: field, Value: value}
}

func In(field string, values ...any) *Filter {
	return &Filter{Op: OpIn, Field: field, Values: values}
}

func Prefix(field, prefix string) *Filter {
	return &Filter{Op: OpPrefix, Field: field, Value: prefix}
}

// Range matches min <= field <= max; either bound may be nil.
func Range(field string, min, max *float64) *Filter {
	return &Filter{Op: OpRange, Field: field, Min: min, Max: max}
}

// And combines filters, skipping nils. Returns nil when nothing remains.
func And(filters ...*Filter) *Filter {
	kept := make([]*Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &Filter{Op: OpAnd, Children: kept}
	}
}

func Or(filters ...*Filter) *Filter {
	kept := make([]*Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &Filter{Op: OpOr, Children: kept}
	}
}

// fieldValue resolves a filter field against the record's fixed columns,
// falling back to the free-form Fields map.
func fieldValue(r *Record, field string) (any, bool) {
	switch field {
	case "uri":
		return r.URI, true
	case "context_type":
		return r.ContextType, true
	case "user":
		return r.User, true
	case "session_id":
		return r.SessionID, true
	case "abstract":
		return r.Abstract, true
	case "active_count":
		return r.ActiveCount, true
	case "created_at":
		return r.CreatedAt, true
	case "updated_at":
		return r.UpdatedAt, true
	}
	if r.Fields != nil {
		v, ok := r.Fields[field]
		return v, ok
	}
	return nil, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func valuesEqual(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Match evaluates the filter against a record. A nil filter matches all.
func (f *Filter) Match(r *Record) bool {
	if f == nil {
		return true
	}
	switch f.Op {
	case OpAnd:
		for _, c := range f.Children {
			if !c.Match(r) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range f.Children {
			if c.Match(r) {
				return true
			}
		}
		return len(f.Children) == 0
	case OpEq:
		v, ok := fieldValue(r, f.Field)
		return ok && valuesEqual(v, f.Value)
	case OpNe:
		v, ok := fieldValue(r, f.Field)
		return !ok || !valuesEqual(v, f.Value)
	case OpIn:
		v, ok := fieldValue(r, f.Field)
		if !ok {
			return false
		}
		for _, want := range f.Values {
			if valuesEqual(v, want) {
				return true
			}
		}
		return false
	case OpPrefix:
		v, ok := fieldValue(r, f.Field)
		if !ok {
			return false
		}
		s, ok := v.(string)
		if !ok {
			return false
		}
		p := fmt.Sprint(f.Value)
		// A URI prefix matches the node itself and its descendants, not
		// siblings sharing a name prefix.
		if f.Field == "uri" {
			return s == p || strings.HasPrefix(s, strings.TrimSuffix(p, "/")+"/")
		}
		return strings.HasPrefix(s, p)
	case OpRange:
		v, ok := fieldValue(r, f.Field)
		if !ok {
			return false
		}
		fv, ok := asFloat(v)
		if !ok {
			return false
		}
		if f.Min != nil && fv < *f.Min {
			return false
		}
		if f.Max != nil && fv > *f.Max {
			return false
		}
		return true
	}
	return false
}
