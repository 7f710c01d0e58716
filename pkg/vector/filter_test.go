package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleRecord() *Record {
	return &Record{
		URI:         "viking://resources/docs/guide",
		ContextType: "resource",
		User:        "alice",
		ActiveCount: 3,
		Fields:      map[string]any{"lang": "en"},
	}
}

func TestFilterMatch(t *testing.T) {
	r := sampleRecord()

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil matches all", nil, true},
		{"eq hit", Eq("context_type", "resource"), true},
		{"eq miss", Eq("context_type", "memory"), false},
		{"eq custom field", Eq("lang", "en"), true},
		{"ne", Ne("user", "bob"), true},
		{"ne on missing field", Ne("missing", "x"), true},
		{"in hit", In("user", "bob", "alice"), true},
		{"in miss", In("user", "bob", "carol"), false},
		{"range inside", Range("active_count", f64(1), f64(5)), true},
		{"range below min", Range("active_count", f64(4), nil), false},
		{"range open max", Range("active_count", nil, f64(3)), true},
		{"and both", And(Eq("user", "alice"), Eq("context_type", "resource")), true},
		{"and one fails", And(Eq("user", "alice"), Eq("context_type", "skill")), false},
		{"or one hits", Or(Eq("user", "bob"), Eq("user", "alice")), true},
		{"or none hits", Or(Eq("user", "bob"), Eq("user", "carol")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(r))
		})
	}
}

func TestURIPrefixMatchesDescendantsOnly(t *testing.T) {
	filter := Prefix("uri", "viking://resources/docs")

	assert.True(t, filter.Match(&Record{URI: "viking://resources/docs"}))
	assert.True(t, filter.Match(&Record{URI: "viking://resources/docs/guide"}))
	assert.True(t, filter.Match(&Record{URI: "viking://resources/docs/a/b/c"}))

	// A sibling sharing the name prefix is not a descendant.
	assert.False(t, filter.Match(&Record{URI: "viking://resources/docs2"}))
	assert.False(t, filter.Match(&Record{URI: "viking://resources/doc"}))
}

func TestAndOrCollapse(t *testing.T) {
	assert.Nil(t, And())
	assert.Nil(t, And(nil, nil))
	assert.Nil(t, Or(nil))

	leaf := Eq("user", "alice")
	assert.Same(t, leaf, And(nil, leaf))
	assert.Same(t, leaf, Or(leaf, nil))

	combined := And(leaf, Eq("context_type", "resource"))
	assert.Equal(t, OpAnd, combined.Op)
	assert.Len(t, combined.Children, 2)
}

func f64(v float64) *float64 { return &v }
