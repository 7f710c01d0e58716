package uri

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openviking/openviking/pkg/status"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"viking://resources/docs/guide", "viking://resources/docs/guide", false},
		{"viking://resources/docs/", "viking://resources/docs", false},
		{"viking://resources//docs///guide", "viking://resources/docs/guide", false},
		{"viking://user", "viking://user", false},
		{"viking://temp/08251012_ab12cd", "viking://temp/08251012_ab12cd", false},
		{"http://resources/docs", "", true},
		{"viking://", "", true},
		{"viking://bogus/x", "", true},
		{"viking://resources/../etc", "", true},
		{"resources/docs", "", true},
	}
	for _, tt := range tests {
		u, err := Parse(tt.raw)
		if tt.wantErr {
			require.Error(t, err, tt.raw)
			assert.Equal(t, status.CodeInvalidURI, status.CodeOf(err), tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, u.String(), tt.raw)
	}
}

func TestParentAndName(t *testing.T) {
	u := MustParse("viking://resources/docs/guide")
	assert.Equal(t, "guide", u.Name())

	p, ok := u.Parent()
	require.True(t, ok)
	assert.Equal(t, "viking://resources/docs", p.String())

	root, ok := p.Parent()
	require.True(t, ok)
	assert.Equal(t, "viking://resources", root.String())
	assert.True(t, root.IsRoot())

	_, ok = root.Parent()
	assert.False(t, ok)
}

func TestJoin(t *testing.T) {
	u := Root(ScopeAgent).Join("skills", "web-search")
	assert.Equal(t, "viking://agent/skills/web-search", u.String())

	// Empty and slash-padded segments are cleaned up.
	u = Root(ScopeUser).Join("", "memories/", "/profile")
	assert.Equal(t, "viking://user/memories/profile", u.String())
}

func TestHasPrefix(t *testing.T) {
	base := MustParse("viking://resources/docs")
	assert.True(t, MustParse("viking://resources/docs").HasPrefix(base))
	assert.True(t, MustParse("viking://resources/docs/a/b").HasPrefix(base))
	assert.False(t, MustParse("viking://resources/docs2").HasPrefix(base))
	assert.False(t, MustParse("viking://user/docs/a").HasPrefix(base))
	assert.True(t, MustParse("viking://user/docs/a").HasPrefix(Root(ScopeUser)))
}

func TestSanitizeSegment(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"My Report (final).pdf", "My_Report_final_pdf"},
		{"hello-world", "hello-world"},
		{"__x__", "x"},
		{"a///b", "a_b"},
		{"中文文档", "中文文档"},
		{"!!!", "unnamed"},
		{"", "unnamed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeSegment(tt.in), tt.in)
	}

	long := SanitizeSegment(strings.Repeat("a", 80))
	assert.Len(t, long, 50)
}

func TestNewTemp(t *testing.T) {
	a := NewTemp()
	b := NewTemp()
	assert.Equal(t, ScopeTemp, a.Scope())
	assert.NotEqual(t, a.String(), b.String())
	assert.Regexp(t, `^viking://temp/\d{8}_[0-9a-f]{6}$`, a.String())
}

func TestInferContextType(t *testing.T) {
	assert.Equal(t, TypeResource, InferContextType(MustParse("viking://resources/docs/x")))
	assert.Equal(t, TypeMemory, InferContextType(MustParse("viking://user/memories/profile/p1")))
	assert.Equal(t, TypeSkill, InferContextType(MustParse("viking://agent/skills/web-search")))
	assert.Equal(t, TypeMemory, InferContextType(MustParse("viking://agent/memories/cases/c1")))
}

func TestJSONRoundTrip(t *testing.T) {
	type doc struct {
		Root URI `json:"root"`
		Opt  URI `json:"opt,omitempty"`
	}
	in := doc{Root: MustParse("viking://resources/docs/guide")}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"viking://resources/docs/guide"`)

	var out doc
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Root, out.Root)
	assert.True(t, out.Opt.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`{"root":"nonsense"}`), &out))
}
