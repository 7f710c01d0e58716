// Package uri implements the viking:// addressing scheme.
//
// A URI has the form viking://<scope>/<path> where scope is one of the
// closed set below. Path segments derived from user-supplied names are
// sanitized before they enter a URI.
package uri

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openviking/openviking/pkg/status"
)

const Scheme = "viking://"

// Scope is the top-level partition of the tree.
type Scope string

const (
	ScopeResources Scope = "resources"
	ScopeUser      Scope = "user"
	ScopeAgent     Scope = "agent"
	ScopeSession   Scope = "session"
	ScopeQueue     Scope = "queue"
	ScopeTemp      Scope = "temp"
)

var validScopes = map[Scope]bool{
	ScopeResources: true,
	ScopeUser:      true,
	ScopeAgent:     true,
	ScopeSession:   true,
	ScopeQueue:     true,
	ScopeTemp:      true,
}

// Scopes lists every scope in tree order.
func Scopes() []Scope {
	return []Scope{ScopeResources, ScopeUser, ScopeAgent, ScopeSession, ScopeQueue, ScopeTemp}
}

const maxSegmentLen = 50

var (
	invalidSegmentChars = regexp.MustCompile(`[^\w\x{4e00}-\x{9fff}\-]`)
	underscoreRuns      = regexp.MustCompile(`_+`)
)

// URI is a parsed, normalized viking:// address.
type URI struct {
	scope Scope
	// path is the slash-joined path below the scope, empty for a scope root.
	path string
}

// Parse validates and normalizes a raw viking:// string.
func Parse(raw string) (URI, error) {
	if !strings.HasPrefix(raw, Scheme) {
		return URI{}, status.InvalidURI("missing %s scheme: %q", Scheme, raw)
	}
	rest := strings.TrimPrefix(raw, Scheme)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return URI{}, status.InvalidURI("empty uri: %q", raw)
	}

	parts := strings.SplitN(rest, "/", 2)
	scope := Scope(parts[0])
	if !validScopes[scope] {
		return URI{}, status.InvalidURI("unknown scope %q in %q", parts[0], raw)
	}

	u := URI{scope: scope}
	if len(parts) == 2 {
		segs := strings.Split(parts[1], "/")
		clean := segs[:0]
		for _, s := range segs {
			if s == "" {
				continue
			}
			if s == "." || s == ".." {
				return URI{}, status.InvalidURI("relative segment in %q", raw)
			}
			clean = append(clean, s)
		}
		u.path = strings.Join(clean, "/")
	}
	return u, nil
}

// MustParse is Parse for statically known URIs; it panics on error.
func MustParse(raw string) URI {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// Root returns the root URI of a scope.
func Root(scope Scope) URI {
	return URI{scope: scope}
}

func (u URI) Scope() Scope { return u.scope }

// IsZero reports whether u is the zero URI.
func (u URI) IsZero() bool { return u.scope == "" }

// IsRoot reports whether u addresses a scope root.
func (u URI) IsRoot() bool { return u.path == "" }

// String returns the normalized string form. Two URIs are equal iff their
// string forms match byte for byte.
func (u URI) String() string {
	if u.path == "" {
		return Scheme + string(u.scope)
	}
	return Scheme + string(u.scope) + "/" + u.path
}

// Path returns the path below the scope, "" for a scope root.
func (u URI) Path() string { return u.path }

// MarshalText serializes u as its string form; the zero URI is empty.
func (u URI) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return nil, nil
	}
	return []byte(u.String()), nil
}

// UnmarshalText parses a string form; empty input yields the zero URI.
func (u *URI) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = URI{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Name returns the last path segment, or the scope name for a root.
func (u URI) Name() string {
	if u.path == "" {
		return string(u.scope)
	}
	if i := strings.LastIndex(u.path, "/"); i >= 0 {
		return u.path[i+1:]
	}
	return u.path
}

// Parent returns the parent URI and true, or the zero URI and false for a
// scope root.
func (u URI) Parent() (URI, bool) {
	if u.path == "" {
		return URI{}, false
	}
	i := strings.LastIndex(u.path, "/")
	if i < 0 {
		return URI{scope: u.scope}, true
	}
	return URI{scope: u.scope, path: u.path[:i]}, true
}

// Join appends already-clean segments to u. Empty segments are dropped.
func (u URI) Join(segments ...string) URI {
	parts := make([]string, 0, len(segments)+1)
	if u.path != "" {
		parts = append(parts, u.path)
	}
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return URI{scope: u.scope, path: strings.Join(parts, "/")}
}

// JoinSanitized appends user-supplied names, sanitizing each one.
func (u URI) JoinSanitized(names ...string) URI {
	segs := make([]string, len(names))
	for i, n := range names {
		segs[i] = SanitizeSegment(n)
	}
	return u.Join(segs...)
}

// HasPrefix reports whether u is p or a descendant of p.
func (u URI) HasPrefix(p URI) bool {
	if u.scope != p.scope {
		return false
	}
	if p.path == "" {
		return true
	}
	return u.path == p.path || strings.HasPrefix(u.path, p.path+"/")
}

// SanitizeSegment maps an arbitrary name to a safe path segment: characters
// outside word chars, CJK, and '-' become '_'; runs collapse; leading and
// trailing underscores are trimmed; the result is capped at 50 chars and an
// empty result becomes "unnamed".
func SanitizeSegment(name string) string {
	s := invalidSegmentChars.ReplaceAllString(name, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if r := []rune(s); len(r) > maxSegmentLen {
		s = strings.TrimRight(string(r[:maxSegmentLen]), "_")
	}
	if s == "" {
		return "unnamed"
	}
	return s
}

// NewTemp allocates a fresh temp-scope URI of the form
// viking://temp/MMDDHHMM_xxxxxx.
func NewTemp() URI {
	stamp := time.Now().UTC().Format("01021504")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return URI{scope: ScopeTemp, path: fmt.Sprintf("%s_%s", stamp, suffix)}
}

// ContextType classifies a node by its URI.
type ContextType string

const (
	TypeResource ContextType = "resource"
	TypeMemory   ContextType = "memory"
	TypeSkill    ContextType = "skill"
)

// InferContextType derives the context type from the URI shape:
// anything under a memories/ directory is a memory, anything under skills/
// is a skill, everything else is a resource.
func InferContextType(u URI) ContextType {
	p := "/" + u.path + "/"
	switch {
	case strings.Contains(p, "/memories/"):
		return TypeMemory
	case strings.Contains(p, "/skills/"):
		return TypeSkill
	default:
		return TypeResource
	}
}
