package parser

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/openviking/openviking/pkg/status"
)

const (
	urlFetchTimeout = 30 * time.Second
	urlMaxRedirects = 10
	urlMaxBody      = 50 << 20
)

// URLParser fetches a document over HTTP and routes the body through the
// parser matching its extension. Source-control blob URLs are rewritten
// to their raw form so the fetch returns file content, not an HTML page.
type URLParser struct {
	registry *Registry
	client   *http.Client
}

func NewURLParser(registry *Registry) *URLParser {
	return &URLParser{
		registry: registry,
		client: &http.Client{
			Timeout: urlFetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= urlMaxRedirects {
					return status.New(status.CodeProcessingError, "too many redirects fetching %s", via[0].URL)
				}
				return nil
			},
		},
	}
}

func (p *URLParser) Name() string { return "url" }

func (p *URLParser) Extensions() []string { return nil }

func (p *URLParser) Parse(ctx context.Context, src Source) (*Node, []string, error) {
	if src.URL == "" {
		return nil, nil, status.InvalidArgument("url parser requires a url")
	}
	raw := rawFileURL(src.URL)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, nil, status.InvalidArgument("unsupported url: %s", src.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, nil, status.InvalidArgument("bad url: %s", src.URL)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, status.New(status.CodeProcessingError, "fetch %s", src.URL).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, status.New(status.CodeProcessingError, "fetch %s: HTTP %d", src.URL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, urlMaxBody))
	if err != nil {
		return nil, nil, status.New(status.CodeProcessingError, "read %s", src.URL).WithCause(err)
	}

	name := src.Name
	if name == "" {
		name = urlDocName(u)
	}

	var inner Parser
	if p.registry != nil {
		inner, _ = p.registry.ForExtension(name)
	}
	if inner == nil {
		inner = NewMarkdownParser()
	}
	node, warnings, err := inner.Parse(ctx, Source{Content: body, Name: name})
	if err != nil {
		return nil, warnings, err
	}
	if node.Meta == nil {
		node.Meta = map[string]any{}
	}
	node.Meta["source_url"] = src.URL
	return node, warnings, nil
}

// rawFileURL rewrites blob-view URLs on known source-control hosts to
// their raw-content equivalents.
func rawFileURL(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	switch u.Host {
	case "github.com":
		// github.com/owner/repo/blob/ref/path -> raw.githubusercontent.com/owner/repo/ref/path
		segs := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
		if len(segs) >= 5 && segs[2] == "blob" {
			u.Host = "raw.githubusercontent.com"
			u.Path = "/" + strings.Join(append(segs[:2:2], segs[3:]...), "/")
			return u.String()
		}
	case "gitlab.com":
		// /-/blob/ref/path -> /-/raw/ref/path
		if strings.Contains(u.Path, "/-/blob/") {
			u.Path = strings.Replace(u.Path, "/-/blob/", "/-/raw/", 1)
			return u.String()
		}
	case "gitee.com":
		if strings.Contains(u.Path, "/blob/") {
			u.Path = strings.Replace(u.Path, "/blob/", "/raw/", 1)
			return u.String()
		}
	}
	return s
}

func urlDocName(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "" || base == "/" || base == "." {
		base = u.Host
	}
	if path.Ext(base) == "" {
		base += ".md"
	}
	return base
}
