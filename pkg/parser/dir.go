package parser

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openviking/openviking/pkg/status"
)

// maxFileSize caps how large a single file the directory walker ingests.
const maxFileSize = 10 << 20

// ignoredDirs are never descended into.
var ignoredDirs = map[string]bool{
	".git": true, ".svn": true, ".hg": true,
	"node_modules": true, "__pycache__": true, ".venv": true, "venv": true,
	"dist": true, "build": true, "target": true, ".idea": true, ".vscode": true,
	".cache": true, "vendor": true,
}

// ignoredGlobs skip binary and media files by extension.
var ignoredGlobs = []string{
	"*.{png,jpg,jpeg,gif,bmp,ico,webp,svg}",
	"*.{mp3,mp4,avi,mov,mkv,wav,flac}",
	"*.{zip,tar,gz,bz2,xz,7z,rar}",
	"*.{so,dll,dylib,a,o,exe,bin,class,pyc}",
	"*.{woff,woff2,ttf,eot,otf}",
	"*.{db,sqlite,sqlite3,parquet}",
}

func ignoredFile(name string) bool {
	lower := strings.ToLower(name)
	for _, g := range ignoredGlobs {
		if ok, _ := doublestar.Match(g, lower); ok {
			return true
		}
	}
	return false
}

// DirectoryParser walks a directory into a section tree, one leaf per
// readable text file. Per-file failures become warnings, not errors.
type DirectoryParser struct {
	registry *Registry
}

func NewDirectoryParser(registry *Registry) *DirectoryParser {
	return &DirectoryParser{registry: registry}
}

func (p *DirectoryParser) Name() string { return "directory" }

func (p *DirectoryParser) Extensions() []string { return nil }

func (p *DirectoryParser) Parse(ctx context.Context, src Source) (*Node, []string, error) {
	if src.Path == "" {
		return nil, nil, status.InvalidArgument("directory parser requires a path")
	}
	info, err := os.Stat(src.Path)
	if err != nil {
		return nil, nil, status.NotFound("directory not found: %s", src.Path)
	}
	if !info.IsDir() {
		return nil, nil, status.InvalidArgument("%s is not a directory", src.Path)
	}

	name := src.Name
	if name == "" {
		name = filepath.Base(src.Path)
	}
	var warnings []string
	root, err := p.walk(ctx, src.Path, name, &warnings, 0)
	if err != nil {
		return nil, warnings, err
	}
	if root == nil || len(root.Children) == 0 {
		return nil, warnings, status.New(status.CodeProcessingError, "no ingestable files under %s", src.Path)
	}
	root.Type = NodeRoot
	return root, warnings, nil
}

func (p *DirectoryParser) walk(ctx context.Context, dir, title string, warnings *[]string, depth int) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("%s: %v", dir, err))
		return nil, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	node := &Node{Type: NodeSection, Title: title}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		if e.IsDir() {
			if ignoredDirs[name] {
				continue
			}
			child, err := p.walk(ctx, full, name, warnings, depth+1)
			if err != nil {
				return nil, err
			}
			if child != nil && len(child.Children) > 0 {
				node.Children = append(node.Children, child)
			}
			continue
		}
		if ignoredFile(name) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() > maxFileSize {
			if err == nil {
				*warnings = append(*warnings, fmt.Sprintf("%s: exceeds size cap", full))
			}
			continue
		}
		child := p.parseFile(ctx, full, name, warnings)
		if child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node, nil
}

func (p *DirectoryParser) parseFile(ctx context.Context, path, name string, warnings *[]string) *Node {
	var fileParser Parser
	if p.registry != nil {
		fileParser, _ = p.registry.ForExtension(name)
	}
	if fileParser == nil {
		fileParser = NewRawParser()
	}
	node, w, err := fileParser.Parse(ctx, Source{Path: path, Name: name})
	*warnings = append(*warnings, w...)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("%s: %v", path, err))
		return nil
	}
	return node
}

// driveLetter matches Windows-style absolute zip entry names.
var driveLetter = regexp.MustCompile(`^[A-Za-z]:`)

// ZipParser extracts an archive into a temp directory and delegates to
// the directory walker. Entries that escape the extraction root are
// rejected.
type ZipParser struct {
	dir *DirectoryParser
}

func NewZipParser(registry *Registry) *ZipParser {
	return &ZipParser{dir: NewDirectoryParser(registry)}
}

func (p *ZipParser) Name() string { return "zip" }

func (p *ZipParser) Extensions() []string { return []string{".zip"} }

func (p *ZipParser) Parse(ctx context.Context, src Source) (*Node, []string, error) {
	if src.Path == "" {
		return nil, nil, status.InvalidArgument("zip parser requires a file path")
	}
	r, err := zip.OpenReader(src.Path)
	if err != nil {
		return nil, nil, status.New(status.CodeProcessingError, "open zip %s", src.Path).WithCause(err)
	}
	defer r.Close()

	extracted, err := os.MkdirTemp("", "ovzip-*")
	if err != nil {
		return nil, nil, status.Internal("create extraction dir").WithCause(err)
	}
	defer os.RemoveAll(extracted)

	var warnings []string
	for _, f := range r.File {
		if err := extractEntry(extracted, f, &warnings); err != nil {
			return nil, warnings, err
		}
	}

	name := src.Name
	if name == "" {
		name = filepath.Base(src.Path)
	}
	return p.dir.Parse(ctx, Source{Path: extracted, Name: stripExt(name)})
}

func extractEntry(root string, f *zip.File, warnings *[]string) error {
	name := f.Name
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") ||
		strings.HasPrefix(name, `\`) || driveLetter.MatchString(name) {
		return status.InvalidArgument("zip entry escapes archive root: %s", name)
	}
	if f.Mode()&os.ModeSymlink != 0 {
		return status.InvalidArgument("zip entry is a symlink: %s", name)
	}
	dest := filepath.Join(root, filepath.FromSlash(name))
	if f.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0755)
	}
	if f.UncompressedSize64 > maxFileSize {
		*warnings = append(*warnings, fmt.Sprintf("%s: exceeds size cap", name))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return status.Internal("extract %s", name).WithCause(err)
	}
	in, err := f.Open()
	if err != nil {
		return status.New(status.CodeProcessingError, "extract %s", name).WithCause(err)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return status.Internal("extract %s", name).WithCause(err)
	}
	defer out.Close()
	// Cap the copy too; the header size is attacker-controlled.
	if _, err := io.Copy(out, io.LimitReader(in, maxFileSize+1)); err != nil {
		return status.New(status.CodeProcessingError, "extract %s", name).WithCause(err)
	}
	return nil
}
