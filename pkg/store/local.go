package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/natefinch/atomic"

	"github.com/openviking/openviking/pkg/status"
)

// drivePrefix matches Windows-style drive prefixes like "C:".
var drivePrefix = regexp.MustCompile(`^[A-Za-z]:`)

// Local is a disk-backed Backend rooted at a base directory.
type Local struct {
	root string
}

// NewLocal creates a Local backend rooted at root, creating it if needed.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, status.InvalidArgument("store root %q: %v", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, status.Unavailable("create store root %q", abs).WithCause(err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute base directory.
func (l *Local) Root() string { return l.root }

// resolve maps a backend-relative path onto the root, rejecting traversal,
// absolute paths, and drive prefixes.
func (l *Local) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) {
		return "", status.InvalidArgument("absolute path not allowed: %q", path)
	}
	if drivePrefix.MatchString(path) {
		return "", status.InvalidArgument("drive prefix not allowed: %q", path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return "", status.InvalidArgument("path traversal not allowed: %q", path)
		}
	}
	return filepath.Join(l.root, filepath.FromSlash(path)), nil
}

func (l *Local) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		// A file component in the middle of the path is as absent as a
		// missing one.
		if os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR) {
			return nil, status.NotFound("no such file: %s", path)
		}
		if os.IsPermission(err) {
			return nil, status.New(status.CodePermissionDenied, "read %s", path).WithCause(err)
		}
		return nil, status.Internal("read %s", path).WithCause(err)
	}
	return data, nil
}

func (l *Local) WriteBytes(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return status.Internal("mkdir for %s", path).WithCause(err)
	}
	if err := atomic.WriteFile(p, bytes.NewReader(data)); err != nil {
		if os.IsPermission(err) {
			return status.New(status.CodePermissionDenied, "write %s", path).WithCause(err)
		}
		return status.Internal("write %s", path).WithCause(err)
	}
	return nil
}

func (l *Local) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.resolve(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return status.NotFound("no such path: %s", path)
		}
		return status.Internal("stat %s", path).WithCause(err)
	}
	if info.IsDir() {
		err = os.RemoveAll(p)
	} else {
		err = os.Remove(p)
	}
	if err != nil {
		return status.Internal("delete %s", path).WithCause(err)
	}
	return nil
}

func (l *Local) List(ctx context.Context, path string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.NotFound("no such directory: %s", path)
		}
		return nil, status.Internal("list %s", path).WithCause(err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			// Raced with a concurrent delete; skip the entry.
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			IsDir:   de.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
	}
	return entries, nil
}

func (l *Local) Stat(ctx context.Context, path string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	p, err := l.resolve(path)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR) {
			return Info{}, status.NotFound("no such path: %s", path)
		}
		return Info{}, status.Internal("stat %s", path).WithCause(err)
	}
	return Info{
		Name:    fi.Name(),
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		ModTime: fi.ModTime().UTC(),
	}, nil
}

func (l *Local) Mkdir(ctx context.Context, path string, existOK bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.resolve(path)
	if err != nil {
		return err
	}
	if !existOK {
		if _, err := os.Stat(p); err == nil {
			return status.AlreadyExists("directory exists: %s", path)
		}
	}
	if err := os.MkdirAll(p, 0755); err != nil {
		return status.Internal("mkdir %s", path).WithCause(err)
	}
	return nil
}

func (l *Local) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sp, err := l.resolve(src)
	if err != nil {
		return err
	}
	dp, err := l.resolve(dst)
	if err != nil {
		return err
	}
	if _, err := os.Stat(sp); err != nil {
		if os.IsNotExist(err) {
			return status.NotFound("no such path: %s", src)
		}
		return status.Internal("stat %s", src).WithCause(err)
	}
	if _, err := os.Stat(dp); err == nil {
		return status.AlreadyExists("destination exists: %s", dst)
	}
	if err := os.MkdirAll(filepath.Dir(dp), 0755); err != nil {
		return status.Internal("mkdir for %s", dst).WithCause(err)
	}
	if err := os.Rename(sp, dp); err != nil {
		return status.Internal("move %s -> %s", src, dst).WithCause(err)
	}
	return nil
}

var _ Backend = (*Local)(nil)
