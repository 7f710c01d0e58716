// Package store provides the raw object backend under the URI filesystem.
// Paths here are backend-relative, slash-separated, already sanitized by the
// layer above; the backend only defends against path traversal.
package store

import (
	"context"
	"time"
)

// Entry describes one child of a directory listing.
type Entry struct {
	Name    string    `json:"name"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// Info describes a single object or directory.
type Info struct {
	Name    string    `json:"name"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// Backend is the capability set every store variant implements. All methods
// block; callers dispatch to workers as needed.
//
// WriteBytes is atomic: a concurrent reader observes either the previous
// content or the full new content, never a partial write.
type Backend interface {
	ReadBytes(ctx context.Context, path string) ([]byte, error)
	WriteBytes(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	// List returns the direct children of a directory, non-recursive.
	List(ctx context.Context, path string) ([]Entry, error)
	Stat(ctx context.Context, path string) (Info, error)
	Mkdir(ctx context.Context, path string, existOK bool) error
	Move(ctx context.Context, src, dst string) error
}
