package asyncstore

import (
	"context"
	"fmt"
	"strings"
)

// PrefixBackend decorates an inner Backend, rooting every path at a fixed
// prefix. atfp.Job.Store is expected to already be scoped to a single
// upload request's <usr_id>/<req_seq>/ directory (chunk_reader.go builds
// bare part-number paths with no such prefix of its own), so the daemon
// constructs one PrefixBackend per request rather than teaching every
// caller to prepend the scope itself.
type PrefixBackend struct {
	inner  Backend
	prefix string
}

// NewPrefixBackend creates a PrefixBackend that roots inner at prefix.
// prefix is cleaned of leading/trailing slashes; an empty prefix is
// rejected since it would make the decorator a no-op.
func NewPrefixBackend(inner Backend, prefix string) (*PrefixBackend, error) {
	clean := strings.Trim(prefix, "/")
	if clean == "" {
		return nil, fmt.Errorf("%w: empty prefix", ErrArgument)
	}
	for _, seg := range strings.Split(clean, "/") {
		if seg == "." || seg == ".." {
			return nil, fmt.Errorf("%w: forbidden prefix segment %q", ErrArgument, seg)
		}
	}
	return &PrefixBackend{inner: inner, prefix: clean}, nil
}

func (b *PrefixBackend) scope(path string) string {
	if path == "" {
		return b.prefix
	}
	return b.prefix + "/" + path
}

// ResolvePath passes through to the inner backend's PathResolver, scoping
// path first, when the inner backend implements PathResolver. Callers that
// need a real filesystem path (ffmpeg) can type-assert a Store's backend to
// PathResolver regardless of whether it is wrapped in a PrefixBackend.
func (b *PrefixBackend) ResolvePath(path string) (string, error) {
	resolver, ok := b.inner.(PathResolver)
	if !ok {
		return "", fmt.Errorf("asyncstore: inner backend does not support ResolvePath")
	}
	return resolver.ResolvePath(b.scope(path))
}

func (b *PrefixBackend) Open(ctx context.Context, path string, flags int, mode uint32) (BackendFile, error) {
	return b.inner.Open(ctx, b.scope(path), flags, mode)
}

func (b *PrefixBackend) Mkdir(ctx context.Context, path string, mode uint32, allowExists bool) error {
	return b.inner.Mkdir(ctx, b.scope(path), mode, allowExists)
}

func (b *PrefixBackend) Rmdir(ctx context.Context, path string) error {
	return b.inner.Rmdir(ctx, b.scope(path))
}

func (b *PrefixBackend) Scandir(ctx context.Context, path string) ([]DirEntry, error) {
	return b.inner.Scandir(ctx, b.scope(path))
}

func (b *PrefixBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	return b.inner.Rename(ctx, b.scope(oldPath), b.scope(newPath))
}

func (b *PrefixBackend) Unlink(ctx context.Context, path string) error {
	return b.inner.Unlink(ctx, b.scope(path))
}
