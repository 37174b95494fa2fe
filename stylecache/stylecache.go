// Package stylecache reads the content of resolved stylesheet assets for
// inlining, memoizing each file for the lifetime of a build.
package stylecache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vormadev/assetgraph/assetpath"
	"github.com/vormadev/assetgraph/kit/colorlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrStyleNotFound = errors.New("style asset not found")
	ErrInvalidPath   = errors.New("invalid style asset path")
)

// NotFoundError is returned for a path with no file in the build output. It
// matches both ErrStyleNotFound and the underlying fs error.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStyleNotFound, e.Path, e.Err)
}

func (e *NotFoundError) Unwrap() []error {
	return []error{ErrStyleNotFound, e.Err}
}

// Style is one stylesheet with its content.
type Style struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CSPHash returns the Content-Security-Policy source for an inline <style>
// holding Content, e.g. "sha256-...".
func (s Style) CSPHash() string {
	sum := sha256.Sum256([]byte(s.Content))
	return "sha256-" + base64.StdEncoding.EncodeToString(sum[:])
}

type Options struct {
	// PublicPathPrefix is stripped from asset paths before they are looked
	// up, e.g. "/assets/".
	PublicPathPrefix string
	// Compact strips comments and collapses whitespace.
	Compact bool
	// Concurrency bounds parallel reads in Fetch. Zero means unbounded.
	Concurrency int
	Logger      *slog.Logger
}

// Fetcher serves style content from a build output filesystem. Each path is
// read from disk at most once per generation: concurrent callers missing on
// the same path share one read. Reads run off the caller's goroutine, so a
// caller whose context ends stops waiting without cancelling the read.
type Fetcher struct {
	fsys   fs.FS
	prefix string
	opts   Options
	log    *slog.Logger

	gen    atomic.Uint64
	cache  atomic.Pointer[sync.Map] // path -> string
	flight singleflight.Group
	reads  atomic.Int64
}

// New creates a fetcher with an empty cache. Create one at server start.
func New(fsys fs.FS, opts Options) *Fetcher {
	log := opts.Logger
	if log == nil {
		log = colorlog.New("stylecache")
	}
	f := &Fetcher{
		fsys:   fsys,
		prefix: strings.Trim(opts.PublicPathPrefix, "/"),
		opts:   opts,
		log:    log,
	}
	f.cache.Store(&sync.Map{})
	return f
}

// Reset drops every cached entry. Reads already in flight populate the
// discarded cache, never the new one.
func (f *Fetcher) Reset() {
	f.gen.Add(1)
	f.cache.Store(&sync.Map{})
}

// Reads reports how many files have been read from the filesystem.
func (f *Fetcher) Reads() int64 { return f.reads.Load() }

// Get returns the content of one asset.
func (f *Fetcher) Get(ctx context.Context, assetPath string) (string, error) {
	name, err := f.fsPath(assetPath)
	if err != nil {
		return "", err
	}

	cache := f.cache.Load()
	if v, ok := cache.Load(name); ok {
		return v.(string), nil
	}

	key := fmt.Sprintf("%d:%s", f.gen.Load(), name)
	ch := f.flight.DoChan(key, func() (any, error) {
		if v, ok := cache.Load(name); ok {
			return v, nil
		}
		content, err := f.read(assetPath, name)
		if err != nil {
			return nil, err
		}
		cache.Store(name, content)
		return content, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Fetch returns the styles for paths in order. A path that fails is left out
// and its error joined into the returned error; the other paths are still
// returned, so the caller decides whether a missing file is fatal.
func (f *Fetcher) Fetch(ctx context.Context, paths []string) ([]Style, error) {
	contents := make([]string, len(paths))
	errs := make([]error, len(paths))

	var g errgroup.Group
	if f.opts.Concurrency > 0 {
		g.SetLimit(f.opts.Concurrency)
	}
	for i, p := range paths {
		g.Go(func() error {
			contents[i], errs[i] = f.Get(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	styles := make([]Style, 0, len(paths))
	for i, p := range paths {
		if errs[i] != nil {
			f.log.Warn("skipping style asset", "path", p, "error", errs[i])
			continue
		}
		styles = append(styles, Style{Path: p, Content: contents[i]})
	}
	return styles, errors.Join(errs...)
}

func (f *Fetcher) read(assetPath, name string) (string, error) {
	f.reads.Add(1)
	data, err := fs.ReadFile(f.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &NotFoundError{Path: assetPath, Err: err}
		}
		return "", fmt.Errorf("read style asset %s: %w", assetPath, err)
	}
	if f.opts.Compact {
		data, err = Compact(data)
		if err != nil {
			return "", fmt.Errorf("compact style asset %s: %w", assetPath, err)
		}
	}
	return string(data), nil
}

// fsPath maps a resolved asset path to a name in the build filesystem.
func (f *Fetcher) fsPath(assetPath string) (string, error) {
	if assetpath.IsAbsoluteURL(assetPath) {
		return "", fmt.Errorf("%w: %s is not a local asset", ErrInvalidPath, assetPath)
	}
	name := strings.TrimLeft(assetPath, "/")
	if f.prefix != "" && strings.HasPrefix(name, f.prefix+"/") {
		name = name[len(f.prefix)+1:]
	}
	if name == "" || name != path.Clean(name) || !fs.ValidPath(name) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, assetPath)
	}
	return name, nil
}
