// Package registry holds the chunks map a server resolves against, along with
// the resolver and style cache built on it, and swaps all three when the build
// artifact changes.
package registry

import (
	"context"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vormadev/assetgraph/chunkgraph"
	"github.com/vormadev/assetgraph/kit/colorlog"
	"github.com/vormadev/assetgraph/resolver"
	"github.com/vormadev/assetgraph/stylecache"
)

const styleFilter = ".css"

type Options struct {
	// ChunksMapFile is the persisted chunks map artifact.
	ChunksMapFile string
	// BuildFS is the public build output that style files are read from.
	// Required.
	BuildFS  fs.FS
	Resolver resolver.Options
	Styles   stylecache.Options
	// Debounce is how long Watch waits for artifact writes to settle.
	// Defaults to 30ms.
	Debounce time.Duration
	Logger   *slog.Logger
}

type snapshot struct {
	chunks *chunkgraph.ChunksMap
	res    *resolver.Resolver
}

// Registry serves resolution and style queries from the current snapshot of
// the chunks map. It is safe for concurrent use; a query never observes a
// half-swapped snapshot.
type Registry struct {
	opts   Options
	log    *slog.Logger
	styles *stylecache.Fetcher
	cur    atomic.Pointer[snapshot]

	hooksMu sync.Mutex
	hooks   []func(buildID string)
}

// New loads the artifact once. A missing or corrupt artifact leaves the
// registry serving an empty map.
func New(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = colorlog.New("registry")
	}
	if opts.Styles.Logger == nil {
		opts.Styles.Logger = log
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 30 * time.Millisecond
	}
	r := &Registry{
		opts:   opts,
		log:    log,
		styles: stylecache.New(opts.BuildFS, opts.Styles),
	}
	r.cur.Store(r.load())
	return r
}

func (r *Registry) load() *snapshot {
	cm := chunkgraph.Load(r.opts.ChunksMapFile, r.log)
	return &snapshot{chunks: cm, res: resolver.New(cm, r.opts.Resolver)}
}

// OnReload registers fn to run after every reload with the new build id.
func (r *Registry) OnReload(fn func(buildID string)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Reload re-reads the artifact, swaps the snapshot and drops cached style
// content. It returns the new build id.
func (r *Registry) Reload() string {
	next := r.load()
	prev := r.cur.Swap(next)
	r.styles.Reset()

	buildID := next.res.BuildID()
	if prev != nil && prev.res.BuildID() != buildID {
		r.log.Info("chunks map reloaded", "buildID", buildID, "previous", prev.res.BuildID())
	}

	r.hooksMu.Lock()
	hooks := append([]func(string){}, r.hooks...)
	r.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(buildID)
	}
	return buildID
}

// ChunksMap returns the current map. Callers must not modify it.
func (r *Registry) ChunksMap() *chunkgraph.ChunksMap { return r.cur.Load().chunks }

func (r *Registry) BuildID() string { return r.cur.Load().res.BuildID() }

// Resolve returns the files the page composed of routes needs.
func (r *Registry) Resolve(routes []resolver.MatchedRoute, filter string) []string {
	return r.cur.Load().res.Resolve(routes, filter)
}

func (r *Registry) ResolveGroups(routes []resolver.MatchedRoute, filter string) resolver.Groups {
	return r.cur.Load().res.ResolveGroups(routes, filter)
}

// Styles resolves the stylesheets of the page composed of routes and returns
// their content in resolution order. Files that cannot be read are left out
// and reported in the joined error.
func (r *Registry) Styles(ctx context.Context, routes []resolver.MatchedRoute) ([]stylecache.Style, error) {
	return r.styles.Fetch(ctx, r.Resolve(routes, styleFilter))
}

// StyleFetcher exposes the style cache, e.g. for single-file lookups.
func (r *Registry) StyleFetcher() *stylecache.Fetcher { return r.styles }
