// Package resolver computes the ordered, deduplicated list of asset files a
// page needs, given the routes matched for the request and the build's chunk
// graph.
package resolver

import (
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vormadev/assetgraph/assetpath"
	"github.com/vormadev/assetgraph/chunkgraph"
)

// Group is one stage of resolution. Groups run in GroupOrder and each runs
// whether or not earlier groups found anything; when the same file is found
// by several groups, the earliest group determines its position.
type Group int

const (
	// GroupMain is the entry bundle, always present.
	GroupMain Group = iota
	// GroupCore holds chunks owned by the project or the framework, and
	// chunks nothing tracked depends on.
	GroupCore
	// GroupModule holds chunks whose reasons name a matched route's module.
	GroupModule
	// GroupModuleID holds chunks whose reason modules include a matched
	// route's numeric id.
	GroupModuleID
	// GroupChunk holds the chunk named by a matched route's slug and every
	// chunk reachable from it through children.
	GroupChunk

	numGroups
)

var GroupOrder = [numGroups]Group{GroupMain, GroupCore, GroupModule, GroupModuleID, GroupChunk}

func (g Group) String() string {
	switch g {
	case GroupMain:
		return "main"
	case GroupCore:
		return "core"
	case GroupModule:
		return "module"
	case GroupModuleID:
		return "module-id"
	case GroupChunk:
		return "chunk"
	}
	return "unknown"
}

// Groups holds the raw file batches of each group, before normalization and
// deduplication.
type Groups [numGroups][]string

// Flatten concatenates the batches in GroupOrder, normalizes each file and
// keeps the first occurrence of each normalized path, so "main.js" and
// "/main.js" count as the same file.
func (g *Groups) Flatten() []string {
	var n int
	for _, batch := range g {
		n += len(batch)
	}
	out := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for _, group := range GroupOrder {
		for _, f := range g[group] {
			f = assetpath.Normalize(f)
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

type Options struct {
	// MainChunkName defaults to "main".
	MainChunkName string
	// CoreMarkers are namespace markers (the project's source root, the
	// framework's package name). A chunk whose reasons contain any of them
	// is core. Empty markers are ignored.
	CoreMarkers []string
	// CacheSize bounds the memo of resolved lists. Zero disables it.
	CacheSize int
}

// Resolver answers per-request asset queries against one immutable chunks
// map. It is safe for concurrent use.
type Resolver struct {
	chunks  []*chunkgraph.Chunk
	byID    map[string]*chunkgraph.Chunk
	main    []string
	markers []string
	memo    *lru.Cache[string, []string]
	buildID string
}

// New indexes cm, which must not be modified afterwards. Maps produced by
// chunkgraph.Extract and chunkgraph.ReadFile are already normalized.
func New(cm *chunkgraph.ChunksMap, opts Options) *Resolver {
	if cm == nil {
		cm = chunkgraph.Empty()
	}

	mainName := opts.MainChunkName
	if mainName == "" {
		mainName = chunkgraph.DefaultMainChunkName
	}

	r := &Resolver{
		chunks:  cm.Chunks,
		byID:    cm.ChunkByID(),
		main:    cm.AssetsByChunkName[mainName],
		buildID: cm.BuildID,
	}
	for _, m := range opts.CoreMarkers {
		if m != "" {
			r.markers = append(r.markers, m)
		}
	}
	if opts.CacheSize > 0 {
		// lru.New only fails for a non-positive size.
		r.memo, _ = lru.New[string, []string](opts.CacheSize)
	}
	return r
}

// BuildID is the build id of the chunks map the resolver was built from.
func (r *Resolver) BuildID() string { return r.buildID }

// Resolve returns the normalized files, matching filter, that the page
// composed of routes needs. Routes are honored in the order given.
func (r *Resolver) Resolve(routes []MatchedRoute, filter string) []string {
	if r.memo == nil {
		g := r.ResolveGroups(routes, filter)
		return g.Flatten()
	}

	var sb strings.Builder
	sb.WriteString(filter)
	sb.WriteByte(0)
	signature(&sb, routes)
	key := sb.String()

	if cached, ok := r.memo.Get(key); ok {
		return slices.Clone(cached)
	}
	g := r.ResolveGroups(routes, filter)
	out := g.Flatten()
	r.memo.Add(key, slices.Clone(out))
	return out
}

// ResolveGroups runs every group and returns their raw batches.
func (r *Resolver) ResolveGroups(routes []MatchedRoute, filter string) Groups {
	f := NewFilter(filter)
	var g Groups
	g[GroupMain] = r.mainFiles(f)
	g[GroupCore] = r.coreFiles(f)
	g[GroupModule] = r.moduleFiles(routes, f)
	g[GroupModuleID] = r.moduleIDFiles(routes, f)
	g[GroupChunk] = r.chunkFiles(routes, f)
	return g
}

func (r *Resolver) mainFiles(f Filter) []string {
	return appendMatching(nil, r.main, f)
}

func (r *Resolver) coreFiles(f Filter) []string {
	var out []string
	for _, c := range r.chunks {
		if r.isCore(c) {
			out = appendMatching(out, c.Files, f)
		}
	}
	return out
}

func (r *Resolver) isCore(c *chunkgraph.Chunk) bool {
	if c.ReasonsStr == "" {
		return true
	}
	for _, m := range r.markers {
		if strings.Contains(c.ReasonsStr, m) {
			return true
		}
	}
	return false
}

func (r *Resolver) moduleFiles(routes []MatchedRoute, f Filter) []string {
	var out []string
	for _, route := range routes {
		if route.Module == "" {
			continue
		}
		token := chunkgraph.ReasonSeparator + route.Module + chunkgraph.ReasonSeparator
		for _, c := range r.chunks {
			if strings.Contains(c.ReasonsStr, token) {
				out = appendMatching(out, c.Files, f)
			}
		}
	}
	return out
}

func (r *Resolver) moduleIDFiles(routes []MatchedRoute, f Filter) []string {
	var out []string
	for _, route := range routes {
		if route.Webpack.Kind != WebpackRefModule {
			continue
		}
		id := route.Webpack.moduleID()
		for _, c := range r.chunks {
			if slices.Contains(c.ReasonModules, id) {
				out = appendMatching(out, c.Files, f)
			}
		}
	}
	return out
}

// chunkFiles walks children depth first from each route's chunk. The visited
// set is shared across routes, so each chunk contributes at most once and
// cycles terminate.
func (r *Resolver) chunkFiles(routes []MatchedRoute, f Filter) []string {
	var out []string
	visited := make(map[string]struct{})
	var stack []string

	for _, route := range routes {
		if route.Webpack.Kind != WebpackRefChunk {
			continue
		}
		stack = append(stack[:0], chunkgraph.CanonicalID(route.Webpack.Slug))
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, done := visited[id]; done {
				continue
			}
			visited[id] = struct{}{}

			c, ok := r.byID[id]
			if !ok {
				continue
			}
			out = appendMatching(out, c.Files, f)
			for i := len(c.Children) - 1; i >= 0; i-- {
				stack = append(stack, c.Children[i].String())
			}
		}
	}
	return out
}

func appendMatching(dst, files []string, f Filter) []string {
	for _, file := range files {
		if f.Match(file) {
			dst = append(dst, file)
		}
	}
	return dst
}
