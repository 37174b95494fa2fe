package registry

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vormadev/assetgraph/chunkgraph"
	"github.com/vormadev/assetgraph/resolver"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func writeMap(t *testing.T, path string, mainFiles ...string) string {
	t.Helper()
	cm := &chunkgraph.ChunksMap{
		AssetsByChunkName: map[string]chunkgraph.Files{"main": mainFiles},
		Chunks: []*chunkgraph.Chunk{{
			ID:    chunkgraph.StrID("pages_home"),
			Files: chunkgraph.Files{"static/js/home.js", "static/css/home.css"},
		}},
	}
	require.NoError(t, chunkgraph.WriteFile(path, cm))
	return cm.BuildID
}

func buildFS() fstest.MapFS {
	return fstest.MapFS{
		"static/css/main.css": {Data: []byte("body{}")},
		"static/css/home.css": {Data: []byte(".home{}")},
	}
}

func TestNewWithoutArtifact(t *testing.T) {
	r := New(Options{
		ChunksMapFile: filepath.Join(t.TempDir(), "missing.json"),
		BuildFS:       buildFS(),
		Logger:        quietLogger(),
	})
	assert.Empty(t, r.BuildID())
	assert.Empty(t, r.Resolve(nil, ""))
	assert.NotNil(t, r.ChunksMap())
}

func TestResolveAndStyles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.json")
	buildID := writeMap(t, path, "static/js/main.js", "static/css/main.css")

	r := New(Options{ChunksMapFile: path, BuildFS: buildFS(), Logger: quietLogger()})
	assert.Equal(t, buildID, r.BuildID())

	routes := []resolver.MatchedRoute{{Webpack: resolver.ChunkRef("pages_home")}}
	assert.Equal(t, []string{
		"/static/js/main.js",
		"/static/css/main.css",
		"/static/js/home.js",
		"/static/css/home.css",
	}, r.Resolve(routes, ""))

	g := r.ResolveGroups(routes, ".js")
	assert.Equal(t, []string{"static/js/main.js"}, g[resolver.GroupMain])

	styles, err := r.Styles(context.Background(), routes)
	require.NoError(t, err)
	require.Len(t, styles, 2)
	assert.Equal(t, "/static/css/main.css", styles[0].Path)
	assert.Equal(t, "body{}", styles[0].Content)
	assert.Equal(t, ".home{}", styles[1].Content)
}

func TestReloadSwapsSnapshotAndResetsStyles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.json")
	first := writeMap(t, path, "static/css/main.css")

	fsys := buildFS()
	r := New(Options{ChunksMapFile: path, BuildFS: fsys, Logger: quietLogger()})

	var seen []string
	r.OnReload(func(id string) { seen = append(seen, id) })

	styles, err := r.Styles(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "body{}", styles[0].Content)

	fsys["static/css/main.css"].Data = []byte("body{color:blue}")
	second := writeMap(t, path, "static/css/main.css", "static/js/main.js")
	require.NotEqual(t, first, second)

	assert.Equal(t, second, r.Reload())
	assert.Equal(t, second, r.BuildID())
	assert.Equal(t, []string{second}, seen)
	assert.Equal(t, []string{
		"/static/css/main.css",
		"/static/js/main.js",
		"/static/js/home.js",
		"/static/css/home.css",
	}, r.Resolve(nil, ""), "a chunk without reasons is core")

	styles, err = r.Styles(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "body{color:blue}", styles[0].Content)
}

func TestWatchReloadsOnArtifactWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.json")
	initial := writeMap(t, path, "static/js/main.js")

	r := New(Options{
		ChunksMapFile: path,
		BuildFS:       buildFS(),
		Debounce:      5 * time.Millisecond,
		Logger:        quietLogger(),
	})
	var reloads atomic.Int32
	r.OnReload(func(string) { reloads.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	// The watcher may not be registered yet, so keep rewriting until a
	// reload lands.
	var n int
	require.Eventually(t, func() bool {
		n++
		writeMap(t, path, fmt.Sprintf("static/js/main-%d.js", n))
		return r.BuildID() != initial
	}, 2*time.Second, 50*time.Millisecond)
	assert.Positive(t, reloads.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchMissingDir(t *testing.T) {
	r := New(Options{
		ChunksMapFile: filepath.Join(t.TempDir(), "nope", "chunks.json"),
		BuildFS:       buildFS(),
		Logger:        quietLogger(),
	})
	err := r.Watch(context.Background())
	assert.Error(t, err)
}

func TestDebouncerCollapsesBursts(t *testing.T) {
	var calls atomic.Int32
	d := newDebouncer(20*time.Millisecond, func() { calls.Add(1) })
	for range 10 {
		d.add()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	d.stop()
	d.add()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}
