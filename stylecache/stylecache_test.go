package stylecache

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// gatedFS blocks every Open until release is closed and counts opens.
type gatedFS struct {
	fs.FS
	release chan struct{}
	opens   atomic.Int32
}

func (g *gatedFS) Open(name string) (fs.File, error) {
	g.opens.Add(1)
	<-g.release
	return g.FS.Open(name)
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"static/css/main.css": {Data: []byte("body{color:red}")},
		"static/css/home.css": {Data: []byte(".home{margin:0}")},
	}
}

func TestGetCachesContent(t *testing.T) {
	fsys := testFS()
	f := New(fsys, Options{Logger: quietLogger()})
	ctx := context.Background()

	got, err := f.Get(ctx, "/static/css/main.css")
	require.NoError(t, err)
	assert.Equal(t, "body{color:red}", got)

	fsys["static/css/main.css"].Data = []byte("changed")
	got, err = f.Get(ctx, "static/css/main.css")
	require.NoError(t, err)
	assert.Equal(t, "body{color:red}", got, "second read must come from the cache")
	assert.Equal(t, int64(1), f.Reads())

	f.Reset()
	got, err = f.Get(ctx, "/static/css/main.css")
	require.NoError(t, err)
	assert.Equal(t, "changed", got)
	assert.Equal(t, int64(2), f.Reads())
}

func TestGetMissingFile(t *testing.T) {
	f := New(testFS(), Options{Logger: quietLogger()})

	_, err := f.Get(context.Background(), "/static/css/nope.css")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStyleNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "/static/css/nope.css", nf.Path)

	// Failures are not cached.
	_, err = f.Get(context.Background(), "/static/css/nope.css")
	assert.ErrorIs(t, err, ErrStyleNotFound)
	assert.Equal(t, int64(2), f.Reads())
}

func TestInvalidPaths(t *testing.T) {
	f := New(testFS(), Options{Logger: quietLogger()})
	for _, p := range []string{
		"",
		"/",
		"/static/../../etc/passwd",
		"static/./css/main.css",
		"https://cdn.example.com/main.css",
		"//cdn.example.com/main.css",
	} {
		_, err := f.Get(context.Background(), p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
	assert.Equal(t, int64(0), f.Reads())
}

func TestPublicPathPrefix(t *testing.T) {
	f := New(fstest.MapFS{"css/a.css": {Data: []byte("a{}")}}, Options{
		PublicPathPrefix: "/assets/",
		Logger:           quietLogger(),
	})
	got, err := f.Get(context.Background(), "/assets/css/a.css")
	require.NoError(t, err)
	assert.Equal(t, "a{}", got)

	_, err = f.Get(context.Background(), "/assetsX/css/a.css")
	assert.ErrorIs(t, err, ErrStyleNotFound)
}

func TestConcurrentMissesShareOneRead(t *testing.T) {
	gated := &gatedFS{FS: testFS(), release: make(chan struct{})}
	f := New(gated, Options{Logger: quietLogger()})

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = f.Get(context.Background(), "/static/css/main.css")
		}()
	}

	require.Eventually(t, func() bool { return gated.opens.Load() == 1 }, time.Second, time.Millisecond)
	close(gated.release)
	wg.Wait()

	assert.Equal(t, int32(1), gated.opens.Load())
	assert.Equal(t, int64(1), f.Reads())
	for _, r := range results {
		assert.Equal(t, "body{color:red}", r)
	}
}

func TestSlowReadDoesNotBlockOthers(t *testing.T) {
	gated := &gatedFS{FS: testFS(), release: make(chan struct{})}
	f := New(gated, Options{Logger: quietLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Get(ctx, "/static/css/main.css")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned read still completes and fills the cache.
	close(gated.release)
	require.Eventually(t, func() bool {
		got, err := f.Get(context.Background(), "/static/css/main.css")
		return err == nil && got == "body{color:red}"
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), gated.opens.Load())
}

func TestFetchKeepsOrderAndSkipsFailures(t *testing.T) {
	var logs bytes.Buffer
	f := New(testFS(), Options{
		Concurrency: 2,
		Logger:      slog.New(slog.NewTextHandler(&logs, nil)),
	})

	styles, err := f.Fetch(context.Background(), []string{
		"/static/css/home.css",
		"/static/css/missing.css",
		"/static/css/main.css",
	})
	assert.Equal(t, []Style{
		{Path: "/static/css/home.css", Content: ".home{margin:0}"},
		{Path: "/static/css/main.css", Content: "body{color:red}"},
	}, styles)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStyleNotFound)
	assert.Contains(t, err.Error(), "missing.css")
	assert.Contains(t, logs.String(), "skipping style asset")

	styles, err = f.Fetch(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, styles)
}

func TestCompactOption(t *testing.T) {
	f := New(fstest.MapFS{"a.css": {Data: []byte("/* banner */\nbody {\n  color: red;\n}\n")}}, Options{
		Compact: true,
		Logger:  quietLogger(),
	})
	got, err := f.Get(context.Background(), "/a.css")
	require.NoError(t, err)
	assert.Equal(t, "body{color: red;}", got)
}

func TestCSPHash(t *testing.T) {
	// echo -n "" | openssl dgst -sha256 -binary | base64
	assert.Equal(t, "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=", Style{}.CSPHash())
	assert.NotEqual(t, Style{Content: "a"}.CSPHash(), Style{Content: "b"}.CSPHash())
}
