package chunkgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

var nonAlnumRun = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// CanonicalID turns a module or path slug into a chunk id: every run of
// non-alphanumeric characters becomes one underscore, and leading or
// trailing underscores are trimmed.
func CanonicalID(slug string) string {
	return strings.Trim(nonAlnumRun.ReplaceAllString(slug, "_"), "_")
}

// Metafile is the subset of an esbuild metafile needed to rebuild a chunk
// graph.
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

type MetafileInput struct {
	Imports []MetafileImport `json:"imports"`
}

type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

type MetafileOutput struct {
	Imports    []MetafileImport `json:"imports"`
	EntryPoint string           `json:"entryPoint,omitempty"`
	CSSBundle  string           `json:"cssBundle,omitempty"`
}

type MetafileOptions struct {
	// MainEntry is the entry point source path whose chunk is named "main".
	MainEntry string
	// OutDir is trimmed from output paths so files are relative to the
	// public root.
	OutDir string
}

const (
	importKindStatic  = "import-statement"
	importKindDynamic = "dynamic-import"
)

// FromMetafile converts an esbuild metafile into stats. Each JavaScript output
// is one chunk carrying its CSS bundle; static imports between outputs become
// children; dynamic import specifiers become reasons on the chunk whose entry
// point they load, with the importing file as the reason module.
func FromMetafile(data []byte, opts MetafileOptions) (*Stats, error) {
	var mf Metafile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("decode metafile: %w", err)
	}

	outKeys := make([]string, 0, len(mf.Outputs))
	for key := range mf.Outputs {
		if isScriptOutput(key) {
			outKeys = append(outKeys, key)
		}
	}
	slices.Sort(outKeys)

	mainEntry := filepath.ToSlash(filepath.Clean(opts.MainEntry))
	outDir := strings.TrimSuffix(filepath.ToSlash(filepath.Clean(opts.OutDir)), "/")

	ids := make(map[string]ID, len(outKeys))
	byEntry := make(map[string]string, len(outKeys))
	for _, key := range outKeys {
		out := mf.Outputs[key]
		slug := strings.TrimSuffix(relOutput(key, outDir), path.Ext(key))
		if out.EntryPoint != "" {
			slug = out.EntryPoint
			byEntry[out.EntryPoint] = key
		}
		ids[key] = StrID(CanonicalID(slug))
	}

	reasons := make(map[string][]RawReason)
	inKeys := make([]string, 0, len(mf.Inputs))
	for key := range mf.Inputs {
		inKeys = append(inKeys, key)
	}
	slices.Sort(inKeys)
	for _, importer := range inKeys {
		for _, imp := range mf.Inputs[importer].Imports {
			if imp.Kind != importKindDynamic || imp.External {
				continue
			}
			target, ok := byEntry[imp.Path]
			if !ok {
				continue
			}
			request := imp.Original
			if request == "" {
				request = imp.Path
			}
			reasons[target] = append(reasons[target], RawReason{
				UserRequest: mustRaw(request),
				ModuleID:    mustRaw(importer),
			})
		}
	}

	parents := make(map[string][]ID)
	stats := &Stats{AssetsByChunkName: make(map[string]Files)}

	for _, key := range outKeys {
		out := mf.Outputs[key]
		raw := RawChunk{
			ID:    ids[key],
			Files: Files{relOutput(key, outDir)},
		}
		if out.CSSBundle != "" {
			raw.Files = append(raw.Files, relOutput(out.CSSBundle, outDir))
		}
		for _, imp := range out.Imports {
			if imp.Kind != importKindStatic || imp.External {
				continue
			}
			childID, ok := ids[imp.Path]
			if !ok {
				continue
			}
			raw.Children = append(raw.Children, childID)
			parents[imp.Path] = append(parents[imp.Path], ids[key])
		}
		if rs := reasons[key]; len(rs) > 0 {
			raw.Modules = []RawModule{{Reasons: rs}}
		}
		if out.EntryPoint != "" {
			name := strings.TrimSuffix(path.Base(out.EntryPoint), path.Ext(out.EntryPoint))
			if path.Clean(out.EntryPoint) == mainEntry {
				name = DefaultMainChunkName
			}
			raw.Names = []string{name}
			stats.AssetsByChunkName[name] = slices.Clone(raw.Files)
		}
		stats.Chunks = append(stats.Chunks, raw)
	}

	for i := range stats.Chunks {
		stats.Chunks[i].Parents = parents[outKeys[i]]
	}
	return stats, nil
}

type BundleOptions struct {
	EntryPoints []string
	MainEntry   string
	OutDir      string
	Minify      bool
	// Define is passed through to esbuild, e.g. process.env.NODE_ENV.
	Define map[string]string
}

// Bundle runs a code-split esbuild build, writing outputs to OutDir, and
// returns stats derived from the build's metafile.
func Bundle(ctx context.Context, opts BundleOptions) (*Stats, error) {
	if len(opts.EntryPoints) == 0 {
		return nil, errors.New("bundle: no entry points")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:       opts.EntryPoints,
		Bundle:            true,
		Splitting:         true,
		Format:            esbuild.FormatESModule,
		Platform:          esbuild.PlatformBrowser,
		Outdir:            opts.OutDir,
		EntryNames:        "[name]-[hash]",
		ChunkNames:        "chunk-[hash]",
		Metafile:          true,
		Write:             true,
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
		Define:            opts.Define,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			msgs = append(msgs, m.Text)
		}
		return nil, fmt.Errorf("esbuild: %s", strings.Join(msgs, "; "))
	}

	return FromMetafile([]byte(result.Metafile), MetafileOptions{
		MainEntry: opts.MainEntry,
		OutDir:    opts.OutDir,
	})
}

func isScriptOutput(key string) bool {
	switch path.Ext(key) {
	case ".js", ".mjs":
		return true
	}
	return false
}

func relOutput(key, outDir string) string {
	if outDir == "" || outDir == "." {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, outDir), "/")
}

func mustRaw(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
