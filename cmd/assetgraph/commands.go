package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vormadev/assetgraph/chunkgraph"
	"github.com/vormadev/assetgraph/config"
	"github.com/vormadev/assetgraph/kit/grace"
	"github.com/vormadev/assetgraph/registry"
	"github.com/vormadev/assetgraph/resolver"
	"github.com/vormadev/assetgraph/stylecache"
)

var extractCmd = &cobra.Command{
	Use:   "extract [stats.json]",
	Short: "Extract the chunks map from bundler statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statsFile := cfg.StatsFile
		if len(args) == 1 {
			statsFile = args[0]
		}
		if statsFile == "" {
			return errors.New("no stats file: pass one or set statsFile")
		}
		target, _ := cmd.Flags().GetString("target")
		if target == "" {
			target = cfg.Target
		}

		stats, err := chunkgraph.ReadStatsFile(statsFile)
		if err != nil {
			return err
		}
		return writeArtifact(chunkgraph.Extract(stats, chunkgraph.ExtractOptions{Target: target}))
	},
}

var bundleCmd = &cobra.Command{
	Use:   "bundle entry...",
	Short: "Bundle entry points with esbuild and extract their chunks map",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mainEntry, _ := cmd.Flags().GetString("main")
		if mainEntry == "" {
			mainEntry = args[0]
		}
		minify, _ := cmd.Flags().GetBool("minify")

		nodeEnv := "production"
		if cfg.Dev {
			nodeEnv = "development"
		}
		stats, err := chunkgraph.Bundle(cmd.Context(), chunkgraph.BundleOptions{
			EntryPoints: args,
			MainEntry:   mainEntry,
			OutDir:      cfg.BuildDir,
			Minify:      minify,
			Define:      map[string]string{"process.env.NODE_ENV": fmt.Sprintf("%q", nodeEnv)},
		})
		if err != nil {
			return err
		}
		return writeArtifact(chunkgraph.Extract(stats, chunkgraph.ExtractOptions{}))
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve routes.json",
	Short: "Print the assets the page composed of the given routes needs",
	Long: `Reads a JSON array of matched routes ({"module": ..., "webpack": ...}) from
the file, or from stdin when the file is "-", and prints the resolved files.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		routes, err := readRoutes(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		filter, _ := cmd.Flags().GetString("filter")
		if !resolver.NewFilter(filter).Valid() {
			return fmt.Errorf("invalid filter pattern %q", filter)
		}
		reg := newRegistry(cfg)

		if groups, _ := cmd.Flags().GetBool("groups"); groups {
			g := reg.ResolveGroups(routes, filter)
			out := make(map[string][]string, len(resolver.GroupOrder))
			for _, group := range resolver.GroupOrder {
				out[group.String()] = g[group]
			}
			return writeJSON(cmd.OutOrStdout(), out)
		}
		return writeJSON(cmd.OutOrStdout(), reg.Resolve(routes, filter))
	},
}

type styleOutput struct {
	stylecache.Style
	Hash string `json:"hash,omitempty"`
}

var stylesCmd = &cobra.Command{
	Use:   "styles routes.json",
	Short: "Print the content of the stylesheets the given routes need",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		routes, err := readRoutes(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		withHash, _ := cmd.Flags().GetBool("csp")

		styles, err := newRegistry(cfg).Styles(cmd.Context(), routes)
		if err != nil {
			log.Warn("some styles could not be read", "error", err)
		}
		out := make([]styleOutput, 0, len(styles))
		for _, s := range styles {
			o := styleOutput{Style: s}
			if withHash {
				o.Hash = s.CSPHash()
			}
			out = append(out, o)
		}
		return writeJSON(cmd.OutOrStdout(), out)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reload the chunks map whenever the artifact changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Dev {
			log.Warn("watching outside development mode", "hint", "set ASSETGRAPH_MODE=development")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.ChunksMapFile), 0755); err != nil {
			return err
		}
		ctx, stop := grace.Context(cmd.Context(), log)
		defer stop()

		reg := newRegistry(cfg)
		reg.OnReload(func(buildID string) {
			log.Info("chunks map changed", "buildID", buildID, "chunks", len(reg.ChunksMap().Chunks))
		})
		return reg.Watch(ctx)
	},
}

func init() {
	extractCmd.Flags().String("target", "", "child compilation to use from multi-target stats")
	bundleCmd.Flags().String("main", "", "entry point whose chunk is the main chunk (default: first entry)")
	bundleCmd.Flags().Bool("minify", false, "minify output")
	resolveCmd.Flags().StringP("filter", "f", "", `keep files ending in this suffix, or matching this glob (e.g. ".css", "**/*.js")`)
	resolveCmd.Flags().Bool("groups", false, "print the raw files of each resolution group")
	stylesCmd.Flags().Bool("csp", false, "include the CSP hash of each stylesheet")
}

func newRegistry(c *config.Config) *registry.Registry {
	return registry.New(registry.Options{
		ChunksMapFile: c.ChunksMapFile,
		BuildFS:       os.DirFS(c.BuildDir),
		Resolver: resolver.Options{
			MainChunkName: c.MainChunkName,
			CoreMarkers:   c.CoreMarkers(),
			CacheSize:     c.ResolveCacheSize,
		},
		Styles: stylecache.Options{
			PublicPathPrefix: c.PublicPathPrefix,
			Compact:          c.CompactCSS,
			Concurrency:      c.FetchConcurrency,
		},
		Logger: log,
	})
}

func writeArtifact(cm *chunkgraph.ChunksMap) error {
	if err := chunkgraph.WriteFile(cfg.ChunksMapFile, cm); err != nil {
		return err
	}
	log.Info("wrote chunks map", "path", cfg.ChunksMapFile, "chunks", len(cm.Chunks), "buildID", cm.BuildID)
	return nil
}

func readRoutes(stdin io.Reader, name string) ([]resolver.MatchedRoute, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return nil, fmt.Errorf("read routes: %w", err)
	}
	var routes []resolver.MatchedRoute
	if err := json.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	return routes, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
