// Package config loads assetgraph settings from a JSON or YAML file, a .env
// file and the environment, in increasing order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envStatsFile        = "ASSETGRAPH_STATS_FILE"
	envChunksMapFile    = "ASSETGRAPH_CHUNKS_MAP_FILE"
	envBuildDir         = "ASSETGRAPH_BUILD_DIR"
	envPublicPathPrefix = "ASSETGRAPH_PUBLIC_PATH_PREFIX"
	envProjectMarker    = "ASSETGRAPH_PROJECT_MARKER"
	envFrameworkMarker  = "ASSETGRAPH_FRAMEWORK_MARKER"
	envMode             = "ASSETGRAPH_MODE"
	envModeDev          = "development"
	envResolveCacheSize = "ASSETGRAPH_RESOLVE_CACHE_SIZE"
	envFetchConcurrency = "ASSETGRAPH_FETCH_CONCURRENCY"
)

const (
	DefaultChunksMapFile    = "dist/chunks.json"
	DefaultBuildDir         = "dist"
	DefaultFrameworkMarker  = "@vormadev"
	DefaultResolveCacheSize = 512
	DefaultFetchConcurrency = 8
)

type Config struct {
	// StatsFile is the compiler statistics consumed by extract.
	StatsFile string `json:"statsFile,omitempty" yaml:"statsFile,omitempty"`
	// Target picks a child compilation from multi-target stats.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
	// ChunksMapFile is where the extracted map is written and loaded from.
	ChunksMapFile string `json:"chunksMapFile" yaml:"chunksMapFile"`
	// BuildDir is the public build output; style content is read from it.
	BuildDir         string `json:"buildDir" yaml:"buildDir"`
	PublicPathPrefix string `json:"publicPathPrefix,omitempty" yaml:"publicPathPrefix,omitempty"`
	MainChunkName    string `json:"mainChunkName,omitempty" yaml:"mainChunkName,omitempty"`
	// ProjectMarker and FrameworkMarker are the namespace markers that make
	// a chunk core.
	ProjectMarker    string `json:"projectMarker,omitempty" yaml:"projectMarker,omitempty"`
	FrameworkMarker  string `json:"frameworkMarker,omitempty" yaml:"frameworkMarker,omitempty"`
	ResolveCacheSize int    `json:"resolveCacheSize" yaml:"resolveCacheSize"`
	FetchConcurrency int    `json:"fetchConcurrency" yaml:"fetchConcurrency"`
	CompactCSS       bool   `json:"compactCSS,omitempty" yaml:"compactCSS,omitempty"`
	Dev              bool   `json:"dev,omitempty" yaml:"dev,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ChunksMapFile:    DefaultChunksMapFile,
		BuildDir:         DefaultBuildDir,
		FrameworkMarker:  DefaultFrameworkMarker,
		ResolveCacheSize: DefaultResolveCacheSize,
		FetchConcurrency: DefaultFetchConcurrency,
	}
}

// CoreMarkers lists the non-empty namespace markers.
func (c *Config) CoreMarkers() []string {
	var out []string
	for _, m := range []string{c.ProjectMarker, c.FrameworkMarker} {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// Parse decodes a config file body over the defaults. YAML is used when
// format is "yaml" or "yml", JSON otherwise.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	return cfg, nil
}

// Load reads the config file at path (skipped when path is empty), then the
// .env file in the working directory if present, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if cfg, err = Parse(data, filepath.Ext(path)); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	setInt := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString(envStatsFile, &c.StatsFile)
	setString(envChunksMapFile, &c.ChunksMapFile)
	setString(envBuildDir, &c.BuildDir)
	setString(envPublicPathPrefix, &c.PublicPathPrefix)
	setString(envProjectMarker, &c.ProjectMarker)
	setString(envFrameworkMarker, &c.FrameworkMarker)
	if err := setInt(envResolveCacheSize, &c.ResolveCacheSize); err != nil {
		return err
	}
	if err := setInt(envFetchConcurrency, &c.FetchConcurrency); err != nil {
		return err
	}
	if os.Getenv(envMode) == envModeDev {
		c.Dev = true
	}
	return nil
}

func (c *Config) Validate() error {
	if c.ChunksMapFile == "" {
		return errors.New("config: chunksMapFile is required")
	}
	if c.ResolveCacheSize < 0 {
		return fmt.Errorf("config: resolveCacheSize must not be negative, got %d", c.ResolveCacheSize)
	}
	if c.FetchConcurrency < 0 {
		return fmt.Errorf("config: fetchConcurrency must not be negative, got %d", c.FetchConcurrency)
	}
	return nil
}
