package chunkgraph

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vormadev/assetgraph/kit/colorlog"
	"golang.org/x/crypto/blake2b"
)

// Fingerprint identifies the chunk data of a map. It does not depend on
// BuildID itself, so stamping is stable.
func Fingerprint(cm *ChunksMap) (string, error) {
	body, err := json.Marshal(struct {
		AssetsByChunkName map[string]Files `json:"assetsByChunkName"`
		Chunks            []*Chunk         `json:"chunks"`
	}{cm.AssetsByChunkName, cm.Chunks})
	if err != nil {
		return "", fmt.Errorf("marshal chunks map: %w", err)
	}
	sum := blake2b.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:12]), nil
}

// WriteFile stamps the map's BuildID and writes it as indented JSON. The file
// is replaced atomically so a watching server never reads a partial artifact.
func WriteFile(path string, cm *ChunksMap) error {
	cm = cm.Normalize()

	buildID, err := Fingerprint(cm)
	if err != nil {
		return err
	}
	cm.BuildID = buildID

	data, err := json.MarshalIndent(cm, "", "\t")
	if err != nil {
		return fmt.Errorf("marshal chunks map: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".chunks-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// ReadFile decodes a persisted map. Unlike Load it reports every failure.
func ReadFile(path string) (*ChunksMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunks map: %w", err)
	}
	var cm ChunksMap
	if err := json.Unmarshal(data, &cm); err != nil {
		return nil, fmt.Errorf("decode chunks map %s: %w", path, err)
	}
	return cm.Normalize(), nil
}

// Load reads a persisted map for serving. An absent, unreadable or corrupt
// artifact yields an empty map and a warning.
func Load(path string, log *slog.Logger) *ChunksMap {
	if log == nil {
		log = colorlog.New("chunkgraph")
	}
	cm, err := ReadFile(path)
	if err != nil {
		log.Warn("using empty chunks map", "path", path, "error", err)
		return Empty()
	}
	log.Info("loaded chunks map", "path", path, "chunks", len(cm.Chunks), "buildID", cm.BuildID)
	return cm
}
