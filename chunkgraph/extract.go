package chunkgraph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
)

var ErrNoStats = errors.New("chunkgraph: no stats")

// Stats is the subset of compiler statistics the extractor reads. A
// multi-target compilation nests one Stats per target under Children.
type Stats struct {
	Name              string           `json:"name,omitempty"`
	Chunks            []RawChunk       `json:"chunks,omitempty"`
	AssetsByChunkName map[string]Files `json:"assetsByChunkName,omitempty"`
	Children          []*Stats         `json:"children,omitempty"`
}

type RawChunk struct {
	ID       ID          `json:"id"`
	Names    []string    `json:"names"`
	Files    Files       `json:"files"`
	Parents  []ID        `json:"parents"`
	Children []ID        `json:"children"`
	Modules  []RawModule `json:"modules"`
}

type RawModule struct {
	Reasons []RawReason `json:"reasons"`
}

// RawReason keeps its fields undecoded: bundlers write null, numbers and
// objects where a request string is expected, and those must be skipped
// rather than fail the whole extraction.
type RawReason struct {
	UserRequest json.RawMessage `json:"userRequest"`
	ModuleID    json.RawMessage `json:"moduleId"`
}

type ExtractOptions struct {
	// Target selects a child compilation by name when the stats are
	// multi-target. Empty picks the first child that has chunks.
	Target string
}

// ReadStatsFile decodes a stats JSON file. An empty or null document is
// ErrNoStats.
func ReadStatsFile(path string) (*Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, fmt.Errorf("%w: %s", ErrNoStats, path)
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode stats %s: %w", path, err)
	}
	return &s, nil
}

// Extract normalizes stats into a ChunksMap. Nil stats yield an empty map.
func Extract(stats *Stats, opts ExtractOptions) *ChunksMap {
	stats = selectTarget(stats, opts.Target)
	if stats == nil {
		return Empty()
	}

	cm := Empty()
	for name, files := range stats.AssetsByChunkName {
		cm.AssetsByChunkName[name] = orEmpty(files)
	}

	cm.Chunks = make([]*Chunk, 0, len(stats.Chunks))
	for _, raw := range stats.Chunks {
		cm.Chunks = append(cm.Chunks, extractChunk(raw))
	}
	return cm
}

func selectTarget(stats *Stats, target string) *Stats {
	if stats == nil {
		return nil
	}
	if len(stats.Chunks) > 0 || len(stats.Children) == 0 {
		return stats
	}
	if target != "" {
		for _, child := range stats.Children {
			if child != nil && child.Name == target {
				return selectTarget(child, "")
			}
		}
	}
	for _, child := range stats.Children {
		if child != nil && len(child.Chunks) > 0 {
			return child
		}
	}
	return nil
}

func extractChunk(raw RawChunk) *Chunk {
	var reasons []string
	var reasonModules []ID
	seenReasons := make(map[string]struct{})
	seenModules := make(map[ID]struct{})

	for _, m := range raw.Modules {
		for _, r := range m.Reasons {
			if req, ok := decodeRequest(r.UserRequest); ok {
				if _, dup := seenReasons[req]; !dup {
					seenReasons[req] = struct{}{}
					reasons = append(reasons, req)
				}
			}
			if id, ok := decodeModuleID(r.ModuleID); ok {
				if _, dup := seenModules[id]; !dup {
					seenModules[id] = struct{}{}
					reasonModules = append(reasonModules, id)
				}
			}
		}
	}

	return &Chunk{
		ID:            raw.ID,
		Names:         orEmpty(raw.Names),
		Files:         orEmpty([]string(raw.Files)),
		Parents:       orEmpty(raw.Parents),
		Children:      orEmpty(raw.Children),
		Reasons:       orEmpty(reasons),
		ReasonModules: orEmpty(reasonModules),
		ReasonsStr:    JoinReasons(reasons),
	}
}

// decodeRequest accepts only non-empty strings.
func decodeRequest(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// decodeModuleID accepts non-empty strings and non-zero numbers. Like
// requests, falsy ids (null, "", 0) are dropped.
func decodeModuleID(raw json.RawMessage) (ID, bool) {
	if len(raw) == 0 {
		return ID{}, false
	}
	switch c := raw[0]; {
	case c == '"':
		s, ok := decodeRequest(raw)
		if !ok {
			return ID{}, false
		}
		return StrID(s), true
	case c == '-' || (c >= '0' && c <= '9'):
		var id ID
		if err := id.UnmarshalJSON(raw); err != nil {
			return ID{}, false
		}
		if f, err := strconv.ParseFloat(id.String(), 64); err != nil || f == 0 {
			return ID{}, false
		}
		return id, true
	}
	return ID{}, false
}
