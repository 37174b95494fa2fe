// Package chunkgraph normalizes bundler statistics into a ChunksMap: the
// persisted, read-only view of a build's chunks that the resolver consumes.
package chunkgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ReasonSeparator joins a chunk's reasons into its ReasonsStr.
const ReasonSeparator = "||"

// DefaultMainChunkName is the chunk name under which bundlers list the entry.
const DefaultMainChunkName = "main"

// ID is a chunk or module identifier. Bundlers emit either numbers or strings,
// and the two kinds never compare equal even when their text matches.
type ID struct {
	text    string
	numeric bool
}

func NumID(n int64) ID {
	return ID{text: strconv.FormatInt(n, 10), numeric: true}
}

func StrID(s string) ID {
	return ID{text: s}
}

func (id ID) String() string  { return id.text }
func (id ID) IsNumeric() bool { return id.numeric }
func (id ID) IsZero() bool    { return id.text == "" && !id.numeric }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.text), nil
	}
	return json.Marshal(id.text)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ID{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("chunkgraph: decode id: %w", err)
		}
		*id = StrID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("chunkgraph: decode id %s: %w", data, err)
		}
		*id = ID{text: n.String(), numeric: true}
	}
	return nil
}

// Files is an ordered list of asset paths. In bundler output a single file is
// sometimes written as a bare string.
type Files []string

func (f *Files) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = Files{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("chunkgraph: decode files: %w", err)
	}
	*f = list
	return nil
}

// Chunk is one normalized chunk. Every collection is non-nil after
// normalization so lookups never have to guard against absence.
type Chunk struct {
	ID            ID       `json:"id"`
	Names         []string `json:"names"`
	Files         []string `json:"files"`
	Parents       []ID     `json:"parents"`
	Children      []ID     `json:"children"`
	Reasons       []string `json:"reasons"`
	ReasonModules []ID     `json:"reasonModules"`
	ReasonsStr    string   `json:"reasonsStr"`
}

// ChunksMap is the artifact written once per build and loaded at server start.
type ChunksMap struct {
	BuildID           string           `json:"buildId,omitempty"`
	AssetsByChunkName map[string]Files `json:"assetsByChunkName"`
	Chunks            []*Chunk         `json:"chunks"`
}

// Empty returns a valid map with no chunks.
func Empty() *ChunksMap {
	return &ChunksMap{
		AssetsByChunkName: map[string]Files{},
		Chunks:            []*Chunk{},
	}
}

// JoinReasons renders reasons as a delimited token list. Tokens are wrapped on
// both sides so that a containment check for "||name||" is an exact token
// match. No reasons renders as the empty string.
//
// Reasons containing the separator are not escaped.
func JoinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	var sb bytes.Buffer
	sb.WriteString(ReasonSeparator)
	for _, r := range reasons {
		sb.WriteString(r)
		sb.WriteString(ReasonSeparator)
	}
	return sb.String()
}

// Normalize fills every absent collection with an empty one and derives
// ReasonsStr when it was not persisted.
func (cm *ChunksMap) Normalize() *ChunksMap {
	if cm == nil {
		return Empty()
	}
	if cm.AssetsByChunkName == nil {
		cm.AssetsByChunkName = map[string]Files{}
	}
	chunks := make([]*Chunk, 0, len(cm.Chunks))
	for _, c := range cm.Chunks {
		if c == nil {
			continue
		}
		c.Names = orEmpty(c.Names)
		c.Files = orEmpty(c.Files)
		c.Reasons = orEmpty(c.Reasons)
		c.Parents = orEmpty(c.Parents)
		c.Children = orEmpty(c.Children)
		c.ReasonModules = orEmpty(c.ReasonModules)
		if c.ReasonsStr == "" && len(c.Reasons) > 0 {
			c.ReasonsStr = JoinReasons(c.Reasons)
		}
		chunks = append(chunks, c)
	}
	cm.Chunks = chunks
	return cm
}

// ChunkByID indexes chunks by the text of their id. Later duplicates are
// ignored so the first declaration wins.
func (cm *ChunksMap) ChunkByID() map[string]*Chunk {
	idx := make(map[string]*Chunk, len(cm.Chunks))
	for _, c := range cm.Chunks {
		if _, exists := idx[c.ID.String()]; !exists {
			idx[c.ID.String()] = c
		}
	}
	return idx
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
